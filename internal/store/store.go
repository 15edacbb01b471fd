// Package store provides the SQLite-backed activity log of agent
// sessions and one-shot queries.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const defaultLimit = 50

// Query outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	ID          string     `json:"id"`
	ProjectPath string     `json:"projectPath"`
	PID         int        `json:"pid,omitempty"`
	State       string     `json:"state"`
	ExitCode    *int       `json:"exitCode,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// QueryRecord is one row of the queries table.
type QueryRecord struct {
	CorrelationID string    `json:"correlationId"`
	ProjectPath   string    `json:"projectPath"`
	ModelID       string    `json:"modelId,omitempty"`
	Outcome       string    `json:"outcome"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	EndedAt       time.Time `json:"endedAt"`
}

// Store provides access to the activity database.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath and runs
// migrations.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		pid INTEGER,
		state TEXT NOT NULL,
		exit_code INTEGER,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS queries (
		correlation_id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		model_id TEXT,
		outcome TEXT NOT NULL,
		error TEXT,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_queries_ended_at ON queries(ended_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Session Operations ---

// RecordSessionStart inserts or replaces a session row.
func (s *Store) RecordSessionStart(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (id, project_path, pid, state, started_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.ProjectPath, rec.PID, rec.State, toMillis(rec.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// RecordSessionEnd marks a session finished.
func (s *Store) RecordSessionEnd(ctx context.Context, id, state string, exitCode int, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, exit_code = ?, ended_at = ? WHERE id = ?`,
		state, exitCode, toMillis(endedAt), id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update session %s: not found", id)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_path, pid, state, exit_code, started_at, ended_at
		FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	result := []SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var pid, exitCode, endedAt sql.NullInt64
		var startedAt int64
		if err := rows.Scan(&rec.ID, &rec.ProjectPath, &pid, &rec.State, &exitCode, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.PID = int(pid.Int64)
		rec.StartedAt = fromMillis(startedAt)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			rec.ExitCode = &code
		}
		if endedAt.Valid {
			t := fromMillis(endedAt.Int64)
			rec.EndedAt = &t
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// --- Query Operations ---

// RecordQuery inserts a finished query.
func (s *Store) RecordQuery(ctx context.Context, rec QueryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO queries (correlation_id, project_path, model_id, outcome, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.CorrelationID, rec.ProjectPath, rec.ModelID, rec.Outcome, rec.Error,
		toMillis(rec.StartedAt), toMillis(rec.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert query: %w", err)
	}
	return nil
}

// RecentQueries returns up to limit queries, most recently finished
// first.
func (s *Store) RecentQueries(ctx context.Context, limit int) ([]QueryRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT correlation_id, project_path, model_id, outcome, error, started_at, ended_at
		FROM queries ORDER BY ended_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query queries: %w", err)
	}
	defer rows.Close()

	result := []QueryRecord{}
	for rows.Next() {
		var rec QueryRecord
		var modelID, errMsg sql.NullString
		var startedAt, endedAt int64
		if err := rows.Scan(&rec.CorrelationID, &rec.ProjectPath, &modelID, &rec.Outcome, &errMsg, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan query: %w", err)
		}
		rec.ModelID = modelID.String
		rec.Error = errMsg.String
		rec.StartedAt = fromMillis(startedAt)
		rec.EndedAt = fromMillis(endedAt)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
