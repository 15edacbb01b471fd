// Package host is the controller behind the channel bus. It owns the
// session supervisor, the file watcher and the query correlator, binds
// their operations to invoke channels and forwards their events to push
// channels.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/benW3ART/vibes-sub001/internal/agentinfo"
	"github.com/benW3ART/vibes-sub001/internal/bus"
	"github.com/benW3ART/vibes-sub001/internal/clock"
	"github.com/benW3ART/vibes-sub001/internal/config"
	"github.com/benW3ART/vibes-sub001/internal/files"
	"github.com/benW3ART/vibes-sub001/internal/protocol"
	"github.com/benW3ART/vibes-sub001/internal/query"
	"github.com/benW3ART/vibes-sub001/internal/session"
	"github.com/benW3ART/vibes-sub001/internal/store"
	"github.com/benW3ART/vibes-sub001/internal/watcher"
)

// Options configures a Host.
type Options struct {
	Config *config.Config
	// Store records session and query activity. Nil disables it.
	Store *store.Store
	// Runner performs queries. Nil runs the configured agent binary.
	Runner query.Runner
	Clock  clock.Clock
	Logger *slog.Logger
}

// Host binds the components to a Bus.
type Host struct {
	bus      *bus.Bus
	sessions *session.Manager
	watcher  *watcher.Watcher
	queries  *query.Correlator
	store    *store.Store
	guard    *files.Guard
	auth     *agentinfo.AuthChecker
	models   []config.Model
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	recorded map[string]bool // session ids with a start row
}

// New creates the components from opts.Config and binds every invoke
// channel.
func New(opts Options) (*Host, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Host{
		store:    opts.Store,
		guard:    files.NewGuard(cfg.AllowedRoots),
		auth:     &agentinfo.AuthChecker{Binary: cfg.Agent.Binary},
		models:   cfg.Models,
		clock:    clk,
		logger:   logger,
		recorded: make(map[string]bool),
	}
	if len(h.models) == 0 {
		h.models = config.DefaultModels
	}

	h.bus = bus.New(bus.Options{
		Logger:   logger.With("component", "bus"),
		MapError: mapError,
	})
	h.sessions = session.NewManager(session.Options{
		Binary:      cfg.Agent.Binary,
		Args:        cfg.Agent.Args,
		Env:         cfg.Agent.Env,
		GracePeriod: cfg.Agent.GracePeriod,
		HistorySize: cfg.HistorySize,
		Clock:       clk,
		Logger:      logger.With("component", "session"),
		Emit:        h.onSessionEvent,
	})
	h.watcher = watcher.New(watcher.Options{
		Debounce:     cfg.Watcher.Debounce,
		ExcludedDirs: cfg.Watcher.ExcludedDirs,
		Clock:        clk,
		Logger:       logger.With("component", "watcher"),
		Emit:         h.onWatchEvent,
	})

	runner := opts.Runner
	if runner == nil {
		runner = &query.CLIRunner{Binary: cfg.Agent.Binary}
	}
	h.queries = query.New(query.Options{
		Runner:        runner,
		MaxConcurrent: cfg.Query.MaxConcurrent,
		Timeout:       cfg.Query.Timeout,
		DefaultModel:  cfg.Query.DefaultModel,
		Clock:         clk,
		Logger:        logger.With("component", "query"),
		OnChunk:       h.onQueryChunk,
		OnDone:        h.onQueryDone,
	})

	if err := h.bind(); err != nil {
		return nil, err
	}
	return h, nil
}

// Bus returns the bus the host serves.
func (h *Host) Bus() *bus.Bus {
	return h.bus
}

// Close tears everything down: watches first, then pending queries,
// then sessions. It returns once every agent process has exited or ctx
// expired.
func (h *Host) Close(ctx context.Context) error {
	h.watcher.Close()
	h.queries.Close()
	return h.sessions.Shutdown(ctx)
}

func (h *Host) bind() error {
	handlers := map[protocol.Channel]bus.Handler{
		protocol.ChannelSpawn:          h.spawn,
		protocol.ChannelSend:           h.send,
		protocol.ChannelPause:          h.pause,
		protocol.ChannelResume:         h.resume,
		protocol.ChannelStop:           h.stop,
		protocol.ChannelStatusGet:      h.status,
		protocol.ChannelSessionHistory: h.sessionHistory,
		protocol.ChannelSessionsList:   h.sessionsList,
		protocol.ChannelQuery:          h.query,
		protocol.ChannelQueryCancel:    h.queryCancel,
		protocol.ChannelAuthStatus:     h.authStatus,
		protocol.ChannelModels:         h.modelList,
		protocol.ChannelSkillsList:     h.skillsList,
		protocol.ChannelFileWatch:      h.fileWatch,
		protocol.ChannelFileUnwatch:    h.fileUnwatch,
		protocol.ChannelFileRead:       h.fileRead,
		protocol.ChannelFileWrite:      h.fileWrite,
		protocol.ChannelFileList:       h.fileList,
		protocol.ChannelFileMkdir:      h.fileMkdir,
		protocol.ChannelFileExists:     h.fileExists,
		protocol.ChannelSettingsRead:   h.settingsRead,
		protocol.ChannelSettingsWrite:  h.settingsWrite,
		protocol.ChannelPlanRead:       h.planRead,
		protocol.ChannelHistorySession: h.historySessions,
		protocol.ChannelHistoryQueries: h.historyQueries,
	}
	for ch, handler := range handlers {
		if err := h.bus.Handle(ch, handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *Host) publish(ch protocol.Channel, payload any) {
	if err := h.bus.Publish(ch, payload); err != nil {
		h.logger.Error("publish failed", "channel", ch, "error", err)
	}
}

// decode unmarshals an invoke payload. The bus has already validated
// required fields.
func decode[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, protocol.Errorf(protocol.CodeInvalidMessage, "invalid payload: %v", err)
	}
	return v, nil
}

// mapError turns component errors into coded protocol errors with the
// home directory scrubbed from the message.
func mapError(err error) error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return &protocol.Error{Code: perr.Code, Message: files.SanitizeMessage(perr.Message)}
	}

	code := protocol.CodeInternal
	switch {
	case errors.Is(err, files.ErrAccessDenied):
		code = protocol.CodeAccessDenied
	case errors.Is(err, session.ErrDuplicateSession),
		errors.Is(err, watcher.ErrAlreadyWatching),
		errors.Is(err, query.ErrDuplicate):
		code = protocol.CodeDuplicateResource
	case errors.Is(err, session.ErrSpawn):
		code = protocol.CodeSpawnFailure
	case errors.Is(err, session.ErrNoSession):
		code = protocol.CodeSessionNotFound
	case errors.Is(err, session.ErrNotAccepting):
		code = protocol.CodeSessionNotAccepting
	case errors.Is(err, query.ErrCancelled):
		code = protocol.CodeQueryCancelled
	case errors.Is(err, query.ErrFailed):
		code = protocol.CodeQueryFailed
	case errors.Is(err, watcher.ErrSetup):
		code = protocol.CodeWatchSetupFailure
	}
	return &protocol.Error{Code: code, Message: files.SanitizeError(err)}
}

// ioError reports a failed file operation.
func ioError(err error) error {
	return &protocol.Error{Code: protocol.CodeIOFailure, Message: files.SanitizeError(err)}
}

// optionalPath checks a project path that may be empty.
func (h *Host) optionalPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return h.guard.Check(path)
}
