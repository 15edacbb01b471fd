package host

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/benW3ART/vibes-sub001/internal/files"
	"github.com/benW3ART/vibes-sub001/internal/protocol"
	"github.com/benW3ART/vibes-sub001/internal/query"
	"github.com/benW3ART/vibes-sub001/internal/store"
)

// query blocks until the query resolves. The channel is dispatched
// concurrently so query:cancel can overtake it.
func (h *Host) query(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.QueryPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.ProjectPath)
	if err != nil {
		return nil, err
	}
	resp, err := h.queries.Query(ctx, query.Request{
		CorrelationID: p.CorrelationID,
		ProjectPath:   path,
		Prompt:        p.Prompt,
		SystemPrompt:  p.SystemPrompt,
		ModelID:       p.ModelID,
	})
	if err != nil {
		return nil, err
	}
	return protocol.QueryResultPayload{CorrelationID: resp.CorrelationID, Response: resp.Text}, nil
}

// queryCancel cancels one query by correlation id, or every pending
// query of a project. It answers whether anything was cancelled.
func (h *Host) queryCancel(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.QueryCancelPayload](payload)
	if err != nil {
		return nil, err
	}
	if p.CorrelationID != "" {
		return h.queries.Cancel(p.CorrelationID), nil
	}
	return h.queries.CancelProject(p.ProjectPath) > 0, nil
}

func (h *Host) historyQueries(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.HistoryPayload](payload)
	if err != nil {
		return nil, err
	}
	if h.store == nil {
		return []store.QueryRecord{}, nil
	}
	records, err := h.store.RecentQueries(ctx, p.Limit)
	if err != nil {
		return nil, ioError(err)
	}
	return records, nil
}

func (h *Host) onQueryChunk(c query.Chunk) {
	h.publish(protocol.ChannelQueryChunk, protocol.QueryChunkPayload{
		CorrelationID: c.CorrelationID,
		ProjectPath:   c.ProjectPath,
		Seq:           c.Seq,
		Chunk:         c.Text,
	})
}

func (h *Host) onQueryDone(o query.Outcome) {
	if h.store == nil {
		return
	}
	rec := store.QueryRecord{
		CorrelationID: o.Request.CorrelationID,
		ProjectPath:   o.Request.ProjectPath,
		ModelID:       o.Request.ModelID,
		Outcome:       store.OutcomeCompleted,
		StartedAt:     o.StartedAt,
		EndedAt:       o.EndedAt,
	}
	switch {
	case errors.Is(o.Err, query.ErrCancelled):
		rec.Outcome = store.OutcomeCancelled
	case o.Err != nil:
		rec.Outcome = store.OutcomeFailed
		rec.Error = files.SanitizeError(o.Err)
	}
	if err := h.store.RecordQuery(context.Background(), rec); err != nil {
		h.logger.Warn("record query failed", "correlation", rec.CorrelationID, "error", err)
	}
}
