package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benW3ART/vibes-sub001/internal/files"
	"github.com/benW3ART/vibes-sub001/internal/protocol"
	"github.com/benW3ART/vibes-sub001/internal/session"
	"github.com/benW3ART/vibes-sub001/internal/store"
)

func (h *Host) spawn(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.ProjectPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.ProjectPath)
	if err != nil {
		return nil, err
	}
	sess, err := h.sessions.Spawn(path)
	if err != nil {
		return nil, err
	}
	return sessionPayload(sess), nil
}

func (h *Host) send(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.SendPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.optionalPath(p.ProjectPath)
	if err != nil {
		return nil, err
	}
	if err := h.sessions.Send(path, p.Command); err != nil {
		return nil, err
	}
	return true, nil
}

func (h *Host) pause(_ context.Context, payload json.RawMessage) (any, error) {
	return h.toggle(payload, h.sessions.Pause)
}

func (h *Host) resume(_ context.Context, payload json.RawMessage) (any, error) {
	return h.toggle(payload, h.sessions.Resume)
}

func (h *Host) toggle(payload json.RawMessage, op func(string) (session.Session, error)) (any, error) {
	p, err := decode[protocol.ProjectPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.optionalPath(p.ProjectPath)
	if err != nil {
		return nil, err
	}
	sess, err := op(path)
	if err != nil {
		return nil, err
	}
	return sessionPayload(sess), nil
}

// stop answers whether this call initiated a stop. Stopping an absent or
// already stopping session answers false.
func (h *Host) stop(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.ProjectPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.optionalPath(p.ProjectPath)
	if err != nil {
		return nil, err
	}
	return h.sessions.Stop(path), nil
}

func (h *Host) status(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.ProjectPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.optionalPath(p.ProjectPath)
	if err != nil {
		return nil, err
	}
	sess, err := h.sessions.Get(path)
	if errors.Is(err, session.ErrNoSession) {
		return protocol.StatusPayload{ProjectPath: path, State: string(session.StateIdle)}, nil
	}
	if err != nil {
		return nil, err
	}
	return statusPayload(sess, protocol.StreamToken{ID: sess.ID}), nil
}

func (h *Host) sessionHistory(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.SessionHistoryPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.optionalPath(p.ProjectPath)
	if err != nil {
		return nil, err
	}
	outputs, err := h.sessions.History(path, p.Since)
	if err != nil {
		return nil, err
	}
	result := make([]protocol.OutputPayload, 0, len(outputs))
	for _, out := range outputs {
		result = append(result, outputPayload(out))
	}
	return result, nil
}

func (h *Host) sessionsList(context.Context, json.RawMessage) (any, error) {
	sessions := h.sessions.List()
	result := make([]protocol.SessionPayload, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, sessionPayload(sess))
	}
	return result, nil
}

func (h *Host) historySessions(ctx context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.HistoryPayload](payload)
	if err != nil {
		return nil, err
	}
	if h.store == nil {
		return []store.SessionRecord{}, nil
	}
	records, err := h.store.RecentSessions(ctx, p.Limit)
	if err != nil {
		return nil, ioError(err)
	}
	return records, nil
}

// onSessionEvent forwards supervisor events. It runs in the session's
// emission order. Pushes derived from one event share its stream token.
func (h *Host) onSessionEvent(ev session.Event) {
	switch ev := ev.(type) {
	case session.Output:
		h.publish(protocol.ChannelOutput, outputPayload(ev))

	case session.Status:
		if ev.Session.State == session.StateRunning {
			h.recordStart(ev.Session)
		}
		h.publish(protocol.ChannelStatus, statusPayload(ev.Session, ev.Stream))

	case session.Exit:
		h.recordEnd(ev.Session, ev.ExitCode)
		h.publish(protocol.ChannelExit, protocol.ExitPayload{
			SessionID:   ev.Session.ID,
			ProjectPath: ev.Session.ProjectPath,
			Stream:      ev.Stream,
			ExitCode:    ev.ExitCode,
			State:       string(ev.Session.State),
		})
		if ev.Session.State == session.StateError {
			h.publish(protocol.ChannelError, protocol.ErrorPayload{
				SessionID:   ev.Session.ID,
				ProjectPath: ev.Session.ProjectPath,
				Stream:      ev.Stream,
				Code:        protocol.CodeProcessExited,
				Message:     fmt.Sprintf("agent exited with code %d", ev.ExitCode),
				Timestamp:   h.clock.Now().UTC(),
			})
		}
		h.publish(protocol.ChannelStatus, statusPayload(ev.Session, ev.Stream))

	case session.Failure:
		h.publish(protocol.ChannelError, protocol.ErrorPayload{
			SessionID:   ev.Session.ID,
			ProjectPath: ev.Session.ProjectPath,
			Stream:      ev.Stream,
			Code:        protocol.CodeSpawnFailure,
			Message:     files.SanitizeError(ev.Err),
			Timestamp:   h.clock.Now().UTC(),
		})
		h.publish(protocol.ChannelStatus, statusPayload(ev.Session, ev.Stream))
	}
}

func (h *Host) recordStart(sess session.Session) {
	h.mu.Lock()
	seen := h.recorded[sess.ID]
	h.recorded[sess.ID] = true
	h.mu.Unlock()
	if seen || h.store == nil {
		return
	}
	err := h.store.RecordSessionStart(context.Background(), store.SessionRecord{
		ID:          sess.ID,
		ProjectPath: sess.ProjectPath,
		PID:         sess.PID,
		State:       string(sess.State),
		StartedAt:   sess.StartedAt,
	})
	if err != nil {
		h.logger.Warn("record session start failed", "session", sess.ID, "error", err)
	}
}

func (h *Host) recordEnd(sess session.Session, exitCode int) {
	h.mu.Lock()
	seen := h.recorded[sess.ID]
	delete(h.recorded, sess.ID)
	h.mu.Unlock()
	if h.store == nil {
		return
	}

	ctx := context.Background()
	if !seen {
		// Stopped while spawning: no Running status was emitted.
		err := h.store.RecordSessionStart(ctx, store.SessionRecord{
			ID:          sess.ID,
			ProjectPath: sess.ProjectPath,
			PID:         sess.PID,
			State:       string(sess.State),
			StartedAt:   sess.StartedAt,
		})
		if err != nil {
			h.logger.Warn("record session start failed", "session", sess.ID, "error", err)
			return
		}
	}
	if err := h.store.RecordSessionEnd(ctx, sess.ID, string(sess.State), exitCode, h.clock.Now().UTC()); err != nil {
		h.logger.Warn("record session end failed", "session", sess.ID, "error", err)
	}
}

func sessionPayload(sess session.Session) protocol.SessionPayload {
	return protocol.SessionPayload{
		ID:          sess.ID,
		State:       string(sess.State),
		ProjectPath: sess.ProjectPath,
		PID:         sess.PID,
		StartedAt:   sess.StartedAt,
	}
}

func statusPayload(sess session.Session, tok protocol.StreamToken) protocol.StatusPayload {
	return protocol.StatusPayload{
		SessionID:   sess.ID,
		ProjectPath: sess.ProjectPath,
		Stream:      tok,
		State:       string(sess.State),
		Running:     sess.State == session.StateRunning || sess.State == session.StatePaused,
		Paused:      sess.State == session.StatePaused,
		PID:         sess.PID,
	}
}

func outputPayload(out session.Output) protocol.OutputPayload {
	return protocol.OutputPayload{
		SessionID:   out.Session.ID,
		ProjectPath: out.Session.ProjectPath,
		Stream:      out.Stream,
		Event:       out.Event,
	}
}
