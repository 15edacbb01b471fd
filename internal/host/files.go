package host

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/benW3ART/vibes-sub001/internal/agentinfo"
	"github.com/benW3ART/vibes-sub001/internal/files"
	"github.com/benW3ART/vibes-sub001/internal/protocol"
	"github.com/benW3ART/vibes-sub001/internal/watcher"
)

// fileWatch answers false for paths outside the allowed roots.
func (h *Host) fileWatch(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.PathPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.Path)
	if err != nil {
		h.logger.Warn("watch denied", "path", files.SanitizeMessage(p.Path))
		return false, nil
	}
	if err := h.watcher.Watch(path); err != nil {
		return nil, err
	}
	return true, nil
}

func (h *Host) fileUnwatch(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.PathPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.Path)
	if err != nil {
		return false, nil
	}
	if err := h.watcher.Unwatch(path); err != nil {
		if errors.Is(err, watcher.ErrNotWatching) {
			return false, nil
		}
		return nil, err
	}
	return true, nil
}

func (h *Host) fileRead(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.PathPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.Path)
	if err != nil {
		return nil, err
	}
	content, err := files.Read(path)
	if err != nil {
		return nil, ioError(err)
	}
	return content, nil
}

func (h *Host) fileWrite(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.WritePayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.Path)
	if err != nil {
		return nil, err
	}
	if err := files.Write(path, p.Content); err != nil {
		return nil, ioError(err)
	}
	return true, nil
}

func (h *Host) fileList(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.PathPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.Path)
	if err != nil {
		return nil, err
	}
	entries, err := files.List(path)
	if err != nil {
		return nil, ioError(err)
	}
	return entries, nil
}

func (h *Host) fileMkdir(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.PathPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.Path)
	if err != nil {
		return nil, err
	}
	if err := files.Mkdir(path); err != nil {
		return nil, ioError(err)
	}
	return true, nil
}

// fileExists answers false for paths outside the allowed roots.
func (h *Host) fileExists(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.PathPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.Path)
	if err != nil {
		return false, nil
	}
	return files.Exists(path), nil
}

// settingsRead answers null when the project has no settings.json.
func (h *Host) settingsRead(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.ProjectPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.ProjectPath)
	if err != nil {
		return nil, err
	}
	settings, err := files.ReadSettings(path)
	if err != nil {
		return nil, ioError(err)
	}
	if settings == nil {
		return json.RawMessage("null"), nil
	}
	return settings, nil
}

func (h *Host) settingsWrite(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.SettingsWritePayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.ProjectPath)
	if err != nil {
		return nil, err
	}
	if err := files.WriteSettings(path, p.Settings); err != nil {
		return nil, ioError(err)
	}
	return true, nil
}

// planRead answers null when the project has no plan.
func (h *Host) planRead(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.ProjectPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.ProjectPath)
	if err != nil {
		return nil, err
	}
	plan, ok, err := files.ReadPlan(path)
	if err != nil {
		return nil, ioError(err)
	}
	if !ok {
		return json.RawMessage("null"), nil
	}
	return plan, nil
}

func (h *Host) authStatus(ctx context.Context, _ json.RawMessage) (any, error) {
	return h.auth.Status(ctx), nil
}

func (h *Host) modelList(context.Context, json.RawMessage) (any, error) {
	return h.models, nil
}

func (h *Host) skillsList(_ context.Context, payload json.RawMessage) (any, error) {
	p, err := decode[protocol.ProjectPayload](payload)
	if err != nil {
		return nil, err
	}
	path, err := h.guard.Check(p.ProjectPath)
	if err != nil {
		return nil, err
	}
	skills, err := agentinfo.ListSkills(path)
	if err != nil {
		return nil, ioError(err)
	}
	return skills, nil
}

// onWatchEvent forwards watcher events. It runs with watcher locks held
// and only publishes.
func (h *Host) onWatchEvent(ev watcher.Event) {
	switch ev := ev.(type) {
	case watcher.Changed:
		h.publish(protocol.ChannelFileChanged, protocol.FileChangePayload{
			Type:      ev.Type,
			Path:      ev.Path,
			Root:      ev.Root,
			Timestamp: ev.Timestamp,
		})
	case watcher.Failed:
		msg := files.SanitizeError(ev.Err)
		h.publish(protocol.ChannelWatchError, protocol.WatchErrorPayload{Root: ev.Root, Message: msg})
		if ev.Setup {
			h.publish(protocol.ChannelError, protocol.ErrorPayload{
				ProjectPath: ev.Root,
				Code:        protocol.CodeWatchSetupFailure,
				Message:     msg,
				Timestamp:   h.clock.Now().UTC(),
			})
		}
	}
}
