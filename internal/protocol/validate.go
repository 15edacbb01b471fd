package protocol

import (
	"encoding/json"
	"fmt"
)

// ValidateClientMessage checks a decoded client envelope: the kind must be
// one a client may send, channels must exist with the right direction, and
// invoke payloads must carry their required fields.
func ValidateClientMessage(env *Envelope) error {
	switch env.Kind {
	case KindInvoke:
		if env.ID == "" {
			return fmt.Errorf("missing 'id' field")
		}
		spec, ok := Lookup(env.Channel)
		if !ok {
			return Errorf(CodeChannelNotFound, "unknown channel: %s", env.Channel)
		}
		if spec.Direction != Invoke {
			return Errorf(CodeChannelNotFound, "channel %s is not invokable", env.Channel)
		}
		return ValidatePayload(env.Channel, env.Payload)

	case KindSubscribe, KindUnsubscribe:
		if len(env.Channels) == 0 {
			return fmt.Errorf("missing 'channels' field")
		}
		for _, ch := range env.Channels {
			spec, ok := Lookup(ch)
			if !ok || spec.Direction != Push {
				return Errorf(CodeChannelNotFound, "unknown push channel: %s", ch)
			}
		}
		return nil

	case "":
		return fmt.Errorf("missing 'kind' field")

	default:
		return fmt.Errorf("unknown message kind: %s", env.Kind)
	}
}

// ValidatePayload checks the required fields of an invoke payload.
func ValidatePayload(ch Channel, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	decode := func(v any) error {
		if err := json.Unmarshal(payload, v); err != nil {
			return fmt.Errorf("invalid payload for %s: %w", ch, err)
		}
		return nil
	}

	switch ch {
	case ChannelSpawn, ChannelSettingsRead, ChannelPlanRead, ChannelSkillsList:
		var p ProjectPayload
		if err := decode(&p); err != nil {
			return err
		}
		return requireField(ch, "projectPath", p.ProjectPath)

	case ChannelSend:
		var p SendPayload
		if err := decode(&p); err != nil {
			return err
		}
		return requireField(ch, "command", p.Command)

	case ChannelQuery:
		var p QueryPayload
		if err := decode(&p); err != nil {
			return err
		}
		if err := requireField(ch, "projectPath", p.ProjectPath); err != nil {
			return err
		}
		return requireField(ch, "prompt", p.Prompt)

	case ChannelQueryCancel:
		var p QueryCancelPayload
		if err := decode(&p); err != nil {
			return err
		}
		if p.CorrelationID == "" && p.ProjectPath == "" {
			return fmt.Errorf("%s payload needs 'correlationId' or 'projectPath'", ch)
		}
		return nil

	case ChannelFileWatch, ChannelFileUnwatch, ChannelFileRead, ChannelFileList,
		ChannelFileMkdir, ChannelFileExists:
		var p PathPayload
		if err := decode(&p); err != nil {
			return err
		}
		return requireField(ch, "path", p.Path)

	case ChannelFileWrite:
		var p WritePayload
		if err := decode(&p); err != nil {
			return err
		}
		return requireField(ch, "path", p.Path)

	case ChannelSettingsWrite:
		var p SettingsWritePayload
		if err := decode(&p); err != nil {
			return err
		}
		if p.Settings == nil {
			return fmt.Errorf("missing required field 'settings' in %s payload", ch)
		}
		return requireField(ch, "projectPath", p.ProjectPath)

	default:
		var v any
		return decode(&v)
	}
}

func requireField(ch Channel, name, value string) error {
	if value == "" {
		return fmt.Errorf("missing required field '%s' in %s payload", name, ch)
	}
	return nil
}
