package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewEvent(t *testing.T) {
	msg, err := NewEvent(ChannelExit, ExitPayload{SessionID: "s-1", ExitCode: 3})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if msg.Kind != KindEvent || msg.Channel != ChannelExit {
		t.Errorf("unexpected envelope header: %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}

	var p ExitPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.SessionID != "s-1" || p.ExitCode != 3 {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestValidateClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{"spawn ok", Envelope{Kind: KindInvoke, ID: "1", Channel: ChannelSpawn, Payload: json.RawMessage(`{"projectPath":"/p"}`)}, false},
		{"spawn missing path", Envelope{Kind: KindInvoke, ID: "1", Channel: ChannelSpawn, Payload: json.RawMessage(`{}`)}, true},
		{"send ok", Envelope{Kind: KindInvoke, ID: "1", Channel: ChannelSend, Payload: json.RawMessage(`{"command":"hello"}`)}, false},
		{"send missing command", Envelope{Kind: KindInvoke, ID: "1", Channel: ChannelSend, Payload: json.RawMessage(`{"projectPath":"/p"}`)}, true},
		{"pause without payload", Envelope{Kind: KindInvoke, ID: "1", Channel: ChannelPause}, false},
		{"query missing prompt", Envelope{Kind: KindInvoke, ID: "1", Channel: ChannelQuery, Payload: json.RawMessage(`{"projectPath":"/p"}`)}, true},
		{"cancel by project", Envelope{Kind: KindInvoke, ID: "1", Channel: ChannelQueryCancel, Payload: json.RawMessage(`{"projectPath":"/p"}`)}, false},
		{"cancel without key", Envelope{Kind: KindInvoke, ID: "1", Channel: ChannelQueryCancel, Payload: json.RawMessage(`{}`)}, true},
		{"settings write without settings", Envelope{Kind: KindInvoke, ID: "1", Channel: ChannelSettingsWrite, Payload: json.RawMessage(`{"projectPath":"/p"}`)}, true},
		{"file write empty content", Envelope{Kind: KindInvoke, ID: "1", Channel: ChannelFileWrite, Payload: json.RawMessage(`{"path":"/p/a"}`)}, false},
		{"bad payload json", Envelope{Kind: KindInvoke, ID: "1", Channel: ChannelFileRead, Payload: json.RawMessage(`[1,2]`)}, true},
		{"missing id", Envelope{Kind: KindInvoke, Channel: ChannelModels}, true},
		{"unknown channel", Envelope{Kind: KindInvoke, ID: "1", Channel: "nope"}, true},
		{"invoke on push channel", Envelope{Kind: KindInvoke, ID: "1", Channel: ChannelOutput}, true},
		{"subscribe ok", Envelope{Kind: KindSubscribe, Channels: []Channel{ChannelOutput, ChannelExit}}, false},
		{"subscribe invoke channel", Envelope{Kind: KindSubscribe, Channels: []Channel{ChannelSpawn}}, true},
		{"subscribe nothing", Envelope{Kind: KindSubscribe}, true},
		{"missing kind", Envelope{Channel: ChannelModels}, true},
		{"result from client", Envelope{Kind: KindResult, ID: "1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateClientMessage(&tt.env)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateClientMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateClientMessage_UnknownChannelCode(t *testing.T) {
	err := ValidateClientMessage(&Envelope{Kind: KindInvoke, ID: "1", Channel: "bogus"})
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != CodeChannelNotFound {
		t.Fatalf("expected CHANNEL_NOT_FOUND, got %v", err)
	}
}

func TestResult(t *testing.T) {
	ok := OK(map[string]int{"n": 2})
	if !ok.Success || ok.Error != nil {
		t.Fatalf("unexpected OK result %+v", ok)
	}
	var got map[string]int
	if err := ok.Decode(&got); err != nil || got["n"] != 2 {
		t.Fatalf("Decode = %v, %v", got, err)
	}

	failed := Fail(Errorf(CodeDuplicateResource, "already watching %s", "/p"))
	if failed.Success || failed.Error.Code != CodeDuplicateResource {
		t.Fatalf("unexpected Fail result %+v", failed)
	}
	if err := failed.Decode(&got); err == nil {
		t.Fatal("Decode of failed result should return its error")
	}

	internal := Fail(errors.New("boom"))
	if internal.Error.Code != CodeInternal {
		t.Errorf("plain error should map to INTERNAL, got %s", internal.Error.Code)
	}
}

func TestChannelTable(t *testing.T) {
	spec, ok := Lookup(ChannelQuery)
	if !ok || spec.Direction != Invoke || !spec.Concurrent {
		t.Errorf("query channel spec = %+v, %v", spec, ok)
	}
	if _, ok := Lookup("claude:spawn"); ok {
		t.Error("unexpected channel found")
	}
	for _, ch := range Channels(Push) {
		if spec, _ := Lookup(ch); spec.Direction != Push {
			t.Errorf("channel %s listed as push", ch)
		}
	}
}
