package streamjson

import "testing"

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantOK   bool
		wantType string
	}{
		{"assistant", `{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`, true, TypeAssistant},
		{"result", `{"type":"result","subtype":"success","result":"done","is_error":false}`, true, TypeResult},
		{"plain text", `Reading main.go`, false, ""},
		{"json without type", `{"foo":1}`, false, ""},
		{"broken json", `{"type":`, false, ""},
		{"array", `[1,2]`, false, ""},
		{"empty", ``, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Decode([]byte(tt.line))
			if ok != tt.wantOK {
				t.Fatalf("Decode() ok = %v, want %v", ok, tt.wantOK)
			}
			if msg.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", msg.Type, tt.wantType)
			}
		})
	}
}

func TestMessageText(t *testing.T) {
	msg, ok := Decode([]byte(`{"type":"assistant","message":{"content":[
		{"type":"text","text":"Hello, "},
		{"type":"tool_use","id":"t1","name":"Read","input":{"file_path":"/p/a.go"}},
		{"type":"text","text":"world"}]}}`))
	if !ok {
		t.Fatal("expected message to decode")
	}
	if got := msg.Text(); got != "Hello, world" {
		t.Errorf("Text() = %q", got)
	}
	if in := msg.Message.Content[1].Tool(); in.FilePath != "/p/a.go" {
		t.Errorf("Tool().FilePath = %q", in.FilePath)
	}
}
