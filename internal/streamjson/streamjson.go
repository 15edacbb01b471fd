// Package streamjson decodes the line-delimited JSON emitted by
// `claude --output-format stream-json`.
package streamjson

import (
	"bytes"
	"encoding/json"
)

// Message types.
const (
	TypeSystem    = "system"
	TypeAssistant = "assistant"
	TypeUser      = "user"
	TypeResult    = "result"
)

// Content block types.
const (
	BlockText     = "text"
	BlockThinking = "thinking"
	BlockToolUse  = "tool_use"
)

// Message is one stream-json line.
type Message struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// Assistant and user messages.
	Message *Body `json:"message,omitempty"`

	// Result messages.
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Body is the payload of an assistant or user message.
type Body struct {
	Model   string  `json:"model,omitempty"`
	Content []Block `json:"content"`
}

// Block is one content block of a message body.
type Block struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// ToolInput holds the tool_use input fields the host reads.
type ToolInput struct {
	FilePath    string `json:"file_path,omitempty"`
	Path        string `json:"path,omitempty"`
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
}

// Decode parses line as a stream-json message. It reports false for
// anything that is not a JSON object with a type.
func Decode(line []byte) (Message, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Message{}, false
	}
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil || msg.Type == "" {
		return Message{}, false
	}
	return msg, true
}

// Tool decodes the input of a tool_use block.
func (b Block) Tool() ToolInput {
	var in ToolInput
	if len(b.Input) > 0 {
		json.Unmarshal(b.Input, &in)
	}
	return in
}

// Text concatenates the text blocks of an assistant message.
func (m Message) Text() string {
	if m.Message == nil {
		return ""
	}
	var buf bytes.Buffer
	for _, block := range m.Message.Content {
		if block.Type == BlockText {
			buf.WriteString(block.Text)
		}
	}
	return buf.String()
}
