package protocol

import "time"

// EventType is the variant tag of a ClaudeEvent.
type EventType string

const (
	EventThinking     EventType = "thinking"
	EventReading      EventType = "reading"
	EventWriting      EventType = "writing"
	EventExecuting    EventType = "executing"
	EventSuccess      EventType = "success"
	EventError        EventType = "error"
	EventTaskStart    EventType = "task_start"
	EventTaskComplete EventType = "task_complete"
	EventAgentSwitch  EventType = "agent_switch"
	EventOutput       EventType = "output"
)

// ClaudeEvent is one semantically meaningful unit of agent output. Which
// payload fields are set depends on Type.
type ClaudeEvent struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content,omitempty"`
	File      string    `json:"file,omitempty"`
	Lines     int       `json:"lines,omitempty"`
	Command   string    `json:"command,omitempty"`
	Message   string    `json:"message,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
	Agent     string    `json:"agent,omitempty"`
	Raw       string    `json:"raw,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamToken positions a pushed event within its stream. Seq starts at 1
// and increases by one per event, so consumers can detect gaps.
type StreamToken struct {
	ID  string `json:"id"`
	Seq uint64 `json:"seq"`
}

// Client → host payloads.

type ProjectPayload struct {
	ProjectPath string `json:"projectPath,omitempty"`
}

type SendPayload struct {
	ProjectPath string `json:"projectPath,omitempty"`
	Command     string `json:"command"`
}

type QueryPayload struct {
	CorrelationID string `json:"correlationId,omitempty"`
	ProjectPath   string `json:"projectPath"`
	Prompt        string `json:"prompt"`
	SystemPrompt  string `json:"systemPrompt,omitempty"`
	ModelID       string `json:"modelId,omitempty"`
}

type QueryCancelPayload struct {
	CorrelationID string `json:"correlationId,omitempty"`
	ProjectPath   string `json:"projectPath,omitempty"`
}

type PathPayload struct {
	Path string `json:"path"`
}

type WritePayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type SettingsWritePayload struct {
	ProjectPath string         `json:"projectPath"`
	Settings    map[string]any `json:"settings"`
}

type SessionHistoryPayload struct {
	ProjectPath string `json:"projectPath,omitempty"`
	Since       uint64 `json:"since,omitempty"`
}

type HistoryPayload struct {
	Limit int `json:"limit,omitempty"`
}

// Host → client payloads.

type SessionPayload struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	ProjectPath string    `json:"projectPath"`
	PID         int       `json:"pid,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
}

type OutputPayload struct {
	SessionID   string      `json:"sessionId"`
	ProjectPath string      `json:"projectPath"`
	Stream      StreamToken `json:"stream"`
	Event       ClaudeEvent `json:"event"`
}

type ExitPayload struct {
	SessionID   string      `json:"sessionId"`
	ProjectPath string      `json:"projectPath"`
	Stream      StreamToken `json:"stream"`
	ExitCode    int         `json:"exitCode"`
	State       string      `json:"state"`
}

type StatusPayload struct {
	SessionID   string      `json:"sessionId"`
	ProjectPath string      `json:"projectPath"`
	Stream      StreamToken `json:"stream"`
	State       string      `json:"state"`
	Running     bool        `json:"running"`
	Paused      bool        `json:"paused"`
	PID         int         `json:"pid,omitempty"`
}

type QueryResultPayload struct {
	CorrelationID string `json:"correlationId"`
	Response      string `json:"response"`
}

type QueryChunkPayload struct {
	CorrelationID string `json:"correlationId"`
	ProjectPath   string `json:"projectPath"`
	Seq           uint64 `json:"seq"`
	Chunk         string `json:"chunk"`
}

// FileChangeType is the kind of a coalesced file change.
type FileChangeType string

const (
	FileAdded   FileChangeType = "add"
	FileChanged FileChangeType = "change"
)

type FileChangePayload struct {
	Type      FileChangeType `json:"type"`
	Path      string         `json:"path"`
	Root      string         `json:"root"`
	Timestamp time.Time      `json:"timestamp"`
}

type WatchErrorPayload struct {
	Root    string `json:"root"`
	Message string `json:"message"`
}

// FileInfo is one entry of a directory listing.
type FileInfo struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	IsDirectory bool      `json:"isDirectory"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
}

type ErrorPayload struct {
	SessionID   string      `json:"sessionId,omitempty"`
	ProjectPath string      `json:"projectPath,omitempty"`
	Stream      StreamToken `json:"stream"`
	Code        Code        `json:"code"`
	Message     string      `json:"message"`
	Timestamp   time.Time   `json:"timestamp"`
}
