package session

import (
	"errors"
	"time"

	"github.com/benW3ART/vibes-sub001/internal/protocol"
)

// State represents the lifecycle state of a session.
type State string

const (
	StateIdle     State = "idle"
	StateSpawning State = "spawning"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateError    State = "error"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

var (
	// ErrDuplicateSession is returned when a live session already exists
	// for the project path.
	ErrDuplicateSession = errors.New("session already exists for project")
	// ErrNoSession is returned when no live session matches.
	ErrNoSession = errors.New("no active session")
	// ErrNotAccepting is returned when the session state rejects the
	// operation.
	ErrNotAccepting = errors.New("session not accepting input")
	// ErrSpawn wraps failures to start the agent process.
	ErrSpawn = errors.New("spawn failed")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("manager closed")
)

// Session is a snapshot of one supervised agent process.
type Session struct {
	ID          string    `json:"id"`
	State       State     `json:"state"`
	ProjectPath string    `json:"projectPath"`
	PID         int       `json:"pid,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
}

// Event is emitted by the Manager: Output, Status, Exit or Failure.
// Events of one session carry strictly increasing stream sequence
// numbers.
type Event interface {
	isEvent()
}

// Output is one parsed unit of agent output.
type Output struct {
	Session Session
	Stream  protocol.StreamToken
	Event   protocol.ClaudeEvent
}

// Status reports a state transition.
type Status struct {
	Session Session
	Stream  protocol.StreamToken
}

// Exit is emitted once per session after both output streams drained
// and the process was reaped.
type Exit struct {
	Session  Session
	Stream   protocol.StreamToken
	ExitCode int
}

// Failure reports a spawn failure. No session survives it.
type Failure struct {
	Session Session
	Stream  protocol.StreamToken
	Err     error
}

func (Output) isEvent()  {}
func (Status) isEvent()  {}
func (Exit) isEvent()    {}
func (Failure) isEvent() {}
