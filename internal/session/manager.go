// Package session supervises long-lived agent processes, one per project
// path, and demuxes their output into ordered ClaudeEvents.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/benW3ART/vibes-sub001/internal/clock"
	"github.com/benW3ART/vibes-sub001/internal/protocol"
)

const (
	maxLineSize        = 1024 * 1024 // 1 MB
	readChunkSize      = 32 * 1024
	partialFlushDelay  = 50 * time.Millisecond
	defaultHistorySize = 1000
	defaultGracePeriod = 5 * time.Second
	defaultBinary      = "claude"
)

// Options configures a Manager.
type Options struct {
	// Binary is the agent executable. Empty means "claude".
	Binary string
	Args   []string
	// Env is appended to the daemon's environment.
	Env []string
	// GracePeriod is the time between SIGTERM and SIGKILL on Stop.
	GracePeriod time.Duration
	// HistorySize bounds the output kept per project.
	HistorySize int
	Clock       clock.Clock
	Logger      *slog.Logger
	// Emit receives every session event, in order per session. It must
	// not call back into the Manager.
	Emit func(Event)
}

// Manager manages the lifecycle of agent subprocess sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*managedSession // project path → live session
	history  map[string]*RingBuffer     // project path → output of its latest session
	latest   string
	spawned  uint64
	closed   bool
	running  sync.WaitGroup

	binary      string
	args        []string
	env         []string
	gracePeriod time.Duration
	historySize int
	clock       clock.Clock
	logger      *slog.Logger
	emitFn      func(Event)
	startCmd    func(*exec.Cmd) error
}

type managedSession struct {
	mu            sync.Mutex
	info          Session
	order         uint64
	stopRequested bool
	killTimer     *clock.Timer
	cmd           *exec.Cmd
	stdin         *stdinWriter
	history       *RingBuffer

	emitMu sync.Mutex
	seq    uint64

	done chan struct{}
}

// stdinWriter wraps a pipe writer with mutex protection.
type stdinWriter struct {
	mu     sync.Mutex
	writer io.WriteCloser
	closed bool
}

func (sw *stdinWriter) Write(data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed {
		return fmt.Errorf("stdin pipe closed")
	}
	_, err := sw.writer.Write(data)
	return err
}

func (sw *stdinWriter) Close() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if !sw.closed {
		sw.writer.Close()
		sw.closed = true
	}
}

// NewManager creates a new session manager.
func NewManager(opts Options) *Manager {
	binary := opts.Binary
	if binary == "" {
		binary = defaultBinary
	}
	gracePeriod := opts.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = defaultGracePeriod
	}
	historySize := opts.HistorySize
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emit := opts.Emit
	if emit == nil {
		emit = func(Event) {}
	}
	return &Manager{
		sessions:    make(map[string]*managedSession),
		history:     make(map[string]*RingBuffer),
		binary:      binary,
		args:        opts.Args,
		env:         opts.Env,
		gracePeriod: gracePeriod,
		historySize: historySize,
		clock:       clk,
		logger:      logger,
		emitFn:      emit,
		startCmd:    (*exec.Cmd).Start,
	}
}

// Spawn starts the agent in projectPath. It fails with
// ErrDuplicateSession while a live session exists for the same path.
// A failed start emits one Failure event and leaves no session behind.
func (m *Manager) Spawn(projectPath string) (Session, error) {
	if projectPath == "" {
		return Session{}, fmt.Errorf("%w: empty project path", ErrSpawn)
	}
	root, err := filepath.Abs(projectPath)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Session{}, ErrClosed
	}
	if existing, ok := m.sessions[root]; ok {
		m.mu.Unlock()
		return existing.snapshot(), fmt.Errorf("%w: %s", ErrDuplicateSession, root)
	}
	m.spawned++
	ms := &managedSession{
		info: Session{
			ID:          uuid.New().String(),
			State:       StateSpawning,
			ProjectPath: root,
			StartedAt:   m.clock.Now().UTC(),
		},
		order:   m.spawned,
		history: NewRingBuffer(m.historySize),
		done:    make(chan struct{}),
	}
	m.sessions[root] = ms
	m.running.Add(1)
	m.mu.Unlock()

	stdout, stderr, err := m.start(ms)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, root)
		m.mu.Unlock()

		ms.mu.Lock()
		ms.info.State = StateError
		snap := ms.info
		ms.mu.Unlock()

		m.emit(ms, func(tok protocol.StreamToken) Event {
			return Failure{Session: snap, Stream: tok, Err: err}
		})
		close(ms.done)
		m.running.Done()
		m.logger.Warn("spawn failed", "project", root, "error", err)
		return snap, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	m.mu.Lock()
	m.history[root] = ms.history
	m.latest = root
	m.mu.Unlock()

	go m.supervise(ms, stdout, stderr)

	snap := ms.snapshot()
	m.logger.Info("session started", "session", snap.ID, "project", root, "pid", snap.PID)
	return snap, nil
}

// start launches the process and moves the session to Running.
func (m *Manager) start(ms *managedSession) (io.ReadCloser, io.ReadCloser, error) {
	root := ms.info.ProjectPath
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, fmt.Errorf("working directory does not exist: %s", root)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("path is not a directory: %s", root)
	}

	cmd := exec.Command(m.binary, m.args...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), m.env...)
	configureProcess(cmd)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := m.startCmd(cmd); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", m.binary, err)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.cmd = cmd
	ms.stdin = &stdinWriter{writer: stdinPipe}
	ms.info.PID = cmd.Process.Pid

	if ms.stopRequested {
		// Stop arrived while spawning.
		m.terminate(ms)
		return stdoutPipe, stderrPipe, nil
	}
	ms.info.State = StateRunning
	snap := ms.info
	m.emit(ms, func(tok protocol.StreamToken) Event {
		return Status{Session: snap, Stream: tok}
	})
	return stdoutPipe, stderrPipe, nil
}

// supervise drains both output streams, reaps the process and emits the
// single Exit event.
func (m *Manager) supervise(ms *managedSession, stdout, stderr io.ReadCloser) {
	defer m.running.Done()

	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		m.readOutput(ms, stdout, false)
	}()
	go func() {
		defer streams.Done()
		m.readOutput(ms, stderr, true)
	}()
	streams.Wait()

	exitCode := 0
	if err := ms.cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	m.finish(ms, exitCode)
}

// readOutput reads a pipe in chunks and emits complete lines as Output
// events, in arrival order. Text without a trailing newline is emitted
// once the pipe has been quiet for partialFlushDelay, and a line longer
// than maxLineSize is emitted in pieces. Stderr text becomes error events.
func (m *Manager) readOutput(ms *managedSession, pipe io.Reader, isStderr bool) {
	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		buf := make([]byte, readChunkSize)
		for {
			n, err := pipe.Read(buf)
			if n > 0 {
				chunks <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
					m.logger.Warn("output read error", "session", ms.info.ID, "stderr", isStderr, "error", err)
				}
				return
			}
		}
	}()

	var pending []byte
	var idle <-chan time.Time
	for {
		select {
		case data, ok := <-chunks:
			if !ok {
				if line := bytes.TrimSuffix(pending, []byte("\r")); len(line) > 0 {
					m.emitLine(ms, string(line), isStderr)
				}
				return
			}
			pending = m.emitLines(ms, append(pending, data...), isStderr)
			idle = nil
			if len(pending) > 0 {
				idle = m.clock.After(partialFlushDelay)
			}

		case <-idle:
			m.emitText(ms, string(pending), isStderr)
			pending = nil
			idle = nil
		}
	}
}

// emitLines emits every complete line of buf and returns the remainder.
// Oversized lines and an oversized remainder are cut into pieces of at
// most maxLineSize bytes.
func (m *Manager) emitLines(ms *managedSession, buf []byte, isStderr bool) []byte {
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(buf[:i], []byte("\r"))
		if len(line) > maxLineSize {
			m.emitPieces(ms, line, isStderr)
		} else if len(line) > 0 {
			m.emitLine(ms, string(line), isStderr)
		}
		buf = buf[i+1:]
	}
	if len(buf) > maxLineSize {
		cut := runeBoundary(buf, len(buf)-len(buf)%maxLineSize)
		m.emitPieces(ms, buf[:cut], isStderr)
		buf = buf[cut:]
	}
	return append([]byte(nil), buf...)
}

func (m *Manager) emitPieces(ms *managedSession, data []byte, isStderr bool) {
	for len(data) > 0 {
		cut := len(data)
		if cut > maxLineSize {
			cut = runeBoundary(data, maxLineSize)
		}
		m.emitText(ms, string(data[:cut]), isStderr)
		data = data[cut:]
	}
}

// runeBoundary moves cut back so it does not split a UTF-8 sequence.
func runeBoundary(data []byte, cut int) int {
	if cut >= len(data) {
		return len(data)
	}
	for i := cut; i > cut-utf8.UTFMax && i > 0; i-- {
		if utf8.RuneStart(data[i]) {
			return i
		}
	}
	return cut
}

// emitLine parses one complete line.
func (m *Manager) emitLine(ms *managedSession, line string, isStderr bool) {
	if isStderr {
		m.emitText(ms, line, true)
		return
	}
	m.emitEvents(ms, ParseLine(line, m.clock.Now().UTC()))
}

// emitText emits text that is not a complete line as is.
func (m *Manager) emitText(ms *managedSession, text string, isStderr bool) {
	event := protocol.ClaudeEvent{
		Type:      protocol.EventOutput,
		Content:   text,
		Raw:       text,
		Timestamp: m.clock.Now().UTC(),
	}
	if isStderr {
		event.Type = protocol.EventError
		event.Content = ""
		event.Message = text
	}
	m.emitEvents(ms, []protocol.ClaudeEvent{event})
}

func (m *Manager) emitEvents(ms *managedSession, events []protocol.ClaudeEvent) {
	snap := ms.snapshot()
	for _, event := range events {
		m.emit(ms, func(tok protocol.StreamToken) Event {
			return Output{Session: snap, Stream: tok, Event: event}
		})
	}
}

// finish records the exit. A session that was not asked to stop and
// exits non-zero ends in Error; every other exit ends in Stopped.
func (m *Manager) finish(ms *managedSession, exitCode int) {
	ms.stdin.Close()

	root := ms.info.ProjectPath
	m.mu.Lock()
	if m.sessions[root] == ms {
		delete(m.sessions, root)
	}
	m.mu.Unlock()

	ms.mu.Lock()
	if ms.killTimer != nil {
		ms.killTimer.Stop()
	}
	state := StateStopped
	if !ms.stopRequested && exitCode != 0 {
		state = StateError
	}
	ms.info.State = state
	snap := ms.info
	m.emit(ms, func(tok protocol.StreamToken) Event {
		return Exit{Session: snap, Stream: tok, ExitCode: exitCode}
	})
	ms.mu.Unlock()
	close(ms.done)

	m.logger.Info("session exited", "session", snap.ID, "project", root, "exit_code", exitCode, "state", state)
}

// emit assigns the next stream token of the session and hands the event
// to the Emit callback. Output events are also kept in history.
func (m *Manager) emit(ms *managedSession, build func(protocol.StreamToken) Event) {
	ms.emitMu.Lock()
	defer ms.emitMu.Unlock()

	ms.seq++
	event := build(protocol.StreamToken{ID: ms.info.ID, Seq: ms.seq})
	if out, ok := event.(Output); ok {
		ms.history.Write(out)
	}
	m.emitFn(event)
}

func (ms *managedSession) snapshot() Session {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.info
}

// lookup finds the live session for projectPath. An empty path selects
// the most recently spawned live session.
func (m *Manager) lookup(projectPath string) (*managedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if projectPath == "" {
		var latest *managedSession
		for _, ms := range m.sessions {
			if latest == nil || ms.order > latest.order {
				latest = ms
			}
		}
		if latest == nil {
			return nil, ErrNoSession
		}
		return latest, nil
	}

	root, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, err
	}
	ms, ok := m.sessions[root]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, root)
	}
	return ms, nil
}

// Send writes command to the agent's stdin. Only running sessions accept
// input; a paused session rejects it.
func (m *Manager) Send(projectPath, command string) error {
	ms, err := m.lookup(projectPath)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	state := ms.info.State
	stdin := ms.stdin
	ms.mu.Unlock()

	if state != StateRunning {
		return fmt.Errorf("%w: session is %s", ErrNotAccepting, state)
	}
	if err := stdin.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAccepting, err)
	}
	return nil
}

// Pause stops forwarding commands. The process keeps running.
func (m *Manager) Pause(projectPath string) (Session, error) {
	return m.transition(projectPath, StateRunning, StatePaused)
}

// Resume accepts commands again after Pause.
func (m *Manager) Resume(projectPath string) (Session, error) {
	return m.transition(projectPath, StatePaused, StateRunning)
}

func (m *Manager) transition(projectPath string, from, to State) (Session, error) {
	ms, err := m.lookup(projectPath)
	if err != nil {
		return Session{}, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	switch ms.info.State {
	case to:
		return ms.info, nil
	case from:
		ms.info.State = to
		snap := ms.info
		m.emit(ms, func(tok protocol.StreamToken) Event {
			return Status{Session: snap, Stream: tok}
		})
		return snap, nil
	default:
		return ms.info, fmt.Errorf("%w: session is %s", ErrNotAccepting, ms.info.State)
	}
}

// Stop asks the session to terminate: stdin is closed, the process group
// gets SIGTERM and, after the grace period, SIGKILL. It reports whether
// this call initiated the stop; repeated calls are no-ops.
func (m *Manager) Stop(projectPath string) bool {
	ms, err := m.lookup(projectPath)
	if err != nil {
		return false
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.info.State == StateStopping || ms.info.State.Terminal() {
		return false
	}

	ms.stopRequested = true
	ms.info.State = StateStopping
	snap := ms.info
	m.emit(ms, func(tok protocol.StreamToken) Event {
		return Status{Session: snap, Stream: tok}
	})

	if ms.cmd != nil {
		m.terminate(ms)
	}
	m.logger.Info("session stopping", "session", snap.ID, "project", snap.ProjectPath)
	return true
}

// terminate signals the process and arms the SIGKILL escalation. The
// caller holds ms.mu.
func (m *Manager) terminate(ms *managedSession) {
	ms.stdin.Close()
	proc := ms.cmd.Process
	if err := terminateProcess(proc); err != nil {
		m.logger.Debug("terminate failed", "session", ms.info.ID, "error", err)
	}
	done := ms.done
	ms.killTimer = m.clock.AfterFunc(m.gracePeriod, func() {
		select {
		case <-done:
			return
		default:
		}
		m.logger.Warn("grace period elapsed, killing", "session", ms.info.ID)
		if err := killProcess(proc); err != nil {
			m.logger.Debug("kill failed", "session", ms.info.ID, "error", err)
		}
	})
}

// Get returns the live session for projectPath.
func (m *Manager) Get(projectPath string) (Session, error) {
	ms, err := m.lookup(projectPath)
	if err != nil {
		return Session{}, err
	}
	return ms.snapshot(), nil
}

// List returns all live sessions, oldest first.
func (m *Manager) List() []Session {
	m.mu.Lock()
	live := make([]*managedSession, 0, len(m.sessions))
	for _, ms := range m.sessions {
		live = append(live, ms)
	}
	m.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return live[i].order < live[j].order })
	result := make([]Session, 0, len(live))
	for _, ms := range live {
		result = append(result, ms.snapshot())
	}
	return result
}

// History returns the buffered output of the latest session of
// projectPath with a sequence number above since. It stays available
// after the session exited.
func (m *Manager) History(projectPath string, since uint64) ([]Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	root := m.latest
	if projectPath != "" {
		abs, err := filepath.Abs(projectPath)
		if err != nil {
			return nil, err
		}
		root = abs
	}
	rb, ok := m.history[root]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, root)
	}
	return rb.Since(since), nil
}

// Wait blocks until the live session of projectPath has exited.
func (m *Manager) Wait(ctx context.Context, projectPath string) error {
	ms, err := m.lookup(projectPath)
	if err != nil {
		return err
	}
	select {
	case <-ms.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every session and waits for them to exit. When ctx
// expires first the remaining processes are killed.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	paths := make([]string, 0, len(m.sessions))
	for path := range m.sessions {
		paths = append(paths, path)
	}
	m.mu.Unlock()

	for _, path := range paths {
		m.Stop(path)
	}

	done := make(chan struct{})
	go func() {
		m.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	for _, ms := range m.sessions {
		ms.mu.Lock()
		if ms.cmd != nil {
			killProcess(ms.cmd.Process)
		}
		ms.mu.Unlock()
	}
	m.mu.Unlock()
	<-done
	return ctx.Err()
}
