package session

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benW3ART/vibes-sub001/internal/clock"
	"github.com/benW3ART/vibes-sub001/internal/protocol"
)

const testTimeout = 5 * time.Second

type eventLog struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan Event, 256)}
}

func (l *eventLog) emit(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	select {
	case l.ch <- e:
	default:
	}
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// waitFor returns the first event matching match.
func (l *eventLog) waitFor(t *testing.T, match func(Event) bool) Event {
	t.Helper()
	timer := time.NewTimer(testTimeout)
	defer timer.Stop()
	for {
		select {
		case e := <-l.ch:
			if match(e) {
				return e
			}
		case <-timer.C:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func isExit(e Event) bool {
	_, ok := e.(Exit)
	return ok
}

func outputContaining(content string) func(Event) bool {
	return func(e Event) bool {
		out, ok := e.(Output)
		return ok && out.Event.Raw == content
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake agent scripts need /bin/sh")
	}
}

func newScriptManager(t *testing.T, script string, log *eventLog) *Manager {
	t.Helper()
	requireShell(t)
	mgr := NewManager(Options{
		Binary: "/bin/sh",
		Args:   []string{"-c", script},
		Emit:   log.emit,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		mgr.Shutdown(ctx)
	})
	return mgr
}

func TestManager_SpawnInvalidWorkDir(t *testing.T) {
	log := newEventLog()
	mgr := NewManager(Options{Emit: log.emit})

	_, err := mgr.Spawn("/nonexistent/path/xyz")
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	events := log.all()
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	failure, ok := events[0].(Failure)
	if !ok || failure.Session.State != StateError {
		t.Errorf("expected Failure in error state, got %+v", events[0])
	}
	if len(mgr.List()) != 0 {
		t.Error("failed spawn must not leave a session")
	}
}

func TestManager_SpawnWorkDirIsFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "test")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	mgr := NewManager(Options{})
	if _, err := mgr.Spawn(f.Name()); !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn for file path, got %v", err)
	}
}

func TestManager_SpawnMissingBinary(t *testing.T) {
	log := newEventLog()
	mgr := NewManager(Options{Binary: "/nonexistent/agent-binary", Emit: log.emit})

	if _, err := mgr.Spawn(t.TempDir()); !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	if _, ok := log.all()[0].(Failure); !ok {
		t.Error("expected a Failure event")
	}
	if len(mgr.List()) != 0 {
		t.Error("failed spawn must not leave a session")
	}
}

func TestManager_NotFound(t *testing.T) {
	mgr := NewManager(Options{})
	if err := mgr.Send("/nonexistent", "hello"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Send: expected ErrNoSession, got %v", err)
	}
	if err := mgr.Send("", "hello"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Send without path: expected ErrNoSession, got %v", err)
	}
	if _, err := mgr.Get("/nonexistent"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Get: expected ErrNoSession, got %v", err)
	}
	if _, err := mgr.Pause("/nonexistent"); !errors.Is(err, ErrNoSession) {
		t.Errorf("Pause: expected ErrNoSession, got %v", err)
	}
	if mgr.Stop("/nonexistent") {
		t.Error("Stop on unknown session should report false")
	}
	if len(mgr.List()) != 0 {
		t.Error("expected empty list")
	}
}

func TestManager_SendOutputExit(t *testing.T) {
	log := newEventLog()
	mgr := newScriptManager(t, `read line; echo "got $line"; exit 0`, log)
	dir := t.TempDir()

	sess, err := mgr.Spawn(dir)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if sess.State != StateRunning || sess.PID == 0 {
		t.Fatalf("unexpected session %+v", sess)
	}
	if err := mgr.Send(dir, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	exit := log.waitFor(t, isExit).(Exit)
	if exit.ExitCode != 0 || exit.Session.State != StateStopped {
		t.Errorf("unexpected exit %+v", exit)
	}

	var outputs []Output
	var lastSeq uint64
	for _, e := range log.all() {
		var tok protocol.StreamToken
		switch ev := e.(type) {
		case Output:
			outputs = append(outputs, ev)
			tok = ev.Stream
		case Status:
			tok = ev.Stream
		case Exit:
			tok = ev.Stream
		}
		if tok.ID != sess.ID || tok.Seq <= lastSeq {
			t.Fatalf("stream token out of order: %+v after %d", tok, lastSeq)
		}
		lastSeq = tok.Seq
	}
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output event, got %d", len(outputs))
	}
	if outputs[0].Event.Type != protocol.EventOutput || outputs[0].Event.Content != "got hello" {
		t.Errorf("unexpected output %+v", outputs[0].Event)
	}

	if len(mgr.List()) != 0 {
		t.Error("exited session should be removed")
	}
	history, err := mgr.History(dir, 0)
	if err != nil || len(history) != 1 {
		t.Errorf("History = %v, %v", history, err)
	}
}

func TestManager_SpawnTwice(t *testing.T) {
	log := newEventLog()
	mgr := newScriptManager(t, `read line`, log)
	dir := t.TempDir()

	if _, err := mgr.Spawn(dir); err != nil {
		t.Fatalf("first Spawn: %v", err)
	}
	if _, err := mgr.Spawn(dir); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("second Spawn: expected ErrDuplicateSession, got %v", err)
	}
	if n := len(mgr.List()); n != 1 {
		t.Fatalf("expected 1 session, got %d", n)
	}

	if !mgr.Stop(dir) {
		t.Fatal("Stop should initiate termination")
	}
	log.waitFor(t, isExit)

	if _, err := mgr.Spawn(dir); err != nil {
		t.Fatalf("Spawn after exit: %v", err)
	}
}

func TestManager_StopIdempotent(t *testing.T) {
	log := newEventLog()
	mgr := newScriptManager(t, `sleep 30`, log)
	dir := t.TempDir()

	if _, err := mgr.Spawn(dir); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !mgr.Stop(dir) {
		t.Fatal("first Stop should report true")
	}
	if mgr.Stop(dir) {
		t.Error("second Stop should report false")
	}

	exit := log.waitFor(t, isExit).(Exit)
	if exit.Session.State != StateStopped {
		t.Errorf("expected Stopped after requested stop, got %s", exit.Session.State)
	}
	if mgr.Stop(dir) {
		t.Error("Stop after exit should report false")
	}

	time.Sleep(100 * time.Millisecond)
	exits := 0
	for _, e := range log.all() {
		if isExit(e) {
			exits++
		}
	}
	if exits != 1 {
		t.Errorf("expected exactly one Exit event, got %d", exits)
	}
}

func TestManager_StopEscalatesToKill(t *testing.T) {
	requireShell(t)
	log := newEventLog()
	clk := clock.Fake(time.Now())
	mgr := NewManager(Options{
		Binary:      "/bin/sh",
		Args:        []string{"-c", `trap '' TERM; echo ready; sleep 30`},
		GracePeriod: 10 * time.Second,
		Clock:       clk,
		Emit:        log.emit,
	})
	dir := t.TempDir()

	if _, err := mgr.Spawn(dir); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	log.waitFor(t, outputContaining("ready"))

	if !mgr.Stop(dir) {
		t.Fatal("Stop should report true")
	}

	quiet := time.After(300 * time.Millisecond)
wait:
	for {
		select {
		case e := <-log.ch:
			if isExit(e) {
				t.Fatal("process ignoring SIGTERM exited before the grace period")
			}
		case <-quiet:
			break wait
		}
	}

	clk.Advance(10 * time.Second)
	exit := log.waitFor(t, isExit).(Exit)
	if exit.Session.State != StateStopped {
		t.Errorf("expected Stopped, got %s", exit.Session.State)
	}
}

func TestManager_UnexpectedExit(t *testing.T) {
	log := newEventLog()
	mgr := newScriptManager(t, `exit 3`, log)

	if _, err := mgr.Spawn(t.TempDir()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	exit := log.waitFor(t, isExit).(Exit)
	if exit.ExitCode != 3 || exit.Session.State != StateError {
		t.Errorf("expected code 3 in error state, got %+v", exit)
	}
}

func TestManager_PauseRejectsSend(t *testing.T) {
	log := newEventLog()
	mgr := newScriptManager(t, `read line; echo "got $line"`, log)
	dir := t.TempDir()

	if _, err := mgr.Spawn(dir); err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	sess, err := mgr.Pause(dir)
	if err != nil || sess.State != StatePaused {
		t.Fatalf("Pause = %+v, %v", sess, err)
	}
	if _, err := mgr.Pause(dir); err != nil {
		t.Errorf("second Pause: %v", err)
	}
	if err := mgr.Send(dir, "ignored"); !errors.Is(err, ErrNotAccepting) {
		t.Fatalf("Send while paused: expected ErrNotAccepting, got %v", err)
	}

	if sess, err := mgr.Resume(dir); err != nil || sess.State != StateRunning {
		t.Fatalf("Resume = %+v, %v", sess, err)
	}
	if err := mgr.Send(dir, "hi"); err != nil {
		t.Fatalf("Send after resume: %v", err)
	}
	log.waitFor(t, outputContaining("got hi"))
}

func TestManager_StderrBecomesErrorEvent(t *testing.T) {
	log := newEventLog()
	mgr := newScriptManager(t, `echo oops 1>&2`, log)

	if _, err := mgr.Spawn(t.TempDir()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	out := log.waitFor(t, outputContaining("oops")).(Output)
	if out.Event.Type != protocol.EventError || out.Event.Message != "oops" {
		t.Errorf("unexpected stderr event %+v", out.Event)
	}
}

func TestManager_EmptyPathSelectsLatest(t *testing.T) {
	log := newEventLog()
	mgr := newScriptManager(t, `read line; echo "got $line"`, log)
	first, second := t.TempDir(), t.TempDir()

	if _, err := mgr.Spawn(first); err != nil {
		t.Fatalf("Spawn first: %v", err)
	}
	latest, err := mgr.Spawn(second)
	if err != nil {
		t.Fatalf("Spawn second: %v", err)
	}

	if err := mgr.Send("", "x"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	out := log.waitFor(t, outputContaining("got x")).(Output)
	if out.Session.ID != latest.ID {
		t.Errorf("command went to %s, want latest session %s", out.Session.ID, latest.ID)
	}
}

func TestManager_Shutdown(t *testing.T) {
	log := newEventLog()
	mgr := newScriptManager(t, `sleep 30`, log)

	for i := 0; i < 2; i++ {
		if _, err := mgr.Spawn(t.TempDir()); err != nil {
			t.Fatalf("Spawn: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if len(mgr.List()) != 0 {
		t.Error("expected no sessions after shutdown")
	}
	if _, err := mgr.Spawn(t.TempDir()); !errors.Is(err, ErrClosed) {
		t.Errorf("Spawn after shutdown: expected ErrClosed, got %v", err)
	}
}

func TestManager_LongLineDoesNotStopOutput(t *testing.T) {
	log := newEventLog()
	mgr := newScriptManager(t, `head -c 1100000 /dev/zero | tr '\0' a; echo; echo after-long-line`, log)

	if _, err := mgr.Spawn(t.TempDir()); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	log.waitFor(t, outputContaining("after-long-line"))

	total := 0
	for _, e := range log.all() {
		out, ok := e.(Output)
		if !ok || out.Event.Raw == "after-long-line" {
			continue
		}
		if len(out.Event.Content) > maxLineSize {
			t.Errorf("event of %d bytes exceeds the line limit", len(out.Event.Content))
		}
		if strings.Trim(out.Event.Content, "a") != "" {
			t.Errorf("unexpected content %.40q", out.Event.Content)
		}
		total += len(out.Event.Content)
	}
	if total != 1100000 {
		t.Errorf("long line delivered %d bytes, want 1100000", total)
	}
}

func TestManager_UnterminatedOutputIsFlushed(t *testing.T) {
	log := newEventLog()
	mgr := newScriptManager(t, `printf 'partial answer'; read line; echo "got $line"`, log)
	dir := t.TempDir()

	if _, err := mgr.Spawn(dir); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	out := log.waitFor(t, func(e Event) bool {
		if isExit(e) {
			t.Fatal("exit arrived before the unterminated output")
		}
		return outputContaining("partial answer")(e)
	}).(Output)
	if out.Event.Type != protocol.EventOutput {
		t.Errorf("partial text type = %s, want output", out.Event.Type)
	}

	if err := mgr.Send(dir, "more"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	log.waitFor(t, outputContaining("got more"))
}

func TestManager_StopRacingSend(t *testing.T) {
	for i := 0; i < 20; i++ {
		log := newEventLog()
		mgr := newScriptManager(t, `while read line; do echo "got $line"; done`, log)
		dir := t.TempDir()
		if _, err := mgr.Spawn(dir); err != nil {
			t.Fatalf("Spawn: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				err := mgr.Send(dir, "ping")
				if err != nil && !errors.Is(err, ErrNotAccepting) && !errors.Is(err, ErrNoSession) {
					t.Errorf("Send: unexpected error %v", err)
					return
				}
			}
		}()
		go func() {
			defer wg.Done()
			mgr.Stop(dir)
		}()
		wg.Wait()

		exit := log.waitFor(t, isExit).(Exit)
		if exit.Session.State != StateStopped {
			t.Errorf("iteration %d: exit state = %s, want stopped", i, exit.Session.State)
		}
		exits := 0
		for _, e := range log.all() {
			if isExit(e) {
				exits++
			}
		}
		if exits != 1 {
			t.Errorf("iteration %d: %d exit events, want 1", i, exits)
		}
	}
}

func TestManager_StopDuringSpawn(t *testing.T) {
	log := newEventLog()
	mgr := newScriptManager(t, `read line`, log)
	dir := t.TempDir()

	// Stop lands after the session is registered but before the process
	// has started.
	var stopped bool
	mgr.startCmd = func(cmd *exec.Cmd) error {
		stopped = mgr.Stop(dir)
		return cmd.Start()
	}

	sess, err := mgr.Spawn(dir)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !stopped {
		t.Fatal("Stop during spawn was not accepted")
	}
	if sess.State != StateStopping {
		t.Errorf("Spawn returned state %s, want stopping", sess.State)
	}

	exit := log.waitFor(t, isExit).(Exit)
	if exit.Session.State != StateStopped {
		t.Errorf("exit state = %s, want stopped", exit.Session.State)
	}
	for _, e := range log.all() {
		if st, ok := e.(Status); ok && st.Session.State == StateRunning {
			t.Error("a session stopped during spawn must never report running")
		}
	}
}
