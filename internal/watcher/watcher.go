package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/benW3ART/vibes-sub001/internal/clock"
	"github.com/benW3ART/vibes-sub001/internal/protocol"
)

const defaultDebounce = 100 * time.Millisecond

var (
	// ErrAlreadyWatching is returned when a root is watched twice.
	ErrAlreadyWatching = errors.New("already watching")
	// ErrNotWatching is returned by Unwatch for an unknown root.
	ErrNotWatching = errors.New("not watching")
	// ErrSetup wraps native watch setup failures.
	ErrSetup = errors.New("watch setup failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("watcher closed")
)

// DefaultExcludedDirs are never registered with the native watcher.
var DefaultExcludedDirs = []string{"node_modules", ".git", "vendor"}

// Event is emitted by the Watcher. It is either Changed or Failed.
type Event interface {
	isEvent()
}

// Changed is the settled notification for one path after its quiet
// period.
type Changed struct {
	Root      string
	Path      string
	Type      protocol.FileChangeType
	Timestamp time.Time
}

// Failed reports a setup or runtime error of the native watch on Root.
type Failed struct {
	Root string
	Err  error
	// Setup is set when the watch could not be established.
	Setup bool
}

func (Changed) isEvent() {}
func (Failed) isEvent()  {}

// source is the native recursive-watch primitive.
type source interface {
	Add(path string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifySource struct {
	w *fsnotify.Watcher
}

func newFsnotifySource() (source, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return fsnotifySource{w: w}, nil
}

func (s fsnotifySource) Add(path string) error         { return s.w.Add(path) }
func (s fsnotifySource) Close() error                  { return s.w.Close() }
func (s fsnotifySource) Events() <-chan fsnotify.Event { return s.w.Events }
func (s fsnotifySource) Errors() <-chan error          { return s.w.Errors }

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period per path. Zero means 100ms.
	Debounce time.Duration
	// ExcludedDirs are directory names skipped while registering
	// subdirectories. Nil means DefaultExcludedDirs.
	ExcludedDirs []string
	Clock        clock.Clock
	Logger       *slog.Logger
	// Emit receives every event. It runs with internal locks held and
	// must not call back into the Watcher.
	Emit func(Event)
}

// Watcher coalesces native file notifications under watched roots into
// one Changed event per path and quiet period.
type Watcher struct {
	mu      sync.Mutex
	handles map[string]*watchHandle
	closed  bool

	debounce  time.Duration
	excluded  map[string]bool
	clock     clock.Clock
	logger    *slog.Logger
	emit      func(Event)
	newSource func() (source, error)
}

type keyState int

const (
	keyIdle keyState = iota
	keyPending
	keyFired
)

// pendingChange is the debounce state of one path:
// Idle -> Pending(deadline) -> Fired.
type pendingChange struct {
	state    keyState
	kind     protocol.FileChangeType
	deadline time.Time
	timer    *clock.Timer
}

type watchHandle struct {
	root string
	src  source
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	pending map[string]*pendingChange
}

// New creates a Watcher.
func New(opts Options) *Watcher {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	excludedDirs := opts.ExcludedDirs
	if excludedDirs == nil {
		excludedDirs = DefaultExcludedDirs
	}
	excluded := make(map[string]bool, len(excludedDirs))
	for _, name := range excludedDirs {
		excluded[name] = true
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
	return &Watcher{
		handles:   make(map[string]*watchHandle),
		debounce:  debounce,
		excluded:  excluded,
		clock:     clk,
		logger:    logger,
		emit:      emit,
		newSource: newFsnotifySource,
	}
}

// Watch starts a recursive watch on dir. A second call for the same
// directory fails with ErrAlreadyWatching. Setup failures are also
// emitted as a Failed event and are not retried.
func (w *Watcher) Watch(dir string) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSetup, err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if _, ok := w.handles[root]; ok {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyWatching, root)
	}

	h, err := w.setup(root)
	if err != nil {
		w.mu.Unlock()
		w.logger.Warn("watch setup failed", "root", root, "error", err)
		w.emit(Failed{Root: root, Err: err, Setup: true})
		return fmt.Errorf("%w: %v", ErrSetup, err)
	}
	w.handles[root] = h
	w.mu.Unlock()

	h.wg.Add(1)
	go w.loop(h)

	w.logger.Debug("watching", "root", root)
	return nil
}

func (w *Watcher) setup(root string) (*watchHandle, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}

	src, err := w.newSource()
	if err != nil {
		return nil, err
	}
	if err := src.Add(root); err != nil {
		src.Close()
		return nil, err
	}
	w.addSubdirs(src, root)

	return &watchHandle{
		root:    root,
		src:     src,
		done:    make(chan struct{}),
		pending: make(map[string]*pendingChange),
	}, nil
}

// addSubdirs registers every non-excluded directory below dir. Failures
// below the root are logged and skipped.
func (w *Watcher) addSubdirs(src source, dir string) {
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == dir {
			return nil
		}
		if w.skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := src.Add(path); err != nil {
			w.logger.Debug("skip directory", "path", path, "error", err)
			return filepath.SkipDir
		}
		return nil
	})
}

func (w *Watcher) skipDir(name string) bool {
	if w.excluded[name] {
		return true
	}
	return isHidden(name) && name != ".claude"
}

// loop forwards native notifications until the handle is stopped.
func (w *Watcher) loop(h *watchHandle) {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case event, ok := <-h.src.Events():
			if !ok {
				return
			}
			w.handleEvent(h, event)

		case err, ok := <-h.src.Errors():
			if !ok {
				return
			}
			h.mu.Lock()
			if !h.stopped {
				w.emit(Failed{Root: h.root, Err: err})
			}
			h.mu.Unlock()
		}
	}
}

// handleEvent moves the path of a raw notification into Pending, or
// pushes its deadline out if it is already pending.
func (w *Watcher) handleEvent(h *watchHandle, event fsnotify.Event) {
	if event.Name == "" {
		return
	}
	path := event.Name
	if !filepath.IsAbs(path) {
		path = filepath.Join(h.root, path)
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() && !w.skipDir(info.Name()) {
			if err := h.src.Add(path); err == nil {
				w.addSubdirs(h.src, path)
			}
		}
	}

	kind := protocol.FileChanged
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		kind = protocol.FileAdded
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}

	pc, ok := h.pending[path]
	if !ok {
		pc = &pendingChange{state: keyIdle}
		h.pending[path] = pc
	}
	pc.kind = kind
	pc.deadline = w.clock.Now().Add(w.debounce)

	switch pc.state {
	case keyIdle:
		pc.timer = w.clock.AfterFunc(w.debounce, func() { w.fire(h, path, pc) })
	default:
		pc.timer.Reset(w.debounce)
	}
	pc.state = keyPending
}

// fire emits the settled change for path unless its deadline was pushed
// out after the timer had already been scheduled to run.
func (w *Watcher) fire(h *watchHandle, path string, pc *pendingChange) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped || pc.state != keyPending || h.pending[path] != pc {
		return
	}
	now := w.clock.Now()
	if now.Before(pc.deadline) {
		return
	}

	pc.state = keyFired
	delete(h.pending, path)
	w.emit(Changed{Root: h.root, Path: path, Type: pc.kind, Timestamp: now})
}

// stop cancels every pending timer before releasing the native handle.
func (h *watchHandle) stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	for path, pc := range h.pending {
		pc.timer.Stop()
		delete(h.pending, path)
	}
	h.mu.Unlock()

	close(h.done)
	h.src.Close()
	h.wg.Wait()
}

// Unwatch stops the watch on dir and drops its pending changes.
func (w *Watcher) Unwatch(dir string) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	w.mu.Lock()
	h, ok := w.handles[root]
	if ok {
		delete(w.handles, root)
	}
	w.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotWatching, root)
	}
	h.stop()
	w.logger.Debug("unwatched", "root", root)
	return nil
}

// UnwatchAll stops every watch. It is safe to call repeatedly.
func (w *Watcher) UnwatchAll() {
	w.mu.Lock()
	handles := make([]*watchHandle, 0, len(w.handles))
	for root, h := range w.handles {
		handles = append(handles, h)
		delete(w.handles, root)
	}
	w.mu.Unlock()

	for _, h := range handles {
		h.stop()
	}
}

// Close stops every watch and rejects later Watch calls.
func (w *Watcher) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.UnwatchAll()
}

// Watching reports whether dir is currently watched.
func (w *Watcher) Watching(dir string) bool {
	root, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.handles[root]
	return ok
}

// Roots returns the watched directories.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	roots := make([]string, 0, len(w.handles))
	for root := range w.handles {
		roots = append(roots, root)
	}
	return roots
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
