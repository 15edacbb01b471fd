// Package query runs independent one-shot agent requests keyed by a
// correlation id. Cancelling a query suppresses its outcome without
// touching any supervised session.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/benW3ART/vibes-sub001/internal/clock"
)

const defaultMaxConcurrent = 4

var (
	// ErrCancelled is the outcome of a query cancelled before it resolved.
	ErrCancelled = errors.New("query cancelled")
	// ErrDuplicate is returned when the correlation id is already pending.
	ErrDuplicate = errors.New("correlation id already pending")
	// ErrFailed wraps errors reported by the agent.
	ErrFailed = errors.New("query failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("correlator closed")
)

// Request is one query.
type Request struct {
	CorrelationID string
	ProjectPath   string
	Prompt        string
	SystemPrompt  string
	ModelID       string
}

// Response is the answer of a completed query.
type Response struct {
	CorrelationID string `json:"correlationId"`
	Text          string `json:"response"`
}

// Chunk is partial output of a pending query. Seq starts at 1 per query.
type Chunk struct {
	CorrelationID string
	ProjectPath   string
	Seq           uint64
	Text          string
}

// Outcome describes how a query resolved.
type Outcome struct {
	Request   Request
	Response  string
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// Runner performs the work of one query. chunk may be called any number
// of times before Run returns.
type Runner interface {
	Run(ctx context.Context, req Request, chunk func(text string)) (string, error)
}

// Options configures a Correlator.
type Options struct {
	Runner Runner
	// MaxConcurrent bounds the queries doing work at the same time.
	MaxConcurrent int
	// Timeout bounds the work of a single query. Zero disables it.
	Timeout      time.Duration
	DefaultModel string
	Clock        clock.Clock
	Logger       *slog.Logger
	// OnChunk receives partial output of queries that are still pending.
	OnChunk func(Chunk)
	// OnDone is called once per query with its outcome.
	OnDone func(Outcome)
}

// Correlator tracks pending queries.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingQuery
	closed  bool

	runner       Runner
	sem          *semaphore.Weighted
	timeout      time.Duration
	defaultModel string
	clock        clock.Clock
	logger       *slog.Logger
	onChunk      func(Chunk)
	onDone       func(Outcome)

	baseCtx    context.Context
	cancelBase context.CancelFunc
	work       sync.WaitGroup
}

type pendingQuery struct {
	req       Request
	startedAt time.Time
	result    chan outcome

	mu       sync.Mutex
	resolved bool
	seq      uint64
}

type outcome struct {
	text string
	err  error
}

// New creates a Correlator.
func New(opts Options) *Correlator {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	onChunk := opts.OnChunk
	if onChunk == nil {
		onChunk = func(Chunk) {}
	}
	onDone := opts.OnDone
	if onDone == nil {
		onDone = func(Outcome) {}
	}
	runner := opts.Runner
	if runner == nil {
		runner = &CLIRunner{}
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Correlator{
		pending:      make(map[string]*pendingQuery),
		runner:       runner,
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
		timeout:      opts.Timeout,
		defaultModel: opts.DefaultModel,
		clock:        clk,
		logger:       logger,
		onChunk:      onChunk,
		onDone:       onDone,
		baseCtx:      baseCtx,
		cancelBase:   cancel,
	}
}

// Start registers the query and begins its work without waiting for
// the outcome, which is reported through OnDone. The returned id is the
// request's correlation id or a fresh one.
func (c *Correlator) Start(req Request) (string, error) {
	pq, err := c.start(req)
	if err != nil {
		return "", err
	}
	return pq.req.CorrelationID, nil
}

// Query starts a query and waits for its single outcome. If ctx ends
// first the query is cancelled.
func (c *Correlator) Query(ctx context.Context, req Request) (Response, error) {
	pq, err := c.start(req)
	if err != nil {
		return Response{}, err
	}
	id := pq.req.CorrelationID

	var out outcome
	select {
	case out = <-pq.result:
	case <-ctx.Done():
		c.Cancel(id)
		out = <-pq.result
	}
	if out.err != nil {
		return Response{CorrelationID: id}, out.err
	}
	return Response{CorrelationID: id, Text: out.text}, nil
}

func (c *Correlator) start(req Request) (*pendingQuery, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.New().String()
	}
	if req.ModelID == "" {
		req.ModelID = c.defaultModel
	}
	if req.ProjectPath != "" {
		if abs, err := filepath.Abs(req.ProjectPath); err == nil {
			req.ProjectPath = abs
		}
	}

	pq := &pendingQuery{
		req:       req,
		startedAt: c.clock.Now().UTC(),
		result:    make(chan outcome, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, ok := c.pending[req.CorrelationID]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, req.CorrelationID)
	}
	c.pending[req.CorrelationID] = pq
	c.work.Add(1)
	c.mu.Unlock()

	go c.run(pq)

	c.logger.Debug("query started", "correlation", req.CorrelationID, "project", req.ProjectPath)
	return pq, nil
}

func (c *Correlator) run(pq *pendingQuery) {
	defer c.work.Done()

	ctx := c.baseCtx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.resolve(pq, outcome{err: fmt.Errorf("%w: %v", ErrFailed, err)})
		return
	}
	defer c.sem.Release(1)

	if pq.isResolved() {
		// Cancelled while waiting for a slot.
		return
	}

	text, err := c.runner.Run(ctx, pq.req, func(text string) { c.chunk(pq, text) })
	if err != nil && !errors.Is(err, ErrFailed) {
		err = fmt.Errorf("%w: %v", ErrFailed, err)
	}
	c.resolve(pq, outcome{text: text, err: err})
}

func (c *Correlator) chunk(pq *pendingQuery, text string) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.resolved {
		return
	}
	pq.seq++
	c.onChunk(Chunk{
		CorrelationID: pq.req.CorrelationID,
		ProjectPath:   pq.req.ProjectPath,
		Seq:           pq.seq,
		Text:          text,
	})
}

// resolve delivers the first outcome of pq and drops every later one.
func (c *Correlator) resolve(pq *pendingQuery, out outcome) bool {
	pq.mu.Lock()
	if pq.resolved {
		pq.mu.Unlock()
		return false
	}
	pq.resolved = true
	pq.mu.Unlock()

	c.mu.Lock()
	if c.pending[pq.req.CorrelationID] == pq {
		delete(c.pending, pq.req.CorrelationID)
	}
	c.mu.Unlock()

	pq.result <- out
	c.onDone(Outcome{
		Request:   pq.req,
		Response:  out.text,
		Err:       out.err,
		StartedAt: pq.startedAt,
		EndedAt:   c.clock.Now().UTC(),
	})
	return true
}

func (pq *pendingQuery) isResolved() bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.resolved
}

// Cancel resolves a pending query with ErrCancelled. The work keeps
// running but its chunks and answer are discarded. It reports false for
// unknown or already resolved ids.
func (c *Correlator) Cancel(id string) bool {
	c.mu.Lock()
	pq, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	if !c.resolve(pq, outcome{err: ErrCancelled}) {
		return false
	}
	c.logger.Debug("query cancelled", "correlation", id)
	return true
}

// CancelProject cancels every pending query of projectPath and returns
// how many were cancelled.
func (c *Correlator) CancelProject(projectPath string) int {
	if abs, err := filepath.Abs(projectPath); err == nil {
		projectPath = abs
	}

	c.mu.Lock()
	var ids []string
	for id, pq := range c.pending {
		if pq.req.ProjectPath == projectPath {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()

	cancelled := 0
	for _, id := range ids {
		if c.Cancel(id) {
			cancelled++
		}
	}
	return cancelled
}

// Pending returns the ids of unresolved queries.
func (c *Correlator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels every pending query, aborts running work and waits for
// it to return.
func (c *Correlator) Close() {
	c.mu.Lock()
	c.closed = true
	pending := make([]*pendingQuery, 0, len(c.pending))
	for _, pq := range c.pending {
		pending = append(pending, pq)
	}
	c.mu.Unlock()

	for _, pq := range pending {
		c.resolve(pq, outcome{err: ErrCancelled})
	}
	c.cancelBase()
	c.work.Wait()
}
