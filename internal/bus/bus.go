// Package bus routes invokes to host handlers and fans host pushes out
// to subscribers. It holds no business state.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/benW3ART/vibes-sub001/internal/protocol"
)

// Handler serves one invoke channel. The returned value becomes the
// Result data.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// Listener receives the payloads pushed on one channel.
type Listener func(ch protocol.Channel, payload json.RawMessage)

// Options configures a Bus.
type Options struct {
	Logger *slog.Logger
	// MapError translates handler errors into *protocol.Error values.
	// Errors it leaves untyped are reported as INTERNAL.
	MapError func(error) error
}

// Bus is the in-process ChannelBus.
type Bus struct {
	mu        sync.RWMutex
	handlers  map[protocol.Channel]Handler
	listeners map[protocol.Channel]map[uint64]Listener
	wildcard  map[uint64]Listener
	nextID    uint64

	logger   *slog.Logger
	mapError func(error) error
}

// New creates an empty Bus.
func New(opts Options) *Bus {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers:  make(map[protocol.Channel]Handler),
		listeners: make(map[protocol.Channel]map[uint64]Listener),
		wildcard:  make(map[uint64]Listener),
		logger:    logger,
		mapError:  opts.MapError,
	}
}

// Handle registers the handler for an invoke channel, replacing any
// previous one.
func (b *Bus) Handle(ch protocol.Channel, h Handler) error {
	spec, ok := protocol.Lookup(ch)
	if !ok || spec.Direction != protocol.Invoke {
		return fmt.Errorf("handle %s: not an invoke channel", ch)
	}
	b.mu.Lock()
	b.handlers[ch] = h
	b.mu.Unlock()
	return nil
}

// Invoke runs the handler of ch. It never panics and never returns a Go
// error: every failure is a failed Result.
func (b *Bus) Invoke(ctx context.Context, ch protocol.Channel, payload json.RawMessage) (result protocol.Result) {
	b.mu.RLock()
	h, ok := b.handlers[ch]
	b.mu.RUnlock()
	if !ok {
		return protocol.Fail(protocol.Errorf(protocol.CodeChannelNotFound, "no handler for channel %s", ch))
	}

	if err := protocol.ValidatePayload(ch, payload); err != nil {
		return protocol.Fail(protocol.Errorf(protocol.CodeInvalidMessage, "%v", err))
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic", "channel", ch, "panic", r, "stack", string(debug.Stack()))
			result = protocol.Fail(protocol.Errorf(protocol.CodeInternal, "handler for %s panicked", ch))
		}
	}()

	data, err := h(ctx, payload)
	if err != nil {
		if b.mapError != nil {
			err = b.mapError(err)
		}
		return protocol.Fail(err)
	}
	return protocol.OK(data)
}

// Subscribe adds l to the listeners of a push channel. The returned
// function removes exactly this listener and may be called repeatedly.
func (b *Bus) Subscribe(ch protocol.Channel, l Listener) (func(), error) {
	spec, ok := protocol.Lookup(ch)
	if !ok || spec.Direction != protocol.Push {
		return nil, protocol.Errorf(protocol.CodeChannelNotFound, "unknown push channel: %s", ch)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	set, ok := b.listeners[ch]
	if !ok {
		set = make(map[uint64]Listener)
		b.listeners[ch] = set
	}
	set[id] = l

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.listeners[ch]; ok {
			delete(set, id)
		}
	}, nil
}

// SubscribeAll adds l to every push channel.
func (b *Bus) SubscribeAll(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.wildcard[id] = l

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.wildcard, id)
	}
}

// Publish marshals payload and delivers it to every listener of ch in
// the caller's goroutine, so pushes from one producer arrive in order.
func (b *Bus) Publish(ch protocol.Channel, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ch, err)
	}

	b.mu.RLock()
	targets := make([]Listener, 0, len(b.listeners[ch])+len(b.wildcard))
	for _, l := range b.listeners[ch] {
		targets = append(targets, l)
	}
	for _, l := range b.wildcard {
		targets = append(targets, l)
	}
	b.mu.RUnlock()

	for _, l := range targets {
		b.deliver(l, ch, data)
	}
	return nil
}

func (b *Bus) deliver(l Listener, ch protocol.Channel, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("listener panic", "channel", ch, "panic", r)
		}
	}()
	l(ch, data)
}

// Channels returns the invoke channels that currently have a handler.
func (b *Bus) Channels() []protocol.Channel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	result := make([]protocol.Channel, 0, len(b.handlers))
	for ch := range b.handlers {
		result = append(result, ch)
	}
	return result
}
