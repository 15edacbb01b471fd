package session

import (
	"sort"
	"sync"
)

// RingBuffer keeps the most recent Output events of one project, oldest
// first. Events are written in stream order, so Seq grows along the ring.
type RingBuffer struct {
	mu    sync.RWMutex
	slots []Output
	head  int // index of the oldest event
	count int
}

// NewRingBuffer creates a ring buffer holding at most capacity events.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{slots: make([]Output, max(capacity, 1))}
}

// Write appends an event, evicting the oldest once the ring is full.
func (rb *RingBuffer) Write(event Output) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := len(rb.slots)
	if rb.count < size {
		rb.slots[(rb.head+rb.count)%size] = event
		rb.count++
		return
	}
	rb.slots[rb.head] = event
	rb.head = (rb.head + 1) % size
}

// Len reports the number of buffered events.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// ReadAll returns a copy of every buffered event, oldest first.
func (rb *RingBuffer) ReadAll() []Output {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.copyFrom(0)
}

// Since returns the buffered events with a sequence number above seq.
func (rb *RingBuffer) Since(seq uint64) []Output {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	first := sort.Search(rb.count, func(i int) bool { return rb.at(i).Stream.Seq > seq })
	return rb.copyFrom(first)
}

func (rb *RingBuffer) at(i int) Output {
	return rb.slots[(rb.head+i)%len(rb.slots)]
}

func (rb *RingBuffer) copyFrom(first int) []Output {
	result := make([]Output, 0, rb.count-first)
	for i := first; i < rb.count; i++ {
		result = append(result, rb.at(i))
	}
	return result
}
