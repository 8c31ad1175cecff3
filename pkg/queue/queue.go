// Package queue provides the bounded drop-oldest queues used between the
// interrupt-facing producers and the orchestrator goroutines.
package queue

import "sync"

// Ring is a fixed-capacity FIFO that never blocks its producer: when full,
// Push evicts the oldest element and inserts the new one in a single step,
// so the queue is never observably empty during the exchange.
type Ring[T any] struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond

	buf    []T
	head   int
	length int
	closed bool
}

// New creates a ring with the given capacity. Capacities below 1 are
// treated as 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	r := &Ring[T]{buf: make([]T, capacity)}
	r.nonEmpty = sync.NewCond(&r.mu)
	return r
}

// Push inserts v, evicting the oldest element first if the ring is full.
// It reports whether an element was evicted. Pushing to a closed ring is a
// no-op that reports false.
func (r *Ring[T]) Push(v T) (evicted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if r.length == len(r.buf) {
		// Evict-then-insert as one atomic step.
		r.head = (r.head + 1) % len(r.buf)
		r.length--
		evicted = true
	}
	r.buf[(r.head+r.length)%len(r.buf)] = v
	r.length++
	r.nonEmpty.Signal()
	return evicted
}

// TryPop removes and returns the oldest element without blocking.
func (r *Ring[T]) TryPop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.popLocked()
}

// Pop removes and returns the oldest element, blocking until one is
// available or the ring is closed. The second return value is false only
// when the ring has been closed and drained.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.length == 0 && !r.closed {
		r.nonEmpty.Wait()
	}
	return r.popLocked()
}

func (r *Ring[T]) popLocked() (T, bool) {
	var zero T
	if r.length == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.length--
	return v, true
}

// Len returns the number of queued elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Close releases all blocked Pop calls. Queued elements remain readable
// until drained.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.nonEmpty.Broadcast()
}
