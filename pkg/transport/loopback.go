package transport

import (
	"fmt"
	"sync"
)

// Loopback is an in-memory transport with a fixed outbound capacity,
// modeling a CDC endpoint whose buffer only frees up when the host reads.
// The simulator and the backpressure tests use it as both ends of the link.
type Loopback struct {
	mu        sync.Mutex
	out       []byte
	in        []byte
	capacity  int
	connected bool
}

// NewLoopback creates a connected loopback with the given outbound
// capacity.
func NewLoopback(capacity int) *Loopback {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Loopback{capacity: capacity, connected: true}
}

// Connected reports the link state.
func (l *Loopback) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// SetConnected toggles the link state.
func (l *Loopback) SetConnected(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = v
}

// WriteAvailable reports the free outbound capacity.
func (l *Loopback) WriteAvailable() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return 0
	}
	return l.capacity - len(l.out)
}

// Write appends to the outbound buffer, up to the free capacity.
func (l *Loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return 0, fmt.Errorf("not connected")
	}
	free := l.capacity - len(l.out)
	if free <= 0 {
		return 0, nil
	}
	n := len(p)
	if n > free {
		n = free
	}
	l.out = append(l.out, p[:n]...)
	return n, nil
}

// Flush is a no-op; the outbound buffer is already visible to the host
// side.
func (l *Loopback) Flush() error {
	return nil
}

// ReadPending returns and clears the device-side inbound bytes.
func (l *Loopback) ReadPending() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.in) == 0 {
		return nil
	}
	out := l.in
	l.in = nil
	return out
}

// TakeOutput drains the outbound buffer, freeing capacity. This is the
// host side of the link reading its end.
func (l *Loopback) TakeOutput() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.out
	l.out = nil
	return out
}

// PushInput delivers host bytes to the device side.
func (l *Loopback) PushInput(p []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.in = append(l.in, p...)
}
