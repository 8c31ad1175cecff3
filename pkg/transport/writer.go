package transport

import (
	"io"
	"sync"
)

// Writer adapts a plain io.Writer (typically stdout) into a transport.
// There is no inbound direction and no meaningful backpressure.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Connected always reports true.
func (t *Writer) Connected() bool { return true }

// WriteAvailable reports effectively unlimited headroom.
func (t *Writer) WriteAvailable() int { return 1 << 20 }

// Write forwards to the underlying writer.
func (t *Writer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Write(p)
}

// Flush is a no-op.
func (t *Writer) Flush() error { return nil }

// ReadPending always returns nil; there is no inbound direction.
func (t *Writer) ReadPending() []byte { return nil }
