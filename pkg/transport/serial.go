// Package transport provides byte-stream links for the frame codec: a real
// serial port, an in-memory loopback for the simulator and tests, and a
// plain writer for streaming to stdout.
package transport

import (
	"context"
	"fmt"
	"log"
	"sync"

	"go.bug.st/serial"

	"github.com/terpsio/terps/pkg/frame"
)

const (
	// DefaultBaudRate matches the stock CDC-ACM configuration.
	DefaultBaudRate = 115200

	// serialWriteWindow approximates the OS outbound buffer headroom
	// reported while the port is up.
	serialWriteWindow = 4096
)

// Ensure the implementations satisfy the codec's transport contract.
var (
	_ frame.Transport = (*Serial)(nil)
	_ frame.Transport = (*Loopback)(nil)
	_ frame.Transport = (*Writer)(nil)
)

// Serial is a serial-port transport. A background goroutine drains the
// port into an inbound buffer so command reads never block the pump loop.
type Serial struct {
	port string
	baud int

	mu        sync.RWMutex
	conn      serial.Port
	inbound   []byte
	connected bool
	cancel    context.CancelFunc
}

// NewSerial creates a transport for the named port. A zero baud rate
// selects the default.
func NewSerial(port string, baud int) *Serial {
	if baud == 0 {
		baud = DefaultBaudRate
	}
	return &Serial{port: port, baud: baud}
}

// Connect opens the port and starts draining inbound bytes.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return fmt.Errorf("already connected")
	}

	conn, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baud})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel
	s.connected = true
	go s.readLoop(ctx, conn)
	return nil
}

// Close stops the reader and closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.cancel()
	if err := s.conn.Close(); err != nil {
		log.Printf("Error closing serial port: %v", err)
	}
	s.conn = nil
	s.connected = false
	return nil
}

func (s *Serial) readLoop(ctx context.Context, conn serial.Port) {
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("Error reading from serial port: %v", err)
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			return
		}
		if n > 0 {
			s.mu.Lock()
			s.inbound = append(s.inbound, buf[:n]...)
			s.mu.Unlock()
		}
	}
}

// Connected reports whether the port is open.
func (s *Serial) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// WriteAvailable reports outbound headroom.
func (s *Serial) WriteAvailable() int {
	if !s.Connected() {
		return 0
	}
	return serialWriteWindow
}

// Write sends bytes out the port.
func (s *Serial) Write(p []byte) (int, error) {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return 0, fmt.Errorf("not connected")
	}
	return conn.Write(p)
}

// Flush waits for the outbound bytes to leave the port.
func (s *Serial) Flush() error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.Drain()
}

// ReadPending returns and clears whatever inbound bytes have accumulated.
func (s *Serial) ReadPending() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbound) == 0 {
		return nil
	}
	out := s.inbound
	s.inbound = nil
	return out
}
