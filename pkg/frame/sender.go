package frame

import (
	"errors"
	"sync"
	"time"
)

// StreamMode selects the outbound record encoding.
type StreamMode uint8

const (
	// StreamBinary emits checksummed binary frames.
	StreamBinary StreamMode = 0
	// StreamCSV emits CRLF-terminated CSV records.
	StreamCSV StreamMode = 1
)

// Transport is the byte-oriented link the codec writes frames and command
// responses to. WriteAvailable exposes outbound buffer headroom so the
// sender can implement bounded-retry flow control; ReadPending drains any
// inbound bytes without blocking.
type Transport interface {
	Connected() bool
	WriteAvailable() int
	Write(p []byte) (int, error)
	Flush() error
	ReadPending() []byte
}

// Sender errors. Both degrade to a dropped frame, counted by the caller.
var (
	ErrNotConnected = errors.New("frame: transport not connected")
	ErrBackpressure = errors.New("frame: transport write capacity exhausted")
)

const (
	capacityPollTimeout = 100 * time.Millisecond
	capacityPollStep    = time.Millisecond
	connectWaitTimeout  = 2 * time.Second
	connectPollStep     = 5 * time.Millisecond
)

// Sender serializes frames and response lines onto a Transport, blocking
// against backpressure for at most 100 ms per write.
type Sender struct {
	mu   sync.Mutex
	tr   Transport
	mode StreamMode
}

// NewSender creates a sender in the given stream mode.
func NewSender(tr Transport, mode StreamMode) *Sender {
	return &Sender{tr: tr, mode: mode}
}

// SetMode switches the outbound encoding.
func (s *Sender) SetMode(mode StreamMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Mode returns the current outbound encoding.
func (s *Sender) Mode() StreamMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ensureCapacity polls the transport for outbound headroom, giving up after
// the flow-control timeout or when the link drops.
func (s *Sender) ensureCapacity(needed int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for s.tr.Connected() {
		if s.tr.WriteAvailable() >= needed {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(capacityPollStep)
	}
	return false
}

// waitReady waits briefly for the transport to come up, mirroring the
// initial enumeration delay of a freshly opened link.
func (s *Sender) waitReady() bool {
	deadline := time.Now().Add(connectWaitTimeout)
	for !s.tr.Connected() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(connectPollStep)
	}
	return true
}

// SendFrame emits one frame in the current stream mode. On backpressure or
// a dead link the frame is not written and the caller drops it.
func (s *Sender) SendFrame(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.waitReady() {
		return ErrNotConnected
	}

	var out []byte
	if s.mode == StreamBinary {
		out = f.EncodeBinary()
	} else {
		out = []byte(f.EncodeCSV())
	}
	return s.writeLocked(out)
}

// WriteLine emits one command-response line verbatim.
func (s *Sender) WriteLine(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked([]byte(text))
}

func (s *Sender) writeLocked(out []byte) error {
	if !s.ensureCapacity(len(out), capacityPollTimeout) {
		return ErrBackpressure
	}
	if _, err := s.tr.Write(out); err != nil {
		return err
	}
	return s.tr.Flush()
}
