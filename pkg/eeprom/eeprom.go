// Package eeprom reads the calibration EEPROM reached over the single-wire
// bus. Read-only: the device holds factory coefficients.
package eeprom

import (
	"errors"
	"fmt"

	"github.com/terpsio/terps/pkg/unio"
)

// BufferSize is the fixed capacity of one read request, matching the
// device's 512-byte address space.
const BufferSize = 512

var (
	// ErrNoDevice means the bus discovery sweep found no EEPROM.
	ErrNoDevice = errors.New("eeprom: no device")
	// ErrIO means the handshake failed mid-transaction.
	ErrIO = errors.New("eeprom: bus I/O error")
)

// Block is the result of one read: the resolved device address and the raw
// bytes. The backing buffer is reused by the next read.
type Block struct {
	DeviceAddr uint8
	StartAddr  uint16
	Data       []byte
}

// Reader is a thin policy layer over the bus driver: it clamps requests to
// the buffer capacity and records what the last successful read resolved.
type Reader struct {
	bus *unio.Bus
	buf [BufferSize]byte
}

// NewReader creates a reader over an initialized bus.
func NewReader(bus *unio.Bus) *Reader {
	return &Reader{bus: bus}
}

// Read fetches length bytes starting at addr. length is clamped to the
// buffer capacity; no retry happens beyond the bus driver's own address
// sweep.
func (r *Reader) Read(addr uint16, length int) (Block, error) {
	if length <= 0 {
		return Block{}, fmt.Errorf("%w: zero-length read", ErrIO)
	}
	if length > BufferSize {
		length = BufferSize
	}

	if err := r.bus.Read(addr, r.buf[:length]); err != nil {
		if errors.Is(err, unio.ErrNoDevice) {
			return Block{}, ErrNoDevice
		}
		return Block{}, ErrIO
	}
	return Block{
		DeviceAddr: r.bus.LastDeviceAddress(),
		StartAddr:  addr,
		Data:       r.buf[:length],
	}, nil
}
