// Package unio implements the master side of the proprietary single-wire
// EEPROM bus. Unlike open-drain 1-Wire the line is actively driven in both
// directions; bits are Manchester-style level pairs sampled at both halves
// of the bit period, with master/slave acknowledge bits after every byte.
package unio

import (
	"errors"
	"sync"
	"time"
)

// Bus timing and protocol constants. The half-bit period derives from the
// requested bitrate and is clamped so the bit clock stays within the
// device's specified envelope.
const (
	StandbyPulse  = 600 * time.Microsecond
	HeaderLow     = 10 * time.Microsecond
	MinHalfPeriod = 5 * time.Microsecond
	MaxHalfPeriod = 200 * time.Microsecond

	DefaultBitrateBPS = 20000

	startHeader = 0x55
	cmdRead     = 0x03

	// Discovery probes the even device addresses in this fixed range.
	DeviceAddrFirst = 0xA0
	DeviceAddrLast  = 0xAE

	// MaxReadLen bounds one read transaction.
	MaxReadLen = 512
)

var (
	// ErrNoDevice means no device answered within the probed address range.
	ErrNoDevice = errors.New("unio: no device responded")
	// ErrIO means bus contention or a malformed acknowledge mid-handshake.
	ErrIO = errors.New("unio: bus I/O error")
)

// Line is the electrical interface the bus drives. Implementations wrap a
// real GPIO or a simulated slave.
type Line interface {
	DriveHigh()
	DriveLow()
	Release()
	Sample() bool
}

// bitResult is the two-sample decode of one received bit slot.
type bitResult uint8

const (
	bitZero bitResult = iota
	bitOne
	bitIdle  // line pulled high both halves: no device driving
	bitError // line low both halves: contention
)

// Bus is a single-wire master. All transactions serialize on one mutex;
// the delay function is injectable so protocol tests run without real
// timing.
type Bus struct {
	mu sync.Mutex

	line       Line
	halfBit    time.Duration
	bitrateBPS uint32
	delay      func(time.Duration)

	lastDeviceAddr uint8
}

// New creates a bus master with real timing. A zero bitrate selects the
// 20 kHz default.
func New(line Line, bitrateBPS uint32) *Bus {
	return NewWithDelay(line, bitrateBPS, time.Sleep)
}

// NewWithDelay creates a bus master with an explicit delay function.
func NewWithDelay(line Line, bitrateBPS uint32, delay func(time.Duration)) *Bus {
	if bitrateBPS == 0 {
		bitrateBPS = DefaultBitrateBPS
	}
	b := &Bus{
		line:       line,
		bitrateBPS: bitrateBPS,
		halfBit:    halfPeriod(bitrateBPS),
		delay:      delay,
	}
	b.line.Release()
	return b
}

// halfPeriod derives the half-bit delay from the bitrate, clamped to the
// supported envelope.
func halfPeriod(bitrateBPS uint32) time.Duration {
	periodUS := (1000000 + uint64(bitrateBPS)/2) / uint64(bitrateBPS)
	half := time.Duration(periodUS/2) * time.Microsecond
	if half < MinHalfPeriod {
		half = MinHalfPeriod
	}
	if half > MaxHalfPeriod {
		half = MaxHalfPeriod
	}
	return half
}

// Bitrate returns the configured bitrate in bits per second.
func (b *Bus) Bitrate() uint32 {
	return b.bitrateBPS
}

// HalfBitPeriod returns the derived half-bit delay.
func (b *Bus) HalfBitPeriod() time.Duration {
	return b.halfBit
}

// LastDeviceAddress returns the device address resolved by the most recent
// successful read.
func (b *Bus) LastDeviceAddress() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastDeviceAddr
}

func (b *Bus) standbyPulse() {
	b.line.Release()
	b.delay(StandbyPulse)
}

// txBit drives one level for a half period and its complement for the
// next.
func (b *Bus) txBit(bit, releaseAfter bool) {
	if bit {
		b.line.DriveHigh()
		b.delay(b.halfBit)
		b.line.DriveLow()
		b.delay(b.halfBit)
	} else {
		b.line.DriveLow()
		b.delay(b.halfBit)
		b.line.DriveHigh()
		b.delay(b.halfBit)
	}
	if releaseAfter {
		b.line.Release()
	}
}

func (b *Bus) txByte(value uint8) {
	for bit := 7; bit >= 0; bit-- {
		b.txBit((value>>uint(bit))&0x01 != 0, false)
	}
	b.line.Release()
}

// rxBit releases the line and samples it at both halves of the bit period.
func (b *Bus) rxBit() (bool, bitResult) {
	b.line.Release()
	b.delay(b.halfBit)
	first := b.line.Sample()
	b.delay(b.halfBit)
	second := b.line.Sample()

	switch {
	case !first && second:
		return false, bitZero
	case first && !second:
		return true, bitOne
	case first && second:
		return false, bitIdle
	default:
		return false, bitError
	}
}

// awaitSlaveAck expects the device acknowledge bit and answers it with the
// master's SAK.
func (b *Bus) awaitSlaveAck() error {
	_, res := b.rxBit()
	if res == bitIdle {
		return ErrNoDevice
	}
	if res != bitOne {
		return ErrIO
	}
	b.txBit(false, true) // SAK = 0
	return nil
}

// sendMasterAck transmits the master acknowledge carrying the
// more-bytes-requested flag, then checks the device's answer.
func (b *Bus) sendMasterAck(more bool) error {
	b.txBit(more, true)
	value, res := b.rxBit()
	if res == bitIdle {
		return ErrNoDevice
	}
	if res != bitZero || value {
		return ErrIO
	}
	return nil
}

func (b *Bus) rxByte() (uint8, error) {
	var value uint8
	for bit := 7; bit >= 0; bit-- {
		set, res := b.rxBit()
		if res == bitIdle {
			return 0, ErrNoDevice
		}
		if res == bitError {
			return 0, ErrIO
		}
		if set {
			value |= 1 << uint(bit)
		}
	}
	return value, nil
}

func (b *Bus) startHeaderSeq() {
	b.standbyPulse()
	b.line.DriveLow()
	b.delay(HeaderLow)
	b.txByte(startHeader)
}

// executeRead runs one complete read transaction against a single device
// address.
func (b *Bus) executeRead(deviceAddr uint8, addr uint16, buf []byte) error {
	b.startHeaderSeq()

	b.txByte(deviceAddr)
	if err := b.awaitSlaveAck(); err != nil {
		return err
	}

	b.txByte(cmdRead)
	if err := b.awaitSlaveAck(); err != nil {
		return err
	}

	b.txByte(uint8(addr >> 8))
	if err := b.awaitSlaveAck(); err != nil {
		return err
	}

	b.txByte(uint8(addr))
	if err := b.awaitSlaveAck(); err != nil {
		return err
	}

	for i := range buf {
		value, err := b.rxByte()
		if err != nil {
			return err
		}
		buf[i] = value
		if err := b.sendMasterAck(i+1 < len(buf)); err != nil {
			return err
		}
	}

	b.standbyPulse()
	return nil
}

// Read fills buf from the EEPROM starting at addr, probing the device
// address range until one completes the handshake. An idle handshake step
// moves discovery to the next address; a contention error aborts the sweep.
func (b *Bus) Read(addr uint16, buf []byte) error {
	if len(buf) == 0 {
		return ErrIO
	}
	if len(buf) > MaxReadLen {
		buf = buf[:MaxReadLen]
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for dev := uint8(DeviceAddrFirst); dev <= DeviceAddrLast; dev += 2 {
		err := b.executeRead(dev, addr, buf)
		if err == nil {
			b.lastDeviceAddr = dev
			return nil
		}
		b.standbyPulse()
		if errors.Is(err, ErrIO) {
			return ErrIO
		}
	}
	return ErrNoDevice
}
