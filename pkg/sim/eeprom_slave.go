package sim

import (
	"sync"

	"github.com/terpsio/terps/pkg/unio"
)

// EEPROMSlave is a behavioral model of a single-wire EEPROM attached to a
// unio bus line. It decodes the master's drive/release call pattern into
// Manchester bits, runs the slave side of the read protocol and answers
// through Sample. Timing is irrelevant: the bus must be built with a no-op
// delay for the slave to be meaningful.
type EEPROMSlave struct {
	// DeviceAddr is the 8-bit device address the slave answers to.
	DeviceAddr uint8
	// Image is the memory content; reads wrap at its length.
	Image []byte
	// BadAck makes the slave answer byte acknowledgements with the wrong
	// polarity, which the master reports as an I/O error.
	BadAck bool

	mu sync.Mutex

	levels []bool
	out    []bool

	phase     slavePhase
	addrHigh  uint8
	readIndex int

	sampleCount int
	driving     bool
	curBit      bool
}

var _ unio.Line = (*EEPROMSlave)(nil)

type slavePhase int

const (
	phaseAwaitHeader slavePhase = iota
	phaseDeviceAddr
	phaseSAKAddr
	phaseCommand
	phaseSAKCmd
	phaseAddrHigh
	phaseSAKHigh
	phaseAddrLow
	phaseSAKLow
	phaseData
)

// DriveHigh records a high half-bit from the master.
func (s *EEPROMSlave) DriveHigh() { s.drive(true) }

// DriveLow records a low half-bit from the master.
func (s *EEPROMSlave) DriveLow() { s.drive(false) }

func (s *EEPROMSlave) drive(level bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels = append(s.levels, level)
	s.sampleCount = 0
}

// Release ends the master's drive sequence; the accumulated half-bit
// levels are decoded into protocol input.
func (s *EEPROMSlave) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
	s.sampleCount = 0
}

// Sample returns the line level during a master read slot. The slave pops
// one queued bit per slot and presents it as a half-bit pair; with nothing
// queued the pulled-up line idles high.
func (s *EEPROMSlave) Sample() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.sampleCount {
	case 0:
		if len(s.out) > 0 {
			s.curBit = s.out[0]
			s.out = s.out[1:]
			s.driving = true
		} else {
			s.driving = false
		}
		s.sampleCount = 1
		if s.driving {
			return s.curBit
		}
		return true
	case 1:
		s.sampleCount = 2
		if s.driving {
			return !s.curBit
		}
		return true
	default:
		return true
	}
}

// flushLocked turns the recorded drive levels into bits. A lone leading
// level is the header low pulse and carries no bit value. Sixteen levels
// form a byte, two form a standalone acknowledge bit.
func (s *EEPROMSlave) flushLocked() {
	levels := s.levels
	s.levels = nil
	if len(levels) == 0 {
		return
	}
	if len(levels)%2 == 1 {
		levels = levels[1:]
	}

	bits := make([]bool, 0, len(levels)/2)
	for i := 0; i+1 < len(levels); i += 2 {
		bits = append(bits, levels[i])
	}

	switch len(bits) {
	case 8:
		var v uint8
		for _, b := range bits {
			v <<= 1
			if b {
				v |= 1
			}
		}
		s.byteReceived(v)
	case 1:
		s.bitReceived(bits[0])
	default:
		s.phase = phaseAwaitHeader
	}
}

func (s *EEPROMSlave) byteReceived(v uint8) {
	switch s.phase {
	case phaseAwaitHeader:
		if v == 0x55 {
			s.phase = phaseDeviceAddr
		}
	case phaseDeviceAddr:
		if v == s.DeviceAddr {
			s.pushAck()
			s.phase = phaseSAKAddr
		} else {
			s.phase = phaseAwaitHeader
		}
	case phaseCommand:
		if v == 0x03 {
			s.pushAck()
			s.phase = phaseSAKCmd
		} else {
			s.phase = phaseAwaitHeader
		}
	case phaseAddrHigh:
		s.addrHigh = v
		s.pushAck()
		s.phase = phaseSAKHigh
	case phaseAddrLow:
		s.readIndex = int(s.addrHigh)<<8 | int(v)
		s.pushAck()
		s.phase = phaseSAKLow
	default:
		s.phase = phaseAwaitHeader
	}
}

func (s *EEPROMSlave) bitReceived(b bool) {
	switch s.phase {
	case phaseSAKAddr:
		s.phase = phaseCommand
	case phaseSAKCmd:
		s.phase = phaseAddrHigh
	case phaseSAKHigh:
		s.phase = phaseAddrLow
	case phaseSAKLow:
		s.phase = phaseData
		s.pushDataByte()
	case phaseData:
		// Master acknowledge: request more data or end the transfer.
		s.out = append(s.out, false)
		if b {
			s.readIndex++
			s.pushDataByte()
		} else {
			s.phase = phaseAwaitHeader
		}
	default:
		s.phase = phaseAwaitHeader
	}
}

// pushAck queues the slave acknowledge bit for the byte just received.
func (s *EEPROMSlave) pushAck() {
	s.out = append(s.out, !s.BadAck)
}

func (s *EEPROMSlave) pushDataByte() {
	if len(s.Image) == 0 {
		return
	}
	v := s.Image[s.readIndex%len(s.Image)]
	for bit := 7; bit >= 0; bit-- {
		s.out = append(s.out, v&(1<<bit) != 0)
	}
}
