// Package frame implements the outbound record codec (checksummed binary
// frames or CSV lines) and the inbound newline-terminated command framing.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/terpsio/terps/pkg/counter"
)

// Status flag bits carried on every frame.
const (
	FlagSyncActive   uint8 = 0x01
	FlagADCTimeout   uint8 = 0x02
	FlagPPSLocked    uint8 = 0x04
	FlagADCSaturated uint8 = 0x08
)

// Binary frame layout constants. Field order and widths are fixed; the host
// recognizes this exact byte sequence.
const (
	HeaderByte0 = 0x55
	HeaderByte1 = 0xAA
	PayloadLen  = 19
	// EncodedLen is header(2) + length(1) + payload + crc(2).
	EncodedLen = 3 + PayloadLen + 2
)

// Frame is one fused acquisition record. Immutable once assembled;
// ownership transfers to the transport goroutine through the frame queue.
type Frame struct {
	TsMS        uint32
	FHzX1e4     int32
	TauMS       uint16
	DiodeUV     int32
	ADCGain     uint8
	Flags       uint8
	PpmCorrX1e2 int16
	Mode        counter.Mode

	// Display-precision duplicates, used only by the CSV encoding.
	FHz     float32
	PpmCorr float32
}

// Decode errors.
var (
	ErrShortFrame = errors.New("frame: buffer shorter than encoded frame")
	ErrBadHeader  = errors.New("frame: bad header")
	ErrBadLength  = errors.New("frame: bad payload length")
	ErrBadCRC     = errors.New("frame: CRC mismatch")
)

// CRC16 computes CRC16-CCITT (poly 0x1021, init 0xFFFF, MSB-first) over
// data. The binary frame carries it over the payload bytes only.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func (f *Frame) payload() [PayloadLen]byte {
	var p [PayloadLen]byte
	binary.LittleEndian.PutUint32(p[0:4], f.TsMS)
	binary.LittleEndian.PutUint32(p[4:8], uint32(f.FHzX1e4))
	binary.LittleEndian.PutUint16(p[8:10], f.TauMS)
	binary.LittleEndian.PutUint32(p[10:14], uint32(f.DiodeUV))
	p[14] = f.ADCGain
	p[15] = f.Flags
	binary.LittleEndian.PutUint16(p[16:18], uint16(f.PpmCorrX1e2))
	p[18] = uint8(f.Mode)
	return p
}

// EncodeBinary serializes the frame as
// `55 AA 13 | payload(19, little-endian) | crc16(little-endian)`.
func (f *Frame) EncodeBinary() []byte {
	payload := f.payload()
	out := make([]byte, 0, EncodedLen)
	out = append(out, HeaderByte0, HeaderByte1, PayloadLen)
	out = append(out, payload[:]...)
	crc := CRC16(payload[:])
	out = append(out, byte(crc), byte(crc>>8))
	return out
}

// EncodeCSV serializes the frame as one CRLF-terminated CSV record with
// fixed-point formatting.
func (f *Frame) EncodeCSV() string {
	return fmt.Sprintf("%d,%.4f,%d,%.1f,%d,%d,%.2f,%s\r\n",
		f.TsMS,
		f.FHz,
		f.TauMS,
		float64(f.DiodeUV),
		f.ADCGain,
		f.Flags,
		f.PpmCorr,
		f.Mode)
}

// DecodeBinary parses one encoded frame from buf. The display-precision
// fields are reconstructed from their fixed-point forms.
func DecodeBinary(buf []byte) (Frame, error) {
	var f Frame
	if len(buf) < EncodedLen {
		return f, ErrShortFrame
	}
	if buf[0] != HeaderByte0 || buf[1] != HeaderByte1 {
		return f, ErrBadHeader
	}
	if buf[2] != PayloadLen {
		return f, ErrBadLength
	}
	payload := buf[3 : 3+PayloadLen]
	want := binary.LittleEndian.Uint16(buf[3+PayloadLen : 3+PayloadLen+2])
	if CRC16(payload) != want {
		return f, ErrBadCRC
	}

	f.TsMS = binary.LittleEndian.Uint32(payload[0:4])
	f.FHzX1e4 = int32(binary.LittleEndian.Uint32(payload[4:8]))
	f.TauMS = binary.LittleEndian.Uint16(payload[8:10])
	f.DiodeUV = int32(binary.LittleEndian.Uint32(payload[10:14]))
	f.ADCGain = payload[14]
	f.Flags = payload[15]
	f.PpmCorrX1e2 = int16(binary.LittleEndian.Uint16(payload[16:18]))
	f.Mode = counter.Mode(payload[18])
	f.FHz = float32(f.FHzX1e4) / 1e4
	f.PpmCorr = float32(f.PpmCorrX1e2) / 100
	return f, nil
}
