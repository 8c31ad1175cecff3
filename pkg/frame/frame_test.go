package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terpsio/terps/pkg/counter"
)

func TestCRC16_CheckValue(t *testing.T) {
	// CCITT-FALSE check value for the standard test string.
	assert.Equal(t, uint16(0x29B1), CRC16([]byte("123456789")))
	assert.Equal(t, uint16(0xFFFF), CRC16(nil))
}

func TestEncodeBinary_GoldenFrame(t *testing.T) {
	f := Frame{
		TsMS:        123456,
		FHzX1e4:     300001234,
		TauMS:       100,
		DiodeUV:     600120,
		ADCGain:     16,
		Flags:       FlagSyncActive,
		PpmCorrX1e2: 25,
		Mode:        counter.Recip,
	}

	want := []byte{
		0x55, 0xAA, 0x13,
		0x40, 0xE2, 0x01, 0x00, // ts_ms
		0xD2, 0xA7, 0xE1, 0x11, // f_hz_x1e4
		0x64, 0x00, // tau_ms
		0x38, 0x28, 0x09, 0x00, // v_uV
		0x10,       // adc_gain
		0x01,       // flags
		0x19, 0x00, // ppm_corr_x1e2
		0x01,       // mode
		0x1C, 0x9C, // crc16, little-endian
	}
	assert.Equal(t, want, f.EncodeBinary())
}

func TestDecodeBinary_RoundTrip(t *testing.T) {
	f := Frame{
		TsMS:        4294967295,
		FHzX1e4:     -12345,
		TauMS:       65535,
		DiodeUV:     -600120,
		ADCGain:     128,
		Flags:       FlagADCTimeout | FlagPPSLocked,
		PpmCorrX1e2: -250,
		Mode:        counter.Gated,
	}

	got, err := DecodeBinary(f.EncodeBinary())
	require.NoError(t, err)

	assert.Equal(t, f.TsMS, got.TsMS)
	assert.Equal(t, f.FHzX1e4, got.FHzX1e4)
	assert.Equal(t, f.TauMS, got.TauMS)
	assert.Equal(t, f.DiodeUV, got.DiodeUV)
	assert.Equal(t, f.ADCGain, got.ADCGain)
	assert.Equal(t, f.Flags, got.Flags)
	assert.Equal(t, f.PpmCorrX1e2, got.PpmCorrX1e2)
	assert.Equal(t, f.Mode, got.Mode)
	assert.InDelta(t, -1.2345, float64(got.FHz), 1e-4)
	assert.InDelta(t, -2.5, float64(got.PpmCorr), 1e-4)
}

func TestDecodeBinary_Errors(t *testing.T) {
	f := Frame{TsMS: 1, Mode: counter.Recip}
	good := f.EncodeBinary()

	_, err := DecodeBinary(good[:EncodedLen-1])
	assert.ErrorIs(t, err, ErrShortFrame)

	bad := append([]byte(nil), good...)
	bad[0] = 0x54
	_, err = DecodeBinary(bad)
	assert.ErrorIs(t, err, ErrBadHeader)

	bad = append([]byte(nil), good...)
	bad[2] = PayloadLen + 1
	_, err = DecodeBinary(bad)
	assert.ErrorIs(t, err, ErrBadLength)

	bad = append([]byte(nil), good...)
	bad[10] ^= 0xFF
	_, err = DecodeBinary(bad)
	assert.ErrorIs(t, err, ErrBadCRC)
}

func TestEncodeCSV_FixedFormatting(t *testing.T) {
	f := Frame{
		TsMS:    123456,
		FHz:     30000.5,
		TauMS:   100,
		DiodeUV: 600120,
		ADCGain: 16,
		Flags:   5,
		PpmCorr: 0.25,
		Mode:    counter.Recip,
	}
	assert.Equal(t, "123456,30000.5000,100,600120.0,16,5,0.25,RECIP\r\n", f.EncodeCSV())

	f.Mode = counter.Gated
	f.FHz = 0
	f.PpmCorr = -1.5
	f.DiodeUV = -32
	assert.Equal(t, "123456,0.0000,100,-32.0,16,5,-1.50,GATED\r\n", f.EncodeCSV())
}
