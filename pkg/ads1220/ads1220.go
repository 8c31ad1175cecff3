// Package ads1220 drives the ADS1220 24-bit delta-sigma ADC over SPI and
// converts raw codes to calibrated microvolts with a running average.
package ads1220

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// ADS1220 serial commands.
const (
	cmdReset     = 0x06
	cmdStart     = 0x08
	cmdPowerDown = 0x02
	cmdWakeup    = 0x00
	cmdRData     = 0x10
	cmdWReg      = 0x40
)

const (
	vrefUV    = 2048000
	fullScale = 8388608 // 2^23

	// saturationMargin flags codes within this distance of the
	// representable extremes.
	saturationMargin = 0x10

	// DefaultTimeout bounds the DRDY wait when the caller passes zero.
	DefaultTimeout = 200 * time.Millisecond
)

// ErrTimeout means no conversion became ready within the read timeout. The
// last good value is left untouched.
var ErrTimeout = errors.New("ads1220: DRDY timeout")

// Config selects gain, sample rate and filtering.
type Config struct {
	Gain          uint8  // 1..128, power of two
	RateSPS       uint16 // <=1000 S/s, mapped to the seven discrete bands
	MainsReject   bool   // enable the 50/60 Hz rejection filter
	AverageWindow uint32 // running-average weight 1/n; <=1 disables
}

// Reading is one converted sample.
type Reading struct {
	MicroVolts int32
	Saturated  bool
}

// ADS1220 is one ADC instance bound to an SPI port and a data-ready pin.
type ADS1220 struct {
	mu         sync.Mutex
	conn       spi.Conn
	drdy       gpio.PinIO
	cfg        Config
	filteredUV int32
}

// New connects to the converter, resets it and programs the configured
// gain, rate and filter registers.
func New(port spi.Port, drdy gpio.PinIO, cfg Config) (*ADS1220, error) {
	conn, err := port.Connect(physic.MegaHertz, spi.Mode1, 8)
	if err != nil {
		return nil, fmt.Errorf("ads1220: SPI connect: %w", err)
	}
	if err := drdy.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("ads1220: DRDY pin: %w", err)
	}

	a := &ADS1220{conn: conn, drdy: drdy, cfg: cfg}
	time.Sleep(2 * time.Millisecond)
	if err := a.writeCommand(cmdReset); err != nil {
		return nil, err
	}
	time.Sleep(2 * time.Millisecond)
	if err := a.applyRegisters(); err != nil {
		return nil, err
	}
	if err := a.writeCommand(cmdStart); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *ADS1220) writeCommand(cmd byte) error {
	if err := a.conn.Tx([]byte{cmd}, nil); err != nil {
		return fmt.Errorf("ads1220: command 0x%02X: %w", cmd, err)
	}
	return nil
}

func (a *ADS1220) writeRegisters(start byte, data []byte) error {
	buf := make([]byte, 0, 1+len(data))
	buf = append(buf, cmdWReg|((start&0x03)<<2)|byte(len(data)-1)&0x03)
	buf = append(buf, data...)
	if err := a.conn.Tx(buf, nil); err != nil {
		return fmt.Errorf("ads1220: write registers: %w", err)
	}
	return nil
}

// gainBits maps the requested PGA gain to its register code, defaulting to
// 16x for out-of-range values.
func gainBits(gain uint8) byte {
	switch gain {
	case 1:
		return 0x00
	case 2:
		return 0x01
	case 4:
		return 0x02
	case 8:
		return 0x03
	case 16:
		return 0x04
	case 32:
		return 0x05
	case 64:
		return 0x06
	case 128:
		return 0x07
	default:
		return 0x04
	}
}

// rateBits maps a requested sample rate onto the seven discrete bands.
func rateBits(rate uint16) byte {
	switch {
	case rate <= 20:
		return 0x00
	case rate <= 45:
		return 0x01
	case rate <= 90:
		return 0x02
	case rate <= 175:
		return 0x03
	case rate <= 330:
		return 0x04
	case rate <= 600:
		return 0x05
	case rate <= 1000:
		return 0x06
	default:
		return 0x07
	}
}

func (a *ADS1220) applyRegisters() error {
	reg0 := byte(0x00<<4) | gainBits(a.cfg.Gain)<<1
	if a.cfg.Gain <= 1 {
		reg0 |= 0x01 // PGA bypassed at gain 1
	}

	reg1 := byte(0x04) // continuous conversion
	reg1 |= rateBits(a.cfg.RateSPS) << 5

	reg2 := byte(0x10) // internal reference
	if a.cfg.MainsReject {
		reg2 |= 0x08
	}

	reg3 := byte(0x00) // IDACs off

	return a.writeRegisters(0, []byte{reg0, reg1, reg2, reg3})
}

// ApplyConfig reprograms the device and resets the running average.
func (a *ADS1220) ApplyConfig(cfg Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	if err := a.applyRegisters(); err != nil {
		return err
	}
	a.filteredUV = 0
	return nil
}

func (a *ADS1220) readRawCode() (int32, error) {
	tx := []byte{cmdRData, 0x00, 0x00, 0x00}
	rx := make([]byte, len(tx))
	if err := a.conn.Tx(tx, rx); err != nil {
		return 0, fmt.Errorf("ads1220: read data: %w", err)
	}
	raw := int32(rx[1])<<16 | int32(rx[2])<<8 | int32(rx[3])
	if raw&0x800000 != 0 {
		raw |= ^int32(0xFFFFFF) // sign extend
	}
	return raw, nil
}

func (a *ADS1220) waitDataReady(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for a.drdy.Read() != gpio.Low {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		a.drdy.WaitForEdge(remaining)
	}
	return true
}

// Read blocks until a conversion is ready, bounded by timeout (zero selects
// the 200 ms default), and returns the averaged microvolt value. On timeout
// the running filter is left untouched.
func (a *ADS1220) Read(timeout time.Duration) (Reading, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if !a.waitDataReady(timeout) {
		return Reading{}, ErrTimeout
	}

	raw, err := a.readRawCode()
	if err != nil {
		return Reading{}, err
	}

	gain := int64(a.cfg.Gain)
	if gain <= 0 {
		gain = 1
	}
	microvolts := int64(raw) * vrefUV / (gain * fullScale)

	saturated := raw >= fullScale-saturationMargin || raw <= -(fullScale-saturationMargin)

	value := int32(microvolts)
	if a.cfg.AverageWindow > 1 {
		// A filtered value of exactly zero re-seeds from the next sample;
		// this mirrors the device's power-on behavior.
		if a.filteredUV == 0 {
			a.filteredUV = value
		} else {
			a.filteredUV += (value - a.filteredUV) / int32(a.cfg.AverageWindow)
		}
		value = a.filteredUV
	}
	return Reading{MicroVolts: value, Saturated: saturated}, nil
}

// Sleep powers the converter down.
func (a *ADS1220) Sleep() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeCommand(cmdPowerDown)
}

// Wake powers the converter back up and restarts continuous conversion.
func (a *ADS1220) Wake() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.writeCommand(cmdWakeup); err != nil {
		return err
	}
	time.Sleep(50 * time.Microsecond)
	return a.writeCommand(cmdStart)
}
