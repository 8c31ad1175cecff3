package device_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terpsio/terps/pkg/ads1220"
	"github.com/terpsio/terps/pkg/config"
	"github.com/terpsio/terps/pkg/counter"
	"github.com/terpsio/terps/pkg/device"
	"github.com/terpsio/terps/pkg/eeprom"
	"github.com/terpsio/terps/pkg/frame"
	"github.com/terpsio/terps/pkg/sim"
	"github.com/terpsio/terps/pkg/transport"
	"github.com/terpsio/terps/pkg/unio"
)

// fixedADC always returns the same reading.
type fixedADC struct {
	uv        int32
	saturated bool
}

func (a *fixedADC) Read(time.Duration) (ads1220.Reading, error) {
	return ads1220.Reading{MicroVolts: a.uv, Saturated: a.saturated}, nil
}

type testRig struct {
	cfg  *config.Config
	cnt  *counter.Counter
	link *transport.Loopback
	dev  *device.Device

	cancel context.CancelFunc
	done   chan struct{}
}

func noDelay(time.Duration) {}

func startRig(t *testing.T, mutate func(*config.Config)) *testRig {
	t.Helper()

	cfg := config.Default()
	cfg.Counter.Mode = "recip"
	cfg.Counter.TauMS = 1
	if mutate != nil {
		mutate(cfg)
	}

	img := make([]byte, 512)
	for i := range img {
		img[i] = byte(i)
	}
	slave := &sim.EEPROMSlave{DeviceAddr: 0xA0, Image: img}
	rom := eeprom.NewReader(unio.NewWithDelay(slave, cfg.UNIO.BitrateBPS, noDelay))

	cnt := counter.New(counter.Config{
		Mode:  cfg.Counter.CounterMode(),
		TauMS: cfg.Counter.TauMS,
	}, nil)
	link := transport.NewLoopback(4096)

	dev := device.New(device.Options{
		Config:    cfg,
		Counter:   cnt,
		ADC:       &fixedADC{uv: 600120},
		EEPROM:    rom,
		Transport: link,
	})

	ctx, cancel := context.WithCancel(context.Background())
	rig := &testRig{cfg: cfg, cnt: cnt, link: link, dev: dev, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(rig.done)
		dev.Run(ctx)
	}()

	// Edges delivered before Run arms the counter would be ignored.
	deadline := time.Now().Add(2 * time.Second)
	for !cnt.Active() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.True(t, cnt.Active())
	return rig
}

func (r *testRig) stop(t *testing.T) {
	t.Helper()
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("device did not shut down")
	}
}

// collectOutput accumulates transport output until the predicate accepts it.
func (r *testRig) collectOutput(t *testing.T, accept func([]byte) bool) []byte {
	t.Helper()
	var out []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		out = append(out, r.link.TakeOutput()...)
		if accept(out) {
			return out
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected output never arrived; got %q", out)
	return nil
}

func (r *testRig) command(t *testing.T, cmd string) string {
	t.Helper()
	r.link.PushInput([]byte(cmd + "\n"))
	out := r.collectOutput(t, func(b []byte) bool {
		return strings.Contains(string(b), "END\n")
	})
	return string(out)
}

func TestDevice_InfoDev(t *testing.T) {
	rig := startRig(t, func(cfg *config.Config) {
		cfg.Pins.UNIOData = "GPIO5"
	})
	defer rig.stop(t)

	resp := rig.command(t, "INFO.DEV")
	assert.Contains(t, resp, "OK FW=terps VER=uni_o gpio=GPIO5 bitrate=20000 mode=csv\n")
	assert.True(t, strings.HasSuffix(resp, "END\n"))
}

func TestDevice_EEPROMDumpClampsToAddressSpace(t *testing.T) {
	rig := startRig(t, nil)
	defer rig.stop(t)

	// 16 bytes requested at 0x1F8: only 8 remain below the 0x200 boundary.
	resp := rig.command(t, "EEPROM.DUMP 504 16")
	assert.Contains(t, resp, "OK DEV=0xA0 START=0x01F8 LEN=8\n")
	assert.Contains(t, resp, "F8F9FAFBFCFDFEFF\n")
}

func TestDevice_EEPROMDumpBadAddress(t *testing.T) {
	rig := startRig(t, nil)
	defer rig.stop(t)

	resp := rig.command(t, "EEPROM.DUMP 512")
	assert.Contains(t, resp, "ERR BAD_ADDR\n")
}

func TestDevice_EEPROMParseUnsupported(t *testing.T) {
	rig := startRig(t, nil)
	defer rig.stop(t)

	resp := rig.command(t, "EEPROM.PARSE")
	assert.Contains(t, resp, "ERR UNSUPPORTED\n")
}

func TestDevice_UnknownCommand(t *testing.T) {
	rig := startRig(t, nil)
	defer rig.stop(t)

	resp := rig.command(t, "BOGUS.CMD")
	assert.Contains(t, resp, "ERR UNKNOWN_CMD\n")
}

func TestDevice_InfoDevReportsLastEEPROMRead(t *testing.T) {
	rig := startRig(t, nil)
	defer rig.stop(t)

	rig.command(t, "EEPROM.DUMP 0 32")
	resp := rig.command(t, "INFO.DEV")
	assert.Contains(t, resp, "last_dev=0xA0 last_len=32")
}

func TestDevice_StreamsCSVFrames(t *testing.T) {
	rig := startRig(t, nil)
	defer rig.stop(t)

	out := rig.pumpFrames(t, func(b []byte) bool {
		return strings.Contains(string(b), "\r\n")
	})
	line := string(out)
	assert.Contains(t, line, ",600120.0,")
	assert.Contains(t, line, ",RECIP\r\n")
}

func TestDevice_StreamsDecodableBinaryFrames(t *testing.T) {
	rig := startRig(t, func(cfg *config.Config) {
		cfg.Stream.Binary = true
	})
	defer rig.stop(t)

	out := rig.pumpFrames(t, func(b []byte) bool {
		return len(b) >= frame.EncodedLen
	})
	f, err := frame.DecodeBinary(out)
	require.NoError(t, err)
	assert.Equal(t, int32(600120), f.DiodeUV)
	assert.Equal(t, counter.Recip, f.Mode)
	assert.Equal(t, uint8(16), f.ADCGain)
	assert.InDelta(t, 10158.73, float64(f.FHz), 0.1)
}

func TestDevice_ContinuesMeasuringAfterFirstWindow(t *testing.T) {
	rig := startRig(t, nil)
	defer rig.stop(t)

	rig.pumpFrames(t, func(b []byte) bool {
		return strings.Count(string(b), "\r\n") >= 2
	})
}

// pumpFrames repeatedly feeds complete reciprocal windows, 64 edges at
// 100 us spacing, until the accumulated output satisfies the predicate.
// Feeding retries because edges delivered before the counter is armed are
// ignored.
func (r *testRig) pumpFrames(t *testing.T, accept func([]byte) bool) []byte {
	t.Helper()
	var out []byte
	ts := uint64(1000)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for i := 0; i < 64; i++ {
			r.cnt.OnEdge(ts)
			ts += 100
		}
		ts += 1000000
		time.Sleep(5 * time.Millisecond)
		out = append(out, r.link.TakeOutput()...)
		if accept(out) {
			return out
		}
	}
	t.Fatalf("expected frames never arrived; got %q", out)
	return nil
}
