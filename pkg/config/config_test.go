package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terpsio/terps/pkg/counter"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, "recip", cfg.Counter.Mode)
	assert.Equal(t, uint32(100), cfg.Counter.TauMS)
	assert.Equal(t, float32(0.25), cfg.Counter.MinIntervalFrac)
	assert.Equal(t, 8, cfg.Counter.QueueLength)
	assert.Equal(t, uint8(16), cfg.ADC.Gain)
	assert.Equal(t, uint16(20), cfg.ADC.RateSPS)
	assert.True(t, cfg.ADC.MainsReject)
	assert.False(t, cfg.Stream.Binary)
	assert.Equal(t, 16, cfg.Stream.QueueLength)
	assert.Equal(t, 115200, cfg.Stream.BaudRate)
	assert.Equal(t, "GPIO2", cfg.Pins.Freq)
	assert.Equal(t, "", cfg.Pins.UNIOData)
	assert.Equal(t, uint32(20000), cfg.UNIO.BitrateBPS)
}

func TestCounterMode_Parsing(t *testing.T) {
	assert.Equal(t, counter.Recip, CounterConfig{Mode: "recip"}.CounterMode())
	assert.Equal(t, counter.Gated, CounterConfig{Mode: "gated"}.CounterMode())
	assert.Equal(t, counter.Gated, CounterConfig{Mode: "GATED"}.CounterMode())
	// Anything unrecognized counts reciprocally.
	assert.Equal(t, counter.Recip, CounterConfig{Mode: "bogus"}.CounterMode())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "recip", cfg.Counter.Mode)
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
counter:
  mode: gated
  tau_ms: 500
  min_interval_frac: 0.1
  queue_length: 4

adc:
  gain: 4
  rate_sps: 90
  mains_reject: false
  average_window: 2
  timeout_ms: 100

stream:
  binary: true
  queue_length: 32
  port: "/dev/ttyACM0"
  baud_rate: 921600

pins:
  freq: GPIO4
  unio_data: GPIO5

unio:
  bitrate_bps: 10000

debug:
  deglitch_stats: true
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, counter.Gated, cfg.Counter.CounterMode())
	assert.Equal(t, uint32(500), cfg.Counter.TauMS)
	assert.Equal(t, float32(0.1), cfg.Counter.MinIntervalFrac)
	assert.Equal(t, 4, cfg.Counter.QueueLength)
	assert.Equal(t, uint8(4), cfg.ADC.Gain)
	assert.Equal(t, uint16(90), cfg.ADC.RateSPS)
	assert.False(t, cfg.ADC.MainsReject)
	assert.True(t, cfg.Stream.Binary)
	assert.Equal(t, 32, cfg.Stream.QueueLength)
	assert.Equal(t, "/dev/ttyACM0", cfg.Stream.Port)
	assert.Equal(t, 921600, cfg.Stream.BaudRate)
	assert.Equal(t, "GPIO4", cfg.Pins.Freq)
	assert.Equal(t, "GPIO5", cfg.Pins.UNIOData)
	assert.Equal(t, uint32(10000), cfg.UNIO.BitrateBPS)
	assert.True(t, cfg.Debug.DeglitchStats)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.WriteString("invalid: yaml: content: [")
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
stream:
  port: "/dev/ttyACM0"
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/dev/ttyACM0", cfg.Stream.Port)

	// Missing fields fall back to defaults.
	assert.Equal(t, uint32(100), cfg.Counter.TauMS)
	assert.Equal(t, uint8(16), cfg.ADC.Gain)
	assert.Equal(t, uint32(20000), cfg.UNIO.BitrateBPS)
}

func TestLoad_OutOfRangeQueueLengthsClamped(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	yamlContent := `
counter:
  queue_length: 1000
stream:
  queue_length: -1
`

	_, err = tmpfile.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Counter.QueueLength)
	assert.Equal(t, 16, cfg.Stream.QueueLength)
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Stream.Port = "/dev/ttyUSB0"
	cfg.Counter.TauMS = 250

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	// Load it back and verify
	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Stream.Port)
	assert.Equal(t, uint32(250), loaded.Counter.TauMS)
}
