// Package config holds the acquisition configuration, loaded from YAML with
// defaults applied for anything missing.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/terpsio/terps/pkg/counter"
)

// Config represents the full device configuration.
type Config struct {
	Counter CounterConfig `yaml:"counter"`
	ADC     ADCConfig     `yaml:"adc"`
	Stream  StreamConfig  `yaml:"stream"`
	Pins    PinsConfig    `yaml:"pins"`
	UNIO    UNIOConfig    `yaml:"unio"`
	Debug   DebugConfig   `yaml:"debug"`
}

// CounterConfig contains the measurement-window parameters.
type CounterConfig struct {
	Mode            string  `yaml:"mode"` // "recip" or "gated"
	TauMS           uint32  `yaml:"tau_ms"`
	MinIntervalFrac float32 `yaml:"min_interval_frac"`
	TimebasePPM     float32 `yaml:"timebase_ppm"`
	QueueLength     int     `yaml:"queue_length"`
}

// CounterMode parses the configured counting mode; anything but "gated"
// selects reciprocal counting.
func (c CounterConfig) CounterMode() counter.Mode {
	if strings.EqualFold(c.Mode, "gated") {
		return counter.Gated
	}
	return counter.Recip
}

// ADCConfig contains the delta-sigma ADC parameters.
type ADCConfig struct {
	Gain          uint8  `yaml:"gain"`
	RateSPS       uint16 `yaml:"rate_sps"`
	MainsReject   bool   `yaml:"mains_reject"`
	AverageWindow uint32 `yaml:"average_window"`
	TimeoutMS     uint32 `yaml:"timeout_ms"`
}

// StreamConfig contains the outbound transport parameters.
type StreamConfig struct {
	Binary      bool   `yaml:"binary"`
	QueueLength int    `yaml:"queue_length"`
	Port        string `yaml:"port"` // serial device; empty streams to stdout
	BaudRate    int    `yaml:"baud_rate"`
}

// PinsConfig names the hardware resource bindings. An empty name means the
// resource is not bound and the corresponding feature stays disabled.
type PinsConfig struct {
	Freq     string `yaml:"freq"`
	Sync     string `yaml:"sync"`
	PPS      string `yaml:"pps"`
	DRDY     string `yaml:"drdy"`
	SPIPort  string `yaml:"spi_port"`
	UNIOData string `yaml:"unio_data"`
}

// UNIOConfig contains the single-wire bus parameters.
type UNIOConfig struct {
	BitrateBPS uint32 `yaml:"bitrate_bps"`
}

// DebugConfig enables diagnostic output.
type DebugConfig struct {
	DeglitchStats bool `yaml:"deglitch_stats"`
}

// Default returns a configuration with the stock instrument values.
func Default() *Config {
	return &Config{
		Counter: CounterConfig{
			Mode:            "recip",
			TauMS:           100,
			MinIntervalFrac: 0.25,
			TimebasePPM:     0,
			QueueLength:     8,
		},
		ADC: ADCConfig{
			Gain:          16,
			RateSPS:       20,
			MainsReject:   true,
			AverageWindow: 8,
			TimeoutMS:     200,
		},
		Stream: StreamConfig{
			Binary:      false,
			QueueLength: 16,
			Port:        "",
			BaudRate:    115200,
		},
		Pins: PinsConfig{
			Freq:    "GPIO2",
			Sync:    "GPIO3",
			PPS:     "GPIO21",
			DRDY:    "GPIO20",
			SPIPort: "SPI0.0",
			// UNI/O data line left unbound by default; the EEPROM commands
			// answer ERR UNIO_NO_DEVICE until it is wired.
			UNIOData: "",
		},
		UNIO: UNIOConfig{
			BitrateBPS: 20000,
		},
		Debug: DebugConfig{
			DeglitchStats: false,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that required fields fall back to default values
// when missing from the file.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Counter.Mode == "" {
		c.Counter.Mode = def.Counter.Mode
	}
	if c.Counter.TauMS == 0 {
		c.Counter.TauMS = def.Counter.TauMS
	}
	if c.Counter.MinIntervalFrac <= 0 {
		c.Counter.MinIntervalFrac = def.Counter.MinIntervalFrac
	}
	if c.Counter.QueueLength <= 0 || c.Counter.QueueLength > 64 {
		c.Counter.QueueLength = def.Counter.QueueLength
	}

	if c.ADC.Gain == 0 {
		c.ADC.Gain = def.ADC.Gain
	}
	if c.ADC.RateSPS == 0 {
		c.ADC.RateSPS = def.ADC.RateSPS
	}
	if c.ADC.AverageWindow == 0 {
		c.ADC.AverageWindow = def.ADC.AverageWindow
	}
	if c.ADC.TimeoutMS == 0 {
		c.ADC.TimeoutMS = def.ADC.TimeoutMS
	}

	if c.Stream.QueueLength <= 0 || c.Stream.QueueLength > 64 {
		c.Stream.QueueLength = def.Stream.QueueLength
	}
	if c.Stream.BaudRate == 0 {
		c.Stream.BaudRate = def.Stream.BaudRate
	}

	if c.UNIO.BitrateBPS == 0 {
		c.UNIO.BitrateBPS = def.UNIO.BitrateBPS
	}
}
