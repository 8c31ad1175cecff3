// terpsd runs the acquisition device: the frequency counter, the ADC and
// the calibration EEPROM fused into one frame stream, on real GPIO or on
// simulated hardware.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/terpsio/terps/pkg/ads1220"
	"github.com/terpsio/terps/pkg/config"
	"github.com/terpsio/terps/pkg/counter"
	"github.com/terpsio/terps/pkg/device"
	"github.com/terpsio/terps/pkg/eeprom"
	"github.com/terpsio/terps/pkg/frame"
	"github.com/terpsio/terps/pkg/pps"
	"github.com/terpsio/terps/pkg/sim"
	"github.com/terpsio/terps/pkg/transport"
	"github.com/terpsio/terps/pkg/unio"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., /dev/ttyACM0); empty streams to stdout")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated hardware instead of GPIO")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Stream.Port = *portFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var link frame.Transport
	if cfg.Stream.Port != "" {
		serialLink := transport.NewSerial(cfg.Stream.Port, cfg.Stream.BaudRate)
		if err := serialLink.Connect(); err != nil {
			log.Fatalf("Failed to open %s: %v", cfg.Stream.Port, err)
		}
		defer serialLink.Close()
		link = serialLink
	} else {
		link = transport.NewWriter(os.Stdout)
	}

	clk := counter.NewSystemClock()
	cnt := counter.New(counter.Config{
		Mode:            cfg.Counter.CounterMode(),
		TauMS:           cfg.Counter.TauMS,
		MinIntervalFrac: cfg.Counter.MinIntervalFrac,
		TimebasePPM:     cfg.Counter.TimebasePPM,
		QueueDepth:      cfg.Counter.QueueLength,
	}, clk)
	discipline := pps.New(clk.NowMicros())

	opts := device.Options{
		Config:    cfg,
		Counter:   cnt,
		PPS:       discipline,
		Transport: link,
		Clock:     clk,
	}

	if *mockFlag {
		runSimulated(ctx, cfg, clk, cnt, discipline, &opts)
	} else {
		if err := attachHardware(ctx, cfg, clk, cnt, discipline, &opts); err != nil {
			log.Fatalf("Hardware setup failed: %v", err)
		}
	}

	device.New(opts).Run(ctx)
}

// runSimulated wires the simulated edge train, PPS, ADC and EEPROM.
func runSimulated(ctx context.Context, cfg *config.Config, clk counter.Clock, cnt *counter.Counter, discipline *pps.Discipline, opts *device.Options) {
	log.Printf("Using simulated hardware")

	edges := &sim.EdgeSource{Counter: cnt, Clock: clk, FrequencyHz: 30000, JitterPPM: 2}
	go edges.Run(ctx)
	go (&sim.PPSSource{PPS: discipline, Clock: clk}).Run(ctx)

	opts.ADC = &sim.ADC{BiasUV: 600000, NoiseUV: 250, DriftUV: 2000}

	img := make([]byte, 512)
	for i := range img {
		img[i] = byte(i ^ 0x5A)
	}
	slave := &sim.EEPROMSlave{DeviceAddr: 0xA0, Image: img}
	bus := unio.NewWithDelay(slave, cfg.UNIO.BitrateBPS, func(time.Duration) {})
	opts.EEPROM = eeprom.NewReader(bus)
}

// attachHardware resolves the configured pins and wires the real drivers.
// Unbound resources leave their feature disabled rather than failing.
func attachHardware(ctx context.Context, cfg *config.Config, clk counter.Clock, cnt *counter.Counter, discipline *pps.Discipline, opts *device.Options) error {
	if _, err := host.Init(); err != nil {
		return err
	}

	if cfg.Pins.Freq != "" {
		pin := gpioreg.ByName(cfg.Pins.Freq)
		if pin == nil {
			log.Fatalf("Unknown pin %q for the frequency input", cfg.Pins.Freq)
		}
		go pumpEdges(ctx, pin, gpio.RisingEdge, func(tsUS uint64) {
			cnt.OnEdge(tsUS)
		}, clk)
	}

	if cfg.Pins.Sync != "" {
		pin := gpioreg.ByName(cfg.Pins.Sync)
		if pin == nil {
			log.Fatalf("Unknown pin %q for the SYNC input", cfg.Pins.Sync)
		}
		go pumpEdges(ctx, pin, gpio.BothEdges, func(tsUS uint64) {
			cnt.OnSync(pin.Read() == gpio.High, tsUS)
		}, clk)
	}

	if cfg.Pins.PPS != "" {
		pin := gpioreg.ByName(cfg.Pins.PPS)
		if pin == nil {
			log.Fatalf("Unknown pin %q for the PPS input", cfg.Pins.PPS)
		}
		go pumpEdges(ctx, pin, gpio.RisingEdge, discipline.OnEdge, clk)
	}

	if cfg.Pins.SPIPort != "" && cfg.Pins.DRDY != "" {
		port, err := spireg.Open(cfg.Pins.SPIPort)
		if err != nil {
			return err
		}
		drdy := gpioreg.ByName(cfg.Pins.DRDY)
		if drdy == nil {
			log.Fatalf("Unknown pin %q for DRDY", cfg.Pins.DRDY)
		}
		adc, err := ads1220.New(port, drdy, ads1220.Config{
			Gain:          cfg.ADC.Gain,
			RateSPS:       cfg.ADC.RateSPS,
			MainsReject:   cfg.ADC.MainsReject,
			AverageWindow: cfg.ADC.AverageWindow,
		})
		if err != nil {
			return err
		}
		opts.ADC = adc
	}

	if cfg.Pins.UNIOData != "" {
		pin := gpioreg.ByName(cfg.Pins.UNIOData)
		if pin == nil {
			log.Fatalf("Unknown pin %q for the UNI/O data line", cfg.Pins.UNIOData)
		}
		bus := unio.New(&unio.PinLine{Pin: pin}, cfg.UNIO.BitrateBPS)
		opts.EEPROM = eeprom.NewReader(bus)
	}

	return nil
}

// pumpEdges delivers timestamped pin edges until ctx is cancelled. The
// wait is bounded so cancellation is observed within a second.
func pumpEdges(ctx context.Context, pin gpio.PinIO, edge gpio.Edge, fn func(uint64), clk counter.Clock) {
	if err := pin.In(gpio.PullNoChange, edge); err != nil {
		log.Printf("Edge setup on %s failed: %v", pin, err)
		return
	}
	for ctx.Err() == nil {
		if pin.WaitForEdge(time.Second) {
			fn(clk.NowMicros())
		}
	}
}
