// Package device ties the acquisition pipeline together: the frequency
// counter feeding one goroutine that reads the ADC and assembles frames,
// and a transport pump goroutine that streams frames, ticks the PPS loop
// and answers commands.
package device

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/chewxy/math32"

	"github.com/terpsio/terps/pkg/ads1220"
	"github.com/terpsio/terps/pkg/config"
	"github.com/terpsio/terps/pkg/counter"
	"github.com/terpsio/terps/pkg/eeprom"
	"github.com/terpsio/terps/pkg/frame"
	"github.com/terpsio/terps/pkg/pps"
	"github.com/terpsio/terps/pkg/queue"
)

// ADC is the sampling driver contract the orchestrator needs.
type ADC interface {
	Read(timeout time.Duration) (ads1220.Reading, error)
}

// EEPROM is the calibration-memory contract the command channel needs.
type EEPROM interface {
	Read(addr uint16, length int) (eeprom.Block, error)
}

var _ ADC = (*ads1220.ADS1220)(nil)
var _ EEPROM = (*eeprom.Reader)(nil)

// pumpInterval paces the cooperative transport loop.
const pumpInterval = time.Millisecond

// Options wires a Device. Counter, Transport and Config are required; ADC,
// PPS and EEPROM are optional hardware that may not be bound.
type Options struct {
	Config    *config.Config
	Counter   *counter.Counter
	PPS       *pps.Discipline
	ADC       ADC
	EEPROM    EEPROM
	Transport frame.Transport
	Clock     counter.Clock
}

// Device is the orchestrator.
type Device struct {
	cfg    *config.Config
	cnt    *counter.Counter
	pps    *pps.Discipline
	adc    ADC
	rom    EEPROM
	tr     frame.Transport
	clk    counter.Clock
	sender *frame.Sender
	lines  frame.LineReader
	frames *queue.Ring[frame.Frame]

	lastDiodeUV   int32
	lastEEPROMDev uint8
	lastEEPROMLen int
	eepromValid   bool
	droppedFrames uint64
}

// New creates a device from its parts.
func New(opts Options) *Device {
	mode := frame.StreamCSV
	if opts.Config.Stream.Binary {
		mode = frame.StreamBinary
	}
	clk := opts.Clock
	if clk == nil {
		clk = counter.NewSystemClock()
	}
	return &Device{
		cfg:    opts.Config,
		cnt:    opts.Counter,
		pps:    opts.PPS,
		adc:    opts.ADC,
		rom:    opts.EEPROM,
		tr:     opts.Transport,
		clk:    clk,
		sender: frame.NewSender(opts.Transport, mode),
		frames: queue.New[frame.Frame](opts.Config.Stream.QueueLength),
	}
}

// Sender exposes the codec, e.g. to switch stream mode.
func (d *Device) Sender() *frame.Sender {
	return d.sender
}

// DroppedFrames returns how many frames the transport refused.
func (d *Device) DroppedFrames() uint64 {
	return d.droppedFrames
}

// Run arms the counter and drives both loops until ctx is cancelled.
func (d *Device) Run(ctx context.Context) {
	d.cnt.Arm(d.cfg.Counter.CounterMode(), d.cfg.Counter.TauMS)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.acquireLoop()
	}()

	d.pumpLoop(ctx)

	// Release the blocked acquire loop and let it drain.
	d.cnt.Results().Close()
	d.frames.Close()
	<-done
}

// pumpLoop is the non-blocking cooperative loop: transport pump, command
// dispatch and the PPS tick. It never waits on acquisition.
func (d *Device) pumpLoop(ctx context.Context) {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if in := d.tr.ReadPending(); len(in) > 0 {
			for _, cmd := range d.lines.Feed(in) {
				d.handleCommand(cmd)
			}
		}

		if f, ok := d.frames.TryPop(); ok {
			if err := d.sender.SendFrame(&f); err != nil {
				d.droppedFrames++
				if d.cfg.Debug.DeglitchStats {
					log.Printf("frame dropped: %v", err)
				}
			}
		}

		d.feedPPSCorrection()
	}
}

// feedPPSCorrection runs every pump cycle: loss-of-signal detection plus
// pushing the current correction into the counter.
func (d *Device) feedPPSCorrection() {
	if d.pps == nil {
		return
	}
	d.pps.Tick(d.clk.NowMicros())
	d.cnt.SetTimebasePPM(d.pps.CorrectionPPM())
}

// acquireLoop performs exactly one blocking wait per iteration, on the
// frequency-result queue, then closes the measurement loop by re-arming.
func (d *Device) acquireLoop() {
	for {
		res, ok := d.cnt.Results().Pop()
		if !ok {
			return
		}
		d.processResult(res)
		d.cnt.Arm(d.cfg.Counter.CounterMode(), d.cfg.Counter.TauMS)
	}
}

// processResult fuses one completed window with an ADC reading and the PPS
// status into an output frame. A failed ADC read carries the previous
// microvolt value forward and records the fault as a flag.
func (d *Device) processResult(res counter.Result) {
	var flags uint8
	if res.SyncActive {
		flags |= frame.FlagSyncActive
	}

	if d.adc != nil {
		reading, err := d.adc.Read(time.Duration(d.cfg.ADC.TimeoutMS) * time.Millisecond)
		switch {
		case err == nil:
			d.lastDiodeUV = reading.MicroVolts
			if reading.Saturated {
				flags |= frame.FlagADCSaturated
			}
		case errors.Is(err, ads1220.ErrTimeout):
			flags |= frame.FlagADCTimeout
			if d.cfg.Debug.DeglitchStats {
				log.Printf("[ads1220] DRDY timeout")
			}
		default:
			flags |= frame.FlagADCTimeout
			log.Printf("[ads1220] read failed: %v", err)
		}
	}

	var ppmCorr float32
	if d.pps != nil {
		if d.pps.Locked() {
			flags |= frame.FlagPPSLocked
		}
		ppmCorr = d.pps.CorrectionPPM()
	}

	if d.cfg.Debug.DeglitchStats && res.Timeout {
		log.Printf("[freq] window timeout pulses=%d", res.Pulses)
	}
	if d.cfg.Debug.DeglitchStats && !d.cfg.Stream.Binary {
		log.Printf("# raw=%d kept=%d dropped=%d min_interval_us=%d",
			res.RawPulses, res.Pulses, res.GlitchCount, res.MinIntervalUS)
	}

	d.frames.Push(frame.Frame{
		TsMS:        uint32(res.EndUS / 1000),
		FHzX1e4:     res.FHzX1e4,
		TauMS:       uint16(res.TauMS),
		DiodeUV:     d.lastDiodeUV,
		ADCGain:     d.cfg.ADC.Gain,
		Flags:       flags,
		PpmCorrX1e2: int16(math32.Round(ppmCorr * 100)),
		Mode:        res.Mode,
		FHz:         res.FHz,
		PpmCorr:     ppmCorr,
	})
}
