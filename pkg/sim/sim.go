// Package sim provides simulated hardware so the full acquisition pipeline
// runs without a board: a synthetic edge train, a PPS source, a noisy ADC
// and a single-wire EEPROM slave.
package sim

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/terpsio/terps/pkg/ads1220"
	"github.com/terpsio/terps/pkg/counter"
	"github.com/terpsio/terps/pkg/device"
	"github.com/terpsio/terps/pkg/pps"
)

// EdgeSource feeds a counter with a synthetic edge train. Edges are
// delivered in batches with virtual microsecond timestamps, so the nominal
// frequency holds regardless of scheduler jitter.
type EdgeSource struct {
	Counter     *counter.Counter
	Clock       counter.Clock
	FrequencyHz float64
	JitterPPM   float64

	lastUS float64
}

// Run delivers edges until ctx is cancelled.
func (s *EdgeSource) Run(ctx context.Context) {
	const batch = 5 * time.Millisecond
	ticker := time.NewTicker(batch)
	defer ticker.Stop()

	s.lastUS = float64(s.Clock.NowMicros())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := float64(s.Clock.NowMicros())
		freq := s.FrequencyHz
		if s.JitterPPM != 0 {
			freq *= 1 + s.JitterPPM*1e-6*(2*rand.Float64()-1)
		}
		period := 1e6 / freq
		for s.lastUS+period <= now {
			s.lastUS += period
			s.Counter.OnEdge(uint64(s.lastUS))
		}
	}
}

// PPSSource feeds a discipline loop with a once-per-second edge.
type PPSSource struct {
	PPS   *pps.Discipline
	Clock counter.Clock
}

// Run delivers PPS edges until ctx is cancelled.
func (s *PPSSource) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PPS.OnEdge(s.Clock.NowMicros())
		}
	}
}

// ADC is a simulated diode-voltage source: a slow drift plus noise around
// a bias point.
type ADC struct {
	BiasUV  float64
	NoiseUV float64
	DriftUV float64

	start time.Time
}

var _ device.ADC = (*ADC)(nil)

// Read returns the next simulated sample; it never times out.
func (a *ADC) Read(timeout time.Duration) (ads1220.Reading, error) {
	if a.start.IsZero() {
		a.start = time.Now()
	}
	t := time.Since(a.start).Seconds()
	value := a.BiasUV +
		a.DriftUV*math.Sin(2*math.Pi*t/60) +
		a.NoiseUV*(2*rand.Float64()-1)
	return ads1220.Reading{MicroVolts: int32(value)}, nil
}
