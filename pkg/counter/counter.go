// Package counter implements the reciprocal/gated frequency counter: an
// edge-driven measurement window with an adaptive glitch gate, SYNC-forced
// restarts and a bounded drop-oldest result queue.
package counter

import (
	"sync"
	"time"

	"github.com/chewxy/math32"

	"github.com/terpsio/terps/pkg/queue"
)

// Mode selects how a measurement window closes.
type Mode uint8

const (
	// Gated counts edges over a fixed-duration window closed by an alarm.
	Gated Mode = 0
	// Recip counts elapsed time over a fixed number of edges.
	Recip Mode = 1
)

// String returns the wire-format mode name.
func (m Mode) String() string {
	if m == Recip {
		return "RECIP"
	}
	return "GATED"
}

const (
	// MinRecipEdges bounds quantization error in reciprocal mode.
	MinRecipEdges = 64

	maxQueueDepth       = 32
	defaultQueueDepth   = 8
	defaultFreqEstimate = 30000.0
	maxFreqLimit        = 1000000.0
	minFreqLimit        = 1.0
	defaultGlitchFrac   = 0.25
)

// Result is one completed measurement window. It is produced once and
// consumed exactly once by the orchestrator.
type Result struct {
	Mode          Mode
	Pulses        uint32
	RawPulses     uint32
	MinIntervalUS uint32
	TauMS         uint32
	StartUS       uint64
	EndUS         uint64
	FHzX1e4       int32
	FHz           float32
	GlitchCount   uint32
	SyncActive    bool
	Timeout       bool
}

// Config holds the counter's initial parameters.
type Config struct {
	Mode            Mode
	TauMS           uint32
	MinIntervalFrac float32
	TimebasePPM     float32
	QueueDepth      int
}

// state is the window state. Every mutation happens under the Counter
// mutex, shared by the edge/SYNC/alarm callbacks and the orchestrator, so
// an edge is never processed concurrently with a reconfiguration.
type state struct {
	mode            Mode
	active          bool
	windowOpen      bool
	syncForced      bool
	tauMS           uint32
	pulses          uint32
	targetEdges     uint32
	rawEdges        uint32
	glitchCount     uint32
	minIntervalUS   uint32
	minIntervalFrac float32
	freqEstimateHz  float32
	timebasePPM     float32
	startUS         uint64
	endUS           uint64
	lastEdgeUS      uint64
	gateAlarm       Alarm
}

// Counter is the frequency-counting state machine.
type Counter struct {
	mu      sync.Mutex
	clk     Clock
	cfg     Config
	st      state
	results *queue.Ring[Result]
}

// New creates an armed-but-idle counter. A nil clock selects the system
// clock.
func New(cfg Config, clk Clock) *Counter {
	if clk == nil {
		clk = NewSystemClock()
	}
	depth := cfg.QueueDepth
	if depth <= 0 || depth > maxQueueDepth {
		depth = defaultQueueDepth
	}

	c := &Counter{
		clk:     clk,
		cfg:     cfg,
		results: queue.New[Result](depth),
	}
	c.st.freqEstimateHz = defaultFreqEstimate
	c.st.minIntervalFrac = cfg.MinIntervalFrac
	if c.st.minIntervalFrac <= 0 {
		c.st.minIntervalFrac = defaultGlitchFrac
	}
	c.st.timebasePPM = cfg.TimebasePPM
	c.st.tauMS = cfg.TauMS
	c.updateMinIntervalLocked()
	return c
}

// Results returns the bounded queue of completed windows.
func (c *Counter) Results() *queue.Ring[Result] {
	return c.results
}

func clampFreq(v float32) float32 {
	if v < minFreqLimit {
		return minFreqLimit
	}
	if v > maxFreqLimit {
		return maxFreqLimit
	}
	return v
}

func (c *Counter) updateMinIntervalLocked() {
	freq := clampFreq(c.st.freqEstimateHz)
	frac := c.st.minIntervalFrac
	if frac <= 0 {
		frac = defaultGlitchFrac
	}
	basePeriodUS := 1e6 / freq
	minInterval := uint32(basePeriodUS * frac)
	if minInterval < 1 {
		minInterval = 1
	}
	c.st.minIntervalUS = minInterval
}

func (c *Counter) resetStateLocked() {
	c.st.active = false
	c.st.windowOpen = false
	c.st.syncForced = false
	c.st.pulses = 0
	c.st.rawEdges = 0
	c.st.targetEdges = 0
	c.st.glitchCount = 0
	c.st.startUS = 0
	c.st.endUS = 0
	c.st.lastEdgeUS = 0
	if c.st.gateAlarm != nil {
		c.st.gateAlarm.Stop()
		c.st.gateAlarm = nil
	}
}

// enqueueResultLocked closes the current window. A window with no
// qualifying pulses or no elapsed time is discarded, never queued.
func (c *Counter) enqueueResultLocked(timeoutFlag bool) {
	if !c.st.windowOpen {
		c.resetStateLocked()
		return
	}

	startUS := c.st.startUS
	endUS := c.st.endUS
	if endUS <= startUS {
		endUS = startUS + 1
	}
	elapsedUS := endUS - startUS
	pulses := c.st.pulses
	raw := c.st.rawEdges

	if pulses == 0 || elapsedUS == 0 {
		c.resetStateLocked()
		return
	}

	freqHz := (float32(pulses) * 1e6) / float32(elapsedUS)
	freqHz *= 1 + c.st.timebasePPM*1e-6
	c.st.freqEstimateHz = freqHz
	c.updateMinIntervalLocked()

	c.results.Push(Result{
		Mode:          c.st.mode,
		Pulses:        pulses,
		RawPulses:     raw,
		MinIntervalUS: c.st.minIntervalUS,
		TauMS:         uint32(float32(elapsedUS)/1000.0 + 0.5),
		StartUS:       startUS,
		EndUS:         endUS,
		FHzX1e4:       int32(math32.Round(freqHz * 1e4)),
		FHz:           freqHz,
		GlitchCount:   c.st.glitchCount,
		SyncActive:    c.st.syncForced,
		Timeout:       timeoutFlag,
	})
	c.resetStateLocked()
}

func (c *Counter) computeTargetEdgesLocked(tauMS uint32) {
	freq := clampFreq(c.st.freqEstimateHz)
	expected := (freq * float32(tauMS)) / 1000.0
	edges := uint32(expected + 0.5)
	if edges < MinRecipEdges {
		edges = MinRecipEdges
	}
	c.st.targetEdges = edges
}

func (c *Counter) gateTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.active && c.st.mode == Gated {
		c.st.endUS = c.clk.NowMicros()
		c.enqueueResultLocked(true)
	}
}

func (c *Counter) startWindowLocked(mode Mode, tauMS uint32) {
	c.st.mode = mode
	c.st.tauMS = tauMS
	c.st.pulses = 0
	c.st.rawEdges = 0
	c.st.glitchCount = 0
	c.st.lastEdgeUS = 0
	c.st.syncForced = false
	c.st.active = true
	c.st.windowOpen = mode == Gated
	if c.st.windowOpen {
		c.st.startUS = c.clk.NowMicros()
	} else {
		c.st.startUS = 0
	}
	c.st.endUS = c.st.startUS

	if mode == Recip {
		c.computeTargetEdgesLocked(tauMS)
	} else {
		if c.st.gateAlarm != nil {
			c.st.gateAlarm.Stop()
		}
		c.st.gateAlarm = c.clk.AfterFunc(time.Duration(tauMS)*time.Millisecond, c.gateTimeout)
	}
}

func (c *Counter) handleEdgeLocked(timestampUS uint64) {
	if !c.st.active {
		return
	}

	c.st.rawEdges++
	if c.st.lastEdgeUS != 0 {
		if timestampUS-c.st.lastEdgeUS < uint64(c.st.minIntervalUS) {
			c.st.glitchCount++
			return
		}
	}

	c.st.lastEdgeUS = timestampUS
	if !c.st.windowOpen {
		c.st.windowOpen = true
		c.st.startUS = timestampUS
	}
	c.st.endUS = timestampUS
	c.st.pulses++

	if c.st.mode == Recip && c.st.pulses >= c.st.targetEdges {
		c.enqueueResultLocked(false)
	}
}

func (c *Counter) handleSyncLocked(levelHigh bool, timestampUS uint64) {
	if levelHigh {
		// Rising SYNC abandons any partial window and forces a fresh one
		// open at the SYNC edge itself.
		c.startWindowLocked(c.st.mode, c.st.tauMS)
		c.st.syncForced = true
		c.st.windowOpen = true
		c.st.startUS = timestampUS
		c.st.endUS = timestampUS
		return
	}
	if !c.st.active {
		return
	}
	c.st.endUS = timestampUS
	c.enqueueResultLocked(false)
}

// Arm resets the counter and opens a new measurement window. A zero tauMS
// falls back to the configured window length.
func (c *Counter) Arm(mode Mode, tauMS uint32) {
	if tauMS == 0 {
		tauMS = c.cfg.TauMS
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startWindowLocked(mode, tauMS)
}

// Stop force-closes the current window, flushing whatever has accumulated
// with the timeout flag set, and leaves the counter idle.
func (c *Counter) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.endUS = c.clk.NowMicros()
	c.enqueueResultLocked(true)
	c.resetStateLocked()
}

// OnEdge records one signal transition. Called from the edge-pump
// goroutine, once per rising edge on the frequency input.
func (c *Counter) OnEdge(timestampUS uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handleEdgeLocked(timestampUS)
}

// OnSync records a transition of the external synchronization line. A
// rising edge force-restarts the window; a falling edge force-closes it and
// emits whatever has accumulated.
func (c *Counter) OnSync(levelHigh bool, timestampUS uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handleSyncLocked(levelHigh, timestampUS)
}

// SetTimebasePPM updates the timebase correction applied to subsequent
// frequency estimates.
func (c *Counter) SetTimebasePPM(ppm float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.timebasePPM = ppm
}

// SetGlitchFraction reconfigures the qualifying-interval fraction and
// recomputes the gate from the current estimate.
func (c *Counter) SetGlitchFraction(frac float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.minIntervalFrac = frac
	c.updateMinIntervalLocked()
}

// Active reports whether a measurement window is currently armed.
func (c *Counter) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.active
}

// LastFrequency returns the most recent frequency estimate in Hz.
func (c *Counter) LastFrequency() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.freqEstimateHz
}

// MinInterval returns the current qualifying-interval threshold in
// microseconds.
func (c *Counter) MinInterval() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.minIntervalUS
}
