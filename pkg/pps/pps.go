// Package pps disciplines the local timebase against an external
// 1-pulse-per-second reference, producing a ppm correction and a lock flag.
package pps

import (
	"sync"

	"github.com/chewxy/math32"
)

const (
	expectedIntervalUS = 1000000
	lockThresholdPPM   = 5.0
	timeoutUS          = 3000000
	alpha              = 0.2
	lockCounterMax     = 5
	lockCounterAssert  = 3
)

// Discipline folds PPS edge intervals into a smoothed timebase correction.
// Lock is asserted through a small hysteresis counter and cleared when the
// reference disappears for 3 seconds.
type Discipline struct {
	mu sync.Mutex

	lastEdgeUS    uint64
	lastTickUS    uint64
	correctionPPM float32
	locked        bool
	lockCounter   uint32
}

// New creates a discipline loop. nowUS seeds the loss-of-signal timer.
func New(nowUS uint64) *Discipline {
	return &Discipline{lastTickUS: nowUS}
}

// OnEdge records one PPS rising edge. The first edge only establishes the
// reference point; every following edge updates the correction.
func (d *Discipline) OnEdge(timestampUS uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lastEdgeUS != 0 {
		interval := timestampUS - d.lastEdgeUS
		errorPPM := (float32(interval) - float32(expectedIntervalUS)) * 1e6 / float32(expectedIntervalUS)
		d.correctionPPM = (1-alpha)*d.correctionPPM - alpha*errorPPM
		d.lastTickUS = timestampUS

		if math32.Abs(errorPPM) < lockThresholdPPM {
			if d.lockCounter < lockCounterMax {
				d.lockCounter++
			}
		} else {
			if d.lockCounter > 0 {
				d.lockCounter--
			}
		}
		d.locked = d.lockCounter >= lockCounterAssert
	}
	d.lastEdgeUS = timestampUS
}

// Tick detects signal loss. Called every orchestrator cycle; after 3
// seconds without an edge the correction degrades to zero and lock clears.
func (d *Discipline) Tick(nowUS uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if nowUS-d.lastTickUS > timeoutUS {
		d.locked = false
		d.correctionPPM = 0
		d.lockCounter = 0
	}
}

// CorrectionPPM returns the current timebase correction.
func (d *Discipline) CorrectionPPM() float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.correctionPPM
}

// Locked reports whether the correction is currently trustworthy.
func (d *Discipline) Locked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}
