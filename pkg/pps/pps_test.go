package pps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const second = uint64(1000000)

// edges delivers n PPS edges with the given interval, starting one interval
// after startUS, and returns the last edge timestamp.
func edges(d *Discipline, n int, startUS, intervalUS uint64) uint64 {
	ts := startUS
	for i := 0; i < n; i++ {
		ts += intervalUS
		d.OnEdge(ts)
	}
	return ts
}

func TestOnEdge_FirstEdgeOnlyEstablishesReference(t *testing.T) {
	d := New(0)
	d.OnEdge(second)
	assert.False(t, d.Locked())
	assert.Equal(t, float32(0), d.CorrectionPPM())
}

func TestLock_AssertsAfterThreeGoodIntervals(t *testing.T) {
	d := New(0)
	d.OnEdge(second)

	last := edges(d, 2, second, second)
	assert.False(t, d.Locked())

	edges(d, 1, last, second)
	assert.True(t, d.Locked())
}

func TestLock_HysteresisRidesThroughOneBadInterval(t *testing.T) {
	d := New(0)
	d.OnEdge(second)
	last := edges(d, 4, second, second)
	assert.True(t, d.Locked())

	// One interval 20 ppm long: counter drops below the assert level.
	last += second + 20
	d.OnEdge(last)
	assert.False(t, d.Locked())

	// A single good interval restores lock.
	edges(d, 1, last, second)
	assert.True(t, d.Locked())
}

func TestCorrection_OpposesIntervalError(t *testing.T) {
	d := New(0)
	d.OnEdge(second)

	// Local clock runs 10 ppm fast: the observed interval is 10 us long.
	d.OnEdge(2*second + 10)
	assert.InDelta(t, -2.0, float64(d.CorrectionPPM()), 1e-3)

	// The filter keeps pulling in the same direction.
	d.OnEdge(3*second + 20)
	assert.InDelta(t, 0.8*(-2.0)-0.2*10.0, float64(d.CorrectionPPM()), 1e-3)
}

func TestTick_SignalLossClearsLockAndCorrection(t *testing.T) {
	d := New(0)
	d.OnEdge(second)
	last := edges(d, 5, second, second+10)
	assert.True(t, d.Locked())
	assert.NotEqual(t, float32(0), d.CorrectionPPM())

	// Under the 3 s timeout nothing changes.
	d.Tick(last + 2999999)
	assert.True(t, d.Locked())

	d.Tick(last + 3000001)
	assert.False(t, d.Locked())
	assert.Equal(t, float32(0), d.CorrectionPPM())
}

func TestTick_RecoveryRequiresFullHysteresis(t *testing.T) {
	d := New(0)
	d.OnEdge(second)
	last := edges(d, 5, second, second)
	d.Tick(last + 3000001)
	assert.False(t, d.Locked())

	// The stale reference point survives; one good interval is not enough.
	last = edges(d, 1, last, second)
	assert.False(t, d.Locked())
	edges(d, 2, last, second)
	assert.True(t, d.Locked())
}
