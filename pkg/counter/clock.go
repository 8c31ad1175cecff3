package counter

import "time"

// Clock supplies timestamps and one-shot alarms to the counter. The gated
// window timer goes through this interface so tests can drive time
// explicitly instead of sleeping.
type Clock interface {
	NowMicros() uint64
	AfterFunc(d time.Duration, fn func()) Alarm
}

// Alarm is a cancellable pending timeout.
type Alarm interface {
	Stop() bool
}

// SystemClock implements Clock on the host monotonic clock.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock creates a clock whose microsecond counter starts at zero.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

// NowMicros returns microseconds since the clock was created.
func (c *SystemClock) NowMicros() uint64 {
	return uint64(time.Since(c.epoch).Microseconds())
}

// AfterFunc schedules fn after d on its own goroutine.
func (c *SystemClock) AfterFunc(d time.Duration, fn func()) Alarm {
	return time.AfterFunc(d, fn)
}
