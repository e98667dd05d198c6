package timeline

import (
	"sync"
	"time"
)

// Clock reports milliseconds elapsed since an arbitrary fixed origin,
// the equivalent of performance.now().
type Clock interface {
	Now() float64
}

// SystemClock is a monotonic wall clock.
type SystemClock struct {
	origin time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{origin: time.Now()}
}

func (c *SystemClock) Now() float64 {
	return float64(time.Since(c.origin)) / float64(time.Millisecond)
}

// ManualClock only moves when told to. Safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now float64
}

func NewManualClock(start float64) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by ms milliseconds and returns the new time.
func (c *ManualClock) Advance(ms float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
	return c.now
}

func (c *ManualClock) Set(ms float64) {
	c.mu.Lock()
	c.now = ms
	c.mu.Unlock()
}
