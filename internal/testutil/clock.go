package testutil

import (
	"sync"
	"time"
)

// ManualClock is a wall clock that only moves when told to.
//
// The reflector derives session time from its clock, so a ManualClock makes
// every TICK and RECV timestamp in a test predictable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// Epoch is the default start time of a ManualClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewManualClock creates a clock reading Epoch.
func NewManualClock() *ManualClock {
	return &ManualClock{now: Epoch}
}

// Now returns the current reading.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations are ignored:
// a ManualClock never runs backwards.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// AdvanceMillis is Advance in milliseconds.
func (c *ManualClock) AdvanceMillis(ms int64) time.Time {
	return c.Advance(time.Duration(ms) * time.Millisecond)
}

// Elapsed returns the time since Epoch in milliseconds.
func (c *ManualClock) Elapsed() int64 {
	return c.Now().Sub(Epoch).Milliseconds()
}
