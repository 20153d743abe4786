package testutil

import (
	"sync"
	"time"
)

// Clock is a manually advanced wall clock for tests.
//
// It satisfies the editor's Clock interface without importing it, so
// in-package editor tests can use it freely. Time only moves when the
// test says so, which makes heartbeat and staleness windows exact.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at start.
//
// A zero start is replaced with a fixed epoch so tests that never set a
// time still get sane non-zero timestamps.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Clock{now: start}
}

// Now returns the current frozen time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
//
// Monotonic by construction: negative d panics rather than letting a test
// silently rewind time.
func (c *Clock) Advance(d time.Duration) time.Time {
	if d < 0 {
		panic("testutil: clock cannot advance backwards")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
