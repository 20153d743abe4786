package editor

import "time"

// Clock abstracts wall-clock reads so staleness checks and session
// timestamps can be driven manually in tests.
//
// The engine only ever asks for the current instant; it never sleeps on
// the clock. All waiting happens on timers and tickers owned by the
// session loops and the engine loop.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the machine clock. The production implementation.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now()
}
