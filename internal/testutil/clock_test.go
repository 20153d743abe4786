package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_FrozenUntilAdvanced(t *testing.T) {
	start := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	clock := NewClock(start)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now(), "Now must not drift on its own")
}

func TestClock_Advance(t *testing.T) {
	start := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	clock := NewClock(start)

	got := clock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), got)
	assert.Equal(t, got, clock.Now())
}

func TestClock_ZeroStartGetsEpoch(t *testing.T) {
	clock := NewClock(time.Time{})
	assert.False(t, clock.Now().IsZero())
}

func TestClock_NegativeAdvancePanics(t *testing.T) {
	clock := NewClock(time.Time{})
	assert.Panics(t, func() { clock.Advance(-time.Second) })
}

func TestClock_Set(t *testing.T) {
	clock := NewClock(time.Time{})
	target := time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)

	clock.Set(target)
	assert.Equal(t, target, clock.Now())
}

func TestClock_ThreadSafe(t *testing.T) {
	clock := NewClock(time.Time{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			clock.Advance(time.Millisecond)
		}()
		go func() {
			defer wg.Done()
			_ = clock.Now()
		}()
	}
	wg.Wait()

	want := NewClock(time.Time{}).Now().Add(50 * time.Millisecond)
	assert.Equal(t, want, clock.Now())
}
