package watch

import (
	"sync"
	"time"
)

// Debouncer collapses rapid events for the same path into a single
// emission after a quiet window. The most recent event for a path wins;
// intermediate ones are dropped. Safe for concurrent use.
type Debouncer struct {
	window time.Duration
	emit   func(Event)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]Event
	stopped bool
}

// NewDebouncer creates a Debouncer that waits for window of silence on a
// path before emitting the latest event recorded for it.
func NewDebouncer(window time.Duration, emit func(Event)) *Debouncer {
	return &Debouncer{
		window:  window,
		emit:    emit,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]Event),
	}
}

// Feed receives a raw event. An existing timer for the path is reset and
// the stored event replaced; otherwise a new timer starts.
func (d *Debouncer) Feed(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.pending[e.Path] = e

	if t, ok := d.timers[e.Path]; ok {
		t.Reset(d.window)
		return
	}

	path := e.Path
	d.timers[path] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		ev, ok := d.pending[path]
		delete(d.timers, path)
		delete(d.pending, path)
		d.mu.Unlock()
		if ok {
			d.emit(ev)
		}
	})
}

// Discard drops any pending event for path without emitting it. Used when
// a path stops being watched mid-window.
func (d *Debouncer) Discard(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[path]; ok {
		t.Stop()
		delete(d.timers, path)
	}
	delete(d.pending, path)
}

// Stop cancels all timers and immediately emits their pending events.
// Subsequent Feed calls are no-ops.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true

	var toEmit []Event
	for path, t := range d.timers {
		t.Stop()
		if ev, ok := d.pending[path]; ok {
			toEmit = append(toEmit, ev)
		}
	}
	d.timers = nil
	d.pending = nil
	d.mu.Unlock()

	// Emit outside the lock so callbacks cannot deadlock against Feed.
	for _, ev := range toEmit {
		d.emit(ev)
	}
}
