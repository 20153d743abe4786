// Package watch notifies the engine when files change on disk underneath
// open sessions.
//
// It is a polling watcher: inotify-style APIs are not worth their
// portability cost for a handful of open documents, and the reconciler
// re-reads content anyway, so the only job here is "something happened to
// this path". A per-path debouncer sits between the poller and the
// consumer so editor-typical write bursts (temp file, rename, metadata
// touch) coalesce into one event.
package watch

import (
	"context"
	"os"
	"sync"
	"time"
)

// Op is the kind of change observed on a path.
type Op int8

const (
	// OpModify covers content changes and creation.
	OpModify Op = iota
	// OpRemove means the path no longer exists.
	OpRemove
)

// String implements fmt.Stringer for log output.
func (o Op) String() string {
	switch o {
	case OpModify:
		return "modify"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Event is a single observed change.
type Event struct {
	Path string
	Op   Op
	At   time.Time
}

// fingerprint is what the poller compares between polls.
type fingerprint struct {
	exists  bool
	size    int64
	modTime time.Time
}

func stat(path string) fingerprint {
	info, err := os.Stat(path)
	if err != nil {
		return fingerprint{}
	}
	return fingerprint{exists: true, size: info.Size(), modTime: info.ModTime()}
}

func (f fingerprint) equal(other fingerprint) bool {
	return f.exists == other.exists && f.size == other.size && f.modTime.Equal(other.modTime)
}

// DefaultPollInterval is how often watched paths are stat-ed.
const DefaultPollInterval = 250 * time.Millisecond

// DefaultQuietWindow is the debounce window between raw stat deltas and
// the emitted event.
const DefaultQuietWindow = 100 * time.Millisecond

// Poller watches an explicit set of paths by periodic stat comparison.
// Paths are added when a session opens and removed when it closes; the
// zero-path case costs one timer wakeup per interval.
//
// The Events channel is never closed; consumers select on their own
// context alongside it.
type Poller struct {
	interval time.Duration
	events   chan Event
	debounce *Debouncer

	mu      sync.Mutex
	watched map[string]fingerprint
}

// Option configures a Poller.
type Option func(*Poller)

// WithPollInterval overrides the stat cadence.
func WithPollInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithQuietWindow overrides the debounce window.
func WithQuietWindow(d time.Duration) Option {
	return func(p *Poller) {
		p.debounce = NewDebouncer(d, p.deliver)
	}
}

// NewPoller creates an idle poller; call Run to start it.
func NewPoller(opts ...Option) *Poller {
	p := &Poller{
		interval: DefaultPollInterval,
		events:   make(chan Event, 16),
		watched:  make(map[string]fingerprint),
	}
	p.debounce = NewDebouncer(DefaultQuietWindow, p.deliver)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Events is the debounced change stream.
func (p *Poller) Events() <-chan Event {
	return p.events
}

// Add begins watching path. The current state is recorded as the
// baseline, so the caller's own just-completed read does not produce an
// event.
func (p *Poller) Add(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.watched[path]; ok {
		return
	}
	p.watched[path] = stat(path)
}

// Remove stops watching path. Pending debounced events for it are
// discarded.
func (p *Poller) Remove(path string) {
	p.mu.Lock()
	delete(p.watched, path)
	p.mu.Unlock()
	p.debounce.Discard(path)
}

// MarkClean re-baselines path to its current on-disk state without
// emitting an event. The reconciler calls it after absorbing a change.
func (p *Poller) MarkClean(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.watched[path]; ok {
		p.watched[path] = stat(path)
	}
}

// Run polls until ctx is done, then stops the debouncer. Pending
// debounced events are flushed on the way out.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.debounce.Stop()
			return
		case <-ticker.C:
			p.pollOnce(time.Now())
		}
	}
}

// pollOnce compares every watched path against its recorded fingerprint
// and feeds deltas to the debouncer.
func (p *Poller) pollOnce(now time.Time) {
	type delta struct {
		path string
		op   Op
	}
	var deltas []delta

	p.mu.Lock()
	for path, prev := range p.watched {
		cur := stat(path)
		if cur.equal(prev) {
			continue
		}
		p.watched[path] = cur
		op := OpModify
		if !cur.exists {
			op = OpRemove
		}
		deltas = append(deltas, delta{path: path, op: op})
	}
	p.mu.Unlock()

	for _, d := range deltas {
		p.debounce.Feed(Event{Path: d.path, Op: d.op, At: now})
	}
}

// deliver pushes a debounced event to the stream without blocking the
// timer goroutine. A full buffer drops the event: the reconciler re-reads
// content on every notification, so the next change corrects a lost one.
func (p *Poller) deliver(e Event) {
	select {
	case p.events <- e:
	default:
	}
}
