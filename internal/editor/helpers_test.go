package editor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/coedit/internal/config"
	"github.com/roach88/coedit/internal/diff"
	"github.com/roach88/coedit/internal/watch"
)

// memFS is an in-memory FileStore with failure injection.
type memFS struct {
	mu     sync.Mutex
	files  map[string]string
	writes int
	fails  int // WriteFile fails while > 0, decrementing per attempt
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string]string)}
}

func (f *memFS) ReadFile(path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	if !ok {
		return "", os.ErrNotExist
	}
	return content, nil
}

func (f *memFS) WriteFile(path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.fails > 0 {
		f.fails--
		return errors.New("disk full")
	}
	f.files[path] = content
	return nil
}

func (f *memFS) set(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
}

func (f *memFS) delete(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
}

func (f *memFS) get(path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	return content, ok
}

func (f *memFS) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails = n
}

func (f *memFS) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// tagRenderer wraps the source in a marker so tests can assert which
// content a render-update carried. Failure injection for retry tests.
type tagRenderer struct {
	mu    sync.Mutex
	calls int
	fails int
}

func (r *tagRenderer) Render(_ context.Context, source string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fails > 0 {
		r.fails--
		return "", errors.New("renderer exploded")
	}
	return "<preview>" + source + "</preview>", nil
}

func (r *tagRenderer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// memJournal records calls so tests can assert the journal contract
// without SQLite.
type memJournal struct {
	mu        sync.Mutex
	drafts    map[string]string
	cleared   int
	revisions []string // contents in append order
}

func newMemJournal() *memJournal {
	return &memJournal{drafts: make(map[string]string)}
}

func (m *memJournal) RecordDraft(_ context.Context, path, content string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[path] = content
	return nil
}

func (m *memJournal) ClearDraft(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, path)
	m.cleared++
	return nil
}

func (m *memJournal) RecordRevision(_ context.Context, _, content string, _ time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revisions = append(m.revisions, content)
	return "rev-test", nil
}

func (m *memJournal) draftFor(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.drafts[path]
	return content, ok
}

func (m *memJournal) revisionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.revisions)
}

// fakeWatcher lets tests inject watch events without touching a real
// filesystem; the engine re-reads content through its FileStore anyway.
type fakeWatcher struct {
	mu      sync.Mutex
	added   map[string]int
	removed map[string]int
	cleaned map[string]int
	events  chan watch.Event
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		added:   make(map[string]int),
		removed: make(map[string]int),
		cleaned: make(map[string]int),
		events:  make(chan watch.Event, 16),
	}
}

func (w *fakeWatcher) Add(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.added[path]++
}

func (w *fakeWatcher) Remove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removed[path]++
}

func (w *fakeWatcher) MarkClean(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cleaned[path]++
}

func (w *fakeWatcher) Events() <-chan watch.Event {
	return w.events
}

func (w *fakeWatcher) Run(ctx context.Context) {
	<-ctx.Done()
}

func (w *fakeWatcher) emit(path string, op watch.Op) {
	w.events <- watch.Event{Path: path, Op: op, At: time.Now()}
}

func (w *fakeWatcher) counts(path string) (added, removed, cleaned int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.added[path], w.removed[path], w.cleaned[path]
}

// testTiming is fast enough for real-clock tests: debounce and render
// land within tens of milliseconds, everything driven by Run stays off
// unless a test lowers it.
func testTiming() *config.TimingConfig {
	cfg := config.Default(time.Hour)
	cfg.ContentDebounce = 20 * time.Millisecond
	cfg.RenderInterval = 40 * time.Millisecond
	cfg.CursorThrottle = 30 * time.Millisecond
	cfg.KeepaliveInterval = time.Hour
	cfg.StaleThreshold = time.Hour
	cfg.PingInterval = time.Minute
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, cfg *config.TimingConfig, fs *memFS, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithFileStore(fs),
		WithRenderer(&tagRenderer{}),
		WithLogger(quietLogger()),
	}
	return New(cfg, append(base, opts...)...)
}

// recvKind receives events until one of the wanted kind arrives, skipping
// the others. Use where interleaved presence or keepalive frames are not
// the point of the test.
func recvKind(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "channel closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
			return Event{}
		}
	}
}

// expectNoKind asserts that no event of the given kind arrives within d.
func expectNoKind(t *testing.T, ch <-chan Event, kind EventKind, d time.Duration) {
	t.Helper()
	deadline := time.After(d)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind == kind {
				t.Fatalf("unexpected %s event", kind)
			}
		case <-deadline:
			return
		}
	}
}

// openAndDrain opens the document for a client and consumes the fixed
// connect sequence: config, full-content bootstrap diff, own join. It
// returns the subscription and the content reconstructed from the stream.
func openAndDrain(t *testing.T, e *Engine, path, clientID string) (*Subscription, string) {
	t.Helper()

	info, sub, err := e.Open(context.Background(), path, clientID)
	require.NoError(t, err)

	first := recvEvent(t, sub.Events())
	require.Equal(t, EventConfig, first.Kind, "config must be first on the stream")

	boot := recvEvent(t, sub.Events())
	require.Equal(t, EventTextDiff, boot.Kind, "bootstrap diff must follow config")
	require.Equal(t, 0, boot.TextDiff.FromLen)
	content, err := diff.Apply("", boot.TextDiff.Edits)
	require.NoError(t, err)
	require.Equal(t, info.Content, content, "bootstrap must reconstruct the snapshot")

	join := recvEvent(t, sub.Events())
	require.Equal(t, EventPresence, join.Kind)
	require.Equal(t, PresenceJoin, join.Presence.Action)
	require.Equal(t, clientID, join.Presence.ClientID)

	return sub, content
}
