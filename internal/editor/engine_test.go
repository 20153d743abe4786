package editor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coedit/internal/testutil"
	"github.com/roach88/coedit/internal/watch"
)

// startEngine runs the engine loop in the background and returns a stop
// function that cancels it and waits for the shutdown flush to finish.
func startEngine(t *testing.T, e *Engine) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				require.ErrorIs(t, err, context.Canceled)
			case <-time.After(5 * time.Second):
				t.Fatal("engine did not stop")
			}
		})
	}
}

func TestRunShutdownFlushesSessions(t *testing.T) {
	fs := newMemFS()
	fs.set("notes/a.md", "v1")
	var notifies int
	e := newTestEngine(t, testTiming(), fs, WithReloadNotifier(func(string) { notifies++ }))
	stop := startEngine(t, e)

	alice, _ := openAndDrain(t, e, "notes/a.md", "alice")
	require.NoError(t, e.Edit(context.Background(), "notes/a.md", "alice", "v2"))

	stop()

	onDisk, ok := fs.get("notes/a.md")
	require.True(t, ok)
	assert.Equal(t, "v2", onDisk, "shutdown flushes dirty sessions")
	assert.Equal(t, 0, e.SessionCount())

	for range alice.Events() {
		// Drain until the shutdown close.
	}
	assert.Equal(t, 0, notifies, "engine shutdown is not a last-participant close")
}

func TestExternalChangeBroadcasts(t *testing.T) {
	fs := newMemFS()
	fs.set("notes/a.md", "v1")
	w := newFakeWatcher()
	e := newTestEngine(t, testTiming(), fs, WithWatcher(w))
	stop := startEngine(t, e)
	defer stop()

	alice, _ := openAndDrain(t, e, "notes/a.md", "alice")
	defer alice.Close()

	added, _, _ := w.counts("notes/a.md")
	assert.Equal(t, 1, added, "open registers the watch")

	fs.set("notes/a.md", "rewritten elsewhere")
	w.emit("notes/a.md", watch.OpModify)

	ev := recvKind(t, alice.Events(), EventFileChanged)
	assert.Equal(t, "rewritten elsewhere", ev.FileChanged.Content)
	assert.False(t, ev.FileChanged.Deleted)

	// Live content is never clobbered; the session is now out of step
	// with disk and a flush would reassert it.
	info, err := e.Snapshot(context.Background(), "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "v1", info.Content)
	assert.True(t, info.Dirty)
}

func TestExternalDeleteBroadcastsAndNextSaveRestores(t *testing.T) {
	fs := newMemFS()
	fs.set("notes/a.md", "v1")
	w := newFakeWatcher()
	e := newTestEngine(t, testTiming(), fs, WithWatcher(w))
	stop := startEngine(t, e)
	defer stop()

	alice, _ := openAndDrain(t, e, "notes/a.md", "alice")
	defer alice.Close()

	fs.delete("notes/a.md")
	w.emit("notes/a.md", watch.OpRemove)

	ev := recvKind(t, alice.Events(), EventFileChanged)
	assert.True(t, ev.FileChanged.Deleted)

	ctx := context.Background()
	require.NoError(t, e.Edit(ctx, "notes/a.md", "alice", "v2"))
	flushed, err := e.Save(ctx, "notes/a.md")
	require.NoError(t, err)
	assert.True(t, flushed)

	onDisk, ok := fs.get("notes/a.md")
	require.True(t, ok)
	assert.Equal(t, "v2", onDisk)
}

func TestExternalChangeMatchingLiveIsSilent(t *testing.T) {
	fs := newMemFS()
	fs.set("notes/a.md", "v1")
	w := newFakeWatcher()
	e := newTestEngine(t, testTiming(), fs, WithWatcher(w))
	stop := startEngine(t, e)
	defer stop()

	alice, _ := openAndDrain(t, e, "notes/a.md", "alice")
	defer alice.Close()

	ctx := context.Background()
	require.NoError(t, e.Edit(ctx, "notes/a.md", "alice", "v2"))

	// Someone lands the same bytes on disk; the session is clean again
	// and clients have nothing to reconcile.
	fs.set("notes/a.md", "v2")
	w.emit("notes/a.md", watch.OpModify)

	expectNoKind(t, alice.Events(), EventFileChanged, 150*time.Millisecond)

	flushed, err := e.Save(ctx, "notes/a.md")
	require.NoError(t, err)
	assert.False(t, flushed, "disk already matches")
}

func TestOwnSaveEchoAbsorbed(t *testing.T) {
	fs := newMemFS()
	fs.set("notes/a.md", "v1")
	w := newFakeWatcher()
	e := newTestEngine(t, testTiming(), fs, WithWatcher(w))
	stop := startEngine(t, e)
	defer stop()

	alice, _ := openAndDrain(t, e, "notes/a.md", "alice")
	defer alice.Close()

	ctx := context.Background()
	require.NoError(t, e.Edit(ctx, "notes/a.md", "alice", "v2"))
	flushed, err := e.Save(ctx, "notes/a.md")
	require.NoError(t, err)
	require.True(t, flushed)

	// The watcher reports our own write back; the reconciler eats it.
	w.emit("notes/a.md", watch.OpModify)

	require.Eventually(t, func() bool {
		_, _, cleaned := w.counts("notes/a.md")
		return cleaned == 1
	}, time.Second, 5*time.Millisecond)
	expectNoKind(t, alice.Events(), EventFileChanged, 150*time.Millisecond)
}

func TestAutosaveFlushesPeriodically(t *testing.T) {
	cfg := testTiming()
	cfg.AutosaveInterval = 25 * time.Millisecond

	fs := newMemFS()
	fs.set("notes/a.md", "v1")
	e := newTestEngine(t, cfg, fs)
	stop := startEngine(t, e)
	defer stop()

	alice, _ := openAndDrain(t, e, "notes/a.md", "alice")
	defer alice.Close()

	require.NoError(t, e.Edit(context.Background(), "notes/a.md", "alice", "v2"))

	require.Eventually(t, func() bool {
		onDisk, ok := fs.get("notes/a.md")
		return ok && onDisk == "v2"
	}, 2*time.Second, 10*time.Millisecond)

	info, err := e.Snapshot(context.Background(), "notes/a.md")
	require.NoError(t, err)
	assert.False(t, info.Dirty)
}

func TestStaleParticipantsEvicted(t *testing.T) {
	cfg := testTiming()
	cfg.StaleThreshold = 60 * time.Millisecond
	cfg.KeepaliveInterval = time.Hour // nothing refreshes heartbeats

	fs := newMemFS()
	fs.set("notes/a.md", "v1")

	var mu sync.Mutex
	var notifies int
	e := newTestEngine(t, cfg, fs, WithReloadNotifier(func(string) {
		mu.Lock()
		defer mu.Unlock()
		notifies++
	}))
	stop := startEngine(t, e)
	defer stop()

	alice, _ := openAndDrain(t, e, "notes/a.md", "alice")
	bob, _ := openAndDrain(t, e, "notes/a.md", "bob")
	_ = bob

	require.Eventually(t, func() bool {
		return e.SessionCount() == 0 && e.ParticipantCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "silent participants must be swept")

	mu.Lock()
	assert.Equal(t, 1, notifies, "last eviction counts as the last close")
	mu.Unlock()

	var sawStale bool
	for ev := range alice.Events() {
		if ev.Kind == EventPresence && ev.Presence.Action == PresenceLeave && ev.Presence.Reason == LeaveReasonStale {
			sawStale = true
		}
	}
	assert.True(t, sawStale)
}

func TestKeepaliveKeepsDrainingClientAlive(t *testing.T) {
	cfg := testTiming()
	cfg.StaleThreshold = 90 * time.Millisecond
	cfg.KeepaliveInterval = 20 * time.Millisecond

	fs := newMemFS()
	fs.set("notes/a.md", "v1")
	e := newTestEngine(t, cfg, fs)
	stop := startEngine(t, e)

	alice, _ := openAndDrain(t, e, "notes/a.md", "alice")
	go func() {
		for range alice.Events() {
		}
	}()

	// Idle but draining: accepted keepalives stand in for pings.
	time.Sleep(4 * cfg.StaleThreshold)
	assert.Equal(t, 1, e.ParticipantCount(), "a draining client must survive idle periods")

	stop()
}

func TestCursorBroadcastThrottled(t *testing.T) {
	cfg := testTiming()
	cfg.CursorThrottle = 80 * time.Millisecond

	fs := newMemFS()
	fs.set("notes/a.md", "v1")
	e := newTestEngine(t, cfg, fs)

	alice, _ := openAndDrain(t, e, "notes/a.md", "alice")
	defer alice.Close()
	bob, _ := openAndDrain(t, e, "notes/a.md", "bob")
	defer bob.Close()
	recvKind(t, alice.Events(), EventPresence) // bob's join

	// A burst inside one throttle window: the first position goes out on
	// the leading edge, the last on the trailing edge, nothing between.
	for col := 1; col <= 5; col++ {
		require.NoError(t, e.MoveCursor("bob", Cursor{Line: 1, Column: col}))
	}

	first := recvKind(t, alice.Events(), EventCursor)
	assert.Equal(t, "bob", first.Cursor.ClientID)
	assert.Equal(t, Cursor{Line: 1, Column: 1}, first.Cursor.Cursor)

	last := recvKind(t, alice.Events(), EventCursor)
	assert.Equal(t, Cursor{Line: 1, Column: 5}, last.Cursor.Cursor)

	expectNoKind(t, alice.Events(), EventCursor, 2*cfg.CursorThrottle)

	// The roster remembers the final position.
	info, err := e.Snapshot(context.Background(), "notes/a.md")
	require.NoError(t, err)
	for _, p := range info.Participants {
		if p.ClientID == "bob" {
			require.NotNil(t, p.Cursor)
			assert.Equal(t, 5, p.Cursor.Column)
		}
	}
}

func TestMoveCursorUnknownClient(t *testing.T) {
	fs := newMemFS()
	fs.set("notes/a.md", "v1")
	e := newTestEngine(t, testTiming(), fs)

	err := e.MoveCursor("ghost", Cursor{Line: 1, Column: 1})
	require.Error(t, err)
	assert.True(t, IsClientNotFound(err))
}

func TestHeartbeat(t *testing.T) {
	fs := newMemFS()
	fs.set("notes/a.md", "v1")
	e := newTestEngine(t, testTiming(), fs)

	sub, _ := openAndDrain(t, e, "notes/a.md", "alice")
	defer sub.Close()

	require.NoError(t, e.Heartbeat("alice"))

	err := e.Heartbeat("ghost")
	require.Error(t, err)
	assert.True(t, IsClientNotFound(err))
}

func TestSuppressReloadWhileOpen(t *testing.T) {
	fs := newMemFS()
	fs.set("notes/a.md", "v1")
	e := newTestEngine(t, testTiming(), fs)

	assert.False(t, e.SuppressReload("notes/a.md"))

	sub, _ := openAndDrain(t, e, "notes/a.md", "alice")
	_ = sub
	assert.True(t, e.SuppressReload("notes/a.md"))
	assert.True(t, e.SuppressReload("./notes/a.md"), "paths are cleaned before lookup")
	assert.False(t, e.SuppressReload("notes/other.md"))

	require.NoError(t, e.Close(context.Background(), "notes/a.md", "alice"))
	assert.False(t, e.SuppressReload("notes/a.md"))
}

func TestOpenCleansPath(t *testing.T) {
	fs := newMemFS()
	fs.set("notes/a.md", "v1")
	e := newTestEngine(t, testTiming(), fs)

	info, sub, err := e.Open(context.Background(), "./notes/../notes/a.md", "alice")
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, "notes/a.md", info.Path)

	// The cleaned path shares the session.
	other, otherSub, err := e.Open(context.Background(), "notes/a.md", "bob")
	require.NoError(t, err)
	defer otherSub.Close()
	assert.Equal(t, info.Path, other.Path)
	assert.Equal(t, 1, e.SessionCount())
}

func TestNewClientIDsAreDistinctUUIDs(t *testing.T) {
	e := newTestEngine(t, testTiming(), newMemFS())

	a := e.NewClientID()
	b := e.NewClientID()
	assert.NotEqual(t, a, b)

	for _, id := range []string{a, b} {
		parsed, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), parsed.Version())
	}
}

func TestNewClientIDUsesInjectedGenerator(t *testing.T) {
	e := newTestEngine(t, testTiming(), newMemFS(),
		WithIDGenerator(testutil.NewIDSequence("conn")))

	assert.Equal(t, "conn-001", e.NewClientID())
	assert.Equal(t, "conn-002", e.NewClientID())
}
