package editor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/coedit/internal/config"
	"github.com/roach88/coedit/internal/diff"
	"github.com/roach88/coedit/internal/watch"
)

// Renderer turns markdown source into preview HTML.
type Renderer interface {
	Render(ctx context.Context, source string) (string, error)
}

// FileStore is the engine's view of the filesystem. The engine reads a
// document once per open and once per watcher notification, and writes
// whole documents on save.
type FileStore interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
}

// Watcher feeds on-disk change notifications into the reconciler.
// *watch.Poller satisfies it.
type Watcher interface {
	Add(path string)
	Remove(path string)
	MarkClean(path string)
	Events() <-chan watch.Event
	Run(ctx context.Context)
}

// Journal records crash-recovery drafts and save revisions. Journal
// failures are logged and never propagated: durability bookkeeping must
// not fail an edit or a save.
type Journal interface {
	RecordDraft(ctx context.Context, path, content string, at time.Time) error
	ClearDraft(ctx context.Context, path string) error
	RecordRevision(ctx context.Context, path, content string, savedAt time.Time) (string, error)
}

// OSFileStore reads and writes documents on the local filesystem. Writes
// are atomic: content lands in a temp file next to the target and is
// renamed over it, so the watcher never observes a half-written document.
type OSFileStore struct{}

func (OSFileStore) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (OSFileStore) WriteFile(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, werr := tmp.WriteString(content)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		if werr != nil {
			return werr
		}
		return cerr
	}

	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode()
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// passthroughRenderer returns the source unchanged. Default when no
// renderer is injected; serve always wires the markdown renderer.
type passthroughRenderer struct{}

func (passthroughRenderer) Render(_ context.Context, source string) (string, error) {
	return source, nil
}

// Engine owns every open document session and the shared machinery
// around them: dispatcher, presence hub, reconciler, and the interval
// pumps for autosave, keepalive, and the stale sweep.
//
// Document state lives in per-path session loops; the engine's own lock
// guards only the path registry, so sessions never contend with each
// other.
type Engine struct {
	cfg          *config.TimingConfig
	log          *slog.Logger
	clock        Clock
	ids          IDGenerator
	files        FileStore
	renderer     Renderer
	differ       diff.Differ
	watcher      Watcher
	journal      Journal
	reloadNotify func(path string)
	chanBuffer   int

	dispatcher *Dispatcher
	hub        *Hub
	reconciler *Reconciler

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger; nil falls back to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator overrides client id generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithFileStore overrides filesystem access.
func WithFileStore(fs FileStore) Option {
	return func(e *Engine) { e.files = fs }
}

// WithRenderer sets the slow-path renderer.
func WithRenderer(r Renderer) Option {
	return func(e *Engine) { e.renderer = r }
}

// WithDiffer overrides the fast-path edit script computation.
func WithDiffer(d diff.Differ) Option {
	return func(e *Engine) { e.differ = d }
}

// WithWatcher attaches an external-change watcher. Without one the engine
// never learns about writes it did not make.
func WithWatcher(w Watcher) Option {
	return func(e *Engine) { e.watcher = w }
}

// WithJournal attaches the crash-recovery journal.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithReloadNotifier registers a callback fired when a document's last
// participant leaves. Dev servers use it to trigger the one deliberate
// reload that replaces the hot reloads suppressed while editing.
func WithReloadNotifier(fn func(path string)) Option {
	return func(e *Engine) { e.reloadNotify = fn }
}

// WithChannelBuffer overrides the per-client event buffer size.
func WithChannelBuffer(n int) Option {
	return func(e *Engine) { e.chanBuffer = n }
}

// New assembles an engine. Defaults: system clock, UUIDv7 ids, the OS
// filesystem, character diffs, and a passthrough renderer. Watcher,
// journal, and reload notifier stay off unless injected.
func New(cfg *config.TimingConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		log:      slog.Default(),
		clock:    SystemClock{},
		ids:      UUIDv7Generator{},
		files:    OSFileStore{},
		differ:   diff.NewTextDiffer(),
		renderer: passthroughRenderer{},
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.dispatcher = NewDispatcher(cfg.ClientView(), e.chanBuffer, e.log)
	e.hub = NewHub(cfg.CursorThrottle, cfg.StaleThreshold, e.clock, e.dispatcher.Publish)
	e.reconciler = NewReconciler(e.clock)

	if cfg.StaleThreshold <= cfg.PingInterval {
		e.log.Warn("staleThresholdMs does not exceed pingIntervalMs; well-behaved clients may be evicted between pings",
			"staleThresholdMs", cfg.StaleThreshold.Milliseconds(),
			"pingIntervalMs", cfg.PingInterval.Milliseconds(),
		)
	}
	return e
}

// NewClientID mints a participant id for a new connection.
func (e *Engine) NewClientID() string {
	return e.ids.Generate()
}

// Open attaches a client to the document at path, creating the session on
// first open. The subscription's stream begins with the config event,
// then a full-content bootstrap diff, then the join broadcast.
func (e *Engine) Open(ctx context.Context, path, clientID string) (SessionInfo, *Subscription, error) {
	path = filepath.Clean(path)

	// A session can close between lookup and enqueue; retry against the
	// replacement.
	for attempt := 0; attempt < 3; attempt++ {
		s, err := e.getOrCreate(path)
		if err != nil {
			return SessionInfo{}, nil, err
		}

		reply := make(chan result, 1)
		if !s.queue.Enqueue(command{kind: cmdJoin, clientID: clientID, reply: reply}) {
			e.dropSession(path, s)
			continue
		}

		select {
		case res := <-reply:
			if res.err != nil {
				if IsSessionNotFound(res.err) {
					continue
				}
				return SessionInfo{}, nil, res.err
			}
			return *res.info, res.sub, nil
		case <-ctx.Done():
			// The join still lands; undo it once it does.
			go func() {
				if res := <-reply; res.sub != nil {
					e.Close(context.Background(), path, clientID)
				}
			}()
			return SessionInfo{}, nil, ctx.Err()
		}
	}
	return SessionInfo{}, nil, NewSessionNotFoundError(path)
}

// Edit replaces the live content of path wholesale; the newest edit wins.
// The editing client's heartbeat is refreshed as a side effect.
func (e *Engine) Edit(ctx context.Context, path, clientID, content string) error {
	res, err := e.roundTrip(ctx, path, command{kind: cmdEdit, clientID: clientID, content: content})
	if err != nil {
		return err
	}
	return res.err
}

// Save flushes path to disk now. Reports whether a write happened; saving
// a clean session is a no-op.
func (e *Engine) Save(ctx context.Context, path string) (bool, error) {
	res, err := e.roundTrip(ctx, path, command{kind: cmdSave})
	if err != nil {
		return false, err
	}
	return res.flushed, res.err
}

// Close detaches a client from path. The last participant's close flushes
// the document and ends the session. Closing an unknown client or an
// already-closed session is a no-op.
func (e *Engine) Close(ctx context.Context, path, clientID string) error {
	res, err := e.roundTrip(ctx, path, command{kind: cmdDetach, clientID: clientID})
	if err != nil {
		if IsSessionNotFound(err) {
			return nil
		}
		return err
	}
	return res.err
}

// Snapshot returns a consistent read-only view of an open session.
func (e *Engine) Snapshot(ctx context.Context, path string) (SessionInfo, error) {
	res, err := e.roundTrip(ctx, path, command{kind: cmdSnapshot})
	if err != nil {
		return SessionInfo{}, err
	}
	return *res.info, nil
}

// Sessions snapshots every open session. Order is unspecified.
func (e *Engine) Sessions(ctx context.Context) []SessionInfo {
	e.mu.Lock()
	paths := make([]string, 0, len(e.sessions))
	for p := range e.sessions {
		paths = append(paths, p)
	}
	e.mu.Unlock()

	out := make([]SessionInfo, 0, len(paths))
	for _, p := range paths {
		info, err := e.Snapshot(ctx, p)
		if err != nil {
			continue // closed between listing and snapshot
		}
		out = append(out, info)
	}
	return out
}

// MoveCursor records a participant's position and broadcasts it under the
// throttle policy. Cursor traffic bypasses the session loop so a slow
// render or save never delays it.
func (e *Engine) MoveCursor(clientID string, cur Cursor) error {
	if !e.hub.MoveCursor(clientID, cur) {
		return NewClientNotFoundError("", clientID)
	}
	return nil
}

// Heartbeat refreshes a participant's liveness from an explicit ping.
func (e *Engine) Heartbeat(clientID string) error {
	if !e.hub.Heartbeat(clientID) {
		return NewClientNotFoundError("", clientID)
	}
	return nil
}

// SuppressReload reports whether a live session holds path open. Dev
// servers consult this to skip hot reloads that would clobber an editing
// browser; the deliberate reload arrives through the close notifier.
func (e *Engine) SuppressReload(path string) bool {
	path = filepath.Clean(path)
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[path]
	return ok
}

// SessionCount returns the number of open documents.
func (e *Engine) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// ParticipantCount returns the number of attached clients across all
// documents.
func (e *Engine) ParticipantCount() int {
	return e.hub.Count()
}

// Run drives the interval pumps until ctx is cancelled, then flushes and
// closes every session. Pending saves complete before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("editor engine starting",
		"autosaveMs", e.cfg.AutosaveInterval.Milliseconds(),
		"keepaliveMs", e.cfg.KeepaliveInterval.Milliseconds(),
		"staleMs", e.cfg.StaleThreshold.Milliseconds(),
	)

	var wg sync.WaitGroup
	if e.watcher != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.watcher.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			e.pumpWatch(ctx)
		}()
	}

	autosave := time.NewTicker(e.cfg.AutosaveInterval)
	defer autosave.Stop()
	keepalive := time.NewTicker(e.cfg.KeepaliveInterval)
	defer keepalive.Stop()
	sweep := time.NewTicker(e.cfg.StaleThreshold / 3)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			e.shutdown()
			return ctx.Err()
		case <-autosave.C:
			e.autosaveSweep()
		case <-keepalive.C:
			// An accepted frame proves the consumer is draining, which
			// counts as liveness even when the user is idle.
			e.hub.HeartbeatAll(e.dispatcher.Keepalive())
		case <-sweep.C:
			e.staleSweep()
		}
	}
}

// autosaveSweep asks every session to flush. Each flush runs on its own
// loop, so one slow disk delays only its own document.
func (e *Engine) autosaveSweep() {
	for _, s := range e.snapshotSessions() {
		s.queue.Enqueue(command{kind: cmdAutosave})
	}
}

// staleSweep routes each expired participant through its session loop,
// where RemoveIfStale re-checks the threshold before evicting.
func (e *Engine) staleSweep() {
	for _, ref := range e.hub.Expired() {
		e.mu.Lock()
		s, ok := e.sessions[ref.Path]
		e.mu.Unlock()
		if !ok || !s.queue.Enqueue(command{kind: cmdDetach, clientID: ref.ClientID, stale: true}) {
			// No loop left to own the eviction; evict directly.
			e.hub.RemoveIfStale(ref.ClientID)
		}
	}
}

// pumpWatch turns watcher deltas into reconciler verdicts and feeds the
// survivors to the owning session loops.
func (e *Engine) pumpWatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.watcher.Events():
			if !ok {
				return
			}
			e.handleWatchEvent(ev)
		}
	}
}

func (e *Engine) handleWatchEvent(ev watch.Event) {
	e.mu.Lock()
	s, ok := e.sessions[ev.Path]
	e.mu.Unlock()
	if !ok {
		return
	}

	if ev.Op == watch.OpRemove {
		s.queue.Enqueue(command{kind: cmdFileChanged, deleted: true})
		return
	}

	content, err := e.files.ReadFile(ev.Path)
	if err != nil {
		if os.IsNotExist(err) {
			s.queue.Enqueue(command{kind: cmdFileChanged, deleted: true})
		} else {
			e.log.Warn("re-reading changed document failed", "path", ev.Path, "error", err)
		}
		return
	}

	if e.reconciler.Absorb(ev.Path, hashContent(content)) {
		e.log.Debug("own save echo absorbed", "path", ev.Path)
		e.watcher.MarkClean(ev.Path)
		return
	}

	s.queue.Enqueue(command{kind: cmdFileChanged, content: content})
}

// shutdown flushes every session and tears the shared machinery down.
func (e *Engine) shutdown() {
	sessions := e.snapshotSessions()
	for _, s := range sessions {
		s.queue.Enqueue(command{kind: cmdShutdown})
	}
	for _, s := range sessions {
		<-s.done
	}
	e.dispatcher.CloseAll()
	e.hub.Stop()
	e.log.Info("editor engine stopped")
}

// getOrCreate returns the open session for path or creates one, reading
// the document and registering the watch. The file read happens outside
// the registry lock so a slow disk blocks only this path's opens.
func (e *Engine) getOrCreate(path string) (*session, error) {
	e.mu.Lock()
	if s, ok := e.sessions[path]; ok {
		e.mu.Unlock()
		return s, nil
	}
	e.mu.Unlock()

	content, err := e.files.ReadFile(path)
	if err != nil {
		return nil, NewFileNotFoundError(path, err)
	}

	e.mu.Lock()
	if s, ok := e.sessions[path]; ok {
		e.mu.Unlock()
		return s, nil
	}
	s := newSession(e, path, content)
	e.sessions[path] = s
	e.mu.Unlock()

	go s.run()
	e.watchAdd(path)
	return s, nil
}

// roundTrip enqueues a command carrying a reply channel and waits for the
// loop's answer. Cancellation is honored while waiting; the command
// itself still executes either way.
func (e *Engine) roundTrip(ctx context.Context, path string, cmd command) (result, error) {
	path = filepath.Clean(path)

	e.mu.Lock()
	s, ok := e.sessions[path]
	e.mu.Unlock()
	if !ok {
		return result{}, NewSessionNotFoundError(path)
	}

	cmd.reply = make(chan result, 1)
	if !s.queue.Enqueue(cmd) {
		return result{}, NewSessionNotFoundError(path)
	}

	select {
	case res := <-cmd.reply:
		return res, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// dropSession removes path's registry entry if it still points at s.
func (e *Engine) dropSession(path string, s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.sessions[path]; ok && cur == s {
		delete(e.sessions, path)
	}
}

func (e *Engine) snapshotSessions() []*session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

func (e *Engine) watchAdd(path string) {
	if e.watcher != nil {
		e.watcher.Add(path)
	}
}

func (e *Engine) watchRemove(path string) {
	if e.watcher != nil {
		e.watcher.Remove(path)
	}
}

// recordDraft checkpoints live content in the journal; failures are
// logged, never surfaced.
func (e *Engine) recordDraft(path, content string, at time.Time) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordDraft(context.Background(), path, content, at); err != nil {
		e.log.Warn("journal draft write failed", "path", path, "error", err)
	}
}

// recordSave appends a revision and clears the draft row after a
// successful flush; failures are logged, never surfaced.
func (e *Engine) recordSave(path, content string, at time.Time) {
	if e.journal == nil {
		return
	}
	ctx := context.Background()
	if _, err := e.journal.RecordRevision(ctx, path, content, at); err != nil {
		e.log.Warn("journal revision write failed", "path", path, "error", err)
	}
	if err := e.journal.ClearDraft(ctx, path); err != nil {
		e.log.Warn("journal draft clear failed", "path", path, "error", err)
	}
}
