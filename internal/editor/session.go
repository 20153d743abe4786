package editor

import (
	"context"
	"time"

	"github.com/roach88/coedit/internal/diff"
)

// SessionInfo is a read-only view of one document session, answered from
// the owning loop so content and flags are always mutually consistent.
type SessionInfo struct {
	Path         string            `json:"path"`
	Content      string            `json:"content"`
	Dirty        bool              `json:"dirty"`
	OpenedAt     time.Time         `json:"openedAt"`
	LastEditAt   time.Time         `json:"lastEditAt"`
	LastSavedAt  time.Time         `json:"lastSavedAt"`
	Participants []ParticipantInfo `json:"participants"`
}

// session is the actor that owns one document. All state below the queue
// is touched only by the run goroutine, so none of it is locked. Everything
// that mutates the document arrives as a command; the two timers are the
// only other inputs.
type session struct {
	eng  *Engine
	path string

	queue *commandQueue
	done  chan struct{} // closed when run returns

	// Loop-owned state.
	live          string // authoritative in-memory content
	baseline      string // last content known to be on disk
	dirty         bool   // live != baseline
	renderPending bool   // an edit landed since the last render pass
	lastRendered  string
	lastBroadcast string // content the last text-diff brought clients to

	openedAt    time.Time
	lastEditAt  time.Time
	lastSavedAt time.Time

	debounce      *time.Timer
	debounceArmed bool
	render        *time.Ticker

	closed bool
}

// newSession builds the actor around content as read from disk. The
// caller starts the loop with go s.run().
func newSession(eng *Engine, path, content string) *session {
	s := &session{
		eng:           eng,
		path:          path,
		queue:         newCommandQueue(),
		done:          make(chan struct{}),
		live:          content,
		baseline:      content,
		lastBroadcast: content,
		openedAt:      eng.clock.Now(),
		render:        time.NewTicker(eng.cfg.RenderInterval),
	}

	// The debounce timer starts disarmed; armDebounce resets it per edit.
	s.debounce = time.NewTimer(time.Hour)
	if !s.debounce.Stop() {
		<-s.debounce.C
	}
	return s
}

// run is the session loop. Queued commands are drained before timers so
// an edit burst is coalesced ahead of any broadcast the timers trigger.
func (s *session) run() {
	defer close(s.done)
	s.eng.log.Info("session opened", "path", s.path, "bytes", len(s.live))

	for {
		for {
			cmd, ok := s.queue.TryDequeue()
			if !ok {
				break
			}
			s.apply(cmd)
			if s.closed {
				s.drainQueue()
				return
			}
		}

		select {
		case <-s.queue.Wait():
		case <-s.debounce.C:
			s.debounceArmed = false
			s.flushDiff()
		case <-s.render.C:
			s.renderPass()
		}
	}
}

func (s *session) apply(cmd command) {
	switch cmd.kind {
	case cmdJoin:
		s.handleJoin(cmd)
	case cmdEdit:
		s.handleEdit(cmd)
	case cmdSave:
		flushed, err := s.save()
		cmd.reply <- result{err: err, flushed: flushed}
	case cmdAutosave:
		if s.dirty {
			if _, err := s.save(); err != nil {
				s.eng.log.Warn("autosave flush failed", "path", s.path, "error", err)
			}
		}
	case cmdDetach:
		s.handleDetach(cmd)
	case cmdSnapshot:
		info := s.snapshot()
		cmd.reply <- result{info: &info}
	case cmdFileChanged:
		s.handleFileChanged(cmd)
	case cmdShutdown:
		s.handleShutdown(cmd)
	}
}

// handleJoin attaches a client in a single loop step: flush any pending
// diff, subscribe the channel, bootstrap it, register presence, and reply
// with the snapshot. Nothing can interleave, so the subscriber's stream
// alone reconstructs the live state.
func (s *session) handleJoin(cmd command) {
	if s.debounceArmed {
		s.disarmDebounce()
		s.flushDiff()
	}

	sub := s.eng.dispatcher.Subscribe(s.path, cmd.clientID)

	// Full-content bootstrap as a script from the empty document. The
	// config event is already queued ahead of it.
	s.eng.dispatcher.PublishTo(cmd.clientID, Event{
		Kind: EventTextDiff,
		Path: s.path,
		TextDiff: &TextDiffPayload{
			Edits:   bootstrapScript(s.live),
			FromLen: 0,
		},
	})

	s.eng.hub.Register(s.path, cmd.clientID)

	info := s.snapshot()
	cmd.reply <- result{info: &info, sub: sub}
}

// handleEdit replaces the live content wholesale; the newest edit wins.
func (s *session) handleEdit(cmd command) {
	if !s.eng.hub.Heartbeat(cmd.clientID) {
		cmd.reply <- result{err: NewClientNotFoundError(s.path, cmd.clientID)}
		return
	}

	s.live = cmd.content
	s.dirty = s.live != s.baseline
	s.renderPending = true
	s.lastEditAt = s.eng.clock.Now()
	s.armDebounce()

	cmd.reply <- result{}
}

// handleDetach removes one client. A second detach for the same id is a
// no-op, which makes transport teardown and explicit close safe to race.
func (s *session) handleDetach(cmd command) {
	var removed bool
	if cmd.stale {
		removed = s.eng.hub.RemoveIfStale(cmd.clientID)
	} else {
		removed = s.eng.hub.Remove(cmd.clientID, LeaveReasonClosed)
	}
	if removed {
		s.eng.dispatcher.Unsubscribe(cmd.clientID)
	}
	if removed && s.eng.hub.CountForPath(s.path) == 0 {
		s.closeSession()
	}

	// Reply last so Close returns only after a final flush completed.
	if cmd.reply != nil {
		cmd.reply <- result{}
	}
}

// handleFileChanged applies the reconciler's verdict: the bytes on disk
// are not ours. Live content is never touched; clients see the disk state
// and decide.
func (s *session) handleFileChanged(cmd command) {
	if cmd.deleted {
		// Baseline stays as-is so a later save restores the document
		// instead of silently losing live edits.
		s.eng.log.Warn("document deleted on disk", "path", s.path)
		s.eng.dispatcher.Publish(s.path, Event{
			Kind:        EventFileChanged,
			Path:        s.path,
			FileChanged: &FileChangedPayload{Deleted: true},
		})
		return
	}

	s.baseline = cmd.content
	s.dirty = s.live != s.baseline
	if !s.dirty {
		// Disk caught up with the live state; nothing to tell clients.
		return
	}

	s.eng.log.Info("external change detected", "path", s.path, "bytes", len(cmd.content))
	s.eng.dispatcher.Publish(s.path, Event{
		Kind:        EventFileChanged,
		Path:        s.path,
		FileChanged: &FileChangedPayload{Content: cmd.content},
	})
}

// handleShutdown is the engine-stop path: checkpoint, flush, tear down.
func (s *session) handleShutdown(cmd command) {
	if s.dirty {
		s.eng.recordDraft(s.path, s.live, s.eng.clock.Now())
	}
	if _, err := s.save(); err != nil {
		s.eng.log.Error("shutdown save failed; draft row holds the content", "path", s.path, "error", err)
	}
	s.teardown()
	if cmd.reply != nil {
		cmd.reply <- result{}
	}
}

// closeSession is the last-participant path: final flush, reload
// notification, teardown.
func (s *session) closeSession() {
	if s.dirty {
		s.eng.recordDraft(s.path, s.live, s.eng.clock.Now())
	}
	if _, err := s.save(); err != nil {
		s.eng.log.Error("final save on close failed; draft row holds the content", "path", s.path, "error", err)
	}
	s.teardown()
	if s.eng.reloadNotify != nil {
		s.eng.reloadNotify(s.path)
	}
}

// teardown stops the timers, unregisters everywhere, and closes the
// queue. The loop drains what is left and exits.
func (s *session) teardown() {
	s.render.Stop()
	s.disarmDebounce()
	s.eng.watchRemove(s.path)
	s.eng.reconciler.Forget(s.path)
	s.eng.dropSession(s.path, s)
	s.queue.Close()
	s.closed = true
	s.eng.log.Info("session closed", "path", s.path, "dirty", s.dirty)
}

// drainQueue answers commands that were queued behind the close so no
// caller blocks on a dead session.
func (s *session) drainQueue() {
	for {
		cmd, ok := s.queue.TryDequeue()
		if !ok {
			return
		}
		if cmd.reply != nil {
			cmd.reply <- result{err: NewSessionNotFoundError(s.path)}
		}
	}
}

// save flushes the live content to disk. Clean sessions are a no-op. The
// suppression entry is registered before the write, so however fast the
// watcher polls, the echo is already accounted for. One immediate retry;
// a second failure is broadcast and the session stays dirty in memory.
func (s *session) save() (bool, error) {
	if !s.dirty {
		return false, nil
	}

	content := s.live
	s.eng.reconciler.Suppress(s.path, hashContent(content))

	err := s.eng.files.WriteFile(s.path, content)
	if err != nil {
		s.eng.log.Warn("save failed, retrying once", "path", s.path, "error", err)
		s.eng.reconciler.Suppress(s.path, hashContent(content))
		err = s.eng.files.WriteFile(s.path, content)
	}
	if err != nil {
		s.eng.log.Error("save failed after retry; session stays dirty", "path", s.path, "error", err)
		s.eng.dispatcher.Publish(s.path, Event{
			Kind:       EventSaveFailed,
			Path:       s.path,
			SaveFailed: &SaveFailedPayload{Error: err.Error()},
		})
		return false, NewSaveFailedError(s.path, err)
	}

	s.baseline = content
	s.dirty = false
	s.lastSavedAt = s.eng.clock.Now()
	s.eng.recordSave(s.path, content, s.lastSavedAt)
	return true, nil
}

// flushDiff is the fast path: one edit script per quiet window, bringing
// every subscriber from the last broadcast state to live. The quiet
// boundary doubles as the crash-recovery checkpoint.
func (s *session) flushDiff() {
	if s.live != s.lastBroadcast {
		edits := s.eng.differ.Edits(s.lastBroadcast, s.live)
		if len(edits) > 0 {
			s.eng.dispatcher.Publish(s.path, Event{
				Kind: EventTextDiff,
				Path: s.path,
				TextDiff: &TextDiffPayload{
					Edits:   edits,
					FromLen: len(s.lastBroadcast),
				},
			})
		}
		s.lastBroadcast = s.live
	}

	if s.dirty {
		s.eng.recordDraft(s.path, s.live, s.eng.clock.Now())
	}
}

// renderPass is the slow path: at most one render per interval, and only
// when something changed. A failed render keeps the flag so the next tick
// retries against the then-current content.
func (s *session) renderPass() {
	if !s.renderPending {
		return
	}
	s.renderPending = false

	html, err := s.eng.renderer.Render(context.Background(), s.live)
	if err != nil {
		s.renderPending = true
		s.eng.log.Warn("render failed", "path", s.path, "error", err)
		return
	}

	s.lastRendered = html
	s.eng.dispatcher.Publish(s.path, Event{
		Kind:   EventRenderUpdate,
		Path:   s.path,
		Render: &RenderPayload{HTML: html},
	})
}

func (s *session) snapshot() SessionInfo {
	return SessionInfo{
		Path:         s.path,
		Content:      s.live,
		Dirty:        s.dirty,
		OpenedAt:     s.openedAt,
		LastEditAt:   s.lastEditAt,
		LastSavedAt:  s.lastSavedAt,
		Participants: s.eng.hub.Roster(s.path),
	}
}

func (s *session) armDebounce() {
	s.disarmDebounce()
	s.debounce.Reset(s.eng.cfg.ContentDebounce)
	s.debounceArmed = true
}

// disarmDebounce stops the timer and swallows a fire that already landed.
// Only safe on the loop goroutine, which is also the only receiver.
func (s *session) disarmDebounce() {
	if !s.debounce.Stop() {
		select {
		case <-s.debounce.C:
		default:
		}
	}
	s.debounceArmed = false
}

// bootstrapScript expresses content as a script over the empty document.
func bootstrapScript(content string) []diff.Edit {
	if content == "" {
		return nil
	}
	return []diff.Edit{{Op: diff.OpInsert, Text: content}}
}
