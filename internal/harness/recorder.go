package harness

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roach88/coedit/internal/diff"
	"github.com/roach88/coedit/internal/editor"
)

// recorder drains one client's subscription, mirroring what a browser
// would do with the stream: every text-diff is applied to a shadow copy,
// so the trace records the content each diff produced and the final
// shadow proves convergence.
//
// Keepalive frames are liveness plumbing, not observable behavior, so
// they are drained and dropped.
type recorder struct {
	client string
	path   string
	sub    *editor.Subscription

	mu       sync.Mutex
	events   []TraceEvent
	shadow   string
	applyErr error
	mark     int // barrier position; awaits consume up to here

	notify chan struct{} // tickled on every append
	done   chan struct{} // closed when the stream ends
}

func newRecorder(client string, sub *editor.Subscription) *recorder {
	r := &recorder{
		client: client,
		path:   sub.Path(),
		sub:    sub,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go r.pump()
	return r
}

func (r *recorder) pump() {
	defer close(r.done)
	for ev := range r.sub.Events() {
		if ev.Kind == editor.EventKeepalive {
			continue
		}
		r.append(ev)
	}
}

func (r *recorder) append(ev editor.Event) {
	r.mu.Lock()

	var body string
	switch ev.Kind {
	case editor.EventTextDiff:
		body = r.applyDiffLocked(ev.TextDiff)
	case editor.EventPresence:
		body = presenceBody(ev.Presence)
	case editor.EventCursor:
		body = fmt.Sprintf("%s %d:%d", ev.Cursor.ClientID, ev.Cursor.Cursor.Line, ev.Cursor.Cursor.Column)
	case editor.EventRenderUpdate:
		body = ev.Render.HTML
	case editor.EventFileChanged:
		if ev.FileChanged.Deleted {
			body = "deleted"
		} else {
			body = fmt.Sprintf("content=%q", ev.FileChanged.Content)
		}
	case editor.EventSaveFailed:
		body = ev.SaveFailed.Error
	}

	r.events = append(r.events, TraceEvent{
		Seq:  len(r.events) + 1,
		Kind: string(ev.Kind),
		Path: ev.Path,
		Body: body,
	})
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// applyDiffLocked advances the shadow copy and reports the state the
// diff produced. A baseline mismatch or a broken script is recorded
// once; the run surfaces it as a failure.
func (r *recorder) applyDiffLocked(p *editor.TextDiffPayload) string {
	if p.FromLen != len(r.shadow) && r.applyErr == nil {
		r.applyErr = fmt.Errorf("text-diff baseline mismatch: fromLen=%d, shadow has %d bytes", p.FromLen, len(r.shadow))
	}
	next, err := diff.Apply(r.shadow, p.Edits)
	if err != nil {
		if r.applyErr == nil {
			r.applyErr = fmt.Errorf("text-diff did not apply: %w", err)
		}
		return fmt.Sprintf("fromLen=%d unapplied", p.FromLen)
	}
	r.shadow = next
	return fmt.Sprintf("fromLen=%d content=%q", p.FromLen, r.shadow)
}

func presenceBody(p *editor.PresencePayload) string {
	ids := make([]string, len(p.Roster))
	for i, part := range p.Roster {
		ids[i] = part.ClientID
	}
	if p.Action == editor.PresenceLeave {
		return fmt.Sprintf("leave %s reason=%s roster=[%s]", p.ClientID, p.Reason, strings.Join(ids, " "))
	}
	return fmt.Sprintf("join %s roster=[%s]", p.ClientID, strings.Join(ids, " "))
}

// waitFor blocks until an unconsumed event matches kind (and contains,
// when set), then moves the barrier past it. Matching consumes every
// earlier event too, so consecutive awaits walk forward through the
// stream.
func (r *recorder) waitFor(kind, contains string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if r.take(kind, contains) {
			return nil
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			return fmt.Errorf("client %s: no %s within %v", r.client, describeAwait(kind, contains), timeout)
		}

		select {
		case <-r.notify:
		case <-r.done:
			if r.take(kind, contains) {
				return nil
			}
			return fmt.Errorf("client %s: stream closed before %s", r.client, describeAwait(kind, contains))
		case <-time.After(remain):
		}
	}
}

func describeAwait(kind, contains string) string {
	if contains == "" {
		return fmt.Sprintf("%q event", kind)
	}
	return fmt.Sprintf("%q event containing %q", kind, contains)
}

func (r *recorder) take(kind, contains string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := r.mark; i < len(r.events); i++ {
		ev := r.events[i]
		if ev.Kind == kind && (contains == "" || strings.Contains(ev.Body, contains)) {
			r.mark = i + 1
			return true
		}
	}
	return false
}

// waitClosed blocks until the stream ends; close steps use it so the
// trace is complete before the next step runs.
func (r *recorder) waitClosed(timeout time.Duration) error {
	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("client %s: stream still open after %v", r.client, timeout)
	}
}

func (r *recorder) trace() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) finalShadow() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shadow
}

func (r *recorder) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyErr
}
