package editor

import (
	"log/slog"
	"sync"

	"github.com/roach88/coedit/internal/config"
)

// DefaultChannelBuffer is the per-client event buffer. Deep enough to ride
// out a render burst, small enough that a wedged client is detected by the
// keepalive/heartbeat machinery rather than by memory growth.
const DefaultChannelBuffer = 64

// Subscription is one client's view of a document's event stream. The
// dispatcher owns the channel: it is the only writer and the only closer.
type Subscription struct {
	clientID string
	path     string
	ch       chan Event
	d        *Dispatcher
}

// Events returns the receive side of the client's stream. The channel
// closes when the subscription is closed, the client is evicted, or the
// session shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// ClientID returns the subscriber's participant id.
func (s *Subscription) ClientID() string {
	return s.clientID
}

// Path returns the document the subscription is attached to.
func (s *Subscription) Path() string {
	return s.path
}

// Close detaches the subscription from fan-out and closes the channel.
// Idempotent; safe to call from the transport's teardown path.
func (s *Subscription) Close() {
	s.d.Unsubscribe(s.clientID)
}

// Dispatcher fans out typed events to every client subscribed to a
// document's stream.
//
// All channel sends happen under the dispatcher mutex with non-blocking
// semantics: a full buffer drops the event for that client (a stale
// client must never block a session loop), and because close also happens
// under the same mutex there is no send-after-close race. Per-client
// delivery order is the channel's FIFO; no cross-client ordering is
// promised.
type Dispatcher struct {
	clientCfg config.ClientConfig
	buffer    int
	log       *slog.Logger

	mu    sync.Mutex
	byID  map[string]*Subscription
	paths map[string][]*Subscription // fan-out lists in registration order
}

// NewDispatcher creates a dispatcher that hands every new subscriber the
// given client config as its first event. A nil logger falls back to
// slog.Default; buffer <= 0 falls back to DefaultChannelBuffer.
func NewDispatcher(clientCfg config.ClientConfig, buffer int, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultChannelBuffer
	}
	return &Dispatcher{
		clientCfg: clientCfg,
		buffer:    buffer,
		log:       log,
		byID:      make(map[string]*Subscription),
		paths:     make(map[string][]*Subscription),
	}
}

// Subscribe creates the client's buffered channel and delivers the config
// event before anything else can be published to it.
func (d *Dispatcher) Subscribe(path, clientID string) *Subscription {
	sub := &Subscription{
		clientID: clientID,
		path:     path,
		ch:       make(chan Event, d.buffer),
		d:        d,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if old, ok := d.byID[clientID]; ok {
		// A reconnecting client may race its own teardown; drop the
		// stale channel so the id maps to exactly one stream.
		d.removeLocked(old)
	}
	d.byID[clientID] = sub
	d.paths[path] = append(d.paths[path], sub)

	cfg := d.clientCfg
	d.sendLocked(sub, Event{Kind: EventConfig, Path: path, Config: &cfg})
	return sub
}

// Unsubscribe closes the client's channel and removes it from fan-out.
// Idempotent: unknown ids are ignored.
func (d *Dispatcher) Unsubscribe(clientID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub, ok := d.byID[clientID]
	if !ok {
		return
	}
	d.removeLocked(sub)
}

// Publish enqueues an event to every subscriber of path in registration
// order. Never blocks: a subscriber with a full buffer misses this event
// and the drop is logged at debug level.
func (d *Dispatcher) Publish(path string, ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, sub := range d.paths[path] {
		d.sendLocked(sub, ev)
	}
}

// PublishTo enqueues an event to a single client. Returns false if the
// client is unknown or its buffer is full.
func (d *Dispatcher) PublishTo(clientID string, ev Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub, ok := d.byID[clientID]
	if !ok {
		return false
	}
	return d.sendLocked(sub, ev)
}

// Keepalive enqueues a content-free frame on every open channel and
// returns the ids whose buffers accepted it. A successful enqueue proves
// the consumer is draining, so the caller refreshes those heartbeats.
func (d *Dispatcher) Keepalive() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	alive := make([]string, 0, len(d.byID))
	for id, sub := range d.byID {
		if d.sendLocked(sub, Event{Kind: EventKeepalive, Path: sub.path}) {
			alive = append(alive, id)
		}
	}
	return alive
}

// Subscribers returns how many clients are subscribed to path.
func (d *Dispatcher) Subscribers(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.paths[path])
}

// CloseAll closes every channel; used on engine shutdown so transport
// write pumps unblock promptly.
func (d *Dispatcher) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, sub := range d.byID {
		close(sub.ch)
	}
	d.byID = make(map[string]*Subscription)
	d.paths = make(map[string][]*Subscription)
}

// sendLocked performs the non-blocking enqueue. Caller holds d.mu.
func (d *Dispatcher) sendLocked(sub *Subscription, ev Event) bool {
	select {
	case sub.ch <- ev:
		return true
	default:
		d.log.Debug("event dropped: subscriber buffer full",
			"client", sub.clientID,
			"path", sub.path,
			"kind", ev.Kind,
		)
		return false
	}
}

// removeLocked drops a subscription from both maps and closes its
// channel. Caller holds d.mu.
func (d *Dispatcher) removeLocked(sub *Subscription) {
	delete(d.byID, sub.clientID)

	subs := d.paths[sub.path]
	for i, s := range subs {
		if s == sub {
			d.paths[sub.path] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(d.paths[sub.path]) == 0 {
		delete(d.paths, sub.path)
	}
	close(sub.ch)
}
