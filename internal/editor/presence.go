package editor

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// ParticipantInfo is one roster entry as pushed to clients.
type ParticipantInfo struct {
	ClientID string  `json:"clientId"`
	Cursor   *Cursor `json:"cursor,omitempty"`
}

// ParticipantRef names a participant and the document it is attached to.
// The stale sweep hands these to the owning session loops for re-check.
type ParticipantRef struct {
	ClientID string
	Path     string
}

// participant is the hub's record of one connected client.
type participant struct {
	id            string
	path          string
	joinedAt      time.Time
	lastHeartbeat time.Time
	cursor        *Cursor // last reported, shown in rosters

	// Cursor throttle state. A broadcast goes out immediately when the
	// participant has been quiet for a full throttle window (leading
	// edge); moves inside the window stash the newest position and arm
	// one timer for the window's end (trailing edge, last value wins).
	lastCursorBroadcast time.Time
	pending             *Cursor
	trailing            *time.Timer
}

// Hub tracks who is attached to which document, their heartbeats, and
// their cursor positions.
//
// The hub is shared mutable state guarded by one mutex. Events are
// published after the lock is released; per-document ordering still holds
// because every membership change for a document is funneled through that
// document's session loop.
//
// Heartbeats are refreshed by registration, explicit pings, cursor moves,
// edits, and accepted keepalive deliveries. Eviction happens only through
// RemoveIfStale, which re-checks the threshold at eviction time, so a
// participant is never dropped before a full StaleThreshold of silence.
type Hub struct {
	throttle   time.Duration
	staleAfter time.Duration
	clock      Clock
	publish    func(path string, ev Event)

	mu           sync.Mutex
	participants map[string]*participant
}

// NewHub creates a hub. publish is the dispatcher's fan-out; it must not
// call back into the hub.
func NewHub(throttle, staleAfter time.Duration, clock Clock, publish func(path string, ev Event)) *Hub {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Hub{
		throttle:     throttle,
		staleAfter:   staleAfter,
		clock:        clock,
		publish:      publish,
		participants: make(map[string]*participant),
	}
}

// Register adds a participant to a document's roster and broadcasts the
// join to everyone attached, the joiner included. A re-registration under
// the same id resets the join time and heartbeat.
func (h *Hub) Register(path, clientID string) {
	h.mu.Lock()
	now := h.clock.Now()
	if old, ok := h.participants[clientID]; ok {
		h.dropLocked(old)
	}
	h.participants[clientID] = &participant{
		id:            clientID,
		path:          path,
		joinedAt:      now,
		lastHeartbeat: now,
	}
	payload := &PresencePayload{
		Action:   PresenceJoin,
		ClientID: clientID,
		Roster:   h.rosterLocked(path),
	}
	h.mu.Unlock()

	h.publish(path, Event{Kind: EventPresence, Path: path, Presence: payload})
}

// Heartbeat refreshes a participant's liveness. Returns false for unknown
// ids so transports can surface CLIENT_NOT_FOUND.
func (h *Hub) Heartbeat(clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.participants[clientID]
	if !ok {
		return false
	}
	p.lastHeartbeat = h.clock.Now()
	return true
}

// HeartbeatAll refreshes every id in the list, skipping unknowns. Used by
// the keepalive pump: an accepted frame proves the consumer is draining.
func (h *Hub) HeartbeatAll(ids []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	for _, id := range ids {
		if p, ok := h.participants[id]; ok {
			p.lastHeartbeat = now
		}
	}
}

// MoveCursor records a participant's new position and broadcasts it under
// the throttle policy. Returns false for unknown ids; a cursor from a
// client that lost the registration race must not resurrect it.
func (h *Hub) MoveCursor(clientID string, cur Cursor) bool {
	h.mu.Lock()
	p, ok := h.participants[clientID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	now := h.clock.Now()
	p.lastHeartbeat = now
	c := cur
	p.cursor = &c

	if p.trailing == nil && now.Sub(p.lastCursorBroadcast) >= h.throttle {
		// Leading edge: quiet long enough, broadcast immediately.
		p.lastCursorBroadcast = now
		path := p.path
		h.mu.Unlock()
		h.publish(path, Event{Kind: EventCursor, Path: path, Cursor: &CursorPayload{ClientID: clientID, Cursor: c}})
		return true
	}

	// Inside the window: stash the newest position and make sure exactly
	// one trailing broadcast is armed.
	p.pending = &c
	if p.trailing == nil {
		delay := h.throttle - now.Sub(p.lastCursorBroadcast)
		p.trailing = time.AfterFunc(delay, func() { h.flushCursor(clientID) })
	}
	h.mu.Unlock()
	return true
}

// flushCursor is the trailing-edge timer body.
func (h *Hub) flushCursor(clientID string) {
	h.mu.Lock()
	p, ok := h.participants[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	p.trailing = nil
	if p.pending == nil {
		h.mu.Unlock()
		return
	}
	c := *p.pending
	p.pending = nil
	p.lastCursorBroadcast = h.clock.Now()
	path := p.path
	h.mu.Unlock()

	h.publish(path, Event{Kind: EventCursor, Path: path, Cursor: &CursorPayload{ClientID: clientID, Cursor: c}})
}

// Remove drops a participant and broadcasts the leave with the roster as
// it stands afterwards. Returns false if the id was not registered.
func (h *Hub) Remove(clientID, reason string) bool {
	h.mu.Lock()
	p, ok := h.participants[clientID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	h.dropLocked(p)
	payload := &PresencePayload{
		Action:   PresenceLeave,
		ClientID: clientID,
		Reason:   reason,
		Roster:   h.rosterLocked(p.path),
	}
	h.mu.Unlock()

	h.publish(p.path, Event{Kind: EventPresence, Path: p.path, Presence: payload})
	return true
}

// RemoveIfStale evicts a participant only if its heartbeat is still older
// than the stale threshold at this instant. The sweep finds candidates
// from a snapshot; a ping can land between snapshot and eviction, and
// this re-check is what keeps such a participant alive.
func (h *Hub) RemoveIfStale(clientID string) bool {
	h.mu.Lock()
	p, ok := h.participants[clientID]
	if !ok || h.clock.Now().Sub(p.lastHeartbeat) <= h.staleAfter {
		h.mu.Unlock()
		return false
	}
	h.dropLocked(p)
	payload := &PresencePayload{
		Action:   PresenceLeave,
		ClientID: clientID,
		Reason:   LeaveReasonStale,
		Roster:   h.rosterLocked(p.path),
	}
	h.mu.Unlock()

	h.publish(p.path, Event{Kind: EventPresence, Path: p.path, Presence: payload})
	return true
}

// Expired snapshots the participants whose heartbeats have been silent
// past the stale threshold. Candidates only: the caller routes each
// through its session loop and RemoveIfStale for the authoritative check.
func (h *Hub) Expired() []ParticipantRef {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	var out []ParticipantRef
	for _, p := range h.participants {
		if now.Sub(p.lastHeartbeat) > h.staleAfter {
			out = append(out, ParticipantRef{ClientID: p.id, Path: p.path})
		}
	}
	return out
}

// Roster returns the document's participants sorted by join time, ties
// broken by id, so every broadcast carries the same stable order.
func (h *Hub) Roster(path string) []ParticipantInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rosterLocked(path)
}

// CountForPath returns how many participants are attached to path.
func (h *Hub) CountForPath(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, p := range h.participants {
		if p.path == path {
			n++
		}
	}
	return n
}

// Count returns the total number of participants across all documents.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.participants)
}

// Stop cancels pending cursor timers and clears the hub. Used on engine
// shutdown after the dispatcher has closed its channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, p := range h.participants {
		if p.trailing != nil {
			p.trailing.Stop()
			p.trailing = nil
		}
	}
	h.participants = make(map[string]*participant)
}

// dropLocked removes a participant and disarms its timer. Caller holds h.mu.
func (h *Hub) dropLocked(p *participant) {
	if p.trailing != nil {
		p.trailing.Stop()
		p.trailing = nil
	}
	delete(h.participants, p.id)
}

// rosterLocked assembles the sorted roster for path. Caller holds h.mu.
func (h *Hub) rosterLocked(path string) []ParticipantInfo {
	members := make([]*participant, 0, 4)
	for _, p := range h.participants {
		if p.path == path {
			members = append(members, p)
		}
	}
	slices.SortFunc(members, func(a, b *participant) int {
		if c := a.joinedAt.Compare(b.joinedAt); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})

	out := make([]ParticipantInfo, len(members))
	for i, p := range members {
		info := ParticipantInfo{ClientID: p.id}
		if p.cursor != nil {
			c := *p.cursor
			info.Cursor = &c
		}
		out[i] = info
	}
	return out
}
