package editor

import "sync"

// commandKind distinguishes the work items a session loop processes.
type commandKind int8

const (
	// cmdJoin attaches a client: subscribe its channel, register
	// presence, and reply with the live content snapshot, all in one
	// loop step so no diff can interleave with the snapshot.
	cmdJoin commandKind = iota + 1
	// cmdEdit replaces the live content (last write wins).
	cmdEdit
	// cmdSave flushes to disk if dirty.
	cmdSave
	// cmdAutosave is the scheduler's flush request; no reply.
	cmdAutosave
	// cmdDetach removes a client; the last detach closes the session.
	cmdDetach
	// cmdSnapshot replies with a read-only view of the session.
	cmdSnapshot
	// cmdFileChanged carries the reconciler's verdict on a disk change.
	cmdFileChanged
	// cmdShutdown flushes and ends the session; engine stop only.
	cmdShutdown
)

// command is one unit of work for a session loop. Fields beyond kind are
// populated per kind; reply is nil for fire-and-forget commands.
type command struct {
	kind     commandKind
	clientID string
	content  string // cmdEdit, cmdFileChanged (new disk content)
	deleted  bool   // cmdFileChanged: the file vanished
	stale    bool   // cmdDetach: evict only if still past the threshold
	reply    chan result
}

// result is the session loop's answer to a command.
type result struct {
	err     error
	flushed bool         // cmdSave
	info    *SessionInfo // cmdJoin, cmdSnapshot
	sub     *Subscription
}

// commandQueue is a thread-safe FIFO queue for session commands.
//
// The queue is unbounded so bursts of edits, timer commands, and detaches
// never block their producers; the loop is the only consumer.
//
// The queue uses a buffered signal channel so the loop can wait for work
// and its timers in a single select without polling.
type commandQueue struct {
	mu     sync.Mutex
	cmds   []command
	closed bool
	signal chan struct{} // signals command availability (buffered, size 1)
}

// newCommandQueue creates an empty command queue.
func newCommandQueue() *commandQueue {
	return &commandQueue{
		cmds:   make([]command, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a command to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed (the session is shutting down);
// callers treat that as session-not-found and retry or fail.
func (q *commandQueue) Enqueue(c command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.cmds = append(q.cmds, c)

	// Non-blocking signal; the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (command{}, false) if the queue is empty.
func (q *commandQueue) TryDequeue() (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.cmds) == 0 {
		return command{}, false
	}

	c := q.cmds[0]

	// Nil out the slot so the reply channel and content string are
	// collectable; the backing array is reused under steady load.
	q.cmds[0] = command{}

	if len(q.cmds) == 1 {
		q.cmds = q.cmds[:0]
	} else {
		q.cmds = q.cmds[1:]
	}

	return c, true
}

// Wait returns a channel that signals when commands may be available.
// Use with select alongside the session's timers:
//
//	select {
//	case <-q.Wait():
//	    // TryDequeue
//	case <-renderTicker.C:
//	    ...
//	}
//
// The channel closes when the queue closes, waking all waiters.
func (q *commandQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cmds)
}

// Closed reports whether Close has been called.
func (q *commandQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close marks the queue closed and wakes any waiters. Further Enqueue
// calls return false. Commands already queued are still dequeuable so the
// loop can drain and answer them on the way out.
func (q *commandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
