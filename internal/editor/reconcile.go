package editor

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// SuppressionTTL bounds how long a save can match its own watcher echo.
// Long enough to outlast a full poll plus debounce cycle, short enough
// that an external restore of identical bytes is masked only briefly.
const SuppressionTTL = 1500 * time.Millisecond

type suppressionEntry struct {
	hash      string
	expiresAt time.Time
}

// Reconciler decides whether a disk change is the editor's own save or a
// genuine external edit. Saves register the hash of the bytes they are
// about to write; the watcher echo that carries the same hash inside the
// TTL is swallowed. Hash matching, not a bare flag, so an external write
// landing inside the window is still surfaced.
type Reconciler struct {
	ttl   time.Duration
	clock Clock

	mu      sync.Mutex
	entries map[string]suppressionEntry
}

// NewReconciler creates a reconciler with the default TTL.
func NewReconciler(clock Clock) *Reconciler {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Reconciler{
		ttl:     SuppressionTTL,
		clock:   clock,
		entries: make(map[string]suppressionEntry),
	}
}

// Suppress registers the content hash a save is about to put on disk.
// Called before the write so the watcher can never outrun the entry. A
// retry overwrites the previous entry, refreshing the TTL.
func (r *Reconciler) Suppress(path, hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[path] = suppressionEntry{
		hash:      hash,
		expiresAt: r.clock.Now().Add(r.ttl),
	}
}

// Absorb reports whether a disk change at path matches a pending
// suppression entry. A match consumes the entry. A mismatch keeps it: the
// poller may have split an external write and our save into two deltas,
// and the save echo can still be in flight.
func (r *Reconciler) Absorb(path, diskHash string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, ok := r.entries[path]
	if !ok {
		return false
	}
	if r.clock.Now().After(ent.expiresAt) {
		delete(r.entries, path)
		return false
	}
	if ent.hash != diskHash {
		return false
	}
	delete(r.entries, path)
	return true
}

// Forget drops any pending entry for path. Called on session teardown.
func (r *Reconciler) Forget(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, path)
}

// hashContent returns the hex SHA-256 of content.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
