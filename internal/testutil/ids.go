package testutil

import (
	"fmt"
	"sync"
)

// IDSequence generates ids from a fixed prefix and a counter:
// alice-001, alice-002, and so on.
//
// This enables deterministic test execution and golden snapshot
// comparison: the same scenario with the same IDSequence produces
// byte-identical event logs, where the engine's UUIDv7 generator would
// produce fresh ids on every run.
//
// Thread-safety: Generate is safe for concurrent use via internal mutex.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDSequence creates a generator with the given prefix.
//
// An empty prefix defaults to "client".
func NewIDSequence(prefix string) *IDSequence {
	if prefix == "" {
		prefix = "client"
	}
	return &IDSequence{prefix: prefix}
}

// Generate returns the next id in the sequence, starting at prefix-001.
func (g *IDSequence) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%03d", g.prefix, g.n)
}
