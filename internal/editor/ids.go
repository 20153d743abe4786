package editor

import "github.com/google/uuid"

// IDGenerator generates opaque unique participant identifiers at connect
// time. Implemented by UUIDv7Generator (production) and
// testutil.IDSequence (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 participant IDs.
//
// UUIDv7 embeds a timestamp in the most significant bits, so IDs sort by
// connect time. That makes presence logs and rosters easy to read when
// debugging a busy document.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
