// Package journal provides SQLite-backed side storage for editing
// sessions: a draft journal for crash recovery and an append-only
// revision history of saves.
//
// The documents on disk remain the durable store for content. The
// journal is recovery insurance and audit trail, which sets its failure
// policy: callers log journal errors and never let them fail an edit or
// a save.
//
//   - drafts: latest unsaved content per document, upserted at each
//     content-debounce boundary, cleared on successful save. Rows that
//     survive a process exit and differ from disk are surfaced at
//     startup; they are never applied automatically.
//   - revisions: one row per successful save (manual, autosave, or the
//     final close flush). IDs are ULIDs, so lexical order is creation
//     order.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - single connection: SQLite has one writer at a time
package journal
