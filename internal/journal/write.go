package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// RecordDraft upserts the latest unsaved content for path. The engine
// calls it at every content-debounce boundary while a session is dirty,
// so after a crash the row is at most one quiet window behind.
func (j *Journal) RecordDraft(ctx context.Context, path, content string, at time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO drafts (path, content, updated_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content = excluded.content,
			updated_at_ms = excluded.updated_at_ms
	`,
		path,
		content,
		at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record draft: %w", err)
	}

	return nil
}

// ClearDraft removes the draft row for path after a successful save.
// Clearing a path with no draft is a no-op.
func (j *Journal) ClearDraft(ctx context.Context, path string) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM drafts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}

	return nil
}

// RecordRevision appends one successful save to the history and returns
// the revision id. IDs are ULIDs, so lexical order is creation order.
func (j *Journal) RecordRevision(ctx context.Context, path, content string, savedAt time.Time) (string, error) {
	id := ulid.Make().String()

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO revisions (id, path, content, saved_at_ms, byte_size)
		VALUES (?, ?, ?, ?, ?)
	`,
		id,
		path,
		content,
		savedAt.UnixMilli(),
		len(content),
	)
	if err != nil {
		return "", fmt.Errorf("record revision: %w", err)
	}

	return id, nil
}
