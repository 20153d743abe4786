package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"
)

// Draft is one crash-recovery row: the newest unsaved content for a
// document at the last debounce boundary before the process died.
type Draft struct {
	Path      string
	Content   string
	UpdatedAt time.Time
}

// Revision is one entry in the save history. Listings omit content; use
// RevisionContent to fetch it.
type Revision struct {
	ID       string
	Path     string
	SavedAt  time.Time
	ByteSize int
}

// DraftFor returns the draft row for path, or nil if none exists.
func (j *Journal) DraftFor(ctx context.Context, path string) (*Draft, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT path, content, updated_at_ms
		FROM drafts
		WHERE path = ?
	`, path)

	var d Draft
	var ms int64
	if err := row.Scan(&d.Path, &d.Content, &ms); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read draft: %w", err)
	}
	d.UpdatedAt = time.UnixMilli(ms)

	return &d, nil
}

// PendingDrafts returns the drafts whose content differs from what is on
// disk right now. These are recovery candidates: the engine surfaces them
// at startup and never applies them automatically. A draft for a missing
// file counts as pending.
func (j *Journal) PendingDrafts(ctx context.Context) ([]Draft, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT path, content, updated_at_ms
		FROM drafts
		ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	drafts := []Draft{}
	for rows.Next() {
		var d Draft
		var ms int64
		if err := rows.Scan(&d.Path, &d.Content, &ms); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		d.UpdatedAt = time.UnixMilli(ms)

		if disk, err := os.ReadFile(d.Path); err == nil && string(disk) == d.Content {
			continue // the save landed; row is leftover bookkeeping
		}
		drafts = append(drafts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}

	return drafts, nil
}

// Revisions lists the save history for path, newest first. limit <= 0
// means unlimited.
func (j *Journal) Revisions(ctx context.Context, path string, limit int) ([]Revision, error) {
	query := `
		SELECT id, path, saved_at_ms, byte_size
		FROM revisions
		WHERE path = ?
		ORDER BY saved_at_ms DESC, id DESC
	`
	args := []any{path}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	revisions := []Revision{}
	for rows.Next() {
		var r Revision
		var ms int64
		if err := rows.Scan(&r.ID, &r.Path, &ms, &r.ByteSize); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		r.SavedAt = time.UnixMilli(ms)
		revisions = append(revisions, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}

	return revisions, nil
}

// RevisionContent returns the stored content of one revision.
func (j *Journal) RevisionContent(ctx context.Context, id string) (string, error) {
	row := j.db.QueryRowContext(ctx, `SELECT content FROM revisions WHERE id = ?`, id)

	var content string
	if err := row.Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("revision %s: not found", id)
		}
		return "", fmt.Errorf("read revision: %w", err)
	}

	return content, nil
}
