// Package diff computes edit scripts between two versions of a document.
//
// The engine broadcasts whole-content replacements as compact scripts so
// clients that already hold the previous content apply a small change
// instead of re-receiving the file. The strategy is pluggable behind the
// Differ interface; TextDiffer (character granularity) is the production
// strategy, LineDiffer trades precision for speed on very large files.
package diff

import (
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Op is the kind of a script segment.
type Op int8

const (
	// OpDelete removes the segment text from the old content.
	OpDelete Op = -1
	// OpEqual keeps the segment text unchanged.
	OpEqual Op = 0
	// OpInsert adds the segment text.
	OpInsert Op = 1
)

// String implements fmt.Stringer for log output.
func (o Op) String() string {
	switch o {
	case OpDelete:
		return "delete"
	case OpEqual:
		return "equal"
	case OpInsert:
		return "insert"
	default:
		return "unknown"
	}
}

// Edit is one segment of an edit script. Applying every segment in order
// to the old content yields the new content.
type Edit struct {
	Op   Op     `json:"op"`
	Text string `json:"text"`
}

// Differ turns two versions of a document into an edit script.
//
// Implementations must return nil for identical inputs and must never
// return zero-length segments. Scripts are self-contained: clients apply
// them without any other context.
type Differ interface {
	Edits(old, new string) []Edit
}

// TextDiffer computes character-granularity scripts. It is safe for
// concurrent use: the underlying matcher holds only configuration.
type TextDiffer struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewTextDiffer creates the production differ.
func NewTextDiffer() *TextDiffer {
	return &TextDiffer{dmp: diffmatchpatch.New()}
}

// Edits implements Differ.
func (d *TextDiffer) Edits(old, new string) []Edit {
	if old == new {
		return nil
	}
	diffs := d.dmp.DiffMain(old, new, false)
	diffs = d.dmp.DiffCleanupEfficiency(diffs)
	return fromDiffs(diffs)
}

// LineDiffer computes line-granularity scripts. Coarser than TextDiffer
// but much cheaper on documents with tens of thousands of lines.
type LineDiffer struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewLineDiffer creates a line-granularity differ.
func NewLineDiffer() *LineDiffer {
	return &LineDiffer{dmp: diffmatchpatch.New()}
}

// Edits implements Differ.
func (d *LineDiffer) Edits(old, new string) []Edit {
	if old == new {
		return nil
	}
	oldChars, newChars, lines := d.dmp.DiffLinesToChars(old, new)
	diffs := d.dmp.DiffMain(oldChars, newChars, false)
	diffs = d.dmp.DiffCharsToLines(diffs, lines)
	return fromDiffs(diffs)
}

// fromDiffs converts diffmatchpatch output into a normalized script:
// empty segments dropped, adjacent same-op segments merged, pure-equal
// scripts collapsed to nil.
func fromDiffs(diffs []diffmatchpatch.Diff) []Edit {
	edits := make([]Edit, 0, len(diffs))
	changed := false
	for _, d := range diffs {
		if d.Text == "" {
			continue
		}
		op := opFor(d.Type)
		if op != OpEqual {
			changed = true
		}
		if n := len(edits); n > 0 && edits[n-1].Op == op {
			edits[n-1].Text += d.Text
			continue
		}
		edits = append(edits, Edit{Op: op, Text: d.Text})
	}
	if !changed || len(edits) == 0 {
		return nil
	}
	return edits
}

func opFor(t diffmatchpatch.Operation) Op {
	switch t {
	case diffmatchpatch.DiffDelete:
		return OpDelete
	case diffmatchpatch.DiffInsert:
		return OpInsert
	default:
		return OpEqual
	}
}
