package diff

import (
	"fmt"
	"strings"
)

// Apply replays an edit script against the content it was computed from.
// It is the reference for how clients consume text-diff events, and it
// lets tests assert the round-trip property Apply(old, Edits(old, new))
// == new.
//
// An empty script means "no change". Scripts that do not match old fail
// with a descriptive error rather than producing silent corruption.
func Apply(old string, edits []Edit) (string, error) {
	if len(edits) == 0 {
		return old, nil
	}
	var b strings.Builder
	rest := old
	for i, e := range edits {
		switch e.Op {
		case OpEqual, OpDelete:
			if !strings.HasPrefix(rest, e.Text) {
				return "", fmt.Errorf("edit %d: %s span %q does not match content", i, e.Op, clip(e.Text))
			}
			rest = rest[len(e.Text):]
			if e.Op == OpEqual {
				b.WriteString(e.Text)
			}
		case OpInsert:
			b.WriteString(e.Text)
		default:
			return "", fmt.Errorf("edit %d: unknown op %d", i, int(e.Op))
		}
	}
	if rest != "" {
		return "", fmt.Errorf("edit script left %d bytes of content unconsumed", len(rest))
	}
	return b.String(), nil
}

// clip bounds span text in error messages.
func clip(s string) string {
	const max = 40
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
