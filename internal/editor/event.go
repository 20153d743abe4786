package editor

import (
	"github.com/roach88/coedit/internal/config"
	"github.com/roach88/coedit/internal/diff"
)

// EventKind distinguishes the event types pushed to clients.
type EventKind string

const (
	// EventConfig carries the timing subset a client needs, once per
	// subscription, always first on the channel.
	EventConfig EventKind = "config"
	// EventPresence carries a roster change (join or leave).
	EventPresence EventKind = "presence"
	// EventCursor carries one participant's throttled cursor position.
	EventCursor EventKind = "cursor"
	// EventTextDiff is the fast path: a compact edit script after a
	// debounce window of quiet.
	EventTextDiff EventKind = "text-diff"
	// EventRenderUpdate is the slow path: re-rendered HTML, at most one
	// per render interval and only when content changed.
	EventRenderUpdate EventKind = "render-update"
	// EventFileChanged reports an external on-disk change that was not
	// caused by the editor's own save.
	EventFileChanged EventKind = "file-changed"
	// EventSaveFailed reports a flush that failed twice; the session
	// stays dirty in memory.
	EventSaveFailed EventKind = "save-failed"
	// EventKeepalive is a content-free liveness frame. Transports emit
	// it as a ping control frame rather than a JSON event.
	EventKeepalive EventKind = "keepalive"
)

// Event is one frame on a client's push stream. Exactly one payload field
// matching Kind is set; the rest are nil.
type Event struct {
	Kind EventKind `json:"kind"`
	Path string    `json:"path,omitempty"`

	Config      *config.ClientConfig `json:"config,omitempty"`
	Presence    *PresencePayload     `json:"presence,omitempty"`
	Cursor      *CursorPayload       `json:"cursor,omitempty"`
	TextDiff    *TextDiffPayload     `json:"textDiff,omitempty"`
	Render      *RenderPayload       `json:"render,omitempty"`
	FileChanged *FileChangedPayload  `json:"fileChanged,omitempty"`
	SaveFailed  *SaveFailedPayload   `json:"saveFailed,omitempty"`
}

// Presence actions and leave reasons.
const (
	PresenceJoin  = "join"
	PresenceLeave = "leave"

	// LeaveReasonClosed marks a deliberate detach (client closed or
	// transport ended).
	LeaveReasonClosed = "closed"
	// LeaveReasonStale marks an eviction by the heartbeat sweep. Clients
	// should expect this as a normal lifecycle outcome, not an error.
	LeaveReasonStale = "stale"
)

// PresencePayload describes one roster change and the roster after it.
type PresencePayload struct {
	Action   string            `json:"action"` // join | leave
	ClientID string            `json:"clientId"`
	Reason   string            `json:"reason,omitempty"` // leave only
	Roster   []ParticipantInfo `json:"roster"`
}

// Cursor is a position/selection descriptor as reported by a client.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// CursorPayload carries one participant's latest broadcast position.
type CursorPayload struct {
	ClientID string `json:"clientId"`
	Cursor   Cursor `json:"cursor"`
}

// TextDiffPayload is the fast-path edit script. FromLen is the byte
// length of the content the script applies to, so clients can detect a
// baseline mismatch before corrupting their copy.
type TextDiffPayload struct {
	Edits   []diff.Edit `json:"edits"`
	FromLen int         `json:"fromLen"`
}

// RenderPayload is the slow-path rendered preview.
type RenderPayload struct {
	HTML string `json:"html"`
}

// FileChangedPayload reports external disk content. The live session is
// left untouched; clients decide whether to reload or warn.
type FileChangedPayload struct {
	Content string `json:"content"`
	Deleted bool   `json:"deleted,omitempty"`
}

// SaveFailedPayload reports a double write failure.
type SaveFailedPayload struct {
	Error string `json:"error"`
}
