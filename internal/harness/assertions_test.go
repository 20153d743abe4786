package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coedit/internal/editor"
)

func intPtr(v int) *int       { return &v }
func strPtr(s string) *string { return &s }

// guideTrace is a plausible single-client stream over docs/guide.md:
// connect sequence, one edit, one render.
func guideTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Kind: "config", Path: "docs/guide.md"},
		{Seq: 2, Kind: "text-diff", Path: "docs/guide.md", Body: `fromLen=0 content="hello\n"`},
		{Seq: 3, Kind: "presence", Path: "docs/guide.md", Body: "join alice roster=[alice]"},
		{Seq: 4, Kind: "text-diff", Path: "docs/guide.md", Body: `fromLen=6 content="hello world\n"`},
		{Seq: 5, Kind: "render-update", Path: "docs/guide.md", Body: "<p>hello world</p>\n"},
	}
}

func testContext(traces map[string][]TraceEvent) *AssertionContext {
	return &AssertionContext{
		Traces:  traces,
		States:  make(map[string]editor.SessionInfo),
		Disk:    make(map[string]string),
		Shadows: make(map[string]string),
	}
}

func TestAssertEventContains_Found(t *testing.T) {
	actx := testContext(map[string][]TraceEvent{"alice": guideTrace()})

	err := assertEventContains(actx, Assertion{
		Type:     AssertEventContains,
		Client:   "alice",
		Kind:     "presence",
		Contains: "join alice",
	})
	assert.NoError(t, err)
}

func TestAssertEventContains_NotFound(t *testing.T) {
	actx := testContext(map[string][]TraceEvent{"alice": guideTrace()})

	err := assertEventContains(actx, Assertion{
		Type:     AssertEventContains,
		Client:   "alice",
		Kind:     "presence",
		Contains: "leave bob",
	})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, "event_contains", assertErr.Type)
	assert.Contains(t, assertErr.Expected, `"presence" event containing "leave bob"`)
	assert.Equal(t, "no matching event in trace", assertErr.Actual)
	assert.Len(t, assertErr.Trace, 5)
}

func TestAssertEventContains_PathFilter(t *testing.T) {
	actx := testContext(map[string][]TraceEvent{"alice": guideTrace()})

	// Same kind, wrong document.
	err := assertEventContains(actx, Assertion{
		Type:   AssertEventContains,
		Client: "alice",
		Kind:   "render-update",
		Path:   "docs/other.md",
	})
	require.Error(t, err)

	err = assertEventContains(actx, Assertion{
		Type:   AssertEventContains,
		Client: "alice",
		Kind:   "render-update",
		Path:   "docs/guide.md",
	})
	assert.NoError(t, err)
}

func TestAssertEventContains_ClientNeverAttached(t *testing.T) {
	actx := testContext(map[string][]TraceEvent{})

	err := assertEventContains(actx, Assertion{
		Type:   AssertEventContains,
		Client: "ghost",
		Kind:   "presence",
	})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, "client never attached", assertErr.Actual)
}

func TestAssertEventOrder_Correct(t *testing.T) {
	actx := testContext(map[string][]TraceEvent{"alice": guideTrace()})

	err := assertEventOrder(actx, Assertion{
		Type:   AssertEventOrder,
		Client: "alice",
		Kinds:  []string{"config", "text-diff", "presence", "render-update"},
	})
	assert.NoError(t, err)
}

func TestAssertEventOrder_Inverted(t *testing.T) {
	actx := testContext(map[string][]TraceEvent{"alice": guideTrace()})

	err := assertEventOrder(actx, Assertion{
		Type:   AssertEventOrder,
		Client: "alice",
		Kinds:  []string{"presence", "config"},
	})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, "event_order", assertErr.Type)
	assert.Contains(t, assertErr.Actual, "presence (pos 3) should be before config (pos 1)")
}

func TestAssertEventOrder_MissingKind(t *testing.T) {
	actx := testContext(map[string][]TraceEvent{"alice": guideTrace()})

	err := assertEventOrder(actx, Assertion{
		Type:   AssertEventOrder,
		Client: "alice",
		Kinds:  []string{"config", "file-changed"},
	})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Contains(t, assertErr.Actual, "missing kind: file-changed")
}

func TestAssertEventCount_Exact(t *testing.T) {
	actx := testContext(map[string][]TraceEvent{"alice": guideTrace()})

	err := assertEventCount(actx, Assertion{
		Type:   AssertEventCount,
		Client: "alice",
		Kind:   "text-diff",
		Count:  intPtr(2),
	})
	assert.NoError(t, err)

	// Zero asserts absence.
	err = assertEventCount(actx, Assertion{
		Type:   AssertEventCount,
		Client: "alice",
		Kind:   "file-changed",
		Count:  intPtr(0),
	})
	assert.NoError(t, err)
}

func TestAssertEventCount_Mismatch(t *testing.T) {
	actx := testContext(map[string][]TraceEvent{"alice": guideTrace()})

	err := assertEventCount(actx, Assertion{
		Type:   AssertEventCount,
		Client: "alice",
		Kind:   "text-diff",
		Count:  intPtr(3),
	})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Contains(t, assertErr.Expected, "3 occurrences")
	assert.Equal(t, "2 occurrences", assertErr.Actual)
}

func TestAssertEventCount_ContainsFilter(t *testing.T) {
	actx := testContext(map[string][]TraceEvent{"alice": guideTrace()})

	err := assertEventCount(actx, Assertion{
		Type:     AssertEventCount,
		Client:   "alice",
		Kind:     "text-diff",
		Contains: "hello world",
		Count:    intPtr(1),
	})
	assert.NoError(t, err)
}

func TestAssertFinalContent_Disk(t *testing.T) {
	actx := testContext(nil)
	actx.Disk["docs/guide.md"] = "hello world\n"

	err := assertFinalContent(actx, Assertion{
		Type:   AssertFinalContent,
		Path:   "docs/guide.md",
		Equals: strPtr("hello world\n"),
	})
	assert.NoError(t, err)

	err = assertFinalContent(actx, Assertion{
		Type:   AssertFinalContent,
		Path:   "docs/guide.md",
		Equals: strPtr("stale\n"),
	})
	require.Error(t, err)
	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Contains(t, assertErr.Actual, `"hello world\n"`)
}

func TestAssertFinalContent_FileMissing(t *testing.T) {
	actx := testContext(nil)

	err := assertFinalContent(actx, Assertion{
		Type:   AssertFinalContent,
		Path:   "docs/gone.md",
		Equals: strPtr("anything"),
	})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, "file missing", assertErr.Actual)
}

func TestAssertFinalContent_ClientShadow(t *testing.T) {
	// With a client set, final_content checks the copy the client
	// reconstructed from its diffs, not the disk.
	actx := testContext(map[string][]TraceEvent{"bob": guideTrace()})
	actx.Shadows["bob"] = "hello world\n"
	actx.Disk["docs/guide.md"] = "something else entirely"

	err := assertFinalContent(actx, Assertion{
		Type:   AssertFinalContent,
		Client: "bob",
		Equals: strPtr("hello world\n"),
	})
	assert.NoError(t, err)

	err = assertFinalContent(actx, Assertion{
		Type:   AssertFinalContent,
		Client: "bob",
		Equals: strPtr("diverged\n"),
	})
	require.Error(t, err)
	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Contains(t, assertErr.Actual, "client holds")
}

func TestAssertFinalState_SubsetMatch(t *testing.T) {
	actx := testContext(nil)
	actx.States["docs/guide.md"] = editor.SessionInfo{
		Path:    "docs/guide.md",
		Content: "hello world\n",
		Dirty:   true,
		Participants: []editor.ParticipantInfo{
			{ClientID: "alice"}, {ClientID: "bob"},
		},
	}

	// Only the listed fields are compared.
	err := assertFinalState(actx, Assertion{
		Type:   AssertFinalState,
		Path:   "docs/guide.md",
		Expect: map[string]any{"dirty": true, "participants": 2},
	})
	assert.NoError(t, err)
}

func TestAssertFinalState_Mismatch(t *testing.T) {
	actx := testContext(nil)
	actx.States["docs/guide.md"] = editor.SessionInfo{
		Path:         "docs/guide.md",
		Content:      "hello\n",
		Dirty:        false,
		Participants: []editor.ParticipantInfo{{ClientID: "alice"}},
	}

	err := assertFinalState(actx, Assertion{
		Type:   AssertFinalState,
		Path:   "docs/guide.md",
		Expect: map[string]any{"participants": 2},
	})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Contains(t, assertErr.Expected, `field "participants" = 2`)
	assert.Contains(t, assertErr.Actual, `field "participants" = 1`)
}

func TestAssertFinalState_NoSession(t *testing.T) {
	actx := testContext(nil)

	err := assertFinalState(actx, Assertion{
		Type:   AssertFinalState,
		Path:   "docs/closed.md",
		Expect: map[string]any{"dirty": false},
	})
	require.Error(t, err)

	assertErr, ok := err.(*AssertionError)
	require.True(t, ok)
	assert.Equal(t, "no session open when steps finished", assertErr.Actual)
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{name: "int_int", expected: 2, actual: 2, want: true},
		{name: "int_int64", expected: 2, actual: int64(2), want: true},
		{name: "int64_int", expected: int64(3), actual: 3, want: true},
		{name: "int_mismatch", expected: 2, actual: 3, want: false},
		{name: "bool", expected: true, actual: true, want: true},
		{name: "bool_mismatch", expected: true, actual: false, want: false},
		{name: "string", expected: "x\n", actual: "x\n", want: true},
		{name: "string_mismatch", expected: "x", actual: "y", want: false},
		{name: "type_mismatch", expected: "2", actual: 2, want: false},
		{name: "unsupported_type", expected: 2.5, actual: 2.5, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	actx := testContext(nil)

	errors := EvaluateAssertions([]Assertion{{Type: "telepathy"}}, actx)
	require.Len(t, errors, 1)
	assert.Contains(t, errors[0], `expect[0]: unknown assertion type "telepathy"`)
}

func TestEvaluateAssertions_CollectsEveryFailure(t *testing.T) {
	actx := testContext(map[string][]TraceEvent{"alice": guideTrace()})

	errors := EvaluateAssertions([]Assertion{
		{Type: AssertEventContains, Client: "alice", Kind: "presence", Contains: "join alice"},
		{Type: AssertEventContains, Client: "alice", Kind: "save-failed"},
		{Type: AssertEventCount, Client: "alice", Kind: "render-update", Count: intPtr(9)},
	}, actx)

	require.Len(t, errors, 2)
	assert.Contains(t, errors[0], "save-failed")
	assert.Contains(t, errors[1], "9 occurrences")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     "event_contains",
		Expected: `client alice receives "presence" event`,
		Actual:   "no matching event in trace",
		Trace: []TraceEvent{
			{Seq: 1, Kind: "config", Path: "docs/guide.md"},
			{Seq: 2, Kind: "text-diff", Path: "docs/guide.md", Body: `fromLen=0 content="hi"`},
		},
	}

	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: event_contains")
	assert.Contains(t, msg, `Expected: client alice receives "presence" event`)
	assert.Contains(t, msg, "Actual: no matching event in trace")
	assert.Contains(t, msg, "Full trace:")
	assert.Contains(t, msg, "[1] config")
	assert.Contains(t, msg, `[2] text-diff fromLen=0 content="hi"`)
}
