package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/coedit/internal/editor"
)

// AssertionError is returned when an assertion fails. It includes the
// client's trace so a failure report stands on its own.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", ev.Seq, ev.Kind, ev.Body)
		}
	}
	return buf.String()
}

// AssertionContext carries everything the assertion types inspect: the
// per-client traces, the sessions that were still open when the steps
// finished, the post-flush disk contents, and each client's final
// reconstructed copy.
type AssertionContext struct {
	Traces  map[string][]TraceEvent
	States  map[string]editor.SessionInfo
	Disk    map[string]string
	Shadows map[string]string
}

// EvaluateAssertions evaluates all assertions and returns one message
// per failure.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEventContains:
			err = assertEventContains(actx, assertion)
		case AssertEventOrder:
			err = assertEventOrder(actx, assertion)
		case AssertEventCount:
			err = assertEventCount(actx, assertion)
		case AssertFinalContent:
			err = assertFinalContent(actx, assertion)
		case AssertFinalState:
			err = assertFinalState(actx, assertion)
		default:
			err = fmt.Errorf("expect[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func clientTrace(actx *AssertionContext, a Assertion) ([]TraceEvent, error) {
	trace, ok := actx.Traces[a.Client]
	if !ok {
		return nil, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("a trace for client %s", a.Client),
			Actual:   "client never attached",
		}
	}
	return trace, nil
}

// matches reports whether the event satisfies the assertion's kind,
// path, and contains filters.
func matches(ev TraceEvent, a Assertion) bool {
	if ev.Kind != a.Kind {
		return false
	}
	if a.Path != "" && ev.Path != a.Path {
		return false
	}
	if a.Contains != "" && !strings.Contains(ev.Body, a.Contains) {
		return false
	}
	return true
}

func describeMatch(a Assertion) string {
	desc := fmt.Sprintf("%q event", a.Kind)
	if a.Path != "" {
		desc += fmt.Sprintf(" for %s", a.Path)
	}
	if a.Contains != "" {
		desc += fmt.Sprintf(" containing %q", a.Contains)
	}
	return desc
}

func assertEventContains(actx *AssertionContext, a Assertion) error {
	trace, err := clientTrace(actx, a)
	if err != nil {
		return err
	}

	for _, ev := range trace {
		if matches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertEventContains,
		Expected: fmt.Sprintf("client %s receives %s", a.Client, describeMatch(a)),
		Actual:   "no matching event in trace",
		Trace:    trace,
	}
}

// assertEventOrder checks that the kinds FIRST appear in the given
// order. Events of other kinds may interleave freely.
func assertEventOrder(actx *AssertionContext, a Assertion) error {
	trace, err := clientTrace(actx, a)
	if err != nil {
		return err
	}

	positions := make(map[string]int)
	for i, ev := range trace {
		for _, kind := range a.Kinds {
			if ev.Kind == kind && positions[kind] == 0 {
				positions[kind] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, kind := range a.Kinds {
		if positions[kind] == 0 {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("all kinds present: %v", a.Kinds),
				Actual:   fmt.Sprintf("missing kind: %s", kind),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Kinds); i++ {
		prev, curr := a.Kinds[i-1], a.Kinds[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("kinds in order: %v", a.Kinds),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertEventCount(actx *AssertionContext, a Assertion) error {
	trace, err := clientTrace(actx, a)
	if err != nil {
		return err
	}

	count := 0
	for _, ev := range trace {
		if matches(ev, a) {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s for client %s", *a.Count, describeMatch(a), a.Client),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalContent compares a document's content at the end of the
// run. With a client set it checks the client's reconstructed copy (the
// convergence check); otherwise it reads what the shutdown flush left
// on disk.
func assertFinalContent(actx *AssertionContext, a Assertion) error {
	want := *a.Equals

	if a.Client != "" {
		got, ok := actx.Shadows[a.Client]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalContent,
				Expected: fmt.Sprintf("client %s holds %q", a.Client, want),
				Actual:   "client never attached",
			}
		}
		if got != want {
			return &AssertionError{
				Type:     AssertFinalContent,
				Expected: fmt.Sprintf("client %s holds %q", a.Client, want),
				Actual:   fmt.Sprintf("client holds %q", got),
				Trace:    actx.Traces[a.Client],
			}
		}
		return nil
	}

	got, ok := actx.Disk[a.Path]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalContent,
			Expected: fmt.Sprintf("%s on disk with content %q", a.Path, want),
			Actual:   "file missing",
		}
	}
	if got != want {
		return &AssertionError{
			Type:     AssertFinalContent,
			Expected: fmt.Sprintf("%s on disk with content %q", a.Path, want),
			Actual:   fmt.Sprintf("content %q", got),
		}
	}
	return nil
}

// assertFinalState checks fields of a session that was still open when
// the steps finished, with subset semantics: only the listed fields are
// compared.
func assertFinalState(actx *AssertionContext, a Assertion) error {
	info, ok := actx.States[a.Path]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("an open session for %s", a.Path),
			Actual:   "no session open when steps finished",
		}
	}

	for _, key := range []string{"content", "dirty", "participants"} {
		want, present := a.Expect[key]
		if !present {
			continue
		}

		var actual any
		switch key {
		case "content":
			actual = info.Content
		case "dirty":
			actual = info.Dirty
		case "participants":
			actual = len(info.Participants)
		}

		if !stateValuesEqual(want, actual) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("session %s field %q = %v", a.Path, key, want),
				Actual:   fmt.Sprintf("field %q = %v", key, actual),
			}
		}
	}
	return nil
}

// stateValuesEqual compares a YAML-decoded expectation against a live
// value, coercing the integer widths YAML produces.
func stateValuesEqual(expected, actual any) bool {
	switch exp := expected.(type) {
	case int:
		switch act := actual.(type) {
		case int:
			return exp == act
		case int64:
			return int64(exp) == act
		}
		return false
	case int64:
		switch act := actual.(type) {
		case int:
			return exp == int64(act)
		case int64:
			return exp == act
		}
		return false
	case bool:
		act, ok := actual.(bool)
		return ok && exp == act
	case string:
		act, ok := actual.(string)
		return ok && exp == act
	}
	return false
}
