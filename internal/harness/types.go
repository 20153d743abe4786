package harness

// TraceEvent is one recorded delivery on a client's stream.
//
// Body is a deterministic one-line rendering of the payload: the roster
// for presence events, the reconstructed content for text-diffs, the
// HTML for renders. Assertions match substrings against it and golden
// snapshots serialize it, so it never includes wall-clock values.
type TraceEvent struct {
	Seq  int    `json:"seq"`
	Kind string `json:"kind"`
	Path string `json:"path,omitempty"`
	Body string `json:"body,omitempty"`
}

// Result captures a scenario execution.
type Result struct {
	// Pass is true when every step and assertion succeeded.
	Pass bool `json:"pass"`

	// Traces holds each client's recorded event stream in delivery
	// order, keyed by client name.
	Traces map[string][]TraceEvent `json:"traces"`

	// Errors lists step and assertion failures in occurrence order.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates an empty result that passes until an error lands.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Traces: make(map[string][]TraceEvent),
	}
}

// AddError records a failure and flips the result to failing.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
