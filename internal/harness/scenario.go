package harness

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/coedit/internal/editor"
)

// Step operations.
const (
	OpOpen           = "open"
	OpEdit           = "edit"
	OpCursor         = "cursor"
	OpPing           = "ping"
	OpSave           = "save"
	OpClose          = "close"
	OpKill           = "kill"
	OpAwait          = "await"
	OpSettle         = "settle"
	OpExternalWrite  = "external-write"
	OpExternalRemove = "external-remove"
)

// Assertion types.
const (
	AssertEventContains = "event_contains"
	AssertEventOrder    = "event_order"
	AssertEventCount    = "event_count"
	AssertFinalContent  = "final_content"
	AssertFinalState    = "final_state"
)

// Scenario is a complete conformance scenario loaded from YAML.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Timing overrides the harness defaults, keyed by the config file's
	// millisecond field names (contentDebounceMs, renderIntervalMs, ...).
	Timing map[string]int64 `yaml:"timing"`

	// Documents are seeded into the workspace before the engine starts.
	Documents []DocumentSeed `yaml:"documents"`

	// Clients lists the participant names the steps may use. Names double
	// as client ids, so traces and rosters read like the scenario.
	Clients []string `yaml:"clients"`

	Steps  []Step      `yaml:"steps"`
	Expect []Assertion `yaml:"expect"`

	// Golden scenarios additionally compare their traces against a
	// snapshot in testdata/golden.
	Golden bool `yaml:"golden"`
}

// DocumentSeed is one file created in the workspace before the run.
type DocumentSeed struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
}

// Step is one scripted operation.
type Step struct {
	Op     string `yaml:"op"`
	Client string `yaml:"client"`

	// Path names the document. Ops on an attached client may omit it;
	// the client's open document is used.
	Path string `yaml:"path"`

	Content string         `yaml:"content"` // edit, external-write
	Cursor  *editor.Cursor `yaml:"cursor"`  // cursor

	Kind      string `yaml:"kind"`      // await
	Contains  string `yaml:"contains"`  // await
	TimeoutMs int64  `yaml:"timeoutMs"` // await
	Ms        int64  `yaml:"ms"`        // settle

	// ExpectFlushed checks save's return: true demands a disk write,
	// false demands a clean no-op.
	ExpectFlushed *bool `yaml:"expectFlushed"`

	// ExpectError demands the operation fail with the given session
	// error code (FILE_NOT_FOUND, ...).
	ExpectError string `yaml:"expectError"`

	// Await, when set, runs as a barrier after the operation.
	Await *AwaitSpec `yaml:"await"`
}

// AwaitSpec is an inline barrier attached to a step. Client defaults to
// the step's client.
type AwaitSpec struct {
	Client    string `yaml:"client"`
	Kind      string `yaml:"kind"`
	Contains  string `yaml:"contains"`
	TimeoutMs int64  `yaml:"timeoutMs"`
}

// Assertion is one expectation evaluated after the steps complete.
type Assertion struct {
	Type string `yaml:"type"`

	Client   string   `yaml:"client"`
	Kind     string   `yaml:"kind"`
	Kinds    []string `yaml:"kinds"`
	Path     string   `yaml:"path"`
	Contains string   `yaml:"contains"`
	Count    *int     `yaml:"count"`
	Equals   *string  `yaml:"equals"`

	// Expect holds final_state field expectations: content, dirty,
	// participants.
	Expect map[string]any `yaml:"expect"`
}

// validEventKinds are the kinds awaits and trace assertions may name.
// Keepalive frames never enter a trace, so they are not listed.
var validEventKinds = map[string]bool{
	string(editor.EventConfig):       true,
	string(editor.EventPresence):     true,
	string(editor.EventCursor):       true,
	string(editor.EventTextDiff):     true,
	string(editor.EventRenderUpdate): true,
	string(editor.EventFileChanged):  true,
	string(editor.EventSaveFailed):   true,
}

var validErrorCodes = map[string]bool{
	string(editor.ErrCodeFileNotFound):    true,
	string(editor.ErrCodeSaveFailed):      true,
	string(editor.ErrCodeSessionNotFound): true,
	string(editor.ErrCodeClientNotFound):  true,
}

var validTimingKeys = map[string]bool{
	"pingIntervalMs":      true,
	"staleThresholdMs":    true,
	"cursorThrottleMs":    true,
	"contentDebounceMs":   true,
	"renderIntervalMs":    true,
	"keepaliveIntervalMs": true,
	"reconnectDelayMs":    true,
	"autosaveIntervalMs":  true,
}

var validStateFields = map[string]bool{
	"content":      true,
	"dirty":        true,
	"participants": true,
}

// LoadScenario reads and validates a scenario file. Decoding is strict:
// unknown YAML fields are errors, so typos fail loudly instead of
// silently weakening a scenario.
func LoadScenario(filename string) (*Scenario, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", filename, err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", filename, err)
	}
	return &scenario, nil
}

// validateScenario checks structural completeness so failures point at
// the scenario file, not at a confusing mid-run error.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Clients) == 0 {
		return fmt.Errorf("clients list is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required")
	}

	for key, v := range s.Timing {
		if !validTimingKeys[key] {
			return fmt.Errorf("timing: unknown key %q", key)
		}
		if v <= 0 {
			return fmt.Errorf("timing[%s]: must be positive, got %d", key, v)
		}
	}

	seen := make(map[string]bool, len(s.Clients))
	for i, name := range s.Clients {
		if name == "" {
			return fmt.Errorf("clients[%d]: name is empty", i)
		}
		if seen[name] {
			return fmt.Errorf("clients[%d]: duplicate client %q", i, name)
		}
		seen[name] = true
	}

	for i, doc := range s.Documents {
		if err := validateDocPath(doc.Path); err != nil {
			return fmt.Errorf("documents[%d]: %w", i, err)
		}
	}

	opened := make(map[string]bool, len(s.Clients))
	for i, step := range s.Steps {
		if err := validateStep(s, step, seen, opened); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Expect {
		if err := validateAssertion(a, seen); err != nil {
			return fmt.Errorf("expect[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(s *Scenario, step Step, clients, opened map[string]bool) error {
	needsClient := func() error {
		if step.Client == "" {
			return fmt.Errorf("%s requires a client", step.Op)
		}
		if !clients[step.Client] {
			return fmt.Errorf("client %q is not in the clients list", step.Client)
		}
		return nil
	}

	switch step.Op {
	case OpOpen:
		if err := needsClient(); err != nil {
			return err
		}
		if err := validateDocPath(step.Path); err != nil {
			return err
		}
		if opened[step.Client] {
			return fmt.Errorf("client %q already opened a document", step.Client)
		}
		// A failed open leaves the client unattached and reusable.
		if step.ExpectError == "" {
			opened[step.Client] = true
		}
	case OpEdit, OpPing, OpClose, OpKill:
		if err := needsClient(); err != nil {
			return err
		}
	case OpCursor:
		if err := needsClient(); err != nil {
			return err
		}
		if step.Cursor == nil {
			return fmt.Errorf("cursor requires a position")
		}
	case OpSave:
		if step.Client == "" && step.Path == "" {
			return fmt.Errorf("save requires a client or a path")
		}
		if step.Client != "" && !clients[step.Client] {
			return fmt.Errorf("client %q is not in the clients list", step.Client)
		}
	case OpAwait:
		if err := needsClient(); err != nil {
			return err
		}
		if step.Kind == "" {
			return fmt.Errorf("await requires a kind")
		}
		if !validEventKinds[step.Kind] {
			return fmt.Errorf("await: unknown event kind %q", step.Kind)
		}
	case OpSettle:
		if step.Ms <= 0 {
			return fmt.Errorf("settle requires ms > 0")
		}
	case OpExternalWrite:
		if err := validateDocPath(step.Path); err != nil {
			return err
		}
	case OpExternalRemove:
		if err := validateDocPath(step.Path); err != nil {
			return err
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	if step.ExpectError != "" && !validErrorCodes[step.ExpectError] {
		return fmt.Errorf("unknown error code %q", step.ExpectError)
	}

	if step.Await != nil {
		if step.Await.Kind == "" {
			return fmt.Errorf("await requires a kind")
		}
		if !validEventKinds[step.Await.Kind] {
			return fmt.Errorf("await: unknown event kind %q", step.Await.Kind)
		}
		client := step.Await.Client
		if client == "" {
			client = step.Client
		}
		if client == "" {
			return fmt.Errorf("await requires a client")
		}
		if !clients[client] {
			return fmt.Errorf("await: client %q is not in the clients list", client)
		}
	}
	return nil
}

func validateAssertion(a Assertion, clients map[string]bool) error {
	checkClient := func() error {
		if a.Client == "" {
			return fmt.Errorf("%s requires a client", a.Type)
		}
		if !clients[a.Client] {
			return fmt.Errorf("client %q is not in the clients list", a.Client)
		}
		return nil
	}
	checkKind := func(kind string) error {
		if !validEventKinds[kind] {
			return fmt.Errorf("unknown event kind %q", kind)
		}
		return nil
	}

	switch a.Type {
	case AssertEventContains:
		if err := checkClient(); err != nil {
			return err
		}
		if a.Kind == "" {
			return fmt.Errorf("event_contains requires a kind")
		}
		return checkKind(a.Kind)
	case AssertEventOrder:
		if err := checkClient(); err != nil {
			return err
		}
		if len(a.Kinds) < 2 {
			return fmt.Errorf("event_order requires at least two kinds")
		}
		for _, kind := range a.Kinds {
			if err := checkKind(kind); err != nil {
				return err
			}
		}
		return nil
	case AssertEventCount:
		if err := checkClient(); err != nil {
			return err
		}
		if a.Kind == "" {
			return fmt.Errorf("event_count requires a kind")
		}
		if err := checkKind(a.Kind); err != nil {
			return err
		}
		if a.Count == nil {
			return fmt.Errorf("event_count requires a count")
		}
		if *a.Count < 0 {
			return fmt.Errorf("event_count: count must be >= 0, got %d", *a.Count)
		}
		return nil
	case AssertFinalContent:
		if a.Equals == nil {
			return fmt.Errorf("final_content requires equals")
		}
		if a.Client == "" && a.Path == "" {
			return fmt.Errorf("final_content requires a path or a client")
		}
		if a.Client != "" && !clients[a.Client] {
			return fmt.Errorf("client %q is not in the clients list", a.Client)
		}
		if a.Path != "" {
			return validateDocPath(a.Path)
		}
		return nil
	case AssertFinalState:
		if err := validateDocPath(a.Path); err != nil {
			return err
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("final_state requires expect fields")
		}
		for key := range a.Expect {
			if !validStateFields[key] {
				return fmt.Errorf("final_state: unknown session field %q", key)
			}
		}
		return nil
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// validateDocPath enforces clean workspace-relative paths, the same shape
// the engine keys sessions by.
func validateDocPath(p string) error {
	if p == "" {
		return fmt.Errorf("path is required")
	}
	clean := path.Clean(p)
	if clean != p || clean == "." {
		return fmt.Errorf("path %q is not clean (want %q)", p, clean)
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q escapes the workspace", p)
	}
	return nil
}
