package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot is the serialized form of a scenario's traces. Clients
// are sorted by name so the encoding is stable regardless of map order.
type TraceSnapshot struct {
	Scenario string        `json:"scenario"`
	Clients  []ClientTrace `json:"clients"`
}

// ClientTrace is one client's recorded stream.
type ClientTrace struct {
	Client string       `json:"client"`
	Events []TraceEvent `json:"events"`
}

// snapshotBytes encodes traces deterministically. Both the goldie path
// and the CLI's --update path produce fixtures through this one
// function, so they stay byte-compatible.
func snapshotBytes(scenarioName string, traces map[string][]TraceEvent) ([]byte, error) {
	names := make([]string, 0, len(traces))
	for name := range traces {
		names = append(names, name)
	}
	sort.Strings(names)

	snapshot := TraceSnapshot{Scenario: scenarioName}
	for _, name := range names {
		events := traces[name]
		if events == nil {
			events = []TraceEvent{}
		}
		snapshot.Clients = append(snapshot.Clients, ClientTrace{Client: name, Events: events})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		return nil, fmt.Errorf("encode trace snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its traces against the
// golden file testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the scenario could not run or failed its own
// assertions; the golden comparison itself reports through t.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if !result.Pass {
		return result, fmt.Errorf("scenario %s failed:\n%s", scenario.Name, strings.Join(result.Errors, "\n"))
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return result, err
	}
	return result, nil
}

// AssertGolden compares an already-obtained result against the named
// golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := snapshotBytes(scenarioName, result.Traces)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
