package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SuiteResult aggregates a directory run for reporting.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Updated  int               `json:"updated,omitempty"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure records one failed scenario with its error messages.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// SuiteOptions control a directory run.
type SuiteOptions struct {
	// Filter is a glob matched against scenario file base names
	// ("two-client-*.yaml"). Empty runs everything.
	Filter string

	// Update rewrites golden fixtures instead of comparing them.
	Update bool
}

// RunDir loads and runs every scenario file in dir (sorted by name) and
// aggregates the results.
//
// Golden scenarios compare their traces against <dir>/../golden/, the
// same fixtures `go test -update` maintains; with Update set the
// fixtures are rewritten instead.
func RunDir(dir string, opts SuiteOptions) (*SuiteResult, error) {
	paths, err := discoverScenarios(dir, opts.Filter)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios in %s match", dir)
	}

	goldenDir := filepath.Join(filepath.Dir(filepath.Clean(dir)), "golden")

	suite := &SuiteResult{}
	for _, path := range paths {
		suite.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.fail(filepath.Base(path), path, err.Error())
			continue
		}

		result, err := Run(scenario)
		if err != nil {
			suite.fail(scenario.Name, path, err.Error())
			continue
		}

		msgs := result.Errors
		if result.Pass && scenario.Golden {
			if updated, err := checkGolden(goldenDir, scenario.Name, result, opts.Update); err != nil {
				msgs = append(msgs, err.Error())
			} else if updated {
				suite.Updated++
			}
		}

		if len(msgs) > 0 {
			suite.fail(scenario.Name, path, msgs...)
			continue
		}
		suite.Passed++
	}
	return suite, nil
}

func (s *SuiteResult) fail(name, path string, msgs ...string) {
	s.Failed++
	s.Failures = append(s.Failures, ScenarioFailure{
		Scenario: name,
		Path:     path,
		Errors:   msgs,
	})
}

func discoverScenarios(dir, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenarios dir: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if ext := filepath.Ext(name); ext != ".yaml" && ext != ".yml" {
			continue
		}
		if filter != "" {
			ok, err := filepath.Match(filter, name)
			if err != nil {
				return nil, fmt.Errorf("bad filter %q: %w", filter, err)
			}
			if !ok {
				continue
			}
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

// checkGolden compares (or rewrites) a scenario's golden fixture.
// Returns whether the fixture was written.
func checkGolden(goldenDir, name string, result *Result, update bool) (bool, error) {
	data, err := snapshotBytes(name, result.Traces)
	if err != nil {
		return false, err
	}
	fixture := filepath.Join(goldenDir, name+".golden")

	if update {
		if err := os.MkdirAll(goldenDir, 0o755); err != nil {
			return false, fmt.Errorf("update golden %s: %w", name, err)
		}
		if err := os.WriteFile(fixture, data, 0o644); err != nil {
			return false, fmt.Errorf("update golden %s: %w", name, err)
		}
		return true, nil
	}

	want, err := os.ReadFile(fixture)
	if err != nil {
		return false, fmt.Errorf("golden fixture %s missing (run with --update to create it)", fixture)
	}
	if !bytes.Equal(want, data) {
		return false, fmt.Errorf("trace differs from golden fixture %s (run with --update to accept)", fixture)
	}
	return false, nil
}
