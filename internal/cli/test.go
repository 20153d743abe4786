package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/coedit/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden fixtures
	Filter string // scenario filter (glob pattern)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run the conformance scenario suite",
		Long: `Run conformance scenarios against a scripted engine, outside go test.

Each scenario opens documents for scripted clients, drives edits, cursor
moves, saves, and external file changes, then checks the recorded event
traces and the final filesystem. Scenarios marked golden additionally
compare their traces against fixtures in the golden directory next to
the scenarios directory.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (bad paths, no scenarios, etc.)

Examples:
  coedit test ./scenarios
  coedit test ./scenarios --filter "two-client-*.yaml"
  coedit test ./scenarios --update
  coedit test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden fixtures")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", `filter scenarios by file name glob (e.g. "two-client-*.yaml")`)

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	suite, err := harness.RunDir(scenariosDir, harness.SuiteOptions{
		Filter: opts.Filter,
		Update: opts.Update,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	if opts.Format == "json" {
		return outputTestJSON(cmd, suite)
	}

	return outputTestText(cmd, suite)
}

// outputTestJSON outputs the suite result as JSON.
func outputTestJSON(cmd *cobra.Command, suite *harness.SuiteResult) error {
	status := "ok"
	if suite.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   suite,
	}

	if suite.Failed > 0 {
		response.Error = &CLIError{
			Code:    "E_TEST_FAILED",
			Message: fmt.Sprintf("%d scenario(s) failed", suite.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if suite.Failed > 0 {
		// Scenario failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
	}
	return nil
}

// outputTestText outputs the suite result as text.
func outputTestText(cmd *cobra.Command, suite *harness.SuiteResult) error {
	w := cmd.OutOrStdout()

	for _, failure := range suite.Failures {
		fmt.Fprintf(w, "✗ %s\n", failure.Scenario)
		for _, msg := range failure.Errors {
			fmt.Fprintf(w, "  %s\n", msg)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", suite.Passed, suite.Failed, suite.Total)
	if suite.Updated > 0 {
		fmt.Fprintf(w, "Updated %d golden fixture(s)\n", suite.Updated)
	}

	if suite.Failed > 0 {
		// Scenario failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", suite.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
