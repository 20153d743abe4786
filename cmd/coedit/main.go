// Command coedit runs the live markdown co-editing server and its
// operator tooling: config checks, draft recovery, revision history,
// and the conformance scenario suite.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/coedit/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
