// Command pathsync diagnoses and repairs materialized paths on tree nodes.
//
// Usage:
//
//	pathsync check --db ./tree.db 1
//	pathsync sync --db ./tree.db --all --retries 3
//	pathsync root --db ./tree.db 42
//	pathsync seed --db ./tree.db fixtures/drifted.yaml
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/pathsync/internal/cli"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd := cli.NewRootCommand()
	cmd.Version = version

	err := cmd.Execute()
	if err != nil {
		// Commands report their own failures through the output formatter.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	os.Exit(cli.GetExitCode(err))
}
