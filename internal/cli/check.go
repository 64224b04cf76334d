package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pathsync/internal/hierarchy"
	"github.com/roach88/pathsync/internal/node"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	StoreOptions
}

// CheckReport lists the mismatched nodes under one root.
type CheckReport struct {
	Root       node.ID              `json:"root"`
	Mismatches []hierarchy.Mismatch `json:"mismatches"`
}

func (r CheckReport) String() string {
	if len(r.Mismatches) == 0 {
		return fmt.Sprintf("✓ root %d: all paths consistent", r.Root)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ root %d: %d mismatched node(s)", r.Root, len(r.Mismatches))
	for _, m := range r.Mismatches {
		if m.Correct == nil {
			fmt.Fprintf(&b, "\n  node %d: stored %s (%s)", m.ID, m.Stored, m.Reason)
			continue
		}
		fmt.Fprintf(&b, "\n  node %d: stored %s, correct %s (%s)", m.ID, m.Stored, m.Correct, m.Reason)
	}
	return b.String()
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <root-id>",
		Short: "Report nodes whose stored path is wrong",
		Long: `Compare every stored path under a root with the path its parent pointers
imply. Takes no locks and writes nothing.

Nodes on a cyclic branch are reported with reason "cycle", and nodes whose
stored path claims the root but that the root no longer reaches with reason
"detached". Neither has a correct path.

Exit codes:
  0 - All paths consistent
  1 - Mismatches found
  2 - Command error (unknown root, not a root, database error)

Examples:
  pathsync check --db ./tree.db 1
  pathsync check --db ./tree.db 1 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	addStoreFlags(cmd, &opts.StoreOptions)

	return cmd
}

func runCheck(opts *CheckOptions, arg string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx, stop := commandContext(cmd)
	defer stop()

	id, err := parseID(arg)
	if err != nil {
		return out.fail(ExitCommandError, "invalid argument", err)
	}
	cfg, err := resolveConfig(cmd, opts.RootOptions, &opts.StoreOptions)
	if err != nil {
		return out.fail(ExitCommandError, "invalid configuration", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return out.fail(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	logger := newLogger(opts.Verbose, cmd.ErrOrStderr())
	h, err := hierarchy.Open(ctx, st, id, hierarchyOptions(opts.RootOptions, cfg, logger)...)
	if err != nil {
		return out.fail(exitCodeFor(err), fmt.Sprintf("failed to open root %d", id), err)
	}

	mismatches, err := h.FindMismatches(ctx)
	if err != nil {
		return out.fail(ExitFailure, fmt.Sprintf("failed to check root %d", id), err)
	}
	if mismatches == nil {
		mismatches = []hierarchy.Mismatch{}
	}

	if err := out.Success(CheckReport{Root: id, Mismatches: mismatches}); err != nil {
		return err
	}
	if len(mismatches) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d mismatched node(s) under root %d", len(mismatches), id))
	}
	return nil
}
