package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pathsync/internal/hierarchy"
	"github.com/roach88/pathsync/internal/node"
)

// RootOfOptions holds flags for the root command.
type RootOfOptions struct {
	*RootOptions
	StoreOptions
}

// RootOfReport is the output of the root command.
type RootOfReport struct {
	Node node.ID   `json:"node"`
	Root node.ID   `json:"root"`
	Path node.Path `json:"stored_path"`
}

func (r RootOfReport) String() string {
	return fmt.Sprintf("node %d: root %d", r.Node, r.Root)
}

// NewRootOfCommand creates the root command, which locates a node's root.
func NewRootOfCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RootOfOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "root <node-id>",
		Short: "Print the root of a node's tree",
		Long: `Walk parent pointers upward from a node and print the root it reaches.

The walk follows at most --max-depth hops, so cyclic parent pointers end in
ROOT_NOT_FOUND rather than looping.

Exit codes:
  0 - Root found
  2 - Node unknown, or no root within --max-depth hops

Examples:
  pathsync root --db ./tree.db 42
  pathsync root --db ./tree.db 42 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRootOf(opts, args[0], cmd)
		},
	}

	addStoreFlags(cmd, &opts.StoreOptions)

	return cmd
}

func runRootOf(opts *RootOfOptions, arg string, cmd *cobra.Command) error {
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
	h, err := hierarchy.ForNode(ctx, st, id, hierarchyOptions(opts.RootOptions, cfg, logger)...)
	if err != nil {
		return out.fail(exitCodeFor(err), fmt.Sprintf("failed to locate root of %d", id), err)
	}

	root := h.Root()
	return out.Success(RootOfReport{Node: id, Root: root.ID, Path: root.Path})
}
