package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pathsync/internal/fixture"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	StoreOptions
}

// SeedReport is the output of the seed command.
type SeedReport struct {
	Fixture string `json:"fixture"`
	Nodes   int    `json:"nodes"`
}

func (r SeedReport) String() string {
	return fmt.Sprintf("✓ Seeded %d node(s) from %s", r.Nodes, r.Fixture)
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Load a node tree fixture into the store",
		Long: `Insert the nodes listed in a YAML fixture, exactly as written.

Stored paths are taken from the fixture, so drift can be set up on purpose.
A node without a path is stored with the one-element path [id].

Example fixture:
  name: drifted-child
  nodes:
    - {id: 1, path: [1]}
    - {id: 2, parent: 1, path: [1]}

Examples:
  pathsync seed --db ./tree.db fixtures/drifted.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, args[0], cmd)
		},
	}

	addStoreFlags(cmd, &opts.StoreOptions)

	return cmd
}

func runSeed(opts *SeedOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx, stop := commandContext(cmd)
	defer stop()

	f, err := fixture.Load(path)
	if err != nil {
		return out.fail(ExitCommandError, "failed to load fixture", err)
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

	if err := fixture.Seed(ctx, st, f); err != nil {
		return out.fail(ExitCommandError, "failed to seed", err)
	}
	return out.Success(SeedReport{Fixture: f.Name, Nodes: len(f.Nodes)})
}
