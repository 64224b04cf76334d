package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pathsync/internal/config"
	"github.com/roach88/pathsync/internal/hierarchy"
	"github.com/roach88/pathsync/internal/node"
	"github.com/roach88/pathsync/internal/store"
	"github.com/roach88/pathsync/internal/store/pgstore"
)

// StoreOptions holds the flags shared by every command that opens a store.
type StoreOptions struct {
	Driver      string
	Database    string
	LockTimeout time.Duration
	MaxDepth    int
}

func addStoreFlags(cmd *cobra.Command, opts *StoreOptions) {
	def := config.Default()
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite file path or Postgres connection string")
	cmd.Flags().StringVar(&opts.Driver, "driver", def.Driver, "store driver (sqlite|postgres)")
	cmd.Flags().DurationVar(&opts.LockTimeout, "lock-timeout", def.LockTimeout, "maximum wait for the root lock")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", def.MaxDepth, "maximum ancestor hops when locating a root")
}

// resolveConfig loads --config (if given) and overlays every store flag the
// user set explicitly.
func resolveConfig(cmd *cobra.Command, root *RootOptions, opts *StoreOptions) (config.Config, error) {
	cfg := config.Default()
	if root.ConfigPath != "" {
		loaded, err := config.Load(root.ConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Driver = opts.Driver
	}
	if flags.Changed("db") {
		cfg.DB = opts.Database
	}
	if flags.Changed("lock-timeout") {
		cfg.LockTimeout = opts.LockTimeout
	}
	if flags.Changed("max-depth") {
		cfg.MaxDepth = opts.MaxDepth
	}

	if cfg.DB == "" {
		return cfg, fmt.Errorf("--db is required (or set db in --config)")
	}
	if cfg.Driver != config.DriverSQLite && cfg.Driver != config.DriverPostgres {
		return cfg, fmt.Errorf("invalid driver %q: must be %s or %s", cfg.Driver, config.DriverSQLite, config.DriverPostgres)
	}
	if cfg.MaxDepth <= 0 {
		return cfg, fmt.Errorf("invalid max depth %d: must be positive", cfg.MaxDepth)
	}
	return cfg, nil
}

// nodeStore is what the CLI needs from either backend.
type nodeStore interface {
	hierarchy.Store
	Roots(ctx context.Context) ([]node.Node, error)
	InsertNodes(ctx context.Context, nodes []node.Node) error
	Close() error
}

var (
	_ nodeStore = (*store.Store)(nil)
	_ nodeStore = (*pgstore.Store)(nil)
)

func openStore(ctx context.Context, cfg config.Config) (nodeStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return pgstore.Connect(ctx, cfg.DB)
	default:
		return store.Open(cfg.DB)
	}
}

// newLogger builds the text logger on w, at Debug when verbose.
func newLogger(verbose bool, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

func hierarchyOptions(root *RootOptions, cfg config.Config, logger *slog.Logger, extra ...hierarchy.Option) []hierarchy.Option {
	runIDs := root.RunIDs
	if runIDs == nil {
		runIDs = hierarchy.UUIDv7Generator{}
	}
	opts := []hierarchy.Option{
		hierarchy.WithLockTimeout(cfg.LockTimeout),
		hierarchy.WithMaxDepth(cfg.MaxDepth),
		hierarchy.WithLogger(logger),
		hierarchy.WithRunIDs(runIDs),
	}
	return append(opts, extra...)
}

// commandContext returns the command's context, cancelled on SIGINT/SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func parseID(s string) (node.ID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid node id %q: %w", s, err)
	}
	return node.ID(v), nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout(), Verbose: o.Verbose}
}
