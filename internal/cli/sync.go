package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/pathsync/internal/hierarchy"
	"github.com/roach88/pathsync/internal/metrics"
	"github.com/roach88/pathsync/internal/node"
)

// defaultRetryInterval is the first backoff delay between repair attempts.
const defaultRetryInterval = 50 * time.Millisecond

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	StoreOptions
	All         bool
	Retries     int
	Concurrency int
	MetricsFile string

	// RetryInterval overrides the first backoff delay (for testing).
	RetryInterval time.Duration
}

// SyncOutcome is the result of repairing one root.
type SyncOutcome struct {
	hierarchy.Result
	Attempts int    `json:"attempts"`
	Code     string `json:"code,omitempty"`
	Error    string `json:"error,omitempty"`

	err error
}

// SyncReport is the output of the sync command.
type SyncReport struct {
	Results []SyncOutcome `json:"results"`
	Updated int64         `json:"updated"`
	Failed  int           `json:"failed"`
}

func (r SyncReport) String() string {
	var b strings.Builder
	for i, o := range r.Results {
		if i > 0 {
			b.WriteByte('\n')
		}
		if o.err != nil {
			fmt.Fprintf(&b, "✗ root %d: %s (after %d attempt(s))", o.Root, o.Error, o.Attempts)
			continue
		}
		fmt.Fprintf(&b, "✓ root %d: updated %d of %d node(s)", o.Root, o.Updated, o.Visited)
		if o.Cyclic > 0 {
			fmt.Fprintf(&b, ", skipped %d on cyclic branches", o.Cyclic)
		}
	}
	if len(r.Results) == 0 {
		b.WriteString("No roots found.")
	}
	return b.String()
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts, RetryInterval: defaultRetryInterval}

	cmd := &cobra.Command{
		Use:   "sync [root-id...]",
		Short: "Repair stored paths under one or more roots",
		Long: `Rewrite every stored path that differs from the path its parent pointers
imply. Each root is repaired in its own transaction holding that root's lock.

Nodes on a cyclic branch, and nodes detached from the root, are never
written. A repair that times out waiting for the lock, or deadlocks, can be
retried with exponential backoff via --retries.

Exit codes:
  0 - All roots repaired
  1 - A repair failed
  2 - Command error (unknown root, not a root, bad arguments)
  3 - Every failure was a lock timeout or deadlock

Examples:
  pathsync sync --db ./tree.db 1
  pathsync sync --db ./tree.db --all --concurrency 8
  pathsync sync --db ./tree.db 1 --retries 3 --metrics-file ./pathsync.prom`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args, cmd)
		},
	}

	addStoreFlags(cmd, &opts.StoreOptions)
	cmd.Flags().BoolVar(&opts.All, "all", false, "repair every root in the store")
	cmd.Flags().IntVar(&opts.Retries, "retries", 0, "retries after a lock timeout or deadlock")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 4, "roots repaired in parallel")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write lock failure counters to this file")

	return cmd
}

func runSync(opts *SyncOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx, stop := commandContext(cmd)
	defer stop()

	if opts.All == (len(args) > 0) {
		return out.fail(ExitCommandError, "invalid arguments", fmt.Errorf("pass root ids or --all, not both or neither"))
	}

	cfg, err := resolveConfig(cmd, opts.RootOptions, &opts.StoreOptions)
	if err != nil {
		return out.fail(ExitCommandError, "invalid configuration", err)
	}
	flags := cmd.Flags()
	if flags.Changed("retries") {
		cfg.Retries = opts.Retries
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = opts.Concurrency
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = opts.MetricsFile
	}
	if cfg.Retries < 0 || cfg.Concurrency <= 0 {
		return out.fail(ExitCommandError, "invalid configuration",
			fmt.Errorf("retries must be >= 0 and concurrency > 0 (got %d, %d)", cfg.Retries, cfg.Concurrency))
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return out.fail(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	roots, err := syncTargets(ctx, st, opts.All, args)
	if err != nil {
		return out.fail(ExitCommandError, "invalid arguments", err)
	}

	reg := prometheus.NewRegistry()
	counters, err := metrics.New(reg)
	if err != nil {
		return out.fail(ExitCommandError, "failed to set up metrics", err)
	}

	logger := newLogger(opts.Verbose, cmd.ErrOrStderr())
	hopts := hierarchyOptions(opts.RootOptions, cfg, logger, hierarchy.WithMetrics(counters))

	report := SyncReport{Results: make([]SyncOutcome, len(roots))}
	var g errgroup.Group
	g.SetLimit(cfg.Concurrency)
	for i, id := range roots {
		g.Go(func() error {
			report.Results[i] = syncRoot(ctx, st, id, cfg.Retries, opts.RetryInterval, logger, hopts)
			return nil
		})
	}
	_ = g.Wait()

	exitCode := ExitSuccess
	for _, o := range report.Results {
		report.Updated += o.Updated
		if o.err == nil {
			continue
		}
		report.Failed++
		code := exitCodeFor(o.err)
		if exitCode == ExitSuccess || (exitCode == ExitLockContention && code != ExitLockContention) {
			exitCode = code
		}
	}

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile, reg); err != nil {
			logger.Error("failed to write metrics", "path", cfg.MetricsFile, "error", err)
		}
	}

	if err := out.Success(report); err != nil {
		return err
	}
	if exitCode != ExitSuccess {
		return NewExitError(exitCode, fmt.Sprintf("%d of %d repair(s) failed", report.Failed, len(roots)))
	}
	return nil
}

// syncTargets returns the explicit root ids, or every root when all is set.
func syncTargets(ctx context.Context, st nodeStore, all bool, args []string) ([]node.ID, error) {
	if !all {
		ids := make([]node.ID, 0, len(args))
		for _, a := range args {
			id, err := parseID(a)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	roots, err := st.Roots(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]node.ID, 0, len(roots))
	for _, r := range roots {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// syncRoot repairs one root, retrying lock timeouts and deadlocks with
// exponential backoff. Any other failure ends the attempts at once.
func syncRoot(ctx context.Context, st nodeStore, id node.ID, retries int, interval time.Duration, logger *slog.Logger, hopts []hierarchy.Option) SyncOutcome {
	outcome := SyncOutcome{Result: hierarchy.Result{Root: id}}

	h, err := hierarchy.Open(ctx, st, id, hopts...)
	if err != nil {
		return outcome.failed(err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = interval

	res, err := backoff.Retry(ctx, func() (hierarchy.Result, error) {
		outcome.Attempts++
		res, err := h.Synchronize(ctx)
		outcome.Result = res
		if err != nil && !hierarchy.IsRetryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn("retrying repair", "root", int64(id), "wait", wait, "error", err)
		}),
	)
	if err != nil {
		return outcome.failed(err)
	}
	outcome.Result = res
	return outcome
}

func (o SyncOutcome) failed(err error) SyncOutcome {
	o.err = err
	o.Code = errorCode(err, ErrCodeRepair)
	o.Error = err.Error()
	return o
}
