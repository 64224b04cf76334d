// Package hierarchy detects and repairs materialized-path drift for one tree.
//
// A Hierarchy is bound to a root node (a node without a parent) and covers
// every node reachable from it through live parent pointers. It offers two
// operations:
//
//   - FindMismatches: read-only diagnostic, no locks
//   - Synchronize: transactional repair serialized on the root row
//
// Correct paths always come from resolver.Resolve over the edges read from
// the store. Stored paths are compared against them and never trusted.
//
// Retry policy belongs to the caller. Lock timeouts and deadlocks are
// counted and returned as distinct errors (see IsTimeout, IsDeadlock).
package hierarchy

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/pathsync/internal/node"
	"github.com/roach88/pathsync/internal/resolver"
)

const (
	// DefaultLockTimeout bounds the wait for the root row lock.
	DefaultLockTimeout = 500 * time.Millisecond

	// DefaultMaxDepth bounds the ancestor walk in ForNode.
	DefaultMaxDepth = 1000

	// SourceSynchronize tags metrics recorded by Synchronize.
	SourceSynchronize = "Hierarchy.Synchronize"

	tracerName = "github.com/roach88/pathsync/internal/hierarchy"
)

// Reason explains why a node was reported by FindMismatches.
type Reason string

const (
	// ReasonDrift: reachable from the root, stored path differs.
	ReasonDrift Reason = "drift"

	// ReasonCycle: reached only through a cyclic branch; no correct path.
	ReasonCycle Reason = "cycle"

	// ReasonDetached: stored path starts at this root, but the node is not
	// reachable from it through parent pointers.
	ReasonDetached Reason = "detached"
)

// Mismatch is one node whose stored path is wrong.
type Mismatch struct {
	ID      node.ID   `json:"id"`
	Stored  node.Path `json:"stored"`
	Correct node.Path `json:"correct"`
	Reason  Reason    `json:"reason"`
}

// Result summarizes one Synchronize run.
type Result struct {
	RunID   string  `json:"run_id"`
	Root    node.ID `json:"root"`
	Visited int     `json:"visited"`
	Updated int64   `json:"updated"`
	Cyclic  int     `json:"cyclic"`
}

// Option configures a Hierarchy.
type Option func(*settings)

type settings struct {
	lockTimeout time.Duration
	maxDepth    int
	metrics     Metrics
	logger      *slog.Logger
	tracer      trace.Tracer
	runIDs      RunIDGenerator
}

// WithLockTimeout sets the root lock wait bound. Non-positive values keep
// the default.
func WithLockTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithMaxDepth sets the ancestor walk bound used by ForNode.
func WithMaxDepth(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

// WithMetrics sets the failure counters.
func WithMetrics(m Metrics) Option {
	return func(s *settings) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *settings) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithRunIDs sets the run id generator.
func WithRunIDs(g RunIDGenerator) Option {
	return func(s *settings) {
		if g != nil {
			s.runIDs = g
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		lockTimeout: DefaultLockTimeout,
		maxDepth:    DefaultMaxDepth,
		metrics:     nopMetrics{},
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		runIDs:      UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Hierarchy is the set of nodes reachable from one root.
//
// Thread-safety: a Hierarchy holds no mutable state and may be shared.
// Concurrent Synchronize calls are serialized by the store's root lock.
type Hierarchy struct {
	settings
	root  node.Node
	store Store
}

// New binds a Hierarchy to root. It fails with INVALID_ROOT, without
// touching the store, if root has a parent.
func New(root node.Node, st Store, opts ...Option) (*Hierarchy, error) {
	if !root.IsRoot() {
		return nil, newInvalidRootError(root)
	}
	return &Hierarchy{
		settings: newSettings(opts),
		root:     root,
		store:    st,
	}, nil
}

// Root returns the node the hierarchy is bound to.
func (h *Hierarchy) Root() node.Node {
	return h.root
}

// FindMismatches returns every node whose stored path differs from its
// correct path. It takes no locks; the result may be stale by the time the
// caller acts on it.
func (h *Hierarchy) FindMismatches(ctx context.Context) (mismatches []Mismatch, err error) {
	ctx, span := h.tracer.Start(ctx, "Hierarchy.FindMismatches",
		trace.WithAttributes(attribute.Int64("pathsync.root", int64(h.root.ID))))
	defer func() { endSpan(span, err) }()

	edges, stored, err := h.store.Descendants(ctx, h.root.ID)
	if err != nil {
		return nil, fmt.Errorf("find mismatches: read descendants: %w", err)
	}

	visited := make(map[node.ID]bool, len(stored))
	for e := range resolver.Resolve(h.root.ID, resolver.FromEdges(edges)) {
		visited[e.ID] = true
		current := stored[e.ID]
		switch {
		case e.Cyclic:
			mismatches = append(mismatches, Mismatch{ID: e.ID, Stored: current, Reason: ReasonCycle})
		case !current.Equal(e.Path):
			mismatches = append(mismatches, Mismatch{ID: e.ID, Stored: current, Correct: e.Path, Reason: ReasonDrift})
		}
	}

	var detached []Mismatch
	for id, p := range stored {
		if !visited[id] {
			detached = append(detached, Mismatch{ID: id, Stored: p, Reason: ReasonDetached})
		}
	}
	sortByID(detached)
	mismatches = append(mismatches, detached...)

	span.SetAttributes(attribute.Int("pathsync.mismatches", len(mismatches)))
	return mismatches, nil
}

// Synchronize rewrites every stored path that differs from its correct path,
// in one transaction holding the root lock.
//
// Nodes on or below a cyclic branch, and detached nodes, are never written.
// A lock timeout returns REPAIR_TIMED_OUT and a deadlock REPAIR_DEADLOCKED;
// each is counted once. Other store errors are returned as-is (wrapped).
func (h *Hierarchy) Synchronize(ctx context.Context) (res Result, err error) {
	res = Result{RunID: h.runIDs.Generate(), Root: h.root.ID}
	log := h.logger.With("root", int64(h.root.ID), "run_id", res.RunID)

	ctx, span := h.tracer.Start(ctx, "Hierarchy.Synchronize",
		trace.WithAttributes(
			attribute.Int64("pathsync.root", int64(h.root.ID)),
			attribute.String("pathsync.run_id", res.RunID),
		))
	defer func() { endSpan(span, err) }()

	log.Debug("synchronize starting", "lock_timeout", h.lockTimeout)

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return res, h.classify(log, fmt.Errorf("synchronize: begin: %w", err))
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if err := tx.LockRoot(ctx, h.root.ID, h.lockTimeout); err != nil {
		return res, h.classify(log, fmt.Errorf("synchronize: lock root: %w", err))
	}

	edges, stored, err := tx.Descendants(ctx, h.root.ID)
	if err != nil {
		return res, h.classify(log, fmt.Errorf("synchronize: read descendants: %w", err))
	}

	var updates []node.PathUpdate
	for e := range resolver.Resolve(h.root.ID, resolver.FromEdges(edges)) {
		res.Visited++
		if e.Cyclic {
			res.Cyclic++
			log.Warn("skipping node on cyclic branch", "node", int64(e.ID))
			continue
		}
		if current, ok := stored[e.ID]; ok && current.Equal(e.Path) {
			continue
		}
		updates = append(updates, node.PathUpdate{ID: e.ID, Path: e.Path})
	}

	if len(updates) > 0 {
		n, err := tx.UpdatePaths(ctx, updates)
		if err != nil {
			return res, h.classify(log, fmt.Errorf("synchronize: update paths: %w", err))
		}
		res.Updated = n
	}

	if err := tx.Commit(ctx); err != nil {
		res.Updated = 0
		return res, h.classify(log, fmt.Errorf("synchronize: commit: %w", err))
	}

	span.SetAttributes(
		attribute.Int("pathsync.visited", res.Visited),
		attribute.Int64("pathsync.updated", res.Updated),
		attribute.Int("pathsync.cyclic", res.Cyclic),
	)
	log.Info("synchronize complete", "visited", res.Visited, "updated", res.Updated, "cyclic", res.Cyclic)
	return res, nil
}

// classify converts lock failures into hierarchy errors and counts them.
// Anything else passes through untouched.
func (h *Hierarchy) classify(log *slog.Logger, err error) error {
	switch {
	case errors.Is(err, node.ErrLockTimeout):
		h.metrics.LockTimeout(SourceSynchronize)
		log.Warn("synchronize timed out waiting for lock", "error", err)
		return newTimeoutError(h.root.ID, err)
	case errors.Is(err, node.ErrDeadlock):
		h.metrics.Deadlock(SourceSynchronize)
		log.Warn("synchronize deadlocked", "error", err)
		return newDeadlockError(h.root.ID, err)
	default:
		return err
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func sortByID(ms []Mismatch) {
	slices.SortFunc(ms, func(a, b Mismatch) int {
		return cmp.Compare(a.ID, b.ID)
	})
}
