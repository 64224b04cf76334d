package hierarchy

import (
	"context"
	"time"

	"github.com/roach88/pathsync/internal/node"
)

// Reader is the read side of a node store.
type Reader interface {
	// Node returns one node by id, wrapping node.ErrNotFound if absent.
	Node(ctx context.Context, id node.ID) (node.Node, error)

	// RootOf returns the parentless ancestor of id in a single bounded
	// query, following at most maxDepth parent pointers. It wraps
	// node.ErrNotFound when id does not exist or no root is reached.
	RootOf(ctx context.Context, id node.ID, maxDepth int) (node.Node, error)

	// Descendants returns the live parent-pointer edges of every node
	// transitively reachable from root, and the stored paths of those
	// nodes (root included) plus any node whose stored path starts at root.
	Descendants(ctx context.Context, root node.ID) ([]node.Edge, map[node.ID]node.Path, error)
}

// Store is the node store a Hierarchy operates on.
type Store interface {
	Reader

	// Begin starts a read-write transaction.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one store transaction.
//
// Backends must wrap node.ErrLockTimeout when a lock wait exceeds its bound
// and node.ErrDeadlock when the store aborts the transaction to break a
// deadlock, from any method.
type Tx interface {
	// LockRoot takes an exclusive lock on the root row that does not block
	// inserts of new children, waiting at most timeout.
	LockRoot(ctx context.Context, root node.ID, timeout time.Duration) error

	// Descendants is Reader.Descendants within the transaction.
	Descendants(ctx context.Context, root node.ID) ([]node.Edge, map[node.ID]node.Path, error)

	// UpdatePaths writes each path, skipping rows whose stored path
	// already matches, and returns the number of rows changed.
	UpdatePaths(ctx context.Context, updates []node.PathUpdate) (int64, error)

	Commit(ctx context.Context) error

	// Rollback aborts the transaction. It is safe to call after Commit.
	Rollback(ctx context.Context) error
}

// Metrics counts the two recognized repair failures. Each failure is counted
// exactly once, tagged with the operation that hit it.
type Metrics interface {
	LockTimeout(source string)
	Deadlock(source string)
}

type nopMetrics struct{}

func (nopMetrics) LockTimeout(string) {}
func (nopMetrics) Deadlock(string)    {}
