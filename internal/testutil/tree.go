// Package testutil builds node trees for tests that run against a real store.
package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/roach88/pathsync/internal/node"
)

// Node builds a node with an optional parent (0 for a root) and stored path.
// With no stored ids the path is left unset.
func Node(id, parent node.ID, stored ...node.ID) node.Node {
	n := node.Node{ID: id, Path: node.Path(stored)}
	if parent != 0 {
		n.ParentID = node.Parent(parent)
	}
	return n
}

// Chain builds a single branch of length nodes rooted at 1, where node i is
// the parent of node i+1. Only the root has a stored path.
func Chain(length int) []node.Node {
	nodes := make([]node.Node, 0, length)
	for i := 1; i <= length; i++ {
		if i == 1 {
			nodes = append(nodes, Node(1, 0, 1))
			continue
		}
		nodes = append(nodes, Node(node.ID(i), node.ID(i-1)))
	}
	return nodes
}

// ChainPath returns the correct path of node id in a Chain.
func ChainPath(id node.ID) node.Path {
	p := make(node.Path, 0, id)
	for i := node.ID(1); i <= id; i++ {
		p = append(p, i)
	}
	return p
}

// Inserter writes nodes exactly as given.
type Inserter interface {
	InsertNodes(ctx context.Context, nodes []node.Node) error
}

// Seed inserts nodes, failing the test on error.
func Seed(t testing.TB, ins Inserter, nodes ...node.Node) {
	t.Helper()
	if err := ins.InsertNodes(context.Background(), nodes); err != nil {
		t.Fatalf("InsertNodes() failed: %v", err)
	}
}

// QuietLogger discards everything logged through it.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}
