package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/pathsync/internal/node"
	"github.com/roach88/pathsync/internal/testutil"
)

var (
	quietLogger = testutil.QuietLogger()

	// n builds a node with an optional parent (0 for a root) and stored path.
	n = testutil.Node
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seed inserts nodes, failing the test on error.
func seed(t *testing.T, s *Store, nodes ...node.Node) {
	t.Helper()
	testutil.Seed(t, s, nodes...)
}

// storedPath reads the cached path of one node.
func storedPath(t *testing.T, s *Store, id node.ID) node.Path {
	t.Helper()
	got, err := s.Node(context.Background(), id)
	if err != nil {
		t.Fatalf("Node(%d) failed: %v", id, err)
	}
	return got.Path
}
