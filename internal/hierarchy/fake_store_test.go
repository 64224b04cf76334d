package hierarchy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/pathsync/internal/node"
)

// fakeStore is an in-memory Store whose edge list is independent of the
// nodes' own ParentID fields, so tests can model malformed or inconsistent
// parent data that a single parent_id column cannot hold.
type fakeStore struct {
	mu    sync.Mutex
	nodes map[node.ID]node.Node
	edges []node.Edge
	paths map[node.ID]node.Path

	// lock serializes LockRoot holders (one root per fake).
	lock chan struct{}

	lockErr   error
	descErr   error
	updateErr error
	commitErr error

	calls   int
	updates [][]node.PathUpdate
	events  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nodes: make(map[node.ID]node.Node),
		paths: make(map[node.ID]node.Path),
		lock:  make(chan struct{}, 1),
	}
}

// add registers a node with a live edge from parent (0 for a root) and a
// stored path.
func (s *fakeStore) add(id, parent node.ID, stored ...node.ID) *fakeStore {
	n := node.Node{ID: id, Path: node.Path(stored)}
	if parent != 0 {
		n.ParentID = node.Parent(parent)
		s.edges = append(s.edges, node.Edge{Parent: parent, Child: id})
	}
	s.nodes[id] = n
	s.paths[id] = node.Path(stored)
	return s
}

func (s *fakeStore) path(id node.ID) node.Path {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paths[id]
}

func (s *fakeStore) touch(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.events = append(s.events, event)
}

func (s *fakeStore) Node(_ context.Context, id node.ID) (node.Node, error) {
	s.touch("node")
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return node.Node{}, fmt.Errorf("node %d: %w", id, node.ErrNotFound)
	}
	return n, nil
}

func (s *fakeStore) RootOf(_ context.Context, id node.ID, maxDepth int) (node.Node, error) {
	s.touch("root_of")
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.nodes[id]
	for hops := 0; ok && hops <= maxDepth; hops++ {
		if cur.IsRoot() {
			return cur, nil
		}
		cur, ok = s.nodes[*cur.ParentID]
	}
	return node.Node{}, fmt.Errorf("root of %d: %w", id, node.ErrNotFound)
}

func (s *fakeStore) Descendants(_ context.Context, root node.ID) ([]node.Edge, map[node.ID]node.Path, error) {
	s.touch("descendants")
	if s.descErr != nil {
		return nil, nil, s.descErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	children := make(map[node.ID][]node.ID)
	for _, e := range s.edges {
		children[e.Parent] = append(children[e.Parent], e.Child)
	}

	reached := map[node.ID]bool{root: true}
	queue := []node.ID{root}
	var edges []node.Edge
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, c := range children[p] {
			edges = append(edges, node.Edge{Parent: p, Child: c})
			if !reached[c] {
				reached[c] = true
				queue = append(queue, c)
			}
		}
	}

	stored := make(map[node.ID]node.Path)
	for id, p := range s.paths {
		if reached[id] || p.Root() == root {
			stored[id] = append(node.Path(nil), p...)
		}
	}
	return edges, stored, nil
}

func (s *fakeStore) Begin(context.Context) (Tx, error) {
	s.touch("begin")
	return &fakeTx{store: s, staged: make(map[node.ID]node.Path)}, nil
}

type fakeTx struct {
	store  *fakeStore
	staged map[node.ID]node.Path
	locked bool
	done   bool
}

func (tx *fakeTx) LockRoot(ctx context.Context, _ node.ID, timeout time.Duration) error {
	tx.store.touch("lock")
	if tx.store.lockErr != nil {
		return tx.store.lockErr
	}
	select {
	case tx.store.lock <- struct{}{}:
		tx.locked = true
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("lock root: %w", node.ErrLockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (tx *fakeTx) Descendants(ctx context.Context, root node.ID) ([]node.Edge, map[node.ID]node.Path, error) {
	return tx.store.Descendants(ctx, root)
}

func (tx *fakeTx) UpdatePaths(_ context.Context, updates []node.PathUpdate) (int64, error) {
	tx.store.touch("update")
	if tx.store.updateErr != nil {
		return 0, tx.store.updateErr
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	var n int64
	for _, u := range updates {
		if tx.store.paths[u.ID].Equal(u.Path) {
			continue
		}
		tx.staged[u.ID] = u.Path
		n++
	}
	tx.store.updates = append(tx.store.updates, updates)
	return n, nil
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.store.touch("commit")
	if tx.store.commitErr != nil {
		return tx.store.commitErr
	}
	tx.store.mu.Lock()
	for id, p := range tx.staged {
		tx.store.paths[id] = p
	}
	tx.store.mu.Unlock()
	tx.release()
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.release()
	return nil
}

func (tx *fakeTx) release() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.locked {
		<-tx.store.lock
	}
}

// countingMetrics records failure counts per source.
type countingMetrics struct {
	mu        sync.Mutex
	timeouts  map[string]int
	deadlocks map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{timeouts: map[string]int{}, deadlocks: map[string]int{}}
}

func (m *countingMetrics) LockTimeout(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeouts[source]++
}

func (m *countingMetrics) Deadlock(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlocks[source]++
}
