// Package pgstore stores nodes in Postgres through pgx.
//
// Unlike the SQLite store, the root lock is a real row lock
// (SELECT ... FOR NO KEY UPDATE) bounded by a transaction-local
// lock_timeout, so repairs of different roots never wait on each other.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/pathsync/internal/hierarchy"
	"github.com/roach88/pathsync/internal/node"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

var _ hierarchy.Store = (*Store)(nil)

// Store is a node store backed by a Postgres pool.
type Store struct {
	pool  Pool
	close func()
}

// New wraps an existing pool. Closing the store does not close the pool.
func New(pool Pool) *Store {
	return &Store{pool: pool, close: func() {}}
}

// Connect opens a pool for dsn, checks it, and applies the schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the nodes table and its indexes if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool if the store opened it.
func (s *Store) Close() error {
	s.close()
	return nil
}

// Node retrieves a single node by ID.
func (s *Store) Node(ctx context.Context, id node.ID) (node.Node, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, parent_id, path FROM nodes WHERE id = $1`, int64(id))
	n, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return node.Node{}, fmt.Errorf("read node %d: %w", id, node.ErrNotFound)
	}
	if err != nil {
		return node.Node{}, fmt.Errorf("read node %d: %w", id, err)
	}
	return n, nil
}

// RootOf returns the first parentless ancestor of id, following at most
// maxDepth parent pointers.
func (s *Store) RootOf(ctx context.Context, id node.ID, maxDepth int) (node.Node, error) {
	row := s.pool.QueryRow(ctx, `
		WITH RECURSIVE ancestors(id, parent_id, path, depth) AS (
			SELECT id, parent_id, path, 0 FROM nodes WHERE id = $1
			UNION ALL
			SELECT n.id, n.parent_id, n.path, a.depth + 1
			FROM nodes n
			JOIN ancestors a ON n.id = a.parent_id
			WHERE a.depth < $2
		)
		SELECT id, parent_id, path FROM ancestors
		WHERE parent_id IS NULL
		LIMIT 1
	`, int64(id), maxDepth)

	n, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return node.Node{}, fmt.Errorf("root of %d within %d hops: %w", id, maxDepth, node.ErrNotFound)
	}
	if err != nil {
		return node.Node{}, fmt.Errorf("root of %d: %w", id, err)
	}
	return n, nil
}

// Descendants implements hierarchy.Reader.
func (s *Store) Descendants(ctx context.Context, root node.ID) ([]node.Edge, map[node.ID]node.Path, error) {
	return readDescendants(ctx, s.pool, root)
}

func readDescendants(ctx context.Context, q querier, root node.ID) ([]node.Edge, map[node.ID]node.Path, error) {
	rows, err := q.Query(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM nodes WHERE id = $1
			UNION
			SELECT n.id FROM nodes n JOIN tree t ON n.parent_id = t.id
		)
		SELECT n.id, n.parent_id, n.path, true AS reachable
		FROM nodes n JOIN tree t ON t.id = n.id
		UNION ALL
		SELECT n.id, n.parent_id, n.path, false AS reachable
		FROM nodes n
		WHERE n.path[1] = $1
		  AND n.id NOT IN (SELECT id FROM tree)
		ORDER BY reachable DESC, id ASC
	`, int64(root))
	if err != nil {
		return nil, nil, fmt.Errorf("query descendants of %d: %w", root, classify(err))
	}
	defer rows.Close()

	var edges []node.Edge
	stored := make(map[node.ID]node.Path)
	for rows.Next() {
		var (
			id        int64
			parent    *int64
			path      []int64
			reachable bool
		)
		if err := rows.Scan(&id, &parent, &path, &reachable); err != nil {
			return nil, nil, fmt.Errorf("scan descendant: %w", err)
		}
		stored[node.ID(id)] = node.PathFromInt64s(path)
		if reachable && parent != nil && node.ID(id) != root {
			edges = append(edges, node.Edge{Parent: node.ID(*parent), Child: node.ID(id)})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate descendants of %d: %w", root, classify(err))
	}
	return edges, stored, nil
}

// Roots returns every parentless node, ordered by id.
func (s *Store) Roots(ctx context.Context) ([]node.Node, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, parent_id, path FROM nodes
		WHERE parent_id IS NULL
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query roots: %w", err)
	}
	defer rows.Close()

	roots := []node.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan root: %w", err)
		}
		roots = append(roots, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roots: %w", err)
	}
	return roots, nil
}

// InsertNodes bulk-loads nodes with COPY. A node with a nil Path is stored
// with the one-element path [id].
func (s *Store) InsertNodes(ctx context.Context, nodes []node.Node) error {
	rows := make([][]any, 0, len(nodes))
	for _, n := range nodes {
		p := n.Path
		if p == nil {
			p = node.Path{n.ID}
		}
		var parent *int64
		if n.ParentID != nil {
			v := int64(*n.ParentID)
			parent = &v
		}
		rows = append(rows, []any{int64(n.ID), parent, p.Int64s()})
	}

	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"nodes"}, []string{"id", "parent_id", "path"}, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("insert nodes: %w", err)
	}
	return nil
}

func scanNode(row pgx.Row) (node.Node, error) {
	var (
		id     int64
		parent *int64
		path   []int64
	)
	if err := row.Scan(&id, &parent, &path); err != nil {
		return node.Node{}, err
	}
	n := node.Node{ID: node.ID(id), Path: node.PathFromInt64s(path)}
	if parent != nil {
		n.ParentID = node.Parent(node.ID(*parent))
	}
	return n, nil
}
