package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/pathsync/internal/node"
)

// querier is satisfied by *sql.DB and *sql.Tx, so reads can run inside or
// outside a repair transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Node retrieves a single node by ID.
// Returns an error wrapping node.ErrNotFound if absent.
func (s *Store) Node(ctx context.Context, id node.ID) (node.Node, error) {
	return readNode(ctx, s.db, id)
}

func readNode(ctx context.Context, q querier, id node.ID) (node.Node, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, parent_id, path FROM nodes WHERE id = ?
	`, id)

	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return node.Node{}, fmt.Errorf("read node %d: %w", id, node.ErrNotFound)
	}
	if err != nil {
		return node.Node{}, fmt.Errorf("read node %d: %w", id, err)
	}
	return n, nil
}

// RootOf walks parent pointers upward from id in one recursive query and
// returns the first parentless ancestor, following at most maxDepth edges.
//
// The depth bound also terminates the walk on cyclic parent pointers.
func (s *Store) RootOf(ctx context.Context, id node.ID, maxDepth int) (node.Node, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH RECURSIVE ancestors(id, parent_id, path, depth) AS (
			SELECT id, parent_id, path, 0 FROM nodes WHERE id = ?
			UNION ALL
			SELECT n.id, n.parent_id, n.path, a.depth + 1
			FROM nodes n
			JOIN ancestors a ON n.id = a.parent_id
			WHERE a.depth < ?
		)
		SELECT id, parent_id, path FROM ancestors
		WHERE parent_id IS NULL
		LIMIT 1
	`, id, maxDepth)

	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return node.Node{}, fmt.Errorf("root of %d within %d hops: %w", id, maxDepth, node.ErrNotFound)
	}
	if err != nil {
		return node.Node{}, fmt.Errorf("root of %d: %w", id, err)
	}
	return n, nil
}

// Descendants implements hierarchy.Reader.
func (s *Store) Descendants(ctx context.Context, root node.ID) ([]node.Edge, map[node.ID]node.Path, error) {
	return readDescendants(ctx, s.db, root)
}

// readDescendants returns the edges of every node reachable from root
// through parent_id, plus the stored paths of those nodes and of any node
// whose stored path starts at root.
//
// UNION (not UNION ALL) in the recursive term drops repeated rows, which
// terminates the walk if parent pointers ever form a cycle.
func readDescendants(ctx context.Context, q querier, root node.ID) ([]node.Edge, map[node.ID]node.Path, error) {
	rows, err := q.QueryContext(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM nodes WHERE id = ?
			UNION
			SELECT n.id FROM nodes n JOIN tree t ON n.parent_id = t.id
		)
		SELECT n.id, n.parent_id, n.path, 1 AS reachable
		FROM nodes n JOIN tree t ON t.id = n.id
		UNION ALL
		SELECT n.id, n.parent_id, n.path, 0 AS reachable
		FROM nodes n
		WHERE json_extract(n.path, '$[0]') = ?
		  AND n.id NOT IN (SELECT id FROM tree)
		ORDER BY reachable DESC, id ASC
	`, root, root)
	if err != nil {
		return nil, nil, fmt.Errorf("query descendants of %d: %w", root, classify(err))
	}
	defer rows.Close()

	var edges []node.Edge
	stored := make(map[node.ID]node.Path)
	for rows.Next() {
		var (
			n         node.Node
			parent    sql.NullInt64
			text      string
			reachable bool
		)
		if err := rows.Scan(&n.ID, &parent, &text, &reachable); err != nil {
			return nil, nil, fmt.Errorf("scan descendant: %w", err)
		}
		p, err := unmarshalPath(text)
		if err != nil {
			return nil, nil, err
		}
		stored[n.ID] = p
		if reachable && parent.Valid && n.ID != root {
			edges = append(edges, node.Edge{Parent: node.ID(parent.Int64), Child: n.ID})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate descendants of %d: %w", root, classify(err))
	}

	return edges, stored, nil
}

// Roots returns every parentless node, ordered by id.
func (s *Store) Roots(ctx context.Context) ([]node.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
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
