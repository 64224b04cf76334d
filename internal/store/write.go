package store

import (
	"context"
	"fmt"

	"github.com/roach88/pathsync/internal/node"
)

// InsertNodes inserts nodes in one transaction, in the given order.
// A node with a nil Path is stored with the one-element path [id].
//
// Parent ids are not checked; fixtures may deliberately hold malformed
// parent data.
func (s *Store) InsertNodes(ctx context.Context, nodes []node.Node) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert nodes: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (id, parent_id, path) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert nodes: prepare: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		p := n.Path
		if p == nil {
			p = node.Path{n.ID}
		}
		text, err := marshalPath(p)
		if err != nil {
			return fmt.Errorf("insert node %d: %w", n.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, n.ID, nullableParent(n.ParentID), text); err != nil {
			return fmt.Errorf("insert node %d: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert nodes: commit: %w", err)
	}
	return nil
}

// Reparent moves id under parent (nil makes it a root). Only parent_id
// changes; the cached path is left for Synchronize to repair.
func (s *Store) Reparent(ctx context.Context, id node.ID, parent *node.ID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes SET parent_id = ? WHERE id = ?
	`, nullableParent(parent), id)
	if err != nil {
		return fmt.Errorf("reparent %d: %w", id, classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("reparent %d: %w", id, node.ErrNotFound)
	}
	return nil
}

// SetPath overwrites the cached path of one node without any check.
// Used to inject drift in tests and fixtures.
func (s *Store) SetPath(ctx context.Context, id node.ID, p node.Path) error {
	text, err := marshalPath(p)
	if err != nil {
		return fmt.Errorf("set path %d: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE nodes SET path = ? WHERE id = ?`, text, id)
	if err != nil {
		return fmt.Errorf("set path %d: %w", id, classify(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("set path %d: %w", id, node.ErrNotFound)
	}
	return nil
}

// updatePaths writes each path, skipping rows whose stored text already
// matches, and returns the number of rows changed.
func updatePaths(ctx context.Context, q querier, updates []node.PathUpdate) (int64, error) {
	var total int64
	for _, u := range updates {
		text, err := marshalPath(u.Path)
		if err != nil {
			return total, fmt.Errorf("update path %d: %w", u.ID, err)
		}
		res, err := q.ExecContext(ctx, `
			UPDATE nodes SET path = ?
			WHERE id = ? AND path IS NOT ?
		`, text, u.ID, text)
		if err != nil {
			return total, fmt.Errorf("update path %d: %w", u.ID, classify(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("update path %d: rows affected: %w", u.ID, err)
		}
		total += n
	}
	return total, nil
}
