package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/pathsync/internal/hierarchy"
	"github.com/roach88/pathsync/internal/node"
)

// Tx is a repair transaction. It implements hierarchy.Tx.
type Tx struct {
	tx *sql.Tx
}

var _ hierarchy.Tx = (*Tx)(nil)

// Begin starts a deferred transaction. The write lock is taken by LockRoot.
func (s *Store) Begin(ctx context.Context) (hierarchy.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", classify(err))
	}
	return &Tx{tx: tx}, nil
}

// LockRoot takes the database write lock by touching the root row, waiting
// at most timeout for a competing writer to finish.
//
// Returns an error wrapping node.ErrNotFound if root does not exist or has
// gained a parent since the hierarchy was built.
func (t *Tx) LockRoot(ctx context.Context, root node.ID, timeout time.Duration) error {
	ms := max(timeout.Milliseconds(), 1)
	if _, err := t.tx.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", ms)); err != nil {
		return fmt.Errorf("lock root %d: set busy timeout: %w", root, err)
	}
	defer func() {
		_, _ = t.tx.ExecContext(context.Background(), fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeoutMS))
	}()

	res, err := t.tx.ExecContext(ctx, `
		UPDATE nodes SET parent_id = parent_id
		WHERE id = ? AND parent_id IS NULL
	`, root)
	if err != nil {
		return fmt.Errorf("lock root %d: %w", root, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("lock root %d: rows affected: %w", root, err)
	}
	if n == 0 {
		return fmt.Errorf("lock root %d: no parentless row: %w", root, node.ErrNotFound)
	}
	return nil
}

// Descendants implements hierarchy.Tx.
func (t *Tx) Descendants(ctx context.Context, root node.ID) ([]node.Edge, map[node.ID]node.Path, error) {
	return readDescendants(ctx, t.tx, root)
}

// UpdatePaths implements hierarchy.Tx.
func (t *Tx) UpdatePaths(ctx context.Context, updates []node.PathUpdate) (int64, error) {
	return updatePaths(ctx, t.tx, updates)
}

// Commit implements hierarchy.Tx.
func (t *Tx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

// Rollback implements hierarchy.Tx. Safe to call after Commit.
func (t *Tx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// classify tags SQLite lock errors with the node sentinels, keeping the
// driver error in the chain.
func classify(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.Code == sqlite3.ErrBusy && se.ExtendedCode == sqlite3.ErrBusySnapshot:
		return fmt.Errorf("%w: %w", node.ErrDeadlock, err)
	case se.Code == sqlite3.ErrLocked:
		return fmt.Errorf("%w: %w", node.ErrDeadlock, err)
	case se.Code == sqlite3.ErrBusy:
		return fmt.Errorf("%w: %w", node.ErrLockTimeout, err)
	default:
		return err
	}
}
