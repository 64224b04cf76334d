package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roach88/pathsync/internal/hierarchy"
	"github.com/roach88/pathsync/internal/node"
)

// SQLSTATE codes mapped onto the node lock sentinels.
const (
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

// Tx is a repair transaction. It implements hierarchy.Tx.
type Tx struct {
	tx pgx.Tx
}

var _ hierarchy.Tx = (*Tx)(nil)

// Begin starts a read-committed transaction.
func (s *Store) Begin(ctx context.Context) (hierarchy.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", classify(err))
	}
	return &Tx{tx: tx}, nil
}

// LockRoot takes a row lock on the root. The lock_timeout set here is
// transaction-local and also bounds every later lock wait in the repair.
func (t *Tx) LockRoot(ctx context.Context, root node.ID, timeout time.Duration) error {
	ms := max(timeout.Milliseconds(), 1)
	if _, err := t.tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", ms)); err != nil {
		return fmt.Errorf("lock root %d: set lock_timeout: %w", root, classify(err))
	}

	var id int64
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM nodes
		WHERE id = $1 AND parent_id IS NULL
		FOR NO KEY UPDATE
	`, int64(root)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock root %d: no parentless row: %w", root, node.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock root %d: %w", root, classify(err))
	}
	return nil
}

// Descendants implements hierarchy.Tx.
func (t *Tx) Descendants(ctx context.Context, root node.ID) ([]node.Edge, map[node.ID]node.Path, error) {
	return readDescendants(ctx, t.tx, root)
}

// UpdatePaths sends every update in one batch. Rows already holding the
// path are left alone and not counted.
func (t *Tx) UpdatePaths(ctx context.Context, updates []node.PathUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`
			UPDATE nodes SET path = $2
			WHERE id = $1 AND path IS DISTINCT FROM $2
		`, int64(u.ID), u.Path.Int64s())
	}

	results := t.tx.SendBatch(ctx, batch)
	var total int64
	for _, u := range updates {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return total, fmt.Errorf("update path %d: %w", u.ID, classify(err))
		}
		total += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return total, fmt.Errorf("update paths: %w", classify(err))
	}
	return total, nil
}

// Commit implements hierarchy.Tx.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

// Rollback implements hierarchy.Tx. Safe to call after Commit.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// classify tags Postgres lock errors with the node sentinels, keeping the
// driver error in the chain.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr == nil {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeQueryCanceled:
		return fmt.Errorf("%w: %w", node.ErrLockTimeout, err)
	case codeDeadlockDetected, codeSerializationFailure:
		return fmt.Errorf("%w: %w", node.ErrDeadlock, err)
	default:
		return err
	}
}
