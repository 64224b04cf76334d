package hierarchy

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/pathsync/internal/node"
)

// ForNode resolves the root of id's tree with one bounded recursive read and
// returns the Hierarchy bound to it.
//
// Fails with ROOT_NOT_FOUND if id does not exist or its ancestor chain does
// not reach a parentless node within the max depth (see WithMaxDepth).
func ForNode(ctx context.Context, st Store, id node.ID, opts ...Option) (*Hierarchy, error) {
	s := newSettings(opts)

	root, err := st.RootOf(ctx, id, s.maxDepth)
	if err != nil {
		if errors.Is(err, node.ErrNotFound) {
			return nil, newRootNotFoundError(id, err)
		}
		return nil, fmt.Errorf("locate root of %d: %w", id, err)
	}
	if !root.IsRoot() {
		// A store must only return parentless nodes; treat anything else as
		// an unterminated walk rather than trusting it.
		return nil, newRootNotFoundError(id, nil)
	}

	return New(root, st, opts...)
}

// Open loads id with a point read and binds a Hierarchy to it. Unlike
// ForNode it does not walk upward: a non-root id fails with INVALID_ROOT
// and an unknown id with ROOT_NOT_FOUND.
func Open(ctx context.Context, st Store, id node.ID, opts ...Option) (*Hierarchy, error) {
	n, err := st.Node(ctx, id)
	if errors.Is(err, node.ErrNotFound) {
		return nil, newRootNotFoundError(id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("open hierarchy %d: %w", id, err)
	}
	return New(n, st, opts...)
}
