package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/pathsync/internal/node"
)

// marshalPath encodes a path as a compact JSON array ("[1,2,4]").
//
// The encoding is canonical for a given path, so the text comparison in
// UpdatePaths' WHERE clause matches exactly when the paths are equal.
func marshalPath(p node.Path) (string, error) {
	if p == nil {
		p = node.Path{}
	}
	data, err := json.Marshal(p.Int64s())
	if err != nil {
		return "", fmt.Errorf("marshal path: %w", err)
	}
	return string(data), nil
}

// unmarshalPath decodes a stored path. Empty text decodes to an empty path.
func unmarshalPath(text string) (node.Path, error) {
	if text == "" {
		return node.Path{}, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(text), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal path %q: %w", text, err)
	}
	return node.PathFromInt64s(ids), nil
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanNode reads (id, parent_id, path) into a Node.
func scanNode(row rowScanner) (node.Node, error) {
	var (
		n      node.Node
		parent sql.NullInt64
		text   string
	)
	if err := row.Scan(&n.ID, &parent, &text); err != nil {
		return node.Node{}, err
	}
	if parent.Valid {
		n.ParentID = node.Parent(node.ID(parent.Int64))
	}
	p, err := unmarshalPath(text)
	if err != nil {
		return node.Node{}, fmt.Errorf("node %d: %w", n.ID, err)
	}
	n.Path = p
	return n, nil
}

func nullableParent(parent *node.ID) sql.NullInt64 {
	if parent == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*parent), Valid: true}
}
