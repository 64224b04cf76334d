// Package node defines the record types shared by the resolver, the
// hierarchy and the store backends.
//
// A Node's Path is a cached, derivable attribute. The source of truth for
// tree shape is always the set of parent-pointer edges; Path exists only so
// readers can avoid recursive lookups.
package node

import (
	"errors"
	"slices"
	"strconv"
	"strings"
)

// ID identifies a node. IDs are stable for the lifetime of a node.
type ID int64

// String returns the decimal form of the id.
func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Node is one stored record.
type Node struct {
	ID ID

	// ParentID is nil for a root.
	ParentID *ID

	// Path is the cached root-to-self ancestor list, self included.
	Path Path
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool {
	return n.ParentID == nil
}

// Parent returns a pointer to id, for building Node literals.
func Parent(id ID) *ID {
	return &id
}

// Path is an ordered list of ancestor ids from root to a node, inclusive.
type Path []ID

// Equal reports exact sequence equality. Length and order both matter.
func (p Path) Equal(other Path) bool {
	return slices.Equal(p, other)
}

// Root returns the first element of the path, or 0 for an empty path.
func (p Path) Root() ID {
	if len(p) == 0 {
		return 0
	}
	return p[0]
}

// Contains reports whether id appears anywhere in the path.
func (p Path) Contains(id ID) bool {
	return slices.Contains(p, id)
}

// Append returns a new path with id appended. The receiver is not modified,
// so sibling paths extended from the same prefix never share storage.
func (p Path) Append(id ID) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, id)
}

// Int64s converts the path for drivers that bind []int64.
func (p Path) Int64s() []int64 {
	out := make([]int64, len(p))
	for i, id := range p {
		out[i] = int64(id)
	}
	return out
}

// PathFromInt64s is the inverse of Int64s.
func PathFromInt64s(ids []int64) Path {
	out := make(Path, len(ids))
	for i, id := range ids {
		out[i] = ID(id)
	}
	return out
}

// String renders the path as "[1 2 4]".
func (p Path) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, id := range p {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(id.String())
	}
	b.WriteByte(']')
	return b.String()
}

// Edge is one live parent-pointer edge: Child.parent_id = Parent.
type Edge struct {
	Parent ID
	Child  ID
}

// PathUpdate is a corrected path to be written for one node.
type PathUpdate struct {
	ID   ID
	Path Path
}

// Store backends wrap these sentinels so callers can classify failures
// without knowing which driver produced them.
var (
	// ErrNotFound indicates the requested node does not exist.
	ErrNotFound = errors.New("node not found")

	// ErrLockTimeout indicates a lock wait exceeded its bound.
	ErrLockTimeout = errors.New("lock wait timed out")

	// ErrDeadlock indicates the store aborted the transaction to break a
	// lock-ordering cycle with another transaction.
	ErrDeadlock = errors.New("deadlock detected")
)
