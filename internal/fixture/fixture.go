// Package fixture loads node trees from YAML.
//
// A fixture lists nodes with their parent and, optionally, the stored path
// they start with, so drift and malformed parents can be written down
// directly. An optional expect block describes what repairing the fixture
// must produce; Verify checks it against a live store.
package fixture

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pathsync/internal/node"
)

// Fixture is one tree, or forest, of nodes.
type Fixture struct {
	// Name identifies the fixture in test output.
	Name string `yaml:"name"`

	// Description explains what state the fixture sets up.
	Description string `yaml:"description,omitempty"`

	// Nodes are inserted in order.
	Nodes []NodeSpec `yaml:"nodes"`

	// Expect is checked by Verify. Optional.
	Expect *Expect `yaml:"expect,omitempty"`
}

// NodeSpec is one node row.
type NodeSpec struct {
	ID int64 `yaml:"id"`

	// Parent is omitted for roots.
	Parent *int64 `yaml:"parent,omitempty"`

	// Path is the stored path. Omitted means [id].
	Path []int64 `yaml:"path,omitempty"`
}

// Expect describes the outcome of diagnosing and repairing one root.
type Expect struct {
	// Root is the hierarchy to check.
	Root int64 `yaml:"root"`

	// Mismatches are the node ids FindMismatches must report, in order.
	Mismatches []int64 `yaml:"mismatches"`

	// Updated is the number of rows Synchronize must rewrite.
	Updated int64 `yaml:"updated"`

	// Paths are stored paths that must hold after Synchronize.
	Paths map[int64][]int64 `yaml:"paths,omitempty"`
}

// Load reads and parses a fixture file.
// Unknown fields are rejected.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes fixture YAML with strict field checking and validates it.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validate(&f); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

func validate(f *Fixture) error {
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(f.Nodes) == 0 {
		return fmt.Errorf("nodes list is required and must be non-empty")
	}

	seen := make(map[int64]bool, len(f.Nodes))
	for i, n := range f.Nodes {
		if n.ID <= 0 {
			return fmt.Errorf("nodes[%d]: id must be positive", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("nodes[%d]: duplicate id %d", i, n.ID)
		}
		seen[n.ID] = true
		if n.Parent != nil && *n.Parent <= 0 {
			return fmt.Errorf("nodes[%d]: parent must be positive", i)
		}
	}

	if f.Expect != nil && !seen[f.Expect.Root] {
		return fmt.Errorf("expect: root %d is not a fixture node", f.Expect.Root)
	}
	return nil
}

// Nodes converts the fixture rows to nodes. A missing path stays nil, which
// stores treat as [id].
func (f *Fixture) Nodes() []node.Node {
	out := make([]node.Node, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		nd := node.Node{ID: node.ID(n.ID)}
		if n.Parent != nil {
			nd.ParentID = node.Parent(node.ID(*n.Parent))
		}
		if n.Path != nil {
			nd.Path = node.PathFromInt64s(n.Path)
		}
		out = append(out, nd)
	}
	return out
}

// Inserter is implemented by every node store.
type Inserter interface {
	InsertNodes(ctx context.Context, nodes []node.Node) error
}

// Seed inserts the fixture's nodes into st.
func Seed(ctx context.Context, st Inserter, f *Fixture) error {
	if err := st.InsertNodes(ctx, f.Nodes()); err != nil {
		return fmt.Errorf("seed %s: %w", f.Name, err)
	}
	return nil
}
