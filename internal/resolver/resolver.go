// Package resolver computes correct materialized paths from parent-pointer
// edges alone.
//
// Resolve never looks at stored paths. Given a root and a way to list the
// children of a node, it yields one Entry per reachable node carrying the
// path implied by the edges.
//
// CYCLES:
//
// Well-formed parent pointers cannot form a cycle below a root, but edge
// data read from a live store can still be malformed (a corrupted parent_id,
// or a snapshot taken while nodes were being moved). When extending a path
// from p to c finds c already on the path, that branch is cyclic and is not
// extended. Every node lying on such a cycle, and every node reachable only
// through one, is emitted with Cyclic set and no path. Those nodes have no
// correct path and must not be corrected.
//
// Both passes use explicit worklists so depth is bounded by memory, not by
// the goroutine stack. Total work is O(nodes + edges).
package resolver

import (
	"iter"
	"sync/atomic"

	"github.com/roach88/pathsync/internal/node"
)

// Graph lists the children of a node, i.e. every node whose live parent
// pointer is id. The order of the returned slice determines visit order.
type Graph interface {
	Children(id node.ID) []node.ID
}

// Entry is the resolved state of one reachable node.
type Entry struct {
	ID node.ID

	// Path is the correct path. Nil when Cyclic is set.
	Path node.Path

	// Cyclic marks nodes on, or only reachable through, a cyclic branch.
	Cyclic bool
}

// Edges is an adjacency list keyed by parent id.
type Edges map[node.ID][]node.ID

// FromEdges builds an adjacency list, preserving edge order per parent.
func FromEdges(edges []node.Edge) Edges {
	g := make(Edges, len(edges))
	for _, e := range edges {
		g[e.Parent] = append(g[e.Parent], e.Child)
	}
	return g
}

// Children implements Graph.
func (g Edges) Children(id node.ID) []node.ID {
	return g[id]
}

// Resolve returns the entries for every node reachable from root.
//
// The sequence is lazy: nothing is read from g until the first value is
// pulled. It is also single-use; ranging over it a second time yields
// nothing. Call Resolve again for another pass.
//
// Non-cyclic entries come first, in breadth-first order following the first
// discovered path to each node. Cyclic entries follow.
func Resolve(root node.ID, g Graph) iter.Seq[Entry] {
	var consumed atomic.Bool
	return func(yield func(Entry) bool) {
		if consumed.Swap(true) {
			return
		}

		cyclic, order := findCycles(root, g)

		clean := make(map[node.ID]bool, len(order))
		if !cyclic[root] {
			type item struct {
				id   node.ID
				path node.Path
			}
			queue := []item{{id: root, path: node.Path{root}}}
			clean[root] = true
			for len(queue) > 0 {
				cur := queue[0]
				queue = queue[1:]
				if !yield(Entry{ID: cur.id, Path: cur.path}) {
					return
				}
				for _, c := range g.Children(cur.id) {
					if clean[c] || cyclic[c] {
						continue
					}
					clean[c] = true
					queue = append(queue, item{id: c, path: cur.path.Append(c)})
				}
			}
		}

		for _, id := range order {
			if clean[id] {
				continue
			}
			if !yield(Entry{ID: id, Cyclic: true}) {
				return
			}
		}
	}
}

// findCycles walks everything reachable from root and returns the set of
// nodes that lie on a cycle, plus discovery order of all reachable nodes.
//
// This is Tarjan's strongly connected components algorithm driven by an
// explicit frame stack. A node is cyclic when its component has more than
// one member or it has an edge to itself; in both cases some path from root
// revisits it.
func findCycles(root node.ID, g Graph) (map[node.ID]bool, []node.ID) {
	type frame struct {
		id       node.ID
		children []node.ID
		next     int
	}

	var (
		counter int
		index   = make(map[node.ID]int)
		low     = make(map[node.ID]int)
		onStack = make(map[node.ID]bool)
		stack   []node.ID
		order   []node.ID
		cyclic  = make(map[node.ID]bool)
	)

	visit := func(id node.ID) frame {
		index[id] = counter
		low[id] = counter
		counter++
		stack = append(stack, id)
		onStack[id] = true
		order = append(order, id)
		return frame{id: id, children: g.Children(id)}
	}

	work := []frame{visit(root)}
	for len(work) > 0 {
		top := &work[len(work)-1]

		if top.next < len(top.children) {
			c := top.children[top.next]
			top.next++

			switch _, seen := index[c]; {
			case c == top.id:
				cyclic[c] = true
			case !seen:
				work = append(work, visit(c))
			case onStack[c]:
				low[top.id] = min(low[top.id], index[c])
			}
			continue
		}

		id := top.id
		work = work[:len(work)-1]
		if len(work) > 0 {
			parent := work[len(work)-1].id
			low[parent] = min(low[parent], low[id])
		}

		if low[id] != index[id] {
			continue
		}

		// id is the head of a component; pop it.
		var members []node.ID
		for {
			m := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[m] = false
			members = append(members, m)
			if m == id {
				break
			}
		}
		if len(members) > 1 {
			for _, m := range members {
				cyclic[m] = true
			}
		}
	}

	return cyclic, order
}
