// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package sitegraph models a collection of site descriptions as a single
// executable build tree. The graph starts as a direct rendering of the
// site YAML files and is rewritten by an ordered sequence of
// transformers until every leaf-to-root path is a chain of concrete,
// schedulable operations.
package sitegraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Graph is the build tree. The root is synthetic; each of its children
// is a branch corresponding to one site description file.
//
// Graphs are not safe for concurrent mutation. The builder runs in a
// single goroutine and the scheduler serializes status updates through
// its sweep loop.
type Graph struct {
	Root *Node

	// Core is a snapshot of the enriched tree taken before the
	// explosion passes, retained for introspection and previews.
	Core *Node

	lastID int
}

// NewGraph returns a graph holding only the synthetic root.
func NewGraph() *Graph {
	g := &Graph{}
	g.Root = g.NewNode("root")
	return g
}

// NewNode allocates a node with a fresh URN. The GlobalURN starts equal
// to the URN; transformers that create clones overwrite it with a shared
// value from NewSharedURN.
func (g *Graph) NewNode(name string) *Node {
	g.lastID++
	return &Node{
		URN:        g.lastID,
		GlobalURN:  g.lastID,
		Name:       name,
		Status:     StatusPending,
		Properties: map[string]cty.Value{},
	}
}

// NewSharedURN allocates an identifier for a set of clone nodes. It
// draws from the same sequence as node URNs so the two spaces never
// collide.
func (g *Graph) NewSharedURN() int {
	g.lastID++
	return g.lastID
}

// Branches returns the top-level site subtrees in attach order.
func (g *Graph) Branches() []*Node {
	return g.Root.Children
}

// Walk visits every node in depth-first preorder, parents before
// children.
func (g *Graph) Walk(fn func(*Node)) {
	walk(g.Root, fn)
}

func walk(n *Node, fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		walk(c, fn)
	}
}

// Nodes returns every node in preorder.
func (g *Graph) Nodes() []*Node {
	var out []*Node
	g.Walk(func(n *Node) {
		out = append(out, n)
	})
	return out
}

// Leaves returns every node with no children, in preorder. Leaves are
// the only nodes that can execute without waiting on anything.
func (g *Graph) Leaves() []*Node {
	var out []*Node
	g.Walk(func(n *Node) {
		if len(n.Children) == 0 {
			out = append(out, n)
		}
	})
	return out
}

// FindByURN returns the node with the given URN, or nil.
func (g *Graph) FindByURN(urn int) *Node {
	var found *Node
	g.Walk(func(n *Node) {
		if n.URN == urn {
			found = n
		}
	})
	return found
}

// FindByName returns the first node with the given name in preorder, or
// nil.
func (g *Graph) FindByName(name string) *Node {
	var found *Node
	g.Walk(func(n *Node) {
		if found == nil && n.Name == name {
			found = n
		}
	})
	return found
}

// FindByGlobalURN returns every node sharing the given GlobalURN.
func (g *Graph) FindByGlobalURN(globalURN int) []*Node {
	var out []*Node
	g.Walk(func(n *Node) {
		if n.GlobalURN == globalURN {
			out = append(out, n)
		}
	})
	return out
}

// ParentOf returns the node whose children include n, or nil for the
// root and for detached nodes.
func (g *Graph) ParentOf(n *Node) *Node {
	var found *Node
	g.Walk(func(p *Node) {
		for _, c := range p.Children {
			if c == n {
				found = p
			}
		}
	})
	return found
}

// PathTo returns the nodes from the root to n inclusive, or nil when n
// is not in the graph.
func (g *Graph) PathTo(n *Node) []*Node {
	return pathTo(g.Root, n)
}

func pathTo(from, target *Node) []*Node {
	if from == target {
		return []*Node{from}
	}
	for _, c := range from.Children {
		if p := pathTo(c, target); p != nil {
			return append([]*Node{from}, p...)
		}
	}
	return nil
}

// PropertyFromLineage returns the named property from n or its nearest
// ancestor that sets it.
func (g *Graph) PropertyFromLineage(n *Node, key string) (cty.Value, bool) {
	path := g.PathTo(n)
	for i := len(path) - 1; i >= 0; i-- {
		if v, ok := path[i].Property(key); ok {
			return v, true
		}
	}
	return cty.NilVal, false
}

// InsertParent splices newParent between child and its current parent,
// preserving the child's position in the sibling order.
func (g *Graph) InsertParent(child, newParent *Node) error {
	p := g.ParentOf(child)
	if p == nil {
		return fmt.Errorf("cannot insert parent above %q: node is not attached", child.Name)
	}
	for i, c := range p.Children {
		if c == child {
			p.Children[i] = newParent
			break
		}
	}
	newParent.AddChild(child)
	return nil
}

// Detach removes n and its subtree from the graph.
func (g *Graph) Detach(n *Node) {
	p := g.ParentOf(n)
	if p == nil {
		return
	}
	p.RemoveChild(n.URN)
}

// ReplaceWithChildren removes n from the graph, promoting its children
// into its position in the parent's ordered child list.
func (g *Graph) ReplaceWithChildren(n *Node) {
	p := g.ParentOf(n)
	if p == nil {
		return
	}
	for i, c := range p.Children {
		if c == n {
			replaced := make([]*Node, 0, len(p.Children)+len(n.Children)-1)
			replaced = append(replaced, p.Children[:i]...)
			replaced = append(replaced, n.Children...)
			replaced = append(replaced, p.Children[i+1:]...)
			p.Children = replaced
			return
		}
	}
}

// ActionCounts tallies how many nodes carry each action, which is the
// summary logged after the builder finishes.
func (g *Graph) ActionCounts() map[Action]int {
	counts := map[Action]int{}
	g.Walk(func(n *Node) {
		if n.Action != "" {
			counts[n.Action]++
		}
	})
	return counts
}

// String renders the tree with two-space indentation, one node per
// line, with the node's action in parentheses when it has one. The
// synthetic root is omitted.
func (g *Graph) String() string {
	var b strings.Builder
	for _, c := range g.Root.Children {
		writeTree(&b, c, 0)
	}
	return b.String()
}

func writeTree(b *strings.Builder, n *Node, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(n.Name)
	if n.Action != "" {
		fmt.Fprintf(b, " (%s)", n.Action)
	}
	b.WriteString("\n")
	for _, c := range n.Children {
		writeTree(b, c, depth+1)
	}
}

// StringWithStatus renders the tree like String but suffixes every node
// with its current status, for progress previews during execution.
func (g *Graph) StringWithStatus() string {
	var b strings.Builder
	var write func(n *Node, depth int)
	write = func(n *Node, depth int) {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(n.Name)
		if n.Action != "" {
			fmt.Fprintf(&b, " (%s)", n.Action)
		}
		fmt.Fprintf(&b, " [%s]\n", n.Status)
		for _, c := range n.Children {
			write(c, depth+1)
		}
	}
	for _, c := range g.Root.Children {
		write(c, 0)
	}
	return b.String()
}

// SortedActions returns the actions present in the graph in a stable
// order, for logging.
func (g *Graph) SortedActions() []Action {
	counts := g.ActionCounts()
	actions := make([]Action, 0, len(counts))
	for a := range counts {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}
