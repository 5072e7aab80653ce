// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Status describes how far a node has moved through execution. A node
// starts pending and ends in exactly one of the three terminal states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is final. A terminal node is never
// scheduled again.
func (s Status) Terminal() bool {
	switch s {
	case StatusProcessed, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// NodeType classifies what a node represents in the build tree.
type NodeType string

const (
	TypeSource      NodeType = "source"
	TypeGroup       NodeType = "group"
	TypeDownload    NodeType = "download"
	TypeExtract     NodeType = "extract"
	TypeConcatenate NodeType = "concatenate"
	TypeRun         NodeType = "run"
	TypeImport      NodeType = "import"
	TypeProcess     NodeType = "process"
	TypeOutput      NodeType = "output"
)

// Action names the operation an executor performs for a node. Nodes
// created straight from YAML have no action until the builder assigns
// one; after the builder finishes every schedulable node carries exactly
// one of these.
type Action string

const (
	ActionDownload    Action = "download"
	ActionUnzip       Action = "unzip"
	ActionConcatenate Action = "concatenate"
	ActionRun         Action = "run"
	ActionImport      Action = "import"
	ActionBuffer      Action = "buffer"
	ActionPreprocess  Action = "preprocess"
	ActionAmalgamate  Action = "amalgamate"
	ActionPostprocess Action = "postprocess"
	ActionClip        Action = "clip"
	ActionOutput      Action = "output"
)

// IOBound reports whether the action spends its time waiting on the
// network or the filesystem. I/O-bound actions run in the wide worker
// pool; everything else contends for a CPU-width pool.
func (a Action) IOBound() bool {
	switch a {
	case ActionDownload, ActionUnzip, ActionConcatenate:
		return true
	}
	return false
}

// Recognized property keys. Properties not in this list are carried
// verbatim from the site YAML.
const (
	PropHash        = "hash"
	PropHeightToTip = "height-to-tip"
	PropBladeRadius = "blade-radius"
	PropBufferValue = "buffer_value"
	PropClip        = "clip"
	PropChildren    = "children"
	PropOSM         = "osm"
	PropYML         = "yml"
	PropParent      = "parent"
	PropSnapGrid    = "snapgrid"
	PropValue       = "value"
)

// variablePrefix marks an input or output that is resolved at execution
// time from the shared metadata map rather than being a literal path or
// table name.
const variablePrefix = "VAR:"

// GlobalOutputKey is the shared-metadata key under which the node owning
// globalURN publishes its output once it has produced it.
func GlobalOutputKey(globalURN int) string {
	return fmt.Sprintf("%sglobal_output_%d", variablePrefix, globalURN)
}

// IsVariable reports whether s is a shared-metadata reference rather
// than a literal value.
func IsVariable(s string) bool {
	return strings.HasPrefix(s, variablePrefix)
}

// Node is one vertex of the build tree. Children are ordered
// dependencies: a node may only execute once every child has been
// processed.
//
// URN is unique within a graph. GlobalURN is shared between clones of
// the same logical work item; the scheduler executes at most one node
// per GlobalURN and propagates the resulting status to every clone.
type Node struct {
	URN       int
	GlobalURN int

	Name   string
	Title  string
	Type   NodeType
	Action Action

	// Format is the raw dataset format label for acquisition nodes and
	// the requested file format for output nodes.
	Format string

	// Input is a URL, a local path, a table name, or a VAR: reference.
	// Concatenate nodes consume several config files and use Inputs
	// instead.
	Input  string
	Inputs []string

	// Output is a local path or table name. Nodes whose output depends
	// on upstream results leave it empty until execution and publish
	// the value under their GlobalOutputKey.
	Output string

	Status     Status
	Properties map[string]cty.Value

	// Style carries the presentation attributes folded onto group nodes
	// from the site description's style subtree.
	Style map[string]string

	// Config is set on branch nodes only: the canonical JSON rendering
	// of the site description the branch was built from, as stored in
	// the branch registry.
	Config []byte

	Children []*Node
}

// Walk visits the node and its descendants in depth-first preorder.
func (n *Node) Walk(fn func(*Node)) {
	walk(n, fn)
}

// AddChild appends c to the node's ordered dependency list.
func (n *Node) AddChild(c *Node) {
	n.Children = append(n.Children, c)
}

// Child returns the first direct child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// RemoveChild detaches the direct child with the given URN, returning
// whether it was present.
func (n *Node) RemoveChild(urn int) bool {
	for i, c := range n.Children {
		if c.URN == urn {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return true
		}
	}
	return false
}

// Property returns the named property and whether it is set.
func (n *Node) Property(key string) (cty.Value, bool) {
	v, ok := n.Properties[key]
	if !ok || v.IsNull() {
		return cty.NilVal, false
	}
	return v, true
}

// SetProperty sets the named property, allocating the map on first use.
func (n *Node) SetProperty(key string, v cty.Value) {
	if n.Properties == nil {
		n.Properties = map[string]cty.Value{}
	}
	n.Properties[key] = v
}

// HasProperty reports whether the named property is set and non-null.
func (n *Node) HasProperty(key string) bool {
	_, ok := n.Property(key)
	return ok
}

// PropertyString renders the named property as a string. Numbers use
// their shortest decimal form and booleans render as true or false.
// Absent properties and non-primitive values render as the empty string.
func (n *Node) PropertyString(key string) string {
	v, ok := n.Property(key)
	if !ok {
		return ""
	}
	switch v.Type() {
	case cty.String:
		return v.AsString()
	case cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return strconv.FormatFloat(f, 'f', -1, 64)
	case cty.Bool:
		if v.True() {
			return "true"
		}
		return "false"
	}
	return ""
}

// PropertyFloat returns the named property as a number, accepting both
// native numbers and numeric strings.
func (n *Node) PropertyFloat(key string) (float64, bool) {
	v, ok := n.Property(key)
	if !ok {
		return 0, false
	}
	switch v.Type() {
	case cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f, true
	case cty.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.AsString()), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// PropertyStrings returns the named property as a list of strings. A
// single string value yields a one-element list.
func (n *Node) PropertyStrings(key string) []string {
	v, ok := n.Property(key)
	if !ok {
		return nil
	}
	if v.Type() == cty.String {
		return []string{v.AsString()}
	}
	if !v.CanIterateElements() {
		return nil
	}
	var out []string
	for it := v.ElementIterator(); it.Next(); {
		_, ev := it.Element()
		if !ev.IsNull() && ev.Type() == cty.String {
			out = append(out, ev.AsString())
		}
	}
	return out
}

// titleCaseSlug renders a hyphenated slug as a display title, so
// "public-roads-a-and-b" becomes "Public Roads A And B".
func titleCaseSlug(slug string) string {
	words := strings.Split(strings.ReplaceAll(slug, "-", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
