// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"fmt"

	"github.com/xlab/treeprint"
)

// Preview renders the graph as an ASCII tree for --preview and
// --graphonly. Nodes show their action and, once execution starts,
// their status.
func (g *Graph) Preview(withStatus bool) string {
	tree := treeprint.New()
	tree.SetValue("sites")
	for _, branch := range g.Root.Children {
		addPreviewBranch(tree, branch, withStatus)
	}
	return tree.String()
}

// CorePreview renders the pre-explosion snapshot: the declarative
// structure as the site descriptions stated it.
func (g *Graph) CorePreview() string {
	if g.Core == nil {
		return ""
	}
	tree := treeprint.New()
	tree.SetValue("sites")
	for _, branch := range g.Core.Children {
		addPreviewBranch(tree, branch, false)
	}
	return tree.String()
}

func addPreviewBranch(parent treeprint.Tree, n *Node, withStatus bool) {
	label := n.Name
	if n.Action != "" {
		label = fmt.Sprintf("%s (%s)", label, n.Action)
	}
	if withStatus {
		label = fmt.Sprintf("%s [%s]", label, n.Status)
	}
	branch := parent.AddBranch(label)
	for _, c := range n.Children {
		addPreviewBranch(branch, c, withStatus)
	}
}
