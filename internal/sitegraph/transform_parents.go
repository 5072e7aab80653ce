// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"context"
	"log"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// ParentsTransformer groups sibling datasets that share a parent slug
// under a new amalgamate group node, so that "national-parks--england",
// "national-parks--scotland" and "national-parks--wales" dissolve into
// one "national-parks" layer. The group records its children's output
// tables so the amalgamate executor knows what to union.
type ParentsTransformer struct{}

func (t *ParentsTransformer) Transform(_ context.Context, g *Graph) error {
	grouped := 0
	// Children are regrouped bottom-up so a freshly created group is
	// never itself re-examined.
	var process func(n *Node)
	process = func(n *Node) {
		for _, c := range n.Children {
			process(c)
		}

		groups := map[string][]*Node{}
		var order []string
		for _, c := range n.Children {
			parent := c.PropertyString(PropParent)
			if parent == "" {
				continue
			}
			if _, ok := groups[parent]; !ok {
				order = append(order, parent)
			}
			groups[parent] = append(groups[parent], c)
		}

		for _, name := range order {
			siblings := groups[name]
			group := g.NewNode(name)
			group.Type = TypeGroup
			group.Action = ActionAmalgamate
			group.Title = groupTitle(name, siblings[0])

			outputs := make([]cty.Value, 0, len(siblings))
			for _, s := range siblings {
				g.Detach(s)
				group.AddChild(s)
				if s.Output != "" {
					outputs = append(outputs, cty.StringVal(s.Output))
				}
			}
			group.SetProperty(PropChildren, cty.TupleVal(outputs))
			n.AddChild(group)
			grouped++
			log.Printf("[TRACE] sitegraph: grouped %d datasets under %q for amalgamation", len(siblings), name)
		}
	}
	process(g.Root)

	if grouped > 0 {
		log.Printf("[DEBUG] sitegraph: created %d amalgamate groups", grouped)
	}
	return nil
}

// groupTitle derives a group's display title from its first child: the
// catalogue renders regional variants as "National Parks - England", so
// dropping the last " - " segment recovers the shared title. Children
// without that shape fall back to the slug.
func groupTitle(slug string, first *Node) string {
	if first.Title != "" {
		if idx := strings.LastIndex(first.Title, " - "); idx > 0 {
			return first.Title[:idx]
		}
	}
	return titleCaseSlug(slug)
}
