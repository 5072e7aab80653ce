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

// FoldTransformer merges the style and buffers sections of each branch
// onto the matching nodes of the structure section. Categories receive
// their render style, datasets receive their buffer distance and the
// amalgamation parent implied by their name. The style and buffers
// sections are consumed.
type FoldTransformer struct{}

func (t *FoldTransformer) Transform(_ context.Context, g *Graph) error {
	for _, branch := range g.Branches() {
		structure := branch.Child("structure")
		style := branch.Child("style")
		buffers := branch.Child("buffers")

		if structure != nil {
			for _, category := range structure.Children {
				t.foldCategory(category, style, buffers)
			}
		}

		if style != nil {
			branch.RemoveChild(style.URN)
		}
		if buffers != nil {
			branch.RemoveChild(buffers.URN)
		}
	}
	return nil
}

func (t *FoldTransformer) foldCategory(category, style, buffers *Node) {
	if style != nil {
		if match := style.Child(category.Name); match != nil {
			category.Style = make(map[string]string, len(match.Children))
			for _, entry := range match.Children {
				category.Style[entry.Name] = entry.PropertyString(PropValue)
			}
		}
	}

	for _, dataset := range category.Children {
		if idx := strings.Index(dataset.Name, "--"); idx > 0 {
			dataset.SetProperty(PropParent, cty.StringVal(dataset.Name[:idx]))
		}
		if buffers == nil {
			continue
		}
		if match := buffers.Child(dataset.Name); match != nil {
			if v, ok := match.Property(PropValue); ok {
				dataset.Action = ActionBuffer
				dataset.SetProperty(PropBufferValue, v)
				log.Printf("[TRACE] sitegraph: dataset %q buffered by %s", dataset.Name, match.PropertyString(PropValue))
			}
		}
	}
}
