// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"context"
	"log"

	"github.com/zclconf/go-cty/cty"
)

// branchFunctionKeys are the turbine dimensions a build is parameterized
// on. They are resolved before the other metadata keys so that formula
// properties can refer to them.
var branchFunctionKeys = []string{PropHeightToTip, PropBladeRadius}

// branchDefaultKeys are the remaining metadata keys a site description
// may carry at the top level.
var branchDefaultKeys = []string{"title", "type", "clipping-path", PropOSM, "ckan"}

// EnrichTransformer resolves branch-level metadata. Each metadata key is
// taken from the branch's own configuration when present, falling back
// to the build defaults otherwise. Metadata children are consumed so
// later passes only see dataset structure.
type EnrichTransformer struct {
	// Defaults supplies values for metadata keys the site description
	// does not set itself, including the turbine dimensions given on
	// the command line.
	Defaults map[string]cty.Value
}

func (t *EnrichTransformer) Transform(_ context.Context, g *Graph) error {
	for _, branch := range g.Branches() {
		for _, key := range branchFunctionKeys {
			t.applyKey(branch, key)
		}
		for _, key := range branchDefaultKeys {
			t.applyKey(branch, key)
		}
		if branch.Title == "" {
			branch.Title = titleCaseSlug(branch.Name)
		}
		log.Printf("[DEBUG] sitegraph: enriched branch %q (title %q)", branch.Name, branch.Title)
	}
	return nil
}

// applyKey resolves one metadata key on a branch. A child node named
// after the key wins over the build default; either way the child is
// detached so it is not mistaken for a dataset category.
func (t *EnrichTransformer) applyKey(branch *Node, key string) {
	value := cty.NilVal
	if def, ok := t.Defaults[key]; ok {
		value = def
	}
	if child := branch.Child(key); child != nil {
		if v, ok := child.Property(PropValue); ok {
			value = v
		}
		branch.RemoveChild(child.URN)
	}
	if value == cty.NilVal || value.IsNull() {
		return
	}

	if key == "title" {
		if value.Type() == cty.String {
			branch.Title = value.AsString()
		}
		return
	}
	branch.SetProperty(key, value)
}
