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

// MathTransformer evaluates formula properties throughout each branch,
// using that branch's turbine dimensions as variables. String properties
// that resolve to a number are replaced in place; everything else is
// left untouched.
type MathTransformer struct{}

func (t *MathTransformer) Transform(_ context.Context, g *Graph) error {
	for _, branch := range g.Branches() {
		vars := mathContext(branch)
		resolved := 0
		branch.Walk(func(n *Node) {
			for key, v := range n.Properties {
				if v.IsNull() || v.Type() != cty.String {
					continue
				}
				// Branch identity properties are opaque strings, not
				// formulas.
				if n == branch && (key == PropHash || key == PropYML) {
					continue
				}
				if f, ok := ResolveMath(v.AsString(), vars); ok {
					n.Properties[key] = cty.NumberFloatVal(f)
					resolved++
				}
			}
		})
		if resolved > 0 {
			log.Printf("[DEBUG] sitegraph: resolved %d formula properties on branch %q", resolved, branch.Name)
		}
	}
	return nil
}
