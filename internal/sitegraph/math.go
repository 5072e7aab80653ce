// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// ResolveMath evaluates an arithmetic formula such as
// "height-to-tip * 1.1" against the given variables. The second return
// is false when the string is not a formula, references an unknown
// variable, or does not produce a number.
func ResolveMath(expr string, vars map[string]float64) (float64, bool) {
	src := strings.TrimSpace(expr)
	if src == "" {
		return 0, false
	}

	// Variable names contain hyphens, which HCL would parse as
	// subtraction, so substitute values textually. Longer names first
	// so one variable is never rewritten inside another.
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		src = strings.ReplaceAll(src, name, strconv.FormatFloat(vars[name], 'f', -1, 64))
	}

	parsed, diags := hclsyntax.ParseExpression([]byte(src), "", hcl.InitialPos)
	if diags.HasErrors() {
		return 0, false
	}
	v, diags := parsed.Value(nil)
	if diags.HasErrors() {
		return 0, false
	}
	if v.IsNull() || v.Type() != cty.Number {
		return 0, false
	}
	f, _ := v.AsBigFloat().Float64()
	return f, true
}

// mathContext collects the turbine dimensions of a branch as formula
// variables.
func mathContext(branch *Node) map[string]float64 {
	vars := make(map[string]float64)
	for _, key := range branchFunctionKeys {
		if f, ok := branch.PropertyFloat(key); ok {
			vars[key] = f
		}
	}
	return vars
}
