// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"log"
	"sync"

	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// Metadata is the process-wide map through which executors publish
// outputs that are only known at execution time. Keys are the
// VAR:global_output form, so every clone of a shared node resolves the
// same value. Each key is written exactly once, by the node that
// executed; consumers read only after their dependency completed, so
// dependency ordering supplies the happens-before.
type Metadata struct {
	values sync.Map
}

func NewMetadata() *Metadata {
	return &Metadata{}
}

// PublishOutput records the output a node produced under its
// GlobalURN key and mirrors it onto the node itself.
func (m *Metadata) PublishOutput(node *sitegraph.Node, output string) {
	node.Output = output
	key := sitegraph.GlobalOutputKey(node.GlobalURN)
	m.values.Store(key, output)
	log.Printf("[TRACE] executor: published %s = %s", key, output)
}

// Resolve maps a node input to its concrete value: VAR references are
// looked up in the map, anything else passes through unchanged. The
// second return is false for a VAR reference nothing has published,
// which means a dependency contract was broken.
func (m *Metadata) Resolve(input string) (string, bool) {
	if !sitegraph.IsVariable(input) {
		return input, true
	}
	v, ok := m.values.Load(input)
	if !ok {
		return "", false
	}
	return v.(string), true
}
