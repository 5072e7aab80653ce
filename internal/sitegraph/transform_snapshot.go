// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"context"
	"fmt"
	"log"

	"github.com/mitchellh/copystructure"
)

// SnapshotTransformer captures a deep copy of the enriched tree before
// the explosion passes rewrite it, preserving the declarative shape for
// previews and for the server's introspection API.
type SnapshotTransformer struct{}

func (t *SnapshotTransformer) Transform(_ context.Context, g *Graph) error {
	copied, err := copystructure.Copy(g.Root)
	if err != nil {
		return fmt.Errorf("capturing core structure snapshot: %w", err)
	}
	root, ok := copied.(*Node)
	if !ok {
		return fmt.Errorf("capturing core structure snapshot: unexpected copy type %T", copied)
	}
	g.Core = root
	log.Printf("[DEBUG] sitegraph: captured core structure snapshot")
	return nil
}
