// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// runOutput exports a finished layer table to a file under
// output/layers, converted to the output CRS. Exports always run: the
// file name does not encode the table it came from, so an existing
// file cannot be trusted to match the current table.
func runOutput(ctx context.Context, p *Params, node *sitegraph.Node) error {
	table, ok := p.Metadata.Resolve(node.Input)
	if !ok {
		return fmt.Errorf("input of %q was never published", node.Name)
	}

	layer := layerOf(node.Name)
	dest := filepath.Join(p.Config.OutputLayersDir(), node.Output)

	if err := p.DB.ExportSpatialData(ctx, table, layer, dest); err != nil {
		return fmt.Errorf("exporting %s: %w", node.Output, err)
	}
	log.Printf("[INFO] executor: exported layer %s to %s", layer, dest)
	return nil
}

// layerOf recovers the layer part of an output-focused node name,
// which is always "<branch>--<layer>".
func layerOf(name string) string {
	if i := strings.Index(name, "--"); i >= 0 {
		return name[i+2:]
	}
	return name
}
