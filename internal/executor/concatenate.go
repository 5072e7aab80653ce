// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"
	ctyyaml "github.com/zclconf/go-cty-yaml"

	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// runConcatenate merges every osm-export-tool mapping config that
// shares this node's OSM extract into a single file, so the extraction
// tool runs once per extract rather than once per dataset. Top-level
// mapping keys are merged; a key defined by several configs keeps the
// last definition, which is deterministic because the input list is
// sorted.
func runConcatenate(ctx context.Context, p *Params, node *sitegraph.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	merged := map[string]cty.Value{}
	for _, name := range node.Inputs {
		path := filepath.Join(p.Config.OSMDownloadsDir(), name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading mapping config %s: %w", name, err)
		}
		ty, err := ctyyaml.ImpliedType(data)
		if err != nil {
			return fmt.Errorf("parsing mapping config %s: %w", name, err)
		}
		v, err := ctyyaml.Unmarshal(data, ty)
		if err != nil {
			return fmt.Errorf("decoding mapping config %s: %w", name, err)
		}
		if !v.Type().IsObjectType() {
			return fmt.Errorf("mapping config %s is not a mapping at the top level", name)
		}
		for key, val := range v.AsValueMap() {
			merged[key] = val
		}
	}
	if len(merged) == 0 {
		return fmt.Errorf("no mapping configs to concatenate for %q", node.Name)
	}

	combined := cty.ObjectVal(merged)
	content, err := ctyyaml.Marshal(combined)
	if err != nil {
		return fmt.Errorf("encoding merged mapping config: %w", err)
	}

	// The filename hashes content plus extract URL: two extracts with
	// identical mappings must still run the export tool separately.
	osmURL := node.PropertyString(sitegraph.PropOSM)
	sum := sha256.Sum256(append(content, []byte(osmURL)...))
	dest := filepath.Join(p.Config.OSMDownloadsDir(),
		fmt.Sprintf("osm_config_%s.yml", hex.EncodeToString(sum[:])[:16]))

	if err := os.WriteFile(dest, content, 0644); err != nil {
		return err
	}
	log.Printf("[DEBUG] executor: merged %d mapping configs into %s", len(node.Inputs), filepath.Base(dest))

	p.Metadata.PublishOutput(node, dest)
	return nil
}
