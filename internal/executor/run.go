// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"

	"github.com/apparentlymart/go-shquot/shquot"

	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// OSMExportToolPath is the external extractor that converts an OSM
// planet extract into a GeoPackage using a mapping configuration.
// Overridable for tests.
var OSMExportToolPath = "osm-export-tool"

// runExportTool runs the external extraction over this node's OSM
// extract with the merged mapping config produced by the concatenate
// below it. The tool writes into a temp basename first; only a
// completed run is renamed into place.
func runExportTool(ctx context.Context, p *Params, node *sitegraph.Node) error {
	mapping, ok := p.Metadata.Resolve(node.Input)
	if !ok {
		return fmt.Errorf("mapping config for %q was never published", node.Name)
	}

	osmURL := node.PropertyString(sitegraph.PropOSM)
	if osmURL == "" {
		return fmt.Errorf("node %q has no extract URL", node.Name)
	}
	extract := filepath.Join(p.Config.OSMDownloadsDir(), path.Base(osmURL))

	// The gpkg is named after the mapping config, whose hashed name
	// already encodes both the mapping content and the extract URL.
	base := strings.TrimSuffix(mapping, filepath.Ext(mapping))
	dest := base + ".gpkg"

	if !p.Overwrite {
		if newerThan(dest, extract) && newerThan(dest, mapping) {
			log.Printf("[DEBUG] executor: %s is newer than its inputs, skipping extraction", filepath.Base(dest))
			p.Metadata.PublishOutput(node, dest)
			return nil
		}
	}

	tmpBase := base + "_tmp"
	args := []string{"-m", mapping, extract, tmpBase}
	log.Printf("[INFO] executor: extracting %s with %s", path.Base(osmURL), filepath.Base(mapping))
	log.Printf("[TRACE] executor: running %s", shquot.POSIXShell(append([]string{OSMExportToolPath}, args...)))

	cmd := exec.CommandContext(ctx, OSMExportToolPath, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tmpBase + ".gpkg")
		return fmt.Errorf("running %s: %w\n%s", OSMExportToolPath, err, out)
	}

	if err := os.Rename(tmpBase+".gpkg", dest); err != nil {
		return err
	}
	p.Metadata.PublishOutput(node, dest)
	return nil
}

// newerThan reports whether a exists and has a later mtime than b.
func newerThan(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return ai.ModTime().After(bi.ModTime())
}
