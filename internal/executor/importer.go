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
	"path/filepath"
	"sort"
	"strings"

	ctyyaml "github.com/zclconf/go-cty-yaml"

	"github.com/openwindenergy/opensite/internal/postgis"
	"github.com/openwindenergy/opensite/internal/sitegraph"
	"github.com/openwindenergy/opensite/internal/tracing"
	"github.com/openwindenergy/opensite/internal/tracing/traceattrs"
)

// Per-dataset source CRS corrections, keyed by exact node name or name
// suffix. Several upstream publishers ship files whose CRS declaration
// is missing or wrong, so the true CRS has to be injected at import.
var importSourceCRS = map[string]string{
	"world-heritage-sites--northern-ireland": "EPSG:4326",
	"local-nature-reserves--scotland":        "EPSG:27700",
}

var importSourceCRSSuffix = map[string]string{
	"--wales":            "EPSG:27700",
	"--northern-ireland": "EPSG:29903",
}

// Per-dataset attribute filters for sources that carry placeholder
// rows alongside real features.
var importWhere = map[string]string{
	"conservation-areas--england": `"Name" NOT LIKE 'No data%'`,
}

// runImport loads a node's spatial file into its hashed PostGIS table.
// Completed tables from earlier runs are reused; incomplete ones were
// already dropped by registry synchronization.
func runImport(ctx context.Context, p *Params, node *sitegraph.Node) error {
	reusable, err := tableReusable(ctx, p, node.Output)
	if err != nil {
		return err
	}
	if reusable {
		log.Printf("[DEBUG] executor: table %s already imported, skipping", node.Output)
		return nil
	}

	file, ok := p.Metadata.Resolve(node.Input)
	if !ok {
		return fmt.Errorf("input of %q was never published", node.Name)
	}
	if !filepath.IsAbs(file) {
		file = p.downloadPath(node.Format, file)
	}

	opts := postgis.ImportOptions{
		SourceCRS: sourceCRSFor(node.Name),
		Where:     importWhere[node.Name],
	}

	// An OSM-derived import reads the shared gpkg the export tool
	// produced for its whole extract; the dataset's own mapping config
	// names the one layer that belongs to this node.
	if yml := node.PropertyString(sitegraph.PropYML); yml != "" {
		layer, err := mappingLayerName(filepath.Join(p.Config.OSMDownloadsDir(), yml))
		if err != nil {
			return err
		}
		opts.Layer = layer
	}

	tracing.SpanFromContext(ctx).SetAttributes(
		traceattrs.OpenSiteTable(node.Output),
		traceattrs.FilePath(file),
	)
	if err := p.DB.ImportSpatialData(ctx, file, node.Output, opts); err != nil {
		return err
	}
	if err := p.DB.CreateSpatialIndex(ctx, node.Output); err != nil {
		return err
	}
	if err := p.DB.AddTableComment(ctx, node.Output, node.Name); err != nil {
		return err
	}
	return markTableComplete(ctx, p, node)
}

func sourceCRSFor(name string) string {
	if crs, ok := importSourceCRS[name]; ok {
		return crs
	}
	for suffix, crs := range importSourceCRSSuffix {
		if strings.HasSuffix(name, suffix) {
			return crs
		}
	}
	return ""
}

// mappingLayerName returns the layer a mapping config defines: its
// first top-level key in lexical order. Dataset configs define exactly
// one; lexical order makes the malformed multi-key case deterministic.
func mappingLayerName(configPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("reading mapping config: %w", err)
	}
	ty, err := ctyyaml.ImpliedType(data)
	if err != nil {
		return "", fmt.Errorf("parsing mapping config %s: %w", filepath.Base(configPath), err)
	}
	if !ty.IsObjectType() {
		return "", fmt.Errorf("mapping config %s is not a mapping at the top level", filepath.Base(configPath))
	}
	var keys []string
	for key := range ty.AttributeTypes() {
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("mapping config %s defines no layers", filepath.Base(configPath))
	}
	sort.Strings(keys)
	return keys[0], nil
}
