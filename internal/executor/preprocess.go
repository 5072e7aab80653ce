// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/openwindenergy/opensite/internal/postgis"
	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// snapGridSize is the snapping resolution in metres applied when
// snap-to-grid is requested, collapsing near-coincident vertices that
// otherwise break intersection robustness.
const snapGridSize = 1.0

// spatialProgressInterval spaces the progress lines of per-square
// loops, which can run for many minutes on national datasets.
const spatialProgressInterval = 5 * time.Second

// runPreprocess clips a raw table to the master clipping polygon and
// partitions it by the processing grid, producing one dissolved
// multipolygon per grid square. Downstream per-square processing is
// what keeps ST_Union memory bounded on national-scale data.
//
// Three scratch stages feed the final assembly: stage 1 repairs and
// flattens the source into plain polygons, stage 2 splits against the
// clipping master (boundary crossers are cut to the intersection,
// contained polygons pass through untouched), stage 3 flattens the cut
// geometry back to plain polygons for the per-square pass.
func runPreprocess(ctx context.Context, p *Params, node *sitegraph.Node) error {
	reusable, err := tableReusable(ctx, p, node.Output)
	if err != nil {
		return err
	}
	if reusable {
		log.Printf("[DEBUG] executor: table %s already preprocessed, skipping", node.Output)
		return nil
	}

	s1 := postgis.ScratchTableName(1, node.Output)
	s2 := postgis.ScratchTableName(2, node.Output)
	s3 := postgis.ScratchTableName(3, node.Output)
	for _, scratch := range []string{s1, s2, s3} {
		if err := p.DB.DropTable(ctx, scratch); err != nil {
			return err
		}
	}
	if err := p.DB.DropTable(ctx, node.Output); err != nil {
		return err
	}

	geomExpr := "geom"
	if node.HasProperty(sitegraph.PropSnapGrid) {
		geomExpr = fmt.Sprintf("ST_SnapToGrid(geom, %f)", snapGridSize)
	}

	src := pq.QuoteIdentifier(node.Input)
	grid := pq.QuoteIdentifier(postgis.GridProcessingTable)
	clip := pq.QuoteIdentifier(postgis.ClippingMasterTable)

	stages := []struct {
		what  string
		query string
	}{
		{"flattening source polygons", fmt.Sprintf(`CREATE TABLE %s AS
			SELECT (ST_Dump(ST_CollectionExtract(ST_MakeValid(%s), 3))).geom::geometry(Polygon, %d) AS geom
			FROM %s`,
			pq.QuoteIdentifier(s1), geomExpr, postgis.WorkingSRID, src)},
		{"indexing flattened polygons", fmt.Sprintf(
			`CREATE INDEX ON %s USING GIST (geom)`, pq.QuoteIdentifier(s1))},
		{"cutting boundary crossers to the clipping master", fmt.Sprintf(`CREATE TABLE %s AS
			SELECT ST_Intersection(c.geom, d.geom) AS geom
			FROM %s d, %s c
			WHERE NOT ST_Contains(c.geom, d.geom) AND ST_Intersects(c.geom, d.geom)`,
			pq.QuoteIdentifier(s2), pq.QuoteIdentifier(s1), clip)},
		{"passing contained polygons through", fmt.Sprintf(`INSERT INTO %s
			SELECT d.geom
			FROM %s d, %s c
			WHERE ST_Contains(c.geom, d.geom)`,
			pq.QuoteIdentifier(s2), pq.QuoteIdentifier(s1), clip)},
		{"flattening clipped geometry", fmt.Sprintf(`CREATE TABLE %s AS
			SELECT (ST_Dump(ST_CollectionExtract(geom, 3))).geom::geometry(Polygon, %d) AS geom
			FROM %s`,
			pq.QuoteIdentifier(s3), postgis.WorkingSRID, pq.QuoteIdentifier(s2))},
		{"indexing clipped polygons", fmt.Sprintf(
			`CREATE INDEX ON %s USING GIST (geom)`, pq.QuoteIdentifier(s3))},
	}
	for _, stage := range stages {
		log.Printf("[DEBUG] executor: preprocess %s: %s", node.Name, stage.what)
		if err := p.DB.Exec(ctx, stage.query); err != nil {
			return fmt.Errorf("preprocess %s (%s): %w", node.Name, stage.what, err)
		}
	}

	dst := pq.QuoteIdentifier(node.Output)
	if err := p.DB.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE %s (grid_id INTEGER, geom geometry(MultiPolygon, %d))`,
		dst, postgis.WorkingSRID)); err != nil {
		return err
	}

	squares, err := p.DB.GridSquareIDs(ctx)
	if err != nil {
		return err
	}
	lastReport := time.Now()
	for i, id := range squares {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := fmt.Sprintf(`INSERT INTO %s
			SELECT g.id, ST_Multi(ST_Union(ST_Intersection(g.geom, d.geom)))
			FROM %s g JOIN %s d ON ST_Intersects(g.geom, d.geom)
			WHERE g.id = $1
			GROUP BY g.id`,
			dst, grid, pq.QuoteIdentifier(s3))
		if err := p.DB.Exec(ctx, q, id); err != nil {
			return fmt.Errorf("preprocess %s (square %d): %w", node.Name, id, err)
		}
		if time.Since(lastReport) >= spatialProgressInterval {
			log.Printf("[INFO] executor: preprocess %s: %d of %d squares", node.Name, i+1, len(squares))
			lastReport = time.Now()
		}
	}

	for _, scratch := range []string{s1, s2, s3} {
		if err := p.DB.DropTable(ctx, scratch); err != nil {
			return err
		}
	}
	if err := p.DB.CreateSpatialIndex(ctx, node.Output); err != nil {
		return err
	}
	if err := p.DB.AddTableComment(ctx, node.Output, node.Name); err != nil {
		return err
	}
	return markTableComplete(ctx, p, node)
}
