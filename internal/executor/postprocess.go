// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lib/pq"

	"github.com/openwindenergy/opensite/internal/postgis"
	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// weldBatchSize is how many seam geometries the fallback weld unions
// at a time when the single-statement union fails.
const weldBatchSize = 50

// weldVacuumEvery spaces the maintenance passes of the iterative weld.
const weldVacuumEvery = 10

// runPostprocess welds a grid-partitioned table back into seamless
// geometry. Partitioning leaves artificial square boundaries through
// any feature that crossed them; those pieces sit inside the buffered
// grid-edge band and must be unioned across squares. Everything
// outside the band (islands) is already final and passes through.
//
// The cross-square union is the one operation here that can exhaust
// the database on national datasets, so it degrades in two steps: a
// single-statement union first, an iterative batched weld on failure,
// and finally the partitioned geometry as-is when even the batched
// weld will not complete.
func runPostprocess(ctx context.Context, p *Params, node *sitegraph.Node) error {
	output := postgis.HashedTableName(node.Input + "--postprocess")

	reusable, err := tableReusable(ctx, p, output)
	if err != nil {
		return err
	}
	if reusable {
		log.Printf("[DEBUG] executor: table %s already postprocessed, skipping", output)
		p.Metadata.PublishOutput(node, output)
		return nil
	}

	seams := postgis.ScratchTableName(1, output)
	islands := postgis.ScratchTableName(2, output)
	welded := postgis.ScratchTableName(3, output)
	for _, t := range []string{seams, islands, welded, output} {
		if err := p.DB.DropTable(ctx, t); err != nil {
			return err
		}
	}

	src := pq.QuoteIdentifier(node.Input)
	band := pq.QuoteIdentifier(postgis.GridBuffedgesTable)

	// Split dumped pieces into seam candidates and islands. The band
	// row of the piece's own square decides which side it falls on.
	split := []struct {
		table     string
		predicate string
	}{
		{seams, "ST_Intersects(d.geom, b.geom)"},
		{islands, "NOT ST_Intersects(d.geom, b.geom)"},
	}
	for _, s := range split {
		q := fmt.Sprintf(`CREATE TABLE %s AS
			SELECT d.grid_id, d.geom
			FROM (SELECT grid_id, (ST_Dump(geom)).geom AS geom FROM %s) d
			JOIN %s b ON b.id = d.grid_id
			WHERE %s`,
			pq.QuoteIdentifier(s.table), src, band, s.predicate)
		if err := p.DB.Exec(ctx, q); err != nil {
			return fmt.Errorf("postprocess %s (splitting seams): %w", node.Name, err)
		}
	}

	if err := weldSeams(ctx, p, node.Name, seams, welded); err != nil {
		return err
	}

	q := fmt.Sprintf(`CREATE TABLE %s AS
		SELECT geom::geometry(Polygon, %d) AS geom FROM (
			SELECT (ST_Dump(geom)).geom AS geom FROM %s
			UNION ALL
			SELECT geom FROM %s
		) final`,
		pq.QuoteIdentifier(output), postgis.WorkingSRID,
		pq.QuoteIdentifier(welded), pq.QuoteIdentifier(islands))
	if err := p.DB.Exec(ctx, q); err != nil {
		return fmt.Errorf("postprocess %s (assembling output): %w", node.Name, err)
	}

	for _, t := range []string{seams, islands, welded} {
		if err := p.DB.DropTable(ctx, t); err != nil {
			return err
		}
	}
	if err := p.DB.CreateSpatialIndex(ctx, output); err != nil {
		return err
	}
	if err := p.DB.AddTableComment(ctx, output, layerOf(node.Name)); err != nil {
		return err
	}

	if err := p.Registry.RegisterNode(ctx, output, layerOf(node.Name), branchOf(node.Name),
		node.PropertyString(sitegraph.PropHash)); err != nil {
		return err
	}
	p.Metadata.PublishOutput(node, output)
	return markTableComplete(ctx, p, node)
}

// weldSeams unions the seam candidates across squares into the welded
// table, degrading through the three strategies described on
// runPostprocess.
func weldSeams(ctx context.Context, p *Params, name, seams, welded string) error {
	st := pq.QuoteIdentifier(seams)
	wt := pq.QuoteIdentifier(welded)

	conventional := fmt.Sprintf(`CREATE TABLE %s AS
		SELECT (ST_Dump(ST_Union(geom))).geom::geometry(Polygon, %d) AS geom FROM %s`,
		wt, postgis.WorkingSRID, st)
	if err := p.DB.Exec(ctx, conventional); err == nil {
		return nil
	} else {
		log.Printf("[WARN] executor: postprocess %s: single union failed, welding iteratively: %s", name, err)
	}

	if err := p.DB.DropTable(ctx, welded); err != nil {
		return err
	}
	if err := p.DB.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE %s (geom geometry(MultiPolygon, %d))`, wt, postgis.WorkingSRID)); err != nil {
		return err
	}

	total, err := p.DB.RowCount(ctx, seams)
	if err != nil {
		return err
	}

	iterativeFailed := false
	for offset, batch := 0, 0; offset < total; offset, batch = offset+weldBatchSize, batch+1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := fmt.Sprintf(`INSERT INTO %s
			SELECT ST_Multi(ST_Union(geom)) FROM (
				SELECT geom FROM %s ORDER BY grid_id LIMIT %d OFFSET %d
			) batch HAVING COUNT(geom) > 0`,
			wt, st, weldBatchSize, offset)
		if err := p.DB.Exec(ctx, q); err != nil {
			log.Printf("[WARN] executor: postprocess %s: weld batch at %d failed: %s", name, offset, err)
			iterativeFailed = true
			break
		}
		if batch%weldVacuumEvery == weldVacuumEvery-1 {
			if err := p.DB.Vacuum(ctx, welded); err != nil {
				return err
			}
			log.Printf("[INFO] executor: postprocess %s: welded %d of %d seam geometries", name, offset+weldBatchSize, total)
		}
	}

	if !iterativeFailed {
		// Batches welded internally; one more union joins the much
		// smaller set of batch results across batch boundaries.
		finished := welded + "_final"
		finish := fmt.Sprintf(`CREATE TABLE %s AS
			SELECT ST_Multi(ST_Union(geom))::geometry(MultiPolygon, %d) AS geom FROM %s`,
			pq.QuoteIdentifier(finished), postgis.WorkingSRID, wt)
		if err := p.DB.Exec(ctx, finish); err != nil {
			log.Printf("[WARN] executor: postprocess %s: weld finish failed: %s", name, err)
			iterativeFailed = true
		} else {
			if err := p.DB.DropTable(ctx, welded); err != nil {
				return err
			}
			return p.DB.Exec(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`,
				pq.QuoteIdentifier(finished), wt))
		}
	}

	// Last resort: hand the partitioned seams through unwelded. The
	// layer keeps its artificial square boundaries but remains usable.
	log.Printf("[WARN] executor: postprocess %s: welding abandoned, output keeps grid partitions", name)
	if err := p.DB.DropTable(ctx, welded); err != nil {
		return err
	}
	return p.DB.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE %s AS SELECT ST_Multi(geom)::geometry(MultiPolygon, %d) AS geom FROM %s`,
		wt, postgis.WorkingSRID, st))
}

// branchOf recovers the branch slug from an output-focused node name,
// which is always "<branch>--<layer>".
func branchOf(name string) string {
	if i := strings.Index(name, "--"); i >= 0 {
		return name[:i]
	}
	return name
}
