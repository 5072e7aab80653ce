// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"context"
	"fmt"
	"log"

	"github.com/lib/pq"

	"github.com/openwindenergy/opensite/internal/postgis"
	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// runClip cuts a finished layer down to one administrative area from
// the OSM boundaries table. The result stays in the working CRS; the
// export step owns the conversion to the output CRS.
func runClip(ctx context.Context, p *Params, node *sitegraph.Node) error {
	input, ok := p.Metadata.Resolve(node.Input)
	if !ok {
		return fmt.Errorf("input of %q was never published", node.Name)
	}
	area := node.PropertyString(sitegraph.PropClip)
	if area == "" {
		return fmt.Errorf("clip node %q has no area", node.Name)
	}

	output := postgis.HashedTableName(fmt.Sprintf("%s--clip-%s", input, area))

	reusable, err := tableReusable(ctx, p, output)
	if err != nil {
		return err
	}
	if reusable {
		log.Printf("[DEBUG] executor: table %s already clipped, skipping", output)
		p.Metadata.PublishOutput(node, output)
		return nil
	}

	if err := p.DB.DropTable(ctx, output); err != nil {
		return err
	}
	q := fmt.Sprintf(`CREATE TABLE %s AS
		SELECT (ST_Dump(ST_Intersection(d.geom, a.geom))).geom::geometry(Polygon, %d) AS geom
		FROM %s d, (
			SELECT ST_Union(geom) AS geom FROM %s
			WHERE name ILIKE $1 OR council_name ILIKE $1
		) a
		WHERE ST_Intersects(d.geom, a.geom)`,
		pq.QuoteIdentifier(output), postgis.WorkingSRID,
		pq.QuoteIdentifier(input), pq.QuoteIdentifier(postgis.OSMBoundariesTable))
	if err := p.DB.Exec(ctx, q, postgis.NormalizeAreaName(area)); err != nil {
		return fmt.Errorf("clipping %s to %q: %w", input, area, err)
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
