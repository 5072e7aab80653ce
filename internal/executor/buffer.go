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

// runBuffer expands a dataset's geometries by its buffer distance in
// metres, producing a polygon table from whatever mix of geometries
// the import produced.
//
// Hedgerow data needs special handling: the sources mix genuine line
// features with polygons that trace a hedge's outline, and buffering
// the filled outline polygon would grossly overstate the hedge. Lines
// buffer directly; polygons buffer their boundary instead.
func runBuffer(ctx context.Context, p *Params, node *sitegraph.Node) error {
	reusable, err := tableReusable(ctx, p, node.Output)
	if err != nil {
		return err
	}
	if reusable {
		log.Printf("[DEBUG] executor: table %s already buffered, skipping", node.Output)
		return nil
	}

	value, ok := node.PropertyFloat(sitegraph.PropBufferValue)
	if !ok {
		return fmt.Errorf("buffer node %q has no buffer distance", node.Name)
	}

	src := pq.QuoteIdentifier(node.Input)
	dst := pq.QuoteIdentifier(node.Output)

	geomExpr := "geom"
	if strings.HasPrefix(node.Name, "hedgerows--") {
		geomExpr = "CASE WHEN ST_Dimension(geom) = 2 THEN ST_Boundary(geom) ELSE geom END"
	}

	if err := p.DB.DropTable(ctx, node.Output); err != nil {
		return err
	}
	q := fmt.Sprintf(`CREATE TABLE %s AS
		SELECT ST_Multi(ST_Buffer(%s, %f))::geometry(MultiPolygon, %d) AS geom
		FROM %s`,
		dst, geomExpr, value, postgis.WorkingSRID, src)
	if err := p.DB.Exec(ctx, q); err != nil {
		return fmt.Errorf("buffering %s by %gm: %w", node.Input, value, err)
	}

	if err := p.DB.CreateSpatialIndex(ctx, node.Output); err != nil {
		return err
	}
	if err := p.DB.AddTableComment(ctx, node.Output, node.Name); err != nil {
		return err
	}
	return markTableComplete(ctx, p, node)
}
