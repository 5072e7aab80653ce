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

// runAmalgamate merges the grid-partitioned tables of a group's
// members into one grid-partitioned table. A single member is a plain
// copy; several members are concatenated into an UNLOGGED staging
// table and dissolved square by square, because the members already
// share the grid partition and a per-square union never sees more than
// one square's worth of geometry at once.
func runAmalgamate(ctx context.Context, p *Params, node *sitegraph.Node) error {
	reusable, err := tableReusable(ctx, p, node.Output)
	if err != nil {
		return err
	}
	if reusable {
		log.Printf("[DEBUG] executor: table %s already amalgamated, skipping", node.Output)
		return nil
	}

	members := node.PropertyStrings(sitegraph.PropChildren)
	if len(members) == 0 {
		return fmt.Errorf("amalgamate node %q has no member tables", node.Name)
	}

	if err := p.DB.DropTable(ctx, node.Output); err != nil {
		return err
	}

	if len(members) == 1 {
		if err := p.DB.CopyTable(ctx, members[0], node.Output); err != nil {
			return fmt.Errorf("amalgamating %s: %w", node.Name, err)
		}
	} else if err := amalgamateStaged(ctx, p, node, members); err != nil {
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

func amalgamateStaged(ctx context.Context, p *Params, node *sitegraph.Node, members []string) error {
	staging := postgis.ScratchTableName(1, node.Output)
	if err := p.DB.DropTable(ctx, staging); err != nil {
		return err
	}

	st := pq.QuoteIdentifier(staging)
	if err := p.DB.Exec(ctx, fmt.Sprintf(
		`CREATE UNLOGGED TABLE %s (grid_id INTEGER, geom geometry(MultiPolygon, %d))`,
		st, postgis.WorkingSRID)); err != nil {
		return err
	}
	for _, member := range members {
		if err := p.DB.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s SELECT grid_id, geom FROM %s`,
			st, pq.QuoteIdentifier(member))); err != nil {
			return fmt.Errorf("staging %s into %s: %w", member, node.Name, err)
		}
	}

	// Geometries are re-cut against their own square: member tables can
	// carry sliver overhangs from earlier intersections, and the union
	// output must stay strictly partitioned.
	q := fmt.Sprintf(`CREATE TABLE %s AS
		SELECT s.grid_id, ST_Multi(ST_Union(ST_Intersection(s.geom, g.geom)))::geometry(MultiPolygon, %d) AS geom
		FROM %s s JOIN %s g ON g.id = s.grid_id
		GROUP BY s.grid_id`,
		pq.QuoteIdentifier(node.Output), postgis.WorkingSRID,
		st, pq.QuoteIdentifier(postgis.GridProcessingTable))
	if err := p.DB.Exec(ctx, q); err != nil {
		return fmt.Errorf("amalgamating %d tables into %s: %w", len(members), node.Name, err)
	}
	log.Printf("[DEBUG] executor: amalgamated %d member tables into %s", len(members), node.Output)

	return p.DB.DropTable(ctx, staging)
}
