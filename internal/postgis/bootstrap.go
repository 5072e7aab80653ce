// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package postgis

import (
	"context"
	"fmt"
	"log"

	"github.com/lib/pq"
)

// SeamBandWidth is the half-width in metres of the band around every
// processing grid edge. Geometries intersecting the band are seam
// candidates that postprocess must union across squares.
const SeamBandWidth = 100

// EnsureClippingMaster imports the boundary polygon that bounds the
// whole study area, unioned into a single row. Already-present tables
// are left alone, so the bootstrap is idempotent across runs.
func (c *Client) EnsureClippingMaster(ctx context.Context, clippingFile string) error {
	exists, err := c.TableExists(ctx, ClippingMasterTable)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	log.Printf("[INFO] postgis: importing clipping master from %s", clippingFile)

	if err := c.DropTable(ctx, ClippingTempTable); err != nil {
		return err
	}
	if err := c.ImportSpatialData(ctx, clippingFile, ClippingTempTable); err != nil {
		return fmt.Errorf("importing clipping file: %w", err)
	}

	master := pq.QuoteIdentifier(ClippingMasterTable)
	temp := pq.QuoteIdentifier(ClippingTempTable)
	steps := []string{
		fmt.Sprintf("CREATE TABLE %s (geom GEOMETRY(MultiPolygon, %d))", master, WorkingSRID),
		fmt.Sprintf("INSERT INTO %s SELECT ST_Multi(ST_Union(geom)) FROM %s", master, temp),
	}
	for _, q := range steps {
		if err := c.Exec(ctx, q); err != nil {
			return fmt.Errorf("building clipping master: %w", err)
		}
	}
	if err := c.CreateSpatialIndex(ctx, ClippingMasterTable); err != nil {
		return err
	}
	if err := c.DropTable(ctx, ClippingTempTable); err != nil {
		return err
	}

	log.Printf("[INFO] postgis: clipping master ready")
	return nil
}

// EnsureProcessingGrid builds the coarse square grid covering the
// clipping master. Per-square processing keeps the ST_Union working set
// bounded, so every partitioned executor depends on this table.
func (c *Client) EnsureProcessingGrid(ctx context.Context) error {
	exists, err := c.TableExists(ctx, GridProcessingTable)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	log.Printf("[INFO] postgis: creating processing grid at %dm spacing", GridProcessingSpacing)

	grid := pq.QuoteIdentifier(GridProcessingTable)
	master := pq.QuoteIdentifier(ClippingMasterTable)
	steps := []string{
		fmt.Sprintf(`CREATE TABLE %s AS
			SELECT (ST_SquareGrid(%d, ST_SetSRID(extent_geom, %d))).geom::geometry(Polygon, %d) AS geom
			FROM (SELECT ST_Extent(geom)::geometry AS extent_geom FROM %s) sub`,
			grid, GridProcessingSpacing, WorkingSRID, WorkingSRID, master),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN id INTEGER PRIMARY KEY GENERATED ALWAYS AS IDENTITY", grid),
		fmt.Sprintf(`DELETE FROM %s g WHERE NOT EXISTS
			(SELECT 1 FROM %s c WHERE ST_Intersects(g.geom, c.geom))`, grid, master),
	}
	for _, q := range steps {
		if err := c.Exec(ctx, q); err != nil {
			return fmt.Errorf("building processing grid: %w", err)
		}
	}
	return c.CreateSpatialIndex(ctx, GridProcessingTable)
}

// EnsureBufferedEdgesGrid builds the seam band: every processing grid
// edge buffered by SeamBandWidth. Postprocess intersects against this
// table to separate seam geometries from islands.
func (c *Client) EnsureBufferedEdgesGrid(ctx context.Context) error {
	exists, err := c.TableExists(ctx, GridBuffedgesTable)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	log.Printf("[INFO] postgis: creating buffered grid edge band (%dm)", SeamBandWidth)

	band := pq.QuoteIdentifier(GridBuffedgesTable)
	grid := pq.QuoteIdentifier(GridProcessingTable)
	q := fmt.Sprintf(`CREATE TABLE %s AS
		SELECT id, ST_Buffer(ST_Boundary(geom), %d)::geometry(Polygon, %d) AS geom FROM %s`,
		band, SeamBandWidth, WorkingSRID, grid)
	if err := c.Exec(ctx, q); err != nil {
		return fmt.Errorf("building buffered edge grid: %w", err)
	}
	return c.CreateSpatialIndex(ctx, GridBuffedgesTable)
}

// EnsureOutputGrid builds the finer grid used when slicing final layers
// for rendering. Squares are computed in web mercator so tiles align
// with the renderer, then transformed back to the working CRS.
func (c *Client) EnsureOutputGrid(ctx context.Context) error {
	exists, err := c.TableExists(ctx, GridOutputTable)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	log.Printf("[INFO] postgis: creating output grid at %dm spacing", GridOutputSpacing)

	grid := pq.QuoteIdentifier(GridOutputTable)
	master := pq.QuoteIdentifier(ClippingMasterTable)
	q := fmt.Sprintf(`CREATE TABLE %s AS
		SELECT ST_Transform((ST_SquareGrid(%d, ST_Transform(geom, 3857))).geom, %d) AS geom FROM %s`,
		grid, GridOutputSpacing, WorkingSRID, master)
	if err := c.Exec(ctx, q); err != nil {
		return fmt.Errorf("building output grid: %w", err)
	}
	return c.CreateSpatialIndex(ctx, GridOutputTable)
}
