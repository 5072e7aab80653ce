// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"

	"github.com/lib/pq"

	"github.com/openwindenergy/opensite/internal/postgis"
	"github.com/openwindenergy/opensite/internal/registry"
	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// testConnEnv selects the PostGIS instance the integration tests run
// against. Unset means skip: these tests create and drop real tables.
const testConnEnv = "OPENSITE_PG_TEST_CONN"

// TestPreprocessClipsToMaster rebuilds the clipping master and
// processing grid as small known rectangles and checks that geometry
// inside a grid square but outside the master polygon never reaches
// the partitioned output.
//
// Master is the rectangle (0,0)-(50,100); the single grid square is
// (0,0)-(100,100), so the strip x>50 is covered by the grid but lies
// outside the study area. Three source polygons: one contained, one
// wholly in the strip, one crossing the master's eastern edge.
func TestPreprocessClipsToMaster(t *testing.T) {
	conn := os.Getenv(testConnEnv)
	if conn == "" {
		t.Skipf("set %s to run preprocess integration tests", testConnEnv)
	}

	ctx := context.Background()
	client, err := postgis.Connect(ctx, conn, "")
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	t.Cleanup(func() { client.Close() })

	r, err := registry.New(ctx, client)
	if err != nil {
		t.Fatalf("err: %s", err)
	}

	const src = "preprocess_clip_src"
	output := postgis.HashedTableName("preprocess-clip-check")

	cleanup := func() {
		cctx := context.Background()
		for _, name := range []string{
			src, output,
			postgis.ClippingMasterTable, postgis.GridProcessingTable,
			postgis.ScratchTableName(1, output),
			postgis.ScratchTableName(2, output),
			postgis.ScratchTableName(3, output),
		} {
			client.DropTable(cctx, name)
		}
		client.Exec(cctx, fmt.Sprintf(`DELETE FROM %s WHERE table_id = $1`,
			pq.QuoteIdentifier(postgis.RegistryTable)), output)
	}
	cleanup()
	t.Cleanup(cleanup)

	setup := []string{
		fmt.Sprintf(`CREATE TABLE %s (geom geometry(MultiPolygon, %d))`,
			pq.QuoteIdentifier(postgis.ClippingMasterTable), postgis.WorkingSRID),
		fmt.Sprintf(`INSERT INTO %s SELECT ST_Multi(ST_MakeEnvelope(0, 0, 50, 100, %d))`,
			pq.QuoteIdentifier(postgis.ClippingMasterTable), postgis.WorkingSRID),
		fmt.Sprintf(`CREATE TABLE %s (id INTEGER, geom geometry(Polygon, %d))`,
			pq.QuoteIdentifier(postgis.GridProcessingTable), postgis.WorkingSRID),
		fmt.Sprintf(`INSERT INTO %s SELECT 1, ST_MakeEnvelope(0, 0, 100, 100, %d)`,
			pq.QuoteIdentifier(postgis.GridProcessingTable), postgis.WorkingSRID),
		fmt.Sprintf(`CREATE TABLE %s (geom geometry(Polygon, %d))`,
			pq.QuoteIdentifier(src), postgis.WorkingSRID),
		fmt.Sprintf(`INSERT INTO %s VALUES
			(ST_MakeEnvelope(10, 10, 20, 20, %[2]d)),
			(ST_MakeEnvelope(60, 10, 70, 20, %[2]d)),
			(ST_MakeEnvelope(40, 10, 60, 20, %[2]d))`,
			pq.QuoteIdentifier(src), postgis.WorkingSRID),
	}
	for _, q := range setup {
		if err := client.Exec(ctx, q); err != nil {
			t.Fatalf("err: %s", err)
		}
	}

	node := &sitegraph.Node{
		Name:   "preprocess-clip-check",
		Input:  src,
		Output: output,
	}
	if err := r.RegisterNode(ctx, output, node.Name, "clip-check", "hash-clip-check"); err != nil {
		t.Fatalf("err: %s", err)
	}

	p := &Params{DB: client, Registry: r, Metadata: NewMetadata()}
	if err := runPreprocess(ctx, p, node); err != nil {
		t.Fatalf("err: %s", err)
	}

	var beyond int
	err = client.DB().QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE ST_XMax(geom) > 50.001`,
		pq.QuoteIdentifier(output))).Scan(&beyond)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if beyond != 0 {
		t.Errorf("%d geometries extend past the clipping master boundary", beyond)
	}

	// The contained square contributes 100; the crosser keeps only its
	// western half, another 100. The out-of-area square contributes
	// nothing.
	var area float64
	err = client.DB().QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COALESCE(SUM(ST_Area(geom)), 0) FROM %s`,
		pq.QuoteIdentifier(output))).Scan(&area)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if math.Abs(area-200) > 0.01 {
		t.Errorf("clipped area = %f; want 200", area)
	}

	done, err := r.IsCompleted(ctx, output)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !done {
		t.Error("preprocess finished without marking the table complete")
	}
}
