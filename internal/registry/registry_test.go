// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/lib/pq"

	"github.com/openwindenergy/opensite/internal/postgis"
)

// testConnEnv selects the PostGIS instance the integration tests run
// against. Unset means skip: these tests create and drop real tables.
const testConnEnv = "OPENSITE_PG_TEST_CONN"

func testRegistry(t *testing.T) (*postgis.Client, *Registry) {
	t.Helper()
	conn := os.Getenv(testConnEnv)
	if conn == "" {
		t.Skipf("set %s to run registry integration tests", testConnEnv)
	}

	ctx := context.Background()
	client, err := postgis.Connect(ctx, conn, "")
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	t.Cleanup(func() { client.Close() })

	r, err := New(ctx, client)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	return client, r
}

func cleanupTable(t *testing.T, client *postgis.Client, r *Registry, tableID string) {
	t.Helper()
	t.Cleanup(func() {
		ctx := context.Background()
		client.DropTable(ctx, tableID)
		client.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE table_id = $1`,
			pq.QuoteIdentifier(postgis.RegistryTable)), tableID)
	})
}

func TestCompletionLifecycle(t *testing.T) {
	client, r := testRegistry(t)
	ctx := context.Background()

	tableID := postgis.HashedTableName("registry-test-lifecycle")
	cleanupTable(t, client, r, tableID)

	if err := r.RegisterNode(ctx, tableID, "railway-lines", "uk-wind", "abcdef0123456789"); err != nil {
		t.Fatalf("err: %s", err)
	}

	done, err := r.IsCompleted(ctx, tableID)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if done {
		t.Error("fresh registration must start incomplete")
	}

	updated, err := r.SetTableCompleted(ctx, tableID)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !updated {
		t.Fatal("completion update matched no row")
	}

	done, err = r.IsCompleted(ctx, tableID)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !done {
		t.Error("completed flag did not stick")
	}

	// Re-registering a finished table must not reset its flag.
	if err := r.RegisterNode(ctx, tableID, "railway-lines", "uk-wind", "abcdef0123456789"); err != nil {
		t.Fatalf("err: %s", err)
	}
	done, err = r.IsCompleted(ctx, tableID)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !done {
		t.Error("re-registration reset the completed flag")
	}
}

func TestSetTableCompletedUnregistered(t *testing.T) {
	_, r := testRegistry(t)

	updated, err := r.SetTableCompleted(context.Background(), postgis.HashedTableName("never-registered"))
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if updated {
		t.Error("update reported success for an unregistered table")
	}
}

func TestSyncReapsIncompleteAndOrphans(t *testing.T) {
	client, r := testRegistry(t)
	ctx := context.Background()

	// An incomplete row: interrupted work from a previous run.
	incomplete := postgis.HashedTableName("registry-test-incomplete")
	cleanupTable(t, client, r, incomplete)
	if err := r.RegisterNode(ctx, incomplete, "a", "uk-wind", "hash-a"); err != nil {
		t.Fatalf("err: %s", err)
	}

	// A completed row whose physical table is gone.
	orphan := postgis.HashedTableName("registry-test-orphan")
	cleanupTable(t, client, r, orphan)
	if err := r.RegisterNode(ctx, orphan, "b", "uk-wind", "hash-b"); err != nil {
		t.Fatalf("err: %s", err)
	}
	if _, err := r.SetTableCompleted(ctx, orphan); err != nil {
		t.Fatalf("err: %s", err)
	}

	// A physical managed table the registry does not reference.
	untracked := postgis.HashedTableName("registry-test-untracked")
	cleanupTable(t, client, r, untracked)
	if err := client.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE %s (id INTEGER)`, pq.QuoteIdentifier(untracked))); err != nil {
		t.Fatalf("err: %s", err)
	}

	// A healthy row: completed, with its physical table present.
	kept := postgis.HashedTableName("registry-test-kept")
	cleanupTable(t, client, r, kept)
	if err := client.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE %s (id INTEGER)`, pq.QuoteIdentifier(kept))); err != nil {
		t.Fatalf("err: %s", err)
	}
	if err := r.RegisterNode(ctx, kept, "c", "uk-wind", "hash-c"); err != nil {
		t.Fatalf("err: %s", err)
	}
	if _, err := r.SetTableCompleted(ctx, kept); err != nil {
		t.Fatalf("err: %s", err)
	}

	if err := r.Sync(ctx); err != nil {
		t.Fatalf("err: %s", err)
	}

	rows := map[string]bool{}
	entries, err := r.Entries(ctx)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	for _, e := range entries {
		rows[e.TableID] = true
	}
	if rows[incomplete] {
		t.Error("incomplete row survived synchronization")
	}
	if rows[orphan] {
		t.Error("orphaned row survived synchronization")
	}
	if !rows[kept] {
		t.Error("healthy row was reaped")
	}

	exists, err := client.TableExists(ctx, untracked)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if exists {
		t.Error("untracked managed table survived synchronization")
	}
	exists, err = client.TableExists(ctx, kept)
	if err != nil {
		t.Fatalf("err: %s", err)
	}
	if !exists {
		t.Error("tracked table was dropped")
	}
}
