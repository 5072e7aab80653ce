// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package postgis wraps the PostGIS database every spatial executor
// works against: connection handling, table management, the clipping
// master and grid bootstrap, and administrative area lookups.
package postgis

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/lib/pq"
)

// Client is a pooled connection to the project database. It is safe
// for concurrent use; database/sql manages the underlying pool.
type Client struct {
	db *sql.DB

	// ogrConn is the "PG:..." datasource string handed to ogr2ogr for
	// imports and exports.
	ogrConn string

	mu            sync.Mutex
	gridSquareIDs []int
}

// Connect opens the database and verifies the connection. The connStr
// uses keyword/value form for lib/pq; ogrConn is the equivalent GDAL
// datasource string.
func Connect(ctx context.Context, connStr, ogrConn string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return &Client{db: db, ogrConn: ogrConn}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// DB exposes the underlying pool for components that manage their own
// statements, like the registry.
func (c *Client) DB() *sql.DB {
	return c.db
}

// OGRConnection returns the GDAL datasource string for subprocess
// imports and exports.
func (c *Client) OGRConnection() string {
	return c.ogrConn
}

// Exec runs a statement without results.
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	_, err := c.db.ExecContext(ctx, query, args...)
	return err
}

// TableExists reports whether a base table of the given name exists in
// the public schema.
func (c *Client) TableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1 AND table_type = 'BASE TABLE'
		)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", name, err)
	}
	return exists, nil
}

// TableNames lists every base table in the public schema.
func (c *Client) TableNames(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_type = 'BASE TABLE'`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DropTable drops a table if it exists, cascading to dependent views.
func (c *Client) DropTable(ctx context.Context, name string) error {
	return c.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", pq.QuoteIdentifier(name)))
}

// CopyTable creates dst as a full copy of src.
func (c *Client) CopyTable(ctx context.Context, src, dst string) error {
	return c.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s",
		pq.QuoteIdentifier(dst), pq.QuoteIdentifier(src)))
}

// CreateSpatialIndex adds the GiST index every managed table carries on
// its geometry column.
func (c *Client) CreateSpatialIndex(ctx context.Context, table string) error {
	return c.Exec(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (geom)",
		pq.QuoteIdentifier(table+"_idx"), pq.QuoteIdentifier(table)))
}

// AddTableComment attaches the node's logical name to the table so that
// a database browser can tell the hashed tables apart.
func (c *Client) AddTableComment(ctx context.Context, table, comment string) error {
	return c.Exec(ctx, fmt.Sprintf("COMMENT ON TABLE %s IS %s",
		pq.QuoteIdentifier(table), quoteLiteral(comment)))
}

// RowCount returns the number of rows in a table.
func (c *Client) RowCount(ctx context.Context, table string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", pq.QuoteIdentifier(table))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return n, nil
}

// Vacuum runs a maintenance pass on a table. The iterative seam weld
// calls this between batches to reclaim the space its rewrites leave
// behind.
func (c *Client) Vacuum(ctx context.Context, table string) error {
	return c.Exec(ctx, fmt.Sprintf("VACUUM %s", pq.QuoteIdentifier(table)))
}

// GridSquareIDs returns the ids of every processing grid square,
// cached after the first call since the grid never changes mid-run.
func (c *Client) GridSquareIDs(ctx context.Context) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gridSquareIDs != nil {
		return c.gridSquareIDs, nil
	}

	rows, err := c.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id FROM %s ORDER BY id", pq.QuoteIdentifier(GridProcessingTable)))
	if err != nil {
		return nil, fmt.Errorf("listing processing grid squares: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	log.Printf("[DEBUG] postgis: processing grid has %d squares", len(ids))
	c.gridSquareIDs = ids
	return ids, nil
}

// quoteLiteral renders a string as a single-quoted SQL literal. Only
// used for statements like COMMENT that cannot take placeholders.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
