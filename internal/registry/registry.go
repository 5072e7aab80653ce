// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package registry persists which managed tables exist, which branch
// produced them, and whether their contents are complete. It is the
// source of truth that makes reruns idempotent: executors skip work
// whose table is registered complete, and startup synchronization
// removes everything the previous run left half-finished.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/openwindenergy/opensite/internal/postgis"
)

// Registry stores build state in two tables: one row per branch
// configuration, one row per managed output table.
type Registry struct {
	client *postgis.Client
}

// New returns a registry backed by the given database, creating its
// tables when missing.
func New(ctx context.Context, client *postgis.Client) (*Registry, error) {
	r := &Registry{client: client}
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) ensureSchema(ctx context.Context) error {
	branch := pq.QuoteIdentifier(postgis.BranchTable)
	registry := pq.QuoteIdentifier(postgis.RegistryTable)

	schema := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			yml_hash TEXT PRIMARY KEY,
			branch_name TEXT NOT NULL,
			config_json JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`, branch),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			table_id TEXT PRIMARY KEY,
			human_name TEXT NOT NULL,
			branch_name TEXT NOT NULL,
			yml_hash TEXT NOT NULL,
			completed BOOLEAN DEFAULT FALSE,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`, registry),
	}
	for _, q := range schema {
		if err := r.client.Exec(ctx, q); err != nil {
			return fmt.Errorf("creating registry schema: %w", err)
		}
	}
	return nil
}

// Entry is one registry row.
type Entry struct {
	TableID    string
	HumanName  string
	BranchName string
	Hash       string
	Completed  bool
	UpdatedAt  time.Time
}

// Entries returns every registry row.
func (r *Registry) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := r.client.DB().QueryContext(ctx, fmt.Sprintf(
		`SELECT table_id, human_name, branch_name, yml_hash, completed, updated_at FROM %s`,
		pq.QuoteIdentifier(postgis.RegistryTable)))
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.TableID, &e.HumanName, &e.BranchName, &e.Hash, &e.Completed, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RegisterBranch upserts the configuration row for one branch hash.
func (r *Registry) RegisterBranch(ctx context.Context, branchName, hash string, config []byte) error {
	log.Printf("[DEBUG] registry: registering branch %q [%s]", branchName, hash)
	return r.client.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (yml_hash, branch_name, config_json, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (yml_hash) DO UPDATE SET
			branch_name = EXCLUDED.branch_name,
			config_json = EXCLUDED.config_json,
			updated_at = CURRENT_TIMESTAMP`,
		pq.QuoteIdentifier(postgis.BranchTable)),
		hash, branchName, config)
}

// RegisterNode upserts the registry row for one output table. New rows
// start incomplete; an existing row keeps its completed flag so a rerun
// does not forget finished work.
func (r *Registry) RegisterNode(ctx context.Context, tableID, humanName, branchName, hash string) error {
	if tableID == "" {
		return nil
	}
	log.Printf("[TRACE] registry: registering %s (%s) for branch %q", tableID, humanName, branchName)
	return r.client.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (table_id, human_name, branch_name, yml_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (table_id) DO UPDATE SET
			human_name = EXCLUDED.human_name,
			branch_name = EXCLUDED.branch_name,
			yml_hash = EXCLUDED.yml_hash`,
		pq.QuoteIdentifier(postgis.RegistryTable)),
		tableID, humanName, branchName, hash)
}

// SetTableCompleted flips the completed flag once the artifact is fully
// written. Reports whether a row was actually updated: a false return
// means the table was never registered, which callers treat as a
// failure rather than silently losing track of an artifact.
func (r *Registry) SetTableCompleted(ctx context.Context, tableID string) (bool, error) {
	res, err := r.client.DB().ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET completed = TRUE, updated_at = CURRENT_TIMESTAMP
		WHERE table_id = $1`,
		pq.QuoteIdentifier(postgis.RegistryTable)),
		tableID)
	if err != nil {
		return false, fmt.Errorf("marking %s complete: %w", tableID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsCompleted reports whether a table is registered and complete.
func (r *Registry) IsCompleted(ctx context.Context, tableID string) (bool, error) {
	var completed bool
	err := r.client.DB().QueryRowContext(ctx, fmt.Sprintf(
		`SELECT completed FROM %s WHERE table_id = $1`,
		pq.QuoteIdentifier(postgis.RegistryTable)),
		tableID).Scan(&completed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading registry row %s: %w", tableID, err)
	}
	return completed, nil
}

// Sync reconciles the registry with the physical database before any
// scheduling happens. Four idempotent passes:
//
//  1. delete rows never marked complete (interrupted work);
//  2. delete rows whose physical table is gone;
//  3. drop managed tables the registry does not reference;
//  4. delete branch rows no registry row references.
func (r *Registry) Sync(ctx context.Context) error {
	log.Printf("[INFO] registry: starting synchronization")

	entries, err := r.Entries(ctx)
	if err != nil {
		return err
	}
	names, err := r.client.TableNames(ctx)
	if err != nil {
		return err
	}
	physical := make(map[string]struct{}, len(names))
	for _, n := range names {
		if !postgis.ProtectedTable(n) {
			physical[n] = struct{}{}
		}
	}

	registryTable := pq.QuoteIdentifier(postgis.RegistryTable)
	tracked := make(map[string]struct{}, len(entries))

	for _, e := range entries {
		if !e.Completed {
			log.Printf("[DEBUG] registry: removing incomplete entry %s", e.TableID)
			if err := r.client.Exec(ctx, fmt.Sprintf(
				`DELETE FROM %s WHERE table_id = $1`, registryTable), e.TableID); err != nil {
				return err
			}
			continue
		}
		if _, ok := physical[e.TableID]; !ok {
			log.Printf("[DEBUG] registry: removing orphaned entry %s (no table)", e.TableID)
			if err := r.client.Exec(ctx, fmt.Sprintf(
				`DELETE FROM %s WHERE table_id = $1`, registryTable), e.TableID); err != nil {
				return err
			}
			continue
		}
		tracked[e.TableID] = struct{}{}
	}

	for name := range physical {
		if !postgis.ManagedTable(name) {
			continue
		}
		if _, ok := tracked[name]; ok {
			continue
		}
		log.Printf("[WARN] registry: dropping untracked table %s", name)
		if err := r.client.DropTable(ctx, name); err != nil {
			return err
		}
	}

	if err := r.client.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s b WHERE NOT EXISTS
			(SELECT 1 FROM %s r WHERE r.yml_hash = b.yml_hash)`,
		pq.QuoteIdentifier(postgis.BranchTable), registryTable)); err != nil {
		return fmt.Errorf("removing orphaned branches: %w", err)
	}

	log.Printf("[INFO] registry: synchronization complete")
	return nil
}
