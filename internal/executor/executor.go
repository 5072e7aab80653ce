// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package executor implements the per-action workers the scheduler
// dispatches to: acquisition (download, unzip, concatenate, run) and
// the PostGIS chain (import, buffer, preprocess, amalgamate,
// postprocess, clip, output).
package executor

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/openwindenergy/opensite/internal/catalogue"
	"github.com/openwindenergy/opensite/internal/httpclient"
	"github.com/openwindenergy/opensite/internal/postgis"
	"github.com/openwindenergy/opensite/internal/registry"
	"github.com/openwindenergy/opensite/internal/siteconfig"
	"github.com/openwindenergy/opensite/internal/sitegraph"
	"github.com/openwindenergy/opensite/internal/tracing"
	"github.com/openwindenergy/opensite/internal/tracing/traceattrs"
)

// Params carries the shared collaborators every executor needs. One
// Params value serves the whole run; everything on it is safe for
// concurrent use.
type Params struct {
	DB       *postgis.Client
	Registry *registry.Registry
	Config   *siteconfig.Config
	Metadata *Metadata

	// HTTP is the retrying client used for downloads and size probes.
	HTTP *retryablehttp.Client

	// Overwrite bypasses the executors' early-exit reuse checks, so
	// files are fetched and tables derived afresh. Registry rows are
	// left alone.
	Overwrite bool
}

// NewParams assembles a Params with a default download client.
func NewParams(ctx context.Context, db *postgis.Client, reg *registry.Registry, cfg *siteconfig.Config) *Params {
	return &Params{
		DB:       db,
		Registry: reg,
		Config:   cfg,
		Metadata: NewMetadata(),
		HTTP:     httpclient.NewRetryable(ctx, 2, 0),
	}
}

// downloadPath resolves a download-relative filename to its absolute
// location: OSM extracts and mapping configs live under downloads/osm,
// everything else directly under downloads.
func (p *Params) downloadPath(format, filename string) string {
	for _, f := range catalogue.OSMDownloads {
		if f == format {
			return filepath.Join(p.Config.OSMDownloadsDir(), filename)
		}
	}
	return filepath.Join(p.Config.DownloadsDir(), filename)
}

// Func executes one node. A nil error marks the node processed; any
// error marks it failed and statically blocks its parents.
type Func func(ctx context.Context, p *Params, node *sitegraph.Node) error

// dispatch is the closed mapping from action to executor. Every action
// the builder can emit has exactly one entry.
var dispatch = map[sitegraph.Action]Func{
	sitegraph.ActionDownload:    runDownload,
	sitegraph.ActionUnzip:       runUnzip,
	sitegraph.ActionConcatenate: runConcatenate,
	sitegraph.ActionRun:         runExportTool,
	sitegraph.ActionImport:      runImport,
	sitegraph.ActionBuffer:      runBuffer,
	sitegraph.ActionPreprocess:  runPreprocess,
	sitegraph.ActionAmalgamate:  runAmalgamate,
	sitegraph.ActionPostprocess: runPostprocess,
	sitegraph.ActionClip:        runClip,
	sitegraph.ActionOutput:      runOutput,
}

// Execute dispatches a node to its action's executor.
func Execute(ctx context.Context, p *Params, node *sitegraph.Node) error {
	fn, ok := dispatch[node.Action]
	if !ok {
		return fmt.Errorf("no executor for action %q (node %q)", node.Action, node.Name)
	}

	ctx, span := tracing.Tracer().Start(ctx, "Execute "+string(node.Action),
		tracing.SpanAttributes(
			traceattrs.OpenSiteNodeName(node.Name),
			traceattrs.OpenSiteNodeAction(string(node.Action)),
			traceattrs.OpenSiteNodeURN(node.URN),
		),
	)
	defer span.End()

	start := time.Now()
	log.Printf("[INFO] executor: [%s] %s", node.Action, node.Name)
	if err := fn(ctx, p, node); err != nil {
		tracing.SetSpanError(span, err)
		log.Printf("[ERROR] executor: [%s] %s failed: %s", node.Action, node.Name, err)
		return err
	}
	log.Printf("[DEBUG] executor: [%s] %s completed in %s", node.Action, node.Name, time.Since(start).Round(time.Millisecond))
	return nil
}

// markTableComplete flips the registry flag for a finished artifact.
// The flag only moves after the table is fully written, so a crash
// between the two leaves an incomplete row for startup sync to reap.
func markTableComplete(ctx context.Context, p *Params, node *sitegraph.Node) error {
	updated, err := p.Registry.SetTableCompleted(ctx, node.Output)
	if err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("table %s written but never registered", node.Output)
	}
	return nil
}

// tableReusable reports whether a node's output table already exists,
// is registered, and is flagged complete, so the node can be satisfied
// without re-running. Overwrite mode always rebuilds.
func tableReusable(ctx context.Context, p *Params, table string) (bool, error) {
	if p.Overwrite || table == "" {
		return false, nil
	}
	exists, err := p.DB.TableExists(ctx, table)
	if err != nil || !exists {
		return false, err
	}
	return p.Registry.IsCompleted(ctx, table)
}
