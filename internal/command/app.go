// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/cli"
	"github.com/zclconf/go-cty/cty"

	"github.com/openwindenergy/opensite/internal/catalogue"
	"github.com/openwindenergy/opensite/internal/executor"
	"github.com/openwindenergy/opensite/internal/httpclient"
	"github.com/openwindenergy/opensite/internal/logging"
	"github.com/openwindenergy/opensite/internal/postgis"
	"github.com/openwindenergy/opensite/internal/registry"
	"github.com/openwindenergy/opensite/internal/scheduler"
	"github.com/openwindenergy/opensite/internal/siteconfig"
	"github.com/openwindenergy/opensite/internal/sitegraph"
	"github.com/openwindenergy/opensite/internal/tracing"
	"github.com/openwindenergy/opensite/internal/tracing/traceattrs"
)

// App is one invocation's lifecycle: environment validation, folder and
// database preparation, graph construction and the selected mode.
type App struct {
	Options *Options
	Config  *siteconfig.Config
	UI      cli.Ui
}

// Run executes the mode the options select. Build-like modes hold the
// processing state flags for the duration of the run.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.EnsureFolders(); err != nil {
		return err
	}
	if err := logging.RegisterBuildLog(a.Config.LogFile()); err != nil {
		log.Printf("[WARN] command: could not open build log: %s", err)
	}

	ctx, err := tracing.OpenTelemetryInit(ctx)
	if err != nil {
		log.Printf("[WARN] command: tracing disabled: %s", err)
	}
	defer tracing.ForceFlush(5 * time.Second)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case a.Options.purgeRequested():
		return a.purge(ctx)
	case a.Options.ServerPort != 0:
		return a.serve(ctx)
	case a.Options.GraphOnly:
		g, err := a.buildGraph(ctx, nil)
		if err != nil {
			return err
		}
		a.UI.Output(g.Preview(false))
		return nil
	default:
		return a.build(ctx)
	}
}

// build is the full pipeline: prepare the database, build the graph,
// schedule it to completion.
func (a *App) build(ctx context.Context) error {
	if err := a.Config.Validate(); err != nil {
		return err
	}

	if err := a.Config.MarkProcessingStarted(strings.Join(os.Args, " ")); err != nil {
		return err
	}
	defer func() {
		if err := a.Config.MarkProcessingComplete(); err != nil {
			log.Printf("[WARN] command: could not write completion flag: %s", err)
		}
	}()

	db, err := postgis.Connect(ctx, a.Config.ConnStr(), a.Config.OGRConnStr())
	if err != nil {
		return err
	}
	defer db.Close()

	bctx, span := tracing.Tracer().Start(ctx, "Bootstrap Database",
		tracing.SpanAttributes(traceattrs.DBNamespace(a.Config.PostgresDB)),
	)
	err = a.bootstrap(bctx, db)
	if err != nil {
		tracing.SetSpanError(span, err)
	}
	span.End()
	if err != nil {
		return err
	}

	if a.Options.ClipArea != "" {
		known, err := db.AreaExists(ctx, a.Options.ClipArea)
		if err != nil {
			return err
		}
		if !known {
			return fmt.Errorf("clip area %q is not a known administrative area", a.Options.ClipArea)
		}
	}

	reg, err := registry.New(ctx, db)
	if err != nil {
		return err
	}
	if err := reg.Sync(ctx); err != nil {
		return err
	}

	g, err := a.buildGraph(ctx, reg)
	if err != nil {
		return err
	}
	if a.Options.Preview {
		a.UI.Output(g.Preview(false))
	}

	params := executor.NewParams(ctx, db, reg, a.Config)
	params.Overwrite = a.Options.Overwrite

	sched := scheduler.New(g, params)
	sched.ProbeSizes = true
	if err := sched.Run(ctx); err != nil {
		a.UI.Output(g.Preview(true))
		return err
	}

	a.UI.Output("Build complete.")
	return nil
}

// bootstrap ensures the spatial scaffolding every build depends on: the
// clipping master polygon and the three derived grids.
func (a *App) bootstrap(ctx context.Context, db *postgis.Client) error {
	clippingFile := filepath.Join(a.Config.InstallDir(), postgis.ClippingMasterFile)
	if err := db.EnsureClippingMaster(ctx, clippingFile); err != nil {
		return err
	}
	if err := db.EnsureProcessingGrid(ctx); err != nil {
		return err
	}
	if err := db.EnsureBufferedEdgesGrid(ctx); err != nil {
		return err
	}
	return db.EnsureOutputGrid(ctx)
}

// buildGraph assembles the site file working set and runs the builder.
// A nil registrar skips registration for modes that never execute.
func (a *App) buildGraph(ctx context.Context, reg sitegraph.Registrar) (*sitegraph.Graph, error) {
	cat := catalogue.NewClient(ctx, a.Config.CKANURL, httpclient.NewRetryable(ctx, 2, 0))

	files, err := a.siteFiles(ctx, cat)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no site descriptions selected")
	}
	log.Printf("[INFO] command: building from %d site descriptions", len(files))

	model, err := cat.Query(ctx)
	if err != nil {
		return nil, err
	}

	builder := &sitegraph.Builder{
		FS:            a.Config.FS,
		Files:         files,
		Defaults:      a.defaults(),
		Catalogue:     model,
		Registry:      reg,
		ClipArea:      a.Options.ClipArea,
		OutputFormats: a.Options.OutputFormats,
		SnapGrid:      a.Options.SnapGrid,
	}
	return builder.Build(ctx)
}

// siteFiles resolves the site description working set: an explicit
// custom URL, local glob patterns, or everything the catalogue
// publishes.
func (a *App) siteFiles(ctx context.Context, cat *catalogue.Client) ([]string, error) {
	if a.Options.CustomSiteURL != "" {
		dest := filepath.Join(a.Config.CacheDir(), "custom.yml")
		if err := cat.Fetch(ctx, a.Options.CustomSiteURL, dest); err != nil {
			return nil, fmt.Errorf("downloading custom site description: %w", err)
		}
		return []string{dest}, nil
	}
	if len(a.Options.Sites) > 0 {
		return a.Config.ResolveSiteFiles(a.Options.Sites)
	}
	return cat.DownloadSites(ctx, a.Config.CacheDir(), nil)
}

// defaults carries the command line turbine dimensions into every
// branch's math context.
func (a *App) defaults() map[string]cty.Value {
	d := map[string]cty.Value{
		sitegraph.PropHeightToTip: cty.NumberFloatVal(a.Options.HeightToTip),
	}
	if a.Options.BladeRadius > 0 {
		d[sitegraph.PropBladeRadius] = cty.NumberFloatVal(a.Options.BladeRadius)
	}
	return d
}
