// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/afero"
	"github.com/zclconf/go-cty/cty"

	"github.com/openwindenergy/opensite/internal/catalogue"
	"github.com/openwindenergy/opensite/internal/postgis"
	"github.com/openwindenergy/opensite/internal/tracing"
	"github.com/openwindenergy/opensite/internal/tracing/traceattrs"
)

// Registrar records branches and their output tables durably. The
// builder registers everything it resolves so that interrupted builds
// can be reconciled at the next startup.
type Registrar interface {
	RegisterBranch(ctx context.Context, branchName, hash string, config []byte) error
	RegisterNode(ctx context.Context, tableID, humanName, branchName, hash string) error
}

// Builder turns site description files into an executable graph by
// running the fixed transformer sequence: parse, enrich, resolve math,
// fold styling and buffers, promote structure, merge catalogue
// metadata, snapshot, then explode into acquisition and processing
// nodes.
type Builder struct {
	FS afero.Afero

	// Files are the site description YAML paths, one branch each.
	Files []string

	// Defaults are branch metadata fallbacks: the turbine dimensions
	// from the command line plus any global settings.
	Defaults map[string]cty.Value

	// Catalogue supplies authoritative titles, URLs and formats. A nil
	// model skips the merge, which only makes sense in tests.
	Catalogue catalogue.Model

	// Registry receives branch and table registrations; nil skips
	// registration for graph-only runs.
	Registry Registrar

	ClipArea      string
	OutputFormats []string
	SnapGrid      bool
}

// Build runs every transformer in order and returns the executable
// graph.
func (b *Builder) Build(ctx context.Context) (*Graph, error) {
	g := NewGraph()

	transformer := GraphTransformMulti(
		&ConfigTransformer{FS: b.FS, Files: b.Files},
		&EnrichTransformer{Defaults: b.Defaults},
		&MathTransformer{},
		&FoldTransformer{},
		&StructureTransformer{},
		&CatalogueTransformer{Model: b.Catalogue},
		&SnapshotTransformer{},
		&ParentsTransformer{},
		&DownloadsTransformer{},
		&UnzipsTransformer{},
		&OSMExportToolTransformer{},
		&SpatialChainTransformer{
			ClipArea:      b.ClipArea,
			OutputFormats: b.OutputFormats,
			SnapGrid:      b.SnapGrid,
		},
	)
	if err := transformer.Transform(ctx, g); err != nil {
		return nil, err
	}

	if err := b.register(ctx, g); err != nil {
		return nil, err
	}

	counts := g.ActionCounts()
	var summary []string
	for _, a := range g.SortedActions() {
		summary = append(summary, fmt.Sprintf("%s=%d", a, counts[a]))
	}
	log.Printf("[INFO] sitegraph: graph ready with %d nodes (%s)", len(g.Nodes()), strings.Join(summary, " "))
	return g, nil
}

// register records every branch and every node that will produce a
// managed table. Rows start incomplete; executors flip them once the
// artifact is written.
func (b *Builder) register(ctx context.Context, g *Graph) error {
	if b.Registry == nil {
		return nil
	}
	for _, branch := range g.Branches() {
		if err := b.registerBranch(ctx, branch); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) registerBranch(ctx context.Context, branch *Node) error {
	ctx, span := tracing.Tracer().Start(ctx, "Register Branch",
		tracing.SpanAttributes(traceattrs.OpenSiteBranch(branch.Name)),
	)
	defer span.End()

	hash := branch.PropertyString(PropHash)
	if err := b.Registry.RegisterBranch(ctx, branch.Name, hash, branch.Config); err != nil {
		err = fmt.Errorf("registering branch %q: %w", branch.Name, err)
		tracing.SetSpanError(span, err)
		return err
	}

	var err error
	branch.Walk(func(n *Node) {
		if err != nil || n.Output == "" || !strings.HasPrefix(n.Output, postgis.TablePrefix) {
			return
		}
		if rerr := b.Registry.RegisterNode(ctx, n.Output, n.Name, branch.Name, hash); rerr != nil {
			err = fmt.Errorf("registering node %q: %w", n.Name, rerr)
		}
	})
	if err != nil {
		tracing.SetSpanError(span, err)
	}
	return err
}
