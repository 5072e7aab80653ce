// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"context"
	"log"
	"path"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/openwindenergy/opensite/internal/catalogue"
)

// OSMExportToolTransformer splices the OSM extraction stack above every
// dataset whose download is an osm-export-tool mapping config. Datasets
// sharing one upstream extract URL share one physical stack:
//
//	import (the original dataset node)
//	└── run (osm-export-tool; produces a gpkg)
//	    ├── concatenate (merges every mapping config for this URL)
//	    │   └── download (the dataset's own mapping config)
//	    └── download (the upstream OSM extract, fetched once)
//
// Each dataset keeps its own copy of the stack so the graph stays a
// tree, but copies share GlobalURNs so the scheduler executes the
// concatenate, extract download and run exactly once per URL. Outputs
// of the shared layers are only known at execution time, so consumers
// reference them through VAR:global_output keys.
type OSMExportToolTransformer struct{}

func (t *OSMExportToolTransformer) Transform(_ context.Context, g *Graph) error {
	// Group the mapping-config downloads by their branch's extract URL.
	groups := map[string][]*Node{}
	var order []string
	g.Walk(func(n *Node) {
		if n.Action != ActionDownload || n.Format != catalogue.FormatOSMExportYML {
			return
		}
		osmURL, ok := g.PropertyFromLineage(n, PropOSM)
		if !ok || osmURL.Type() != cty.String {
			log.Printf("[WARN] sitegraph: mapping config %q has no osm extract URL in its lineage", n.Name)
			return
		}
		url := osmURL.AsString()
		if _, seen := groups[url]; !seen {
			order = append(order, url)
		}
		groups[url] = append(groups[url], n)
	})
	if len(groups) == 0 {
		return nil
	}

	for _, osmURL := range order {
		members := groups[osmURL]
		configs := configOutputs(members)

		// One GlobalURN per physical layer of the stack.
		concatGURN := g.NewSharedURN()
		downGURN := g.NewSharedURN()
		runGURN := g.NewSharedURN()

		for _, member := range members {
			if err := t.spliceStack(g, member, osmURL, configs, concatGURN, downGURN, runGURN); err != nil {
				return err
			}
		}
		log.Printf("[DEBUG] sitegraph: %d datasets share the OSM extraction stack for %q", len(members), osmURL)
	}
	return nil
}

func (t *OSMExportToolTransformer) spliceStack(g *Graph, member *Node, osmURL string, configs []string, concatGURN, downGURN, runGURN int) error {
	base := path.Base(osmURL)
	slug := urlSlug(osmURL)

	concat := g.NewNode("osm-consolidator--" + slug)
	concat.Title = "Concatenate OSM Configs - " + base
	concat.Type = TypeConcatenate
	concat.Action = ActionConcatenate
	concat.GlobalURN = concatGURN
	concat.Inputs = configs
	concat.SetProperty(PropOSM, cty.StringVal(osmURL))

	down := g.NewNode("osm-downloader--" + slug)
	down.Title = "Download OSM Source - " + base
	down.Type = TypeDownload
	down.Action = ActionDownload
	down.GlobalURN = downGURN
	down.Format = catalogue.FormatOSM
	down.Input = osmURL
	down.Output = base
	down.SetProperty(PropOSM, cty.StringVal(osmURL))

	run := g.NewNode("osm-runner--" + slug)
	run.Title = "Run OSM Export Tool - " + base
	run.Type = TypeRun
	run.Action = ActionRun
	run.GlobalURN = runGURN
	run.Input = GlobalOutputKey(concatGURN)
	run.SetProperty(PropOSM, cty.StringVal(osmURL))

	// The dataset above the mapping download becomes the import that
	// reads the runner's gpkg. Its original input was the mapping
	// config filename, which the importer still needs to resolve the
	// layer name.
	importer := g.ParentOf(member)
	if importer == nil {
		log.Printf("[WARN] sitegraph: mapping config %q is not attached to a dataset", member.Name)
		return nil
	}

	if err := g.InsertParent(member, concat); err != nil {
		return err
	}
	if err := g.InsertParent(concat, run); err != nil {
		return err
	}
	run.AddChild(down)

	importer.Action = ActionImport
	importer.SetProperty(PropYML, cty.StringVal(importer.Input))
	importer.SetProperty(PropOSM, cty.StringVal(osmURL))
	importer.Input = GlobalOutputKey(runGURN)
	return nil
}

// configOutputs collects the distinct mapping-config filenames of a
// stack's members, sorted so the concatenated content is stable across
// runs and across the clones that share the work.
func configOutputs(members []*Node) []string {
	seen := map[string]struct{}{}
	var outputs []string
	for _, m := range members {
		if m.Output == "" {
			continue
		}
		if _, dup := seen[m.Output]; dup {
			continue
		}
		seen[m.Output] = struct{}{}
		outputs = append(outputs, m.Output)
	}
	sort.Strings(outputs)
	return outputs
}

// urlSlug renders a URL as a node-name-safe slug.
func urlSlug(rawURL string) string {
	slug := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, slug)
}
