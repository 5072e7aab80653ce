// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"context"
	"log"

	"github.com/openwindenergy/opensite/internal/catalogue"
)

// CatalogueTransformer overlays catalogue metadata onto the graph.
// Groups matching a catalogue group receive its title; datasets matching
// a catalogue package receive its title plus the URL and format of the
// best published resource. Sources left without an input and without an
// OSM lineage cannot be built and are flagged.
type CatalogueTransformer struct {
	Model catalogue.Model
}

type catalogueEntry struct {
	title  string
	input  string
	format string
}

func (t *CatalogueTransformer) Transform(_ context.Context, g *Graph) error {
	lookup := t.lookup()
	matched := 0
	g.Walk(func(n *Node) {
		if entry, ok := lookup[n.Name]; ok {
			if entry.title != "" {
				n.Title = entry.title
			}
			if entry.input != "" {
				n.Input = entry.input
				n.Format = entry.format
			}
			matched++
		}

		if n.Title == "" && (n.Type == TypeSource || n.Type == TypeGroup) {
			n.Title = titleCaseSlug(n.Name)
		}
		if n.Type == TypeSource && n.Input == "" {
			if _, ok := g.PropertyFromLineage(n, PropOSM); !ok {
				log.Printf("[WARN] sitegraph: dataset %q has no catalogue resource and no OSM source", n.Name)
			}
		}
	})
	log.Printf("[DEBUG] sitegraph: catalogue matched %d nodes", matched)
	return nil
}

// lookup pivots the catalogue model by slug. Dataset package names and
// group slugs never collide in practice; a dataset entry wins if they do.
func (t *CatalogueTransformer) lookup() map[string]catalogueEntry {
	lookup := make(map[string]catalogueEntry)
	for slug, group := range t.Model {
		if slug != catalogue.DefaultGroup {
			if _, ok := lookup[slug]; !ok {
				lookup[slug] = catalogueEntry{title: group.Title}
			}
		}
		for _, dataset := range group.Datasets {
			entry := catalogueEntry{title: dataset.Title}
			if res := catalogue.ChoosePriorityResource(dataset.Resources, catalogue.Formats); res != nil {
				entry.input = res.URL
				entry.format = res.Format
			}
			lookup[dataset.PackageName] = entry
		}
	}
	return lookup
}
