// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sitegraph

import (
	"context"
	"fmt"
	"log"

	"github.com/zclconf/go-cty/cty"

	"github.com/openwindenergy/opensite/internal/postgis"
)

// SpatialChainTransformer splices the PostGIS processing chain above
// every dataset once acquisition nodes are in place. Reading upward:
//
//	import            file -> raw table
//	(buffer)          raw table -> buffered table, when the dataset asks
//	preprocess        table -> grid-partitioned table
//	(amalgamate)      sibling grids -> one grid, for grouped datasets
//	postprocess       grid -> seam-welded table
//	(clip)            welded table -> clipped table, when an area is set
//	output            final table -> one export file per format
//
// Postprocess, clip and output handles depend on upstream results, so
// those nodes publish their outputs through VAR:global_output keys at
// execution time rather than carrying static table names.
type SpatialChainTransformer struct {
	// ClipArea is the administrative area requested with --clip; empty
	// means no clip step.
	ClipArea string

	// OutputFormats lists the export formats requested for every final
	// layer.
	OutputFormats []string

	// SnapGrid is stamped onto every preprocess node; the executor snaps
	// geometries to the processing grid before partitioning.
	SnapGrid bool
}

func (t *SpatialChainTransformer) Transform(_ context.Context, g *Graph) error {
	for _, branch := range g.Branches() {
		// Imports and preprocess first: collect before mutating.
		var datasets []*Node
		branch.Walk(func(n *Node) {
			if n.Type == TypeSource {
				datasets = append(datasets, n)
			}
		})
		for _, dataset := range datasets {
			if err := t.spliceDataset(g, dataset); err != nil {
				return err
			}
		}

		// Amalgamate groups now hold preprocess children; refresh their
		// input handles and give them their stable output table.
		var groups []*Node
		branch.Walk(func(n *Node) {
			if n.Action == ActionAmalgamate {
				groups = append(groups, n)
			}
		})
		for _, group := range groups {
			t.refreshAmalgamate(group)
		}

		// Finally the output-focused chain above every final layer.
		var tops []*Node
		branch.Walk(func(n *Node) {
			if n.Action == ActionAmalgamate {
				tops = append(tops, n)
				return
			}
			// An ungrouped dataset's chain tops out at its preprocess.
			if n.Action == ActionPreprocess && !t.parentAmalgamates(g, n) {
				tops = append(tops, n)
			}
		})
		for _, top := range tops {
			if err := t.spliceOutputs(g, branch, top); err != nil {
				return err
			}
		}
	}
	return nil
}

// spliceDataset finalizes a dataset's acquisition action and inserts
// its preprocess parent. A buffered dataset is split in two: a new
// import child brings the file into PostGIS and the dataset itself
// becomes the buffer step, so buffering always happens before the grid
// partition.
func (t *SpatialChainTransformer) spliceDataset(g *Graph, dataset *Node) error {
	if dataset.HasProperty(PropBufferValue) {
		imported := g.NewNode(dataset.Name)
		imported.Title = "Import - " + dataset.Title
		imported.Type = TypeImport
		imported.Action = ActionImport
		imported.Format = dataset.Format
		imported.Input = dataset.Input
		imported.Output = postgis.HashedTableName(dataset.Name)
		for _, key := range []string{PropYML, PropOSM} {
			if v, ok := dataset.Property(key); ok {
				imported.SetProperty(key, v)
			}
		}
		imported.Children = dataset.Children

		value := dataset.PropertyString(PropBufferValue)
		dataset.Action = ActionBuffer
		dataset.Input = imported.Output
		dataset.Output = postgis.HashedTableName(fmt.Sprintf("%s--buffer-%s", dataset.Name, value))
		dataset.Children = []*Node{imported}
		log.Printf("[TRACE] sitegraph: dataset %q split into import and %sm buffer", dataset.Name, value)
	} else if dataset.Action == "" || dataset.Action == ActionImport {
		dataset.Action = ActionImport
		dataset.Type = TypeSource
	}

	pre := g.NewNode(dataset.Name)
	pre.Title = "Preprocess - " + dataset.Title
	pre.Type = TypeProcess
	pre.Action = ActionPreprocess
	pre.Input = dataset.Output
	pre.Output = postgis.HashedTableName(dataset.Output + "--preprocess")
	if t.SnapGrid {
		pre.SetProperty(PropSnapGrid, cty.True)
	}
	return g.InsertParent(dataset, pre)
}

// refreshAmalgamate points a group at its children's grid-partitioned
// tables and derives the group's own output table from them.
func (t *SpatialChainTransformer) refreshAmalgamate(group *Node) {
	handles := make([]cty.Value, 0, len(group.Children))
	joined := ""
	for _, c := range group.Children {
		if c.Output == "" {
			continue
		}
		handles = append(handles, cty.StringVal(c.Output))
		joined += c.Output + "--"
	}
	group.SetProperty(PropChildren, cty.TupleVal(handles))
	group.Output = postgis.HashedTableName(joined + "amalgamate")
}

func (t *SpatialChainTransformer) parentAmalgamates(g *Graph, n *Node) bool {
	p := g.ParentOf(n)
	return p != nil && p.Action == ActionAmalgamate
}

// spliceOutputs builds the output-focused chain above one final layer:
// postprocess, then clip when an area was requested, then one export
// node per format. Output-focused nodes carry "<branch>--<layer>" names
// so their executors can recover the owning branch for registration.
func (t *SpatialChainTransformer) spliceOutputs(g *Graph, branch, top *Node) error {
	layer := top.Name
	outputName := branch.Name + "--" + layer

	// Output-focused executors register the tables they derive, which
	// needs the branch hash at execution time.
	hash := branch.PropertyString(PropHash)

	post := g.NewNode(outputName)
	post.Title = "Postprocess - " + top.Title
	post.Type = TypeProcess
	post.Action = ActionPostprocess
	post.Input = top.Output
	post.SetProperty(PropHash, cty.StringVal(hash))
	if err := g.InsertParent(top, post); err != nil {
		return err
	}

	table := post
	if t.ClipArea != "" {
		clip := g.NewNode(outputName)
		clip.Title = fmt.Sprintf("Clip - %s - %s", top.Title, t.ClipArea)
		clip.Type = TypeProcess
		clip.Action = ActionClip
		clip.Input = GlobalOutputKey(post.GlobalURN)
		clip.SetProperty(PropClip, cty.StringVal(t.ClipArea))
		clip.SetProperty(PropHash, cty.StringVal(hash))
		if err := g.InsertParent(post, clip); err != nil {
			return err
		}
		table = clip
	}

	// Export nodes are chained rather than fanned out so the tree shape
	// holds; an export never modifies its input table, so the ordering
	// between formats is irrelevant.
	under := table
	for _, format := range t.OutputFormats {
		out := g.NewNode(outputName)
		out.Title = fmt.Sprintf("Output - %s - %s", top.Title, format)
		out.Type = TypeOutput
		out.Action = ActionOutput
		out.Format = format
		out.Input = GlobalOutputKey(table.GlobalURN)
		out.Output = layer + "." + format
		if err := g.InsertParent(under, out); err != nil {
			return err
		}
		under = out
	}
	return nil
}
