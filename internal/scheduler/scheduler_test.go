// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openwindenergy/opensite/internal/catalogue"
	"github.com/openwindenergy/opensite/internal/executor"
	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// testScheduler wires a scheduler around a fake executor with small
// fixed pool widths so tests behave the same on any host.
func testScheduler(g *sitegraph.Graph, execute executor.Func) *Scheduler {
	return &Scheduler{
		Graph:    g,
		Params:   &executor.Params{Metadata: executor.NewMetadata()},
		IOWidth:  4,
		CPUWidth: 2,
		Execute:  execute,
	}
}

func TestRunOrdersDependencies(t *testing.T) {
	g := sitegraph.NewGraph()
	branch := g.NewNode("uk-wind")
	g.Root.AddChild(branch)

	imp := g.NewNode("railway-lines")
	imp.Action = sitegraph.ActionImport
	pre := g.NewNode("railway-lines")
	pre.Action = sitegraph.ActionPreprocess
	post := g.NewNode("uk-wind--railway-lines")
	post.Action = sitegraph.ActionPostprocess

	pre.AddChild(imp)
	post.AddChild(pre)
	branch.AddChild(post)

	var mu sync.Mutex
	var order []string
	execute := func(_ context.Context, _ *executor.Params, n *sitegraph.Node) error {
		mu.Lock()
		order = append(order, string(n.Action))
		mu.Unlock()
		return nil
	}

	if err := testScheduler(g, execute).Run(context.Background()); err != nil {
		t.Fatalf("err: %s", err)
	}

	want := []string{"import", "preprocess", "postprocess"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("execution order\n%s", diff)
	}
	g.Walk(func(n *sitegraph.Node) {
		if n.Status != sitegraph.StatusProcessed {
			t.Errorf("node %q finished %s; want processed", n.Name, n.Status)
		}
	})
}

func TestRunSharedWorkOnce(t *testing.T) {
	g := sitegraph.NewGraph()
	branch := g.NewNode("uk-wind")
	g.Root.AddChild(branch)

	gurn := g.NewSharedURN()
	var clones []*sitegraph.Node
	for _, dataset := range []string{"public-roads", "hedgerows"} {
		imp := g.NewNode(dataset)
		imp.Action = sitegraph.ActionImport
		imp.Input = sitegraph.GlobalOutputKey(gurn)

		run := g.NewNode("osm-runner--shared")
		run.Action = sitegraph.ActionRun
		run.GlobalURN = gurn
		clones = append(clones, run)

		imp.AddChild(run)
		branch.AddChild(imp)
	}

	var runs int32
	sched := testScheduler(g, nil)
	sched.Execute = func(_ context.Context, p *executor.Params, n *sitegraph.Node) error {
		if n.Action == sitegraph.ActionRun {
			atomic.AddInt32(&runs, 1)
			p.Metadata.PublishOutput(n, "/build/downloads/osm/osm_config_x.gpkg")
		}
		return nil
	}

	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("err: %s", err)
	}
	if runs != 1 {
		t.Errorf("shared runner executed %d times; want 1", runs)
	}
	for _, clone := range clones {
		if clone.Status != sitegraph.StatusProcessed {
			t.Errorf("clone finished %s; want processed", clone.Status)
		}
		if clone.Output != "/build/downloads/osm/osm_config_x.gpkg" {
			t.Errorf("clone output %q; want the published path", clone.Output)
		}
	}
}

func TestRunFailureStallsDependents(t *testing.T) {
	g := sitegraph.NewGraph()
	branch := g.NewNode("uk-wind")
	g.Root.AddChild(branch)

	imp := g.NewNode("railway-lines")
	imp.Action = sitegraph.ActionImport
	down := g.NewNode("railway-lines")
	down.Action = sitegraph.ActionDownload
	imp.AddChild(down)
	branch.AddChild(imp)

	// An independent sibling must still complete.
	other := g.NewNode("public-roads")
	other.Action = sitegraph.ActionImport
	branch.AddChild(other)

	execute := func(_ context.Context, _ *executor.Params, n *sitegraph.Node) error {
		if n.Action == sitegraph.ActionDownload {
			return errors.New("connection reset")
		}
		return nil
	}

	err := testScheduler(g, execute).Run(context.Background())
	if err == nil {
		t.Fatal("expected error from stalled build")
	}

	if down.Status != sitegraph.StatusFailed {
		t.Errorf("download finished %s; want failed", down.Status)
	}
	// Nothing is known to be wrong with the import itself; it just never
	// became ready.
	if imp.Status != sitegraph.StatusPending {
		t.Errorf("import finished %s; want pending", imp.Status)
	}
	if other.Status != sitegraph.StatusProcessed {
		t.Errorf("independent sibling finished %s; want processed", other.Status)
	}
}

func TestRunStructuralOnly(t *testing.T) {
	g := sitegraph.NewGraph()
	branch := g.NewNode("uk-wind")
	category := g.NewNode("infrastructure")
	branch.AddChild(category)
	g.Root.AddChild(branch)

	execute := func(_ context.Context, _ *executor.Params, n *sitegraph.Node) error {
		t.Errorf("structural node %q was executed", n.Name)
		return nil
	}

	if err := testScheduler(g, execute).Run(context.Background()); err != nil {
		t.Fatalf("err: %s", err)
	}
	for _, n := range []*sitegraph.Node{branch, category} {
		if n.Status != sitegraph.StatusProcessed {
			t.Errorf("node %q finished %s; want processed", n.Name, n.Status)
		}
	}
}

func TestRunCPUPoolBound(t *testing.T) {
	g := sitegraph.NewGraph()
	branch := g.NewNode("uk-wind")
	g.Root.AddChild(branch)
	for i := 0; i < 8; i++ {
		n := g.NewNode("layer")
		n.Action = sitegraph.ActionImport
		branch.AddChild(n)
	}

	var inflight, peak int32
	execute := func(_ context.Context, _ *executor.Params, _ *sitegraph.Node) error {
		cur := atomic.AddInt32(&inflight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return nil
	}

	sched := testScheduler(g, execute)
	if err := sched.Run(context.Background()); err != nil {
		t.Fatalf("err: %s", err)
	}
	if peak > int32(sched.CPUWidth) {
		t.Errorf("peak concurrency %d exceeds CPU pool width %d", peak, sched.CPUWidth)
	}
}

func TestRunCancelled(t *testing.T) {
	g := sitegraph.NewGraph()
	branch := g.NewNode("uk-wind")
	g.Root.AddChild(branch)
	n := g.NewNode("railway-lines")
	n.Action = sitegraph.ActionImport
	branch.AddChild(n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	execute := func(_ context.Context, _ *executor.Params, _ *sitegraph.Node) error {
		t.Error("node executed after cancellation")
		return nil
	}
	err := testScheduler(g, execute).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err: %v; want context.Canceled", err)
	}
	if n.Status != sitegraph.StatusPending {
		t.Errorf("node finished %s; want pending", n.Status)
	}
}

func TestOrderReady(t *testing.T) {
	g := sitegraph.NewGraph()

	newNode := func(name string, action sitegraph.Action, format string) *sitegraph.Node {
		n := g.NewNode(name)
		n.Action = action
		n.Format = format
		return n
	}

	imp := newNode("layer", sitegraph.ActionImport, "")
	small := newNode("small", sitegraph.ActionDownload, catalogue.FormatGPKG)
	big := newNode("big", sitegraph.ActionDownload, catalogue.FormatGPKG)
	extract := newNode("extract", sitegraph.ActionDownload, catalogue.FormatOSM)
	mapping := newNode("mapping", sitegraph.ActionDownload, catalogue.FormatOSMExportYML)

	s := testScheduler(g, nil)
	s.sizes = map[int]int64{
		small.GlobalURN: 1024,
		big.GlobalURN:   1 << 30,
	}

	ready := []*sitegraph.Node{imp, small, big, extract, mapping}
	s.orderReady(ready)

	var got []string
	for _, n := range ready {
		got = append(got, n.Name)
	}
	// Downloads lead, OSM extracts before mapping configs, then by
	// descending size, with non-downloads last.
	want := []string{"extract", "mapping", "big", "small", "layer"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("submission order\n%s", diff)
	}
}
