// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/openwindenergy/opensite/internal/catalogue"
	"github.com/openwindenergy/opensite/internal/executor"
	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// probeDownloadSizes HEAD-probes every download URL so that submission
// can start the biggest transfers first. Best effort: a failed probe
// just leaves that download unsized.
func (s *Scheduler) probeDownloadSizes(ctx context.Context) {
	type target struct {
		gurn int
		url  string
	}
	seen := map[int]struct{}{}
	var targets []target
	s.Graph.Walk(func(n *sitegraph.Node) {
		if n.Action != sitegraph.ActionDownload || n.Status.Terminal() {
			return
		}
		if _, dup := seen[n.GlobalURN]; dup {
			return
		}
		seen[n.GlobalURN] = struct{}{}
		targets = append(targets, target{gurn: n.GlobalURN, url: n.Input})
	})
	if len(targets) == 0 {
		return
	}

	log.Printf("[INFO] scheduler: probing %d download sizes", len(targets))

	var mu sync.Mutex
	sizes := make(map[int]int64, len(targets))
	sem := semaphore.NewWeighted(probeConcurrency)
	var wg sync.WaitGroup
	for _, t := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			defer sem.Release(1)
			n, err := executor.ProbeSize(ctx, s.Params, t.url)
			if err != nil || n < 0 {
				return
			}
			mu.Lock()
			sizes[t.gurn] = n
			mu.Unlock()
		}(t)
	}
	wg.Wait()
	s.sizes = sizes
}

// orderReady sorts the ready set into submission order: downloads
// first, then by format priority so the extracts everything waits on
// lead, then biggest first so long transfers overlap the most work.
// Without probed sizes the sort still front-loads downloads.
func (s *Scheduler) orderReady(ready []*sitegraph.Node) {
	rank := func(n *sitegraph.Node) (int, int, int64) {
		class := 1
		if n.Action == sitegraph.ActionDownload {
			class = 0
		}
		priority := len(catalogue.DownloadsPriority)
		for i, f := range catalogue.DownloadsPriority {
			if f == n.Format {
				priority = i
				break
			}
		}
		return class, priority, -s.sizes[n.GlobalURN]
	}
	sort.SliceStable(ready, func(i, j int) bool {
		ci, pi, si := rank(ready[i])
		cj, pj, sj := rank(ready[j])
		if ci != cj {
			return ci < cj
		}
		if pi != pj {
			return pi < pj
		}
		return si < sj
	})
}
