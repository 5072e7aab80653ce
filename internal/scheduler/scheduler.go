// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package scheduler walks the build graph to completion, running node
// executors concurrently under two bounded pools: a wide one for
// I/O-bound actions and a CPU-width one for everything else.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/openwindenergy/opensite/internal/executor"
	"github.com/openwindenergy/opensite/internal/sitegraph"
)

// sweepWait bounds how long a sweep blocks for a completion before
// recomputing the ready set.
const sweepWait = time.Second

// drainGrace bounds how long a cancelled run waits for in-flight
// executors before abandoning them.
const drainGrace = 30 * time.Second

// probeConcurrency caps the parallel HEAD requests of the size probe.
const probeConcurrency = 20

// Scheduler owns one run over one graph. Node statuses are only ever
// mutated from the sweep loop; worker goroutines report through the
// results channel.
type Scheduler struct {
	Graph  *sitegraph.Graph
	Params *executor.Params

	// IOWidth and CPUWidth size the two worker pools.
	IOWidth  int
	CPUWidth int

	// ProbeSizes turns on the pre-submission HEAD probe so large
	// downloads start first.
	ProbeSizes bool

	// Execute runs one node. Tests substitute a fake; a nil value means
	// the real executor dispatch.
	Execute executor.Func

	sizes map[int]int64
}

// New returns a scheduler with pool widths derived from the host:
// I/O-bound work overlaps well beyond the core count, CPU and
// database-bound work does not.
func New(g *sitegraph.Graph, params *executor.Params) *Scheduler {
	return &Scheduler{
		Graph:    g,
		Params:   params,
		IOWidth:  runtime.NumCPU() * 4,
		CPUWidth: runtime.NumCPU(),
		Execute:  executor.Execute,
	}
}

type result struct {
	node *sitegraph.Node
	err  error
}

// Run drives the graph until every node is terminal, the graph stalls,
// or the context is cancelled. A stall (non-terminal nodes that can
// never become ready, usually above a failed dependency) is an error;
// the stalled nodes stay pending and are listed in the log.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Execute == nil {
		s.Execute = executor.Execute
	}
	if s.ProbeSizes {
		s.probeDownloadSizes(ctx)
	}

	ioPool := semaphore.NewWeighted(int64(s.IOWidth))
	cpuPool := semaphore.NewWeighted(int64(s.CPUWidth))
	results := make(chan result)

	inflight := map[int]*sitegraph.Node{}
	inflightGlobal := map[int]struct{}{}

	log.Printf("[INFO] scheduler: starting (%d I/O workers, %d CPU workers)", s.IOWidth, s.CPUWidth)

	for {
		s.completeStructural()

		if done, failed := s.terminalState(); done {
			if failed > 0 {
				return fmt.Errorf("build finished with %d failed nodes", failed)
			}
			log.Printf("[INFO] scheduler: all nodes processed")
			return nil
		}

		if ctx.Err() == nil {
			ready := s.readySet(inflightGlobal)
			s.orderReady(ready)
			for _, node := range ready {
				pool := cpuPool
				if node.Action.IOBound() {
					pool = ioPool
				}
				if !pool.TryAcquire(1) {
					continue
				}
				inflight[node.URN] = node
				inflightGlobal[node.GlobalURN] = struct{}{}
				go func(node *sitegraph.Node, pool *semaphore.Weighted) {
					defer pool.Release(1)
					results <- result{node: node, err: s.Execute(ctx, s.Params, node)}
				}(node, pool)
			}
		}

		if len(inflight) == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.reportStall()
		}

		select {
		case r := <-results:
			delete(inflight, r.node.URN)
			delete(inflightGlobal, r.node.GlobalURN)
			s.resolve(r)
		case <-time.After(sweepWait):
		case <-ctx.Done():
			log.Printf("[WARN] scheduler: cancelled, waiting for %d in-flight executors", len(inflight))
			s.drain(inflight, inflightGlobal, results)
			return ctx.Err()
		}
	}
}

// resolve records a completion and propagates the terminal status to
// every clone sharing the node's GlobalURN, so shared work is never
// executed twice.
func (s *Scheduler) resolve(r result) {
	status := sitegraph.StatusProcessed
	if r.err != nil {
		status = sitegraph.StatusFailed
	}
	for _, clone := range s.Graph.FindByGlobalURN(r.node.GlobalURN) {
		clone.Status = status
		if clone != r.node && status == sitegraph.StatusProcessed && r.node.Output != "" {
			clone.Output = r.node.Output
		}
	}
}

// readySet returns the schedulable nodes: non-terminal, actioned,
// every child processed, and at most one node per GlobalURN across the
// set and the in-flight work.
func (s *Scheduler) readySet(inflightGlobal map[int]struct{}) []*sitegraph.Node {
	seen := map[int]struct{}{}
	var ready []*sitegraph.Node
	s.Graph.Walk(func(n *sitegraph.Node) {
		if n.Status.Terminal() || n.Action == "" {
			return
		}
		if _, busy := inflightGlobal[n.GlobalURN]; busy {
			return
		}
		if _, dup := seen[n.GlobalURN]; dup {
			return
		}
		for _, c := range n.Children {
			if c.Status != sitegraph.StatusProcessed {
				return
			}
		}
		seen[n.GlobalURN] = struct{}{}
		ready = append(ready, n)
	})
	return ready
}

// completeStructural marks action-less nodes (root, branches, plain
// categories) processed once their children are, repeating until no
// more flip since structural nodes nest.
func (s *Scheduler) completeStructural() {
	for {
		changed := false
		s.Graph.Walk(func(n *sitegraph.Node) {
			if n.Action != "" || n.Status.Terminal() {
				return
			}
			for _, c := range n.Children {
				if c.Status != sitegraph.StatusProcessed {
					return
				}
			}
			n.Status = sitegraph.StatusProcessed
			changed = true
		})
		if !changed {
			return
		}
	}
}

// terminalState reports whether every node is terminal, and how many
// failed.
func (s *Scheduler) terminalState() (bool, int) {
	done := true
	failed := 0
	s.Graph.Walk(func(n *sitegraph.Node) {
		if !n.Status.Terminal() {
			done = false
		}
		if n.Status == sitegraph.StatusFailed {
			failed++
		}
	})
	return done, failed
}

// reportStall logs every node that can no longer make progress. Stalled
// nodes keep their pending status: nothing about them is known to be
// wrong, their dependencies just never arrived.
func (s *Scheduler) reportStall() error {
	var stalled []string
	s.Graph.Walk(func(n *sitegraph.Node) {
		if !n.Status.Terminal() {
			stalled = append(stalled, n.Name)
		}
	})
	sort.Strings(stalled)
	for _, name := range stalled {
		log.Printf("[ERROR] scheduler: stalled: %s", name)
	}
	return fmt.Errorf("build stalled with %d unprocessable nodes", len(stalled))
}

// drain waits out in-flight executors after cancellation, bounded by
// drainGrace. Their results still resolve so clone statuses stay
// coherent for the preview render.
func (s *Scheduler) drain(inflight map[int]*sitegraph.Node, inflightGlobal map[int]struct{}, results chan result) {
	deadline := time.After(drainGrace)
	for len(inflight) > 0 {
		select {
		case r := <-results:
			delete(inflight, r.node.URN)
			delete(inflightGlobal, r.node.GlobalURN)
			s.resolve(r)
		case <-deadline:
			log.Printf("[ERROR] scheduler: abandoned %d executors still running at exit", len(inflight))
			return
		}
	}
}
