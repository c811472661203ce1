// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmtk

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/mutator"
	"github.com/mmtk-go/mmtk/pkg/plan"
	"github.com/mmtk-go/mmtk/pkg/scheduler"
	"github.com/mmtk-go/mmtk/pkg/semantics"
	"github.com/mmtk-go/mmtk/pkg/vm"
)

// activePlanView adapts *MMTK to vm.ActivePlan, letting GC workers reach
// the current plan without the scheduler package importing plan directly
// (spec §4.7 "ActivePlan... used to break the plan-generic cycle").
type activePlanView struct{ m *MMTK }

func (a activePlanView) Plan() vm.PlanView { return a.m.plan }

// watchdogPause is the stop-the-world duration past which the controller
// pings systemd's watchdog from its Releasing state, so a long pause
// isn't mistaken for a hang (SPEC_FULL §4.8).
const watchdogPause = 2 * time.Second

// errStillExhausted and errOutOfMemory are triggerGC's internal retry/
// failure signals (spec §4.3.2, §7 kind 1).
var errStillExhausted = errors.New("mmtk: heap still exhausted after collection")
var errOutOfMemory = errors.New("mmtk: out of memory")

// HandleUserCollectionRequest implements spec §6
// "handle_user_collection_request(mmtk, tls)": an explicit embedder-
// requested GC. Concurrent requests coalesce (spec §5 "a request issued
// while GC is in progress returns once the in-flight GC completes"; §8
// boundary "no second GC is triggered").
func (m *MMTK) HandleUserCollectionRequest(tls vm.TLS, forceFull bool) {
	m.plan.HandleUserCollectionRequest(tls, forceFull)
	_ = m.triggerGC(tls, forceFull)
}

// triggerGC is the callback wired into the plan's HandlePoll (GenCopy)
// and called directly by HandleUserCollectionRequest. It coalesces
// concurrent callers onto a single in-flight collection and retries a
// bounded number of times (SPEC_FULL §4.3.2) before reporting
// out-of-memory to the VM binding.
func (m *MMTK) triggerGC(tls vm.TLS, forceFull bool) error {
	m.gcMu.Lock()
	if m.collecting.Load() {
		for m.collecting.Load() {
			m.gcCond.Wait()
		}
		m.gcMu.Unlock()
		return nil
	}
	m.collecting.Store(true)
	m.gcMu.Unlock()

	defer func() {
		m.gcMu.Lock()
		m.collecting.Store(false)
		m.gcCond.Broadcast()
		m.gcMu.Unlock()
	}()

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	attempt := 0
	err := backoff.Retry(func() error {
		full := forceFull || attempt > 0 // escalate to full-heap on retry
		attempt++
		m.runOneGC(tls, full)
		if m.plan.GetPagesUsed() < m.plan.GetTotalPages() {
			return nil
		}
		return errStillExhausted
	}, b)
	if err != nil {
		m.log.Warn("out of memory after bounded GC retries")
		m.binding.Collection.OutOfMemory(tls)
		return errOutOfMemory
	}
	return nil
}

// runOneGC drives a single stop-the-world collection to completion: stop
// mutators, flush their TLABs and write-barrier buffers, run
// Prepare/Closure/Release through the controller, resume mutators.
func (m *MMTK) runOneGC(tls vm.TLS, full bool) {
	if full {
		// The plan reads its next-collection kind at PhasePrepare; escalate
		// it so this collection covers the whole heap.
		m.plan.HandleUserCollectionRequest(tls, true)
	}
	start := time.Now()
	m.binding.Collection.StopAllMutators(tls)

	m.mu.Lock()
	mutators := make([]*mutator.Mutator, 0, len(m.mutators))
	for _, mu := range m.mutators {
		mutators = append(mutators, mu)
	}
	m.mu.Unlock()

	for _, mu := range mutators {
		mu.Flush()
	}

	m.plan.CollectionPhase(plan.PhasePrepare, tls)

	m.controller.RunGC(
		nil, // Prepare queue: space-level prepare already run synchronously above
		func(s *scheduler.Scheduler) { m.seedClosure(s, tls, mutators) },
		func(s *scheduler.Scheduler) {
			s.Enqueue(scheduler.Release, scheduler.PacketFunc(func(w *scheduler.Worker, s *scheduler.Scheduler) {
				m.refs.Scan(refTrace{m, tls}, false, nil)
			}))
		},
	)

	m.plan.CollectionPhase(plan.PhaseRelease, tls)

	if time.Since(start) > watchdogPause {
		daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	}
	m.binding.Collection.ResumeMutators(tls)
}

// seedClosure enqueues the initial Closure-queue work for one collection:
// the VM binding's static/global/thread roots, each mutator's own thread
// roots, and every mutator's drained write-barrier buffers (spec §4.4
// "Buffers flush into the scheduler at GC start").
func (m *MMTK) seedClosure(s *scheduler.Scheduler, tls vm.TLS, mutators []*mutator.Mutator) {
	roots := append([]vm.Edge{}, m.binding.Scanning.ComputeStaticRoots(tls)...)
	roots = append(roots, m.binding.Scanning.ComputeGlobalRoots(tls)...)
	if len(roots) > 0 {
		s.Enqueue(scheduler.Closure, &scheduler.ProcessEdges{Edges: roots, Roots: true, OverwriteReference: true, TLS: tls})
	}

	for _, mu := range mutators {
		threadRoots := m.binding.Scanning.ComputeThreadRoots(mu.TLS())
		if len(threadRoots) > 0 {
			s.Enqueue(scheduler.Closure, &scheduler.ProcessEdges{Edges: threadRoots, Roots: true, OverwriteReference: true, TLS: mu.TLS()})
		}
		_, edges := mu.DrainModifiedBuffers()
		if len(edges) > 0 {
			s.Enqueue(scheduler.Closure, &scheduler.ProcessEdges{Edges: edges, Roots: false, OverwriteReference: true, TLS: mu.TLS()})
		}
	}
}

// refTrace adapts *MMTK to refproc.Trace for the release-phase reference
// scan (spec §4.6).
type refTrace struct {
	m   *MMTK
	tls vm.TLS
}

// IsLive implements refproc.Trace.
func (r refTrace) IsLive(obj address.ObjectReference) bool {
	return r.m.plan.IsLive(obj)
}

// Trace implements refproc.Trace.
func (r refTrace) Trace(obj address.ObjectReference) address.ObjectReference {
	ref, _ := r.m.plan.TraceObject(obj, semantics.Default, r.tls)
	return ref
}
