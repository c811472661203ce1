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

package plan

import (
	"sync"
	"sync/atomic"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/mutator"
	"github.com/mmtk-go/mmtk/pkg/pagealloc"
	"github.com/mmtk-go/mmtk/pkg/semantics"
	"github.com/mmtk-go/mmtk/pkg/space"
	"github.com/mmtk-go/mmtk/pkg/vm"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

// MatureOccupancyThreshold is the fraction (of reserved mature pages) of
// used mature pages above which a collection is promoted from nursery to
// full-heap, per spec §4.3 "when mature-space residency exceeds a
// threshold, or when forced".
const MatureOccupancyThreshold = 0.8

// GenCopy is the generational copying reference plan (spec §4.3
// "Reference plan B"). A nursery CopySpace plays tospace for young
// allocation between collections and flips to fromspace for the duration
// of every collection's closure (every collection traces the nursery,
// promoting survivors into the mature tospace); a tospace/fromspace pair
// of mature CopySpaces alternate roles across full-heap collections.
type GenCopy struct {
	*CommonPlan

	nursery *space.CopySpace
	mature  [2]*space.CopySpace // mature[toIdx] is tospace, the other is fromspace
	toIdx   atomic.Int32

	nurseryPR pagealloc.Resource
	maturePR  [2]pagealloc.Resource

	nurseryDest *gcCopyAllocator // always targets the current mature tospace (promotion)
	matureDest  *gcCopyAllocator // targets the new tospace during a full collection

	mu         sync.Mutex
	nextGCFull bool
	inNursery  bool

	// gcTrigger runs one collection to completion, wired in by the
	// top-level mmtk package once the scheduler/controller exist (plan
	// itself never imports scheduler, to keep the dependency graph a
	// strict vm <- {plan, scheduler} <- mmtk fan-in). nil until wired,
	// in which case HandlePoll always reports out-of-memory.
	gcTrigger func(tls vm.TLS, forceFull bool) error
}

// SetGCTrigger wires the callback HandlePoll uses to run a collection.
// Called once by mmtk's GCInit after the scheduler/controller are constructed.
func (g *GenCopy) SetGCTrigger(trigger func(tls vm.TLS, forceFull bool) error) {
	g.gcTrigger = trigger
}

// GenCopyConfig bundles the page resources and address ranges GenCopy's
// three CopySpaces occupy.
type GenCopyConfig struct {
	NurseryPR                       pagealloc.Resource
	NurseryStart, NurseryEnd        address.Address
	MaturePR                        [2]pagealloc.Resource
	MatureStart, MatureMid, MatureEnd address.Address
	Model                            vm.ObjectModel

	// ProtectOnRelease and Mmapper wire spec §4.1 "Memory protection":
	// when set, a released mature half is mprotected PROT_NONE until
	// Reacquire restores it ahead of reuse as the new tospace.
	ProtectOnRelease bool
	Mmapper          *vmmap.Mmapper
}

// NewGenCopy constructs a GenCopy plan. The mature address range is split
// in half between the two alternating CopySpace halves.
func NewGenCopy(common *CommonPlan, cfg GenCopyConfig) *GenCopy {
	g := &GenCopy{CommonPlan: common, inNursery: true}
	g.nurseryPR = cfg.NurseryPR
	g.maturePR = cfg.MaturePR

	g.nurseryDest = newGCCopyAllocator(cfg.MaturePR[0])
	g.matureDest = newGCCopyAllocator(cfg.MaturePR[1])

	g.nursery = space.NewCopySpace(space.CopySpaceConfig{
		Name:        "nursery",
		FromSpace:   false,
		Model:       cfg.Model,
		Destination: g.nurseryDest.destination,
	}, cfg.NurseryPR, cfg.NurseryStart, cfg.NurseryEnd)

	g.mature[0] = space.NewCopySpace(space.CopySpaceConfig{
		Name:             "mature-0",
		FromSpace:        false,
		Model:            cfg.Model,
		ProtectOnRelease: cfg.ProtectOnRelease,
		Mmapper:          cfg.Mmapper,
	}, cfg.MaturePR[0], cfg.MatureStart, cfg.MatureMid)

	g.mature[1] = space.NewCopySpace(space.CopySpaceConfig{
		Name:             "mature-1",
		FromSpace:        true,
		Model:            cfg.Model,
		ProtectOnRelease: cfg.ProtectOnRelease,
		Mmapper:          cfg.Mmapper,
	}, cfg.MaturePR[1], cfg.MatureMid, cfg.MatureEnd)
	g.mature[1].SetDestination(g.matureDest.destination)

	g.toIdx.Store(0)
	return g
}

// tospace returns the mature CopySpace currently playing tospace.
func (g *GenCopy) tospace() *space.CopySpace { return g.mature[g.toIdx.Load()] }

// fromspace returns the mature CopySpace currently playing fromspace.
func (g *GenCopy) fromspace() *space.CopySpace { return g.mature[1-g.toIdx.Load()] }

// BindMutator implements Plan: Default/ReadOnly/Code route through a bump
// allocator into the nursery; LargeObject routes straight to LOS.
func (g *GenCopy) BindMutator(tls vm.TLS) *mutator.Mutator {
	allocs := []mutator.Allocator{
		mutator.NewBumpAllocator(tls, g.nurseryPR, g),
		g.LOS,
	}
	var route [semantics.Count()]int
	for i := range route {
		route[i] = 0
	}
	route[semantics.LargeObject] = 1
	return mutator.New(tls, allocs, route, g.postAlloc)
}

// GetAllocatorMapping implements Plan.
func (g *GenCopy) GetAllocatorMapping() [semantics.Count()]mutator.Selector {
	var m [semantics.Count()]mutator.Selector
	for i := range m {
		m[i] = mutator.Selector{Kind: mutator.KindBump, Index: 0}
	}
	m[semantics.LargeObject] = mutator.Selector{Kind: mutator.KindFreeList, Index: 0}
	return m
}

func (g *GenCopy) postAlloc(obj address.ObjectReference, typeRef address.Address, bytes uintptr, sem semantics.Semantic) {}

// HandlePoll implements mutator.PollHandler (spec "page exhaustion
// triggers handle_poll() which may request a GC and re-drive the
// allocation"). It decides the collection kind, runs it synchronously via
// the wired gcTrigger, and returns nil so the allocator retries — or the
// trigger's own bounded-retry OOM error if the heap truly can't recover
// (spec §4.3.2).
func (g *GenCopy) HandlePoll(tls vm.TLS, bytesNeeded uintptr) error {
	g.mu.Lock()
	full := g.matureOccupancyHigh()
	g.nextGCFull = full
	g.mu.Unlock()

	if g.gcTrigger == nil {
		return errOutOfMemory
	}
	return g.gcTrigger(tls, full)
}

func (g *GenCopy) matureOccupancyHigh() bool {
	used := g.tospace().UsedPages() + g.fromspace().UsedPages()
	total := g.tospace().ReservedPages() + g.fromspace().ReservedPages()
	if total == 0 {
		return false
	}
	return float64(used)/float64(total) > MatureOccupancyThreshold
}

// HandleUserCollectionRequest implements Plan.
func (g *GenCopy) HandleUserCollectionRequest(tls vm.TLS, forceFull bool) {
	g.mu.Lock()
	g.nextGCFull = forceFull || g.matureOccupancyHigh()
	g.mu.Unlock()
}

// CollectionPhase implements Plan: Prepare flips fromspace/tospace roles
// for a full collection and resets every space's per-GC state; Release
// reclaims nursery pages en masse and, for a full collection, releases
// the old fromspace.
func (g *GenCopy) CollectionPhase(phase CollectionPhase, tls vm.TLS) {
	switch phase {
	case PhasePrepare:
		g.mu.Lock()
		full := g.nextGCFull
		g.inNursery = !full
		g.mu.Unlock()

		g.nursery.SetFromSpace(true)
		g.nursery.Prepare()
		if full {
			// The current tospace holds every mature object accumulated
			// since the last full collection: it becomes this GC's
			// fromspace. The other (so far unused) half becomes the new
			// tospace that receives the survivors.
			oldIdx := g.toIdx.Load()
			newIdx := 1 - oldIdx
			g.mature[oldIdx].SetFromSpace(true)
			g.mature[oldIdx].SetDestination(g.matureDest.destination)
			g.mature[newIdx].SetFromSpace(false)
			_ = g.mature[newIdx].Reacquire() // no-op unless ProtectOnRelease hardened it last cycle
			g.mature[oldIdx].Prepare()
			g.mature[newIdx].Prepare()
			g.matureDest.rebind(g.maturePR[newIdx])
			g.matureDest.reset()
			g.toIdx.Store(newIdx)
		}
		g.nurseryDest.rebind(g.maturePR[g.toIdx.Load()])
		g.nurseryDest.reset()
		g.CommonPlan.prepare()

	case PhaseRelease:
		g.nursery.Release()
		g.mu.Lock()
		full := !g.inNursery
		g.mu.Unlock()
		if full {
			g.fromspace().Release()
		}
		g.CommonPlan.release()
	}
}

// InNursery implements vm.PlanView.
func (g *GenCopy) InNursery() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inNursery
}

// TraceObject implements vm.PlanView, dispatching obj to whichever space
// owns it.
func (g *GenCopy) TraceObject(obj address.ObjectReference, sem semantics.Semantic, tls vm.TLS) (address.ObjectReference, bool) {
	if obj.IsNull() {
		return address.Null, false
	}
	if ref, first, ok := g.CommonPlan.traceCommon(obj, tls); ok {
		return ref, first
	}
	if g.nursery.InSpace(obj) {
		wasLive := g.nursery.IsLive(obj)
		ref := g.nursery.TraceObject(obj, tls)
		return ref, !wasLive
	}
	for _, ms := range g.mature {
		if ms.InSpace(obj) {
			wasLive := ms.IsLive(obj)
			ref := ms.TraceObject(obj, tls)
			return ref, !wasLive
		}
	}
	// Unknown space: object predates this plan's address ranges (e.g. a
	// VM-binding-managed root outside the heap). Treat as already live.
	return obj, false
}

// IsLive implements Plan.
func (g *GenCopy) IsLive(obj address.ObjectReference) bool {
	if obj.IsNull() {
		return false
	}
	if g.Immortal.InSpace(obj) {
		return g.Immortal.IsLive(obj)
	}
	if g.VMReserved.InSpace(obj) {
		return g.VMReserved.IsLive(obj)
	}
	if g.LOS.InSpace(obj) {
		return g.LOS.IsLive(obj)
	}
	if g.nursery.InSpace(obj) {
		return g.nursery.IsLive(obj)
	}
	for _, ms := range g.mature {
		if ms.InSpace(obj) {
			return ms.IsLive(obj)
		}
	}
	return false
}

// ModifyCheck implements Plan: forbids mutation of an object that is
// mid-forward in a from-space CopySpace this GC.
func (g *GenCopy) ModifyCheck(obj address.ObjectReference) error {
	if g.nursery.IsFromSpace() && g.nursery.InSpace(obj) && !g.nursery.IsLive(obj) {
		return errModifiedForwarded
	}
	if g.fromspace().InSpace(obj) && !g.fromspace().IsLive(obj) {
		return errModifiedForwarded
	}
	return nil
}

// WillNeverMove implements Plan: GenCopy never pins or promotes, so
// CopySpace objects always report false (spec §6.1).
func (g *GenCopy) WillNeverMove(obj address.ObjectReference) bool {
	if g.nursery.InSpace(obj) {
		return false
	}
	for _, ms := range g.mature {
		if ms.InSpace(obj) {
			return false
		}
	}
	return true // immortal, LOS, VM-reserved
}

// GetPagesUsed implements vm.PlanView.
func (g *GenCopy) GetPagesUsed() uintptr {
	return g.nursery.UsedPages() + g.tospace().UsedPages() + g.fromspace().UsedPages() + g.CommonPlan.pagesUsed()
}

// GetTotalPages implements vm.PlanView: the fixed heap reservation, not
// how much of it is currently committed (spec §1 Non-goal ii: "the heap
// occupies a fixed, preconfigured virtual address range").
func (g *GenCopy) GetTotalPages() uintptr {
	return g.nursery.ReservedPages() + g.tospace().ReservedPages() + g.fromspace().ReservedPages() + g.CommonPlan.reservedPages()
}

// Spaces implements Plan.
func (g *GenCopy) Spaces() []space.Space {
	return append([]space.Space{g.nursery, g.mature[0], g.mature[1]}, g.CommonPlan.spaces()...)
}
