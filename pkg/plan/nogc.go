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
	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/mutator"
	"github.com/mmtk-go/mmtk/pkg/pagealloc"
	"github.com/mmtk-go/mmtk/pkg/semantics"
	"github.com/mmtk-go/mmtk/pkg/space"
	"github.com/mmtk-go/mmtk/pkg/vm"
)

// NoGC is the reference plan that never collects (spec §4.3 "Reference
// plan A"). Mutator allocation targets a single immortal heap space,
// except LargeObject allocation, which goes to the common LOS;
// collection_phase is a no-op and every object reports will_never_move.
type NoGC struct {
	*CommonPlan

	heap *space.ImmortalSpace
	pr   pagealloc.Resource
}

// NewNoGC constructs a NoGC plan whose heap occupies [start, end) on top
// of pr, sharing common with the immortal/LOS/VM-reserved spaces.
func NewNoGC(common *CommonPlan, pr pagealloc.Resource, start, end address.Address) *NoGC {
	return &NoGC{
		CommonPlan: common,
		heap:       space.NewImmortalSpace("nogc-heap", pr, start, end),
		pr:         pr,
	}
}

// BindMutator implements Plan.
func (p *NoGC) BindMutator(tls vm.TLS) *mutator.Mutator {
	allocs := []mutator.Allocator{
		mutator.NewBumpAllocator(tls, p.pr, p),
		p.LOS,
	}
	route := p.routeTable()
	return mutator.New(tls, allocs, route, p.postAlloc)
}

func (p *NoGC) routeTable() [semantics.Count()]int {
	var route [semantics.Count()]int
	for i := range route {
		route[i] = 0 // everything goes through the bump allocator into the immortal heap
	}
	route[semantics.LargeObject] = 1
	return route
}

// GetAllocatorMapping implements Plan.
func (p *NoGC) GetAllocatorMapping() [semantics.Count()]mutator.Selector {
	var m [semantics.Count()]mutator.Selector
	for i := range m {
		m[i] = mutator.Selector{Kind: mutator.KindBump, Index: 0}
	}
	m[semantics.LargeObject] = mutator.Selector{Kind: mutator.KindFreeList, Index: 0}
	return m
}

func (p *NoGC) postAlloc(obj address.ObjectReference, typeRef address.Address, bytes uintptr, sem semantics.Semantic) {
	// NoGC's mark/forward word is installed by the VM binding itself
	// (spec §4.4 post_alloc); the space's own live-object bookkeeping for
	// LOS is already recorded by AllocatePages at allocation time.
}

// HandlePoll implements mutator.PollHandler: NoGC never collects, so a
// failed refill is unconditionally out-of-memory (spec "allocation never
// triggers collection").
func (p *NoGC) HandlePoll(tls vm.TLS, bytesNeeded uintptr) error {
	return errOutOfMemory
}

// CollectionPhase implements Plan: a no-op, per spec.
func (p *NoGC) CollectionPhase(phase CollectionPhase, tls vm.TLS) {}

// HandleUserCollectionRequest implements Plan: a no-op, since NoGC never
// collects.
func (p *NoGC) HandleUserCollectionRequest(tls vm.TLS, forceFull bool) {}

// InNursery implements vm.PlanView: NoGC has no generations.
func (p *NoGC) InNursery() bool { return false }

// TraceObject implements vm.PlanView. Every NoGC object is immortal.
func (p *NoGC) TraceObject(obj address.ObjectReference, sem semantics.Semantic, tls vm.TLS) (address.ObjectReference, bool) {
	if obj.IsNull() {
		return address.Null, false
	}
	if ref, first, ok := p.CommonPlan.traceCommon(obj, tls); ok {
		return ref, first
	}
	wasTraced := p.heap.Traced(obj)
	return p.heap.TraceObject(obj, tls), !wasTraced
}

// IsLive implements Plan.
func (p *NoGC) IsLive(obj address.ObjectReference) bool {
	if obj.IsNull() {
		return false
	}
	if p.Immortal.InSpace(obj) {
		return p.Immortal.IsLive(obj)
	}
	if p.VMReserved.InSpace(obj) {
		return p.VMReserved.IsLive(obj)
	}
	if p.LOS.InSpace(obj) {
		return p.LOS.IsLive(obj)
	}
	return p.heap.IsLive(obj)
}

// ModifyCheck implements Plan: NoGC objects never move, so mutation is
// always safe.
func (p *NoGC) ModifyCheck(obj address.ObjectReference) error { return nil }

// WillNeverMove implements Plan: true for every NoGC object.
func (p *NoGC) WillNeverMove(obj address.ObjectReference) bool { return true }

// GetPagesUsed implements vm.PlanView.
func (p *NoGC) GetPagesUsed() uintptr { return p.heap.UsedPages() + p.CommonPlan.pagesUsed() }

// GetTotalPages implements vm.PlanView: the fixed heap reservation, not
// how much of it is currently committed (spec §1 Non-goal ii: "the heap
// occupies a fixed, preconfigured virtual address range").
func (p *NoGC) GetTotalPages() uintptr { return p.heap.ReservedPages() + p.CommonPlan.reservedPages() }

// Spaces implements Plan.
func (p *NoGC) Spaces() []space.Space {
	return append([]space.Space{p.heap}, p.CommonPlan.spaces()...)
}
