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

// Package plan implements the pluggable collection strategies of spec
// §4.3: NoGC (no collection, everything immortal) and GenCopy (generational
// copying), both built on a shared CommonPlan of immortal/large-object/
// VM-reserved spaces.
package plan

import (
	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/mutator"
	"github.com/mmtk-go/mmtk/pkg/semantics"
	"github.com/mmtk-go/mmtk/pkg/space"
	"github.com/mmtk-go/mmtk/pkg/vm"
)

// CollectionPhase names the point in a collection's lifecycle a plan is
// being asked to act on (spec §4.3 "collection_phase(phase, tls)").
type CollectionPhase int

const (
	PhasePrepare CollectionPhase = iota
	PhaseRelease
)

// Plan is the capability bundle every collection strategy implements
// (spec §4.3's operation list). It extends vm.PlanView so GC workers and
// the VM binding can hold a Plan through the narrower, cycle-free
// interface.
type Plan interface {
	vm.PlanView

	// BindMutator constructs a fresh Mutator wired to this plan's
	// allocator mapping (spec "bind_mutator(tls) -> Mutator").
	BindMutator(tls vm.TLS) *mutator.Mutator
	// GetAllocatorMapping reports the semantic -> allocator-selector
	// table every bound Mutator is routed through.
	GetAllocatorMapping() [semantics.Count()]mutator.Selector
	// CollectionPhase runs this plan's per-space prepare/release actions.
	CollectionPhase(phase CollectionPhase, tls vm.TLS)
	// HandleUserCollectionRequest services an explicit embedder-requested
	// GC, forcing a full-heap collection when forceFull is set.
	HandleUserCollectionRequest(tls vm.TLS, forceFull bool)
	// IsLive reports whether obj is currently live, dispatching to
	// whichever space owns it. Used by the reference processors' scan
	// (spec §4.6) to judge a candidate's referent without itself tracing
	// it. For a mark/sweep space (LargeObjectSpace, CopySpace) this means
	// "traced so far this GC"; for a non-moving, never-reclaimed space
	// (ImmortalSpace) every resident object is unconditionally live.
	IsLive(obj address.ObjectReference) bool
	// ModifyCheck reports an error if obj is being mutated at a point the
	// plan's invariants forbid (spec §7 kind 3: "mutating a forwarded
	// object mid-GC").
	ModifyCheck(obj address.ObjectReference) error
	// WillNeverMove reports whether obj is guaranteed stable for the rest
	// of the program's life (spec §6.1 "will_never_move").
	WillNeverMove(obj address.ObjectReference) bool
	// Spaces returns every space.Space this plan owns, in no particular
	// order, for diagnostics (is_in_mmtk_spaces, get_pages_used totals).
	Spaces() []space.Space
}
