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

// Package vm defines the VM-binding capability bundle (spec §4.7): the
// surface a host language runtime implements so mmtk-go can allocate,
// trace, and collect its heap without knowing anything about the runtime's
// object layout, stacks, or threading model.
package vm

import (
	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/semantics"
)

// TLS identifies a VM thread (mutator or GC worker) from the embedder's
// perspective. It is opaque to the core — only the VM binding interprets
// it (e.g. to find the thread's register file for stack scanning).
type TLS uintptr

// Edge is a memory slot that holds an ObjectReference.
type Edge address.Address

// Trace is the transitive-closure callback threaded through tracing and
// object scanning (spec §4.1 "tracing contract", §4.5 "ScanObjects...
// emits further edges by calling back into the packet's process_edge").
// A VM binding's ScanObject implementation calls ProcessEdge once per
// outgoing field it finds; the packet on the other end loads the current
// reference, traces it, and (unless suppressed) writes the updated
// reference back into the same slot.
type Trace interface {
	ProcessEdge(e Edge)
}

// ObjectModel is the VM binding's object-header accessor.
type ObjectModel interface {
	// Size returns obj's payload size in bytes, excluding any header the
	// core manages itself (forwarding word, mark bit).
	Size(obj address.ObjectReference) uintptr
	// Alignment and Offset report obj's required placement, consulted by
	// the copying trace when it picks a destination address.
	Alignment(obj address.ObjectReference) uintptr
	Offset(obj address.ObjectReference) uintptr
	// CopyTo copies obj's payload into the (already reserved) destination
	// and returns the ObjectReference for the new location.
	CopyTo(obj address.ObjectReference, to address.Address) address.ObjectReference
}

// Scanning is the VM binding's capability for enumerating roots and
// object-internal edges.
type Scanning interface {
	ScanObject(trace Trace, obj address.ObjectReference, tls TLS)
	ComputeStaticRoots(tls TLS) []Edge
	ComputeGlobalRoots(tls TLS) []Edge
	ComputeThreadRoots(tls TLS) []Edge
	ScanThreadRoot(mutatorTLS TLS, trace Trace)
	SupportsReturnBarrier() bool
}

// Collection is the VM binding's capability for stopping, resuming, and
// spawning VM threads around a collection pause.
type Collection interface {
	StopAllMutators(tls TLS)
	ResumeMutators(tls TLS)
	BlockForGC(tls TLS)
	SpawnWorkerThread(tls TLS, run func())
	PrepareMutator(tls TLS)
	OutOfMemory(tls TLS)
}

// PlanView is the subset of Plan state a GC worker or the VM binding needs
// without importing package plan directly — package plan depends on
// package vm (for the Binding capabilities), so the reverse dependency
// would be a cycle. plan.Plan implements PlanView.
type PlanView interface {
	// TraceObject returns obj's (possibly forwarded) reference and reports
	// whether this is the first time obj was visited this GC — the signal
	// ProcessEdges/ScanObjects use to decide whether to enqueue obj for
	// further scanning (spec §4.1 "enqueue the target for scanning if
	// first-visited").
	TraceObject(obj address.ObjectReference, sem semantics.Semantic, tls TLS) (ref address.ObjectReference, firstVisit bool)
	InNursery() bool
	GetPagesUsed() uintptr
	GetTotalPages() uintptr
}

// ActivePlan hands GC workers and the VM binding a read-only view of the
// process-wide plan (spec §4.7 "used to break the plan-generic cycle
// without threading plan parameters through every packet").
type ActivePlan interface {
	Plan() PlanView
}

// Binding bundles the full VM-binding capability set an embedder supplies
// to mmtk.New. It carries no ActivePlan: the core builds that view itself
// after the plan is constructed and hands it to the scheduler.
type Binding struct {
	ObjectModel ObjectModel
	Scanning    Scanning
	Collection  Collection
}
