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

package mutator

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/semantics"
	"github.com/mmtk-go/mmtk/pkg/vm"
)

// PostAllocHook installs per-object metadata after an allocation succeeds
// (spec §4.4 "post_alloc"): a mark bit, forwarding word initialized to
// Unforwarded, and for LOS the space's live-object set entry.
type PostAllocHook func(obj address.ObjectReference, typeRef address.Address, bytes uintptr, sem semantics.Semantic)

// Mutator is the per-mutator-thread bundle of spec §3 "Mutator": a small
// vector of allocators indexed by allocation semantic, plus the modified-
// object/edge buffers the generational write barrier appends to.
//
// A Mutator is created on VM thread attach and destroyed on detach; it is
// never shared between threads (spec §3 Mutator "Lifecycle").
type Mutator struct {
	ID uuid.UUID

	tls     vm.TLS
	route   [semantics.Count()]int // semantic -> index into allocators
	allocs  []Allocator
	post    PostAllocHook

	mu             sync.Mutex
	modifiedNodes  []address.ObjectReference
	modifiedEdges  []vm.Edge
}

// New constructs a Mutator. allocators and route together implement spec
// §4.3's "Plan's allocator mapping": route[sem] indexes into allocators.
func New(tls vm.TLS, allocators []Allocator, route [semantics.Count()]int, post PostAllocHook) *Mutator {
	return &Mutator{
		ID:     uuid.New(),
		tls:    tls,
		route:  route,
		allocs: allocators,
		post:   post,
	}
}

// TLS returns the VM thread this Mutator is bound to.
func (m *Mutator) TLS() vm.TLS { return m.tls }

func (m *Mutator) allocatorFor(sem semantics.Semantic) (Allocator, error) {
	sem = semantics.Normalize(sem)
	idx := m.route[sem]
	if idx < 0 || idx >= len(m.allocs) {
		return nil, errors.Errorf("mutator: no allocator bound for semantic %s", sem)
	}
	return m.allocs[idx], nil
}

// Alloc implements spec §4.4 "alloc": delegates to the allocator selected
// by sem.
func (m *Mutator) Alloc(size, align, offset uintptr, sem semantics.Semantic) (address.Address, error) {
	a, err := m.allocatorFor(sem)
	if err != nil {
		return 0, err
	}
	return a.Alloc(size, align, offset)
}

// PostAlloc implements spec §4.4 "post_alloc".
func (m *Mutator) PostAlloc(obj address.ObjectReference, typeRef address.Address, bytes uintptr, sem semantics.Semantic) {
	if bytes == 0 {
		return // spec §8 boundary: post_alloc is a no-op for a size-0 allocation.
	}
	if m.post != nil {
		m.post(obj, typeRef, bytes, semantics.Normalize(sem))
	}
}

// Flush implements spec §4.4 "flush": retires every allocator's retained
// reservation, used before GC so the owning spaces' page accounting is
// exact.
func (m *Mutator) Flush() {
	for _, a := range m.allocs {
		a.Flush()
	}
}

// Barrier implements spec §4.4's generational write barrier: runtimes call
// it on any reference store where src resides in mature space and target
// resides in nursery. inMatureAndNurseryTarget is supplied by the caller
// (typically the plan, which knows which spaces are nursery/mature)
// because the mutator itself has no notion of space membership.
func (m *Mutator) Barrier(src address.ObjectReference, slot vm.Edge, target address.ObjectReference, inMatureAndNurseryTarget bool) {
	if !inMatureAndNurseryTarget {
		return
	}
	m.mu.Lock()
	m.modifiedNodes = append(m.modifiedNodes, src)
	m.modifiedEdges = append(m.modifiedEdges, slot)
	m.mu.Unlock()
}

// DrainModifiedBuffers empties and returns the accumulated write-barrier
// buffers, for the scheduler to fold into the closure's root set at GC
// start (spec §4.4 "Buffers flush into the scheduler at GC start").
func (m *Mutator) DrainModifiedBuffers() ([]address.ObjectReference, []vm.Edge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nodes, edges := m.modifiedNodes, m.modifiedEdges
	m.modifiedNodes, m.modifiedEdges = nil, nil
	return nodes, edges
}
