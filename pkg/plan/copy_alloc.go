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

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/mutator"
	"github.com/mmtk-go/mmtk/pkg/pagealloc"
	"github.com/mmtk-go/mmtk/pkg/vm"
)

// gcCopyAllocator is the Destination a CopySpace's forwarding trace uses
// to reserve room for a copy (spec §4.1 "copying trace"). Unlike a
// mutator's per-thread BumpAllocator, this one is shared by every GC
// worker tracing concurrently this GC, so it's guarded by a mutex rather
// than assumed thread-local.
//
// Destination has no error return (spec: the copying trace always
// succeeds once a collection has started), so exhaustion here — which
// would mean the destination half was sized too small to hold the source
// half's survivors — panics rather than silently corrupting the heap.
type gcCopyAllocator struct {
	mu   sync.Mutex
	bump *mutator.BumpAllocator
}

func newGCCopyAllocator(pr pagealloc.Resource) *gcCopyAllocator {
	return &gcCopyAllocator{bump: mutator.NewBumpAllocator(vm.TLS(0), pr, nil)}
}

// destination adapts gcCopyAllocator to space.Destination.
func (g *gcCopyAllocator) destination(size, align, offset uintptr) address.Address {
	g.mu.Lock()
	defer g.mu.Unlock()
	addr, err := g.bump.Alloc(size, align, offset)
	if err != nil {
		panic("plan: mature/tospace destination exhausted mid-collection: " + err.Error())
	}
	return addr
}

// reset retires the allocator's reservation tail, called once per GC from
// CollectionPhase(PhasePrepare) before the closure starts.
func (g *gcCopyAllocator) reset() {
	g.mu.Lock()
	g.bump.Flush()
	g.mu.Unlock()
}

// rebind repoints the allocator at a fresh page resource, used when a
// mature half flips role and its page resource is handed to the new
// tospace.
func (g *gcCopyAllocator) rebind(pr pagealloc.Resource) {
	g.mu.Lock()
	g.bump.Rebind(pr)
	g.mu.Unlock()
}
