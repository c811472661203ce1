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
	"testing"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/pagealloc"
	"github.com/mmtk-go/mmtk/pkg/semantics"
	"github.com/mmtk-go/mmtk/pkg/vm"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

func newTestMmapper(t *testing.T, size uintptr) *vmmap.Mmapper {
	t.Helper()
	m := vmmap.NewMmapper()
	if _, err := m.Reserve(size); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestBumpAllocatorZeroSizeSentinel(t *testing.T) {
	mmapper := newTestMmapper(t, 1<<20)
	pr := pagealloc.NewContiguous("t", 0, 64*address.PageSize, mmapper)
	b := NewBumpAllocator(vm.TLS(0), pr, nil)

	a, err := b.Alloc(0, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	if a.IsZero() {
		t.Error("a size-0 allocation must return a non-null sentinel")
	}
}

func TestBumpAllocatorRefillsAndAligns(t *testing.T) {
	mmapper := newTestMmapper(t, 1<<20)
	pr := pagealloc.NewContiguous("t", 0, 64*address.PageSize, mmapper)
	b := NewBumpAllocator(vm.TLS(0), pr, nil)

	a, err := b.Alloc(16, 16, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !a.IsAligned(16) {
		t.Errorf("Alloc(16,16,0) = %v, not 16-aligned", a)
	}

	a2, err := b.Alloc(16, 16, 0)
	if err != nil {
		t.Fatal(err)
	}
	if a2 == a {
		t.Error("consecutive allocations must not alias")
	}
}

type pollCounter struct{ calls int }

func (p *pollCounter) HandlePoll(tls vm.TLS, bytesNeeded uintptr) error {
	p.calls++
	return nil
}

func TestBumpAllocatorExhaustionInvokesPoll(t *testing.T) {
	mmapper := newTestMmapper(t, 1<<20)
	// A range smaller than the allocator's minimum refill chunk (32 pages)
	// guarantees the first refill attempt fails outright.
	pr := pagealloc.NewContiguous("t", 0, 4*address.PageSize, mmapper)
	poll := &pollCounter{}
	b := NewBumpAllocator(vm.TLS(0), pr, poll)

	if _, err := b.Alloc(1, 8, 0); err == nil {
		t.Fatal("expected an error once the page resource and the poll handler are both exhausted")
	}
	if poll.calls == 0 {
		t.Error("expected HandlePoll to be invoked on refill failure")
	}
}

func TestBumpAllocatorFlushResets(t *testing.T) {
	mmapper := newTestMmapper(t, 1<<20)
	pr := pagealloc.NewContiguous("t", 0, 64*address.PageSize, mmapper)
	b := NewBumpAllocator(vm.TLS(0), pr, nil)
	if _, err := b.Alloc(16, 8, 0); err != nil {
		t.Fatal(err)
	}
	b.Flush()
	if !b.cursor.IsZero() || !b.limit.IsZero() {
		t.Error("Flush should reset cursor and limit to zero")
	}
}

func TestFreeListAllocatorRejectsOverlargeAlignment(t *testing.T) {
	layout, err := address.NewLayout(0, 16<<20, address.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	mmapper := newTestMmapper(t, 16<<20)
	vmMap := vmmap.NewVMMap(layout)
	fl := pagealloc.NewFreeList("los", layout, vmMap, mmapper)
	a := NewFreeListAllocator(fl)

	if _, err := a.Alloc(address.PageSize, 2*address.PageSize, 0); err == nil {
		t.Fatal("expected rejection of an alignment larger than a page")
	}
}

func TestMutatorRoutesBySemantic(t *testing.T) {
	bumpPR := pagealloc.NewContiguous("default", 0, 64*address.PageSize, newTestMmapper(t, 1<<20))
	bump := NewBumpAllocator(vm.TLS(0), bumpPR, nil)

	layout, err := address.NewLayout(0, 16<<20, address.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	vmMap := vmmap.NewVMMap(layout)
	fl := pagealloc.NewFreeList("los", layout, vmMap, newTestMmapper(t, 16<<20))
	losAlloc := NewFreeListAllocator(fl)

	var route [semantics.Count()]int
	route[semantics.Default] = 0
	route[semantics.LargeObject] = 1

	var postCalls int
	post := func(obj address.ObjectReference, typeRef address.Address, bytes uintptr, sem semantics.Semantic) {
		postCalls++
	}

	mu := New(vm.TLS(1), []Allocator{bump, losAlloc}, route, post)

	addr, err := mu.Alloc(16, 8, 0, semantics.Default)
	if err != nil {
		t.Fatal(err)
	}
	mu.PostAlloc(address.FromAddress(addr), 0, 16, semantics.Default)
	if postCalls != 1 {
		t.Errorf("PostAlloc hook invoked %d times, want 1", postCalls)
	}

	if _, err := mu.Alloc(address.PageSize, 8, 0, semantics.LargeObject); err != nil {
		t.Fatal(err)
	}

	// An unbound semantic (Code has no route entry, defaults to index 0)
	// still routes somewhere valid rather than erroring.
	if _, err := mu.Alloc(8, 8, 0, semantics.Code); err != nil {
		t.Fatal(err)
	}
}

func TestMutatorPostAllocSkipsZeroSize(t *testing.T) {
	var calls int
	post := func(obj address.ObjectReference, typeRef address.Address, bytes uintptr, sem semantics.Semantic) {
		calls++
	}
	mu := New(vm.TLS(0), nil, [semantics.Count()]int{}, post)
	mu.PostAlloc(address.Null, 0, 0, semantics.Default)
	if calls != 0 {
		t.Error("PostAlloc must be a no-op for a size-0 allocation")
	}
}

func TestMutatorBarrierOnlyBuffersMatureToNursery(t *testing.T) {
	mu := New(vm.TLS(0), nil, [semantics.Count()]int{}, nil)
	src := address.FromAddress(address.Address(4096))
	target := address.FromAddress(address.Address(8192))

	mu.Barrier(src, vm.Edge(4104), target, false)
	nodes, edges := mu.DrainModifiedBuffers()
	if len(nodes) != 0 || len(edges) != 0 {
		t.Fatal("Barrier must not buffer a store that isn't mature-to-nursery")
	}

	mu.Barrier(src, vm.Edge(4104), target, true)
	nodes, edges = mu.DrainModifiedBuffers()
	if len(nodes) != 1 || len(edges) != 1 {
		t.Fatalf("expected one buffered node/edge, got %d/%d", len(nodes), len(edges))
	}

	// DrainModifiedBuffers empties the buffers.
	nodes, edges = mu.DrainModifiedBuffers()
	if len(nodes) != 0 || len(edges) != 0 {
		t.Fatal("DrainModifiedBuffers should empty the buffers on each call")
	}
}

func TestMutatorFlushDelegatesToAllAllocators(t *testing.T) {
	mmapper := newTestMmapper(t, 1<<20)
	pr := pagealloc.NewContiguous("default", 0, 64*address.PageSize, mmapper)
	bump := NewBumpAllocator(vm.TLS(0), pr, nil)
	if _, err := bump.Alloc(16, 8, 0); err != nil {
		t.Fatal(err)
	}

	mu := New(vm.TLS(0), []Allocator{bump}, [semantics.Count()]int{}, nil)
	mu.Flush()
	if !bump.cursor.IsZero() {
		t.Error("Mutator.Flush should flush every bound allocator")
	}
}
