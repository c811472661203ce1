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
	"testing"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/pagealloc"
	"github.com/mmtk-go/mmtk/pkg/semantics"
	"github.com/mmtk-go/mmtk/pkg/vm"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

const (
	testVMReservedBytes = 4 << 20
	testImmortalBytes   = 16 << 20
	testHeapBytes       = 64 << 20
)

func newTestNoGC(t *testing.T) *NoGC {
	t.Helper()
	layout, err := address.NewLayout(0, testHeapBytes, address.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	mmapper := vmmap.NewMmapper()
	if _, err := mmapper.Reserve(uintptr(layout.HeapEnd.Diff(layout.HeapStart))); err != nil {
		t.Fatal(err)
	}
	vmMap := vmmap.NewVMMap(layout)

	vmReservedEnd := layout.HeapStart.Add(testVMReservedBytes)
	immortalEnd := vmReservedEnd.Add(testImmortalBytes)

	vmReservedPR := pagealloc.NewContiguous("vmreserved", layout.HeapStart, testVMReservedBytes, mmapper)
	immortalPR := pagealloc.NewContiguous("immortal", vmReservedEnd, testImmortalBytes, mmapper)
	losFreeList := pagealloc.NewFreeList("los", layout, vmMap, mmapper)

	common := NewCommonPlan(vmMap, immortalPR, vmReservedPR, losFreeList,
		vmReservedEnd, immortalEnd, layout.HeapStart, vmReservedEnd)

	heapPR := pagealloc.NewContiguous("nogc-heap", immortalEnd, uintptr(layout.HeapEnd.Diff(immortalEnd)), mmapper)
	return NewNoGC(common, heapPR, immortalEnd, layout.HeapEnd)
}

func TestNoGCBindMutatorAllocatesIntoImmortalHeap(t *testing.T) {
	p := newTestNoGC(t)
	mu := p.BindMutator(vm.TLS(1))

	addr, err := mu.Alloc(64, 8, 0, semantics.Default)
	if err != nil {
		t.Fatal(err)
	}
	if addr.IsZero() {
		t.Fatal("Alloc returned a zero address")
	}
}

func TestNoGCHandlePollAlwaysOOM(t *testing.T) {
	p := newTestNoGC(t)
	if err := p.HandlePoll(vm.TLS(0), 1<<20); err == nil {
		t.Fatal("NoGC.HandlePoll must always report out-of-memory")
	}
}

func TestNoGCAllocatedObjectsAreAlwaysLive(t *testing.T) {
	p := newTestNoGC(t)
	mu := p.BindMutator(vm.TLS(1))
	addr, err := mu.Alloc(32, 8, 0, semantics.Default)
	if err != nil {
		t.Fatal(err)
	}
	obj := address.FromAddress(addr)

	// NoGC never collects, so nothing is ever traced — is_live must still
	// report every allocated object live (spec §8 scenario 1).
	if !p.IsLive(obj) {
		t.Fatal("an allocated NoGC object should be live even before any trace")
	}
	_, firstVisit := p.TraceObject(obj, semantics.Default, vm.TLS(1))
	if !firstVisit {
		t.Error("the first TraceObject of a new object should report firstVisit=true")
	}
	if !p.IsLive(obj) {
		t.Error("IsLive should still report true after TraceObject")
	}
	_, secondVisit := p.TraceObject(obj, semantics.Default, vm.TLS(1))
	if secondVisit {
		t.Error("a repeated TraceObject of an already-visited object should report firstVisit=false")
	}
}

func TestNoGCWillNeverMove(t *testing.T) {
	p := newTestNoGC(t)
	obj := address.FromAddress(address.Address(4096))
	if !p.WillNeverMove(obj) {
		t.Error("every NoGC object should report WillNeverMove")
	}
}

func TestNoGCCollectionPhaseIsNoop(t *testing.T) {
	p := newTestNoGC(t)
	mu := p.BindMutator(vm.TLS(1))
	addr, err := mu.Alloc(32, 8, 0, semantics.Default)
	if err != nil {
		t.Fatal(err)
	}
	obj := address.FromAddress(addr)
	p.TraceObject(obj, semantics.Default, vm.TLS(1))

	p.CollectionPhase(PhasePrepare, vm.TLS(0))
	p.CollectionPhase(PhaseRelease, vm.TLS(0))

	if !p.IsLive(obj) {
		t.Error("CollectionPhase must never reclaim a NoGC object")
	}
}
