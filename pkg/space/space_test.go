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

package space

import (
	"testing"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/pagealloc"
	"github.com/mmtk-go/mmtk/pkg/vm"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

// fakeModel is a minimal vm.ObjectModel that never touches real memory:
// CopyTo just relabels the reference, which is enough to exercise the
// CopySpace forwarding protocol without a real heap-backed object layout.
type fakeModel struct{ size uintptr }

func (f fakeModel) Size(address.ObjectReference) uintptr      { return f.size }
func (f fakeModel) Alignment(address.ObjectReference) uintptr { return 8 }
func (f fakeModel) Offset(address.ObjectReference) uintptr    { return 0 }
func (f fakeModel) CopyTo(obj address.ObjectReference, to address.Address) address.ObjectReference {
	return address.FromAddress(to)
}

func newTestMmapper(t *testing.T, size uintptr) *vmmap.Mmapper {
	t.Helper()
	m := vmmap.NewMmapper()
	if _, err := m.Reserve(size); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCopySpaceNonFromSpaceReturnsUnchanged(t *testing.T) {
	mmapper := newTestMmapper(t, 1<<20)
	pr := pagealloc.NewContiguous("to", 0, 64*address.PageSize, mmapper)
	cs := NewCopySpace(CopySpaceConfig{Name: "to", FromSpace: false, Model: fakeModel{size: 32}}, pr, 0, 64*address.PageSize)

	obj := address.FromAddress(address.Address(16))
	if got := cs.TraceObject(obj, vm.TLS(0)); got != obj {
		t.Errorf("a non-fromspace TraceObject should return obj unchanged, got %v", got)
	}
}

func TestCopySpaceForwardsOnce(t *testing.T) {
	mmapper := newTestMmapper(t, 1<<20)
	fromPR := pagealloc.NewContiguous("from", 0, 64*address.PageSize, mmapper)
	toPR := pagealloc.NewContiguous("to", 64*address.PageSize, 64*address.PageSize, mmapper)

	var destCalls int
	dest := func(size, align, offset uintptr) address.Address {
		destCalls++
		addr, err := toPR.AllocatePagesZeroed(1)
		if err != nil {
			t.Fatal(err)
		}
		return addr
	}

	cs := NewCopySpace(CopySpaceConfig{
		Name: "from", FromSpace: true, Model: fakeModel{size: 32}, Destination: dest,
	}, fromPR, 0, 64*address.PageSize)

	obj := address.FromAddress(address.Address(16))
	first := cs.TraceObject(obj, vm.TLS(0))
	second := cs.TraceObject(obj, vm.TLS(0))

	if first != second {
		t.Errorf("tracing the same object twice should yield the same forwarded address: %v != %v", first, second)
	}
	if destCalls != 1 {
		t.Errorf("Destination should only be invoked once per object, called %d times", destCalls)
	}
	if !cs.IsLive(obj) {
		t.Error("a forwarded fromspace object should report live")
	}
}

func TestCopySpaceReleaseClearsFromSpace(t *testing.T) {
	mmapper := newTestMmapper(t, 1<<20)
	pr := pagealloc.NewContiguous("from", 0, 8*address.PageSize, mmapper)
	cs := NewCopySpace(CopySpaceConfig{Name: "from", FromSpace: true, Model: fakeModel{size: 8}}, pr, 0, 8*address.PageSize)
	cs.Release()
	if cs.IsFromSpace() {
		t.Error("Release should clear the fromspace flag")
	}
}

func TestImmortalSpaceIsLiveRegardlessOfTraceState(t *testing.T) {
	mmapper := newTestMmapper(t, 1<<20)
	pr := pagealloc.NewContiguous("immortal", 0, 8*address.PageSize, mmapper)
	is := NewImmortalSpace("immortal", pr, 0, 8*address.PageSize)

	obj := address.FromAddress(address.Address(16))
	// A never-collected space (NoGC) never traces its objects; IsLive
	// must still report true for any resident object.
	if !is.IsLive(obj) {
		t.Fatal("a resident immortal object should be live even before any trace")
	}
	if is.Traced(obj) {
		t.Fatal("Traced should report false before TraceObject has visited obj")
	}

	is.TraceObject(obj, vm.TLS(0))
	if !is.Traced(obj) {
		t.Error("Traced should report true once TraceObject has visited obj")
	}
	if !is.IsLive(obj) {
		t.Fatal("IsLive should still report true after TraceObject")
	}

	is.Release()
	if !is.IsLive(obj) {
		t.Fatal("ImmortalSpace.Release must never clear liveness")
	}
}

func TestLargeObjectSpaceSweepsUnmarked(t *testing.T) {
	layout, err := address.NewLayout(0, 16<<20, address.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	mmapper := newTestMmapper(t, 16<<20)
	vmMap := vmmap.NewVMMap(layout)
	fl := pagealloc.NewFreeList("los", layout, vmMap, mmapper)
	los := NewLargeObjectSpace("los", fl, vmMap)

	addr, err := los.Alloc(address.PageSize, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	obj := address.FromAddress(addr)

	los.Prepare()
	// Object isn't traced this GC: Release should reclaim it.
	los.Release()
	if los.IsLive(obj) {
		t.Fatal("an untraced LOS object should not be marked live after Release")
	}

	addr2, err := los.Alloc(address.PageSize, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	if addr2 != addr {
		t.Errorf("a swept LOS extent should be reused first-fit, got %v want %v", addr2, addr)
	}
}

func TestLargeObjectSpaceRetainsMarked(t *testing.T) {
	layout, err := address.NewLayout(0, 16<<20, address.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	mmapper := newTestMmapper(t, 16<<20)
	vmMap := vmmap.NewVMMap(layout)
	fl := pagealloc.NewFreeList("los", layout, vmMap, mmapper)
	los := NewLargeObjectSpace("los", fl, vmMap)

	addr, err := los.Alloc(address.PageSize, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	obj := address.FromAddress(addr)

	los.Prepare()
	los.TraceObject(obj, vm.TLS(0))
	los.Release()
	if !los.IsLive(obj) {
		t.Fatal("a traced LOS object should survive Release")
	}
}
