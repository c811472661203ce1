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

package pagealloc

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

func newTestMmapper(t *testing.T, size uintptr) *vmmap.Mmapper {
	t.Helper()
	m := vmmap.NewMmapper()
	_, err := m.Reserve(size)
	assert.NilError(t, err)
	return m
}

func TestMonotoneContiguousExhaustion(t *testing.T) {
	mmapper := newTestMmapper(t, 1<<20)
	mono := NewContiguous("test", 0, 8*address.PageSize, mmapper)

	addr, err := mono.AllocatePagesZeroed(4)
	assert.NilError(t, err)
	assert.Equal(t, addr, address.Address(0))
	assert.Equal(t, mono.UsedPages(), uintptr(4))

	if _, err := mono.AllocatePagesZeroed(8); err == nil {
		t.Fatal("expected exhaustion error allocating past the fixed range")
	}

	mono.ReleaseAll()
	assert.Equal(t, mono.UsedPages(), uintptr(0))

	addr2, err := mono.AllocatePagesZeroed(4)
	assert.NilError(t, err)
	assert.Equal(t, addr2, address.Address(0), "ReleaseAll should reset the cursor to the fixed base")
}

func TestMonotoneDiscontiguousGrows(t *testing.T) {
	mmapper := newTestMmapper(t, 16<<20)
	layout, err := address.NewLayout(0, 16<<20, address.DefaultChunkSize)
	assert.NilError(t, err)
	vm := vmmap.NewVMMap(layout)

	mono := NewDiscontiguous("nursery", layout, vm, mmapper)
	_, err = mono.AllocatePagesZeroed(1)
	assert.NilError(t, err)
	assert.Equal(t, mono.ReservedPages(), uintptr(0), "AllocatePagesZeroed alone doesn't bump ReservedPages")

	if _, err := mono.ReservePages(10); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, mono.ReservedPages(), uintptr(10))
}

func TestFreeListReuseAfterRelease(t *testing.T) {
	mmapper := newTestMmapper(t, 16<<20)
	layout, err := address.NewLayout(0, 16<<20, address.DefaultChunkSize)
	assert.NilError(t, err)
	vm := vmmap.NewVMMap(layout)

	fl := NewFreeList("los", layout, vm, mmapper)
	a, err := fl.AllocatePagesZeroed(2)
	assert.NilError(t, err)
	b, err := fl.AllocatePagesZeroed(2)
	assert.NilError(t, err)
	assert.Assert(t, a != b)

	fl.ReleasePages(a, 2)
	assert.Equal(t, fl.UsedPages(), uintptr(2))

	c, err := fl.AllocatePagesZeroed(2)
	assert.NilError(t, err)
	assert.Equal(t, c, a, "a freed extent should be reused first-fit before growing")
}
