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

package vmmap

import (
	"testing"

	"github.com/mmtk-go/mmtk/pkg/address"
)

func TestVMMapAllocateAndFree(t *testing.T) {
	layout, err := address.NewLayout(0, 4*address.DefaultChunkSize, address.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	v := NewVMMap(layout)

	base, err := v.Allocate("nursery", 2)
	if err != nil {
		t.Fatal(err)
	}
	if v.OwnerOf(base) != "nursery" {
		t.Errorf("OwnerOf(%v) = %q, want nursery", base, v.OwnerOf(base))
	}
	if got := v.FreeChunks(); got != 2 {
		t.Errorf("FreeChunks() = %d, want 2", got)
	}

	v.Free(base, 2)
	if got := v.FreeChunks(); got != 4 {
		t.Errorf("FreeChunks() after Free = %d, want 4 (merged back to the full range)", got)
	}
	if v.OwnerOf(base) != "" {
		t.Errorf("OwnerOf(%v) after Free = %q, want \"\"", base, v.OwnerOf(base))
	}
}

func TestVMMapExhaustion(t *testing.T) {
	layout, err := address.NewLayout(0, address.DefaultChunkSize, address.DefaultChunkSize)
	if err != nil {
		t.Fatal(err)
	}
	v := NewVMMap(layout)
	if _, err := v.Allocate("a", 2); err == nil {
		t.Fatal("expected exhaustion allocating more chunks than the layout holds")
	}
}

func TestMmapperCommitIdempotent(t *testing.T) {
	m := NewMmapper()
	base, err := m.Reserve(2 * address.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if m.IsMapped(base) {
		t.Fatal("freshly reserved range should not report mapped before EnsureMapped")
	}
	if err := m.EnsureMapped(base, address.PageSize); err != nil {
		t.Fatal(err)
	}
	if !m.IsMapped(base) {
		t.Fatal("EnsureMapped should mark the chunk mapped")
	}
	if err := m.EnsureMapped(base, address.PageSize); err != nil {
		t.Fatalf("second EnsureMapped call should be idempotent, got error: %v", err)
	}
}

func TestMmapperProtectUnprotect(t *testing.T) {
	m := NewMmapper()
	base, err := m.Reserve(address.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureMapped(base, address.PageSize); err != nil {
		t.Fatal(err)
	}
	if err := m.Protect(base, address.PageSize); err != nil {
		t.Fatal(err)
	}
	if m.IsMapped(base) {
		t.Fatal("Protect should clear the mapped bookkeeping")
	}
	if err := m.Unprotect(base, address.PageSize); err != nil {
		t.Fatal(err)
	}
	if !m.IsMapped(base) {
		t.Fatal("Unprotect should restore the mapped bookkeeping")
	}
}
