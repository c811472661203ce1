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
	"sync"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/mmtk-go/mmtk/pkg/address"
)

// chunkEntry is a free chunk in the global free-chunk index, ordered by
// base address so VMMap.Allocate can do a first-fit scan and adjacent
// free chunks can be merged in O(log n).
type chunkEntry struct {
	base address.Address
	n    uintptr // number of contiguous free chunks starting at base
}

func lessChunk(a, b chunkEntry) bool { return a.base < b.base }

// VMMap is the global free-chunk index backing discontiguous space
// allocation (spec §2 item 2, §4.2.1). Contiguous (VMRequestFixed) spaces
// bypass it entirely — they're carved out of the layout once, at plan
// construction, and never returned to this index.
type VMMap struct {
	mu     sync.Mutex
	layout address.Layout
	free   *btree.BTreeG[chunkEntry]
	owner  map[address.Address]string // chunk base -> owning space name
}

// NewVMMap creates a VMMap whose entire reserved range starts out free.
func NewVMMap(layout address.Layout) *VMMap {
	v := &VMMap{
		layout: layout,
		free:   btree.NewG(32, lessChunk),
		owner:  make(map[address.Address]string),
	}
	v.free.ReplaceOrInsert(chunkEntry{base: layout.HeapStart, n: layout.Chunks()})
	return v
}

// Allocate reserves `chunks` contiguous chunks for `owner` using first-fit
// and returns the base address. Discontiguous spaces call this repeatedly
// as they grow.
func (v *VMMap) Allocate(owner string, chunks uintptr) (address.Address, error) {
	if chunks == 0 {
		return 0, errors.New("vmmap: Allocate requires chunks > 0")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	var found *chunkEntry
	v.free.Ascend(func(e chunkEntry) bool {
		if e.n >= chunks {
			c := e
			found = &c
			return false
		}
		return true
	})
	if found == nil {
		return 0, errors.Errorf("vmmap: no free region of %d chunks for space %q", chunks, owner)
	}

	v.free.Delete(*found)
	if found.n > chunks {
		v.free.ReplaceOrInsert(chunkEntry{
			base: found.base.Add(chunks * v.layout.ChunkSize),
			n:    found.n - chunks,
		})
	}
	for i := uintptr(0); i < chunks; i++ {
		v.owner[found.base.Add(i*v.layout.ChunkSize)] = owner
	}
	return found.base, nil
}

// Free returns `chunks` contiguous chunks starting at base to the free
// index, merging with adjacent free runs where possible. Called from
// pagealloc's Monotone.ReleaseChunksToVMMap — never from a contiguous space,
// whose chunks are owned for the process lifetime (spec §4.1 Space
// Lifecycle: "never destroyed while the process lives").
func (v *VMMap) Free(base address.Address, chunks uintptr) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := uintptr(0); i < chunks; i++ {
		delete(v.owner, base.Add(i*v.layout.ChunkSize))
	}

	merged := chunkEntry{base: base, n: chunks}
	// Merge with a free run ending exactly at base.
	v.free.DescendLessOrEqual(chunkEntry{base: base}, func(e chunkEntry) bool {
		if e.base.Add(e.n*v.layout.ChunkSize) == base {
			v.free.Delete(e)
			merged.base = e.base
			merged.n += e.n
		}
		return false
	})
	// Merge with a free run starting exactly where this one ends.
	end := merged.base.Add(merged.n * v.layout.ChunkSize)
	if next, ok := v.free.Get(chunkEntry{base: end}); ok {
		v.free.Delete(next)
		merged.n += next.n
	}
	v.free.ReplaceOrInsert(merged)
}

// OwnerOf returns the space name owning the chunk containing addr, or ""
// if the chunk is unowned.
func (v *VMMap) OwnerOf(addr address.Address) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.owner[v.layout.ChunkAlign(addr)]
}

// Layout returns the VMMap's heap layout.
func (v *VMMap) Layout() address.Layout { return v.layout }

// FreeChunks returns the total number of chunks still unowned, for
// diagnostics and the `free_bytes` embedding entry point.
func (v *VMMap) FreeChunks() uintptr {
	v.mu.Lock()
	defer v.mu.Unlock()
	var total uintptr
	v.free.Ascend(func(e chunkEntry) bool {
		total += e.n
		return true
	})
	return total
}
