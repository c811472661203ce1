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

// Package pagealloc implements the page-resource abstraction of spec §4.2:
// a monotone, bump-style resource for copy/immortal spaces and a
// freelist-backed resource for the large object space.
package pagealloc

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

// Resource is the interface both page-resource flavors implement, matching
// spec §4.2's operation list.
type Resource interface {
	ReservePages(n uintptr) (address.Address, error)
	AllocatePagesZeroed(n uintptr) (address.Address, error)
	ReleaseAll()
	ReservedPages() uintptr
	UsedPages() uintptr
}

// Monotone hands out pages sequentially within either a single contiguous
// range (VMRequestFixed) or a growing chain of discontiguous chunks drawn
// from the global VMMap. It backs CopySpace and ImmortalSpace.
//
// Invariant: committed <= total (spec §4.2). reserved is advisory
// bookkeeping raised only by ReservePages and may exceed committed.
type Monotone struct {
	mu sync.Mutex

	owner     string
	layout    address.Layout
	vmmap     *vmmap.VMMap
	mmapper   *vmmap.Mmapper
	contig    bool
	fixedBase address.Address
	fixedSize uintptr

	// chunks, in acquisition order, for the discontiguous case.
	chunks []address.Address

	cursor   address.Address // next free byte within the current chunk/range
	limit    address.Address // end of the currently-committed extent
	reserved uintptr         // pages reserved (may exceed committed briefly)
	used     uintptr         // pages actually handed out
}

// NewContiguous creates a Monotone resource over a pre-carved fixed range,
// as used by a VMRequestFixed space (spec: "vmrequest (fixed-range vs
// discontiguous)").
func NewContiguous(owner string, base address.Address, size uintptr, mmapper *vmmap.Mmapper) *Monotone {
	return &Monotone{
		owner:     owner,
		mmapper:   mmapper,
		contig:    true,
		fixedBase: base,
		fixedSize: size,
		cursor:    base,
		limit:     base,
	}
}

// NewDiscontiguous creates a Monotone resource that grows by pulling whole
// chunks from vm on demand.
func NewDiscontiguous(owner string, layout address.Layout, vm *vmmap.VMMap, mmapper *vmmap.Mmapper) *Monotone {
	return &Monotone{
		owner:   owner,
		layout:  layout,
		vmmap:   vm,
		mmapper: mmapper,
	}
}

// ReservePages records an intent to use n pages without committing memory
// yet; callers (allocators) call this to update accounting ahead of the
// actual AllocatePagesZeroed, matching the teacher's "reserved may briefly
// exceed committed" bookkeeping during a racy multi-mutator allocation.
func (m *Monotone) ReservePages(n uintptr) (address.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved += n
	return 0, nil
}

// AllocatePagesZeroed commits and returns n fresh pages, growing into a new
// chunk if necessary for a discontiguous resource. The OS already zeros
// freshly mmapped memory, so no explicit memset is needed here (the
// teacher's pgalloc relies on the same guarantee).
func (m *Monotone) AllocatePagesZeroed(n uintptr) (address.Address, error) {
	if n == 0 {
		return 0, errors.New("pagealloc: AllocatePagesZeroed requires n > 0")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	need := n * address.PageSize
	if uintptr(m.limit.Diff(m.cursor)) < need {
		if err := m.growLocked(need); err != nil {
			return 0, err
		}
	}
	start := m.cursor
	m.cursor = m.cursor.Add(need)
	m.used += n
	return start, nil
}

func (m *Monotone) growLocked(need uintptr) error {
	if m.contig {
		// A contiguous resource's range is fixed at construction; it can
		// only be as big as fixedSize.
		if uintptr(m.fixedBase.Add(m.fixedSize).Diff(m.cursor)) < need {
			return errors.Errorf("pagealloc: contiguous space %q exhausted its fixed range", m.owner)
		}
		end := m.fixedBase.Add(m.fixedSize)
		if err := m.mmapper.EnsureMapped(m.cursor.AlignDown(address.PageSize), uintptr(end.Diff(m.cursor))); err != nil {
			return err
		}
		m.limit = end
		return nil
	}

	chunks := (need + m.layout.ChunkSize - 1) / m.layout.ChunkSize
	base, err := m.vmmap.Allocate(m.owner, chunks)
	if err != nil {
		return err
	}
	size := chunks * m.layout.ChunkSize
	if err := m.mmapper.EnsureMapped(base, size); err != nil {
		return err
	}
	for i := uintptr(0); i < chunks; i++ {
		m.chunks = append(m.chunks, base.Add(i*m.layout.ChunkSize))
	}
	if m.cursor.IsZero() || m.limit != base {
		// Non-adjacent growth: jump the cursor to the new chunk. This
		// wastes any unused tail of the previous chunk, which is
		// acceptable for a monotone resource (it never reuses freed
		// space without a full ReleaseAll).
		m.cursor = base
	}
	m.limit = base.Add(size)
	return nil
}

// ReleaseAll resets the cursor but, per spec §4.2, does not return
// discontiguous chunks to the global VMMap — they stay owned by the space
// for fast reuse on the next collection.
func (m *Monotone) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contig {
		m.cursor = m.fixedBase
		m.limit = m.fixedBase
	} else if len(m.chunks) > 0 {
		m.cursor = m.chunks[0]
		m.limit = m.chunks[0]
	}
	m.used = 0
	m.reserved = 0
}

// ReleaseChunksToVMMap actually returns every chunk this resource owns to
// the global free-chunk index: callers must already know the transitive
// closure guarantees no surviving reference targets these chunks. No space
// in this module calls it; CopySpace.Release uses ReleaseAll.
func (m *Monotone) ReleaseChunksToVMMap() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contig || m.vmmap == nil {
		return
	}
	for _, base := range m.chunks {
		m.vmmap.Free(base, 1)
	}
	m.chunks = nil
	m.cursor = 0
	m.limit = 0
	m.used = 0
	m.reserved = 0
}

// ReservedPages returns the current reserved-page count.
func (m *Monotone) ReservedPages() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reserved
}

// UsedPages returns the current used-page count.
func (m *Monotone) UsedPages() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}
