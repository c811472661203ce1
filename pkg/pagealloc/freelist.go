package pagealloc

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

// extent is a contiguous free run of pages within the freelist resource.
type extent struct {
	start address.Address
	pages uintptr
}

// FreeList is the per-object page-level resource backing LargeObjectSpace
// (spec §3 "LargeObjectSpace... per-object page-level reservation and an
// internal freelist"). Unlike Monotone, individual extents can be returned
// with ReleasePages without resetting the whole resource.
type FreeList struct {
	mu sync.Mutex

	owner   string
	layout  address.Layout
	vmmap   *vmmap.VMMap
	mmapper *vmmap.Mmapper

	chunks []address.Address
	limit  address.Address // end of committed range across all owned chunks
	next   address.Address // next never-yet-used address (bump fallback)

	free     []extent // free extents, sorted by start; kept small (LOS churn is low)
	used     uintptr
	reserved uintptr
}

// NewFreeList creates a freelist-backed resource that grows by chunk from
// the global VMMap on demand.
func NewFreeList(owner string, layout address.Layout, vm *vmmap.VMMap, mmapper *vmmap.Mmapper) *FreeList {
	return &FreeList{owner: owner, layout: layout, vmmap: vm, mmapper: mmapper}
}

// ReservePages updates accounting ahead of an allocation.
func (f *FreeList) ReservePages(n uintptr) (address.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserved += n
	return 0, nil
}

// AllocatePagesZeroed returns n pages, preferring a first-fit match from
// the freelist before growing via the bump cursor.
func (f *FreeList) AllocatePagesZeroed(n uintptr) (address.Address, error) {
	if n == 0 {
		return 0, errors.New("pagealloc: AllocatePagesZeroed requires n > 0")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, e := range f.free {
		if e.pages >= n {
			start := e.start
			if e.pages == n {
				f.free = append(f.free[:i], f.free[i+1:]...)
			} else {
				f.free[i] = extent{start: e.start.Add(n * address.PageSize), pages: e.pages - n}
			}
			f.used += n
			return start, nil
		}
	}

	need := n * address.PageSize
	if uintptr(f.limit.Diff(f.next)) < need {
		if err := f.growLocked(need); err != nil {
			return 0, err
		}
	}
	start := f.next
	f.next = f.next.Add(need)
	f.used += n
	return start, nil
}

func (f *FreeList) growLocked(need uintptr) error {
	chunks := (need + f.layout.ChunkSize - 1) / f.layout.ChunkSize
	base, err := f.vmmap.Allocate(f.owner, chunks)
	if err != nil {
		return err
	}
	size := chunks * f.layout.ChunkSize
	if err := f.mmapper.EnsureMapped(base, size); err != nil {
		return err
	}
	f.chunks = append(f.chunks, base)
	if f.next.IsZero() || f.limit != base {
		f.next = base
	}
	f.limit = base.Add(size)
	return nil
}

// ReleasePages returns the extent [start, start+pages) to the freelist,
// merging with neighboring free extents.
func (f *FreeList) ReleasePages(start address.Address, pages uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used -= pages
	if f.used+pages <= f.reserved {
		f.reserved -= pages
	}

	f.free = append(f.free, extent{start: start, pages: pages})
	sort.Slice(f.free, func(i, j int) bool { return f.free[i].start < f.free[j].start })

	merged := f.free[:0]
	for _, e := range f.free {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.start.Add(last.pages*address.PageSize) == e.start {
				last.pages += e.pages
				continue
			}
		}
		merged = append(merged, e)
	}
	f.free = merged
}

// ReleaseAll frees every outstanding extent at once, for a full-heap LOS
// sweep that determined nothing survived.
func (f *FreeList) ReleaseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.free = f.free[:0]
	if len(f.chunks) > 0 {
		f.free = append(f.free, extent{start: f.chunks[0], pages: uintptr(f.limit.Diff(f.chunks[0])) / address.PageSize})
	}
	f.used = 0
	f.reserved = 0
}

// ReservedPages returns the current reserved-page count.
func (f *FreeList) ReservedPages() uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reserved
}

// UsedPages returns the current used-page count.
func (f *FreeList) UsedPages() uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used
}
