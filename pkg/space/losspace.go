package space

import (
	"sync"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/pagealloc"
	"github.com/mmtk-go/mmtk/pkg/vm"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

// LargeObjectSpace is a Space with per-object page-level reservation and
// an internal freelist (spec §3 "LargeObjectSpace"). Objects are never
// moved; they're freed at collection per mark bits.
type LargeObjectSpace struct {
	Base

	fl *pagealloc.FreeList

	mu      sync.Mutex
	objects map[address.ObjectReference]uintptr // object -> page count, for Release sweeping
	mark    map[address.ObjectReference]bool
}

// NewLargeObjectSpace constructs a discontiguous LargeObjectSpace backed
// by a freelist page resource.
func NewLargeObjectSpace(name string, fl *pagealloc.FreeList, vm *vmmap.VMMap) *LargeObjectSpace {
	return &LargeObjectSpace{
		Base:    NewDiscontiguousBase(name, false, fl, vm),
		fl:      fl,
		objects: make(map[address.ObjectReference]uintptr),
		mark:    make(map[address.ObjectReference]bool),
	}
}

// AllocatePages reserves a fresh LOS object of the given byte size,
// rounded up to whole pages, and records it in the space's live-object
// set (spec §4.4 "post_alloc... For LOS this additionally records the
// object into the space's live-object set").
func (los *LargeObjectSpace) AllocatePages(size uintptr) (address.Address, error) {
	pages := (size + address.PageSize - 1) / address.PageSize
	if pages == 0 {
		pages = 1
	}
	addr, err := los.fl.AllocatePagesZeroed(pages)
	if err != nil {
		return 0, err
	}
	los.mu.Lock()
	los.objects[address.FromAddress(addr)] = pages
	los.mu.Unlock()
	return addr, nil
}

// Prepare clears this GC's mark bits.
func (los *LargeObjectSpace) Prepare() {
	unlock := los.Lock()
	defer unlock()
	los.mu.Lock()
	los.mark = make(map[address.ObjectReference]bool)
	los.mu.Unlock()
}

// TraceObject marks obj live and returns it unchanged — LOS objects never
// move.
func (los *LargeObjectSpace) TraceObject(obj address.ObjectReference, tls vm.TLS) address.ObjectReference {
	if obj.IsNull() {
		return address.Null
	}
	los.mu.Lock()
	los.mark[obj] = true
	los.mu.Unlock()
	return obj
}

// Alloc implements mutator.Allocator, so a LargeObjectSpace can be bound
// directly into a Mutator's allocator slice without an adapter: LOS
// objects need no alignment/offset slack beyond a whole page.
func (los *LargeObjectSpace) Alloc(size, align, offset uintptr) (address.Address, error) {
	return los.AllocatePages(size + offset)
}

// Flush is a no-op: LargeObjectSpace retains no per-call reservation.
func (los *LargeObjectSpace) Flush() {}

// FreeList exposes the backing freelist, for plans that want to hand it
// to a pagealloc-level allocator instead of binding the space directly.
func (los *LargeObjectSpace) FreeList() *pagealloc.FreeList { return los.fl }

// IsLive reports whether obj was marked this GC.
func (los *LargeObjectSpace) IsLive(obj address.ObjectReference) bool {
	los.mu.Lock()
	defer los.mu.Unlock()
	return los.mark[obj]
}

// Release sweeps the live-object set, returning the pages of every object
// that wasn't marked this GC back to the freelist.
func (los *LargeObjectSpace) Release() {
	unlock := los.Lock()
	defer unlock()
	los.mu.Lock()
	defer los.mu.Unlock()
	for obj, pages := range los.objects {
		if !los.mark[obj] {
			los.fl.ReleasePages(obj.ToAddress(), pages)
			delete(los.objects, obj)
		}
	}
}
