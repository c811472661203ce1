package vm

import (
	"sync/atomic"
	"unsafe"

	"github.com/mmtk-go/mmtk/pkg/address"
)

// Load reads the ObjectReference currently stored at this edge. Edge
// addresses always point into memory mmtk-go itself committed (a space's
// backing pages), so a direct unsafe load is safe here — this is one of
// the documented unsafe primitives of spec §9 "Unsafe boundary": callers
// must hold the GC-in-progress invariant (or otherwise know the edge slot
// is stable) before calling it.
func (e Edge) Load() address.ObjectReference {
	p := (*uintptr)(unsafe.Pointer(uintptr(e)))
	return address.ObjectReference(atomic.LoadUintptr(p))
}

// Store writes obj into this edge. Used by ProcessEdges write-back unless
// OverwriteReference is disabled (spec §4.5 ProcessEdges "OVERWRITE_REFERENCE").
func (e Edge) Store(obj address.ObjectReference) {
	p := (*uintptr)(unsafe.Pointer(uintptr(e)))
	atomic.StoreUintptr(p, uintptr(obj))
}
