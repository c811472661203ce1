package space

import (
	"sync"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/pagealloc"
	"github.com/mmtk-go/mmtk/pkg/vm"
)

// ImmortalSpace holds objects that are marked-live but never moved or
// freed (spec §3 "ImmortalSpace"): class metadata, the VM-reserved space,
// and (in NoGC) every allocation.
type ImmortalSpace struct {
	Base

	mu   sync.Mutex
	mark map[address.ObjectReference]bool
}

// NewImmortalSpace constructs an ImmortalSpace over a fixed range.
func NewImmortalSpace(name string, pr pagealloc.Resource, start, end address.Address) *ImmortalSpace {
	return &ImmortalSpace{
		Base: NewBase(name, false, VMRequestFixed, pr, start, end),
		mark: make(map[address.ObjectReference]bool),
	}
}

// Prepare clears this GC's mark bits ahead of a fresh trace.
func (is *ImmortalSpace) Prepare() {
	unlock := is.Lock()
	defer unlock()
	is.mu.Lock()
	is.mark = make(map[address.ObjectReference]bool)
	is.mu.Unlock()
}

// TraceObject marks obj visited this GC and returns it unchanged —
// immortal objects are never relocated. The mark bit recorded here is
// purely internal closure bookkeeping (see Traced); it never gates the
// object's externally-visible liveness, which IsLive reports
// unconditionally for any resident object.
func (is *ImmortalSpace) TraceObject(obj address.ObjectReference, tls vm.TLS) address.ObjectReference {
	if obj.IsNull() {
		return address.Null
	}
	is.mu.Lock()
	is.mark[obj] = true
	is.mu.Unlock()
	return obj
}

// IsLive reports whether obj is live. Immortal objects are never
// reclaimed, so any object actually resident in this space is live by
// construction, independent of whether this GC's closure has reached it
// yet — matching mmtk-core's ImmortalSpace::is_live. A plan that never
// collects (NoGC) would otherwise report every one of its objects dead
// forever, since nothing would ever trace them.
func (is *ImmortalSpace) IsLive(obj address.ObjectReference) bool {
	return is.InSpace(obj)
}

// Traced reports whether TraceObject has already visited obj this GC —
// the first-visit signal a plan's own TraceObject uses to decide whether
// a freshly-discovered edge needs enqueuing for further scanning. This is
// distinct from IsLive: it answers "has the closure reached this object
// yet", not "does this object exist".
func (is *ImmortalSpace) Traced(obj address.ObjectReference) bool {
	is.mu.Lock()
	defer is.mu.Unlock()
	return is.mark[obj]
}

// Release is a no-op: immortal objects are never reclaimed.
func (is *ImmortalSpace) Release() {}
