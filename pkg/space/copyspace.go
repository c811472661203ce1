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
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/pagealloc"
	"github.com/mmtk-go/mmtk/pkg/vm"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

// Destination is the callback a CopySpace uses to reserve room for a
// forwarded object, decoupling the space from any one allocator
// implementation. The mutator/plan package supplies this; it is typically
// a bump allocator into the space's own tospace half.
type Destination func(size, align, offset uintptr) address.Address

// CopySpace is a Space whose objects may be relocated; two instances pair
// up as fromspace/tospace and swap roles across mature collections (spec
// §3 "CopySpace", §4.1 "Copying trace").
type CopySpace struct {
	Base

	fromSpace atomic.Bool
	fwd       *ForwardingTable
	model     vm.ObjectModel
	dest      Destination
	protect   bool
	mmapper   *vmmap.Mmapper

	mu    sync.Mutex
	live  map[address.ObjectReference]bool // objects copied out of fromspace this GC
	log   *logrus.Entry
}

// CopySpaceConfig bundles CopySpace construction parameters.
type CopySpaceConfig struct {
	Name           string
	FromSpace      bool
	Model          vm.ObjectModel
	Destination    Destination
	ProtectOnRelease bool
	Mmapper        *vmmap.Mmapper
}

// NewCopySpace constructs a CopySpace over a fixed [start,end) range,
// matching the teacher's pattern of carving mature-generation halves out
// of the heap at plan-construction time.
func NewCopySpace(cfg CopySpaceConfig, pr pagealloc.Resource, start, end address.Address) *CopySpace {
	cs := &CopySpace{
		Base:    NewBase(cfg.Name, true, VMRequestFixed, pr, start, end),
		fwd:     NewForwardingTable(),
		model:   cfg.Model,
		dest:    cfg.Destination,
		protect: cfg.ProtectOnRelease,
		mmapper: cfg.Mmapper,
		live:    make(map[address.ObjectReference]bool),
		log:     logrus.WithField("space", cfg.Name),
	}
	cs.fromSpace.Store(cfg.FromSpace)
	return cs
}

// SetDestination rebinds the callback used to reserve room for a forwarded
// copy, used when the plan's copying destination moves to a different
// page resource (e.g. a mature half flipping role).
func (cs *CopySpace) SetDestination(dest Destination) { cs.dest = dest }

// IsFromSpace reports whether this half is currently playing the
// fromspace role.
func (cs *CopySpace) IsFromSpace() bool { return cs.fromSpace.Load() }

// SetFromSpace flips this half's role, used by the plan at the start of a
// full-heap collection (spec §4.3 "fromspace and tospace swap").
func (cs *CopySpace) SetFromSpace(v bool) { cs.fromSpace.Store(v) }

// Prepare resets per-GC state. For a CopySpace about to serve as
// fromspace this GC, that means a fresh forwarding table.
func (cs *CopySpace) Prepare() {
	unlock := cs.Lock()
	defer unlock()
	cs.fwd.Reset()
	cs.mu.Lock()
	cs.live = make(map[address.ObjectReference]bool)
	cs.mu.Unlock()
}

// TraceObject implements spec §4.1's copying trace for objects in this
// space. Objects in a space that isn't currently playing fromspace are
// returned unchanged (spec: "Edge case: objects in non-fromspace spaces
// return unchanged"); a null reference returns null.
func (cs *CopySpace) TraceObject(obj address.ObjectReference, tls vm.TLS) address.ObjectReference {
	if obj.IsNull() {
		return address.Null
	}
	if !cs.fromSpace.Load() {
		return obj
	}

	if won := cs.fwd.AttemptToForward(obj); !won {
		return cs.fwd.SpinUntilForwarded(obj)
	}

	size := cs.model.Size(obj)
	align := cs.model.Alignment(obj)
	offset := cs.model.Offset(obj)
	to := cs.dest(size, align, offset)
	newObj := cs.model.CopyTo(obj, to)

	cs.fwd.PublishForwarded(obj, newObj)

	cs.mu.Lock()
	cs.live[newObj] = true
	cs.mu.Unlock()

	// Newly-copied objects are grey: the caller (ProcessEdges) enqueues
	// them for scanning once this call returns.
	return newObj
}

// IsLive reports whether obj has survived this GC's closure so far. Before
// a GC starts (or for an object in non-fromspace role) every object is
// considered live — this method only answers meaningfully for fromspace
// objects mid-closure.
func (cs *CopySpace) IsLive(obj address.ObjectReference) bool {
	if !cs.fromSpace.Load() {
		return true
	}
	return cs.fwd.IsForwarded(obj)
}

// Release implements spec §4.1 "Release": resets the underlying page
// resource (returning pages without zeroing, matching the teacher's
// pgalloc reuse-without-memset convention) and clears FromSpace. This is
// the only operation that destroys object identity in this space; callers
// must already know the transitive closure is complete.
func (cs *CopySpace) Release() {
	unlock := cs.Lock()
	defer unlock()

	if cs.protect && cs.mmapper != nil {
		if err := cs.mmapper.Protect(cs.Base.fixedStart, uintptr(cs.Base.fixedEnd.Diff(cs.Base.fixedStart))); err != nil {
			cs.log.WithError(err).Warn("failed to mprotect released copyspace")
		}
	}
	cs.Base.pr.ReleaseAll()
	cs.fromSpace.Store(false)
	cs.log.Debug("copyspace released")
}

// Reacquire restores RW protection ahead of this half being reused as a
// destination, undoing Release's optional mprotect hardening.
func (cs *CopySpace) Reacquire() error {
	if cs.protect && cs.mmapper != nil {
		return cs.mmapper.Unprotect(cs.Base.fixedStart, uintptr(cs.Base.fixedEnd.Diff(cs.Base.fixedStart)))
	}
	return nil
}
