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

package plan

import (
	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/pagealloc"
	"github.com/mmtk-go/mmtk/pkg/space"
	"github.com/mmtk-go/mmtk/pkg/vm"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

// CommonPlan bundles the spaces every reference plan shares (spec §4.3
// GenCopy: "A large-object space, an immortal space, and a VM-reserved
// space (inherited from a *common plan*)"). NoGC also embeds it.
type CommonPlan struct {
	Immortal   *space.ImmortalSpace
	LOS        *space.LargeObjectSpace
	VMReserved *space.ImmortalSpace

	vmMap *vmmap.VMMap
}

// NewCommonPlan builds the immortal and VM-reserved spaces over the page
// resources and [start, end) bounds the caller has already carved, and a
// LOS over the given discontiguous freelist and shared VMMap, matching the
// teacher's convention of fixed metadata regions at the low end of a
// reserved address range.
func NewCommonPlan(vmMap *vmmap.VMMap, immortalPR, vmReservedPR pagealloc.Resource, losFreeList *pagealloc.FreeList, immortalStart, immortalEnd, vmReservedStart, vmReservedEnd address.Address) *CommonPlan {
	return &CommonPlan{
		Immortal:   space.NewImmortalSpace("immortal", immortalPR, immortalStart, immortalEnd),
		LOS:        space.NewLargeObjectSpace("los", losFreeList, vmMap),
		VMReserved: space.NewImmortalSpace("vmreserved", vmReservedPR, vmReservedStart, vmReservedEnd),
		vmMap:      vmMap,
	}
}

// spaces returns the three CommonPlan spaces, the seed every embedding
// plan's Spaces() appends its own to.
func (c *CommonPlan) spaces() []space.Space {
	return []space.Space{c.Immortal, c.LOS, c.VMReserved}
}

// prepare runs Prepare on the three common spaces.
func (c *CommonPlan) prepare() {
	c.Immortal.Prepare()
	c.LOS.Prepare()
	c.VMReserved.Prepare()
}

// release runs Release on the three common spaces.
func (c *CommonPlan) release() {
	c.Immortal.Release()
	c.LOS.Release()
	c.VMReserved.Release()
}

// traceCommon dispatches obj to whichever common space owns it, returning
// ok=false if obj belongs to neither (the caller then tries its own
// plan-specific spaces).
func (c *CommonPlan) traceCommon(obj address.ObjectReference, tls vm.TLS) (ref address.ObjectReference, firstVisit, ok bool) {
	if c.Immortal.InSpace(obj) {
		wasTraced := c.Immortal.Traced(obj)
		ref = c.Immortal.TraceObject(obj, tls)
		return ref, !wasTraced, true
	}
	if c.VMReserved.InSpace(obj) {
		wasTraced := c.VMReserved.Traced(obj)
		ref = c.VMReserved.TraceObject(obj, tls)
		return ref, !wasTraced, true
	}
	if c.LOS.InSpace(obj) {
		wasLive := c.LOS.IsLive(obj)
		ref = c.LOS.TraceObject(obj, tls)
		return ref, !wasLive, true
	}
	return address.Null, false, false
}

// pagesUsed sums the common spaces' committed pages.
func (c *CommonPlan) pagesUsed() uintptr {
	return c.Immortal.UsedPages() + c.LOS.UsedPages() + c.VMReserved.UsedPages()
}

// reservedPages sums the common spaces' reserved capacity, for
// GetTotalPages: the heap's total size is the fixed reservation every
// space was carved out of, not how much of it happens to be committed.
func (c *CommonPlan) reservedPages() uintptr {
	return c.Immortal.ReservedPages() + c.LOS.ReservedPages() + c.VMReserved.ReservedPages()
}
