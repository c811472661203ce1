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

package mmtk

import (
	"context"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/pagealloc"
	"github.com/mmtk-go/mmtk/pkg/plan"
	"github.com/mmtk-go/mmtk/pkg/refproc"
	"github.com/mmtk-go/mmtk/pkg/scheduler"
	"github.com/mmtk-go/mmtk/pkg/vm"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

// heapStart is an arbitrary fixed base for the reserved virtual range
// (spec §6 "Heap layout": "reserves a fixed virtual range [HEAP_START,
// HEAP_END) at startup"). Since golang.org/x/sys/unix.Mmap has no
// address-hint parameter, HEAP_START is in practice whatever the kernel
// picks for the up-front reservation; this constant only documents
// intent and is never dereferenced directly.
const heapStart = address.Address(0)

// GCInit implements spec §6 "gc_init(mmtk, heap_size_bytes)": one-time
// initialization, idempotent-checked. It reserves the heap, constructs
// the configured plan, and starts the controller/worker pool, then
// notifies an enclosing process supervisor (SPEC_FULL §4.8).
func (m *MMTK) GCInit(ctx context.Context) error {
	if m.initialized.Swap(true) {
		return errors.New("mmtk: gc_init called twice")
	}

	layout, err := address.NewLayout(heapStart, uintptr(m.opts.HeapSize), address.DefaultChunkSize)
	if err != nil {
		return errors.Wrap(err, "mmtk: gc_init heap layout")
	}
	m.layout = &layout

	m.mmapper = vmmap.NewMmapper()
	if _, err := m.mmapper.Reserve(uintptr(layout.HeapEnd.Diff(layout.HeapStart))); err != nil {
		return errors.Wrap(err, "mmtk: gc_init reserve")
	}
	m.vmMap = vmmap.NewVMMap(layout)

	m.refs = refproc.New()

	if err := m.buildPlan(layout); err != nil {
		return errors.Wrap(err, "mmtk: gc_init plan construction")
	}

	activePlan := activePlanView{m}
	m.sched = scheduler.New(m.workerCount(), activePlan, m.binding)
	m.controller = scheduler.NewController(m.sched)

	if gc, ok := m.plan.(interface {
		SetGCTrigger(func(vm.TLS, bool) error)
	}); ok {
		gc.SetGCTrigger(func(tls vm.TLS, forceFull bool) error {
			if !m.collectionEnabled.Load() {
				return errors.New("mmtk: collection not enabled")
			}
			return m.triggerGC(tls, forceFull)
		})
	}

	go func() {
		_ = scheduler.RunPool(ctx, m.sched)
	}()

	m.log.WithField("heap_bytes", m.opts.HeapSize).Info("gc_init complete")
	daemon.SdNotify(false, daemon.SdNotifyReady)
	return nil
}

func (m *MMTK) workerCount() int {
	if m.opts.Threads > 0 {
		return m.opts.Threads
	}
	return 1
}

// buildPlan constructs the configured plan over freshly carved page
// resources. The reserved range is split: a low VM-reserved slice for
// runtime metadata, an immortal slice, and the remainder for the
// plan-specific generational/no-gc heap.
func (m *MMTK) buildPlan(layout address.Layout) error {
	const vmReservedBytes = 4 << 20
	const immortalBytes = 16 << 20

	vmReservedEnd := layout.HeapStart.Add(vmReservedBytes)
	immortalEnd := vmReservedEnd.Add(immortalBytes)

	vmReservedPR := pagealloc.NewContiguous("vmreserved", layout.HeapStart, vmReservedBytes, m.mmapper)
	immortalPR := pagealloc.NewContiguous("immortal", vmReservedEnd, immortalBytes, m.mmapper)
	losFreeList := pagealloc.NewFreeList("los", layout, m.vmMap, m.mmapper)

	common := plan.NewCommonPlan(m.vmMap, immortalPR, vmReservedPR, losFreeList,
		vmReservedEnd, immortalEnd, layout.HeapStart, vmReservedEnd)

	remaining := immortalEnd
	switch m.planKind {
	case PlanNoGC:
		pr := pagealloc.NewContiguous("nogc-heap", remaining, uintptr(layout.HeapEnd.Diff(remaining)), m.mmapper)
		m.plan = plan.NewNoGC(common, pr, remaining, layout.HeapEnd)
	case PlanGenCopy:
		total := uintptr(layout.HeapEnd.Diff(remaining))
		nurseryBytes := uintptr(m.opts.NurserySize)
		if nurseryBytes >= total {
			nurseryBytes = total / 4
		}
		matureBytes := total - nurseryBytes
		nurseryStart := remaining
		nurseryEnd := nurseryStart.Add(nurseryBytes)
		matureMid := nurseryEnd.Add(matureBytes / 2)

		nurseryPR := pagealloc.NewContiguous("nursery", nurseryStart, nurseryBytes, m.mmapper)
		mature0PR := pagealloc.NewContiguous("mature-0", nurseryEnd, matureBytes/2, m.mmapper)
		mature1PR := pagealloc.NewContiguous("mature-1", matureMid, matureBytes-matureBytes/2, m.mmapper)

		m.plan = plan.NewGenCopy(common, plan.GenCopyConfig{
			NurseryPR:        nurseryPR,
			NurseryStart:     nurseryStart,
			NurseryEnd:       nurseryEnd,
			MaturePR:         [2]pagealloc.Resource{mature0PR, mature1PR},
			MatureStart:      nurseryEnd,
			MatureMid:        matureMid,
			MatureEnd:        layout.HeapEnd,
			Model:            m.binding.ObjectModel,
			ProtectOnRelease: m.opts.ProtectOnRelease,
			Mmapper:          m.mmapper,
		})
	default:
		return errors.Errorf("mmtk: unknown plan kind %d", m.planKind)
	}
	return nil
}

// EnableCollection implements spec §6 "enable_collection(mmtk, tls)":
// unlocks GC after VM boot. Before this call, HandlePoll-triggered
// collections are refused — most VM bindings allocate a substantial
// amount of bootstrap-only metadata that should never itself trigger a
// GC before the binding is ready to stop mutators.
func (m *MMTK) EnableCollection(tls vm.TLS) {
	m.collectionEnabled.Store(true)
	daemon.SdNotify(false, daemon.SdNotifyReady)
}
