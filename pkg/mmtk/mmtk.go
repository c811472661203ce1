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

// Package mmtk is the top-level embedding surface (spec §6): the opaque
// handle a VM binding constructs once and threads through every other
// entry point, wiring together the plan, scheduler, reference processors,
// and options packages a binding never touches directly.
package mmtk

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/mutator"
	"github.com/mmtk-go/mmtk/pkg/options"
	"github.com/mmtk-go/mmtk/pkg/plan"
	"github.com/mmtk-go/mmtk/pkg/refproc"
	"github.com/mmtk-go/mmtk/pkg/scheduler"
	"github.com/mmtk-go/mmtk/pkg/vm"
	"github.com/mmtk-go/mmtk/pkg/vmmap"
)

// PlanKind selects which reference plan gc_init constructs (spec §4.3).
type PlanKind int

const (
	PlanNoGC PlanKind = iota
	PlanGenCopy
)

// MMTK is the opaque handle spec §9's "Global mutable state" design note
// redesigns the seed's implicit singleton into: constructed once by New,
// threaded through every entry point, with Global() an optional
// convenience wrapper rather than the only way to get one.
type MMTK struct {
	opts     *options.Options
	binding  *vm.Binding
	planKind PlanKind

	layout  *address.Layout
	vmMap   *vmmap.VMMap
	mmapper *vmmap.Mmapper

	plan       plan.Plan
	refs       *refproc.Processor
	sched      *scheduler.Scheduler
	controller *scheduler.Controller

	initialized       atomic.Bool
	collectionEnabled atomic.Bool
	collecting        atomic.Bool

	mu       sync.Mutex
	mutators map[vm.TLS]*mutator.Mutator

	// gcCond/gcMu implement spec §5 "user collection requests coalesce —
	// a request issued while GC is in progress returns once the
	// in-flight GC completes" and §8 boundary "no second GC is
	// triggered".
	gcMu   sync.Mutex
	gcCond *sync.Cond

	log *logrus.Entry
}

// New constructs an MMTK handle. The heap is not reserved and the
// scheduler is not running until GCInit is called (spec "gc_init...
// one-time initialization; idempotent check enforced").
func New(kind PlanKind, binding *vm.Binding, opts *options.Options) *MMTK {
	if opts == nil {
		opts = options.New()
	}
	m := &MMTK{
		opts:     opts,
		binding:  binding,
		planKind: kind,
		mutators: make(map[vm.TLS]*mutator.Mutator),
		log:      logrus.WithField("component", "mmtk"),
	}
	m.gcCond = sync.NewCond(&m.gcMu)
	return m
}
