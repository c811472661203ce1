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

package scheduler

import (
	"sync"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/semantics"
	"github.com/mmtk-go/mmtk/pkg/vm"
)

// ProcessEdges is the Closure-queue packet that traces a batch of edges
// (spec §4.5 "ProcessEdges(edges, roots)"). Roots marks this batch as a
// root set discovered by Prepare's stack/global scanning rather than an
// object's own fields — purely advisory bookkeeping, the trace itself is
// identical either way.
type ProcessEdges struct {
	Edges              []vm.Edge
	Roots              bool
	OverwriteReference bool
	TLS                vm.TLS
}

// DoWork traces every edge in the batch, writes the (possibly forwarded)
// reference back unless suppressed, and enqueues one ScanObjects packet
// holding every object visited for the first time this GC (spec §4.5 "emits
// further edges by calling back into the packet's process_edge").
func (p *ProcessEdges) DoWork(w *Worker, s *Scheduler) {
	var grey []address.ObjectReference
	view := s.Plan.Plan()
	for _, e := range p.Edges {
		obj := e.Load()
		if obj.IsNull() {
			continue
		}
		newObj, first := view.TraceObject(obj, semantics.Default, p.TLS)
		if p.OverwriteReference {
			e.Store(newObj)
		}
		if first {
			grey = append(grey, newObj)
		}
	}
	if len(grey) > 0 {
		s.Enqueue(Closure, &ScanObjects{Objects: grey, TLS: p.TLS})
	}
}

// ScanObjects is the Closure-queue packet that scans a batch of grey
// objects' internal fields via the VM binding's Scanning.ScanObject, then
// feeds the edges it discovers back through TraceObject (spec §4.5
// "ScanObjects(objects)... for each object it calls the binding's
// scan_object, which emits further edges by calling back into the
// packet's process_edge").
type ScanObjects struct {
	Objects []address.ObjectReference
	TLS     vm.TLS
}

// DoWork implements Packet.
func (so *ScanObjects) DoWork(w *Worker, s *Scheduler) {
	c := &edgeCollector{sched: s, tls: so.TLS}
	for _, obj := range so.Objects {
		s.Binding.Scanning.ScanObject(c, obj, so.TLS)
	}
	if len(c.grey) > 0 {
		s.Enqueue(Closure, &ScanObjects{Objects: c.grey, TLS: so.TLS})
	}
}

// edgeCollector adapts vm.Trace to the scheduler's tracing path: it traces
// each edge the VM binding reports during ScanObject and accumulates the
// first-visited targets so ScanObjects.DoWork can chain a follow-up
// packet, mirroring ProcessEdges' own grey-object bookkeeping.
type edgeCollector struct {
	sched *Scheduler
	tls   vm.TLS

	mu   sync.Mutex
	grey []address.ObjectReference
}

// ProcessEdge implements vm.Trace.
func (c *edgeCollector) ProcessEdge(e vm.Edge) {
	obj := e.Load()
	if obj.IsNull() {
		return
	}
	newObj, first := c.sched.Plan.Plan().TraceObject(obj, semantics.Default, c.tls)
	e.Store(newObj)
	if first {
		c.mu.Lock()
		c.grey = append(c.grey, newObj)
		c.mu.Unlock()
	}
}
