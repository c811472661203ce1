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

package refproc

import "github.com/mmtk-go/mmtk/pkg/address"

// Processor owns the three reference tables and runs them in the scan
// order spec §4.6 mandates: soft, then weak, then phantom, draining the
// trace between each so a retained soft referent's own subgraph is live
// before weak references into it are judged.
type Processor struct {
	soft    *Table
	weak    *Table
	phantom *Table
}

// New constructs a Processor with empty tables.
func New() *Processor {
	return &Processor{
		soft:    NewTable(Soft),
		weak:    NewTable(Weak),
		phantom: NewTable(Phantom),
	}
}

// AddSoftCandidate implements spec "add_soft_candidate".
func (p *Processor) AddSoftCandidate(ref, referent address.ObjectReference) {
	p.soft.Add(ref, referent)
}

// AddWeakCandidate implements spec "add_weak_candidate".
func (p *Processor) AddWeakCandidate(ref, referent address.ObjectReference) {
	p.weak.Add(ref, referent)
}

// AddPhantomCandidate implements spec "add_phantom_candidate".
func (p *Processor) AddPhantomCandidate(ref, referent address.ObjectReference) {
	p.phantom.Add(ref, referent)
}

// Scan runs all three tables in weakening order, draining trace (i.e.
// relying on the caller's trace to have processed every edge discovered
// by a table's Scan before the next table runs) between each (spec §4.6
// "the trace is drained so that retention transitively extends liveness
// before the next weaker class is processed"). drain is called after
// each table to run the closure out to a fixpoint before the next table
// is scanned.
func (p *Processor) Scan(trace Trace, retainAll bool, drain func()) {
	p.soft.Scan(trace, retainAll)
	if drain != nil {
		drain()
	}
	p.weak.Scan(trace, false)
	if drain != nil {
		drain()
	}
	p.phantom.Scan(trace, false)
	if drain != nil {
		drain()
	}
}
