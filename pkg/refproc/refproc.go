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

// Package refproc implements the soft/weak/phantom reference processors of
// spec §4.6: three append-only-during-mutation tables of (reference,
// referent) pairs, scanned in weakening order at release with the trace
// drained between each so retention in a stronger class transitively
// extends liveness into the next.
package refproc

import (
	"sync"

	"github.com/mmtk-go/mmtk/pkg/address"
)

// Kind distinguishes the three reference strengths (spec §4.6).
type Kind int

const (
	Soft Kind = iota
	Weak
	Phantom
)

func (k Kind) String() string {
	switch k {
	case Soft:
		return "soft"
	case Weak:
		return "weak"
	case Phantom:
		return "phantom"
	default:
		return "unknown"
	}
}

// candidate is one (reference, referent) pair awaiting a scan.
type candidate struct {
	ref      address.ObjectReference // the reference object itself
	referent address.ObjectReference
}

// Table is one strength class's append-only-during-mutation list (spec
// §4.6 "Reference-processor tables are append-only during mutator
// execution (guarded by a spinlock) and read-only during scan").
type Table struct {
	kind Kind

	mu         sync.Mutex
	candidates []candidate
}

// NewTable constructs an empty Table of the given kind.
func NewTable(kind Kind) *Table {
	return &Table{kind: kind}
}

// Add registers a new (reference, referent) candidate (spec
// "add_{soft,weak,phantom}_candidate").
func (t *Table) Add(ref, referent address.ObjectReference) {
	t.mu.Lock()
	t.candidates = append(t.candidates, candidate{ref: ref, referent: referent})
	t.mu.Unlock()
}

// Len reports the number of candidates currently held, for diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.candidates)
}

// Trace is the liveness oracle a scan consults: IsLive reports whether
// obj has already been traced live this GC, and Trace enqueues obj (and
// transitively everything it reaches) as live, returning its
// (potentially forwarded) address.
type Trace interface {
	IsLive(obj address.ObjectReference) bool
	Trace(obj address.ObjectReference) address.ObjectReference
}

// Scan implements spec §4.6's "scan(trace, retain_all)": for every
// candidate, if the referent is (or becomes, under retainAll) live, the
// reference is retained and its referent's forwarded address recorded;
// otherwise the candidate is dropped (weak/phantom) or, for soft
// references, kept only when retainAll forces soft retention regardless
// of liveness. Surviving candidates replace the table's contents.
//
// retainAll models "optionally retained under memory pressure" for Soft
// (spec: every soft referent is kept alive this GC) and has no effect on
// Weak/Phantom, which always require a live referent to be retained.
func (t *Table) Scan(trace Trace, retainAll bool) []address.ObjectReference {
	t.mu.Lock()
	cands := t.candidates
	t.candidates = nil
	t.mu.Unlock()

	var kept []candidate
	var forwarded []address.ObjectReference
	for _, c := range cands {
		live := trace.IsLive(c.referent)
		retain := live || (t.kind == Soft && retainAll)
		if !retain {
			continue // cleared: referent unreachable, reference drops it
		}
		newReferent := trace.Trace(c.referent)
		kept = append(kept, candidate{ref: c.ref, referent: newReferent})
		forwarded = append(forwarded, newReferent)
	}

	t.mu.Lock()
	t.candidates = append(kept, t.candidates...)
	t.mu.Unlock()
	return forwarded
}
