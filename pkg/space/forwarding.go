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
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/mmtk-go/mmtk/pkg/address"
)

// forwardState is the three-state machine of spec §3 "Forwarding word".
// The zero value is Unforwarded so a freshly-installed entry starts there
// without an explicit initialization store.
type forwardState int32

const (
	unforwarded forwardState = iota
	beingForwarded
	forwarded
)

// forwardEntry holds one object's forwarding state out of line (spec §3:
// "or a side table"). Keeping this unsafe CAS protocol in its own small
// file is the documented unsafe primitive called out in spec §9 "Unsafe
// boundary": every caller of ForwardingTable must hold the GC-in-progress
// invariant.
type forwardEntry struct {
	state  atomic.Int32
	target address.ObjectReference // valid once state == forwarded
}

// ForwardingTable is a side table mapping objects in a from-space to their
// forwarding state. One table exists per CopySpace generation (the
// teacher's equivalent: the KVM platform's kvmVcpuEvents pattern of one
// small state machine per object tracked out of line). It is safe for
// concurrent use by all GC workers.
type ForwardingTable struct {
	mu      sync.Mutex
	entries map[address.ObjectReference]*forwardEntry
}

// NewForwardingTable returns an empty table.
func NewForwardingTable() *ForwardingTable {
	return &ForwardingTable{entries: make(map[address.ObjectReference]*forwardEntry)}
}

// Reset clears every entry, for reuse after a CopySpace's role flips back
// to tospace.
func (t *ForwardingTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[address.ObjectReference]*forwardEntry)
}

func (t *ForwardingTable) entryFor(obj address.ObjectReference) *forwardEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[obj]
	if !ok {
		e = &forwardEntry{}
		t.entries[obj] = e
	}
	return e
}

// AttemptToForward implements spec §4.1 step 1: atomically transition
// Unforwarded -> BeingForwarded. It reports whether this call won the race
// (and must therefore perform the copy).
func (t *ForwardingTable) AttemptToForward(obj address.ObjectReference) (won bool) {
	e := t.entryFor(obj)
	return e.state.CompareAndSwap(int32(unforwarded), int32(beingForwarded))
}

// SpinUntilForwarded implements spec §4.1 step 2: busy-wait until the
// winner publishes Forwarded, then return the new address. Bounded by the
// owner thread's copy time per spec §5 "Suspension points" (c).
func (t *ForwardingTable) SpinUntilForwarded(obj address.ObjectReference) address.ObjectReference {
	e := t.entryFor(obj)
	for forwardState(e.state.Load()) != forwarded {
		runtime.Gosched()
	}
	return e.target
}

// PublishForwarded implements spec §4.1 step 3's final move: record the
// new address with a release store and transition BeingForwarded ->
// Forwarded. Panics if called out of turn (spec §7 kind 4: "Protocol
// violation... panics the worker").
func (t *ForwardingTable) PublishForwarded(obj, newAddr address.ObjectReference) {
	e := t.entryFor(obj)
	e.target = newAddr
	if !e.state.CompareAndSwap(int32(beingForwarded), int32(forwarded)) {
		panic("space: forwarding word left BeingForwarded by someone other than the CAS winner")
	}
}

// stateOf reports the current forwarding state; IsForwarded builds on it.
func (t *ForwardingTable) stateOf(obj address.ObjectReference) forwardState {
	e := t.entryFor(obj)
	return forwardState(e.state.Load())
}

// IsForwarded reports whether obj has a published forwarding target.
func (t *ForwardingTable) IsForwarded(obj address.ObjectReference) bool {
	return t.stateOf(obj) == forwarded
}
