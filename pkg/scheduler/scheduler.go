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

// Package scheduler implements the work-packet scheduler of spec §4.5:
// four queues (Unconstrained, Prepare, Closure, Release) drained by a pool
// of GC worker goroutines, with the controller stepping the "open queue"
// through Prepare -> Closure -> Release and posting a barrier between each
// (a queue drains only once every worker is idle and the queue is empty).
//
// scheduler depends only on package vm, never on package plan, so that
// plan (which depends on vm for the Binding capabilities) can't form an
// import cycle back through scheduler. The top-level mmtk package wires
// a concrete plan's ActivePlan view into the Scheduler at construction
// time.
package scheduler

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mmtk-go/mmtk/pkg/vm"
)

// Queue identifies one of the scheduler's four work-packet queues (spec
// §4.5 "Queues").
type Queue int

const (
	// Unconstrained holds packets runnable at any time, in any phase;
	// workers drain this queue first, ahead of whichever queue is open.
	Unconstrained Queue = iota
	// Prepare holds per-space/per-mutator setup packets run before the
	// transitive closure starts.
	Prepare
	// Closure holds ProcessEdges/ScanObjects packets; it self-extends as
	// packets discover more grey objects and enqueue further work here.
	Closure
	// Release holds per-space/per-mutator teardown packets run after the
	// closure has drained.
	Release

	numQueues = 4
)

func (q Queue) String() string {
	switch q {
	case Unconstrained:
		return "unconstrained"
	case Prepare:
		return "prepare"
	case Closure:
		return "closure"
	case Release:
		return "release"
	default:
		return "unknown"
	}
}

// Packet is a unit of GC work (spec §4.5 "work packet"). DoWork runs on
// some worker goroutine and may itself call s.Enqueue to schedule further
// work, most commonly Closure discovering more grey objects.
type Packet interface {
	DoWork(w *Worker, s *Scheduler)
}

// PacketFunc adapts a plain function to Packet, for small one-off packets
// (Prepare/Release space callbacks) that don't warrant a named type.
type PacketFunc func(w *Worker, s *Scheduler)

// DoWork implements Packet.
func (f PacketFunc) DoWork(w *Worker, s *Scheduler) { f(w, s) }

// Scheduler holds the four work queues and the controller/worker
// synchronization state (spec §4.5, §4.3.1).
type Scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues [numQueues][]Packet

	nWorkers int
	idle     int
	openQ    Queue
	closed   bool

	Plan    vm.ActivePlan
	Binding *vm.Binding

	log *logrus.Entry
}

// New constructs a Scheduler with nWorkers worker slots (spec §4.5 GC
// worker threads); a count below 1 is raised to 1.
func New(nWorkers int, plan vm.ActivePlan, binding *vm.Binding) *Scheduler {
	if nWorkers < 1 {
		nWorkers = 1
	}
	s := &Scheduler{
		nWorkers: nWorkers,
		openQ:    Unconstrained,
		Plan:     plan,
		Binding:  binding,
		log:      logrus.WithField("component", "scheduler"),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue appends packet to q, waking a parked worker.
func (s *Scheduler) Enqueue(q Queue, packet Packet) {
	s.mu.Lock()
	s.queues[q] = append(s.queues[q], packet)
	s.mu.Unlock()
	s.cond.Broadcast()
}

// take pops the next runnable packet for a worker: Unconstrained is always
// eligible; the currently open queue is eligible otherwise. Returns ok=false
// when nothing is runnable and the caller should park.
func (s *Scheduler) take() (Packet, bool) {
	if len(s.queues[Unconstrained]) > 0 {
		return s.pop(Unconstrained), true
	}
	if len(s.queues[s.openQ]) > 0 {
		return s.pop(s.openQ), true
	}
	return nil, false
}

func (s *Scheduler) pop(q Queue) Packet {
	n := len(s.queues[q])
	p := s.queues[q][n-1]
	s.queues[q] = s.queues[q][:n-1]
	return p
}

// queueDrained reports whether q is empty and every worker is idle —
// the barrier condition spec §4.5 calls "a queue drains when every
// worker is idle with its queue empty".
func (s *Scheduler) queueDrained(q Queue) bool {
	return len(s.queues[Unconstrained]) == 0 && len(s.queues[q]) == 0 && s.idle == s.nWorkers
}

// Shutdown wakes all parked workers so they exit, used when the process is
// tearing down (spec has no explicit teardown operation; this mirrors the
// teacher's worker-pool shutdown idiom).
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}
