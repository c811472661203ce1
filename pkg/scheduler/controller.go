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

// Phase is the controller's coarse collection state (spec §4.3.1
// "controller state machine"): Idle between collections, then Preparing,
// Closure, Releasing in order for each collection.
type Phase int

const (
	Idle Phase = iota
	Preparing
	ClosurePhase
	Releasing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case ClosurePhase:
		return "closure"
	case Releasing:
		return "releasing"
	default:
		return "unknown"
	}
}

// Controller drives a Scheduler's collection through its four phases
// (spec §4.3.1, §4.5 "the controller posts a barrier between queues").
// It is not itself a goroutine: RunGC is called synchronously by whatever
// triggered the collection (a mutator's poll handler or an explicit
// user-collection request) once RunPool's workers are already parked
// waiting for work.
type Controller struct {
	s     *Scheduler
	phase Phase
}

// NewController binds a Controller to s.
func NewController(s *Scheduler) *Controller {
	return &Controller{s: s, phase: Idle}
}

// Phase reports the controller's current phase.
func (c *Controller) Phase() Phase { return c.phase }

// openAndWait opens q, wakes parked workers, and blocks until q (and
// Unconstrained) have drained — the queue-barrier primitive every phase
// transition uses (spec §4.5).
func (c *Controller) openAndWait(q Queue) {
	c.s.mu.Lock()
	c.s.openQ = q
	c.s.mu.Unlock()
	c.s.cond.Broadcast()

	c.s.mu.Lock()
	for !c.s.queueDrained(q) {
		c.s.cond.Wait()
	}
	c.s.mu.Unlock()
}

// RunGC drives one full collection: Prepare, Closure, Release, each
// seeded by the packets the caller enqueues via seed before the queue
// opens (spec §4.3 "Prepare", "a global transitive closure over all
// live-reachable edges", "Release").
//
// seedClosure runs after Prepare drains (root-scanning packets discovered
// during Prepare feed the Closure queue) and before Closure opens.
func (c *Controller) RunGC(seedPrepare, seedClosure, seedRelease func(*Scheduler)) {
	c.phase = Preparing
	if seedPrepare != nil {
		seedPrepare(c.s)
	}
	c.openAndWait(Prepare)

	c.phase = ClosurePhase
	if seedClosure != nil {
		seedClosure(c.s)
	}
	c.openAndWait(Closure)

	c.phase = Releasing
	if seedRelease != nil {
		seedRelease(c.s)
	}
	c.openAndWait(Release)

	c.phase = Idle
}
