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
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/mmtk-go/mmtk/pkg/vm"
)

// Worker is a GC worker thread's scheduler-side handle (spec §4.5
// "GC worker thread"). ID is the index into the pool. RunPool starts
// workers as goroutines without calling the binding's SpawnWorkerThread,
// so TLS is left zero.
type Worker struct {
	ID  int
	TLS vm.TLS
}

// RunPool spawns nWorkers goroutines that repeatedly pop and run packets
// until s.Shutdown is called, using golang.org/x/sync/errgroup for
// lifecycle management (spec §4.5 "controller + N worker threads").
// RunPool blocks until every worker has exited.
func RunPool(ctx context.Context, s *Scheduler) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.nWorkers; i++ {
		w := &Worker{ID: i}
		g.Go(func() error {
			runWorker(ctx, w, s)
			return nil
		})
	}
	return g.Wait()
}

func runWorker(ctx context.Context, w *Worker, s *Scheduler) {
	for {
		s.mu.Lock()
		for {
			if s.closed {
				s.mu.Unlock()
				return
			}
			if p, ok := s.take(); ok {
				s.mu.Unlock()
				p.DoWork(w, s)
				goto next
			}
			s.idle++
			if s.queueDrained(s.openQ) {
				s.cond.Broadcast()
			}
			s.cond.Wait()
			s.idle--
			if s.closed {
				s.mu.Unlock()
				return
			}
		}
	next:
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
