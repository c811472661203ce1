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
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunGCOrdersPhases(t *testing.T) {
	s := New(4, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- RunPool(ctx, s) }()

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	c := NewController(s)
	c.RunGC(
		func(s *Scheduler) {
			s.Enqueue(Prepare, PacketFunc(func(w *Worker, s *Scheduler) { record("prepare") }))
		},
		func(s *Scheduler) {
			s.Enqueue(Closure, PacketFunc(func(w *Worker, s *Scheduler) { record("closure") }))
		},
		func(s *Scheduler) {
			s.Enqueue(Release, PacketFunc(func(w *Worker, s *Scheduler) { record("release") }))
		},
	)

	if c.Phase() != Idle {
		t.Errorf("Phase() after RunGC = %v, want Idle", c.Phase())
	}

	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	if len(got) != 3 || got[0] != "prepare" || got[1] != "closure" || got[2] != "release" {
		t.Fatalf("packets ran in order %v, want [prepare closure release]", got)
	}

	s.Shutdown()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunPool did not exit after Shutdown")
	}
}

func TestSchedulerClosureSelfExtends(t *testing.T) {
	s := New(2, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- RunPool(ctx, s) }()

	var ran int32
	const depth = 5
	var enqueueMore func(w *Worker, s *Scheduler, n int)
	enqueueMore = func(w *Worker, s *Scheduler, n int) {
		atomic.AddInt32(&ran, 1)
		if n > 0 {
			s.Enqueue(Closure, PacketFunc(func(w *Worker, s *Scheduler) { enqueueMore(w, s, n-1) }))
		}
	}

	c := NewController(s)
	c.RunGC(nil, func(s *Scheduler) {
		s.Enqueue(Closure, PacketFunc(func(w *Worker, s *Scheduler) { enqueueMore(w, s, depth) }))
	}, nil)

	if got := atomic.LoadInt32(&ran); got != depth+1 {
		t.Errorf("closure chain ran %d packets, want %d", got, depth+1)
	}

	s.Shutdown()
	<-done
}

func TestSchedulerUnconstrainedRunsInAnyPhase(t *testing.T) {
	s := New(2, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- RunPool(ctx, s) }()

	var ran int32
	s.Enqueue(Unconstrained, PacketFunc(func(w *Worker, s *Scheduler) {
		atomic.AddInt32(&ran, 1)
	}))

	c := NewController(s)
	c.RunGC(nil, nil, nil)

	if atomic.LoadInt32(&ran) != 1 {
		t.Error("an unconstrained packet enqueued before RunGC should still run during it")
	}

	s.Shutdown()
	<-done
}
