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
	"sync"
	"testing"

	"github.com/mmtk-go/mmtk/pkg/address"
)

func TestForwardingTableSingleWinner(t *testing.T) {
	tbl := NewForwardingTable()
	obj := address.FromAddress(address.Address(4096))

	const n = 16
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if tbl.AttemptToForward(obj) {
				mu.Lock()
				wins++
				mu.Unlock()
				tbl.PublishForwarded(obj, address.FromAddress(address.Address(8192)))
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("exactly one goroutine should win AttemptToForward, got %d", wins)
	}
	if !tbl.IsForwarded(obj) {
		t.Fatal("object should be forwarded after the winner publishes")
	}
}

func TestForwardingTableSpinUntilForwarded(t *testing.T) {
	tbl := NewForwardingTable()
	obj := address.FromAddress(address.Address(4096))
	newAddr := address.FromAddress(address.Address(8192))

	if !tbl.AttemptToForward(obj) {
		t.Fatal("first AttemptToForward should win")
	}

	done := make(chan address.ObjectReference, 1)
	go func() {
		done <- tbl.SpinUntilForwarded(obj)
	}()

	tbl.PublishForwarded(obj, newAddr)
	if got := <-done; got != newAddr {
		t.Errorf("SpinUntilForwarded returned %v, want %v", got, newAddr)
	}
}

func TestForwardingTablePublishOutOfTurnPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic publishing without having won AttemptToForward")
		}
	}()
	tbl := NewForwardingTable()
	obj := address.FromAddress(address.Address(4096))
	tbl.PublishForwarded(obj, address.FromAddress(address.Address(8192)))
}

func TestForwardingTableReset(t *testing.T) {
	tbl := NewForwardingTable()
	obj := address.FromAddress(address.Address(4096))
	tbl.AttemptToForward(obj)
	tbl.PublishForwarded(obj, address.FromAddress(address.Address(8192)))
	tbl.Reset()
	if tbl.IsForwarded(obj) {
		t.Fatal("Reset should clear all forwarding state")
	}
}
