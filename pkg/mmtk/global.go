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

package mmtk

import (
	"sync"

	"github.com/mmtk-go/mmtk/pkg/options"
	"github.com/mmtk-go/mmtk/pkg/vm"
)

// global holds the process-wide convenience singleton (SPEC_FULL §4.9,
// redesigning spec §9's implicit global into an opt-in wrapper: New still
// returns an independent handle for embedders that want one, and tests
// that construct several handles in the same process never collide).
var (
	globalMu sync.Mutex
	global   *MMTK
)

// Global returns the process-wide MMTK handle, constructing it on first
// call with the given plan kind and binding. Later calls ignore their
// arguments and return the handle already built — this mirrors the single
// static instance most embedders actually want, while New remains
// available to anyone who needs an isolated handle (e.g. package tests).
func Global(kind PlanKind, binding *vm.Binding, opts *options.Options) *MMTK {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = New(kind, binding, opts)
	}
	return global
}

// resetGlobalForTest clears the singleton so Global's one-shot
// construction can be exercised more than once per test binary. Nothing
// calls it yet: the mmtk package has no tests.
func resetGlobalForTest() {
	globalMu.Lock()
	global = nil
	globalMu.Unlock()
}
