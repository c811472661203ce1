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
	"github.com/pkg/errors"

	"github.com/mmtk-go/mmtk/pkg/address"
	"github.com/mmtk-go/mmtk/pkg/mutator"
	"github.com/mmtk-go/mmtk/pkg/semantics"
	"github.com/mmtk-go/mmtk/pkg/vm"
)

// BindMutator implements spec §6 "bind_mutator(mmtk, tls) -> Mutator":
// attaches a VM thread.
func (m *MMTK) BindMutator(tls vm.TLS) (*mutator.Mutator, error) {
	if !m.initialized.Load() {
		return nil, errors.New("mmtk: bind_mutator before gc_init")
	}
	mu := m.plan.BindMutator(tls)
	if m.binding.Collection != nil {
		m.binding.Collection.PrepareMutator(tls)
	}

	m.mu.Lock()
	m.mutators[tls] = mu
	m.mu.Unlock()
	return mu, nil
}

// DestroyMutator implements spec §6 "destroy_mutator(mutator)": detaches.
func (m *MMTK) DestroyMutator(mu *mutator.Mutator) {
	mu.Flush()
	m.mu.Lock()
	delete(m.mutators, mu.TLS())
	m.mu.Unlock()
}

// FlushMutator implements spec §6 "flush_mutator(mutator)": retires TLAB.
func (m *MMTK) FlushMutator(mu *mutator.Mutator) {
	mu.Flush()
}

// Alloc implements spec §6 "alloc(mutator, size, align, offset, semantics)
// -> Address": the allocation slow path.
func (m *MMTK) Alloc(mu *mutator.Mutator, size, align, offset uintptr, sem semantics.Semantic) (address.Address, error) {
	return mu.Alloc(size, align, offset, sem)
}

// PostAlloc implements spec §6 "post_alloc(mutator, obj, type, bytes,
// semantics)": header init.
func (m *MMTK) PostAlloc(mu *mutator.Mutator, obj address.ObjectReference, typeRef address.Address, bytes uintptr, sem semantics.Semantic) {
	mu.PostAlloc(obj, typeRef, bytes, sem)
}

// GetAllocatorMapping implements spec §6
// "get_allocator_mapping(mmtk, semantics) -> Selector": for JIT inlining.
func (m *MMTK) GetAllocatorMapping(sem semantics.Semantic) mutator.Selector {
	return m.plan.GetAllocatorMapping()[semantics.Normalize(sem)]
}
