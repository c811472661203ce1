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

// Package vmmap implements the process-wide virtual memory mapper
// (Mmapper) and chunk-ownership map (VMMap) described in spec §2 items 2
// and §4.2.1. Both are safe for concurrent use by multiple spaces; the
// mapper serializes mutations behind an internal mutex per spec §5
// "Shared-resource policy".
package vmmap

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/mmtk-go/mmtk/pkg/address"
)

// Mmapper reserves a single contiguous slab of virtual address space up
// front (spec Non-goal (ii): the heap never resizes) and, from then on,
// only ever flips PROT_NONE/PROT_READ|WRITE|EXEC on sub-ranges of that
// slab. It is the only component in this module that issues raw
// mmap/mprotect syscalls; everything above it deals in Address ranges.
type Mmapper struct {
	mu        sync.Mutex
	base      []byte // the single reservation; nil until Reserve is called
	baseAddr  address.Address
	committed map[address.Address]bool // chunk base -> committed
	log       *logrus.Entry
}

// NewMmapper returns an unreserved Mmapper. Callers must call Reserve
// before using it.
func NewMmapper() *Mmapper {
	return &Mmapper{
		committed: make(map[address.Address]bool),
		log:       logrus.WithField("component", "vmmap.Mmapper"),
	}
}

// Reserve mmaps a PROT_NONE slab of the given size and returns its base
// address. It may only be called once per Mmapper.
func (m *Mmapper) Reserve(size uintptr) (address.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.base != nil {
		return 0, errors.New("vmmap: Reserve called twice")
	}
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, errors.Wrapf(err, "vmmap: reserve %d bytes", size)
	}
	m.base = b
	m.baseAddr = address.Address(uintptr(unsafe.Pointer(&b[0])))
	m.log.WithField("base", m.baseAddr).WithField("size", size).Info("heap slab reserved")
	return m.baseAddr, nil
}

func (m *Mmapper) slice(start address.Address, size uintptr) ([]byte, error) {
	if m.base == nil {
		return nil, errors.New("vmmap: mapper not reserved")
	}
	off := uintptr(start.Diff(m.baseAddr))
	if off+size > uintptr(len(m.base)) {
		return nil, errors.Errorf("vmmap: range [%v,+%d) outside reservation", start, size)
	}
	return m.base[off : off+size : off+size], nil
}

// EnsureMapped commits [start, start+size) if it is not already, by
// granting PROT_READ|WRITE|EXEC over the corresponding sub-range of the
// reservation. size must be a page multiple. Idempotent.
func (m *Mmapper) EnsureMapped(start address.Address, size uintptr) error {
	if size == 0 {
		return nil
	}
	if !start.IsPageAligned() || size%address.PageSize != 0 {
		return errors.New("vmmap: EnsureMapped requires page-aligned start and size")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.committed[start] {
		return nil
	}
	sub, err := m.slice(start, size)
	if err != nil {
		return err
	}
	if err := unix.Mprotect(sub, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return errors.Wrapf(err, "vmmap: mprotect(RWX) at %v", start)
	}
	m.committed[start] = true
	m.log.WithField("start", start).WithField("size", size).Debug("chunk committed")
	return nil
}

// Protect marks [start, start+size) PROT_NONE, hardening against dangling
// pointers into a just-released CopySpace (spec §4.1 "Memory protection").
func (m *Mmapper) Protect(start address.Address, size uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, err := m.slice(start, size)
	if err != nil {
		return err
	}
	if err := unix.Mprotect(sub, unix.PROT_NONE); err != nil {
		return errors.Wrapf(err, "vmmap: mprotect(NONE) at %v", start)
	}
	delete(m.committed, start)
	return nil
}

// Unprotect restores PROT_READ|WRITE|EXEC on a range previously passed to
// Protect, ahead of the space reusing it.
func (m *Mmapper) Unprotect(start address.Address, size uintptr) error {
	return m.EnsureMapped(start, size)
}

// IsMapped reports whether the given chunk-aligned address has been
// committed.
func (m *Mmapper) IsMapped(chunkBase address.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed[chunkBase]
}
