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

// Package address defines the two word-sized pointer types the rest of
// mmtk-go is built on: Address, an untyped machine word, and
// ObjectReference, an Address known to point at a well-formed object
// header.
package address

import (
	"fmt"
	"math/bits"
)

// PageSize is the granularity at which the page resource and the virtual
// memory mapper commit memory. It must be a power of two.
const PageSize = 4096

// Address is a word-sized, untyped machine address. It is not dereferenced
// directly by this package; conversion to a typed pointer is the VM
// binding's job.
type Address uintptr

// Zero is the distinguished "no address" value. Unlike ObjectReference's
// Null, Zero is a legitimate thing to compute arithmetic against (e.g. a
// freshly zeroed cursor), so it gets its own name instead of overloading 0.
const Zero Address = 0

// Add returns a + Address(n). Callers that cross a space boundary are
// responsible for checking IsMapped afterwards; Add itself never fails.
func (a Address) Add(n uintptr) Address {
	return a + Address(n)
}

// Sub returns a - Address(n).
func (a Address) Sub(n uintptr) Address {
	return a - Address(n)
}

// Diff returns a - b as a signed word count.
func (a Address) Diff(b Address) int64 {
	return int64(a) - int64(b)
}

// AlignDown rounds a down to the nearest multiple of align, which must be a
// power of two.
func (a Address) AlignDown(align uintptr) Address {
	mask := Address(align - 1)
	return a &^ mask
}

// AlignUp rounds a up to the nearest multiple of align, which must be a
// power of two.
func (a Address) AlignUp(align uintptr) Address {
	return a.Add(align - 1).AlignDown(align)
}

// IsAligned reports whether a is a multiple of align.
func (a Address) IsAligned(align uintptr) bool {
	return a == a.AlignDown(align)
}

// IsPageAligned reports whether a is a multiple of PageSize.
func (a Address) IsPageAligned() bool {
	return a.IsAligned(PageSize)
}

// IsZero reports whether a is the Zero address.
func (a Address) IsZero() bool {
	return a == Zero
}

// AlignOffset computes the smallest delta >= 0 such that
// (a+delta+offset) mod align == 0, for the allocator fast path. align must
// be a power of two.
func AlignOffset(a Address, align uintptr, offset uintptr) uintptr {
	if align == 0 {
		align = 1
	}
	want := a.Add(offset)
	aligned := want.AlignUp(align)
	return uintptr(aligned.Diff(want))
}

// IsPowerOfTwo reports whether n is a nonzero power of two.
func IsPowerOfTwo(n uintptr) bool {
	return n != 0 && bits.OnesCount(uint(n)) == 1
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return fmt.Sprintf("0x%x", uintptr(a))
}

// Null is the distinguished sentinel ObjectReference; it never points at a
// live object.
const Null ObjectReference = 0

// ObjectReference is an Address known (by construction — see space.InSpace
// checks at every conversion site) to point at the header of a well-formed
// object. The zero value is Null.
type ObjectReference Address

// ToAddress converts back to an untyped Address.
func (o ObjectReference) ToAddress() Address {
	return Address(o)
}

// FromAddress constructs an ObjectReference from a raw Address. Callers
// outside this package must have already established, via a space
// membership check, that addr genuinely points at an object header;
// FromAddress itself performs no verification.
func FromAddress(addr Address) ObjectReference {
	return ObjectReference(addr)
}

// IsNull reports whether o is the Null sentinel.
func (o ObjectReference) IsNull() bool {
	return o == Null
}

// String implements fmt.Stringer.
func (o ObjectReference) String() string {
	if o.IsNull() {
		return "<null>"
	}
	return o.ToAddress().String()
}
