// Copyright 2026 The gVisor Authors.
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

// Package hostarch contains address and page geometry operations.
package hostarch

import (
	"fmt"
)

const (
	// PageShift is the binary log of the base page size.
	PageShift = 12

	// PageSize is the base page size.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of the huge page size: one last-level
	// table of 8-byte descriptors.
	HugePageShift = PageShift + (PageShift - 3)

	// HugePageSize is the huge page size.
	HugePageSize = 1 << HugePageShift
)

// Addr represents an address in an unspecified address space.
type Addr uintptr

// AddLength adds an address and a length and returns the end address. ok is
// false if the addition overflows.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	// The second half of the following check is needed in case uintptr is
	// smaller than 64 bits.
	ok = end >= v && length <= uint64(^Addr(0))
	return
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v & ^Addr(PageSize-1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// MustRoundUp is equivalent to RoundUp, but panics if rounding up wraps
// around.
func (v Addr) MustRoundUp() Addr {
	addr, ok := v.RoundUp()
	if !ok {
		panic(fmt.Sprintf("hostarch.Addr(%d).RoundUp() wraps", v))
	}
	return addr
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & Addr(PageSize-1))
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// AlignDown returns v rounded down to a multiple of align.
//
// Precondition: align is a power of two.
func (v Addr) AlignDown(align uint64) Addr {
	return v & ^Addr(align-1)
}

// AlignUp returns v rounded up to a multiple of align. ok is true iff
// rounding up did not wrap around.
//
// Precondition: align is a power of two.
func (v Addr) AlignUp(align uint64) (addr Addr, ok bool) {
	addr = Addr(v + Addr(align) - 1).AlignDown(align)
	ok = addr >= v
	return
}

// MustAlignUp is equivalent to AlignUp, but panics if rounding up wraps
// around.
//
// Precondition: align is a power of two.
func (v Addr) MustAlignUp(align uint64) Addr {
	addr, ok := v.AlignUp(align)
	if !ok {
		panic(fmt.Sprintf("hostarch.Addr(%d).AlignUp(%d) wraps", v, align))
	}
	return addr
}

// IsAligned returns true if v is a multiple of align.
//
// Precondition: align is a power of two.
func (v Addr) IsAligned(align uint64) bool {
	return v&Addr(align-1) == 0
}

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#x", uintptr(v))
}
