// Copyright 2024 The raspiboot Authors.
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

package hostarch

import "fmt"

// Addr is a virtual address.
type Addr uint64

// PhysAddr is a physical address.
//
// Addr and PhysAddr are never converted into each other directly; going from
// one to the other requires a page table walk or a Translation.
type PhysAddr uint64

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#016x", uint64(v))
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

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & Addr(PageSize-1))
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// IsAligned returns true if v is a multiple of size, which must be a power
// of two.
func (v Addr) IsAligned(size uint64) bool {
	return uint64(v)&(size-1) == 0
}

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// Canonical returns true if v lies in either translated half.
func (v Addr) Canonical() bool {
	return v < LowerTop || v >= UpperBottom
}

// Upper returns true if v is translated through TTBR1.
func (v Addr) Upper() bool {
	return v >= UpperBottom
}

// String implements fmt.Stringer.String.
func (p PhysAddr) String() string {
	return fmt.Sprintf("%#016x", uint64(p))
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (p PhysAddr) RoundDown() PhysAddr {
	return p & ^PhysAddr(PageSize-1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (p PhysAddr) RoundUp() (addr PhysAddr, ok bool) {
	addr = PhysAddr(p + PageSize - 1).RoundDown()
	ok = addr >= p
	return
}

// IsPageAligned returns true if p is page aligned.
func (p PhysAddr) IsPageAligned() bool {
	return p.IsAligned(PageSize)
}

// IsAligned returns true if p is a multiple of size, which must be a power
// of two.
func (p PhysAddr) IsAligned(size uint64) bool {
	return uint64(p)&(size-1) == 0
}

// AddLength adds the given length to p. ok is true iff the addition did not
// overflow.
func (p PhysAddr) AddLength(length uint64) (end PhysAddr, ok bool) {
	end = p + PhysAddr(length)
	ok = end >= p
	return
}

// PhysRange is a half-open range of physical addresses.
type PhysRange struct {
	Start PhysAddr
	End   PhysAddr
}

// Length returns the length of the range.
func (r PhysRange) Length() uint64 {
	if r.End < r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// Contains returns true if p is in the range.
func (r PhysRange) Contains(p PhysAddr) bool {
	return r.Start <= p && p < r.End
}

// Overlaps returns true if r and o share at least one address.
func (r PhysRange) Overlaps(o PhysRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// String implements fmt.Stringer.String.
func (r PhysRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Start), uint64(r.End))
}
