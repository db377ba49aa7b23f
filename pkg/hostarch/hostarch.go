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

// Package hostarch describes the physical and virtual address model of the
// target: a VMSAv8-64 translation regime with a 4KiB granule and 48-bit
// input addresses.
package hostarch

const (
	// PageShift is the binary log of the translation granule.
	PageShift = 12

	// PageSize is the translation granule. Only 4KiB is supported.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of a level-2 block.
	HugePageShift = 21

	// HugePageSize is the size of a level-2 block.
	HugePageSize = 1 << HugePageShift

	// GiantPageShift is the binary log of a level-1 block.
	GiantPageShift = 30

	// GiantPageSize is the size of a level-1 block.
	GiantPageSize = 1 << GiantPageShift

	// VirtualAddressBits is the input address size of each half.
	VirtualAddressBits = 48

	// PhysicalAddressBits is the largest supported output address size.
	PhysicalAddressBits = 48

	// LowerTop is the first address past the lower (TTBR0) half.
	LowerTop Addr = 1 << VirtualAddressBits

	// UpperBottom is the first address of the upper (TTBR1) half.
	UpperBottom Addr = ^(LowerTop - 1)

	// MaxPhysAddr is the first address past the physical address space.
	MaxPhysAddr PhysAddr = 1 << PhysicalAddressBits
)

// Translation converts a physical address into an address the caller can
// currently dereference. Before translation is enabled this is the identity;
// afterwards it adds the linear-map offset.
//
// Every allocator and table builder takes one explicitly. None of them may
// assume how physical memory is currently addressed.
type Translation func(PhysAddr) uintptr

// Identity is the translation in effect while the MMU is off.
func Identity(p PhysAddr) uintptr {
	return uintptr(p)
}

// Offset returns a translation that adds base to every physical address.
func Offset(base uintptr) Translation {
	return func(p PhysAddr) uintptr {
		return base + uintptr(p)
	}
}
