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

package pagetables

import (
	"fmt"

	"raspiboot.dev/raspiboot/pkg/hostarch"
)

// Translation table geometry for the 4KiB granule.
const (
	entriesPerPage = 512
	levelBits      = 9
	topLevel       = 0
	leafLevel      = 3

	// level0Shift is the shift of the level-0 index. Level n uses bits
	// [level0Shift-9n+8 : level0Shift-9n] of the virtual address.
	level0Shift = 39
)

// Descriptor bits.
const (
	pteValid    = 1 << 0
	pteTableBit = 1 << 1

	typeMask  = pteValid | pteTableBit
	typeTable = pteValid | pteTableBit
	typeBlock = pteValid
	typePage  = pteValid | pteTableBit

	attrIdxShift = 2
	attrIdxMask  = 7 << attrIdxShift

	apShift = 6
	apMask  = 3 << apShift

	shShift      = 8
	shMask       = 3 << shShift
	shInner      = 3 << shShift
	shNonSharing = 0 << shShift

	accessed = 1 << 10

	// Output and next-level address fields.
	tableAddrMask = 0x0000fffffffff000 // 47:12
	pageAddrMask  = 0x0000fffffffff000 // 47:12
	l2BlockMask   = 0x0000ffffffe00000 // 47:21
	l1BlockMask   = 0x0000ffffc0000000 // 47:30
)

// PTE is a raw translation table descriptor.
//
// Its interpretation depends on the level of the table holding it and on
// the low two bits: a table link at levels 0-2, a block at levels 1-2, or a
// page at level 3.
type PTE uint64

// PTEs is one translation table.
type PTEs [entriesPerPage]PTE

// levelShift returns the shift of the index at level.
func levelShift(level int) uint {
	return uint(level0Shift - levelBits*level)
}

// levelSize returns the size of the region covered by one entry at level.
func levelSize(level int) uint64 {
	return 1 << levelShift(level)
}

// index returns the index of virt in the table at level.
func index(virt hostarch.Addr, level int) int {
	return int((uint64(virt) >> levelShift(level)) & (entriesPerPage - 1))
}

// outputMask returns the output address field of a leaf at level.
func outputMask(level int) uint64 {
	switch level {
	case 1:
		return l1BlockMask
	case 2:
		return l2BlockMask
	case leafLevel:
		return pageAddrMask
	default:
		panic(fmt.Sprintf("no leaf descriptors at level %d", level))
	}
}

// Valid returns true if the descriptor is valid.
func (p PTE) Valid() bool {
	return p&pteValid != 0
}

// IsTable returns true if p is a table link in a table at level.
func (p PTE) IsTable(level int) bool {
	return level < leafLevel && p&typeMask == typeTable
}

// IsBlock returns true if p is a block in a table at level.
func (p PTE) IsBlock(level int) bool {
	return (level == 1 || level == 2) && p&typeMask == typeBlock
}

// IsPage returns true if p is a page in a table at level.
func (p PTE) IsPage(level int) bool {
	return level == leafLevel && p&typeMask == typePage
}

// IsLeaf returns true if p maps memory directly at level.
func (p PTE) IsLeaf(level int) bool {
	return p.IsBlock(level) || p.IsPage(level)
}

// TableAddress returns the next-level table of a table link.
func (p PTE) TableAddress() hostarch.PhysAddr {
	return hostarch.PhysAddr(uint64(p) & tableAddrMask)
}

// OutputAddress returns the output address of a leaf at level.
func (p PTE) OutputAddress(level int) hostarch.PhysAddr {
	return hostarch.PhysAddr(uint64(p) & outputMask(level))
}

// AttrIndex returns the MAIR attribute index of a leaf.
func (p PTE) AttrIndex() uint64 {
	return (uint64(p) & attrIdxMask) >> attrIdxShift
}

// MemoryType returns the memory type of a leaf.
func (p PTE) MemoryType() (hostarch.MemoryType, bool) {
	return hostarch.MemoryTypeFromIndex(p.AttrIndex())
}

// AccessPermissions returns the AP field of a leaf.
func (p PTE) AccessPermissions() uint64 {
	return (uint64(p) & apMask) >> apShift
}

// Shareability returns the SH field of a leaf.
func (p PTE) Shareability() uint64 {
	return (uint64(p) & shMask) >> shShift
}

// Accessed returns true if the access flag is set.
func (p PTE) Accessed() bool {
	return p&accessed != 0
}

// makeTable returns a table link to the table at phys.
func makeTable(phys hostarch.PhysAddr) PTE {
	if uint64(phys)&^tableAddrMask != 0 {
		panic(fmt.Sprintf("table address %v does not fit the descriptor", phys))
	}
	return PTE(uint64(phys) | typeTable)
}

// makeLeaf returns a block or page descriptor for level mapping phys with
// type mt. The access flag is set so that first use does not fault, and
// access is EL1 read/write.
func makeLeaf(level int, phys hostarch.PhysAddr, mt hostarch.MemoryType) PTE {
	mask := outputMask(level)
	if uint64(phys)&^mask != 0 {
		panic(fmt.Sprintf("output address %v does not fit a level %d descriptor", phys, level))
	}
	typ := uint64(typeBlock)
	if level == leafLevel {
		typ = typePage
	}
	sh := uint64(shInner)
	if mt == hostarch.MemoryTypeDevice {
		sh = shNonSharing
	}
	return PTE(uint64(phys) | typ | mt.AttrIndex()<<attrIdxShift | sh | accessed)
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	return fmt.Sprintf("%#016x", uint64(p))
}
