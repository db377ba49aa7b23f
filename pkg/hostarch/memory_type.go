// Copyright 2025 The gVisor Authors.
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

// MemoryType specifies CPU memory access behavior.
//
// The ordinal of a MemoryType is the attribute index written into leaf
// descriptors, and selects the matching byte of MAIR_EL1.
type MemoryType uint8

const (
	// MemoryTypeDevice is Device-nGnRnE: strongly ordered, non-gathering,
	// non-reordering, no early write acknowledgement.
	MemoryTypeDevice MemoryType = iota

	// MemoryTypeNormalNonCacheable is Normal memory, inner and outer
	// non-cacheable.
	MemoryTypeNormalNonCacheable

	// MemoryTypeNormalWriteBack is Normal memory, inner and outer write-back
	// read/write-allocate non-transient.
	MemoryTypeNormalWriteBack

	// NumMemoryTypes is the number of memory types.
	NumMemoryTypes
)

// mairAttrs holds the MAIR_EL1 attribute byte of each MemoryType, indexed by
// attribute index.
var mairAttrs = [...]uint8{
	MemoryTypeDevice:             0x00,
	MemoryTypeNormalNonCacheable: 0x44,
	MemoryTypeNormalWriteBack:    0xff,
}

// Every MemoryType needs a MAIR slot, and MAIR_EL1 has eight.
var (
	_ = [1]struct{}{}[len(mairAttrs)-int(NumMemoryTypes)]
	_ = [1]struct{}{}[NumMemoryTypes/9]
)

// AttrIndex returns the descriptor AttrIndx value for mt.
func (mt MemoryType) AttrIndex() uint64 {
	if mt >= NumMemoryTypes {
		panic(fmt.Sprintf("invalid memory type %d", mt))
	}
	return uint64(mt)
}

// MAIRAttr returns the MAIR_EL1 attribute byte for mt.
func (mt MemoryType) MAIRAttr() uint8 {
	return mairAttrs[mt.AttrIndex()]
}

// MAIRValue returns the MAIR_EL1 value describing every MemoryType.
func MAIRValue() uint64 {
	var v uint64
	for i, attr := range mairAttrs {
		v |= uint64(attr) << (8 * uint(i))
	}
	return v
}

// MemoryTypeFromIndex returns the MemoryType with the given attribute index.
func MemoryTypeFromIndex(idx uint64) (MemoryType, bool) {
	if idx >= uint64(NumMemoryTypes) {
		return 0, false
	}
	return MemoryType(idx), true
}

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	switch mt {
	case MemoryTypeDevice:
		return "Device"
	case MemoryTypeNormalNonCacheable:
		return "NormalNonCacheable"
	case MemoryTypeNormalWriteBack:
		return "NormalWriteBack"
	default:
		return fmt.Sprintf("%d", mt)
	}
}

// ShortString returns a two-character string compactly representing the
// MemoryType.
func (mt MemoryType) ShortString() string {
	switch mt {
	case MemoryTypeDevice:
		return "DV"
	case MemoryTypeNormalNonCacheable:
		return "NC"
	case MemoryTypeNormalWriteBack:
		return "WB"
	default:
		return fmt.Sprintf("%02d", mt)
	}
}
