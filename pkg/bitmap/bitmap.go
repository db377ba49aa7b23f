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

// Package bitmap provides a fixed-size bitmap, used to track per-frame state.
package bitmap

import (
	"fmt"
	"math/bits"
)

// Bitmap is a fixed-size set of small integers.
//
// The zero value is an empty bitmap of size zero.
type Bitmap struct {
	// numOnes is the number of ones in the bitmap.
	numOnes uint64

	// size is the number of addressable bits.
	size uint64

	// bitBlock holds the bits, 64 per element.
	bitBlock []uint64
}

// New creates a new empty Bitmap holding size bits.
func New(size uint64) Bitmap {
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// Size returns the number of addressable bits.
func (b *Bitmap) Size() uint64 {
	return b.size
}

// Count returns the number of set bits.
func (b *Bitmap) Count() uint64 {
	return b.numOnes
}

// IsEmpty returns true if no bit is set.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

func (b *Bitmap) check(i uint64) {
	if i >= b.size {
		panic(fmt.Sprintf("bit %d out of range [0, %d)", i, b.size))
	}
}

// Contains returns true if bit i is set.
func (b *Bitmap) Contains(i uint64) bool {
	b.check(i)
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// Add sets bit i. It returns false if the bit was already set.
func (b *Bitmap) Add(i uint64) bool {
	b.check(i)
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if b.bitBlock[blockNum]&mask != 0 {
		return false
	}
	b.bitBlock[blockNum] |= mask
	b.numOnes++
	return true
}

// Remove clears bit i. It returns false if the bit was already clear.
func (b *Bitmap) Remove(i uint64) bool {
	b.check(i)
	blockNum, mask := i/64, uint64(1)<<(i%64)
	if b.bitBlock[blockNum]&mask == 0 {
		return false
	}
	b.bitBlock[blockNum] &^= mask
	b.numOnes--
	return true
}

// FirstOne returns the first set bit at or after start.
func (b *Bitmap) FirstOne(start uint64) (uint64, bool) {
	if start >= b.size {
		return 0, false
	}
	i := start / 64
	w := b.bitBlock[i] & (^uint64(0) << (start % 64))
	for {
		if w != 0 {
			bit := i*64 + uint64(bits.TrailingZeros64(w))
			return bit, bit < b.size
		}
		i++
		if i == uint64(len(b.bitBlock)) {
			return 0, false
		}
		w = b.bitBlock[i]
	}
}

// ForEach calls fn on every set bit in increasing order until fn returns
// false.
func (b *Bitmap) ForEach(fn func(i uint64) bool) {
	for i, w := range b.bitBlock {
		for w != 0 {
			bit := uint64(i)*64 + uint64(bits.TrailingZeros64(w))
			if !fn(bit) {
				return
			}
			w &= w - 1
		}
	}
}
