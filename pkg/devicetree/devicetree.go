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

// Package devicetree describes the memory reported by the firmware.
package devicetree

import (
	"fmt"
	"sort"
)

// MemoryEnumerator reports RAM.
type MemoryEnumerator interface {
	// ForEachMemory calls fn once per RAM block, with its physical base
	// address and size in bytes.
	ForEachMemory(fn func(base, size uint64))
}

// Region is one RAM block, as found in the reg property of a memory node.
type Region struct {
	Base uint64 `toml:"base"`
	Size uint64 `toml:"size"`
}

// String implements fmt.Stringer.String.
func (r Region) String() string {
	return fmt.Sprintf("memory@%x: [%#x, %#x)", r.Base, r.Base, r.Base+r.Size)
}

// Static is a MemoryEnumerator over a fixed list of regions.
type Static []Region

var _ MemoryEnumerator = Static(nil)

// ForEachMemory implements MemoryEnumerator.ForEachMemory. Regions are
// reported in address order; empty regions are skipped.
func (s Static) ForEachMemory(fn func(base, size uint64)) {
	sorted := append(Static(nil), s...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })
	for _, r := range sorted {
		if r.Size == 0 {
			continue
		}
		fn(r.Base, r.Size)
	}
}

// Validate checks that regions are non-empty, do not wrap, and are disjoint.
func (s Static) Validate() error {
	sorted := append(Static(nil), s...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })
	for i, r := range sorted {
		if r.Size == 0 {
			return fmt.Errorf("region at %#x is empty", r.Base)
		}
		if r.Base+r.Size < r.Base {
			return fmt.Errorf("region %v wraps around", r)
		}
		if i > 0 {
			if prev := sorted[i-1]; prev.Base+prev.Size > r.Base {
				return fmt.Errorf("regions %v and %v overlap", prev, r)
			}
		}
	}
	return nil
}

// Collect returns the regions reported by e.
func Collect(e MemoryEnumerator) []Region {
	var rs []Region
	e.ForEachMemory(func(base, size uint64) {
		rs = append(rs, Region{Base: base, Size: size})
	})
	return rs
}
