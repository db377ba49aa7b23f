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

// Package memmap provides the physical memory map handed to the kernel.
package memmap

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"raspiboot.dev/raspiboot/pkg/hostarch"
)

// Kind labels a region of physical memory.
type Kind uint8

const (
	// Free is RAM available to the kernel.
	Free Kind = iota

	// Reserved is memory the kernel must not touch.
	Reserved

	// Reclaim is memory in use during boot that the kernel may reuse once
	// it no longer needs the boot page tables.
	Reclaim

	// Kernel holds the kernel image.
	Kernel

	// Stack holds the kernel stack.
	Stack

	// MMIO is device memory.
	MMIO
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case Free:
		return "Free"
	case Reserved:
		return "Reserved"
	case Reclaim:
		return "Reclaim"
	case Kernel:
		return "Kernel"
	case Stack:
		return "Stack"
	case MMIO:
		return "MMIO"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Entry is the half-open region [Base, End) of the given Kind.
type Entry struct {
	Base hostarch.PhysAddr
	End  hostarch.PhysAddr
	Kind Kind
}

// Size returns the length of e.
func (e Entry) Size() hostarch.Size {
	if e.End <= e.Base {
		return 0
	}
	return hostarch.Size(e.End - e.Base)
}

// Empty returns true if e covers no memory.
func (e Entry) Empty() bool {
	return e.End <= e.Base
}

// Contains returns true if o lies entirely within e.
func (e Entry) Contains(o Entry) bool {
	return e.Base <= o.Base && o.End <= e.End
}

// Overlaps returns true if e and o share at least one byte.
func (e Entry) Overlaps(o Entry) bool {
	return e.Base < o.End && o.Base < e.End
}

// touches returns true if e and o overlap or are adjacent.
func (e Entry) touches(o Entry) bool {
	return e.Base <= o.End && o.Base <= e.End
}

// String implements fmt.Stringer.String.
func (e Entry) String() string {
	return fmt.Sprintf("Type: %-10s | %#016x - %#016x | %v", e.Kind, uint64(e.Base), uint64(e.End), e.Size())
}

// MemoryMap is a sorted set of non-overlapping entries with a capacity fixed
// at construction.
//
// AddEntry never allocates: both the entries and the scratch space used to
// compute an update are sized by New.
type MemoryMap struct {
	entries []Entry
	scratch []Entry
}

// New returns an empty MemoryMap holding at most capacity entries.
func New(capacity int) *MemoryMap {
	if capacity <= 0 {
		panic(fmt.Sprintf("memory map capacity %d must be positive", capacity))
	}
	return &MemoryMap{
		entries: make([]Entry, 0, capacity),
		// Every existing entry yields at most two remainders, but at most
		// one entry can be split in two, and the new entry is added.
		scratch: make([]Entry, 0, capacity+2),
	}
}

// AddEntry adds e to the map, returning false without modifying the map if
// e is empty or the result would exceed the capacity.
//
// Entries of the same kind that overlap or are adjacent to e are merged into
// it. Entries of other kinds are overridden where they overlap e: entries
// entirely inside e are removed, and the rest are truncated, or split in two
// when e lies strictly inside them. Remainders keep their original kind.
func (m *MemoryMap) AddEntry(e Entry) bool {
	if e.Empty() {
		return false
	}

	// Grow e over every same-kind neighbour. Growing can reach further
	// neighbours, so repeat until nothing changes.
	for merged := true; merged; {
		merged = false
		for _, x := range m.entries {
			if x.Kind != e.Kind || !x.touches(e) || e.Contains(x) {
				continue
			}
			e.Base = min(e.Base, x.Base)
			e.End = max(e.End, x.End)
			merged = true
		}
	}

	out := m.scratch[:0]
	for _, x := range m.entries {
		switch {
		case e.Contains(x):
			// Superseded, including exact matches: the new kind wins.
		case !x.Overlaps(e):
			out = append(out, x)
		default:
			if x.Base < e.Base {
				out = append(out, Entry{Base: x.Base, End: e.Base, Kind: x.Kind})
			}
			// The far remainder keeps the kind of x rather than becoming
			// Free: it is still whatever x described.
			if e.End < x.End {
				out = append(out, Entry{Base: e.End, End: x.End, Kind: x.Kind})
			}
		}
	}
	out = append(out, e)
	if len(out) > cap(m.entries) {
		return false
	}

	slices.SortFunc(out, func(a, b Entry) int {
		return cmp.Compare(a.Base, b.Base)
	})
	m.entries = append(m.entries[:0], out...)
	return true
}

// FreeMemory returns the bytes usable by the kernel, Free and Reclaim.
func (m *MemoryMap) FreeMemory() hostarch.Size {
	var n hostarch.Size
	for _, e := range m.entries {
		if e.Kind == Free || e.Kind == Reclaim {
			n += e.Size()
		}
	}
	return n
}

// TotalMemory returns the bytes covered by all entries.
func (m *MemoryMap) TotalMemory() hostarch.Size {
	var n hostarch.Size
	for _, e := range m.entries {
		n += e.Size()
	}
	return n
}

// Entries returns a copy of the entries in address order.
func (m *MemoryMap) Entries() []Entry {
	return slices.Clone(m.entries)
}

// ForEach calls fn on each entry in address order until fn returns false.
func (m *MemoryMap) ForEach(fn func(Entry) bool) {
	for _, e := range m.entries {
		if !fn(e) {
			return
		}
	}
}

// Find returns the entry containing p.
func (m *MemoryMap) Find(p hostarch.PhysAddr) (Entry, bool) {
	i, found := slices.BinarySearchFunc(m.entries, p, func(e Entry, p hostarch.PhysAddr) int {
		switch {
		case e.End <= p:
			return -1
		case p < e.Base:
			return 1
		default:
			return 0
		}
	})
	if !found {
		return Entry{}, false
	}
	return m.entries[i], true
}

// Len returns the number of entries.
func (m *MemoryMap) Len() int {
	return len(m.entries)
}

// Cap returns the maximum number of entries.
func (m *MemoryMap) Cap() int {
	return cap(m.entries)
}

// String renders one line per non-empty entry.
func (m *MemoryMap) String() string {
	var b strings.Builder
	for _, e := range m.entries {
		if e.Empty() {
			continue
		}
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}
