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

// Package physmem simulates the physical RAM of a board.
//
// Each bank is an anonymous host mapping outside the Go heap, so code that
// turns a Translation result into a pointer behaves exactly as it does on
// hardware, where the result is a raw address.
package physmem

import (
	"fmt"
	"unsafe"

	"github.com/google/btree"
	"golang.org/x/sys/unix"
	"raspiboot.dev/raspiboot/pkg/hostarch"
	"raspiboot.dev/raspiboot/pkg/log"
)

// bank is one contiguous RAM block.
type bank struct {
	start hostarch.PhysAddr
	data  []byte
}

func (b *bank) end() hostarch.PhysAddr {
	return b.start + hostarch.PhysAddr(len(b.data))
}

func bankLess(a, b *bank) bool {
	return a.start < b.start
}

// Memory is a set of RAM banks indexed by physical address.
type Memory struct {
	banks *btree.BTreeG[*bank]
}

// New returns a Memory with no banks.
func New() *Memory {
	return &Memory{banks: btree.NewG[*bank](8, bankLess)}
}

// AddBank backs [start, start+length) with fresh zeroed memory.
//
// Preconditions: start and length are page aligned, length > 0.
func (m *Memory) AddBank(start hostarch.PhysAddr, length uint64) error {
	if !start.IsPageAligned() || length%hostarch.PageSize != 0 || length == 0 {
		return fmt.Errorf("bank [%#x, +%#x) is not page aligned", uint64(start), length)
	}
	end, ok := start.AddLength(length)
	if !ok || end > hostarch.MaxPhysAddr {
		return fmt.Errorf("bank [%#x, +%#x) exceeds the physical address space", uint64(start), length)
	}
	r := hostarch.PhysRange{Start: start, End: end}
	var conflict error
	m.banks.Ascend(func(b *bank) bool {
		if r.Overlaps(hostarch.PhysRange{Start: b.start, End: b.end()}) {
			conflict = fmt.Errorf("bank %v overlaps existing bank [%#x, %#x)", r, uint64(b.start), uint64(b.end()))
			return false
		}
		return true
	})
	if conflict != nil {
		return conflict
	}

	data, err := unix.Mmap(-1, 0, int(length),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANONYMOUS|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		return fmt.Errorf("mapping bank %v: %w", r, err)
	}
	m.banks.ReplaceOrInsert(&bank{start: start, data: data})
	log.Debugf("physmem: bank %v backed at host %#x", r, uintptr(unsafe.Pointer(&data[0])))
	return nil
}

// Release unmaps every bank. The Memory must not be used afterwards.
func (m *Memory) Release() error {
	var firstErr error
	m.banks.Ascend(func(b *bank) bool {
		if err := unix.Munmap(b.data); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	m.banks.Clear(false)
	return firstErr
}

// lookup returns the bank containing p.
func (m *Memory) lookup(p hostarch.PhysAddr) (*bank, bool) {
	var found *bank
	m.banks.DescendLessOrEqual(&bank{start: p}, func(b *bank) bool {
		found = b
		return false
	})
	if found == nil || p >= found.end() {
		return nil, false
	}
	return found, true
}

// Backed returns true if every byte of [p, p+length) is RAM in one bank.
func (m *Memory) Backed(p hostarch.PhysAddr, length uint64) bool {
	b, ok := m.lookup(p)
	if !ok {
		return false
	}
	end, ok := p.AddLength(length)
	return ok && end <= b.end()
}

// Translate returns the host address of physical address p. An access to
// unbacked memory is a bus error, so it panics.
func (m *Memory) Translate(p hostarch.PhysAddr) uintptr {
	b, ok := m.lookup(p)
	if !ok {
		panic(fmt.Sprintf("physmem: access to unbacked physical address %v", p))
	}
	return uintptr(unsafe.Pointer(&b.data[0])) + uintptr(p-b.start)
}

// Translation returns Translate as a hostarch.Translation. This is the view
// of a CPU with translation disabled.
func (m *Memory) Translation() hostarch.Translation {
	return m.Translate
}

// Resolver maps virtual addresses to physical ones.
type Resolver interface {
	Translate(virt hostarch.Addr) (hostarch.PhysAddr, error)
}

// Through returns the view of a CPU with translation enabled, where physical
// address p is reached at virtual address base+p through r.
func (m *Memory) Through(r Resolver, base hostarch.Addr) hostarch.Translation {
	return func(p hostarch.PhysAddr) uintptr {
		phys, err := r.Translate(base + hostarch.Addr(p))
		if err != nil {
			panic(fmt.Sprintf("physmem: translation fault at %v: %v", base+hostarch.Addr(p), err))
		}
		return m.Translate(phys)
	}
}

// Bytes returns the length bytes at p.
//
// Preconditions: Backed(p, length).
func (m *Memory) Bytes(p hostarch.PhysAddr, length uint64) []byte {
	if !m.Backed(p, length) {
		panic(fmt.Sprintf("physmem: [%v, +%#x) is not backed by one bank", p, length))
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(m.Translate(p))), length)
}

// Uint64 reads the 64-bit word at p.
func (m *Memory) Uint64(p hostarch.PhysAddr) uint64 {
	if !m.Backed(p, 8) {
		panic(fmt.Sprintf("physmem: read of unbacked physical address %v", p))
	}
	return *(*uint64)(unsafe.Pointer(m.Translate(p)))
}

// ForEachMemory calls fn with every bank, in address order.
func (m *Memory) ForEachMemory(fn func(base, size uint64)) {
	m.banks.Ascend(func(b *bank) bool {
		fn(uint64(b.start), uint64(len(b.data)))
		return true
	})
}
