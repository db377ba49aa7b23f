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
	"raspiboot.dev/raspiboot/pkg/platform"
	"raspiboot.dev/raspiboot/pkg/ring0"
)

var _ platform.AddressSpace = (*PageTables)(nil)

// leafLevels are the levels holding leaves, largest first.
var leafLevels = [...]int{1, 2, leafLevel}

// SetActive implements platform.AddressSpace.SetActive.
func (p *PageTables) SetActive(cpu ring0.CPU) {
	v := ring0.TTBRValue(p.root)
	if p.upper {
		cpu.WriteTTBR1(v)
	} else {
		cpu.WriteTTBR0(v)
	}
	cpu.ISB()
	p.active = true
	p.log.Infof("pagetables: %s <- %v", p.half(), p.root)
}

// Active returns true once SetActive has installed p.
func (p *PageTables) Active() bool {
	return p.active
}

// MapRange implements platform.AddressSpace.MapRange.
//
// Each step uses the largest block both addresses are aligned to that fits
// in what is left. On error, the mappings already made remain.
func (p *PageTables) MapRange(virt hostarch.Addr, phys hostarch.PhysAddr, size uint64, mt hostarch.MemoryType) error {
	if size == 0 {
		return nil
	}
	if !virt.IsPageAligned() || !phys.IsPageAligned() || size%hostarch.PageSize != 0 {
		return fmt.Errorf("%v -> %v, size %#x: %w", virt, phys, size, ErrMisaligned)
	}
	if !p.contains(virt, size) {
		return fmt.Errorf("[%v, +%#x) in %s tables: %w", virt, size, p.half(), ErrNonCanonical)
	}
	for size > 0 {
		for _, level := range leafLevels {
			s := levelSize(level)
			if size < s || !virt.IsAligned(s) || !phys.IsAligned(s) {
				continue
			}
			if err := p.mapLeaf(level, virt, phys, mt); err != nil {
				return err
			}
			virt += hostarch.Addr(s)
			phys += hostarch.PhysAddr(s)
			size -= s
			break
		}
	}
	return nil
}

// UnmapRange implements platform.AddressSpace.UnmapRange.
//
// Unmapped gaps are skipped. A block that extends beyond the range is not
// split; it is reported as misaligned and left in place.
func (p *PageTables) UnmapRange(virt hostarch.Addr, size uint64) error {
	if size == 0 {
		return nil
	}
	if !virt.IsPageAligned() || size%hostarch.PageSize != 0 {
		return fmt.Errorf("%v, size %#x: %w", virt, size, ErrMisaligned)
	}
	if !p.contains(virt, size) {
		return fmt.Errorf("[%v, +%#x) in %s tables: %w", virt, size, p.half(), ErrNonCanonical)
	}
	p.checkInactive(virt)
	for size > 0 {
		e, at, _ := p.walk(virt, leafLevel, false)
		s := levelSize(at)
		if !e.IsLeaf(at) {
			// Nothing mapped up to the next boundary at this level.
			skip := s - uint64(virt)&(s-1)
			if skip >= size {
				return nil
			}
			virt += hostarch.Addr(skip)
			size -= skip
			continue
		}
		if !virt.IsAligned(s) || size < s {
			return fmt.Errorf("%v: range ends inside a %v block: %w", virt, hostarch.Size(s), ErrMisaligned)
		}
		*e = 0
		virt += hostarch.Addr(s)
		size -= s
	}
	return nil
}

// Translate implements platform.AddressSpace.Translate.
func (p *PageTables) Translate(virt hostarch.Addr) (hostarch.PhysAddr, error) {
	return p.VirtToPhys(virt)
}

// Walker resolves virtual addresses the way the hardware table walker does,
// reading tables through its own translation rather than the one p uses.
type Walker struct {
	tables PageTables
}

// Walker returns a Walker over p's tables that reads them through tr. It
// sees mappings added to p later.
func (p *PageTables) Walker(tr hostarch.Translation) *Walker {
	w := &Walker{tables: *p}
	w.tables.tr = tr
	return w
}

// Translate returns the physical address virt translates to.
func (w *Walker) Translate(virt hostarch.Addr) (hostarch.PhysAddr, error) {
	return w.tables.VirtToPhys(virt)
}
