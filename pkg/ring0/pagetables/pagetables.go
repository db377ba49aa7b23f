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

// Package pagetables builds VMSAv8-64 stage 1 translation tables with a 4KiB
// granule and 48-bit input addresses.
//
// A PageTables covers one half of the address space: the lower half
// translated through TTBR0_EL1, or the upper half translated through
// TTBR1_EL1. Tables are allocated from a frame.Allocator and are only ever
// reached through the Translation given at construction, or a later one
// installed with SetTranslation.
package pagetables

import (
	"fmt"
	"time"

	"raspiboot.dev/raspiboot/pkg/errors"
	"raspiboot.dev/raspiboot/pkg/frame"
	"raspiboot.dev/raspiboot/pkg/hostarch"
	"raspiboot.dev/raspiboot/pkg/log"
	"raspiboot.dev/raspiboot/pkg/ring0"
)

var (
	// ErrPageSizeMismatch is returned by New when the platform page size is
	// not 4KiB.
	ErrPageSizeMismatch = errors.New(errors.PageSizeMismatch, "platform page size is not 4KiB")

	// ErrGranuleUnsupported is returned by New when the CPU cannot use a
	// 4KiB translation granule.
	ErrGranuleUnsupported = errors.New(errors.GranuleUnsupported, "CPU does not support the 4KiB granule")

	// ErrMisaligned is returned when an address is not aligned to the
	// mapping size.
	ErrMisaligned = errors.New(errors.Misaligned, "address not aligned to the mapping size")

	// ErrNonCanonical is returned for virtual addresses outside the half
	// translated by the tables.
	ErrNonCanonical = errors.New(errors.InvalidArgument, "virtual address outside the translated half")

	// ErrPhysicalRange is returned for output addresses beyond 48 bits.
	ErrPhysicalRange = errors.New(errors.InvalidArgument, "physical address beyond the output address size")

	// ErrExhausted is returned when no frame is left for a table.
	ErrExhausted = errors.New(errors.AllocationExhausted, "no frame for a translation table")

	// ErrTranslationNotFound is returned when a virtual address is not
	// mapped.
	ErrTranslationNotFound = errors.New(errors.TranslationNotFound, "virtual address not mapped")

	// ErrAlreadyMapped is the panic value of a remap. Its kind is fatal.
	ErrAlreadyMapped = errors.New(errors.AlreadyMapped, "virtual address already mapped")
)

// Opts are the options for New.
type Opts struct {
	// Upper selects the TTBR1_EL1 half.
	Upper bool

	// Logger receives mapping logs. Nil means the package default.
	Logger log.Logger
}

// PageTables is a set of translation tables for one half of the address
// space.
type PageTables struct {
	// upper is true for the TTBR1_EL1 half.
	upper bool

	// tr reaches table contents.
	tr hostarch.Translation

	// alloc provides frames for tables.
	alloc frame.Allocator

	// root is the physical address of the level-0 table.
	root hostarch.PhysAddr

	// tables is the number of tables allocated, including the root.
	tables int

	// active is set once the tables are installed in a TTBR.
	active bool

	log    log.Logger
	mapLog log.Logger
}

// New returns empty tables with a root table allocated from alloc.
//
// The platform must use 4KiB pages and support the 4KiB granule. Both are
// checked before anything is allocated.
func New(cpu ring0.Features, tr hostarch.Translation, alloc frame.Allocator, opts Opts) (*PageTables, error) {
	if ps := cpu.PageSize(); ps != hostarch.PageSize {
		return nil, fmt.Errorf("page size %d: %w", ps, ErrPageSizeMismatch)
	}
	if !cpu.Supports4KGranule() {
		return nil, ErrGranuleUnsupported
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Log()
	}
	p := &PageTables{
		upper:  opts.Upper,
		tr:     tr,
		alloc:  alloc,
		log:    logger,
		mapLog: log.RateLimitedLogger(logger, time.Second, 32),
	}
	root, err := p.newTable()
	if err != nil {
		return nil, err
	}
	p.root = root
	logger.Debugf("pagetables: %s root at %v", p.half(), root)
	return p, nil
}

// newTable allocates a zeroed table.
func (p *PageTables) newTable() (hostarch.PhysAddr, error) {
	phys, err := p.alloc.AllocateZeroedPages(1, p.tr)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExhausted, err)
	}
	p.tables++
	return phys, nil
}

func (p *PageTables) half() string {
	if p.upper {
		return "TTBR1"
	}
	return "TTBR0"
}

// Upper returns true if p translates the upper half.
func (p *PageTables) Upper() bool {
	return p.upper
}

// RootPhysical returns the physical address of the root table, the value
// installed in a TTBR.
func (p *PageTables) RootPhysical() hostarch.PhysAddr {
	return p.root
}

// Tables returns the number of tables allocated, including the root.
func (p *PageTables) Tables() int {
	return p.tables
}

// SetTranslation replaces the translation used to reach table contents,
// e.g. once the MMU is on and physical memory is reached through the linear
// map.
func (p *PageTables) SetTranslation(tr hostarch.Translation) {
	p.tr = tr
}

// contains returns true if [virt, virt+length) lies in the half translated
// by p. length must be positive.
func (p *PageTables) contains(virt hostarch.Addr, length uint64) bool {
	last, ok := virt.AddLength(length - 1)
	if !ok {
		return false
	}
	if p.upper {
		return virt >= hostarch.UpperBottom
	}
	return last < hostarch.LowerTop
}

// walk descends towards the entry for virt in the table at level.
//
// It stops early at a leaf, or at an invalid entry unless alloc is set, in
// which case missing tables are allocated. It returns the entry where it
// stopped and that entry's level.
func (p *PageTables) walk(virt hostarch.Addr, level int, alloc bool) (*PTE, int, error) {
	table := p.ptes(p.root)
	for l := topLevel; ; l++ {
		e := &table[index(virt, l)]
		if l == level {
			return e, l, nil
		}
		switch {
		case e.IsTable(l):
			table = p.ptes(e.TableAddress())
		case !e.Valid() && alloc:
			phys, err := p.newTable()
			if err != nil {
				return nil, l, fmt.Errorf("level %d table for %v: %w", l+1, virt, err)
			}
			*e = makeTable(phys)
			table = p.ptes(phys)
		default:
			return e, l, nil
		}
	}
}

// checkMapping validates the arguments of a mapping of the given size.
func (p *PageTables) checkMapping(virt hostarch.Addr, phys hostarch.PhysAddr, size uint64) error {
	if !virt.IsAligned(size) || !phys.IsAligned(size) {
		return fmt.Errorf("%v -> %v, size %#x: %w", virt, phys, size, ErrMisaligned)
	}
	if !p.contains(virt, size) {
		return fmt.Errorf("%v in %s tables: %w", virt, p.half(), ErrNonCanonical)
	}
	if end, ok := phys.AddLength(size); !ok || end > hostarch.MaxPhysAddr {
		return fmt.Errorf("%v, size %#x: %w", phys, size, ErrPhysicalRange)
	}
	return nil
}

// mapLeaf installs a leaf at level mapping virt to phys.
//
// Finding anything valid where the leaf goes, or a leaf above it, means the
// range is already mapped. That is a fatal programming error, so it panics.
func (p *PageTables) mapLeaf(level int, virt hostarch.Addr, phys hostarch.PhysAddr, mt hostarch.MemoryType) error {
	size := levelSize(level)
	if err := p.checkMapping(virt, phys, size); err != nil {
		return err
	}
	e, at, err := p.walk(virt, level, true)
	if err != nil {
		return err
	}
	if at != level || e.Valid() {
		panic(errors.New(errors.AlreadyMapped,
			fmt.Sprintf("%v: mapping %v -> %v at level %d over %v at level %d", ErrAlreadyMapped, virt, phys, level, *e, at)))
	}
	*e = makeLeaf(level, phys, mt)
	p.mapLog.Debugf("pagetables: %s map %v -> %v (%v, %s)", p.half(), virt, phys, hostarch.Size(size), mt.ShortString())
	return nil
}

// Map1GiB maps the 1GiB region at virt to phys with a level-1 block.
func (p *PageTables) Map1GiB(virt hostarch.Addr, phys hostarch.PhysAddr, mt hostarch.MemoryType) error {
	return p.mapLeaf(1, virt, phys, mt)
}

// Map2MiB maps the 2MiB region at virt to phys with a level-2 block.
func (p *PageTables) Map2MiB(virt hostarch.Addr, phys hostarch.PhysAddr, mt hostarch.MemoryType) error {
	return p.mapLeaf(2, virt, phys, mt)
}

// Map4KiB maps the page at virt to phys with a level-3 page descriptor.
func (p *PageTables) Map4KiB(virt hostarch.Addr, phys hostarch.PhysAddr, mt hostarch.MemoryType) error {
	return p.mapLeaf(leafLevel, virt, phys, mt)
}

// unmapLeaf removes the leaf at level mapping virt. Tables emptied by the
// removal stay linked, since not every allocator can take frames back.
func (p *PageTables) unmapLeaf(level int, virt hostarch.Addr) error {
	size := levelSize(level)
	if !virt.IsAligned(size) {
		return fmt.Errorf("%v, size %#x: %w", virt, size, ErrMisaligned)
	}
	if !p.contains(virt, size) {
		return fmt.Errorf("%v in %s tables: %w", virt, p.half(), ErrNonCanonical)
	}
	p.checkInactive(virt)
	e, at, _ := p.walk(virt, level, false)
	if at != level || !e.IsLeaf(level) {
		return fmt.Errorf("%v at level %d: %w", virt, level, ErrTranslationNotFound)
	}
	*e = 0
	p.mapLog.Debugf("pagetables: %s unmap %v (%v)", p.half(), virt, hostarch.Size(size))
	return nil
}

// checkInactive panics if p is installed. Removing live translations is not
// supported.
func (p *PageTables) checkInactive(virt hostarch.Addr) {
	if p.active {
		panic(errors.New(errors.InvalidArgument, fmt.Sprintf("unmap of %v in active %s tables", virt, p.half())))
	}
}

// Unmap1GiB removes the level-1 block mapping virt.
func (p *PageTables) Unmap1GiB(virt hostarch.Addr) error {
	return p.unmapLeaf(1, virt)
}

// Unmap2MiB removes the level-2 block mapping virt.
func (p *PageTables) Unmap2MiB(virt hostarch.Addr) error {
	return p.unmapLeaf(2, virt)
}

// Unmap4KiB removes the page mapping virt.
func (p *PageTables) Unmap4KiB(virt hostarch.Addr) error {
	return p.unmapLeaf(leafLevel, virt)
}

// VirtToPhys returns the physical address virt translates to, walking down
// to whichever level holds the leaf.
func (p *PageTables) VirtToPhys(virt hostarch.Addr) (hostarch.PhysAddr, error) {
	if !p.contains(virt, 1) {
		return 0, fmt.Errorf("%v in %s tables: %w", virt, p.half(), ErrTranslationNotFound)
	}
	e, at, _ := p.walk(virt, leafLevel, false)
	if !e.IsLeaf(at) {
		return 0, fmt.Errorf("%v: %w", virt, ErrTranslationNotFound)
	}
	offset := uint64(virt) & (levelSize(at) - 1)
	return e.OutputAddress(at) + hostarch.PhysAddr(offset), nil
}

// Mapping is one leaf of a set of tables.
type Mapping struct {
	Virt  hostarch.Addr
	Phys  hostarch.PhysAddr
	Size  uint64
	Type  hostarch.MemoryType
	Level int
}

// String implements fmt.Stringer.String.
func (m Mapping) String() string {
	return fmt.Sprintf("%v -> %v %8v %s", m.Virt, m.Phys, hostarch.Size(m.Size), m.Type.ShortString())
}

// ForEachMapping calls fn on every leaf in increasing virtual address order
// until fn returns false.
func (p *PageTables) ForEachMapping(fn func(Mapping) bool) {
	var base hostarch.Addr
	if p.upper {
		base = hostarch.UpperBottom
	}
	p.visit(p.root, topLevel, base, fn)
}

func (p *PageTables) visit(table hostarch.PhysAddr, level int, base hostarch.Addr, fn func(Mapping) bool) bool {
	ptes := p.ptes(table)
	for i := range ptes {
		e := ptes[i]
		virt := base | hostarch.Addr(uint64(i)<<levelShift(level))
		switch {
		case e.IsTable(level):
			if !p.visit(e.TableAddress(), level+1, virt, fn) {
				return false
			}
		case e.IsLeaf(level):
			mt, _ := e.MemoryType()
			if !fn(Mapping{
				Virt:  virt,
				Phys:  e.OutputAddress(level),
				Size:  levelSize(level),
				Type:  mt,
				Level: level,
			}) {
				return false
			}
		}
	}
	return true
}
