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

package boot

import (
	"fmt"

	"raspiboot.dev/raspiboot/pkg/errors"
	"raspiboot.dev/raspiboot/pkg/hostarch"
	"raspiboot.dev/raspiboot/pkg/memmap"
)

var (
	// ErrMapFull is returned when the memory map cannot hold a region.
	ErrMapFull = errors.New(errors.AllocationExhausted, "memory map capacity exceeded")

	// ErrNoPoolMemory is returned when no free region can hold the frame
	// pools.
	ErrNoPoolMemory = errors.New(errors.AllocationExhausted, "no free region large enough for the frame pools")
)

// addEntry adds e to mm.
func addEntry(ctx *Context, mm *memmap.MemoryMap, e memmap.Entry) error {
	if !mm.AddEntry(e) {
		return fmt.Errorf("adding %v to a map of %d entries: %w", e, mm.Len(), ErrMapFull)
	}
	ctx.logger().Infof("memoryRegion: %-8v [%#x, %#x) %v", e.Kind, uint64(e.Base), uint64(e.End), e.Size())
	return nil
}

// BuildMemoryMap returns the memory map of the machine: every RAM block the
// device tree reports as Free, then the device windows as MMIO, the zero page
// and the bootloader image as Reserved, and the kernel image and stack under
// their own kinds.
func BuildMemoryMap(ctx *Context) (*memmap.MemoryMap, error) {
	mm := memmap.New(ctx.mapCapacity())
	var err error
	ctx.Memory.ForEachMemory(func(base, size uint64) {
		if err != nil {
			return
		}
		top, ok := hostarch.PhysAddr(base).AddLength(size)
		if !ok {
			ctx.logger().Warningf("memoryRegion: ignoring [%#x, +%#x), wraps the address space", base, size)
			return
		}
		// Only whole pages are usable.
		start, ok := hostarch.PhysAddr(base).RoundUp()
		if !ok {
			return
		}
		end := top.RoundDown()
		if end <= start {
			ctx.logger().Warningf("memoryRegion: ignoring [%#x, +%#x), less than a page", base, size)
			return
		}
		err = addEntry(ctx, mm, memmap.Entry{Base: start, End: end, Kind: memmap.Free})
	})
	if err != nil {
		return nil, err
	}

	for _, d := range ctx.Devices {
		if err := addEntry(ctx, mm, memmap.Entry{Base: d.Start, End: d.End, Kind: memmap.MMIO}); err != nil {
			return nil, err
		}
	}

	l := &ctx.Layout
	for _, e := range []memmap.Entry{
		{Base: 0, End: hostarch.PageSize, Kind: memmap.Reserved},
		{Base: l.BootloaderStart, End: l.BootloaderEnd, Kind: memmap.Reserved},
		{Base: l.KernelPhysStart, End: l.KernelPhysEnd, Kind: memmap.Kernel},
		{Base: l.StackPhysStart, End: l.StackPhysEnd, Kind: memmap.Stack},
	} {
		if err := addEntry(ctx, mm, e); err != nil {
			return nil, err
		}
	}
	return mm, nil
}

// Pools are the two disjoint frame pools of the bring-up.
type Pools struct {
	// Temporary backs the identity tables, abandoned after the jump.
	Temporary hostarch.PhysRange

	// Permanent backs the kernel tables.
	Permanent hostarch.PhysRange
}

// PartitionPools carves the temporary pool, then the permanent pool right
// after it, from the first Free entry of mm below the physical limit that
// holds both.
func PartitionPools(mm *memmap.MemoryMap, l *Layout) (Pools, error) {
	temp := l.TempPoolPages * hostarch.PageSize
	perm := l.PermPoolPages * hostarch.PageSize
	var (
		pools Pools
		found bool
	)
	mm.ForEach(func(e memmap.Entry) bool {
		if e.Kind != memmap.Free {
			return true
		}
		// Reservations need not be page aligned, so neither are the
		// remainders they leave.
		start, ok := e.Base.RoundUp()
		if !ok {
			return true
		}
		end := min(e.End, l.PhysLimit).RoundDown()
		if end <= start || uint64(end-start) < temp+perm {
			return true
		}
		tempEnd := start + hostarch.PhysAddr(temp)
		pools = Pools{
			Temporary: hostarch.PhysRange{Start: start, End: tempEnd},
			Permanent: hostarch.PhysRange{Start: tempEnd, End: tempEnd + hostarch.PhysAddr(perm)},
		}
		found = true
		return false
	})
	if !found {
		return Pools{}, fmt.Errorf("%d + %d pages: %w", l.TempPoolPages, l.PermPoolPages, ErrNoPoolMemory)
	}
	return pools, nil
}
