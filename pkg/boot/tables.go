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
	"raspiboot.dev/raspiboot/pkg/frame"
	"raspiboot.dev/raspiboot/pkg/hostarch"
	"raspiboot.dev/raspiboot/pkg/ring0"
	"raspiboot.dev/raspiboot/pkg/ring0/pagetables"
)

// BuildIdentity returns lower-half tables mapping [0, PhysLimit) onto itself
// with 1GiB device blocks, so that the running code stays reachable while
// translation is turned on.
func BuildIdentity(ctx *Context, alloc frame.Allocator) (*pagetables.PageTables, error) {
	pt, err := pagetables.New(ctx.CPU, ctx.Physical, alloc, pagetables.Opts{Logger: ctx.logger()})
	if err != nil {
		return nil, fmt.Errorf("identity tables: %w", err)
	}
	for p := hostarch.PhysAddr(0); p < ctx.Layout.PhysLimit; p += hostarch.GiantPageSize {
		if err := pt.Map1GiB(hostarch.Addr(p), p, hostarch.MemoryTypeDevice); err != nil {
			return nil, fmt.Errorf("identity map of %v: %w", p, err)
		}
	}
	ctx.logger().Infof("identityRegion: [%#x, %#x) => physical [%#x, %#x)", 0, uint64(ctx.Layout.PhysLimit), 0, uint64(ctx.Layout.PhysLimit))
	return pt, nil
}

// mapPages maps size bytes at virt to phys one page at a time.
func mapPages(pt *pagetables.PageTables, virt hostarch.Addr, phys hostarch.PhysAddr, size uint64, mt hostarch.MemoryType) error {
	for off := uint64(0); off < size; off += hostarch.PageSize {
		if err := pt.Map4KiB(virt+hostarch.Addr(off), phys+hostarch.PhysAddr(off), mt); err != nil {
			return err
		}
	}
	return nil
}

// BuildPermanent returns the upper-half tables the kernel runs on: its image
// and stack in 4KiB pages, and the linear map of [0, PhysLimit) at
// LinearBase in 1GiB blocks, all normal write-back memory.
func BuildPermanent(ctx *Context, alloc frame.Allocator) (*pagetables.PageTables, error) {
	l := &ctx.Layout
	pt, err := pagetables.New(ctx.CPU, ctx.Physical, alloc, pagetables.Opts{Upper: true, Logger: ctx.logger()})
	if err != nil {
		return nil, fmt.Errorf("permanent tables: %w", err)
	}
	for _, r := range []struct {
		name  string
		virt  hostarch.Addr
		start hostarch.PhysAddr
		end   hostarch.PhysAddr
	}{
		{"kernel", l.KernelVirtBase, l.KernelPhysStart, l.KernelPhysEnd},
		{"stack", l.StackVirtBase, l.StackPhysStart, l.StackPhysEnd},
	} {
		size := uint64(r.end - r.start)
		if err := mapPages(pt, r.virt, r.start, size, hostarch.MemoryTypeNormalWriteBack); err != nil {
			return nil, fmt.Errorf("%s mapping: %w", r.name, err)
		}
		ctx.logger().Infof("%sRegion: virtual [%#x, %#x) => physical [%#x, %#x)", r.name, uint64(r.virt), uint64(r.virt)+size, uint64(r.start), uint64(r.end))
	}
	for p := hostarch.PhysAddr(0); p < l.PhysLimit; p += hostarch.GiantPageSize {
		if err := pt.Map1GiB(l.LinearBase+hostarch.Addr(p), p, hostarch.MemoryTypeNormalWriteBack); err != nil {
			return nil, fmt.Errorf("linear map of %v: %w", p, err)
		}
	}
	ctx.logger().Infof("linearRegion: virtual [%#x, %#x) => physical [%#x, %#x)", uint64(l.LinearBase), uint64(l.LinearBase)+uint64(l.PhysLimit), 0, uint64(l.PhysLimit))
	return pt, nil
}

// ErrWrongHalf is returned when tables are installed in the wrong TTBR.
var ErrWrongHalf = errors.New(errors.InvalidArgument, "tables installed in the wrong half")

// EnableMMU turns on translation with lower and upper installed.
//
// The order is fixed: MAIR_EL1, then both table base registers, then
// TCR_EL1 and a barrier, and only then SCTLR_EL1 followed by a barrier.
// Anything else leaves translation undefined.
func EnableMMU(cpu ring0.CPU, lower, upper *pagetables.PageTables) error {
	if lower.Upper() || !upper.Upper() {
		return ErrWrongHalf
	}
	cpu.WriteMAIR(hostarch.MAIRValue())
	lower.SetActive(cpu)
	upper.SetActive(cpu)
	cpu.WriteTCR(ring0.TCRValue())
	cpu.ISB()
	cpu.WriteSCTLR(cpu.ReadSCTLR() | ring0.SCTLREnable)
	cpu.ISB()
	return nil
}
