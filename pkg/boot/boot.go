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

// Package boot brings up the memory system of the second stage and hands
// control to the kernel.
//
// The sequence is:
//
//	memory map -> frame pools -> identity tables (lower half)
//	           -> permanent tables (upper half) -> MMU on -> kernel
//
// Any failure halts the CPU. The identity tables and the temporary pool that
// backs them are abandoned once the kernel runs; the kernel adopts the
// permanent tables along with the allocator that built them.
package boot

import (
	"fmt"

	"raspiboot.dev/raspiboot/pkg/devicetree"
	"raspiboot.dev/raspiboot/pkg/errors"
	"raspiboot.dev/raspiboot/pkg/frame"
	"raspiboot.dev/raspiboot/pkg/hostarch"
	"raspiboot.dev/raspiboot/pkg/log"
	"raspiboot.dev/raspiboot/pkg/memmap"
	"raspiboot.dev/raspiboot/pkg/ring0"
	"raspiboot.dev/raspiboot/pkg/ring0/pagetables"
)

// DefaultMapCapacity is the memory map capacity used when none is given.
const DefaultMapCapacity = 64

// ErrEntryUnmapped is returned when the kernel entry point does not translate
// to the kernel image once translation is on.
var ErrEntryUnmapped = errors.New(errors.TranslationNotFound, "kernel entry point is not mapped")

// Context is the machine the bring-up runs on.
type Context struct {
	// CPU is the boot CPU.
	CPU ring0.CPU

	// Memory reports RAM.
	Memory devicetree.MemoryEnumerator

	// Devices are MMIO windows, reserved in the memory map.
	Devices []hostarch.PhysRange

	// Layout places the images and sizes the pools.
	Layout Layout

	// Physical addresses memory while translation is off.
	Physical hostarch.Translation

	// AfterEnable returns how memory is addressed once translation is on,
	// given the permanent tables and the linear map base. Nil means
	// Linear.
	AfterEnable func(pt *pagetables.PageTables, base hostarch.Addr) hostarch.Translation

	// Log receives progress. Nil means log.Log().
	Log log.Logger

	// MapCapacity bounds the memory map. Zero means DefaultMapCapacity.
	MapCapacity int
}

func (ctx *Context) logger() log.Logger {
	if ctx.Log == nil {
		return log.Log()
	}
	return ctx.Log
}

func (ctx *Context) mapCapacity() int {
	if ctx.MapCapacity == 0 {
		return DefaultMapCapacity
	}
	return ctx.MapCapacity
}

// Linear returns the translation of the linear map at base.
func Linear(_ *pagetables.PageTables, base hostarch.Addr) hostarch.Translation {
	return hostarch.Offset(uintptr(base))
}

// Handoff is what the kernel inherits.
type Handoff struct {
	// PageTables are the live upper-half tables.
	PageTables *pagetables.PageTables

	// Allocator is the permanent pool, positioned after the frames already
	// used by PageTables.
	Allocator *frame.Bump

	// MemoryMap describes all of RAM, including both pools.
	MemoryMap *memmap.MemoryMap

	// Translation addresses physical memory through the linear map.
	Translation hostarch.Translation
}

// Kernel receives the handoff right before control is transferred to its
// entry point.
type Kernel interface {
	Adopt(h *Handoff)
}

// KernelFunc adapts a function to Kernel.
type KernelFunc func(h *Handoff)

// Adopt implements Kernel.Adopt.
func (f KernelFunc) Adopt(h *Handoff) { f(h) }

// Run brings up memory, hands it to k and jumps to the kernel entry point.
// On failure it halts the CPU with the cause.
func Run(ctx *Context, k Kernel) {
	h, err := guard(ctx)
	if err != nil {
		ctx.logger().Warningf("boot: %v", err)
		ctx.CPU.Halt(err)
		return
	}
	k.Adopt(h)
	ctx.logger().Infof("boot: jumping to kernel at %v", ctx.Layout.KernelEntry)
	ctx.CPU.Jump(ctx.Layout.KernelEntry)
}

// guard runs bringUp, turning fatal panics into errors.
func guard(ctx *Context) (h *Handoff, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(error)
		if !ok {
			panic(r)
		}
		h, err = nil, fmt.Errorf("fatal: %w", e)
	}()
	return bringUp(ctx)
}

func bringUp(ctx *Context) (*Handoff, error) {
	l := &ctx.Layout
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if ctx.Physical == nil {
		ctx.Physical = hostarch.Identity
	}

	mm, err := BuildMemoryMap(ctx)
	if err != nil {
		return nil, err
	}
	pools, err := PartitionPools(mm, l)
	if err != nil {
		return nil, err
	}
	ctx.logger().Infof("boot: temporary pool %v, permanent pool %v", pools.Temporary, pools.Permanent)

	temp, err := frame.NewBump(pools.Temporary.Start, pools.Temporary.End)
	if err != nil {
		return nil, err
	}
	perm, err := frame.NewBump(pools.Permanent.Start, pools.Permanent.End)
	if err != nil {
		return nil, err
	}

	identity, err := BuildIdentity(ctx, temp)
	if err != nil {
		return nil, err
	}
	permanent, err := BuildPermanent(ctx, perm)
	if err != nil {
		return nil, err
	}
	ctx.logger().Infof("boot: %d identity tables, %d permanent tables", identity.Tables(), permanent.Tables())

	// The kernel may reclaim the temporary pool; it keeps the permanent one.
	for _, e := range []memmap.Entry{
		{Base: pools.Temporary.Start, End: pools.Temporary.End, Kind: memmap.Reclaim},
		{Base: pools.Permanent.Start, End: pools.Permanent.End, Kind: memmap.Reserved},
	} {
		if err := addEntry(ctx, mm, e); err != nil {
			return nil, err
		}
	}

	if err := EnableMMU(ctx.CPU, identity, permanent); err != nil {
		return nil, err
	}
	after := ctx.AfterEnable
	if after == nil {
		after = Linear
	}
	tr := after(permanent, l.LinearBase)
	permanent.SetTranslation(tr)

	phys, err := permanent.Translate(l.KernelEntry)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", l.KernelEntry, ErrEntryUnmapped)
	}
	if want := l.KernelPhysStart + hostarch.PhysAddr(l.KernelEntry-l.KernelVirtBase); phys != want {
		return nil, fmt.Errorf("%v translates to %v, not %v: %w", l.KernelEntry, phys, want, ErrEntryUnmapped)
	}

	return &Handoff{
		PageTables:  permanent,
		Allocator:   perm,
		MemoryMap:   mm,
		Translation: tr,
	}, nil
}
