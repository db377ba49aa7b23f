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
	goerrors "errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"raspiboot.dev/raspiboot/pkg/devicetree"
	"raspiboot.dev/raspiboot/pkg/frame"
	"raspiboot.dev/raspiboot/pkg/hostarch"
	"raspiboot.dev/raspiboot/pkg/log"
	"raspiboot.dev/raspiboot/pkg/memmap"
	"raspiboot.dev/raspiboot/pkg/physmem"
	"raspiboot.dev/raspiboot/pkg/ring0"
	"raspiboot.dev/raspiboot/pkg/ring0/pagetables"
)

const (
	ramSize = 16 << 20

	kernelVirt = hostarch.Addr(0xffff800000000000)
	stackVirt  = hostarch.Addr(0xffff900000000000)
)

func testLayout() Layout {
	return Layout{
		KernelPhysStart: 0x200000,
		KernelPhysEnd:   0x210000,
		KernelVirtBase:  kernelVirt,
		KernelEntry:     kernelVirt + 0x1000,
		StackPhysStart:  0x300000,
		StackPhysEnd:    0x308000,
		StackVirtBase:   stackVirt,
		BootloaderStart: 0x80000,
		BootloaderEnd:   0x100000,
		PhysLimit:       hostarch.GiantPageSize,
		LinearBase:      DefaultLinearBase,
		TempPoolPages:   8,
		PermPoolPages:   16,
	}
}

type machine struct {
	mem *physmem.Memory
	cpu *ring0.Recorder
	ctx *Context
}

func newMachine(t *testing.T) *machine {
	t.Helper()
	mem := physmem.New()
	if err := mem.AddBank(0, ramSize); err != nil {
		t.Fatalf("AddBank failed: %v", err)
	}
	t.Cleanup(func() { mem.Release() })
	cpu := &ring0.Recorder{}
	return &machine{
		mem: mem,
		cpu: cpu,
		ctx: &Context{
			CPU:      cpu,
			Memory:   mem,
			Layout:   testLayout(),
			Physical: mem.Translation(),
			AfterEnable: func(pt *pagetables.PageTables, base hostarch.Addr) hostarch.Translation {
				return mem.Through(pt.Walker(mem.Translation()), base)
			},
			Log: &log.BasicLogger{Level: log.Debug, Emitter: &log.TestEmitter{TestLogger: t}},
		},
	}
}

func newPool(t *testing.T, start hostarch.PhysAddr, pages uint64) *frame.Bump {
	t.Helper()
	b, err := frame.NewBump(start, start+hostarch.PhysAddr(pages*hostarch.PageSize))
	if err != nil {
		t.Fatalf("NewBump failed: %v", err)
	}
	return b
}

// boot runs the bring-up and returns the handoff, or the halt cause.
func (m *machine) boot(t *testing.T) (h *Handoff, halted error) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			he, ok := r.(*ring0.HaltError)
			if !ok {
				panic(r)
			}
			h, halted = nil, he.Err
		}
	}()
	Run(m.ctx, KernelFunc(func(got *Handoff) { h = got }))
	return h, nil
}

func TestRun(t *testing.T) {
	m := newMachine(t)
	var jumped hostarch.Addr
	m.cpu.OnJump = func(entry hostarch.Addr) { jumped = entry }

	h, err := m.boot(t)
	if err != nil {
		t.Fatalf("boot halted: %v", err)
	}
	if err := m.cpu.CheckOrder(); err != nil {
		t.Errorf("CheckOrder: %v", err)
	}
	if want := m.ctx.Layout.KernelEntry; jumped != want {
		t.Errorf("jumped to %v, wanted %v", jumped, want)
	}
	events := m.cpu.Events()
	if last := events[len(events)-1]; last.Kind != ring0.EventJump {
		t.Errorf("last event is %v, wanted the jump", last)
	}

	for _, tc := range []struct {
		kind ring0.EventKind
		want uint64
	}{
		{ring0.EventMAIR, hostarch.MAIRValue()},
		{ring0.EventTCR, ring0.TCRValue()},
		{ring0.EventTTBR1, ring0.TTBRValue(h.PageTables.RootPhysical())},
		{ring0.EventSCTLR, ring0.SCTLREnable},
	} {
		got, ok := m.cpu.Last(tc.kind)
		if !ok || got != tc.want {
			t.Errorf("%v: got (%#x, %t), wanted %#x", tc.kind, got, ok, tc.want)
		}
	}
}

func TestRunHandoff(t *testing.T) {
	m := newMachine(t)
	h, err := m.boot(t)
	if err != nil {
		t.Fatalf("boot halted: %v", err)
	}

	// Temporary pool [0x1000, 0x9000), permanent [0x9000, 0x19000).
	want := []memmap.Entry{
		{Base: 0x0, End: 0x1000, Kind: memmap.Reserved},
		{Base: 0x1000, End: 0x9000, Kind: memmap.Reclaim},
		{Base: 0x9000, End: 0x19000, Kind: memmap.Reserved},
		{Base: 0x19000, End: 0x80000, Kind: memmap.Free},
		{Base: 0x80000, End: 0x100000, Kind: memmap.Reserved},
		{Base: 0x100000, End: 0x200000, Kind: memmap.Free},
		{Base: 0x200000, End: 0x210000, Kind: memmap.Kernel},
		{Base: 0x210000, End: 0x300000, Kind: memmap.Free},
		{Base: 0x300000, End: 0x308000, Kind: memmap.Stack},
		{Base: 0x308000, End: ramSize, Kind: memmap.Free},
	}
	if diff := cmp.Diff(want, h.MemoryMap.Entries()); diff != "" {
		t.Errorf("memory map mismatch (-want +got):\n%s", diff)
	}

	// Root, then three tables each for the kernel and the stack, then one
	// for the linear map.
	if got := h.PageTables.Tables(); got != 8 {
		t.Errorf("permanent tables: got %d, wanted 8", got)
	}
	if got, want := h.Allocator.AllocatedRange(), (hostarch.PhysRange{Start: 0x9000, End: 0x11000}); got != want {
		t.Errorf("permanent pool used %v, wanted %v", got, want)
	}
	if !h.PageTables.Active() || !h.PageTables.Upper() {
		t.Errorf("handed off tables are not the active upper half")
	}

	// The linear map reaches the same memory as physical addressing.
	for _, p := range []hostarch.PhysAddr{0x201000, 0x9000, ramSize - hostarch.PageSize} {
		if got, want := h.Translation(p), m.mem.Translate(p); got != want {
			t.Errorf("linear view of %v at %#x, wanted %#x", p, got, want)
		}
	}

	// The kernel keeps growing its tables from the permanent pool.
	if err := h.PageTables.MapRange(kernelVirt+0x100000, 0x400000, 0x2000, hostarch.MemoryTypeNormalWriteBack); err != nil {
		t.Fatalf("MapRange after handoff failed: %v", err)
	}
	if got, err := h.PageTables.Translate(kernelVirt + 0x101008); err != nil || got != 0x401008 {
		t.Errorf("Translate: got (%v, %v), wanted 0x401008", got, err)
	}
}

func TestRunMappings(t *testing.T) {
	m := newMachine(t)
	h, err := m.boot(t)
	if err != nil {
		t.Fatalf("boot halted: %v", err)
	}
	var got []pagetables.Mapping
	h.PageTables.ForEachMapping(func(mp pagetables.Mapping) bool {
		got = append(got, mp)
		return true
	})
	wb := hostarch.MemoryTypeNormalWriteBack
	want := []pagetables.Mapping{{Virt: DefaultLinearBase, Phys: 0, Size: hostarch.GiantPageSize, Type: wb, Level: 1}}
	for off := uint64(0); off < 0x10000; off += hostarch.PageSize {
		want = append(want, pagetables.Mapping{Virt: kernelVirt + hostarch.Addr(off), Phys: 0x200000 + hostarch.PhysAddr(off), Size: hostarch.PageSize, Type: wb, Level: 3})
	}
	for off := uint64(0); off < 0x8000; off += hostarch.PageSize {
		want = append(want, pagetables.Mapping{Virt: stackVirt + hostarch.Addr(off), Phys: 0x300000 + hostarch.PhysAddr(off), Size: hostarch.PageSize, Type: wb, Level: 3})
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("permanent mappings mismatch (-want +got):\n%s", diff)
	}
}

func TestRunHalts(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(m *machine)
		want   error
	}{
		{
			name:   "16K pages",
			modify: func(m *machine) { m.cpu.NativePageSize = 16 << 10 },
			want:   pagetables.ErrPageSizeMismatch,
		},
		{
			name:   "no 4K granule",
			modify: func(m *machine) { m.cpu.MMFR0 = 0xf << 28 },
			want:   pagetables.ErrGranuleUnsupported,
		},
		{
			name:   "permanent pool too small",
			modify: func(m *machine) { m.ctx.Layout.PermPoolPages = 3 },
			want:   pagetables.ErrExhausted,
		},
		{
			name:   "pools larger than RAM",
			modify: func(m *machine) { m.ctx.Layout.TempPoolPages = ramSize / hostarch.PageSize },
			want:   ErrNoPoolMemory,
		},
		{
			name:   "map capacity",
			modify: func(m *machine) { m.ctx.MapCapacity = 3 },
			want:   ErrMapFull,
		},
		{
			name:   "bad layout",
			modify: func(m *machine) { m.ctx.Layout.KernelEntry = stackVirt },
			want:   ErrLayout,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newMachine(t)
			tc.modify(m)
			h, err := m.boot(t)
			if h != nil || !goerrors.Is(err, tc.want) {
				t.Fatalf("boot: got (%v, %v), wanted a halt with %v", h, err, tc.want)
			}
			if _, ok := m.cpu.Last(ring0.EventHalt); !ok {
				t.Errorf("CPU not halted")
			}
			if _, ok := m.cpu.Last(ring0.EventSCTLR); ok {
				t.Errorf("translation enabled before halting")
			}
			if _, ok := m.cpu.Last(ring0.EventJump); ok {
				t.Errorf("jumped to the kernel after a failure")
			}
		})
	}
}

func TestBuildMemoryMap(t *testing.T) {
	ctx := &Context{
		Memory: devicetree.Static{
			{Base: 0x800, Size: 0x3000},
			{Base: 0x10000, Size: 0x800},
			{Base: 0x100000, Size: 0x400000},
			{Base: 0xfffffffffffff000, Size: 0x2000},
		},
		Layout: testLayout(),
		Log:    &log.BasicLogger{Level: log.Debug, Emitter: &log.TestEmitter{TestLogger: t}},
	}
	mm, err := BuildMemoryMap(ctx)
	if err != nil {
		t.Fatalf("BuildMemoryMap failed: %v", err)
	}
	// The first block is rounded inward, the second is too small to hold a
	// page and the last wraps. The bootloader lies outside RAM but is still
	// reserved.
	want := []memmap.Entry{
		{Base: 0x0, End: 0x1000, Kind: memmap.Reserved},
		{Base: 0x1000, End: 0x3000, Kind: memmap.Free},
		{Base: 0x80000, End: 0x100000, Kind: memmap.Reserved},
		{Base: 0x100000, End: 0x200000, Kind: memmap.Free},
		{Base: 0x200000, End: 0x210000, Kind: memmap.Kernel},
		{Base: 0x210000, End: 0x300000, Kind: memmap.Free},
		{Base: 0x300000, End: 0x308000, Kind: memmap.Stack},
		{Base: 0x308000, End: 0x500000, Kind: memmap.Free},
	}
	if diff := cmp.Diff(want, mm.Entries()); diff != "" {
		t.Errorf("memory map mismatch (-want +got):\n%s", diff)
	}
}

func TestPartitionPools(t *testing.T) {
	l := testLayout()
	l.TempPoolPages, l.PermPoolPages = 2, 2
	mm := memmap.New(8)
	for _, e := range []memmap.Entry{
		{Base: 0x1000, End: 0x3000, Kind: memmap.Free},
		{Base: 0x3000, End: 0x10000, Kind: memmap.Reserved},
		{Base: hostarch.GiantPageSize - 0x2000, End: hostarch.GiantPageSize + 0x100000, Kind: memmap.Free},
		{Base: 0x10000, End: 0x20000, Kind: memmap.Free},
	} {
		if !mm.AddEntry(e) {
			t.Fatalf("AddEntry(%v) failed", e)
		}
	}
	got, err := PartitionPools(mm, &l)
	if err != nil {
		t.Fatalf("PartitionPools failed: %v", err)
	}
	want := Pools{
		Temporary: hostarch.PhysRange{Start: 0x10000, End: 0x12000},
		Permanent: hostarch.PhysRange{Start: 0x12000, End: 0x14000},
	}
	if got != want {
		t.Errorf("PartitionPools: got %+v, wanted %+v", got, want)
	}

	// Memory past the physical limit cannot back the pools.
	l.TempPoolPages = 0x10
	if _, err := PartitionPools(mm, &l); !goerrors.Is(err, ErrNoPoolMemory) {
		t.Errorf("PartitionPools: got %v, wanted %v", err, ErrNoPoolMemory)
	}
}

func TestPartitionPoolsUnalignedDevice(t *testing.T) {
	m := newMachine(t)
	m.ctx.Devices = []hostarch.PhysRange{{Start: 0x1800, End: 0x1900}}
	mm, err := BuildMemoryMap(m.ctx)
	if err != nil {
		t.Fatalf("BuildMemoryMap failed: %v", err)
	}
	got, err := PartitionPools(mm, &m.ctx.Layout)
	if err != nil {
		t.Fatalf("PartitionPools failed: %v", err)
	}
	want := Pools{
		Temporary: hostarch.PhysRange{Start: 0x2000, End: 0xa000},
		Permanent: hostarch.PhysRange{Start: 0xa000, End: 0x1a000},
	}
	if got != want {
		t.Errorf("PartitionPools: got %+v, wanted %+v", got, want)
	}

	// The whole bring-up succeeds around the window.
	h, err := m.boot(t)
	if err != nil {
		t.Fatalf("boot halted: %v", err)
	}
	if got, want := h.Allocator.AllocatedRange().Start, hostarch.PhysAddr(0xa000); got != want {
		t.Errorf("permanent pool starts at %v, wanted %v", got, want)
	}
}

func TestBuildIdentity(t *testing.T) {
	m := newMachine(t)
	m.ctx.Layout.PhysLimit = 2 * hostarch.GiantPageSize
	alloc := newPool(t, 0x1000, 4)
	pt, err := BuildIdentity(m.ctx, alloc)
	if err != nil {
		t.Fatalf("BuildIdentity failed: %v", err)
	}
	if pt.Upper() {
		t.Errorf("identity tables are in the upper half")
	}
	var got []pagetables.Mapping
	pt.ForEachMapping(func(mp pagetables.Mapping) bool {
		got = append(got, mp)
		return true
	})
	dev := hostarch.MemoryTypeDevice
	want := []pagetables.Mapping{
		{Virt: 0, Phys: 0, Size: hostarch.GiantPageSize, Type: dev, Level: 1},
		{Virt: hostarch.GiantPageSize, Phys: hostarch.GiantPageSize, Size: hostarch.GiantPageSize, Type: dev, Level: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("identity mappings mismatch (-want +got):\n%s", diff)
	}
}

func TestEnableMMUWrongHalf(t *testing.T) {
	m := newMachine(t)
	alloc := newPool(t, 0x1000, 4)
	lower, err := BuildIdentity(m.ctx, alloc)
	if err != nil {
		t.Fatalf("BuildIdentity failed: %v", err)
	}
	if err := EnableMMU(m.cpu, lower, lower); !goerrors.Is(err, ErrWrongHalf) {
		t.Errorf("EnableMMU: got %v, wanted %v", err, ErrWrongHalf)
	}
	if got := m.cpu.Events(); len(got) != 0 {
		t.Errorf("EnableMMU wrote registers on failure: %v", got)
	}
}

func TestLayoutValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(l *Layout)
	}{
		{"unaligned kernel", func(l *Layout) { l.KernelPhysEnd = 0x210800 }},
		{"empty stack", func(l *Layout) { l.StackPhysEnd = l.StackPhysStart }},
		{"unaligned limit", func(l *Layout) { l.PhysLimit = 0x100000 }},
		{"kernel past limit", func(l *Layout) { l.PhysLimit, l.KernelPhysEnd = hostarch.GiantPageSize, hostarch.GiantPageSize+0x1000 }},
		{"lower half kernel", func(l *Layout) { l.KernelVirtBase, l.KernelEntry = 0x80000000, 0x80001000 }},
		{"stack over kernel", func(l *Layout) { l.StackVirtBase = kernelVirt + 0x8000 }},
		{"kernel in linear map", func(l *Layout) { l.KernelVirtBase, l.KernelEntry = DefaultLinearBase+0x1000, DefaultLinearBase+0x1000 }},
		{"unaligned linear map", func(l *Layout) { l.LinearBase += hostarch.HugePageSize }},
		{"entry past image", func(l *Layout) { l.KernelEntry = kernelVirt + 0x10000 }},
		{"no pool", func(l *Layout) { l.TempPoolPages = 0 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l := testLayout()
			tc.modify(&l)
			if err := l.Validate(); !goerrors.Is(err, ErrLayout) {
				t.Errorf("Validate: got %v, wanted %v", err, ErrLayout)
			}
		})
	}
	l := testLayout()
	if err := l.Validate(); err != nil {
		t.Errorf("Validate of the test layout: %v", err)
	}
}
