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

package cmd

import (
	goerrors "errors"
	"testing"

	"raspiboot.dev/raspiboot/pkg/board"
	"raspiboot.dev/raspiboot/pkg/devicetree"
	"raspiboot.dev/raspiboot/pkg/memmap"
	"raspiboot.dev/raspiboot/pkg/ring0"
	"raspiboot.dev/raspiboot/pkg/ring0/pagetables"
)

func smallBoard() *board.Config {
	c := board.Default()
	c.Memory = []devicetree.Region{{Base: 0x0, Size: 0x1000800}}
	return c
}

func TestMachineBoots(t *testing.T) {
	m, err := newMachine(smallBoard(), false)
	if err != nil {
		t.Fatalf("newMachine failed: %v", err)
	}
	defer m.release()
	h, err := m.boot()
	if err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	if err := m.cpu.CheckOrder(); err != nil {
		t.Errorf("CheckOrder: %v", err)
	}
	// The partial page at the end of RAM is not backed.
	if m.mem.Backed(0x1000000, 1) {
		t.Errorf("partial page backed")
	}
	e, ok := h.MemoryMap.Find(0x3f000000)
	if !ok || e.Kind != memmap.MMIO {
		t.Errorf("peripherals: got (%v, %t), wanted MMIO", e, ok)
	}
	pa, err := h.PageTables.Translate(0xffff800000000010)
	if err != nil || pa != 0x200010 {
		t.Errorf("Translate of the kernel base: got (%v, %v), wanted 0x200010", pa, err)
	}
	if _, err := h.PageTables.Translate(0xffffa00000000000); !goerrors.Is(err, pagetables.ErrTranslationNotFound) {
		t.Errorf("Translate of an unmapped address: got %v, wanted %v", err, pagetables.ErrTranslationNotFound)
	}
}

func TestMachineHalts(t *testing.T) {
	c := smallBoard()
	c.Pools.Permanent = 2
	m, err := newMachine(c, false)
	if err != nil {
		t.Fatalf("newMachine failed: %v", err)
	}
	defer m.release()
	if _, err := m.boot(); !goerrors.Is(err, pagetables.ErrExhausted) {
		t.Fatalf("boot: got %v, wanted %v", err, pagetables.ErrExhausted)
	}
	if _, ok := m.cpu.Last(ring0.EventJump); ok {
		t.Errorf("jumped to the kernel after a failure")
	}
}
