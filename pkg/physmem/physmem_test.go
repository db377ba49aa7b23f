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

package physmem

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"raspiboot.dev/raspiboot/pkg/hostarch"
)

type bankRange struct {
	Base, Size uint64
}

func newMemory(t *testing.T) *Memory {
	t.Helper()
	m := New()
	t.Cleanup(func() {
		if err := m.Release(); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	})
	return m
}

func TestAddBank(t *testing.T) {
	m := newMemory(t)
	if err := m.AddBank(0x200000, 0x10000); err != nil {
		t.Fatalf("AddBank failed: %v", err)
	}
	if err := m.AddBank(0, 0x4000); err != nil {
		t.Fatalf("AddBank failed: %v", err)
	}
	for _, tc := range []struct {
		name   string
		start  hostarch.PhysAddr
		length uint64
	}{
		{"overlap", 0x20f000, 0x2000},
		{"misaligned start", 0x100001, 0x1000},
		{"misaligned length", 0x100000, 0x800},
		{"empty", 0x100000, 0},
	} {
		if err := m.AddBank(tc.start, tc.length); err == nil {
			t.Errorf("%s: AddBank(%v, %#x) succeeded", tc.name, tc.start, tc.length)
		}
	}

	var got []bankRange
	m.ForEachMemory(func(base, size uint64) {
		got = append(got, bankRange{base, size})
	})
	want := []bankRange{{0, 0x4000}, {0x200000, 0x10000}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ForEachMemory mismatch (-want +got):\n%s", diff)
	}
}

func TestBacked(t *testing.T) {
	m := newMemory(t)
	if err := m.AddBank(0x1000, 0x2000); err != nil {
		t.Fatalf("AddBank failed: %v", err)
	}
	for _, tc := range []struct {
		p      hostarch.PhysAddr
		length uint64
		want   bool
	}{
		{0x0, 8, false},
		{0x1000, 8, true},
		{0x2ff8, 8, true},
		{0x2ffc, 8, false},
		{0x3000, 1, false},
	} {
		if got := m.Backed(tc.p, tc.length); got != tc.want {
			t.Errorf("Backed(%v, %d): got %t, wanted %t", tc.p, tc.length, got, tc.want)
		}
	}
}

func TestTranslateWritesAreVisible(t *testing.T) {
	m := newMemory(t)
	if err := m.AddBank(0x40000, 0x2000); err != nil {
		t.Fatalf("AddBank failed: %v", err)
	}
	b := m.Bytes(0x41000, 16)
	b[8] = 0xaa
	b[9] = 0x55
	if got, want := m.Uint64(0x41008), uint64(0x55aa); got != want {
		t.Errorf("Uint64: got %#x, wanted %#x", got, want)
	}
	if m.Translate(0x41008)-m.Translate(0x40000) != 0x1008 {
		t.Errorf("host addresses within a bank are not contiguous")
	}
}

func TestTranslateUnbackedPanics(t *testing.T) {
	m := newMemory(t)
	defer func() {
		if recover() == nil {
			t.Errorf("Translate of unbacked memory did not panic")
		}
	}()
	m.Translate(0x1000)
}

type offsetResolver struct {
	base hostarch.Addr
}

func (r offsetResolver) Translate(virt hostarch.Addr) (hostarch.PhysAddr, error) {
	return hostarch.PhysAddr(virt - r.base), nil
}

func TestThrough(t *testing.T) {
	m := newMemory(t)
	if err := m.AddBank(0, 0x1000); err != nil {
		t.Fatalf("AddBank failed: %v", err)
	}
	base := hostarch.Addr(0xffff000000000000)
	tr := m.Through(offsetResolver{base}, base)
	if got, want := tr(0x10), m.Translate(0x10); got != want {
		t.Errorf("Through: got %#x, wanted %#x", got, want)
	}
}
