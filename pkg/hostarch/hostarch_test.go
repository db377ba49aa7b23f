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

package hostarch

import "testing"

func TestMAIRValue(t *testing.T) {
	// Device at index 0, non-cacheable at 1, write-back at 2.
	if got, want := MAIRValue(), uint64(0xff4400); got != want {
		t.Errorf("MAIRValue(): got %#x, wanted %#x", got, want)
	}
	for mt := MemoryType(0); mt < NumMemoryTypes; mt++ {
		if got := uint8(MAIRValue() >> (8 * mt.AttrIndex())); got != mt.MAIRAttr() {
			t.Errorf("MAIR slot %d: got %#x, wanted %#x", mt.AttrIndex(), got, mt.MAIRAttr())
		}
		if back, ok := MemoryTypeFromIndex(mt.AttrIndex()); !ok || back != mt {
			t.Errorf("MemoryTypeFromIndex(%d): got (%v, %t), wanted (%v, true)", mt.AttrIndex(), back, ok, mt)
		}
	}
	if _, ok := MemoryTypeFromIndex(uint64(NumMemoryTypes)); ok {
		t.Errorf("MemoryTypeFromIndex(%d) succeeded", NumMemoryTypes)
	}
}

func TestAddrRounding(t *testing.T) {
	for _, tc := range []struct {
		addr Addr
		down Addr
		up   Addr
		ok   bool
	}{
		{0, 0, 0, true},
		{1, 0, PageSize, true},
		{PageSize, PageSize, PageSize, true},
		{PageSize + 1, PageSize, 2 * PageSize, true},
		{^Addr(0), ^Addr(PageSize - 1), 0, false},
	} {
		if got := tc.addr.RoundDown(); got != tc.down {
			t.Errorf("%v.RoundDown(): got %v, wanted %v", tc.addr, got, tc.down)
		}
		up, ok := tc.addr.RoundUp()
		if ok != tc.ok || (ok && up != tc.up) {
			t.Errorf("%v.RoundUp(): got (%v, %t), wanted (%v, %t)", tc.addr, up, ok, tc.up, tc.ok)
		}
	}
}

func TestHalves(t *testing.T) {
	if LowerTop != 0x0001000000000000 {
		t.Errorf("LowerTop: got %#x, wanted 0x0001000000000000", uint64(LowerTop))
	}
	if UpperBottom != 0xffff000000000000 {
		t.Errorf("UpperBottom: got %#x, wanted 0xffff000000000000", uint64(UpperBottom))
	}
}

func TestCanonical(t *testing.T) {
	for _, tc := range []struct {
		addr      Addr
		canonical bool
		upper     bool
	}{
		{0, true, false},
		{LowerTop - 1, true, false},
		{LowerTop, false, false},
		{UpperBottom - 1, false, false},
		{UpperBottom, true, true},
		{^Addr(0), true, true},
	} {
		if got := tc.addr.Canonical(); got != tc.canonical {
			t.Errorf("%v.Canonical(): got %t, wanted %t", tc.addr, got, tc.canonical)
		}
		if got := tc.addr.Upper(); got != tc.upper {
			t.Errorf("%v.Upper(): got %t, wanted %t", tc.addr, got, tc.upper)
		}
	}
}

func TestPhysRange(t *testing.T) {
	r := PhysRange{Start: 0x1000, End: 0x3000}
	if got := r.Length(); got != 0x2000 {
		t.Errorf("Length(): got %#x, wanted 0x2000", got)
	}
	if !r.Contains(0x1000) || r.Contains(0x3000) {
		t.Errorf("Contains is not half-open for %v", r)
	}
	if r.Overlaps(PhysRange{0x3000, 0x4000}) {
		t.Errorf("%v overlaps an adjacent range", r)
	}
	if !r.Overlaps(PhysRange{0x2fff, 0x4000}) {
		t.Errorf("%v does not overlap [0x2fff, 0x4000)", r)
	}
}

func TestSizeString(t *testing.T) {
	for _, tc := range []struct {
		size Size
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{4 * KiB, "4 KiB"},
		{0x7f000, "508 KiB"},
		{3 * MiB / 2, "1.50 MiB"},
		{GiB, "1 GiB"},
	} {
		if got := tc.size.String(); got != tc.want {
			t.Errorf("Size(%d).String(): got %q, wanted %q", uint64(tc.size), got, tc.want)
		}
	}
}
