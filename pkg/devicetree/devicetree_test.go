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

package devicetree

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStaticOrder(t *testing.T) {
	s := Static{
		{Base: 0x40000000, Size: 0x1000},
		{Base: 0x0, Size: 0x3b400000},
		{Base: 0x50000000, Size: 0},
	}
	want := []Region{
		{Base: 0x0, Size: 0x3b400000},
		{Base: 0x40000000, Size: 0x1000},
	}
	if diff := cmp.Diff(want, Collect(s)); diff != "" {
		t.Errorf("regions mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		s    Static
		ok   bool
	}{
		{"disjoint", Static{{0, 0x1000}, {0x1000, 0x1000}}, true},
		{"overlap", Static{{0x1000, 0x1000}, {0, 0x1001}}, false},
		{"empty", Static{{0, 0}}, false},
		{"wrap", Static{{^uint64(0) - 0xfff, 0x2000}}, false},
	} {
		if err := tc.s.Validate(); (err == nil) != tc.ok {
			t.Errorf("%s: Validate got %v, wanted ok=%t", tc.name, err, tc.ok)
		}
	}
}
