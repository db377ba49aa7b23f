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

import "fmt"

// Size is a byte count.
type Size uint64

// Binary size units.
const (
	KiB Size = 1 << 10
	MiB Size = 1 << 20
	GiB Size = 1 << 30
	TiB Size = 1 << 40
)

// String renders s in the largest unit that keeps the value at least one.
func (s Size) String() string {
	units := []struct {
		size Size
		name string
	}{
		{TiB, "TiB"},
		{GiB, "GiB"},
		{MiB, "MiB"},
		{KiB, "KiB"},
	}
	for _, u := range units {
		if s < u.size {
			continue
		}
		if s%u.size == 0 {
			return fmt.Sprintf("%d %s", uint64(s/u.size), u.name)
		}
		return fmt.Sprintf("%.2f %s", float64(s)/float64(u.size), u.name)
	}
	return fmt.Sprintf("%d B", uint64(s))
}
