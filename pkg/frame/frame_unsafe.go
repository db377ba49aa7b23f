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

package frame

import (
	"unsafe"

	"raspiboot.dev/raspiboot/pkg/hostarch"
)

// zeroPages zeroes n frames at base, one frame at a time since tr need not
// map physically contiguous frames to contiguous addresses.
func zeroPages(base hostarch.PhysAddr, n uint64, tr hostarch.Translation) {
	for i := uint64(0); i < n; i++ {
		p := base + hostarch.PhysAddr(i*hostarch.PageSize)
		clear(unsafe.Slice((*byte)(unsafe.Pointer(tr(p))), hostarch.PageSize))
	}
}

// readLink returns the list link stored in the frame at p.
func readLink(p hostarch.PhysAddr, tr hostarch.Translation) hostarch.PhysAddr {
	return hostarch.PhysAddr(*(*uint64)(unsafe.Pointer(tr(p))))
}

// writeLink stores next as the list link of the frame at p.
func writeLink(p, next hostarch.PhysAddr, tr hostarch.Translation) {
	*(*uint64)(unsafe.Pointer(tr(p))) = uint64(next)
}
