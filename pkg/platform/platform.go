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

// Package platform provides the interface between the boot sequence and the
// translation table format of the target.
package platform

import (
	"raspiboot.dev/raspiboot/pkg/hostarch"
	"raspiboot.dev/raspiboot/pkg/ring0"
)

// AddressSpace represents a virtual address space backed by translation
// tables.
type AddressSpace interface {
	// SetActive installs the address space in the table base register of
	// the CPU for its half, followed by a barrier.
	SetActive(cpu ring0.CPU)

	// MapRange maps [virt, virt+size) to [phys, phys+size) with memory type
	// mt, using the largest blocks alignment allows.
	//
	// Preconditions: virt, phys and size are page aligned, and no part of
	// the range is mapped. Mapping over an existing mapping is fatal.
	MapRange(virt hostarch.Addr, phys hostarch.PhysAddr, size uint64, mt hostarch.MemoryType) error

	// UnmapRange removes the mappings in [virt, virt+size).
	//
	// Preconditions: the address space is not active.
	UnmapRange(virt hostarch.Addr, size uint64) error

	// Translate returns the physical address virt maps to, or an error
	// with kind TranslationNotFound.
	Translate(virt hostarch.Addr) (hostarch.PhysAddr, error)
}
