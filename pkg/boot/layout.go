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
	"raspiboot.dev/raspiboot/pkg/hostarch"
)

// ErrLayout is returned for an inconsistent Layout.
var ErrLayout = errors.New(errors.InvalidArgument, "invalid boot layout")

// DefaultLinearBase is the start of the linear map, the bottom of the upper
// half.
const DefaultLinearBase = hostarch.UpperBottom

// Layout holds the link-time addresses of the images and the sizing of the
// bring-up. All ranges are half open.
type Layout struct {
	// KernelPhysStart and KernelPhysEnd bound the loaded kernel image.
	KernelPhysStart hostarch.PhysAddr
	KernelPhysEnd   hostarch.PhysAddr

	// KernelVirtBase is where the kernel image is linked.
	KernelVirtBase hostarch.Addr

	// KernelEntry is the virtual address of the kernel entry point.
	KernelEntry hostarch.Addr

	// StackPhysStart and StackPhysEnd bound the kernel stack.
	StackPhysStart hostarch.PhysAddr
	StackPhysEnd   hostarch.PhysAddr

	// StackVirtBase is where the kernel stack is mapped.
	StackVirtBase hostarch.Addr

	// BootloaderStart and BootloaderEnd bound the running bootloader.
	BootloaderStart hostarch.PhysAddr
	BootloaderEnd   hostarch.PhysAddr

	// PhysLimit is the extent of the identity and linear maps, a multiple
	// of 1GiB.
	PhysLimit hostarch.PhysAddr

	// LinearBase is the virtual address of physical address zero in the
	// linear map.
	LinearBase hostarch.Addr

	// TempPoolPages and PermPoolPages size the temporary and permanent
	// frame pools.
	TempPoolPages uint64
	PermPoolPages uint64
}

// KernelSize returns the size of the kernel image.
func (l *Layout) KernelSize() uint64 {
	return uint64(l.KernelPhysEnd - l.KernelPhysStart)
}

// StackSize returns the size of the kernel stack.
func (l *Layout) StackSize() uint64 {
	return uint64(l.StackPhysEnd - l.StackPhysStart)
}

// virtRange is a half-open range of virtual addresses.
type virtRange struct {
	start, end hostarch.Addr
}

func (r virtRange) overlaps(o virtRange) bool {
	return r.start < o.end && o.start < r.end
}

func checkPhys(name string, start, end hostarch.PhysAddr) error {
	if !start.IsPageAligned() || !end.IsPageAligned() {
		return fmt.Errorf("%s [%v, %v) is not page aligned: %w", name, start, end, ErrLayout)
	}
	if end <= start {
		return fmt.Errorf("%s [%v, %v) is empty: %w", name, start, end, ErrLayout)
	}
	return nil
}

func checkVirt(name string, base hostarch.Addr, size uint64) (virtRange, error) {
	if !base.IsPageAligned() || !base.Upper() {
		return virtRange{}, fmt.Errorf("%s at %v is not a page aligned upper half address: %w", name, base, ErrLayout)
	}
	end, ok := base.AddLength(size)
	if !ok {
		return virtRange{}, fmt.Errorf("%s at %v, size %#x wraps: %w", name, base, size, ErrLayout)
	}
	return virtRange{base, end}, nil
}

// Validate checks that the layout can be mapped.
func (l *Layout) Validate() error {
	if err := checkPhys("kernel image", l.KernelPhysStart, l.KernelPhysEnd); err != nil {
		return err
	}
	if err := checkPhys("kernel stack", l.StackPhysStart, l.StackPhysEnd); err != nil {
		return err
	}
	if err := checkPhys("bootloader image", l.BootloaderStart, l.BootloaderEnd); err != nil {
		return err
	}
	if l.PhysLimit == 0 || !l.PhysLimit.IsAligned(hostarch.GiantPageSize) || l.PhysLimit > hostarch.MaxPhysAddr {
		return fmt.Errorf("physical limit %v must be a non-zero multiple of 1GiB within 48 bits: %w", l.PhysLimit, ErrLayout)
	}
	for _, r := range []struct {
		name string
		end  hostarch.PhysAddr
	}{
		{"kernel image", l.KernelPhysEnd},
		{"kernel stack", l.StackPhysEnd},
		{"bootloader image", l.BootloaderEnd},
	} {
		if r.end > l.PhysLimit {
			return fmt.Errorf("%s ends at %v, beyond the physical limit %v: %w", r.name, r.end, l.PhysLimit, ErrLayout)
		}
	}
	if !l.LinearBase.IsAligned(hostarch.GiantPageSize) {
		return fmt.Errorf("linear map base %v is not 1GiB aligned: %w", l.LinearBase, ErrLayout)
	}

	linear, err := checkVirt("linear map", l.LinearBase, uint64(l.PhysLimit))
	if err != nil {
		return err
	}
	kernel, err := checkVirt("kernel image", l.KernelVirtBase, l.KernelSize())
	if err != nil {
		return err
	}
	stack, err := checkVirt("kernel stack", l.StackVirtBase, l.StackSize())
	if err != nil {
		return err
	}
	if kernel.overlaps(stack) || kernel.overlaps(linear) || stack.overlaps(linear) {
		return fmt.Errorf("kernel %v, stack %v and linear map %v overlap: %w", kernel.start, stack.start, linear.start, ErrLayout)
	}
	if l.KernelEntry < kernel.start || l.KernelEntry >= kernel.end {
		return fmt.Errorf("kernel entry %v outside the kernel image: %w", l.KernelEntry, ErrLayout)
	}
	if l.TempPoolPages == 0 || l.PermPoolPages == 0 {
		return fmt.Errorf("frame pools must not be empty: %w", ErrLayout)
	}
	return nil
}
