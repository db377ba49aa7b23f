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

// Package board loads the description of the machine being booted.
package board

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"raspiboot.dev/raspiboot/pkg/boot"
	"raspiboot.dev/raspiboot/pkg/devicetree"
	"raspiboot.dev/raspiboot/pkg/hostarch"
	"raspiboot.dev/raspiboot/pkg/log"
)

// Hex is a 64-bit address written as a string, e.g. "0xffff800000000000".
// TOML integers are signed, so upper-half addresses cannot be written as
// numbers.
type Hex uint64

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hex) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(strings.ReplaceAll(string(text), "_", ""), 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %v", text, err)
	}
	*h = Hex(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (h Hex) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%#x", uint64(h))), nil
}

// Image is a range of physical memory mapped at a virtual address.
type Image struct {
	Phys uint64 `toml:"phys"`
	Size uint64 `toml:"size"`
	Virt Hex    `toml:"virt,omitempty"`
}

// Kernel is the kernel image.
type Kernel struct {
	Image
	// Entry is the virtual address of the entry point.
	Entry Hex `toml:"entry"`
}

// Pools sizes the frame pools, in pages.
type Pools struct {
	Temporary uint64 `toml:"temporary"`
	Permanent uint64 `toml:"permanent"`
}

// Config describes a board.
type Config struct {
	// Name is informational.
	Name string `toml:"name"`

	// Memory lists the RAM blocks, as the firmware device tree does.
	Memory []devicetree.Region `toml:"memory"`

	// Devices lists MMIO windows, reserved in the memory map.
	Devices []devicetree.Region `toml:"devices,omitempty"`

	Bootloader Image  `toml:"bootloader"`
	Kernel     Kernel `toml:"kernel"`
	Stack      Image  `toml:"stack"`
	Pools      Pools  `toml:"pools"`

	// PhysLimit is the extent of the identity and linear maps.
	PhysLimit uint64 `toml:"phys_limit"`

	// LinearBase is the virtual address of the linear map. Zero means
	// boot.DefaultLinearBase.
	LinearBase Hex `toml:"linear_base,omitempty"`

	// MapCapacity bounds the memory map. Zero means
	// boot.DefaultMapCapacity.
	MapCapacity int `toml:"map_capacity,omitempty"`

	// LogFormat is "text" or "json". Empty means "text".
	LogFormat string `toml:"log_format,omitempty"`
}

// Default returns a Raspberry Pi 3 like board: 948MiB of RAM below the
// peripherals at 0x3f000000, the second stage at 0x80000 and the kernel
// above it.
func Default() *Config {
	return &Config{
		Name:    "raspi3b",
		Memory:  []devicetree.Region{{Base: 0x0, Size: 0x3b400000}},
		Devices: []devicetree.Region{{Base: 0x3f000000, Size: 0x1000000}},
		Bootloader: Image{
			Phys: 0x80000,
			Size: 0x80000,
		},
		Kernel: Kernel{
			Image: Image{
				Phys: 0x200000,
				Size: 0x200000,
				Virt: 0xffff800000000000,
			},
			Entry: 0xffff800000000000,
		},
		Stack: Image{
			Phys: 0x400000,
			Size: 0x10000,
			Virt: 0xffff900000000000,
		},
		Pools: Pools{
			Temporary: 16,
			Permanent: 64,
		},
		PhysLimit:   hostarch.GiantPageSize,
		LinearBase:  Hex(boot.DefaultLinearBase),
		MapCapacity: boot.DefaultMapCapacity,
		LogFormat:   "text",
	}
}

// Load reads the board at path. Unknown keys are an error.
func Load(path string) (*Config, error) {
	var c Config
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, fmt.Errorf("decoding board %q: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("board %q: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("board %q: %w", path, err)
	}
	log.Debugf("board: loaded %q from %q", c.Name, path)
	return &c, nil
}

// Decode reads a board from data.
func Decode(data string) (*Config, error) {
	var c Config
	md, err := toml.Decode(data, &c)
	if err != nil {
		return nil, err
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func checkUndecoded(md toml.MetaData) error {
	und := md.Undecoded()
	if len(und) == 0 {
		return nil
	}
	keys := make([]string, 0, len(und))
	for _, k := range und {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
}

// Encode writes c as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Validate checks that c describes a bootable machine.
func (c *Config) Validate() error {
	if len(c.Memory) == 0 {
		return fmt.Errorf("no memory regions")
	}
	if err := c.DeviceTree().Validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := devicetree.Static(c.Devices).Validate(); err != nil {
		return fmt.Errorf("devices: %w", err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.MapCapacity < 0 {
		return fmt.Errorf("negative map capacity %d", c.MapCapacity)
	}
	l := c.Layout()
	return l.Validate()
}

// DeviceTree returns the RAM of the board.
func (c *Config) DeviceTree() devicetree.Static {
	return devicetree.Static(c.Memory)
}

// DeviceRanges returns the MMIO windows of the board.
func (c *Config) DeviceRanges() []hostarch.PhysRange {
	rs := make([]hostarch.PhysRange, 0, len(c.Devices))
	for _, d := range c.Devices {
		rs = append(rs, hostarch.PhysRange{Start: hostarch.PhysAddr(d.Base), End: hostarch.PhysAddr(d.Base + d.Size)})
	}
	return rs
}

// Layout returns the boot layout of the board.
func (c *Config) Layout() boot.Layout {
	phys := func(im Image) (hostarch.PhysAddr, hostarch.PhysAddr) {
		return hostarch.PhysAddr(im.Phys), hostarch.PhysAddr(im.Phys + im.Size)
	}
	l := boot.Layout{
		KernelVirtBase: hostarch.Addr(c.Kernel.Virt),
		KernelEntry:    hostarch.Addr(c.Kernel.Entry),
		StackVirtBase:  hostarch.Addr(c.Stack.Virt),
		PhysLimit:      hostarch.PhysAddr(c.PhysLimit),
		LinearBase:     hostarch.Addr(c.LinearBase),
		TempPoolPages:  c.Pools.Temporary,
		PermPoolPages:  c.Pools.Permanent,
	}
	l.KernelPhysStart, l.KernelPhysEnd = phys(c.Kernel.Image)
	l.StackPhysStart, l.StackPhysEnd = phys(c.Stack)
	l.BootloaderStart, l.BootloaderEnd = phys(c.Bootloader)
	if l.LinearBase == 0 {
		l.LinearBase = boot.DefaultLinearBase
	}
	return l
}
