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

// Package cmd holds implementations of the bootsim commands.
package cmd

import (
	"fmt"

	"raspiboot.dev/raspiboot/pkg/board"
	"raspiboot.dev/raspiboot/pkg/boot"
	"raspiboot.dev/raspiboot/pkg/hostarch"
	"raspiboot.dev/raspiboot/pkg/log"
	"raspiboot.dev/raspiboot/pkg/physmem"
	"raspiboot.dev/raspiboot/pkg/ring0"
	"raspiboot.dev/raspiboot/pkg/ring0/pagetables"
)

// machine is a simulated board: RAM backed by host memory and a CPU that
// records what it is told to do.
type machine struct {
	mem *physmem.Memory
	cpu *ring0.Recorder
	ctx *boot.Context
}

// newMachine builds the machine described by conf. If native is set, the
// CPU reports the page size of the host instead of 4KiB.
func newMachine(conf *board.Config, native bool) (*machine, error) {
	mem := physmem.New()
	var err error
	conf.DeviceTree().ForEachMemory(func(base, size uint64) {
		if err != nil {
			return
		}
		top, ok := hostarch.PhysAddr(base).AddLength(size)
		if !ok {
			log.Warningf("Not backing [%#x, +%#x): wraps the address space", base, size)
			return
		}
		start, ok := hostarch.PhysAddr(base).RoundUp()
		end := top.RoundDown()
		if !ok || end <= start {
			return
		}
		err = mem.AddBank(start, uint64(end-start))
	})
	if err != nil {
		mem.Release()
		return nil, fmt.Errorf("backing RAM: %w", err)
	}

	cpu := &ring0.Recorder{}
	if native {
		f := ring0.HostFeatures()
		cpu.NativePageSize = f.PageSize()
		log.Infof("Host page size: %#x", f.PageSize())
	}
	return &machine{
		mem: mem,
		cpu: cpu,
		ctx: &boot.Context{
			CPU:      cpu,
			Memory:   conf.DeviceTree(),
			Devices:  conf.DeviceRanges(),
			Layout:   conf.Layout(),
			Physical: mem.Translation(),
			AfterEnable: func(pt *pagetables.PageTables, base hostarch.Addr) hostarch.Translation {
				return mem.Through(pt.Walker(mem.Translation()), base)
			},
			MapCapacity: conf.MapCapacity,
		},
	}, nil
}

// boot runs the bring-up and returns what the kernel would receive.
func (m *machine) boot() (h *boot.Handoff, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		he, ok := r.(*ring0.HaltError)
		if !ok {
			panic(r)
		}
		h, err = nil, fmt.Errorf("CPU halted: %w", he.Err)
	}()
	boot.Run(m.ctx, boot.KernelFunc(func(got *boot.Handoff) {
		h = got
	}))
	return h, nil
}

// release frees the simulated RAM.
func (m *machine) release() {
	if err := m.mem.Release(); err != nil {
		log.Warningf("Releasing RAM: %v", err)
	}
}
