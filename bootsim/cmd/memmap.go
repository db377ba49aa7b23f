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
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"raspiboot.dev/raspiboot/bootsim/cmd/util"
	"raspiboot.dev/raspiboot/pkg/board"
	"raspiboot.dev/raspiboot/pkg/boot"
	"raspiboot.dev/raspiboot/pkg/devicetree"
)

// Memmap implements subcommands.Command for the "memmap" command.
type Memmap struct {
	pools bool
}

// Name implements subcommands.Command.Name.
func (*Memmap) Name() string {
	return "memmap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Memmap) Synopsis() string {
	return "print the memory map of the board before any table is built"
}

// Usage implements subcommands.Command.Usage.
func (*Memmap) Usage() string {
	return "memmap [flags] - print the RAM reported by the board and the reservations made on it.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Memmap) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&m.pools, "pools", false, "also print where the frame pools would go.")
}

// Execute implements subcommands.Command.Execute.
func (m *Memmap) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*board.Config)

	fmt.Fprintln(os.Stdout, "Device tree:")
	for _, r := range devicetree.Collect(conf.DeviceTree()) {
		fmt.Fprintf(os.Stdout, "  %v\n", r)
	}

	ctx := &boot.Context{
		Memory:      conf.DeviceTree(),
		Devices:     conf.DeviceRanges(),
		Layout:      conf.Layout(),
		MapCapacity: conf.MapCapacity,
	}
	mm, err := boot.BuildMemoryMap(ctx)
	if err != nil {
		util.Fatalf("building the memory map: %v", err)
	}
	fmt.Fprintf(os.Stdout, "Memory map (%d of %d entries):\n%v", mm.Len(), mm.Cap(), mm)
	fmt.Fprintf(os.Stdout, "Free memory: %v of %v\n", mm.FreeMemory(), mm.TotalMemory())

	if m.pools {
		pools, err := boot.PartitionPools(mm, &ctx.Layout)
		if err != nil {
			util.Fatalf("placing the frame pools: %v", err)
		}
		fmt.Fprintf(os.Stdout, "Temporary pool: %v\nPermanent pool: %v\n", pools.Temporary, pools.Permanent)
	}
	return subcommands.ExitSuccess
}
