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
	"raspiboot.dev/raspiboot/pkg/ring0/pagetables"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	native   bool
	mappings bool
	trace    bool
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "bring up memory on the simulated board and jump to the kernel"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] - bring up memory on the simulated board.

Builds the memory map, the identity and kernel tables, enables translation
and hands the result to a kernel stub. Prints the final memory map, the
register writes in order, and what the kernel inherits.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.native, "native", false, "report the host page size instead of 4KiB.")
	f.BoolVar(&b.mappings, "mappings", false, "print every mapping of the kernel tables.")
	f.BoolVar(&b.trace, "trace", true, "print the register writes.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*board.Config)

	m, err := newMachine(conf, b.native)
	if err != nil {
		util.Fatalf("%v", err)
	}
	defer m.release()

	h, err := m.boot()
	if b.trace {
		fmt.Fprintln(os.Stdout, "Register trace:")
		for _, e := range m.cpu.Events() {
			fmt.Fprintf(os.Stdout, "  %v\n", e)
		}
	}
	if err != nil {
		util.Fatalf("boot failed: %v", err)
	}
	if err := m.cpu.CheckOrder(); err != nil {
		util.Fatalf("register order: %v", err)
	}
	printHandoff(h)
	if b.mappings {
		fmt.Fprintln(os.Stdout, "Kernel mappings:")
		h.PageTables.ForEachMapping(func(mp pagetables.Mapping) bool {
			fmt.Fprintf(os.Stdout, "  %v\n", mp)
			return true
		})
	}
	return subcommands.ExitSuccess
}

func printHandoff(h *boot.Handoff) {
	fmt.Fprintf(os.Stdout, "Memory map:\n%v", h.MemoryMap)
	fmt.Fprintf(os.Stdout, "Free memory: %v of %v\n", h.MemoryMap.FreeMemory(), h.MemoryMap.TotalMemory())
	fmt.Fprintf(os.Stdout, "Kernel tables: %d at %v\n", h.PageTables.Tables(), h.PageTables.RootPhysical())
	fmt.Fprintf(os.Stdout, "Permanent pool: %v used, %d pages left\n", h.Allocator.AllocatedRange(), h.Allocator.Remaining())
}
