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
	"strconv"

	"github.com/google/subcommands"
	"raspiboot.dev/raspiboot/bootsim/cmd/util"
	"raspiboot.dev/raspiboot/pkg/board"
	"raspiboot.dev/raspiboot/pkg/hostarch"
)

// Translate implements subcommands.Command for the "translate" command.
type Translate struct{}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate virtual addresses through the kernel tables"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate <address>... - boot the simulated board, then translate each
address through the tables handed to the kernel.

EXAMPLE:
    $ bootsim translate 0xffff800000000000 0xffff000000080000
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Translate) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Translate) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*board.Config)

	addrs := make([]hostarch.Addr, 0, f.NArg())
	for _, arg := range f.Args() {
		v, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			util.Fatalf("invalid address %q: %v", arg, err)
		}
		addrs = append(addrs, hostarch.Addr(v))
	}

	m, err := newMachine(conf, false)
	if err != nil {
		util.Fatalf("%v", err)
	}
	defer m.release()
	h, err := m.boot()
	if err != nil {
		util.Fatalf("boot failed: %v", err)
	}

	status := subcommands.ExitSuccess
	for _, va := range addrs {
		pa, err := h.PageTables.Translate(va)
		if err != nil {
			fmt.Fprintf(os.Stdout, "%v -> %v\n", va, err)
			status = subcommands.ExitFailure
			continue
		}
		kind := "unknown"
		if e, ok := h.MemoryMap.Find(pa); ok {
			kind = e.Kind.String()
		}
		fmt.Fprintf(os.Stdout, "%v -> %v (%s)\n", va, pa, kind)
	}
	return status
}
