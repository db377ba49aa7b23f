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
	"os"

	"github.com/google/subcommands"
	"raspiboot.dev/raspiboot/bootsim/cmd/util"
	"raspiboot.dev/raspiboot/pkg/board"
)

// Board implements subcommands.Command for the "board" command.
type Board struct{}

// Name implements subcommands.Command.Name.
func (*Board) Name() string {
	return "board"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Board) Synopsis() string {
	return "print the board description in use"
}

// Usage implements subcommands.Command.Usage.
func (*Board) Usage() string {
	return `board - print the board description in use, as TOML.

Without --config this is the built-in board, a starting point for a new one:
    $ bootsim board > myboard.toml
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Board) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Board) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*board.Config)
	if err := conf.Encode(os.Stdout); err != nil {
		util.Fatalf("encoding board: %v", err)
	}
	return subcommands.ExitSuccess
}
