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

// Package cli is the main entrypoint for bootsim.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"raspiboot.dev/raspiboot/bootsim/cmd"
	"raspiboot.dev/raspiboot/bootsim/cmd/util"
	"raspiboot.dev/raspiboot/pkg/board"
	"raspiboot.dev/raspiboot/pkg/log"
)

var (
	configPath = flag.String("config", "", "board description in TOML. The built-in board is used if unset.")
	debug      = flag.Bool("debug", false, "enable debug logging.")
	logFormat  = flag.String("log-format", "", "log format: text (default) or json. Overrides the board.")
	logPath    = flag.String("log", "", "file path where logs are written. Stderr if unset.")
	logStderr  = flag.Bool("alsologtostderr", false, "send log messages to stderr as well as to --log.")
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf := board.Default()
	if *configPath != "" {
		var err error
		if conf, err = board.Load(*configPath); err != nil {
			util.Fatalf("%v", err)
		}
	}
	if *logFormat != "" {
		conf.LogFormat = *logFormat
	}

	outs := []*os.File{os.Stderr}
	if *logPath != "" {
		f, err := log.OpenFile(*logPath)
		if err != nil {
			util.Fatalf("opening log file: %v", err)
		}
		outs[0] = f
		if *logStderr {
			outs = append(outs, os.Stderr)
		}
	}
	var emitters log.MultiEmitter
	for _, out := range outs {
		e, err := log.NewEmitter(conf.LogFormat, &log.Writer{Next: out})
		if err != nil {
			util.Fatalf("%v", err)
		}
		emitters = append(emitters, e)
	}
	log.SetTarget(&emitters)
	if *debug {
		log.SetLevel(log.Debug)
	}

	const delimString = `**************** bootsim ****************`
	log.Infof(delimString)
	log.Infof("Board %q, %s, %s, PID %d", conf.Name, runtime.Version(), runtime.GOARCH, os.Getpid())
	log.Debugf("Page size: 0x%x (%d bytes)", os.Getpagesize(), os.Getpagesize())
	log.Infof("Args: %v", os.Args)
	log.Infof(delimString)

	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode == subcommands.ExitSuccess {
		os.Exit(0)
	}
	if subcmdCode == subcommands.ExitUsageError {
		os.Exit(int(subcmdCode))
	}
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	fmt.Fprintf(os.Stderr, "bootsim: command failed with status %d\n", subcmdCode)
	os.Exit(128)
}

// forEachCmd invokes the passed callback for each command supported by
// bootsim.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Boot), "")
	cb(new(cmd.Memmap), "")
	cb(new(cmd.Translate), "")

	const helperGroup = "helpers"
	cb(new(cmd.Board), helperGroup)
}
