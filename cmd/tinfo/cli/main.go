// Copyright 2026 The gVisor Authors.
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

// Package cli is the main entrypoint for tinfo.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/threadinfo/cmd/tinfo/cmd"
	"gvisor.dev/threadinfo/cmd/tinfo/config"
	"gvisor.dev/threadinfo/pkg/log"
)

var (
	configPath = flag.String("config", "", "path to a TOML configuration file.")
	debug      = flag.Bool("debug", false, "enable debug logging.")
	debugLog   = flag.String("debug-log", "", "additional location for logs. It may contain %TIMESTAMP% and %COMMAND%.")
	logFormat  = flag.String("log-format", "text", "log format: text (default) or json.")
)

// Main is the main entrypoint.
func Main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(cmd.Layout), "")
	subcommands.Register(new(cmd.Offsets), "")
	subcommands.Register(new(cmd.Simulate), "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	if *debug {
		log.SetLevel(log.Debug)
	}
	subcommand := flag.CommandLine.Arg(0)
	emitters := log.MultiEmitter{newEmitter(*logFormat, os.Stderr)}
	if *debugLog != "" {
		f, err := log.OpenFile(*debugLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, subcommand, time.Now())
		if err != nil {
			cmd.Fatalf("error opening debug log file in %q: %v", *debugLog, err)
		}
		emitters = append(emitters, newEmitter(*logFormat, f))
	}
	if len(emitters) == 1 {
		log.SetTarget(emitters[0])
	} else {
		log.SetTarget(&emitters)
	}

	log.Debugf("tinfo %s/%s, %d host CPUs, page size %#x, PID %d", runtime.GOOS, runtime.GOARCH, runtime.NumCPU(), unix.Getpagesize(), os.Getpid())
	log.Debugf("Args: %v", os.Args)
	if log.IsLogging(log.Debug) {
		conf.Log()
	}

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}
