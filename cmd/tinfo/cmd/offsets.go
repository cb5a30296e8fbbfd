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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/threadinfo/pkg/threadinfo"
)

// Offsets implements subcommands.Command for the "offsets" command.
type Offsets struct {
	format string
	pkg    string
	out    string
}

// Name implements subcommands.Command.Name.
func (*Offsets) Name() string {
	return "offsets"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Offsets) Synopsis() string {
	return "Generate thread_info offsets for assembly."
}

// Usage implements subcommands.Command.Usage.
func (*Offsets) Usage() string {
	return `offsets [options] - Generate thread_info offsets for assembly, as a C header or Go constants.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (o *Offsets) SetFlags(f *flag.FlagSet) {
	f.StringVar(&o.format, "format", "header", "Output format (header, go).")
	f.StringVar(&o.pkg, "package", "asmoffsets", "Go package name, with -format=go.")
	f.StringVar(&o.out, "out", "", "Output file. Defaults to stdout.")
}

// Execute implements subcommands.Command.Execute.
func (o *Offsets) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := confFromArgs(args)
	cfg, err := conf.ThreadInfo()
	if err != nil {
		Fatalf("%v", err)
	}

	var w io.Writer = os.Stdout
	if o.out != "" {
		file, err := os.Create(o.out)
		if err != nil {
			Fatalf("Error creating %q: %v", o.out, err)
		}
		defer file.Close()
		w = file
	}
	if err := writeOffsets(w, o.format, o.pkg, cfg); err != nil {
		Fatalf("Error writing offsets: %v", err)
	}
	return subcommands.ExitSuccess
}

func writeOffsets(w io.Writer, format, pkg string, cfg threadinfo.Config) error {
	l := threadinfo.ComputeLayout(cfg)
	switch format {
	case "header":
		return l.EmitHeader(w)
	case "go":
		return l.EmitGo(w, pkg)
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}
