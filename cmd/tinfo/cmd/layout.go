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
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/threadinfo/pkg/threadinfo"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	output string
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "Print the thread_info layout for the configuration."
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [options] - Print the thread_info layout for the configuration.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.output, "o", "table", "Output format (table, json, yaml).")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := confFromArgs(args)
	cfg, err := conf.ThreadInfo()
	if err != nil {
		Fatalf("%v", err)
	}
	layout := threadinfo.ComputeLayout(cfg)
	if err := writeLayout(os.Stdout, l.output, &layout); err != nil {
		Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func writeLayout(w io.Writer, format string, l *threadinfo.Layout) error {
	if enc, ok := encoders[format]; ok {
		return enc(w, l)
	}
	if format != "table" {
		return fmt.Errorf("unsupported output format %q", format)
	}
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "FIELD\tSYMBOL\tOFFSET\tSIZE\n")
	for _, f := range l.Fields {
		fmt.Fprintf(tw, "%s\t%s\t%#x\t%d\n", f.Name, f.Symbol, f.Offset, f.Size)
	}
	fmt.Fprintf(tw, "\t\t\t\n")
	fmt.Fprintf(tw, "size\t\t\t%d\n", l.Size)
	fmt.Fprintf(tw, "thread size\t\t\t%d\n", l.ThreadSize)
	if l.ThreadSizeOrder >= 0 {
		fmt.Fprintf(tw, "thread size order\t\t\t%d\n", l.ThreadSizeOrder)
	}
	return tw.Flush()
}
