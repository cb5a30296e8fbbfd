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
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/threadinfo/pkg/log"
	"gvisor.dev/threadinfo/pkg/sim"
	"gvisor.dev/threadinfo/pkg/threadinfo"
)

// Simulate implements subcommands.Command for the "simulate" command.
type Simulate struct {
	opts    sim.Opts
	output  string
	timeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Simulate) Name() string {
	return "simulate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Simulate) Synopsis() string {
	return "Run threads on simulated CPUs and report the work done."
}

// Usage implements subcommands.Command.Usage.
func (*Simulate) Usage() string {
	return `simulate [options] - Boot a simulated kernel, run threads on every CPU while
CPUs send work to each other, and report the work consumed at return to user mode.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Simulate) SetFlags(f *flag.FlagSet) {
	d := sim.DefaultOpts()
	f.IntVar(&s.opts.Generations, "generations", d.Generations, "Threads created per CPU, one at a time.")
	f.IntVar(&s.opts.Rounds, "rounds", d.Rounds, "Returns to user mode per thread.")
	f.IntVar(&s.opts.Node, "node", d.Node, "Allocator node for new threads, -1 for any.")
	f.DurationVar(&s.opts.RetryInterval, "retry-interval", d.RetryInterval, "Interval between thread creation retries after ENOMEM.")
	f.Uint64Var(&s.opts.MaxRetries, "max-retries", d.MaxRetries, "Thread creation retries after ENOMEM.")
	f.DurationVar(&s.opts.LogEvery, "log-every", d.LogEvery, "Minimum interval between per-event log messages.")
	f.DurationVar(&s.timeout, "timeout", time.Minute, "Timeout of the whole simulation.")
	f.StringVar(&s.output, "o", "table", "Output format (table, json, yaml).")
}

// Execute implements subcommands.Command.Execute.
func (s *Simulate) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := confFromArgs(args)
	opts, err := conf.KernelOpts()
	if err != nil {
		Fatalf("%v", err)
	}
	k, err := threadinfo.NewKernel(opts)
	if err != nil {
		Fatalf("Error creating kernel: %v", err)
	}
	if err := k.Boot(); err != nil {
		Fatalf("Error booting kernel: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	rep, err := sim.New(k, s.opts).Run(ctx)
	if err != nil {
		Fatalf("Simulation failed: %v", err)
	}
	log.Infof("Simulation done in %v", time.Since(start))

	if err := writeReport(os.Stdout, s.output, rep); err != nil {
		Fatalf("Error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func writeReport(w io.Writer, format string, rep *sim.Report) error {
	if enc, ok := encoders[format]; ok {
		return enc(w, rep)
	}
	if format != "table" {
		return fmt.Errorf("unsupported output format %q", format)
	}
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "cpus\t%d\n", rep.CPUs)
	fmt.Fprintf(tw, "threads created\t%d\n", rep.Created)
	fmt.Fprintf(tw, "threads retired\t%d\n", rep.Retired)
	fmt.Fprintf(tw, "creations failed\t%d\n", rep.Failed)
	fmt.Fprintf(tw, "creation retries\t%d\n", rep.Retries)
	fmt.Fprintf(tw, "traced syscalls\t%d\n", rep.Syscalls)
	fmt.Fprintf(tw, "\t\n")
	fmt.Fprintf(tw, "FLAG\tSENT\tCONSUMED\n")
	names := make(map[string]struct{})
	for n := range rep.Sent {
		names[n] = struct{}{}
	}
	for n := range rep.Consumed {
		names[n] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	for _, n := range sorted {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", n, rep.Sent[n], rep.Consumed[n])
	}
	return tw.Flush()
}
