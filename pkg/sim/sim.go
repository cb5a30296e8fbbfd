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

// Package sim runs a multi-CPU simulation of thread creation, cross-CPU flag
// delivery and return-to-user checkpoints on top of a booted kernel.
//
// The simulation runs in generations. In each generation every CPU creates a
// thread and switches to it, then all CPUs exchange work for a number of
// rounds, then every CPU switches back to its idle thread and retires the
// thread. Phases are separated by barriers, so a block is never touched by
// another CPU while it is being constructed or released.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/threadinfo/pkg/entry"
	"gvisor.dev/threadinfo/pkg/errors/linuxerr"
	"gvisor.dev/threadinfo/pkg/log"
	"gvisor.dev/threadinfo/pkg/sched"
	"gvisor.dev/threadinfo/pkg/threadinfo"
)

// Opts configures a simulation.
type Opts struct {
	// Generations is the number of threads created per CPU, one at a time.
	Generations int

	// Rounds is the number of returns to user mode per thread.
	Rounds int

	// Node is the allocator node for new threads, or threadinfo.AnyNode.
	Node int

	// RetryInterval and MaxRetries control retries of thread creation that
	// failed with ENOMEM.
	RetryInterval time.Duration
	MaxRetries    uint64

	// LogEvery rate limits per-event logging.
	LogEvery time.Duration
}

// DefaultOpts returns the default simulation options.
func DefaultOpts() Opts {
	return Opts{
		Generations:   4,
		Rounds:        64,
		Node:          threadinfo.AnyNode,
		RetryInterval: time.Millisecond,
		MaxRetries:    3,
		LogEvery:      time.Second,
	}
}

// Report summarizes a simulation.
type Report struct {
	CPUs    int `json:"cpus" yaml:"cpus"`
	Created int `json:"created" yaml:"created"`
	Retired int `json:"retired" yaml:"retired"`

	// Failed counts thread creations abandoned after ENOMEM.
	Failed int `json:"failed" yaml:"failed"`

	// Retries counts creation attempts that failed with ENOMEM and were
	// retried.
	Retries int `json:"retries" yaml:"retries"`

	// Sent counts flags set on another CPU's thread, by flag name.
	Sent map[string]int `json:"sent" yaml:"sent"`

	// Consumed counts work done at return to user mode, by flag name.
	Consumed map[string]int `json:"consumed" yaml:"consumed"`

	// Syscalls counts syscalls that went through instrumentation.
	Syscalls int `json:"syscalls" yaml:"syscalls"`
}

// kicks are the flags sent to the neighbouring CPU, in rotation.
var kicks = []threadinfo.Flag{threadinfo.NotifyResume, threadinfo.NeedResched, threadinfo.SigPending}

// counters accumulates per-flag counts across CPUs.
type counters [64]atomic.Int64

func (c *counters) add(fs threadinfo.Flags) {
	for _, f := range threadinfo.AllFlags() {
		if fs.Has(f) {
			c[f].Add(1)
		}
	}
}

func (c *counters) report() map[string]int {
	m := make(map[string]int)
	for _, f := range threadinfo.AllFlags() {
		if n := c[f].Load(); n != 0 {
			m[f.String()] = int(n)
		}
	}
	return m
}

// Simulator runs simulations on one kernel.
type Simulator struct {
	k    *threadinfo.Kernel
	opts Opts
	log  log.Logger

	sent     counters
	consumed counters
	created  atomic.Int64
	retired  atomic.Int64
	failed   atomic.Int64
	retries  atomic.Int64
	syscalls atomic.Int64
	nextTID  atomic.Int32
}

// New returns a simulator for k, which must be booted.
func New(k *threadinfo.Kernel, opts Opts) *Simulator {
	s := &Simulator{
		k:    k,
		opts: opts,
		log:  log.NewRateLimited(log.Log(), opts.LogEvery),
	}
	s.nextTID.Store(100)
	return s
}

// Run runs the simulation and returns its report.
func (s *Simulator) Run(ctx context.Context) (*Report, error) {
	n := s.k.NumCPUs()
	running := make([]*threadinfo.ThreadInfo, n)
	for gen := 0; gen < s.opts.Generations; gen++ {
		if err := s.phase(n, func(cpu int) error {
			ti, err := s.create(ctx, cpu, gen)
			if err != nil {
				return err
			}
			if ti != nil {
				s.k.CPU(cpu).SwitchTo(ti)
			}
			running[cpu] = ti
			return nil
		}); err != nil {
			return nil, err
		}

		if err := s.phase(n, func(cpu int) error {
			if running[cpu] == nil {
				return nil
			}
			return s.rounds(ctx, cpu)
		}); err != nil {
			return nil, err
		}

		if err := s.phase(n, func(cpu int) error {
			ti := running[cpu]
			if ti == nil {
				return nil
			}
			s.k.CPU(cpu).SwitchTo(s.k.IdleThread(cpu))
			if err := s.k.RetireThread(ti); err != nil {
				return err
			}
			s.retired.Add(1)
			return nil
		}); err != nil {
			return nil, err
		}
		log.Debugf("Generation %d done", gen)
	}
	return &Report{
		CPUs:     n,
		Created:  int(s.created.Load()),
		Retired:  int(s.retired.Load()),
		Failed:   int(s.failed.Load()),
		Retries:  int(s.retries.Load()),
		Sent:     s.sent.report(),
		Consumed: s.consumed.report(),
		Syscalls: int(s.syscalls.Load()),
	}, nil
}

// phase runs f for every CPU concurrently and waits for all of them.
func (s *Simulator) phase(n int, f func(cpu int) error) error {
	var g errgroup.Group
	for cpu := 0; cpu < n; cpu++ {
		g.Go(func() error { return f(cpu) })
	}
	return g.Wait()
}

// create creates the thread of generation gen on cpu. It returns a nil
// block if the creation was abandoned for lack of memory.
func (s *Simulator) create(ctx context.Context, cpu, gen int) (*threadinfo.ThreadInfo, error) {
	task := sched.NewTask(s.nextTID.Add(1), fmt.Sprintf("sim/%d:%d", cpu, gen))
	parent := s.k.CPU(cpu).Current()

	var ti *threadinfo.ThreadInfo
	op := func() error {
		var err error
		ti, err = s.k.Clone(ctx, parent, task, s.opts.Node)
		if err == nil {
			return nil
		}
		if errors.Is(err, linuxerr.ENOMEM) {
			s.retries.Add(1)
			return err
		}
		return backoff.Permanent(err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.RetryInterval), s.opts.MaxRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, linuxerr.ENOMEM) {
			s.log.Warningf("CPU %d: giving up on %v: %v", cpu, task, err)
			s.failed.Add(1)
			return nil, nil
		}
		return nil, err
	}
	// Every other generation runs with syscall tracing.
	if gen%2 == 1 {
		ti.SetFlag(threadinfo.SyscallTrace)
	}
	ti.SetAddrLimit(threadinfo.UserDS)
	s.created.Add(1)
	return ti, nil
}

// rounds runs the return-to-user rounds of the thread running on cpu.
func (s *Simulator) rounds(ctx context.Context, cpu int) error {
	c := s.k.CPU(cpu)
	neighbour := s.k.CPU((cpu + 1) % s.k.NumCPUs())
	h := hooks{s: s}
	for r := 0; r < s.opts.Rounds; r++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if neighbour != c {
			f := kicks[r%len(kicks)]
			neighbour.Current().SetFlag(f)
			s.sent.add(f.Mask())
		}
		const sysGetpid = 172
		if entry.SyscallEnter(c, sysGetpid, h) {
			entry.SyscallExit(c, sysGetpid, h)
		}
		done := entry.ExitToUser(c, h)
		s.consumed.add(done)
		if done != 0 && s.log.IsLogging(log.Debug) {
			s.log.Debugf("CPU %d round %d: %v", cpu, r, done)
		}
	}
	return nil
}

// hooks does the simulated work. Scheduling never switches threads, so the
// thread running on each CPU only changes between phases.
type hooks struct {
	s *Simulator
}

func (hooks) Schedule(*threadinfo.CPU, *threadinfo.ThreadInfo) {}

func (hooks) DeliverSignal(*threadinfo.ThreadInfo) {}

func (hooks) NotifyResume(*threadinfo.ThreadInfo) {}

func (hooks) RestoreFPState(*threadinfo.ThreadInfo) {}

func (h hooks) AddrLimitViolation(ti *threadinfo.ThreadInfo) {
	h.s.log.Warningf("%v: address limit violation", ti.Task())
}

func (hooks) Seccomp(*threadinfo.ThreadInfo, uintptr) bool {
	return true
}

func (h hooks) Trace(_ *threadinfo.ThreadInfo, _ uintptr, exit bool) {
	if !exit {
		h.s.syscalls.Add(1)
	}
}

func (hooks) Audit(*threadinfo.ThreadInfo, uintptr, bool) {}

func (hooks) Tracepoint(*threadinfo.ThreadInfo, uintptr, bool) {}
