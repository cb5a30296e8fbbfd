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

package threadinfo

import (
	"context"
	"fmt"

	"gvisor.dev/threadinfo/pkg/atomicbitops"
	"gvisor.dev/threadinfo/pkg/cleanup"
	"gvisor.dev/threadinfo/pkg/errors/linuxerr"
	"gvisor.dev/threadinfo/pkg/log"
	"gvisor.dev/threadinfo/pkg/sched"
)

// inheritedFlags are copied from a parent to a cloned thread.
const inheritedFlags = Flags(1<<Bit32 | 1<<Seccomp)

// KernelOpts configures a Kernel.
type KernelOpts struct {
	// Config is the block configuration.
	Config Config

	// NumCPUs is the number of processors.
	NumCPUs int

	// Nodes and PoolCapacity size the allocator pools. They are used only
	// with Config.ThreadInfoAllocator.
	Nodes        int
	PoolCapacity int

	// MaxThreads bounds the number of live threads created with NewThread.
	// Zero means no bound.
	MaxThreads int

	// Registers optionally supplies the fast-path register of each CPU.
	// Missing registers default to MemoryRegister.
	Registers []Register

	// WaitForBlocks makes NewThread wait for a free block instead of failing
	// with ENOMEM when a pool is exhausted.
	WaitForBlocks bool
}

// Kernel ties blocks to processors: it owns the boot thread's static storage,
// the per-CPU idle threads, and the thread creation and retirement paths.
type Kernel struct {
	cfg   Config
	cpus  []*CPU
	alloc *Allocator
	wait  bool

	maxThreads int32
	threads    atomicbitops.Int32
	booted     atomicbitops.Uint32

	initTask  sched.Task
	initUnion ThreadUnion
	idle      []*ThreadUnion
}

// NewKernel returns a kernel that has not been booted.
func NewKernel(opts KernelOpts) (*Kernel, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.NumCPUs <= 0 {
		return nil, fmt.Errorf("invalid CPU count %d: %w", opts.NumCPUs, linuxerr.EINVAL)
	}
	if len(opts.Registers) > opts.NumCPUs {
		return nil, fmt.Errorf("%d registers for %d CPUs: %w", len(opts.Registers), opts.NumCPUs, linuxerr.EINVAL)
	}
	if opts.MaxThreads < 0 {
		return nil, fmt.Errorf("invalid thread limit %d: %w", opts.MaxThreads, linuxerr.EINVAL)
	}
	k := &Kernel{
		cfg:        opts.Config,
		cpus:       make([]*CPU, opts.NumCPUs),
		wait:       opts.WaitForBlocks,
		maxThreads: int32(opts.MaxThreads),
		initTask:   sched.Task{TID: 0, Comm: "swapper/0"},
	}
	k.initUnion = InitThreadUnion(&k.initTask, k.cfg)
	for i := range k.cpus {
		var reg Register
		if i < len(opts.Registers) {
			reg = opts.Registers[i]
		}
		k.cpus[i] = NewCPU(int32(i), reg)
	}
	for i := 1; i < opts.NumCPUs; i++ {
		k.idle = append(k.idle, NewThreadUnion(sched.NewTask(0, fmt.Sprintf("swapper/%d", i)), k.cfg))
	}
	if k.cfg.ThreadInfoAllocator {
		a, err := NewAllocator(k.cfg, AllocatorOpts{Nodes: opts.Nodes, Capacity: opts.PoolCapacity})
		if err != nil {
			return nil, err
		}
		k.alloc = a
	}
	return k, nil
}

// Boot publishes the boot thread on CPU 0 and an idle thread on every other
// CPU. After Boot returns, Current is valid on every CPU.
func (k *Kernel) Boot() error {
	if !k.booted.CompareAndSwap(0, 1) {
		return fmt.Errorf("kernel already booted: %w", linuxerr.EBUSY)
	}
	k.cpus[0].Publish(&k.initUnion.Info)
	for i, u := range k.idle {
		k.cpus[i+1].Publish(&u.Info)
	}
	log.Infof("Booted %d CPU(s), thread_info %d bytes, allocator %t", len(k.cpus), ComputeLayout(k.cfg).Size, k.alloc != nil)
	return nil
}

// Config returns the block configuration.
func (k *Kernel) Config() Config {
	return k.cfg
}

// NumCPUs returns the number of processors.
func (k *Kernel) NumCPUs() int {
	return len(k.cpus)
}

// CPU returns processor i.
func (k *Kernel) CPU(i int) *CPU {
	return k.cpus[i]
}

// Allocator returns the block allocator, or nil if blocks are embedded in
// stacks.
func (k *Kernel) Allocator() *Allocator {
	return k.alloc
}

// InitThread returns the boot thread's block.
func (k *Kernel) InitThread() *ThreadInfo {
	return &k.initUnion.Info
}

// IdleThread returns the idle thread of cpu, which is the boot thread on
// CPU 0.
func (k *Kernel) IdleThread(cpu int) *ThreadInfo {
	if cpu == 0 {
		return k.InitThread()
	}
	return &k.idle[cpu-1].Info
}

// Threads returns the number of live threads created with NewThread.
func (k *Kernel) Threads() int {
	return int(k.threads.Load())
}

// NewThread constructs the block of a new thread for task, on node when
// blocks come from the allocator. The block is not published; the scheduler
// publishes it with CPU.SwitchTo.
//
// It returns EAGAIN if the thread limit is reached and ENOMEM if no block is
// available. Either failure affects only this thread.
func (k *Kernel) NewThread(ctx context.Context, task *sched.Task, node int) (*ThreadInfo, error) {
	if task == nil {
		return nil, fmt.Errorf("new thread without a task: %w", linuxerr.EINVAL)
	}
	if !k.reserve() {
		return nil, fmt.Errorf("creating %v: thread limit %d reached: %w", task, k.maxThreads, linuxerr.EAGAIN)
	}
	cu := cleanup.Make(k.unreserve)
	defer cu.Clean()

	var ti *ThreadInfo
	if k.alloc != nil {
		var err error
		if k.wait {
			ti, err = k.alloc.AllocateWait(ctx, task, node)
		} else {
			ti, err = k.alloc.Allocate(task, node)
		}
		if err != nil {
			return nil, err
		}
		cu.Add(func() { k.alloc.Release(ti) })
	} else {
		ti = &NewThreadUnion(task, k.cfg).Info
	}

	// Creation may have waited; do not hand out a block to a creator that
	// gave up.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("creating %v: %w", task, err)
	}
	cu.Release()
	return ti, nil
}

// Clone is like NewThread, but the new thread inherits the parent's
// personality and seccomp state.
func (k *Kernel) Clone(ctx context.Context, parent *ThreadInfo, task *sched.Task, node int) (*ThreadInfo, error) {
	ti, err := k.NewThread(ctx, task, node)
	if err != nil {
		return nil, err
	}
	ti.flags.word.FetchOr(uint64(parent.Flags() & inheritedFlags))
	return ti, nil
}

// RetireThread releases the block of a thread that has fully exited. The
// thread must have been switched out; EBUSY is returned if it still runs on
// a CPU. The check and the retirement are one atomic claim, so a concurrent
// SwitchTo to the same block either makes RetireThread fail with EBUSY or
// fails itself. Boot and idle threads cannot be retired.
func (k *Kernel) RetireThread(ti *ThreadInfo) error {
	if k.isStatic(ti) {
		return fmt.Errorf("retiring boot or idle thread %v: %w", ti.task, linuxerr.EINVAL)
	}
	if s := ti.State(); s != StateConstructed && s != StateActive {
		return fmt.Errorf("retiring %v while %v: %w", ti.task, s, linuxerr.EINVAL)
	}
	if cpu, ok := ti.tryRetire(); !ok {
		if cpu == retiredCPU {
			return fmt.Errorf("retiring %v twice: %w", ti.task, linuxerr.EINVAL)
		}
		return fmt.Errorf("retiring %v running on CPU %d: %w", ti.task, cpu, linuxerr.EBUSY)
	}
	if k.alloc != nil && ti.node >= 0 {
		k.alloc.Release(ti)
	} else {
		ti.transition(StateFreed, StateRetiring)
	}
	k.unreserve()
	return nil
}

func (k *Kernel) isStatic(ti *ThreadInfo) bool {
	if ti == &k.initUnion.Info {
		return true
	}
	for _, u := range k.idle {
		if ti == &u.Info {
			return true
		}
	}
	return false
}

// reserve takes a slot under the thread limit.
func (k *Kernel) reserve() bool {
	for {
		n := k.threads.Load()
		if k.maxThreads > 0 && n >= k.maxThreads {
			return false
		}
		if k.threads.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (k *Kernel) unreserve() {
	k.threads.Add(-1)
}
