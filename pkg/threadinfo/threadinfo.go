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

// Package threadinfo implements the per-thread low-level control block used
// by kernel entry/exit and scheduling paths, and the thread information flags
// that gate deferred work at those boundaries.
//
// A block is reached from the CPU it runs on in O(1) through a per-CPU
// register (see CPU.Current). Entry code tests the composite masks WorkMask
// and SyscallWork with a single load before looking at individual flags.
package threadinfo

import (
	"fmt"

	"gvisor.dev/threadinfo/pkg/atomicbitops"
	"gvisor.dev/threadinfo/pkg/log"
	"gvisor.dev/threadinfo/pkg/sched"
)

// NoCPU is the CPU of a block that has never been placed on a CPU.
const NoCPU = -1

// retiredCPU marks onCPU of a retired block. It stays set until the block is
// constructed again, so no CPU can claim the block in between.
const retiredCPU = -2

// ExecDomain is an execution domain (personality) record. It is opaque to
// this package.
type ExecDomain struct {
	// Name is the domain name.
	Name string

	// PersLow and PersHigh bound the personalities handled.
	PersLow  uint32
	PersHigh uint32
}

// DefaultExecDomain is the native Linux execution domain.
var DefaultExecDomain = ExecDomain{
	Name:     "Linux",
	PersLow:  0,
	PersHigh: 0,
}

// State is the lifecycle state of a block.
type State uint32

// Block lifecycle: Uninitialized → Constructed → Active → Retiring → Freed.
// Freed blocks owned by an allocator may be constructed again.
const (
	StateUninitialized State = iota
	StateConstructed
	StateActive
	StateRetiring
	StateFreed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConstructed:
		return "constructed"
	case StateActive:
		return "active"
	case StateRetiring:
		return "retiring"
	case StateFreed:
		return "freed"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// ThreadInfo is the low-level control block of one thread.
//
// The fields up to and including physAddr are the layout read by entry
// assembly (see ComputeLayout); they must not be reordered. The slots of both
// optional fields are always present, so offsets do not depend on the
// configuration; which fields are live is recorded in present.
type ThreadInfo struct {
	// flags are the thread information flags.
	flags FlagWord

	// addrLimit is the address limit (mm_segment_t). Written only by the
	// owning thread.
	addrLimit atomicbitops.Uint64

	// task is the owning task. Immutable once constructed.
	task *sched.Task

	// execDomain is the execution domain. Immutable once constructed.
	execDomain *ExecDomain

	// ttbr0 is the saved translation root, present with SoftwareTTBR0PAN.
	ttbr0 atomicbitops.Uint64

	// preemptCount is zero when preemptible, positive when nested in
	// non-preemptible sections. Negative is a bug.
	preemptCount atomicbitops.Int32

	// cpu is the CPU this thread last ran on. Written only by the
	// migration path.
	cpu atomicbitops.Int32

	// physAddr is the physical address of the block's storage, present with
	// ThreadInfoAllocator. Written only by the allocator.
	physAddr uint64

	// Fields below are not part of the C layout.

	// present tags the optional fields in use.
	present presence

	// state is the lifecycle state.
	state atomicbitops.Uint32

	// onCPU is the CPU whose register currently holds this block, NoCPU, or
	// retiredCPU. SwitchTo and Retire both claim the block by swapping it
	// from NoCPU, so at most one of them succeeds.
	onCPU atomicbitops.Int32

	// node is the allocator node owning this block, or -1 if the block is
	// not allocator owned.
	node int32
}

// InitThreadInfo returns a constructed block for task under cfg. It performs
// no allocation and has no side effects, so it can produce the block of the
// very first thread in static storage before any allocator exists.
//
// Precondition: task is not nil.
func InitThreadInfo(task *sched.Task, cfg Config) ThreadInfo {
	return ThreadInfo{
		addrLimit:    atomicbitops.FromUint64(uint64(KernelDS)),
		task:         task,
		execDomain:   &DefaultExecDomain,
		preemptCount: atomicbitops.FromInt32(cfg.InitPreemptCount),
		cpu:          atomicbitops.FromInt32(NoCPU),
		present:      cfg.present(),
		state:        atomicbitops.FromUint32(uint32(StateConstructed)),
		onCPU:        atomicbitops.FromInt32(NoCPU),
		node:         -1,
	}
}

// New allocates and constructs a block for task.
func New(task *sched.Task, cfg Config) *ThreadInfo {
	ti := new(ThreadInfo)
	ti.Init(task, cfg)
	return ti
}

// Init constructs a block in place, for blocks embedded in other storage:
// flags zeroed, preemption count at cfg.InitPreemptCount, address limit
// KernelDS, CPU unset. Init never publishes the block.
//
// Preconditions:
//   - task is not nil.
//   - ti is uninitialized or freed.
func (ti *ThreadInfo) Init(task *sched.Task, cfg Config) {
	if task == nil {
		bugf("thread_info constructed without a task")
	}
	if s := ti.State(); s != StateUninitialized && s != StateFreed {
		bugf("thread_info for %v constructed while %v", task, s)
	}
	// A freed block belongs to an allocator slot, which keeps its node and
	// backing address across reuse.
	freed := ti.State() == StateFreed
	node, phys := ti.node, ti.physAddr
	*ti = InitThreadInfo(task, cfg)
	if freed {
		ti.node = node
		ti.physAddr = phys
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("thread_info %p constructed for %v", ti, task)
	}
}

// Task returns the owning task.
//
//go:nosplit
func (ti *ThreadInfo) Task() *sched.Task {
	return ti.task
}

// ExecDomain returns the execution domain.
//
//go:nosplit
func (ti *ThreadInfo) ExecDomain() *ExecDomain {
	return ti.execDomain
}

// CPU returns the CPU this thread last ran on, or NoCPU.
//
//go:nosplit
func (ti *ThreadInfo) CPU() int32 {
	return ti.cpu.Load()
}

// SetCPU records a migration to cpu. Only the migration path may call it.
func (ti *ThreadInfo) SetCPU(cpu int32) {
	ti.cpu.Store(cpu)
}

// State returns the lifecycle state.
func (ti *ThreadInfo) State() State {
	return State(ti.state.Load())
}

// transition moves ti from one of from to to, or reports a bug.
func (ti *ThreadInfo) transition(to State, from ...State) {
	for _, f := range from {
		if ti.state.CompareAndSwap(uint32(f), uint32(to)) {
			return
		}
	}
	bugf("thread_info for %v: invalid transition %v -> %v", ti.task, ti.State(), to)
}

// Retire marks the owning thread as fully exited. It is a bug to retire a
// block held by a CPU's register. Once retired, the block can no longer be
// switched to.
func (ti *ThreadInfo) Retire() {
	if cpu, ok := ti.tryRetire(); !ok {
		bugf("retiring thread_info for %v while running on CPU %d", ti.task, cpu)
	}
}

// tryRetire claims the block against SwitchTo and moves it to Retiring. If a
// CPU holds the block, it returns that CPU and false.
func (ti *ThreadInfo) tryRetire() (int32, bool) {
	if !ti.onCPU.CompareAndSwap(NoCPU, retiredCPU) {
		return ti.onCPU.Load(), false
	}
	ti.transition(StateRetiring, StateConstructed, StateActive)
	return retiredCPU, true
}

// running reports whether the block is held by some CPU's register.
func (ti *ThreadInfo) running() bool {
	return ti.onCPU.Load() >= 0
}

// SavedTTBR0 returns the saved translation root. ok is false if the field is
// not configured.
func (ti *ThreadInfo) SavedTTBR0() (ttbr0 uint64, ok bool) {
	if ti.present&hasTTBR0 == 0 {
		return 0, false
	}
	return ti.ttbr0.Load(), true
}

// SetSavedTTBR0 saves the translation root. It is a bug to call it when the
// field is not configured.
func (ti *ThreadInfo) SetSavedTTBR0(ttbr0 uint64) {
	if ti.present&hasTTBR0 == 0 {
		bugf("thread_info for %v has no saved translation root", ti.task)
	}
	ti.ttbr0.Store(ttbr0)
}

// PhysAddr returns the physical address of the block's storage. ok is false
// if the block is not separately allocated.
func (ti *ThreadInfo) PhysAddr() (addr uint64, ok bool) {
	if ti.present&hasPhysAddr == 0 {
		return 0, false
	}
	return ti.physAddr, true
}

// SavedPC returns the program counter saved when the owning task was last
// switched out. It is derived from the task and not stored in the block.
func (ti *ThreadInfo) SavedPC() uint64 {
	return ti.task.SavedContext().PC
}

// SavedSP returns the saved stack pointer of the owning task.
func (ti *ThreadInfo) SavedSP() uint64 {
	return ti.task.SavedContext().SP
}

// SavedFP returns the saved frame pointer of the owning task.
func (ti *ThreadInfo) SavedFP() uint64 {
	return ti.task.SavedContext().FP
}

// Flags returns all flags with a single atomic load.
//
//go:nosplit
func (ti *ThreadInfo) Flags() Flags {
	return ti.flags.Load()
}

// AnyFlags returns true if any flag in mask is set, with a single atomic
// load. It is the composite test used by checkpoints.
//
//go:nosplit
func (ti *ThreadInfo) AnyFlags(mask Flags) bool {
	return ti.flags.Any(mask)
}

// WorkPending returns true if there is work to do before returning to user
// mode.
//
//go:nosplit
func (ti *ThreadInfo) WorkPending() bool {
	return ti.flags.Any(WorkMask)
}

// SyscallWorkActive returns true if any syscall instrumentation is active.
//
//go:nosplit
func (ti *ThreadInfo) SyscallWorkActive() bool {
	return ti.flags.Any(SyscallWork)
}

// SetFlag sets f. It may be called from any CPU.
func (ti *ThreadInfo) SetFlag(f Flag) {
	ti.flags.Set(f)
}

// ClearFlag clears f. It may be called from any CPU.
func (ti *ThreadInfo) ClearFlag(f Flag) {
	ti.flags.Clear(f)
}

// UpdateFlag sets or clears f.
func (ti *ThreadInfo) UpdateFlag(f Flag, on bool) {
	ti.flags.Update(f, on)
}

// TestFlag returns true if f is set.
func (ti *ThreadInfo) TestFlag(f Flag) bool {
	return ti.flags.Test(f)
}

// TestAndSetFlag sets f and returns its previous value.
func (ti *ThreadInfo) TestAndSetFlag(f Flag) bool {
	return ti.flags.TestAndSet(f)
}

// TestAndClearFlag clears f and returns its previous value. It is the
// consume-once operation: of all concurrent callers, one sees true.
func (ti *ThreadInfo) TestAndClearFlag(f Flag) bool {
	return ti.flags.TestAndClear(f)
}

// Is32Bit returns true for 32-bit (compat) threads.
func (ti *ThreadInfo) Is32Bit() bool {
	return ti.flags.Test(Bit32)
}

// String implements fmt.Stringer.
func (ti *ThreadInfo) String() string {
	return fmt.Sprintf("thread_info{task=%v flags=%v preempt=%d cpu=%d state=%v}",
		ti.task, ti.Flags(), ti.PreemptCount(), ti.CPU(), ti.State())
}
