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
	"fmt"
	"sync/atomic"

	"gvisor.dev/threadinfo/pkg/log"
)

// Register is the per-CPU fast-path register holding the address of the
// running thread's block (sp_el0 on arm64).
//
// Load must be O(1), must not block and must not allocate. Store must be a
// single atomic write.
type Register interface {
	Load() *ThreadInfo
	Store(ti *ThreadInfo)
}

// MemoryRegister is a Register backed by memory, for CPUs without a spare
// register and for tests.
//
// The zero value holds no block.
type MemoryRegister struct {
	p atomic.Pointer[ThreadInfo]
}

// Load implements Register.Load.
//
//go:nosplit
func (r *MemoryRegister) Load() *ThreadInfo {
	return r.p.Load()
}

// Store implements Register.Store.
//
//go:nosplit
func (r *MemoryRegister) Store(ti *ThreadInfo) {
	r.p.Store(ti)
}

// CPU is one processor's view of the running thread.
type CPU struct {
	id  int32
	reg Register
}

// NewCPU returns CPU id using reg. A nil reg is replaced with a
// MemoryRegister.
func NewCPU(id int32, reg Register) *CPU {
	if reg == nil {
		reg = &MemoryRegister{}
	}
	return &CPU{id: id, reg: reg}
}

// ID returns the processor index.
func (c *CPU) ID() int32 {
	return c.id
}

// Current returns the block of the thread running on c.
//
// It is a single register read with no validity check. Calling it before the
// first block is published on c returns nil; the boot sequence must ensure it
// does not happen.
//
//go:nosplit
func (c *CPU) Current() *ThreadInfo {
	return c.reg.Load()
}

// Publish makes ti the first block running on c. It is used once per CPU by
// the boot sequence; afterwards blocks change with SwitchTo.
func (c *CPU) Publish(ti *ThreadInfo) {
	if prev := c.reg.Load(); prev != nil {
		bugf("CPU %d already running %v", c.id, prev.task)
	}
	c.SwitchTo(ti)
}

// SwitchTo makes next the block running on c and returns the previous one.
//
// next must be fully constructed, not retired and not running on any other
// CPU. Claiming next is a single compare-and-swap shared with Retire, so a
// concurrent retirement either fails or makes this call report a bug. Its cpu
// field is updated before the register is written, and the register is
// written with a single atomic store, so an interrupt on c sees either the
// previous block or the complete next one.
func (c *CPU) SwitchTo(next *ThreadInfo) (prev *ThreadInfo) {
	if next == nil {
		bugf("CPU %d switching to a nil thread_info", c.id)
	}
	prev = c.reg.Load()
	if prev == next {
		return prev
	}
	switch s := next.State(); s {
	case StateConstructed:
		next.transition(StateActive, StateConstructed)
	case StateActive:
	default:
		bugf("CPU %d switching to thread_info for %v while %v", c.id, next.task, s)
	}
	if !next.onCPU.CompareAndSwap(NoCPU, c.id) {
		if cpu := next.onCPU.Load(); cpu == retiredCPU {
			bugf("CPU %d switching to retired thread_info for %v", c.id, next.task)
		} else {
			bugf("thread_info for %v already running on CPU %d", next.task, cpu)
		}
	}
	if next.CPU() != c.id {
		next.SetCPU(c.id)
	}
	c.reg.Store(next)
	if prev != nil {
		prev.onCPU.Store(NoCPU)
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("CPU %d: switched %v -> %v", c.id, taskOf(prev), next.task)
	}
	return prev
}

// String implements fmt.Stringer.
func (c *CPU) String() string {
	return fmt.Sprintf("CPU %d", c.id)
}

func taskOf(ti *ThreadInfo) any {
	if ti == nil {
		return "<none>"
	}
	return ti.task
}
