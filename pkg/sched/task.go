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

// Package sched holds the part of the scheduler's task record that the
// low-level thread control block refers to.
//
// The scheduler itself lives elsewhere; this package only carries task
// identity and the architecture-specific context saved when a task is
// switched out.
package sched

import (
	"fmt"

	"gvisor.dev/threadinfo/pkg/sync"
)

// CPUContext is the callee-saved register state stored by the context switch
// code when a task stops running on a CPU.
type CPUContext struct {
	X19 uint64
	X20 uint64
	X21 uint64
	X22 uint64
	X23 uint64
	X24 uint64
	X25 uint64
	X26 uint64
	X27 uint64
	X28 uint64
	FP  uint64
	SP  uint64
	PC  uint64
}

// Thread is the architecture-specific part of a task.
type Thread struct {
	// CPUContext is valid only while the task is switched out.
	CPUContext CPUContext

	// TPIDR is the saved user TLS register.
	TPIDR uint64
}

// Task is a schedulable thread of execution.
type Task struct {
	// TID is the thread ID. Immutable.
	TID int32

	// Comm is the task name. Immutable.
	Comm string

	// mu protects thread.
	mu sync.RWMutex

	thread Thread
}

// NewTask returns a new task record.
func NewTask(tid int32, comm string) *Task {
	return &Task{TID: tid, Comm: comm}
}

// SaveContext records the context of a task being switched out.
func (t *Task) SaveContext(ctx CPUContext) {
	t.mu.Lock()
	t.thread.CPUContext = ctx
	t.mu.Unlock()
}

// SavedContext returns the context recorded by the last SaveContext.
func (t *Task) SavedContext() CPUContext {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.thread.CPUContext
}

// SetTPIDR sets the saved user TLS register.
func (t *Task) SetTPIDR(v uint64) {
	t.mu.Lock()
	t.thread.TPIDR = v
	t.mu.Unlock()
}

// TPIDR returns the saved user TLS register.
func (t *Task) TPIDR() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.thread.TPIDR
}

// String implements fmt.Stringer.
func (t *Task) String() string {
	return fmt.Sprintf("%s[%d]", t.Comm, t.TID)
}
