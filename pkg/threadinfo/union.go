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
	"unsafe"

	"gvisor.dev/threadinfo/pkg/sched"
)

// ThreadUnion is a thread's stack allocation with the block embedded at its
// base. The stack grows down towards the block.
type ThreadUnion struct {
	Info  ThreadInfo
	stack [ThreadSize - unsafe.Sizeof(ThreadInfo{})]byte
}

// InitThreadUnion returns the stack allocation of the boot thread, with its
// block constructed for task. It is meant for static storage.
func InitThreadUnion(task *sched.Task, cfg Config) ThreadUnion {
	return ThreadUnion{Info: InitThreadInfo(task, cfg)}
}

// NewThreadUnion allocates a stack with an embedded block for task.
func NewThreadUnion(task *sched.Task, cfg Config) *ThreadUnion {
	u := new(ThreadUnion)
	u.Info.Init(task, cfg)
	return u
}

// Base returns the address of the allocation.
func (u *ThreadUnion) Base() uintptr {
	return uintptr(unsafe.Pointer(u))
}

// StartSP returns the initial stack pointer of the thread.
func (u *ThreadUnion) StartSP() uintptr {
	return u.Base() + ThreadStartSP
}

// StackFree returns the number of stack bytes between the top of the block
// and the initial stack pointer.
func (u *ThreadUnion) StackFree() uintptr {
	return ThreadStartSP - unsafe.Sizeof(u.Info)
}
