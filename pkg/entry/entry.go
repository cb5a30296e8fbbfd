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

// Package entry holds the kernel entry and exit checkpoints that consume
// thread information flags.
//
// Each checkpoint loads the running thread's block through the CPU's
// fast-path register, tests a composite mask with a single load and only
// looks at individual flags when the composite test is non-zero. The work
// itself is done by the caller's hooks.
package entry

import (
	"gvisor.dev/threadinfo/pkg/log"
	"gvisor.dev/threadinfo/pkg/threadinfo"
)

// Hooks performs the work requested by flags in threadinfo.WorkMask.
//
// Hooks are called with the block of the thread about to return to user
// mode. Schedule may switch the CPU to another thread; the checkpoint
// re-reads the current block afterwards.
type Hooks interface {
	// Schedule runs the scheduler. NEED_RESCHED has already been cleared.
	Schedule(cpu *threadinfo.CPU, ti *threadinfo.ThreadInfo)

	// DeliverSignal delivers pending signals. SIGPENDING has already been
	// cleared; the hook sets it again if signals remain.
	DeliverSignal(ti *threadinfo.ThreadInfo)

	// NotifyResume runs resume callbacks. It is called at most once per
	// setting of NOTIFY_RESUME.
	NotifyResume(ti *threadinfo.ThreadInfo)

	// RestoreFPState loads the thread's FP state into the CPU.
	RestoreFPState(ti *threadinfo.ThreadInfo)

	// AddrLimitViolation reports a return to user mode with a non-user
	// address limit. The limit has already been reset.
	AddrLimitViolation(ti *threadinfo.ThreadInfo)
}

// SyscallHooks performs syscall instrumentation requested by flags in
// threadinfo.SyscallWork.
type SyscallHooks interface {
	// Seccomp filters a syscall. It returns false to deny it.
	Seccomp(ti *threadinfo.ThreadInfo, sysno uintptr) bool

	// Trace reports syscall entry (exit is false) or exit (exit is true) to
	// a tracer.
	Trace(ti *threadinfo.ThreadInfo, sysno uintptr, exit bool)

	// Audit records a syscall.
	Audit(ti *threadinfo.ThreadInfo, sysno uintptr, exit bool)

	// Tracepoint fires the syscall tracepoint.
	Tracepoint(ti *threadinfo.ThreadInfo, sysno uintptr, exit bool)
}

// SyscallEnter runs entry instrumentation for sysno on the thread running on
// cpu. It returns false if the syscall must not be dispatched.
func SyscallEnter(cpu *threadinfo.CPU, sysno uintptr, h SyscallHooks) bool {
	ti := cpu.Current()
	flags := ti.Flags()
	if !flags.Any(threadinfo.SyscallWork) {
		return true
	}
	if flags.Has(threadinfo.SyscallTrace) {
		h.Trace(ti, sysno, false)
	}
	// Seccomp runs after the tracer, which may have changed the syscall.
	if flags.Has(threadinfo.Seccomp) && !h.Seccomp(ti, sysno) {
		if log.IsLogging(log.Debug) {
			log.Debugf("%v: syscall %d denied by seccomp", ti.Task(), sysno)
		}
		return false
	}
	if flags.Has(threadinfo.SyscallTracepoint) {
		h.Tracepoint(ti, sysno, false)
	}
	if flags.Has(threadinfo.SyscallAudit) {
		h.Audit(ti, sysno, false)
	}
	return true
}

// SyscallExit runs exit instrumentation for sysno, in the reverse order of
// SyscallEnter.
func SyscallExit(cpu *threadinfo.CPU, sysno uintptr, h SyscallHooks) {
	ti := cpu.Current()
	flags := ti.Flags()
	if !flags.Any(threadinfo.SyscallWork) {
		return
	}
	if flags.Has(threadinfo.SyscallAudit) {
		h.Audit(ti, sysno, true)
	}
	if flags.Has(threadinfo.SyscallTracepoint) {
		h.Tracepoint(ti, sysno, true)
	}
	if flags.Has(threadinfo.SyscallTrace) {
		h.Trace(ti, sysno, true)
	}
}

// ExitToUser does all pending work of the thread running on cpu before it
// returns to user mode, and returns the work done.
//
// The loop repeats until a single load of the flags shows no work, since a
// hook or another CPU may request more work while earlier work is done.
func ExitToUser(cpu *threadinfo.CPU, h Hooks) (done threadinfo.Flags) {
	for {
		ti := cpu.Current()
		flags := ti.Flags()
		if !flags.Any(threadinfo.WorkMask) {
			return done
		}

		if flags.Has(threadinfo.NeedResched) && ti.TestAndClearFlag(threadinfo.NeedResched) {
			done |= threadinfo.NeedResched.Mask()
			h.Schedule(cpu, ti)
			// The thread may have changed.
			continue
		}
		if flags.Has(threadinfo.FSCheck) && !ti.CheckAddrLimitOnReturn() {
			h.AddrLimitViolation(ti)
		}
		if flags.Has(threadinfo.FSCheck) {
			done |= threadinfo.FSCheck.Mask()
		}
		if flags.Has(threadinfo.SigPending) && ti.TestAndClearFlag(threadinfo.SigPending) {
			done |= threadinfo.SigPending.Mask()
			h.DeliverSignal(ti)
		}
		if flags.Has(threadinfo.NotifyResume) && ti.TestAndClearFlag(threadinfo.NotifyResume) {
			done |= threadinfo.NotifyResume.Mask()
			h.NotifyResume(ti)
		}
		if flags.Has(threadinfo.ForeignFPState) {
			h.RestoreFPState(ti)
			ti.ClearFlag(threadinfo.ForeignFPState)
			done |= threadinfo.ForeignFPState.Mask()
		}
	}
}

// IRQExitToKernel is the preemption point on return from an interrupt to
// kernel mode. It schedules if the interrupted thread is preemptible and a
// reschedule is pending, and returns true if it did.
func IRQExitToKernel(cpu *threadinfo.CPU, h Hooks) bool {
	ti := cpu.Current()
	if !ti.Preemptible() || !ti.TestAndClearFlag(threadinfo.NeedResched) {
		return false
	}
	h.Schedule(cpu, ti)
	return true
}
