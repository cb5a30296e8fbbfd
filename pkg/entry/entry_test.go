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

package entry

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/threadinfo/pkg/sched"
	"gvisor.dev/threadinfo/pkg/threadinfo"
)

// recorder records hook calls.
type recorder struct {
	calls []string

	// next is switched to by Schedule, if set.
	next *threadinfo.ThreadInfo

	// resignal makes DeliverSignal set SIGPENDING again this many times.
	resignal int

	// allow is the seccomp verdict.
	allow bool
}

func (r *recorder) Schedule(cpu *threadinfo.CPU, ti *threadinfo.ThreadInfo) {
	r.calls = append(r.calls, "schedule "+ti.Task().Comm)
	if r.next != nil {
		cpu.SwitchTo(r.next)
		r.next = nil
	}
}

func (r *recorder) DeliverSignal(ti *threadinfo.ThreadInfo) {
	r.calls = append(r.calls, "signal "+ti.Task().Comm)
	if r.resignal > 0 {
		r.resignal--
		ti.SetFlag(threadinfo.SigPending)
	}
}

func (r *recorder) NotifyResume(ti *threadinfo.ThreadInfo) {
	r.calls = append(r.calls, "notify "+ti.Task().Comm)
}

func (r *recorder) RestoreFPState(ti *threadinfo.ThreadInfo) {
	r.calls = append(r.calls, "fpstate "+ti.Task().Comm)
}

func (r *recorder) AddrLimitViolation(ti *threadinfo.ThreadInfo) {
	r.calls = append(r.calls, "addr_limit "+ti.Task().Comm)
}

func (r *recorder) Seccomp(ti *threadinfo.ThreadInfo, sysno uintptr) bool {
	r.calls = append(r.calls, "seccomp")
	return r.allow
}

func (r *recorder) Trace(ti *threadinfo.ThreadInfo, sysno uintptr, exit bool) {
	r.calls = append(r.calls, event("trace", exit))
}

func (r *recorder) Audit(ti *threadinfo.ThreadInfo, sysno uintptr, exit bool) {
	r.calls = append(r.calls, event("audit", exit))
}

func (r *recorder) Tracepoint(ti *threadinfo.ThreadInfo, sysno uintptr, exit bool) {
	r.calls = append(r.calls, event("tracepoint", exit))
}

func event(name string, exit bool) string {
	if exit {
		return name + " exit"
	}
	return name + " enter"
}

func newCPU(t *testing.T, comm string) (*threadinfo.CPU, *threadinfo.ThreadInfo) {
	t.Helper()
	ti := threadinfo.New(sched.NewTask(1, comm), threadinfo.DefaultConfig())
	cpu := threadinfo.NewCPU(0, nil)
	cpu.Publish(ti)
	return cpu, ti
}

func TestExitToUserNoWork(t *testing.T) {
	cpu, ti := newCPU(t, "a")
	ti.SetFlag(threadinfo.Bit32)
	ti.SetFlag(threadinfo.SyscallTrace)
	var r recorder
	if done := ExitToUser(cpu, &r); done != 0 {
		t.Errorf("ExitToUser() = %v with no work pending", done)
	}
	if len(r.calls) != 0 {
		t.Errorf("hooks called with no work pending: %v", r.calls)
	}
}

func TestExitToUserWork(t *testing.T) {
	cpu, ti := newCPU(t, "a")
	ti.SetFlag(threadinfo.SigPending)
	ti.SetFlag(threadinfo.NotifyResume)
	ti.SetFlag(threadinfo.ForeignFPState)
	r := recorder{resignal: 1}
	done := ExitToUser(cpu, &r)

	want := []string{"signal a", "notify a", "fpstate a", "signal a"}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Errorf("hook calls mismatch (-want +got):\n%s", diff)
	}
	if wantDone := threadinfo.MaskOf(threadinfo.SigPending, threadinfo.NotifyResume, threadinfo.ForeignFPState); done != wantDone {
		t.Errorf("ExitToUser() = %v, want %v", done, wantDone)
	}
	if ti.WorkPending() {
		t.Errorf("work still pending: %v", ti.Flags())
	}
}

func TestExitToUserSchedule(t *testing.T) {
	cpu, a := newCPU(t, "a")
	b := threadinfo.New(sched.NewTask(2, "b"), threadinfo.DefaultConfig())
	b.SetFlag(threadinfo.NotifyResume)
	a.SetFlag(threadinfo.NeedResched)
	a.SetFlag(threadinfo.NotifyResume)
	r := recorder{next: b}
	ExitToUser(cpu, &r)

	// After the switch, the work of the new thread is done, not the old one.
	want := []string{"schedule a", "notify b"}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Errorf("hook calls mismatch (-want +got):\n%s", diff)
	}
	if !a.TestFlag(threadinfo.NotifyResume) {
		t.Errorf("switched-out thread lost NOTIFY_RESUME")
	}
	if cpu.Current() != b {
		t.Errorf("Current() is not the scheduled thread")
	}
}

func TestExitToUserAddrLimit(t *testing.T) {
	cpu, ti := newCPU(t, "a")
	ti.SetAddrLimit(threadinfo.KernelDS)
	var r recorder
	if done := ExitToUser(cpu, &r); done != threadinfo.FSCheck.Mask() {
		t.Errorf("ExitToUser() = %v, want FSCHECK", done)
	}
	if diff := cmp.Diff([]string{"addr_limit a"}, r.calls); diff != "" {
		t.Errorf("hook calls mismatch (-want +got):\n%s", diff)
	}
	if got := ti.AddrLimit(); got != threadinfo.UserDS {
		t.Errorf("AddrLimit() = %v, want %v", got, threadinfo.UserDS)
	}

	r.calls = nil
	ti.SetAddrLimit(threadinfo.UserDS)
	ExitToUser(cpu, &r)
	if len(r.calls) != 0 {
		t.Errorf("hooks called for a valid address limit: %v", r.calls)
	}
}

// TestNotifyResumeOnce delivers NOTIFY_RESUME from another CPU while the
// target returns to user mode repeatedly; each setting is consumed at most
// once.
func TestNotifyResumeOnce(t *testing.T) {
	cpu, ti := newCPU(t, "target")
	const sends = 1000
	var (
		g errgroup.Group
		r recorder
	)
	sent := make(chan struct{}, sends)
	g.Go(func() error {
		for i := 0; i < sends; i++ {
			ti.SetFlag(threadinfo.NotifyResume)
			sent <- struct{}{}
		}
		close(sent)
		return nil
	})
	for range sent {
		ExitToUser(cpu, &r)
	}
	g.Wait()
	ExitToUser(cpu, &r)
	if n := len(r.calls); n == 0 || n > sends {
		t.Errorf("NotifyResume called %d times for %d sends", n, sends)
	}
	if ti.TestFlag(threadinfo.NotifyResume) {
		t.Errorf("NOTIFY_RESUME left pending")
	}
}

func TestSyscallEnterExit(t *testing.T) {
	cpu, ti := newCPU(t, "a")
	r := recorder{allow: true}
	if !SyscallEnter(cpu, 64, &r) {
		t.Fatalf("SyscallEnter denied a syscall without instrumentation")
	}
	if len(r.calls) != 0 {
		t.Fatalf("hooks called without instrumentation: %v", r.calls)
	}

	for _, f := range []threadinfo.Flag{threadinfo.SyscallTrace, threadinfo.SyscallAudit, threadinfo.SyscallTracepoint, threadinfo.Seccomp} {
		ti.SetFlag(f)
	}
	if !SyscallEnter(cpu, 64, &r) {
		t.Fatalf("SyscallEnter denied an allowed syscall")
	}
	SyscallExit(cpu, 64, &r)
	want := []string{
		"trace enter", "seccomp", "tracepoint enter", "audit enter",
		"audit exit", "tracepoint exit", "trace exit",
	}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Errorf("hook calls mismatch (-want +got):\n%s", diff)
	}

	r = recorder{allow: false}
	if SyscallEnter(cpu, 64, &r) {
		t.Errorf("SyscallEnter allowed a syscall denied by seccomp")
	}
}

func TestIRQExitToKernel(t *testing.T) {
	cpu, ti := newCPU(t, "a")
	var r recorder
	ti.SetFlag(threadinfo.NeedResched)
	if IRQExitToKernel(cpu, &r) {
		t.Errorf("IRQExitToKernel scheduled with preemption disabled")
	}
	ti.PreemptEnable()
	if !IRQExitToKernel(cpu, &r) {
		t.Errorf("IRQExitToKernel did not schedule")
	}
	if ti.TestFlag(threadinfo.NeedResched) {
		t.Errorf("NEED_RESCHED not consumed")
	}
	if IRQExitToKernel(cpu, &r) {
		t.Errorf("IRQExitToKernel scheduled twice")
	}
}
