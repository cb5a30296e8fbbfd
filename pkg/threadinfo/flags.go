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
	"strings"

	"gvisor.dev/threadinfo/pkg/bits"
)

// Flag is a thread information flag, identified by its bit index in the
// flags word. The indices are read directly by entry assembly and must not
// change.
type Flag uint

// Thread information flags.
const (
	// SigPending is set when a signal is pending.
	SigPending Flag = 0

	// NeedResched is set when rescheduling is necessary.
	NeedResched Flag = 1

	// NotifyResume requests a callback before returning to user.
	NotifyResume Flag = 2

	// ForeignFPState is set when the CPU's FP state is not the thread's.
	ForeignFPState Flag = 3

	// FSCheck requests that the address limit be checked on return to user.
	FSCheck Flag = 4

	// NoHZ is set while the tick is suppressed for the thread.
	NoHZ Flag = 7

	// SyscallTrace is set while syscall tracing is active.
	SyscallTrace Flag = 8

	// SyscallAudit is set while syscall auditing is active.
	SyscallAudit Flag = 9

	// SyscallTracepoint is set while syscall tracepoints are enabled.
	SyscallTracepoint Flag = 10

	// Seccomp is set while a seccomp filter is installed.
	Seccomp Flag = 11

	// MemDie is set when the thread is terminating due to the OOM killer.
	MemDie Flag = 18

	// Freeze is set when the thread should enter the freezer.
	Freeze Flag = 19

	// RestoreSigmask requests restoring the signal mask on return.
	RestoreSigmask Flag = 20

	// SingleStep is set while the thread is single stepped.
	SingleStep Flag = 21

	// Bit32 is set for 32-bit (compat) threads.
	Bit32 Flag = 22

	// SwitchMM requests a deferred switch_mm.
	SwitchMM Flag = 23

	// MMReleased is set once the thread's mm has been released.
	MMReleased Flag = 24
)

// flagNames holds every assigned flag. A position missing here is
// unassigned.
var flagNames = map[Flag]string{
	SigPending:        "SIGPENDING",
	NeedResched:       "NEED_RESCHED",
	NotifyResume:      "NOTIFY_RESUME",
	ForeignFPState:    "FOREIGN_FPSTATE",
	FSCheck:           "FSCHECK",
	NoHZ:              "NOHZ",
	SyscallTrace:      "SYSCALL_TRACE",
	SyscallAudit:      "SYSCALL_AUDIT",
	SyscallTracepoint: "SYSCALL_TRACEPOINT",
	Seccomp:           "SECCOMP",
	MemDie:            "MEMDIE",
	Freeze:            "FREEZE",
	RestoreSigmask:    "RESTORE_SIGMASK",
	SingleStep:        "SINGLESTEP",
	Bit32:             "32BIT",
	SwitchMM:          "SWITCH_MM",
	MMReleased:        "MM_RELEASED",
}

// AllFlags returns all assigned flags in bit order.
func AllFlags() []Flag {
	fs := make([]Flag, 0, len(flagNames))
	bits.ForEachSetBit64(uint64(assigned), func(i int) {
		fs = append(fs, Flag(i))
	})
	return fs
}

// Valid returns true if f is an assigned flag.
func (f Flag) Valid() bool {
	_, ok := flagNames[f]
	return ok
}

// Mask returns the single-bit mask of f.
func (f Flag) Mask() Flags {
	return Flags(bits.MaskOf64(int(f)))
}

// String implements fmt.Stringer.
func (f Flag) String() string {
	if name, ok := flagNames[f]; ok {
		return name
	}
	return fmt.Sprintf("FLAG_%d", uint(f))
}

// Flags is a set of thread information flags.
type Flags uint64

// Composite masks. Each is tested with a single load by one checkpoint, and
// only decomposed when non-zero.
const (
	// WorkMask is the work that must be done before returning to user mode.
	WorkMask = Flags(1<<NeedResched | 1<<SigPending | 1<<NotifyResume | 1<<ForeignFPState | 1<<FSCheck)

	// SyscallWork is the syscall entry and exit instrumentation.
	SyscallWork = Flags(1<<SyscallTrace | 1<<SyscallAudit | 1<<SyscallTracepoint | 1<<Seccomp | 1<<NoHZ)
)

// assigned is the mask of all assigned flags.
var assigned = func() Flags {
	var m Flags
	for f := range flagNames {
		m |= f.Mask()
	}
	return m
}()

// MaskOf returns the mask with the given flags set.
func MaskOf(fs ...Flag) Flags {
	var m Flags
	for _, f := range fs {
		m |= f.Mask()
	}
	return m
}

// Has returns true if f is set in fs.
func (fs Flags) Has(f Flag) bool {
	return bits.IsOn64(uint64(fs), uint64(f.Mask()))
}

// Any returns true if any flag of mask is set in fs.
func (fs Flags) Any(mask Flags) bool {
	return bits.IsAnyOn64(uint64(fs), uint64(mask))
}

// String implements fmt.Stringer.
func (fs Flags) String() string {
	if fs == 0 {
		return "0"
	}
	var names []string
	bits.ForEachSetBit64(uint64(fs), func(i int) {
		names = append(names, Flag(i).String())
	})
	return strings.Join(names, "|")
}
