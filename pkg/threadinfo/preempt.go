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

// PreemptCount returns the preemption nesting depth.
//
//go:nosplit
func (ti *ThreadInfo) PreemptCount() int32 {
	return ti.preemptCount.Load()
}

// Preemptible returns true if the thread may be preempted now.
//
//go:nosplit
func (ti *ThreadInfo) Preemptible() bool {
	return ti.preemptCount.Load() == 0
}

// PreemptDisable enters a non-preemptible section.
//
//go:nosplit
func (ti *ThreadInfo) PreemptDisable() {
	ti.preemptCount.Add(1)
}

// PreemptEnable leaves a non-preemptible section. It returns true if the
// section was the outermost one and a reschedule is pending, in which case
// the caller must schedule.
//
// Leaving a section that was never entered is a bug.
//
//go:nosplit
func (ti *ThreadInfo) PreemptEnable() (resched bool) {
	if !ti.preemptCount.DecUnlessZero() {
		bugf("preempt count underflow for %v", ti.task)
	}
	return ti.preemptCount.Load() == 0 && ti.flags.Test(NeedResched)
}

// PreemptCountAdd enters n nested non-preemptible sections at once.
func (ti *ThreadInfo) PreemptCountAdd(n int32) {
	if n < 0 {
		bugf("negative preempt count adjustment %d for %v", n, ti.task)
	}
	ti.preemptCount.Add(n)
}

// PreemptCountSub leaves n nested non-preemptible sections at once. Leaving
// more sections than were entered is a bug, and the count is left unchanged.
func (ti *ThreadInfo) PreemptCountSub(n int32) {
	if n < 0 {
		bugf("negative preempt count adjustment %d for %v", n, ti.task)
	}
	for {
		cur := ti.preemptCount.Load()
		if cur < n {
			bugf("preempt count underflow for %v: %d - %d", ti.task, cur, n)
		}
		if ti.preemptCount.CompareAndSwap(cur, cur-n) {
			return
		}
	}
}
