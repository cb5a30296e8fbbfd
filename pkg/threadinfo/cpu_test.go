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
	"testing"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/threadinfo/pkg/sched"
)

func TestCurrentAfterPublish(t *testing.T) {
	c := NewCPU(0, nil)
	if got := c.Current(); got != nil {
		t.Fatalf("Current() = %v before publication", got)
	}
	ti := newTestThread(t, DefaultConfig())
	c.Publish(ti)
	if got := c.Current(); got != ti {
		t.Errorf("Current() = %v, want %v", got, ti)
	}
	if got := ti.CPU(); got != 0 {
		t.Errorf("CPU() = %d, want 0", got)
	}
	if got := ti.State(); got != StateActive {
		t.Errorf("State() = %v, want %v", got, StateActive)
	}
	expectBug(t, func() { c.Publish(newTestThread(t, DefaultConfig())) })
}

func TestSwitchTo(t *testing.T) {
	c := NewCPU(2, &MemoryRegister{})
	a := newTestThread(t, DefaultConfig())
	b := newTestThread(t, DefaultConfig())
	c.Publish(a)
	if prev := c.SwitchTo(b); prev != a {
		t.Errorf("SwitchTo(b) = %v, want a", prev)
	}
	if c.Current() != b || b.CPU() != 2 {
		t.Errorf("after switch: Current() = %v, b.CPU() = %d", c.Current(), b.CPU())
	}
	if a.running() {
		t.Errorf("switched-out block still marked running")
	}
	if prev := c.SwitchTo(b); prev != b {
		t.Errorf("switching to the running block returned %v", prev)
	}
	// The previous CPU is kept after switching out.
	if got := a.CPU(); got != 2 {
		t.Errorf("a.CPU() = %d, want 2", got)
	}
}

func TestSwitchToRunningElsewhere(t *testing.T) {
	c0, c1 := NewCPU(0, nil), NewCPU(1, nil)
	ti := newTestThread(t, DefaultConfig())
	c0.Publish(ti)
	c1.Publish(newTestThread(t, DefaultConfig()))
	expectBug(t, func() { c1.SwitchTo(ti) })
	if c1.Current() == ti {
		t.Errorf("block published on two CPUs")
	}
}

func TestSwitchToRetired(t *testing.T) {
	c := NewCPU(0, nil)
	c.Publish(newTestThread(t, DefaultConfig()))
	ti := newTestThread(t, DefaultConfig())
	ti.Retire()
	expectBug(t, func() { c.SwitchTo(ti) })
	expectBug(t, func() { c.SwitchTo(nil) })
	var unconstructed ThreadInfo
	expectBug(t, func() { c.SwitchTo(&unconstructed) })
}

func TestMigration(t *testing.T) {
	c0, c1 := NewCPU(0, nil), NewCPU(1, nil)
	c0.Publish(newTestThread(t, DefaultConfig()))
	c1.Publish(newTestThread(t, DefaultConfig()))
	ti := newTestThread(t, DefaultConfig())
	prev := c0.SwitchTo(ti)
	c0.SwitchTo(prev)
	c1.SwitchTo(ti)
	if got := ti.CPU(); got != 1 {
		t.Errorf("CPU() = %d after migration, want 1", got)
	}
}

// TestCrossCPUNotifyResume has CPU A set NOTIFY_RESUME on the block running
// on CPU B; B must observe it through its own fast-path lookup.
func TestCrossCPUNotifyResume(t *testing.T) {
	for i := 0; i < 100; i++ {
		a, b := NewCPU(0, nil), NewCPU(1, nil)
		a.Publish(New(sched.NewTask(1, "A"), DefaultConfig()))
		b.Publish(New(sched.NewTask(2, "B"), DefaultConfig()))

		target := make(chan *ThreadInfo, 1)
		sent := make(chan struct{})
		var g errgroup.Group
		g.Go(func() error {
			ti := <-target
			ti.SetFlag(NotifyResume)
			close(sent)
			return nil
		})
		var seen bool
		g.Go(func() error {
			target <- b.Current()
			<-sent
			seen = b.Current().TestAndClearFlag(NotifyResume)
			return nil
		})
		g.Wait()
		if !seen {
			t.Fatalf("iteration %d: CPU B did not observe NOTIFY_RESUME", i)
		}
		if a.Current().TestFlag(NotifyResume) {
			t.Fatalf("iteration %d: NOTIFY_RESUME leaked to CPU A", i)
		}
	}
}

// TestCurrentDuringSwitch checks that a reader on the same CPU never sees a
// block that is not fully constructed.
func TestCurrentDuringSwitch(t *testing.T) {
	c := NewCPU(0, nil)
	idle := newTestThread(t, DefaultConfig())
	c.Publish(idle)
	stop := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		for {
			select {
			case <-stop:
				return nil
			default:
			}
			ti := c.Current()
			if ti == nil || ti.Task() == nil || ti.AddrLimit() != KernelDS {
				t.Errorf("Current() returned an incomplete block %v", ti)
				return nil
			}
		}
	})
	for i := 0; i < 1000; i++ {
		ti := newTestThread(t, DefaultConfig())
		c.SwitchTo(ti)
		c.SwitchTo(idle)
	}
	close(stop)
	g.Wait()
}
