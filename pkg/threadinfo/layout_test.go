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
	"bytes"
	"strings"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
)

// layoutConfigs are the supported combinations of optional fields.
func layoutConfigs() map[string]Config {
	plain := DefaultConfig()
	plain.SoftwareTTBR0PAN = false
	return map[string]Config{
		"software pan": DefaultConfig(),
		"allocator":    allocatorConfig(),
		"plain":        plain,
	}
}

func TestLayoutMatchesStruct(t *testing.T) {
	var ti ThreadInfo
	goOffsets := map[string]uintptr{
		"flags":         unsafe.Offsetof(ti.flags),
		"addr_limit":    unsafe.Offsetof(ti.addrLimit),
		"task":          unsafe.Offsetof(ti.task),
		"exec_domain":   unsafe.Offsetof(ti.execDomain),
		"ttbr0":         unsafe.Offsetof(ti.ttbr0),
		"preempt_count": unsafe.Offsetof(ti.preemptCount),
		"cpu":           unsafe.Offsetof(ti.cpu),
		"phys_addr":     unsafe.Offsetof(ti.physAddr),
	}
	for name, cfg := range layoutConfigs() {
		t.Run(name, func(t *testing.T) {
			l := ComputeLayout(cfg)
			for _, f := range l.Fields {
				want, ok := goOffsets[f.Name]
				if !ok {
					t.Errorf("layout field %s has no Go field", f.Name)
					continue
				}
				if f.Offset != want {
					t.Errorf("%s: layout offset %#x, Go offset %#x", f.Name, f.Offset, want)
				}
			}
			for field, present := range map[string]bool{
				"ttbr0":     cfg.SoftwareTTBR0PAN,
				"phys_addr": cfg.ThreadInfoAllocator,
			} {
				if _, ok := l.Offset(field); ok != present {
					t.Errorf("field %s in layout: %t, want %t", field, ok, present)
				}
			}
			if last := l.Fields[len(l.Fields)-1]; l.Size < last.Offset+last.Size {
				t.Errorf("Size %d does not cover %s", l.Size, last.Name)
			}
		})
	}
}

func TestLayoutConfigurations(t *testing.T) {
	cfgs := layoutConfigs()

	type offsets map[string]uintptr
	for _, tc := range []struct {
		name  string
		cfg   Config
		want  offsets
		size  uintptr
		order int
	}{
		{
			name: "software pan",
			cfg:  cfgs["software pan"],
			want: offsets{"flags": 0, "addr_limit": 8, "task": 16, "exec_domain": 24, "ttbr0": 32, "preempt_count": 40, "cpu": 44},
			size: 48, order: 2,
		},
		{
			name: "allocator",
			cfg:  cfgs["allocator"],
			want: offsets{"flags": 0, "addr_limit": 8, "task": 16, "exec_domain": 24, "preempt_count": 40, "cpu": 44, "phys_addr": 48},
			size: 56, order: -1,
		},
		{
			name: "plain",
			cfg:  cfgs["plain"],
			want: offsets{"flags": 0, "addr_limit": 8, "task": 16, "exec_domain": 24, "preempt_count": 40, "cpu": 44},
			size: 48, order: 2,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l := ComputeLayout(tc.cfg)
			got := offsets{}
			for _, f := range l.Fields {
				got[f.Name] = f.Offset
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("offsets mismatch (-want +got):\n%s", diff)
			}
			if l.Size != tc.size {
				t.Errorf("Size = %d, want %d", l.Size, tc.size)
			}
			if l.ThreadSizeOrder != tc.order {
				t.Errorf("ThreadSizeOrder = %d, want %d", l.ThreadSizeOrder, tc.order)
			}
		})
	}
}

func TestEmitHeader(t *testing.T) {
	l := ComputeLayout(DefaultConfig())
	var buf bytes.Buffer
	if err := l.EmitHeader(&buf); err != nil {
		t.Fatalf("EmitHeader failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"#define TI_FLAGS                 0x00\n",
		"#define TI_TTBR0                 0x20\n",
		"#define TI_PREEMPT               0x28\n",
		"#define THREAD_SIZE_ORDER        2\n",
		"#define TIF_NEED_RESCHED         1\n",
		"#define _TIF_WORK_MASK           0x0000001f\n",
		"#define _TIF_SYSCALL_WORK        0x00000f80\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("header missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "TI_PHYS_ADDR") {
		t.Errorf("header has TI_PHYS_ADDR without the allocator")
	}

	// Without the saved translation root its slot stays reserved.
	l = ComputeLayout(layoutConfigs()["plain"])
	buf.Reset()
	if err := l.EmitHeader(&buf); err != nil {
		t.Fatalf("EmitHeader failed: %v", err)
	}
	out = buf.String()
	if !strings.Contains(out, "#define TI_PREEMPT               0x28\n") {
		t.Errorf("header has the wrong TI_PREEMPT:\n%s", out)
	}
	if strings.Contains(out, "TI_TTBR0") {
		t.Errorf("header has TI_TTBR0 without software PAN")
	}
}

func TestEmitGo(t *testing.T) {
	l := ComputeLayout(allocatorConfig())
	var buf bytes.Buffer
	if err := l.EmitGo(&buf, "asmoffsets"); err != nil {
		t.Fatalf("EmitGo failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"package asmoffsets\n", "\tTI_PREEMPT = 0x28\n", "\tTI_PHYS_ADDR = 0x30\n", "\tTHREAD_INFO_SIZE = 0x38\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestThreadUnion(t *testing.T) {
	if got := unsafe.Sizeof(ThreadUnion{}); got != ThreadSize {
		t.Fatalf("Sizeof(ThreadUnion) = %d, want %d", got, ThreadSize)
	}
	u := NewThreadUnion(newTestThread(t, DefaultConfig()).Task(), DefaultConfig())
	if got := u.StartSP() - u.Base(); got != ThreadStartSP {
		t.Errorf("StartSP offset = %#x, want %#x", got, ThreadStartSP)
	}
	if uintptr(unsafe.Pointer(&u.Info)) != u.Base() {
		t.Errorf("block is not at the base of the stack allocation")
	}
	if got, want := u.StackFree(), uintptr(ThreadStartSP)-unsafe.Sizeof(ThreadInfo{}); got != want {
		t.Errorf("StackFree() = %d, want %d", got, want)
	}
}
