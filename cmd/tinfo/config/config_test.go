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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/threadinfo/pkg/errors/linuxerr"
	"gvisor.dev/threadinfo/pkg/threadinfo"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tinfo.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.NrCPUs <= 0 {
		t.Errorf("default nr_cpus = %d", c.NrCPUs)
	}
	cfg, err := c.ThreadInfo()
	if err != nil {
		t.Fatalf("ThreadInfo failed: %v", err)
	}
	if diff := cmp.Diff(threadinfo.DefaultConfig(), cfg); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
arm64_sw_ttbr0_pan = false
arch_thread_info_allocator = true
arm64_page_size = "64k"
init_preempt_count = 2
nr_cpus = 8
numa_nodes = 2
pool_capacity = 16
threads_max = 100
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	opts, err := c.KernelOpts()
	if err != nil {
		t.Fatalf("KernelOpts failed: %v", err)
	}
	want := threadinfo.KernelOpts{
		Config: threadinfo.Config{
			ThreadInfoAllocator: true,
			PageSize:            threadinfo.PageSize64K,
			InitPreemptCount:    2,
		},
		NumCPUs:      8,
		Nodes:        2,
		PoolCapacity: 16,
		MaxThreads:   100,
	}
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("KernelOpts mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
	}{
		{"unknown key", "arm64_sw_ttbr0 = true\n"},
		{"bad page size", `arm64_page_size = "8k"` + "\n"},
		{"both optional fields", "arch_thread_info_allocator = true\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Load(writeConfig(t, tc.contents))
			if err == nil {
				_, err = c.KernelOpts()
			}
			if !errors.Is(err, linuxerr.EINVAL) {
				t.Errorf("got %v, want EINVAL", err)
			}
		})
	}
	if _, err := Load(writeConfig(t, "nr_cpus = \"many\"\n")); err == nil {
		t.Errorf("Load accepted a mistyped value")
	}
}
