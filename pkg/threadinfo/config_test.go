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
	"errors"
	"testing"

	"gvisor.dev/threadinfo/pkg/errors/linuxerr"
)

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "16k pages", mutate: func(c *Config) { c.PageSize = PageSize16K }},
		{name: "allocator", mutate: func(c *Config) {
			c.SoftwareTTBR0PAN = false
			c.ThreadInfoAllocator = true
			c.PageSize = PageSize64K
		}},
		{name: "bad page size", mutate: func(c *Config) { c.PageSize = 8192 }, wantErr: linuxerr.EINVAL},
		{name: "negative preempt count", mutate: func(c *Config) { c.InitPreemptCount = -1 }, wantErr: linuxerr.EINVAL},
		{name: "both optional fields", mutate: func(c *Config) { c.ThreadInfoAllocator = true }, wantErr: linuxerr.EINVAL},
		{name: "64k pages in stack", mutate: func(c *Config) {
			c.SoftwareTTBR0PAN = false
			c.PageSize = PageSize64K
		}, wantErr: linuxerr.EINVAL},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestThreadSizeOrder(t *testing.T) {
	for _, tc := range []struct {
		pageSize uint64
		order    int
		ok       bool
	}{
		{PageSize4K, 2, true},
		{PageSize16K, 0, true},
		{PageSize64K, 0, false},
	} {
		cfg := Config{PageSize: tc.pageSize}
		order, ok := cfg.ThreadSizeOrder()
		if order != tc.order || ok != tc.ok {
			t.Errorf("ThreadSizeOrder() with %#x pages = %d, %t, want %d, %t", tc.pageSize, order, ok, tc.order, tc.ok)
		}
	}
}
