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

package sim

import (
	"context"
	"testing"

	"gvisor.dev/threadinfo/pkg/threadinfo"
)

func bootKernel(t *testing.T, opts threadinfo.KernelOpts) *threadinfo.Kernel {
	t.Helper()
	k, err := threadinfo.NewKernel(opts)
	if err != nil {
		t.Fatalf("NewKernel failed: %v", err)
	}
	if err := k.Boot(); err != nil {
		t.Fatalf("Boot failed: %v", err)
	}
	return k
}

func TestRun(t *testing.T) {
	k := bootKernel(t, threadinfo.KernelOpts{Config: threadinfo.DefaultConfig(), NumCPUs: 4})
	opts := DefaultOpts()
	rep, err := New(k, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := opts.Generations * k.NumCPUs()
	if rep.Created != want || rep.Retired != want {
		t.Errorf("created %d, retired %d, want %d each", rep.Created, rep.Retired, want)
	}
	if rep.Failed != 0 || rep.Retries != 0 {
		t.Errorf("failed %d, retries %d with embedded blocks", rep.Failed, rep.Retries)
	}
	for name, sent := range rep.Sent {
		if got := rep.Consumed[name]; got == 0 || got > sent {
			t.Errorf("%s: consumed %d of %d sent", name, got, sent)
		}
	}
	if got := rep.Consumed["FSCHECK"]; got != want {
		t.Errorf("FSCHECK consumed %d times, want %d", got, want)
	}
	// Odd generations trace every round.
	if got, want := rep.Syscalls, (opts.Generations/2)*opts.Rounds*k.NumCPUs(); got != want {
		t.Errorf("traced %d syscalls, want %d", got, want)
	}
	if got := k.Threads(); got != 0 {
		t.Errorf("%d threads left after the run", got)
	}
}

func TestRunAllocatorExhaustion(t *testing.T) {
	k := bootKernel(t, threadinfo.KernelOpts{
		Config: threadinfo.Config{
			ThreadInfoAllocator: true,
			PageSize:            threadinfo.PageSize64K,
			InitPreemptCount:    threadinfo.InitPreemptCount,
		},
		NumCPUs:      4,
		Nodes:        1,
		PoolCapacity: 2,
	})
	opts := DefaultOpts()
	opts.Generations = 2
	opts.Rounds = 8
	opts.MaxRetries = 1
	rep, err := New(k, opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.Created != 4 || rep.Failed != 4 {
		t.Errorf("created %d, failed %d, want 4 and 4", rep.Created, rep.Failed)
	}
	if rep.Retries != 8 {
		t.Errorf("retries %d, want 8", rep.Retries)
	}
	if got := k.Allocator().Free(0); got != 2 {
		t.Errorf("Free(0) = %d after the run, want 2", got)
	}
}

func TestRunCanceled(t *testing.T) {
	k := bootKernel(t, threadinfo.KernelOpts{Config: threadinfo.DefaultConfig(), NumCPUs: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(k, DefaultOpts()).Run(ctx); err == nil {
		t.Errorf("Run with a canceled context succeeded")
	}
}
