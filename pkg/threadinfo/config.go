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
	"math/bits"

	"gvisor.dev/threadinfo/pkg/errors/linuxerr"
	"gvisor.dev/threadinfo/pkg/hostarch"
)

const (
	// ThreadSize is the size of a kernel thread stack allocation.
	ThreadSize = 16384

	// ThreadStartSP is the initial stack pointer offset within a thread
	// stack allocation.
	ThreadStartSP = ThreadSize - 16

	// InitPreemptCount is the default initial preemption count: a new
	// thread starts with preemption disabled until its first schedule
	// completes.
	InitPreemptCount = 1
)

// Supported page sizes.
const (
	PageSize4K  = hostarch.PageSize
	PageSize16K = 4 * hostarch.PageSize
	PageSize64K = 16 * hostarch.PageSize
)

// Config is the build configuration of thread control blocks. It is fixed
// before the first block is constructed and never changes afterwards.
type Config struct {
	// SoftwareTTBR0PAN adds the saved translation root field, used when
	// user/kernel translation isolation is emulated in software.
	SoftwareTTBR0PAN bool

	// ThreadInfoAllocator allocates blocks from a dedicated per-node pool
	// instead of embedding them in the thread's stack allocation, and adds
	// the physical address field.
	ThreadInfoAllocator bool

	// PageSize is the kernel page size.
	PageSize uint64

	// InitPreemptCount is the preemption count of a new block.
	InitPreemptCount int32
}

// DefaultConfig returns the default configuration: 4K pages, blocks embedded
// in the stack, software translation isolation enabled.
func DefaultConfig() Config {
	return Config{
		SoftwareTTBR0PAN: true,
		PageSize:         PageSize4K,
		InitPreemptCount: InitPreemptCount,
	}
}

// Validate checks that c describes a buildable configuration.
func (c *Config) Validate() error {
	switch c.PageSize {
	case PageSize4K, PageSize16K, PageSize64K:
	default:
		return fmt.Errorf("unsupported page size %#x: %w", c.PageSize, linuxerr.EINVAL)
	}
	if c.InitPreemptCount < 0 {
		return fmt.Errorf("negative initial preempt count %d: %w", c.InitPreemptCount, linuxerr.EINVAL)
	}
	if c.SoftwareTTBR0PAN && c.ThreadInfoAllocator {
		return fmt.Errorf("saved translation root and separately allocated blocks are mutually exclusive: %w", linuxerr.EINVAL)
	}
	if _, ok := c.ThreadSizeOrder(); !ok && !c.ThreadInfoAllocator {
		return fmt.Errorf("page size %#x exceeds the thread size, blocks must be separately allocated: %w", c.PageSize, linuxerr.EINVAL)
	}
	return nil
}

// ThreadSizeOrder returns the page order of a thread stack allocation. ok is
// false if pages are larger than ThreadSize, in which case stacks cannot be
// page allocations and blocks are allocated on their own.
func (c *Config) ThreadSizeOrder() (order int, ok bool) {
	if c.PageSize == 0 || c.PageSize > ThreadSize {
		return 0, false
	}
	return bits.TrailingZeros64(ThreadSize / c.PageSize), true
}

// present returns the optional fields included by c.
func (c *Config) present() presence {
	var p presence
	if c.SoftwareTTBR0PAN {
		p |= hasTTBR0
	}
	if c.ThreadInfoAllocator {
		p |= hasPhysAddr
	}
	return p
}

// presence tags the optional fields of a block.
type presence uint32

const (
	hasTTBR0 presence = 1 << iota
	hasPhysAddr
)
