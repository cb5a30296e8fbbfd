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

	"gvisor.dev/threadinfo/pkg/hostarch"
	"gvisor.dev/threadinfo/pkg/log"
)

// AddrLimit is the highest address an access checked with AccessOK may
// touch.
type AddrLimit uint64

const (
	// KernelDS is the kernel addressing domain: no limit.
	KernelDS AddrLimit = ^AddrLimit(0)

	// UserDS is the user addressing domain, the top of a 48-bit virtual
	// address space.
	UserDS AddrLimit = 1<<48 - 1
)

// String implements fmt.Stringer.
func (l AddrLimit) String() string {
	switch l {
	case KernelDS:
		return "KERNEL_DS"
	case UserDS:
		return "USER_DS"
	default:
		return fmt.Sprintf("%#x", uint64(l))
	}
}

// AddrLimit returns the current address limit.
//
//go:nosplit
func (ti *ThreadInfo) AddrLimit() AddrLimit {
	return AddrLimit(ti.addrLimit.Load())
}

// SetAddrLimit switches the addressing domain. It must be called by the
// owning thread. FSCheck is set so that the limit is checked again before the
// thread returns to user mode.
func (ti *ThreadInfo) SetAddrLimit(l AddrLimit) {
	ti.addrLimit.Store(uint64(l))
	ti.flags.Set(FSCheck)
}

// AccessOK returns true if [addr, addr+size) lies within the address limit.
func (ti *ThreadInfo) AccessOK(addr hostarch.Addr, size uint64) bool {
	limit := ti.AddrLimit()
	if size == 0 {
		return uint64(addr) <= uint64(limit)
	}
	end, ok := addr.AddLength(size - 1)
	if !ok {
		return false
	}
	return uint64(end) <= uint64(limit)
}

// CheckAddrLimitOnReturn consumes FSCheck on the way back to user mode. It
// returns false if the thread was about to return with a non-user limit; the
// limit is then forced back to UserDS.
func (ti *ThreadInfo) CheckAddrLimitOnReturn() bool {
	if !ti.flags.TestAndClear(FSCheck) {
		return true
	}
	if l := ti.AddrLimit(); l != UserDS {
		log.Warningf("%v returning to user mode with address limit %v", ti.task, l)
		ti.addrLimit.Store(uint64(UserDS))
		return false
	}
	return true
}
