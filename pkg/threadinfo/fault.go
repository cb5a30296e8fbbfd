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
	"sync/atomic"

	"gvisor.dev/threadinfo/pkg/log"
)

// FaultReporter is the kernel's generic fault reporting path. It is called
// with a description of a violated invariant and must not return; if it does,
// the caller panics anyway.
type FaultReporter func(msg string)

var faultReporter atomic.Pointer[FaultReporter]

// SetFaultReporter installs r and returns the previous reporter. A nil r
// restores the default, which panics.
func SetFaultReporter(r FaultReporter) FaultReporter {
	var old *FaultReporter
	if r == nil {
		old = faultReporter.Swap(nil)
	} else {
		old = faultReporter.Swap(&r)
	}
	if old == nil {
		return nil
	}
	return *old
}

// bugf reports a corrupted low-level thread state. It never returns.
func bugf(format string, v ...any) {
	msg := "BUG: " + fmt.Sprintf(format, v...)
	log.Traceback("%s", msg)
	if r := faultReporter.Load(); r != nil {
		(*r)(msg)
	}
	panic(msg)
}
