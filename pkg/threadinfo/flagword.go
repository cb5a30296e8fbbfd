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
	"gvisor.dev/threadinfo/pkg/atomicbitops"
)

// FlagWord is a word of thread information flags.
//
// All operations are atomic and sequentially consistent, so a flag set on
// one CPU, together with everything written before it, is visible to a CPU
// that subsequently observes the flag. Every mutation goes through a
// read-modify-write; there is no plain store of the whole word outside of
// construction.
//
// Operating on an unassigned flag is a bug.
type FlagWord struct {
	word atomicbitops.Uint64
}

// Load returns all flags with a single atomic load.
//
//go:nosplit
func (w *FlagWord) Load() Flags {
	return Flags(w.word.Load())
}

// Any returns true if any flag in mask is set. It does a single atomic load.
//
//go:nosplit
func (w *FlagWord) Any(mask Flags) bool {
	return w.Load().Any(mask)
}

// Set sets f.
func (w *FlagWord) Set(f Flag) {
	w.word.FetchOr(uint64(checkFlag(f)))
}

// Clear clears f.
func (w *FlagWord) Clear(f Flag) {
	w.word.FetchAnd(^uint64(checkFlag(f)))
}

// Update sets f if on is true, and clears it otherwise.
func (w *FlagWord) Update(f Flag, on bool) {
	if on {
		w.Set(f)
	} else {
		w.Clear(f)
	}
}

// Test returns true if f is set.
func (w *FlagWord) Test(f Flag) bool {
	return Flags(w.word.Load())&checkFlag(f) != 0
}

// TestAndSet sets f and returns true if it was already set.
func (w *FlagWord) TestAndSet(f Flag) bool {
	m := checkFlag(f)
	return Flags(w.word.FetchOr(uint64(m)))&m != 0
}

// TestAndClear clears f and returns true if it was set. Of any number of
// concurrent callers, exactly one observes true per preceding Set.
func (w *FlagWord) TestAndClear(f Flag) bool {
	m := checkFlag(f)
	return Flags(w.word.FetchAnd(^uint64(m)))&m != 0
}

// checkFlag returns the mask of f, or reports a bug if f is unassigned.
//
//go:nosplit
func checkFlag(f Flag) Flags {
	if f >= 64 || !assigned.Has(f) {
		bugf("use of unassigned thread flag %d", uint(f))
	}
	return f.Mask()
}
