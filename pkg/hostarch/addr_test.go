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

package hostarch

import (
	"testing"
)

func TestRoundUp(t *testing.T) {
	for _, test := range []struct {
		addr Addr
		want Addr
		ok   bool
	}{
		{0, 0, true},
		{1, PageSize, true},
		{PageSize, PageSize, true},
		{PageSize + 1, 2 * PageSize, true},
		{^Addr(0), 0, false},
	} {
		got, ok := test.addr.RoundUp()
		if ok != test.ok || (ok && got != test.want) {
			t.Errorf("%v.RoundUp(): got (%v, %t), want (%v, %t)", test.addr, got, ok, test.want, test.ok)
		}
	}
}

func TestAlign(t *testing.T) {
	const align = 16384
	for _, test := range []struct {
		addr Addr
		down Addr
		up   Addr
	}{
		{0, 0, 0},
		{1, 0, align},
		{align - 1, 0, align},
		{align, align, align},
		{3*align + 5, 3 * align, 4 * align},
	} {
		if got := test.addr.AlignDown(align); got != test.down {
			t.Errorf("%v.AlignDown(%d): got %v, want %v", test.addr, align, got, test.down)
		}
		got, ok := test.addr.AlignUp(align)
		if !ok || got != test.up {
			t.Errorf("%v.AlignUp(%d): got (%v, %t), want (%v, true)", test.addr, align, got, ok, test.up)
		}
		if test.addr.IsAligned(align) != (test.addr == test.down) {
			t.Errorf("%v.IsAligned(%d): wrong answer", test.addr, align)
		}
	}
}

func TestAddLength(t *testing.T) {
	if end, ok := Addr(0x1000).AddLength(0x10); !ok || end != 0x1010 {
		t.Errorf("AddLength: got (%v, %t), want (0x1010, true)", end, ok)
	}
	if _, ok := (^Addr(0)).AddLength(2); ok {
		t.Errorf("AddLength: overflow not detected")
	}
}
