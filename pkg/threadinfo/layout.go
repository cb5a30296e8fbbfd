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
	"bufio"
	"fmt"
	"io"
)

// Field is one field of the C layout of a block.
type Field struct {
	// Name is the C field name.
	Name string `json:"name" yaml:"name"`

	// Symbol is the asm-offsets symbol of the field.
	Symbol string `json:"symbol" yaml:"symbol"`

	// Offset is the byte offset from the start of the block.
	Offset uintptr `json:"offset" yaml:"offset"`

	// Size is the field size in bytes.
	Size uintptr `json:"size" yaml:"size"`
}

// Layout is the C layout of a block under one configuration. Entry assembly
// addresses the block through these offsets.
type Layout struct {
	Fields []Field `json:"fields" yaml:"fields"`

	// Size is the size of the block, padded to its alignment.
	Size uintptr `json:"size" yaml:"size"`

	ThreadSize    uintptr `json:"thread_size" yaml:"thread_size"`
	ThreadStartSP uintptr `json:"thread_start_sp" yaml:"thread_start_sp"`

	// ThreadSizeOrder is the page order of a stack allocation, or -1 if
	// blocks are allocated separately.
	ThreadSizeOrder int `json:"thread_size_order" yaml:"thread_size_order"`
}

// ComputeLayout returns the layout of a block under cfg, each field naturally
// aligned on a 64-bit target. The ttbr0 slot is reserved in every
// configuration, as it is in ThreadInfo, so the offsets of the fields after it
// do not depend on cfg; an absent ttbr0 is padding and is not listed in
// Fields. phys_addr is last and is listed only with cfg.ThreadInfoAllocator.
func ComputeLayout(cfg Config) Layout {
	type cfield struct {
		name, symbol string
		size         uintptr
		present      bool
		reserved     bool
	}
	cfields := []cfield{
		{"flags", "TI_FLAGS", 8, true, true},
		{"addr_limit", "TI_ADDR_LIMIT", 8, true, true},
		{"task", "TI_TASK", 8, true, true},
		{"exec_domain", "TI_EXEC_DOMAIN", 8, true, true},
		{"ttbr0", "TI_TTBR0", 8, cfg.SoftwareTTBR0PAN, true},
		{"preempt_count", "TI_PREEMPT", 4, true, true},
		{"cpu", "TI_CPU", 4, true, true},
		{"phys_addr", "TI_PHYS_ADDR", 8, cfg.ThreadInfoAllocator, false},
	}
	var (
		l   Layout
		off uintptr
	)
	for _, f := range cfields {
		if !f.present && !f.reserved {
			continue
		}
		off = alignUp(off, f.size)
		if f.present {
			l.Fields = append(l.Fields, Field{Name: f.name, Symbol: f.symbol, Offset: off, Size: f.size})
		}
		off += f.size
	}
	l.Size = alignUp(off, 8)
	l.ThreadSize = ThreadSize
	l.ThreadStartSP = ThreadStartSP
	l.ThreadSizeOrder = -1
	if order, ok := cfg.ThreadSizeOrder(); ok {
		l.ThreadSizeOrder = order
	}
	return l
}

// Offset returns the offset of the named C field. ok is false if the field
// is absent under the layout's configuration.
func (l *Layout) Offset(name string) (off uintptr, ok bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f.Offset, true
		}
	}
	return 0, false
}

// EmitHeader writes the layout as an asm-offsets header, together with the
// flag bits and composite masks.
func (l *Layout) EmitHeader(w io.Writer) error {
	b := bufio.NewWriter(w)
	fmt.Fprintf(b, "// Automatically generated, do not edit.\n\n")
	fmt.Fprintf(b, "// thread_info offsets.\n")
	for _, f := range l.Fields {
		fmt.Fprintf(b, "#define %-24s 0x%02x\n", f.Symbol, f.Offset)
	}
	fmt.Fprintf(b, "#define %-24s 0x%02x\n", "THREAD_INFO_SIZE", l.Size)
	fmt.Fprintf(b, "#define %-24s 0x%x\n", "THREAD_SIZE", l.ThreadSize)
	fmt.Fprintf(b, "#define %-24s 0x%x\n", "THREAD_START_SP", l.ThreadStartSP)
	if l.ThreadSizeOrder >= 0 {
		fmt.Fprintf(b, "#define %-24s %d\n", "THREAD_SIZE_ORDER", l.ThreadSizeOrder)
	}

	fmt.Fprintf(b, "\n// Thread information flags.\n")
	for _, f := range AllFlags() {
		fmt.Fprintf(b, "#define %-24s %d\n", "TIF_"+f.String(), uint(f))
	}
	for _, f := range AllFlags() {
		fmt.Fprintf(b, "#define %-24s 0x%08x\n", "_TIF_"+f.String(), uint64(f.Mask()))
	}
	fmt.Fprintf(b, "#define %-24s 0x%08x\n", "_TIF_WORK_MASK", uint64(WorkMask))
	fmt.Fprintf(b, "#define %-24s 0x%08x\n", "_TIF_SYSCALL_WORK", uint64(SyscallWork))
	return b.Flush()
}

// EmitGo writes the layout as a Go constant block in package pkg.
func (l *Layout) EmitGo(w io.Writer, pkg string) error {
	b := bufio.NewWriter(w)
	fmt.Fprintf(b, "// Automatically generated, do not edit.\n\n")
	fmt.Fprintf(b, "package %s\n\n", pkg)
	fmt.Fprintf(b, "// thread_info offsets.\n")
	fmt.Fprintf(b, "const (\n")
	for _, f := range l.Fields {
		fmt.Fprintf(b, "\t%s = 0x%02x\n", f.Symbol, f.Offset)
	}
	fmt.Fprintf(b, "\tTHREAD_INFO_SIZE = 0x%02x\n", l.Size)
	fmt.Fprintf(b, ")\n")
	return b.Flush()
}

func alignUp(off, align uintptr) uintptr {
	return (off + align - 1) &^ (align - 1)
}
