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
	"context"
	"fmt"
	"unsafe"

	"github.com/google/btree"
	"golang.org/x/sync/semaphore"
	"gvisor.dev/threadinfo/pkg/errors/linuxerr"
	"gvisor.dev/threadinfo/pkg/hostarch"
	"gvisor.dev/threadinfo/pkg/log"
	"gvisor.dev/threadinfo/pkg/sched"
	"gvisor.dev/threadinfo/pkg/sync"
)

const (
	// AnyNode lets the allocator choose the node.
	AnyNode = -1

	// PhysBase is the physical address of the first node's pool.
	PhysBase = 0x4000_0000

	// slotAlign is the alignment of a block within a pool.
	slotAlign = 64
)

var errNoTask = fmt.Errorf("allocating thread_info without a task: %w", linuxerr.EINVAL)

// slotSize is the pool footprint of one block.
var slotSize = uint64(hostarch.Addr(unsafe.Sizeof(ThreadInfo{})).MustAlignUp(slotAlign))

// AllocatorOpts configures an Allocator.
type AllocatorOpts struct {
	// Nodes is the number of memory nodes.
	Nodes int

	// Capacity is the number of blocks per node.
	Capacity int
}

// Allocator hands out blocks from dedicated per-node pools. It is used when
// blocks are not embedded in the thread's stack allocation.
//
// Each pool is a preallocated array of slots with a fixed physical address.
// Free slots are kept ordered by address so the lowest is reused first.
type Allocator struct {
	cfg   Config
	pools []*pool

	// mu protects next.
	mu   sync.Mutex
	next int
}

type pool struct {
	node  int32
	base  uint64
	slots []ThreadInfo
	sem   *semaphore.Weighted

	// mu protects free.
	mu   sync.Mutex
	free *btree.BTreeG[*ThreadInfo]
}

func byPhysAddr(a, b *ThreadInfo) bool {
	return a.physAddr < b.physAddr
}

// NewAllocator returns an allocator for cfg. cfg must enable
// ThreadInfoAllocator.
func NewAllocator(cfg Config, opts AllocatorOpts) (*Allocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.ThreadInfoAllocator {
		return nil, fmt.Errorf("thread_info allocator not configured: %w", linuxerr.ENODEV)
	}
	if opts.Nodes <= 0 || opts.Capacity <= 0 {
		return nil, fmt.Errorf("invalid pool geometry %d x %d: %w", opts.Nodes, opts.Capacity, linuxerr.EINVAL)
	}
	// Each node's pool starts on a page boundary.
	stride := uint64(hostarch.Addr(slotSize * uint64(opts.Capacity)).MustAlignUp(cfg.PageSize))
	a := &Allocator{
		cfg:   cfg,
		pools: make([]*pool, opts.Nodes),
	}
	for n := range a.pools {
		p := &pool{
			node:  int32(n),
			base:  PhysBase + uint64(n)*stride,
			slots: make([]ThreadInfo, opts.Capacity),
			sem:   semaphore.NewWeighted(int64(opts.Capacity)),
			free:  btree.NewG(2, byPhysAddr),
		}
		for i := range p.slots {
			s := &p.slots[i]
			s.node = p.node
			s.physAddr = p.base + uint64(i)*slotSize
			s.onCPU.Store(NoCPU)
			s.state.Store(uint32(StateFreed))
			p.free.ReplaceOrInsert(s)
		}
		a.pools[n] = p
	}
	log.Infof("thread_info allocator: %d node(s), %d block(s) each, %d bytes per block", opts.Nodes, opts.Capacity, slotSize)
	return a, nil
}

// Nodes returns the number of nodes.
func (a *Allocator) Nodes() int {
	return len(a.pools)
}

// Free returns the number of free blocks on node.
func (a *Allocator) Free(node int) int {
	p := a.pools[node]
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Len()
}

// Allocate constructs a block for task on node, or on any node with free
// blocks if node is AnyNode. It never blocks. It returns ENOMEM if no block is
// free.
func (a *Allocator) Allocate(task *sched.Task, node int) (*ThreadInfo, error) {
	// Checked before a slot is reserved, so a failed construction never
	// leaks one.
	if task == nil {
		return nil, errNoTask
	}
	if node == AnyNode {
		for _, n := range a.order() {
			if ti, ok := a.pools[n].tryGet(); ok {
				ti.Init(task, a.cfg)
				return ti, nil
			}
		}
		return nil, fmt.Errorf("allocating thread_info for %v: %w", task, linuxerr.ENOMEM)
	}
	p, err := a.pool(node)
	if err != nil {
		return nil, err
	}
	ti, ok := p.tryGet()
	if !ok {
		return nil, fmt.Errorf("allocating thread_info for %v on node %d: %w", task, node, linuxerr.ENOMEM)
	}
	ti.Init(task, a.cfg)
	return ti, nil
}

// AllocateWait is like Allocate, but waits for a block to be released if the
// pool is exhausted. With AnyNode, it waits on the next node in round-robin
// order after finding every node empty.
func (a *Allocator) AllocateWait(ctx context.Context, task *sched.Task, node int) (*ThreadInfo, error) {
	if task == nil {
		return nil, errNoTask
	}
	if node == AnyNode {
		if ti, err := a.Allocate(task, AnyNode); err == nil {
			return ti, nil
		}
		node = a.order()[0]
	}
	p, err := a.pool(node)
	if err != nil {
		return nil, err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for thread_info on node %d: %w", node, err)
	}
	ti := p.take()
	ti.Init(task, a.cfg)
	return ti, nil
}

// Release returns ti to its pool. ti must be allocator owned and either never
// published or retired.
func (a *Allocator) Release(ti *ThreadInfo) {
	if ti.node < 0 || int(ti.node) >= len(a.pools) {
		bugf("releasing thread_info for %v not owned by the allocator", ti.task)
	}
	if ti.running() {
		bugf("releasing thread_info for %v while running on CPU %d", ti.task, ti.onCPU.Load())
	}
	ti.transition(StateFreed, StateConstructed, StateRetiring)
	p := a.pools[ti.node]
	if log.IsLogging(log.Debug) {
		log.Debugf("thread_info for %v released to node %d at %#x", ti.task, p.node, ti.physAddr)
	}
	ti.task = nil
	p.mu.Lock()
	p.free.ReplaceOrInsert(ti)
	p.mu.Unlock()
	p.sem.Release(1)
}

func (a *Allocator) pool(node int) (*pool, error) {
	if node < 0 || node >= len(a.pools) {
		return nil, fmt.Errorf("node %d out of range [0, %d): %w", node, len(a.pools), linuxerr.EINVAL)
	}
	return a.pools[node], nil
}

// order returns the nodes in the order to try, rotating the start.
func (a *Allocator) order() []int {
	a.mu.Lock()
	start := a.next
	a.next = (a.next + 1) % len(a.pools)
	a.mu.Unlock()
	o := make([]int, len(a.pools))
	for i := range o {
		o[i] = (start + i) % len(a.pools)
	}
	return o
}

// tryGet takes the lowest free slot without blocking.
func (p *pool) tryGet() (*ThreadInfo, bool) {
	if !p.sem.TryAcquire(1) {
		return nil, false
	}
	return p.take(), true
}

// take removes the lowest free slot. The caller holds a unit of p.sem.
func (p *pool) take() *ThreadInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	ti, ok := p.free.DeleteMin()
	if !ok {
		bugf("node %d pool empty with a reserved slot", p.node)
	}
	return ti
}
