// Copyright 2026 The vmkern Authors.
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

// Package proc implements the process abstraction: a vmmap, a page
// table, a heap window, its threads, and the parent/child relation fork
// establishes between them. Processes here have no open-file table.
package proc

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vmkern-project/vmkern/internal/errno"
	"github.com/vmkern-project/vmkern/internal/hostarch"
	"github.com/vmkern-project/vmkern/internal/klog"
	"github.com/vmkern-project/vmkern/internal/pagetable"
	"github.com/vmkern-project/vmkern/internal/sysvm"
	"github.com/vmkern-project/vmkern/internal/vmm"
)

var log = klog.For(klog.Fork)

var nextPID int64

// DefaultKstackSize is the size in bytes of the kernel stack fork
// allocates for a child thread, matching the original design's
// DEFAULT_STACK_SIZE.
const DefaultKstackSize = 8192

// regsFrameSize is the space fork_setup_stack reserves for the copied
// register frame plus its 16-byte alignment pad, mirroring
// "sizeof(regs_t) + 16" in the original.
const regsFrameSize = 3*8 + 16

// Thread is the minimal per-thread state fork clones: a register
// snapshot and the stack it runs on. Real thread scheduling state
// (priority, run queue link) lives outside this subsystem's scope.
type Thread struct {
	Regs   Registers
	Kstack []byte
}

// Registers is a stand-in trap frame: the subset of registers fork and
// the page-fault-return trampoline care about.
type Registers struct {
	RAX, RSP, RIP uint64
}

// ThreadSnapshot is the value object fork_setup_stack builds: a copy of
// the parent's registers with RAX forced to 0 (the child's fork return
// value) and RSP/RIP rewritten to the child's own kernel stack and
// entry trampoline. It exists as its own type so Fork's register
// bookkeeping is visible and testable independent of thread scheduling.
type ThreadSnapshot struct {
	Regs   Registers
	Kstack []byte
}

// newKstack allocates a fresh kernel stack for a forked child thread.
func newKstack() []byte {
	return make([]byte, DefaultKstackSize)
}

// forkSetupStack computes the new thread's initial RSP: the top of
// kstack, less the reserved register-frame-plus-padding region
// fork_setup_stack carves out before copying the parent's registers
// onto it. This simulated kernel never dereferences RSP as a real
// pointer, so the value is logical only, not an address into kstack.
func forkSetupStack(kstack []byte) uint64 {
	return uint64(len(kstack) - regsFrameSize)
}

// FromParent builds the child's initial register snapshot from the
// parent's trap-time registers, the child's freshly allocated kernel
// stack, and the kernel's user-return trampoline address: RAX is
// forced to 0 (the child's fork(2) return value), RSP is rewritten to
// forkSetupStack's value (the top of kstack less the reserved register
// frame), and RIP is rewritten to trampoline, matching
// do_fork's rsp/rip rewrites (the child's PML4 is its own page table,
// already threaded through Process.pt independent of this snapshot).
func FromParent(parentRegs Registers, kstack []byte, trampoline uint64) ThreadSnapshot {
	regs := parentRegs
	regs.RAX = 0
	regs.RSP = forkSetupStack(kstack)
	regs.RIP = trampoline
	return ThreadSnapshot{Regs: regs, Kstack: kstack}
}

// Process is a single process: its address space, page table, heap,
// and family relations.
type Process struct {
	mu sync.Mutex

	PID    int64
	Name   string
	Parent *Process

	vmmap *vmm.Vmmap
	pt    *pagetable.PageTable
	heap  sysvm.Heap

	Threads []*Thread
	Children []*Process
}

// VMMap returns p's address-space map, satisfying pgfault.Faulter.
func (p *Process) VMMap() *vmm.Vmmap { return p.vmmap }

// PageTable returns p's page table, satisfying pgfault.Faulter.
func (p *Process) PageTable() *pagetable.PageTable { return p.pt }

// Heap returns a pointer to p's brk-managed heap bookkeeping, for
// sysvm.Brk.
func (p *Process) Heap() *sysvm.Heap { return &p.heap }

// Create returns a fresh, empty process: an empty vmmap, a fresh page
// table, and a heap window starting at startBrk.
func Create(name string, startBrk hostarch.Addr) *Process {
	pt := pagetable.New()
	return &Process{
		PID:   atomic.AddInt64(&nextPID, 1),
		Name:  name,
		vmmap: vmm.New(pt),
		pt:    pt,
		heap:  sysvm.Heap{StartBrk: startBrk, Brk: startBrk},
	}
}

// Fork implements fork(2): it clones the vmmap and a thread
// concurrently via errgroup (the vmmap clone and thread-state build are
// independent of each other until the very end, when the new thread is
// attached to the new process), wedging shadow pairs over every
// non-shared vmarea as a side effect of vmm.Clone. On either step's
// failure everything allocated so far is unwound. On success, Fork
// unmaps the parent's whole user range and flushes both page tables'
// TLBs, since both must re-fault to observe their freshly installed
// COW PTEs.
func (p *Process) Fork(trampoline uint64) (*Process, error) {
	p.mu.Lock()
	parentRegs := p.Threads[len(p.Threads)-1].Regs
	p.mu.Unlock()

	child := &Process{
		PID:    atomic.AddInt64(&nextPID, 1),
		Name:   p.Name,
		Parent: p,
		pt:     pagetable.New(),
	}

	var childMap *vmm.Vmmap
	var snap ThreadSnapshot

	g := new(errgroup.Group)
	g.Go(func() error {
		m, err := p.vmmap.Clone(child.pt)
		if err != nil {
			return err
		}
		childMap = m
		return nil
	})
	g.Go(func() error {
		snap = FromParent(parentRegs, newKstack(), trampoline)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Debugf("fork failed for pid %d: %v", p.PID, err)
		if childMap != nil {
			childMap.Release()
		}
		return nil, errno.ENOMEM
	}

	child.vmmap = childMap
	child.heap = p.heap
	child.heap.RebindAfterClone(childMap)
	child.Threads = []*Thread{{Regs: snap.Regs, Kstack: snap.Kstack}}

	p.mu.Lock()
	p.Children = append(p.Children, child)
	userPages := hostarch.PageNumberOf(hostarch.UserMemHigh) - hostarch.PageNumberOf(hostarch.UserMemLow)
	p.pt.UnmapRange(hostarch.PageNumberOf(hostarch.UserMemLow), uint64(userPages))
	p.mu.Unlock()

	pagetable.NewTLB(p.pt).FlushAll()
	pagetable.NewTLB(child.pt).FlushAll()

	log.WithField("parent", p.PID).Debugf("forked child pid %d", child.PID)
	return child, nil
}
