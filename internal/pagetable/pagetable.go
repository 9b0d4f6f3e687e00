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

// Package pagetable models the per-process page table and TLB as seen
// by the vm subsystem: install a translation, tear one down, and flush
// stale entries. A real implementation would walk hardware page-table
// structures (PML4 on x86-64); this one is a simulated, in-memory
// stand-in that is enough to exercise every caller's protocol
// correctly.
package pagetable

import (
	"sync"

	"github.com/vmkern-project/vmkern/internal/hostarch"
)

// Directory/page flags, matching the PRESENT/USER/WRITE bits spec
// section 4.E reasons about.
const (
	FlagPresent = 1 << 0
	FlagUser    = 1 << 1
	FlagWrite   = 1 << 2
)

// entry records one resident mapping.
type entry struct {
	phys    uintptr
	ptFlags int
}

// PageTable is a simulated per-process page table. It has no separate
// TLB cache; TLB is a view over it. Each process owns exactly one.
type PageTable struct {
	mu      sync.Mutex
	entries map[hostarch.PageNumber]entry
}

// New returns an empty page table, as a freshly created process has
// before its first page fault.
func New() *PageTable {
	return &PageTable{entries: make(map[hostarch.PageNumber]entry)}
}

// Map installs vaddr (rounded down to its page) -> phys with the given
// page-table-entry flags. pdFlags is accepted for signature fidelity
// with the original design (intermediate directory levels always
// permit write; enforcement lives in ptFlags) but this flat simulated
// table has no directory levels to apply it to.
func (pt *PageTable) Map(phys uintptr, vaddr hostarch.Addr, pdFlags, ptFlags int) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pn := hostarch.PageNumberOf(hostarch.RoundDown(vaddr))
	pt.entries[pn] = entry{phys: phys, ptFlags: ptFlags}
}

// VirtToPhys returns the physical address a resident translation for
// addr's page maps to, offset by addr's in-page offset. Returns
// (0, false) if there is no resident translation.
func (pt *PageTable) VirtToPhys(addr hostarch.Addr) (uintptr, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pn := hostarch.PageNumberOf(addr)
	e, ok := pt.entries[pn]
	if !ok {
		return 0, false
	}
	return e.phys + uintptr(hostarch.Offset(addr)), true
}

// UnmapRange tears down every resident translation for npages pages
// starting at lopage.
func (pt *PageTable) UnmapRange(lopage hostarch.PageNumber, npages uint64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for i := uint64(0); i < npages; i++ {
		delete(pt.entries, lopage+hostarch.PageNumber(i))
	}
}

// Writable reports whether the resident translation for pn permits
// writes, used by tests asserting the COW read-fault/write-fault PTE
// distinction spec section 4.E calls out.
func (pt *PageTable) Writable(pn hostarch.PageNumber) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[pn]
	return ok && e.ptFlags&FlagWrite != 0
}

// TLB is a process's translation cache, modeled as a thin view over
// its PageTable. Real hardware caches PTEs separately from the table
// and needs an explicit instruction (invlpg, a full reload) to drop a
// stale one; this flat simulated table has no separate cache, so
// Flush/FlushRange have nothing left to do once the entry itself has
// been installed or removed. Call sites still call them at the same
// points the original kernel does (install-then-flush,
// unmap-then-flush-range, flush-all on fork), so the protocol a real
// implementation depends on is exercised even where this one is a
// no-op.
type TLB struct {
	pt *PageTable
}

// NewTLB returns a TLB view over pt.
func NewTLB(pt *PageTable) *TLB { return &TLB{pt: pt} }

// Flush invalidates any cached translation for addr's page. Call sites
// that install a fresh PTE (the page-fault handler) call this right
// after Map: on a flat simulated table the entries themselves are the
// only copy, so there is nothing stale to drop here, unlike
// UnmapRange-then-FlushRange at a teardown site, where the entry really
// is gone first.
func (t *TLB) Flush(addr hostarch.Addr) {
}

// FlushRange invalidates cached translations for npages pages starting
// at lopage. It does not remove the underlying page-table entries
// beyond what UnmapRange already did; call sites that also want the
// entries gone call UnmapRange first, as vmmap_remove does.
func (t *TLB) FlushRange(lopage hostarch.PageNumber, npages uint64) {
	// Entries are already removed by the paired UnmapRange call; this
	// method exists so call sites read the same two-step protocol the
	// original kernel uses (pt_unmap_range then tlb_flush_range).
}

// FlushAll invalidates the entire TLB, broadcasting to every CPU in a
// real kernel. Used after fork, when both parent and child must re-fault
// to observe freshly installed COW PTEs.
func (t *TLB) FlushAll() {
	t.pt.mu.Lock()
	defer t.pt.mu.Unlock()
	t.pt.entries = make(map[hostarch.PageNumber]entry)
}
