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

// Package vmm implements the per-process virtual address-space map: a
// sorted, disjoint collection of vmareas backed by a btree keyed on
// starting page number, plus the mmap/munmap/fork-clone/collapse
// operations that maintain it.
package vmm

import (
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/vmkern-project/vmkern/internal/errno"
	"github.com/vmkern-project/vmkern/internal/hostarch"
	"github.com/vmkern-project/vmkern/internal/klog"
	"github.com/vmkern-project/vmkern/internal/mobj"
	"github.com/vmkern-project/vmkern/internal/pagetable"
	"github.com/vmkern-project/vmkern/internal/shadow"
)

var log = klog.For(klog.VM)

// Direction selects which way vmmap_find_range scans for a gap.
type Direction int

const (
	LoHi Direction = iota
	HiLo
)

// Vmarea is a single contiguous, page-aligned region of a process's
// address space: pages [Start, End) map to Obj starting at page offset
// Off within it.
type Vmarea struct {
	Start, End hostarch.PageNumber
	Off        hostarch.PageNumber
	Prot       int
	Shared     bool
	Obj        *mobj.Mobj
}

func (v *Vmarea) npages() uint64 { return uint64(v.End - v.Start) }

func (v *Vmarea) overlaps(lo, hi hostarch.PageNumber) bool {
	return v.Start < hi && lo < v.End
}

func less(a, b *Vmarea) bool { return a.Start < b.Start }

// Vmmap is a process's address-space map.
type Vmmap struct {
	mu   sync.Mutex
	tree *btree.BTreeG[*Vmarea]
	pt   *pagetable.PageTable
	tlb  *pagetable.TLB
}

// New returns an empty vmmap backed by pt, the owning process's page
// table.
func New(pt *pagetable.PageTable) *Vmmap {
	return &Vmmap{
		tree: btree.NewG(32, less),
		pt:   pt,
		tlb:  pagetable.NewTLB(pt),
	}
}

// Insert adds vma at the sole position where the sorted-disjoint
// invariant holds. It panics if vma overlaps an existing vmarea: that
// is a caller bug, not a recoverable user-facing error, exactly like
// the kernel assertion the original design calls for.
func (m *Vmmap) Insert(vma *Vmarea) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(vma)
}

func (m *Vmmap) insertLocked(vma *Vmarea) {
	if m.overlapsLocked(vma.Start, vma.End) {
		panic(fmt.Sprintf("vmm: Insert of [%d,%d) overlaps an existing vmarea", vma.Start, vma.End))
	}
	m.tree.ReplaceOrInsert(vma)
}

func (m *Vmmap) overlapsLocked(lo, hi hostarch.PageNumber) bool {
	found := false
	m.tree.Ascend(func(v *Vmarea) bool {
		if v.overlaps(lo, hi) {
			found = true
			return false
		}
		return true
	})
	return found
}

// Lookup returns the unique vmarea containing page vfn, or (nil, false)
// if none does.
func (m *Vmmap) Lookup(vfn hostarch.PageNumber) (*Vmarea, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(vfn)
}

func (m *Vmmap) lookupLocked(vfn hostarch.PageNumber) (*Vmarea, bool) {
	var hit *Vmarea
	pivot := &Vmarea{Start: vfn}
	m.tree.DescendLessOrEqual(pivot, func(v *Vmarea) bool {
		if vfn < v.End {
			hit = v
		}
		return false
	})
	return hit, hit != nil
}

// IsRangeEmpty reports whether no resident vmarea overlaps
// [start, start+npages).
func (m *Vmmap) IsRangeEmpty(start hostarch.PageNumber, npages uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.overlapsLocked(start, start+hostarch.PageNumber(npages))
}

// FindRange performs a first-fit gap search of npages contiguous free
// pages within [USER_MEM_LOW, USER_MEM_HIGH), scanning low-to-high or
// high-to-low per dir. Returns (0, ENOMEM) if no gap fits.
func (m *Vmmap) FindRange(npages uint64, dir Direction) (hostarch.PageNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lo := hostarch.PageNumberOf(hostarch.UserMemLow)
	hi := hostarch.PageNumberOf(hostarch.UserMemHigh)

	var starts []hostarch.PageNumber
	var ends []hostarch.PageNumber
	m.tree.Ascend(func(v *Vmarea) bool {
		if v.Start < hi && v.End > lo {
			starts = append(starts, v.Start)
			ends = append(ends, v.End)
		}
		return true
	})

	if dir == LoHi {
		cursor := lo
		for i := range starts {
			if starts[i]-cursor >= hostarch.PageNumber(npages) {
				return cursor, nil
			}
			if ends[i] > cursor {
				cursor = ends[i]
			}
		}
		if hi-cursor >= hostarch.PageNumber(npages) {
			return cursor, nil
		}
		return 0, errno.ENOMEM
	}

	cursor := hi
	for i := len(starts) - 1; i >= 0; i-- {
		if cursor-ends[i] >= hostarch.PageNumber(npages) {
			return cursor - hostarch.PageNumber(npages), nil
		}
		if starts[i] < cursor {
			cursor = starts[i]
		}
	}
	if cursor-lo >= hostarch.PageNumber(npages) {
		return cursor - hostarch.PageNumber(npages), nil
	}
	return 0, errno.ENOMEM
}

// ObjSource supplies the backing mobj for a new mapping: sysvm passes
// one that returns a file-backed mobj for a file mapping or a fresh
// anonymous mobj for MAP_ANON. Map always calls it, so it must be
// non-nil. This indirection keeps vmm from importing vfs or filemobj
// directly; sysvm wires the concrete source in.
type ObjSource func() (*mobj.Mobj, error)

// Map allocates a vmarea covering npages pages, obtains its backing
// mobj from src, wraps it in a shadow if private is set, removes any
// overlap inside the target range if fixed is set, and inserts it.
// Every reversible step happens first; the overlap removal and the
// final insert happen only once the mobj chain is fully built, so a
// failure partway through leaves the map untouched.
func (m *Vmmap) Map(lopage hostarch.PageNumber, npages uint64, prot int, shared, private, fixed bool, off hostarch.PageNumber, dir Direction, src ObjSource) (*Vmarea, error) {
	if lopage == 0 {
		found, err := m.FindRange(npages, dir)
		if err != nil {
			return nil, err
		}
		lopage = found
	}

	obj, err := src()
	if err != nil {
		return nil, err
	}

	if private {
		wrapped := shadow.Create(obj)
		obj.Unref()
		obj = wrapped
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	hipage := lopage + hostarch.PageNumber(npages)
	if fixed {
		if err := m.removeLocked(lopage, npages); err != nil {
			obj.Unref()
			return nil, err
		}
		m.pt.UnmapRange(lopage, npages)
		m.tlb.FlushRange(lopage, npages)
	}

	vma := &Vmarea{Start: lopage, End: hipage, Off: off, Prot: prot, Shared: shared, Obj: obj}
	m.insertLocked(vma)
	return vma, nil
}

// Remove applies vmmap_remove's four cases to every vmarea intersecting
// [lopage, lopage+npages), then tears down the corresponding page-table
// and TLB entries.
func (m *Vmmap) Remove(lopage hostarch.PageNumber, npages uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.removeLocked(lopage, npages); err != nil {
		return err
	}
	m.pt.UnmapRange(lopage, npages)
	m.tlb.FlushRange(lopage, npages)
	log.WithField("lopage", lopage).Debugf("unmapped %d pages", npages)
	return nil
}

func (m *Vmmap) removeLocked(lopage hostarch.PageNumber, npages uint64) error {
	hipage := lopage + hostarch.PageNumber(npages)

	var hit []*Vmarea
	m.tree.Ascend(func(v *Vmarea) bool {
		if v.overlaps(lopage, hipage) {
			hit = append(hit, v)
		}
		return true
	})

	for _, v := range hit {
		switch {
		case lopage <= v.Start && v.End <= hipage:
			// Case 1: fully contained.
			m.tree.Delete(v)
			v.Obj.Unref()

		case v.Start < lopage && hipage < v.End:
			// Case 2: removal strictly inside vma. Split into two
			// vmareas sharing the same mobj; the high half needs an
			// extra ref and an adjusted offset.
			v.Obj.Ref()
			high := &Vmarea{
				Start:  hipage,
				End:    v.End,
				Off:    v.Off + (hipage - v.Start),
				Prot:   v.Prot,
				Shared: v.Shared,
				Obj:    v.Obj,
			}
			v.End = lopage
			m.tree.ReplaceOrInsert(high)

		case v.Start < lopage && lopage < v.End && v.End <= hipage:
			// Case 3: removal covers the vma's tail.
			v.End = lopage

		case lopage <= v.Start && v.Start < hipage && hipage < v.End:
			// Case 4: removal covers the vma's head. Start is the
			// btree's key, so it must be re-inserted rather than
			// mutated in place.
			delta := hipage - v.Start
			m.tree.Delete(v)
			v.Start = hipage
			v.Off += delta
			m.tree.ReplaceOrInsert(v)
		}
	}
	return nil
}

// Clone produces a new vmmap for a forked child: SHARED vmareas are
// copied with a bumped refcount on their shared object; everything else
// is wedged behind a fresh pair of shadow objects so parent and child
// each write into their own top-level copy.
//
// shadow.Create cannot itself fail (it only allocates a struct), so
// there is no partial-failure case to unwind here; vmmap_clone's
// documented unwind-on-failure requirement is instead satisfied one
// level up, in proc.Fork, which frees the whole child vmmap if any
// later fork step fails.
func (m *Vmmap) Clone(childPT *pagetable.PageTable) (*Vmmap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	child := New(childPT)
	m.tree.Ascend(func(v *Vmarea) bool {
		if v.Shared {
			v.Obj.Ref()
			child.insertLocked(&Vmarea{Start: v.Start, End: v.End, Off: v.Off, Prot: v.Prot, Shared: true, Obj: v.Obj})
			return true
		}

		parentShadow := shadow.Create(v.Obj)
		childShadow := shadow.Create(v.Obj)
		v.Obj.Unref()

		v.Obj = parentShadow
		child.insertLocked(&Vmarea{Start: v.Start, End: v.End, Off: v.Off, Prot: v.Prot, Shared: false, Obj: childShadow})
		return true
	})
	return child, nil
}

// Release drops every vmarea's reference to its backing object,
// without touching the page table; used to tear down a vmmap that is
// being discarded (a failed fork's half-built child, a process exiting).
func (m *Vmmap) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Ascend(func(v *Vmarea) bool {
		v.Obj.Unref()
		return true
	})
	m.tree.Clear(false)
}

// Collapse runs shadow_collapse over every vmarea whose object is a
// shadow, compacting fork-chain depth that has become unreachable from
// any sibling (exited parents, resolved COW writes).
func (m *Vmmap) Collapse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Ascend(func(v *Vmarea) bool {
		if v.Obj.Type() == mobj.Shadow {
			shadow.Collapse(v.Obj)
		}
		return true
	})
}

// Read copies count bytes starting at vaddr in this map into buf.
// Every touched page must already lie inside some vmarea: vmmap_read
// never checks permissions, since the caller already validated the
// range at the syscall boundary.
func (m *Vmmap) Read(vaddr hostarch.Addr, buf []byte) error {
	return m.walk(vaddr, buf, false)
}

// Write copies len(buf) bytes from buf into this map starting at vaddr.
func (m *Vmmap) Write(vaddr hostarch.Addr, buf []byte) error {
	return m.walk(vaddr, buf, true)
}

func (m *Vmmap) walk(vaddr hostarch.Addr, buf []byte, forWrite bool) error {
	remaining := buf
	cur := vaddr
	for len(remaining) > 0 {
		page := hostarch.PageNumberOf(cur)
		vma, ok := m.Lookup(page)
		if !ok {
			return errno.EFAULT
		}
		pagenumInObj := vma.Off + (page - vma.Start)
		pf, err := vma.Obj.GetPframe(pagenumInObj, forWrite)
		if err != nil {
			return err
		}
		inPage := hostarch.Offset(cur)
		n := hostarch.PageSize - int(inPage)
		if n > len(remaining) {
			n = len(remaining)
		}
		if forWrite {
			copy(pf.Data[inPage:int(inPage)+n], remaining[:n])
			pf.MarkDirty()
		} else {
			copy(remaining[:n], pf.Data[inPage:int(inPage)+n])
		}
		pf.Release()
		remaining = remaining[n:]
		cur += hostarch.Addr(n)
	}
	return nil
}

// String renders every vmarea in order, for debugging and tests; it is
// not part of any syscall path.
func (m *Vmmap) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := ""
	m.tree.Ascend(func(v *Vmarea) bool {
		s += fmt.Sprintf("[%d,%d) off=%d prot=%d shared=%v type=%s\n", v.Start, v.End, v.Off, v.Prot, v.Shared, v.Obj.Type())
		return true
	})
	return s
}
