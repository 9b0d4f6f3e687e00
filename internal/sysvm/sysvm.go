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

// Package sysvm implements the mmap, munmap, and brk system calls: the
// syscall-boundary validation spec section 4.F requires, on top of the
// vmm package's vmmap operations.
package sysvm

import (
	"github.com/vmkern-project/vmkern/internal/anonmobj"
	"github.com/vmkern-project/vmkern/internal/errno"
	"github.com/vmkern-project/vmkern/internal/filemobj"
	"github.com/vmkern-project/vmkern/internal/hostarch"
	"github.com/vmkern-project/vmkern/internal/klog"
	"github.com/vmkern-project/vmkern/internal/mobj"
	"github.com/vmkern-project/vmkern/internal/vfs"
	"github.com/vmkern-project/vmkern/internal/vmm"
)

var log = klog.For(klog.Syscall)

// OpenFile is the narrow slice of an open file descriptor's state that
// mmap's validation table needs: the vnode it refers to and the flags
// it was opened with.
type OpenFile struct {
	Vnode vfs.Vnode
	Flags vfs.OpenFlags
}

// Heap tracks a process's single brk-managed heap vmarea.
type Heap struct {
	StartBrk hostarch.Addr
	Brk      hostarch.Addr
	vma      *vmm.Vmarea
}

// RebindAfterClone re-targets h's heap vmarea pointer into childMap
// after a fork. A plain struct copy of Heap leaves h.vma aliasing the
// parent's Vmarea, which vmm.Clone mutates in place to point at the
// parent's own shadow object; the child needs the distinct Vmarea
// vmm.Clone inserted into its own map, sharing the same [Start, End)
// but wrapping the child's shadow instead.
func (h *Heap) RebindAfterClone(childMap *vmm.Vmmap) {
	if h.vma == nil {
		return
	}
	if v, ok := childMap.Lookup(h.vma.Start); ok {
		h.vma = v
	}
}

// Mmap implements the mmap(2) syscall. addr is used only when flags has
// MapFixed, as the fixed address; otherwise it is ignored and a free
// range is found high-to-low. len is in bytes, file may be nil for
// MAP_ANON. It returns the byte address of the new mapping.
func Mmap(m *vmm.Vmmap, addr hostarch.Addr, length int64, prot, flags int, file *OpenFile, off int64) (hostarch.Addr, error) {
	switch {
	case length <= 0 || off < 0:
		return 0, errno.EINVAL
	case flags&(hostarch.MapPrivate|hostarch.MapShared) == 0:
		return 0, errno.EINVAL
	case !hostarch.Aligned(hostarch.Addr(off)):
		return 0, errno.EINVAL
	case flags&hostarch.MapFixed != 0 && !hostarch.Aligned(addr):
		return 0, errno.EINVAL
	case flags&hostarch.MapFixed != 0 && addr < hostarch.UserMemLow:
		return 0, errno.EINVAL
	case flags&hostarch.MapAnon == 0 && file == nil:
		return 0, errno.EBADF
	}

	if flags&hostarch.MapAnon == 0 {
		if !file.Vnode.Mappable() {
			return 0, errno.ENODEV
		}
		if prot&hostarch.ProtRead != 0 && !file.Flags.Read {
			return 0, errno.EACCES
		}
		if prot&hostarch.ProtWrite != 0 && file.Flags.Append {
			return 0, errno.EACCES
		}
		if flags&hostarch.MapShared != 0 && prot&hostarch.ProtWrite != 0 && !(file.Flags.Read && file.Flags.Write) {
			return 0, errno.EACCES
		}
	}

	var lopage hostarch.PageNumber
	if flags&hostarch.MapFixed != 0 {
		lopage = hostarch.PageNumberOf(addr)
	}
	inPageOff := uint64(0)
	if flags&hostarch.MapFixed != 0 {
		inPageOff = hostarch.Offset(addr)
	}
	npages := hostarch.PagesSpanning(inPageOff, uint64(length))

	var src vmm.ObjSource
	if flags&hostarch.MapAnon != 0 {
		src = func() (*mobj.Mobj, error) { return anonmobj.New(), nil }
	} else {
		// The file mobj fronts the whole file from byte 0; the mapping's
		// offset is carried once, as the vmarea's Off below.
		v := file.Vnode
		src = func() (*mobj.Mobj, error) { return filemobj.Create(v, 0), nil }
	}

	dir := vmm.HiLo
	vma, err := m.Map(lopage, npages, prot, flags&hostarch.MapShared != 0, flags&hostarch.MapPrivate != 0, flags&hostarch.MapFixed != 0, hostarch.PageNumber(uint64(off)>>hostarch.PageShift), dir, src)
	if err != nil {
		return 0, err
	}

	log.WithField("pages", npages).Debugf("mapped [%d,%d)", vma.Start, vma.End)
	return vma.Start.ToAddr(), nil
}

// Munmap implements the munmap(2) syscall.
func Munmap(m *vmm.Vmmap, addr hostarch.Addr, length int64) error {
	if length <= 0 || !hostarch.Aligned(addr) {
		return errno.EINVAL
	}
	if addr < hostarch.UserMemLow || addr+hostarch.Addr(length) > hostarch.UserMemHigh {
		return errno.EINVAL
	}
	npages := hostarch.PagesSpanning(0, uint64(length))
	return m.Remove(hostarch.PageNumberOf(addr), npages)
}

// Brk implements the brk(2) syscall against h, growing or shrinking the
// single heap vmarea it tracks. addr == 0 returns the current break
// without modifying anything, matching addr == NULL in the original
// design.
func Brk(m *vmm.Vmmap, h *Heap, addr hostarch.Addr) (hostarch.Addr, error) {
	if addr == 0 {
		return h.Brk, nil
	}
	if addr > hostarch.UserMemHigh || addr < h.StartBrk {
		return 0, errno.ENOMEM
	}

	endpage := hostarch.PageNumberOf(addr + hostarch.PageSize - 1)
	lopage := hostarch.PageNumberOf(hostarch.RoundUp(h.StartBrk))

	switch {
	case h.vma == nil && endpage > lopage:
		if !m.IsRangeEmpty(lopage, uint64(endpage-lopage)) {
			return 0, errno.ENOMEM
		}
		vma, err := m.Map(lopage, uint64(endpage-lopage), hostarch.ProtRead|hostarch.ProtWrite, false, true, true, 0, vmm.LoHi, func() (*mobj.Mobj, error) {
			return anonmobj.New(), nil
		})
		if err != nil {
			return 0, err
		}
		h.vma = vma

	case h.vma != nil && endpage > h.vma.End:
		if !m.IsRangeEmpty(h.vma.End, uint64(endpage-h.vma.End)) {
			return 0, errno.ENOMEM
		}
		h.vma.End = endpage

	case h.vma != nil && endpage < h.vma.End:
		// Remove's tail-truncation case (case 3) mutates h.vma.End in
		// place (h.vma and the tree's entry are the same pointer), so a
		// partial shrink is reflected automatically. A shrink down to or
		// past the vma's own start fully removes it from the tree
		// instead (case 1), leaving h.vma dangling unless cleared here:
		// "addr == p_start_brk leaves no heap vmarea" depends on this.
		fullyRemoved := endpage <= h.vma.Start
		if err := m.Remove(endpage, uint64(h.vma.End-endpage)); err != nil {
			return 0, err
		}
		if fullyRemoved {
			h.vma = nil
		}
	}

	h.Brk = hostarch.RoundUp(addr)
	return h.Brk, nil
}
