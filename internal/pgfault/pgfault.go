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

// Package pgfault implements the page-fault handler: it turns a
// faulting virtual address into a resident pframe and a fresh
// page-table translation, or decides the fault is fatal.
package pgfault

import (
	"github.com/vmkern-project/vmkern/internal/hostarch"
	"github.com/vmkern-project/vmkern/internal/klog"
	"github.com/vmkern-project/vmkern/internal/pagetable"
	"github.com/vmkern-project/vmkern/internal/vmm"
)

var log = klog.For(klog.Fault)

// Cause is the fault-reason bitmask the trap frame reports.
type Cause int

const (
	CauseUser Cause = 1 << iota
	CauseWrite
	CauseExec
)

// Faulter is the narrow slice of a process the handler needs: its
// address-space map and page table.
type Faulter interface {
	VMMap() *vmm.Vmmap
	PageTable() *pagetable.PageTable
}

// Segfault is returned when a fault cannot be resolved and the faulting
// process must be terminated.
type Segfault struct {
	Addr   hostarch.Addr
	Reason string
}

func (s *Segfault) Error() string {
	return "segfault at " + formatAddr(s.Addr) + ": " + s.Reason
}

func formatAddr(a hostarch.Addr) string {
	const hexDigits = "0123456789abcdef"
	if a == 0 {
		return "0x0"
	}
	buf := make([]byte, 0, 18)
	buf = append(buf, '0', 'x')
	started := false
	for shift := 60; shift >= 0; shift -= 4 {
		d := (uint64(a) >> uint(shift)) & 0xf
		if d != 0 {
			started = true
		}
		if started {
			buf = append(buf, hexDigits[d])
		}
	}
	return string(buf)
}

// Handle resolves a fault at vaddr with the given cause against p's
// address space, installing a translation on success or returning a
// *Segfault describing why the process must die.
func Handle(p Faulter, vaddr hostarch.Addr, cause Cause) error {
	if vaddr < hostarch.UserMemLow || vaddr >= hostarch.UserMemHigh {
		return &Segfault{Addr: vaddr, Reason: "address outside user range"}
	}

	page := hostarch.PageNumberOf(vaddr)
	vma, ok := p.VMMap().Lookup(page)
	if !ok {
		return &Segfault{Addr: vaddr, Reason: "no mapping"}
	}

	switch {
	case cause&CauseWrite != 0 && vma.Prot&hostarch.ProtWrite == 0:
		return &Segfault{Addr: vaddr, Reason: "write to non-writable mapping"}
	case cause&CauseExec != 0 && vma.Prot&hostarch.ProtExec == 0:
		return &Segfault{Addr: vaddr, Reason: "exec of non-executable mapping"}
	case cause&(CauseWrite|CauseExec) == 0 && vma.Prot&hostarch.ProtRead == 0:
		return &Segfault{Addr: vaddr, Reason: "read of non-readable mapping"}
	}

	forWrite := cause&CauseWrite != 0
	pagenumInObj := vma.Off + (page - vma.Start)

	pf, err := vma.Obj.GetPframe(pagenumInObj, forWrite)
	if err != nil {
		return &Segfault{Addr: vaddr, Reason: "mobj fill failed: " + err.Error()}
	}
	// This simulated kernel has no separate physical address space: a
	// pframe's own page number stands in for pt_virt_to_phys's result.
	phys := uintptr(pf.PageNum) << hostarch.PageShift
	pf.Release()

	ptFlags := pagetable.FlagPresent | pagetable.FlagUser
	if forWrite {
		ptFlags |= pagetable.FlagWrite
	}
	// The directory-level flags always permit write: per-page
	// enforcement lives entirely in ptFlags, so a read fault installs a
	// read-only PTE and a later write still traps to materialize the
	// COW copy.
	pdFlags := pagetable.FlagPresent | pagetable.FlagUser | pagetable.FlagWrite
	pt := p.PageTable()
	pt.Map(phys, hostarch.RoundDown(vaddr), pdFlags, ptFlags)
	pagetable.NewTLB(pt).Flush(hostarch.RoundDown(vaddr))

	log.WithField("addr", vaddr).Debugf("resolved fault forWrite=%v", forWrite)
	return nil
}
