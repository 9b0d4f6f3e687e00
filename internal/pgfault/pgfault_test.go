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

package pgfault

import (
	"testing"

	"github.com/vmkern-project/vmkern/internal/anonmobj"
	"github.com/vmkern-project/vmkern/internal/hostarch"
	"github.com/vmkern-project/vmkern/internal/mobj"
	"github.com/vmkern-project/vmkern/internal/pagetable"
	"github.com/vmkern-project/vmkern/internal/vmm"
)

type fakeProc struct {
	m  *vmm.Vmmap
	pt *pagetable.PageTable
}

func (p *fakeProc) VMMap() *vmm.Vmmap           { return p.m }
func (p *fakeProc) PageTable() *pagetable.PageTable { return p.pt }

func newFakeProc(t *testing.T, prot int) (*fakeProc, hostarch.PageNumber) {
	t.Helper()
	pt := pagetable.New()
	m := vmm.New(pt)
	base := hostarch.PageNumberOf(hostarch.UserMemLow)
	_, err := m.Map(base, 1, prot, false, true, true, 0, vmm.LoHi, func() (*mobj.Mobj, error) {
		return anonmobj.New(), nil
	})
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	return &fakeProc{m: m, pt: pt}, base
}

func TestHandleInstallsTranslation(t *testing.T) {
	p, base := newFakeProc(t, hostarch.ProtRead|hostarch.ProtWrite)
	addr := base.ToAddr()

	if err := Handle(p, addr, CauseUser|CauseWrite); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !p.pt.Writable(base) {
		t.Fatalf("a write fault should install a writable PTE")
	}
}

func TestHandleOutsideUserRangeSegfaults(t *testing.T) {
	p, _ := newFakeProc(t, hostarch.ProtRead)
	if err := Handle(p, 0, CauseUser); err == nil {
		t.Fatalf("fault at address 0 should segfault")
	} else if _, ok := err.(*Segfault); !ok {
		t.Fatalf("expected a *Segfault, got %T", err)
	}
}

func TestHandleUnmappedAddressSegfaults(t *testing.T) {
	p, base := newFakeProc(t, hostarch.ProtRead)
	if err := Handle(p, (base + 5).ToAddr(), CauseUser); err == nil {
		t.Fatalf("fault in an unmapped page should segfault")
	}
}

func TestHandleWriteToReadOnlyMappingSegfaults(t *testing.T) {
	p, base := newFakeProc(t, hostarch.ProtRead)
	if err := Handle(p, base.ToAddr(), CauseUser|CauseWrite); err == nil {
		t.Fatalf("write fault on a read-only mapping should segfault")
	}
}

func TestHandleReadFaultInstallsReadOnlyPTE(t *testing.T) {
	p, base := newFakeProc(t, hostarch.ProtRead|hostarch.ProtWrite)
	if err := Handle(p, base.ToAddr(), CauseUser); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if p.pt.Writable(base) {
		t.Fatalf("a read fault must install a read-only PTE even on a writable vmarea, so a later write still traps")
	}
}
