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

package pagetable

import (
	"testing"

	"github.com/vmkern-project/vmkern/internal/hostarch"
)

func TestMapAndVirtToPhys(t *testing.T) {
	pt := New()
	vaddr := hostarch.Addr(hostarch.UserMemLow + 37)
	pt.Map(0x1000, vaddr, FlagPresent|FlagUser|FlagWrite, FlagPresent|FlagUser)

	phys, ok := pt.VirtToPhys(vaddr)
	if !ok {
		t.Fatalf("VirtToPhys reported no translation after Map")
	}
	if phys != 0x1000+37 {
		t.Fatalf("VirtToPhys = %#x, want %#x", phys, 0x1000+37)
	}
}

func TestUnmapRangeRemovesTranslations(t *testing.T) {
	pt := New()
	base := hostarch.PageNumberOf(hostarch.UserMemLow)
	for i := hostarch.PageNumber(0); i < 3; i++ {
		pt.Map(uintptr(i)*hostarch.PageSize, (base + i).ToAddr(), FlagPresent, FlagPresent)
	}

	pt.UnmapRange(base, 3)

	for i := hostarch.PageNumber(0); i < 3; i++ {
		if _, ok := pt.VirtToPhys((base + i).ToAddr()); ok {
			t.Fatalf("page %d still resident after UnmapRange", i)
		}
	}
}

func TestWritable(t *testing.T) {
	pt := New()
	ro := hostarch.Addr(hostarch.UserMemLow)
	rw := hostarch.Addr(hostarch.UserMemLow + hostarch.PageSize)

	pt.Map(0, ro, FlagPresent, FlagPresent|FlagUser)
	pt.Map(0, rw, FlagPresent, FlagPresent|FlagUser|FlagWrite)

	if pt.Writable(hostarch.PageNumberOf(ro)) {
		t.Fatalf("page mapped without FlagWrite reported writable")
	}
	if !pt.Writable(hostarch.PageNumberOf(rw)) {
		t.Fatalf("page mapped with FlagWrite reported not writable")
	}
}

func TestTLBFlushAll(t *testing.T) {
	pt := New()
	addr := hostarch.Addr(hostarch.UserMemLow)
	pt.Map(0x2000, addr, FlagPresent, FlagPresent)

	tlb := NewTLB(pt)
	tlb.FlushAll()

	if _, ok := pt.VirtToPhys(addr); ok {
		t.Fatalf("translation survived FlushAll")
	}
}
