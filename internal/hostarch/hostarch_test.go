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

package hostarch

import "testing"

func TestPageNumberRoundTrip(t *testing.T) {
	a := Addr(UserMemLow + 3*PageSize + 17)
	pn := PageNumberOf(a)
	if got := pn.ToAddr(); got != Addr(UserMemLow+3*PageSize) {
		t.Fatalf("ToAddr() = %#x, want %#x", got, UserMemLow+3*PageSize)
	}
	if off := Offset(a); off != 17 {
		t.Fatalf("Offset() = %d, want 17", off)
	}
}

func TestAlignedRoundDownRoundUp(t *testing.T) {
	base := Addr(UserMemLow)
	if !Aligned(base) {
		t.Fatalf("page-aligned address reported unaligned")
	}
	mid := base + 42
	if Aligned(mid) {
		t.Fatalf("mid-page address reported aligned")
	}
	if RoundDown(mid) != base {
		t.Fatalf("RoundDown(%#x) = %#x, want %#x", mid, RoundDown(mid), base)
	}
	if RoundUp(mid) != base+PageSize {
		t.Fatalf("RoundUp(%#x) = %#x, want %#x", mid, RoundUp(mid), base+PageSize)
	}
	if RoundUp(base) != base {
		t.Fatalf("RoundUp of an aligned address should be a no-op")
	}
}

func TestPagesSpanning(t *testing.T) {
	cases := []struct {
		off, length uint64
		want        uint64
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0, PageSize, 1},
		{0, PageSize + 1, 2},
		{100, PageSize - 100, 1},
		{100, PageSize - 99, 2},
	}
	for _, c := range cases {
		if got := PagesSpanning(c.off, c.length); got != c.want {
			t.Errorf("PagesSpanning(%d, %d) = %d, want %d", c.off, c.length, got, c.want)
		}
	}
}
