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

package anonmobj

import (
	"testing"

	"github.com/vmkern-project/vmkern/internal/mobj"
)

func TestNewPagesAreZeroed(t *testing.T) {
	o := New()
	defer o.Unref()

	pf, err := o.GetPframe(4, false)
	if err != nil {
		t.Fatalf("GetPframe: %v", err)
	}
	defer pf.Release()

	for i, b := range pf.Data {
		if b != 0 {
			t.Fatalf("byte %d of a fresh anonymous page is %d, want 0", i, b)
		}
	}
}

func TestWriteIsVisibleOnSubsequentRead(t *testing.T) {
	o := New()
	defer o.Unref()

	pf, _ := o.GetPframe(0, true)
	pf.Data[0] = 0x42
	pf.MarkDirty()
	pf.Release()

	pf2, _ := o.GetPframe(0, false)
	defer pf2.Release()
	if pf2.Data[0] != 0x42 {
		t.Fatalf("write to anonymous page not visible on re-fetch")
	}
}

func TestTypeIsAnon(t *testing.T) {
	o := New()
	defer o.Unref()
	if o.Type() != mobj.Anon {
		t.Fatalf("New() produced type %v, want Anon", o.Type())
	}
}
