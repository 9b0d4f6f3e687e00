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

// Package anonmobj implements the simplest mobj variant: anonymous,
// zero-fill memory with no backing store. It is the bottom object of
// every MAP_ANON mapping, the brk heap included.
package anonmobj

import (
	"github.com/vmkern-project/vmkern/internal/hostarch"
	"github.com/vmkern-project/vmkern/internal/mobj"
	"github.com/vmkern-project/vmkern/internal/pframe"
)

// New creates an anonymous mobj with a refcount of 1.
func New() *mobj.Mobj {
	return mobj.New(mobj.Anon, mobj.Ops{
		GetPframe:   getPframe,
		FillPframe:  fillPframe,
		FlushPframe: flushPframe,
		Destructor:  destructor,
	})
}

// getPframe always goes through the default framework path: anonymous
// memory has no variant-specific lookup.
func getPframe(o *mobj.Mobj, pagenum hostarch.PageNumber, forWrite bool) (*pframe.Pframe, error) {
	return o.DefaultGetPframe(pagenum, forWrite)
}

// fillPframe leaves Data zeroed; pframe.New already zero-initializes
// the page, so there is nothing to do beyond that guarantee.
func fillPframe(o *mobj.Mobj, pf *pframe.Pframe) error {
	return nil
}

// flushPframe is a no-op: anonymous memory has no backing store to
// write back to.
func flushPframe(o *mobj.Mobj, pf *pframe.Pframe) error {
	return nil
}

// destructor drains the resident page list; anonymous mobjs hold no
// other resources.
func destructor(o *mobj.Mobj) {
	o.DefaultDestructor()
}
