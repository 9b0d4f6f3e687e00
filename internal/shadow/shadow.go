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

// Package shadow implements copy-on-write through stacked page-frame
// caches layered over an immutable bottom object. A shadow's write path
// materializes a private copy of a page in the shadow itself; its read
// path returns that private copy when there is one, and otherwise walks
// down to whichever ancestor (or the bottom object) actually holds the
// page.
package shadow

import (
	"github.com/vmkern-project/vmkern/internal/hostarch"
	"github.com/vmkern-project/vmkern/internal/klog"
	"github.com/vmkern-project/vmkern/internal/mobj"
	"github.com/vmkern-project/vmkern/internal/pframe"
)

var log = klog.For(klog.VM)

// ext holds the shadow-specific state threaded through Mobj.Ext:
// the immediate parent in the chain and the non-shadow object at its
// base.
type ext struct {
	shadowed *mobj.Mobj
	bottom   *mobj.Mobj
}

// Create returns a fresh shadow mobj with refcount 1, shadowing
// shadowed. If shadowed is itself a shadow, the new object inherits its
// bottom_mobj instead of chaining bottoms; this keeps bottom_mobj.Type
// != Shadow true at every depth.
func Create(shadowed *mobj.Mobj) *mobj.Mobj {
	bottom := shadowed
	if shadowed.Type() == mobj.Shadow {
		bottom = bottomOf(shadowed)
	}
	shadowed.Ref()
	bottom.Ref()

	o := mobj.New(mobj.Shadow, mobj.Ops{
		GetPframe:   getPframe,
		FillPframe:  fillPframe,
		FlushPframe: flushPframe,
		Destructor:  destructor,
	})
	o.Ext = &ext{shadowed: shadowed, bottom: bottom}
	return o
}

// bottomOf returns the bottom_mobj of a shadow mobj.
func bottomOf(o *mobj.Mobj) *mobj.Mobj {
	return o.Ext.(*ext).bottom
}

// Shadowed returns o's immediate parent in the chain. Panics if o is
// not a shadow mobj.
func Shadowed(o *mobj.Mobj) *mobj.Mobj {
	return o.Ext.(*ext).shadowed
}

// Bottom returns the non-shadow object at the base of o's chain.
// Panics if o is not a shadow mobj.
func Bottom(o *mobj.Mobj) *mobj.Mobj {
	return o.Ext.(*ext).bottom
}

func getPframe(o *mobj.Mobj, pagenum hostarch.PageNumber, forWrite bool) (*pframe.Pframe, error) {
	if forWrite {
		// The write path always materializes in o itself: this is the
		// copy-on-write moment. mobj_default_get_pframe will call
		// fillPframe below the first time pagenum is touched.
		return o.DefaultGetPframe(pagenum, true)
	}
	// A page o has already materialized is o's own view of it and wins
	// over anything further down the chain.
	if pf, ok := o.FindPframe(pagenum); ok {
		return pf, nil
	}
	return readChain(o, pagenum)
}

// readChain walks from o.shadowed down to bottom_mobj looking for a
// resident copy of pagenum, iteratively (never recursively) so an
// arbitrarily deep fork chain cannot blow the call stack. The first hit
// wins; if nothing in the chain has the page resident, the request
// falls through to bottom_mobj.GetPframe, which fills it from the
// actual data source.
func readChain(o *mobj.Mobj, pagenum hostarch.PageNumber) (*pframe.Pframe, error) {
	e := o.Ext.(*ext)
	cur := e.shadowed
	for cur.Type() == mobj.Shadow {
		if pf, ok := cur.FindPframe(pagenum); ok {
			return pf, nil
		}
		cur = Shadowed(cur)
	}
	if pf, ok := cur.FindPframe(pagenum); ok {
		return pf, nil
	}
	return e.bottom.GetPframe(pagenum, false)
}

// fillPframe is invoked by mobj_default_get_pframe when o is
// materializing pagenum for the first time in its own page list: it
// searches the chain for a source copy and copies it in. When no shadow
// in the chain holds the page, the source is the bottom object's own
// page, filled from its data source; an error from that fill is
// returned unchanged.
func fillPframe(o *mobj.Mobj, pf *pframe.Pframe) error {
	// readChain already hands back src pinned (FindPframe and GetPframe
	// both return pinned frames), so this only needs to copy and
	// release, not pin again.
	src, err := readChain(o, pf.PageNum)
	if err != nil {
		return err
	}
	copy(pf.Data[:], src.Data[:])
	src.Release()
	return nil
}

// flushPframe is a no-op: shadow pages are private copies, never backed
// by storage of their own.
func flushPframe(o *mobj.Mobj, pf *pframe.Pframe) error {
	return nil
}

func destructor(o *mobj.Mobj) {
	o.DefaultDestructor()
	e := o.Ext.(*ext)
	e.shadowed.Unref()
	e.bottom.Unref()
}

// Collapse compacts o's chain while its immediate parent is itself a
// shadow held by no one else: it migrates every resident pframe from
// that intermediate shadow into o, drops the intermediate shadow's
// reference (triggering its destructor, since o was its sole owner),
// and re-anchors o.shadowed one link further down. The loop terminates
// because chain length strictly decreases on each iteration.
func Collapse(o *mobj.Mobj) {
	e := o.Ext.(*ext)
	for e.shadowed.Type() == mobj.Shadow && e.shadowed.RefCount() == 1 {
		mid := e.shadowed
		midExt := mid.Ext.(*ext)

		// PagesSnapshot hands back mid's resident frames unpinned; a
		// frame o already has resident is simply dropped here rather
		// than migrated, since o's own copy is authoritative.
		for _, pf := range mid.PagesSnapshot() {
			o.AdoptFrame(pf)
		}

		e.shadowed = midExt.shadowed
		e.shadowed.Ref()
		log.WithField("mobj", o).Debugf("collapsed intermediate shadow, new depth parent=%p", e.shadowed)
		mid.Unref()
	}
}
