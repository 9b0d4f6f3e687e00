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

// Package filemobj implements the file-backed mobj variant: the bottom
// object for a non-anonymous mmap. Its pframes are windows onto a
// vfs.Vnode at a page-aligned byte offset.
package filemobj

import (
	"time"

	"github.com/cenkalti/backoff"

	"github.com/vmkern-project/vmkern/internal/hostarch"
	"github.com/vmkern-project/vmkern/internal/klog"
	"github.com/vmkern-project/vmkern/internal/mobj"
	"github.com/vmkern-project/vmkern/internal/pframe"
	"github.com/vmkern-project/vmkern/internal/vfs"
)

var log = klog.For(klog.VM)

// ext carries the vnode and starting byte offset of the mapping this
// mobj fronts.
type ext struct {
	vnode    vfs.Vnode
	offBytes int64
}

// Create returns a file-backed mobj with refcount 1, reading and
// writing through vnode starting at offBytes. offBytes must already be
// page-aligned; vmmap_map is responsible for that invariant.
func Create(vnode vfs.Vnode, offBytes int64) *mobj.Mobj {
	o := mobj.New(mobj.File, mobj.Ops{
		GetPframe:   getPframe,
		FillPframe:  fillPframe,
		FlushPframe: flushPframe,
		Destructor:  destructor,
	})
	o.Ext = &ext{vnode: vnode, offBytes: offBytes}
	return o
}

func getPframe(o *mobj.Mobj, pagenum hostarch.PageNumber, forWrite bool) (*pframe.Pframe, error) {
	return o.DefaultGetPframe(pagenum, forWrite)
}

// fillPframe reads one page's worth of bytes from the vnode. Real disks
// and network filesystems see transient I/O errors that succeed on
// retry; unlike anonymous and shadow fills, which can never fail, a
// page-in here gets a short bounded backoff before giving up.
func fillPframe(o *mobj.Mobj, pf *pframe.Pframe) error {
	e := o.Ext.(*ext)
	off := e.offBytes + int64(pf.PageNum.ToAddr())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxElapsedTime = 50 * time.Millisecond

	return backoff.Retry(func() error {
		_, err := e.vnode.ReadAt(pf.Data[:], off)
		return err
	}, b)
}

// flushPframe writes a dirty page back to the vnode, with the same
// short retry budget as fillPframe.
func flushPframe(o *mobj.Mobj, pf *pframe.Pframe) error {
	if !pf.Dirty {
		return nil
	}
	e := o.Ext.(*ext)
	off := e.offBytes + int64(pf.PageNum.ToAddr())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxElapsedTime = 50 * time.Millisecond

	err := backoff.Retry(func() error {
		_, werr := e.vnode.WriteAt(pf.Data[:], off)
		return werr
	}, b)
	if err != nil {
		log.WithField("pagenum", pf.PageNum).Warnf("flush failed: %v", err)
		return err
	}
	pf.Dirty = false
	return nil
}

func destructor(o *mobj.Mobj) {
	o.DefaultDestructor()
}
