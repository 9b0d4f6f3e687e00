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

// Package mobj implements the memory-object framework: a ref-counted,
// locked cache of page frames keyed by page number, with a small
// per-variant vtable (Ops) for fill/flush/get/destroy. File, anonymous,
// and shadow objects (packages anonmobj, filemobj, shadow) are all thin
// constructors around the Mobj type defined here.
package mobj

import (
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/vmkern-project/vmkern/internal/hostarch"
	"github.com/vmkern-project/vmkern/internal/klog"
	"github.com/vmkern-project/vmkern/internal/pframe"
)

var log = klog.For(klog.VM)

// Type tags the kind of data source a Mobj fronts.
type Type int

// The four variants this kernel knows about.
const (
	File Type = iota
	Anon
	Shadow
	Device
)

func (t Type) String() string {
	switch t {
	case File:
		return "file"
	case Anon:
		return "anon"
	case Shadow:
		return "shadow"
	case Device:
		return "device"
	default:
		return "unknown"
	}
}

// Ops is the per-variant method table, the Go translation of Weenix's
// mobj_ops_t function-pointer vtable. Every field receives the owning
// Mobj so the same Ops value can be shared across instances if a
// variant has no extra per-instance closures to capture.
type Ops struct {
	// GetPframe produces a pinned pframe for pagenum, ready to read or
	// (if forWrite) to dirty. On failure it returns the error the
	// variant's fill produced (for a file mobj, the vnode's I/O error).
	GetPframe func(o *Mobj, pagenum hostarch.PageNumber, forWrite bool) (*pframe.Pframe, error)

	// FillPframe populates pf's contents from the backing source. pf is
	// already allocated and pinned when this is called.
	FillPframe func(o *Mobj, pf *pframe.Pframe) error

	// FlushPframe writes back pf's contents if the variant has a
	// backing store and pf is dirty.
	FlushPframe func(o *Mobj, pf *pframe.Pframe) error

	// Destructor tears the mobj down once its refcount reaches zero.
	// Unref calls it directly; each variant calls DefaultDestructor from
	// it to drain resident pframes before releasing its own state. It is
	// called with no locks held.
	Destructor func(o *Mobj)
}

// Mobj is a page cache for a logical data source: a file range,
// zero-fill anonymous memory, or a shadow (copy-on-write) overlay over
// another Mobj.
type Mobj struct {
	// mu protects pages. Every operation that inspects or mutates this
	// mobj's page list must hold mu; DefaultGetPframe/FindPframe/
	// DefaultDestructor all take and release it internally, so callers
	// must not hold mu when invoking them.
	mu    sync.Mutex
	pages map[hostarch.PageNumber]*pframe.Pframe

	typ Type
	ops Ops

	// Ext carries variant-specific state (e.g. the shadowed/bottom
	// references for a shadow mobj, the vnode for a file mobj). Each
	// variant package owns the concrete type stored here and
	// type-asserts it back out; Mobj itself never inspects it.
	Ext any

	// refcount is protected by registryMu, never by mu: Unref on one
	// mobj can trigger a destructor that locks a different mobj down
	// the shadow chain, which must not deadlock against mu.
	refcount int32

	fillGroup singleflight.Group
}

// registryMu is the single global "mobj registry lock" spec section 4.A
// requires: refcounts are protected by it, not by the owning mobj's own
// mutex, so that Unref on one mobj can safely trigger a destructor that
// acquires a different mobj's mu.
var registryMu sync.Mutex

// New constructs a Mobj of the given type and vtable with a refcount of
// 1, matching every *_create() constructor in spec section 4 (anon,
// shadow, file) which return their object already referenced once for
// the caller.
func New(typ Type, ops Ops) *Mobj {
	return &Mobj{
		typ:      typ,
		ops:      ops,
		pages:    make(map[hostarch.PageNumber]*pframe.Pframe),
		refcount: 1,
	}
}

// Type returns the mobj's variant tag.
func (o *Mobj) Type() Type { return o.typ }

// Lock acquires the page-list mutex. Use sparingly: most callers should
// prefer GetPframe/FindPframe, which manage locking internally.
func (o *Mobj) Lock() { o.mu.Lock() }

// Unlock releases the page-list mutex acquired by Lock.
func (o *Mobj) Unlock() { o.mu.Unlock() }

// Ref increments the refcount under the registry lock.
func (o *Mobj) Ref() {
	registryMu.Lock()
	o.refcount++
	registryMu.Unlock()
}

// Unref decrements the refcount under the registry lock; when it
// reaches zero, the variant's Destructor runs (with no lock held, since
// destructors themselves acquire locks on other mobjs down the shadow
// chain).
func (o *Mobj) Unref() {
	registryMu.Lock()
	o.refcount--
	if o.refcount < 0 {
		panic("mobj: refcount went negative")
	}
	hitZero := o.refcount == 0
	registryMu.Unlock()
	if hitZero {
		o.ops.Destructor(o)
	}
}

// RefCount returns the current refcount under the registry lock. Used
// by shadow_collapse to test "am I the sole owner of my parent".
func (o *Mobj) RefCount() int32 {
	registryMu.Lock()
	defer registryMu.Unlock()
	return o.refcount
}

// GetPframe dispatches to the variant's GetPframe implementation.
func (o *Mobj) GetPframe(pagenum hostarch.PageNumber, forWrite bool) (*pframe.Pframe, error) {
	return o.ops.GetPframe(o, pagenum, forWrite)
}

// FlushPframe dispatches to the variant's FlushPframe implementation.
func (o *Mobj) FlushPframe(pf *pframe.Pframe) error {
	return o.ops.FlushPframe(o, pf)
}

// FindPframe returns the resident pframe for pagenum, pinned, or
// (nil, false) if no such frame is resident. It never fills.
func (o *Mobj) FindPframe(pagenum hostarch.PageNumber) (*pframe.Pframe, bool) {
	o.mu.Lock()
	pf, ok := o.pages[pagenum]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	pf.Pin()
	return pf, true
}

// DefaultGetPframe implements mobj_default_get_pframe: it returns the
// existing resident pframe for pagenum if there is one, or creates and
// fills a new one. Concurrent first-touch callers for the same page are
// coalesced through fillGroup so only one of them actually invokes
// FillPframe (spec section 8's "two threads simultaneously faulted on
// same page" race).
func (o *Mobj) DefaultGetPframe(pagenum hostarch.PageNumber, forWrite bool) (*pframe.Pframe, error) {
	o.mu.Lock()
	if pf, ok := o.pages[pagenum]; ok {
		o.mu.Unlock()
		pf.Pin()
		if forWrite {
			pf.MarkDirty()
		}
		return pf, nil
	}
	o.mu.Unlock()

	key := fmt.Sprintf("%p:%d", o, pagenum)
	v, err, shared := o.fillGroup.Do(key, func() (any, error) {
		o.mu.Lock()
		if pf, ok := o.pages[pagenum]; ok {
			o.mu.Unlock()
			return pf, nil
		}
		o.mu.Unlock()

		pf := pframe.New(pagenum)
		pf.Pin()
		ferr := o.ops.FillPframe(o, pf)
		pf.Release()
		if ferr != nil {
			return nil, ferr
		}
		o.mu.Lock()
		o.pages[pagenum] = pf
		o.mu.Unlock()
		return pf, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.WithField("pagenum", pagenum).Debugf("coalesced concurrent fault on same page")
	}
	pf := v.(*pframe.Pframe)
	pf.Pin()
	if forWrite {
		pf.MarkDirty()
	}
	return pf, nil
}

// DefaultDestructor implements mobj_default_destructor: it evicts every
// resident pframe, flushing dirty ones through the variant's
// FlushPframe first.
func (o *Mobj) DefaultDestructor() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for pn, pf := range o.pages {
		if pf.Dirty {
			if err := o.ops.FlushPframe(o, pf); err != nil {
				log.WithField("pagenum", pn).Warnf("flush on destroy failed: %v", err)
			}
		}
		delete(o.pages, pn)
	}
}

// PagesSnapshot returns the set of resident pframes, used by
// shadow_collapse to migrate frames without holding both mobjs' locks
// at once.
func (o *Mobj) PagesSnapshot() []*pframe.Pframe {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*pframe.Pframe, 0, len(o.pages))
	for _, pf := range o.pages {
		out = append(out, pf)
	}
	return out
}

// AdoptFrame inserts pf directly into o's page list, skipping it if o
// already has a resident frame for the same page number (in which case
// the caller should release the duplicate). It reports whether pf was
// adopted.
func (o *Mobj) AdoptFrame(pf *pframe.Pframe) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.pages[pf.PageNum]; exists {
		return false
	}
	o.pages[pf.PageNum] = pf
	return true
}
