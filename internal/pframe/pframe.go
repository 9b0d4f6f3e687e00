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

// Package pframe implements the resident page-frame type shared by
// every mobj variant: a page-sized buffer, keyed by logical page
// number, with its own lock and a pin count so callers can hold a
// reference to frame data across a copy without the owning mobj's page
// list changing underneath them.
package pframe

import (
	"sync"

	"github.com/vmkern-project/vmkern/internal/hostarch"
)

// Pframe is a single resident page belonging to exactly one mobj at a
// time. It is created on demand, filled by its owning mobj's
// fill_pframe, and handed back to callers locked; Release both unlocks
// and drops the pin.
type Pframe struct {
	mu sync.Mutex

	// PageNum is this frame's page number within its owning mobj.
	PageNum hostarch.PageNumber

	// Data is the page-sized backing buffer. Callers holding the frame
	// (between GetPframe-family calls returning it and Release) may
	// read or, if they obtained it for-write, mutate Data directly.
	Data [hostarch.PageSize]byte

	// Dirty marks that Data has been written since the last flush.
	Dirty bool

	pinCount int
}

// New allocates a zeroed, unlocked pframe for the given page number.
// Callers must Pin it, which locks and pins in one step, before
// touching Data.
func New(pagenum hostarch.PageNumber) *Pframe {
	return &Pframe{PageNum: pagenum}
}

// Pin locks the frame and increments its pin count; it is the form
// mobj_default_get_pframe and friends hand back to callers.
func (pf *Pframe) Pin() {
	pf.mu.Lock()
	pf.pinCount++
}

// Release unlocks the frame and decrements its pin count. Every
// successful get_pframe-family call must be paired with exactly one
// Release.
func (pf *Pframe) Release() {
	pf.pinCount--
	pf.mu.Unlock()
}

// MarkDirty records that Data has been mutated while the frame was
// pinned for write; flush_pframe implementations use this to decide
// whether there is anything to write back.
func (pf *Pframe) MarkDirty() {
	pf.Dirty = true
}

// Pinned reports whether any caller currently holds a pin on this
// frame. The owning mobj's page-list mutations (collapse, eviction)
// must not proceed while Pinned is true for a frame they intend to
// remove.
func (pf *Pframe) Pinned() bool {
	return pf.pinCount > 0
}
