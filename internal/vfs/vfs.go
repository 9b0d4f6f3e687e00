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

// Package vfs defines the narrow boundary this kernel needs from a
// filesystem: enough to let mmap(2) turn an open file into a mobj.
// Everything below that boundary (directories, lookup, real storage) is
// out of scope; MemVnode exists only so the rest of the module and its
// tests have something concrete to mmap.
package vfs

import (
	"io"
	"sync"

	"github.com/vmkern-project/vmkern/internal/errno"
)

// OpenFlags records how a file descriptor was opened, mirroring the
// subset of O_* flags this subsystem's mmap checks care about.
type OpenFlags struct {
	Read   bool
	Write  bool
	Append bool
}

// Vnode is the narrow slice of a real vnode_ops table that the vm
// subsystem depends on: byte-range I/O for filling and flushing pages,
// and a size for bounds checks.
type Vnode interface {
	// ReadAt fills p from the file starting at off, vnode-style: it may
	// return fewer bytes than len(p) at EOF without that being an error,
	// matching io.ReaderAt except io.EOF is not required on a short
	// final read.
	ReadAt(p []byte, off int64) (int, error)

	// WriteAt writes p to the file starting at off, growing the file if
	// necessary.
	WriteAt(p []byte, off int64) (int, error)

	// Size returns the current file length in bytes.
	Size() int64

	// Mappable reports whether this vnode supports mmap at all; vn_ops
	// without an mmap implementation map to ENODEV (spec section 6).
	Mappable() bool
}

// MemVnode is an in-memory Vnode, standing in for a real file-backed
// inode in tests and the demo binaries.
type MemVnode struct {
	mu    sync.Mutex
	data  []byte
	flags OpenFlags
}

// NewMemVnode creates a vnode backed by an in-memory buffer of the
// given initial size, opened with flags.
func NewMemVnode(size int, flags OpenFlags) *MemVnode {
	return &MemVnode{data: make([]byte, size), flags: flags}
}

// Flags returns the open flags this vnode was created with.
func (v *MemVnode) Flags() OpenFlags { return v.flags }

func (v *MemVnode) ReadAt(p []byte, off int64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if off < 0 || off >= int64(len(v.data)) {
		return 0, io.EOF
	}
	n := copy(p, v.data[off:])
	return n, nil
}

func (v *MemVnode) WriteAt(p []byte, off int64) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.flags.Write {
		return 0, errno.EACCES
	}
	end := off + int64(len(p))
	if end > int64(len(v.data)) {
		grown := make([]byte, end)
		copy(grown, v.data)
		v.data = grown
	}
	n := copy(v.data[off:end], p)
	return n, nil
}

func (v *MemVnode) Size() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return int64(len(v.data))
}

func (v *MemVnode) Mappable() bool { return true }
