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

package vfs

import (
	"io"
	"testing"
)

func TestReadAtEOF(t *testing.T) {
	v := NewMemVnode(4, OpenFlags{Read: true})
	buf := make([]byte, 4)
	if _, err := v.ReadAt(buf, 4); err != io.EOF {
		t.Fatalf("ReadAt at exactly the file size should report io.EOF, got %v", err)
	}
}

func TestWriteAtGrowsFile(t *testing.T) {
	v := NewMemVnode(2, OpenFlags{Read: true, Write: true})
	n, err := v.WriteAt([]byte("hello"), 2)
	if err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if n != 5 {
		t.Fatalf("WriteAt returned %d, want 5", n)
	}
	if v.Size() != 7 {
		t.Fatalf("Size() = %d after growing write, want 7", v.Size())
	}

	got := make([]byte, 5)
	if _, err := v.ReadAt(got, 2); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("read back %q, want %q", got, "hello")
	}
}

func TestWriteAtRejectsReadOnly(t *testing.T) {
	v := NewMemVnode(4, OpenFlags{Read: true})
	if _, err := v.WriteAt([]byte("x"), 0); err == nil {
		t.Fatalf("WriteAt on a read-only vnode should fail")
	}
}

func TestMappable(t *testing.T) {
	v := NewMemVnode(0, OpenFlags{})
	if !v.Mappable() {
		t.Fatalf("MemVnode should always report Mappable")
	}
}
