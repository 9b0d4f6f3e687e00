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

// Package kconfig loads boot-time kernel tunables from a TOML file.
// These are not policy for any of the spec's core algorithms (those are
// fixed by the data model's invariants), only knobs a real kernel would
// expose at boot: buffer sizes, default scan direction, demo heap size.
package kconfig

import "github.com/BurntSushi/toml"

// Tunables holds the adjustable constants of the subsystem.
type Tunables struct {
	// LdiscBufferSize is the ring buffer capacity, in bytes, for every
	// line discipline instance. One slot is always reserved, per the
	// "full means head == tail-1" contract.
	LdiscBufferSize int `toml:"ldisc_buffer_size"`

	// DefaultFindRangeHiLo records a preferred vmmap_find_range scan
	// direction. It is loaded but not read by any caller: sysvm.Mmap
	// always scans high-to-low and sysvm.Brk always maps at a fixed
	// page, whatever this field says.
	DefaultFindRangeHiLo bool `toml:"default_find_range_hilo"`

	// DemoHeapPages sizes the initial heap demonstrated by
	// cmd/vmkern-demo.
	DemoHeapPages int `toml:"demo_heap_pages"`
}

// Default returns the tunables a freshly booted kernel uses absent a
// configuration file.
func Default() Tunables {
	return Tunables{
		LdiscBufferSize:      128,
		DefaultFindRangeHiLo: true,
		DemoHeapPages:        4,
	}
}

// Load reads tunables from a TOML file at path, falling back to
// Default() for any field the file omits.
func Load(path string) (Tunables, error) {
	t := Default()
	_, err := toml.DecodeFile(path, &t)
	if err != nil {
		return Tunables{}, err
	}
	return t, nil
}
