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

// Binary vmkern-demo exercises the vm subsystem end to end: brk, mmap,
// page faults, fork, and the resulting copy-on-write isolation.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/sirupsen/logrus"

	"github.com/vmkern-project/vmkern/internal/hostarch"
	"github.com/vmkern-project/vmkern/internal/kconfig"
	"github.com/vmkern-project/vmkern/internal/klog"
	"github.com/vmkern-project/vmkern/internal/pgfault"
	"github.com/vmkern-project/vmkern/internal/proc"
	"github.com/vmkern-project/vmkern/internal/sysvm"
)

var (
	configPath = flag.String("config", "", "path to a TOML tunables file; defaults built in if empty")
	verbose    = flag.Bool("v", false, "enable debug logging")
)

const forkTrampoline = 0xffff800000001000

func main() {
	flag.Parse()
	if *verbose {
		klog.SetLevel(logrus.DebugLevel)
	}

	tunables := kconfig.Default()
	if *configPath != "" {
		var err error
		tunables, err = kconfig.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config: %v", err)
		}
	}

	parent := proc.Create("demo", hostarch.Addr(hostarch.UserMemLow))
	parent.Threads = append(parent.Threads, &proc.Thread{})

	heapTarget := hostarch.Addr(hostarch.UserMemLow) + hostarch.Addr(int64(tunables.DemoHeapPages)*hostarch.PageSize)
	brk, err := sysvm.Brk(parent.VMMap(), parent.Heap(), heapTarget)
	if err != nil {
		log.Fatalf("brk: %v", err)
	}
	fmt.Printf("grew heap to %#x (%d pages)\n", brk, tunables.DemoHeapPages)

	heapAddr := hostarch.Addr(hostarch.UserMemLow)
	if err := pgfault.Handle(parent, heapAddr, pgfault.CauseUser|pgfault.CauseWrite); err != nil {
		log.Fatalf("unexpected fault: %v", err)
	}

	payload := []byte("parent wrote this page\x00")
	if err := parent.VMMap().Write(heapAddr, payload); err != nil {
		log.Fatalf("write: %v", err)
	}
	fmt.Printf("parent wrote %d bytes at %#x\n", len(payload), heapAddr)

	child, err := parent.Fork(forkTrampoline)
	if err != nil {
		log.Fatalf("fork: %v", err)
	}
	fmt.Printf("forked child pid=%d from parent pid=%d\n", child.PID, parent.PID)

	childPayload := []byte("child wrote this instead\x00")
	if err := child.VMMap().Write(heapAddr, childPayload); err != nil {
		log.Fatalf("child write: %v", err)
	}

	parentAfter := make([]byte, len(payload))
	if err := parent.VMMap().Read(heapAddr, parentAfter); err != nil {
		log.Fatalf("parent read: %v", err)
	}
	childAfter := make([]byte, len(childPayload))
	if err := child.VMMap().Read(heapAddr, childAfter); err != nil {
		log.Fatalf("child read: %v", err)
	}

	fmt.Printf("parent now reads:  %q\n", parentAfter)
	fmt.Printf("child now reads:   %q\n", childAfter)
	fmt.Println(parent.VMMap().String())

	mapped, err := sysvm.Mmap(parent.VMMap(), 0, hostarch.PageSize, hostarch.ProtRead|hostarch.ProtWrite,
		hostarch.MapPrivate|hostarch.MapAnon, nil, 0)
	if err != nil {
		log.Fatalf("mmap: %v", err)
	}
	fmt.Printf("mapped anonymous region at %#x\n", mapped)

	if err := sysvm.Munmap(parent.VMMap(), mapped, hostarch.PageSize); err != nil {
		log.Fatalf("munmap: %v", err)
	}
	fmt.Println("unmapped it again")

	parent.VMMap().Collapse()
	child.VMMap().Collapse()
	fmt.Println("vmkern-demo: done")
}
