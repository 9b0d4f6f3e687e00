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

package ldisc

import (
	"context"
	"testing"
	"time"

	"github.com/vmkern-project/vmkern/internal/hostarch"
)

func feed(l *LineDiscipline, s string) {
	for i := 0; i < len(s); i++ {
		l.KeyPressed(s[i])
	}
}

func TestReadCookedLine(t *testing.T) {
	l := New(32, nil)
	feed(l, "hello\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitRead(ctx); err != nil {
		t.Fatalf("WaitRead: %v", err)
	}

	buf := make([]byte, 32)
	n := l.Read(buf)
	if string(buf[:n]) != "hello\n" {
		t.Fatalf("Read returned %q, want %q", buf[:n], "hello\n")
	}
}

func TestBackspaceErasesRawRegionOnly(t *testing.T) {
	l := New(32, nil)
	feed(l, "hellx")
	l.KeyPressed(hostarch.BS)
	feed(l, "o\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.WaitRead(ctx); err != nil {
		t.Fatalf("WaitRead: %v", err)
	}
	buf := make([]byte, 32)
	n := l.Read(buf)
	if string(buf[:n]) != "hello\n" {
		t.Fatalf("backspace did not correct the raw region: got %q", buf[:n])
	}
}

func TestBackspaceAtCookedBoundaryIsNoOp(t *testing.T) {
	l := New(32, nil)
	feed(l, "ok\n")
	// Nothing left in the raw region; BS here must not eat the cooked line.
	l.KeyPressed(hostarch.BS)

	buf := make([]byte, 32)
	n := l.Read(buf)
	if string(buf[:n]) != "ok\n" {
		t.Fatalf("backspace past the cooked boundary corrupted the already-cooked line: got %q", buf[:n])
	}
}

func TestCtrlCWithNoPendingDataYieldsBlankRead(t *testing.T) {
	l := New(32, nil)
	feed(l, "thrown away")
	l.KeyPressed(hostarch.ETX)

	buf := make([]byte, 32)
	n := l.Read(buf)
	if string(buf[:n]) != "\n" {
		t.Fatalf("Read after a bare ctrl-C should return a single queued newline, got %d (%q)", n, buf[:n])
	}

	// The raw region ctrl-C discarded must really be gone.
	feed(l, "next\n")
	n2 := l.Read(buf)
	if string(buf[:n2]) != "next\n" {
		t.Fatalf("discarded raw input resurfaced: got %q", buf[:n2])
	}
}

func TestCtrlCWithPendingCookedLineQueuesBlankBehindIt(t *testing.T) {
	l := New(32, nil)
	feed(l, "ready\n")
	feed(l, "half typed")
	l.KeyPressed(hostarch.ETX)

	buf := make([]byte, 32)
	n := l.Read(buf)
	if string(buf[:n]) != "ready\n" {
		t.Fatalf("a ctrl-C while a real cooked line is still waiting must not corrupt it: got %q", buf[:n])
	}

	// ctrl-C never drops its blank line; it queues behind whatever was
	// already cooked, so a second Read sees it.
	n2 := l.Read(buf)
	if string(buf[:n2]) != "\n" {
		t.Fatalf("ctrl-C's queued blank line did not survive behind the pending cooked line: got %q", buf[:n2])
	}
}

func TestWaitReadCancellation(t *testing.T) {
	l := New(32, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.WaitRead(ctx); err == nil {
		t.Fatalf("WaitRead on an already-cancelled context should return an error")
	}
}

func TestCurrentLineRaw(t *testing.T) {
	l := New(32, nil)
	feed(l, "wip")
	if got := string(l.CurrentLineRaw()); got != "wip" {
		t.Fatalf("CurrentLineRaw() = %q, want %q", got, "wip")
	}
	// CurrentLineRaw must not consume anything.
	feed(l, "\n")
	buf := make([]byte, 32)
	n := l.Read(buf)
	if string(buf[:n]) != "wip\n" {
		t.Fatalf("CurrentLineRaw appears to have consumed input: Read got %q", buf[:n])
	}
}

func TestEchoIsCalledPerCharacter(t *testing.T) {
	var echoed []byte
	l := New(32, func(b byte) { echoed = append(echoed, b) })
	feed(l, "hi\n")
	if string(echoed) != "hi\n" {
		t.Fatalf("echo received %q, want %q", echoed, "hi\n")
	}
}
