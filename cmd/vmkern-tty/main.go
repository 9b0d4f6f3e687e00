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

// Binary vmkern-tty drives the line discipline from a real terminal: it
// puts the controlling tty into raw mode, feeds every keystroke through
// ldisc.KeyPressed one byte at a time, and forwards completed cooked
// lines through a pseudo-terminal pair so a consumer decoupled from the
// physical terminal can read them.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kr/pty"
	"golang.org/x/term"

	"github.com/vmkern-project/vmkern/internal/kconfig"
	"github.com/vmkern-project/vmkern/internal/ldisc"
)

func main() {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "vmkern-tty requires a real terminal on stdin")
		os.Exit(1)
	}

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "raw mode: %v\n", err)
		os.Exit(1)
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	ptmx, tty, err := pty.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pty open: %v\n", err)
		return
	}
	defer ptmx.Close()
	defer tty.Close()

	tunables := kconfig.Default()
	ld := ldisc.New(tunables.LdiscBufferSize, func(b byte) {
		os.Stdout.Write([]byte{b})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil || n == 0 {
				cancel()
				return
			}
			ld.KeyPressed(buf[0])
		}
	}()

	fmt.Fprint(os.Stdout, "\r\ntype lines, ctrl-D or \"exit\" to quit\r\n")

	line := make([]byte, tunables.LdiscBufferSize)
	for {
		if err := ld.WaitRead(ctx); err != nil {
			fmt.Fprint(os.Stdout, "\r\ninterrupted\r\n")
			return
		}
		n := ld.Read(line)
		text := strings.TrimRight(string(line[:n]), "\n")

		if _, werr := ptmx.Write(line[:n]); werr != nil {
			fmt.Fprintf(os.Stdout, "\r\nforward to pty failed: %v\r\n", werr)
		}

		if n == 0 {
			fmt.Fprint(os.Stdout, "\r\n(end of input)\r\n")
			return
		}
		fmt.Fprintf(os.Stdout, "\r\ncooked line: %q\r\n", text)
		if text == "exit" {
			return
		}
	}
}
