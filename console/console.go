/*
   Host console I/O: stdin/stdout passthrough for the simulated
   serial console, with raw-mode tty handling and a ^G escape to
   the debugger (main/console.c).

   Copyright (c) 2024, Richard Cornwell
   Copyright (c) 2026, sys161go contributors

   Permission is hereby granted, free of charge, to any person obtaining a
   copy of this software and associated documentation files (the "Software"),
   to deal in the Software without restriction, including without limitation
   the rights to use, copy, modify, merge, publish, distribute, sublicense,
   and/or sell copies of the Software, and to permit persons to whom the
   Software is furnished to do so, subject to the following conditions:

   The above copyright notice and this permission notice shall be included in
   all copies or substantial portions of the Software.

   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

// Package console wires the emulated serial console to the outside
// world: either the host's own stdin/stdout (raw-mode passthrough,
// the normal case) or a TCP listener speaking a trimmed Telnet NVT
// (for a remote terminal). Both paths feed input bytes to a Target,
// which has no output side.
package console

import (
	"io"
	"os"

	"golang.org/x/term"
)

// Target is the serial device surface a console drives. PushInput
// feeds one host-typed byte to the guest; Break is invoked on the
// ^G escape and is expected to stop cycling and enter the debugger
// (console_sel's '\a' case in the original).
type Target struct {
	PushInput func(byte)
	Break     func()
}

// escapeChar is BEL (^G), the original's "drop to the debugger" key.
const escapeChar = 0x07

// Stdio is a raw-mode passthrough between the host terminal and the
// guest's serial console.
type Stdio struct {
	target      Target
	passSignals bool
	in          *os.File
	out         io.Writer
	rawState    *term.State
}

// NewStdio creates a console bound to the host's stdin/stdout.
// passSignals mirrors the "-s" flag: when false (the default) the
// host tty is put in raw mode so ^C/^Z reach the guest as ordinary
// input bytes instead of signaling this process (tty_get_tios's
// ISIG clearing, gated by stdin_generates_signals).
func NewStdio(target Target, passSignals bool) *Stdio {
	return &Stdio{target: target, passSignals: passSignals, in: os.Stdin, out: os.Stdout}
}

// Start puts the terminal in raw mode (unless passSignals) and
// begins relaying stdin to the target. It returns immediately; the
// relay runs on its own goroutine until stdin hits EOF.
func (c *Stdio) Start() error {
	fd := int(c.in.Fd())
	if !c.passSignals && term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		c.rawState = state
	}
	go c.readLoop()
	return nil
}

// Stop restores the host terminal's original mode, if it was
// changed (tty_deactivate).
func (c *Stdio) Stop() {
	if c.rawState != nil {
		_ = term.Restore(int(c.in.Fd()), c.rawState)
		c.rawState = nil
	}
}

func (c *Stdio) readLoop() {
	buf := make([]byte, 1)
	for {
		n, err := c.in.Read(buf)
		if n > 0 {
			c.deliver(buf[0])
		}
		if err != nil {
			return
		}
	}
}

func (c *Stdio) deliver(ch byte) {
	if ch == escapeChar && c.target.Break != nil {
		c.target.Break()
		return
	}
	c.target.PushInput(ch)
}

// Output writes one guest-emitted character to the host (console_putc).
func (c *Stdio) Output(ch byte) {
	_, _ = c.out.Write([]byte{ch})
}
