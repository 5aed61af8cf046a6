/*
   LAMEbus trace-control device: a software-facing knob panel for
   toggling hardware trace flags, dumping machine state, and dropping
   into the debugger, all driven from guest code.

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

package trace

import (
	"log/slog"
)

// Register offsets (ops-class/sys161 bus/dev_trace.c TRACEREG_*).
const (
	regOn     = 0x00
	regOff    = 0x04
	regPrint  = 0x08
	regDump   = 0x0c
	regStop   = 0x10
	regProfEn = 0x14
	regProfCl = 0x18
)

// Hooks lets main.go wire the trace device to the actual trace-flag
// set, profiler, and debugger without this package importing any of
// them directly.
type Hooks struct {
	AdjustFlag  func(code uint32, enable bool) bool // returns false on an invalid code
	DumpState   func()
	EnterDebug  func()
	ProfEnable  func(bool)
	ProfClear   func()
	ProfEnabled func() bool
}

// Trace is the LAMEbus trace-control device.
type Trace struct {
	hooks Hooks
}

// New creates a trace-control device. Any nil Hooks field is treated
// as a no-op, so a machine can attach this device before every
// subsystem it controls exists yet.
func New(hooks Hooks) *Trace {
	return &Trace{hooks: hooks}
}

// Fetch implements device.Device.
func (t *Trace) Fetch(cpunum int, offset uint32) (uint32, bool) {
	if offset != regProfEn {
		return 0, false
	}
	if t.hooks.ProfEnabled != nil && t.hooks.ProfEnabled() {
		return 1, true
	}
	return 0, true
}

// Store implements device.Device.
func (t *Trace) Store(cpunum int, offset uint32, value uint32) bool {
	switch offset {
	case regOn:
		if t.hooks.AdjustFlag != nil {
			return t.hooks.AdjustFlag(value, true)
		}
		return true
	case regOff:
		if t.hooks.AdjustFlag != nil {
			return t.hooks.AdjustFlag(value, false)
		}
		return true
	case regPrint:
		slog.Info("trace", "code", value)
		return true
	case regDump:
		slog.Info("trace: dump", "code", value)
		if t.hooks.DumpState != nil {
			t.hooks.DumpState()
		}
		return true
	case regStop:
		slog.Info("trace: software-requested debugger stop")
		if t.hooks.EnterDebug != nil {
			t.hooks.EnterDebug()
		}
		return true
	case regProfEn:
		if t.hooks.ProfEnable != nil {
			t.hooks.ProfEnable(value != 0)
		}
		return true
	case regProfCl:
		if t.hooks.ProfClear != nil {
			t.hooks.ProfClear()
		}
		return true
	}
	return false
}

// Dump implements device.Device.
func (t *Trace) Dump() string {
	return "trace: control device"
}

// Cleanup implements device.Device.
func (t *Trace) Cleanup() {}
