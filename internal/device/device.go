/*
sys161go LAMEbus device interface

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
package device

import "fmt"

// Device is the uniform contract every LAMEbus slot owner implements.
// Fetch/Store operate on one aligned 32-bit register at a byte offset
// within the device's 64 KiB slot window.
type Device interface {
	// Fetch reads the register at offset. ok is false to synthesize a
	// bus error (unsupported/unmapped register).
	Fetch(cpunum int, offset uint32) (value uint32, ok bool)
	// Store writes value to the register at offset. ok is false to
	// synthesize a bus error.
	Store(cpunum int, offset uint32, value uint32) (ok bool)
	// Dump prints diagnostic device state (debugger "devices" command).
	Dump() string
	// Cleanup releases any host resources (files, sockets) held by the
	// device. Called exactly once, during orderly or crash shutdown.
	Cleanup()
}

// Debugger is implemented by devices that accept trace/debug flags.
type Debugger interface {
	Debug(flag string) error
}

// IRQRaiser lets devices assert/deassert their slot's level-triggered
// interrupt line through the bus aggregator that owns them.
type IRQRaiser interface {
	RaiseIRQ()
	LowerIRQ()
}

// Identity is the read-only vendor/device/revision triple exposed in
// the bus controller's config region for every populated slot.
type Identity struct {
	Vendor   uint32
	DeviceID uint32
	Revision uint32
}

// Number of fixed 64 KiB LAMEbus I/O slots, and the slot reserved for
// the bus controller (mainboard).
const (
	NumSlots       = 32
	ControllerSlot = 31
	SlotWindow     = 64 * 1024
)

// ErrUnsupported is returned by a device's init/config path when an
// unsupported register or argument is referenced; never returned from
// Fetch/Store, which signal the same condition via ok=false.
var ErrUnsupported = fmt.Errorf("unsupported device operation")
