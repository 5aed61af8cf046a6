/* sys161go LAMEbus fabric.

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

package bus

import (
	"fmt"
	"log/slog"

	D "github.com/ops161/sys161go/internal/device"
)

// CPULine receives interrupt-line transitions from the aggregator.
// The CPU core implements this to re-evaluate its external-IRQ input
// without the bus needing to know about CPU internals.
type CPULine interface {
	SetLamebusIRQ(cpunum int, asserted bool)
}

// Bus is the LAMEbus fabric: a 32-slot address-decoded register space
// plus the raised/enabled IRQ aggregation into per-CPU lines. One Bus
// belongs to exactly one Machine.
type Bus struct {
	slots [numSlots]slot

	raised          uint32 // per-slot raised-IRQ bitmask
	globallyEnabled uint32 // per-slot global IRQ-enable bitmask

	perCPUEnabled [32]uint32 // per-CPU per-slot enable mask
	cpuLine       CPULine
	numCPUs       int
}

// New creates an empty bus fabric. globallyEnabled starts all-1s:
// every slot's IRQ line is enabled until a device or config masks it.
func New(cpuLine CPULine, numCPUs int) *Bus {
	b := &Bus{
		globallyEnabled: 0xffffffff,
		cpuLine:         cpuLine,
		numCPUs:         numCPUs,
	}
	for i := range b.perCPUEnabled {
		b.perCPUEnabled[i] = 0xffffffff
	}
	return b
}

// Attach binds dev to slotnum with the given identity. Returns an
// error if the slot is already occupied or out of range.
func (b *Bus) Attach(slotnum int, dev D.Device, id D.Identity) error {
	if slotnum < 0 || slotnum >= numSlots {
		return fmt.Errorf("bus: slot %d out of range", slotnum)
	}
	if b.slots[slotnum].occupied {
		return fmt.Errorf("bus: slot %d already occupied", slotnum)
	}
	b.slots[slotnum] = slot{dev: dev, identity: id, occupied: true}
	return nil
}

// Device returns the device bound to slotnum, or nil.
func (b *Bus) Device(slotnum int) D.Device {
	if slotnum < 0 || slotnum >= numSlots || !b.slots[slotnum].occupied {
		return nil
	}
	return b.slots[slotnum].dev
}

// Identity returns the vendor/device/revision triple for slotnum.
func (b *Bus) Identity(slotnum int) (D.Identity, bool) {
	if slotnum < 0 || slotnum >= numSlots || !b.slots[slotnum].occupied {
		return D.Identity{}, false
	}
	return b.slots[slotnum].identity, true
}

// decode splits a LAMEbus I/O-space physical address into a slot
// number and an offset within that slot's 64 KiB window.
func decode(addr uint32) (slotnum int, offset uint32, ok bool) {
	if addr < IOBase || addr >= IOLimit {
		return 0, 0, false
	}
	rel := addr - IOBase
	return int(rel >> slotShift), rel & slotMask, true
}

// Fetch dispatches a 32-bit-aligned read to the owning slot's device.
// ok is false to synthesize a bus error (unmapped slot or device
// refusal).
func (b *Bus) Fetch(cpunum int, addr uint32) (value uint32, ok bool) {
	slotnum, offset, within := decode(addr)
	if !within || !b.slots[slotnum].occupied {
		return 0, false
	}
	return b.slots[slotnum].dev.Fetch(cpunum, offset)
}

// Store dispatches a 32-bit-aligned write to the owning slot's device.
func (b *Bus) Store(cpunum int, addr uint32, value uint32) (ok bool) {
	slotnum, offset, within := decode(addr)
	if !within || !b.slots[slotnum].occupied {
		return false
	}
	return b.slots[slotnum].dev.Store(cpunum, offset, value)
}

// RaiseIRQ asserts the level-triggered interrupt line for slotnum and
// re-evaluates every CPU's external line.
func (b *Bus) RaiseIRQ(slotnum int) {
	b.raised |= 1 << uint(slotnum)
	b.reevaluate()
}

// LowerIRQ deasserts the interrupt line for slotnum.
func (b *Bus) LowerIRQ(slotnum int) {
	b.raised &^= 1 << uint(slotnum)
	b.reevaluate()
}

// SetGlobalEnable replaces the global per-slot IRQ-enable mask (the
// bus controller's IRQe register) and re-evaluates.
func (b *Bus) SetGlobalEnable(mask uint32) {
	b.globallyEnabled = mask
	b.reevaluate()
}

// GlobalEnable returns the current global IRQ-enable mask.
func (b *Bus) GlobalEnable() uint32 {
	return b.globallyEnabled
}

// Raised returns the current raised-IRQ mask (read-only controller
// register).
func (b *Bus) Raised() uint32 {
	return b.raised
}

// SetPerCPUEnable replaces cpu's per-slot enable mask and
// re-evaluates that CPU's line.
func (b *Bus) SetPerCPUEnable(cpunum int, mask uint32) {
	if cpunum < 0 || cpunum >= len(b.perCPUEnabled) {
		return
	}
	b.perCPUEnabled[cpunum] = mask
	b.reevaluateCPU(cpunum)
}

// PerCPUEnable returns cpu's current per-slot enable mask.
func (b *Bus) PerCPUEnable(cpunum int) uint32 {
	if cpunum < 0 || cpunum >= len(b.perCPUEnabled) {
		return 0
	}
	return b.perCPUEnabled[cpunum]
}

// reevaluate recomputes every CPU's external line after a raise,
// lower, or mask write.
func (b *Bus) reevaluate() {
	for c := 0; c < b.numCPUs; c++ {
		b.reevaluateCPU(c)
	}
}

func (b *Bus) reevaluateCPU(cpunum int) {
	if b.cpuLine == nil {
		return
	}
	mask := b.raised & b.globallyEnabled
	line := (mask & b.perCPUEnabled[cpunum]) != 0
	b.cpuLine.SetLamebusIRQ(cpunum, line)
}

// Dump logs one line per occupied slot for the debugger
// "devices" command.
func (b *Bus) Dump() {
	for i, s := range b.slots {
		if !s.occupied {
			continue
		}
		slog.Info("slot", "slot", i, "vendor", s.identity.Vendor,
			"device", s.identity.DeviceID, "rev", s.identity.Revision,
			"info", s.dev.Dump())
	}
}

// Cleanup calls every populated slot's Cleanup hook exactly once, in
// slot order, as part of orderly or crash shutdown.
func (b *Bus) Cleanup() {
	for i := range b.slots {
		if b.slots[i].occupied {
			b.slots[i].dev.Cleanup()
		}
	}
}
