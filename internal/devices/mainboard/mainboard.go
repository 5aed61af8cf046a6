/*
   LAMEbus bus-controller device ("mainboard"/"oldmainboard"): slot 31.
   RAM-size/IRQ-aggregation/CPU-enable registers, per-CPU private
   regions, and the orderly power-off protocol.

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

package mainboard

import (
	"fmt"

	"github.com/ops161/sys161go/internal/bus"
	"github.com/ops161/sys161go/internal/cpu"
	D "github.com/ops161/sys161go/internal/device"
	"github.com/ops161/sys161go/internal/event"
)

// Controller register offsets within the slot-31 window (ops-class/sys161
// bus/lamebus.c LBC_CTL_*).
const (
	regRAMSize = 0x200
	regIRQS    = 0x204
	regPower   = 0x208
	regIRQE    = 0x20c
	regCPUS    = 0x210
	regCPUE    = 0x214
	regSelf    = 0x218
)

// Per-CPU private region layout. The original lamebus.c packs these
// into 1 KiB sub-regions of a 32 KiB config-mirroring block; that
// byte-exact nesting isn't guest-visible ABI this emulator needs to
// match, so the per-CPU regions here are laid out as flat,
// easier-to-read stride-0x100 blocks starting above the controller
// registers.
const (
	perCPUBase    = 0x1000
	perCPUStride  = 0x100
	offCIRQE      = 0x0
	offCIPI       = 0x4
	offCRAMStart  = 0x80
	cramSize      = 128
	offCRAMEnd    = offCRAMStart + cramSize

	// kseg1Base duplicates internal/cpu's unexported segment constant;
	// mainboard needs it to compute the guest-visible virtual address
	// of a secondary CPU's CRAM for the initial stack pointer, and
	// importing internal/cpu for one constant isn't worth a coupling
	// the cpu package otherwise has no reason to expose.
	kseg1Base = 0xa0000000

	// poweroffDelayNs is the fixed 5ms virtual-time delay between the
	// guest's power-register write and actual shutoff.
	poweroffDelayNs = 5_000_000
)

// Mainboard is the bus controller device occupying slot 31.
type Mainboard struct {
	bus     *bus.Bus
	cpus    []*cpu.CPU
	sched   *event.Scheduler
	onPower func()

	ramSize uint32
	enabled uint32 // CPUE: bit i set iff cpus[i] is enabled

	cram [D.NumSlots][cramSize]byte

	poweroffGen uint32
}

// New creates the controller. ramSize is reported via the RAMSIZE
// register; cpus is the full per-machine CPU array (cpus[0] is booted
// enabled, the rest start Disabled until the guest writes CPUE).
// onPower is called once shutoff actually takes effect, 5ms of virtual
// time after the guest writes 0 to the power register.
func New(ramSize uint32, cpus []*cpu.CPU, sched *event.Scheduler, b *bus.Bus, onPower func()) *Mainboard {
	m := &Mainboard{
		bus:     b,
		cpus:    cpus,
		sched:   sched,
		onPower: onPower,
		ramSize: ramSize,
	}
	if len(cpus) > 0 {
		m.enabled = 1
	}
	for i, c := range cpus {
		if i == 0 {
			continue
		}
		c.Disable()
	}
	return m
}

// Fetch implements device.Device.
func (m *Mainboard) Fetch(cpunum int, offset uint32) (uint32, bool) {
	switch offset {
	case regRAMSize:
		return m.ramSize, true
	case regIRQS:
		return m.bus.Raised(), true
	case regPower:
		// Real hardware hangs the CPU on a read of POWER; we have
		// nothing sensible to return, so just refuse the access.
		return 0, false
	case regIRQE:
		return m.bus.GlobalEnable(), true
	case regCPUS:
		return m.presentMask(), true
	case regCPUE:
		return m.enabled, true
	case regSelf:
		return uint32(cpunum), true
	}
	if region, regionOffset, ok := m.perCPURegion(offset); ok {
		return m.fetchPerCPU(region, regionOffset)
	}
	return 0, false
}

// Store implements device.Device.
func (m *Mainboard) Store(cpunum int, offset uint32, value uint32) bool {
	switch offset {
	case regPower:
		if value != 0 {
			return false
		}
		m.poweroffGen++
		gen := m.poweroffGen
		m.sched.Schedule(poweroffDelayNs, nil, gen, m.firePoweroff, "poweroff")
		return true
	case regIRQE:
		m.bus.SetGlobalEnable(value)
		return true
	case regCPUE:
		m.setCPUE(value)
		return true
	case regRAMSize, regIRQS, regCPUS, regSelf:
		return false // read-only
	}
	if region, regionOffset, ok := m.perCPURegion(offset); ok {
		return m.storePerCPU(region, regionOffset, value)
	}
	return false
}

// firePoweroff is the scheduled callback 5ms after the power register
// write: it raises the controller's own IRQ, purely to break any idle
// CPU out of wait_for_external so the main loop notices the shutoff
// flag on its next iteration, then requests the flag itself.
func (m *Mainboard) firePoweroff(data any, gen uint32) {
	if gen != m.poweroffGen {
		return // superseded by a later power-register write
	}
	m.bus.RaiseIRQ(D.ControllerSlot)
	if m.onPower != nil {
		m.onPower()
	}
}

func (m *Mainboard) presentMask() uint32 {
	var mask uint32
	for i := range m.cpus {
		mask |= 1 << uint(i)
	}
	return mask
}

// setCPUE applies a new CPUE mask: bits going 0->1 boot that CPU from
// its CRAM entry point and stack, matching the original's
// "just drop it in its tracks" on disable and "set stack/PC from CRAM"
// on enable.
func (m *Mainboard) setCPUE(value uint32) {
	for i, c := range m.cpus {
		wasOn := m.enabled&(1<<uint(i)) != 0
		isOn := value&(1<<uint(i)) != 0
		switch {
		case wasOn && !isOn:
			c.Disable()
		case !wasOn && isOn:
			pc := beUint32(m.cram[i][0:4])
			arg := beUint32(m.cram[i][4:8])
			sp := m.cramEndVaddr(i)
			c.SetEntry(pc, sp, arg)
			c.Enable()
		}
	}
	m.enabled = value
}

// cramEndVaddr computes the kseg1 (uncached) virtual address of CPU
// i's CRAM end, used as its initial stack pointer: the kernel's
// secondary-CPU trampoline only needs a valid-looking pointer long
// enough to push a handful of words before switching to a real stack.
func (m *Mainboard) cramEndVaddr(i int) uint32 {
	phys := bus.IOBase + uint32(D.ControllerSlot)*D.SlotWindow + perCPUBase + uint32(i)*perCPUStride + offCRAMEnd
	return phys + kseg1Base
}

func (m *Mainboard) perCPURegion(offset uint32) (region int, regionOffset uint32, ok bool) {
	if offset < perCPUBase {
		return 0, 0, false
	}
	rel := offset - perCPUBase
	region = int(rel / perCPUStride)
	regionOffset = rel % perCPUStride
	if region < 0 || region >= len(m.cpus) {
		return 0, 0, false
	}
	return region, regionOffset, true
}

func (m *Mainboard) fetchPerCPU(region int, offset uint32) (uint32, bool) {
	switch {
	case offset == offCIRQE:
		return m.bus.PerCPUEnable(region), true
	case offset == offCIPI:
		return 0, true // write-only trigger; reads as 0
	case offset >= offCRAMStart && offset < offCRAMEnd:
		i := offset - offCRAMStart
		if i+4 > cramSize {
			return 0, false
		}
		return beUint32(m.cram[region][i : i+4]), true
	}
	return 0, false
}

func (m *Mainboard) storePerCPU(region int, offset uint32, value uint32) bool {
	switch {
	case offset == offCIRQE:
		m.bus.SetPerCPUEnable(region, value)
		return true
	case offset == offCIPI:
		if region < len(m.cpus) {
			m.cpus[region].RaiseIPI(value != 0)
		}
		return true
	case offset >= offCRAMStart && offset < offCRAMEnd:
		i := offset - offCRAMStart
		if i+4 > cramSize {
			return false
		}
		putBeUint32(m.cram[region][i:i+4], value)
		return true
	}
	return false
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBeUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// Dump implements device.Device.
func (m *Mainboard) Dump() string {
	return fmt.Sprintf("mainboard: ramsize=%d irqe=%#x cpue=%#x", m.ramSize, m.bus.GlobalEnable(), m.enabled)
}

// Cleanup implements device.Device. The controller holds no host
// resources.
func (m *Mainboard) Cleanup() {}
