package bus

/*
 * sys161go - LAMEbus address map and slot definitions
 *
 * Copyright 2024, Richard Cornwell
 * Copyright 2026, sys161go contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

import D "github.com/ops161/sys161go/internal/device"

const (
	// Physical address map.
	RAMLowBase  uint32 = 0x00000000
	RAMLowLimit uint32 = 0x1fc00000 // exclusive
	ROMBase     uint32 = 0x1fc00000
	ROMLimit    uint32 = 0x1fe00000 // exclusive
	IOBase      uint32 = 0x1fe00000
	IOLimit     uint32 = 0x20000000 // exclusive
	RAMHighBase uint32 = 0x20000000
	// Above RAMHighBase, RAM continues to the top of the address space.

	numSlots   = D.NumSlots
	slotWindow = D.SlotWindow // 64 KiB per slot
	slotShift  = 16           // log2(slotWindow)
	slotMask   = slotWindow - 1

	// ControllerSlot is the fixed slot occupied by the bus controller
	// ("mainboard"/"oldmainboard").
	ControllerSlot = D.ControllerSlot
)

// slot holds one populated LAMEbus I/O window.
type slot struct {
	dev      D.Device
	identity D.Identity
	occupied bool
}
