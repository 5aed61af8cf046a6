/*
   MIPS-I system coprocessor (CP0) instructions: MFC0/MTC0, the
   software-managed TLB (TLBR/TLBWI/TLBWR/TLBP), and RFE.

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

package cpu

// rs-field encodings under opCOP0.
const (
	cop0MF  = 0x00 // MFC0
	cop0MT  = 0x04 // MTC0
	cop0CO  = 0x10 // rs==0b10000: funct selects a TLB/privileged op
)

// funct codes under cop0CO.
const (
	coTLBR = 0x01
	coTLBWI = 0x02
	coTLBWR = 0x06
	coTLBP  = 0x08
	coRFE   = 0x10
	coWAIT  = 0x20
)

// execCop0 dispatches the coprocessor-0 instruction space. Every
// privileged operation here traps with excCpU when attempted from
// user mode, matching real MIPS-I coprocessor-unusable semantics.
func (c *CPU) execCop0(step *stepInfo) *exception {
	if c.InUserMode() {
		return newExc(excCpU)
	}
	switch step.rs {
	case cop0MF:
		c.setReg(step.rt, int32(c.readCP0(step.rd)))
		return nil
	case cop0MT:
		c.writeCP0(step.rd, uint32(c.reg(step.rt)))
		return nil
	case cop0CO:
		return c.execCop0Privileged(step)
	default:
		return newExc(excRI)
	}
}

func (c *CPU) execCop0Privileged(step *stepInfo) *exception {
	switch step.funct {
	case coTLBR:
		c.tlbRead()
	case coTLBWI:
		c.tlbWrite(c.index)
	case coTLBWR:
		c.tlbWrite(c.tlbRandom)
		c.tlbRandom--
		if c.tlbRandom == 0 {
			c.tlbRandom = NumTLBEntries - 1
		}
	case coTLBP:
		c.tlbProbe()
	case coRFE:
		c.rfe()
	case coWAIT:
		c.state = Idle
	default:
		return newExc(excRI)
	}
	return nil
}

// readCP0 returns a CP0 register's current value for MFC0.
func (c *CPU) readCP0(n uint32) uint32 {
	switch n {
	case cp0Index:
		return c.index
	case cp0Random:
		return c.tlbRandom
	case cp0EntryLo:
		return c.entryLo
	case cp0Context:
		return c.context
	case cp0VAddr:
		return c.vaddr
	case cp0Count:
		return c.count
	case cp0EntryHi:
		return c.entryHi
	case cp0Compare:
		return c.compare
	case cp0Status:
		return c.status
	case cp0Cause:
		return c.cause
	case cp0EPC:
		return c.epc
	case cp0PRId:
		return c.prid
	case cp0Config0:
		return c.config0
	case cp0Config1:
		return c.config1
	default:
		return 0
	}
}

// writeCP0 installs a value written by MTC0. Writes to read-only
// registers (PRId, Random) and to Config0's kseg0 coherence field
// (bits 2:0) are silently ignored, matching hardware.
func (c *CPU) writeCP0(n uint32, v uint32) {
	switch n {
	case cp0Index:
		c.index = v & (NumTLBEntries - 1)
	case cp0EntryLo:
		c.entryLo = v
	case cp0Context:
		c.context = v
	case cp0VAddr:
		c.vaddr = v
	case cp0Count:
		c.count = v
	case cp0EntryHi:
		c.entryHi = v
		c.invalidatePageCache()
	case cp0Compare:
		c.compare = v
		c.cause &^= (1 << (causeIPshift + 4)) // clear the synthetic timer IP bit
	case cp0Status:
		c.status = v
		c.invalidatePageCache()
	case cp0Cause:
		// Only the software-interrupt bits (IP0/IP1) are writable.
		c.cause = (c.cause &^ (0x3 << causeIPshift)) | (v & (0x3 << causeIPshift))
	case cp0Config0:
		c.config0 = (c.config0 & 0x7) | (v &^ 0x7)
	}
}

// tlbRead loads EntryHi/EntryLo from the TLB entry named by Index
// (TLBR).
func (c *CPU) tlbRead() {
	e := c.tlb[c.index&(NumTLBEntries-1)]
	c.entryHi = (e.VPN << PageShift) | uint32(e.ASID)
	lo := e.PFN << PageShift
	if e.Valid {
		lo |= 1 << 1
	}
	if e.Dirty {
		lo |= 1 << 2
	}
	if e.Global {
		lo |= 1 << 0
	}
	c.entryLo = lo
}

// tlbWrite installs EntryHi/EntryLo into TLB slot idx (TLBWI/TLBWR).
// Two translations for the same virtual page that could ever both
// match at once (either is global, or their ASIDs agree) is a guest
// bug whether or not either entry is marked valid; it is a guest bug real hardware can't represent; it hangs rather than
// silently preferring one.
func (c *CPU) tlbWrite(idx uint32) {
	idx &= NumTLBEntries - 1
	vpn := c.entryHi >> PageShift
	asid := uint8(c.entryHi & 0xff)
	global := c.entryLo&(1<<0) != 0

	c.tlb[idx] = TLBEntry{
		VPN:    vpn,
		ASID:   asid,
		Global: global,
		PFN:    (c.entryLo >> PageShift) & 0xfffff,
		Valid:  c.entryLo&(1<<1) != 0,
		Dirty:  c.entryLo&(1<<2) != 0,
	}
	c.invalidatePageCache()

	for i := range c.tlb {
		if uint32(i) == idx {
			continue
		}
		e := &c.tlb[i]
		if e.VPN == vpn && (global || e.Global || e.ASID == asid) {
			hang("duplicate TLB entries for vpage %#x", vpn)
			return
		}
	}
}

// tlbProbe searches for an entry matching EntryHi (TLBP), setting
// Index to its slot or the sign bit if no match was found.
func (c *CPU) tlbProbe() {
	vpn := c.entryHi >> PageShift
	asid := uint8(c.entryHi & 0xff)
	for i := range c.tlb {
		e := &c.tlb[i]
		if e.VPN == vpn && (e.Global || e.ASID == asid) {
			c.index = uint32(i)
			return
		}
	}
	c.index = 1 << 31
}

// rfe pops the three-level KU/IE stack, restoring the mode and
// interrupt-enable state that was active before the last exception.
func (c *CPU) rfe() {
	ku := c.status & (statusKUp | statusIEp | statusKUo | statusIEo)
	c.status = (c.status &^ (statusKUc | statusIEc | statusKUp | statusIEp)) | (ku >> 2)
	c.llActive = false
	c.invalidatePageCache()
}
