/* MIPS-I standard (integer ALU, branch, load/store) instruction execution

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

// Primary opcodes.
const (
	opSPECIAL = 0x00
	opREGIMM  = 0x01
	opJ       = 0x02
	opJAL     = 0x03
	opBEQ     = 0x04
	opBNE     = 0x05
	opBLEZ    = 0x06
	opBGTZ    = 0x07
	opADDI    = 0x08
	opADDIU   = 0x09
	opSLTI    = 0x0a
	opSLTIU   = 0x0b
	opANDI    = 0x0c
	opORI     = 0x0d
	opXORI    = 0x0e
	opLUI     = 0x0f
	opCOP0    = 0x10
	opLB      = 0x20
	opLH      = 0x21
	opLWL     = 0x22
	opLW      = 0x23
	opLBU     = 0x24
	opLHU     = 0x25
	opLWR     = 0x26
	opSB      = 0x28
	opSH      = 0x29
	opSWL     = 0x2a
	opSW      = 0x2b
	opSWR     = 0x2e
	opLL      = 0x30
	opSC      = 0x38
)

// SPECIAL function codes.
const (
	fnSLL     = 0x00
	fnSRL     = 0x02
	fnSRA     = 0x03
	fnSLLV    = 0x04
	fnSRLV    = 0x06
	fnSRAV    = 0x07
	fnJR      = 0x08
	fnJALR    = 0x09
	fnSYSCALL = 0x0c
	fnBREAK   = 0x0d
	fnSYNC    = 0x0f
	fnMFHI    = 0x10
	fnMTHI    = 0x11
	fnMFLO    = 0x12
	fnMTLO    = 0x13
	fnMULT    = 0x18
	fnMULTU   = 0x19
	fnDIV     = 0x1a
	fnDIVU    = 0x1b
	fnADD     = 0x20
	fnADDU    = 0x21
	fnSUB     = 0x22
	fnSUBU    = 0x23
	fnAND     = 0x24
	fnOR      = 0x25
	fnXOR     = 0x26
	fnNOR     = 0x27
	fnSLT     = 0x2a
	fnSLTU    = 0x2b
)

// REGIMM rt codes.
const (
	riBLTZ   = 0x00
	riBGEZ   = 0x01
	riBLTZAL = 0x10
	riBGEZAL = 0x11
)

// mulDivLatency is the number of cycles hiBusy/loBusy count down after
// MULT/DIV starts. MFHI/MFLO do not consult those counters, so hi/lo
// read back the new result on the very next instruction.
const mulDivLatency = 1

// reg reads general register n; r0 is hardwired to zero.
func (c *CPU) reg(n uint32) int32 {
	return c.regs[n]
}

// setReg writes general register n, silently discarding writes to r0.
func (c *CPU) setReg(n uint32, v int32) {
	if n != 0 {
		c.regs[n] = v
	}
}

// execute dispatches one decoded instruction to its handler and
// returns the exception it raised, if any. Branch/jump handlers that
// resolve taken set c.branchTaken/c.branchTarget instead of touching
// c.pc directly; Step() applies the delay-slot semantics.
func (c *CPU) execute(step *stepInfo) *exception {
	switch step.opcode {
	case opSPECIAL:
		return c.execSpecial(step)
	case opREGIMM:
		return c.execRegimm(step)
	case opJ:
		c.setBranch(((c.pc + 4) & 0xf0000000) | (step.target << 2))
		return nil
	case opJAL:
		c.setReg(31, int32(c.pc+8))
		c.setBranch(((c.pc + 4) & 0xf0000000) | (step.target << 2))
		return nil
	case opBEQ:
		c.branchIf(step, c.reg(step.rs) == c.reg(step.rt))
		return nil
	case opBNE:
		c.branchIf(step, c.reg(step.rs) != c.reg(step.rt))
		return nil
	case opBLEZ:
		c.branchIf(step, c.reg(step.rs) <= 0)
		return nil
	case opBGTZ:
		c.branchIf(step, c.reg(step.rs) > 0)
		return nil
	case opADDI:
		sum := c.reg(step.rs) + step.simm16
		if overflowAdd(c.reg(step.rs), step.simm16, sum) {
			return newExc(excOv)
		}
		c.setReg(step.rt, sum)
		return nil
	case opADDIU:
		c.setReg(step.rt, c.reg(step.rs)+step.simm16)
		return nil
	case opSLTI:
		c.setReg(step.rt, boolToInt32(c.reg(step.rs) < step.simm16))
		return nil
	case opSLTIU:
		c.setReg(step.rt, boolToInt32(uint32(c.reg(step.rs)) < uint32(step.simm16)))
		return nil
	case opANDI:
		c.setReg(step.rt, c.reg(step.rs)&int32(step.imm16))
		return nil
	case opORI:
		c.setReg(step.rt, c.reg(step.rs)|int32(step.imm16))
		return nil
	case opXORI:
		c.setReg(step.rt, c.reg(step.rs)^int32(step.imm16))
		return nil
	case opLUI:
		c.setReg(step.rt, int32(step.imm16<<16))
		return nil
	case opCOP0:
		return c.execCop0(step)
	case opLB:
		v, exc := c.loadByte(c.effAddr(step))
		if exc != nil {
			return exc
		}
		c.setReg(step.rt, int32(int8(v)))
		return nil
	case opLBU:
		v, exc := c.loadByte(c.effAddr(step))
		if exc != nil {
			return exc
		}
		c.setReg(step.rt, int32(v))
		return nil
	case opLH:
		v, exc := c.loadHalf(c.effAddr(step))
		if exc != nil {
			return exc
		}
		c.setReg(step.rt, int32(int16(v)))
		return nil
	case opLHU:
		v, exc := c.loadHalf(c.effAddr(step))
		if exc != nil {
			return exc
		}
		c.setReg(step.rt, int32(v))
		return nil
	case opLW:
		v, exc := c.loadWord(c.effAddr(step))
		if exc != nil {
			return exc
		}
		c.setReg(step.rt, int32(v))
		return nil
	case opLWL:
		return c.execLWL(step)
	case opLWR:
		return c.execLWR(step)
	case opSB:
		return c.storeByte(c.effAddr(step), uint8(c.reg(step.rt)))
	case opSH:
		return c.storeHalf(c.effAddr(step), uint16(c.reg(step.rt)))
	case opSW:
		return c.storeWord(c.effAddr(step), uint32(c.reg(step.rt)))
	case opSWL:
		return c.execSWL(step)
	case opSWR:
		return c.execSWR(step)
	case opLL:
		return c.execLL(step)
	case opSC:
		return c.execSC(step)
	default:
		return newExc(excRI)
	}
}

func (c *CPU) effAddr(step *stepInfo) uint32 {
	return uint32(c.reg(step.rs) + step.simm16)
}

// setBranch records a taken unconditional jump's target for the
// following delay slot.
func (c *CPU) setBranch(target uint32) {
	c.branchTaken = true
	c.branchTarget = target
}

// branchIf records a conditional branch's target (PC-relative to the
// delay slot, per MIPS convention: base is the branch's own address+4).
func (c *CPU) branchIf(step *stepInfo, taken bool) {
	if !taken {
		return
	}
	c.setBranch(c.pc + 4 + uint32(step.simm16<<2))
}

func (c *CPU) execSpecial(step *stepInfo) *exception {
	switch step.funct {
	case fnSLL:
		c.setReg(step.rd, c.reg(step.rt)<<step.shamt)
	case fnSRL:
		c.setReg(step.rd, int32(uint32(c.reg(step.rt))>>step.shamt))
	case fnSRA:
		c.setReg(step.rd, c.reg(step.rt)>>step.shamt)
	case fnSLLV:
		c.setReg(step.rd, c.reg(step.rt)<<(uint32(c.reg(step.rs))&0x1f))
	case fnSRLV:
		c.setReg(step.rd, int32(uint32(c.reg(step.rt))>>(uint32(c.reg(step.rs))&0x1f)))
	case fnSRAV:
		c.setReg(step.rd, c.reg(step.rt)>>(uint32(c.reg(step.rs))&0x1f))
	case fnJR:
		c.setBranch(uint32(c.reg(step.rs)))
	case fnJALR:
		dest := uint32(c.reg(step.rs))
		c.setReg(step.rd, int32(c.pc+8))
		c.setBranch(dest)
	case fnSYSCALL:
		return newExc(excSys)
	case fnBREAK:
		// A BREAK the monitor can resolve symbolically (kseg0/kseg2) is
		// intercepted non-invasively in Step before execute ever runs
		// this case; reaching here means the guest must field it itself.
		return newExc(excBp)
	case fnSYNC:
		// No-op: this emulator has no weak memory ordering to fence.
	case fnMFHI:
		c.setReg(step.rd, c.hi)
	case fnMTHI:
		c.hi = c.reg(step.rs)
	case fnMFLO:
		c.setReg(step.rd, c.lo)
	case fnMTLO:
		c.lo = c.reg(step.rs)
	case fnMULT:
		prod := int64(c.reg(step.rs)) * int64(c.reg(step.rt))
		c.lo = int32(uint32(prod))
		c.hi = int32(uint32(prod >> 32))
		c.hiBusy, c.loBusy = mulDivLatency, mulDivLatency
	case fnMULTU:
		prod := uint64(uint32(c.reg(step.rs))) * uint64(uint32(c.reg(step.rt)))
		c.lo = int32(uint32(prod))
		c.hi = int32(uint32(prod >> 32))
		c.hiBusy, c.loBusy = mulDivLatency, mulDivLatency
	case fnDIV:
		n, d := c.reg(step.rs), c.reg(step.rt)
		if d == 0 {
			// MIPS-I leaves hi/lo architecturally undefined on
			// divide-by-zero rather than trapping; sys161 software
			// never relies on the result.
			c.lo, c.hi = 0, 0
		} else {
			c.lo = n / d
			c.hi = n % d
		}
		c.hiBusy, c.loBusy = mulDivLatency, mulDivLatency
	case fnDIVU:
		n, d := uint32(c.reg(step.rs)), uint32(c.reg(step.rt))
		if d == 0 {
			c.lo, c.hi = 0, 0
		} else {
			c.lo = int32(n / d)
			c.hi = int32(n % d)
		}
		c.hiBusy, c.loBusy = mulDivLatency, mulDivLatency
	case fnADD:
		sum := c.reg(step.rs) + c.reg(step.rt)
		if overflowAdd(c.reg(step.rs), c.reg(step.rt), sum) {
			return newExc(excOv)
		}
		c.setReg(step.rd, sum)
	case fnADDU:
		c.setReg(step.rd, c.reg(step.rs)+c.reg(step.rt))
	case fnSUB:
		diff := c.reg(step.rs) - c.reg(step.rt)
		if overflowSub(c.reg(step.rs), c.reg(step.rt), diff) {
			return newExc(excOv)
		}
		c.setReg(step.rd, diff)
	case fnSUBU:
		c.setReg(step.rd, c.reg(step.rs)-c.reg(step.rt))
	case fnAND:
		c.setReg(step.rd, c.reg(step.rs)&c.reg(step.rt))
	case fnOR:
		c.setReg(step.rd, c.reg(step.rs)|c.reg(step.rt))
	case fnXOR:
		c.setReg(step.rd, c.reg(step.rs)^c.reg(step.rt))
	case fnNOR:
		c.setReg(step.rd, ^(c.reg(step.rs) | c.reg(step.rt)))
	case fnSLT:
		c.setReg(step.rd, boolToInt32(c.reg(step.rs) < c.reg(step.rt)))
	case fnSLTU:
		c.setReg(step.rd, boolToInt32(uint32(c.reg(step.rs)) < uint32(c.reg(step.rt))))
	default:
		return newExc(excRI)
	}
	return nil
}

func (c *CPU) execRegimm(step *stepInfo) *exception {
	switch step.rt {
	case riBLTZ:
		c.branchIf(step, c.reg(step.rs) < 0)
	case riBGEZ:
		c.branchIf(step, c.reg(step.rs) >= 0)
	case riBLTZAL:
		c.setReg(31, int32(c.pc+8))
		c.branchIf(step, c.reg(step.rs) < 0)
	case riBGEZAL:
		c.setReg(31, int32(c.pc+8))
		c.branchIf(step, c.reg(step.rs) >= 0)
	default:
		return newExc(excRI)
	}
	return nil
}

// execLWL/execLWR implement the unaligned-word load pair: LWL merges
// the high-order bytes of a word straddling vaddr into rt, LWR the
// low-order bytes, exactly as the real instructions define regardless
// of host byte order (this machine is always big-endian).
func (c *CPU) execLWL(step *stepInfo) *exception {
	vaddr := c.effAddr(step)
	base := vaddr &^ 3
	word, exc := c.loadWord(base)
	if exc != nil {
		return exc
	}
	shift := 8 * (vaddr & 3)
	mask := uint32(0xffffffff) << shift
	old := uint32(c.reg(step.rt))
	merged := (old &^ mask) | (word << shift)
	c.setReg(step.rt, int32(merged))
	return nil
}

func (c *CPU) execLWR(step *stepInfo) *exception {
	vaddr := c.effAddr(step)
	base := vaddr &^ 3
	word, exc := c.loadWord(base)
	if exc != nil {
		return exc
	}
	shift := 8 * (3 - (vaddr & 3))
	mask := uint32(0xffffffff) >> shift
	old := uint32(c.reg(step.rt))
	merged := (old &^ mask) | (word >> shift)
	c.setReg(step.rt, int32(merged))
	return nil
}

func (c *CPU) execSWL(step *stepInfo) *exception {
	vaddr := c.effAddr(step)
	base := vaddr &^ 3
	word, exc := c.loadWord(base)
	if exc != nil {
		return exc
	}
	shift := 8 * (vaddr & 3)
	mask := uint32(0xffffffff) >> shift
	rt := uint32(c.reg(step.rt))
	merged := (word &^ mask) | (rt >> shift)
	return c.storeWord(base, merged)
}

func (c *CPU) execSWR(step *stepInfo) *exception {
	vaddr := c.effAddr(step)
	base := vaddr &^ 3
	word, exc := c.loadWord(base)
	if exc != nil {
		return exc
	}
	shift := 8 * (3 - (vaddr & 3))
	mask := uint32(0xffffffff) << shift
	rt := uint32(c.reg(step.rt))
	merged := (word &^ mask) | (rt << shift)
	return c.storeWord(base, merged)
}

// execLL/execSC implement the load-linked/store-conditional pair used
// to build atomic read-modify-write in guest code.
func (c *CPU) execLL(step *stepInfo) *exception {
	vaddr := c.effAddr(step)
	paddr, exc := c.translate(vaddr, false)
	if exc != nil {
		return exc
	}
	v, excL := c.loadWord(vaddr)
	if excL != nil {
		return excL
	}
	c.llActive = true
	c.llAddr = paddr
	c.llValue = v
	c.setReg(step.rt, int32(v))
	c.stats.LLs++
	return nil
}

func (c *CPU) execSC(step *stepInfo) *exception {
	vaddr := c.effAddr(step)
	paddr, exc := c.translate(vaddr, true)
	if exc != nil {
		return exc
	}
	if !c.llActive || c.llAddr != paddr {
		c.setReg(step.rt, 0)
		c.stats.BadSCs++
		return nil
	}
	cur, lerr := c.loadWord(vaddr)
	if lerr != nil {
		return lerr
	}
	if cur != c.llValue {
		c.llActive = false
		c.setReg(step.rt, 0)
		c.stats.BadSCs++
		return nil
	}
	if serr := c.storeWord(vaddr, uint32(c.reg(step.rt))); serr != nil {
		return serr
	}
	c.llActive = false
	c.setReg(step.rt, 1)
	c.stats.OKSCs++
	return nil
}

func overflowAdd(a, b, sum int32) bool {
	return (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum >= 0)
}

func overflowSub(a, b, diff int32) bool {
	return (a >= 0 && b < 0 && diff < 0) || (a < 0 && b >= 0 && diff >= 0)
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
