/*
   CPU: register/memory accessors for the interactive debugger and GDB
   stub (mipseb/mips.c cpudebug_*).

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
   ROBERT M SUPNIK BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package cpu

// DebugRegs returns this CPU's register file in the fixed order gdb's
// MIPS target expects (mips.c cpudebug_getregs): 32 GPRs, status, lo,
// hi, badvaddr, cause, pc, three always-zero FPU slots (no FPU is
// modeled), index, random, entrylo, context, entryhi, epc, prid.
func (c *CPU) DebugRegs() [48]uint32 {
	var regs [48]uint32
	i := 0
	for n := 0; n < 32; n++ {
		regs[i] = uint32(c.regs[n])
		i++
	}
	regs[i] = c.status
	i++
	regs[i] = uint32(c.lo)
	i++
	regs[i] = uint32(c.hi)
	i++
	regs[i] = c.vaddr
	i++
	regs[i] = c.cause
	i++
	regs[i] = c.pc
	i++
	i += 3 // fp status / fp implementation / fp ? — unmodeled, stay zero
	regs[i] = c.index
	i++
	regs[i] = c.tlbRandom
	i++
	regs[i] = c.entryLo
	i++
	regs[i] = c.context
	i++
	regs[i] = c.entryHi
	i++
	regs[i] = c.epc
	i++
	regs[i] = c.prid
	return regs
}

// DebugFetchByte/Word and DebugStoreByte/Word bypass the exception
// machinery real loads/stores go through: a debugger reading or
// poking memory shouldn't raise a guest TLB-miss exception, it should
// just fail the RSP request (mips.c's debug_translatemem restricts
// this to kseg0/kseg1, matching internal/loader's load-address check).
func (c *CPU) DebugFetchByte(vaddr uint32) (uint8, bool) {
	paddr, ok := debugTranslate(vaddr)
	if !ok {
		return 0, false
	}
	return c.ram.ReadByte(paddr)
}

func (c *CPU) DebugFetchWord(vaddr uint32) (uint32, bool) {
	paddr, ok := debugTranslate(vaddr)
	if !ok {
		return 0, false
	}
	return c.ram.ReadWord(paddr)
}

func (c *CPU) DebugStoreByte(vaddr uint32, v uint8) bool {
	paddr, ok := debugTranslate(vaddr)
	if !ok {
		return false
	}
	return c.ram.WriteByte(paddr, v)
}

func (c *CPU) DebugStoreWord(vaddr uint32, v uint32) bool {
	paddr, ok := debugTranslate(vaddr)
	if !ok {
		return false
	}
	return c.ram.WriteWord(paddr, v)
}

func debugTranslate(vaddr uint32) (uint32, bool) {
	switch {
	case vaddr >= Kseg0Base && vaddr < Kseg1Base:
		return vaddr - Kseg0Base, true
	case vaddr >= Kseg1Base && vaddr < Kseg2Base:
		return vaddr - Kseg1Base, true
	default:
		return 0, false
	}
}

// DebugBPRegion returns the address range the debugger's own
// breakpoint trap covers, which is the whole kernel-mapped space
// (mips.c cpudebug_get_bp_region).
func DebugBPRegion() (start, end uint32) {
	return Kseg0Base, Kseg2Base
}
