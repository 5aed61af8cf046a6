/*
   CPU: main MIPS-I instruction fetch and execute.

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

/*
   MIPS-I, as implemented by the R2000/R3000 family this machine
   models, is a 32-bit load/store architecture: all ALU operations work
   on registers, and memory is touched only by explicit load and store
   instructions. Every instruction is exactly one 32-bit word, in one
   of three formats:

    R format: (Register).
      +------+-----+-----+-----+-----+------+
      |  op  | rs  | rt  | rd  |shamt|funct |
      +------+-----+-----+-----+-----+------+
       6       5     5     5     5     6

    I format: (Immediate).
      +------+-----+-----+------------------+
      |  op  | rs  | rt  |    immediate     |
      +------+-----+-----+------------------+
       6       5     5     16

    J format: (Jump).
      +------+--------------------------------+
      |  op  |            target              |
      +------+--------------------------------+
       6       26

   Every control-transfer instruction has a one-instruction delay slot:
   the instruction immediately after a branch or jump always executes,
   even when the branch is taken.
*/

// NewCPU creates CPU number num in its post-reset state, wired to the
// given RAM fast path and LAMEbus fetch/store interface.
func NewCPU(num int, ram ramAccessor, bus busFetcher) *CPU {
	c := &CPU{Num: num, ram: ram, bus: bus}
	c.Reset()
	return c
}

// Reset returns the CPU to its architectural power-on state: PC at the
// BEV reset vector, caches and TLB cleared, interrupts masked.
func (c *CPU) Reset() {
	for i := range c.regs {
		c.regs[i] = 0
	}
	c.hi, c.lo = 0, 0
	c.hiBusy, c.loBusy = 0, 0

	c.pc = 0xbfc00000
	c.inDelaySlot = false
	c.delayTarget = 0
	c.branchTaken = false

	c.pcCache = pageCache{}
	c.nextpcCache = pageCache{}

	for i := range c.tlb {
		c.tlb[i] = TLBEntry{}
	}
	c.tlbRandom = NumTLBEntries - 1

	c.status = statusBEV
	c.cause = 0
	c.epc = 0
	c.vaddr = 0
	c.count = 0
	c.compare = 0
	c.prid = 0x00000200 // R3000-class, per original_source/include
	c.config0 = 0
	c.config1 = 0

	c.llActive = false
	c.ipiPending = false
	c.lamebusPending = false

	c.state = Running
	c.stats = Stats{}
}

// PC returns the address of the instruction about to execute.
func (c *CPU) PC() uint32 { return c.pc }

// State reports whether this CPU is running, idle, or disabled.
func (c *CPU) State() State { return c.state }

// GetStats returns a snapshot of this CPU's retirement/cycle counters.
func (c *CPU) GetStats() Stats { return c.stats }

// BreakHit reports whether the most recent Step stopped on a
// breakpoint or debuggable BREAK rather than retiring an instruction.
// The caller is expected to stop its run loop and enter the debugger
// when this is true; PC still addresses the site.
func (c *CPU) BreakHit() bool { return c.breakHit }

// InUserMode reports whether the CPU is currently executing at user
// privilege (Status.KUc == 1).
func (c *CPU) InUserMode() bool { return c.status&statusKUc != 0 }

// RaiseLamebusIRQ sets or clears the hardware interrupt line fed by
// the LAMEbus controller (Status.IM2 / Cause.IP2).
func (c *CPU) RaiseLamebusIRQ(asserted bool) {
	c.lamebusPending = asserted
}

// RaiseIPI sets or clears the inter-processor interrupt line
// (Status.IM3 / Cause.IP3).
func (c *CPU) RaiseIPI(asserted bool) {
	c.ipiPending = asserted
}

// SetEntry sets the PC a Disabled CPU starts executing at once enabled,
// plus the stack pointer ($sp) and argument ($a0) conveyed to it. Used
// both for the boot CPU's kernel entry point and, via the bus
// controller's per-CPU CRAM, for secondary CPUs woken by a write to
// CPUE.
func (c *CPU) SetEntry(pc, sp, arg uint32) {
	c.pc = pc
	c.setReg(29, int32(sp))
	c.setReg(4, int32(arg))
}

// Enable transitions a Disabled CPU to Running. No-op if the CPU was
// already enabled.
func (c *CPU) Enable() {
	if c.state == Disabled {
		c.state = Running
	}
}

// Disable stops the CPU immediately, dropping it out of the run loop
// mid-instruction; the bus controller's CPUE register uses this for
// "just drop it in its tracks" semantics.
func (c *CPU) Disable() {
	c.state = Disabled
}

// pendingInterrupt reports whether an enabled hardware/software
// interrupt is currently asserted, folding in the two synthetic lines
// (lamebus, IPI) that have no register the guest writes directly.
func (c *CPU) pendingInterrupt() bool {
	if c.status&statusIEc == 0 {
		return false
	}
	ip := (c.cause & causeIPmask) >> causeIPshift
	im := (c.status & statusIMmask) >> 8
	if c.lamebusPending {
		ip |= 1 << 2
	}
	if c.ipiPending {
		ip |= 1 << 3
	}
	if c.compareArmedAndDue() {
		ip |= 1 << 4
	}
	return ip&im != 0
}

func (c *CPU) compareArmedAndDue() bool {
	return c.count == c.compare
}

// Tick advances the free-running CP0 Count register by n cycles. The
// main loop calls this once per retired batch; Count driving Compare
// is how the guest kernel gets a periodic on-chip timer interrupt
// without a LAMEbus device.
func (c *CPU) Tick(n uint32) {
	c.count += n
	if profSample != nil {
		profSample(c.pc)
	}
}

// Step executes exactly one cycle: the delivery of a pending
// exception/interrupt, the fetch-decode-execute of one instruction, or
// a non-invasive stop at a breakpoint (BreakHit reports which). It
// returns the number of retired instructions (0 or 1) so the caller
// can feed the progress watchdog and per-mode cycle counters; a
// breakpoint stop retires nothing and bills no cycle, and a trap
// retires nothing and bills its cycle to kernel mode.
func (c *CPU) Step() (retired int) {
	c.breakHit = false

	if c.state != Running {
		c.stats.IdleCycles++
		if c.pendingInterrupt() {
			c.state = Running
		} else {
			return 0
		}
	}

	if c.pendingInterrupt() {
		c.takeExceptionAt(newExc(excInt), c.pc, c.inDelaySlot)
		c.stats.KernelCycles++
		return 0
	}

	thisPC := c.pc
	if breakpointHook != nil && breakpointHook(thisPC) {
		c.breakHit = true
		return 0
	}

	wasDelaySlot := c.inDelaySlot
	target := c.delayTarget

	word, fetchErr := c.fetchWord(thisPC)
	if fetchErr != nil {
		c.inDelaySlot = false
		c.takeExceptionAt(fetchErr, thisPC, wasDelaySlot)
		c.stats.KernelCycles++
		return 0
	}

	var step stepInfo
	decode(word, &step)

	if step.opcode == opSPECIAL && step.funct == fnBREAK && inDebuggableRange(thisPC) {
		c.breakHit = true
		return 0
	}

	c.inDelaySlot = false
	c.branchTaken = false
	if err := c.execute(&step); err != nil {
		c.takeExceptionAt(err, thisPC, wasDelaySlot)
		c.stats.KernelCycles++
		return 0
	}

	switch {
	case wasDelaySlot:
		c.pc = target
	case c.branchTaken:
		c.inDelaySlot = true
		c.delayTarget = c.branchTarget
		c.pc = thisPC + 4
	default:
		c.pc = thisPC + 4
	}

	if c.hiBusy > 0 {
		c.hiBusy--
	}
	if c.loBusy > 0 {
		c.loBusy--
	}

	if c.InUserMode() {
		c.stats.UserRetired++
		c.stats.UserCycles++
	} else {
		c.stats.KernelRetired++
		c.stats.KernelCycles++
	}
	return 1
}

// RunBatch executes up to n cycles, stopping early only when the CPU
// is left idle or disabled with no interrupt pending. It returns
// the number of cycles actually consumed, which the scheduler uses to
// advance virtual time.
func (c *CPU) RunBatch(n int) int {
	consumed := 0
	for consumed < n {
		c.Step()
		consumed++
		if c.state != Running && !c.pendingInterrupt() {
			break
		}
	}
	return consumed
}

// fetchWord fetches one instruction word, using and refreshing the
// cached pc-page translation.
func (c *CPU) fetchWord(vaddr uint32) (uint32, *exception) {
	if vaddr&3 != 0 {
		return 0, newExcAddr(excAdEL, vaddr)
	}
	page, base, ok := c.translatedPage(vaddr, false)
	if !ok {
		paddr, exc := c.translate(vaddr, false)
		if exc != nil {
			return 0, exc
		}
		if v, ok := c.ram.ReadWord(paddr); ok {
			return v, nil
		}
		return 0, newExcAddr(excIBE, vaddr)
	}
	off := vaddr - base
	return uint32(page[off])<<24 | uint32(page[off+1])<<16 | uint32(page[off+2])<<8 | uint32(page[off+3]), nil
}

// translatedPage returns a cached RAM page window for vaddr, keyed by
// virtual page number, refreshing it from the TLB/RAM on a miss. It
// avoids a full TLB walk on the common case of sequential fetch
// within a 4 KiB page. forNext selects the next-instruction slot so a
// taken branch's target doesn't evict the page the delay slot needs.
func (c *CPU) translatedPage(vaddr uint32, forNext bool) ([]byte, uint32, bool) {
	cache := &c.pcCache
	if forNext {
		cache = &c.nextpcCache
	}
	vbase := vaddr &^ uint32(PageSize-1)
	if cache.ok && vbase == cache.base {
		return cache.page, cache.base, true
	}
	paddr, exc := c.translate(vaddr, false)
	if exc != nil {
		return nil, 0, false
	}
	page, _, ok := c.ram.Page(paddr)
	if !ok {
		return nil, 0, false
	}
	*cache = pageCache{page: page, base: vbase, ok: true}
	return cache.page, cache.base, true
}

// invalidatePageCache drops both cached page windows; called whenever
// the TLB changes shape (TLBWI/TLBWR) or Status/ASID changes meaning.
func (c *CPU) invalidatePageCache() {
	c.pcCache.ok = false
	c.nextpcCache.ok = false
}

// translate resolves a virtual address to a physical one: kseg0/kseg1
// are direct-mapped, kuseg/kseg2 go through the 64-entry software TLB.
func (c *CPU) translate(vaddr uint32, write bool) (uint32, *exception) {
	switch {
	case vaddr >= Kseg0Base && vaddr < Kseg0Top:
		return vaddr - Kseg0Base, nil
	case vaddr >= Kseg1Base && vaddr < Kseg1Top:
		return vaddr - Kseg1Base, nil
	case vaddr >= Kseg2Base:
		if c.InUserMode() {
			return 0, newExcAddr(excAdEL, vaddr)
		}
		return c.tlbLookup(vaddr, write)
	default: // kuseg
		return c.tlbLookup(vaddr, write)
	}
}

func (c *CPU) tlbLookup(vaddr uint32, write bool) (uint32, *exception) {
	vpn := vaddr >> PageShift
	asid := uint8(c.entryHi & 0xff)
	for i := range c.tlb {
		e := &c.tlb[i]
		if e.VPN != vpn {
			continue
		}
		if !e.Global && e.ASID != asid {
			continue
		}
		if !e.Valid {
			code := excTLBL
			if write {
				code = excTLBS
			}
			c.vaddr = vaddr
			return 0, newExcAddr(code, vaddr)
		}
		if write && !e.Dirty {
			c.vaddr = vaddr
			return 0, newExcAddr(excMod, vaddr)
		}
		return (e.PFN << PageShift) | (vaddr & (PageSize - 1)), nil
	}
	c.stats.TLBMisses++
	code := excTLBL
	if write {
		code = excTLBS
	}
	c.vaddr = vaddr
	return 0, newExcAddr(code, vaddr)
}

// loadWord reads a big-endian 32-bit word from virtual address vaddr,
// routing physical addresses in the LAMEbus I/O window to the bus and
// everything else to RAM/ROM.
func (c *CPU) loadWord(vaddr uint32) (uint32, *exception) {
	if vaddr&3 != 0 {
		return 0, newExcAddr(excAdEL, vaddr)
	}
	paddr, exc := c.translate(vaddr, false)
	if exc != nil {
		return 0, exc
	}
	if paddr >= ioBase && paddr < ioLimit {
		if v, ok := c.bus.Fetch(c.Num, paddr); ok {
			return v, nil
		}
		return 0, newExcAddr(excDBE, vaddr)
	}
	if v, ok := c.ram.ReadWord(paddr); ok {
		return v, nil
	}
	return 0, newExcAddr(excDBE, vaddr)
}

// storeWord writes a big-endian 32-bit word to virtual address vaddr.
func (c *CPU) storeWord(vaddr, value uint32) *exception {
	if vaddr&3 != 0 {
		return newExcAddr(excAdES, vaddr)
	}
	paddr, exc := c.translate(vaddr, true)
	if exc != nil {
		return exc
	}
	if c.llActive && paddr == c.llAddr {
		c.llActive = false
	}
	if paddr >= ioBase && paddr < ioLimit {
		if c.bus.Store(c.Num, paddr, value) {
			return nil
		}
		return newExcAddr(excDBE, vaddr)
	}
	if c.ram.WriteWord(paddr, value) {
		return nil
	}
	return newExcAddr(excDBE, vaddr)
}

// loadHalf/storeHalf/loadByte/storeByte mirror loadWord/storeWord for
// smaller transfer sizes; the LAMEbus devices (serial, rng, trace) are
// all byte/word registers, never halfword, but MIPS-I
// LH/LHU/SH need the same routing regardless.
func (c *CPU) loadHalf(vaddr uint32) (uint16, *exception) {
	if vaddr&1 != 0 {
		return 0, newExcAddr(excAdEL, vaddr)
	}
	paddr, exc := c.translate(vaddr, false)
	if exc != nil {
		return 0, exc
	}
	if paddr >= ioBase && paddr < ioLimit {
		if v, ok := c.bus.Fetch(c.Num, paddr&^3); ok {
			shift := 16 * (1 - ((paddr >> 1) & 1))
			return uint16(v >> shift), nil
		}
		return 0, newExcAddr(excDBE, vaddr)
	}
	if v, ok := c.ram.ReadHalf(paddr); ok {
		return v, nil
	}
	return 0, newExcAddr(excDBE, vaddr)
}

func (c *CPU) storeHalf(vaddr uint32, value uint16) *exception {
	if vaddr&1 != 0 {
		return newExcAddr(excAdES, vaddr)
	}
	paddr, exc := c.translate(vaddr, true)
	if exc != nil {
		return exc
	}
	if c.llActive && paddr&^3 == c.llAddr {
		c.llActive = false
	}
	if paddr >= ioBase && paddr < ioLimit {
		word, ok := c.bus.Fetch(c.Num, paddr&^3)
		if !ok {
			return newExcAddr(excDBE, vaddr)
		}
		shift := 16 * (1 - ((paddr >> 1) & 1))
		mask := uint32(0xffff) << shift
		word = (word &^ mask) | (uint32(value) << shift)
		if c.bus.Store(c.Num, paddr&^3, word) {
			return nil
		}
		return newExcAddr(excDBE, vaddr)
	}
	if c.ram.WriteHalf(paddr, value) {
		return nil
	}
	return newExcAddr(excDBE, vaddr)
}

func (c *CPU) loadByte(vaddr uint32) (uint8, *exception) {
	paddr, exc := c.translate(vaddr, false)
	if exc != nil {
		return 0, exc
	}
	if paddr >= ioBase && paddr < ioLimit {
		word, ok := c.bus.Fetch(c.Num, paddr&^3)
		if !ok {
			return 0, newExcAddr(excDBE, vaddr)
		}
		shift := 8 * (3 - (paddr & 3))
		return uint8(word >> shift), nil
	}
	if v, ok := c.ram.ReadByte(paddr); ok {
		return v, nil
	}
	return 0, newExcAddr(excDBE, vaddr)
}

func (c *CPU) storeByte(vaddr uint32, value uint8) *exception {
	paddr, exc := c.translate(vaddr, true)
	if exc != nil {
		return exc
	}
	if c.llActive && paddr&^3 == c.llAddr {
		c.llActive = false
	}
	if paddr >= ioBase && paddr < ioLimit {
		word, ok := c.bus.Fetch(c.Num, paddr&^3)
		if !ok {
			return newExcAddr(excDBE, vaddr)
		}
		shift := 8 * (3 - (paddr & 3))
		mask := uint32(0xff) << shift
		word = (word &^ mask) | (uint32(value) << shift)
		if c.bus.Store(c.Num, paddr&^3, word) {
			return nil
		}
		return newExcAddr(excDBE, vaddr)
	}
	if c.ram.WriteByte(paddr, value) {
		return nil
	}
	return newExcAddr(excDBE, vaddr)
}

// takeExceptionAt vectors to the appropriate handler address, pushing
// the three-level KU/IE stack and recording EPC/Cause/BadVAddr.
// pc is the address of the
// instruction that faulted; wasDelaySlot marks it as a delay slot, in
// which case EPC points at the branch instruction itself (pc-4) and
// Cause.BD is set.
func (c *CPU) takeExceptionAt(exc *exception, pc uint32, wasDelaySlot bool) {
	if exc.code == excInt {
		c.stats.Irqs++
	} else {
		c.stats.Exceptions++
	}

	epc := pc
	if wasDelaySlot {
		epc = pc - 4
	}

	// Shift the three-level KU/IE stack: old<-prev, prev<-current,
	// current cleared (kernel mode, interrupts disabled).
	ku := c.status & (statusKUc | statusIEc | statusKUp | statusIEp | statusKUo | statusIEo)
	newStack := (ku << 2) &^ (statusKUc | statusIEc)
	c.status = (c.status &^ (statusKUc | statusIEc | statusKUp | statusIEp | statusKUo | statusIEo)) | newStack

	c.epc = epc
	c.cause = (c.cause &^ causeExcMask) | (uint32(exc.code) << causeExcShift)
	if wasDelaySlot {
		c.cause |= causeBD
	} else {
		c.cause &^= causeBD
	}
	switch exc.code {
	case excAdEL, excAdES, excTLBL, excTLBS, excMod:
		c.vaddr = exc.vaddr
	}

	c.invalidatePageCache()

	// Only a kuseg access with no matching TLB entry at all (a refill
	// miss) takes the UTLB vector; an invalid match or a kseg2 miss
	// goes to the general vector.
	utlb := false
	if (exc.code == excTLBL || exc.code == excTLBS) && exc.vaddr < KusegTop {
		utlb = true
		vpn, asid := exc.vaddr>>PageShift, uint8(c.entryHi&0xff)
		for i := range c.tlb {
			if e := &c.tlb[i]; e.VPN == vpn && (e.Global || e.ASID == asid) {
				utlb = false
			}
		}
	}

	bev := c.status&statusBEV != 0
	var vector uint32
	switch {
	case utlb && !bev:
		vector = vecUTLBNoBEV
	case utlb && bev:
		vector = vecUTLBBEV
	case bev:
		vector = vecGeneralBEV
	default:
		vector = vecGeneralNoBEV
	}
	c.pc = vector
	c.inDelaySlot = false
	c.branchTaken = false
	c.llActive = false
}

// decode splits a 32-bit instruction word into every field any MIPS-I
// format might need; unused fields for a given opcode are simply
// ignored by its handler.
func decode(word uint32, step *stepInfo) {
	step.word = word
	step.opcode = word >> 26
	step.rs = (word >> 21) & 0x1f
	step.rt = (word >> 16) & 0x1f
	step.rd = (word >> 11) & 0x1f
	step.shamt = (word >> 6) & 0x1f
	step.funct = word & 0x3f
	step.imm16 = word & 0xffff
	step.simm16 = int32(int16(word & 0xffff))
	step.target = word & 0x03ffffff
}
