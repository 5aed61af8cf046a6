package cpu

import "testing"

// fakeRAM is a minimal ramAccessor backed by a flat byte slice, big
// enough for the small test programs below.
type fakeRAM struct {
	bytes [1 << 20]byte
}

func (r *fakeRAM) InRAM(addr uint32) bool { return addr < uint32(len(r.bytes)) }
func (r *fakeRAM) InROM(addr uint32) bool { return false }

func (r *fakeRAM) ReadWord(addr uint32) (uint32, bool) {
	if !r.InRAM(addr) {
		return 0, false
	}
	return uint32(r.bytes[addr])<<24 | uint32(r.bytes[addr+1])<<16 | uint32(r.bytes[addr+2])<<8 | uint32(r.bytes[addr+3]), true
}

func (r *fakeRAM) WriteWord(addr, v uint32) bool {
	if !r.InRAM(addr) {
		return false
	}
	r.bytes[addr] = byte(v >> 24)
	r.bytes[addr+1] = byte(v >> 16)
	r.bytes[addr+2] = byte(v >> 8)
	r.bytes[addr+3] = byte(v)
	return true
}

func (r *fakeRAM) ReadHalf(addr uint32) (uint16, bool) {
	if !r.InRAM(addr) {
		return 0, false
	}
	return uint16(r.bytes[addr])<<8 | uint16(r.bytes[addr+1]), true
}

func (r *fakeRAM) WriteHalf(addr uint32, v uint16) bool {
	if !r.InRAM(addr) {
		return false
	}
	r.bytes[addr] = byte(v >> 8)
	r.bytes[addr+1] = byte(v)
	return true
}

func (r *fakeRAM) ReadByte(addr uint32) (uint8, bool) {
	if !r.InRAM(addr) {
		return 0, false
	}
	return r.bytes[addr], true
}

func (r *fakeRAM) WriteByte(addr uint32, v uint8) bool {
	if !r.InRAM(addr) {
		return false
	}
	r.bytes[addr] = v
	return true
}

func (r *fakeRAM) Page(addr uint32) ([]byte, uint32, bool) {
	base := addr &^ uint32(PageSize-1)
	if !r.InRAM(base) {
		return nil, 0, false
	}
	return r.bytes[base : base+PageSize], base, true
}

type fakeBus struct {
	regs map[uint32]uint32
}

func newFakeBus() *fakeBus { return &fakeBus{regs: map[uint32]uint32{}} }

func (b *fakeBus) Fetch(cpunum int, addr uint32) (uint32, bool) {
	return b.regs[addr], true
}

func (b *fakeBus) Store(cpunum int, addr uint32, value uint32) bool {
	b.regs[addr] = value
	return true
}

// newTestCPU builds a CPU whose RAM is mapped starting at kseg0, with
// PC reset into kseg0 too so plain physical-offset reasoning works in
// test programs.
func newTestCPU() (*CPU, *fakeRAM) {
	ram := &fakeRAM{}
	c := NewCPU(0, ram, newFakeBus())
	c.pc = Kseg0Base
	c.status &^= statusBEV
	return c, ram
}

func storeInsn(ram *fakeRAM, addr uint32, word uint32) {
	ram.WriteWord(addr-Kseg0Base, word)
}

// encR encodes an R-format instruction.
func encR(op, rs, rt, rd, shamt, funct uint32) uint32 {
	return op<<26 | rs<<21 | rt<<16 | rd<<11 | shamt<<6 | funct
}

// encI encodes an I-format instruction.
func encI(op, rs, rt uint32, imm int32) uint32 {
	return op<<26 | rs<<21 | rt<<16 | (uint32(imm) & 0xffff)
}

func TestADDIUAndRegisterZero(t *testing.T) {
	c, ram := newTestCPU()
	storeInsn(ram, c.pc, encI(opADDIU, 0, 8, 5)) // addiu $t0, $zero, 5
	storeInsn(ram, c.pc+4, encI(opADDIU, 8, 0, 1))
	c.Step()
	if c.reg(8) != 5 {
		t.Fatalf("expected $t0=5, got %d", c.reg(8))
	}
	c.Step()
	if c.reg(0) != 0 {
		t.Fatalf("writes to r0 must be discarded, got %d", c.reg(0))
	}
}

func TestBranchDelaySlotAlwaysExecutes(t *testing.T) {
	c, ram := newTestCPU()
	// addiu $t0, $zero, 1
	storeInsn(ram, c.pc, encI(opADDIU, 0, 8, 1))
	// beq $zero, $zero, +3 (skip the next two instructions after delay slot)
	storeInsn(ram, c.pc+4, encI(opBEQ, 0, 0, 3))
	// delay slot: addiu $t1, $zero, 1 -- must always execute
	storeInsn(ram, c.pc+8, encI(opADDIU, 0, 9, 1))
	// skipped if branch taken
	storeInsn(ram, c.pc+12, encI(opADDIU, 0, 10, 1))
	storeInsn(ram, c.pc+16, encI(opADDIU, 0, 11, 1))
	// landing pad
	storeInsn(ram, c.pc+20, encI(opADDIU, 0, 12, 1))

	for i := 0; i < 4; i++ {
		c.Step()
	}
	if c.reg(9) != 1 {
		t.Fatalf("delay slot must execute even though branch was taken")
	}
	if c.reg(10) != 0 || c.reg(11) != 0 {
		t.Fatalf("branch target computation wrong: skipped instructions ran")
	}
	if c.reg(12) != 1 {
		t.Fatalf("expected to land on the landing pad, pc=%#x", c.pc)
	}
}

func TestLoadWordThenStoreRoundTrip(t *testing.T) {
	c, ram := newTestCPU()
	storeInsn(ram, c.pc, encI(opLUI, 0, 8, 0x8000)) // lui $t0, 0x8000 (kseg0 base)
	storeInsn(ram, c.pc+4, encI(opADDIU, 0, 9, 0x7b))
	storeInsn(ram, c.pc+8, encI(opSW, 8, 9, 0x100))  // sw $t1, 0x100($t0)
	storeInsn(ram, c.pc+12, encI(opLW, 8, 10, 0x100)) // lw $t2, 0x100($t0)
	for i := 0; i < 4; i++ {
		c.Step()
	}
	if c.reg(10) != 0x7b {
		t.Fatalf("expected round-tripped word 0x7b, got %#x", c.reg(10))
	}
}

func TestOverflowRaisesException(t *testing.T) {
	c, ram := newTestCPU()
	c.setReg(8, int32(0x7fffffff))
	storeInsn(ram, c.pc, encI(opADDI, 8, 9, 1)) // addi $t1, $t0, 1 -- overflows
	c.Step()
	if c.cause&causeExcMask>>causeExcShift != excOv {
		t.Fatalf("expected overflow exception, cause=%#x", c.cause)
	}
	if c.pc != vecGeneralNoBEV {
		t.Fatalf("expected general exception vector, pc=%#x", c.pc)
	}
}

func TestTLBWriteHangsOnDuplicateVPN(t *testing.T) {
	c, _ := newTestCPU()
	c.entryHi = (0x12345 << PageShift)
	c.entryLo = (0xabcde << PageShift) | (1 << 1) // valid
	c.tlbWrite(3)
	if !c.tlb[3].Valid || c.tlb[3].VPN != 0x12345 {
		t.Fatalf("TLBWI did not install expected entry")
	}

	var hung string
	SetHangFunc(func(msg string) { hung = msg })
	defer SetHangFunc(nil)

	// Write the same VPN into a different slot: two valid translations
	// for one virtual page is a guest bug, not something to silently
	// fix up by evicting the older entry.
	c.entryLo = (0x11111 << PageShift) | (1 << 1)
	c.tlbWrite(9)
	if hung == "" {
		t.Fatalf("expected duplicate TLB entries to hang")
	}
	if !c.tlb[3].Valid {
		t.Fatalf("old entry must not be silently evicted on a hang")
	}
}

func TestTLBProbeFindsAndMisses(t *testing.T) {
	c, _ := newTestCPU()
	c.entryHi = 7 << PageShift
	c.entryLo = (1 << PageShift) | (1 << 1)
	c.tlbWrite(0)

	c.entryHi = 7 << PageShift
	c.tlbProbe()
	if c.index != 0 {
		t.Fatalf("expected TLBP to find slot 0, got index=%#x", c.index)
	}

	c.entryHi = 99 << PageShift
	c.tlbProbe()
	if c.index&(1<<31) == 0 {
		t.Fatalf("expected TLBP miss to set the sign bit, got index=%#x", c.index)
	}
}

func TestLLSCSucceedsWithoutInterveningStore(t *testing.T) {
	c, ram := newTestCPU()
	ram.WriteWord(0x200, 0)
	storeInsn(ram, c.pc, encI(opLUI, 0, 8, 0x8000)) // lui $t0, 0x8000 (kseg0 base)
	storeInsn(ram, c.pc+4, encI(opLL, 8, 9, 0x200))
	storeInsn(ram, c.pc+8, encI(opADDIU, 0, 9, 42))
	storeInsn(ram, c.pc+12, encI(opSC, 8, 9, 0x200))
	for i := 0; i < 4; i++ {
		c.Step()
	}
	if c.reg(9) != 1 {
		t.Fatalf("expected SC to succeed (rt=1), got %d", c.reg(9))
	}
	if c.stats.OKSCs != 1 {
		t.Fatalf("expected one successful SC counted, got %d", c.stats.OKSCs)
	}
}

func TestLLSCFailsAfterInterveningStore(t *testing.T) {
	c, ram := newTestCPU()
	ram.WriteWord(0x200, 0)
	storeInsn(ram, c.pc, encI(opLUI, 0, 8, 0x8000)) // lui $t0, 0x8000 (kseg0 base)
	storeInsn(ram, c.pc+4, encI(opLL, 8, 9, 0x200))
	// A store to the linked word clears the reservation.
	storeInsn(ram, c.pc+8, encI(opADDIU, 0, 11, 7))
	storeInsn(ram, c.pc+12, encI(opSW, 8, 11, 0x200))
	storeInsn(ram, c.pc+16, encI(opADDIU, 0, 9, 42))
	storeInsn(ram, c.pc+20, encI(opSC, 8, 9, 0x200))
	for i := 0; i < 6; i++ {
		c.Step()
	}
	if c.reg(9) != 0 {
		t.Fatalf("expected SC to fail (rt=0) after intervening store, got %d", c.reg(9))
	}
	if c.stats.BadSCs != 1 {
		t.Fatalf("expected one failed SC counted, got %d", c.stats.BadSCs)
	}
}

func TestUserModeCop0Traps(t *testing.T) {
	c, ram := newTestCPU()
	c.status |= statusKUc
	storeInsn(ram, c.pc, encR(opCOP0, cop0MF, 8, cp0Status, 0, 0))
	c.Step()
	if (c.cause&causeExcMask)>>causeExcShift != excCpU {
		t.Fatalf("expected coprocessor-unusable exception from user mode, cause=%#x", c.cause)
	}
}

func TestBreakpointHookStopsNonInvasively(t *testing.T) {
	c, ram := newTestCPU()
	storeInsn(ram, c.pc, encI(opADDIU, 0, 8, 5))
	stop := c.pc
	SetBreakpointHook(func(vaddr uint32) bool { return vaddr == stop })
	defer SetBreakpointHook(nil)

	retired := c.Step()
	if retired != 0 || !c.BreakHit() {
		t.Fatalf("expected a non-invasive breakpoint stop, retired=%d breakHit=%v", retired, c.BreakHit())
	}
	if c.pc != stop {
		t.Fatalf("pc must still address the breakpoint site, got %#x", c.pc)
	}
	if c.reg(8) != 0 {
		t.Fatalf("breakpointed instruction must not have executed")
	}

	SetBreakpointHook(nil)
	c.Step()
	if c.reg(8) != 5 {
		t.Fatalf("expected the instruction to run once the breakpoint clears")
	}
}

func TestKseg0BreakIsNonInvasive(t *testing.T) {
	c, ram := newTestCPU()
	storeInsn(ram, c.pc, encR(opSPECIAL, 0, 0, 0, 0, fnBREAK))
	before := c.cause

	retired := c.Step()
	if retired != 0 || !c.BreakHit() {
		t.Fatalf("expected a non-invasive BREAK stop in kseg0, retired=%d breakHit=%v", retired, c.BreakHit())
	}
	if c.cause != before {
		t.Fatalf("a debuggable BREAK must not mutate Cause, got %#x want %#x", c.cause, before)
	}
}
