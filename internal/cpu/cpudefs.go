/*
   CPU definitions for the MIPS-I simulator

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

import (
	"fmt"
	"log/slog"
)

// stepInfo is the decode of the instruction currently executing.
type stepInfo struct {
	word   uint32
	opcode uint32
	rs     uint32
	rt     uint32
	rd     uint32
	shamt  uint32
	funct  uint32
	imm16  uint32 // zero-extended
	simm16 int32  // sign-extended
	target uint32 // 26-bit jump target (word address)
}

// TLBEntry is one of NumTLBEntries software-managed TLB slots.
type TLBEntry struct {
	VPN     uint32 // virtual page number, bits 31:12
	PFN     uint32 // physical page number
	ASID    uint8
	Global  bool
	Valid   bool
	Dirty   bool
	NoCache bool
}

const (
	NumTLBEntries = 64
	PageSize      = 4096
	PageShift     = 12
)

// Segment boundaries.
const (
	KusegBase = 0x00000000
	KusegTop  = 0x80000000
	Kseg0Base = 0x80000000
	Kseg0Top  = 0xa0000000
	Kseg1Base = 0xa0000000
	Kseg1Top  = 0xc0000000
	Kseg2Base = 0xc0000000

	PhysMask = 0x1fffffff

	// ioBase/ioLimit mirror internal/bus's LAMEbus window. Duplicated
	// rather than imported to keep cpu free of a dependency on bus;
	// machine.Machine is the only package that wires the two together.
	ioBase = 0x1fe00000
	ioLimit = 0x20000000
)

// CP0 register numbers (MIPS-I subset implemented).
const (
	cp0Index   = 0
	cp0Random  = 1
	cp0EntryLo = 2
	cp0Context = 4
	cp0VAddr   = 8
	cp0Count   = 9
	cp0EntryHi = 10
	cp0Compare = 11
	cp0Status  = 12
	cp0Cause   = 13
	cp0EPC     = 14
	cp0PRId    = 15
	cp0Config0 = 16
	cp0Config1 = 17
)

// Status register bits.
const (
	statusIEc    uint32 = 1 << 0
	statusKUc    uint32 = 1 << 1
	statusIEp    uint32 = 1 << 2
	statusKUp    uint32 = 1 << 3
	statusIEo    uint32 = 1 << 4
	statusKUo    uint32 = 1 << 5
	statusIM0    uint32 = 1 << 8
	statusIM1    uint32 = 1 << 9
	statusIM2    uint32 = 1 << 10 // lamebus IRQ
	statusIM3    uint32 = 1 << 11 // inter-processor interrupt
	statusIM4    uint32 = 1 << 12 // on-chip timer (CP0 Compare)
	statusIMmask uint32 = 0xff00
	statusBEV    uint32 = 1 << 22
)

// Cause register layout.
const (
	causeExcShift = 2
	causeExcMask  = 0x1f << causeExcShift
	causeIPshift  = 8
	causeIPmask   = 0xff << causeIPshift
	causeBD       = 1 << 31
)

// Exception codes (Cause.ExcCode field).
const (
	excInt  = 0
	excMod  = 1
	excTLBL = 2
	excTLBS = 3
	excAdEL = 4
	excAdES = 5
	excIBE  = 6
	excDBE  = 7
	excSys  = 8
	excBp   = 9
	excRI   = 10
	excCpU  = 11
	excOv   = 12
)

// Exception vector physical addresses. BEV selects the ROM-resident
// set; UTLB (refill-on-clean-TLB-miss) has its own short vector.
const (
	vecUTLBNoBEV    = 0x80000000
	vecUTLBBEV      = 0xbfc00100
	vecGeneralNoBEV = 0x80000080
	vecGeneralBEV   = 0xbfc00180
)

// exception is raised by instruction semantics and turned into a
// vectored trap by (*CPU).takeExceptionAt. It never escapes the cpu
// package.
type exception struct {
	code  int
	vaddr uint32
}

func (e *exception) Error() string { return "mips exception" }

func newExc(code int) *exception                  { return &exception{code: code} }
func newExcAddr(code int, vaddr uint32) *exception { return &exception{code: code, vaddr: vaddr} }

// State is a CPU's top-level run state.
type State int

const (
	Disabled State = iota
	Idle
	Running
)

// Stats are the per-CPU counters the main loop and debugger report.
type Stats struct {
	UserCycles    uint64
	KernelCycles  uint64
	IdleCycles    uint64
	UserRetired   uint64
	KernelRetired uint64
	LLs           uint64
	OKSCs         uint64
	BadSCs        uint64
	Irqs          uint64
	Exceptions    uint64
	TLBMisses     uint64
}

// pageCache is the precomputed pc/nextpc → RAM-page translation,
// refreshed on every translation and invalidated on TLB write, RFE,
// and page-boundary crossing.
type pageCache struct {
	page []byte
	base uint32
	ok   bool
}

// Debug trace flags, one per sys161 "-t" letter.
const (
	TraceKernelPC = 1 << iota
	TraceUserPC
	TraceJumps
	TraceTraps
	TraceExceptions
	TraceIRQ
	TraceDevice
	TraceNetwork
	TraceExec
)

// traceFlags is display/diagnostic plumbing, not simulated
// architectural state, so unlike every other piece of mutable CPU
// state in this package it is intentionally process-wide.
var traceFlags uint32

// SetTraceFlags installs the process-wide trace mask (from "-t").
func SetTraceFlags(mask uint32) {
	traceFlags = mask
}

// profSample is the process-wide PC-sampling hook installed by main.go
// when -P is given (internal/profile.Profiler.Sample), called once per
// Tick the same way traceFlags is process-wide diagnostic plumbing
// rather than simulated architectural state.
var profSample func(pc uint32)

// SetProfSample installs the profiling sample hook, or clears it when
// fn is nil.
func SetProfSample(fn func(pc uint32)) {
	profSample = fn
}

// hangFunc is the process-wide handler for a guest-illegal-to-hardware
// condition real System/161 treats as fatal (e.g. duplicate TLB
// entries): print a message and drop to the debugger, or exit under
// -X. Installed by main.go the same way profSample is.
var hangFunc func(msg string)

// SetHangFunc installs the hang handler, or clears it when fn is nil.
func SetHangFunc(fn func(msg string)) {
	hangFunc = fn
}

// hang reports a fatal guest-visible hardware condition through
// hangFunc, or just logs it if main.go never installed one (e.g. a
// standalone unit test).
func hang(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if hangFunc != nil {
		hangFunc(msg)
		return
	}
	slog.Error("cpu: hang", "msg", msg)
}

// breakpointHook is the process-wide check for a user-set breakpoint
// address (internal/debugger.Monitor.IsBreakpoint), consulted by Step
// before it fetches the next instruction so a hit is non-invasive: no
// cycle billed, no architectural state touched.
var breakpointHook func(vaddr uint32) bool

// SetBreakpointHook installs the breakpoint-address check, or clears
// it when fn is nil.
func SetBreakpointHook(fn func(vaddr uint32) bool) {
	breakpointHook = fn
}

// inDebuggableRange reports whether pc lies in a segment the monitor
// can resolve a symbolic stop in (kseg0 or kseg2). A BREAK anywhere
// else -- kuseg, or kseg1 before a kernel debugger stub is mapped --
// is a real trap the guest must field itself.
func inDebuggableRange(pc uint32) bool {
	return (pc >= Kseg0Base && pc < Kseg1Base) || pc >= Kseg2Base
}

// busFetcher is the minimal slice of internal/bus.Bus the CPU needs.
// Kept as an interface here, rather than importing internal/bus
// directly, so bus and cpu have no cyclic dependency: bus needs to
// know nothing about cpu, only machine wires the two together.
type busFetcher interface {
	Fetch(cpunum int, addr uint32) (uint32, bool)
	Store(cpunum int, addr uint32, value uint32) bool
}

// ramAccessor is the minimal slice of internal/memory.RAM the CPU
// needs for the fast path (kuseg/kseg0/kseg1 RAM and ROM accesses
// that never reach the bus).
type ramAccessor interface {
	InRAM(addr uint32) bool
	InROM(addr uint32) bool
	ReadWord(addr uint32) (uint32, bool)
	WriteWord(addr uint32, v uint32) bool
	ReadHalf(addr uint32) (uint16, bool)
	WriteHalf(addr uint32, v uint16) bool
	ReadByte(addr uint32) (uint8, bool)
	WriteByte(addr uint32, v uint8) bool
	Page(addr uint32) (page []byte, base uint32, ok bool)
}

// CPU holds one processor's complete architectural state (general
// registers, hi/lo, PC and its delay-slot shadow, the software TLB,
// and the CP0 register file). Up to 32 of these live inside a
// machine.Machine; there is no package-level global.
type CPU struct {
	Num int

	regs             [32]int32
	hi, lo           int32
	hiBusy, loBusy   int // cycles left of the multiply/divide latency; MFHI/MFLO do not check them

	pc uint32 // address of the instruction about to be fetched

	inDelaySlot bool   // pc addresses a delay-slot instruction
	delayTarget uint32 // where to jump to after executing that delay slot

	branchTaken  bool   // scratch: set by execute() when this instruction is a taken branch/jump
	branchTarget uint32 // scratch: its target, valid iff branchTaken

	pcCache, nextpcCache pageCache

	tlb       [NumTLBEntries]TLBEntry
	tlbRandom uint32
	entryHi   uint32
	entryLo   uint32
	index     uint32
	context   uint32

	status  uint32
	cause   uint32
	epc     uint32
	vaddr   uint32
	count   uint32
	compare uint32
	prid    uint32
	config0 uint32
	config1 uint32

	llActive bool
	llAddr   uint32
	llValue  uint32 // word read by LL, rechecked by SC before it stores

	breakHit bool // Step stopped on a breakpoint instead of retiring

	ipiPending     bool
	lamebusPending bool

	state State

	ram ramAccessor
	bus busFetcher

	stats Stats
}
