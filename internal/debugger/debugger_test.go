package debugger

import (
	"strings"
	"testing"
)

func testMonitor() (*Monitor, *fakeTarget) {
	ft := &fakeTarget{
		mem:   map[uint32]uint32{0x80010000: 0xcafef00d},
		nCPUs: 2,
	}
	return New(ft.target()), ft
}

type fakeTarget struct {
	mem        map[uint32]uint32
	nCPUs      int
	resumed    bool
	quit       bool
	steps      map[int]int
	regsByCPU  map[int][48]uint32
}

func (f *fakeTarget) target() Target {
	f.steps = map[int]int{}
	return Target{
		NumCPUs: func() int { return f.nCPUs },
		Regs: func(cpu int) [48]uint32 {
			return f.regsByCPU[cpu]
		},
		FetchWord: func(cpu int, vaddr uint32) (uint32, bool) {
			v, ok := f.mem[vaddr]
			return v, ok
		},
		StoreWord: func(cpu int, vaddr uint32, v uint32) bool {
			f.mem[vaddr] = v
			return true
		},
		Stats:      func(cpu int) Stats { return Stats{KernelCycles: uint64(cpu) + 1} },
		Resume:     func() { f.resumed = true },
		SingleStep: func(cpu int) { f.steps[cpu]++ },
		Quit:       func() { f.quit = true },
	}
}

func TestContinueResumesAndLeavesMonitor(t *testing.T) {
	m, ft := testMonitor()
	leave, err := m.process("continue")
	if err != nil {
		t.Fatal(err)
	}
	if !leave || !ft.resumed {
		t.Fatalf("expected continue to resume and leave, got leave=%v resumed=%v", leave, ft.resumed)
	}
}

func TestAbbreviatedCommandMatches(t *testing.T) {
	m, ft := testMonitor()
	if _, err := m.process("cont"); err != nil {
		t.Fatal(err)
	}
	if !ft.resumed {
		t.Fatal("expected abbreviated 'cont' to match continue")
	}
}

func TestAmbiguousAbbreviationIsRejected(t *testing.T) {
	m, _ := testMonitor()
	// "st" matches both "step" and "stats".
	_, err := m.process("st")
	if err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Fatalf("expected ambiguous command error, got %v", err)
	}
}

func TestStepInvokesSingleStepOnCurrentCPU(t *testing.T) {
	m, ft := testMonitor()
	leave, err := m.process("step 3")
	if err != nil {
		t.Fatal(err)
	}
	if leave {
		t.Fatal("step should not leave the monitor")
	}
	if ft.steps[0] != 3 {
		t.Fatalf("expected 3 single-steps on cpu 0, got %d", ft.steps[0])
	}
}

func TestDepositThenExamineRoundTrips(t *testing.T) {
	m, ft := testMonitor()
	if _, err := m.process("deposit 80020000 deadbeef"); err != nil {
		t.Fatal(err)
	}
	if ft.mem[0x80020000] != 0xdeadbeef {
		t.Fatalf("expected deposit to store deadbeef, got %#x", ft.mem[0x80020000])
	}
	if _, err := m.process("examine 80020000"); err != nil {
		t.Fatal(err)
	}
}

func TestBreakAndDeleteManageBreakpointSet(t *testing.T) {
	m, _ := testMonitor()
	if _, err := m.process("break 80010000"); err != nil {
		t.Fatal(err)
	}
	if !m.IsBreakpoint(0x80010000) {
		t.Fatal("expected breakpoint to be set")
	}
	if _, err := m.process("delete 80010000"); err != nil {
		t.Fatal(err)
	}
	if m.IsBreakpoint(0x80010000) {
		t.Fatal("expected breakpoint to be cleared")
	}
}

func TestDeleteAllClearsEveryBreakpoint(t *testing.T) {
	m, _ := testMonitor()
	m.process("break 1000")
	m.process("break 2000")
	if _, err := m.process("delete all"); err != nil {
		t.Fatal(err)
	}
	if m.IsBreakpoint(0x1000) || m.IsBreakpoint(0x2000) {
		t.Fatal("expected delete all to clear every breakpoint")
	}
}

func TestCPUSelectsAndValidatesRange(t *testing.T) {
	m, _ := testMonitor()
	if _, err := m.process("cpu 1"); err != nil {
		t.Fatal(err)
	}
	if m.cpu != 1 {
		t.Fatalf("expected cpu 1 selected, got %d", m.cpu)
	}
	if _, err := m.process("cpu 5"); err == nil {
		t.Fatal("expected out-of-range cpu to be rejected")
	}
}

func TestQuitStopsSimulation(t *testing.T) {
	m, ft := testMonitor()
	leave, err := m.process("quit")
	if err != nil {
		t.Fatal(err)
	}
	if !leave || !ft.quit {
		t.Fatalf("expected quit to stop and leave, got leave=%v quit=%v", leave, ft.quit)
	}
}

func TestUnknownCommandIsAnError(t *testing.T) {
	m, _ := testMonitor()
	if _, err := m.process("frobnicate"); err == nil {
		t.Fatal("expected unknown command to error")
	}
}
