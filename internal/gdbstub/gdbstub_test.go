package gdbstub

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

type fakeMachine struct {
	regs     [48]uint32
	mem      map[uint32]uint32
	entries  map[int]uint32
	enabled  map[int]bool
	numCPUs  int
	breakCPU int
	stopped  bool
	resumed  bool
	stepped  bool
	killed   bool
}

func newFakeMachine() *fakeMachine {
	return &fakeMachine{
		mem:     map[uint32]uint32{},
		entries: map[int]uint32{},
		enabled: map[int]bool{0: true, 1: true},
		numCPUs: 2,
	}
}

func (m *fakeMachine) target() Target {
	return Target{
		NumCPUs:    func() int { return m.numCPUs },
		CPUEnabled: func(c int) bool { return m.enabled[c] },
		BreakCPU:   func() int { return m.breakCPU },
		Regs:       func(c int) [48]uint32 { return m.regs },
		SetEntry:   func(c int, pc uint32) { m.entries[c] = pc },
		FetchByte: func(c int, vaddr uint32) (uint8, bool) {
			return uint8(m.mem[vaddr&^3] >> (8 * (3 - vaddr%4))), true
		},
		FetchWord: func(c int, vaddr uint32) (uint32, bool) {
			v, ok := m.mem[vaddr]
			return v, ok
		},
		StoreByte: func(c int, vaddr uint32, v uint8) bool { return true },
		StoreWord: func(c int, vaddr uint32, v uint32) bool {
			m.mem[vaddr] = v
			return true
		},
		StopCycling: func() { m.stopped = true },
		SingleStep:  func() { m.stepped = true },
		Resume:      func() { m.resumed = true },
		Kill:        func() { m.killed = true },
	}
}

func packetize(body string) string {
	sum := 0
	for _, c := range []byte(body) {
		sum += int(c)
	}
	return fmt.Sprintf("$%s#%02x", body, sum%256)
}

func TestBadChecksumIsNacked(t *testing.T) {
	m := newFakeMachine()
	var out bytes.Buffer
	sess := NewSession(m.target(), &out)

	sess.Feed([]byte("$?#ff"))
	if out.String() != "-" {
		t.Fatalf("expected NAK for bad checksum, got %q", out.String())
	}
}

func TestQueryStopReplyReportsBreakCPU(t *testing.T) {
	m := newFakeMachine()
	m.breakCPU = 1
	var out bytes.Buffer
	sess := NewSession(m.target(), &out)

	sess.Feed([]byte(packetize("?")))
	if !strings.Contains(out.String(), "+$T05thread:b;#") {
		t.Fatalf("expected ACK + stop-info packet for thread 11 (0xb), got %q", out.String())
	}
}

func TestReadMemWordAligned(t *testing.T) {
	m := newFakeMachine()
	m.mem[0x80010000] = 0xcafef00d
	var out bytes.Buffer
	sess := NewSession(m.target(), &out)

	sess.Feed([]byte(packetize("m80010000,4")))
	if !strings.Contains(out.String(), "$cafef00d#") {
		t.Fatalf("expected memory dump cafef00d, got %q", out.String())
	}
}

func TestWriteMemWordAligned(t *testing.T) {
	m := newFakeMachine()
	var out bytes.Buffer
	sess := NewSession(m.target(), &out)

	sess.Feed([]byte(packetize("M80010000,4:deadbeef")))
	if m.mem[0x80010000] != 0xdeadbeef {
		t.Fatalf("expected RAM to hold deadbeef, got %#x", m.mem[0x80010000])
	}
	if !strings.Contains(out.String(), "$OK#") {
		t.Fatalf("expected OK reply, got %q", out.String())
	}
}

func TestContinueWithAddressRestartsEntry(t *testing.T) {
	m := newFakeMachine()
	var out bytes.Buffer
	sess := NewSession(m.target(), &out)

	sess.Feed([]byte(packetize("c80020000")))
	if m.entries[0] != 0x80020000 {
		t.Fatalf("expected SetEntry(0, 0x80020000), got %#x", m.entries[0])
	}
	if !m.resumed {
		t.Fatal("expected continue to resume execution")
	}
}

func TestSingleStepInvokesSingleStepHook(t *testing.T) {
	m := newFakeMachine()
	var out bytes.Buffer
	sess := NewSession(m.target(), &out)

	sess.Feed([]byte(packetize("s")))
	if !m.stepped {
		t.Fatal("expected single-step hook to fire")
	}
}

func TestSetThreadForGSelectsCPU(t *testing.T) {
	m := newFakeMachine()
	var out bytes.Buffer
	sess := NewSession(m.target(), &out)

	sess.Feed([]byte(packetize("Hgb"))) // thread id 0xb == cpu 1
	if sess.debugCPU != 1 {
		t.Fatalf("expected debugCPU to become 1, got %d", sess.debugCPU)
	}
	if !strings.Contains(out.String(), "$OK#") {
		t.Fatalf("expected OK, got %q", out.String())
	}
}

func TestThreadAliveCheckRejectsDisabledCPU(t *testing.T) {
	m := newFakeMachine()
	m.enabled[1] = false
	var out bytes.Buffer
	sess := NewSession(m.target(), &out)

	sess.Feed([]byte(packetize("Tb"))) // cpu 1
	if !strings.Contains(out.String(), "$E01#") {
		t.Fatalf("expected E01 for disabled cpu, got %q", out.String())
	}
}

func TestUnsupportedPacketGetsEmptyReply(t *testing.T) {
	m := newFakeMachine()
	var out bytes.Buffer
	sess := NewSession(m.target(), &out)

	sess.Feed([]byte(packetize("v")))
	if !strings.Contains(out.String(), "$\x00#00") {
		t.Fatalf("expected empty-body unsupported reply, got %q", out.String())
	}
}

func TestPartialPacketIsBufferedAcrossFeedCalls(t *testing.T) {
	m := newFakeMachine()
	var out bytes.Buffer
	sess := NewSession(m.target(), &out)

	full := packetize("?")
	rest := sess.Feed([]byte(full[:3]))
	if out.Len() != 0 {
		t.Fatalf("expected no reply yet, got %q", out.String())
	}
	sess.Feed(append(rest, []byte(full[3:])...))
	if out.Len() == 0 {
		t.Fatal("expected a reply once the packet completed")
	}
}
