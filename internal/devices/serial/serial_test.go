package serial

import (
	"testing"

	"github.com/ops161/sys161go/internal/bus"
	"github.com/ops161/sys161go/internal/event"
)

type noopCPULine struct{}

func (noopCPULine) SetLamebusIRQ(cpunum int, asserted bool) {}

func newTestSerial(t *testing.T) (*Serial, *bus.Bus, *event.Scheduler, *[]byte) {
	t.Helper()
	b := bus.New(noopCPULine{}, 1)
	sched := event.New(1, 0, 0)
	var out []byte
	s := New(3, b, sched, func(c byte) { out = append(out, c) })
	return s, b, sched, &out
}

func TestWriteCharInvokesOutputAndBusiesUntilDone(t *testing.T) {
	s, _, sched, out := newTestSerial(t)
	s.Store(0, regChar, 'A')
	if len(*out) != 1 || (*out)[0] != 'A' {
		t.Fatalf("expected 'A' written to output, got %v", *out)
	}
	if !s.wbusy {
		t.Fatal("expected write-busy to be set immediately")
	}
	s.Store(0, regChar, 'B') // dropped: still busy
	if len(*out) != 1 {
		t.Fatalf("expected second write to be dropped while busy, got %v", *out)
	}
	sched.Advance(2000)
	if s.wbusy {
		t.Fatal("expected write-busy to clear once the wire-time delay elapses")
	}
}

func TestWriteIRQAssertsOnlyWhenOnAndReady(t *testing.T) {
	s, b, sched, _ := newTestSerial(t)
	s.Store(0, regWIRQ, irqOn)
	s.Store(0, regChar, 'x')
	sched.Advance(2000)
	if b.Raised()&(1<<3) == 0 {
		t.Fatal("expected write-ready IRQ to be raised once enabled")
	}
}

func TestPushInputDeliversCharAndSetsReadIRQ(t *testing.T) {
	s, b, sched, _ := newTestSerial(t)
	s.Store(0, regRIRQ, irqOn)
	s.PushInput('z')
	if b.Raised()&(1<<3) == 0 {
		t.Fatal("expected read-ready IRQ after PushInput")
	}
	v, _ := s.Fetch(0, regChar)
	if v != 'z' {
		t.Fatalf("expected readch 'z', got %q", rune(v))
	}
	sched.Advance(2000) // let the ring-buffer pump settle with nothing left
}

func TestOverrunDropsWithoutPanicking(t *testing.T) {
	s, _, _, _ := newTestSerial(t)
	for i := 0; i < inbufSize+10; i++ {
		s.PushInput(byte('a' + i%26))
	}
	if !s.overrunWarned {
		t.Fatal("expected overrun to have been noted")
	}
}
