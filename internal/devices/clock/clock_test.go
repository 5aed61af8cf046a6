package clock

import (
	"testing"

	"github.com/ops161/sys161go/internal/bus"
	"github.com/ops161/sys161go/internal/event"
)

type noopCPULine struct{}

func (noopCPULine) SetLamebusIRQ(cpunum int, asserted bool) {}

func newTestTimer(t *testing.T) (*Timer, *bus.Bus, *event.Scheduler, *int) {
	t.Helper()
	b := bus.New(noopCPULine{}, 1)
	sched := event.New(1, 1_700_000_000, 0)
	beeps := 0
	tm := New(5, b, sched, func() { beeps++ })
	return tm, b, sched, &beeps
}

func TestTSecReadsWallClockOffset(t *testing.T) {
	tm, _, _, _ := newTestTimer(t)
	v, ok := tm.Fetch(0, regTSec)
	if !ok || v != 1_700_000_000 {
		t.Fatalf("expected start-secs readback, got %d ok=%v", v, ok)
	}
}

func TestTSecWriteRebasesWallClock(t *testing.T) {
	tm, _, sched, _ := newTestTimer(t)
	if ok := tm.Store(0, regTSec, 123); !ok {
		t.Fatal("TSEC store failed")
	}
	secs, _ := sched.WallClock()
	if secs != 123 {
		t.Fatalf("expected rebased wall clock, got %d", secs)
	}
}

func TestOneShotTimerFiresOnceAndStops(t *testing.T) {
	tm, b, sched, _ := newTestTimer(t)
	tm.Store(0, regTime, 10) // 10us = 10_000ns
	sched.Advance(100)       // 4000ns: well short of the 10_000ns deadline
	if b.Raised()&(1<<5) != 0 {
		t.Fatal("timer fired too early")
	}
	sched.Advance(20_000 / event.NsPerCycle)
	if b.Raised()&(1<<5) == 0 {
		t.Fatal("expected timer IRQ to have fired")
	}
	tm.Fetch(0, regIRQ) // ack, clearing the line
	sched.Advance(20_000 / event.NsPerCycle)
	if b.Raised()&(1<<5) != 0 {
		t.Fatal("one-shot timer fired again after it stopped")
	}
}

func TestRestartingTimerKeepsFiring(t *testing.T) {
	tm, b, sched, _ := newTestTimer(t)
	tm.Store(0, regRestart, 1)
	tm.Store(0, regTime, 5) // 5us

	fires := 0
	for i := 0; i < 3; i++ {
		sched.Advance(20_000 / event.NsPerCycle)
		if b.Raised()&(1<<5) != 0 {
			fires++
			tm.Fetch(0, regIRQ) // clears the IRQ, matching guest ack
		}
	}
	if fires != 3 {
		t.Fatalf("expected the restarting timer to fire 3 times, got %d", fires)
	}
}

func TestIRQRegisterReadClearsLine(t *testing.T) {
	tm, b, _, _ := newTestTimer(t)
	b.RaiseIRQ(5)
	v, _ := tm.Fetch(0, regIRQ)
	if v != 1 {
		t.Fatal("expected IRQ register to read 1 while raised")
	}
	if b.Raised()&(1<<5) != 0 {
		t.Fatal("expected reading IRQ register to clear the line")
	}
}

func TestBeepInvokesCallback(t *testing.T) {
	tm, _, _, beeps := newTestTimer(t)
	tm.Store(0, regBeep, 0)
	if *beeps != 1 {
		t.Fatalf("expected one beep callback, got %d", *beeps)
	}
}

func TestReservedRegistersAreRejected(t *testing.T) {
	tm, _, _, _ := newTestTimer(t)
	if _, ok := tm.Fetch(0, regBeep); ok {
		t.Fatal("expected reading the write-only beep register to be refused")
	}
	if ok := tm.Store(0, regIRQ, 0); ok {
		t.Fatal("expected writing the read-only IRQ register to be refused")
	}
}
