package mainboard

import (
	"testing"

	"github.com/ops161/sys161go/internal/bus"
	"github.com/ops161/sys161go/internal/cpu"
	"github.com/ops161/sys161go/internal/event"
)

func newTestRig(t *testing.T, numCPUs int) (*Mainboard, *bus.Bus, []*cpu.CPU, *event.Scheduler, *bool) {
	t.Helper()
	sched := event.New(1, 0, 0)
	poweredOff := false

	var cpus []*cpu.CPU
	var b *bus.Bus
	// Mainboard needs *bus.Bus to exist before it can be constructed
	// (it calls bus.Raised/GlobalEnable), and bus.New needs a CPULine
	// before Mainboard exists, so build the bus first with a no-op
	// line and let Machine-style wiring be simulated by the test.
	b = bus.New(noopCPULine{}, numCPUs)
	for i := 0; i < numCPUs; i++ {
		cpus = append(cpus, cpu.NewCPU(i, nil, b))
	}
	mb := New(4*1024*1024, cpus, sched, b, func() { poweredOff = true })
	return mb, b, cpus, sched, &poweredOff
}

type noopCPULine struct{}

func (noopCPULine) SetLamebusIRQ(cpunum int, asserted bool) {}

func TestNewDisablesAllButCPUZero(t *testing.T) {
	_, _, cpus, _, _ := newTestRig(t, 3)
	if cpus[0].State() == cpu.Disabled {
		t.Fatal("expected CPU 0 to start enabled")
	}
	for i := 1; i < 3; i++ {
		if cpus[i].State() != cpu.Disabled {
			t.Fatalf("expected CPU %d to start disabled", i)
		}
	}
}

func TestRAMSizeAndSelfRegisters(t *testing.T) {
	mb, _, _, _, _ := newTestRig(t, 1)
	v, ok := mb.Fetch(0, regRAMSize)
	if !ok || v != 4*1024*1024 {
		t.Fatalf("expected ramsize register, got %#x ok=%v", v, ok)
	}
	v, ok = mb.Fetch(2, regSelf)
	if !ok || v != 2 {
		t.Fatalf("expected SELF to echo the requesting cpunum, got %d", v)
	}
}

func TestCPUEEnablesSecondaryFromCRAM(t *testing.T) {
	mb, _, cpus, _, _ := newTestRig(t, 2)

	cramBase := perCPUBase + uint32(1)*perCPUStride + offCRAMStart
	if ok := mb.Store(0, cramBase, 0x80010000); !ok { // entry pc
		t.Fatal("CRAM pc store failed")
	}
	if ok := mb.Store(0, cramBase+4, 0xcafef00d); !ok { // arg
		t.Fatal("CRAM arg store failed")
	}

	if ok := mb.Store(0, regCPUE, 0x3); !ok { // enable bits 0 and 1
		t.Fatal("CPUE store failed")
	}
	if cpus[1].State() != cpu.Running {
		t.Fatalf("expected CPU 1 to be running after CPUE enable, got %v", cpus[1].State())
	}
	if cpus[1].PC() != 0x80010000 {
		t.Fatalf("expected CPU 1 PC set from CRAM, got %#x", cpus[1].PC())
	}
}

func TestCPUEDisableDropsCPU(t *testing.T) {
	mb, _, cpus, _, _ := newTestRig(t, 2)
	mb.Store(0, regCPUE, 0x3)
	mb.Store(0, regCPUE, 0x1) // drop CPU 1
	if cpus[1].State() != cpu.Disabled {
		t.Fatalf("expected CPU 1 disabled, got %v", cpus[1].State())
	}
}

func TestPowerRegisterSchedulesPoweroff(t *testing.T) {
	mb, b, _, sched, poweredOff := newTestRig(t, 1)
	if ok := mb.Store(0, regPower, 0); !ok {
		t.Fatal("power register store failed")
	}
	if *poweredOff {
		t.Fatal("poweroff must not fire before the 5ms delay elapses")
	}
	sched.Advance(200_000) // comfortably past the 125_000-cycle (5ms) poweroff delay
	if !*poweredOff {
		t.Fatal("expected poweroff callback to fire once the delay elapsed")
	}
	if b.Raised()&(1<<31) == 0 {
		t.Fatal("expected controller IRQ raised to break any idle wait")
	}
}

func TestPowerRegisterRejectsNonZero(t *testing.T) {
	mb, _, _, _, _ := newTestRig(t, 1)
	if ok := mb.Store(0, regPower, 1); ok {
		t.Fatal("expected non-zero power register write to be refused")
	}
}

func TestIRQEDelegatesToBus(t *testing.T) {
	mb, b, _, _, _ := newTestRig(t, 1)
	mb.Store(0, regIRQE, 0xdeadbeef)
	if b.GlobalEnable() != 0xdeadbeef {
		t.Fatalf("expected IRQE write to reach the bus, got %#x", b.GlobalEnable())
	}
	v, _ := mb.Fetch(0, regIRQE)
	if v != 0xdeadbeef {
		t.Fatalf("expected IRQE readback, got %#x", v)
	}
}
