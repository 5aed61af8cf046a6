package bus

import (
	"testing"

	D "github.com/ops161/sys161go/internal/device"
)

type fakeDevice struct {
	reg uint32
}

func (f *fakeDevice) Fetch(cpunum int, offset uint32) (uint32, bool) {
	if offset != 0 {
		return 0, false
	}
	return f.reg, true
}

func (f *fakeDevice) Store(cpunum int, offset uint32, value uint32) bool {
	if offset != 0 {
		return false
	}
	f.reg = value
	return true
}

func (f *fakeDevice) Dump() string { return "fake" }
func (f *fakeDevice) Cleanup()     {}

type fakeCPULine struct {
	asserted map[int]bool
}

func (f *fakeCPULine) SetLamebusIRQ(cpunum int, asserted bool) {
	if f.asserted == nil {
		f.asserted = map[int]bool{}
	}
	f.asserted[cpunum] = asserted
}

func TestFetchStoreRoundTrip(t *testing.T) {
	b := New(&fakeCPULine{}, 1)
	dev := &fakeDevice{}
	if err := b.Attach(5, dev, D.Identity{Vendor: 1}); err != nil {
		t.Fatal(err)
	}
	addr := IOBase + uint32(5)<<slotShift
	if ok := b.Store(0, addr, 0x1234); !ok {
		t.Fatal("store failed")
	}
	v, ok := b.Fetch(0, addr)
	if !ok || v != 0x1234 {
		t.Fatalf("got %#x ok=%v", v, ok)
	}
}

func TestIRQAggregation(t *testing.T) {
	line := &fakeCPULine{}
	b := New(line, 1)
	b.SetPerCPUEnable(0, 1<<3)
	b.RaiseIRQ(3)
	if !line.asserted[0] {
		t.Fatal("expected CPU 0 line asserted")
	}
	b.LowerIRQ(3)
	if line.asserted[0] {
		t.Fatal("expected CPU 0 line deasserted")
	}
}

func TestGlobalDisableMasksRaised(t *testing.T) {
	line := &fakeCPULine{}
	b := New(line, 1)
	b.SetGlobalEnable(0xffffffff &^ (1 << 3))
	b.RaiseIRQ(3)
	if line.asserted[0] {
		t.Fatal("expected globally-disabled slot to not assert line")
	}
}

func TestAttachSlotOutOfRange(t *testing.T) {
	b := New(nil, 1)
	if err := b.Attach(64, &fakeDevice{}, D.Identity{}); err == nil {
		t.Fatal("expected error for out-of-range slot")
	}
}

func TestAttachDuplicateSlot(t *testing.T) {
	b := New(nil, 1)
	if err := b.Attach(2, &fakeDevice{}, D.Identity{}); err != nil {
		t.Fatal(err)
	}
	if err := b.Attach(2, &fakeDevice{}, D.Identity{}); err == nil {
		t.Fatal("expected error for duplicate slot")
	}
}
