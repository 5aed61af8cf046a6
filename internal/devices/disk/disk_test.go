package disk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ops161/sys161go/internal/bus"
	"github.com/ops161/sys161go/internal/event"
)

type noopCPULine struct{}

func (noopCPULine) SetLamebusIRQ(cpunum int, asserted bool) {}

func newTestDisk(t *testing.T, sectors uint32) (*Disk, *bus.Bus, *event.Scheduler) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "disk0.img")
	b := bus.New(noopCPULine{}, 1)
	sched := event.New(1, 0, 0)
	d, err := Open(7, path, sectors, 3600, false, nil, false, b, sched)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(d.Cleanup)
	return d, b, sched
}

func TestOpenCreatesImageWithRequestedSectors(t *testing.T) {
	d, _, _ := newTestDisk(t, 2000)
	if d.totalSectors != 2000 {
		t.Fatalf("expected 2000 total sectors, got %d", d.totalSectors)
	}
	sum := uint32(0)
	for _, n := range d.sectors {
		sum += n
	}
	if sum != d.totalSectors {
		t.Fatalf("track sector counts sum to %d, want %d", sum, d.totalSectors)
	}
}

func TestOpenRejectsBadRPM(t *testing.T) {
	dir := t.TempDir()
	b := bus.New(noopCPULine{}, 1)
	sched := event.New(1, 0, 0)
	if _, err := Open(0, filepath.Join(dir, "x.img"), 100, 61, false, nil, false, b, sched); err == nil {
		t.Fatal("expected non-multiple-of-60 rpm to be rejected")
	}
}

func TestReopenValidatesHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.img")
	if err := os.WriteFile(path, make([]byte, headerSize+sectorSize), 0664); err != nil {
		t.Fatal(err)
	}
	b := bus.New(noopCPULine{}, 1)
	sched := event.New(1, 0, 0)
	if _, err := Open(0, path, 0, 3600, false, nil, false, b, sched); err == nil {
		t.Fatal("expected header check to reject a non-disk-image file")
	}
}

func TestWriteThenReadSectorRoundTrips(t *testing.T) {
	d, _, sched := newTestDisk(t, 4000)

	pattern := uint32(0xdeadbeef)
	for off := uint32(bufStart); off < bufEnd; off += 4 {
		d.Store(0, off, pattern)
	}
	d.Store(0, regSect, 10)
	d.Store(0, regStat, statWriting)
	drainDisk(d, sched)
	if d.stat&statComplete == 0 {
		t.Fatalf("expected write to complete, stat=%#x", d.stat)
	}

	for i := range d.buf {
		d.buf[i] = 0
	}
	d.Store(0, regSect, 10)
	d.Store(0, regStat, statReading)
	drainDisk(d, sched)
	if d.stat&statComplete == 0 {
		t.Fatalf("expected read to complete, stat=%#x", d.stat)
	}
	v, _ := d.Fetch(0, bufStart)
	if v != pattern {
		t.Fatalf("expected round-tripped sector data %#x, got %#x", pattern, v)
	}
}

func TestInvalidSectorSetsInvSect(t *testing.T) {
	d, _, sched := newTestDisk(t, 100)
	d.Store(0, regSect, 999999)
	d.Store(0, regStat, statReading)
	drainDisk(d, sched)
	if d.stat&statInvSect == 0 {
		t.Fatalf("expected invalid-sector bit, stat=%#x", d.stat)
	}
}

func TestDoomCounterFiresOnWriteStart(t *testing.T) {
	fired := false
	doom := NewDoomCounter(1, func() { fired = true })
	d, _, sched := newTestDisk(t, 100)
	d.doom = doom
	d.usedoom = true

	d.Store(0, regSect, 0)
	d.Store(0, regStat, statWriting)
	drainDisk(d, sched)
	if !fired {
		t.Fatal("expected doom counter to fire on the first write start")
	}
}

// drainDisk advances the scheduler in small steps until the disk's
// timing state machine finishes or a generous iteration budget runs
// out, so tests don't need to hand-compute exact seek/rotation delays.
func drainDisk(d *Disk, sched *event.Scheduler) {
	for i := 0; i < 10000 && d.timedOpPending; i++ {
		sched.Advance(250) // 10us of virtual time per step
	}
}
