package net

import (
	"encoding/binary"
	gonet "net"
	"path/filepath"
	"testing"
	"time"

	"github.com/ops161/sys161go/internal/bus"
	"github.com/ops161/sys161go/internal/event"
)

type noopCPULine struct{}

func (noopCPULine) SetLamebusIRQ(cpunum int, asserted bool) {}

// newFakeHub binds a unixgram socket standing in for the external hub
// process, returning its path and the socket itself for the test to
// read/write on.
func newFakeHub(t *testing.T) (string, *gonet.UnixConn) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hub")
	addr, err := gonet.ResolveUnixAddr("unixgram", path)
	if err != nil {
		t.Fatal(err)
	}
	conn, err := gonet.ListenUnixgram("unixgram", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return path, conn
}

func newTestNIC(t *testing.T, hwaddr uint16, hubPath string) (*NIC, *bus.Bus, *event.Scheduler) {
	t.Helper()
	b := bus.New(noopCPULine{}, 1)
	sched := event.New(1, 0, 0)
	n, err := Open(5, b, sched, t.TempDir(), hubPath, hwaddr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(n.Cleanup)
	_, ready, onReady := n.Source()
	go func() {
		for range ready {
			onReady()
		}
	}()
	return n, b, sched
}

func TestOpenRejectsReservedHWAddr(t *testing.T) {
	hubPath, _ := newFakeHub(t)
	b := bus.New(noopCPULine{}, 1)
	sched := event.New(1, 0, 0)
	if _, err := Open(5, b, sched, t.TempDir(), hubPath, hubAddrWord); err == nil {
		t.Fatal("expected hwaddr==HUB_ADDR to be rejected")
	}
	if _, err := Open(5, b, sched, t.TempDir(), hubPath, broadcastAddrWord); err == nil {
		t.Fatal("expected hwaddr==BROADCAST_ADDR to be rejected")
	}
}

func TestOpenDetectsCarrierWhenHubExists(t *testing.T) {
	hubPath, hub := newFakeHub(t)
	n, _, _ := newTestNIC(t, 7, hubPath)

	buf := make([]byte, linkheaderSize)
	hub.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := hub.ReadFromUnix(buf); err != nil {
		t.Fatalf("expected initial keepalive datagram: %v", err)
	}
	if n.lostCarrier {
		t.Fatal("expected carrier to be detected once the hub socket exists")
	}
}

func TestSendTransmitsFrameToHub(t *testing.T) {
	hubPath, hub := newFakeHub(t)
	n, _, sched := newTestNIC(t, 7, hubPath)

	payload := []byte("hello")
	total := linkheaderSize + len(payload)
	lh := linkheader{frame: frameMagic, from: 7, packetlen: uint16(total), to: hubAddrWord}
	copy(n.wbuf[:linkheaderSize], lh.marshal())
	copy(n.wbuf[linkheaderSize:], payload)

	if ok := n.Store(0, regControl, ctlStart); !ok {
		t.Fatal("expected NDC_START store to be accepted")
	}

	sched.Advance(int(networkLatencyNs*101/100/event.NsPerCycle) + 1) // latency plus up to 1% jitter

	buf := make([]byte, bufSize)
	hub.SetReadDeadline(time.Now().Add(time.Second))
	rn, _, err := hub.ReadFromUnix(buf)
	// first datagram may be the startup keepalive; drain until we see our frame
	for err == nil {
		got := unmarshalLinkheader(buf[:rn])
		if got.packetlen == uint16(total) {
			break
		}
		rn, _, err = hub.ReadFromUnix(buf)
	}
	if err != nil {
		t.Fatalf("expected to receive sent packet: %v", err)
	}
	if string(buf[linkheaderSize:rn]) != "hello" {
		t.Fatalf("expected payload %q, got %q", "hello", buf[linkheaderSize:rn])
	}
	v, _ := n.Fetch(0, regWriteIntr)
	if v != intrDone {
		t.Fatalf("expected write-done IRQ, got %d", v)
	}
}

func TestStartTwiceWhileInFlightIsRejected(t *testing.T) {
	hubPath, _ := newFakeHub(t)
	n, _, _ := newTestNIC(t, 7, hubPath)

	n.Store(0, regControl, ctlStart)
	if ok := n.Store(0, regControl, ctlStart); ok {
		t.Fatal("expected a second NDC_START while one is in flight to be rejected")
	}
}

func TestIllegalControlBitsRejected(t *testing.T) {
	hubPath, _ := newFakeHub(t)
	n, _, _ := newTestNIC(t, 7, hubPath)
	if ok := n.Store(0, regControl, ctlZero); ok {
		t.Fatal("expected reserved control bits to be rejected")
	}
}

func TestRecvAcceptsFrameAddressedToUs(t *testing.T) {
	hubPath, hub := newFakeHub(t)
	n, b, _ := newTestNIC(t, 7, hubPath)

	selfAddr, err := gonet.ResolveUnixAddr("unixgram", filepath.Join(n.conn.LocalAddr().String()))
	if err != nil {
		t.Fatal(err)
	}

	payload := []byte("inbound")
	total := linkheaderSize + len(payload)
	lh := linkheader{frame: frameMagic, from: 9, packetlen: uint16(total), to: 7}
	frame := append(lh.marshal(), payload...)
	if _, err := hub.WriteToUnix(frame, selfAddr); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for n.rirq == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n.rirq != intrDone {
		t.Fatal("expected read-done IRQ after receiving an addressed frame")
	}
	if b.Raised()&(1<<5) == 0 {
		t.Fatal("expected slot IRQ to be raised")
	}
	// The read buffer holds the whole frame: link header, then payload.
	v, _ := n.Fetch(0, readBufOff+linkheaderSize)
	got := make([]byte, 4)
	binary.BigEndian.PutUint32(got, v)
	if string(got) != "inbo" {
		t.Fatalf("expected buffered payload to start with 'inbo', got %q", got)
	}
}

func TestRecvIgnoresFrameForOtherAddressWithoutPromisc(t *testing.T) {
	hubPath, hub := newFakeHub(t)
	n, _, _ := newTestNIC(t, 7, hubPath)

	selfAddr, err := gonet.ResolveUnixAddr("unixgram", n.conn.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	lh := linkheader{frame: frameMagic, from: 9, packetlen: linkheaderSize, to: 42}
	if _, err := hub.WriteToUnix(lh.marshal(), selfAddr); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if n.rirq != 0 {
		t.Fatal("expected frame addressed to a different hwaddr to be dropped")
	}
}
