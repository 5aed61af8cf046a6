/*
   LAMEbus network-interface device: a single-packet-buffer NIC backed
   by a Unix domain datagram socket to an external hub process.

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
   RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	gonet "net"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"log/slog"

	"github.com/ops161/sys161go/internal/bus"
	"github.com/ops161/sys161go/internal/event"
)

// Register offsets (ops-class/sys161 bus/dev_net.c NETREG_*).
const (
	regReadIntr  = 0x00
	regWriteIntr = 0x04
	regControl   = 0x08
	regStatus    = 0x0c
)

const (
	bufSize    = 4096
	readBufOff = 32768
	writeBufOff = readBufOff + bufSize
)

const (
	hubAddrWord       = 0x0000
	broadcastAddrWord = 0xffff
	frameMagic        = 0xa4b3
)

const (
	networkLatencyNs = 2_000_000  // 2ms per packet send, dev_net.c NETWORK_LATENCY
	keepaliveNs      = 1_000_000_000
)

const (
	intrDone = 0x1
	intrZero = 0xfffffffe

	ctlPromisc = 0x1
	ctlStart   = 0x2
	ctlZero    = 0xfffffffc

	statusHWAddrMask = 0xffff
	statusCarrier    = 0x80000000
)

// linkheader is the wire frame every NIC and the hub prepend to a
// packet, all fields big-endian (dev_net.c struct linkheader).
type linkheader struct {
	frame     uint16
	from      uint16
	packetlen uint16
	to        uint16
}

const linkheaderSize = 8

func (h linkheader) marshal() []byte {
	buf := make([]byte, linkheaderSize)
	binary.BigEndian.PutUint16(buf[0:], h.frame)
	binary.BigEndian.PutUint16(buf[2:], h.from)
	binary.BigEndian.PutUint16(buf[4:], h.packetlen)
	binary.BigEndian.PutUint16(buf[6:], h.to)
	return buf
}

func unmarshalLinkheader(buf []byte) linkheader {
	return linkheader{
		frame:     binary.BigEndian.Uint16(buf[0:]),
		from:      binary.BigEndian.Uint16(buf[2:]),
		packetlen: binary.BigEndian.Uint16(buf[4:]),
		to:        binary.BigEndian.Uint16(buf[6:]),
	}
}

// NIC is a LAMEbus network-interface-card device (dev_net.c).
type NIC struct {
	slot  int
	bus   *bus.Bus
	sched *event.Scheduler

	conn    *gonet.UnixConn
	hubAddr *gonet.UnixAddr

	hwaddr uint16

	rirq, wirq     uint32
	control        uint32
	lostCarrier    bool

	rbuf [bufSize]byte
	wbuf [bufSize]byte

	mu       sync.Mutex
	pending  []byte // bytes handed off from the reader goroutine, awaiting onReady
	overrun  bool
	readyCh  chan struct{}

	rpkts, wpkts, epkts, dpkts uint64

	closed chan struct{}
}

// Open creates a NIC attached at slot, binding its own socket under
// baseDir/.sockets/net-<hwaddr> and talking to the hub listening at
// hubPath (dev_net.c net_init). hwaddr must not collide with the
// reserved hub/broadcast addresses.
func Open(slot int, b *bus.Bus, sched *event.Scheduler, baseDir, hubPath string, hwaddr uint16) (*NIC, error) {
	if hwaddr == hubAddrWord || hwaddr == broadcastAddrWord {
		return nil, fmt.Errorf("nic: slot %d: invalid hwaddr %#04x", slot, hwaddr)
	}

	sockDir := filepath.Join(baseDir, ".sockets")
	if err := os.MkdirAll(sockDir, 0o755); err != nil {
		return nil, fmt.Errorf("nic: slot %d: %w", slot, err)
	}
	selfPath := filepath.Join(sockDir, fmt.Sprintf("net-%04x", hwaddr))
	os.Remove(selfPath)

	selfAddr, err := gonet.ResolveUnixAddr("unixgram", selfPath)
	if err != nil {
		return nil, fmt.Errorf("nic: slot %d: %w", slot, err)
	}
	conn, err := gonet.ListenUnixgram("unixgram", selfAddr)
	if err != nil {
		return nil, fmt.Errorf("nic: slot %d: bind: %w", slot, err)
	}

	hubResolved, err := gonet.ResolveUnixAddr("unixgram", hubPath)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("nic: slot %d: %w", slot, err)
	}

	n := &NIC{
		slot:        slot,
		bus:         b,
		sched:       sched,
		conn:        conn,
		hubAddr:     hubResolved,
		hwaddr:      hwaddr,
		lostCarrier: true,
		readyCh:     make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}

	go n.readLoop()
	n.keepalive(nil, 0)

	return n, nil
}

// Source returns the selectloop registration for this NIC's incoming
// datagrams (dev_net.c's onselect(nd_socket, ..., dorecv, NULL)).
func (n *NIC) Source() (name string, ready <-chan struct{}, onReady func()) {
	return fmt.Sprintf("nic%d", n.slot), n.readyCh, n.onReady
}

// readLoop blocks on the hub socket and hands each datagram to the
// dispatcher goroutine via readyCh, mirroring the original's select()
// loop waking dorecv().
func (n *NIC) readLoop() {
	buf := make([]byte, bufSize)
	for {
		nr, _, err := n.conn.ReadFromUnix(buf)
		if err != nil {
			select {
			case <-n.closed:
				return
			default:
			}
			continue
		}
		n.mu.Lock()
		n.pending = append([]byte(nil), buf[:nr]...)
		n.mu.Unlock()
		select {
		case n.readyCh <- struct{}{}:
		default:
		}
	}
}

// onReady runs dorecv's validation logic on the dispatcher goroutine,
// single-threaded with respect to Fetch/Store.
func (n *NIC) onReady() {
	n.mu.Lock()
	data := n.pending
	n.pending = nil
	n.mu.Unlock()
	if data == nil {
		return
	}
	n.dorecv(data)
}

func (n *NIC) dorecv(data []byte) {
	overrun := n.rirq != 0
	if len(data) < linkheaderSize {
		n.epkts++
		return
	}
	lh := unmarshalLinkheader(data)
	if lh.frame != frameMagic {
		n.epkts++
		return
	}
	if lh.to != n.hwaddr && lh.to != broadcastAddrWord && n.control&ctlPromisc == 0 {
		return
	}
	if int(lh.packetlen) != len(data) {
		n.epkts++
		return
	}
	if overrun {
		n.dpkts++
		return
	}
	copy(n.rbuf[:], data)
	n.rpkts++
	n.rirq = intrDone
	n.chkint()
}

func (n *NIC) dosend() {
	lh := unmarshalLinkheader(n.wbuf[:linkheaderSize])
	length := int(lh.packetlen)
	if length > bufSize {
		slog.Error("nic: packet too long", "slot", n.slot, "len", length)
		n.writedone()
		return
	}
	lh.frame = frameMagic
	lh.from = n.hwaddr
	copy(n.wbuf[:linkheaderSize], lh.marshal())

	_, err := n.conn.WriteToUnix(n.wbuf[:length], n.hubAddr)
	if err != nil {
		slog.Warn("nic: sendto failed", "slot", n.slot, "err", err)
	}
	n.wpkts++
	n.writedone()
}

func (n *NIC) writedone() {
	n.wirq = intrDone
	n.chkint()
}

func (n *NIC) chkint() {
	if n.rirq != 0 || n.wirq != 0 {
		n.bus.RaiseIRQ(n.slot)
	} else {
		n.bus.LowerIRQ(n.slot)
	}
}

// keepalive pings the hub once a second so it learns (or re-learns)
// this NIC's address, and tracks carrier loss (dev_net.c keepalive()).
func (n *NIC) keepalive(data any, code uint32) {
	lh := linkheader{frame: frameMagic, from: n.hwaddr, packetlen: linkheaderSize, to: hubAddrWord}
	_, err := n.conn.WriteToUnix(lh.marshal(), n.hubAddr)
	switch {
	case err != nil && isNoCarrier(err):
		if !n.lostCarrier {
			slog.Warn("nic: lost carrier", "slot", n.slot)
			n.lostCarrier = true
		}
	case err != nil:
		slog.Warn("nic: keepalive failed", "slot", n.slot, "err", err)
	default:
		if n.lostCarrier {
			slog.Info("nic: carrier detected", "slot", n.slot)
			n.lostCarrier = false
		}
	}
	n.sched.Schedule(keepaliveNs, nil, 0, n.keepalive, "net keepalive")
}

func isNoCarrier(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ENOTSOCK)
}

func (n *NIC) setirq(val uint32, isRead bool) bool {
	if val&intrZero != 0 {
		return false
	}
	if isRead {
		n.rirq = val
	} else {
		n.wirq = val
	}
	n.chkint()
	return true
}

func (n *NIC) setctl(val uint32) bool {
	if val&ctlZero != 0 {
		return false
	}
	if val&ctlStart != 0 {
		if n.control&ctlStart != 0 {
			return false
		}
		n.sched.Schedule(networkLatencyNs, nil, 0, n.triggersend, "packet send")
	} else if n.control&ctlStart != 0 {
		// cannot turn it off explicitly
		val |= ctlStart
	}
	n.control = val
	return true
}

func (n *NIC) triggersend(data any, code uint32) {
	n.dosend()
	n.control &^= ctlStart
}

func (n *NIC) status() uint32 {
	s := uint32(n.hwaddr) & statusHWAddrMask
	if !n.lostCarrier {
		s |= statusCarrier
	}
	return s
}

// Fetch implements device.Device.
func (n *NIC) Fetch(cpunum int, offset uint32) (uint32, bool) {
	if offset >= readBufOff && offset < readBufOff+bufSize {
		return binary.BigEndian.Uint32(n.rbuf[offset-readBufOff:]), true
	}
	if offset >= writeBufOff && offset < writeBufOff+bufSize {
		return binary.BigEndian.Uint32(n.wbuf[offset-writeBufOff:]), true
	}
	switch offset {
	case regReadIntr:
		return n.rirq, true
	case regWriteIntr:
		return n.wirq, true
	case regControl:
		return n.control, true
	case regStatus:
		return n.status(), true
	}
	return 0, false
}

// Store implements device.Device.
func (n *NIC) Store(cpunum int, offset uint32, value uint32) bool {
	if offset >= readBufOff && offset < readBufOff+bufSize {
		binary.BigEndian.PutUint32(n.rbuf[offset-readBufOff:], value)
		return true
	}
	if offset >= writeBufOff && offset < writeBufOff+bufSize {
		binary.BigEndian.PutUint32(n.wbuf[offset-writeBufOff:], value)
		return true
	}
	switch offset {
	case regReadIntr:
		return n.setirq(value, true)
	case regWriteIntr:
		return n.setirq(value, false)
	case regControl:
		return n.setctl(value)
	}
	return false
}

// PacketCounts returns the cumulative number of packets received and
// sent, for the metering protocol's "net" column (dev_net.c
// contributes to g_stats.s_rpkts/s_wpkts).
func (n *NIC) PacketCounts() (received, sent uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rpkts, n.wpkts
}

// Dump implements device.Device.
func (n *NIC) Dump() string {
	carrier := "detected"
	if n.lostCarrier {
		carrier = "none"
	}
	return fmt.Sprintf("nic: slot %d hub=%s carrier=%s rirq=%d wirq=%d control=%#x status=%#04x rx=%d tx=%d err=%d drop=%d",
		n.slot, n.hubAddr.Name, carrier, n.rirq, n.wirq, n.control, n.status(), n.rpkts, n.wpkts, n.epkts, n.dpkts)
}

// Cleanup implements device.Device.
func (n *NIC) Cleanup() {
	close(n.closed)
	n.conn.Close()
}
