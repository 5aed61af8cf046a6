/*
   sys161hub listens on an AF_UNIX datagram socket and redistributes
   every packet it receives to every sender it has seen (the packet's
   own sender included), the
   counterpart internal/devices/net's NICs dial out to.

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

package main

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"os"
)

const (
	defaultSocket = ".sockets/hub"

	hubAddr       = 0x0000
	broadcastAddr = 0xffff
	frameMagic    = 0xa4b3
	maxPacket     = 4096

	linkheaderSize = 8

	maxSenderErrors = 5
)

type sender struct {
	addr   uint16
	raddr  *net.UnixAddr
	errors int
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: sys161hub [socketname]")
	fmt.Fprintf(os.Stderr, "    Default socket is %s\n", defaultSocket)
	os.Exit(3)
}

func main() {
	sockName := defaultSocket
	switch len(os.Args) {
	case 1:
	case 2:
		sockName = os.Args[1]
	default:
		usage()
	}

	if fi, err := os.Lstat(sockName); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			fmt.Fprintf(os.Stderr, "sys161hub: %s: file exists\n", sockName)
			os.Exit(1)
		}
		os.Remove(sockName)
	}

	addr, err := net.ResolveUnixAddr("unixgram", sockName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sys161hub: %v\n", err)
		os.Exit(1)
	}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sys161hub: bind: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Printf("sys161hub: listening on %s\n", sockName)
	serve(conn)
}

func serve(conn *net.UnixConn) {
	senders := make(map[uint16]*sender)
	buf := make([]byte, maxPacket)

	for {
		n, from, err := conn.ReadFromUnix(buf)
		if err != nil {
			slog.Error("sys161hub: recvfrom", "err", err)
			continue
		}
		pkt := buf[:n]

		if n < linkheaderSize {
			slog.Warn("sys161hub: runt packet", "size", n)
			continue
		}
		frame := binary.BigEndian.Uint16(pkt[0:])
		lhFrom := binary.BigEndian.Uint16(pkt[2:])
		packetlen := binary.BigEndian.Uint16(pkt[4:])
		lhTo := binary.BigEndian.Uint16(pkt[6:])

		if frame != frameMagic {
			slog.Warn("sys161hub: frame error", "frame", frame)
			continue
		}
		if int(packetlen) != n {
			slog.Warn("sys161hub: bad size", "header", packetlen, "actual", n)
			continue
		}
		if lhFrom == broadcastAddr {
			slog.Warn("sys161hub: packet came from broadcast addr, dropped")
			continue
		}

		checkSender(senders, lhFrom, from)

		if lhTo == hubAddr {
			continue
		}

		dosend(conn, senders, pkt)
		killSenders(senders)
	}
}

func checkSender(senders map[uint16]*sender, addr uint16, raddr *net.UnixAddr) {
	if sdr, ok := senders[addr]; ok {
		sdr.raddr = raddr
		return
	}
	fmt.Printf("sys161hub: adding %04x from %s\n", addr, raddr.Name)
	senders[addr] = &sender{addr: addr, raddr: raddr}
}

func dosend(conn *net.UnixConn, senders map[uint16]*sender, pkt []byte) {
	for _, sdr := range senders {
		if _, err := conn.WriteToUnix(pkt, sdr.raddr); err != nil {
			slog.Error("sys161hub: sendto", "addr", fmt.Sprintf("%04x", sdr.addr), "err", err)
			sdr.errors++
		}
	}
}

func killSenders(senders map[uint16]*sender) {
	for addr, sdr := range senders {
		if sdr.errors > maxSenderErrors {
			fmt.Printf("sys161hub: dropping %04x\n", addr)
			delete(senders, addr)
		}
	}
}
