/*
   GDB remote serial protocol stub: lets an external gdb attach to a
   running machine, read/write registers and memory, and single-step
   or continue it.

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

// Package gdbstub implements the subset of the GDB remote serial
// protocol sys161 has always spoken (gdb/gdb_be.c, gdb/gdb_fe.c):
// register/memory read and write, continue, single-step, and thread
// (== CPU) selection, with every packet sys161 itself never
// implemented answered with the protocol's own "unsupported" marker.
package gdbstub

import (
	"fmt"
	"strconv"
	"strings"
)

// Target is the machine surface the stub drives. Implemented by
// internal/machine so this package never imports internal/cpu or
// internal/machine directly (the same decoupling as trace.Hooks and
// mainboard's onPower).
type Target struct {
	NumCPUs     func() int
	CPUEnabled  func(cpu int) bool
	BreakCPU    func() int // which CPU most recently hit a breakpoint
	Regs        func(cpu int) [48]uint32
	SetEntry    func(cpu int, pc uint32)
	FetchByte   func(cpu int, vaddr uint32) (uint8, bool)
	FetchWord   func(cpu int, vaddr uint32) (uint32, bool)
	StoreByte   func(cpu int, vaddr uint32, v uint8) bool
	StoreWord   func(cpu int, vaddr uint32, v uint32) bool
	StopCycling func()
	SingleStep  func()
	Resume      func()
	Kill        func()
}

// Session is one attached debugger connection, matching the original
// single-session "struct gdbcontext" (sys161 only ever talks to one
// debugger at a time; a second connection is told E99 and dropped —
// see Listener in listener.go).
type Session struct {
	target   Target
	out      writeFlusher
	debugCPU int
}

type writeFlusher interface {
	Write(p []byte) (int, error)
}

// NewSession creates a session that writes its replies to out.
func NewSession(target Target, out writeFlusher) *Session {
	return &Session{target: target, out: out}
}

// Feed processes newly arrived bytes, extracting and executing every
// complete $...#cc packet they contain, and returns the bytes that
// remain buffered for the next call waiting on the rest of a packet
// (gdb_fe.c gdb_receive's "keep only the part of the buffer we
// haven't used yet").
func (s *Session) Feed(buf []byte) []byte {
	for {
		start := indexByte(buf, '$')
		if start < 0 {
			return nil
		}
		hash := indexByte(buf[start:], '#')
		if hash < 0 {
			return buf[start:]
		}
		hash += start
		if hash+2 >= len(buf) {
			return buf[start:]
		}
		packet := buf[start : hash+3]
		s.handlePacket(packet)
		buf = buf[hash+3:]
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// handlePacket verifies the checksum of one "$body#cc" packet, ACKs
// or NAKs it, and dispatches body to the command table.
func (s *Session) handlePacket(packet []byte) {
	body := packet[1 : len(packet)-3]
	wantStr := string(packet[len(packet)-2:])

	sum := 0
	for _, c := range body {
		sum += int(c)
	}
	want, err := strconv.ParseUint(wantStr, 16, 8)
	if err != nil || int(want) != sum%256 {
		s.out.Write([]byte("-"))
		return
	}
	s.out.Write([]byte("+"))

	if len(body) == 0 {
		return
	}
	s.dispatch(string(body))
}

func (s *Session) send(body string) {
	sum := 0
	for _, c := range []byte(body) {
		sum += int(c)
	}
	fmt.Fprintf(s.out, "$%s#%02x", body, sum%256)
}

func (s *Session) sendf(format string, args ...any) {
	s.send(fmt.Sprintf(format, args...))
}

// notSupported is the RSP convention for "I don't implement this
// packet": an empty reply body (gdb_be.c debug_notsupp).
func (s *Session) notSupported() {
	s.out.Write([]byte("$\x00#00"))
}

func mkThreadID(cpu int) int   { return cpu + 10 }
func getThreadID(s string) int {
	v, _ := strconv.ParseUint(firstHexByte(s), 16, 32)
	return int(v) - 10
}

func firstHexByte(s string) string {
	if len(s) >= 2 {
		return s[:2]
	}
	return s
}

func (s *Session) dispatch(pkt string) {
	switch pkt[0] {
	case '?':
		s.sendStopInfo()
	case 'c':
		s.restart(pkt[1:])
		s.target.Resume()
	case 'D':
		s.send("OK")
		s.target.Resume()
	case 'g':
		s.printRegs()
	case 'H':
		s.handleSetThread(pkt[1:])
	case 'k':
		s.target.Kill()
	case 'm':
		s.readMem(pkt[1:])
	case 'M':
		s.writeMem(pkt[1:])
	case 'q':
		s.handleQuery(pkt[1:])
	case 's':
		s.restart(pkt[1:])
		s.target.SingleStep()
		s.sendStopInfo()
	case 'T':
		s.checkThread(pkt[1:])
	default:
		s.notSupported()
	}
}

func (s *Session) sendStopInfo() {
	s.debugCPU = s.target.BreakCPU()
	s.sendf("T05thread:%x;", mkThreadID(s.debugCPU))
}

func (s *Session) restart(addr string) {
	if addr == "" {
		return
	}
	v, err := strconv.ParseUint(addr, 16, 32)
	if err != nil {
		return
	}
	s.target.SetEntry(s.debugCPU, uint32(v))
}

func (s *Session) printRegs() {
	regs := s.target.Regs(s.debugCPU)
	var b strings.Builder
	for _, r := range regs {
		fmt.Fprintf(&b, "%08x", r)
	}
	s.send(b.String())
}

func (s *Session) handleSetThread(pkt string) {
	if len(pkt) == 0 {
		s.send("OK")
		return
	}
	switch pkt[0] {
	case 'c':
		s.notSupported()
	case 'g':
		cpu := getThreadID(pkt[1:])
		if cpu < 0 || cpu >= s.target.NumCPUs() {
			s.send("E00")
			return
		}
		s.debugCPU = cpu
		s.send("OK")
	default:
		s.send("OK")
	}
}

func (s *Session) readMem(spec string) {
	parts := strings.SplitN(spec, ",", 2)
	if len(parts) != 2 {
		s.send("E03")
		return
	}
	vaddr64, err1 := strconv.ParseUint(parts[0], 16, 32)
	length64, err2 := strconv.ParseUint(parts[1], 16, 32)
	if err1 != nil || err2 != nil {
		s.send("E03")
		return
	}
	vaddr, length := uint32(vaddr64), uint32(length64)

	var b strings.Builder
	i := uint32(0)
	for ; i < length && (vaddr+i)%4 != 0; i++ {
		v, ok := s.target.FetchByte(s.debugCPU, vaddr+i)
		if !ok {
			s.send("E03")
			return
		}
		fmt.Fprintf(&b, "%02x", v)
	}
	for ; i < length; i += 4 {
		v, ok := s.target.FetchWord(s.debugCPU, vaddr+i)
		if !ok {
			s.send("E03")
			return
		}
		fmt.Fprintf(&b, "%08x", v)
	}
	s.send(b.String())
}

func (s *Session) writeMem(spec string) {
	comma := strings.IndexByte(spec, ',')
	colon := strings.IndexByte(spec, ':')
	if comma < 0 || colon < 0 || colon < comma {
		s.send("E03")
		return
	}
	vaddr64, err1 := strconv.ParseUint(spec[:comma], 16, 32)
	length64, err2 := strconv.ParseUint(spec[comma+1:colon], 16, 32)
	if err1 != nil || err2 != nil {
		s.send("E03")
		return
	}
	vaddr, length := uint32(vaddr64), uint32(length64)
	hexdata := spec[colon+1:]

	data := make([]byte, length)
	for i := uint32(0); i < length; i++ {
		if int(2*i)+2 > len(hexdata) {
			break
		}
		v, _ := strconv.ParseUint(hexdata[2*i:2*i+2], 16, 8)
		data[i] = byte(v)
	}

	i := uint32(0)
	for ; i < length && (vaddr+i)%4 != 0; i++ {
		if !s.target.StoreByte(s.debugCPU, vaddr+i, data[i]) {
			s.send("E03")
			return
		}
	}
	for ; i+4 <= length; i += 4 {
		word := uint32(data[i])<<24 | uint32(data[i+1])<<16 | uint32(data[i+2])<<8 | uint32(data[i+3])
		if !s.target.StoreWord(s.debugCPU, vaddr+i, word) {
			s.send("E03")
			return
		}
	}
	for ; i < length; i++ {
		if !s.target.StoreByte(s.debugCPU, vaddr+i, data[i]) {
			s.send("E03")
			return
		}
	}
	s.send("OK")
}

func (s *Session) checkThread(pkt string) {
	cpu := getThreadID(pkt)
	if cpu < 0 || cpu >= s.target.NumCPUs() {
		s.send("E00")
		return
	}
	if !s.target.CPUEnabled(cpu) {
		s.send("E01")
		return
	}
	s.send("OK")
}

func (s *Session) handleQuery(q string) {
	switch {
	case q == "C":
		s.sendf("QC%x", mkThreadID(s.debugCPU))
	case q == "fThreadInfo":
		var b strings.Builder
		b.WriteByte('m')
		first := true
		for i := 0; i < s.target.NumCPUs(); i++ {
			if !s.target.CPUEnabled(i) {
				continue
			}
			if !first {
				b.WriteByte(',')
			}
			first = false
			fmt.Fprintf(&b, "%02x", mkThreadID(i))
		}
		s.send(b.String())
	case q == "sThreadInfo":
		s.send("l")
	case strings.HasPrefix(q, "ThreadExtraInfo,"):
		cpu := getThreadID(q[len("ThreadExtraInfo,"):])
		if cpu < 0 || cpu >= s.target.NumCPUs() {
			s.send("E00")
			return
		}
		text := fmt.Sprintf("CPU %d", cpu)
		var b strings.Builder
		for i := 0; i < len(text); i++ {
			fmt.Fprintf(&b, "%02x", text[i])
		}
		s.send(b.String())
	default:
		s.notSupported()
	}
}
