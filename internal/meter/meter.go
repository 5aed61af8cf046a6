/*
   Metering protocol server: reports periodic performance counters to
   attached monitor clients over an AF_UNIX stream socket
   (main/meter.c).

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

// Package meter implements the v2 metering protocol: an AF_UNIX
// stream server that greets each connecting client with HELLO/HEAD/
// WIDTH lines and then reports DATA lines on a fixed virtual-time
// cadence, with the v2 extension letting a client narrow or widen
// that cadence with an "interval <ns>" request.
package meter

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/ops161/sys161go/internal/event"
)

const (
	protocolVersion = 2

	// defaultIntervalNs matches the original's fixed METER_NSECS cadence.
	defaultIntervalNs = 200_000_000

	// minIntervalNs/maxIntervalNs bound a client's "interval" request;
	// the original protocol had no such command to bound.
	minIntervalNs = 10_000_000
	maxIntervalNs = 10_000_000_000

	headerLine = "HEAD kern user idle kinsns uinsns irqs exns disk con emu net\r\n"
	widthLine  = "WIDTH 9 9 9 7 7 4 4 4 5 4 4\r\n"
)

// CPUCounters is the subset of a CPU's counters the meter reports,
// copied by value so this package never imports internal/cpu — the
// same decoupling internal/gdbstub uses for internal/machine.
type CPUCounters struct {
	KernelCycles, UserCycles, IdleCycles uint64
	KernelRetired, UserRetired           uint64
	Irqs, Exceptions                     uint64
}

// Target is the machine surface the meter reports on. Every field
// aggregates across however many instances of that device exist;
// main.go wires these closures once at startup.
type Target struct {
	CPUStats     func() []CPUCounters
	DiskSectors  func() (read, written uint64)
	ConsoleChars func() (read, written uint64)
	EmuOps       func() (read, written, other uint64)
	NetPkts      func() (received, sent uint64)
}

// Server accepts metering connections on a listener and drives each
// one's periodic report off the virtual-time scheduler, the same
// event-pool discipline every other device in the machine uses
// (schedule_event(METER_NSECS, ...) in the original).
type Server struct {
	ln     net.Listener
	target Target
	sched  *event.Scheduler
}

// Listen binds a Unix domain stream socket at path (meter_listen).
func Listen(path string, target Target, sched *event.Scheduler) (*Server, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("meter: listen %s: %w", path, err)
	}
	return &Server{ln: ln, target: target, sched: sched}, nil
}

// Addr returns the bound socket address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until the listener is closed. Unlike
// gdbstub, any number of monitor clients may be attached at once
// (meter_listen's backlog of 2, no single-session enforcement).
func (s *Server) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.handle(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

func (s *Server) handle(conn net.Conn) {
	sess := &session{conn: conn, target: s.target, sched: s.sched, intervalNs: defaultIntervalNs}
	fmt.Fprintf(conn, "HELLO %d\r\n", protocolVersion)
	conn.Write([]byte(headerLine))
	conn.Write([]byte(widthLine))
	go sess.readLoop()
	sess.scheduleReport()
}

// session is one attached monitor client (struct meter in the
// original, which held only the fd — intervalNs is the v2 addition).
type session struct {
	conn   net.Conn
	target Target
	sched  *event.Scheduler

	mu         sync.Mutex
	intervalNs int64
	closed     bool
}

func (sess *session) currentInterval() int64 {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.intervalNs
}

func (sess *session) isClosed() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.closed
}

func (sess *session) markClosed() {
	sess.mu.Lock()
	sess.closed = true
	sess.mu.Unlock()
	sess.conn.Close()
}

func (sess *session) scheduleReport() {
	sess.sched.Schedule(sess.currentInterval(), sess, 0, reportCallback, "perfmeter")
}

func reportCallback(data any, code uint32) {
	sess := data.(*session)
	if sess.isClosed() {
		return
	}
	sess.report()
	sess.scheduleReport()
}

// report writes one DATA line, aggregating every CPU and device
// counter (meter_report's totals-across-all-cpus plus the per-device
// sector/char/op/packet sums main.c prints in its own stats dump).
func (sess *session) report() {
	var kc, uc, ic, kr, ur, irqs, exns uint64
	for _, c := range sess.target.CPUStats() {
		kc += c.KernelCycles
		uc += c.UserCycles
		ic += c.IdleCycles
		kr += c.KernelRetired
		ur += c.UserRetired
		irqs += c.Irqs
		exns += c.Exceptions
	}
	dr, dw := sess.target.DiskSectors()
	cr, cw := sess.target.ConsoleChars()
	er, ew, eo := sess.target.EmuOps()
	nr, nw := sess.target.NetPkts()

	line := fmt.Sprintf("DATA %d %d %d %d %d %d %d %d %d %d %d\r\n",
		kc, uc, ic, kr, ur, irqs, exns, dr+dw, cr+cw, er+ew+eo, nr+nw)
	if _, err := sess.conn.Write([]byte(line)); err != nil {
		sess.markClosed()
	}
}

// readLoop consumes whatever the client sends. The v1 protocol
// ignores all client input (meter_receive); v2 additionally
// recognizes a bare "interval <nanoseconds>" line, clamped to
// [minIntervalNs, maxIntervalNs], and otherwise keeps ignoring
// anything else it's sent.
func (sess *session) readLoop() {
	r := bufio.NewReader(sess.conn)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			sess.handleLine(line)
		}
		if err != nil {
			sess.markClosed()
			return
		}
	}
}

func (sess *session) handleLine(line string) {
	line = strings.TrimSpace(line)
	arg, ok := strings.CutPrefix(line, "interval ")
	if !ok {
		return
	}
	ns, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return
	}
	if ns < minIntervalNs {
		ns = minIntervalNs
	} else if ns > maxIntervalNs {
		ns = maxIntervalNs
	}
	sess.mu.Lock()
	sess.intervalNs = ns
	sess.mu.Unlock()
}
