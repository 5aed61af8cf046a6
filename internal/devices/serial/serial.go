/*
   LAMEbus serial port device: a single-character read/write UART with
   wire-time throttling and independent read/write interrupt gating.

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

package serial

import (
	"fmt"
	"log/slog"

	"github.com/ops161/sys161go/internal/bus"
	"github.com/ops161/sys161go/internal/event"
)

// Register offsets (ops-class/sys161 bus/dev_serial.c SERREG_*).
const (
	regChar = 0x0
	regWIRQ = 0x4
	regRIRQ = 0x8
)

// Per-direction IRQ-gate bits (dev_serial.c IRQF_*).
const (
	irqOn    = 0x1
	irqReady = 0x2
	irqForce = 0x4
)

const inbufSize = 512

// 19200 bps sped up 25x (dev_serial.c/speed.h SERIAL_NSECS), so
// terminal output doesn't crawl at the CPU's nominal 25MHz rate.
const serialNsecsPerChar = 1_000_000_000 / ((19200 * 25) / 10)

type irqGate struct {
	on, ready, force bool
}

func (g irqGate) fetch() uint32 {
	var v uint32
	if g.on {
		v |= irqOn
	}
	if g.ready {
		v |= irqReady
	}
	if g.force {
		v |= irqForce
	}
	return v
}

func (g *irqGate) store(v uint32) {
	g.on = v&irqOn != 0
	g.ready = v&irqReady != 0
	g.force = v&irqForce != 0
}

func (g irqGate) asserted() bool {
	return g.on && (g.ready || g.force)
}

// Serial is a LAMEbus serial port device.
type Serial struct {
	slot     int
	bus      *bus.Bus
	sched    *event.Scheduler
	onOutput func(byte)

	wbusy bool
	rbusy bool
	rirq  irqGate
	wirq  irqGate

	readch  uint32
	didread bool

	inbuf     [inbufSize]byte
	inbufHead int
	inbufTail int

	overrunWarned bool

	rchars uint64
	wchars uint64
}

// New creates a serial port attached at slot. onOutput is called with
// every byte the guest writes to the character register (console.go
// wires this to the actual terminal/telnet session).
func New(slot int, b *bus.Bus, sched *event.Scheduler, onOutput func(byte)) *Serial {
	return &Serial{slot: slot, bus: b, sched: sched, onOutput: onOutput, didread: true}
}

func (s *Serial) setIRQ() {
	if s.rirq.asserted() || s.wirq.asserted() {
		s.bus.RaiseIRQ(s.slot)
	} else {
		s.bus.LowerIRQ(s.slot)
	}
}

// Fetch implements device.Device.
func (s *Serial) Fetch(cpunum int, offset uint32) (uint32, bool) {
	switch offset {
	case regChar:
		s.didread = true
		s.rchars++
		return s.readch, true
	case regRIRQ:
		return s.rirq.fetch(), true
	case regWIRQ:
		return s.wirq.fetch(), true
	}
	return 0, false
}

// Store implements device.Device.
func (s *Serial) Store(cpunum int, offset uint32, value uint32) bool {
	switch offset {
	case regChar:
		if !s.wbusy {
			s.wbusy = true
			s.wchars++
			if s.onOutput != nil {
				s.onOutput(byte(value))
			}
			s.sched.Schedule(serialNsecsPerChar, nil, 0, s.writeDone, "serial write")
		}
		return true
	case regRIRQ:
		s.rirq.store(value)
		s.setIRQ()
		return true
	case regWIRQ:
		s.wirq.store(value)
		s.setIRQ()
		return true
	}
	return false
}

func (s *Serial) writeDone(data any, code uint32) {
	s.wbusy = false
	s.wirq.ready = true
	s.setIRQ()
}

// PushInput feeds one host-side input byte into the device's ring
// buffer, matching dev_serial.c's console_onkey callback wired to the
// host terminal/telnet session. Drops and warns (once) on overrun.
func (s *Serial) PushInput(ch byte) {
	next := (s.inbufTail + 1) % inbufSize
	if next == s.inbufHead {
		if !s.overrunWarned {
			slog.Warn("serial: input buffer overrun, dropping input", "slot", s.slot)
		}
		s.overrunWarned = true
		return
	}
	s.overrunWarned = false
	s.inbuf[s.inbufTail] = ch
	s.inbufTail = next

	if !s.rbusy {
		s.pushInput(0)
	}
}

// pushInput advances one buffered byte into the read-char register,
// throttled at the same wire rate as output, re-arming itself on a
// timer as long as input remains buffered.
func (s *Serial) pushInput(code uint32) {
	if s.inbufHead == s.inbufTail {
		s.rbusy = false
		return
	}
	if !s.didread {
		s.sched.Schedule(serialNsecsPerChar, nil, 0, func(any, uint32) { s.pushInput(0) }, "serial read")
		return
	}

	ch := s.inbuf[s.inbufHead]
	s.inbufHead = (s.inbufHead + 1) % inbufSize

	s.readch = uint32(ch)
	s.didread = false
	s.rirq.ready = true
	s.setIRQ()

	s.rbusy = true
	s.sched.Schedule(serialNsecsPerChar, nil, 0, func(any, uint32) { s.pushInput(0) }, "serial read")
}

// CharCounts returns the cumulative number of characters read and
// written, for the metering protocol's "con" column
// (dev_serial.c contributes to g_stats.s_rchars/s_wchars).
func (s *Serial) CharCounts() (read, written uint64) {
	return s.rchars, s.wchars
}

// Dump implements device.Device.
func (s *Serial) Dump() string {
	return fmt.Sprintf("serial: slot=%d wbusy=%v rbusy=%v readch=%q", s.slot, s.wbusy, s.rbusy, rune(s.readch))
}

// Cleanup implements device.Device. The serial port holds no host
// resources of its own; console.go owns the terminal/telnet session.
func (s *Serial) Cleanup() {}
