/*
   LAMEbus timer/clock device: wall-clock time-of-day registers, a
   one-shot or auto-restarting countdown timer, and a speaker beep.

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

package clock

import (
	"fmt"

	"github.com/ops161/sys161go/internal/bus"
	"github.com/ops161/sys161go/internal/event"
)

// Register offsets (ops-class/sys161 bus/dev_timer.c TREG_*).
const (
	regTSec    = 0x00
	regTNSec   = 0x04
	regRestart = 0x08
	regIRQ     = 0x0c
	regTime    = 0x10
	regBeep    = 0x14
)

// Timer is a LAMEbus timer device: one per slot it's attached to.
// Reading or writing the reserved registers is an illegal access on
// real hardware (dev_timer.c hangs the machine); here it's reported
// the same way any other unmapped access is, via (0, false), which the
// CPU core turns into a bus-error exception rather than a hard halt.
type Timer struct {
	slot   int
	bus    *bus.Bus
	sched  *event.Scheduler
	onBeep func()

	restart    bool
	countUsecs uint32
	generation uint32
}

// New creates a timer device attached at the given slot.
func New(slot int, b *bus.Bus, sched *event.Scheduler, onBeep func()) *Timer {
	return &Timer{slot: slot, bus: b, sched: sched, onBeep: onBeep}
}

// Fetch implements device.Device.
func (t *Timer) Fetch(cpunum int, offset uint32) (uint32, bool) {
	switch offset {
	case regTSec:
		secs, _ := t.sched.WallClock()
		return uint32(secs), true
	case regTNSec:
		_, nsecs := t.sched.WallClock()
		return uint32(nsecs), true
	case regRestart:
		if t.restart {
			return 1, true
		}
		return 0, true
	case regIRQ:
		v := uint32(0)
		if t.bus.Raised()&(1<<uint(t.slot)) != 0 {
			v = 1
		}
		t.bus.LowerIRQ(t.slot)
		return v, true
	case regTime:
		return t.countUsecs, true
	}
	return 0, false
}

// Store implements device.Device.
func (t *Timer) Store(cpunum int, offset uint32, value uint32) bool {
	switch offset {
	case regTSec:
		_, nsecs := t.sched.WallClock()
		t.sched.SetWallClockOffset(int64(value), nsecs)
		return true
	case regTNSec:
		secs, _ := t.sched.WallClock()
		t.sched.SetWallClockOffset(secs, int64(value))
		return true
	case regRestart:
		t.restart = value != 0
		return true
	case regTime:
		t.countUsecs = value
		t.start()
		return true
	case regBeep:
		if t.onBeep != nil {
			t.onBeep()
		}
		return true
	}
	return false
}

// start (re)arms the countdown, discarding any previously scheduled
// firing via the generation counter so back-to-back TIME writes don't
// double-fire (dev_timer.c's td_generation).
func (t *Timer) start() {
	t.generation++
	gen := t.generation
	nsecs := int64(t.countUsecs) * 1000
	t.sched.Schedule(nsecs, nil, gen, t.fire, "timer")
}

func (t *Timer) fire(data any, gen uint32) {
	if gen != t.generation {
		return
	}
	t.bus.RaiseIRQ(t.slot)
	if t.restart {
		t.start()
	}
}

// Dump implements device.Device.
func (t *Timer) Dump() string {
	mode := "one-shot"
	if t.restart {
		mode = "restarting"
	}
	return fmt.Sprintf("timer: slot=%d %dus %s gen=%d", t.slot, t.countUsecs, mode, t.generation)
}

// Cleanup implements device.Device. The timer holds no host resources.
func (t *Timer) Cleanup() {}
