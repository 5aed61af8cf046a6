package event

/*
 * sys161go - Virtual-time scheduler and event queue
 *
 * Copyright 2024, Richard Cornwell
 * Copyright 2026, sys161go contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

import (
	"fmt"
	"math/rand"
	"time"
)

const (
	// NsPerCycle is the fixed CPU clock rate: 40ns/cycle == 25 MHz.
	NsPerCycle = 40

	// SoftCeilingCycles bounds how far ahead the CPU may run before
	// the main loop re-plans, roughly 5ms of virtual time.
	SoftCeilingCycles = 125_000

	// maxEvents bounds the event pool; exhaustion is a fatal internal
	// error.
	maxEvents = 1024

	// jitterFraction is the maximum fraction of a delay added as
	// pseudo-random jitter.
	jitterFraction = 0.01

	// externalSleepThreshold: below this, wait_for_external snaps
	// virtual time directly to the pending event instead of sleeping.
	externalSleepThreshold = 10 * time.Millisecond
)

// Callback is invoked when a scheduled event fires.
type Callback func(data any, code uint32)

// Event is one entry in the sorted event queue.
type Event struct {
	deadline      int64 // absolute virtual_now ns
	data          any
	code          uint32
	cb            Callback
	desc          string
	isCPUDeadline bool
	seq           uint64 // insertion order, breaks deadline ties
}

// Poller abstracts the select/poll dispatcher so the scheduler can
// sleep on external fds without importing internal/selectloop
// (avoids an import cycle; selectloop does not need to know about
// virtual time).
type Poller interface {
	// Wait blocks for up to timeout waiting for any registered fd to
	// become ready, or forever if timeout < 0. Returns true if
	// something became ready before the timeout.
	Wait(timeout time.Duration) bool
}

// Scheduler is the virtual-time clock plus sorted event queue. One
// Scheduler belongs to exactly one Machine; there is no global
// instance (see DESIGN.md).
type Scheduler struct {
	events []*Event // ascending by (deadline, seq)
	seqGen uint64

	virtualNow int64 // ns since boot
	startSecs  int64
	startNsecs int64

	rng *rand.Rand

	// cpuStopRequested is set by every Schedule call and cleared by
	// MaxCyclesUntilNextEvent.
	cpuStopRequested bool

	extraSelectNs int64 // billed when select() returned early

	watchdogTimeout time.Duration
	watchdogDeadline time.Time
	watchdogArmed    bool
	watchdogWarned   bool
}

// New creates a scheduler seeded for deterministic jitter. startSecs/
// startNsecs are the wall-clock offset added when the guest reads the
// time-of-day.
func New(seed int64, startSecs, startNsecs int64) *Scheduler {
	return &Scheduler{
		rng:        rand.New(rand.NewSource(seed)),
		startSecs:  startSecs,
		startNsecs: startNsecs,
	}
}

// Now returns virtual_now in nanoseconds since boot.
func (s *Scheduler) Now() int64 {
	return s.virtualNow
}

// WallClock returns the guest-visible (seconds, nanoseconds) time of
// day: the host start offset plus virtual_now.
func (s *Scheduler) WallClock() (secs, nsecs int64) {
	total := s.startNsecs + s.virtualNow
	secs = s.startSecs + total/1_000_000_000
	nsecs = total % 1_000_000_000
	return secs, nsecs
}

// SetWallClockOffset lets the guest rewrite the host-synchronized
// date/time offset (timer device TOD registers).
func (s *Scheduler) SetWallClockOffset(secs, nsecs int64) {
	s.startSecs = secs - s.virtualNow/1_000_000_000
	s.startNsecs = nsecs
}

func (s *Scheduler) jitter(delay int64) int64 {
	if delay <= 0 {
		return 0
	}
	frac := s.rng.Float64() * jitterFraction
	return int64(float64(delay) * frac)
}

// Schedule inserts an event at now()+jittered(delay), maintaining
// ascending order, and sets cpuStopRequested whatever the new
// deadline. Nothing reads that flag, so a CPU batch already in flight
// is not cut short by an earlier event; the new deadline is honoured
// from the next MaxCyclesUntilNextEvent plan on.
func (s *Scheduler) Schedule(delay int64, data any, code uint32, cb Callback, desc string) error {
	if len(s.events) >= maxEvents {
		panic(fmt.Sprintf("smoke: event pool exhausted scheduling %q", desc))
	}
	deadline := s.virtualNow + delay + s.jitter(delay)
	ev := &Event{
		deadline: deadline,
		data:     data,
		code:     code,
		cb:       cb,
		desc:     desc,
		seq:      s.seqGen,
	}
	s.seqGen++

	i := 0
	for i < len(s.events) && (s.events[i].deadline < ev.deadline ||
		(s.events[i].deadline == ev.deadline && s.events[i].seq < ev.seq)) {
		i++
	}
	s.events = append(s.events, nil)
	copy(s.events[i+1:], s.events[i:])
	s.events[i] = ev

	s.cpuStopRequested = true
	return nil
}

// MaxCyclesUntilNextEvent returns the number of CPU cycles the CPU
// may run before the next event, rounded up, capped at
// SoftCeilingCycles. Returns 0 if an event is already due.
func (s *Scheduler) MaxCyclesUntilNextEvent() int {
	s.cpuStopRequested = false
	if len(s.events) == 0 {
		return SoftCeilingCycles
	}
	remaining := s.events[0].deadline - s.virtualNow
	if remaining <= 0 {
		return 0
	}
	cycles := (remaining + NsPerCycle - 1) / NsPerCycle
	if cycles > SoftCeilingCycles {
		cycles = SoftCeilingCycles
	}
	return int(cycles)
}

// Advance moves virtual_now forward by nticks cycles, then drains
// every event whose deadline has passed, in strict deadline order
// (ties broken by insertion order). Callbacks may themselves schedule
// further events; those are inserted correctly because Schedule uses
// the already-advanced virtual_now.
func (s *Scheduler) Advance(nticks int) {
	s.virtualNow += int64(nticks) * NsPerCycle

	for len(s.events) > 0 && s.events[0].deadline <= s.virtualNow {
		ev := s.events[0]
		s.events = s.events[1:]
		ev.cb(ev.data, ev.code)
	}
}

// AnyEvent reports whether an event is pending.
func (s *Scheduler) AnyEvent() bool {
	return len(s.events) > 0
}

// WaitForExternal is called when no CPU is running. If an event is
// pending and more than externalSleepThreshold of real time ahead, it
// sleeps in the poller for that long; if closer, it snaps virtual
// time directly to the event. With no event pending it blocks in the
// poller indefinitely.
func (s *Scheduler) WaitForExternal(p Poller) {
	if !s.AnyEvent() {
		p.Wait(-1)
		return
	}
	aheadNs := s.events[0].deadline - s.virtualNow
	if aheadNs <= 0 {
		return
	}
	ahead := time.Duration(aheadNs)
	if ahead > externalSleepThreshold {
		start := time.Now()
		woke := p.Wait(ahead)
		elapsed := time.Since(start)
		if woke && elapsed < ahead {
			s.extraSelectNs += int64(ahead - elapsed)
		}
		s.virtualNow += int64(elapsed)
		return
	}
	// Close enough: snap straight to the event rather than paying for
	// a short real sleep plus scheduling jitter.
	s.virtualNow = s.events[0].deadline
}

// ArmWatchdog enables the progress watchdog with timeout T. Disabled
// (zero value) means "-Z" was never given.
func (s *Scheduler) ArmWatchdog(t time.Duration) {
	s.watchdogTimeout = t
	s.watchdogArmed = t > 0
	s.watchdogDeadline = time.Now().Add(t)
	s.watchdogWarned = false
}

// NoteProgress resets the watchdog deadline; called once per CPU
// batch that retired at least one user-mode instruction.
func (s *Scheduler) NoteProgress() {
	if !s.watchdogArmed {
		return
	}
	s.watchdogDeadline = time.Now().Add(s.watchdogTimeout)
	s.watchdogWarned = false
}

// CheckWatchdog reports whether the soft (T) or hard (2T) deadline has
// elapsed without progress.
func (s *Scheduler) CheckWatchdog() (warn, forceStop bool) {
	if !s.watchdogArmed {
		return false, false
	}
	now := time.Now()
	if now.Before(s.watchdogDeadline) {
		return false, false
	}
	hard := s.watchdogDeadline.Add(s.watchdogTimeout)
	if now.After(hard) {
		return true, true
	}
	if !s.watchdogWarned {
		s.watchdogWarned = true
		return true, false
	}
	return false, false
}
