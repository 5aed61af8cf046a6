/*
   Machine: the top-level assembly of RAM, bus, CPUs, scheduler, and
   external-event dispatcher, plus the cooperative main loop that
   drives them.

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
   ROBERT M SUPNIK BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
   IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
   CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

*/

package machine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ops161/sys161go/internal/bus"
	"github.com/ops161/sys161go/internal/cpu"
	"github.com/ops161/sys161go/internal/event"
	"github.com/ops161/sys161go/internal/memory"
	"github.com/ops161/sys161go/internal/selectloop"
)

// Rotor is the maximum number of virtual cycles run per main-loop
// batch before external fds are polled again.
const Rotor = 50_000

// Machine owns every simulated resource: one Machine per process.
// There is no package-level global state; every resource is reachable
// only through a Machine value.
type Machine struct {
	RAM        *memory.RAM
	Bus        *bus.Bus
	CPUs       []*cpu.CPU
	Scheduler  *event.Scheduler
	Dispatcher *selectloop.Dispatcher

	rotorAccum int

	debuggerEntered  bool
	shutoffRequested bool

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New assembles a Machine from its already-constructed parts. Wiring
// RAM/Bus/CPUs/device slots together is main.go's job; Machine only
// owns the main loop over them.
func New(ram *memory.RAM, b *bus.Bus, cpus []*cpu.CPU, sched *event.Scheduler, disp *selectloop.Dispatcher) *Machine {
	return &Machine{
		RAM:        ram,
		Bus:        b,
		CPUs:       cpus,
		Scheduler:  sched,
		Dispatcher: disp,
		done:       make(chan struct{}),
	}
}

// SetLamebusIRQ implements bus.CPULine: the bus aggregator calls this
// after any raise/lower/mask write to deliver the re-evaluated
// per-CPU external line, without the bus needing to know about cpu.CPU
// at all.
func (m *Machine) SetLamebusIRQ(cpunum int, asserted bool) {
	if cpunum < 0 || cpunum >= len(m.CPUs) {
		return
	}
	m.CPUs[cpunum].RaiseLamebusIRQ(asserted)
}

// RequestShutoff arms the orderly-shutdown flag the main loop checks
// every iteration. main.go's SIGINT/SIGTERM handler calls it; the bus
// controller's power-register shutoff does not go through it.
func (m *Machine) RequestShutoff() {
	m.shutoffRequested = true
}

// EnterDebugger / LeaveDebugger / InDebugger gate the main loop's
// debugger sub-loop: while entered, run only services external fds
// and never steps a CPU.
func (m *Machine) EnterDebugger()   { m.debuggerEntered = true }
func (m *Machine) LeaveDebugger()   { m.debuggerEntered = false }
func (m *Machine) InDebugger() bool { return m.debuggerEntered }

// Start runs the main loop on its own goroutine. Everything inside
// the loop itself is still single-threaded and cooperative; the
// goroutine only exists so Stop can signal shutdown asynchronously
// from a caller such as a SIGINT handler.
func (m *Machine) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run()
	}()
}

// Stop signals the main loop to exit and waits for it, with a timeout
// so a wedged device cleanup hook cannot hang the process forever.
func (m *Machine) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	waited := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		slog.Warn("machine: timed out waiting for main loop to exit")
	}
}

// run is the main loop: alternate bounded CPU batches with brief
// external-fd polling, sleeping on external events only when every
// CPU has gone idle.
func (m *Machine) run() {
	for {
		select {
		case <-m.done:
			m.Bus.Cleanup()
			slog.Info("machine: shut down")
			return
		default:
		}

		if m.shutoffRequested {
			m.Bus.Cleanup()
			slog.Info("machine: orderly poweroff")
			return
		}

		if m.debuggerEntered {
			m.Dispatcher.Wait(10 * time.Millisecond)
			continue
		}

		if !m.anyCPURunning() {
			m.Scheduler.WaitForExternal(m.Dispatcher)
			continue
		}

		goticks := Rotor
		if mc := m.Scheduler.MaxCyclesUntilNextEvent(); mc < goticks {
			goticks = mc
		}
		wentticks := m.runCPUBatch(goticks)
		m.Scheduler.Advance(wentticks)

		m.rotorAccum += wentticks
		if m.rotorAccum >= Rotor || wentticks == 0 {
			m.Dispatcher.Poll()
			m.rotorAccum = 0
		}
	}
}

// runCPUBatch steps every non-disabled CPU once per virtual cycle, in
// ascending index order, for up to goticks cycles or until every CPU
// has gone idle, whichever comes first. Returns the number of cycles
// actually billed.
func (m *Machine) runCPUBatch(goticks int) int {
	ticks := 0
	for ticks < goticks {
		anyActive := false
		for _, c := range m.CPUs {
			if c.State() == cpu.Disabled {
				continue
			}
			c.Step()
			if c.BreakHit() {
				m.EnterDebugger()
				return ticks
			}
			c.Tick(1)
			if c.State() != cpu.Idle {
				anyActive = true
			}
		}
		ticks++
		if !anyActive {
			break
		}
	}
	return ticks
}

// OneCycle runs exactly one cycle on a single CPU, used by the
// debugger's single-step command. Builtin breakpoints are expected to
// be recognized by the debugger before calling this, so that hitting
// one never reaches here and never bills a cycle.
func (m *Machine) OneCycle(cpunum int) int {
	if cpunum < 0 || cpunum >= len(m.CPUs) {
		return 0
	}
	retired := m.CPUs[cpunum].Step()
	m.CPUs[cpunum].Tick(1)
	m.Scheduler.Advance(1)
	return retired
}

func (m *Machine) anyCPURunning() bool {
	for _, c := range m.CPUs {
		if c.State() == cpu.Running {
			return true
		}
	}
	return false
}

// Stats returns every CPU's current counters, for the debugger "stats"
// command and the exit-time summary.
func (m *Machine) Stats() []cpu.Stats {
	out := make([]cpu.Stats, len(m.CPUs))
	for i, c := range m.CPUs {
		out[i] = c.GetStats()
	}
	return out
}
