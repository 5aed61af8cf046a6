/*
   Minimal kernel PC-sampling profiler, dumped on exit as a gmon.out
   histogram (main/prof.c, main/gmon.h). Call graph edges are not
   collected; this is a thin PC-sampling profiler, not a full
   gprof-compatible one.

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

package profile

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

const (
	binSize   = 16 // bytes of text per histogram bin
	gmonMagic = "gmon"
	gmonVers  = 1
)

// Profiler accumulates a PC histogram between lowpc and highpc,
// gated on/off by the trace device's PROFEN/PROFCL registers
// (internal/devices/trace.Hooks.ProfEnable/ProfClear).
type Profiler struct {
	mu     sync.Mutex
	lowpc  uint32
	highpc uint32
	bins   []uint16
	active bool
	hz     uint32
}

// New creates a profiler covering [lowpc, highpc). hz is the sampling
// frequency recorded in the gmon header (PROFILE_HZ in the original,
// derived from the scheduler's fixed sampling period).
func New(lowpc, highpc uint32, hz uint32) *Profiler {
	nbins := uint32(0)
	if highpc > lowpc {
		nbins = (highpc - lowpc) / binSize
	}
	return &Profiler{
		lowpc:  lowpc,
		highpc: highpc,
		bins:   make([]uint16, nbins),
		hz:     hz,
	}
}

// Enable turns sampling on (prof_enable).
func (p *Profiler) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
}

// Disable turns sampling off without discarding accumulated samples.
func (p *Profiler) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
}

// Enabled reports whether sampling is currently active.
func (p *Profiler) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Clear zeroes the histogram (prof_clear) without changing the
// enabled state.
func (p *Profiler) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.bins {
		p.bins[i] = 0
	}
}

// Sample records one PC hit (prof_sample, called off the CPU's
// on-chip timer tick when active). Samples outside [lowpc, highpc)
// are dropped.
func (p *Profiler) Sample(pc uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || pc < p.lowpc || pc >= p.highpc {
		return
	}
	bin := (pc - p.lowpc) / binSize
	if int(bin) < len(p.bins) && p.bins[bin] < 0xffff {
		p.bins[bin]++
	}
}

// WriteGmon dumps the histogram to path in the GNU gmon.out format
// main/gmon.h documents: a 20-byte file header, a one-byte histogram
// record type, a histogram header, then one uint16 per bin.
func (p *Profiler) WriteGmon(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("profile: create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(gmonMagic); err != nil {
		return err
	}
	if err := binary.Write(f, binary.BigEndian, uint32(gmonVers)); err != nil {
		return err
	}
	if _, err := f.Write(make([]byte, 12)); err != nil {
		return err
	}

	if _, err := f.Write([]byte{0}); err != nil { // GMON_RT_HISTOGRAM
		return err
	}
	if err := binary.Write(f, binary.BigEndian, p.lowpc); err != nil {
		return err
	}
	if err := binary.Write(f, binary.BigEndian, p.highpc); err != nil {
		return err
	}
	if err := binary.Write(f, binary.BigEndian, uint32(len(p.bins))); err != nil {
		return err
	}
	if err := binary.Write(f, binary.BigEndian, p.hz); err != nil {
		return err
	}
	name := make([]byte, 15)
	copy(name, "sys161go")
	if _, err := f.Write(name); err != nil {
		return err
	}
	if _, err := f.Write([]byte{'*'}); err != nil {
		return err
	}

	return binary.Write(f, binary.BigEndian, p.bins)
}
