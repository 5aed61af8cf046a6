/*
   LAMEbus hardware random-number-generator device: one register that
   returns a fresh pseudo-random word on every read.

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

package rng

import (
	"math/rand"
)

// RNG is a LAMEbus random-number-generator device: a single readable
// register at offset 0 (ops-class/sys161 bus/dev_random.c).
type RNG struct {
	rng *rand.Rand
}

// New creates a generator seeded deterministically, same as the
// original's optional "seed=" argument (its "autoseed" option, which
// reads the host clock, is deliberately not carried forward: this
// emulator favors reproducible runs by default).
func New(seed int64) *RNG {
	return &RNG{rng: rand.New(rand.NewSource(seed))}
}

// Fetch implements device.Device.
func (r *RNG) Fetch(cpunum int, offset uint32) (uint32, bool) {
	if offset != 0 {
		return 0, false
	}
	return r.rng.Uint32(), true
}

// Store implements device.Device. The register is read-only.
func (r *RNG) Store(cpunum int, offset uint32, value uint32) bool {
	return false
}

// Dump implements device.Device.
func (r *RNG) Dump() string {
	return "rng: (state not exposed)"
}

// Cleanup implements device.Device.
func (r *RNG) Cleanup() {}
