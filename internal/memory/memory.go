/*
sys161go  - Physical memory and boot ROM

	Copyright 2024, Richard Cornwell
	Copyright 2026, sys161go contributors

	Permission is hereby granted, free of charge, to any person obtaining a copy
	of this software and associated documentation files (the "Software"), to deal
	in the Software without restriction, including without limitation the rights
	to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
	copies of the Software, and to permit persons to whom the Software is
	furnished to do so, subject to the following conditions:

	The above copyright notice and this permission notice shall be included in
	all copies or substantial portions of the Software.

	THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
	IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
	FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
	AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
	LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
	OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
	SOFTWARE.
*/
package memory

import "encoding/binary"

const (
	// MaxRAMSize is the largest RAM size the machine accepts, in bytes.
	MaxRAMSize = 16 * 1024 * 1024

	// ROMBase is the fixed physical base of the boot ROM.
	ROMBase = 0x1fc00000
	// ROMSize is the fixed size of the boot ROM region.
	ROMSize = 2 * 1024 * 1024
)

// RAM is a flat, byte-addressed, big-endian physical memory plus a
// read-only boot ROM. It is owned by exactly one *machine.Machine;
// there is no package-level global state (see DESIGN.md).
type RAM struct {
	bytes []byte // size == size, RAM only
	size  uint32
	rom   [ROMSize]byte
}

// New allocates RAM of the given size in bytes, clamped to MaxRAMSize
// and rounded down to a page (4096-byte) multiple.
func New(size uint32) *RAM {
	if size > MaxRAMSize {
		size = MaxRAMSize
	}
	size &^= 0xfff
	return &RAM{
		bytes: make([]byte, size),
		size:  size,
	}
}

// Size returns the configured RAM size in bytes.
func (r *RAM) Size() uint32 {
	return r.size
}

// LoadROM installs the boot stub image, truncated/zero-padded to
// ROMSize.
func (r *RAM) LoadROM(image []byte) {
	n := copy(r.rom[:], image)
	for i := n; i < ROMSize; i++ {
		r.rom[i] = 0
	}
}

// InRAM reports whether addr < configured RAM size.
func (r *RAM) InRAM(addr uint32) bool {
	return addr < r.size
}

// InROM reports whether addr falls in the boot-ROM window.
func (r *RAM) InROM(addr uint32) bool {
	return addr >= ROMBase && addr < ROMBase+ROMSize
}

// ReadWord reads a big-endian 32-bit word. addr must be 4-byte
// aligned; callers raise an address-error exception otherwise.
func (r *RAM) ReadWord(addr uint32) (value uint32, ok bool) {
	switch {
	case r.InRAM(addr):
		return binary.BigEndian.Uint32(r.bytes[addr : addr+4]), true
	case r.InROM(addr):
		off := addr - ROMBase
		return binary.BigEndian.Uint32(r.rom[off : off+4]), true
	default:
		return 0, false
	}
}

// WriteWord writes a big-endian 32-bit word to RAM. Writes to ROM fail
// (ok=false); callers turn that into a data-bus-error exception.
func (r *RAM) WriteWord(addr, value uint32) (ok bool) {
	if !r.InRAM(addr) {
		return false
	}
	binary.BigEndian.PutUint32(r.bytes[addr:addr+4], value)
	return true
}

// ReadByte reads one byte. Works for both RAM and ROM.
func (r *RAM) ReadByte(addr uint32) (value uint8, ok bool) {
	switch {
	case r.InRAM(addr):
		return r.bytes[addr], true
	case r.InROM(addr):
		return r.rom[addr-ROMBase], true
	default:
		return 0, false
	}
}

// WriteByte writes one byte to RAM.
func (r *RAM) WriteByte(addr uint32, value uint8) (ok bool) {
	if !r.InRAM(addr) {
		return false
	}
	r.bytes[addr] = value
	return true
}

// ReadHalf reads a big-endian 16-bit halfword.
func (r *RAM) ReadHalf(addr uint32) (value uint16, ok bool) {
	switch {
	case r.InRAM(addr):
		return binary.BigEndian.Uint16(r.bytes[addr : addr+2]), true
	case r.InROM(addr):
		off := addr - ROMBase
		return binary.BigEndian.Uint16(r.rom[off : off+2]), true
	default:
		return 0, false
	}
}

// WriteHalf writes a big-endian 16-bit halfword to RAM.
func (r *RAM) WriteHalf(addr uint32, value uint16) (ok bool) {
	if !r.InRAM(addr) {
		return false
	}
	binary.BigEndian.PutUint16(r.bytes[addr:addr+2], value)
	return true
}

// WriteBytes copies data into RAM starting at paddr, for bulk loads
// (ELF segments) rather than the CPU's word/half/byte fast path. The
// whole range must lie within RAM; a range that doesn't is rejected
// without a partial write.
func (r *RAM) WriteBytes(paddr uint32, data []byte) bool {
	if uint64(paddr)+uint64(len(data)) > uint64(r.size) {
		return false
	}
	copy(r.bytes[paddr:], data)
	return true
}

// ZeroBytes clears n bytes of RAM starting at paddr, for the
// filesz..memsz tail of a PT_LOAD segment that has no file backing
// (.bss).
func (r *RAM) ZeroBytes(paddr uint32, n uint32) bool {
	if uint64(paddr)+uint64(n) > uint64(r.size) {
		return false
	}
	clear(r.bytes[paddr : paddr+n])
	return true
}

// Page returns a stable window onto the 4 KiB page containing addr,
// used by the CPU core to cache pc/nextpc translations (see
// cpu.pageCache). The second return is the page's physical base.
func (r *RAM) Page(addr uint32) (page []byte, base uint32, ok bool) {
	const pageSize = 4096
	base = addr &^ (pageSize - 1)
	switch {
	case r.InRAM(base):
		end := base + pageSize
		if end > r.size {
			end = r.size
		}
		return r.bytes[base:end], base, true
	case r.InROM(base):
		off := base - ROMBase
		return r.rom[off : off+pageSize], base, true
	default:
		return nil, 0, false
	}
}
