/*
sys161go  - ELF kernel loader

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

// Package loader places a 32-bit big-endian MIPS ELF executable into
// physical RAM and computes the initial register state a boot ROM
// hands off to it (bus/boot.c load_elf/setstack).
package loader

import (
	"debug/elf"
	"fmt"

	"github.com/ops161/sys161go/internal/cpu"
	"github.com/ops161/sys161go/internal/memory"
)

// Result is the initial CPU state computed from a loaded kernel,
// ready to hand to cpu.CPU.SetEntry.
type Result struct {
	Entry uint32
	SP    uint32
	Arg   uint32
}

// LoadKernel opens path, validates it as a MIPS-I 32-bit big-endian
// ET_EXEC ELF binary, copies every PT_LOAD segment into ram, and
// reserves space at the top of RAM for argument, the kernel's initial
// argv[0]-equivalent string (bus/boot.c setstack).
func LoadKernel(ram *memory.RAM, path string, argument string) (Result, error) {
	f, err := elf.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("boot image %s: %w", path, err)
	}
	defer f.Close()

	if err := validateHeader(f); err != nil {
		return Result{}, fmt.Errorf("boot image %s: %w", path, err)
	}

	for i, p := range f.Progs {
		switch p.Type {
		case elf.PT_NULL, elf.PT_PHDR, elf.PT_NOTE, elf.PT_MIPS_REGINFO:
			continue
		case elf.PT_LOAD:
		default:
			return Result{}, fmt.Errorf("boot image %s: segment %d has unknown type %s", path, i, p.Type)
		}

		paddr, err := loadPaddr(uint32(p.Vaddr), uint32(p.Memsz))
		if err != nil {
			return Result{}, fmt.Errorf("boot image %s: segment %d: %w", path, i, err)
		}
		if uint64(paddr)+p.Memsz >= uint64(ram.Size()) {
			return Result{}, fmt.Errorf("boot image %s: segment %d does not fit in RAM", path, i)
		}

		filesz := p.Filesz
		if filesz > p.Memsz {
			filesz = p.Memsz
		}

		data := make([]byte, filesz)
		if filesz > 0 {
			if _, err := p.ReadAt(data, 0); err != nil {
				return Result{}, fmt.Errorf("boot image %s: segment %d: %w", path, i, err)
			}
		}
		if !ram.WriteBytes(paddr, data) {
			return Result{}, fmt.Errorf("boot image %s: segment %d: write out of range", path, i)
		}
		if tail := uint32(p.Memsz - filesz); tail > 0 {
			ram.ZeroBytes(paddr+uint32(filesz), tail)
		}
	}

	sp, arg, err := placeArgument(ram, argument)
	if err != nil {
		return Result{}, fmt.Errorf("boot image %s: %w", path, err)
	}

	return Result{Entry: uint32(f.Entry), SP: sp, Arg: arg}, nil
}

func validateHeader(f *elf.File) error {
	if f.Class != elf.ELFCLASS32 {
		return fmt.Errorf("not a 32-bit executable")
	}
	if f.Data != elf.ELFDATA2MSB {
		return fmt.Errorf("not a big-endian executable")
	}
	if f.Type != elf.ET_EXEC {
		return fmt.Errorf("is ELF but not an executable")
	}
	if f.Machine != elf.EM_MIPS {
		return fmt.Errorf("is for the wrong processor type")
	}
	return nil
}

// loadPaddr maps a kseg0/kseg1 virtual load address to a RAM physical
// address (mips.c cpu_get_load_paddr). kuseg and kseg2 are rejected:
// nothing a boot image legitimately loads into lives there.
func loadPaddr(vaddr, size uint32) (uint32, error) {
	switch {
	case vaddr >= cpu.Kseg0Base && vaddr < cpu.Kseg1Base:
		return vaddr - cpu.Kseg0Base, nil
	case vaddr >= cpu.Kseg1Base && vaddr < cpu.Kseg2Base:
		return vaddr - cpu.Kseg1Base, nil
	default:
		return 0, fmt.Errorf("invalidly placed segment (load address %#x, size %d)", vaddr, size)
	}
}

// placeArgument writes argument as a NUL-terminated, word-aligned
// string at the very top of RAM and returns the stack pointer (four
// bytes below the string's virtual address, matching the original's
// "leave room for a return address slot") and the string's own
// virtual address, passed to the kernel in $a0 (mips.c cpu_set_stack).
func placeArgument(ram *memory.RAM, argument string) (sp, vaddr uint32, err error) {
	raw := append([]byte(argument), 0)
	size := (uint32(len(raw)) + 3) &^ 3
	paddr := ram.Size() - size

	if !ram.WriteBytes(paddr, raw) {
		return 0, 0, fmt.Errorf("setstack: argument does not fit in RAM")
	}

	vaddr = paddr + cpu.Kseg0Base
	return vaddr - 4, vaddr, nil
}
