/*
   LAMEbus emulator filesystem passthrough device: lets the guest open,
   read, write, and list files rooted at a host directory, through a
   small handle table and a 16KiB MMIO transfer buffer.

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

package emufs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ops161/sys161go/internal/bus"
)

const (
	maxHandles = 64
	rootHandle = 0
	bufStart   = 32768
	bufSize    = 16384
	bufEnd     = bufStart + bufSize
)

// Register offsets (ops-class/sys161 bus/dev_emufs.c EMUREG_*).
const (
	regHandle = 0x0
	regOffset = 0x4
	regIOLen  = 0x8
	regOper   = 0xc
	regResult = 0x10
)

// Operation codes (EMU_OP_*).
const (
	opOpen       = 1
	opCreate     = 2
	opExclCreate = 3
	opClose      = 4
	opRead       = 5
	opReadDir    = 6
	opWrite      = 7
	opGetSize    = 8
	opTrunc      = 9
)

// Result codes (EMU_RES_*).
const (
	resSuccess   = 1
	resBadHandle = 2
	resBadOp     = 3
	resBadPath   = 4
	resBadSize   = 5
	resExists    = 6
	resIsDir     = 7
	resMedia     = 8
	resNoHandles = 9
	resNoSpace   = 10
	resNotDir    = 11
	resUnknown   = 12
	resUnsupp    = 13
)

type handle struct {
	dir     bool
	file    *os.File
	path    string // resolved absolute path, for re-deriving a directory listing
	entries []os.DirEntry
}

// Filesystem is a LAMEbus emufs device rooted at a host directory.
// Handle 0 always denotes that root directory.
type Filesystem struct {
	slot    int
	bus     *bus.Bus
	rootDir string

	handles [maxHandles]*handle

	fh     uint32
	offset uint32
	iolen  uint32
	result uint32
	buf    [bufSize]byte

	remu uint64
	wemu uint64
	memu uint64
}

// New creates an emufs device rooted at rootDir.
func New(slot int, rootDir string, b *bus.Bus) (*Filesystem, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}
	fsDev := &Filesystem{slot: slot, bus: b, rootDir: abs}
	fsDev.handles[rootHandle] = &handle{dir: true, path: abs}
	return fsDev, nil
}

// resolve joins name onto base's directory and refuses to leave
// rootDir, a safety boundary the original passthrough (which simply
// fchdir()s around) doesn't bother with since it trusted the guest.
func (f *Filesystem) resolve(baseHandle uint32, name string) (string, error) {
	h := f.handleAt(baseHandle)
	if h == nil || !h.dir {
		return "", fs.ErrInvalid
	}
	target := filepath.Clean(filepath.Join(h.path, name))
	if target != f.rootDir && !strings.HasPrefix(target, f.rootDir+string(filepath.Separator)) {
		return "", fs.ErrNotExist
	}
	return target, nil
}

func (f *Filesystem) handleAt(i uint32) *handle {
	if i >= maxHandles {
		return nil
	}
	return f.handles[i]
}

func (f *Filesystem) pickHandle() int {
	for i := 1; i < maxHandles; i++ {
		if f.handles[i] == nil {
			return i
		}
	}
	return -1
}

func errnoToCode(err error) uint32 {
	if err == nil {
		return resSuccess
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return resBadPath
	case errors.Is(err, fs.ErrExist):
		return resExists
	case errors.Is(err, fs.ErrPermission):
		return resUnknown
	}
	var perr *fs.PathError
	if errors.As(err, &perr) {
		switch {
		case errors.Is(perr.Err, os.ErrNotExist):
			return resBadPath
		case errors.Is(perr.Err, os.ErrExist):
			return resExists
		}
	}
	if errors.Is(err, io.EOF) {
		return resSuccess
	}
	return resUnknown
}

func (f *Filesystem) setResult(r uint32) {
	f.result = r
	if r > 0 {
		f.bus.RaiseIRQ(f.slot)
	} else {
		f.bus.LowerIRQ(f.slot)
	}
}

// Fetch implements device.Device.
func (f *Filesystem) Fetch(cpunum int, offset uint32) (uint32, bool) {
	if offset >= bufStart && offset < bufEnd {
		return uint32(f.buf[offset-bufStart]), true
	}
	switch offset {
	case regHandle:
		return f.fh, true
	case regOffset:
		return f.offset, true
	case regIOLen:
		return f.iolen, true
	case regResult:
		return f.result, true
	}
	return 0, false
}

// Store implements device.Device.
func (f *Filesystem) Store(cpunum int, offset uint32, value uint32) bool {
	if offset >= bufStart && offset < bufEnd {
		f.buf[offset-bufStart] = byte(value)
		return true
	}
	switch offset {
	case regHandle:
		f.fh = value
		return true
	case regOffset:
		f.offset = value
		return true
	case regIOLen:
		f.iolen = value
		return true
	case regOper:
		f.setResult(f.doOp(value))
		return true
	}
	return false
}

func (f *Filesystem) doOp(op uint32) uint32 {
	switch op {
	case opOpen:
		f.memu++
		return f.open(0)
	case opCreate:
		f.memu++
		return f.open(os.O_CREATE)
	case opExclCreate:
		f.memu++
		return f.open(os.O_CREATE | os.O_EXCL)
	}

	h := f.handleAt(f.fh)
	if h == nil {
		return resBadHandle
	}
	switch op {
	case opClose:
		f.memu++
		return f.close(h)
	case opRead:
		f.remu++
		return f.read(h)
	case opReadDir:
		f.remu++
		return f.readDir(h)
	case opWrite:
		f.wemu++
		return f.write(h)
	case opGetSize:
		f.memu++
		return f.getSize(h)
	case opTrunc:
		f.memu++
		return f.trunc(h)
	}
	return resBadOp
}

func (f *Filesystem) open(flags int) uint32 {
	if f.iolen >= bufSize {
		return resBadSize
	}
	name := string(f.buf[:f.iolen])

	handleIdx := f.pickHandle()
	if handleIdx < 0 {
		return resNoHandles
	}

	target, err := f.resolve(f.fh, name)
	if err != nil {
		return resBadPath
	}

	st, statErr := os.Stat(target)
	isDir := statErr == nil && st.IsDir()
	if statErr != nil && flags == 0 {
		return errnoToCode(statErr)
	}

	goFlags := os.O_RDWR
	if isDir {
		goFlags = os.O_RDONLY
	}
	goFlags |= flags

	file, err := os.OpenFile(target, goFlags, 0664)
	if err != nil {
		return errnoToCode(err)
	}

	f.handles[handleIdx] = &handle{dir: isDir, file: file, path: target}
	f.fh = uint32(handleIdx)
	if isDir {
		f.iolen = 1
	} else {
		f.iolen = 0
	}
	return resSuccess
}

func (f *Filesystem) close(h *handle) uint32 {
	if h.file != nil {
		h.file.Close()
	}
	f.handles[f.fh] = nil
	return resSuccess
}

func (f *Filesystem) read(h *handle) uint32 {
	if f.iolen > bufSize || h.file == nil {
		return resBadSize
	}
	n, err := h.file.ReadAt(f.buf[:f.iolen], int64(f.offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return errnoToCode(err)
	}
	f.offset += uint32(n)
	f.iolen = uint32(n)
	return resSuccess
}

func (f *Filesystem) readDir(h *handle) uint32 {
	if f.iolen > bufSize || !h.dir {
		return resBadSize
	}
	if h.entries == nil {
		entries, err := os.ReadDir(h.path)
		if err != nil {
			return errnoToCode(err)
		}
		h.entries = entries
	}
	if int(f.offset) >= len(h.entries) {
		f.iolen = 0
		return resSuccess
	}
	name := h.entries[f.offset].Name()
	n := copy(f.buf[:f.iolen], name)
	f.iolen = uint32(n)
	f.offset++
	return resSuccess
}

func (f *Filesystem) write(h *handle) uint32 {
	if f.iolen > bufSize || h.file == nil {
		return resBadSize
	}
	n, err := h.file.WriteAt(f.buf[:f.iolen], int64(f.offset))
	if err != nil {
		return errnoToCode(err)
	}
	f.offset += uint32(n)
	f.iolen = uint32(n)
	return resSuccess
}

func (f *Filesystem) getSize(h *handle) uint32 {
	if h.file == nil {
		return resBadHandle
	}
	st, err := h.file.Stat()
	if err != nil {
		return errnoToCode(err)
	}
	f.iolen = uint32(st.Size())
	return resSuccess
}

func (f *Filesystem) trunc(h *handle) uint32 {
	if h.file == nil {
		return resBadHandle
	}
	if err := h.file.Truncate(int64(f.iolen)); err != nil {
		return errnoToCode(err)
	}
	return resSuccess
}

// OpCounts returns the cumulative read, write, and other (open/close/
// stat/truncate) operation counts, for the metering protocol's "emu"
// column (dev_emufs.c contributes to g_stats.s_remu/s_wemu/s_memu).
func (f *Filesystem) OpCounts() (read, written, other uint64) {
	return f.remu, f.wemu, f.memu
}

// Dump implements device.Device.
func (f *Filesystem) Dump() string {
	open := 0
	for i, h := range f.handles {
		if h != nil && i != rootHandle {
			open++
		}
	}
	return fmt.Sprintf("emufs: slot=%d root=%s open-handles=%d", f.slot, f.rootDir, open)
}

// Cleanup implements device.Device: closes every still-open handle.
func (f *Filesystem) Cleanup() {
	for i, h := range f.handles {
		if h != nil && h.file != nil {
			h.file.Close()
		}
		if i != rootHandle {
			f.handles[i] = nil
		}
	}
}
