/*
   LAMEbus disk device: a SCSI-ish single-sector-at-a-time block
   device backed by a flat "System/161 Disk Image" file, with a
   geometry/seek/rotation timing model and a doom counter for
   fault-injection testing.

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

package disk

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/gofrs/flock"

	"github.com/ops161/sys161go/internal/bus"
	"github.com/ops161/sys161go/internal/event"
)

const (
	headerMagic = "System/161 Disk Image"
	sectorSize  = 512
	headerSize  = sectorSize

	numTracks   = 320
	outerDiam   = 80.0
	innerDiam   = 20.0
	sectorFudge = 1.06
	pi          = 3.14159

	cacheReadTimeNs  = 500
	cacheWriteTimeNs = 500

	maxWorkTries = 10
)

// Register offsets (ops-class/sys161 bus/dev_disk.c DISKREG_*).
const (
	regNSect = 0x00
	regStat  = 0x04
	regSect  = 0x08
	regRPM   = 0x0c

	bufStart = 32768
	bufEnd   = bufStart + sectorSize
)

// Status register bits/values.
const (
	statInProgress = 1
	statIsWrite    = 2
	statComplete   = 4
	statInvSect    = 8
	statMediaErr   = 16

	statIdle    = 0
	statReading = statInProgress
	statWriting = statInProgress | statIsWrite
)

// DoomCounter is shared across every disk configured on a machine,
// matching dev_disk.c's single process-wide doom_counter: a write
// start on ANY doom-enabled disk decrements it, and it firing once
// triggers onZero regardless of which disk ticked it last.
type DoomCounter struct {
	remaining uint32
	onZero    func()
}

// NewDoomCounter creates a counter that calls onZero once, the first
// time Tick brings it to zero. count == 0 disables it permanently.
func NewDoomCounter(count uint32, onZero func()) *DoomCounter {
	return &DoomCounter{remaining: count, onZero: onZero}
}

func (d *DoomCounter) tick() {
	if d == nil || d.remaining == 0 {
		return
	}
	d.remaining--
	if d.remaining == 0 && d.onZero != nil {
		d.onZero()
	}
}

// Disk is a LAMEbus disk device.
type Disk struct {
	slot  int
	bus   *bus.Bus
	sched *event.Scheduler

	file    *os.File
	lock    *flock.Flock
	doom    *DoomCounter
	usedoom bool

	sectors      []uint32 // sectors per track, outermost first
	totalSectors uint32
	rpm          uint32
	nsecsPerRev  int64

	currentTrack   int
	trackArrivalNs int64
	ioStatus       int // -1 = not started, 0..3 = timing stage reached
	timedOpPending bool
	workTries      int

	stat uint32
	sect uint32
	buf  [sectorSize]byte

	rsects uint64
	wsects uint64
}

// Open creates or opens a disk image at path, backed by an advisory
// exclusive host-file lock, and computes its track geometry. rpm must
// be a multiple of 60 and at least 60 (dev_disk.c's requirement that
// there's an integral number of revolutions per second). configSectors
// is only used to size a newly created image.
func Open(slot int, path string, configSectors uint32, rpm uint32, paranoid bool, doom *DoomCounter, usedoom bool, b *bus.Bus, sched *event.Scheduler) (*Disk, error) {
	if rpm < 60 || rpm%60 != 0 {
		return nil, fmt.Errorf("disk: slot %d: rpm %d must be >= 60 and a multiple of 60", slot, rpm)
	}

	lk := flock.New(path + ".lock")
	locked, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("disk: slot %d: %s: lock: %w", slot, path, err)
	}
	if !locked {
		return nil, fmt.Errorf("disk: slot %d: %s: locked by another process", slot, path)
	}

	f, created, err := openOrCreate(path)
	if err != nil {
		lk.Unlock()
		return nil, err
	}

	if created {
		if err := writeHeader(f, configSectors); err != nil {
			f.Close()
			lk.Unlock()
			return nil, fmt.Errorf("disk: slot %d: %s: %w", slot, path, err)
		}
	} else if err := checkHeader(f); err != nil {
		f.Close()
		lk.Unlock()
		return nil, fmt.Errorf("disk: slot %d: %s: %w", slot, path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		lk.Unlock()
		return nil, fmt.Errorf("disk: slot %d: %s: stat: %w", slot, path, err)
	}
	totalSectors := uint32((st.Size() - headerSize) / sectorSize)

	d := &Disk{
		slot:    slot,
		bus:     b,
		sched:   sched,
		file:    f,
		lock:    lk,
		doom:    doom,
		usedoom: usedoom,

		totalSectors: totalSectors,
		rpm:          rpm,
		nsecsPerRev:  1_000_000_000 / int64(rpm/60),

		ioStatus:       -1,
		trackArrivalNs: sched.Now(),
	}
	d.sectors = computeSectorsPerTrack(totalSectors)
	return d, nil
}

func openOrCreate(path string) (f *os.File, created bool, err error) {
	f, err = os.OpenFile(path, os.O_RDWR, 0)
	if os.IsNotExist(err) {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0664)
		created = true
	}
	return f, created, err
}

func writeHeader(f *os.File, configSectors uint32) error {
	buf := make([]byte, headerSize)
	copy(buf, headerMagic)
	if _, err := f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return f.Truncate(int64(configSectors)*sectorSize + headerSize)
}

func checkHeader(f *os.File) error {
	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	end := 0
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	if string(buf[:end]) != headerMagic {
		return fmt.Errorf("not a disk image")
	}
	return nil
}

// computeSectorsPerTrack distributes totalSectors*sectorFudge sectors
// across numTracks concentric tracks in proportion to each track's
// physical area, outermost (fastest) track first.
func computeSectorsPerTrack(totalSectors uint32) []uint32 {
	physSectors := uint32(float64(totalSectors) * sectorFudge)
	platterArea := (outerDiam*outerDiam - innerDiam*innerDiam) * pi / 4
	sectorsPerArea := float64(physSectors) / platterArea
	trackWidth := (outerDiam - innerDiam) / 2 / float64(numTracks)

	sectors := make([]uint32, numTracks)
	var tot uint32
	for i := 0; i < numTracks; i++ {
		inside := innerDiam/2 + float64(i)*trackWidth
		outside := inside + trackWidth
		trackArea := (outside + inside) * trackWidth * pi
		n := uint32(sectorsPerArea * trackArea)
		if n < 1 {
			n = 1
		}
		sectors[i] = n
		tot += n
	}
	// Track 0 (innermost in this loop) absorbs the difference from
	// totalSectors when the sum falls short, or when the excess is
	// smaller than track 0's own count; a larger excess is left in
	// place, so the sum can stay above totalSectors. Outermost tracks
	// stay untouched since they dominate seek/rotation timing in practice.
	if tot > totalSectors {
		shrink := tot - totalSectors
		if shrink < sectors[0] {
			sectors[0] -= shrink
		}
	} else if tot < totalSectors {
		sectors[0] += totalSectors - tot
	}
	// Reverse so index 0 is outermost, matching locate_sector's
	// "start numbering from the outermost (fastest) track".
	for i, j := 0, len(sectors)-1; i < j; i, j = i+1, j-1 {
		sectors[i], sectors[j] = sectors[j], sectors[i]
	}
	return sectors
}

// locateSector maps a linear sector number to (track, rotoffset).
// d.sectors is ordered outermost track first, and sector numbering
// starts at the outermost (fastest) track, same as dev_disk.c's
// locate_sector.
func (d *Disk) locateSector(sector uint32) (track int, rotoffset uint32) {
	var start uint32
	for i := 0; i < len(d.sectors); i++ {
		end := start + d.sectors[i]
		if sector >= start && sector < end {
			return i, sector - start
		}
		start = end
	}
	return 0, 0
}

func seekTimeNs(ntracks int) int64 {
	if ntracks > 3 {
		return int64(1_000_000 * (10 + 3*math.Sqrt(float64(ntracks))))
	}
	return int64(1_000_000 * 5 * ntracks)
}

func (d *Disk) readRotDelayNs(track int, rotoffset uint32) int64 {
	nsecsPerSector := d.nsecsPerRev / int64(d.sectors[track])
	targSector := (rotoffset + 1) % d.sectors[track]
	targNs := d.trackArrivalNs + int64(targSector)*nsecsPerSector
	now := d.sched.Now()
	if targNs <= now {
		return 0
	}
	return targNs - now
}

func (d *Disk) writeRotDelayNs(track int, rotoffset uint32) int64 {
	nsecsPerSector := d.nsecsPerRev / int64(d.sectors[track])
	now := d.sched.Now()
	targNs := int64(rotoffset) * nsecsPerSector
	for targNs < now {
		targNs += d.nsecsPerRev
	}
	targNs += nsecsPerSector
	return targNs - now
}

// Fetch implements device.Device.
func (d *Disk) Fetch(cpunum int, offset uint32) (uint32, bool) {
	if offset >= bufStart && offset < bufEnd {
		return binary.BigEndian.Uint32(d.buf[offset-bufStart:]), true
	}
	switch offset {
	case regNSect:
		return d.totalSectors, true
	case regRPM:
		return d.rpm, true
	case regStat:
		return d.stat, true
	case regSect:
		return d.sect, true
	}
	return 0, false
}

// Store implements device.Device.
func (d *Disk) Store(cpunum int, offset uint32, value uint32) bool {
	if offset >= bufStart && offset < bufEnd {
		binary.BigEndian.PutUint32(d.buf[offset-bufStart:], value)
		return true
	}
	switch offset {
	case regStat:
		return d.setStatus(value)
	case regSect:
		d.sect = value
		return true
	}
	return false
}

func (d *Disk) setStatus(val uint32) bool {
	switch val {
	case statIdle:
		d.ioStatus = -1
	case statReading:
		d.ioStatus = 0
	case statWriting:
		if d.usedoom {
			d.doom.tick()
		}
		d.ioStatus = 0
	default:
		return false
	}
	d.stat = val
	d.update()
	return true
}

// update drives the timing state machine forward one step and then
// reconciles the slot's IRQ line with DISKBIT_COMPLETE.
func (d *Disk) update() {
	d.work()
	if d.stat&statComplete != 0 {
		d.bus.RaiseIRQ(d.slot)
	} else {
		d.bus.LowerIRQ(d.slot)
	}
}

func (d *Disk) work() {
	if d.timedOpPending {
		return
	}
	if d.stat&statInProgress == 0 {
		return
	}
	if d.sect >= d.totalSectors {
		d.stat = (d.stat &^ statInProgress) | statInvSect
		d.workTries = 0
		return
	}

	d.workTries++
	if d.workTries > maxWorkTries {
		// Geometry-model fault: reset and force the I/O through rather
		// than looping forever.
		d.currentTrack = 0
		d.trackArrivalNs = d.sched.Now()
		d.ioStatus = -1
		d.forceIO()
		return
	}

	track, rotoffset := d.locateSector(d.sect)

	if d.currentTrack != track {
		distance := track - d.currentTrack
		if distance < 0 {
			distance = -distance
		}
		d.timedOpPending = true
		cyl := uint32(track)
		d.sched.Schedule(seekTimeNs(distance), nil, cyl, func(data any, code uint32) {
			d.currentTrack = int(code)
			d.trackArrivalNs = d.sched.Now()
			d.timedOpPending = false
			d.update()
		}, "disk seek")
		return
	}

	if d.stat&statIsWrite != 0 && d.ioStatus < 1 {
		d.timedOpPending = true
		d.sched.Schedule(cacheWriteTimeNs, nil, 1, func(data any, code uint32) {
			d.ioStatus = int(code)
			d.timedOpPending = false
			d.update()
		}, "disk cache write")
		return
	}

	if d.ioStatus < 2 {
		var rotdelay int64
		if d.stat&statIsWrite != 0 {
			rotdelay = d.writeRotDelayNs(track, rotoffset)
		} else {
			rotdelay = d.readRotDelayNs(track, rotoffset)
		}
		if rotdelay > 0 {
			d.timedOpPending = true
			d.sched.Schedule(rotdelay, nil, 2, func(data any, code uint32) {
				d.ioStatus = int(code)
				d.timedOpPending = false
				d.update()
			}, "disk rotation")
			return
		}
		d.ioStatus = 2
	}

	if d.stat&statIsWrite == 0 && d.ioStatus < 3 {
		d.timedOpPending = true
		d.sched.Schedule(cacheReadTimeNs, nil, 3, func(data any, code uint32) {
			d.ioStatus = int(code)
			d.timedOpPending = false
			d.update()
		}, "disk cache read")
		return
	}

	d.forceIO()
}

func (d *Disk) forceIO() {
	var err error
	if d.stat&statIsWrite != 0 {
		err = d.writeSector()
		d.wsects++
	} else {
		err = d.readSector()
		d.rsects++
	}
	if err != nil {
		d.stat = (d.stat &^ statInProgress) | statMediaErr
	} else {
		d.stat = (d.stat &^ statInProgress) | statComplete
	}
	d.workTries = 0
}

func (d *Disk) readSector() error {
	_, err := d.file.ReadAt(d.buf[:], int64(d.sect)*sectorSize+headerSize)
	return err
}

func (d *Disk) writeSector() error {
	_, err := d.file.WriteAt(d.buf[:], int64(d.sect)*sectorSize+headerSize)
	return err
}

// Dump implements device.Device.
func (d *Disk) Dump() string {
	return fmt.Sprintf("disk: slot=%d tracks=%d totsectors=%d rpm=%d track=%d stat=%#x sect=%#x",
		d.slot, len(d.sectors), d.totalSectors, d.rpm, d.currentTrack, d.stat, d.sect)
}

// SectorCounts returns the cumulative number of sectors read and
// written, for the metering protocol's "disk" column
// (dev_disk.c contributes to g_stats.s_rsects/s_wsects).
func (d *Disk) SectorCounts() (read, written uint64) {
	return d.rsects, d.wsects
}

// Cleanup implements device.Device: releases the host file and lock.
func (d *Disk) Cleanup() {
	d.file.Close()
	d.lock.Unlock()
}
