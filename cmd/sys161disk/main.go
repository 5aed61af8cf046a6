/*
   sys161disk creates, inspects, and resizes the flat "System/161 Disk
   Image" files internal/devices/disk reads and writes.

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

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	getopt "github.com/pborman/getopt/v2"
)

const (
	sectorSize = 512
	minSize    = 128 * sectorSize
	maxSize    = 0x100000000

	headerSize   = sectorSize
	headerString = "System/161 Disk Image"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: sys161disk action [options] [arguments]")
	fmt.Fprintln(os.Stderr, "   sys161disk create [-f] filename size")
	fmt.Fprintln(os.Stderr, "   sys161disk info filename...")
	fmt.Fprintln(os.Stderr, "   sys161disk resize filename [+-]size")
	os.Exit(3)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "sys161disk: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]
	os.Args = os.Args[1:]

	force := getopt.BoolLong("force", 'f', "overwrite an existing image")
	getopt.Parse()
	args := getopt.Args()

	switch command {
	case "create":
		if len(args) != 2 {
			usage()
		}
		doCreate(args[0], args[1], *force)
	case "info", "stat", "stats", "status":
		if *force {
			usage()
		}
		if len(args) == 0 {
			usage()
		}
		for _, f := range args {
			doInfo(f)
		}
	case "resize", "setsize":
		if *force || len(args) != 2 {
			usage()
		}
		doResize(args[0], args[1])
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "sys161disk: unknown command %s\n", command)
		usage()
	}
}

// parseSize accepts a bare byte count or one of the b/s/k/m/g suffixes
// disk161's getsize() understood, sectors being sys161's 512-byte unit.
func parseSize(s string) int64 {
	suffix := ""
	numPart := s
	if n := len(s); n > 0 {
		last := s[n-1]
		if last < '0' || last > '9' {
			suffix = strings.ToLower(s[n-1:])
			numPart = s[:n-1]
		}
	}
	n, err := strconv.ParseInt(numPart, 0, 64)
	if err != nil {
		fatalf("%s: invalid number", s)
	}
	switch suffix {
	case "", "b":
		return n
	case "s":
		return n * sectorSize
	case "k":
		return n * 1024
	case "m":
		return n * 1024 * 1024
	case "g":
		return n * 1024 * 1024 * 1024
	default:
		fatalf("invalid size suffix %q", suffix)
		return 0
	}
}

func checkSize(size int64) {
	if size%sectorSize != 0 {
		rounded := sectorSize * ((size + sectorSize - 1) / sectorSize)
		fatalf("size %d not an even number of sectors (try %d instead)", size, rounded)
	}
	if size < minSize {
		fatalf("size %d too small", size)
	}
	if size >= maxSize {
		fatalf("size %d too large", size)
	}
}

func writeHeader(f *os.File) {
	buf := make([]byte, headerSize)
	copy(buf, headerString)
	if _, err := f.WriteAt(buf, 0); err != nil {
		fatalf("write header: %v", err)
	}
}

func checkHeader(path string, f *os.File) {
	buf := make([]byte, headerSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		fatalf("%s: reading header: %v", path, err)
	}
	end := 0
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	if string(buf[:end]) != headerString {
		fatalf("%s: not a System/161 disk image", path)
	}
}

func doCreate(path, sizeSpec string, force bool) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			fatalf("%s: file exists", path)
		}
	}

	lk := flock.New(path + ".lock")
	locked, err := lk.TryLock()
	if err != nil || !locked {
		fatalf("%s: locked by another process", path)
	}
	defer lk.Unlock()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0664)
	if err != nil {
		fatalf("%s: %v", path, err)
	}
	defer f.Close()

	size := parseSize(sizeSpec)
	checkSize(size)
	if err := f.Truncate(headerSize + size); err != nil {
		fatalf("%s: truncate: %v", path, err)
	}
	writeHeader(f)
}

func doInfo(path string) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		fatalf("%s: %v", path, err)
	}
	defer f.Close()
	checkHeader(path, f)

	st, err := f.Stat()
	if err != nil {
		fatalf("%s: stat: %v", path, err)
	}

	amt := st.Size() - headerSize
	fmt.Printf("%s size %d bytes (%d sectors; %dK; %dM)\n", path,
		amt, amt/sectorSize, amt/1024, amt/(1024*1024))
}

func doResize(path, sizeSpec string) {
	mode := byte(0)
	if len(sizeSpec) > 0 && (sizeSpec[0] == '+' || sizeSpec[0] == '-') {
		mode = sizeSpec[0]
		sizeSpec = sizeSpec[1:]
	}
	delta := parseSize(sizeSpec)

	lk := flock.New(path + ".lock")
	locked, err := lk.TryLock()
	if err != nil || !locked {
		fatalf("%s: locked by another process", path)
	}
	defer lk.Unlock()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		fatalf("%s: %v", path, err)
	}
	defer f.Close()
	checkHeader(path, f)

	st, err := f.Stat()
	if err != nil {
		fatalf("%s: stat: %v", path, err)
	}
	oldSize := st.Size() - headerSize

	newSize := delta
	switch mode {
	case '+':
		newSize = oldSize + delta
		if newSize < oldSize {
			fatalf("+%d: result too large", delta)
		}
	case '-':
		if oldSize < delta {
			fatalf("-%d: result too small", delta)
		}
		newSize = oldSize - delta
	}

	checkSize(newSize)
	if err := f.Truncate(headerSize + newSize); err != nil {
		fatalf("%s: truncate: %v", path, err)
	}
}
