/*
 * sys161go - Main process.
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

package main

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	getopt "github.com/pborman/getopt/v2"

	config "github.com/ops161/sys161go/config/configparser"
	"github.com/ops161/sys161go/console"
	"github.com/ops161/sys161go/internal/bus"
	"github.com/ops161/sys161go/internal/cpu"
	D "github.com/ops161/sys161go/internal/device"
	"github.com/ops161/sys161go/internal/debugger"
	"github.com/ops161/sys161go/internal/devices/clock"
	"github.com/ops161/sys161go/internal/devices/disk"
	"github.com/ops161/sys161go/internal/devices/emufs"
	"github.com/ops161/sys161go/internal/devices/mainboard"
	sysnet "github.com/ops161/sys161go/internal/devices/net"
	"github.com/ops161/sys161go/internal/devices/rng"
	"github.com/ops161/sys161go/internal/devices/serial"
	"github.com/ops161/sys161go/internal/devices/trace"
	"github.com/ops161/sys161go/internal/event"
	"github.com/ops161/sys161go/internal/gdbstub"
	"github.com/ops161/sys161go/internal/loader"
	"github.com/ops161/sys161go/internal/machine"
	"github.com/ops161/sys161go/internal/memory"
	"github.com/ops161/sys161go/internal/meter"
	"github.com/ops161/sys161go/internal/profile"
	"github.com/ops161/sys161go/internal/selectloop"
	logger "github.com/ops161/sys161go/util/logger"
)

// LAMEbus vendor/device/revision identities (original_source/bus/busids.h).
const (
	lbVendSys161 = 1

	devOldMainboard = 1
	devTimer        = 2
	devDisk         = 3
	devSerial       = 4
	devScreen       = 5
	devNet          = 6
	devEmufs        = 7
	devTrace        = 8
	devRandom       = 9
	devMainboard    = 10

	revOldMainboard = 2
	revMainboard    = 1
	revTimer        = 1
	revDisk         = 2
	revSerial       = 1
	revScreen       = 1
	revNet          = 1
	revEmufs        = 1
	revTrace        = 3
	revRandom       = 1
)

var Logger *slog.Logger

// traceLetters maps the nine letters of "-t" onto internal/cpu's bit
// positions (include/trace.h TRACE_*).
var traceLetters = map[rune]uint32{
	'k': cpu.TraceKernelPC, 'u': cpu.TraceUserPC, 'j': cpu.TraceJumps, 't': cpu.TraceTraps,
	'x': cpu.TraceExceptions, 'i': cpu.TraceIRQ, 'd': cpu.TraceDevice, 'n': cpu.TraceNetwork, 'e': cpu.TraceExec,
}

const allTraceBits = cpu.TraceKernelPC | cpu.TraceUserPC | cpu.TraceJumps | cpu.TraceTraps |
	cpu.TraceExceptions | cpu.TraceIRQ | cpu.TraceDevice | cpu.TraceNetwork | cpu.TraceExec

func main() {
	rawInjections := scanInjectArgs(os.Args[1:])

	optConfig := getopt.StringLong("config", 'c', "sys161.conf", "Configuration file")
	getopt.StringLong("inject", 'C', "", "Inject an extra option into a slot's device init (SLOT:ARG)")
	optDoom := getopt.IntLong("doom", 'D', 0, "Arm the disk doom counter to N writes")
	optTraceFile := getopt.StringLong("tracefile", 'f', "", "Trace output file")
	optGdbPort := getopt.IntLong("gdbport", 'p', 0, "Listen for gdb over TCP on PORT (else AF_UNIX .sockets/gdb)")
	optProfile := getopt.BoolLong("profile", 'P', "Collect a kernel PC-sampling profile (gmon.out)")
	optPassSignals := getopt.BoolLong("pass-signals", 's', "Pass signal characters through to the guest")
	optTraceFlags := getopt.StringLong("trace", 't', "", "Enable trace flags (k/u/j/t/x/i/d/n/e)")
	optWait := getopt.BoolLong("wait", 'w', "Wait for a debugger before executing")
	optNoWait := getopt.BoolLong("nowait", 'X', "Do not wait for a debugger on breakpoint; exit instead")
	optWatchdog := getopt.IntLong("watchdog", 'Z', 0, "Watchdog timeout in seconds")
	optLog := getopt.StringLong("log", 'l', "", "Log file")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var logFile *os.File
	if *optLog != "" {
		logFile, _ = os.Create(*optLog)
	}
	debugLogging := false
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	Logger = slog.New(logger.NewHandler(logFile, &slog.HandlerOptions{Level: programLevel, AddSource: false}, &debugLogging))
	slog.SetDefault(Logger)

	Logger.Info("sys161go started")

	if _, err := os.Stat(*optConfig); os.IsNotExist(err) {
		Logger.Error("configuration file not found", "path", *optConfig)
		os.Exit(2)
	}

	mbCfg, err := config.ScanMainboard(*optConfig)
	if err != nil {
		Logger.Error(err.Error())
		os.Exit(2)
	}

	inject, err := parseInjections(rawInjections)
	if err != nil {
		Logger.Error(err.Error())
		os.Exit(2)
	}

	var traceMask uint32
	if *optTraceFlags != "" {
		mask, err := parseTraceFlags(*optTraceFlags)
		if err != nil {
			Logger.Error(err.Error())
			os.Exit(2)
		}
		traceMask = mask
		cpu.SetTraceFlags(traceMask)
	}

	if err := os.MkdirAll(filepath.Join(".", ".sockets"), 0o755); err != nil {
		Logger.Error("creating .sockets directory", "err", err)
		os.Exit(2)
	}

	traceOut := io.Writer(os.Stderr)
	if *optTraceFile != "" {
		tf, err := os.Create(*optTraceFile)
		if err != nil {
			Logger.Error("opening trace file", "err", err)
			os.Exit(2)
		}
		defer tf.Close()
		traceOut = tf
	}

	ram := memory.New(uint32(mbCfg.RAMSize))
	sched := event.New(time.Now().UnixNano(), 0, 0)
	disp := selectloop.New()

	var mach *machine.Machine
	b := bus.New(cpuLine{mach: &mach}, mbCfg.NumCPUs)

	cpus := make([]*cpu.CPU, mbCfg.NumCPUs)
	for i := range cpus {
		cpus[i] = cpu.NewCPU(i, ram, b)
	}

	mach = machine.New(ram, b, cpus, sched, disp)

	if *optWatchdog > 0 {
		sched.ArmWatchdog(time.Duration(*optWatchdog) * time.Second)
	}

	var prof *profile.Profiler
	if *optProfile {
		prof = profile.New(0, memory.MaxRAMSize, uint32(1_000_000_000/event.NsPerCycle))
		prof.Enable()
		cpu.SetProfSample(prof.Sample)
	}

	mb := mainboard.New(uint32(mbCfg.RAMSize), cpus, sched, b, func() {
		Logger.Info("poweroff")
		if prof != nil {
			if err := prof.WriteGmon("gmon.out"); err != nil {
				Logger.Warn("writing gmon.out", "err", err)
			}
		}
		os.Exit(0)
	})
	mbIdentity := D.Identity{Vendor: lbVendSys161, DeviceID: devMainboard, Revision: revMainboard}
	if mbCfg.IsOld {
		mbIdentity = D.Identity{Vendor: lbVendSys161, DeviceID: devOldMainboard, Revision: revOldMainboard}
	}
	if err := b.Attach(mbCfg.Slot, mb, mbIdentity); err != nil {
		Logger.Error("attaching mainboard", "err", err)
		os.Exit(2)
	}

	var (
		serialDevs []*serial.Serial
		diskDevs   []*disk.Disk
		netDevs    []*sysnet.NIC
		fsDevs     []*emufs.Filesystem
		doom       *disk.DoomCounter
		consoleRef *console.Stdio
	)

	if *optDoom > 0 {
		doom = disk.NewDoomCounter(uint32(*optDoom), func() {
			Logger.Warn("disk doom counter expired; simulating media failure")
		})
	}

	traceLogger := slog.New(slog.NewTextHandler(traceOut, nil))
	traceHooks := trace.Hooks{
		AdjustFlag: func(code uint32, enable bool) bool {
			if code == 0 || code&^allTraceBits != 0 {
				return false
			}
			if enable {
				traceMask |= code
			} else {
				traceMask &^= code
			}
			cpu.SetTraceFlags(traceMask)
			traceLogger.Info("trace flag changed", "bits", code, "enabled", enable)
			return true
		},
		DumpState:  func() { b.Dump() },
		EnterDebug: mach.EnterDebugger,
	}
	if prof != nil {
		traceHooks.ProfEnable = prof.Enable
		traceHooks.ProfClear = prof.Clear
		traceHooks.ProfEnabled = prof.Enabled
	}

	registerDeviceModels(deviceRegistrationArgs{
		bus:        b,
		sched:      sched,
		disp:       disp,
		doom:       doom,
		inject:     inject,
		traceHooks: traceHooks,
		serialDevs: &serialDevs,
		diskDevs:   &diskDevs,
		netDevs:    &netDevs,
		fsDevs:     &fsDevs,
		consoleRef: &consoleRef,
	})

	if err := config.LoadConfigFile(*optConfig); err != nil {
		Logger.Error(err.Error())
		os.Exit(2)
	}

	if len(serialDevs) > 0 {
		brk := func() {
			mach.EnterDebugger()
			Logger.Info("break from console")
		}
		consoleRef = console.NewStdio(console.Target{PushInput: serialDevs[0].PushInput, Break: brk}, *optPassSignals)
		if err := consoleRef.Start(); err != nil {
			Logger.Error("starting console", "err", err)
			os.Exit(2)
		}
	}

	if kernelArgs := getopt.Args(); len(kernelArgs) > 0 {
		res, err := loader.LoadKernel(ram, kernelArgs[0], strings.Join(kernelArgs[1:], " "))
		if err != nil {
			Logger.Error("loading kernel", "err", err)
			os.Exit(2)
		}
		cpus[0].SetEntry(res.Entry, res.SP, res.Arg)
	}

	stopCycling := mach.EnterDebugger
	if *optNoWait {
		stopCycling = func() {
			Logger.Warn("breakpoint hit with -X set; exiting instead of waiting for a debugger")
			os.Exit(1)
		}
	}

	cpu.SetHangFunc(func(msg string) {
		Logger.Error("guest hang", "msg", msg)
		stopCycling()
	})

	var gdbListener *gdbstub.Listener
	gdbTarget := buildGdbTarget(mach, cpus, stopCycling)
	if *optGdbPort > 0 {
		gdbListener, err = gdbstub.Listen(fmt.Sprintf(":%d", *optGdbPort), gdbTarget, mach.EnterDebugger)
	} else {
		gdbListener, err = gdbstub.ListenUnix(filepath.Join(".sockets", "gdb"), gdbTarget, mach.EnterDebugger)
	}
	if err != nil {
		Logger.Error("starting gdb listener", "err", err)
		os.Exit(2)
	}
	go gdbListener.Serve()

	meterTarget := buildMeterTarget(cpus, diskDevs, serialDevs, fsDevs, netDevs)
	meterServer, err := meter.Listen(filepath.Join(".sockets", "meter"), meterTarget, sched)
	if err != nil {
		Logger.Error("starting meter listener", "err", err)
		os.Exit(2)
	}
	go meterServer.Serve()

	if *optWait {
		mach.EnterDebugger()
	}

	debugTarget := debugger.Target{
		NumCPUs:   func() int { return len(cpus) },
		Regs:      func(n int) [48]uint32 { return cpus[n].DebugRegs() },
		FetchWord: func(n int, v uint32) (uint32, bool) { return cpus[n].DebugFetchWord(v) },
		StoreWord: func(n int, v, val uint32) bool { return cpus[n].DebugStoreWord(v, val) },
		Stats:     func(n int) debugger.Stats { return toDebuggerStats(cpus[n].GetStats()) },
		Resume:    mach.LeaveDebugger,
		SingleStep: func(n int) { cpus[n].Step() },
		Quit:      func() { os.Exit(3) },
	}
	monitor := debugger.New(debugTarget)
	cpu.SetBreakpointHook(monitor.IsBreakpoint)

	mach.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGTSTP, syscall.SIGCONT, syscall.SIGPIPE)

	go func() {
		for sig := range sigChan {
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				Logger.Info("received shutdown signal")
				mach.RequestShutoff()
				return
			case syscall.SIGTSTP:
				Logger.Info("suspending")
			case syscall.SIGCONT:
				Logger.Info("resuming")
			case syscall.SIGPIPE:
				Logger.Warn("broken pipe on a remote console or protocol socket")
			}
		}
	}()

	if *optWait {
		monitor.Run()
	}

	<-make(chan struct{})
}

// cpuLine adapts internal/machine.Machine to internal/bus.CPULine
// without letting internal/bus import internal/machine directly; mach
// is set once machine.New runs, after bus.New already needed the
// adapter to exist (the two constructors are mutually dependent on
// each other's result).
type cpuLine struct {
	mach **machine.Machine
}

func (c cpuLine) SetLamebusIRQ(cpunum int, asserted bool) {
	if *c.mach != nil {
		(*c.mach).SetLamebusIRQ(cpunum, asserted)
	}
}

// scanInjectArgs walks the raw argument list for every occurrence of
// "-C VALUE" or "--inject=VALUE"/"--inject VALUE" before getopt.Parse
// runs. getopt/v2's String flags only keep the last occurrence, but
// "-C SLOT:ARG" is meant to be given once per injected option.
func scanInjectArgs(args []string) []string {
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-C":
			if i+1 < len(args) {
				out = append(out, args[i+1])
				i++
			}
		case strings.HasPrefix(arg, "-C"):
			out = append(out, strings.TrimPrefix(arg, "-C"))
		case arg == "--inject":
			if i+1 < len(args) {
				out = append(out, args[i+1])
				i++
			}
		case strings.HasPrefix(arg, "--inject="):
			out = append(out, strings.TrimPrefix(arg, "--inject="))
		}
	}
	return out
}

func parseInjections(raw []string) (map[int][]config.Option, error) {
	out := map[int][]config.Option{}
	for _, entry := range raw {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("-C %q: expected SLOT:ARG", entry)
		}
		slot, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("-C %q: %w", entry, err)
		}
		opt, err := config.ParseOptionString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("-C %q: %w", entry, err)
		}
		out[slot] = append(out[slot], opt)
	}
	return out, nil
}

// parseTraceFlags parses the letters of "-t" into traceLetters' bitmask.
func parseTraceFlags(s string) (uint32, error) {
	var mask uint32
	for _, r := range s {
		bit, ok := traceLetters[r]
		if !ok {
			return 0, fmt.Errorf("invalid trace flag %q", string(r))
		}
		mask |= bit
	}
	return mask, nil
}

func toDebuggerStats(s cpu.Stats) debugger.Stats {
	return debugger.Stats{
		KernelCycles:  s.KernelCycles,
		UserCycles:    s.UserCycles,
		IdleCycles:    s.IdleCycles,
		KernelRetired: s.KernelRetired,
		UserRetired:   s.UserRetired,
		Irqs:          s.Irqs,
		Exceptions:    s.Exceptions,
		TLBMisses:     s.TLBMisses,
	}
}

func buildGdbTarget(mach *machine.Machine, cpus []*cpu.CPU, stopCycling func()) gdbstub.Target {
	return gdbstub.Target{
		NumCPUs:     func() int { return len(cpus) },
		CPUEnabled:  func(n int) bool { return cpus[n].State() != cpu.Disabled },
		BreakCPU:    func() int { return 0 },
		Regs:        func(n int) [48]uint32 { return cpus[n].DebugRegs() },
		SetEntry:    func(n int, pc uint32) { cpus[n].SetEntry(pc, 0, 0) },
		FetchByte:   func(n int, v uint32) (uint8, bool) { return cpus[n].DebugFetchByte(v) },
		FetchWord:   func(n int, v uint32) (uint32, bool) { return cpus[n].DebugFetchWord(v) },
		StoreByte:   func(n int, v uint32, val uint8) bool { return cpus[n].DebugStoreByte(v, val) },
		StoreWord:   func(n int, v uint32, val uint32) bool { return cpus[n].DebugStoreWord(v, val) },
		StopCycling: stopCycling,
		SingleStep:  func() { cpus[0].Step() },
		Resume:      mach.LeaveDebugger,
		Kill:        func() { os.Exit(3) },
	}
}

func buildMeterTarget(cpus []*cpu.CPU, disks []*disk.Disk, serials []*serial.Serial, fses []*emufs.Filesystem, nics []*sysnet.NIC) meter.Target {
	return meter.Target{
		CPUStats: func() []meter.CPUCounters {
			out := make([]meter.CPUCounters, len(cpus))
			for i, c := range cpus {
				s := c.GetStats()
				out[i] = meter.CPUCounters{
					KernelCycles: s.KernelCycles, UserCycles: s.UserCycles, IdleCycles: s.IdleCycles,
					KernelRetired: s.KernelRetired, UserRetired: s.UserRetired,
					Irqs: s.Irqs, Exceptions: s.Exceptions,
				}
			}
			return out
		},
		DiskSectors: func() (read, written uint64) {
			for _, d := range disks {
				r, w := d.SectorCounts()
				read += r
				written += w
			}
			return
		},
		ConsoleChars: func() (read, written uint64) {
			for _, s := range serials {
				r, w := s.CharCounts()
				read += r
				written += w
			}
			return
		},
		EmuOps: func() (read, written, other uint64) {
			for _, f := range fses {
				r, w, o := f.OpCounts()
				read += r
				written += w
				other += o
			}
			return
		},
		NetPkts: func() (received, sent uint64) {
			for _, n := range nics {
				r, s := n.PacketCounts()
				received += r
				sent += s
			}
			return
		},
	}
}

type deviceRegistrationArgs struct {
	bus        *bus.Bus
	sched      *event.Scheduler
	disp       *selectloop.Dispatcher
	doom       *disk.DoomCounter
	inject     map[int][]config.Option
	traceHooks trace.Hooks
	serialDevs *[]*serial.Serial
	diskDevs   *[]*disk.Disk
	netDevs    *[]*sysnet.NIC
	fsDevs     *[]*emufs.Filesystem
	consoleRef **console.Stdio
}

func findOption(options []config.Option, name string) (config.Option, bool) {
	for _, o := range options {
		if strings.EqualFold(o.Name, name) {
			return o, true
		}
	}
	return config.Option{}, false
}

func hasSwitch(options []config.Option, name string) bool {
	_, ok := findOption(options, name)
	return ok
}

// registerDeviceModels installs every config.RegisterModel handler
// before the real LoadConfigFile pass runs (main's ScanMainboard
// already did a throwaway first pass just to learn ramsize=/cpus=).
func registerDeviceModels(a deviceRegistrationArgs) {
	config.RegisterModel("MAINBOARD", config.TypeModel, func(slot int, _ string, _ []config.Option) error {
		return nil // already attached by main before this pass runs
	})
	config.RegisterModel("OLDMAINBOARD", config.TypeModel, func(slot int, _ string, _ []config.Option) error {
		return nil
	})

	config.RegisterModel("TIMER", config.TypeModel, func(slot int, _ string, options []config.Option) error {
		options = append(options, a.inject[slot]...)
		t := clock.New(slot, a.bus, a.sched, func() { Logger.Info("beep") })
		return a.bus.Attach(slot, t, D.Identity{Vendor: lbVendSys161, DeviceID: devTimer, Revision: revTimer})
	})

	config.RegisterModel("DISK", config.TypeModel, func(slot int, _ string, options []config.Option) error {
		options = append(options, a.inject[slot]...)
		var path string
		var rpm uint64 = 3600
		var sectors uint64
		paranoid := hasSwitch(options, "paranoid")
		useDoom := !hasSwitch(options, "nodoom")
		if f, ok := findOption(options, "file"); ok {
			path = f.EqualOpt
		}
		if path == "" {
			return fmt.Errorf("disk: slot %d: no filename specified", slot)
		}
		if r, ok := findOption(options, "rpm"); ok {
			v, err := strconv.ParseUint(r.EqualOpt, 10, 32)
			if err != nil {
				return fmt.Errorf("disk: slot %d: %w", slot, err)
			}
			rpm = v
		}
		if s, ok := findOption(options, "sectors"); ok {
			v, err := strconv.ParseUint(s.EqualOpt, 10, 32)
			if err != nil {
				return fmt.Errorf("disk: slot %d: %w", slot, err)
			}
			sectors = v
		}
		d, err := disk.Open(slot, path, uint32(sectors), uint32(rpm), paranoid, a.doom, useDoom, a.bus, a.sched)
		if err != nil {
			return err
		}
		*a.diskDevs = append(*a.diskDevs, d)
		return a.bus.Attach(slot, d, D.Identity{Vendor: lbVendSys161, DeviceID: devDisk, Revision: revDisk})
	})

	config.RegisterModel("SERIAL", config.TypeModel, func(slot int, _ string, options []config.Option) error {
		options = append(options, a.inject[slot]...)
		s := serial.New(slot, a.bus, a.sched, func(ch byte) {
			if *a.consoleRef != nil {
				(*a.consoleRef).Output(ch)
			}
		})
		*a.serialDevs = append(*a.serialDevs, s)
		return a.bus.Attach(slot, s, D.Identity{Vendor: lbVendSys161, DeviceID: devSerial, Revision: revSerial})
	})

	config.RegisterModel("SCREEN", config.TypeModel, func(slot int, _ string, _ []config.Option) error {
		return fmt.Errorf("screen: slot %d: screen device not supported", slot)
	})

	config.RegisterModel("NET", config.TypeModel, func(slot int, _ string, options []config.Option) error {
		options = append(options, a.inject[slot]...)
		hub := filepath.Join(".sockets", "hub")
		var hwaddr uint64
		if h, ok := findOption(options, "hub"); ok {
			hub = h.EqualOpt
		}
		if h, ok := findOption(options, "hwaddr"); ok {
			v, err := strconv.ParseUint(h.EqualOpt, 0, 16)
			if err != nil {
				return fmt.Errorf("net: slot %d: %w", slot, err)
			}
			hwaddr = v
		} else {
			return fmt.Errorf("net: slot %d: hwaddr= is required", slot)
		}
		n, err := sysnet.Open(slot, a.bus, a.sched, ".", hub, uint16(hwaddr))
		if err != nil {
			return err
		}
		*a.netDevs = append(*a.netDevs, n)
		name, ready, onReady := n.Source()
		a.disp.Register(selectloop.Source{Name: name, Ready: ready, OnReady: onReady})
		return a.bus.Attach(slot, n, D.Identity{Vendor: lbVendSys161, DeviceID: devNet, Revision: revNet})
	})

	config.RegisterModel("EMUFS", config.TypeModel, func(slot int, _ string, options []config.Option) error {
		options = append(options, a.inject[slot]...)
		dir := "."
		if d, ok := findOption(options, "dir"); ok {
			dir = d.EqualOpt
		}
		f, err := emufs.New(slot, dir, a.bus)
		if err != nil {
			return err
		}
		*a.fsDevs = append(*a.fsDevs, f)
		return a.bus.Attach(slot, f, D.Identity{Vendor: lbVendSys161, DeviceID: devEmufs, Revision: revEmufs})
	})

	config.RegisterModel("RANDOM", config.TypeModel, func(slot int, _ string, options []config.Option) error {
		options = append(options, a.inject[slot]...)
		var seed int64
		if s, ok := findOption(options, "seed"); ok {
			v, err := strconv.ParseInt(s.EqualOpt, 10, 64)
			if err != nil {
				return fmt.Errorf("random: slot %d: %w", slot, err)
			}
			seed = v
		} else {
			seed = rand.Int63()
		}
		r := rng.New(seed)
		return a.bus.Attach(slot, r, D.Identity{Vendor: lbVendSys161, DeviceID: devRandom, Revision: revRandom})
	})

	config.RegisterModel("TRACE", config.TypeModel, func(slot int, _ string, options []config.Option) error {
		options = append(options, a.inject[slot]...)
		t := trace.New(a.traceHooks)
		return a.bus.Attach(slot, t, D.Identity{Vendor: lbVendSys161, DeviceID: devTrace, Revision: revTrace})
	})
}
