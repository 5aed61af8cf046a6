/*
   Interactive monitor: a liner-backed command prompt entered on -w, an
   unhandled BREAK with no remote debugger attached, or a lethal guest
   "hang" (command/reader/reader.go, command/parser/parser.go).

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

// Package debugger implements the console monitor: register/memory
// examine and deposit, breakpoints, single-step, continue, and a
// per-CPU stats dump, all over a liner prompt with command-name
// completion.
package debugger

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"
)

// Stats is the subset of a CPU's counters the monitor's "stats"
// command prints, copied by value so this package never imports
// internal/cpu directly (the same decoupling as gdbstub.Target).
type Stats struct {
	KernelCycles, UserCycles, IdleCycles uint64
	KernelRetired, UserRetired           uint64
	Irqs, Exceptions, TLBMisses          uint64
}

// Target is the machine surface the monitor drives.
type Target struct {
	NumCPUs   func() int
	Regs      func(cpu int) [48]uint32
	FetchWord func(cpu int, vaddr uint32) (uint32, bool)
	StoreWord func(cpu int, vaddr uint32, v uint32) bool
	Stats     func(cpu int) Stats
	Resume    func()
	SingleStep func(cpu int)
	Quit      func()
}

// regNames labels internal/cpu.DebugRegs's fixed 48-entry layout.
var regNames = [48]string{
	"r0", "at", "v0", "v1", "a0", "a1", "a2", "a3",
	"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
	"t8", "t9", "k0", "k1", "gp", "sp", "s8", "ra",
	"status", "lo", "hi", "badvaddr", "cause", "pc",
	"fpstatus", "fpimpl", "fpresv",
	"index", "random", "entrylo", "context", "entryhi", "epc", "prid",
}

type cmd struct {
	name    string
	min     int
	help    string
	process func(*Monitor, []string) (bool, error)
}

var cmdList = []cmd{
	{"continue", 1, "continue — resume execution", (*Monitor).cmdContinue},
	{"step", 1, "step [n] — single-step the current cpu n times (default 1)", (*Monitor).cmdStep},
	{"examine", 1, "examine <addr> [count] — dump words of memory", (*Monitor).cmdExamine},
	{"deposit", 1, "deposit <addr> <value> — store one word", (*Monitor).cmdDeposit},
	{"registers", 1, "registers — print the current cpu's register file", (*Monitor).cmdRegisters},
	{"stats", 2, "stats — print the current cpu's counters", (*Monitor).cmdStats},
	{"break", 2, "break <addr> — set a breakpoint", (*Monitor).cmdBreak},
	{"delete", 3, "delete <addr>|all — clear breakpoint(s)", (*Monitor).cmdDelete},
	{"cpu", 3, "cpu [n] — show or select the current cpu", (*Monitor).cmdCPU},
	{"quit", 1, "quit — stop the simulation", (*Monitor).cmdQuit},
	{"help", 1, "help — list commands", (*Monitor).cmdHelp},
}

// Monitor is one interactive debugger session (command/reader's
// top-level loop plus command/parser's command table, folded
// together since this package has no device/attach machinery to
// justify splitting them).
type Monitor struct {
	target      Target
	cpu         int
	breakpoints map[uint32]bool
}

// New creates a monitor bound to target, starting focused on cpu 0.
func New(target Target) *Monitor {
	return &Monitor{target: target, breakpoints: map[uint32]bool{}}
}

// IsBreakpoint reports whether vaddr has a breakpoint set, consulted
// by the main loop before executing each instruction while a monitor
// is attached.
func (m *Monitor) IsBreakpoint(vaddr uint32) bool {
	return m.breakpoints[vaddr]
}

// Run drives the prompt loop until the user quits or resumes
// execution (command/reader.go's ConsoleReader).
func (m *Monitor) Run() {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(m.complete)

	for {
		input, err := line.Prompt("sys161> ")
		if err == nil {
			line.AppendHistory(input)
			leave, cmdErr := m.process(input)
			if cmdErr != nil {
				fmt.Println("Error: " + cmdErr.Error())
			}
			if leave {
				return
			}
			continue
		}

		if errors.Is(err, liner.ErrPromptAborted) {
			return
		}
		slog.Error("debugger: error reading line", "err", err)
		return
	}
}

func (m *Monitor) complete(line string) []string {
	if strings.Contains(line, " ") {
		return nil
	}
	word := strings.ToLower(line)
	var out []string
	for _, c := range cmdList {
		if strings.HasPrefix(c.name, word) {
			out = append(out, c.name)
		}
	}
	return out
}

// matchCommand allows any unambiguous prefix at least min characters
// long, the same abbreviation rule parser.go's matchCommand enforces.
func matchCommand(c cmd, word string) bool {
	if len(word) < c.min || len(word) > len(c.name) {
		return false
	}
	return c.name[:len(word)] == word
}

func matchList(word string) []cmd {
	if word == "" {
		return nil
	}
	var match []cmd
	for _, c := range cmdList {
		if matchCommand(c, word) {
			match = append(match, c)
		}
	}
	return match
}

func (m *Monitor) process(input string) (bool, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return false, nil
	}
	name := strings.ToLower(fields[0])
	match := matchList(name)
	switch len(match) {
	case 0:
		return false, errors.New("command not found: " + name)
	case 1:
		return match[0].process(m, fields[1:])
	default:
		return false, errors.New("ambiguous command: " + name)
	}
}

func parseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("not a hex address: %s", s)
	}
	return uint32(v), nil
}

func (m *Monitor) cmdContinue(_ []string) (bool, error) {
	m.target.Resume()
	return true, nil
}

func (m *Monitor) cmdStep(args []string) (bool, error) {
	n := 1
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return false, errors.New("step count must be a positive number: " + args[0])
		}
		n = v
	}
	for i := 0; i < n; i++ {
		m.target.SingleStep(m.cpu)
	}
	return false, nil
}

func (m *Monitor) cmdExamine(args []string) (bool, error) {
	if len(args) == 0 {
		return false, errors.New("examine requires an address")
	}
	addr, err := parseHex32(args[0])
	if err != nil {
		return false, err
	}
	count := 1
	if len(args) > 1 {
		v, err := strconv.Atoi(args[1])
		if err != nil || v <= 0 {
			return false, errors.New("count must be a positive number: " + args[1])
		}
		count = v
	}
	for i := 0; i < count; i++ {
		word, ok := m.target.FetchWord(m.cpu, addr)
		if !ok {
			return false, fmt.Errorf("address not mapped: %#08x", addr)
		}
		fmt.Printf("%08x: %08x\n", addr, word)
		addr += 4
	}
	return false, nil
}

func (m *Monitor) cmdDeposit(args []string) (bool, error) {
	if len(args) != 2 {
		return false, errors.New("deposit requires an address and a value")
	}
	addr, err := parseHex32(args[0])
	if err != nil {
		return false, err
	}
	value, err := parseHex32(args[1])
	if err != nil {
		return false, err
	}
	if !m.target.StoreWord(m.cpu, addr, value) {
		return false, fmt.Errorf("address not mapped: %#08x", addr)
	}
	return false, nil
}

func (m *Monitor) cmdRegisters(_ []string) (bool, error) {
	regs := m.target.Regs(m.cpu)
	for i := 0; i < len(regs); i += 4 {
		var row strings.Builder
		for j := i; j < i+4 && j < len(regs); j++ {
			fmt.Fprintf(&row, "%-9s=%08x  ", regNames[j], regs[j])
		}
		fmt.Println(strings.TrimRight(row.String(), " "))
	}
	return false, nil
}

func (m *Monitor) cmdStats(_ []string) (bool, error) {
	s := m.target.Stats(m.cpu)
	fmt.Printf("cpu %d: kcycles=%d ucycles=%d idle=%d kretired=%d uretired=%d irqs=%d exns=%d tlbmiss=%d\n",
		m.cpu, s.KernelCycles, s.UserCycles, s.IdleCycles, s.KernelRetired, s.UserRetired, s.Irqs, s.Exceptions, s.TLBMisses)
	return false, nil
}

func (m *Monitor) cmdBreak(args []string) (bool, error) {
	if len(args) != 1 {
		return false, errors.New("break requires an address")
	}
	addr, err := parseHex32(args[0])
	if err != nil {
		return false, err
	}
	m.breakpoints[addr] = true
	return false, nil
}

func (m *Monitor) cmdDelete(args []string) (bool, error) {
	if len(args) != 1 {
		return false, errors.New("delete requires an address or 'all'")
	}
	if args[0] == "all" {
		m.breakpoints = map[uint32]bool{}
		return false, nil
	}
	addr, err := parseHex32(args[0])
	if err != nil {
		return false, err
	}
	delete(m.breakpoints, addr)
	return false, nil
}

func (m *Monitor) cmdCPU(args []string) (bool, error) {
	if len(args) == 0 {
		fmt.Printf("current cpu: %d\n", m.cpu)
		return false, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 || n >= m.target.NumCPUs() {
		return false, fmt.Errorf("invalid cpu number: %s", args[0])
	}
	m.cpu = n
	return false, nil
}

func (m *Monitor) cmdQuit(_ []string) (bool, error) {
	m.target.Quit()
	return true, nil
}

func (m *Monitor) cmdHelp(_ []string) (bool, error) {
	names := make([]string, 0, len(cmdList))
	byName := map[string]string{}
	for _, c := range cmdList {
		names = append(names, c.name)
		byName[c.name] = c.help
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(byName[n])
	}
	return false, nil
}
