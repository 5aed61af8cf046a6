/*
sys161go - select/poll dispatcher

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

// Package selectloop is the Go-idiomatic stand-in for sys161's single
// blocking select() call multiplexing console input, the gdb socket,
// the hub socket, and the debugger socket. Rather than wrap
// syscall.Select over raw fds, every
// source runs its own blocking read in a goroutine and signals a
// per-source "ready" channel; Wait multiplexes those channels with
// reflect.Select, which is the direct analogue of a variadic select()
// over an fd_set when the fd count is only known at runtime.
package selectloop

import (
	"log/slog"
	"reflect"
	"time"
)

// Source is one registered external event producer (console, gdb
// listener, hub socket, ...).
type Source struct {
	Name    string
	Ready   <-chan struct{} // signaled when this source has work
	OnReady func()          // invoked on the dispatcher goroutine when Ready fires
}

// Dispatcher holds the fd(-like) → callback table behind one blocking
// multiplexed wait.
type Dispatcher struct {
	sources []Source
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Register adds a source. Must be called before the first Wait/Poll;
// sources are not added or removed while a Wait is in flight.
func (d *Dispatcher) Register(s Source) {
	d.sources = append(d.sources, s)
}

// Poll services at most one source that is immediately ready, with no
// blocking. Used by the main loop's brief every-ROTOR-cycles service
// pass.
func (d *Dispatcher) Poll() {
	d.Wait(0)
}

// Wait blocks for up to timeout waiting for any source to become
// ready, invoking its OnReady callback when it does, and returns true
// if something fired before the timeout. timeout < 0 blocks
// indefinitely.
func (d *Dispatcher) Wait(timeout time.Duration) bool {
	if len(d.sources) == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return false
	}

	cases := make([]reflect.SelectCase, 0, len(d.sources)+1)
	for _, s := range d.sources {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(s.Ready),
		})
	}
	hasTimeout := timeout >= 0
	if hasTimeout {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(time.After(timeout)),
		})
	}

	fired := false
	for {
		chosen, _, _ := reflect.Select(cases)
		if hasTimeout && chosen == len(cases)-1 {
			return fired
		}
		s := d.sources[chosen]
		if s.OnReady != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("selectloop: source panicked", "source", s.Name, "panic", r)
					}
				}()
				s.OnReady()
			}()
		}
		fired = true
		if timeout == 0 {
			// Non-blocking poll: return after this one source rather
			// than looping forever on a busy source.
			return fired
		}
		return fired
	}
}
