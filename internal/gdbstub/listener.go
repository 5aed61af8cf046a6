/*
   GDB stub listener: accepts one debugger connection at a time over
   TCP or a Unix domain socket (gdb/gdb_fe.c gdb_inet_init/gdb_unix_init).

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

package gdbstub

import (
	"log/slog"
	"net"
	"sync"
)

// Listener accepts gdb connections, enforcing the original's
// one-session-at-a-time rule (g_ctx_inuse): a second simultaneous
// connection is told "E99" and dropped.
type Listener struct {
	ln     net.Listener
	target Target

	mu      sync.Mutex
	active  bool
	onAttach func()
}

// Listen binds a TCP listener on the given address (e.g. ":2344"),
// the network-socket analogue of gdb_inet_init.
func Listen(addr string, target Target, onAttach func()) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, target: target, onAttach: onAttach}, nil
}

// ListenUnix binds a Unix domain socket listener at path, the
// analogue of gdb_unix_init.
func ListenUnix(path string, target Target, onAttach func()) (*Listener, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, target: target, onAttach: onAttach}, nil
}

// Addr returns the bound address (gdb_dumpstate's "listening at ...").
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until the listener is closed, running
// each on its own goroutine (gdb_fe.c's onselect-driven accepter +
// gdb_receive, folded into one blocking read loop per connection
// since each session now owns its own goroutine instead of sharing
// the process-wide select() table).
func (l *Listener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	defer conn.Close()

	l.mu.Lock()
	if l.active {
		l.mu.Unlock()
		conn.Write([]byte("$E99#b7"))
		return
	}
	l.active = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.active = false
		l.mu.Unlock()
	}()

	slog.Info("gdbstub: new debugger connection", "addr", conn.RemoteAddr())
	l.target.StopCycling()
	if l.onAttach != nil {
		l.onAttach()
	}

	sess := NewSession(l.target, conn)
	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			pending = sess.Feed(append(pending, buf[:n]...))
		}
		if err != nil {
			return
		}
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}
