/*
   S370 - telnet server, handle connection and link to device.

   Copyright 2024, Richard Cornwell

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

package console

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Server listens for a single remote console connection at a time
// and relays it to Target, the same one-listener-many-accepts shape
// as the original's per-port Server but with the device-routing
// table (portMap/termMap/groups) removed: there is exactly one
// console to connect to, not a directory of 370 terminal lines.
type Server struct {
	wg       sync.WaitGroup
	listener net.Listener
	target   Target
	addr     string

	mu      sync.Mutex
	current net.Conn
	done    chan struct{}
}

// Listen binds addr (host:port) for remote console connections.
func Listen(addr string, target Target) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("console: listen %s: %w", addr, err)
	}
	return &Server{listener: ln, target: target, addr: addr, done: make(chan struct{})}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until Stop is called, dropping whichever
// client was previously attached in favor of the newest one (there
// is one guest console; only one remote viewer makes sense at a time).
func (s *Server) Serve() {
	s.wg.Add(1)
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				slog.Error("console: accept", "err", err)
				return
			}
		}
		s.replace(conn)
	}
}

func (s *Server) replace(conn net.Conn) {
	s.mu.Lock()
	prev := s.current
	s.current = conn
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runNVT(conn, s.target)
	}()
}

// Stop closes the listener and any attached connection, then waits
// for the accept and session goroutines to exit.
func (s *Server) Stop() {
	close(s.done)
	_ = s.listener.Close()
	s.mu.Lock()
	if s.current != nil {
		s.current.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
