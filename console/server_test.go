package console

import (
	"net"
	"testing"
	"time"
)

func TestServerRelaysBytesToTarget(t *testing.T) {
	received := make(chan byte, 16)
	srv, err := Listen("127.0.0.1:0", Target{PushInput: func(b byte) { received <- b }})
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve()
	t.Cleanup(srv.Stop)

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	buf := make([]byte, len(initString))
	if _, err := readFull(conn, buf); err != nil {
		t.Fatal(err)
	}

	conn.Write([]byte("X"))
	select {
	case got := <-received:
		if got != 'X' {
			t.Fatalf("got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for byte")
	}
}

func TestServerReplacesPriorConnection(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", Target{PushInput: func(byte) {}})
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve()
	t.Cleanup(srv.Stop)

	first, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	readFull(first, make([]byte, len(initString)))

	second, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	readFull(second, make([]byte, len(initString)))

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := first.Read(buf); err == nil {
		t.Fatal("expected the first connection to be closed when a second one connects")
	}
}
