package console

import (
	"bytes"
	"testing"
)

func TestStdioDeliverRoutesPlainBytesToPushInput(t *testing.T) {
	var got []byte
	c := &Stdio{target: Target{PushInput: func(b byte) { got = append(got, b) }}}
	c.deliver('a')
	c.deliver('Z')
	if !bytes.Equal(got, []byte{'a', 'Z'}) {
		t.Fatalf("got %v", got)
	}
}

func TestStdioDeliverRoutesEscapeCharToBreak(t *testing.T) {
	var broke bool
	var pushed []byte
	c := &Stdio{target: Target{
		PushInput: func(b byte) { pushed = append(pushed, b) },
		Break:     func() { broke = true },
	}}
	c.deliver(escapeChar)
	if !broke {
		t.Fatal("expected Break to fire on ^G")
	}
	if len(pushed) != 0 {
		t.Fatalf("expected ^G not to reach PushInput, got %v", pushed)
	}
}

func TestStdioOutputWritesRawByte(t *testing.T) {
	var buf bytes.Buffer
	c := &Stdio{out: &buf}
	c.Output('q')
	if buf.String() != "q" {
		t.Fatalf("got %q", buf.String())
	}
}
