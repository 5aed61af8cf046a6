package profile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSampleIgnoredUntilEnabled(t *testing.T) {
	p := New(0x1000, 0x2000, 100)
	p.Sample(0x1010)
	p.Enable()
	p.Sample(0x1010)
	p.Sample(0x1010)
	if p.bins[1] != 2 {
		t.Fatalf("got %d", p.bins[1])
	}
}

func TestSampleOutOfRangeDropped(t *testing.T) {
	p := New(0x1000, 0x2000, 100)
	p.Enable()
	p.Sample(0x500)
	p.Sample(0x5000)
	for i, b := range p.bins {
		if b != 0 {
			t.Fatalf("bin %d got %d", i, b)
		}
	}
}

func TestClearZeroesWithoutDisabling(t *testing.T) {
	p := New(0x1000, 0x2000, 100)
	p.Enable()
	p.Sample(0x1010)
	p.Clear()
	if p.bins[1] != 0 {
		t.Fatal("expected bins cleared")
	}
	if !p.Enabled() {
		t.Fatal("expected Clear to leave sampling enabled")
	}
}

func TestWriteGmonProducesExpectedHeader(t *testing.T) {
	p := New(0x1000, 0x1000+16*4, 50)
	p.Enable()
	p.Sample(0x1000)
	path := filepath.Join(t.TempDir(), "gmon.out")
	if err := p.WriteGmon(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data[0:4]) != "gmon" {
		t.Fatalf("bad magic: %q", data[0:4])
	}
	wantLen := 4 + 4 + 12 + 1 + 4 + 4 + 4 + 4 + 15 + 1 + 4*2
	if len(data) != wantLen {
		t.Fatalf("got length %d want %d", len(data), wantLen)
	}
}
