package memory

import "testing"

func TestRoundTripBytes(t *testing.T) {
	r := New(4096)
	for i := 0; i < 256; i++ {
		if ok := r.WriteByte(uint32(i), uint8(i)); !ok {
			t.Fatalf("write byte %d failed", i)
		}
	}
	for i := 0; i < 256; i++ {
		v, ok := r.ReadByte(uint32(i))
		if !ok || v != uint8(i) {
			t.Fatalf("byte %d: got %d, ok=%v", i, v, ok)
		}
	}
}

func TestWordIdentity(t *testing.T) {
	r := New(4096)
	r.WriteWord(0x100, 0xdeadbeef)
	v, ok := r.ReadWord(0x100)
	if !ok || v != 0xdeadbeef {
		t.Fatalf("got %#x ok=%v", v, ok)
	}
	// A word read followed by an immediate word write of the same
	// value is the identity.
	if ok := r.WriteWord(0x100, v); !ok {
		t.Fatalf("rewrite failed")
	}
	v2, _ := r.ReadWord(0x100)
	if v2 != v {
		t.Fatalf("identity violated: %#x != %#x", v2, v)
	}
}

func TestByteIsHighOrderOfWord(t *testing.T) {
	r := New(4096)
	r.WriteWord(0x200, 0x11223344)
	b, _ := r.ReadByte(0x200)
	if b != 0x11 {
		t.Fatalf("expected high byte 0x11, got %#x", b)
	}
}

func TestOutOfRange(t *testing.T) {
	r := New(4096)
	if _, ok := r.ReadWord(0x2000); ok {
		t.Fatalf("expected out-of-range read to fail")
	}
	if ok := r.WriteWord(0x2000, 1); ok {
		t.Fatalf("expected out-of-range write to fail")
	}
}

func TestSizeClampedAndPageAligned(t *testing.T) {
	r := New(MaxRAMSize + 4096)
	if r.Size() != MaxRAMSize {
		t.Fatalf("expected clamp to %#x, got %#x", MaxRAMSize, r.Size())
	}
	r2 := New(4097)
	if r2.Size() != 4096 {
		t.Fatalf("expected page-rounding to 4096, got %d", r2.Size())
	}
}

func TestROMReadOnly(t *testing.T) {
	r := New(4096)
	r.LoadROM([]byte{0x01, 0x02, 0x03, 0x04})
	v, ok := r.ReadWord(ROMBase)
	if !ok || v != 0x01020304 {
		t.Fatalf("got %#x ok=%v", v, ok)
	}
	if ok := r.WriteWord(ROMBase, 0); ok {
		t.Fatalf("expected ROM write to fail")
	}
}

func TestPageCrossesIntoROM(t *testing.T) {
	r := New(4096)
	r.LoadROM([]byte{0xaa, 0xbb, 0xcc, 0xdd})
	page, base, ok := r.Page(ROMBase + 8)
	if !ok || base != ROMBase || len(page) != 4096 {
		t.Fatalf("page=%v base=%#x ok=%v", page[:4], base, ok)
	}
}
