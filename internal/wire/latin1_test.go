package wire

import (
	"errors"
	"testing"
)

// TestReadCString tests NUL-terminated reads at various offsets and the
// unterminated failure case.
func TestReadCString(t *testing.T) {
	buf := []byte{'a', 'b', 0, 'c', 0, 0}

	s, next, err := ReadCString(buf, 0)
	if err != nil || s != "ab" || next != 3 {
		t.Fatalf("ReadCString(0) = (%q, %d, %v)", s, next, err)
	}
	s, next, err = ReadCString(buf, next)
	if err != nil || s != "c" || next != 5 {
		t.Fatalf("ReadCString(3) = (%q, %d, %v)", s, next, err)
	}
	s, next, err = ReadCString(buf, next)
	if err != nil || s != "" || next != 6 {
		t.Fatalf("ReadCString(5) = (%q, %d, %v)", s, next, err)
	}

	if _, _, err := ReadCString([]byte{'x', 'y'}, 0); !errors.Is(err, ErrUnterminated) {
		t.Fatalf("expected ErrUnterminated, got %v", err)
	}
}

// TestLatin1RoundTrip tests that every single-byte value survives the
// bytes -> string -> bytes round trip.
func TestLatin1RoundTrip(t *testing.T) {
	raw := make([]byte, 255)
	for i := range raw {
		raw[i] = byte(i + 1) // skip NUL; it terminates wire strings
	}
	s := Latin1ToString(raw)
	back, ok := StringToLatin1(s)
	if !ok {
		t.Fatal("round trip rejected its own output")
	}
	if len(back) != len(raw) {
		t.Fatalf("length changed: %d -> %d", len(raw), len(back))
	}
	for i := range raw {
		if back[i] != raw[i] {
			t.Fatalf("byte %d changed: %#x -> %#x", i, raw[i], back[i])
		}
	}
}

// TestStringToLatin1_RejectsWideRunes tests that runes above 0xFF are
// refused rather than mangled.
func TestStringToLatin1_RejectsWideRunes(t *testing.T) {
	if _, ok := StringToLatin1("héllo"); !ok {
		t.Error("Latin-1 high byte rejected")
	}
	if _, ok := StringToLatin1("日本語"); ok {
		t.Error("wide runes accepted")
	}
}
