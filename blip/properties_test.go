package blip

import (
	"bytes"
	"errors"
	"testing"
)

// TestDictionary_TwoByteEncoding tests that every dictionary entry encodes
// to exactly two bytes (index + NUL) and round-trips.
func TestDictionary_TwoByteEncoding(t *testing.T) {
	for i := 1; i < len(propertyDictionary); i++ {
		s := propertyDictionary[i]
		enc := appendPropertyString(nil, s)
		if len(enc) != 2 {
			t.Errorf("%q: encoded to %d bytes, want 2", s, len(enc))
		}
		if enc[0] != byte(i) || enc[1] != 0 {
			t.Errorf("%q: encoded as % x, want %02x 00", s, enc, i)
		}
		decoded, next, err := decodePropertyString(enc, 0)
		if err != nil {
			t.Fatalf("%q: decode failed: %v", s, err)
		}
		if decoded != s || next != 2 {
			t.Errorf("%q: decoded to %q (next=%d)", s, decoded, next)
		}
	}
}

// TestDictionary_NonDictionaryString tests that a string outside the
// dictionary is written raw and round-trips.
func TestDictionary_NonDictionaryString(t *testing.T) {
	enc := appendPropertyString(nil, "echo")
	want := []byte{'e', 'c', 'h', 'o', 0}
	if !bytes.Equal(enc, want) {
		t.Fatalf("encoded as % x, want % x", enc, want)
	}
	decoded, next, err := decodePropertyString(enc, 0)
	if err != nil || decoded != "echo" || next != 5 {
		t.Fatalf("decoded %q next=%d err=%v", decoded, next, err)
	}
}

// TestPropertyBlock_RoundTrip encodes a mixed set (dictionary and raw keys
// and values) and decodes it back.
func TestPropertyBlock_RoundTrip(t *testing.T) {
	p := NewProperties()
	for _, kv := range [][2]string{
		{"Profile", "echo"},
		{"Content-Type", "application/json"},
		{"X-Custom", "hello world"},
	} {
		if err := p.Set(kv[0], kv[1]); err != nil {
			t.Fatalf("Set(%q, %q): %v", kv[0], kv[1], err)
		}
	}

	block := encodePropertyBlock(p)
	if block[len(block)-1] != 0 {
		t.Fatal("property block must end in NUL")
	}
	decoded, err := decodePropertyBlock(block)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !p.Equal(decoded) {
		t.Errorf("decoded properties differ: got %v keys", decoded.Keys())
	}
}

// TestPropertyBlock_Empty tests that an empty set encodes to zero bytes and
// that zero bytes decode to an empty set.
func TestPropertyBlock_Empty(t *testing.T) {
	if block := encodePropertyBlock(NewProperties()); len(block) != 0 {
		t.Fatalf("empty set encoded to %d bytes", len(block))
	}
	p, err := decodePropertyBlock(nil)
	if err != nil || p.Len() != 0 {
		t.Fatalf("empty block: len=%d err=%v", p.Len(), err)
	}
}

// TestPropertyBlock_Malformed tests the rejection cases: missing trailing
// NUL, a key with no value, and an unterminated string.
func TestPropertyBlock_Malformed(t *testing.T) {
	cases := []struct {
		name  string
		block []byte
	}{
		{"no trailing NUL", []byte{'a', 0, 'b'}},
		{"key without value", []byte{'a', 0}},
		{"dict key without value", []byte{0x01, 0}},
		{"unterminated value", []byte{'a', 0, 'b', 'c', 0, 'd', 0x01}},
	}
	for _, c := range cases {
		if _, err := decodePropertyBlock(c.block); !errors.Is(err, ErrBadProperties) {
			t.Errorf("%s: expected ErrBadProperties, got %v", c.name, err)
		}
	}
}

// TestPropertyBlock_DuplicateKey tests that a block naming the same key
// twice is rejected.
func TestPropertyBlock_DuplicateKey(t *testing.T) {
	block := []byte{'a', 0, 'x', 0, 'a', 0, 'y', 0}
	if _, err := decodePropertyBlock(block); !errors.Is(err, ErrBadProperties) {
		t.Fatalf("expected ErrBadProperties, got %v", err)
	}
}

// TestProperties_SetRejectsNUL tests that keys and values containing a NUL
// byte never reach the wire.
func TestProperties_SetRejectsNUL(t *testing.T) {
	p := NewProperties()
	if err := p.Set("bad\x00key", "v"); !errors.Is(err, ErrBadProperty) {
		t.Errorf("NUL in key: expected ErrBadProperty, got %v", err)
	}
	if err := p.Set("k", "bad\x00value"); !errors.Is(err, ErrBadProperty) {
		t.Errorf("NUL in value: expected ErrBadProperty, got %v", err)
	}
}

// TestProperties_SetRejectsNonLatin1 tests that runes outside ISO-8859-1
// are rejected at Set time.
func TestProperties_SetRejectsNonLatin1(t *testing.T) {
	p := NewProperties()
	if err := p.Set("k", "snowman ☃"); !errors.Is(err, ErrBadProperty) {
		t.Fatalf("expected ErrBadProperty, got %v", err)
	}
	// Latin-1 high bytes are fine.
	if err := p.Set("k", "café"); err != nil {
		t.Fatalf("Latin-1 value rejected: %v", err)
	}
}

// TestProperties_SetRejectsDuplicate tests the duplicate-key guard on the
// mutable API.
func TestProperties_SetRejectsDuplicate(t *testing.T) {
	p := NewProperties()
	if err := p.Set("k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := p.Set("k", "v2"); !errors.Is(err, ErrDuplicateProperty) {
		t.Fatalf("expected ErrDuplicateProperty, got %v", err)
	}
	if v, _ := p.Get("k"); v != "v1" {
		t.Errorf("original value clobbered: %q", v)
	}
}

// TestProperties_RemoveAndClear covers the remaining mutators.
func TestProperties_RemoveAndClear(t *testing.T) {
	p := NewProperties()
	_ = p.Set("a", "1")
	_ = p.Set("b", "2")
	p.Remove("a")
	if _, ok := p.Get("a"); ok {
		t.Error("a still present after Remove")
	}
	if p.Len() != 1 {
		t.Errorf("Len=%d after Remove, want 1", p.Len())
	}
	p.Clear()
	if p.Len() != 0 {
		t.Errorf("Len=%d after Clear, want 0", p.Len())
	}
	// Set works again after Clear.
	if err := p.Set("a", "3"); err != nil {
		t.Fatalf("Set after Clear: %v", err)
	}
}

// TestProperties_CloneIsIndependent tests that mutating a clone does not
// affect the original.
func TestProperties_CloneIsIndependent(t *testing.T) {
	p := NewProperties()
	_ = p.Set("a", "1")
	c := p.Clone()
	_ = c.Set("b", "2")
	if _, ok := p.Get("b"); ok {
		t.Error("clone mutation leaked into original")
	}
	if !p.Equal(p.Clone()) {
		t.Error("clone not Equal to original")
	}
}
