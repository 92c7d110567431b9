package blip

import (
	"errors"

	"github.com/coregx/blip/internal/wire"
)

// ErrBadProperties indicates a property block failed to decode: the block
// did not end in NUL, ended in the middle of a key/value pair, or contained
// a malformed string.
var ErrBadProperties = errors.New("blip: malformed property block")

// ErrBadProperty indicates a property key or value contains a NUL byte, or
// a byte outside ISO-8859-1, and cannot be placed on the wire.
var ErrBadProperty = errors.New("blip: property key or value is not encodable")

// ErrDuplicateProperty indicates a property block (or a caller's Set call)
// would introduce the same key twice. BLIP property sets forbid duplicate
// keys.
var ErrDuplicateProperty = errors.New("blip: duplicate property key")

// Properties is an ordered set of string key/value pairs attached to a
// Message. Order of Set calls is preserved on the wire so that encoding the
// same Properties twice produces byte-identical frames; BLIP itself treats
// order as insignificant, but determinism matters for testing and for
// minimizing unnecessary diffs across retransmissions.
type Properties struct {
	keys []string
	vals map[string]string
}

// NewProperties returns an empty, ready-to-use Properties set.
func NewProperties() *Properties {
	return &Properties{vals: make(map[string]string)}
}

// Get returns the value for key and whether it was present.
func (p *Properties) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.vals[key]
	return v, ok
}

// Set adds key=value. It fails with ErrBadProperty if key or value contains
// a NUL byte or a rune outside ISO-8859-1, and with ErrDuplicateProperty if
// key is already present.
func (p *Properties) Set(key, value string) error {
	if containsNUL(key) || containsNUL(value) {
		return ErrBadProperty
	}
	if _, ok := wire.StringToLatin1(key); !ok {
		return ErrBadProperty
	}
	if _, ok := wire.StringToLatin1(value); !ok {
		return ErrBadProperty
	}
	if _, exists := p.vals[key]; exists {
		return ErrDuplicateProperty
	}
	if p.vals == nil {
		p.vals = make(map[string]string)
	}
	p.keys = append(p.keys, key)
	p.vals[key] = value
	return nil
}

// Remove deletes key, if present.
func (p *Properties) Remove(key string) {
	if _, ok := p.vals[key]; !ok {
		return
	}
	delete(p.vals, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Clear removes all properties.
func (p *Properties) Clear() {
	p.keys = nil
	p.vals = make(map[string]string)
}

// Len returns the number of properties.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Keys returns the property keys in insertion order. The returned slice is
// owned by the caller.
func (p *Properties) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Clone returns an independent copy of p.
func (p *Properties) Clone() *Properties {
	c := NewProperties()
	for _, k := range p.keys {
		c.keys = append(c.keys, k)
		c.vals[k] = p.vals[k]
	}
	return c
}

// Equal reports whether p and other contain the same key/value pairs.
// Insertion order is not considered.
func (p *Properties) Equal(other *Properties) bool {
	if p.Len() != other.Len() {
		return false
	}
	for k, v := range p.vals {
		ov, ok := other.vals[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

func containsNUL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return true
		}
	}
	return false
}

// encodePropertyBlock renders p as the bytes of a BLIP property block,
// WITHOUT the leading propertiesLength varint (the caller prefixes that).
// An empty set renders to zero bytes.
func encodePropertyBlock(p *Properties) []byte {
	if p.Len() == 0 {
		return nil
	}
	buf := make([]byte, 0, 64)
	for _, k := range p.keys {
		buf = appendPropertyString(buf, k)
		buf = appendPropertyString(buf, p.vals[k])
	}
	return buf
}

// appendPropertyString appends the wire encoding of s: a single dictionary
// byte + NUL if s is a dictionary entry, otherwise the raw ISO-8859-1 bytes
// of s terminated by NUL.
func appendPropertyString(buf []byte, s string) []byte {
	if code, ok := dictionaryCode(s); ok {
		return append(buf, code, 0)
	}
	raw, _ := wire.StringToLatin1(s) // validated encodable at Set time
	buf = append(buf, raw...)
	return append(buf, 0)
}

// decodePropertyBlock parses propertyBlock (exactly propertiesLength bytes,
// already sliced out of the frame by the caller) into a Properties set. An
// empty slice decodes to an empty, valid Properties.
func decodePropertyBlock(block []byte) (*Properties, error) {
	p := NewProperties()
	if len(block) == 0 {
		return p, nil
	}
	if block[len(block)-1] != 0 {
		return nil, ErrBadProperties
	}
	off := 0
	for off < len(block) {
		key, next, err := decodePropertyString(block, off)
		if err != nil {
			return nil, err
		}
		off = next
		if off >= len(block) {
			// Ended mid-pair: a key with no matching value.
			return nil, ErrBadProperties
		}
		value, next, err := decodePropertyString(block, off)
		if err != nil {
			return nil, err
		}
		off = next
		if err := p.Set(key, value); err != nil {
			return nil, ErrBadProperties
		}
	}
	return p, nil
}

// decodePropertyString reads one wire string (dictionary byte or raw
// NUL-terminated ISO-8859-1) starting at off.
func decodePropertyString(block []byte, off int) (string, int, error) {
	if off >= len(block) {
		return "", off, ErrBadProperties
	}
	if b := block[off]; b != 0 && off+1 < len(block) && block[off+1] == 0 {
		if s, ok := dictionaryLookup(b); ok {
			return s, off + 2, nil
		}
	}
	s, next, err := wire.ReadCString(block, off)
	if err != nil {
		return "", off, ErrBadProperties
	}
	return s, next, nil
}
