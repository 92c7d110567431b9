// Package wire holds small helpers used by the BLIP property-block codec
// (blip/properties.go). Nothing here is specific to framing or
// connection state; it only knows about bytes and NUL-terminated strings.
package wire

import "errors"

// ErrUnterminated is returned when a NUL-terminated string runs off the end
// of the buffer before a terminator byte is found.
var ErrUnterminated = errors.New("wire: unterminated string")

// ReadCString reads a NUL-terminated ISO-8859-1 string starting at offset
// off in buf. It returns the decoded string, the offset just past the
// terminating NUL, and an error if no NUL is found.
//
// BLIP property strings are restricted to ISO-8859-1 on the wire, so each
// byte maps 1:1 to a rune and no multi-byte decoding is needed.
func ReadCString(buf []byte, off int) (string, int, error) {
	end := off
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	if end >= len(buf) {
		return "", off, ErrUnterminated
	}
	return Latin1ToString(buf[off:end]), end + 1, nil
}

// Latin1ToString converts raw ISO-8859-1 bytes to a Go string by widening
// each byte to its identical-valued rune.
func Latin1ToString(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// StringToLatin1 converts a Go string to ISO-8859-1 bytes. It returns false
// if the string contains a rune outside the Latin-1 range (> 0xFF) and
// cannot be represented on the wire.
func StringToLatin1(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return nil, false
		}
		out = append(out, byte(r))
	}
	return out, true
}
