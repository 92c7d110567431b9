package blip

// propertyDictionary is the fixed, ordered table of well-known property
// keys and values that get a one-byte wire encoding instead of their full
// NUL-terminated string. Index 0 is unused; entries are indexed 1..len.
//
// This table is part of the wire format and must never be reordered or
// appended to in a way that shifts existing indices; that would break
// interop with any peer compiled against the original ordering.
var propertyDictionary = [...]string{
	"", // index 0 unused; dictionary bytes start at 1
	"Profile",
	"Error-Code",
	"Error-Domain",
	"Content-Type",
	"application/json",
	"application/octet-stream",
	"text/plain; charset=UTF-8",
	"text/xml",
	"Accept",
	"Cache-Control",
	"must-revalidate",
	"If-Match",
	"If-None-Match",
	"Location",
}

// dictionaryIndex maps a dictionary string to its 1-based wire index, built
// once at init so dictionaryCode is O(1) instead of a linear scan.
var dictionaryIndex = func() map[string]byte {
	m := make(map[string]byte, len(propertyDictionary)-1)
	for i := 1; i < len(propertyDictionary); i++ {
		m[propertyDictionary[i]] = byte(i)
	}
	return m
}()

// dictionaryLookup returns the string for wire index i, or "" and false if i
// is out of range.
func dictionaryLookup(i byte) (string, bool) {
	if int(i) == 0 || int(i) >= len(propertyDictionary) {
		return "", false
	}
	return propertyDictionary[i], true
}

// dictionaryCode returns the 1-based wire index for s, or 0 and false if s
// is not a dictionary entry.
func dictionaryCode(s string) (byte, bool) {
	i, ok := dictionaryIndex[s]
	return i, ok
}
