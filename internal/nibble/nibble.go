// Package nibble converts byte keys to and from the nibble (4-bit) alphabet
// the trie-root calculator and the driver's handling of its requests operate
// on.
package nibble

import (
	"bytes"

	"golang.org/x/xerrors"
)

// ErrOddLength is returned by Pack when the nibble slice cannot represent a
// whole number of bytes. A full storage key always unpacks to an even number
// of nibbles; an odd count only ever occurs as an intermediate path fragment.
var ErrOddLength = xerrors.New("nibble: odd-length path cannot be packed into bytes")

// Unpack splits each byte of key into two nibbles, high nibble first.
func Unpack(key []byte) []byte {
	ret := make([]byte, len(key)*2)
	for i, b := range key {
		ret[2*i] = b >> 4
		ret[2*i+1] = b & 0x0F
	}
	return ret
}

// Pack reassembles a nibble path into bytes. len(path) must be even.
func Pack(path []byte) ([]byte, error) {
	if len(path)%2 != 0 {
		return nil, ErrOddLength
	}
	ret := make([]byte, len(path)/2)
	for i := range ret {
		ret[i] = path[2*i]<<4 | path[2*i+1]&0x0F
	}
	return ret, nil
}

// IsOdd reports whether path has an odd number of nibbles, i.e. cannot
// possibly correspond to a full storage key.
func IsOdd(path []byte) bool {
	return len(path)%2 != 0
}

// HasPrefix reports whether path starts with prefix.
func HasPrefix(path, prefix []byte) bool {
	return bytes.HasPrefix(path, prefix)
}

// Compare orders two nibble paths lexicographically, nibble by nibble.
func Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Concat concatenates nibble paths and standalone nibbles into one slice.
func Concat(parts ...interface{}) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		switch v := p.(type) {
		case []byte:
			buf.Write(v)
		case byte:
			buf.WriteByte(v)
		default:
			panic("nibble.Concat: unsupported type")
		}
	}
	return buf.Bytes()
}

// CommonPrefixLen returns the length of the longest common prefix of a and b.
func CommonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
