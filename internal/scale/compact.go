// Package scale implements the small slice of the SCALE wire format the
// driver needs directly: compact (variable-width) unsigned integers and the
// length-prefixed-sequence append law of spec component B.
package scale

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// ErrTruncated is returned when b does not contain enough bytes to decode a
// compact integer.
var ErrTruncated = xerrors.New("scale: truncated compact integer")

// ErrTooWide is returned when a big-integer-mode compact value would not fit
// a uint64.
var ErrTooWide = xerrors.New("scale: compact integer too wide for uint64")

const (
	modeSingleByte = 0
	modeTwoByte    = 1
	modeFourByte   = 2
	modeBigInt     = 3
)

// DecodeCompact decodes the SCALE-compact integer at the front of b,
// returning its value and the number of bytes it occupied.
func DecodeCompact(b []byte) (value uint64, width int, err error) {
	if len(b) == 0 {
		return 0, 0, ErrTruncated
	}
	switch b[0] & 0x03 {
	case modeSingleByte:
		return uint64(b[0] >> 2), 1, nil
	case modeTwoByte:
		if len(b) < 2 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.LittleEndian.Uint16(b[:2]) >> 2), 2, nil
	case modeFourByte:
		if len(b) < 4 {
			return 0, 0, ErrTruncated
		}
		return uint64(binary.LittleEndian.Uint32(b[:4]) >> 2), 4, nil
	default:
		n := int(b[0]>>2) + 4
		width = 1 + n
		if len(b) < width {
			return 0, 0, ErrTruncated
		}
		if n > 8 {
			return 0, 0, ErrTooWide
		}
		var buf [8]byte
		copy(buf[:], b[1:width])
		return binary.LittleEndian.Uint64(buf[:]), width, nil
	}
}

// EncodeCompact encodes value as a SCALE-compact integer.
func EncodeCompact(value uint64) []byte {
	switch {
	case value < 1<<6:
		return []byte{byte(value<<2) | modeSingleByte}
	case value < 1<<14:
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(value<<2)|modeTwoByte)
		return buf
	case value < 1<<30:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(value<<2)|modeFourByte)
		return buf
	default:
		var full [8]byte
		binary.LittleEndian.PutUint64(full[:], value)
		n := 8
		for n > 4 && full[n-1] == 0 {
			n--
		}
		ret := make([]byte, 1+n)
		ret[0] = byte((n-4)<<2) | modeBigInt
		copy(ret[1:], full[:n])
		return ret
	}
}

// Width reports the encoded width of value (it encodes value to measure it).
func Width(value uint64) int {
	return len(EncodeCompact(value))
}
