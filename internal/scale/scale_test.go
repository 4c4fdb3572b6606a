package scale_test

import (
	"testing"

	"github.com/iotaledger/runtimehost/internal/scale"
	"github.com/stretchr/testify/require"
)

func TestCompactRoundtrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 63, 64, 16383, 16384, 1<<30 - 1, 1 << 30, 1 << 40, ^uint64(0)} {
		enc := scale.EncodeCompact(v)
		dec, w, err := scale.DecodeCompact(enc)
		require.NoError(t, err)
		require.Equal(t, v, dec)
		require.Equal(t, len(enc), w)
	}
}

func TestDecodeCompactTruncated(t *testing.T) {
	_, _, err := scale.DecodeCompact(nil)
	require.ErrorIs(t, err, scale.ErrTruncated)

	_, _, err = scale.DecodeCompact([]byte{0x01}) // two-byte mode, only 1 byte given
	require.ErrorIs(t, err, scale.ErrTruncated)
}

func TestAppendElementFromEmpty(t *testing.T) {
	out := scale.AppendElement(nil, []byte{0x01})
	require.Equal(t, []byte{0x04, 0x01}, out) // SCALE(1) == 0x04, per spec E3
}

func TestAppendElementFromMalformed(t *testing.T) {
	// a single 0xFC byte decodes fine as single-byte mode (value 63, width 1)
	// so use something that genuinely fails: an empty slice behaves as
	// "malformed" too, already covered above. Use a two-byte-mode prefix
	// that is truncated to exercise the reset path explicitly.
	out := scale.AppendElement([]byte{0x01}, []byte{0xAA})
	require.Equal(t, []byte{0x04, 0xAA}, out)
}

func TestAppendElementAcrossWidthBoundary(t *testing.T) {
	// sequence of length 63 encoded as single byte 0xFC, arbitrary payload.
	v := append([]byte{0xFC}, make([]byte, 10)...)
	out := scale.AppendElement(v, []byte{0x42})

	n, w, err := scale.DecodeCompact(out)
	require.NoError(t, err)
	require.EqualValues(t, 64, n)
	require.Equal(t, []byte{0x01, 0x01}, out[:w])
	require.Equal(t, byte(0x42), out[len(out)-1])
	require.Equal(t, len(v)-1+w+1, len(out))
}

func TestAppendElementPreservesPayload(t *testing.T) {
	v := scale.EncodeCompact(2)
	v = append(v, []byte("ab")...)
	out := scale.AppendElement(v, []byte("c"))
	require.Equal(t, []byte("abc"), out[len(scale.EncodeCompact(3)):])
}
