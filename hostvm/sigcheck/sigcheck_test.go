package sigcheck_test

import (
	"testing"

	"github.com/iotaledger/runtimehost/hostvm/sigcheck"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	kp := sigcheck.GenerateKeyPair()
	msg := []byte("extrinsic payload")
	sig := kp.Sign(msg)

	require.True(t, sigcheck.Verify(kp.PublicKeyBytes(), msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp := sigcheck.GenerateKeyPair()
	sig := kp.Sign([]byte("original"))

	require.False(t, sigcheck.Verify(kp.PublicKeyBytes(), []byte("tampered"), sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	kp := sigcheck.GenerateKeyPair()
	other := sigcheck.GenerateKeyPair()
	msg := []byte("extrinsic payload")
	sig := kp.Sign(msg)

	require.False(t, sigcheck.Verify(other.PublicKeyBytes(), msg, sig))
}

func TestVerifyRejectsMalformedKey(t *testing.T) {
	require.False(t, sigcheck.Verify([]byte{0x01, 0x02}, []byte("m"), []byte("s")))
}
