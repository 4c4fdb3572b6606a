// Package sigcheck gives the mock VM's SignatureVerification externality a
// real embedded verifier, the way spec §1 describes the VM owning one and
// the driver only forwarding decisions. Built on go.dedis.ch/kyber/v3's
// Ed25519 group and Schnorr-over-Ed25519 signatures, mirroring the teacher's
// own use of kyber for its KZG commitment scheme
// (models/trie_kzg_bn256/model.go) but for signatures instead of
// polynomials.
package sigcheck

import (
	"bytes"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/random"
)

var suite = edwards25519.NewBlakeSHA256Ed25519()

// KeyPair is a freshly generated Schnorr/Ed25519 signing key, for test
// fixtures and the demo client.
type KeyPair struct {
	Private kyber.Scalar
	Public  kyber.Point
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() KeyPair {
	priv := suite.Scalar().Pick(random.New())
	pub := suite.Point().Mul(priv, nil)
	return KeyPair{Private: priv, Public: pub}
}

// DeriveKeyPair deterministically derives a key pair from seed (expected to
// already be a fixed-size digest, e.g. blake2b of an operator passphrase),
// the way the demo client turns an entered passphrase into a reusable demo
// signing key (SPEC_FULL.md §4.I) without generating fresh entropy on every
// run.
func DeriveKeyPair(seed []byte) KeyPair {
	priv := suite.Scalar().Pick(random.New(bytes.NewReader(seed)))
	pub := suite.Point().Mul(priv, nil)
	return KeyPair{Private: priv, Public: pub}
}

// PublicKeyBytes marshals the public key the way SignatureVerification's
// public_key() accessor would hand it to a caller.
func (kp KeyPair) PublicKeyBytes() []byte {
	b, err := kp.Public.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}

// Sign produces a Schnorr signature over message.
func (kp KeyPair) Sign(message []byte) []byte {
	sig, err := schnorr.Sign(suite, kp.Private, message)
	if err != nil {
		panic(err)
	}
	return sig
}

// Verify reports whether sig is a valid Schnorr signature by publicKey over
// message. The driver uses it as its default Verifier (when
// runtimehost.Config.Verifier is nil) to answer NeedsSignature.IsValid and
// VerifyAndResume.
func Verify(publicKey, message, sig []byte) bool {
	pub := suite.Point()
	if err := pub.UnmarshalBinary(publicKey); err != nil {
		return false
	}
	return schnorr.Verify(suite, pub, message, sig) == nil
}
