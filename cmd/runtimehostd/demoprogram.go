package main

import (
	"fmt"

	"github.com/iotaledger/runtimehost/hostvm"
	"github.com/iotaledger/runtimehost/hostvm/mockvm"
	"github.com/iotaledger/runtimehost/hostvm/sigcheck"
)

// demoProgram builds the scripted externality sequence the demo drives: the
// real WebAssembly interpreter is out of scope for this repository (spec.md
// §1), so the operator-facing demo exercises the full suspension protocol
// against mockvm.VM instead, the same collaborator the driver's own tests
// use (SPEC_FULL.md §4.H). It performs one write, one read-back (served by
// the overlay), one signed extrinsic check, and one StorageRoot call. The
// suspensions it reaches are NeedsSignature and the root calculator's
// NeedsNextKey, plus one NeedsStorage per key in the backing store;
// NeedsMerkle is not reached, because the diff is already non-empty when
// StorageRoot runs (the driver's own tests cover it).
func demoProgram(demoKey []byte, kp sigcheck.KeyPair) []mockvm.Step {
	msg := []byte("demo extrinsic payload")
	sig := kp.Sign(msg)

	return []mockvm.Step{
		{Ext: hostvm.Externality{Kind: hostvm.GetMaxLogLevel}},
		{Ext: hostvm.Externality{
			Kind: hostvm.LogEmit,
			LogText: fmt.Sprintf("demo: writing key %x", demoKey),
		}},
		{Ext: hostvm.Externality{Kind: hostvm.StorageSet, Key: demoKey, Value: []byte("hello from runtimehostd")}},
		{
			Ext: hostvm.Externality{Kind: hostvm.StorageGet, Key: demoKey},
			OnResume: func(a hostvm.Answer) {
				if !a.StorageFound {
					panic("demoProgram: expected the overlay to serve the key just written")
				}
			},
		},
		{Ext: hostvm.Externality{
			Kind:      hostvm.SignatureVerification,
			Message:   msg,
			Signature: sig,
			PublicKey: kp.PublicKeyBytes(),
		}},
		{Ext: hostvm.Externality{Kind: hostvm.StorageRoot}},
		{Ext: hostvm.Externality{Kind: hostvm.Finished, ReturnValue: []byte("ok")}},
	}
}
