package runtimehost_test

import (
	"strings"
	"testing"

	runtimehost "github.com/iotaledger/runtimehost"
	"github.com/iotaledger/runtimehost/hostvm"
	"github.com/iotaledger/runtimehost/hostvm/mockvm"
	"github.com/iotaledger/runtimehost/hostvm/sigcheck"
	"github.com/iotaledger/runtimehost/internal/nibble"
	"github.com/iotaledger/runtimehost/overlay"
	"github.com/stretchr/testify/require"
)

func packNibblesForTest(nibbles []byte) []byte {
	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = nibbles[2*i]<<4 | nibbles[2*i+1]
	}
	return out
}

func scriptedConfig(steps []mockvm.Step) runtimehost.Config {
	proto := mockvm.NewPrototype(nil, func(string, [][]byte) (hostvm.VM, error) {
		return mockvm.New(steps), nil
	})
	return runtimehost.Config{Prototype: proto, FunctionName: "Core_execute_block"}
}

func mustFinished(t *testing.T, st runtimehost.Status) *runtimehost.Success {
	t.Helper()
	require.Equal(t, runtimehost.StatusFinished, st.Kind)
	require.NotNil(t, st.Finished)
	require.NoError(t, st.Finished.Err)
	require.NotNil(t, st.Finished.Success)
	return st.Finished.Success
}

// E1: get-set-get must not yield NeedsStorage.
func TestE1GetAfterSetObservesOverlayDirectly(t *testing.T) {
	cfg := scriptedConfig([]mockvm.Step{
		{Ext: hostvm.Externality{Kind: hostvm.StorageSet, Key: []byte{0x01}, Value: []byte{0xAA}}},
		{
			Ext: hostvm.Externality{Kind: hostvm.StorageGet, Key: []byte{0x01}},
			OnResume: func(a hostvm.Answer) {
				require.True(t, a.StorageFound)
				require.Equal(t, []byte{0xAA}, a.StorageValue)
			},
		},
		{Ext: hostvm.Externality{Kind: hostvm.Finished, ReturnValue: []byte("done")}},
	})
	success := mustFinished(t, runtimehost.Run(cfg))
	require.Equal(t, []byte("done"), success.ReturnValue)
}

// E2: a read through an overlay miss does not dirty the diff.
func TestE2GetThroughOverlayMissLeavesDiffEmpty(t *testing.T) {
	cfg := scriptedConfig([]mockvm.Step{
		{
			Ext: hostvm.Externality{Kind: hostvm.StorageGet, Key: []byte{0x02}},
			OnResume: func(a hostvm.Answer) {
				require.True(t, a.StorageFound)
				require.Equal(t, []byte{0xBB}, a.StorageValue)
			},
		},
		{Ext: hostvm.Externality{Kind: hostvm.Finished}},
	})
	st := runtimehost.Run(cfg)
	require.Equal(t, runtimehost.StatusNeedsStorage, st.Kind)

	st = st.Storage.InjectValue([]byte{0xBB}, hostvm.V0, true)
	success := mustFinished(t, st)
	require.True(t, success.MainTrie.IsEmpty())
}

// E3: appending to an absent key resets to a single-element sequence.
func TestE3AppendFromEmpty(t *testing.T) {
	key := []byte("k")
	cfg := scriptedConfig([]mockvm.Step{
		{Ext: hostvm.Externality{Kind: hostvm.StorageAppend, Key: key, Value: []byte{0x01}}},
		{Ext: hostvm.Externality{Kind: hostvm.Finished}},
	})
	st := runtimehost.Run(cfg)
	require.Equal(t, runtimehost.StatusNeedsStorage, st.Kind)

	st = st.Storage.InjectValue(nil, hostvm.V0, false)
	success := mustFinished(t, st)

	value, _, present := success.MainTrie.Get(key)
	require.True(t, present)
	require.Equal(t, []byte{0x04, 0x01}, value)
}

// E4: appending across the SCALE compact-length width boundary.
func TestE4AppendAcrossWidthBoundary(t *testing.T) {
	key := []byte("k")
	payload := make([]byte, 63)
	base := append([]byte{0xFC}, payload...)

	main := overlay.New()
	main.Set(key, base, 0)

	proto := mockvm.NewPrototype(nil, func(string, [][]byte) (hostvm.VM, error) {
		return mockvm.New([]mockvm.Step{
			{Ext: hostvm.Externality{Kind: hostvm.StorageAppend, Key: key, Value: []byte{0xEE}}},
			{Ext: hostvm.Externality{Kind: hostvm.Finished}},
		}), nil
	})
	success := mustFinished(t, runtimehost.Run(runtimehost.Config{
		Prototype: proto, FunctionName: "f", MainTrie: main,
	}))

	value, _, present := success.MainTrie.Get(key)
	require.True(t, present)
	require.Equal(t, []byte{0x01, 0x01}, value[:2])
	require.Equal(t, byte(0xEE), value[len(value)-1])
	require.Len(t, value, 2+63+1)
}

// E5: a rolled-back transaction leaves no trace in the diff.
func TestE5TransactionRollback(t *testing.T) {
	cfg := scriptedConfig([]mockvm.Step{
		{Ext: hostvm.Externality{Kind: hostvm.StartStorageTransaction}},
		{Ext: hostvm.Externality{Kind: hostvm.StorageSet, Key: []byte("k"), Value: []byte("A")}},
		{Ext: hostvm.Externality{Kind: hostvm.EndStorageTransaction, Rollback: true}},
		{Ext: hostvm.Externality{Kind: hostvm.Finished}},
	})
	success := mustFinished(t, runtimehost.Run(cfg))
	require.True(t, success.MainTrie.IsEmpty())
}

// E6: ClearPrefix with a cap yields NeedsNextKey exactly three times, erases
// exactly two keys, and reports all_done once the cap is reached.
func TestE6ClearPrefixWithCap(t *testing.T) {
	prefix := []byte("p")
	backing := [][]byte{[]byte("p0"), []byte("p1"), []byte("p2"), []byte("p3")}
	nextAfter := func(after []byte, orEqual bool) ([]byte, bool) {
		for _, k := range backing {
			if string(k) > string(after) || (orEqual && string(k) == string(after)) {
				return k, true
			}
		}
		return nil, false
	}

	max := uint32(2)
	cfg := scriptedConfig([]mockvm.Step{
		{
			Ext: hostvm.Externality{Kind: hostvm.StorageClearPrefix, ClearPrefix: prefix, ClearMax: &max},
			OnResume: func(a hostvm.Answer) {
				require.EqualValues(t, 2, a.ClearPrefixRemoved)
				require.True(t, a.ClearPrefixAllDone)
			},
		},
		{Ext: hostvm.Externality{Kind: hostvm.Finished}},
	})

	st := runtimehost.Run(cfg)
	yields := 0
	for st.Kind == runtimehost.StatusNeedsNextKey {
		yields++
		k := st.NextKey.Key()
		orEqual := st.NextKey.OrEqual()
		require.False(t, st.NextKey.BranchNodes())
		ans, found := nextAfter(k, orEqual)
		st = st.NextKey.InjectKey(ans, found)
	}
	require.Equal(t, 3, yields)

	success := mustFinished(t, st)
	v0, _, present0 := success.MainTrie.Get([]byte("p0"))
	v1, _, present1 := success.MainTrie.Get([]byte("p1"))
	_, _, present2 := success.MainTrie.Get([]byte("p2"))
	require.True(t, present0)
	require.Nil(t, v0)
	require.True(t, present1)
	require.Nil(t, v1)
	require.False(t, present2)
}

// E7: overflowing the log cap terminates with LogsTooLong, never silently
// dropping bytes, and returns a usable prototype.
func TestE7LogOverflowTerminatesWithLogsTooLong(t *testing.T) {
	steps := make([]mockvm.Step, 0, 1025)
	chunk := strings.Repeat("x", 2048)
	for i := 0; i < 1024; i++ {
		steps = append(steps, mockvm.Step{Ext: hostvm.Externality{Kind: hostvm.LogEmit, LogText: chunk}})
	}
	steps = append(steps, mockvm.Step{Ext: hostvm.Externality{Kind: hostvm.Finished}})

	st := runtimehost.Run(scriptedConfig(steps))
	require.Equal(t, runtimehost.StatusFinished, st.Kind)
	var tooLong *runtimehost.LogsTooLongError
	require.ErrorAs(t, st.Finished.Err, &tooLong)
	require.NotNil(t, tooLong.Prototype)
}

// Invariant 11: a key inserted newer than the greatest backing-store key is
// returned regardless of the backing store's own next-key answer.
func TestNextKeyConsistencyOverlayInsertBeyondBackingRange(t *testing.T) {
	main := overlay.New()
	main.Set([]byte("z-new"), []byte("v"), 0)

	proto := mockvm.NewPrototype(nil, func(string, [][]byte) (hostvm.VM, error) {
		return mockvm.New([]mockvm.Step{
			{
				Ext: hostvm.Externality{Kind: hostvm.StorageNextKey, Key: []byte("a")},
				OnResume: func(a hostvm.Answer) {
					require.True(t, a.NextKeyFound)
					require.Equal(t, []byte("z-new"), a.NextKey)
				},
			},
			{Ext: hostvm.Externality{Kind: hostvm.Finished}},
		}), nil
	})
	st := runtimehost.Run(runtimehost.Config{Prototype: proto, FunctionName: "f", MainTrie: main})
	require.Equal(t, runtimehost.StatusNeedsNextKey, st.Kind)

	st = st.NextKey.InjectKey(nil, false) // backing store has nothing past "a"
	require.Equal(t, runtimehost.StatusFinished, st.Kind)
}

// Cancellation is lossless of prototype from a non-terminal suspension.
func TestCancellationReturnsUsablePrototype(t *testing.T) {
	cfg := scriptedConfig([]mockvm.Step{
		{Ext: hostvm.Externality{Kind: hostvm.StorageGet, Key: []byte("k")}},
		{Ext: hostvm.Externality{Kind: hostvm.Finished}},
	})
	st := runtimehost.Run(cfg)
	require.Equal(t, runtimehost.StatusNeedsStorage, st.Kind)
	proto := st.Storage.IntoPrototype()
	require.NotNil(t, proto)

	vm, err := proto.Instantiate("Core_execute_block", nil)
	require.NoError(t, err)
	require.Equal(t, hostvm.StorageGet, vm.Current().Kind)
}

// Signature verification is forwarded to the embedded verifier, never
// decided unilaterally by the driver.
func TestSignatureVerificationForwardsToEmbeddedVerifier(t *testing.T) {
	kp := sigcheck.GenerateKeyPair()
	msg := []byte("extrinsic")
	sig := kp.Sign(msg)

	cfg := scriptedConfig([]mockvm.Step{
		{Ext: hostvm.Externality{Kind: hostvm.SignatureVerification, Message: msg, Signature: sig, PublicKey: kp.PublicKeyBytes()}},
		{Ext: hostvm.Externality{Kind: hostvm.Finished}},
	})
	st := runtimehost.Run(cfg)
	require.Equal(t, runtimehost.StatusNeedsSignature, st.Kind)
	require.True(t, st.Signature.IsValid())

	mustFinished(t, st.Signature.VerifyAndResume())
}

// Child-trie externalities are stubbed with an empty/no-op result, never
// reaching the client.
func TestChildTrieStorageGetIsStubbed(t *testing.T) {
	cfg := scriptedConfig([]mockvm.Step{
		{
			Ext: hostvm.Externality{Kind: hostvm.StorageGet, ChildTrie: []byte("child"), Key: []byte("k")},
			OnResume: func(a hostvm.Answer) {
				require.False(t, a.StorageFound)
			},
		},
		{Ext: hostvm.Externality{Kind: hostvm.Finished}},
	})
	mustFinished(t, runtimehost.Run(cfg))
}

// CallRuntimeVersion compiles a fresh prototype and resumes with its
// advertised version bytes, without caching across calls.
func TestCallRuntimeVersionResumesWithFreshPrototypeVersion(t *testing.T) {
	inner := mockvm.NewPrototype([]byte("v42"), nil)
	compiler := mockvm.Compiler{Proto: inner}

	proto := mockvm.NewPrototype(nil, func(string, [][]byte) (hostvm.VM, error) {
		return mockvm.New([]mockvm.Step{
			{
				Ext: hostvm.Externality{Kind: hostvm.CallRuntimeVersion, RuntimeCode: []byte("wasm")},
				OnResume: func(a hostvm.Answer) {
					require.True(t, a.RuntimeVersionOK)
					require.Equal(t, []byte("v42"), a.RuntimeVersionBytes)
				},
			},
			{Ext: hostvm.Externality{Kind: hostvm.Finished}},
		}), nil
	})
	mustFinished(t, runtimehost.Run(runtimehost.Config{Prototype: proto, Compiler: compiler, FunctionName: "f"}))
}

// StorageRoot over an empty overlay takes the root calculator's
// closest-descendant-merkle short-circuit: a single NeedsMerkle round trip,
// no NeedsNextKey/NeedsStorage traffic at all.
func TestStorageRootEmptyDiffShortCircuit(t *testing.T) {
	var gotRoot [32]byte
	cfg := scriptedConfig([]mockvm.Step{
		{
			Ext: hostvm.Externality{Kind: hostvm.StorageRoot},
			OnResume: func(a hostvm.Answer) {
				gotRoot = a.Root
			},
		},
		{Ext: hostvm.Externality{Kind: hostvm.Finished}},
	})
	st := runtimehost.Run(cfg)
	require.Equal(t, runtimehost.StatusNeedsMerkle, st.Kind)

	var known [32]byte
	known[0] = 0x7A
	mustFinished(t, st.Merkle.InjectMerkleValue(known[:]))
	require.Equal(t, known, gotRoot)
}

// StorageRoot over a non-empty overlay gets no closest-descendant-merkle
// short-circuit (no NeedsMerkle is yielded): it goes straight to a full
// descent driven entirely through NeedsNextKey/NeedsStorage round trips and
// converges on a root.
func TestStorageRootFullDescentOverNonEmptyDiff(t *testing.T) {
	backing := map[string][]byte{"a": []byte("1")}

	main := overlay.New()
	main.Set([]byte("b"), []byte("2"), 0)

	proto := mockvm.NewPrototype(nil, func(string, [][]byte) (hostvm.VM, error) {
		return mockvm.New([]mockvm.Step{
			{Ext: hostvm.Externality{Kind: hostvm.StorageRoot}},
			{Ext: hostvm.Externality{Kind: hostvm.Finished}},
		}), nil
	})

	st := runtimehost.Run(runtimehost.Config{Prototype: proto, FunctionName: "f", MainTrie: main})

	for i := 0; i < 100 && st.Kind != runtimehost.StatusFinished; i++ {
		switch st.Kind {
		case runtimehost.StatusNeedsNextKey:
			from := string(packNibblesForTest(st.NextKey.Key()))
			best, found := "", false
			for k := range backing {
				if k >= from && (!found || k < best) {
					best, found = k, true
				}
			}
			if !found {
				st = st.NextKey.InjectKey(nil, false)
			} else {
				st = st.NextKey.InjectKey(nibble.Unpack([]byte(best)), true)
			}
		case runtimehost.StatusNeedsStorage:
			k := string(st.Storage.Key())
			v, ok := backing[k]
			st = st.Storage.InjectValue(v, hostvm.V1, ok)
		default:
			t.Fatalf("unexpected status %v", st.Kind)
		}
	}
	success := mustFinished(t, st)
	require.True(t, success.MainTrie.Has([]byte("b")))
}
