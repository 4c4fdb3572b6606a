package rootcalc_test

import (
	"testing"

	"github.com/iotaledger/runtimehost/hostvm"
	"github.com/iotaledger/runtimehost/internal/nibble"
	"github.com/iotaledger/runtimehost/overlay"
	"github.com/iotaledger/runtimehost/rootcalc"
	"github.com/stretchr/testify/require"
)

// drive runs a Calculator to completion against a fake backing store
// (a plain sorted map), answering whichever request kind it yields.
func drive(t *testing.T, c *rootcalc.Calculator, backing map[string][]byte) [32]byte {
	t.Helper()
	keys := make([]string, 0, len(backing))
	for k := range backing {
		keys = append(keys, k)
	}
	for i := 0; i < 10000; i++ {
		p := c.Progress()
		switch p.Kind {
		case rootcalc.Done:
			return p.Root
		case rootcalc.NeedsClosestDescendantMerkle:
			c.FeedClosestDescendantMerkle(nil, false)
		case rootcalc.NeedsClosestDescendant:
			from := string(packNibbles(p.Key))
			best := ""
			found := false
			for _, k := range keys {
				if k >= from && (!found || k < best) {
					best, found = k, true
				}
			}
			if !found {
				c.FeedClosestDescendant(nil, false)
			} else {
				c.FeedClosestDescendant(nibble.Unpack([]byte(best)), true)
			}
		case rootcalc.NeedsStorageValue:
			k := string(packNibbles(p.Key))
			v, ok := backing[k]
			c.FeedStorageValue(v, hostvm.V1, ok)
		default:
			t.Fatalf("unexpected progress kind %v", p.Kind)
		}
	}
	t.Fatal("calculator did not converge")
	return [32]byte{}
}

func packNibbles(nibbles []byte) []byte {
	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = nibbles[2*i]<<4 | nibbles[2*i+1]
	}
	return out
}

func TestEmptyDiffShortCircuitsOnKnownMerkle(t *testing.T) {
	d := overlay.New()
	c := rootcalc.New(d, hostvm.V1, 16)
	require.Equal(t, rootcalc.NeedsClosestDescendantMerkle, c.Progress().Kind)

	var known [32]byte
	known[0] = 0xAB
	c.FeedClosestDescendantMerkle(known[:], true)
	require.Equal(t, rootcalc.Done, c.Progress().Kind)
	require.Equal(t, known, c.Progress().Root)
}

func TestEmptyDiffFallsBackWhenMerkleUnknown(t *testing.T) {
	d := overlay.New()
	c := rootcalc.New(d, hostvm.V1, 16)
	root := drive(t, c, map[string][]byte{"a": []byte("1"), "b": []byte("2")})
	require.NotEqual(t, [32]byte{}, root)
}

func TestOverlayOnlyKeysContributeWithEmptyBacking(t *testing.T) {
	d := overlay.New()
	d.Set([]byte("x"), []byte("1"), 0)
	c := rootcalc.New(d, hostvm.V1, 16)
	root := drive(t, c, map[string][]byte{})
	require.NotEqual(t, [32]byte{}, root)
}

func TestOverlayWriteShadowsBackingValue(t *testing.T) {
	backing := map[string][]byte{"k": []byte("old")}

	d1 := overlay.New()
	root1 := drive(t, rootcalc.New(d1, hostvm.V1, 16), backing)

	d2 := overlay.New()
	d2.Set([]byte("k"), []byte("new"), 0)
	root2 := drive(t, rootcalc.New(d2, hostvm.V1, 16), backing)

	require.NotEqual(t, root1, root2)
}

func TestOverlayErasureRemovesBackingKeyFromRoot(t *testing.T) {
	backing := map[string][]byte{"k": []byte("v"), "m": []byte("w")}

	withBoth := drive(t, rootcalc.New(overlay.New(), hostvm.V1, 16), backing)

	d := overlay.New()
	d.Set([]byte("k"), nil, 0)
	withErasure := drive(t, rootcalc.New(d, hostvm.V1, 16), backing)

	onlyM := drive(t, rootcalc.New(overlay.New(), hostvm.V1, 16), map[string][]byte{"m": []byte("w")})

	require.NotEqual(t, withBoth, withErasure)
	require.Equal(t, onlyM, withErasure)
}

func TestDeterministicRegardlessOfSuspensionOrder(t *testing.T) {
	backing := map[string][]byte{"a": []byte("1"), "bb": []byte("2"), "c": []byte("3")}
	d := overlay.New()
	d.Set([]byte("ab"), []byte("4"), 0)

	// r1 merges the overlay write into the backing store's values; r2 gets
	// the same final key set entirely from the backing store, serviced
	// through the empty-diff path (declined merkle, then full descent).
	r1 := drive(t, rootcalc.New(d.Clone(), hostvm.V1, 16), backing)
	merged := map[string][]byte{"a": []byte("1"), "ab": []byte("4"), "bb": []byte("2"), "c": []byte("3")}
	r2 := drive(t, rootcalc.New(overlay.New(), hostvm.V1, 16), merged)
	require.Equal(t, r1, r2)
}
