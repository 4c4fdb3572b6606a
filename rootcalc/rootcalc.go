// Package rootcalc computes a fresh main-trie root commitment by merging
// the current overlay diff with the backing store's content, surfaced as a
// small suspension machine the driver drives the same way it drives the
// VM itself (spec §3/§4.E's trie-root sub-protocol).
//
// The backing store itself is opaque (spec §1): the only access this
// package has to it is the closest-descendant and storage-value requests
// it yields through Progress, answered by whatever is on the other end of
// the driver's own NeedsNextKey/NeedsStorage/NeedsMerkle status.
package rootcalc

import (
	"github.com/iotaledger/runtimehost/hostvm"
	"github.com/iotaledger/runtimehost/internal/nibble"
	"github.com/iotaledger/runtimehost/overlay"
)

// ProgressKind discriminates what a Calculator needs next.
type ProgressKind int

const (
	// NeedsClosestDescendant asks for the backing store's full key at or
	// after Key (inclusive), i.e. the next step of a full-store scan.
	NeedsClosestDescendant ProgressKind = iota
	// NeedsStorageValue asks for the backing store's value at Key.
	NeedsStorageValue
	// NeedsClosestDescendantMerkle asks whether the backing store already
	// knows the merkle value at Key (used only for the empty-diff,
	// whole-subtree short-circuit at the root).
	NeedsClosestDescendantMerkle
	// Done means Root is the final computed commitment.
	Done
)

func (k ProgressKind) String() string {
	switch k {
	case NeedsClosestDescendant:
		return "NeedsClosestDescendant"
	case NeedsStorageValue:
		return "NeedsStorageValue"
	case NeedsClosestDescendantMerkle:
		return "NeedsClosestDescendantMerkle"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// Progress is what a Calculator currently requires, or its final answer.
type Progress struct {
	Kind ProgressKind
	Key  []byte // nibble path; meaning depends on Kind
	Root [32]byte
}

type overlayEntry struct {
	key   []byte
	value []byte
}

// Calculator drives the root-recalculation sub-protocol to completion one
// suspension at a time. It is not safe for concurrent use; the driver owns
// exactly one at a time, matching its single in-flight RootCalc invariant.
type Calculator struct {
	diff        *overlay.Diff
	version     hostvm.TrieEntryVersion
	recalcDepth int

	shortCircuitEligible bool
	shortCircuitTried    bool

	overlayEntries []overlayEntry
	overlayPos     int

	haveCursor bool
	cursor     []byte

	backingDone        bool
	havePendingBacking bool
	pendingBacking     []byte

	awaitingValueFor []byte

	collected []flatEntry

	progress Progress
}

// New creates a Calculator over diff (expected to already be an independent
// clone, per spec §4.E: the root calculator never observes writes made
// after it starts). recalcDepth is the trie recalculation depth hint the
// driver passes (runtimehost.RecalcDepth); this implementation always performs a full
// recompute, so the hint is accepted but otherwise unused here -- a
// deliberate simplification of the backing store's real unmodified-subtree
// optimization, which is out of scope (spec §1).
func New(diff *overlay.Diff, version hostvm.TrieEntryVersion, recalcDepth int) *Calculator {
	c := &Calculator{diff: diff, version: version, recalcDepth: recalcDepth}
	diff.IterateFrom(nil, func(key, value []byte, _ int) bool {
		c.overlayEntries = append(c.overlayEntries, overlayEntry{
			key:   append([]byte(nil), key...),
			value: append([]byte(nil), value...),
		})
		return true
	})

	if diff.IsEmpty() {
		c.shortCircuitEligible = true
		c.progress = Progress{Kind: NeedsClosestDescendantMerkle, Key: nil}
		return c
	}
	c.step()
	return c
}

// Progress reports what the Calculator currently needs (or its result).
// Safe to call repeatedly; it does not advance state.
func (c *Calculator) Progress() Progress {
	return c.progress
}

// FeedClosestDescendantMerkle answers a NeedsClosestDescendantMerkle
// request. known == true finalizes Done with value as the root; known ==
// false abandons the short-circuit and falls back to full descent.
func (c *Calculator) FeedClosestDescendantMerkle(value []byte, known bool) {
	if c.progress.Kind != NeedsClosestDescendantMerkle {
		panic("rootcalc: FeedClosestDescendantMerkle called out of turn")
	}
	c.shortCircuitTried = true
	if known {
		var root [32]byte
		copy(root[:], value)
		c.progress = Progress{Kind: Done, Root: root}
		return
	}
	c.step()
}

// FeedClosestDescendant answers a NeedsClosestDescendant request with the
// backing store's next full key at or after the request, if any.
func (c *Calculator) FeedClosestDescendant(key []byte, found bool) {
	if c.progress.Kind != NeedsClosestDescendant {
		panic("rootcalc: FeedClosestDescendant called out of turn")
	}
	if !found {
		c.backingDone = true
	} else {
		packed, err := nibble.Pack(key)
		if err != nil {
			// A closest-descendant answer landing on an odd nibble count
			// means the backing store is pointing at an internal branch,
			// not a storage key; treat it as exhausted rather than guess.
			c.backingDone = true
		} else {
			c.pendingBacking = packed
			c.havePendingBacking = true
		}
	}
	c.step()
}

// FeedStorageValue answers a NeedsStorageValue request.
func (c *Calculator) FeedStorageValue(value []byte, _ hostvm.TrieEntryVersion, found bool) {
	if c.progress.Kind != NeedsStorageValue {
		panic("rootcalc: FeedStorageValue called out of turn")
	}
	if found {
		c.collected = append(c.collected, flatEntry{
			path:  nibble.Unpack(c.awaitingValueFor),
			value: append([]byte(nil), value...),
		})
	}
	c.cursor = c.awaitingValueFor
	c.haveCursor = true
	c.awaitingValueFor = nil
	c.havePendingBacking = false
	c.step()
}

// step drives the merge loop forward until a new suspension or Done.
func (c *Calculator) step() {
	for {
		if !c.havePendingBacking && !c.backingDone {
			var from []byte
			if c.haveCursor {
				// The smallest byte string strictly greater than cursor is
				// cursor with a zero byte appended.
				from = append(append([]byte(nil), c.cursor...), 0x00)
			}
			c.progress = Progress{Kind: NeedsClosestDescendant, Key: nibble.Unpack(from)}
			return
		}

		overlayNext, overlayOK := c.peekOverlay()

		if c.havePendingBacking {
			if overlayOK && lessOrEqual(overlayNext.key, c.pendingBacking) {
				c.consumeOverlay()
				if bytesEqual(overlayNext.key, c.pendingBacking) {
					// overlay write shadows the backing key at the same
					// position; the backing cursor still advances past it.
					c.cursor = c.pendingBacking
					c.haveCursor = true
					c.havePendingBacking = false
				}
				continue
			}
			if value, _, present := c.diff.Get(c.pendingBacking); present {
				// Overlay already has an opinion here (an erasure, since an
				// active write would have matched the branch above): skip
				// the backing value entirely.
				_ = value
				c.cursor = c.pendingBacking
				c.haveCursor = true
				c.havePendingBacking = false
				continue
			}
			c.awaitingValueFor = c.pendingBacking
			c.progress = Progress{Kind: NeedsStorageValue, Key: nibble.Unpack(c.pendingBacking)}
			return
		}

		if overlayOK {
			c.consumeOverlay()
			continue
		}

		if c.backingDone {
			root := computeRoot(c.collected)
			c.progress = Progress{Kind: Done, Root: root}
			return
		}
	}
}

func (c *Calculator) peekOverlay() (overlayEntry, bool) {
	if c.overlayPos >= len(c.overlayEntries) {
		return overlayEntry{}, false
	}
	return c.overlayEntries[c.overlayPos], true
}

func (c *Calculator) consumeOverlay() {
	e := c.overlayEntries[c.overlayPos]
	c.overlayPos++
	c.collected = append(c.collected, flatEntry{path: nibble.Unpack(e.key), value: e.value})
}

func lessOrEqual(a, b []byte) bool {
	return string(a) <= string(b)
}

func bytesEqual(a, b []byte) bool {
	return string(a) == string(b)
}
