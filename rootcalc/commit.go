package rootcalc

import "golang.org/x/crypto/blake2b"

// The commitment scheme below is the same shape as the teacher's
// models/trie_blake2b_32 CommitmentModel (a blake2b hash over a fixed-length
// vector of child commitments, plus a terminal slot and a path-fragment
// slot) fixed to the 16-ary nibble arity common/model.go calls PathArity16.
// Unlike the teacher's model it is not wired behind the generic
// trie256p/mutable.Trie cache: the root calculator always recomputes from a
// freshly materialized key set, so there is nothing to incrementally update.
const (
	vectorLength   = 18 // 16 children + terminal + path fragment, per PathArity16
	terminalSlot   = 16
	fragmentSlot   = 17
)

func commitToData(data []byte) [32]byte {
	var ret [32]byte
	if len(data) <= 32 {
		copy(ret[:], data)
	} else {
		ret = blake2b.Sum256(data)
	}
	return ret
}

func hashVector(hashes [vectorLength][32]byte, present [vectorLength]bool) [32]byte {
	buf := make([]byte, 0, vectorLength*32)
	for i := 0; i < vectorLength; i++ {
		if present[i] {
			buf = append(buf, hashes[i][:]...)
		} else {
			buf = append(buf, make([]byte, 32)...)
		}
	}
	return blake2b.Sum256(buf)
}

// flatEntry is one resolved (key, value) pair in the merged key set, keyed
// by its full nibble path.
type flatEntry struct {
	path  []byte
	value []byte
}

// node is one in-memory patricia-trie node built fresh from a sorted slice
// of flatEntry.
type node struct {
	pathFragment []byte
	children     map[byte]*node
	terminal     []byte
}

// buildNode partitions entries (all sharing the nibble prefix ending at
// depth) into a single patricia node plus its subtree.
func buildNode(entries []flatEntry, depth int) *node {
	if len(entries) == 0 {
		return nil
	}
	first := entries[0].path[depth:]
	commonLen := len(first)
	for _, e := range entries[1:] {
		p := e.path[depth:]
		cl := commonPrefixLen(first, p)
		if cl < commonLen {
			commonLen = cl
		}
	}
	n := &node{pathFragment: append([]byte(nil), first[:commonLen]...)}
	newDepth := depth + commonLen

	groups := make(map[byte][]flatEntry)
	for _, e := range entries {
		if len(e.path) == newDepth {
			n.terminal = e.value
			continue
		}
		nb := e.path[newDepth]
		groups[nb] = append(groups[nb], e)
	}
	if len(groups) > 0 {
		n.children = make(map[byte]*node, len(groups))
		for nb, g := range groups {
			n.children[nb] = buildNode(g, newDepth+1)
		}
	}
	return n
}

func commitNode(n *node) [32]byte {
	if n == nil {
		return commitToData(nil)
	}
	var hashes [vectorLength][32]byte
	var present [vectorLength]bool
	for nb, child := range n.children {
		hashes[nb] = commitNode(child)
		present[nb] = true
	}
	if n.terminal != nil {
		hashes[terminalSlot] = commitToData(n.terminal)
		present[terminalSlot] = true
	}
	hashes[fragmentSlot] = commitToData(n.pathFragment)
	present[fragmentSlot] = true
	return hashVector(hashes, present)
}

// computeRoot builds the patricia trie over entries (sorted by nibble path,
// full byte-aligned keys only) and returns its root commitment.
func computeRoot(entries []flatEntry) [32]byte {
	if len(entries) == 0 {
		return commitToData(nil)
	}
	return commitNode(buildNode(entries, 0))
}

func commonPrefixLen(a, b []byte) int {
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
