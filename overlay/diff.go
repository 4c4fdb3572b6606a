// Package overlay implements the driver's storage overlay: a diff-based
// view of a backing trie (spec components C/D's TrieDiff entity). Writes are
// captured here; reads fall through to the backing store only when the
// overlay has never touched the key.
//
// Modeled on the teacher's in-memory key/value store
// (github.com/iotaledger/trie.go's inMemoryKVStore and common/kv.go), with
// ordered next-key support added for the root calculator and
// StorageNextKey/StorageClearPrefix externalities.
package overlay

import (
	"sort"
)

// entry is a single overlay record. A present key with value != nil (or
// len==0, still "present") is an overlay write; a present key with
// deleted == true is an overlay erasure, shadowing the backing store.
type entry struct {
	value   []byte
	version int
	deleted bool
}

// Diff is a mutable, in-memory overlay over a backing key/value trie.
// The zero value is not usable; construct with New.
type Diff struct {
	entries map[string]entry
	// order holds entries' keys in sorted byte order, kept in sync on every
	// mutation so ordered next-key queries never need to re-sort.
	order []string
}

// New creates an empty Diff.
func New() *Diff {
	return &Diff{entries: make(map[string]entry)}
}

// Clone deep-copies the overlay. Used both by the transaction stack (to
// snapshot at StartStorageTransaction) and by the root calculator (which
// computes over an independent clone of the main-trie diff).
func (d *Diff) Clone() *Diff {
	ret := &Diff{
		entries: make(map[string]entry, len(d.entries)),
		order:   make([]string, len(d.order)),
	}
	for k, v := range d.entries {
		ret.entries[k] = v
	}
	copy(ret.order, d.order)
	return ret
}

// IsEmpty reports whether the overlay has no pending writes or erasures at
// all. Used by the root calculator to short-circuit read-only calls.
func (d *Diff) IsEmpty() bool {
	return len(d.entries) == 0
}

func (d *Diff) insertOrdered(key string) {
	i := sort.SearchStrings(d.order, key)
	if i < len(d.order) && d.order[i] == key {
		return
	}
	d.order = append(d.order, "")
	copy(d.order[i+1:], d.order[i:])
	d.order[i] = key
}

// Set records an overlay write (value != nil) or erasure (value == nil) at
// key, with the declared state-trie version.
func (d *Diff) Set(key []byte, value []byte, version int) {
	k := string(key)
	if _, ok := d.entries[k]; !ok {
		d.insertOrdered(k)
	}
	if value == nil {
		d.entries[k] = entry{deleted: true, version: version}
	} else {
		cp := make([]byte, len(value))
		copy(cp, value)
		d.entries[k] = entry{value: cp, version: version}
	}
}

// Get implements diff_get: (value, version, present). present == false
// means "the overlay has no opinion, consult the backing store." present ==
// true with value == nil means the key was erased by the overlay.
func (d *Diff) Get(key []byte) (value []byte, version int, present bool) {
	e, ok := d.entries[string(key)]
	if !ok {
		return nil, 0, false
	}
	return e.value, e.version, true
}

// Has reports whether the overlay itself has any opinion about key (write
// or erasure), without saying which.
func (d *Diff) Has(key []byte) bool {
	_, ok := d.entries[string(key)]
	return ok
}

// NextKeyResultKind discriminates the two shapes StorageNextKey can return.
type NextKeyResultKind int

const (
	// ResultFound means Key is the authoritative next key.
	ResultFound NextKeyResultKind = iota
	// ResultNextOf means the backing store's candidate was shadowed by an
	// overlay erasure; the caller must re-query strictly after Key.
	ResultNextOf
	// ResultNone means there is no next key at all.
	ResultNone
)

// NextKeyResult is the outcome of a StorageNextKey merge.
type NextKeyResult struct {
	Kind NextKeyResultKind
	Key  []byte
}

// StorageNextKey merges the overlay's own ordered keys with a candidate
// next-key answer from the backing store, implementing spec §4.E's
// "ExternalStorageNextKey" rule: an active overlay key that comes before the
// backing candidate wins; otherwise, if the candidate is shadowed by an
// overlay erasure, ResultNextOf tells the caller to re-query past it, and
// if not, the backing candidate wins.
func (d *Diff) StorageNextKey(after []byte, backingKey []byte, backingFound bool, inclusive bool) NextKeyResult {
	overlayKey, overlayOK := d.closestActiveKey(after, inclusive)

	if !backingFound {
		if overlayOK {
			return NextKeyResult{Kind: ResultFound, Key: overlayKey}
		}
		return NextKeyResult{Kind: ResultNone}
	}

	if overlayOK && less(overlayKey, backingKey) {
		return NextKeyResult{Kind: ResultFound, Key: overlayKey}
	}

	if e, ok := d.entries[string(backingKey)]; ok && e.deleted {
		return NextKeyResult{Kind: ResultNextOf, Key: backingKey}
	}
	return NextKeyResult{Kind: ResultFound, Key: backingKey}
}

// closestActiveKey returns the smallest overlay key strictly greater than
// after (or >= after when inclusive) that is not an overlay erasure.
func (d *Diff) closestActiveKey(after []byte, inclusive bool) ([]byte, bool) {
	target := string(after)
	i := sort.SearchStrings(d.order, target)
	if inclusive {
		// SearchStrings already gives the first index >= target.
	} else if i < len(d.order) && d.order[i] == target {
		i++
	}
	for ; i < len(d.order); i++ {
		k := d.order[i]
		if !d.entries[k].deleted {
			return []byte(k), true
		}
	}
	return nil, false
}

func less(a, b []byte) bool {
	return string(a) < string(b)
}

// IterateFrom calls f for every active (non-erased) overlay entry with key
// >= from, in ascending key order, until f returns false. Used by the root
// calculator's full-descent fallback.
func (d *Diff) IterateFrom(from []byte, f func(key, value []byte, version int) bool) {
	i := sort.SearchStrings(d.order, string(from))
	for ; i < len(d.order); i++ {
		k := d.order[i]
		e := d.entries[k]
		if e.deleted {
			continue
		}
		if !f([]byte(k), e.value, e.version) {
			return
		}
	}
}
