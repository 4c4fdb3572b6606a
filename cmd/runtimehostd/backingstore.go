package main

import (
	"bytes"
	"errors"
	"sort"

	"github.com/iotaledger/hive.go/core/kvstore"

	"github.com/iotaledger/runtimehost/hostvm"
)

// backingStore is the "outer client" collaborator spec.md §1 calls opaque
// and out of scope: it owns the real kvstore.KVStore and answers the
// Driver's suspensions by reading from it. Grounded on hive_adaptor's
// Get/Has/Iterate shape (see DESIGN.md), generalized with a sorted key index
// so it can answer the ordered "next key" queries the driver's NeedsNextKey
// handle needs, which hive_adaptor's flat KVStore has no use for itself.
type backingStore struct {
	kvs kvstore.KVStore

	// sortedKeys is a point-in-time index over kvs, rebuilt on demand. A
	// production pump would keep this current incrementally; the demo
	// rebuilds it once per run since it never writes back to kvs itself
	// (only to the Driver's in-memory overlay).
	sortedKeys [][]byte
	indexed    bool
}

func newBackingStore(kvs kvstore.KVStore) *backingStore {
	return &backingStore{kvs: kvs}
}

func (b *backingStore) ensureIndex() error {
	if b.indexed {
		return nil
	}
	var keys [][]byte
	err := b.kvs.Iterate(nil, func(key kvstore.Key, _ kvstore.Value) bool {
		cp := make([]byte, len(key))
		copy(cp, key)
		keys = append(keys, cp)
		return true
	})
	if err != nil {
		return err
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	b.sortedKeys = keys
	b.indexed = true
	return nil
}

// get answers a NeedsStorage request directly from the backing store.
func (b *backingStore) get(key []byte) (value []byte, version hostvm.TrieEntryVersion, found bool, err error) {
	v, err := b.kvs.Get(key)
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return nil, hostvm.V0, false, nil
	}
	if err != nil {
		return nil, hostvm.V0, false, err
	}
	return v, hostvm.V1, true, nil
}

// nextKey answers a NeedsNextKey request: the smallest indexed key strictly
// greater than after (or >= after when orEqual), optionally constrained to
// start with prefix.
func (b *backingStore) nextKey(after []byte, orEqual bool, prefix []byte) (key []byte, found bool, err error) {
	if err := b.ensureIndex(); err != nil {
		return nil, false, err
	}
	i := sort.Search(len(b.sortedKeys), func(i int) bool {
		return bytes.Compare(b.sortedKeys[i], after) >= 0
	})
	if !orEqual {
		for i < len(b.sortedKeys) && bytes.Equal(b.sortedKeys[i], after) {
			i++
		}
	}
	for ; i < len(b.sortedKeys); i++ {
		k := b.sortedKeys[i]
		if prefix == nil || bytes.HasPrefix(k, prefix) {
			return k, true, nil
		}
		if bytes.Compare(k, prefix) > 0 {
			// sorted order: once a key exceeds prefix without matching it,
			// every later key does too.
			break
		}
	}
	return nil, false, nil
}
