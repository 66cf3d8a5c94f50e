// Package storage defines the persistent key-value store contract between
// the ledger core and the hosting runtime, and the transactional overlay the
// core uses to make every invocation all-or-nothing.
//
// The runtime guarantees a single active writer, so implementations do not
// need to be safe for concurrent use.
package storage

// Store is a flat key-value collection. Keys of distinct ledger collections
// are separated by fixed, non-overlapping single-byte prefixes, enabling
// additive schema evolution without collisions.
type Store interface {
	// Get returns the value stored under key, or nil if there is none.
	Get(key []byte) []byte

	// Put stores value under key, overwriting any previous value.
	Put(key, value []byte)

	// Delete removes key. Removing an absent key is a no-op.
	Delete(key []byte)

	// Seek calls fn for every key-value pair whose key starts with prefix,
	// in ascending byte order of keys, until fn returns false.
	Seek(prefix []byte, fn func(key, value []byte) bool)

	// UsedBytes returns the number of bytes currently occupied by all keys
	// and values. Storage-rent accounting is derived from deltas of this
	// value around mutating operations.
	UsedBytes() uint64
}

// Key builds a storage key from a collection prefix and key fragments.
func Key(prefix byte, parts ...[]byte) []byte {
	n := 1
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 1, n)
	k[0] = prefix
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}
