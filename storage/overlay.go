package storage

import (
	"bytes"
	"sort"
)

// Overlay buffers writes on top of a base Store. Mutating operations of the
// ledger run against an Overlay and either Commit it on success or drop it
// on error, so no partial mutation ever reaches the base store.
type Overlay struct {
	base Store
	// staged maps key -> value; a nil value is a staged deletion.
	staged map[string][]byte
}

// NewOverlay returns an empty overlay over base.
func NewOverlay(base Store) *Overlay {
	return &Overlay{base: base, staged: make(map[string][]byte)}
}

// Get implements Store.
func (o *Overlay) Get(key []byte) []byte {
	if v, ok := o.staged[string(key)]; ok {
		if v == nil {
			return nil
		}
		return append([]byte(nil), v...)
	}
	return o.base.Get(key)
}

// Put implements Store.
func (o *Overlay) Put(key, value []byte) {
	o.staged[string(key)] = append([]byte(nil), value...)
}

// Delete implements Store.
func (o *Overlay) Delete(key []byte) {
	o.staged[string(key)] = nil
}

// Seek implements Store, merging staged entries with the base store.
func (o *Overlay) Seek(prefix []byte, fn func(key, value []byte) bool) {
	keys := make([]string, 0, len(o.staged))
	for k, v := range o.staged {
		if v != nil && bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	o.base.Seek(prefix, func(key, _ []byte) bool {
		if _, ok := o.staged[string(key)]; !ok {
			keys = append(keys, string(key))
		}
		return true
	})
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), o.Get([]byte(k))) {
			return
		}
	}
}

// UsedBytes implements Store: the base usage adjusted by staged writes.
func (o *Overlay) UsedBytes() uint64 {
	used := int64(o.base.UsedBytes())
	for k, v := range o.staged {
		old := o.base.Get([]byte(k))
		if old != nil {
			used -= int64(len(k) + len(old))
		}
		if v != nil {
			used += int64(len(k) + len(v))
		}
	}
	return uint64(used)
}

// Commit applies all staged writes to the base store.
func (o *Overlay) Commit() {
	for k, v := range o.staged {
		if v == nil {
			o.base.Delete([]byte(k))
		} else {
			o.base.Put([]byte(k), v)
		}
	}
	o.staged = make(map[string][]byte)
}
