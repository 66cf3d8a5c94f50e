package storage

import (
	"bytes"
	"sort"
)

// MemStore is an in-memory Store. It backs tests and single-process
// deployments; a hosting runtime substitutes its own durable implementation.
type MemStore struct {
	m    map[string][]byte
	used uint64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string][]byte)}
}

// Get implements Store.
func (s *MemStore) Get(key []byte) []byte {
	v, ok := s.m[string(key)]
	if !ok {
		return nil
	}
	return append([]byte(nil), v...)
}

// Put implements Store.
func (s *MemStore) Put(key, value []byte) {
	k := string(key)
	if old, ok := s.m[k]; ok {
		s.used -= uint64(len(k) + len(old))
	}
	s.m[k] = append([]byte(nil), value...)
	s.used += uint64(len(k) + len(value))
}

// Delete implements Store.
func (s *MemStore) Delete(key []byte) {
	k := string(key)
	if old, ok := s.m[k]; ok {
		s.used -= uint64(len(k) + len(old))
		delete(s.m, k)
	}
}

// Seek implements Store.
func (s *MemStore) Seek(prefix []byte, fn func(key, value []byte) bool) {
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), s.m[k]) {
			return
		}
	}
}

// UsedBytes implements Store.
func (s *MemStore) UsedBytes() uint64 {
	return s.used
}
