// Package memory provides an in-memory ByteStore.
package memory

import (
	"bytes"
	"sort"
	"sync"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/store"
)

func init() {
	store.Register(store.MemoryStoreType, func(map[string]any) (store.ByteStore, error) {
		return NewStore(), nil
	})
}

// Store keeps substates in a map keyed by the store key
type Store struct {
	mu      sync.RWMutex
	data    map[string][]byte
	version uint64
	closed  bool
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) GetSubstate(node core.NodeID, partition core.PartitionNumber, key core.SubstateKey) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, store.ErrStoreClosed
	}
	v, ok := s.data[string(store.SubstateDBKey(core.SubstateRef{Node: node, Partition: partition, Key: key}))]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *Store) ListSubstates(node core.NodeID, partition core.PartitionNumber) (store.Iterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrStoreClosed
	}
	prefix := store.PartitionPrefix(node, partition)
	var keys []string
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	entries := make([]core.SubstateEntry, 0, len(keys))
	for _, k := range keys {
		ref, err := store.ParseSubstateDBKey([]byte(k))
		if err != nil {
			return nil, err
		}
		entries = append(entries, core.SubstateEntry{Key: ref.Key, Value: append([]byte(nil), s.data[k]...)})
	}
	return store.NewSliceIterator(entries), nil
}

func (s *Store) Commit(updates *store.StateUpdates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrStoreClosed
	}
	for _, u := range updates.Updates() {
		key := string(store.SubstateDBKey(u.Ref))
		if u.Kind == store.UpdateDelete {
			delete(s.data, key)
			continue
		}
		s.data[key] = append([]byte(nil), u.Value...)
	}
	s.version++
	return nil
}

func (s *Store) Version() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored substates
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
