// Package store defines the substate database the kernel reads from and
// commits to, and a registry of pluggable backends.
package store

import (
	"bytes"
	"errors"
	"sort"

	"github.com/govm-net/kernel/core"
)

var (
	ErrStoreClosed     = errors.New("store closed")
	ErrInvalidStoreKey = errors.New("invalid store key")
)

// ByteStore is a versioned key-value substate database.
type ByteStore interface {
	// GetSubstate returns the value of a substate and whether it exists
	GetSubstate(node core.NodeID, partition core.PartitionNumber, key core.SubstateKey) ([]byte, bool, error)
	// ListSubstates iterates a partition in key order
	ListSubstates(node core.NodeID, partition core.PartitionNumber) (Iterator, error)
	// Commit applies all updates atomically and bumps the version
	Commit(updates *StateUpdates) error
	// Version returns the number of commits applied so far
	Version() (uint64, error)
	// Close releases the underlying resources
	Close() error
}

// Iterator walks the substates of one partition.
type Iterator interface {
	Next() bool
	Key() core.SubstateKey
	Value() []byte
	Error() error
	Close() error
}

// UpdateKind is the kind of a substate update
type UpdateKind uint8

const (
	UpdateSet UpdateKind = iota + 1
	UpdateDelete
)

func (k UpdateKind) String() string {
	if k == UpdateDelete {
		return "delete"
	}
	return "set"
}

// SubstateUpdate is one Set or Delete entry.
type SubstateUpdate struct {
	Ref   core.SubstateRef
	Kind  UpdateKind
	Value []byte
}

// StateUpdates is the ordered diff a transaction commits. Later entries for
// the same substate replace earlier ones.
type StateUpdates struct {
	index   map[core.SubstateRef]int
	updates []SubstateUpdate
}

// NewStateUpdates creates an empty diff
func NewStateUpdates() *StateUpdates {
	return &StateUpdates{index: make(map[core.SubstateRef]int)}
}

func (s *StateUpdates) put(u SubstateUpdate) {
	if s.index == nil {
		s.index = make(map[core.SubstateRef]int)
	}
	if i, ok := s.index[u.Ref]; ok {
		s.updates[i] = u
		return
	}
	s.index[u.Ref] = len(s.updates)
	s.updates = append(s.updates, u)
}

// Set records a write
func (s *StateUpdates) Set(ref core.SubstateRef, value []byte) {
	s.put(SubstateUpdate{Ref: ref, Kind: UpdateSet, Value: append([]byte(nil), value...)})
}

// Delete records a removal
func (s *StateUpdates) Delete(ref core.SubstateRef) {
	s.put(SubstateUpdate{Ref: ref, Kind: UpdateDelete})
}

// Get returns the update recorded for a substate
func (s *StateUpdates) Get(ref core.SubstateRef) (SubstateUpdate, bool) {
	if s == nil || s.index == nil {
		return SubstateUpdate{}, false
	}
	i, ok := s.index[ref]
	if !ok {
		return SubstateUpdate{}, false
	}
	return s.updates[i], true
}

// Len returns the number of updates
func (s *StateUpdates) Len() int {
	if s == nil {
		return 0
	}
	return len(s.updates)
}

// Updates returns the updates sorted by store key so that every backend
// applies them in the same order.
func (s *StateUpdates) Updates() []SubstateUpdate {
	if s == nil {
		return nil
	}
	out := append([]SubstateUpdate(nil), s.updates...)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(SubstateDBKey(out[i].Ref), SubstateDBKey(out[j].Ref)) < 0
	})
	return out
}

// Merge appends other's updates after s's own
func (s *StateUpdates) Merge(other *StateUpdates) {
	if other == nil {
		return
	}
	for _, u := range other.updates {
		s.put(u)
	}
}

// ListAll drains an iterator into entries
func ListAll(it Iterator) ([]core.SubstateEntry, error) {
	defer it.Close()
	var out []core.SubstateEntry
	for it.Next() {
		out = append(out, core.SubstateEntry{Key: it.Key(), Value: append([]byte(nil), it.Value()...)})
	}
	return out, it.Error()
}

// sliceIterator iterates a pre-sorted slice; used by backends that load a
// whole partition at once.
type sliceIterator struct {
	entries []core.SubstateEntry
	pos     int
}

// NewSliceIterator returns an Iterator over sorted entries
func NewSliceIterator(entries []core.SubstateEntry) Iterator {
	return &sliceIterator{entries: entries, pos: -1}
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.entries)
}

func (it *sliceIterator) Key() core.SubstateKey {
	return it.entries[it.pos].Key
}

func (it *sliceIterator) Value() []byte {
	return it.entries[it.pos].Value
}

func (it *sliceIterator) Error() error { return nil }

func (it *sliceIterator) Close() error { return nil }
