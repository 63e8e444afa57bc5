package kernel

import (
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/store"
)

// StoreReadHook is called on every substate loaded from the store so that
// IO can be metered and bounded.
type StoreReadHook func(ref core.SubstateRef, size int, found bool) error

type trackedSubstate struct {
	// value at transaction start
	inBase bool
	// current value
	value  []byte
	exists bool
	// written by this transaction
	dirty bool
}

type partitionKey struct {
	node      core.NodeID
	partition core.PartitionNumber
}

// Track is the transaction's view of persisted state: substates loaded from
// the store, and nodes globalized or attached to persisted nodes during the
// transaction. Nothing reaches the store until Finalize.
type Track struct {
	store  store.ByteStore
	onRead StoreReadHook

	substates map[partitionKey]map[core.SubstateKey]*trackedSubstate
	listed    map[partitionKey]bool
	// snapshots taken when a FORCE_WRITE lock is closed
	forceWrites *store.StateUpdates
}

// NewTrack creates a track over the given store
func NewTrack(s store.ByteStore, onRead StoreReadHook) *Track {
	return &Track{
		store:       s,
		onRead:      onRead,
		substates:   make(map[partitionKey]map[core.SubstateKey]*trackedSubstate),
		listed:      make(map[partitionKey]bool),
		forceWrites: store.NewStateUpdates(),
	}
}

func (t *Track) partition(node core.NodeID, p core.PartitionNumber) map[core.SubstateKey]*trackedSubstate {
	pk := partitionKey{node, p}
	m := t.substates[pk]
	if m == nil {
		m = make(map[core.SubstateKey]*trackedSubstate)
		t.substates[pk] = m
	}
	return m
}

func (t *Track) get(ref core.SubstateRef) (*trackedSubstate, error) {
	m := t.partition(ref.Node, ref.Partition)
	if s, ok := m[ref.Key]; ok {
		return s, nil
	}
	s := &trackedSubstate{}
	if !t.listed[partitionKey{ref.Node, ref.Partition}] {
		v, found, err := t.store.GetSubstate(ref.Node, ref.Partition, ref.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", ref, err)
		}
		if t.onRead != nil {
			if err := t.onRead(ref, len(v), found); err != nil {
				return nil, err
			}
		}
		s.inBase, s.exists, s.value = found, found, v
	}
	m[ref.Key] = s
	return s, nil
}

// Read returns the current value of a substate, loading it if needed
func (t *Track) Read(ref core.SubstateRef) ([]byte, bool, error) {
	s, err := t.get(ref)
	if err != nil {
		return nil, false, err
	}
	if !s.exists {
		return nil, false, nil
	}
	return s.value, true, nil
}

// Write replaces a substate value
func (t *Track) Write(ref core.SubstateRef, value []byte) error {
	s, err := t.get(ref)
	if err != nil {
		return err
	}
	s.value = append([]byte(nil), value...)
	s.exists = true
	s.dirty = true
	return nil
}

// Delete removes a substate and returns its previous value
func (t *Track) Delete(ref core.SubstateRef) ([]byte, bool, error) {
	s, err := t.get(ref)
	if err != nil {
		return nil, false, err
	}
	if !s.exists {
		return nil, false, nil
	}
	old := s.value
	s.value, s.exists, s.dirty = nil, false, true
	return old, true, nil
}

// InsertNode adds a node that was created in this transaction. None of its
// substates exist in the store.
func (t *Track) InsertNode(id core.NodeID, substates core.NodeSubstates) {
	for p, partition := range substates {
		m := t.partition(id, p)
		for k, v := range partition {
			m[k] = &trackedSubstate{value: append([]byte(nil), v...), exists: true, dirty: true}
		}
		t.listed[partitionKey{id, p}] = true
	}
}

// CheckUnmodifiedBase fails if the substate was created or written during
// the transaction.
func (t *Track) CheckUnmodifiedBase(ref core.SubstateRef) error {
	s, err := t.get(ref)
	if err != nil {
		return err
	}
	if !s.inBase {
		return fmt.Errorf("%w: %s", core.ErrUnmodifiedBaseOnNew, ref)
	}
	if s.dirty {
		return fmt.Errorf("%w: %s", core.ErrUnmodifiedBaseOnUpdated, ref)
	}
	return nil
}

// MarkForceWrite snapshots the current value of ref; the snapshot is
// committed even if the transaction fails.
func (t *Track) MarkForceWrite(ref core.SubstateRef) error {
	s, err := t.get(ref)
	if err != nil {
		return err
	}
	if s.exists {
		t.forceWrites.Set(ref, s.value)
	} else {
		t.forceWrites.Delete(ref)
	}
	return nil
}

// Scan returns up to limit existing entries of a partition in key order.
func (t *Track) Scan(node core.NodeID, p core.PartitionNumber, limit int) ([]core.SubstateEntry, error) {
	pk := partitionKey{node, p}
	m := t.partition(node, p)
	if !t.listed[pk] {
		it, err := t.store.ListSubstates(node, p)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s/%d: %w", node, p, err)
		}
		entries, err := store.ListAll(it)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s/%d: %w", node, p, err)
		}
		for _, e := range entries {
			if _, tracked := m[e.Key]; tracked {
				continue
			}
			if t.onRead != nil {
				ref := core.SubstateRef{Node: node, Partition: p, Key: e.Key}
				if err := t.onRead(ref, len(e.Value), true); err != nil {
					return nil, err
				}
			}
			m[e.Key] = &trackedSubstate{inBase: true, exists: true, value: e.Value}
		}
		t.listed[pk] = true
	}

	current := make(map[core.SubstateKey][]byte, len(m))
	for k, s := range m {
		if s.exists {
			current[k] = s.value
		}
	}
	return sortedEntries(current, limit), nil
}

// Finalize returns the updates to commit. A failed transaction only keeps
// the force-write snapshots.
func (t *Track) Finalize(success bool) *store.StateUpdates {
	updates := store.NewStateUpdates()
	if !success {
		updates.Merge(t.forceWrites)
		return updates
	}
	for pk, m := range t.substates {
		for k, s := range m {
			if !s.dirty {
				continue
			}
			ref := core.SubstateRef{Node: pk.node, Partition: pk.partition, Key: k}
			switch {
			case s.exists:
				updates.Set(ref, s.value)
			case s.inBase:
				updates.Delete(ref)
			}
		}
	}
	return updates
}

// ForceWrites returns the number of force-written substates
func (t *Track) ForceWrites() int {
	return t.forceWrites.Len()
}
