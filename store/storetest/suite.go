// Package storetest holds the conformance tests every ByteStore backend runs.
package storetest

import (
	"testing"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the conformance suite against stores produced by open.
func Run(t *testing.T, open func(t *testing.T) store.ByteStore) {
	t.Run("GetMissing", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		_, ok, err := s.GetSubstate(core.MustNodeID(core.EntityGlobalComponent, 1), core.MainPartition, core.FieldKey(0))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("CommitAndRead", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		testCommitAndRead(t, s)
	})

	t.Run("ListInKeyOrder", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		testListInKeyOrder(t, s)
	})

	t.Run("EmptyCommitBumpsVersion", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		require.NoError(t, s.Commit(store.NewStateUpdates()))
		v, err := s.Version()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), v)
	})
}

func testCommitAndRead(t *testing.T, s store.ByteStore) {
	node := core.MustNodeID(core.EntityGlobalComponent, 1)
	a := core.SubstateRef{Node: node, Partition: core.MainPartition, Key: core.FieldKey(0)}
	b := core.SubstateRef{Node: node, Partition: core.MainPartition, Key: core.MapKey([]byte("b"))}

	updates := store.NewStateUpdates()
	updates.Set(a, []byte("one"))
	updates.Set(b, []byte("two"))
	require.NoError(t, s.Commit(updates))

	v, ok, err := s.GetSubstate(a.Node, a.Partition, a.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("one"), v)

	updates = store.NewStateUpdates()
	updates.Set(a, []byte("uno"))
	updates.Delete(b)
	require.NoError(t, s.Commit(updates))

	v, ok, err = s.GetSubstate(a.Node, a.Partition, a.Key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("uno"), v)

	_, ok, err = s.GetSubstate(b.Node, b.Partition, b.Key)
	require.NoError(t, err)
	assert.False(t, ok)

	version, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)
}

func testListInKeyOrder(t *testing.T, s store.ByteStore) {
	node := core.MustNodeID(core.EntityInternalKeyValueStore, 2)
	other := core.MustNodeID(core.EntityInternalKeyValueStore, 3)

	updates := store.NewStateUpdates()
	updates.Set(core.SubstateRef{Node: node, Partition: core.MainPartition, Key: core.SortedKey(2, []byte("x"))}, []byte("3"))
	updates.Set(core.SubstateRef{Node: node, Partition: core.MainPartition, Key: core.SortedKey(1, []byte("z"))}, []byte("2"))
	updates.Set(core.SubstateRef{Node: node, Partition: core.MainPartition, Key: core.SortedKey(1, []byte("a"))}, []byte("1"))
	updates.Set(core.SubstateRef{Node: node, Partition: core.MainPartition + 1, Key: core.FieldKey(0)}, []byte("other partition"))
	updates.Set(core.SubstateRef{Node: other, Partition: core.MainPartition, Key: core.FieldKey(0)}, []byte("other node"))
	require.NoError(t, s.Commit(updates))

	it, err := s.ListSubstates(node, core.MainPartition)
	require.NoError(t, err)
	entries, err := store.ListAll(it)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []byte("1"), entries[0].Value)
	assert.Equal(t, []byte("2"), entries[1].Value)
	assert.Equal(t, []byte("3"), entries[2].Value)
	assert.Equal(t, core.SortedKey(1, []byte("a")), entries[0].Key)
}
