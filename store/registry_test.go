package store

import (
	"testing"

	"github.com/govm-net/kernel/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	opened := 0
	require.NoError(t, r.Register("fake", func(params map[string]any) (ByteStore, error) {
		opened++
		return nil, nil
	}))
	assert.Error(t, r.Register("fake", nil))
	assert.Error(t, r.SetDefault("missing"))
	assert.Equal(t, MemoryStoreType, r.DefaultStoreType())

	require.NoError(t, r.SetDefault("fake"))
	_, err := r.Get("", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, opened)

	_, err = r.Get("missing", nil)
	assert.Error(t, err)
	assert.Equal(t, []StoreType{"fake"}, r.ListRegistered())
}

func TestSubstateDBKeyRoundTrip(t *testing.T) {
	ref := core.SubstateRef{
		Node:      core.MustNodeID(core.EntityInternalKeyValueStore, 1, 2, 3),
		Partition: core.MainPartition,
		Key:       core.SortedKey(513, []byte("key")),
	}
	parsed, err := ParseSubstateDBKey(SubstateDBKey(ref))
	require.NoError(t, err)
	assert.Equal(t, ref, parsed)

	_, err = ParseSubstateDBKey([]byte("x"))
	assert.ErrorIs(t, err, ErrInvalidStoreKey)
}

func TestPrefixRange(t *testing.T) {
	start, end := PrefixRange([]byte{1, 0xff})
	assert.Equal(t, []byte{1, 0xff}, start)
	assert.Equal(t, []byte{2}, end)

	_, end = PrefixRange([]byte{0xff, 0xff})
	assert.Nil(t, end)
}

func TestStateUpdatesLastWriteWins(t *testing.T) {
	ref := core.SubstateRef{Node: core.MustNodeID(core.EntityGlobalComponent, 1), Key: core.FieldKey(0)}
	updates := NewStateUpdates()
	updates.Set(ref, []byte("a"))
	updates.Delete(ref)
	assert.Equal(t, 1, updates.Len())
	u, ok := updates.Get(ref)
	require.True(t, ok)
	assert.Equal(t, UpdateDelete, u.Kind)
}
