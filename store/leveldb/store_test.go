package leveldb

import (
	"testing"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelDBMemStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.ByteStore {
		s, err := NewStore("")
		require.NoError(t, err)
		return s
	})
}

func TestLevelDBFileStore(t *testing.T) {
	dir := t.TempDir()
	storetest.Run(t, func(t *testing.T) store.ByteStore {
		s, err := NewStore(t.TempDir())
		require.NoError(t, err)
		return s
	})

	s, err := NewStore(dir)
	require.NoError(t, err)
	ref := core.SubstateRef{Node: core.MustNodeID(core.EntityGlobalAccount, 4), Partition: core.MainPartition, Key: core.FieldKey(1)}
	updates := store.NewStateUpdates()
	updates.Set(ref, []byte("kept"))
	require.NoError(t, s.Commit(updates))
	require.NoError(t, s.Close())

	s, err = NewStore(dir)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.GetSubstate(ref.Node, ref.Partition, ref.Key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("kept"), v)
}
