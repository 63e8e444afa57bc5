package db

import (
	"path/filepath"
	"testing"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.ByteStore {
		s, err := NewStore(filepath.Join(t.TempDir(), "kernel.db"))
		require.NoError(t, err)
		return s
	})
}

func TestDBStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.db")
	s, err := store.Open(store.DBStoreType, map[string]any{"path": path})
	require.NoError(t, err)

	ref := core.SubstateRef{Node: core.MustNodeID(core.EntityGlobalAccount, 9), Partition: core.MainPartition, Key: core.FieldKey(0)}
	updates := store.NewStateUpdates()
	updates.Set(ref, []byte("persisted"))
	require.NoError(t, s.Commit(updates))
	require.NoError(t, s.Close())

	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()
	v, ok, err := s.GetSubstate(ref.Node, ref.Partition, ref.Key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("persisted"), v)
	version, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
}
