package kernel

import (
	"testing"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededTrack(t *testing.T) (*Track, *int) {
	s := memory.NewStore()
	updates := store.NewStateUpdates()
	updates.Set(componentState, []byte("base"))
	updates.Set(core.SubstateRef{Node: testComponent, Partition: core.MainPartition, Key: core.MapKey([]byte("b"))}, []byte("b"))
	require.NoError(t, s.Commit(updates))

	reads := 0
	return NewTrack(s, func(core.SubstateRef, int, bool) error {
		reads++
		return nil
	}), &reads
}

func TestTrackReadsThroughOnce(t *testing.T) {
	track, reads := seededTrack(t)

	v, ok, err := track.Read(componentState)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("base"), v)

	_, _, err = track.Read(componentState)
	require.NoError(t, err)
	assert.Equal(t, 1, *reads)

	_, ok, err = track.Read(core.SubstateRef{Node: testComponent, Partition: core.MainPartition, Key: core.FieldKey(9)})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, *reads)
}

func TestTrackUnmodifiedBase(t *testing.T) {
	track, _ := seededTrack(t)
	require.NoError(t, track.CheckUnmodifiedBase(componentState))

	require.NoError(t, track.Write(componentState, []byte("changed")))
	assert.ErrorIs(t, track.CheckUnmodifiedBase(componentState), core.ErrUnmodifiedBaseOnUpdated)

	node := core.MustNodeID(core.EntityInternalVault, 7)
	track.InsertNode(node, core.NodeSubstates{core.MainPartition: {stateKey: []byte("new")}})
	assert.ErrorIs(t, track.CheckUnmodifiedBase(core.SubstateRef{Node: node, Partition: core.MainPartition, Key: stateKey}),
		core.ErrUnmodifiedBaseOnNew)
}

func TestTrackFinalizeKeepsOnlyForceWritesOnFailure(t *testing.T) {
	track, _ := seededTrack(t)
	vault := core.SubstateRef{Node: testVault, Partition: core.MainPartition, Key: stateKey}

	require.NoError(t, track.Write(componentState, []byte("changed")))
	require.NoError(t, track.Write(vault, []byte("debited")))
	require.NoError(t, track.MarkForceWrite(vault))
	require.NoError(t, track.Write(vault, []byte("debited twice")))

	failed := track.Finalize(false)
	require.Equal(t, 1, failed.Len())
	u, ok := failed.Get(vault)
	require.True(t, ok)
	assert.Equal(t, []byte("debited"), u.Value)

	committed := track.Finalize(true)
	assert.Equal(t, 2, committed.Len())
	u, ok = committed.Get(vault)
	require.True(t, ok)
	assert.Equal(t, []byte("debited twice"), u.Value)
}

func TestTrackScanMergesStoreAndWrites(t *testing.T) {
	track, _ := seededTrack(t)
	a := core.SubstateRef{Node: testComponent, Partition: core.MainPartition, Key: core.MapKey([]byte("a"))}
	b := core.SubstateRef{Node: testComponent, Partition: core.MainPartition, Key: core.MapKey([]byte("b"))}

	require.NoError(t, track.Write(a, []byte("a")))
	_, found, err := track.Delete(b)
	require.NoError(t, err)
	require.True(t, found)

	entries, err := track.Scan(testComponent, core.MainPartition, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, stateKey, entries[0].Key)
	assert.Equal(t, a.Key, entries[1].Key)

	updates := track.Finalize(true)
	u, ok := updates.Get(b)
	require.True(t, ok)
	assert.Equal(t, store.UpdateDelete, u.Kind)
	_, ok = updates.Get(componentState)
	assert.False(t, ok, "read-only substates are not committed")
}

func TestHeapNodeLifecycle(t *testing.T) {
	heap := NewHeap()
	id := core.MustNodeID(core.EntityInternalKeyValueStore, 1)
	require.NoError(t, heap.CreateNode(id, core.NodeSubstates{core.MainPartition: {stateKey: []byte("x")}}))
	assert.ErrorIs(t, heap.CreateNode(id, nil), core.ErrNodeAlreadyExists)

	require.NoError(t, heap.SetSubstate(id, core.MainPartition, core.SortedKey(2, nil), []byte("2")))
	require.NoError(t, heap.SetSubstate(id, core.MainPartition, core.SortedKey(1, nil), []byte("1")))
	entries := heap.ScanSubstates(id, core.MainPartition, 2)
	require.Len(t, entries, 2)
	assert.Equal(t, stateKey, entries[0].Key)
	assert.Equal(t, core.SortedKey(1, nil), entries[1].Key)

	old, ok := heap.RemoveSubstate(id, core.MainPartition, stateKey)
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), old)

	substates, err := heap.RemoveNode(id)
	require.NoError(t, err)
	assert.Len(t, substates[core.MainPartition], 2)
	assert.False(t, heap.Contains(id))
	_, err = heap.RemoveNode(id)
	assert.ErrorIs(t, err, core.ErrNodeNotFound)
}
