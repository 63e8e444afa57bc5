package security

import (
	"errors"
	"testing"

	"github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceLimiter(t *testing.T) {
	limiter := NewResourceLimiter(api.LimitsConfig{
		MaxSubstateSize:      10,
		MaxInvokePayloadSize: 20,
		MaxSubstatesRead:     1,
		MaxSubstatesWritten:  1,
	})
	ref := core.SubstateRef{Node: core.MustNodeID(core.EntityGlobalComponent, 1), Key: core.FieldKey(0)}
	other := ref
	other.Key = core.FieldKey(1)

	assert.NoError(t, limiter.CheckSubstateSize(ref, 10))
	assert.True(t, errors.Is(limiter.CheckSubstateSize(ref, 11), core.ErrMaxSubstateSize))
	assert.True(t, errors.Is(limiter.CheckPayloadSize(21), core.ErrPayloadTooLarge))

	require.NoError(t, limiter.OnStoreRead(ref))
	// reading the same substate again is not counted twice
	require.NoError(t, limiter.OnStoreRead(ref))
	assert.True(t, errors.Is(limiter.OnStoreRead(other), core.ErrTooManySubstates))

	require.NoError(t, limiter.OnTrackWrite(ref))
	assert.True(t, errors.Is(limiter.OnTrackWrite(other), core.ErrTooManySubstates))

	read, written := limiter.Usage()
	assert.Equal(t, 2, read)
	assert.Equal(t, 2, written)
}

func TestCallTracer(t *testing.T) {
	tracer := NewCallTracer()
	root := core.Actor{Blueprint: core.BlueprintID{Blueprint: "Account"}, Function: "withdraw"}
	child := core.Actor{Blueprint: core.BlueprintID{Blueprint: "Vault"}, Function: "take"}

	tracer.BeginCall(root, 1, 10, 100)
	tracer.BeginCall(child, 2, 5, 150)
	tracer.EndCall(3, 180, nil)
	tracer.EndCall(7, 300, errors.New("boom"))
	tracer.EndCall(0, 0, nil)

	roots := tracer.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, "Account::withdraw", roots[0].Actor)
	assert.Equal(t, uint32(200), roots[0].CostUnits)
	assert.Equal(t, "boom", roots[0].Error)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, uint32(30), roots[0].Children[0].CostUnits)
	assert.Equal(t, 2, roots[0].Children[0].Depth)
}
