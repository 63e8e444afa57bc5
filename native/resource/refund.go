package resource

import (
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/types"
	"github.com/holiman/uint256"
)

// Refunder credits unspent locked fees back to vaults after a transaction.
// It works on the committed diff directly because the kernel is gone by
// then.
type Refunder struct{}

// Refund adds amount to the vault's balance in updates. The current balance
// is taken from updates if the transaction wrote it, else from the store.
func (Refunder) Refund(s store.ByteStore, updates *store.StateUpdates, vault core.NodeID, amount *uint256.Int) error {
	ref := core.SubstateRef{Node: vault, Partition: core.MainPartition, Key: StateKey}
	var value []byte
	if u, ok := updates.Get(ref); ok {
		if u.Kind == store.UpdateDelete {
			return fmt.Errorf("%w: refund to deleted vault %s", core.ErrNodeNotFound, vault)
		}
		value = u.Value
	} else {
		v, found, err := s.GetSubstate(ref.Node, ref.Partition, ref.Key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: refund to vault %s", core.ErrNodeNotFound, vault)
		}
		value = v
	}

	var b Balance
	if err := types.Decode(value, &b); err != nil {
		return err
	}
	sum, err := b.Amount.Add(AmountOf(amount))
	if err != nil {
		return err
	}
	b.Amount = sum
	encoded, err := types.Encode(b)
	if err != nil {
		return err
	}
	updates.Set(ref, encoded)
	return nil
}

// VaultBalance reads a vault balance straight from the store
func VaultBalance(s store.ByteStore, vault core.NodeID) (Amount, error) {
	value, found, err := s.GetSubstate(vault, core.MainPartition, StateKey)
	if err != nil {
		return Amount{}, err
	}
	if !found {
		return Amount{}, fmt.Errorf("%w: vault %s", core.ErrNodeNotFound, vault)
	}
	var b Balance
	if err := types.Decode(value, &b); err != nil {
		return Amount{}, err
	}
	return b.Amount, nil
}

// AccountVault returns the vault an account holds for a resource
func AccountVault(s store.ByteStore, account, res core.NodeID) (core.NodeID, bool, error) {
	value, found, err := s.GetSubstate(account, VaultPartition, VaultKey(res))
	if err != nil || !found {
		return core.NodeID{}, false, err
	}
	var own types.Own
	if err := types.Decode(value, &own); err != nil {
		return core.NodeID{}, false, err
	}
	return own.ID(), true, nil
}
