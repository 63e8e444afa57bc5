package resource

import (
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/native"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/types"
)

// GenesisResource writes a fungible resource node into updates
func GenesisResource(updates *store.StateUpdates, id core.NodeID, state ResourceState) error {
	if err := native.WriteTypeInfo(updates, id, blueprint(ResourceBlueprint)); err != nil {
		return err
	}
	value, err := types.Encode(state)
	if err != nil {
		return err
	}
	updates.Set(core.SubstateRef{Node: id, Partition: core.MainPartition, Key: StateKey}, value)
	return native.WriteModules(updates, id, map[string]string{"symbol": state.Symbol}, "")
}

// GenesisXRD writes the XRD resource with the given total supply
func GenesisXRD(updates *store.StateUpdates, supply Amount) error {
	return GenesisResource(updates, XRD, ResourceState{Symbol: "XRD", Divisibility: 18, TotalSupply: supply})
}

// GenesisAccount writes an account holding one vault of res with the given
// balance.
func GenesisAccount(updates *store.StateUpdates, account, vault, res core.NodeID, balance Amount, owner string) error {
	if err := native.WriteTypeInfo(updates, account, blueprint(AccountBlueprint)); err != nil {
		return err
	}
	state, err := types.Encode(AccountState{Owner: owner})
	if err != nil {
		return err
	}
	updates.Set(core.SubstateRef{Node: account, Partition: core.MainPartition, Key: StateKey}, state)
	if err := native.WriteModules(updates, account, map[string]string{"account_type": "default"}, owner); err != nil {
		return err
	}
	own, err := types.Encode(types.Own(vault))
	if err != nil {
		return err
	}
	updates.Set(core.SubstateRef{Node: account, Partition: VaultPartition, Key: VaultKey(res)}, own)

	if err := native.WriteTypeInfo(updates, vault, blueprint(VaultBlueprint)); err != nil {
		return err
	}
	b, err := types.Encode(Balance{Resource: res, Amount: balance})
	if err != nil {
		return err
	}
	updates.Set(core.SubstateRef{Node: vault, Partition: core.MainPartition, Key: StateKey}, b)
	return nil
}
