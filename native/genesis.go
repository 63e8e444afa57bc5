package native

import (
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/store"
	"github.com/govm-net/kernel/types"
)

// WriteTypeInfo records the blueprint of a node the way CreateNode does
func WriteTypeInfo(updates *store.StateUpdates, id core.NodeID, bp core.BlueprintID) error {
	value, err := types.Encode(bp)
	if err != nil {
		return err
	}
	updates.Set(core.SubstateRef{Node: id, Partition: core.TypeInfoPartition, Key: core.TypeInfoKey}, value)
	return nil
}

// WriteModules records metadata entries and the owner role of a global node
func WriteModules(updates *store.StateUpdates, id core.NodeID, metadata map[string]string, owner string) error {
	if owner == "" {
		owner = "deny"
	}
	for k, v := range metadata {
		value, err := types.Encode(v)
		if err != nil {
			return err
		}
		updates.Set(core.SubstateRef{Node: id, Partition: core.MetadataPartition, Key: core.MapKey([]byte(k))}, value)
	}
	value, err := types.Encode(owner)
	if err != nil {
		return err
	}
	updates.Set(core.SubstateRef{Node: id, Partition: core.RoleAssignmentPartition, Key: core.MapKey([]byte(OwnerRole))}, value)
	return nil
}

// GenesisPackage writes a native package node into updates
func GenesisPackage(updates *store.StateUpdates, p *Package) error {
	if err := WriteTypeInfo(updates, p.Address, core.BlueprintID{Package: PackagePackageAddress, Blueprint: PackageBlueprint}); err != nil {
		return err
	}
	def, err := types.Encode(p.Definition())
	if err != nil {
		return err
	}
	updates.Set(core.SubstateRef{Node: p.Address, Partition: core.MainPartition, Key: core.PackageDefinitionKey}, def)
	return WriteModules(updates, p.Address, map[string]string{"kind": "native"}, "")
}
