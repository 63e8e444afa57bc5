package native

import (
	"context"
	"errors"
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
)

// PackagePackageAddress is where the package that publishes packages lives
var PackagePackageAddress = core.MustNodeID(core.EntityGlobalPackage, 1)

// Blueprint names of the package package
const (
	PackageBlueprint        = "Package"
	MetadataBlueprint       = "Metadata"
	RoleAssignmentBlueprint = "RoleAssignment"
)

// OwnerRole is the role every role assignment module defines
const OwnerRole = "owner"

// PublishArgs is the input of Package::publish_wasm
type PublishArgs struct {
	Code       []byte                 `cbor:"1,keyasint"`
	Definition core.PackageDefinition `cbor:"2,keyasint"`
	Metadata   map[string]string      `cbor:"3,keyasint,omitempty"`
	Owner      string                 `cbor:"4,keyasint,omitempty"`
}

// ModuleArgs is the input of Metadata::create and RoleAssignment::create
type ModuleArgs struct {
	Entries map[string]string `cbor:"1,keyasint,omitempty"`
}

// NewPackagePackage returns the native package that publishes wasm packages
// and creates the metadata and role assignment modules.
func NewPackagePackage() *Package {
	return &Package{
		Address: PackagePackageAddress,
		Blueprints: map[string]map[string]FunctionDef{
			PackageBlueprint: {
				"publish_wasm": {Fn: publishWasm},
			},
			MetadataBlueprint: {
				"create": {Fn: createModule(core.ModuleMetadata)},
			},
			RoleAssignmentBlueprint: {
				"create": {Fn: createModule(core.ModuleRoleAssignment)},
			},
		},
	}
}

func publishWasm(_ context.Context, api core.KernelAPI, input []byte) ([]byte, error) {
	var args PublishArgs
	if err := types.Decode(input, &args); err != nil {
		return nil, err
	}
	if len(args.Code) == 0 {
		return nil, core.NewApplicationError("InvalidPackage", "empty code")
	}
	if args.Definition.VM != core.VMWasm {
		return nil, core.NewApplicationError("InvalidPackage", "unsupported vm %s", args.Definition.VM)
	}
	if len(args.Definition.Blueprints) == 0 {
		return nil, core.NewApplicationError("InvalidPackage", "no blueprints")
	}

	id, err := api.AllocateNodeID(core.EntityGlobalPackage)
	if err != nil {
		return nil, err
	}
	def, err := types.Encode(args.Definition)
	if err != nil {
		return nil, err
	}
	code, err := types.Encode(args.Code)
	if err != nil {
		return nil, err
	}
	err = api.CreateNode(id, core.BlueprintID{Package: PackagePackageAddress, Blueprint: PackageBlueprint}, core.NodeSubstates{
		core.MainPartition: {
			core.PackageDefinitionKey: def,
			core.PackageCodeKey:       code,
		},
	})
	if err != nil {
		return nil, err
	}
	addr, err := GlobalizeWithModules(api, id, args.Metadata, args.Owner)
	if err != nil {
		return nil, err
	}
	api.EmitLog("package published", "address", addr.String(), "code_size", len(args.Code))
	return types.Encode(types.Reference(addr))
}

func createModule(m core.ModuleID) Function {
	return func(_ context.Context, api core.KernelAPI, input []byte) ([]byte, error) {
		var args ModuleArgs
		if err := types.Decode(input, &args); err != nil {
			return nil, err
		}
		id, err := createModuleNode(api, m, args.Entries)
		if err != nil {
			return nil, err
		}
		return types.Encode(types.Own(id))
	}
}

func createModuleNode(api core.KernelAPI, m core.ModuleID, entries map[string]string) (core.NodeID, error) {
	id, err := api.AllocateNodeID(core.EntityInternalComponent)
	if err != nil {
		return id, err
	}
	main := make(map[core.SubstateKey][]byte, len(entries))
	for k, v := range entries {
		value, err := types.Encode(v)
		if err != nil {
			return id, err
		}
		main[core.MapKey([]byte(k))] = value
	}
	bp := core.BlueprintID{Package: PackagePackageAddress, Blueprint: m.String()}
	if err := api.CreateNode(id, bp, core.NodeSubstates{core.MainPartition: main}); err != nil {
		return id, err
	}
	return id, nil
}

// CreateModules creates the metadata and role assignment module nodes a
// node needs to be globalized. The owner rule defaults to "deny".
func CreateModules(api core.KernelAPI, metadata map[string]string, owner string) (map[core.ModuleID]core.NodeID, error) {
	if owner == "" {
		owner = "deny"
	}
	meta, err := createModuleNode(api, core.ModuleMetadata, metadata)
	if err != nil {
		return nil, err
	}
	roles, err := createModuleNode(api, core.ModuleRoleAssignment, map[string]string{OwnerRole: owner})
	if err != nil {
		return nil, err
	}
	return map[core.ModuleID]core.NodeID{
		core.ModuleMetadata:       meta,
		core.ModuleRoleAssignment: roles,
	}, nil
}

// GlobalizeWithModules creates the module nodes and globalizes id with them
func GlobalizeWithModules(api core.KernelAPI, id core.NodeID, metadata map[string]string, owner string) (core.NodeID, error) {
	modules, err := CreateModules(api, metadata, owner)
	if err != nil {
		return core.NodeID{}, err
	}
	addr, err := api.Globalize(id, modules, nil)
	if err != nil {
		return core.NodeID{}, fmt.Errorf("globalize %s: %w", id, err)
	}
	return addr, nil
}

// ReadMetadata returns one metadata entry of a global node. The node must be
// visible to the current frame.
func ReadMetadata(api core.KernelAPI, node core.NodeID, name string) (string, bool, error) {
	h, err := api.LockSubstate(node, core.MetadataPartition, core.MapKey([]byte(name)), 0)
	if err != nil {
		if errors.Is(err, core.ErrSubstateNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	value, err := api.ReadSubstate(h)
	if err != nil {
		return "", false, err
	}
	if err := api.CloseSubstate(h); err != nil {
		return "", false, err
	}
	var s string
	if err := types.Decode(value, &s); err != nil {
		return "", false, err
	}
	return s, true, nil
}
