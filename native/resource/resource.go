// Package resource implements the native resource package: fungible
// resources, the vaults and buckets holding them, and accounts.
package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/native"
	"github.com/govm-net/kernel/types"
)

var (
	// PackageAddress is where the resource package lives
	PackageAddress = core.MustNodeID(core.EntityGlobalPackage, 2)
	// XRD is the fee-paying resource created at genesis
	XRD = core.MustNodeID(core.EntityGlobalResource, 1)
)

// Blueprint names
const (
	ResourceBlueprint = "FungibleResource"
	VaultBlueprint    = "Vault"
	BucketBlueprint   = "Bucket"
	AccountBlueprint  = "Account"
)

// StateKey is the field holding the state of every node of this package
var StateKey = core.FieldKey(0)

// VaultPartition holds an account's vaults keyed by resource address
const VaultPartition = core.MainPartition + 1

// Application error codes
const (
	CodeInsufficientBalance = "InsufficientBalance"
	CodeResourceMismatch    = "ResourceMismatch"
	CodeNotXRD              = "NotXRD"
	CodeInvalidResource     = "InvalidResource"
)

// ResourceState is the state of a fungible resource
type ResourceState struct {
	Symbol       string `cbor:"1,keyasint"`
	Divisibility uint8  `cbor:"2,keyasint"`
	TotalSupply  Amount `cbor:"3,keyasint"`
}

// Balance is the state of a vault or a bucket
type Balance struct {
	Resource core.NodeID `cbor:"1,keyasint"`
	Amount   Amount      `cbor:"2,keyasint"`
}

// AccountState is the state of an account
type AccountState struct {
	Owner string `cbor:"1,keyasint"`
}

// CreateFungibleArgs is the input of FungibleResource::create_fungible
type CreateFungibleArgs struct {
	Symbol        string            `cbor:"1,keyasint"`
	Divisibility  uint8             `cbor:"2,keyasint"`
	InitialSupply Amount            `cbor:"3,keyasint"`
	Metadata      map[string]string `cbor:"4,keyasint,omitempty"`
	Owner         string            `cbor:"5,keyasint,omitempty"`
}

// CreateFungibleResult is the output of FungibleResource::create_fungible
type CreateFungibleResult struct {
	_        struct{} `cbor:",toarray"`
	Resource types.Reference
	Bucket   types.Own
}

// AmountArgs is the input of take and withdraw style methods
type AmountArgs struct {
	Resource core.NodeID `cbor:"1,keyasint,omitempty"`
	Amount   Amount      `cbor:"2,keyasint"`
}

// LockFeeArgs is the input of lock_fee
type LockFeeArgs struct {
	Amount     Amount `cbor:"1,keyasint"`
	Contingent bool   `cbor:"2,keyasint,omitempty"`
}

// NewPackage returns the native resource package
func NewPackage() *native.Package {
	return &native.Package{
		Address: PackageAddress,
		Blueprints: map[string]map[string]native.FunctionDef{
			ResourceBlueprint: {
				"create_fungible":    {Fn: createFungible},
				"create_empty_vault": {Receiver: core.ReceiverRef, Fn: createEmptyVault},
				"burn":               {Receiver: core.ReceiverRefMut, Fn: burn},
				"total_supply":       {Receiver: core.ReceiverRef, Fn: totalSupply},
			},
			VaultBlueprint: {
				"amount":   {Receiver: core.ReceiverRef, Fn: balanceAmount},
				"take":     {Receiver: core.ReceiverRefMut, Fn: take},
				"put":      {Receiver: core.ReceiverRefMut, Fn: put},
				"lock_fee": {Receiver: core.ReceiverRefMut, Fn: vaultLockFee},
			},
			BucketBlueprint: {
				"amount": {Receiver: core.ReceiverRef, Fn: balanceAmount},
				"take":   {Receiver: core.ReceiverRefMut, Fn: take},
				"put":    {Receiver: core.ReceiverRefMut, Fn: put},
			},
			AccountBlueprint: {
				"create":   {Fn: createAccount},
				"deposit":  {Receiver: core.ReceiverRefMut, Fn: deposit},
				"withdraw": {Receiver: core.ReceiverRefMut, Fn: withdraw},
				"lock_fee": {Receiver: core.ReceiverRefMut, Fn: accountLockFee},
				"balance":  {Receiver: core.ReceiverRef, Fn: accountBalance},
			},
		},
	}
}

func blueprint(name string) core.BlueprintID {
	return core.BlueprintID{Package: PackageAddress, Blueprint: name}
}

func receiver(api core.KernelAPI) (core.NodeID, error) {
	actor := api.Actor()
	if actor.Receiver == nil {
		return core.NodeID{}, fmt.Errorf("%w: %s has no receiver", core.ErrInvalidArgument, actor)
	}
	return *actor.Receiver, nil
}

// readState locks, reads and decodes the state field of a node
func readState(api core.KernelAPI, node core.NodeID, v any) error {
	h, err := api.LockSubstate(node, core.MainPartition, StateKey, 0)
	if err != nil {
		return err
	}
	value, err := api.ReadSubstate(h)
	if err != nil {
		return err
	}
	if err := api.CloseSubstate(h); err != nil {
		return err
	}
	return types.Decode(value, v)
}

// updateState runs fn over the decoded state and writes the result back
// under a single mutable lock.
func updateState[T any](api core.KernelAPI, node core.NodeID, flags core.LockFlags, fn func(*T) error) error {
	h, err := api.LockSubstate(node, core.MainPartition, StateKey, flags|core.LockMutable)
	if err != nil {
		return err
	}
	value, err := api.ReadSubstate(h)
	if err != nil {
		return err
	}
	state := new(T)
	if err := types.Decode(value, state); err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	encoded, err := types.Encode(state)
	if err != nil {
		return err
	}
	if err := api.WriteSubstate(h, encoded); err != nil {
		return err
	}
	return api.CloseSubstate(h)
}

func createFungible(_ context.Context, api core.KernelAPI, input []byte) ([]byte, error) {
	var args CreateFungibleArgs
	if err := types.Decode(input, &args); err != nil {
		return nil, err
	}
	if args.Divisibility > 18 {
		return nil, core.NewApplicationError(CodeInvalidResource, "divisibility %d", args.Divisibility)
	}
	id, err := api.AllocateNodeID(core.EntityGlobalResource)
	if err != nil {
		return nil, err
	}
	state, err := types.Encode(ResourceState{Symbol: args.Symbol, Divisibility: args.Divisibility, TotalSupply: args.InitialSupply})
	if err != nil {
		return nil, err
	}
	if err := api.CreateNode(id, blueprint(ResourceBlueprint), core.NodeSubstates{core.MainPartition: {StateKey: state}}); err != nil {
		return nil, err
	}
	metadata := map[string]string{"symbol": args.Symbol}
	for k, v := range args.Metadata {
		metadata[k] = v
	}
	addr, err := native.GlobalizeWithModules(api, id, metadata, args.Owner)
	if err != nil {
		return nil, err
	}
	bucket, err := newBalanceNode(api, core.EntityTransientBucket, BucketBlueprint, Balance{Resource: addr, Amount: args.InitialSupply})
	if err != nil {
		return nil, err
	}
	api.EmitLog("resource created", "address", addr.String(), "symbol", args.Symbol, "supply", args.InitialSupply.String())
	return types.Encode(CreateFungibleResult{Resource: types.Reference(addr), Bucket: types.Own(bucket)})
}

func newBalanceNode(api core.KernelAPI, entity core.EntityType, bp string, b Balance) (core.NodeID, error) {
	id, err := api.AllocateNodeID(entity)
	if err != nil {
		return id, err
	}
	state, err := types.Encode(b)
	if err != nil {
		return id, err
	}
	err = api.CreateNode(id, blueprint(bp), core.NodeSubstates{core.MainPartition: {StateKey: state}})
	return id, err
}

func createEmptyVault(_ context.Context, api core.KernelAPI, _ []byte) ([]byte, error) {
	res, err := receiver(api)
	if err != nil {
		return nil, err
	}
	vault, err := newBalanceNode(api, core.EntityInternalVault, VaultBlueprint, Balance{Resource: res})
	if err != nil {
		return nil, err
	}
	return types.Encode(types.Own(vault))
}

func burn(_ context.Context, api core.KernelAPI, input []byte) ([]byte, error) {
	res, err := receiver(api)
	if err != nil {
		return nil, err
	}
	b, err := dropBucket(api, input)
	if err != nil {
		return nil, err
	}
	if b.Resource != res {
		return nil, core.NewApplicationError(CodeResourceMismatch, "cannot burn %s with %s", b.Resource, res)
	}
	err = updateState(api, res, 0, func(s *ResourceState) error {
		supply, err := s.TotalSupply.Sub(b.Amount)
		if err != nil {
			return core.NewApplicationError(CodeInsufficientBalance, "%v", err)
		}
		s.TotalSupply = supply
		return nil
	})
	return nil, err
}

func totalSupply(_ context.Context, api core.KernelAPI, _ []byte) ([]byte, error) {
	res, err := receiver(api)
	if err != nil {
		return nil, err
	}
	var s ResourceState
	if err := readState(api, res, &s); err != nil {
		return nil, err
	}
	return types.Encode(s.TotalSupply)
}

// dropBucket takes the bucket passed as input and returns its content
func dropBucket(api core.KernelAPI, input []byte) (Balance, error) {
	var own types.Own
	if err := types.Decode(input, &own); err != nil {
		return Balance{}, err
	}
	if own.ID().EntityType() != core.EntityTransientBucket {
		return Balance{}, fmt.Errorf("%w: %s is not a bucket", core.ErrInvalidArgument, own.ID())
	}
	substates, err := api.DropNode(own.ID())
	if err != nil {
		return Balance{}, err
	}
	var b Balance
	if err := types.Decode(substates[core.MainPartition][StateKey], &b); err != nil {
		return Balance{}, err
	}
	return b, nil
}

func insufficient(err error) error {
	var appErr *core.ApplicationError
	if errors.As(err, &appErr) {
		return err
	}
	return core.NewApplicationError(CodeInsufficientBalance, "%v", err)
}
