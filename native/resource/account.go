package resource

import (
	"context"
	"errors"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/native"
	"github.com/govm-net/kernel/types"
)

// CreateAccountArgs is the input of Account::create
type CreateAccountArgs struct {
	Owner string `cbor:"1,keyasint,omitempty"`
}

// ResourceArgs names a resource
type ResourceArgs struct {
	Resource core.NodeID `cbor:"1,keyasint"`
}

// VaultKey is the key of an account's vault for a resource
func VaultKey(res core.NodeID) core.SubstateKey {
	return core.MapKey(res[:])
}

func createAccount(_ context.Context, api core.KernelAPI, input []byte) ([]byte, error) {
	var args CreateAccountArgs
	if err := types.Decode(input, &args); err != nil {
		return nil, err
	}
	id, err := api.AllocateNodeID(core.EntityGlobalAccount)
	if err != nil {
		return nil, err
	}
	state, err := types.Encode(AccountState{Owner: args.Owner})
	if err != nil {
		return nil, err
	}
	if err := api.CreateNode(id, blueprint(AccountBlueprint), core.NodeSubstates{core.MainPartition: {StateKey: state}}); err != nil {
		return nil, err
	}
	addr, err := native.GlobalizeWithModules(api, id, map[string]string{"account_type": "default"}, args.Owner)
	if err != nil {
		return nil, err
	}
	return types.Encode(types.Reference(addr))
}

// withVault opens the account's vault entry for res and calls fn with the
// vault visible. found is false when the account has no such vault.
func withVault(api core.KernelAPI, account, res core.NodeID, fn func(vault core.NodeID) error) (bool, error) {
	h, err := api.LockSubstate(account, VaultPartition, VaultKey(res), 0)
	if errors.Is(err, core.ErrSubstateNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	value, err := api.ReadSubstate(h)
	if err != nil {
		return true, err
	}
	var vault types.Own
	if err := types.Decode(value, &vault); err != nil {
		return true, err
	}
	if err := fn(vault.ID()); err != nil {
		return true, err
	}
	return true, api.CloseSubstate(h)
}

func callVault(ctx context.Context, api core.KernelAPI, vault core.NodeID, function string, input []byte) ([]byte, error) {
	return api.Invoke(ctx, core.Invocation{Function: function, Receiver: &vault, Input: input})
}

// deposit puts the bucket into the account's vault for its resource,
// creating the vault on first deposit.
func deposit(ctx context.Context, api core.KernelAPI, input []byte) ([]byte, error) {
	account, err := receiver(api)
	if err != nil {
		return nil, err
	}
	var bucket types.Own
	if err := types.Decode(input, &bucket); err != nil {
		return nil, err
	}
	var content Balance
	if err := readState(api, bucket.ID(), &content); err != nil {
		return nil, err
	}

	found, err := withVault(api, account, content.Resource, func(vault core.NodeID) error {
		_, err := callVault(ctx, api, vault, "put", input)
		return err
	})
	if err != nil || found {
		return nil, err
	}

	vault, err := newBalanceNode(api, core.EntityInternalVault, VaultBlueprint, Balance{Resource: content.Resource})
	if err != nil {
		return nil, err
	}
	if _, err := callVault(ctx, api, vault, "put", input); err != nil {
		return nil, err
	}
	value, err := types.Encode(types.Own(vault))
	if err != nil {
		return nil, err
	}
	return nil, api.SetSubstate(account, VaultPartition, VaultKey(content.Resource), value)
}

func withdraw(ctx context.Context, api core.KernelAPI, input []byte) ([]byte, error) {
	account, err := receiver(api)
	if err != nil {
		return nil, err
	}
	var args AmountArgs
	if err := types.Decode(input, &args); err != nil {
		return nil, err
	}
	var output []byte
	found, err := withVault(api, account, args.Resource, func(vault core.NodeID) error {
		var err error
		output, err = callVault(ctx, api, vault, "take", input)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, core.NewApplicationError(CodeInsufficientBalance, "no vault for %s", args.Resource)
	}
	return output, nil
}

func accountLockFee(ctx context.Context, api core.KernelAPI, input []byte) ([]byte, error) {
	account, err := receiver(api)
	if err != nil {
		return nil, err
	}
	found, err := withVault(api, account, XRD, func(vault core.NodeID) error {
		_, err := callVault(ctx, api, vault, "lock_fee", input)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, core.NewApplicationError(CodeInsufficientBalance, "account holds no XRD")
	}
	return nil, nil
}

func accountBalance(ctx context.Context, api core.KernelAPI, input []byte) ([]byte, error) {
	account, err := receiver(api)
	if err != nil {
		return nil, err
	}
	var args ResourceArgs
	if err := types.Decode(input, &args); err != nil {
		return nil, err
	}
	var output []byte
	found, err := withVault(api, account, args.Resource, func(vault core.NodeID) error {
		var err error
		output, err = callVault(ctx, api, vault, "amount", nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return types.Encode(Amount{})
	}
	return output, nil
}
