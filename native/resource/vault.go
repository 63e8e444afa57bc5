package resource

import (
	"context"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
)

// Vault and Bucket share their state layout and most methods; only the
// entity type of the receiver differs.

func balanceAmount(_ context.Context, api core.KernelAPI, _ []byte) ([]byte, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	var b Balance
	if err := readState(api, self, &b); err != nil {
		return nil, err
	}
	return types.Encode(b.Amount)
}

// take moves an amount out of the receiver into a new bucket
func take(_ context.Context, api core.KernelAPI, input []byte) ([]byte, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	var args AmountArgs
	if err := types.Decode(input, &args); err != nil {
		return nil, err
	}
	var res core.NodeID
	err = updateState(api, self, 0, func(b *Balance) error {
		left, err := b.Amount.Sub(args.Amount)
		if err != nil {
			return core.NewApplicationError(CodeInsufficientBalance, "take %s from %s", args.Amount, b.Amount)
		}
		b.Amount = left
		res = b.Resource
		return nil
	})
	if err != nil {
		return nil, err
	}
	bucket, err := newBalanceNode(api, core.EntityTransientBucket, BucketBlueprint, Balance{Resource: res, Amount: args.Amount})
	if err != nil {
		return nil, err
	}
	return types.Encode(types.Own(bucket))
}

// put drops the bucket passed as input and adds its content to the receiver
func put(_ context.Context, api core.KernelAPI, input []byte) ([]byte, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	in, err := dropBucket(api, input)
	if err != nil {
		return nil, err
	}
	err = updateState(api, self, 0, func(b *Balance) error {
		if b.Resource != in.Resource {
			return core.NewApplicationError(CodeResourceMismatch, "cannot put %s into %s", in.Resource, b.Resource)
		}
		sum, err := b.Amount.Add(in.Amount)
		if err != nil {
			return insufficient(err)
		}
		b.Amount = sum
		return nil
	})
	return nil, err
}

// vaultLockFee debits the vault and credits the fee reserve. The debit is
// force written so it survives a failing transaction, and requires the
// balance to be untouched so far in this transaction.
func vaultLockFee(_ context.Context, api core.KernelAPI, input []byte) ([]byte, error) {
	self, err := receiver(api)
	if err != nil {
		return nil, err
	}
	var args LockFeeArgs
	if err := types.Decode(input, &args); err != nil {
		return nil, err
	}
	err = updateState(api, self, core.LockUnmodifiedBase|core.LockForceWrite, func(b *Balance) error {
		if b.Resource != XRD {
			return core.NewApplicationError(CodeNotXRD, "fees are paid in XRD, vault holds %s", b.Resource)
		}
		left, err := b.Amount.Sub(args.Amount)
		if err != nil {
			return core.NewApplicationError(CodeInsufficientBalance, "lock fee %s from %s", args.Amount, b.Amount)
		}
		b.Amount = left
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nil, api.LockFee(self, args.Amount.Int(), args.Contingent)
}
