package wasi

import (
	"context"
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/types"
	"github.com/holiman/uint256"
	"github.com/tetratelabs/wazero/api"
)

// call is the state of one wasm invocation, shared with the host functions
type call struct {
	api  core.KernelAPI
	pkg  core.NodeID
	fees costing.FeeTable
	// first error raised by a host function
	err error
}

type callKey struct{}

func withCall(ctx context.Context, c *call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

func callFrom(ctx context.Context) (*call, error) {
	c, ok := ctx.Value(callKey{}).(*call)
	if !ok {
		return nil, errNoKernelInContext
	}
	return c, nil
}

func (c *call) fail(err error) int32 {
	if c.err == nil {
		c.err = err
	}
	return -1
}

func (e *Executor) instantiateEnv(ctx context.Context) error {
	builder := e.runtime.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithParameterNames("funcID", "argPtr", "argLen", "bufferPtr").
		WithResultNames("result").
		WithFunc(func(ctx context.Context, m api.Module, funcID, argPtr, argLen, bufferPtr uint32) int32 {
			c, err := callFrom(ctx)
			if err != nil {
				return -1
			}
			argData, ok := m.Memory().Read(argPtr, argLen)
			if !ok {
				return c.fail(fmt.Errorf("%w: args at %d len %d", ErrMemoryAccess, argPtr, argLen))
			}
			if err := c.hostSet(ctx, types.HostFunctionID(funcID), argData); err != nil {
				return c.fail(err)
			}
			return 0
		}).
		Export("call_host_set")

	builder.NewFunctionBuilder().
		WithParameterNames("funcID", "argPtr", "argLen", "buffer").
		WithResultNames("result").
		WithFunc(func(ctx context.Context, m api.Module, funcID, argPtr, argLen, buffer uint32) int32 {
			c, err := callFrom(ctx)
			if err != nil {
				return -1
			}
			argData, ok := m.Memory().Read(argPtr, argLen)
			if !ok {
				return c.fail(fmt.Errorf("%w: args at %d len %d", ErrMemoryAccess, argPtr, argLen))
			}
			result, err := c.hostGetBuffer(ctx, types.HostFunctionID(funcID), argData)
			if err != nil {
				return c.fail(err)
			}
			if len(result) > int(types.HostBufferSize) {
				return c.fail(fmt.Errorf("%w: %d bytes", ErrBufferTooSmall, len(result)))
			}
			if !m.Memory().Write(buffer, result) {
				return c.fail(fmt.Errorf("%w: buffer at %d", ErrMemoryAccess, buffer))
			}
			return int32(len(result))
		}).
		Export("call_host_get_buffer")

	builder.NewFunctionBuilder().
		WithParameterNames("units").
		WithFunc(func(ctx context.Context, units uint64) {
			c, err := callFrom(ctx)
			if err != nil {
				panic(err)
			}
			if err := c.api.ConsumeCostUnits(c.fees.RunWasmCost(units), core.CostRunWasm); err != nil {
				c.fail(err)
				// trap: the guest must not run past its budget
				panic(err)
			}
		}).
		Export("consume_wasm_execution_units")

	_, err := builder.Instantiate(ctx)
	return err
}

func decodeKey(b []byte) (core.SubstateKey, error) {
	key, err := core.SubstateKeyFromBytes(b)
	if err != nil {
		return key, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return key, nil
}

func (c *call) hostSet(_ context.Context, id types.HostFunctionID, args []byte) error {
	switch id {
	case types.FuncCreateNode:
		var p types.CreateNodeParams
		if err := types.Decode(args, &p); err != nil {
			return err
		}
		substates := make(core.NodeSubstates, len(p.Substates))
		for partition, entries := range p.Substates {
			m := make(map[core.SubstateKey][]byte, len(entries))
			for k, v := range entries {
				key, err := decodeKey([]byte(k))
				if err != nil {
					return err
				}
				m[key] = v
			}
			substates[partition] = m
		}
		return c.api.CreateNode(p.ID, core.BlueprintID{Package: c.pkg, Blueprint: p.Blueprint}, substates)

	case types.FuncWriteSubstate:
		var p types.HandleParams
		if err := types.Decode(args, &p); err != nil {
			return err
		}
		return c.api.WriteSubstate(p.Handle, p.Value)

	case types.FuncCloseSubstate:
		var p types.HandleParams
		if err := types.Decode(args, &p); err != nil {
			return err
		}
		return c.api.CloseSubstate(p.Handle)

	case types.FuncSetSubstate:
		var p types.SubstateParams
		if err := types.Decode(args, &p); err != nil {
			return err
		}
		key, err := decodeKey(p.Key)
		if err != nil {
			return err
		}
		return c.api.SetSubstate(p.Node, p.Partition, key, p.Value)

	case types.FuncLockFee:
		var p types.LockFeeParams
		if err := types.Decode(args, &p); err != nil {
			return err
		}
		if len(p.Amount) > 32 {
			return fmt.Errorf("%w: fee amount of %d bytes", core.ErrInvalidArgument, len(p.Amount))
		}
		return c.api.LockFee(p.Vault, new(uint256.Int).SetBytes(p.Amount), p.Contingent)

	case types.FuncLog:
		var p types.LogParams
		if err := types.Decode(args, &p); err != nil {
			return err
		}
		c.api.EmitLog(p.Message, p.KeyValues...)
		return nil
	}
	return fmt.Errorf("%w: set %d", ErrUnknownHostFunc, id)
}

func (c *call) hostGetBuffer(ctx context.Context, id types.HostFunctionID, args []byte) ([]byte, error) {
	switch id {
	case types.FuncActor:
		actor := c.api.Actor()
		return types.Encode(types.ActorResult{
			Package:   actor.Blueprint.Package,
			Blueprint: actor.Blueprint.Blueprint,
			Function:  actor.Function,
			Receiver:  actor.Receiver,
		})

	case types.FuncAllocateNodeID:
		var p types.AllocateNodeIDParams
		if err := types.Decode(args, &p); err != nil {
			return nil, err
		}
		node, err := c.api.AllocateNodeID(p.Entity)
		if err != nil {
			return nil, err
		}
		return node[:], nil

	case types.FuncDropNode:
		var p types.NodeParams
		if err := types.Decode(args, &p); err != nil {
			return nil, err
		}
		substates, err := c.api.DropNode(p.ID)
		if err != nil {
			return nil, err
		}
		out := make(map[core.PartitionNumber]map[string][]byte, len(substates))
		for partition, entries := range substates {
			m := make(map[string][]byte, len(entries))
			for k, v := range entries {
				m[string(k.Bytes())] = v
			}
			out[partition] = m
		}
		return types.Encode(out)

	case types.FuncGlobalize:
		var p types.GlobalizeParams
		if err := types.Decode(args, &p); err != nil {
			return nil, err
		}
		addr, err := c.api.Globalize(p.ID, p.Modules, p.Address)
		if err != nil {
			return nil, err
		}
		return addr[:], nil

	case types.FuncLockSubstate:
		var p types.LockSubstateParams
		if err := types.Decode(args, &p); err != nil {
			return nil, err
		}
		key, err := decodeKey(p.Key)
		if err != nil {
			return nil, err
		}
		h, err := c.api.LockSubstate(p.Node, p.Partition, key, p.Flags)
		if err != nil {
			return nil, err
		}
		return types.Encode(h)

	case types.FuncReadSubstate:
		var p types.HandleParams
		if err := types.Decode(args, &p); err != nil {
			return nil, err
		}
		return c.api.ReadSubstate(p.Handle)

	case types.FuncRemoveSubstate:
		var p types.SubstateParams
		if err := types.Decode(args, &p); err != nil {
			return nil, err
		}
		key, err := decodeKey(p.Key)
		if err != nil {
			return nil, err
		}
		old, found, err := c.api.RemoveSubstate(p.Node, p.Partition, key)
		if err != nil {
			return nil, err
		}
		return types.Encode(types.RemoveSubstateResult{Value: old, Found: found})

	case types.FuncScanSubstates:
		var p types.ScanSubstatesParams
		if err := types.Decode(args, &p); err != nil {
			return nil, err
		}
		entries, err := c.api.ScanSubstates(p.Node, p.Partition, int(p.Limit))
		if err != nil {
			return nil, err
		}
		out := make([]types.ScanEntry, len(entries))
		for i, e := range entries {
			out[i] = types.ScanEntry{Key: e.Key.Bytes(), Value: e.Value}
		}
		return types.Encode(out)

	case types.FuncInvoke:
		var p types.InvokeParams
		if err := types.Decode(args, &p); err != nil {
			return nil, err
		}
		return c.api.Invoke(ctx, core.Invocation{
			Blueprint: core.BlueprintID{Package: p.Package, Blueprint: p.Blueprint},
			Function:  p.Function,
			Receiver:  p.Receiver,
			Input:     p.Input,
		})
	}
	return nil, fmt.Errorf("%w: get %d", ErrUnknownHostFunc, id)
}
