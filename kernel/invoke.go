package kernel

import (
	"context"
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
	"github.com/holiman/uint256"
)

// resolved is the outcome of dispatch: which executor runs which export.
type resolved struct {
	actor    core.Actor
	export   core.ExportRef
	vm       core.VMKind
	executor core.Executor
}

func (k *Kernel) packageDefinition(pkg core.NodeID) (*core.PackageDefinition, error) {
	if def, ok := k.definitions[pkg]; ok {
		return def, nil
	}
	if pkg.EntityType() != core.EntityGlobalPackage {
		return nil, fmt.Errorf("%w: %s is not a package", core.ErrPackageNotFound, pkg)
	}
	ref := core.SubstateRef{Node: pkg, Partition: core.MainPartition, Key: core.PackageDefinitionKey}
	value, found, err := k.track.Read(ref)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", core.ErrPackageNotFound, pkg)
	}
	def := new(core.PackageDefinition)
	if err := types.Decode(value, def); err != nil {
		return nil, fmt.Errorf("bad package definition of %s: %w", pkg, err)
	}
	k.definitions[pkg] = def
	return def, nil
}

// resolve looks the callee up in the package's blueprint definitions. The
// blueprint of a method comes from the receiver's type info.
func (k *Kernel) resolve(f *CallFrame, inv core.Invocation) (*resolved, error) {
	bp := inv.Blueprint
	if inv.Receiver != nil {
		if !f.CanSee(*inv.Receiver) {
			return nil, fmt.Errorf("%w: receiver %s", core.ErrNodeNotVisible, *inv.Receiver)
		}
		var err error
		if bp, err = k.blueprintOf(*inv.Receiver); err != nil {
			return nil, err
		}
	}
	def, err := k.packageDefinition(bp.Package)
	if err != nil {
		return nil, err
	}
	blueprint, ok := def.Blueprints[bp.Blueprint]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrBlueprintNotFound, bp)
	}
	schema, ok := blueprint.Functions[inv.Function]
	if !ok {
		return nil, fmt.Errorf("%w: %s::%s", core.ErrFunctionNotFound, bp.Blueprint, inv.Function)
	}
	if (schema.Receiver == core.ReceiverNone) != (inv.Receiver == nil) {
		return nil, fmt.Errorf("%w: %s::%s receiver mismatch", core.ErrFunctionNotFound, bp.Blueprint, inv.Function)
	}
	executor, ok := k.executors[def.VM]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrExecutorNotFound, def.VM)
	}
	var receiver *core.NodeID
	if inv.Receiver != nil {
		id := *inv.Receiver
		receiver = &id
	}
	return &resolved{
		actor:    core.Actor{Blueprint: bp, Function: inv.Function, Receiver: receiver},
		export:   core.ExportRef{Blueprint: bp, Function: inv.Function, Export: schema.Export},
		vm:       def.VM,
		executor: executor,
	}, nil
}

// Invoke implements core.KernelAPI. Own tokens in the input move to a new
// frame; Own tokens in the output move back. The callee frame must end with
// an empty owned set.
func (k *Kernel) Invoke(ctx context.Context, inv core.Invocation) ([]byte, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, k.fail(err)
	}
	caller := k.current()
	if caller.depth+1 > k.cfg.MaxCallDepth {
		return nil, k.fail(fmt.Errorf("%w: depth %d, max %d", core.ErrMaxCallDepthExceeded, caller.depth+1, k.cfg.MaxCallDepth))
	}
	if err := k.limiter.CheckPayloadSize(len(inv.Input)); err != nil {
		return nil, k.fail(err)
	}
	target, err := k.resolve(caller, inv)
	if err != nil {
		return nil, err
	}
	if err := k.consume(k.fees.InvokeCost(len(inv.Input)), core.CostInvoke); err != nil {
		return nil, err
	}

	input, err := scanTokens(inv.Input)
	if err != nil {
		return nil, err
	}
	for _, id := range input.Owns {
		if err := k.checkMovable(id, caller); err != nil {
			return nil, err
		}
	}
	for _, id := range input.Refs {
		if !caller.CanSee(id) {
			return nil, fmt.Errorf("%w: %s", core.ErrNodeNotVisible, id)
		}
	}

	callee := newCallFrame(caller.depth+1, target.actor)
	for _, id := range input.Owns {
		k.ledger.giveToFrame(id, callee)
	}
	for _, id := range input.Refs {
		callee.addRef(id)
	}
	k.frames = append(k.frames, callee)
	k.tracer.BeginCall(target.actor, callee.depth, len(inv.Input), k.reserve.TotalCostUnitsConsumed())
	k.logger.Debug("frame pushed", "actor", target.actor, "depth", callee.depth)

	output, err := k.run(ctx, target, inv.Input)
	if err == nil {
		err = k.returnToCaller(callee, caller, output)
	}
	k.tracer.EndCall(len(output), k.reserve.TotalCostUnitsConsumed(), err)
	k.frames = k.frames[:len(k.frames)-1]
	k.logger.Debug("frame popped", "actor", target.actor, "depth", callee.depth, "error", err)
	if err != nil {
		// the callee's nodes are unreachable from here on
		return nil, k.fail(err)
	}
	return output, nil
}

func (k *Kernel) run(ctx context.Context, target *resolved, input []byte) ([]byte, error) {
	if target.vm == core.VMNative {
		if err := k.consume(k.fees.RunNativeCost(len(input)), core.CostRunNative); err != nil {
			return nil, err
		}
	}
	output, err := target.executor.Invoke(ctx, k, target.export, input)
	if err != nil {
		return nil, err
	}
	if k.failed != nil {
		// the executor swallowed a fatal error
		return nil, k.failed
	}
	return output, nil
}

// returnToCaller moves the returned tokens to the caller and checks that
// the callee left nothing behind.
func (k *Kernel) returnToCaller(callee, caller *CallFrame, output []byte) error {
	if err := k.limiter.CheckPayloadSize(len(output)); err != nil {
		return err
	}
	if err := k.consume(k.fees.InvokeCost(len(output)), core.CostInvoke); err != nil {
		return err
	}
	if len(callee.locks) > 0 {
		return fmt.Errorf("%w: %s left %d open", core.ErrOpenLocksOnFramePop, callee.actor, len(callee.locks))
	}
	tokens, err := scanTokens(output)
	if err != nil {
		return err
	}
	for _, id := range tokens.Owns {
		if err := k.checkMovable(id, callee); err != nil {
			return err
		}
	}
	for _, id := range tokens.Refs {
		if !callee.CanSee(id) {
			return fmt.Errorf("%w: %s", core.ErrNodeNotVisible, id)
		}
		if !id.IsGlobal() && !caller.CanSee(id) {
			return fmt.Errorf("%w: %s", core.ErrNonGlobalReference, id)
		}
	}

	for _, id := range tokens.Owns {
		k.ledger.giveToFrame(id, caller)
	}
	for _, id := range tokens.Refs {
		// a non-global node the caller sees only through an open lock stays
		// borrowed
		if id.IsGlobal() {
			caller.addRef(id)
		}
	}
	if owned := callee.OwnedNodes(); len(owned) > 0 {
		return fmt.Errorf("%w: %s left %d, first %s (%s)",
			core.ErrOwnedNodeLeak, callee.actor, len(owned), owned[0], owned[0].EntityType())
	}
	return nil
}

// LockFee implements core.KernelAPI. Only a vault method may lock fees, and
// only from itself.
func (k *Kernel) LockFee(vault core.NodeID, amount *uint256.Int, contingent bool) error {
	if err := k.check(); err != nil {
		return err
	}
	actor := k.current().actor
	if actor.Receiver == nil || *actor.Receiver != vault || vault.EntityType() != core.EntityInternalVault {
		return fmt.Errorf("%w: %s", core.ErrInvalidFeeLock, actor)
	}
	if k.heap.Contains(vault) {
		return fmt.Errorf("%w: %s is not persisted", core.ErrInvalidFeeLock, vault)
	}
	if err := k.reserve.LockFee(vault, amount, contingent); err != nil {
		return k.fail(&core.CostingError{Err: err})
	}
	k.logger.Debug("fee locked", "vault", vault, "amount", amount, "contingent", contingent)
	return nil
}
