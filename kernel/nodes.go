package kernel

import (
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
)

// AllocateNodeID implements core.KernelAPI
func (k *Kernel) AllocateNodeID(entity core.EntityType) (core.NodeID, error) {
	if err := k.check(); err != nil {
		return core.NodeID{}, err
	}
	if err := k.consume(k.fees.AllocateNodeIDCost(), core.CostCreateNode); err != nil {
		return core.NodeID{}, err
	}
	return k.ids.Allocate(entity)
}

// CreateNode implements core.KernelAPI. The node is created in the heap and
// owned by the current frame; Own tokens in its substates become its
// children.
func (k *Kernel) CreateNode(id core.NodeID, blueprint core.BlueprintID, substates core.NodeSubstates) error {
	if err := k.check(); err != nil {
		return err
	}
	f := k.current()
	if !k.ids.IsAllocated(id) {
		return fmt.Errorf("%w: %s was not allocated or is already used", core.ErrNodeAlreadyExists, id)
	}
	if err := k.consume(k.fees.CreateNodeCost(substates.Size()), core.CostCreateNode); err != nil {
		return err
	}

	seen := make(map[core.NodeID]struct{})
	var children []core.NodeID
	for p, partition := range substates {
		if p < core.MainPartition {
			return fmt.Errorf("%w: partition %d is reserved", core.ErrInvalidArgument, p)
		}
		for key, value := range partition {
			ref := core.SubstateRef{Node: id, Partition: p, Key: key}
			if err := k.limiter.CheckSubstateSize(ref, len(value)); err != nil {
				return k.fail(err)
			}
			tokens, err := scanTokens(value)
			if err != nil {
				return err
			}
			if err := k.checkRefs(f, tokens.Refs); err != nil {
				return err
			}
			for _, child := range tokens.Owns {
				if _, dup := seen[child]; dup {
					return fmt.Errorf("%w: %s", core.ErrDuplicateOwn, child)
				}
				seen[child] = struct{}{}
				if err := k.checkMovable(child, f); err != nil {
					return err
				}
				children = append(children, child)
			}
		}
	}

	all := make(core.NodeSubstates, len(substates)+1)
	for p, partition := range substates {
		all[p] = partition
	}
	all[core.TypeInfoPartition] = map[core.SubstateKey][]byte{core.TypeInfoKey: types.MustEncode(blueprint)}
	if err := k.heap.CreateNode(id, all); err != nil {
		return err
	}
	if err := k.ids.Use(id); err != nil {
		return err
	}
	k.ledger.giveToFrame(id, f)
	for _, child := range children {
		k.ledger.giveToNode(child, id)
	}
	k.logger.Debug("node created", "id", id, "blueprint", blueprint.Blueprint, "depth", f.depth)
	return nil
}

// DropNode implements core.KernelAPI. The node's children move to the
// current frame, which then has to drop or store them.
func (k *Kernel) DropNode(id core.NodeID) (core.NodeSubstates, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	f := k.current()
	if err := k.checkMovable(id, f); err != nil {
		return nil, err
	}
	if !k.heap.Contains(id) {
		return nil, fmt.Errorf("%w: %s is persisted", core.ErrCannotDropNode, id)
	}
	node, _ := k.heap.Node(id)
	if err := k.consume(k.fees.DropNodeCost(node.Size()), core.CostDropNode); err != nil {
		return nil, err
	}

	substates, err := k.heap.RemoveNode(id)
	if err != nil {
		return nil, err
	}
	for _, child := range k.ledger.childrenOf(id) {
		k.ledger.giveToFrame(child, f)
	}
	k.ledger.forget(id)
	delete(substates, core.TypeInfoPartition)
	return substates, nil
}

// GetBlueprint implements core.KernelAPI
func (k *Kernel) GetBlueprint(id core.NodeID) (core.BlueprintID, error) {
	if err := k.check(); err != nil {
		return core.BlueprintID{}, err
	}
	if !k.current().CanSee(id) {
		return core.BlueprintID{}, fmt.Errorf("%w: %s", core.ErrNodeNotVisible, id)
	}
	return k.blueprintOf(id)
}

func (k *Kernel) blueprintOf(id core.NodeID) (core.BlueprintID, error) {
	var bp core.BlueprintID
	value, found := k.heap.GetSubstate(id, core.TypeInfoPartition, core.TypeInfoKey)
	if !k.heap.Contains(id) {
		var err error
		if value, found, err = k.track.Read(typeInfoRef(id)); err != nil {
			return bp, err
		}
	}
	if !found {
		return bp, fmt.Errorf("%w: %s", core.ErrNodeNotFound, id)
	}
	if err := types.Decode(value, &bp); err != nil {
		return bp, fmt.Errorf("bad type info of %s: %w", id, err)
	}
	return bp, nil
}

// Globalize implements core.KernelAPI. The node, its module nodes and every
// descendant move from the heap to the track; the frame keeps a reference to
// the new global address.
func (k *Kernel) Globalize(id core.NodeID, modules map[core.ModuleID]core.NodeID, address *core.NodeID) (core.NodeID, error) {
	if err := k.check(); err != nil {
		return core.NodeID{}, err
	}
	f := k.current()
	if err := k.checkMovable(id, f); err != nil {
		return core.NodeID{}, err
	}
	if !k.heap.Contains(id) {
		return core.NodeID{}, fmt.Errorf("%w: %s is not on the heap", core.ErrCannotGlobalize, id)
	}
	addr, err := k.globalAddress(id, address)
	if err != nil {
		return core.NodeID{}, err
	}

	for _, required := range k.cfg.RequiredModules {
		if _, ok := modules[required]; !ok {
			return core.NodeID{}, fmt.Errorf("%w: missing %s", core.ErrInvalidModule, required)
		}
	}
	moduleIDs := make([]core.ModuleID, 0, len(modules))
	for m := range modules {
		moduleIDs = append(moduleIDs, m)
	}
	sortModules(moduleIDs)
	for _, m := range moduleIDs {
		if err := k.checkModule(f, m, modules[m]); err != nil {
			return core.NodeID{}, err
		}
	}
	if err := k.checkPersistable(id, false); err != nil {
		return core.NodeID{}, err
	}
	for _, m := range moduleIDs {
		if err := k.checkPersistable(modules[m], false); err != nil {
			return core.NodeID{}, err
		}
	}
	if err := k.consume(k.fees.MoveModuleCost()*uint32(len(moduleIDs)), core.CostCreateNode); err != nil {
		return core.NodeID{}, err
	}

	substates, err := k.heap.RemoveNode(id)
	if err != nil {
		return core.NodeID{}, err
	}
	for _, m := range moduleIDs {
		moduleNode := modules[m]
		moduleSubstates, err := k.heap.RemoveNode(moduleNode)
		if err != nil {
			return core.NodeID{}, err
		}
		if main := moduleSubstates[core.MainPartition]; len(main) > 0 {
			substates[m.Partition()] = main
		}
		k.ledger.rename(moduleNode, addr)
		k.ledger.forget(moduleNode)
	}
	k.ledger.rename(id, addr)
	k.ledger.forget(id)
	if addr != id {
		if err := k.ids.Use(addr); err != nil {
			return core.NodeID{}, err
		}
	}

	if err := k.insertIntoTrack(addr, substates); err != nil {
		return core.NodeID{}, err
	}
	for _, child := range k.ledger.childrenOf(addr) {
		if err := k.persist(child); err != nil {
			return core.NodeID{}, err
		}
	}
	f.addRef(addr)
	k.logger.Debug("node globalized", "id", id, "address", addr, "modules", len(moduleIDs))
	return addr, nil
}

func sortModules(ids []core.ModuleID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

// globalAddress picks the address a node is globalized at: its own id if it
// was allocated as a global entity, otherwise a preallocated or fresh one.
func (k *Kernel) globalAddress(id core.NodeID, address *core.NodeID) (core.NodeID, error) {
	target, ok := id.EntityType().GlobalCounterpart()
	if !ok {
		return core.NodeID{}, fmt.Errorf("%w: entity %s has no global form", core.ErrCannotGlobalize, id.EntityType())
	}
	if id.IsGlobal() {
		if address != nil && *address != id {
			return core.NodeID{}, fmt.Errorf("%w: %s already has a global address", core.ErrCannotGlobalize, id)
		}
		return id, nil
	}
	if address == nil {
		return k.ids.Allocate(target)
	}
	if address.EntityType() != target {
		return core.NodeID{}, fmt.Errorf("%w: address %s is not a %s", core.ErrCannotGlobalize, *address, target)
	}
	if !k.ids.IsAllocated(*address) {
		return core.NodeID{}, fmt.Errorf("%w: address %s was not preallocated", core.ErrCannotGlobalize, *address)
	}
	return *address, nil
}

func (k *Kernel) checkModule(f *CallFrame, m core.ModuleID, node core.NodeID) error {
	if m.Partition() == core.MainPartition {
		return fmt.Errorf("%w: unknown module %s", core.ErrInvalidModule, m)
	}
	if err := k.checkMovable(node, f); err != nil {
		return err
	}
	if !k.heap.Contains(node) {
		return fmt.Errorf("%w: %s module %s is not on the heap", core.ErrInvalidModule, m, node)
	}
	bp, err := k.blueprintOf(node)
	if err != nil {
		return err
	}
	if bp.Blueprint != m.String() {
		return fmt.Errorf("%w: %s is a %s, expected %s", core.ErrInvalidModule, node, bp.Blueprint, m)
	}
	return nil
}

// checkMovable verifies f owns the node and nothing has it open
func (k *Kernel) checkMovable(id core.NodeID, f *CallFrame) error {
	if err := k.ledger.checkFrameOwns(id, f); err != nil {
		return err
	}
	if n := k.locks.NodeLockCount(id); n > 0 {
		return fmt.Errorf("%w: %s has %d", core.ErrNodeLocked, id, n)
	}
	return nil
}

// checkPersistable verifies that a heap subtree may move to the track:
// no pinned entity and no open lock anywhere in it.
func (k *Kernel) checkPersistable(id core.NodeID, includeRoot bool) error {
	for i, n := range k.ledger.subtree(id) {
		if !k.heap.Contains(n) {
			continue
		}
		if (i > 0 || includeRoot) && n.EntityType().IsTransient() {
			return fmt.Errorf("%w: %s (%s)", core.ErrCannotPersistPinnedNode, n, n.EntityType())
		}
		if i > 0 && k.locks.NodeLockCount(n) > 0 {
			return fmt.Errorf("%w: %s", core.ErrNodeLocked, n)
		}
	}
	return nil
}

// persist moves a heap subtree into the track. checkPersistable must have
// passed.
func (k *Kernel) persist(id core.NodeID) error {
	for _, n := range k.ledger.subtree(id) {
		if !k.heap.Contains(n) {
			continue
		}
		substates, err := k.heap.RemoveNode(n)
		if err != nil {
			return err
		}
		if err := k.insertIntoTrack(n, substates); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) insertIntoTrack(id core.NodeID, substates core.NodeSubstates) error {
	for p, partition := range substates {
		for key := range partition {
			if err := k.limiter.OnTrackWrite(core.SubstateRef{Node: id, Partition: p, Key: key}); err != nil {
				return k.fail(err)
			}
		}
	}
	k.track.InsertNode(id, substates)
	return nil
}

// checkRefs verifies that references stored in a value are global and
// visible to the writer.
func (k *Kernel) checkRefs(f *CallFrame, refs []core.NodeID) error {
	for _, ref := range refs {
		if !ref.IsGlobal() {
			return fmt.Errorf("%w: %s", core.ErrNonGlobalReference, ref)
		}
		if !f.CanSee(ref) {
			return fmt.Errorf("%w: %s", core.ErrNodeNotVisible, ref)
		}
	}
	return nil
}
