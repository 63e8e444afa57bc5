package kernel

import (
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/types"
)

func (k *Kernel) checkAccess(f *CallFrame, node core.NodeID, partition core.PartitionNumber, write bool) error {
	if !f.CanSee(node) {
		return fmt.Errorf("%w: %s", core.ErrNodeNotVisible, node)
	}
	if write && partition == core.TypeInfoPartition {
		return fmt.Errorf("%w: type info of %s is read-only", core.ErrInvalidArgument, node)
	}
	return nil
}

// readCurrent returns the current value of a substate wherever the node lives
func (k *Kernel) readCurrent(ref core.SubstateRef) ([]byte, bool, bool, error) {
	if k.heap.Contains(ref.Node) {
		v, ok := k.heap.GetSubstate(ref.Node, ref.Partition, ref.Key)
		return v, ok, true, nil
	}
	v, ok, err := k.track.Read(ref)
	return v, ok, false, err
}

// LockSubstate implements core.KernelAPI. Own and Reference tokens in the
// value become visible to the frame while the lock is held.
func (k *Kernel) LockSubstate(node core.NodeID, partition core.PartitionNumber, key core.SubstateKey, flags core.LockFlags) (core.LockHandle, error) {
	if err := k.check(); err != nil {
		return 0, err
	}
	f := k.current()
	ref := core.SubstateRef{Node: node, Partition: partition, Key: key}
	if err := k.checkAccess(f, node, partition, flags.Contains(core.LockMutable)); err != nil {
		return 0, err
	}
	onHeap := k.heap.Contains(node)
	if flags.Contains(core.LockForceWrite) {
		if !k.cfg.AllowsForceWrite(node.EntityType()) {
			return 0, fmt.Errorf("%w: %s", core.ErrForceWriteNotAllowed, node.EntityType())
		}
		if onHeap {
			return 0, fmt.Errorf("%w: %s", core.ErrHeapSubstateForceWrite, ref)
		}
	}

	value, found, _, err := k.readCurrent(ref)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %s", core.ErrSubstateNotFound, ref)
	}
	if flags.Contains(core.LockUnmodifiedBase) {
		if onHeap {
			return 0, fmt.Errorf("%w: %s", core.ErrUnmodifiedBaseOnNew, ref)
		}
		if err := k.track.CheckUnmodifiedBase(ref); err != nil {
			return 0, err
		}
	}
	if err := k.consume(k.fees.OpenSubstateCost(len(value)), core.CostLockSubstate); err != nil {
		return 0, err
	}
	tokens, err := scanTokens(value)
	if err != nil {
		return 0, err
	}

	handle, ok := k.locks.Lock(ref, flags)
	if !ok {
		return 0, fmt.Errorf("%w: %s (%s)", core.ErrSubstateLocked, ref, flags)
	}
	for _, child := range tokens.Owns {
		k.ledger.observe(child, node)
	}
	exposed := append(append([]core.NodeID(nil), tokens.Owns...), tokens.Refs...)
	f.borrow(exposed)
	f.locks[handle] = struct{}{}
	k.open[handle] = &openSubstate{ref: ref, flags: flags, frame: f, onHeap: onHeap, exposed: exposed}
	return handle, nil
}

func (k *Kernel) handle(handle core.LockHandle) (*openSubstate, error) {
	lock, ok := k.open[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", core.ErrLockNotFound, handle)
	}
	if lock.frame != k.current() {
		return nil, fmt.Errorf("%w: %d", core.ErrLockNotOwnedByFrame, handle)
	}
	return lock, nil
}

// ReadSubstate implements core.KernelAPI
func (k *Kernel) ReadSubstate(handle core.LockHandle) ([]byte, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	lock, err := k.handle(handle)
	if err != nil {
		return nil, err
	}
	value, _, _, err := k.readCurrent(lock.ref)
	if err != nil {
		return nil, err
	}
	if err := k.consume(k.fees.ReadSubstateCost(lock.onHeap, len(value)), core.CostReadSubstate); err != nil {
		return nil, err
	}
	return append([]byte(nil), value...), nil
}

// WriteSubstate implements core.KernelAPI. Own tokens added by the new value
// move from the frame into the node, removed ones move back to the frame.
func (k *Kernel) WriteSubstate(handle core.LockHandle, value []byte) error {
	if err := k.check(); err != nil {
		return err
	}
	lock, err := k.handle(handle)
	if err != nil {
		return err
	}
	if !lock.flags.Contains(core.LockMutable) {
		return fmt.Errorf("%w: %s", core.ErrLockNotMutable, lock.ref)
	}
	if err := k.limiter.CheckSubstateSize(lock.ref, len(value)); err != nil {
		return k.fail(err)
	}
	if err := k.consume(k.fees.WriteSubstateCost(len(value)), core.CostWriteSubstate); err != nil {
		return err
	}
	old, _, _, err := k.readCurrent(lock.ref)
	if err != nil {
		return err
	}
	tokens, err := k.storeValue(lock.frame, lock.ref, old, value)
	if err != nil {
		return err
	}

	lock.frame.unborrow(lock.exposed)
	lock.exposed = append(append([]core.NodeID(nil), tokens.Owns...), tokens.Refs...)
	lock.frame.borrow(lock.exposed)
	return nil
}

// CloseSubstate implements core.KernelAPI. Closing a FORCE_WRITE lock
// snapshots the value so it survives a failed transaction.
func (k *Kernel) CloseSubstate(handle core.LockHandle) error {
	if err := k.check(); err != nil {
		return err
	}
	lock, err := k.handle(handle)
	if err != nil {
		return err
	}
	if err := k.consume(k.fees.CloseSubstateCost(), core.CostDropLock); err != nil {
		return err
	}
	if _, _, err := k.locks.Unlock(handle); err != nil {
		return err
	}
	delete(k.open, handle)
	delete(lock.frame.locks, handle)
	lock.frame.unborrow(lock.exposed)

	if lock.flags.Contains(core.LockForceWrite) && !lock.onHeap {
		return k.track.MarkForceWrite(lock.ref)
	}
	return nil
}

// SetSubstate implements core.KernelAPI for collection entries
func (k *Kernel) SetSubstate(node core.NodeID, partition core.PartitionNumber, key core.SubstateKey, value []byte) error {
	if err := k.check(); err != nil {
		return err
	}
	f := k.current()
	ref := core.SubstateRef{Node: node, Partition: partition, Key: key}
	if err := k.checkCollectionAccess(f, ref); err != nil {
		return err
	}
	if err := k.limiter.CheckSubstateSize(ref, len(value)); err != nil {
		return k.fail(err)
	}
	if err := k.consume(k.fees.SetSubstateCost(len(value)), core.CostWriteSubstate); err != nil {
		return err
	}
	old, _, _, err := k.readCurrent(ref)
	if err != nil {
		return err
	}
	_, err = k.storeValue(f, ref, old, value)
	return err
}

// RemoveSubstate implements core.KernelAPI for collection entries. Own
// tokens of the removed value move to the frame.
func (k *Kernel) RemoveSubstate(node core.NodeID, partition core.PartitionNumber, key core.SubstateKey) ([]byte, bool, error) {
	if err := k.check(); err != nil {
		return nil, false, err
	}
	f := k.current()
	ref := core.SubstateRef{Node: node, Partition: partition, Key: key}
	if err := k.checkCollectionAccess(f, ref); err != nil {
		return nil, false, err
	}
	if err := k.consume(k.fees.RemoveSubstateCost(), core.CostWriteSubstate); err != nil {
		return nil, false, err
	}
	old, found, onHeap, err := k.readCurrent(ref)
	if err != nil || !found {
		return nil, false, err
	}
	tokens, err := scanTokens(old)
	if err != nil {
		return nil, false, err
	}
	for _, child := range tokens.Owns {
		k.ledger.observe(child, node)
		if err := k.ledger.checkNodeOwns(child, node); err != nil {
			return nil, false, err
		}
	}

	if onHeap {
		k.heap.RemoveSubstate(node, partition, key)
	} else {
		if err := k.limiter.OnTrackWrite(ref); err != nil {
			return nil, false, k.fail(err)
		}
		if _, _, err := k.track.Delete(ref); err != nil {
			return nil, false, err
		}
	}
	for _, child := range tokens.Owns {
		k.ledger.giveToFrame(child, f)
	}
	return append([]byte(nil), old...), true, nil
}

// ScanSubstates implements core.KernelAPI
func (k *Kernel) ScanSubstates(node core.NodeID, partition core.PartitionNumber, limit int) ([]core.SubstateEntry, error) {
	if err := k.check(); err != nil {
		return nil, err
	}
	if err := k.checkAccess(k.current(), node, partition, false); err != nil {
		return nil, err
	}
	var entries []core.SubstateEntry
	if k.heap.Contains(node) {
		entries = k.heap.ScanSubstates(node, partition, limit)
	} else {
		var err error
		if entries, err = k.track.Scan(node, partition, limit); err != nil {
			return nil, err
		}
	}
	if err := k.consume(k.fees.ScanSubstatesCost(len(entries)), core.CostReadSubstate); err != nil {
		return nil, err
	}
	return entries, nil
}

func (k *Kernel) checkCollectionAccess(f *CallFrame, ref core.SubstateRef) error {
	if ref.Key.Kind == core.KeyField {
		return fmt.Errorf("%w: field %s needs a lock", core.ErrKeyNotAllowedForPartition, ref)
	}
	if err := k.checkAccess(f, ref.Node, ref.Partition, true); err != nil {
		return err
	}
	if k.locks.IsLocked(ref) {
		return fmt.Errorf("%w: %s", core.ErrSubstateLocked, ref)
	}
	return nil
}

// storeValue replaces the value of ref and reconciles ownership between the
// frame and the node. Everything is validated before anything changes.
func (k *Kernel) storeValue(f *CallFrame, ref core.SubstateRef, old, value []byte) (types.Tokens, error) {
	oldTokens, err := scanTokens(old)
	if err != nil {
		return types.Tokens{}, err
	}
	tokens, err := scanTokens(value)
	if err != nil {
		return types.Tokens{}, err
	}
	if err := k.checkRefs(f, tokens.Refs); err != nil {
		return types.Tokens{}, err
	}

	kept := make(map[core.NodeID]struct{}, len(oldTokens.Owns))
	for _, id := range oldTokens.Owns {
		kept[id] = struct{}{}
	}
	var added, removed []core.NodeID
	for _, id := range tokens.Owns {
		if _, ok := kept[id]; ok {
			delete(kept, id)
			continue
		}
		added = append(added, id)
	}
	for _, id := range oldTokens.Owns {
		if _, ok := kept[id]; ok {
			removed = append(removed, id)
		}
	}

	onHeap := k.heap.Contains(ref.Node)
	for _, id := range added {
		if err := k.checkMovable(id, f); err != nil {
			return types.Tokens{}, err
		}
		for _, n := range k.ledger.subtree(id) {
			if n == ref.Node {
				return types.Tokens{}, fmt.Errorf("%w: %s cannot own itself", core.ErrInvalidArgument, ref.Node)
			}
		}
		if !onHeap {
			if err := k.checkPersistable(id, true); err != nil {
				return types.Tokens{}, err
			}
		}
	}
	for _, id := range removed {
		k.ledger.observe(id, ref.Node)
		if err := k.ledger.checkNodeOwns(id, ref.Node); err != nil {
			return types.Tokens{}, err
		}
	}

	if onHeap {
		if err := k.heap.SetSubstate(ref.Node, ref.Partition, ref.Key, value); err != nil {
			return types.Tokens{}, err
		}
	} else {
		if err := k.limiter.OnTrackWrite(ref); err != nil {
			return types.Tokens{}, k.fail(err)
		}
		if err := k.track.Write(ref, value); err != nil {
			return types.Tokens{}, err
		}
	}
	for _, id := range added {
		k.ledger.giveToNode(id, ref.Node)
		if !onHeap {
			if err := k.persist(id); err != nil {
				return types.Tokens{}, err
			}
		}
	}
	for _, id := range removed {
		k.ledger.giveToFrame(id, f)
	}
	return tokens, nil
}
