package kernel

import (
	"sort"

	"github.com/govm-net/kernel/core"
)

// CallFrame is the activation record of one invocation. It holds index sets
// into the heap and track, never the nodes themselves.
type CallFrame struct {
	depth int
	actor core.Actor

	owned map[core.NodeID]struct{}
	refs  map[core.NodeID]struct{}
	// nodes exposed by substates this frame currently has open
	borrowed map[core.NodeID]int
	locks    map[core.LockHandle]struct{}
}

func newCallFrame(depth int, actor core.Actor) *CallFrame {
	f := &CallFrame{
		depth:    depth,
		actor:    actor,
		owned:    make(map[core.NodeID]struct{}),
		refs:     make(map[core.NodeID]struct{}),
		borrowed: make(map[core.NodeID]int),
		locks:    make(map[core.LockHandle]struct{}),
	}
	if actor.Receiver != nil {
		f.refs[*actor.Receiver] = struct{}{}
	}
	return f
}

// Depth returns the frame depth; the root frame is 0
func (f *CallFrame) Depth() int {
	return f.depth
}

// Actor returns the code running in the frame
func (f *CallFrame) Actor() core.Actor {
	return f.actor
}

// Owns reports whether the frame owns the node
func (f *CallFrame) Owns(id core.NodeID) bool {
	_, ok := f.owned[id]
	return ok
}

// OwnedNodes returns the owned set in a stable order
func (f *CallFrame) OwnedNodes() []core.NodeID {
	return sortedIDs(f.owned)
}

// CanSee reports whether the frame may address the node. Packages are
// visible to everyone.
func (f *CallFrame) CanSee(id core.NodeID) bool {
	if id.EntityType() == core.EntityGlobalPackage {
		return true
	}
	if _, ok := f.owned[id]; ok {
		return true
	}
	if _, ok := f.refs[id]; ok {
		return true
	}
	return f.borrowed[id] > 0
}

func (f *CallFrame) addRef(id core.NodeID) {
	f.refs[id] = struct{}{}
}

func (f *CallFrame) borrow(ids []core.NodeID) {
	for _, id := range ids {
		f.borrowed[id]++
	}
}

func (f *CallFrame) unborrow(ids []core.NodeID) {
	for _, id := range ids {
		if f.borrowed[id]--; f.borrowed[id] <= 0 {
			delete(f.borrowed, id)
		}
	}
}

func sortedIDs(set map[core.NodeID]struct{}) []core.NodeID {
	ids := make([]core.NodeID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)
	return ids
}

func sortNodeIDs(ids []core.NodeID) {
	sort.Slice(ids, func(i, j int) bool {
		return string(ids[i][:]) < string(ids[j][:])
	})
}
