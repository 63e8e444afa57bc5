package kernel

import (
	"fmt"

	"github.com/govm-net/kernel/core"
)

type ownerKind uint8

const (
	ownedByFrame ownerKind = iota + 1
	ownedByNode
)

type owner struct {
	kind  ownerKind
	frame *CallFrame
	node  core.NodeID
}

// ownershipLedger records the single owner of every non-global node the
// transaction has touched: either a call frame or a parent node. It is the
// only enforcement of move-only Own semantics.
type ownershipLedger struct {
	owners   map[core.NodeID]owner
	children map[core.NodeID]map[core.NodeID]struct{}
}

func newOwnershipLedger() *ownershipLedger {
	return &ownershipLedger{
		owners:   make(map[core.NodeID]owner),
		children: make(map[core.NodeID]map[core.NodeID]struct{}),
	}
}

func (l *ownershipLedger) ownerOf(id core.NodeID) (owner, bool) {
	o, ok := l.owners[id]
	return o, ok
}

func (l *ownershipLedger) detach(id core.NodeID) {
	o, ok := l.owners[id]
	if !ok {
		return
	}
	switch o.kind {
	case ownedByFrame:
		delete(o.frame.owned, id)
	case ownedByNode:
		if kids := l.children[o.node]; kids != nil {
			delete(kids, id)
			if len(kids) == 0 {
				delete(l.children, o.node)
			}
		}
	}
	delete(l.owners, id)
}

// giveToFrame makes f the owner of id
func (l *ownershipLedger) giveToFrame(id core.NodeID, f *CallFrame) {
	l.detach(id)
	l.owners[id] = owner{kind: ownedByFrame, frame: f}
	f.owned[id] = struct{}{}
}

// giveToNode makes parent the owner of id
func (l *ownershipLedger) giveToNode(id, parent core.NodeID) {
	l.detach(id)
	l.owners[id] = owner{kind: ownedByNode, node: parent}
	kids := l.children[parent]
	if kids == nil {
		kids = make(map[core.NodeID]struct{})
		l.children[parent] = kids
	}
	kids[id] = struct{}{}
}

// observe records a parent discovered in a persisted substate
func (l *ownershipLedger) observe(id, parent core.NodeID) {
	if _, known := l.owners[id]; !known {
		l.giveToNode(id, parent)
	}
}

// forget removes a node that no longer exists or became global
func (l *ownershipLedger) forget(id core.NodeID) {
	l.detach(id)
}

// checkFrameOwns verifies f owns id
func (l *ownershipLedger) checkFrameOwns(id core.NodeID, f *CallFrame) error {
	o, ok := l.owners[id]
	if !ok || o.kind != ownedByFrame || o.frame != f {
		return fmt.Errorf("%w: %s by %s", core.ErrNodeNotOwned, id, f.actor)
	}
	return nil
}

// checkNodeOwns verifies parent owns id
func (l *ownershipLedger) checkNodeOwns(id, parent core.NodeID) error {
	o, ok := l.owners[id]
	if !ok || o.kind != ownedByNode || o.node != parent {
		return fmt.Errorf("%w: %s is not a child of %s", core.ErrNodeNotOwned, id, parent)
	}
	return nil
}

// childrenOf returns the direct children of a node in a stable order
func (l *ownershipLedger) childrenOf(parent core.NodeID) []core.NodeID {
	return sortedIDs(l.children[parent])
}

// rename moves the children of from to to; used when a node is globalized
// at a new address.
func (l *ownershipLedger) rename(from, to core.NodeID) {
	for _, child := range l.childrenOf(from) {
		l.giveToNode(child, to)
	}
}

// subtree returns id and all its descendants, parents before children
func (l *ownershipLedger) subtree(id core.NodeID) []core.NodeID {
	out := []core.NodeID{id}
	for i := 0; i < len(out); i++ {
		out = append(out, l.childrenOf(out[i])...)
	}
	return out
}
