package kernel

import (
	"fmt"
	"sort"

	"github.com/govm-net/kernel/core"
)

// Heap holds the nodes created by the running transaction. A node leaves the
// heap when it is dropped, globalized or attached to a persisted node.
type Heap struct {
	nodes map[core.NodeID]core.NodeSubstates
}

// NewHeap creates an empty heap
func NewHeap() *Heap {
	return &Heap{nodes: make(map[core.NodeID]core.NodeSubstates)}
}

func copySubstates(in core.NodeSubstates) core.NodeSubstates {
	out := make(core.NodeSubstates, len(in))
	for p, partition := range in {
		m := make(map[core.SubstateKey][]byte, len(partition))
		for k, v := range partition {
			m[k] = append([]byte(nil), v...)
		}
		out[p] = m
	}
	return out
}

// Contains reports whether the node lives in the heap
func (h *Heap) Contains(id core.NodeID) bool {
	_, ok := h.nodes[id]
	return ok
}

// Len returns the number of heap nodes
func (h *Heap) Len() int {
	return len(h.nodes)
}

// CreateNode inserts a node with a copy of its substates
func (h *Heap) CreateNode(id core.NodeID, substates core.NodeSubstates) error {
	if _, exists := h.nodes[id]; exists {
		return fmt.Errorf("%w: %s", core.ErrNodeAlreadyExists, id)
	}
	h.nodes[id] = copySubstates(substates)
	return nil
}

// GetSubstate returns the value of a heap substate
func (h *Heap) GetSubstate(id core.NodeID, partition core.PartitionNumber, key core.SubstateKey) ([]byte, bool) {
	node, ok := h.nodes[id]
	if !ok {
		return nil, false
	}
	v, ok := node[partition][key]
	return v, ok
}

// SetSubstate writes a heap substate, creating the partition if needed
func (h *Heap) SetSubstate(id core.NodeID, partition core.PartitionNumber, key core.SubstateKey, value []byte) error {
	node, ok := h.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNodeNotFound, id)
	}
	if node[partition] == nil {
		node[partition] = make(map[core.SubstateKey][]byte)
	}
	node[partition][key] = append([]byte(nil), value...)
	return nil
}

// RemoveSubstate deletes a heap substate and returns its old value
func (h *Heap) RemoveSubstate(id core.NodeID, partition core.PartitionNumber, key core.SubstateKey) ([]byte, bool) {
	node, ok := h.nodes[id]
	if !ok {
		return nil, false
	}
	v, ok := node[partition][key]
	if ok {
		delete(node[partition], key)
	}
	return v, ok
}

// ScanSubstates returns up to limit entries of a partition in key order.
// A non-positive limit returns everything.
func (h *Heap) ScanSubstates(id core.NodeID, partition core.PartitionNumber, limit int) []core.SubstateEntry {
	node, ok := h.nodes[id]
	if !ok {
		return nil
	}
	return sortedEntries(node[partition], limit)
}

func sortedEntries(partition map[core.SubstateKey][]byte, limit int) []core.SubstateEntry {
	entries := make([]core.SubstateEntry, 0, len(partition))
	for k, v := range partition {
		entries = append(entries, core.SubstateEntry{Key: k, Value: append([]byte(nil), v...)})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.Compare(entries[j].Key) < 0
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// RemoveNode takes a node out of the heap. The kernel checks ownership and
// open locks before calling it.
func (h *Heap) RemoveNode(id core.NodeID) (core.NodeSubstates, error) {
	node, ok := h.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNodeNotFound, id)
	}
	delete(h.nodes, id)
	return node, nil
}

// Node returns the substates of a heap node without removing it
func (h *Heap) Node(id core.NodeID) (core.NodeSubstates, bool) {
	node, ok := h.nodes[id]
	return node, ok
}
