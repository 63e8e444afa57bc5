package kernel

import (
	"fmt"

	"github.com/govm-net/kernel/core"
)

// lockState is the per-substate state machine:
// Unlocked -> Read(n) -> Unlocked, Unlocked -> Write -> Unlocked.
type lockState struct {
	readers int
	write   bool
}

type lockEntry struct {
	ref   core.SubstateRef
	flags core.LockFlags
}

// LockTable arbitrates substate access across the whole call stack. There
// is no lock promotion: a reader wanting to write must unlock first.
type LockTable struct {
	next      core.LockHandle
	states    map[core.SubstateRef]*lockState
	handles   map[core.LockHandle]lockEntry
	nodeLocks map[core.NodeID]int
}

// NewLockTable creates an empty lock table
func NewLockTable() *LockTable {
	return &LockTable{
		states:    make(map[core.SubstateRef]*lockState),
		handles:   make(map[core.LockHandle]lockEntry),
		nodeLocks: make(map[core.NodeID]int),
	}
}

// Lock acquires a lock on ref. It returns false if the flags conflict with
// a lock already held.
func (t *LockTable) Lock(ref core.SubstateRef, flags core.LockFlags) (core.LockHandle, bool) {
	state := t.states[ref]
	mutable := flags.Contains(core.LockMutable)
	if state != nil {
		if state.write || (mutable && state.readers > 0) {
			return 0, false
		}
	} else {
		state = &lockState{}
		t.states[ref] = state
	}
	if mutable {
		state.write = true
	} else {
		state.readers++
	}

	t.next++
	handle := t.next
	t.handles[handle] = lockEntry{ref: ref, flags: flags}
	t.nodeLocks[ref.Node]++
	return handle, true
}

// Unlock releases a handle and returns what it locked
func (t *LockTable) Unlock(handle core.LockHandle) (core.SubstateRef, core.LockFlags, error) {
	entry, ok := t.handles[handle]
	if !ok {
		return core.SubstateRef{}, 0, fmt.Errorf("%w: %d", core.ErrLockNotFound, handle)
	}
	delete(t.handles, handle)

	state := t.states[entry.ref]
	if entry.flags.Contains(core.LockMutable) {
		state.write = false
	} else {
		state.readers--
	}
	if !state.write && state.readers == 0 {
		delete(t.states, entry.ref)
	}

	if t.nodeLocks[entry.ref.Node]--; t.nodeLocks[entry.ref.Node] == 0 {
		delete(t.nodeLocks, entry.ref.Node)
	}
	return entry.ref, entry.flags, nil
}

// Get returns what a handle locks
func (t *LockTable) Get(handle core.LockHandle) (core.SubstateRef, core.LockFlags, bool) {
	entry, ok := t.handles[handle]
	return entry.ref, entry.flags, ok
}

// IsLocked reports whether ref has any open lock
func (t *LockTable) IsLocked(ref core.SubstateRef) bool {
	_, ok := t.states[ref]
	return ok
}

// NodeLockCount returns the number of open locks on substates of a node
func (t *LockTable) NodeLockCount(id core.NodeID) int {
	return t.nodeLocks[id]
}

// Len returns the number of open handles
func (t *LockTable) Len() int {
	return len(t.handles)
}
