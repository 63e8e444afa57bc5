package kernel

import (
	"encoding/binary"
	"fmt"

	"github.com/govm-net/kernel/core"
	"golang.org/x/crypto/blake2b"
)

// IDAllocator derives node ids from the transaction hash and a counter, so
// that re-executing a transaction allocates the same ids.
type IDAllocator struct {
	seed      core.Hash
	next      uint64
	allocated map[core.NodeID]struct{}
}

// NewIDAllocator creates an allocator seeded by the transaction hash
func NewIDAllocator(seed core.Hash) *IDAllocator {
	return &IDAllocator{seed: seed, allocated: make(map[core.NodeID]struct{})}
}

// Allocate returns a fresh id of the given entity type
func (a *IDAllocator) Allocate(entity core.EntityType) (core.NodeID, error) {
	if entity == core.EntityUnknown {
		return core.NodeID{}, fmt.Errorf("%w: unknown entity type", core.ErrInvalidArgument)
	}
	var buf [32 + 8]byte
	copy(buf[:], a.seed[:])
	binary.BigEndian.PutUint64(buf[len(a.seed):], a.next)
	a.next++

	digest := blake2b.Sum256(buf[:])
	var id core.NodeID
	id[0] = byte(entity)
	copy(id[1:], digest[:core.NodeIDLength-1])
	a.allocated[id] = struct{}{}
	return id, nil
}

// IsAllocated reports whether id was allocated and not used yet
func (a *IDAllocator) IsAllocated(id core.NodeID) bool {
	_, ok := a.allocated[id]
	return ok
}

// Use marks an allocated id as taken
func (a *IDAllocator) Use(id core.NodeID) error {
	if _, ok := a.allocated[id]; !ok {
		return fmt.Errorf("%w: %s was not allocated by this transaction", core.ErrInvalidArgument, id)
	}
	delete(a.allocated, id)
	return nil
}

// Count returns the number of ids allocated so far
func (a *IDAllocator) Count() uint64 {
	return a.next
}
