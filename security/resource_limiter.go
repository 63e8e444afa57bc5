// Package security bounds what a transaction can touch and records the
// invocation tree for diagnostics.
package security

import (
	"fmt"

	"github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/core"
)

// ResourceLimiter enforces the per-transaction limits of LimitsConfig
type ResourceLimiter struct {
	limits  api.LimitsConfig
	read    map[core.SubstateRef]struct{}
	written map[core.SubstateRef]struct{}
}

// NewResourceLimiter creates a limiter for one transaction
func NewResourceLimiter(limits api.LimitsConfig) *ResourceLimiter {
	return &ResourceLimiter{
		limits:  limits,
		read:    make(map[core.SubstateRef]struct{}),
		written: make(map[core.SubstateRef]struct{}),
	}
}

// CheckSubstateSize rejects values above the substate size limit
func (r *ResourceLimiter) CheckSubstateSize(ref core.SubstateRef, size int) error {
	if size > r.limits.MaxSubstateSize {
		return fmt.Errorf("%w: %s is %d bytes, max %d", core.ErrMaxSubstateSize, ref, size, r.limits.MaxSubstateSize)
	}
	return nil
}

// CheckPayloadSize rejects invocation payloads above the limit
func (r *ResourceLimiter) CheckPayloadSize(size int) error {
	if size > r.limits.MaxInvokePayloadSize {
		return fmt.Errorf("%w: %d bytes, max %d", core.ErrPayloadTooLarge, size, r.limits.MaxInvokePayloadSize)
	}
	return nil
}

// OnStoreRead counts a distinct substate read from the store
func (r *ResourceLimiter) OnStoreRead(ref core.SubstateRef) error {
	r.read[ref] = struct{}{}
	if len(r.read) > r.limits.MaxSubstatesRead {
		return fmt.Errorf("%w: more than %d substates read", core.ErrTooManySubstates, r.limits.MaxSubstatesRead)
	}
	return nil
}

// OnTrackWrite counts a distinct substate written to the track
func (r *ResourceLimiter) OnTrackWrite(ref core.SubstateRef) error {
	r.written[ref] = struct{}{}
	if len(r.written) > r.limits.MaxSubstatesWritten {
		return fmt.Errorf("%w: more than %d substates written", core.ErrTooManySubstates, r.limits.MaxSubstatesWritten)
	}
	return nil
}

// Usage returns the number of distinct substates read and written
func (r *ResourceLimiter) Usage() (read, written int) {
	return len(r.read), len(r.written)
}

// CallTracer records the invocation tree of a transaction
type CallTracer struct {
	roots     []*CallTrace
	callStack []*CallTrace
}

// CallTrace is one invocation in the tree
type CallTrace struct {
	Actor      string
	Depth      int
	InputSize  int
	OutputSize int
	CostUnits  uint32
	Error      string
	Children   []*CallTrace
}

// NewCallTracer creates a call tracer
func NewCallTracer() *CallTracer {
	return &CallTracer{
		callStack: make([]*CallTrace, 0),
	}
}

// BeginCall records the start of an invocation
func (t *CallTracer) BeginCall(actor core.Actor, depth, inputSize int, costUnits uint32) {
	frame := &CallTrace{
		Actor:     actor.String(),
		Depth:     depth,
		InputSize: inputSize,
		CostUnits: costUnits,
	}
	if n := len(t.callStack); n > 0 {
		parent := t.callStack[n-1]
		parent.Children = append(parent.Children, frame)
	} else {
		t.roots = append(t.roots, frame)
	}
	t.callStack = append(t.callStack, frame)
}

// EndCall records the end of the innermost invocation. costUnits is the
// reserve's consumed total at the end; the trace keeps the difference.
func (t *CallTracer) EndCall(outputSize int, costUnits uint32, err error) {
	n := len(t.callStack)
	if n == 0 {
		return
	}
	frame := t.callStack[n-1]
	frame.OutputSize = outputSize
	frame.CostUnits = costUnits - frame.CostUnits
	if err != nil {
		frame.Error = err.Error()
	}
	t.callStack = t.callStack[:n-1]
}

// Roots returns the top level invocations
func (t *CallTracer) Roots() []*CallTrace {
	return t.roots
}
