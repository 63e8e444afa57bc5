package vm

import (
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/costing"
	"github.com/govm-net/kernel/kernel"
	"github.com/govm-net/kernel/security"
	"github.com/govm-net/kernel/store"
)

// Outcome is how a transaction ended
type Outcome int

const (
	// OutcomeCommitSuccess: every state update was committed
	OutcomeCommitSuccess Outcome = iota
	// OutcomeCommitFailure: execution failed after the fee loan was repaid;
	// only force-written substates and fee refunds were committed
	OutcomeCommitFailure
	// OutcomeReject: the transaction could not pay for itself; nothing was committed
	OutcomeReject
	// OutcomeAbort: execution stopped on request (abort when loan repaid);
	// nothing was committed
	OutcomeAbort
)

var outcomeNames = [...]string{"commit_success", "commit_failure", "reject", "abort"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// IsCommitted reports whether the outcome wrote to the store
func (o Outcome) IsCommitted() bool {
	return o == OutcomeCommitSuccess || o == OutcomeCommitFailure
}

// Receipt is the result of executing a transaction
type Receipt struct {
	TxHash  core.Hash
	Outcome Outcome
	// Error is the failure that decided the outcome, nil on success
	Error     error
	ErrorKind core.ErrorKind
	// Outputs are the raw outputs of the executed instructions
	Outputs [][]byte

	Fee        *costing.FeeSummary
	Settlement *costing.FeeSettlement
	// StateUpdates is what was committed; nil for rejected or aborted transactions
	StateUpdates *store.StateUpdates
	Logs         []kernel.LogEntry
	Trace        []*security.CallTrace

	SubstatesRead    int
	SubstatesWritten int
	// Version is the store version after the commit
	Version uint64
}

// Succeeded reports whether the transaction committed successfully
func (r *Receipt) Succeeded() bool {
	return r.Outcome == OutcomeCommitSuccess
}
