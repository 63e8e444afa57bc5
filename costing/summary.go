package costing

import (
	"sort"

	"github.com/govm-net/kernel/core"
	"github.com/holiman/uint256"
)

// FeeSummary is the fee outcome of a transaction.
type FeeSummary struct {
	CostUnitLimit          uint32
	CostUnitPrice          *uint256.Int
	TipPercentage          uint16
	TotalCostUnitsConsumed uint32
	TotalExecutionCost     *uint256.Int
	BadDebt                *uint256.Int
	VaultLocks             []VaultLock
	ExecutionBreakdown     map[core.CostingReason]uint32
}

// LoanFullyRepaid reports whether nothing is owed to the system
func (s *FeeSummary) LoanFullyRepaid() bool {
	return s.BadDebt.IsZero()
}

// TotalLocked sums the locked fees; contingent locks only count on success.
func (s *FeeSummary) TotalLocked(success bool) *uint256.Int {
	total := new(uint256.Int)
	for _, lock := range s.VaultLocks {
		if lock.Contingent && !success {
			continue
		}
		total.Add(total, lock.Amount)
	}
	return total
}

// FeeSettlement is how locked fees are split between the collected fee and
// the refunds owed back to each vault.
type FeeSettlement struct {
	Collected *uint256.Int
	Charges   map[core.NodeID]*uint256.Int
	Refunds   map[core.NodeID]*uint256.Int
}

// Settle charges the execution cost to the locked vaults, most recent lock
// first. Contingent locks pay only when the transaction succeeded; whatever
// was locked and not charged is refunded.
func (s *FeeSummary) Settle(success bool) *FeeSettlement {
	out := &FeeSettlement{
		Collected: new(uint256.Int),
		Charges:   make(map[core.NodeID]*uint256.Int),
		Refunds:   make(map[core.NodeID]*uint256.Int),
	}
	required := new(uint256.Int).Set(s.TotalExecutionCost)
	if required.Gt(s.TotalLocked(success)) {
		// nobody pays the bad debt
		required = s.TotalLocked(success)
	}

	for i := len(s.VaultLocks) - 1; i >= 0; i-- {
		lock := s.VaultLocks[i]
		charge := new(uint256.Int)
		if !lock.Contingent || success {
			if lock.Amount.Lt(required) {
				charge.Set(lock.Amount)
			} else {
				charge.Set(required)
			}
		}
		required.Sub(required, charge)
		refund := new(uint256.Int).Sub(lock.Amount, charge)

		addTo(out.Charges, lock.Vault, charge)
		addTo(out.Refunds, lock.Vault, refund)
		out.Collected.Add(out.Collected, charge)
	}
	return out
}

// RefundVaults returns the vaults with a non-zero refund in a stable order
func (f *FeeSettlement) RefundVaults() []core.NodeID {
	vaults := make([]core.NodeID, 0, len(f.Refunds))
	for id, amount := range f.Refunds {
		if !amount.IsZero() {
			vaults = append(vaults, id)
		}
	}
	sort.Slice(vaults, func(i, j int) bool {
		return vaults[i].String() < vaults[j].String()
	})
	return vaults
}

func addTo(m map[core.NodeID]*uint256.Int, id core.NodeID, amount *uint256.Int) {
	if cur, ok := m[id]; ok {
		cur.Add(cur, amount)
		return
	}
	m[id] = new(uint256.Int).Set(amount)
}
