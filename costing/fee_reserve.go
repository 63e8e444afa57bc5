// Package costing meters kernel work in cost units and funds it from a
// system loan that has to be repaid by fees locked from vaults.
package costing

import (
	"errors"
	"fmt"
	"math"

	"github.com/govm-net/kernel/api"
	"github.com/govm-net/kernel/core"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance  = errors.New("insufficient fee balance")
	ErrOverflow             = errors.New("cost unit overflow")
	ErrLimitExceeded        = errors.New("cost unit limit exceeded")
	ErrLoanRepaymentFailed  = errors.New("system loan repayment failed")
	ErrAbortWhenLoanRepaid  = errors.New("abort triggered on fee loan repayment")
	ErrDeferredAfterExecute = errors.New("deferred costs must be consumed before execution")
)

// VaultLock records a lock_fee payment.
type VaultLock struct {
	Vault      core.NodeID
	Amount     *uint256.Int
	Contingent bool
}

// SystemLoanFeeReserve consumes cost units from the system loan first and
// from the locked XRD balance once the loan is spent. The first time the
// loan runs out the whole loan (plus deferred costs) must be repaid.
type SystemLoanFeeReserve struct {
	costUnitPrice *uint256.Int
	tipPercentage uint16

	payments []VaultLock

	// remaining system loan, in cost units
	remainingLoanBalance uint32
	// locked XRD not yet spent, in attos
	remainingXRDBalance *uint256.Int
	// XRD owed to the system
	xrdOwed *uint256.Int

	totalCostUnitsConsumed uint32
	costUnitLimit          uint32

	executionDeferred      [core.CostingReasonCount]uint32
	executionDeferredTotal uint32
	execution              [core.CostingReasonCount]uint32

	effectiveExecutionPrice *uint256.Int
	abortWhenLoanRepaid     bool
	started                 bool
}

// NewSystemLoanFeeReserve creates a fee reserve from the fee configuration
func NewSystemLoanFeeReserve(cfg api.FeeConfig) *SystemLoanFeeReserve {
	price := new(uint256.Int)
	if cfg.CostUnitPrice != nil {
		price.Set(cfg.CostUnitPrice)
	}
	// price + price * tip / 100
	tip := new(uint256.Int).Mul(price, uint256.NewInt(uint64(cfg.TipPercentage)))
	tip.Div(tip, uint256.NewInt(100))
	effective := new(uint256.Int).Add(price, tip)

	return &SystemLoanFeeReserve{
		costUnitPrice:           price,
		tipPercentage:           cfg.TipPercentage,
		remainingLoanBalance:    cfg.SystemLoan,
		remainingXRDBalance:     new(uint256.Int),
		xrdOwed:                 new(uint256.Int),
		costUnitLimit:           cfg.CostUnitLimit,
		effectiveExecutionPrice: effective,
		abortWhenLoanRepaid:     cfg.AbortWhenLoanRepaid,
	}
}

func checkedAdd(a, b uint32) (uint32, error) {
	if a > math.MaxUint32-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func checkedMul(amount uint32, multiplier int) (uint32, error) {
	if multiplier < 0 || uint64(multiplier) > math.MaxUint32 {
		return 0, ErrOverflow
	}
	product := uint64(amount) * uint64(multiplier)
	if product > math.MaxUint32 {
		return 0, ErrOverflow
	}
	return uint32(product), nil
}

func xrdFor(price *uint256.Int, units uint32) *uint256.Int {
	return new(uint256.Int).Mul(price, uint256.NewInt(uint64(units)))
}

func (f *SystemLoanFeeReserve) consume(units uint32) error {
	total, err := checkedAdd(f.totalCostUnitsConsumed, units)
	if err != nil {
		return err
	}
	if total > f.costUnitLimit {
		return ErrLimitExceeded
	}

	price := f.effectiveExecutionPrice
	switch {
	case f.remainingLoanBalance >= units:
		f.xrdOwed.Add(f.xrdOwed, xrdFor(price, units))
		f.remainingLoanBalance -= units
	case f.remainingLoanBalance == 0:
		fromBalance := xrdFor(price, units)
		if f.remainingXRDBalance.Lt(fromBalance) {
			return ErrInsufficientBalance
		}
		f.remainingXRDBalance.Sub(f.remainingXRDBalance, fromBalance)
	default:
		fromBalance := xrdFor(price, units-f.remainingLoanBalance)
		if f.remainingXRDBalance.Lt(fromBalance) {
			return ErrInsufficientBalance
		}
		f.xrdOwed.Add(f.xrdOwed, xrdFor(price, f.remainingLoanBalance))
		f.remainingLoanBalance = 0
		f.remainingXRDBalance.Sub(f.remainingXRDBalance, fromBalance)
	}
	f.totalCostUnitsConsumed = total
	return nil
}

// ConsumeDeferred records costs that are only charged when the loan is
// repaid. Only allowed before execution starts.
func (f *SystemLoanFeeReserve) ConsumeDeferred(units uint32, multiplier int, reason core.CostingReason) error {
	if f.started {
		return ErrDeferredAfterExecute
	}
	if units == 0 {
		return nil
	}
	consumed, err := checkedMul(units, multiplier)
	if err != nil {
		return err
	}
	if f.executionDeferred[reason], err = checkedAdd(f.executionDeferred[reason], consumed); err != nil {
		return err
	}
	f.executionDeferredTotal, err = checkedAdd(f.executionDeferredTotal, consumed)
	return err
}

// ConsumeExecution charges units against the loan or the locked balance.
func (f *SystemLoanFeeReserve) ConsumeExecution(units uint32, reason core.CostingReason) error {
	f.started = true
	if units == 0 {
		return nil
	}
	if err := f.consume(units); err != nil {
		return err
	}
	var err error
	if f.execution[reason], err = checkedAdd(f.execution[reason], units); err != nil {
		return err
	}
	if f.remainingLoanBalance == 0 && !f.FullyRepaid() {
		return f.RepayAll()
	}
	return nil
}

// ConsumeMultipliedExecution charges units * multiplier
func (f *SystemLoanFeeReserve) ConsumeMultipliedExecution(unitsPerMultiple uint32, multiplier int, reason core.CostingReason) error {
	if multiplier == 0 {
		return nil
	}
	units, err := checkedMul(unitsPerMultiple, multiplier)
	if err != nil {
		return err
	}
	return f.ConsumeExecution(units, reason)
}

// LockFee credits the reserve with XRD taken from a vault. Contingent
// payments only count if the transaction succeeds and never repay the loan.
func (f *SystemLoanFeeReserve) LockFee(vault core.NodeID, amount *uint256.Int, contingent bool) error {
	if amount == nil {
		return fmt.Errorf("%w: nil fee amount", core.ErrInvalidArgument)
	}
	if !contingent {
		sum, overflow := new(uint256.Int).AddOverflow(f.remainingXRDBalance, amount)
		if overflow {
			return ErrOverflow
		}
		f.remainingXRDBalance = sum
	}
	f.payments = append(f.payments, VaultLock{Vault: vault, Amount: new(uint256.Int).Set(amount), Contingent: contingent})
	return nil
}

// RepayAll applies deferred costs and repays the loan in full.
func (f *SystemLoanFeeReserve) RepayAll() error {
	var sum uint32
	var err error
	for _, v := range f.executionDeferred {
		if sum, err = checkedAdd(sum, v); err != nil {
			return err
		}
	}
	if err := f.consume(sum); err != nil {
		return err
	}
	for i := range f.executionDeferred {
		f.execution[i] += f.executionDeferred[i]
		f.executionDeferred[i] = 0
	}
	f.executionDeferredTotal = 0

	if f.remainingXRDBalance.Lt(f.xrdOwed) {
		return ErrLoanRepaymentFailed
	}
	f.remainingXRDBalance.Sub(f.remainingXRDBalance, f.xrdOwed)
	f.xrdOwed.Clear()

	if f.abortWhenLoanRepaid {
		return ErrAbortWhenLoanRepaid
	}
	return nil
}

// FullyRepaid reports whether the loan and the deferred costs are settled
func (f *SystemLoanFeeReserve) FullyRepaid() bool {
	return f.xrdOwed.IsZero() && f.executionDeferredTotal == 0
}

// TotalCostUnitsConsumed returns the units consumed so far
func (f *SystemLoanFeeReserve) TotalCostUnitsConsumed() uint32 {
	return f.totalCostUnitsConsumed
}

// RemainingLoanBalance returns the unspent loan in cost units
func (f *SystemLoanFeeReserve) RemainingLoanBalance() uint32 {
	return f.remainingLoanBalance
}

// Finalize produces the fee summary. The reserve must not be used afterwards.
func (f *SystemLoanFeeReserve) Finalize() *FeeSummary {
	var total uint32
	breakdown := make(map[core.CostingReason]uint32)
	for i, v := range f.execution {
		total += v
		if v > 0 {
			breakdown[core.CostingReason(i)] = v
		}
	}
	return &FeeSummary{
		CostUnitLimit:          f.costUnitLimit,
		CostUnitPrice:          new(uint256.Int).Set(f.costUnitPrice),
		TipPercentage:          f.tipPercentage,
		TotalCostUnitsConsumed: f.totalCostUnitsConsumed,
		TotalExecutionCost:     xrdFor(f.effectiveExecutionPrice, total),
		BadDebt:                new(uint256.Int).Set(f.xrdOwed),
		VaultLocks:             append([]VaultLock(nil), f.payments...),
		ExecutionBreakdown:     breakdown,
	}
}
