// Package api provides the configuration shared between the engine, the
// kernel and the fee reserve. Values are supplied at transaction start and
// never mutated while a transaction runs.
package api

import (
	"fmt"

	"github.com/govm-net/kernel/core"
	"github.com/holiman/uint256"
)

// Default costing parameters. Amounts are in attos (10^-18 XRD).
const (
	DefaultCostUnitLimit uint32 = 100_000_000
	DefaultSystemLoan    uint32 = 4_000_000
	DefaultMaxCallDepth         = 8
)

// DefaultCostUnitPrice is 0.0000001 XRD per cost unit
var DefaultCostUnitPrice = uint256.NewInt(100_000_000_000)

// FeeConfig configures the fee reserve of one transaction
type FeeConfig struct {
	// CostUnitPrice is the price of one cost unit in attos
	CostUnitPrice *uint256.Int
	// TipPercentage is added on top of the execution price
	TipPercentage uint16
	// CostUnitLimit is the maximum number of cost units a transaction can consume
	CostUnitLimit uint32
	// SystemLoan is the number of cost units lent to the transaction up front
	SystemLoan uint32
	// AbortWhenLoanRepaid stops the transaction as soon as the loan is
	// repaid; used to preview whether a transaction can pay for itself
	AbortWhenLoanRepaid bool
}

// DefaultFeeConfig returns the default fee configuration
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		CostUnitPrice: new(uint256.Int).Set(DefaultCostUnitPrice),
		TipPercentage: 0,
		CostUnitLimit: DefaultCostUnitLimit,
		SystemLoan:    DefaultSystemLoan,
	}
}

// NoFeeConfig returns a configuration where execution is free but still
// bounded by the default limit.
func NoFeeConfig() FeeConfig {
	cfg := DefaultFeeConfig()
	cfg.CostUnitPrice = uint256.NewInt(0)
	return cfg
}

// Validate checks the configuration for obvious mistakes
func (c FeeConfig) Validate() error {
	if c.CostUnitPrice == nil {
		return fmt.Errorf("%w: cost unit price is required", core.ErrInvalidArgument)
	}
	if c.CostUnitLimit == 0 {
		return fmt.Errorf("%w: cost unit limit must be positive", core.ErrInvalidArgument)
	}
	return nil
}

// LimitsConfig bounds what a single transaction can touch
type LimitsConfig struct {
	// MaxSubstateSize is the maximum size of one substate value in bytes
	MaxSubstateSize int
	// MaxInvokePayloadSize is the maximum size of an invocation input or output
	MaxInvokePayloadSize int
	// MaxSubstatesRead is the maximum number of distinct store substates read
	MaxSubstatesRead int
	// MaxSubstatesWritten is the maximum number of distinct substates written to the track
	MaxSubstatesWritten int
}

// DefaultLimitsConfig returns the default transaction limits
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		MaxSubstateSize:      2 * 1024 * 1024, // 2MB
		MaxInvokePayloadSize: 1024 * 1024,     // 1MB
		MaxSubstatesRead:     20_000,
		MaxSubstatesWritten:  20_000,
	}
}

// KernelConfig defines configuration for the kernel of one transaction
type KernelConfig struct {
	// MaxCallDepth is the maximum depth of invocations; the root frame is depth 0
	MaxCallDepth int

	// ForceWriteEntities lists the entity types whose substates may be
	// locked with FORCE_WRITE. By default only vaults (fee locking).
	ForceWriteEntities []core.EntityType

	// RequiredModules must be supplied to every Globalize call
	RequiredModules []core.ModuleID

	Limits LimitsConfig
}

// DefaultKernelConfig returns a default configuration for the kernel
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		MaxCallDepth:       DefaultMaxCallDepth,
		ForceWriteEntities: []core.EntityType{core.EntityInternalVault},
		RequiredModules:    []core.ModuleID{core.ModuleMetadata, core.ModuleRoleAssignment},
		Limits:             DefaultLimitsConfig(),
	}
}

// Validate checks the configuration
func (c KernelConfig) Validate() error {
	if c.MaxCallDepth <= 0 {
		return fmt.Errorf("%w: max call depth must be positive", core.ErrInvalidArgument)
	}
	if c.Limits.MaxSubstateSize <= 0 || c.Limits.MaxInvokePayloadSize <= 0 {
		return fmt.Errorf("%w: size limits must be positive", core.ErrInvalidArgument)
	}
	return nil
}

// AllowsForceWrite reports whether substates of the entity type may be force written
func (c KernelConfig) AllowsForceWrite(entity core.EntityType) bool {
	for _, e := range c.ForceWriteEntities {
		if e == entity {
			return true
		}
	}
	return false
}
