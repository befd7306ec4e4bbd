package engine

import (
	"errors"
	"fmt"
	"math/big"

	"SynthLedger/internal/ledger"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/registry"
)

var (
	// ErrConfiguration is returned by New when the engine wiring is
	// incomplete.
	ErrConfiguration = errors.New("engine: incomplete configuration")
	// ErrInvalidAmount rejects zero or negative operation amounts.
	ErrInvalidAmount = errors.New("engine: amount must be positive")
	// ErrTransferFailed wraps any failure reported by a token contract.
	ErrTransferFailed = errors.New("engine: token transfer failed")
	// ErrHealthFactorBroken is the sentinel matched by errors.Is for
	// HealthFactorBrokenError.
	ErrHealthFactorBroken = errors.New("engine: health factor below minimum")
	// ErrHealthFactorOk rejects liquidation of a safe position.
	ErrHealthFactorOk = errors.New("engine: health factor not below minimum")
	// ErrHealthFactorNotImproved rejects liquidations that leave the
	// target no better off.
	ErrHealthFactorNotImproved = errors.New("engine: liquidation did not improve health factor")
	// ErrReentrancy rejects any call that overlaps an in-flight operation.
	ErrReentrancy = errors.New("engine: reentrant call")

	// Aliases so callers can match everything at the engine boundary.
	ErrUnsupportedCollateral  = registry.ErrUnsupported
	ErrInsufficientCollateral = ledger.ErrInsufficientCollateral
	ErrInsufficientDebt       = ledger.ErrInsufficientDebt
)

// HealthFactorBrokenError carries the offending ratio. errors.Is matches
// ErrHealthFactorBroken; errors.As exposes the value.
type HealthFactorBrokenError struct {
	Value *big.Int
}

func (e *HealthFactorBrokenError) Error() string {
	return fmt.Sprintf("engine: health factor %s below minimum", e.Value)
}

func (e *HealthFactorBrokenError) Unwrap() error {
	return ErrHealthFactorBroken
}

// rejectionReason maps an operation error onto a bounded metrics label.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrUnsupportedCollateral):
		return "unsupported_collateral"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrInsufficientDebt):
		return "insufficient_debt"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrHealthFactorBroken):
		return "health_factor_broken"
	case errors.Is(err, ErrHealthFactorOk):
		return "health_factor_ok"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "not_improved"
	case errors.Is(err, ErrReentrancy):
		return "reentrancy"
	case errors.Is(err, oracle.ErrNoPrice), errors.Is(err, oracle.ErrZeroPrice):
		return "oracle"
	default:
		return "other"
	}
}
