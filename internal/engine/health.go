package engine

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"SynthLedger/internal/fixedpoint"
)

// collateralValueUsd sums the wad USD value of the user's deposits across
// every approved token, at fresh oracle prices.
func (e *Engine) collateralValueUsd(user uuid.UUID) (*big.Int, error) {
	total := new(big.Int)
	for _, token := range e.registry.Tokens() {
		amount := e.ledger.CollateralOf(user, token)
		if amount.Sign() == 0 {
			continue
		}
		adapter, err := e.registry.AdapterFor(token)
		if err != nil {
			return nil, err
		}
		v, err := adapter.UsdValue(amount)
		if err != nil {
			return nil, fmt.Errorf("price for %s: %w", token, err)
		}
		total.Add(total, v)
	}
	return total, nil
}

// healthFactor computes (collateralValueUsd * threshold / precision) * 1e18
// / debt. Debt-free positions get the saturating maximum: no debt, no risk.
func (e *Engine) healthFactor(user uuid.UUID) (*big.Int, error) {
	debt := e.ledger.DebtOf(user)
	if debt.Sign() == 0 {
		return fixedpoint.MaxUint256(), nil
	}
	value, err := e.collateralValueUsd(user)
	if err != nil {
		return nil, err
	}
	adjusted := new(big.Int).Mul(value, big.NewInt(liquidationThreshold))
	adjusted.Quo(adjusted, big.NewInt(liquidationPrecision))
	return fixedpoint.MulDiv(adjusted, fixedpoint.Wad(), debt), nil
}

// checkHealth returns HealthFactorBrokenError when the user's health
// factor is below the minimum.
func (e *Engine) checkHealth(user uuid.UUID) error {
	hf, err := e.healthFactor(user)
	if err != nil {
		return err
	}
	if hf.Cmp(e.minHealthFactor) < 0 {
		return &HealthFactorBrokenError{Value: hf}
	}
	return nil
}
