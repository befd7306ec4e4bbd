package engine

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"SynthLedger/internal/event"
)

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// DepositCollateral pulls amount of token from the user into escrow and
// credits the ledger. Depositing never endangers a position, so there is
// no health check.
func (e *Engine) DepositCollateral(user uuid.UUID, token string, amount *big.Int) error {
	return e.run(event.OpDeposit.String(), func() ([]record, error) {
		rec, _, err := e.depositCollateral(user, token, amount)
		if err != nil {
			return nil, err
		}
		return []record{rec}, nil
	})
}

// MintDebt mints debt tokens to the user after verifying the position
// stays above the minimum health factor.
func (e *Engine) MintDebt(user uuid.UUID, amount *big.Int) error {
	return e.run(event.OpMint.String(), func() ([]record, error) {
		rec, _, err := e.mintDebt(user, amount)
		if err != nil {
			return nil, err
		}
		return []record{rec}, nil
	})
}

// RedeemCollateral returns deposited collateral to the user. The health
// check runs against the reduced position; a failing check rolls the
// operation back in full.
func (e *Engine) RedeemCollateral(user uuid.UUID, token string, amount *big.Int) error {
	return e.run(event.OpRedeem.String(), func() ([]record, error) {
		rec, _, err := e.redeemCollateral(user, token, amount)
		if err != nil {
			return nil, err
		}
		return []record{rec}, nil
	})
}

// BurnDebt retires amount of the user's minted debt, pulling the tokens
// from the user and burning them.
func (e *Engine) BurnDebt(user uuid.UUID, amount *big.Int) error {
	return e.run(event.OpBurn.String(), func() ([]record, error) {
		rec, undo, err := e.burnDebtFor(user, user, amount)
		if err != nil {
			return nil, err
		}
		// Burning debt can only raise the ratio, so this check cannot
		// fail; kept as a final invariant guard on the commit path.
		if err := e.checkHealth(user); err != nil {
			undo()
			return nil, err
		}
		return []record{rec}, nil
	})
}

// DepositCollateralAndMintDebt composes deposit and mint atomically: if
// the mint fails, the deposit is rolled back.
func (e *Engine) DepositCollateralAndMintDebt(user uuid.UUID, token string, collateralAmount, debtAmount *big.Int) error {
	return e.run("deposit_and_mint", func() ([]record, error) {
		depRec, undo, err := e.depositCollateral(user, token, collateralAmount)
		if err != nil {
			return nil, err
		}
		mintRec, _, err := e.mintDebt(user, debtAmount)
		if err != nil {
			undo()
			return nil, err
		}
		return []record{depRec, mintRec}, nil
	})
}

// RedeemCollateralAndBurnDebt composes burn and redeem atomically. Debt is
// burned first so the redemption health check sees the reduced debt.
func (e *Engine) RedeemCollateralAndBurnDebt(user uuid.UUID, token string, collateralAmount, debtAmount *big.Int) error {
	return e.run("redeem_and_burn", func() ([]record, error) {
		burnRec, undo, err := e.burnDebtFor(user, user, debtAmount)
		if err != nil {
			return nil, err
		}
		redeemRec, _, err := e.redeemCollateral(user, token, collateralAmount)
		if err != nil {
			undo()
			return nil, err
		}
		return []record{burnRec, redeemRec}, nil
	})
}

func (e *Engine) depositCollateral(user uuid.UUID, token string, amount *big.Int) (record, func(), error) {
	if err := validAmount(amount); err != nil {
		return record{}, nil, err
	}
	tok, ok := e.collateral[token]
	if !ok {
		return record{}, nil, ErrUnsupportedCollateral
	}

	if err := tok.TransferFrom(user, e.account, amount); err != nil {
		return record{}, nil, fmt.Errorf("%w: deposit %s: %v", ErrTransferFailed, token, err)
	}
	e.ledger.IncreaseCollateral(user, token, amount)

	undo := func() {
		_ = e.ledger.DecreaseCollateral(user, token, amount)
		_ = tok.TransferFrom(e.account, user, amount)
	}

	op := &event.Operation{
		Type:   event.OpDeposit,
		User:   user,
		Token:  token,
		Amount: new(big.Int).Set(amount),
	}
	// Best effort: a deposit is valid even before this token has a price.
	if hf, err := e.healthFactor(user); err == nil {
		op.HealthFactor = hf
	}
	return e.stage(op), undo, nil
}

func (e *Engine) mintDebt(user uuid.UUID, amount *big.Int) (record, func(), error) {
	if err := validAmount(amount); err != nil {
		return record{}, nil, err
	}

	e.ledger.IncreaseDebt(user, amount)
	hf, err := e.healthFactor(user)
	if err == nil && hf.Cmp(e.minHealthFactor) < 0 {
		err = &HealthFactorBrokenError{Value: hf}
	}
	if err != nil {
		_ = e.ledger.DecreaseDebt(user, amount)
		return record{}, nil, err
	}
	if err := e.debt.Mint(user, amount); err != nil {
		_ = e.ledger.DecreaseDebt(user, amount)
		return record{}, nil, fmt.Errorf("%w: mint: %v", ErrTransferFailed, err)
	}

	undo := func() {
		_ = e.ledger.DecreaseDebt(user, amount)
		_ = e.debt.Burn(user, amount)
	}

	op := &event.Operation{
		Type:         event.OpMint,
		User:         user,
		Amount:       new(big.Int).Set(amount),
		HealthFactor: hf,
	}
	return e.stage(op), undo, nil
}

func (e *Engine) redeemCollateral(user uuid.UUID, token string, amount *big.Int) (record, func(), error) {
	if err := validAmount(amount); err != nil {
		return record{}, nil, err
	}
	tok, ok := e.collateral[token]
	if !ok {
		return record{}, nil, ErrUnsupportedCollateral
	}

	if err := e.ledger.DecreaseCollateral(user, token, amount); err != nil {
		return record{}, nil, err
	}
	hf, err := e.healthFactor(user)
	if err == nil && hf.Cmp(e.minHealthFactor) < 0 {
		err = &HealthFactorBrokenError{Value: hf}
	}
	if err != nil {
		e.ledger.IncreaseCollateral(user, token, amount)
		return record{}, nil, err
	}
	if err := tok.TransferFrom(e.account, user, amount); err != nil {
		e.ledger.IncreaseCollateral(user, token, amount)
		return record{}, nil, fmt.Errorf("%w: redeem %s: %v", ErrTransferFailed, token, err)
	}

	undo := func() {
		e.ledger.IncreaseCollateral(user, token, amount)
		_ = tok.TransferFrom(user, e.account, amount)
	}

	op := &event.Operation{
		Type:         event.OpRedeem,
		User:         user,
		Token:        token,
		Amount:       new(big.Int).Set(amount),
		HealthFactor: hf,
	}
	return e.stage(op), undo, nil
}

// burnDebtFor retires amount of onBehalf's ledger debt, pulling the debt
// tokens from payer. For a plain burn payer == onBehalf; in a liquidation
// the liquidator pays for the target.
func (e *Engine) burnDebtFor(onBehalf, payer uuid.UUID, amount *big.Int) (record, func(), error) {
	if err := validAmount(amount); err != nil {
		return record{}, nil, err
	}

	if err := e.ledger.DecreaseDebt(onBehalf, amount); err != nil {
		return record{}, nil, err
	}
	if err := e.debt.TransferFrom(payer, e.account, amount); err != nil {
		e.ledger.IncreaseDebt(onBehalf, amount)
		return record{}, nil, fmt.Errorf("%w: burn pull: %v", ErrTransferFailed, err)
	}
	if err := e.debt.Burn(e.account, amount); err != nil {
		_ = e.debt.TransferFrom(e.account, payer, amount)
		e.ledger.IncreaseDebt(onBehalf, amount)
		return record{}, nil, fmt.Errorf("%w: burn: %v", ErrTransferFailed, err)
	}

	undo := func() {
		e.ledger.IncreaseDebt(onBehalf, amount)
		_ = e.debt.Mint(payer, amount)
	}

	op := &event.Operation{
		Type:   event.OpBurn,
		User:   onBehalf,
		Amount: new(big.Int).Set(amount),
	}
	if hf, err := e.healthFactor(onBehalf); err == nil {
		op.HealthFactor = hf
	}
	return e.stage(op), undo, nil
}

// moveCollateralOut takes collateral off from's ledger position and
// transfers it out of escrow to to. No health check; callers decide.
func (e *Engine) moveCollateralOut(from, to uuid.UUID, token string, amount *big.Int) (func(), error) {
	tok, ok := e.collateral[token]
	if !ok {
		return nil, ErrUnsupportedCollateral
	}
	if err := e.ledger.DecreaseCollateral(from, token, amount); err != nil {
		return nil, err
	}
	if err := tok.TransferFrom(e.account, to, amount); err != nil {
		e.ledger.IncreaseCollateral(from, token, amount)
		return nil, fmt.Errorf("%w: seize %s: %v", ErrTransferFailed, token, err)
	}
	undo := func() {
		e.ledger.IncreaseCollateral(from, token, amount)
		_ = tok.TransferFrom(to, e.account, amount)
	}
	return undo, nil
}

// Liquidate lets liquidator repay debtToCover of user's debt in exchange
// for collateral worth debtToCover plus a 10% bonus. Partial liquidation
// is allowed. The liquidation must strictly improve the target's health
// factor, and must not break the liquidator's own.
//
// When aggregate collateral value falls to or below outstanding debt the
// improvement check makes positions effectively unliquidatable; that
// protocol-insolvency regime is accepted, not worked around.
func (e *Engine) Liquidate(liquidator, user uuid.UUID, token string, debtToCover *big.Int) error {
	return e.run("liquidate", func() ([]record, error) {
		if err := validAmount(debtToCover); err != nil {
			return nil, err
		}

		startingHF, err := e.healthFactor(user)
		if err != nil {
			return nil, err
		}
		if startingHF.Cmp(e.minHealthFactor) >= 0 {
			return nil, ErrHealthFactorOk
		}

		adapter, err := e.registry.AdapterFor(token)
		if err != nil {
			return nil, err
		}
		baseAmount, err := adapter.TokenAmountForUsd(debtToCover)
		if err != nil {
			return nil, err
		}
		bonus := new(big.Int).Mul(baseAmount, big.NewInt(liquidationBonus))
		bonus.Quo(bonus, big.NewInt(liquidationPrecision))
		seized := new(big.Int).Add(baseAmount, bonus)

		undoSeize, err := e.moveCollateralOut(user, liquidator, token, seized)
		if err != nil {
			return nil, err
		}
		_, undoBurn, err := e.burnDebtFor(user, liquidator, debtToCover)
		if err != nil {
			undoSeize()
			return nil, err
		}

		endingHF, err := e.healthFactor(user)
		if err == nil && endingHF.Cmp(startingHF) <= 0 {
			err = ErrHealthFactorNotImproved
		}
		if err == nil {
			err = e.checkHealth(liquidator)
		}
		if err != nil {
			undoBurn()
			undoSeize()
			return nil, err
		}

		liq := liquidator
		op := &event.Operation{
			Type:             event.OpLiquidate,
			User:             user,
			Liquidator:       &liq,
			Token:            token,
			Amount:           new(big.Int).Set(debtToCover),
			DebtCovered:      new(big.Int).Set(debtToCover),
			CollateralSeized: seized,
			HealthFactor:     endingHF,
		}
		return []record{e.stage(op)}, nil
	})
}
