package engine

import (
	"math/big"

	"github.com/google/uuid"

	"SynthLedger/internal/oracle"
)

// Read-only surface. Queries never mutate and read live ledger state at
// fresh oracle prices; they are safe to call concurrently with operations.
//
// They are NOT safe to call from inside a token transfer hook: the engine
// holds its write lock for the whole operation, so a same-goroutine query
// would deadlock on the read lock rather than fail fast the way a
// reentrant mutating call does. Hooks must not call back into the engine
// at all.

// HealthFactor returns the user's current health factor.
func (e *Engine) HealthFactor(user uuid.UUID) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthFactor(user)
}

// CollateralValueUsd returns the wad USD value of the user's deposits.
func (e *Engine) CollateralValueUsd(user uuid.UUID) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.collateralValueUsd(user)
}

// CollateralOf returns the user's deposited amount for one token.
func (e *Engine) CollateralOf(user uuid.UUID, token string) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.CollateralOf(user, token)
}

// AllCollateralOf returns the user's non-zero deposits by token.
func (e *Engine) AllCollateralOf(user uuid.UUID) map[string]*big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.AllCollateralOf(user)
}

// DebtOf returns the user's minted debt.
func (e *Engine) DebtOf(user uuid.UUID) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.DebtOf(user)
}

// Tokens returns the approved collateral tokens in registration order.
func (e *Engine) Tokens() []string {
	return e.registry.Tokens()
}

// LatestPrice returns the current oracle price for a token.
func (e *Engine) LatestPrice(token string) (oracle.Price, error) {
	adapter, err := e.registry.AdapterFor(token)
	if err != nil {
		return oracle.Price{}, err
	}
	return adapter.LatestPrice()
}

// UsdValue converts a wad token amount into wad USD at the current price.
func (e *Engine) UsdValue(token string, amount *big.Int) (*big.Int, error) {
	adapter, err := e.registry.AdapterFor(token)
	if err != nil {
		return nil, err
	}
	return adapter.UsdValue(amount)
}

// TokenAmountForUsd converts wad USD into a wad token amount at the
// current price, truncating toward zero.
func (e *Engine) TokenAmountForUsd(token string, usd *big.Int) (*big.Int, error) {
	adapter, err := e.registry.AdapterFor(token)
	if err != nil {
		return nil, err
	}
	return adapter.TokenAmountForUsd(usd)
}

// DebtTotalSupply returns the outstanding debt token supply.
func (e *Engine) DebtTotalSupply() *big.Int {
	return e.debt.TotalSupply()
}

// ProtocolCollateralValueUsd sums collateral value across every position.
// With all positions at or above the minimum health factor this is at
// least twice the outstanding debt supply.
func (e *Engine) ProtocolCollateralValueUsd() (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := new(big.Int)
	for _, user := range e.ledger.Users() {
		v, err := e.collateralValueUsd(user)
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, nil
}

// ProtocolCollateralOf sums one token's deposits across every position,
// i.e. the amount the engine escrow should hold.
func (e *Engine) ProtocolCollateralOf(token string) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := new(big.Int)
	for _, user := range e.ledger.Users() {
		total.Add(total, e.ledger.CollateralOf(user, token))
	}
	return total
}

// UsersWithPositions returns every user with a ledger entry, in stable
// order.
func (e *Engine) UsersWithPositions() []uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Users()
}

// MinHealthFactor returns the liquidation boundary (1e18).
func (e *Engine) MinHealthFactor() *big.Int {
	return new(big.Int).Set(e.minHealthFactor)
}

// Sequence returns the last committed operation sequence.
func (e *Engine) Sequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence
}

// StateHashTip returns the current tip of the state-hash chain.
func (e *Engine) StateHashTip() [32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasher.PrevHash()
}
