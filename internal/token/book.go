package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientBalance is returned when a transfer or burn exceeds
	// the holder's balance.
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	// ErrTransferRejected is returned when a transfer hook refuses the
	// transfer.
	ErrTransferRejected = errors.New("token: transfer rejected")
)

// TransferHook runs before a transfer is applied. Returning an error
// aborts the transfer with no balance change. Tests use it to simulate
// failing or reentrant token contracts.
//
// A hook fired from inside an engine operation must not call the engine's
// query surface: the engine holds its write lock across the operation and
// the read would deadlock. Reentrant mutating calls are rejected with
// ErrReentrancy instead.
type TransferHook func(from, to uuid.UUID, amount *big.Int) error

// Book is an in-memory fungible token, standing in for the external token
// contract. Balances are wad-scaled.
type Book struct {
	mu          sync.Mutex
	symbol      string
	balances    map[uuid.UUID]*big.Int
	totalSupply *big.Int
	hook        TransferHook
}

func NewBook(symbol string) *Book {
	return &Book{
		symbol:      symbol,
		balances:    make(map[uuid.UUID]*big.Int),
		totalSupply: new(big.Int),
	}
}

func (b *Book) Symbol() string {
	return b.symbol
}

// SetTransferHook installs a hook invoked on every TransferFrom.
func (b *Book) SetTransferHook(h TransferHook) {
	b.mu.Lock()
	b.hook = h
	b.mu.Unlock()
}

func (b *Book) balanceOf(holder uuid.UUID) *big.Int {
	cur, ok := b.balances[holder]
	if !ok {
		cur = new(big.Int)
		b.balances[holder] = cur
	}
	return cur
}

func (b *Book) BalanceOf(holder uuid.UUID) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.balances[holder]; ok {
		return new(big.Int).Set(cur)
	}
	return new(big.Int)
}

func (b *Book) TotalSupply() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.totalSupply)
}

// TransferFrom moves amount between holders. The hook, if set, runs first
// and may veto the transfer.
func (b *Book) TransferFrom(from, to uuid.UUID, amount *big.Int) error {
	b.mu.Lock()
	hook := b.hook
	b.mu.Unlock()

	if hook != nil {
		if err := hook(from, to, amount); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.balanceOf(from)
	if src.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.Sub(src, amount)
	b.balanceOf(to).Add(b.balanceOf(to), amount)
	return nil
}

// Mint credits new supply to a holder.
func (b *Book) Mint(to uuid.UUID, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.balanceOf(to).Add(b.balanceOf(to), amount)
	b.totalSupply.Add(b.totalSupply, amount)
	return nil
}

// Burn destroys supply held by a holder.
func (b *Book) Burn(from uuid.UUID, amount *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.balanceOf(from)
	if src.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.Sub(src, amount)
	b.totalSupply.Sub(b.totalSupply, amount)
	return nil
}
