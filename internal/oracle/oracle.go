package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"SynthLedger/internal/fixedpoint"
)

var (
	// ErrNoPrice is returned when no price has been observed for a token.
	ErrNoPrice = errors.New("oracle: no price for token")
	// ErrZeroPrice guards the USD -> token-amount division.
	ErrZeroPrice = errors.New("oracle: price is zero")
)

// Price is one observed quote, 8-decimal fixed point.
type Price struct {
	Value     *big.Int
	Sequence  int64
	UpdatedAt time.Time
}

// Source supplies the latest known price for a token.
type Source interface {
	LatestPrice(token string) (Price, error)
}

// Book is a live in-memory price store fed by the price stream.
// Reads always see the most recently accepted update; nothing is cached
// by callers between operations.
type Book struct {
	mu     sync.RWMutex
	prices map[string]Price
}

func NewBook() *Book {
	return &Book{prices: make(map[string]Price)}
}

// SetPrice accepts an update. Updates with a sequence at or below the
// stored one are dropped (out-of-order delivery from the stream).
func (b *Book) SetPrice(token string, p Price) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.prices[token]; ok && p.Sequence <= cur.Sequence {
		return false
	}
	b.prices[token] = Price{
		Value:     new(big.Int).Set(p.Value),
		Sequence:  p.Sequence,
		UpdatedAt: p.UpdatedAt,
	}
	return true
}

// LatestPrice implements Source.
func (b *Book) LatestPrice(token string) (Price, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.prices[token]
	if !ok {
		return Price{}, ErrNoPrice
	}
	return Price{
		Value:     new(big.Int).Set(p.Value),
		Sequence:  p.Sequence,
		UpdatedAt: p.UpdatedAt,
	}, nil
}

// Adapter converts between wad token amounts and wad USD values for a
// single collateral token, reading the price fresh on every call.
type Adapter struct {
	source Source
	token  string
}

func NewAdapter(source Source, token string) *Adapter {
	return &Adapter{source: source, token: token}
}

func (a *Adapter) Token() string {
	return a.token
}

func (a *Adapter) LatestPrice() (Price, error) {
	return a.source.LatestPrice(a.token)
}

// UsdValue returns the wad USD value of a wad token amount.
func (a *Adapter) UsdValue(amount *big.Int) (*big.Int, error) {
	p, err := a.source.LatestPrice(a.token)
	if err != nil {
		return nil, err
	}
	return fixedpoint.UsdValue(p.Value, amount), nil
}

// TokenAmountForUsd returns the wad token amount worth the given wad USD
// value, truncating toward zero.
func (a *Adapter) TokenAmountForUsd(usd *big.Int) (*big.Int, error) {
	p, err := a.source.LatestPrice(a.token)
	if err != nil {
		return nil, err
	}
	if p.Value.Sign() == 0 {
		return nil, ErrZeroPrice
	}
	return fixedpoint.TokenAmountForUsd(p.Value, usd), nil
}
