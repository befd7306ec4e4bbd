package oracle_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"SynthLedger/internal/oracle"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func rawPrice(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

func TestBook_NoPrice(t *testing.T) {
	book := oracle.NewBook()
	_, err := book.LatestPrice("WETH")
	if !errors.Is(err, oracle.ErrNoPrice) {
		t.Errorf("got %v, want ErrNoPrice", err)
	}
}

func TestBook_SetAndGet(t *testing.T) {
	book := oracle.NewBook()
	book.SetPrice("WETH", oracle.Price{Value: rawPrice(2000), Sequence: 1, UpdatedAt: time.Now()})

	p, err := book.LatestPrice("WETH")
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if p.Value.Cmp(rawPrice(2000)) != 0 {
		t.Errorf("got %s, want %s", p.Value, rawPrice(2000))
	}
}

func TestBook_DropsOutOfOrderSequence(t *testing.T) {
	book := oracle.NewBook()
	book.SetPrice("WETH", oracle.Price{Value: rawPrice(2000), Sequence: 5})

	if book.SetPrice("WETH", oracle.Price{Value: rawPrice(1000), Sequence: 4}) {
		t.Error("stale update should be dropped")
	}
	p, _ := book.LatestPrice("WETH")
	if p.Value.Cmp(rawPrice(2000)) != 0 {
		t.Errorf("price regressed to %s", p.Value)
	}
}

func TestAdapter_UsdValue(t *testing.T) {
	book := oracle.NewBook()
	book.SetPrice("WETH", oracle.Price{Value: rawPrice(2000), Sequence: 1})
	adapter := oracle.NewAdapter(book, "WETH")

	v, err := adapter.UsdValue(wad(15))
	if err != nil {
		t.Fatalf("UsdValue: %v", err)
	}
	if v.Cmp(wad(30_000)) != 0 {
		t.Errorf("got %s, want %s", v, wad(30_000))
	}
}

func TestAdapter_TokenAmountForUsd_ZeroPrice(t *testing.T) {
	book := oracle.NewBook()
	book.SetPrice("WETH", oracle.Price{Value: big.NewInt(0), Sequence: 1})
	adapter := oracle.NewAdapter(book, "WETH")

	_, err := adapter.TokenAmountForUsd(wad(100))
	if !errors.Is(err, oracle.ErrZeroPrice) {
		t.Errorf("got %v, want ErrZeroPrice", err)
	}
}

func TestAdapter_NoPricePropagates(t *testing.T) {
	adapter := oracle.NewAdapter(oracle.NewBook(), "WETH")
	if _, err := adapter.UsdValue(wad(1)); !errors.Is(err, oracle.ErrNoPrice) {
		t.Errorf("got %v, want ErrNoPrice", err)
	}
}
