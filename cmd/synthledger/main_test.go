package main

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"SynthLedger/internal/engine"
	"SynthLedger/internal/event"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/registry"
	"SynthLedger/internal/token"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func rawPrice(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000))
}

func newEngine(t *testing.T, prices *oracle.Book, weth, susd *token.Book, persist chan event.Operation) *engine.Engine {
	t.Helper()
	reg, err := registry.New([]string{"WETH"}, []*oracle.Adapter{oracle.NewAdapter(prices, "WETH")})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	eng, err := engine.New(engine.Config{
		Registry:    reg,
		Debt:        susd,
		Collateral:  map[string]engine.CollateralToken{"WETH": weth},
		PersistChan: persist,
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func TestRehydrateTokenBooks_AfterLiquidation(t *testing.T) {
	prices := oracle.NewBook()
	prices.SetPrice("WETH", oracle.Price{Value: rawPrice(2000), Sequence: 1, UpdatedAt: time.Now()})

	weth := token.NewBook("WETH")
	susd := token.NewBook("SUSD")
	persist := make(chan event.Operation, 64)
	eng := newEngine(t, prices, weth, susd, persist)

	user, liquidator := uuid.New(), uuid.New()
	if err := weth.Mint(user, wad(10)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := susd.Mint(liquidator, wad(2000)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := eng.DepositCollateralAndMintDebt(user, "WETH", wad(7), wad(7000)); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
	prices.SetPrice("WETH", oracle.Price{Value: rawPrice(1900), Sequence: 2, UpdatedAt: time.Now()})
	if err := eng.Liquidate(liquidator, user, "WETH", wad(2000)); err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	var ops []event.Operation
	var seized *big.Int
drain:
	for {
		select {
		case op := <-persist:
			if op.Type == event.OpLiquidate {
				seized = op.CollateralSeized
			}
			ops = append(ops, op)
		default:
			break drain
		}
	}
	if seized == nil {
		t.Fatal("no liquidation record in the journal")
	}

	// Fresh process: replay the journal, then rebuild the token books.
	freshWeth := token.NewBook("WETH")
	freshSusd := token.NewBook("SUSD")
	restored := newEngine(t, prices, freshWeth, freshSusd, nil)
	if err := restored.Restore(ops); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	rehydrateTokenBooks(restored, ops, map[string]*token.Book{"WETH": freshWeth}, freshSusd)

	if got := freshWeth.BalanceOf(restored.Account()); got.Cmp(restored.ProtocolCollateralOf("WETH")) != 0 {
		t.Errorf("escrow balance %s, want %s", got, restored.ProtocolCollateralOf("WETH"))
	}
	if got := freshWeth.BalanceOf(liquidator); got.Cmp(seized) != 0 {
		t.Errorf("liquidator collateral %s, want %s", got, seized)
	}
	if got := freshSusd.BalanceOf(user); got.Cmp(wad(5000)) != 0 {
		t.Errorf("user debt tokens %s, want %s", got, wad(5000))
	}
	if got := freshSusd.TotalSupply(); got.Cmp(restored.DebtOf(user)) != 0 {
		t.Errorf("debt supply %s, want %s", got, restored.DebtOf(user))
	}
}
