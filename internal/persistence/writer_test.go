package persistence_test

import (
	"database/sql"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"SynthLedger/internal/event"
	"SynthLedger/internal/persistence"
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func TestRowRoundTrip_Liquidation(t *testing.T) {
	liquidator := uuid.New()
	op := event.Operation{
		ID:               uuid.New(),
		Sequence:         42,
		Type:             event.OpLiquidate,
		User:             uuid.New(),
		Liquidator:       &liquidator,
		Token:            "WETH",
		Amount:           wad(2000),
		DebtCovered:      wad(2000),
		CollateralSeized: big.NewInt(1_157_894_736_842_105_263),
		HealthFactor:     wad(1),
		Timestamp:        time.Now().UTC().Truncate(time.Microsecond),
	}
	op.StateHash[0] = 0xAB
	op.PrevHash[31] = 0xCD

	row := persistence.RowFromOperation(op)
	back, err := persistence.ParseOperationRow(row)
	if err != nil {
		t.Fatalf("ParseOperationRow: %v", err)
	}

	if back.Sequence != op.Sequence || back.Type != op.Type || back.User != op.User {
		t.Errorf("got %d/%v/%s, want %d/%v/%s", back.Sequence, back.Type, back.User, op.Sequence, op.Type, op.User)
	}
	if back.Liquidator == nil || *back.Liquidator != liquidator {
		t.Error("liquidator lost in round trip")
	}
	if back.Amount.Cmp(op.Amount) != 0 ||
		back.DebtCovered.Cmp(op.DebtCovered) != 0 ||
		back.CollateralSeized.Cmp(op.CollateralSeized) != 0 ||
		back.HealthFactor.Cmp(op.HealthFactor) != 0 {
		t.Error("numeric field lost in round trip")
	}
	if back.StateHash != op.StateHash || back.PrevHash != op.PrevHash {
		t.Error("hash chain lost in round trip")
	}
}

func TestRowRoundTrip_DepositNullables(t *testing.T) {
	op := event.Operation{
		ID:       uuid.New(),
		Sequence: 1,
		Type:     event.OpDeposit,
		User:     uuid.New(),
		Token:    "WBTC",
		Amount:   wad(3),
	}

	row := persistence.RowFromOperation(op)
	if row.Liquidator.Valid || row.DebtCovered.Valid || row.CollateralSeized.Valid || row.HealthFactor.Valid {
		t.Error("deposit row populated liquidation-only columns")
	}

	back, err := persistence.ParseOperationRow(row)
	if err != nil {
		t.Fatalf("ParseOperationRow: %v", err)
	}
	if back.Liquidator != nil || back.DebtCovered != nil || back.HealthFactor != nil {
		t.Error("null columns decoded as values")
	}
}

func TestParseOperationRow_InvalidNumeric(t *testing.T) {
	row := persistence.RowFromOperation(event.Operation{
		ID:     uuid.New(),
		Type:   event.OpMint,
		User:   uuid.New(),
		Amount: wad(1),
	})
	row.Amount = "not-a-number"

	if _, err := persistence.ParseOperationRow(row); err == nil {
		t.Error("invalid numeric accepted")
	}
}

func TestParseOperationRow_UnknownOpType(t *testing.T) {
	row := persistence.RowFromOperation(event.Operation{
		ID:     uuid.New(),
		Type:   event.OpBurn,
		User:   uuid.New(),
		Amount: wad(1),
	})
	row.OpType = "split"

	if _, err := persistence.ParseOperationRow(row); err == nil {
		t.Error("unknown op type accepted")
	}
}

func TestParseOperationRow_TruncatedHash(t *testing.T) {
	row := persistence.RowFromOperation(event.Operation{
		ID:     uuid.New(),
		Type:   event.OpRedeem,
		User:   uuid.New(),
		Token:  "WETH",
		Amount: wad(1),
	})
	row.StateHash = row.StateHash[:16]

	if _, err := persistence.ParseOperationRow(row); err == nil {
		t.Error("truncated hash accepted")
	}
}

func TestParseOperationRow_BadLiquidatorID(t *testing.T) {
	row := persistence.RowFromOperation(event.Operation{
		ID:     uuid.New(),
		Type:   event.OpLiquidate,
		User:   uuid.New(),
		Token:  "WETH",
		Amount: wad(1),
	})
	row.Liquidator = sql.NullString{String: "garbage", Valid: true}

	if _, err := persistence.ParseOperationRow(row); err == nil {
		t.Error("malformed liquidator id accepted")
	}
}
