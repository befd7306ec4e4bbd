package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"SynthLedger/internal/event"
)

// OperationRow is a row in synth.operations, the append-only journal the
// ledger is rebuilt from on startup. Wad amounts are stored as NUMERIC and
// travel as decimal strings.
type OperationRow struct {
	Sequence         int64
	OpID             string
	OpType           string
	UserID           string
	Liquidator       sql.NullString
	Token            sql.NullString
	Amount           string
	DebtCovered      sql.NullString
	CollateralSeized sql.NullString
	HealthFactor     sql.NullString
	StateHash        []byte
	PrevHash         []byte
	CreatedAt        time.Time
}

// RowFromOperation converts a committed operation into its journal row.
func RowFromOperation(op event.Operation) OperationRow {
	row := OperationRow{
		Sequence:  op.Sequence,
		OpID:      op.ID.String(),
		OpType:    op.Type.String(),
		UserID:    op.User.String(),
		Amount:    op.Amount.String(),
		StateHash: append([]byte(nil), op.StateHash[:]...),
		PrevHash:  append([]byte(nil), op.PrevHash[:]...),
		CreatedAt: op.Timestamp,
	}
	if op.Liquidator != nil {
		row.Liquidator = sql.NullString{String: op.Liquidator.String(), Valid: true}
	}
	if op.Token != "" {
		row.Token = sql.NullString{String: op.Token, Valid: true}
	}
	if op.DebtCovered != nil {
		row.DebtCovered = sql.NullString{String: op.DebtCovered.String(), Valid: true}
	}
	if op.CollateralSeized != nil {
		row.CollateralSeized = sql.NullString{String: op.CollateralSeized.String(), Valid: true}
	}
	if op.HealthFactor != nil {
		row.HealthFactor = sql.NullString{String: op.HealthFactor.String(), Valid: true}
	}
	return row
}

// ParseOperationRow is the inverse of RowFromOperation, used by replay.
func ParseOperationRow(row OperationRow) (event.Operation, error) {
	opType, err := event.ParseOpType(row.OpType)
	if err != nil {
		return event.Operation{}, err
	}
	id, err := uuid.Parse(row.OpID)
	if err != nil {
		return event.Operation{}, fmt.Errorf("parse op id: %w", err)
	}
	user, err := uuid.Parse(row.UserID)
	if err != nil {
		return event.Operation{}, fmt.Errorf("parse user id: %w", err)
	}

	op := event.Operation{
		ID:        id,
		Sequence:  row.Sequence,
		Type:      opType,
		User:      user,
		Timestamp: row.CreatedAt,
	}
	if row.Liquidator.Valid {
		liq, err := uuid.Parse(row.Liquidator.String)
		if err != nil {
			return event.Operation{}, fmt.Errorf("parse liquidator id: %w", err)
		}
		op.Liquidator = &liq
	}
	if row.Token.Valid {
		op.Token = row.Token.String
	}
	if op.Amount, err = parseNumeric(row.Amount); err != nil {
		return event.Operation{}, fmt.Errorf("parse amount: %w", err)
	}
	if row.DebtCovered.Valid {
		if op.DebtCovered, err = parseNumeric(row.DebtCovered.String); err != nil {
			return event.Operation{}, fmt.Errorf("parse debt_covered: %w", err)
		}
	}
	if row.CollateralSeized.Valid {
		if op.CollateralSeized, err = parseNumeric(row.CollateralSeized.String); err != nil {
			return event.Operation{}, fmt.Errorf("parse collateral_seized: %w", err)
		}
	}
	if row.HealthFactor.Valid {
		if op.HealthFactor, err = parseNumeric(row.HealthFactor.String); err != nil {
			return event.Operation{}, fmt.Errorf("parse health_factor: %w", err)
		}
	}
	if len(row.StateHash) != 32 || len(row.PrevHash) != 32 {
		return event.Operation{}, fmt.Errorf("sequence %d: malformed hash", row.Sequence)
	}
	copy(op.StateHash[:], row.StateHash)
	copy(op.PrevHash[:], row.PrevHash)
	return op, nil
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// OperationWriter writes operation rows using multi-row INSERT. Writes are
// idempotent via ON CONFLICT DO NOTHING on the sequence key, so a retried
// batch never double-inserts.
type OperationWriter struct {
	db *sql.DB
}

func NewOperationWriter(db *sql.DB) *OperationWriter {
	return &OperationWriter{db: db}
}

// WriteBatch writes a batch of operations with a single multi-row INSERT.
func (w *OperationWriter) WriteBatch(ctx context.Context, ex execer, rows []OperationRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO synth.operations
		(sequence, op_id, op_type, user_id, liquidator, token, amount, debt_covered, collateral_seized, health_factor, state_hash, prev_hash, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*13)

	for i, r := range rows {
		base := i * 13
		placeholders := make([]string, 13)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			r.Sequence, r.OpID, r.OpType, r.UserID,
			r.Liquidator, r.Token, r.Amount, r.DebtCovered,
			r.CollateralSeized, r.HealthFactor, r.StateHash, r.PrevHash,
			r.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
