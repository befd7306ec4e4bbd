package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"SynthLedger/internal/event"
	"SynthLedger/internal/observability"
)

// LoadOperations reads the full operation journal in sequence order for
// replay on startup. Contiguity and the hash chain are verified by the
// engine while re-applying.
func LoadOperations(ctx context.Context, db *sql.DB, metrics *observability.Metrics) ([]event.Operation, error) {
	start := time.Now()

	rows, err := db.QueryContext(ctx, `
		SELECT sequence, op_id, op_type, user_id, liquidator, token,
		       amount, debt_covered, collateral_seized, health_factor,
		       state_hash, prev_hash, created_at
		FROM synth.operations
		ORDER BY sequence ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var ops []event.Operation
	for rows.Next() {
		var row OperationRow
		if err := rows.Scan(
			&row.Sequence, &row.OpID, &row.OpType, &row.UserID,
			&row.Liquidator, &row.Token, &row.Amount, &row.DebtCovered,
			&row.CollateralSeized, &row.HealthFactor, &row.StateHash,
			&row.PrevHash, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op, err := ParseOperationRow(row)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", row.Sequence, err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}

	if metrics != nil {
		metrics.ReplayOpsTotal.Add(float64(len(ops)))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	return ops, nil
}
