package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"SynthLedger/internal/event"
)

// WireOperation is the outbound JSON form of a committed operation. Wad
// amounts travel as decimal strings.
type WireOperation struct {
	ID               string    `json:"id"`
	Sequence         int64     `json:"sequence"`
	Type             string    `json:"type"`
	User             string    `json:"user"`
	Liquidator       *string   `json:"liquidator,omitempty"`
	Token            string    `json:"token,omitempty"`
	Amount           string    `json:"amount"`
	DebtCovered      string    `json:"debt_covered,omitempty"`
	CollateralSeized string    `json:"collateral_seized,omitempty"`
	HealthFactor     string    `json:"health_factor,omitempty"`
	StateHash        []byte    `json:"state_hash"`
	PrevHash         []byte    `json:"prev_hash"`
	Timestamp        time.Time `json:"timestamp"`
}

// OperationPublisher publishes committed operations for downstream
// consumers on synth.ledger.ops.{op_type}. Best effort: a failed publish
// is logged and skipped, consumers can always read the journal.
type OperationPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Operation
	log       zerolog.Logger
}

func NewOperationPublisher(js jetstream.JetStream, inputChan <-chan event.Operation, log zerolog.Logger) *OperationPublisher {
	return &OperationPublisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the publisher loop.
func (p *OperationPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case op, ok := <-p.inputChan:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, op); err != nil {
				p.log.Warn().Err(err).Int64("sequence", op.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (p *OperationPublisher) publish(ctx context.Context, op event.Operation) error {
	data, err := json.Marshal(toWire(op))
	if err != nil {
		return fmt.Errorf("marshal operation: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", OpsSubjectPrefix, op.Type)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

func toWire(op event.Operation) WireOperation {
	wire := WireOperation{
		ID:        op.ID.String(),
		Sequence:  op.Sequence,
		Type:      op.Type.String(),
		User:      op.User.String(),
		Token:     op.Token,
		StateHash: op.StateHash[:],
		PrevHash:  op.PrevHash[:],
		Timestamp: op.Timestamp,
	}
	if op.Liquidator != nil {
		s := op.Liquidator.String()
		wire.Liquidator = &s
	}
	if op.Amount != nil {
		wire.Amount = op.Amount.String()
	}
	if op.DebtCovered != nil {
		wire.DebtCovered = op.DebtCovered.String()
	}
	if op.CollateralSeized != nil {
		wire.CollateralSeized = op.CollateralSeized.String()
	}
	if op.HealthFactor != nil {
		wire.HealthFactor = op.HealthFactor.String()
	}
	return wire
}
