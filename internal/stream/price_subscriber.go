package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"SynthLedger/internal/observability"
	"SynthLedger/internal/oracle"
)

// PriceUpdate is the wire form of an oracle quote. Price is an 8-decimal
// fixed-point integer carried as a decimal string.
type PriceUpdate struct {
	Token     string `json:"token"`
	Price     string `json:"price"`
	Sequence  int64  `json:"sequence"`
	Timestamp int64  `json:"timestamp_ms"`
}

// PriceSubscriber consumes synth.prices.> and feeds the oracle book. The
// book keeps only the latest quote per token; out-of-order deliveries are
// dropped by sequence.
type PriceSubscriber struct {
	js        jetstream.JetStream
	book      *oracle.Book
	metrics   *observability.Metrics
	log       zerolog.Logger
	consumers []jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, book *oracle.Book, metrics *observability.Metrics, log zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		book:    book,
		metrics: metrics,
		log:     log,
	}
}

// Subscribe creates the durable price consumer. Explicit ACK, max_deliver=5,
// ack_wait=30s; malformed updates are ACKed and dropped (redelivery cannot
// fix them).
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, PriceStreamName, jetstream.ConsumerConfig{
		Durable:       "ledger-prices",
		FilterSubject: PriceSubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer ledger-prices: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		update, err := decodePriceUpdate(msg.Data())
		if err != nil {
			ps.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("malformed price update")
			msg.Ack()
			return
		}
		ps.apply(update)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume ledger-prices: %w", err)
	}

	ps.consumers = append(ps.consumers, cc)
	ps.log.Info().Str("subject", PriceSubjectPrefix+".>").Msg("subscribed")
	return nil
}

func (ps *PriceSubscriber) apply(update priceUpdateParsed) {
	accepted := ps.book.SetPrice(update.token, oracle.Price{
		Value:     update.price,
		Sequence:  update.sequence,
		UpdatedAt: update.timestamp,
	})
	if ps.metrics != nil {
		if accepted {
			ps.metrics.PriceUpdates.WithLabelValues(update.token).Inc()
		} else {
			ps.metrics.PriceStale.WithLabelValues(update.token).Inc()
		}
	}
	if accepted {
		ps.log.Debug().
			Str("token", update.token).
			Str("price", update.price.String()).
			Int64("sequence", update.sequence).
			Msg("price updated")
	}
}

// Stop gracefully stops all consumers.
func (ps *PriceSubscriber) Stop() {
	for _, cc := range ps.consumers {
		cc.Stop()
	}
	ps.log.Info().Msg("price subscriber stopped")
}

type priceUpdateParsed struct {
	token     string
	price     *big.Int
	sequence  int64
	timestamp time.Time
}

func decodePriceUpdate(data []byte) (priceUpdateParsed, error) {
	var wire PriceUpdate
	if err := json.Unmarshal(data, &wire); err != nil {
		return priceUpdateParsed{}, fmt.Errorf("decode price update: %w", err)
	}
	if wire.Token == "" {
		return priceUpdateParsed{}, fmt.Errorf("price update missing token")
	}
	price, ok := new(big.Int).SetString(wire.Price, 10)
	if !ok || price.Sign() < 0 {
		return priceUpdateParsed{}, fmt.Errorf("invalid price %q", wire.Price)
	}
	return priceUpdateParsed{
		token:     wire.Token,
		price:     price,
		sequence:  wire.Sequence,
		timestamp: time.UnixMilli(wire.Timestamp).UTC(),
	}, nil
}
