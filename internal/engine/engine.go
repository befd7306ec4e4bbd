package engine

import (
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"SynthLedger/internal/event"
	"SynthLedger/internal/fixedpoint"
	"SynthLedger/internal/ledger"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/registry"
)

// Protocol constants. Positions must stay at least 200% collateralized
// (threshold 50/100); liquidators earn a 10% collateral bonus.
const (
	liquidationThreshold = 50
	liquidationPrecision = 100
	liquidationBonus     = 10
)

// CollateralToken is the engine's view of an external collateral token
// contract. Amounts are wad-scaled.
type CollateralToken interface {
	TransferFrom(from, to uuid.UUID, amount *big.Int) error
	BalanceOf(holder uuid.UUID) *big.Int
}

// DebtToken is the engine's view of the synthetic-dollar token. The engine
// is the sole caller of Mint and Burn.
type DebtToken interface {
	Mint(to uuid.UUID, amount *big.Int) error
	Burn(from uuid.UUID, amount *big.Int) error
	TransferFrom(from, to uuid.UUID, amount *big.Int) error
	BalanceOf(holder uuid.UUID) *big.Int
	TotalSupply() *big.Int
}

// Config wires an Engine. PersistChan is blocking (backpressure on the
// durability path); PublishChan is best-effort (dropped when full). Either
// may be nil. Metrics may be nil.
type Config struct {
	Registry    *registry.Registry
	Debt        DebtToken
	Collateral  map[string]CollateralToken
	PersistChan chan<- event.Operation
	PublishChan chan<- event.Operation
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
}

// Engine owns all position state and applies operations one at a time.
// Every mutating entry point is protected by a single test-and-set flag:
// an overlapping call, whether a reentrant token callback or a concurrent
// caller, fails fast with ErrReentrancy and no state change.
type Engine struct {
	account    uuid.UUID // engine escrow account on the token contracts
	registry   *registry.Registry
	ledger     *ledger.PositionLedger
	debt       DebtToken
	collateral map[string]CollateralToken

	hasher   *StateHasher
	sequence int64

	entered atomic.Bool
	mu      sync.RWMutex

	minHealthFactor *big.Int

	persistChan chan<- event.Operation
	publishChan chan<- event.Operation
	metrics     *observability.Metrics
	log         zerolog.Logger
}

// New builds an Engine. Every token in the registry must have a collateral
// token binding.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: registry is nil", ErrConfiguration)
	}
	if cfg.Debt == nil {
		return nil, fmt.Errorf("%w: debt token is nil", ErrConfiguration)
	}
	collateral := make(map[string]CollateralToken, len(cfg.Collateral))
	for _, t := range cfg.Registry.Tokens() {
		tok, ok := cfg.Collateral[t]
		if !ok || tok == nil {
			return nil, fmt.Errorf("%w: no token binding for %s", ErrConfiguration, t)
		}
		collateral[t] = tok
	}

	return &Engine{
		account:         uuid.NewSHA1(uuid.NameSpaceOID, []byte("synthledger/engine")),
		registry:        cfg.Registry,
		ledger:          ledger.NewPositionLedger(),
		debt:            cfg.Debt,
		collateral:      collateral,
		hasher:          NewStateHasher(),
		minHealthFactor: fixedpoint.Wad(),
		persistChan:     cfg.PersistChan,
		publishChan:     cfg.PublishChan,
		metrics:         cfg.Metrics,
		log:             cfg.Logger,
	}, nil
}

// Account is the engine's escrow account on the token contracts. It is
// derived deterministically so replayed deployments agree on it.
func (e *Engine) Account() uuid.UUID {
	return e.account
}

func (e *Engine) enter() error {
	if !e.entered.CompareAndSwap(false, true) {
		return ErrReentrancy
	}
	return nil
}

func (e *Engine) exit() {
	e.entered.Store(false)
}

// record pairs a staged operation with the position digest captured at
// the moment its mutation applied. A composite stages several records
// while later mutations keep changing the ledger; replay re-applies
// records one at a time and verifies each hash against the incremental
// state, so every record must hash the ledger as of its own step.
type record struct {
	op     *event.Operation
	digest []byte
}

// stage snapshots the acting user's position digest for a freshly
// applied operation.
func (e *Engine) stage(op *event.Operation) record {
	return record{op: op, digest: e.ledger.PositionDigest(op.User)}
}

// run executes one mutating entry point: guard, validate-and-apply, commit.
// fn either applies its state changes fully and returns the staged
// records, or rolls back and returns the error.
func (e *Engine) run(label string, fn func() ([]record, error)) error {
	if err := e.enter(); err != nil {
		e.reject(label, err)
		return err
	}
	defer e.exit()

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	recs, err := fn()
	if err != nil {
		e.reject(label, err)
		return err
	}
	for _, rec := range recs {
		e.commit(rec)
	}
	if e.metrics != nil {
		e.metrics.OperationDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}
	return nil
}

func (e *Engine) reject(label string, err error) {
	reason := rejectionReason(err)
	if e.metrics != nil {
		e.metrics.OperationsRejected.WithLabelValues(label, reason).Inc()
		if label == "liquidate" {
			e.metrics.LiquidationRejected.WithLabelValues(reason).Inc()
		}
	}
	e.log.Warn().Str("op", label).Str("reason", reason).Err(err).Msg("operation rejected")
}

// commit assigns sequence and hash chain, then emits the record. The
// persist channel blocks when full: durability backpressure. The publish
// channel drops when full.
func (e *Engine) commit(rec record) {
	op := rec.op
	e.sequence++
	op.ID = uuid.New()
	op.Sequence = e.sequence
	op.Timestamp = time.Now().UTC()

	hashStart := time.Now()
	op.PrevHash = e.hasher.PrevHash()
	op.StateHash = e.hasher.ComputeHash(op.Sequence, rec.digest)

	if e.metrics != nil {
		e.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
		e.metrics.OperationsApplied.WithLabelValues(op.Type.String()).Inc()
		if op.Type == event.OpLiquidate {
			e.metrics.LiquidationsTotal.Inc()
		}
	}

	if e.persistChan != nil {
		select {
		case e.persistChan <- *op:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- *op
		}
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- *op:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	e.log.Info().
		Int64("sequence", op.Sequence).
		Str("op", op.Type.String()).
		Str("user", op.User.String()).
		Msg("operation committed")
}

// Restore replays persisted operations into a fresh engine, verifying
// sequence contiguity and the state-hash chain. Must run before the engine
// serves traffic.
func (e *Engine) Restore(ops []event.Operation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range ops {
		op := &ops[i]
		if op.Sequence != e.sequence+1 {
			return fmt.Errorf("engine: replay gap at sequence %d (have %d)", op.Sequence, e.sequence)
		}
		if err := e.applyReplayed(op); err != nil {
			return fmt.Errorf("engine: replay sequence %d: %w", op.Sequence, err)
		}
		digest := e.ledger.PositionDigest(op.User)
		if hash := e.hasher.ComputeHash(op.Sequence, digest); hash != op.StateHash {
			return fmt.Errorf("engine: state hash mismatch at sequence %d", op.Sequence)
		}
		e.sequence = op.Sequence
	}
	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(e.sequence))
	}
	e.log.Info().Int64("sequence", e.sequence).Int("operations", len(ops)).Msg("replay complete")
	return nil
}

// applyReplayed re-applies the ledger effect of a committed operation.
// Token movements are not replayed; balances live with the token contracts.
func (e *Engine) applyReplayed(op *event.Operation) error {
	switch op.Type {
	case event.OpDeposit:
		e.ledger.IncreaseCollateral(op.User, op.Token, op.Amount)
	case event.OpMint:
		e.ledger.IncreaseDebt(op.User, op.Amount)
	case event.OpRedeem:
		return e.ledger.DecreaseCollateral(op.User, op.Token, op.Amount)
	case event.OpBurn:
		return e.ledger.DecreaseDebt(op.User, op.Amount)
	case event.OpLiquidate:
		if err := e.ledger.DecreaseCollateral(op.User, op.Token, op.CollateralSeized); err != nil {
			return err
		}
		return e.ledger.DecreaseDebt(op.User, op.DebtCovered)
	default:
		return fmt.Errorf("engine: unknown op type %d", op.Type)
	}
	return nil
}
