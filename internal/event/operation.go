package event

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// OpType identifies a committed ledger operation.
type OpType int32

const (
	OpDeposit OpType = iota
	OpMint
	OpRedeem
	OpBurn
	OpLiquidate
)

func (t OpType) String() string {
	switch t {
	case OpDeposit:
		return "deposit"
	case OpMint:
		return "mint"
	case OpRedeem:
		return "redeem"
	case OpBurn:
		return "burn"
	case OpLiquidate:
		return "liquidate"
	default:
		return "unknown"
	}
}

// ParseOpType is the inverse of OpType.String.
func ParseOpType(s string) (OpType, error) {
	switch s {
	case "deposit":
		return OpDeposit, nil
	case "mint":
		return OpMint, nil
	case "redeem":
		return OpRedeem, nil
	case "burn":
		return OpBurn, nil
	case "liquidate":
		return OpLiquidate, nil
	default:
		return 0, fmt.Errorf("event: unknown op type %q", s)
	}
}

// Operation is one committed state transition: the unit of persistence,
// replay, and outbound publishing.
//
// Field use by type:
//   - deposit/redeem: Token + Amount (collateral moved)
//   - mint/burn: Amount (debt minted or burned)
//   - liquidate: User is the liquidated position, Liquidator is set,
//     DebtCovered and CollateralSeized carry the two legs, Token the
//     seized collateral.
type Operation struct {
	ID               uuid.UUID
	Sequence         int64
	Type             OpType
	User             uuid.UUID
	Liquidator       *uuid.UUID
	Token            string
	Amount           *big.Int
	DebtCovered      *big.Int
	CollateralSeized *big.Int
	HealthFactor     *big.Int // acting user's health factor after commit
	StateHash        [32]byte
	PrevHash         [32]byte
	Timestamp        time.Time
}
