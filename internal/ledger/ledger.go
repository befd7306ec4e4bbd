package ledger

import (
	"errors"
	"math/big"
	"sort"

	"github.com/google/uuid"
)

var (
	// ErrInsufficientCollateral is returned when a decrease exceeds the
	// user's deposited collateral for that token.
	ErrInsufficientCollateral = errors.New("ledger: insufficient collateral")
	// ErrInsufficientDebt is returned when a decrease exceeds the user's
	// minted debt.
	ErrInsufficientDebt = errors.New("ledger: insufficient debt")
)

// position is one user's accounting entry: collateral per token plus
// minted debt, all wad-scaled.
type position struct {
	collateral map[string]*big.Int
	debt       *big.Int
}

func newPosition() *position {
	return &position{
		collateral: make(map[string]*big.Int),
		debt:       new(big.Int),
	}
}

// PositionLedger is the internal accounting of all positions. It holds no
// token balances itself; it records what the engine owes whom. Mutators
// expect positive amounts (the engine validates input); decreases enforce
// sufficiency.
//
// Not safe for concurrent use. The engine serializes access.
type PositionLedger struct {
	positions map[uuid.UUID]*position
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		positions: make(map[uuid.UUID]*position),
	}
}

func (l *PositionLedger) get(user uuid.UUID) *position {
	p, ok := l.positions[user]
	if !ok {
		p = newPosition()
		l.positions[user] = p
	}
	return p
}

func (l *PositionLedger) IncreaseCollateral(user uuid.UUID, token string, amount *big.Int) {
	p := l.get(user)
	cur, ok := p.collateral[token]
	if !ok {
		cur = new(big.Int)
		p.collateral[token] = cur
	}
	cur.Add(cur, amount)
}

func (l *PositionLedger) DecreaseCollateral(user uuid.UUID, token string, amount *big.Int) error {
	p, ok := l.positions[user]
	if !ok {
		return ErrInsufficientCollateral
	}
	cur, ok := p.collateral[token]
	if !ok || cur.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}
	cur.Sub(cur, amount)
	return nil
}

func (l *PositionLedger) IncreaseDebt(user uuid.UUID, amount *big.Int) {
	p := l.get(user)
	p.debt.Add(p.debt, amount)
}

func (l *PositionLedger) DecreaseDebt(user uuid.UUID, amount *big.Int) error {
	p, ok := l.positions[user]
	if !ok || p.debt.Cmp(amount) < 0 {
		return ErrInsufficientDebt
	}
	p.debt.Sub(p.debt, amount)
	return nil
}

// CollateralOf returns the user's deposited amount for one token. Never nil.
func (l *PositionLedger) CollateralOf(user uuid.UUID, token string) *big.Int {
	if p, ok := l.positions[user]; ok {
		if cur, ok := p.collateral[token]; ok {
			return new(big.Int).Set(cur)
		}
	}
	return new(big.Int)
}

// AllCollateralOf returns the user's non-zero collateral balances by token.
func (l *PositionLedger) AllCollateralOf(user uuid.UUID) map[string]*big.Int {
	out := make(map[string]*big.Int)
	if p, ok := l.positions[user]; ok {
		for token, cur := range p.collateral {
			if cur.Sign() > 0 {
				out[token] = new(big.Int).Set(cur)
			}
		}
	}
	return out
}

// DebtOf returns the user's minted debt. Never nil.
func (l *PositionLedger) DebtOf(user uuid.UUID) *big.Int {
	if p, ok := l.positions[user]; ok {
		return new(big.Int).Set(p.debt)
	}
	return new(big.Int)
}

// Users returns every user with a ledger entry, in stable order.
func (l *PositionLedger) Users() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(l.positions))
	for u := range l.positions {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// PositionDigest returns a deterministic serialization of one user's
// position for state hashing: user id, then each non-zero collateral
// balance in token order, then debt. All big.Int values length-prefixed
// big-endian.
func (l *PositionLedger) PositionDigest(user uuid.UUID) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, user[:]...)

	p, ok := l.positions[user]
	if !ok {
		return append(buf, 0)
	}

	tokens := make([]string, 0, len(p.collateral))
	for token, cur := range p.collateral {
		if cur.Sign() > 0 {
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)

	buf = append(buf, byte(len(tokens)))
	for _, token := range tokens {
		buf = append(buf, byte(len(token)))
		buf = append(buf, token...)
		buf = appendBig(buf, p.collateral[token])
	}
	buf = appendBig(buf, p.debt)
	return buf
}

func appendBig(buf []byte, v *big.Int) []byte {
	b := v.Bytes()
	buf = append(buf, byte(len(b)))
	return append(buf, b...)
}
