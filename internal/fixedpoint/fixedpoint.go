package fixedpoint

import "math/big"

// Amounts and USD values are 18-decimal fixed point ("wad"); raw oracle
// prices are 8-decimal fixed point. feedGap bridges the two scales.
const (
	WadDecimals   = 18
	PriceDecimals = 8
)

var (
	wad        = big.NewInt(1_000_000_000_000_000_000)
	priceScale = big.NewInt(100_000_000)
	feedGap    = big.NewInt(10_000_000_000) // 10^(WadDecimals-PriceDecimals)

	maxUint256 = func() *big.Int {
		max := new(big.Int).Lsh(big.NewInt(1), 256)
		return max.Sub(max, big.NewInt(1))
	}()
)

// Wad returns 1.0 in wad scale.
func Wad() *big.Int {
	return new(big.Int).Set(wad)
}

// PriceScale returns 1.0 in raw oracle price scale.
func PriceScale() *big.Int {
	return new(big.Int).Set(priceScale)
}

// MaxUint256 is the saturating maximum used as the unbounded-safety sentinel.
func MaxUint256() *big.Int {
	return new(big.Int).Set(maxUint256)
}

// MulDiv computes a*b/den with floor division. den must be non-zero.
func MulDiv(a, b, den *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// UsdValue converts a wad token amount into a wad USD value given an
// 8-decimal oracle price: (price * 1e10) * amount / 1e18.
func UsdValue(price, amount *big.Int) *big.Int {
	scaled := new(big.Int).Mul(price, feedGap)
	return MulDiv(scaled, amount, wad)
}

// TokenAmountForUsd is the inverse of UsdValue, truncating toward zero:
// usd * 1e18 / (price * 1e10). The caller must guard against a zero price.
func TokenAmountForUsd(price, usd *big.Int) *big.Int {
	scaled := new(big.Int).Mul(price, feedGap)
	return MulDiv(usd, wad, scaled)
}
