package protocol

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultLiquidationThresholdBps matches the hub's liquidation threshold.
const DefaultLiquidationThresholdBps uint32 = 8000

// contractHealthScale is the fixed-point scale of the contract's health factor.
const contractHealthScale = 6

var maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// MinimumHealthyRatio is the ratio below which new borrows are discouraged.
var MinimumHealthyRatio = decimal.RequireFromString("1.2")

// Health is a position's health factor. Positions without debt are infinitely
// healthy; everything else carries a finite ratio.
type Health struct {
	ratio    decimal.Decimal
	infinite bool
}

func InfiniteHealth() Health {
	return Health{infinite: true}
}

func FiniteHealth(ratio decimal.Decimal) Health {
	return Health{ratio: ratio}
}

func (h Health) Infinite() bool {
	return h.infinite
}

// Ratio returns the finite ratio; ok is false for infinite health.
func (h Health) Ratio() (decimal.Decimal, bool) {
	if h.infinite {
		return decimal.Zero, false
	}
	return h.ratio, true
}

// Liquidatable reports whether the position is below a ratio of one.
func (h Health) Liquidatable() bool {
	return !h.infinite && h.ratio.LessThan(decimal.NewFromInt(1))
}

// Below reports whether the health factor is under threshold.
func (h Health) Below(threshold decimal.Decimal) bool {
	return !h.infinite && h.ratio.LessThan(threshold)
}

func (h Health) String() string {
	if h.infinite {
		return "∞"
	}
	return h.ratio.StringFixed(4)
}

func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// HealthFactor evaluates collateral * thresholdBps/10000 / borrow.
func HealthFactor(collateralUSD, borrowUSD decimal.Decimal, thresholdBps uint32) (Health, error) {
	if collateralUSD.IsNegative() || borrowUSD.IsNegative() {
		return Health{}, fmt.Errorf("%w: values must be non-negative", ErrInvalidAmount)
	}
	if err := checkBps(thresholdBps); err != nil {
		return Health{}, err
	}
	if borrowUSD.IsZero() {
		return InfiniteHealth(), nil
	}
	weighted := collateralUSD.Mul(decimal.NewFromInt(int64(thresholdBps)))
	return FiniteHealth(weighted.DivRound(borrowUSD.Mul(bpsDenominator), quotePrecision)), nil
}

// HealthFromContract decodes the contract's six-decimal health factor, where
// the maximum u128 value signals a position without debt.
func HealthFromContract(raw *big.Int) (Health, error) {
	if raw == nil || raw.Sign() < 0 {
		return Health{}, fmt.Errorf("%w: contract health factor", ErrInvalidAmount)
	}
	if raw.Cmp(maxU128) == 0 {
		return InfiniteHealth(), nil
	}
	return FiniteHealth(decimal.NewFromBigInt(raw, -contractHealthScale)), nil
}

// Holding is one asset balance of a position together with its valuation inputs.
type Holding struct {
	Amount              *big.Int
	Decimals            uint8
	Price               decimal.Decimal
	CollateralFactorBps uint32
}

// Valuation aggregates a position into quote-currency totals.
type Valuation struct {
	Collateral         decimal.Decimal
	WeightedCollateral decimal.Decimal
	Debt               decimal.Decimal
}

// BorrowCapacity is how much more debt the weighted collateral supports.
func (v Valuation) BorrowCapacity() decimal.Decimal {
	room := v.WeightedCollateral.Sub(v.Debt)
	if room.IsNegative() {
		return decimal.Zero
	}
	return room
}

// Value sums supplied and borrowed holdings. Every holding must carry a price.
func Value(supplied, borrowed []Holding) (Valuation, error) {
	var out Valuation
	for _, h := range supplied {
		if !h.Price.IsPositive() {
			return Valuation{}, ErrPriceUnavailable
		}
		if err := checkBps(h.CollateralFactorBps); err != nil {
			return Valuation{}, err
		}
		value := ValueOf(h.Amount, h.Decimals, h.Price)
		out.Collateral = out.Collateral.Add(value)
		factor := decimal.NewFromInt(int64(h.CollateralFactorBps)).Div(bpsDenominator)
		out.WeightedCollateral = out.WeightedCollateral.Add(value.Mul(factor))
	}
	for _, h := range borrowed {
		if !h.Price.IsPositive() {
			return Valuation{}, ErrPriceUnavailable
		}
		out.Debt = out.Debt.Add(ValueOf(h.Amount, h.Decimals, h.Price))
	}
	return out, nil
}
