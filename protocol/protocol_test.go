package protocol

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestToChainAmountScalesAndTruncates(t *testing.T) {
	got, err := ToChainAmount("12.5", 6)
	require.NoError(t, err)
	require.Equal(t, "12500000", got.String())

	got, err = ToChainAmount("1.23456789", 6)
	require.NoError(t, err)
	require.Equal(t, "1234567", got.String())

	got, err = ToChainAmount("1", 18)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000", got.String())
}

func TestToChainAmountRejectsBadInput(t *testing.T) {
	for _, input := range []string{"", "  ", "-1", "abc", "NaN", "Inf", "1.2.3"} {
		_, err := ToChainAmount(input, 7)
		require.ErrorIs(t, err, ErrInvalidAmount, "input %q", input)
	}
}

func TestToChainAmountBoundsMagnitude(t *testing.T) {
	for _, input := range []string{"1e20000000", "1E5", "2.5e-3", "1234567890123456789012345678901234567890"} {
		_, err := ToChainAmount(input, 7)
		require.ErrorIs(t, err, ErrInvalidAmount, "input %q", input)
	}

	got, err := ToChainAmount("340282366920938463463374607431768211455", 0)
	require.NoError(t, err)
	require.Equal(t, 128, got.BitLen())

	_, err = ToChainAmount("340282366920938463463374607431768211456", 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ToChainAmount("340282366920938463463374607431768211455", 1)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestToHumanAmountRoundTrip(t *testing.T) {
	require.Equal(t, "12.5", ToHumanAmount(big.NewInt(12_500_000), 6))
	require.Equal(t, "0", ToHumanAmount(big.NewInt(0), 7))
	require.Equal(t, "0.000000000000000001", ToHumanAmount(big.NewInt(1), 18))

	for _, human := range []string{"0.0000001", "42", "1234.5678"} {
		chain, err := ToChainAmount(human, 7)
		require.NoError(t, err)
		require.Equal(t, human, ToHumanAmount(chain, 7))
	}
}

func TestEstimateSwapOutput(t *testing.T) {
	out, err := EstimateSwapOutput(dec("10"), dec("0.12"), dec("1.0"), 30)
	require.NoError(t, err)
	require.True(t, out.Equal(dec("1.1964")), "got %s", out)

	_, err = EstimateSwapOutput(dec("10"), dec("0.12"), decimal.Zero, 30)
	require.ErrorIs(t, err, ErrPriceUnavailable)

	_, err = EstimateSwapOutput(dec("-1"), dec("1"), dec("1"), 30)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = EstimateSwapOutput(dec("1"), dec("1"), dec("1"), 10_001)
	require.ErrorIs(t, err, ErrInvalidBps)
}

func TestMinimumOutput(t *testing.T) {
	got, err := MinimumOutput(big.NewInt(1_000_000), 50)
	require.NoError(t, err)
	require.Equal(t, int64(995_000), got.Int64())

	got, err = MinimumOutput(big.NewInt(999), 50)
	require.NoError(t, err)
	require.Equal(t, int64(994), got.Int64())

	got, err = MinimumOutput(big.NewInt(999), 10_000)
	require.NoError(t, err)
	require.Zero(t, got.Sign())

	_, err = MinimumOutput(big.NewInt(1), 10_001)
	require.ErrorIs(t, err, ErrInvalidBps)
}

func TestQuoteSwap(t *testing.T) {
	q, err := QuoteSwap(dec("10"), 7, 6, dec("0.12"), dec("1"), 30, 50)
	require.NoError(t, err)
	require.Equal(t, "100000000", q.AmountIn.String())
	require.Equal(t, "1196400", q.EstimatedOut.String())
	require.Equal(t, "1190418", q.MinAmountOut.String())
}

func TestQuoteSwapRoundsDown(t *testing.T) {
	q, err := QuoteSwap(dec("1"), 6, 18, dec("1"), dec("1.5"), 0, 0)
	require.NoError(t, err)
	require.Equal(t, "666666666666666666", q.EstimatedOut.String())
	require.Equal(t, "666666666666666666", q.MinAmountOut.String())
	require.True(t, q.EstimatedHuman.Equal(dec("0.666666666666666666")), "got %s", q.EstimatedHuman)

	q, err = QuoteSwap(dec("2"), 7, 18, dec("1"), dec("3"), 0, 10)
	require.NoError(t, err)
	require.Equal(t, "666666666666666666", q.EstimatedOut.String())
	require.LessOrEqual(t, q.MinAmountOut.Cmp(q.EstimatedOut), 0)
}

func TestHealthFactor(t *testing.T) {
	h, err := HealthFactor(dec("1000"), dec("500"), 8000)
	require.NoError(t, err)
	ratio, ok := h.Ratio()
	require.True(t, ok)
	require.True(t, ratio.Equal(dec("1.6")))
	require.False(t, h.Liquidatable())
	require.Equal(t, "1.6000", h.String())

	h, err = HealthFactor(dec("1000"), dec("900"), 8000)
	require.NoError(t, err)
	require.True(t, h.Liquidatable())
	require.True(t, h.Below(MinimumHealthyRatio))

	h, err = HealthFactor(dec("1000"), decimal.Zero, 8000)
	require.NoError(t, err)
	require.True(t, h.Infinite())
	require.False(t, h.Liquidatable())
	require.Equal(t, "∞", h.String())

	_, err = HealthFactor(dec("-1"), dec("1"), 8000)
	require.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestHealthFromContract(t *testing.T) {
	h, err := HealthFromContract(big.NewInt(1_500_000))
	require.NoError(t, err)
	ratio, _ := h.Ratio()
	require.True(t, ratio.Equal(dec("1.5")))

	h, err = HealthFromContract(new(big.Int).Set(maxU128))
	require.NoError(t, err)
	require.True(t, h.Infinite())
}

func TestValueAggregatesPosition(t *testing.T) {
	v, err := Value(
		[]Holding{
			{Amount: big.NewInt(100_000_000), Decimals: 6, Price: dec("1"), CollateralFactorBps: 8500},
			{Amount: big.NewInt(100_000_000), Decimals: 7, Price: dec("0.12"), CollateralFactorBps: 7000},
		},
		[]Holding{{Amount: big.NewInt(50_000_000), Decimals: 6, Price: dec("1")}},
	)
	require.NoError(t, err)
	require.True(t, v.Collateral.Equal(dec("101.2")), "collateral %s", v.Collateral)
	require.True(t, v.WeightedCollateral.Equal(dec("85.84")), "weighted %s", v.WeightedCollateral)
	require.True(t, v.Debt.Equal(dec("50")))
	require.True(t, v.BorrowCapacity().Equal(dec("35.84")))

	_, err = Value([]Holding{{Amount: big.NewInt(1), Decimals: 6}}, nil)
	require.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestEstimateSwapOutputScenarioAndMonotonicity(t *testing.T) {
	out, err := EstimateSwapOutput(dec("100"), dec("1.0"), dec("2.0"), 30)
	require.NoError(t, err)
	require.True(t, out.Equal(dec("49.85")), "got %s", out)

	prev := decimal.Zero
	for _, amount := range []string{"0.001", "1", "2.5", "100", "100000"} {
		got, err := EstimateSwapOutput(dec(amount), dec("0.12"), dec("1.05"), 50)
		require.NoError(t, err)
		require.True(t, got.GreaterThan(prev), "estimate not increasing at %s", amount)
		prev = got
	}
}

func TestMinimumOutputNeverExceedsEstimate(t *testing.T) {
	estimate := big.NewInt(123_456_789)
	for _, bps := range []uint32{0, 1, 30, 500, 9_999, 10_000} {
		got, err := MinimumOutput(estimate, bps)
		require.NoError(t, err)
		require.LessOrEqual(t, got.Cmp(estimate), 0)
		if bps == 0 {
			require.Zero(t, got.Cmp(estimate))
		}
	}
}

func TestHealthFactorDecreasesWithBorrow(t *testing.T) {
	var prev *decimal.Decimal
	for _, borrow := range []string{"1", "10", "250", "999.99"} {
		h, err := HealthFactor(dec("1000"), dec(borrow), DefaultLiquidationThresholdBps)
		require.NoError(t, err)
		ratio, ok := h.Ratio()
		require.True(t, ok)
		if prev != nil {
			require.True(t, ratio.LessThan(*prev))
		}
		prev = &ratio
	}
}
