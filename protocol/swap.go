package protocol

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultFeeBps is the hub's swap fee.
const DefaultFeeBps uint32 = 50

// quotePrecision is the number of fractional digits kept when dividing prices.
const quotePrecision = 18

// EstimateSwapOutput prices amountIn of one asset in units of another:
// amountIn * priceIn / priceOut * (1 - feeBps/10000), truncated to
// quotePrecision digits so a quote never promises more than the pool pays.
func EstimateSwapOutput(amountIn, priceIn, priceOut decimal.Decimal, feeBps uint32) (decimal.Decimal, error) {
	if amountIn.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative input %s", ErrInvalidAmount, amountIn)
	}
	if !priceIn.IsPositive() || !priceOut.IsPositive() {
		return decimal.Zero, ErrPriceUnavailable
	}
	if err := checkBps(feeBps); err != nil {
		return decimal.Zero, err
	}
	keep := decimal.NewFromInt(int64(BasisPoints - feeBps))
	gross := amountIn.Mul(priceIn).Mul(keep)
	q, _ := gross.QuoRem(priceOut.Mul(bpsDenominator), quotePrecision)
	return q, nil
}

// MinimumOutput applies a slippage tolerance to an estimated output in chain
// units, rounding down.
func MinimumOutput(estimated *big.Int, slippageBps uint32) (*big.Int, error) {
	if estimated == nil || estimated.Sign() < 0 {
		return nil, fmt.Errorf("%w: estimate must be non-negative", ErrInvalidAmount)
	}
	if err := checkBps(slippageBps); err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(estimated, big.NewInt(int64(BasisPoints-slippageBps)))
	return out.Quo(out, big.NewInt(BasisPoints)), nil
}

// Quote is a priced swap with its chain-unit bounds.
type Quote struct {
	AmountIn       *big.Int
	EstimatedOut   *big.Int
	MinAmountOut   *big.Int
	EstimatedHuman decimal.Decimal
	FeeBps         uint32
	SlippageBps    uint32
	PriceIn        decimal.Decimal
	PriceOut       decimal.Decimal
}

// QuoteSwap combines estimation and slippage for a human input amount.
func QuoteSwap(amountIn decimal.Decimal, decimalsIn, decimalsOut uint8, priceIn, priceOut decimal.Decimal, feeBps, slippageBps uint32) (Quote, error) {
	estimated, err := EstimateSwapOutput(amountIn, priceIn, priceOut, feeBps)
	if err != nil {
		return Quote{}, err
	}
	estimatedChain := ScaleToChain(estimated, decimalsOut)
	minOut, err := MinimumOutput(estimatedChain, slippageBps)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		AmountIn:       ScaleToChain(amountIn, decimalsIn),
		EstimatedOut:   estimatedChain,
		MinAmountOut:   minOut,
		EstimatedHuman: estimated,
		FeeBps:         feeBps,
		SlippageBps:    slippageBps,
		PriceIn:        priceIn,
		PriceOut:       priceOut,
	}, nil
}
