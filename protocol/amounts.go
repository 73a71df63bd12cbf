// Package protocol holds the fixed-point arithmetic shared by quoting, call
// construction and position evaluation. Chain amounts are *big.Int integers in
// the asset's smallest unit; human amounts are decimal.Decimal values.
package protocol

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// BasisPoints is the denominator of every bps-denominated parameter.
const BasisPoints = 10_000

var (
	ErrInvalidAmount    = errors.New("protocol: invalid amount")
	ErrPriceUnavailable = errors.New("protocol: price unavailable")
	ErrInvalidBps       = errors.New("protocol: basis points out of range")
)

// maxIntegerDigits is the number of integer digits of the largest u128.
const maxIntegerDigits = 39

var (
	bpsDenominator = decimal.NewFromInt(BasisPoints)
	maxChainAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// ParseHuman parses a non-negative plain decimal string such as "12.5".
// Exponent notation is refused.
func ParseHuman(human string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(human)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.ContainsAny(trimmed, "eE") {
		return decimal.Zero, fmt.Errorf("%w: %q uses exponent notation", ErrInvalidAmount, human)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, human)
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, human)
	}
	if int64(value.NumDigits())+int64(value.Exponent()) > maxIntegerDigits {
		return decimal.Zero, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, human)
	}
	return value, nil
}

// ToChainAmount scales a human decimal string into integer chain units.
// Digits beyond the asset precision are truncated. The result fits a u128.
func ToChainAmount(human string, decimals uint8) (*big.Int, error) {
	value, err := ParseHuman(human)
	if err != nil {
		return nil, err
	}
	chain := ScaleToChain(value, decimals)
	if chain.Cmp(maxChainAmount) > 0 {
		return nil, fmt.Errorf("%w: %q exceeds the u128 range at %d decimals", ErrInvalidAmount, human, decimals)
	}
	return chain, nil
}

// ScaleToChain converts a non-negative decimal into chain units, rounding down.
func ScaleToChain(value decimal.Decimal, decimals uint8) *big.Int {
	return value.Shift(int32(decimals)).Floor().BigInt()
}

// ToHumanAmount renders chain units as a decimal string with trailing zeros trimmed.
func ToHumanAmount(chain *big.Int, decimals uint8) string {
	return ToDecimal(chain, decimals).String()
}

// ToDecimal converts chain units to a decimal without loss.
func ToDecimal(chain *big.Int, decimals uint8) decimal.Decimal {
	if chain == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(chain, -int32(decimals))
}

// ValueOf returns the quote-currency value of a chain amount at price.
func ValueOf(chain *big.Int, decimals uint8, price decimal.Decimal) decimal.Decimal {
	return ToDecimal(chain, decimals).Mul(price)
}

func checkBps(bps uint32) error {
	if bps > BasisPoints {
		return fmt.Errorf("%w: %d", ErrInvalidBps, bps)
	}
	return nil
}
