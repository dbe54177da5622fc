// Package units converts between human decimal token amounts and on-chain
// base units. All arithmetic goes through shopspring/decimal so shifting by
// 10^18 never passes through a float.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed scale of every supported token.
const Decimals int32 = 18

// ErrInvalidAmount is returned for amounts that cannot be staked.
var ErrInvalidAmount = errors.New("invalid amount")

// Sanitize filters raw amount input the way the stake form does: only digits
// and a single decimal point survive. Anything after a second point is
// dropped, so "12.34.56" becomes "12.34".
func Sanitize(input string) string {
	var b strings.Builder
	for _, r := range input {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	parts := strings.Split(b.String(), ".")
	if len(parts) > 2 {
		return parts[0] + "." + parts[1]
	}
	return b.String()
}

// Parse parses a plain decimal string. Signs, exponents, separators and more
// than one decimal point are rejected.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, fmt.Errorf("%w: %q has more than one decimal point", ErrInvalidAmount, s)
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return decimal.Zero, fmt.Errorf("%w: %q contains %q", ErrInvalidAmount, s, r)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return d, nil
}

// ParsePositive parses s and requires a value greater than zero.
func ParsePositive(s string) (decimal.Decimal, error) {
	d, err := Parse(s)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	return d, nil
}

// ToBaseUnits shifts d by 10^decimals. Amounts with more fractional digits
// than the token supports are rejected rather than rounded.
func ToBaseUnits(d decimal.Decimal, decimals int32) (*big.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount", ErrInvalidAmount)
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: more than %d fractional digits", ErrInvalidAmount, decimals)
	}
	return shifted.BigInt(), nil
}

// ParseBaseUnits is Parse followed by ToBaseUnits at the fixed scale.
func ParseBaseUnits(s string) (*big.Int, error) {
	d, err := ParsePositive(s)
	if err != nil {
		return nil, err
	}
	return ToBaseUnits(d, Decimals)
}

// FromBaseUnits converts an on-chain integer amount to a decimal.
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// Format renders a base-unit amount with at most places fractional digits,
// truncating rather than rounding up.
func Format(v *big.Int, decimals int32, places int32) string {
	return FromBaseUnits(v, decimals).Truncate(places).String()
}

// AmountFromPercent returns pct percent of balance as an input string with
// two fractional digits. The value is truncated so 100% never exceeds the
// balance. pct is clamped to [0, 100].
func AmountFromPercent(balance *big.Int, decimals int32, pct float64) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	bal := FromBaseUnits(balance, decimals)
	amount := bal.Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
	return amount.Truncate(2).StringFixed(2)
}
