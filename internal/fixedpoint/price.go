// Package fixedpoint implements the mantissa+exponent price representation
// and the checked decimal arithmetic the settlement engine is built on.
//
// A Price holds value = Mantissa * 10^Exponent with a non-negative domain.
// Every operation that can overflow, underflow, or divide by zero returns an
// error instead of producing a wrong number; settlement math is fail-closed.
// All monetary results stay in integer base units; shopspring/decimal is used
// only at the display boundary, never inside settlement arithmetic.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// DivisionScaleExponent keeps quotient precision independent of operand
	// scale: checked division pre-multiplies the dividend by 10^9.
	DivisionScaleExponent int32 = -9

	divisionScale uint64 = 1_000_000_000

	// MaxMantissa is the normalized mantissa bound (2^28 - 1). Normalizing
	// both operands below it keeps 128-bit intermediate products in range.
	MaxMantissa uint64 = 1<<28 - 1

	// USDDecimals is the implied decimal count of all USD amounts.
	USDDecimals uint8 = 6

	// PriceDecimals is the implied decimal count of stored entry prices.
	PriceDecimals uint8 = 6

	// BpsPower scales basis-point ratios (10_000 bps = 100%).
	BpsPower uint64 = 10_000
)

// ErrIncomparable is returned by Cmp when rescaling one operand to the
// other's exponent overflows; callers must not rely on any ordering then.
var ErrIncomparable = errors.New("fixedpoint: prices are incomparable")

// Price is a non-negative fixed-point value: Mantissa * 10^Exponent.
type Price struct {
	Mantissa uint64 `json:"mantissa"`
	Exponent int32  `json:"exponent"`
}

// New returns a price with the given mantissa and exponent.
func New(mantissa uint64, exponent int32) Price {
	return Price{Mantissa: mantissa, Exponent: exponent}
}

// FromTokenAmount expresses a token amount as a fixed-point value with the
// token's decimal count as negative exponent.
func FromTokenAmount(amount uint64, decimals uint8) Price {
	return Price{Mantissa: amount, Exponent: -int32(decimals)}
}

// IsZero reports whether the value is zero.
func (p Price) IsZero() bool { return p.Mantissa == 0 }

// Normalize divides the mantissa by 10 (discarding one low-order decimal
// digit per step) until it fits MaxMantissa. Required before multiply or
// divide so 128-bit intermediates stay in range.
func (p Price) Normalize() (Price, error) {
	m := p.Mantissa
	e := p.Exponent
	for m > MaxMantissa {
		m /= 10
		e++
	}
	return Price{Mantissa: m, Exponent: e}, nil
}

// ScaleToExponent re-expresses the value at the target exponent. Scaling up
// (target > current) floors away low-order digits; scaling down is exact but
// can overflow, which fails the call.
func (p Price) ScaleToExponent(target int32) (Price, error) {
	if target == p.Exponent {
		return p, nil
	}
	delta := target - p.Exponent
	if delta > 0 {
		pow, err := CheckedPow10(uint32(delta))
		if err != nil {
			return Price{}, err
		}
		return Price{Mantissa: p.Mantissa / pow, Exponent: target}, nil
	}
	pow, err := CheckedPow10(uint32(-delta))
	if err != nil {
		return Price{}, err
	}
	m, err := CheckedMul(p.Mantissa, pow)
	if err != nil {
		return Price{}, err
	}
	return Price{Mantissa: m, Exponent: target}, nil
}

// Mul returns the checked product: mantissas multiply, exponents add.
func (p Price) Mul(other Price) (Price, error) {
	m, err := CheckedMul(p.Mantissa, other.Mantissa)
	if err != nil {
		return Price{}, err
	}
	return Price{Mantissa: m, Exponent: p.Exponent + other.Exponent}, nil
}

// Div returns the checked quotient. Both operands are normalized first and
// the dividend is pre-scaled by 10^9 so precision is independent of operand
// scale. Fails on a zero divisor.
func (p Price) Div(other Price) (Price, error) {
	base, err := p.Normalize()
	if err != nil {
		return Price{}, err
	}
	div, err := other.Normalize()
	if err != nil {
		return Price{}, err
	}
	scaled, err := CheckedMul(base.Mantissa, divisionScale)
	if err != nil {
		return Price{}, err
	}
	m, err := CheckedDiv(scaled, div.Mantissa)
	if err != nil {
		return Price{}, err
	}
	return Price{
		Mantissa: m,
		Exponent: base.Exponent + DivisionScaleExponent - div.Exponent,
	}, nil
}

// Cmp orders two prices by rescaling the operand with the larger exponent
// down to the smaller exponent (the lossless direction) and comparing
// mantissas. Returns ErrIncomparable when that rescale overflows.
func (p Price) Cmp(other Price) (int, error) {
	lhs, rhs := p.Mantissa, other.Mantissa
	switch {
	case p.Exponent == other.Exponent:
	case p.Exponent < other.Exponent:
		scaled, err := other.ScaleToExponent(p.Exponent)
		if err != nil {
			return 0, ErrIncomparable
		}
		rhs = scaled.Mantissa
	default:
		scaled, err := p.ScaleToExponent(other.Exponent)
		if err != nil {
			return 0, ErrIncomparable
		}
		lhs = scaled.Mantissa
	}
	switch {
	case lhs < rhs:
		return -1, nil
	case lhs > rhs:
		return 1, nil
	default:
		return 0, nil
	}
}

// Minimum returns the lower of two prices. For stable assets the result is
// additionally capped at the $1 peg reference.
func (p Price) Minimum(other Price, isStable bool) (Price, error) {
	cmp, err := p.Cmp(other)
	if err != nil {
		return Price{}, err
	}
	min := p
	if cmp > 0 {
		min = other
	}
	if !isStable {
		return min, nil
	}
	if min.Exponent > 0 {
		if min.Mantissa == 0 {
			return min, nil
		}
		// Positive exponent means the value is at least 1: pin to $1.00.
		return Price{Mantissa: 1_000_000, Exponent: -6}, nil
	}
	oneUnit, err := CheckedPow10(uint32(-min.Exponent))
	if err != nil {
		return Price{}, err
	}
	if min.Mantissa > oneUnit {
		return Price{Mantissa: oneUnit, Exponent: min.Exponent}, nil
	}
	return min, nil
}

// AssetAmountToUSD converts a token amount to a USD amount with implied
// USDDecimals decimals, truncating to an integer. Returns 0 for a zero
// amount or zero price; fails closed on overflow.
func (p Price) AssetAmountToUSD(tokenAmount uint64, tokenDecimals uint8) (uint64, error) {
	if tokenAmount == 0 || p.Mantissa == 0 {
		return 0, nil
	}
	return decimalMul(
		tokenAmount, -int32(tokenDecimals),
		p.Mantissa, p.Exponent,
		-int32(USDDecimals),
	)
}

// USDToAssetAmount converts a USD amount (implied USDDecimals decimals) to
// token base units, truncating to an integer; fails closed on overflow.
func (p Price) USDToAssetAmount(usdAmount uint64, tokenDecimals uint8) (uint64, error) {
	if usdAmount == 0 || p.Mantissa == 0 {
		return 0, nil
	}
	return decimalDiv(
		usdAmount, -int32(USDDecimals),
		p.Mantissa, p.Exponent,
		-int32(tokenDecimals),
	)
}

// Decimal converts the price to a shopspring decimal for display, JSON
// responses, and metrics. Never used inside settlement arithmetic.
func (p Price) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(p.Mantissa), p.Exponent)
}

// String renders the decimal value, e.g. "123.45".
func (p Price) String() string {
	return p.Decimal().String()
}

// decimalMul multiplies two fixed-point coefficients and re-expresses the
// product at targetExp with floor truncation, checked end to end.
func decimalMul(c1 uint64, e1 int32, c2 uint64, e2 int32, targetExp int32) (uint64, error) {
	prod := mul128(c1, c2)
	return rescale128(prod, e1+e2, targetExp)
}

// decimalDiv divides two fixed-point coefficients using the 10^9 division
// scale and re-expresses the quotient at targetExp, checked end to end.
func decimalDiv(c1 uint64, e1 int32, c2 uint64, e2 int32, targetExp int32) (uint64, error) {
	if c2 == 0 {
		return 0, ErrDivisionByZero
	}
	scaled, err := mul128(c1, divisionScale).divSmall(c2)
	if err != nil {
		return 0, err
	}
	return rescale128(scaled, e1+DivisionScaleExponent-e2, targetExp)
}

// rescale128 moves a 128-bit coefficient from exp to targetExp, flooring in
// the lossy direction and failing on overflow in the exact direction.
func rescale128(v u128, exp, targetExp int32) (uint64, error) {
	delta := targetExp - exp
	if delta > 0 {
		pow, err := CheckedPow10(uint32(delta))
		if err != nil {
			return 0, err
		}
		q, err := v.divSmall(pow)
		if err != nil {
			return 0, err
		}
		return q.toUint64()
	}
	if delta < 0 {
		pow, err := CheckedPow10(uint32(-delta))
		if err != nil {
			return 0, err
		}
		p, err := v.mulSmall(pow)
		if err != nil {
			return 0, err
		}
		return p.toUint64()
	}
	return v.toUint64()
}

// Float64 converts the value for display and metrics only; settlement math
// never touches floats.
func (p Price) Float64() (float64, error) {
	f, ok := p.Decimal().Float64()
	_ = ok // Float64 is best-effort by definition; exactness not required here.
	if f != f {
		return 0, fmt.Errorf("fixedpoint: value %d*10^%d is not representable", p.Mantissa, p.Exponent)
	}
	return f, nil
}
