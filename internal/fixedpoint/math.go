package fixedpoint

import (
	"errors"
	"math/bits"
)

var (
	// ErrOverflow is returned when a checked operation would exceed the
	// uint64 range (or the 128-bit intermediate cannot be narrowed back).
	ErrOverflow = errors.New("fixedpoint: arithmetic overflow")

	// ErrUnderflow is returned when a checked subtraction would go below zero.
	ErrUnderflow = errors.New("fixedpoint: arithmetic underflow")

	// ErrDivisionByZero is returned when a checked division has a zero divisor.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
)

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrUnderflow.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// CheckedMul returns a*b or ErrOverflow if the product does not fit uint64.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// CheckedDiv returns a/b (floor) or ErrDivisionByZero.
func CheckedDiv(a, b uint64) (uint64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return a / b, nil
}

// CheckedPow10 returns 10^n or ErrOverflow for n > 19.
func CheckedPow10(n uint32) (uint64, error) {
	if n >= uint64Pow10Len {
		return 0, ErrOverflow
	}
	return uint64Pow10[n], nil
}

// WrappingAdd returns a+b modulo 2^64. Reserved for telemetry counters
// where a deliberate wrap is cheaper than failing the settlement.
func WrappingAdd(a, b uint64) uint64 {
	return a + b
}

// SaturatingSub returns a-b floored at zero. Reserved for open-interest
// counters that must never fail the settlement on a stale total.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

const uint64Pow10Len = 20

// uint64Pow10[n] == 10^n; 10^19 is the largest power of ten below 2^64.
var uint64Pow10 = [uint64Pow10Len]uint64{
	1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000,
	100_000_000, 1_000_000_000, 10_000_000_000, 100_000_000_000,
	1_000_000_000_000, 10_000_000_000_000, 100_000_000_000_000,
	1_000_000_000_000_000, 10_000_000_000_000_000,
	100_000_000_000_000_000, 1_000_000_000_000_000_000,
	10_000_000_000_000_000_000,
}

// u128 is an unsigned 128-bit intermediate used to keep decimal products
// exact before narrowing back to uint64.
type u128 struct {
	hi, lo uint64
}

func mul128(a, b uint64) u128 {
	hi, lo := bits.Mul64(a, b)
	return u128{hi: hi, lo: lo}
}

// mulSmall multiplies a 128-bit value by a uint64, failing on overflow.
func (v u128) mulSmall(m uint64) (u128, error) {
	hi1, lo := bits.Mul64(v.lo, m)
	hi2, hiOverflow := bits.Mul64(v.hi, m)
	if hiOverflow != 0 {
		return u128{}, ErrOverflow
	}
	hi, carry := bits.Add64(hi1, hi2, 0)
	if carry != 0 {
		return u128{}, ErrOverflow
	}
	return u128{hi: hi, lo: lo}, nil
}

// divSmall divides a 128-bit value by a uint64 (floor).
func (v u128) divSmall(d uint64) (u128, error) {
	if d == 0 {
		return u128{}, ErrDivisionByZero
	}
	qhi := v.hi / d
	rem := v.hi % d
	qlo, _ := bits.Div64(rem, v.lo, d)
	return u128{hi: qhi, lo: qlo}, nil
}

// toUint64 narrows to uint64, failing when the high word is non-zero.
func (v u128) toUint64() (uint64, error) {
	if v.hi != 0 {
		return 0, ErrOverflow
	}
	return v.lo, nil
}

// MulDiv computes a*b/c with a 128-bit intermediate product, returning
// the floor quotient narrowed to uint64.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivisionByZero
	}
	q, err := mul128(a, b).divSmall(c)
	if err != nil {
		return 0, err
	}
	return q.toUint64()
}
