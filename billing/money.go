/*
money.go - Exact fixed-point money

PURPOSE:
  Every amount in the billing engine (rates, fines, charges, payments,
  allocations, balances) is a Money. Money wraps decimal.Decimal and is
  held to exactly two decimal places. There is no float path anywhere:
  constructors take strings, integer cents, or decimals.

PRECISION RULES:
  - A value with more than two decimal places is rejected, never rounded.
  - A value whose magnitude exceeds MaxMoney is rejected (overflow).
  - Both failures are ArithmeticError (see errors.go).

DIVISION:
  Money is never divided with rounding. SplitEven works in integer cents
  and returns the remainder explicitly so the caller decides who gets it.

EXAMPLE:
  total := billing.MustMoney("100.01")
  share, rem, _ := total.SplitEven(3) // 33.33, 0.02
*/
package billing

import (
	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places carried by every Money value.
const Scale = 2

// MaxMoney bounds the magnitude of any amount the engine will hold.
var MaxMoney = decimal.RequireFromString("999999999999.99")

type Money struct {
	Value decimal.Decimal
}

// Zero is the zero amount.
var Zero = Money{Value: decimal.Zero}

// NewMoney validates d and wraps it.
func NewMoney(d decimal.Decimal) (Money, error) {
	m := Money{Value: d}
	if err := m.check("new"); err != nil {
		return Money{}, err
	}
	return m, nil
}

// ParseMoney parses a decimal string such as "12.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, &InvalidAmountError{Field: "amount", Value: s, Reason: "not a decimal number"}
	}
	return NewMoney(d)
}

// MustMoney is ParseMoney for literals; it panics on bad input.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Cents builds a Money from an integer number of cents.
func Cents(c int64) Money {
	return Money{Value: decimal.New(c, -Scale)}
}

func (m Money) check(op string) error {
	if m.Value.Exponent() < -Scale {
		// trailing zeros are not extra precision: "1.500" is fine
		if !m.Value.Equal(m.Value.Truncate(Scale)) {
			return &ArithmeticError{Op: op, Value: m.Value.String(), Reason: "more than two decimal places"}
		}
	}
	if m.Value.Abs().GreaterThan(MaxMoney) {
		return &ArithmeticError{Op: op, Value: m.Value.String(), Reason: "exceeds maximum representable amount"}
	}
	return nil
}

// Add returns m+o. Fails only on overflow.
func (m Money) Add(o Money) (Money, error) {
	r := Money{Value: m.Value.Add(o.Value)}
	if err := r.check("add"); err != nil {
		return Money{}, err
	}
	return r, nil
}

// Sub returns m-o. Fails only on overflow.
func (m Money) Sub(o Money) (Money, error) {
	r := Money{Value: m.Value.Sub(o.Value)}
	if err := r.check("sub"); err != nil {
		return Money{}, err
	}
	return r, nil
}

// SplitEven divides m into n equal shares of whole cents. The leftover
// cents (0 <= rem < n cents) are returned separately.
func (m Money) SplitEven(n int) (share Money, rem Money, err error) {
	if n <= 0 {
		return Money{}, Money{}, &ArithmeticError{Op: "split", Value: m.String(), Reason: "non-positive divisor"}
	}
	cents := m.Value.Shift(Scale)
	if !cents.Equal(cents.Truncate(0)) {
		return Money{}, Money{}, &ArithmeticError{Op: "split", Value: m.String(), Reason: "fractional cents"}
	}
	q, r := cents.QuoRem(decimal.NewFromInt(int64(n)), 0)
	return Money{Value: q.Shift(-Scale)}, Money{Value: r.Shift(-Scale)}, nil
}

func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) Equal(o Money) bool          { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool    { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool       { return m.Value.LessThan(o.Value) }
func (m Money) GreaterOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

// ClampZero returns m, or zero when m is negative.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return Zero
	}
	return m
}

// String renders the amount with exactly two decimals.
func (m Money) String() string { return m.Value.StringFixed(Scale) }

// Sum adds amounts, failing on overflow.
func Sum(amounts ...Money) (Money, error) {
	total := Zero
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}
