package billing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/table-ledger/billing"
)

func TestParseMoney(t *testing.T) {
	m, err := billing.ParseMoney("12.5")
	require.NoError(t, err)
	assert.Equal(t, "12.50", m.String())

	m, err = billing.ParseMoney("1.500")
	require.NoError(t, err, "trailing zeros are not extra precision")
	assert.Equal(t, "1.50", m.String())

	_, err = billing.ParseMoney("abc")
	assert.ErrorIs(t, err, billing.ErrValidation)
	assert.ErrorIs(t, err, billing.ErrInvalidAmount)

	_, err = billing.ParseMoney("0.001")
	assert.ErrorIs(t, err, billing.ErrArithmetic, "three decimals are rejected, not rounded")
}

func TestMoney_Overflow(t *testing.T) {
	_, err := billing.ParseMoney("1000000000000.00")
	assert.ErrorIs(t, err, billing.ErrArithmetic)

	hi := billing.Money{Value: billing.MaxMoney}
	_, err = hi.Add(billing.Cents(1))
	var ae *billing.ArithmeticError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "add", ae.Op)

	lo := billing.Money{Value: billing.MaxMoney.Neg()}
	_, err = lo.Sub(billing.Cents(1))
	assert.ErrorIs(t, err, billing.ErrArithmetic)
}

func TestMoney_NewMoneyRejectsPrecision(t *testing.T) {
	_, err := billing.NewMoney(decimal.RequireFromString("3.14159"))
	assert.ErrorIs(t, err, billing.ErrArithmetic)
}

func TestSplitEven(t *testing.T) {
	tests := []struct {
		total string
		n     int
		share string
		rem   string
	}{
		{"100.01", 3, "33.33", "0.02"},
		{"100.00", 4, "25.00", "0.00"},
		{"0.01", 2, "0.00", "0.01"},
		{"0.00", 5, "0.00", "0.00"},
		{"10.00", 3, "3.33", "0.01"},
	}
	for _, tt := range tests {
		share, rem, err := billing.MustMoney(tt.total).SplitEven(tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.share, share.String(), "%s / %d", tt.total, tt.n)
		assert.Equal(t, tt.rem, rem.String(), "%s / %d", tt.total, tt.n)
	}

	_, _, err := billing.MustMoney("1.00").SplitEven(0)
	assert.Error(t, err)
}

func TestMoney_Helpers(t *testing.T) {
	a, b := billing.MustMoney("5.00"), billing.MustMoney("7.25")

	assert.Equal(t, "5.00", a.Min(b).String())
	assert.Equal(t, "0.00", billing.MustMoney("-3.00").ClampZero().String())
	assert.True(t, b.GreaterThan(a))
	assert.True(t, a.GreaterOrEqual(billing.Cents(500)))

	sum, err := billing.Sum(a, b, billing.Cents(75))
	require.NoError(t, err)
	assert.Equal(t, "13.00", sum.String())
}
