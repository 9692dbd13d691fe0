package rates_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/table-ledger/billing"
	"github.com/warp/table-ledger/rates"
)

func TestParse_PerMinuteCard(t *testing.T) {
	card, err := rates.NewFactory().Parse(`{
		"id": "snooker",
		"name": "Snooker table",
		"base_rate": "100.00",
		"default_payer_mode": "split",
		"included_minutes": 30,
		"overtime": {"mode": "per_minute", "rate_per_minute": "2.50", "grace_minutes": 5}
	}`)
	require.NoError(t, err)

	assert.Equal(t, "snooker", card.ID)
	assert.Equal(t, "100.00", card.BaseRate.String())
	assert.Equal(t, billing.PayerSplit, card.DefaultPayerMode)
	assert.Equal(t, billing.OvertimePerMinute, card.Overtime.Mode)
	assert.Equal(t, "2.50", card.Overtime.RatePerMinute.String())
}

func TestParse_Defaults(t *testing.T) {
	card, err := rates.NewFactory().Parse(rates.FlatJSON("pool", "", "40.00"))
	require.NoError(t, err)

	assert.Equal(t, "pool", card.Name, "name falls back to id")
	assert.Equal(t, billing.PayerLoser, card.DefaultPayerMode)
	assert.Equal(t, billing.OvertimeNone, card.Overtime.Mode)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"id":`},
		{"missing id", `{"base_rate": "10.00"}`},
		{"missing base rate", `{"id": "x"}`},
		{"negative base rate", `{"id": "x", "base_rate": "-1.00"}`},
		{"three decimals", `{"id": "x", "base_rate": "1.005"}`},
		{"bad payer mode", `{"id": "x", "base_rate": "1.00", "default_payer_mode": "HOUSE"}`},
		{"bad overtime mode", `{"id": "x", "base_rate": "1.00", "overtime": {"mode": "hourly"}}`},
		{"per minute without rate", `{"id": "x", "base_rate": "1.00", "overtime": {"mode": "per_minute"}}`},
		{"negative grace", `{"id": "x", "base_rate": "1.00", "overtime": {"mode": "lump_sum", "lump_sum": "5.00", "grace_minutes": -1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rates.NewFactory().Parse(tt.json)
			assert.Error(t, err)
		})
	}
}

func TestQuote_PerMinute(t *testing.T) {
	// GIVEN: 30 included minutes, 5 minutes grace, 2.50 per minute
	card, err := rates.NewFactory().Parse(rates.PerMinuteJSON("s", "S", "100.00", 30, "2.50", 5))
	require.NoError(t, err)

	tests := []struct {
		played  int
		minutes int
		amount  string
	}{
		{played: 20, minutes: 0, amount: "0.00"},
		{played: 30, minutes: 0, amount: "0.00"},
		{played: 35, minutes: 0, amount: "0.00"}, // inside grace
		{played: 36, minutes: 6, amount: "15.00"},
		{played: 42, minutes: 12, amount: "30.00"},
	}
	for _, tt := range tests {
		q, err := card.Quote(tt.played)
		require.NoError(t, err)
		assert.Equal(t, "100.00", q.BaseRate.String())
		assert.Equal(t, tt.minutes, q.OvertimeMinutes, "played %d", tt.played)
		assert.Equal(t, tt.amount, q.OvertimeAmount.String(), "played %d", tt.played)
	}
}

func TestQuote_LumpSum(t *testing.T) {
	card, err := rates.NewFactory().Parse(rates.LumpSumJSON("p", "Pool", "40.00", 60, "25.00"))
	require.NoError(t, err)

	q, err := card.Quote(60)
	require.NoError(t, err)
	assert.True(t, q.OvertimeAmount.IsZero())

	q, err = card.Quote(95)
	require.NoError(t, err)
	assert.Equal(t, 35, q.OvertimeMinutes)
	assert.Equal(t, "25.00", q.OvertimeAmount.String())
}

func TestQuote_NegativeMinutes(t *testing.T) {
	card, err := rates.NewFactory().Parse(rates.FlatJSON("f", "F", "10.00"))
	require.NoError(t, err)

	_, err = card.Quote(-1)
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := rates.NewFactory()
	card, err := f.Parse(rates.PerMinuteJSON("s", "S", "100.00", 30, "2.50", 5))
	require.NoError(t, err)

	again, err := f.FromJSON(card.ToJSON())
	require.NoError(t, err)
	assert.Equal(t, card, again)
}
