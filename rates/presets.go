/*
presets.go - Ready-made rate card JSON

Starting points for common venue setups. They return JSON so they go
through the same Factory.Parse validation as a card typed into the admin UI.

EXAMPLE:
  card, err := rates.NewFactory().Parse(rates.PerMinuteJSON("snooker", "Snooker", "100.00", 30, "2.50", 5))
*/
package rates

import (
	"encoding/json"

	"github.com/warp/table-ledger/billing"
)

// FlatJSON is a card that charges only the base rate, whatever the length.
func FlatJSON(id, name, baseRate string) string {
	return mustJSON(RateCardJSON{
		ID:               id,
		Name:             name,
		BaseRate:         baseRate,
		DefaultPayerMode: string(billing.PayerLoser),
	})
}

// PerMinuteJSON charges ratePerMinute for every minute past includedMinutes
// once the grace period is exceeded.
func PerMinuteJSON(id, name, baseRate string, includedMinutes int, ratePerMinute string, graceMinutes int) string {
	return mustJSON(RateCardJSON{
		ID:               id,
		Name:             name,
		BaseRate:         baseRate,
		DefaultPayerMode: string(billing.PayerLoser),
		IncludedMinutes:  includedMinutes,
		Overtime: &OvertimeJSON{
			Mode:          string(billing.OvertimePerMinute),
			RatePerMinute: ratePerMinute,
			GraceMinutes:  graceMinutes,
		},
	})
}

// LumpSumJSON charges a flat lumpSum once the frame overruns.
func LumpSumJSON(id, name, baseRate string, includedMinutes int, lumpSum string) string {
	return mustJSON(RateCardJSON{
		ID:               id,
		Name:             name,
		BaseRate:         baseRate,
		DefaultPayerMode: string(billing.PayerSplit),
		IncludedMinutes:  includedMinutes,
		Overtime: &OvertimeJSON{
			Mode:    string(billing.OvertimeLumpSum),
			LumpSum: lumpSum,
		},
	})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
