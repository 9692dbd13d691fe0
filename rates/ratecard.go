/*
Package rates converts JSON rate cards into billing inputs.

PURPOSE:
  A rate card says what a table costs: the base rate per frame, how many
  minutes that base rate covers, how overtime is charged beyond it, and
  which payer mode a new frame defaults to. Venues edit cards as JSON (admin
  UI, database row) and the factory turns them into a validated RateCard.

JSON SCHEMA:
  {
    "id": "snooker-standard",
    "name": "Snooker table",
    "base_rate": "100.00",
    "default_payer_mode": "LOSER",
    "included_minutes": 30,
    "overtime": {
      "mode": "per_minute",
      "rate_per_minute": "2.50",
      "grace_minutes": 5
    }
  }

OVERTIME MODES:
  none        overtime is never charged
  per_minute  (played - included) minutes × rate_per_minute, once past grace
  lump_sum    a fixed lump_sum once played exceeds included + grace

  Grace only decides WHETHER overtime applies. Once it does, every minute
  beyond included_minutes counts.

USAGE:
  card, err := rates.NewFactory().Parse(jsonStr)
  q, err := card.Quote(42)
  engine.CompleteFrame(ctx, billing.FrameCompletion{
      OvertimeMinutes: q.OvertimeMinutes,
      OvertimeAmount:  q.OvertimeAmount,
      ...
  })
*/
package rates

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/table-ledger/billing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RateCardJSON is the JSON representation of a rate card. Money fields are
// decimal strings so no float ever touches an amount.
type RateCardJSON struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	BaseRate         string        `json:"base_rate"`
	DefaultPayerMode string        `json:"default_payer_mode,omitempty"`
	IncludedMinutes  int           `json:"included_minutes,omitempty"`
	Overtime         *OvertimeJSON `json:"overtime,omitempty"`
}

// OvertimeJSON represents the overtime rule.
type OvertimeJSON struct {
	Mode          string `json:"mode"` // none, per_minute, lump_sum
	RatePerMinute string `json:"rate_per_minute,omitempty"`
	LumpSum       string `json:"lump_sum,omitempty"`
	GraceMinutes  int    `json:"grace_minutes,omitempty"`
}

// =============================================================================
// RATE CARD
// =============================================================================

type OvertimeRule struct {
	Mode          billing.OvertimeMode
	RatePerMinute billing.Money
	LumpSum       billing.Money
	GraceMinutes  int
}

// RateCard is a validated rate card.
type RateCard struct {
	ID               string
	Name             string
	BaseRate         billing.Money
	DefaultPayerMode billing.PayerMode
	IncludedMinutes  int
	Overtime         OvertimeRule
}

// Quote is what a card charges for a frame of a given length.
type Quote struct {
	BaseRate        billing.Money
	OvertimeMinutes int
	OvertimeAmount  billing.Money
}

// Quote prices playedMinutes against the card.
func (c *RateCard) Quote(playedMinutes int) (Quote, error) {
	minutes, amount, err := c.OvertimeFor(playedMinutes)
	if err != nil {
		return Quote{}, err
	}
	return Quote{BaseRate: c.BaseRate, OvertimeMinutes: minutes, OvertimeAmount: amount}, nil
}

// OvertimeFor returns the billable overtime minutes and their amount.
func (c *RateCard) OvertimeFor(playedMinutes int) (int, billing.Money, error) {
	if playedMinutes < 0 {
		return 0, billing.Zero, &billing.InvalidAmountError{
			Field: "played_minutes", Value: fmt.Sprint(playedMinutes), Reason: "must not be negative",
		}
	}
	over := playedMinutes - c.IncludedMinutes
	if over <= 0 || over <= c.Overtime.GraceMinutes {
		return 0, billing.Zero, nil
	}

	switch c.Overtime.Mode {
	case billing.OvertimeNone, "":
		return 0, billing.Zero, nil
	case billing.OvertimeLumpSum:
		return over, c.Overtime.LumpSum, nil
	case billing.OvertimePerMinute:
		amount, err := billing.NewMoney(c.Overtime.RatePerMinute.Value.Mul(decimal.NewFromInt(int64(over))))
		if err != nil {
			return 0, billing.Zero, err
		}
		return over, amount, nil
	default:
		return 0, billing.Zero, fmt.Errorf("unknown overtime mode %q: %w", c.Overtime.Mode, billing.ErrValidation)
	}
}

// ToJSON converts the card back to its JSON form.
func (c *RateCard) ToJSON() RateCardJSON {
	rj := RateCardJSON{
		ID:               c.ID,
		Name:             c.Name,
		BaseRate:         c.BaseRate.String(),
		DefaultPayerMode: string(c.DefaultPayerMode),
		IncludedMinutes:  c.IncludedMinutes,
	}
	if c.Overtime.Mode != billing.OvertimeNone {
		rj.Overtime = &OvertimeJSON{Mode: string(c.Overtime.Mode), GraceMinutes: c.Overtime.GraceMinutes}
		switch c.Overtime.Mode {
		case billing.OvertimePerMinute:
			rj.Overtime.RatePerMinute = c.Overtime.RatePerMinute.String()
		case billing.OvertimeLumpSum:
			rj.Overtime.LumpSum = c.Overtime.LumpSum.String()
		}
	}
	return rj
}

// =============================================================================
// FACTORY
// =============================================================================

// Factory converts JSON rate cards to RateCards.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// Parse parses a JSON string into a RateCard.
func (f *Factory) Parse(jsonStr string) (*RateCard, error) {
	var rj RateCardJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return nil, fmt.Errorf("failed to parse rate card JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON validates rj and builds a RateCard.
func (f *Factory) FromJSON(rj RateCardJSON) (*RateCard, error) {
	if strings.TrimSpace(rj.ID) == "" {
		return nil, fmt.Errorf("rate card id is required: %w", billing.ErrValidation)
	}
	if rj.IncludedMinutes < 0 {
		return nil, &billing.InvalidAmountError{Field: "included_minutes", Value: fmt.Sprint(rj.IncludedMinutes), Reason: "must not be negative"}
	}

	base, err := parseAmount("base_rate", rj.BaseRate)
	if err != nil {
		return nil, err
	}

	card := &RateCard{
		ID:               rj.ID,
		Name:             rj.Name,
		BaseRate:         base,
		DefaultPayerMode: billing.PayerLoser,
		IncludedMinutes:  rj.IncludedMinutes,
		Overtime:         OvertimeRule{Mode: billing.OvertimeNone},
	}
	if card.Name == "" {
		card.Name = card.ID
	}
	if rj.DefaultPayerMode != "" {
		mode, err := billing.ParsePayerMode(rj.DefaultPayerMode)
		if err != nil {
			return nil, err
		}
		card.DefaultPayerMode = mode
	}

	if rj.Overtime != nil {
		rule, err := parseOvertime(*rj.Overtime)
		if err != nil {
			return nil, err
		}
		card.Overtime = rule
	}
	return card, nil
}

func parseOvertime(oj OvertimeJSON) (OvertimeRule, error) {
	rule := OvertimeRule{
		Mode:         billing.OvertimeMode(strings.ToLower(oj.Mode)),
		GraceMinutes: oj.GraceMinutes,
	}
	if rule.Mode == "" {
		rule.Mode = billing.OvertimeNone
	}
	if !rule.Mode.Valid() {
		return rule, fmt.Errorf("unknown overtime mode %q: %w", oj.Mode, billing.ErrValidation)
	}
	if rule.GraceMinutes < 0 {
		return rule, &billing.InvalidAmountError{Field: "grace_minutes", Value: fmt.Sprint(oj.GraceMinutes), Reason: "must not be negative"}
	}

	var err error
	switch rule.Mode {
	case billing.OvertimePerMinute:
		rule.RatePerMinute, err = parseAmount("rate_per_minute", oj.RatePerMinute)
	case billing.OvertimeLumpSum:
		rule.LumpSum, err = parseAmount("lump_sum", oj.LumpSum)
	}
	return rule, err
}

func parseAmount(field, s string) (billing.Money, error) {
	if strings.TrimSpace(s) == "" {
		return billing.Zero, &billing.InvalidAmountError{Field: field, Value: s, Reason: "is required"}
	}
	m, err := billing.ParseMoney(s)
	if err != nil {
		return billing.Zero, fmt.Errorf("%s: %w", field, err)
	}
	if m.IsNegative() {
		return billing.Zero, &billing.InvalidAmountError{Field: field, Value: s, Reason: "must not be negative"}
	}
	return m, nil
}
