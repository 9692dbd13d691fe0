/*
distributor.go - Turning a frame total into charges

PAYER MODES:
  LOSER   one charge, full total, against the loser
  WINNER  one charge, full total, against the winner
  SPLIT   one charge per distinct participant, total / n each; leftover
          cents go to the first participant so the charges sum exactly
  EACH    one charge per distinct participant for the FULL total
          (flat per-player cover fee, not a split)
  CUSTOM  the caller builds the charges; we only check they sum to total

EXAMPLE:
  SPLIT, total 100.01, players [A, B, C]
    A: 33.35   B: 33.33   C: 33.33   (sum 100.01)

The distributor is pure. Persisting drafts, and making sure a frame is not
distributed twice, is the job of Engine.CompleteFrame.
*/
package billing

import (
	"fmt"
	"strings"
)

// DistributionRequest is everything the distributor needs about a frame.
type DistributionRequest struct {
	FrameID      FrameID
	Label        string // session or table name, used in descriptions
	Total        Money
	Mode         PayerMode
	Participants []FrameParticipant
	WinnerID     *CustomerID
	LoserID      *CustomerID

	// Custom holds the caller's drafts for PayerCustom.
	Custom []ChargeDraft
}

// Distribute produces the charge drafts for a completed frame.
func Distribute(req DistributionRequest) ([]ChargeDraft, error) {
	if err := req.Total.check("distribute"); err != nil {
		return nil, err
	}
	if req.Total.IsNegative() {
		return nil, &InvalidAmountError{Field: "total", Value: req.Total.String(), Reason: "must not be negative"}
	}

	switch req.Mode {
	case PayerLoser:
		if req.LoserID == nil || *req.LoserID == "" {
			return nil, &MissingPayerError{FrameID: req.FrameID, Mode: req.Mode}
		}
		return []ChargeDraft{req.draft(*req.LoserID, req.Total, "loser pays")}, nil

	case PayerWinner:
		if req.WinnerID == nil || *req.WinnerID == "" {
			return nil, &MissingPayerError{FrameID: req.FrameID, Mode: req.Mode}
		}
		return []ChargeDraft{req.draft(*req.WinnerID, req.Total, "winner pays")}, nil

	case PayerSplit:
		players := distinctPlayers(req.Participants)
		if len(players) == 0 {
			return nil, &EmptyParticipantsError{FrameID: req.FrameID, Mode: req.Mode}
		}
		share, rem, err := req.Total.SplitEven(len(players))
		if err != nil {
			return nil, err
		}
		drafts := make([]ChargeDraft, 0, len(players))
		for i, c := range players {
			amount := share
			if i == 0 {
				if amount, err = share.Add(rem); err != nil {
					return nil, err
				}
			}
			drafts = append(drafts, req.draft(c, amount, fmt.Sprintf("split 1/%d", len(players))))
		}
		return drafts, nil

	case PayerEach:
		players := distinctPlayers(req.Participants)
		if len(players) == 0 {
			return nil, &EmptyParticipantsError{FrameID: req.FrameID, Mode: req.Mode}
		}
		drafts := make([]ChargeDraft, 0, len(players))
		for _, c := range players {
			drafts = append(drafts, req.draft(c, req.Total, "per player"))
		}
		return drafts, nil

	case PayerCustom:
		return req.validateCustom()
	}

	return nil, &InvalidPayerModeError{Mode: string(req.Mode)}
}

func (req DistributionRequest) validateCustom() ([]ChargeDraft, error) {
	if len(req.Custom) == 0 {
		return nil, fmt.Errorf("frame %s: %w: %w", req.FrameID, ErrValidation, ErrCustomDraftsNeeded)
	}

	sum := Zero
	drafts := make([]ChargeDraft, 0, len(req.Custom))
	for _, d := range req.Custom {
		if d.CustomerID == "" {
			return nil, &InvalidAmountError{Field: "custom.customer_id", Value: "", Reason: "customer required"}
		}
		if err := d.Amount.check("custom"); err != nil {
			return nil, err
		}
		if d.Amount.IsNegative() {
			return nil, &InvalidAmountError{Field: "custom.amount", Value: d.Amount.String(), Reason: "must not be negative"}
		}
		var err error
		if sum, err = sum.Add(d.Amount); err != nil {
			return nil, err
		}

		out := req.draft(d.CustomerID, d.Amount, "custom share")
		if d.Description != "" {
			out.Description = d.Description
		}
		drafts = append(drafts, out)
	}

	if !sum.Equal(req.Total) {
		return nil, &CustomSumError{FrameID: req.FrameID, Expected: req.Total, Got: sum}
	}
	return drafts, nil
}

func (req DistributionRequest) draft(c CustomerID, amount Money, note string) ChargeDraft {
	label := req.Label
	if label == "" {
		label = "table"
	}
	return ChargeDraft{
		CustomerID:  c,
		FrameID:     idPtr(req.FrameID),
		Amount:      amount,
		Description: fmt.Sprintf("%s, frame %s (%s)", label, req.FrameID, note),
	}
}

// distinctPlayers keeps participant order and drops repeated customers.
func distinctPlayers(ps []FrameParticipant) []CustomerID {
	seen := make(map[CustomerID]bool, len(ps))
	var out []CustomerID
	for _, p := range ps {
		if p.CustomerID == "" || seen[p.CustomerID] {
			continue
		}
		seen[p.CustomerID] = true
		out = append(out, p.CustomerID)
	}
	return out
}

// InvalidPayerModeError is returned for a payer mode outside the known set.
type InvalidPayerModeError struct {
	Mode string
}

func (e *InvalidPayerModeError) Error() string {
	return fmt.Sprintf("invalid payer mode %q", e.Mode)
}

func (e *InvalidPayerModeError) Unwrap() []error { return []error{ErrValidation, ErrInvalidPayerMode} }

// ParsePayerMode validates a payer mode string.
func ParsePayerMode(s string) (PayerMode, error) {
	m := PayerMode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", &InvalidPayerModeError{Mode: s}
	}
	return m, nil
}
