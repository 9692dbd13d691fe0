/*
frames.go - Customers, frames and charge creation

FRAME LIFECYCLE:
  StartFrame      frame exists, unbilled, PayStatus UNPAID, EndedAt nil
  CompleteFrame   total computed, charges distributed and persisted,
                  billing fields + EndedAt + initial PayStatus written.
                  Runs once: a second call fails with ErrFrameAlreadyBilled.
  ApplyPayment    the only thing that moves PayStatus afterwards

CompleteFrame locks every customer it is about to charge, so new charges
never land in the middle of a payment being allocated for that customer.
*/
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

// NewCustomer is the input to CreateCustomer. ID is generated when empty.
type NewCustomer struct {
	ID            CustomerID
	Name          string
	Contact       string
	InitialCredit Money
}

// CreateCustomer registers a customer. InitialCredit is fixed from here on.
func (e *Engine) CreateCustomer(ctx context.Context, in NewCustomer) (*Customer, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("customer name is required: %w", ErrValidation)
	}
	if err := requireNonNegative("initial_credit", in.InitialCredit); err != nil {
		return nil, err
	}

	c := Customer{
		ID:            in.ID,
		Name:          name,
		Contact:       strings.TrimSpace(in.Contact),
		InitialCredit: in.InitialCredit,
		CreatedAt:     e.now(),
	}
	if c.ID == "" {
		c.ID = CustomerID(e.id("cust"))
	}
	if err := e.Store.CreateCustomer(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}

// =============================================================================
// FRAMES
// =============================================================================

// FrameStart is the input to StartFrame.
type FrameStart struct {
	ID           FrameID // generated when empty
	SessionID    SessionID
	TableName    string
	BaseRate     Money
	PayerMode    PayerMode
	Participants []FrameParticipant
	StartedAt    time.Time
}

// StartFrame creates an unbilled frame.
func (e *Engine) StartFrame(ctx context.Context, in FrameStart) (*Frame, error) {
	if in.SessionID == "" {
		return nil, fmt.Errorf("session id is required: %w", ErrValidation)
	}
	if err := requireNonNegative("base_rate", in.BaseRate); err != nil {
		return nil, err
	}
	if in.PayerMode == "" {
		in.PayerMode = PayerLoser
	}
	if !in.PayerMode.Valid() {
		return nil, &InvalidPayerModeError{Mode: string(in.PayerMode)}
	}

	f := Frame{
		ID:           in.ID,
		SessionID:    in.SessionID,
		TableName:    in.TableName,
		BaseRate:     in.BaseRate,
		PayerMode:    in.PayerMode,
		PayStatus:    StatusUnpaid,
		Participants: append([]FrameParticipant(nil), in.Participants...),
		StartedAt:    in.StartedAt,
	}
	if f.ID == "" {
		f.ID = FrameID(e.id("frame"))
	}
	if f.StartedAt.IsZero() {
		f.StartedAt = e.now()
	}

	err := e.Store.WithTx(ctx, func(s Store) error {
		for _, p := range f.Participants {
			if _, err := s.GetCustomer(ctx, p.CustomerID); err != nil {
				return err
			}
		}
		return s.CreateFrame(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// FrameCompletion carries the end-of-frame inputs.
type FrameCompletion struct {
	FrameID FrameID
	EndedAt time.Time // now when zero

	OvertimeMinutes int
	OvertimeAmount  Money
	LumpSumFine     Money
	Discount        Money

	// PayerMode overrides the frame's default when set.
	PayerMode PayerMode
	WinnerID  *CustomerID
	LoserID   *CustomerID

	// Custom carries the caller's charges for CUSTOM mode.
	Custom []ChargeDraft
}

// FrameBilling is the result of CompleteFrame.
type FrameBilling struct {
	Frame    Frame
	Charges  []LedgerCharge
	Warnings []string
}

// CompleteFrame prices a frame, distributes its charges and persists the
// lot in one transaction.
func (e *Engine) CompleteFrame(ctx context.Context, in FrameCompletion) (*FrameBilling, error) {
	if in.OvertimeMinutes < 0 {
		return nil, &InvalidAmountError{Field: "overtime_minutes", Value: fmt.Sprint(in.OvertimeMinutes), Reason: "must not be negative"}
	}

	frame, err := e.Store.GetFrame(ctx, in.FrameID)
	if err != nil {
		return nil, err
	}
	if frame.Billed() {
		return nil, &AlreadyBilledError{FrameID: frame.ID, EndedAt: *frame.EndedAt}
	}

	release, err := e.lock(ctx, chargeTargets(frame, in)...)
	if err != nil {
		return nil, err
	}
	defer release()

	var out *FrameBilling
	err = e.Store.WithTx(ctx, func(s Store) error {
		// re-read inside the transaction: another caller may have billed it
		frame, err := s.GetFrame(ctx, in.FrameID)
		if err != nil {
			return err
		}
		if frame.Billed() {
			return &AlreadyBilledError{FrameID: frame.ID, EndedAt: *frame.EndedAt}
		}

		total, err := ComputeTotal(FrameCharges{
			BaseRate:       frame.BaseRate,
			OvertimeAmount: in.OvertimeAmount,
			LumpSumFine:    in.LumpSumFine,
			Discount:       in.Discount,
		})
		if err != nil {
			return err
		}

		mode := frame.PayerMode
		if in.PayerMode != "" {
			mode = in.PayerMode
		}
		winner, loser := resolveOutcome(frame.Participants, in.WinnerID, in.LoserID)

		label := frame.TableName
		if label == "" {
			label = string(frame.SessionID)
		}
		drafts, err := Distribute(DistributionRequest{
			FrameID:      frame.ID,
			Label:        label,
			Total:        total.Total,
			Mode:         mode,
			Participants: frame.Participants,
			WinnerID:     winner,
			LoserID:      loser,
			Custom:       in.Custom,
		})
		if err != nil {
			return err
		}

		now := e.now()
		charges := make([]LedgerCharge, 0, len(drafts))
		for _, d := range drafts {
			if _, err := s.GetCustomer(ctx, d.CustomerID); err != nil {
				return err
			}
			charges = append(charges, LedgerCharge{
				ID:          ChargeID(e.id("chg")),
				CustomerID:  d.CustomerID,
				FrameID:     d.FrameID,
				Amount:      d.Amount,
				Description: d.Description,
				CreatedAt:   now,
			})
		}
		if err := s.AppendCharges(ctx, charges); err != nil {
			return fmt.Errorf("failed to record charges: %w", err)
		}

		ended := in.EndedAt.UTC()
		if in.EndedAt.IsZero() {
			ended = now
		}
		frame.OvertimeMinutes = in.OvertimeMinutes
		frame.OvertimeAmount = in.OvertimeAmount
		frame.LumpSumFine = in.LumpSumFine
		frame.Discount = in.Discount
		frame.TotalAmount = total.Total
		frame.PayerMode = mode
		frame.WinnerCustomerID = winner
		frame.LoserCustomerID = loser
		frame.EndedAt = &ended
		frame.PayStatus = DeriveFrameStatus(charges, nil)
		if err := s.SaveFrameBilling(ctx, *frame); err != nil {
			return fmt.Errorf("failed to save frame billing: %w", err)
		}

		out = &FrameBilling{Frame: *frame, Charges: charges}
		if total.Clamp != nil {
			out.Warnings = append(out.Warnings, total.Clamp.String())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.observer().FrameBilled(out.Frame.PayerMode, len(out.Warnings) > 0)
	e.observer().ChargesCreated(out.Frame.PayerMode, len(out.Charges))
	for _, w := range out.Warnings {
		e.log().Warn("frame billing warning",
			slog.String("frame_id", string(out.Frame.ID)),
			slog.String("warning", w))
	}
	e.log().Info("frame billed",
		slog.String("frame_id", string(out.Frame.ID)),
		slog.String("total", out.Frame.TotalAmount.String()),
		slog.String("payer_mode", string(out.Frame.PayerMode)),
		slog.Int("charges", len(out.Charges)))
	return out, nil
}

// resolveOutcome fills in winner and loser from the participant roster when
// the caller did not name them: a single flagged winner is the winner, and
// in a two-player frame the other player is the loser.
func resolveOutcome(ps []FrameParticipant, winner, loser *CustomerID) (*CustomerID, *CustomerID) {
	if winner == nil {
		var found []CustomerID
		for _, p := range ps {
			if p.IsWinner {
				found = append(found, p.CustomerID)
			}
		}
		if len(found) == 1 {
			winner = idPtr(found[0])
		}
	}
	if loser == nil && winner != nil {
		players := distinctPlayers(ps)
		if len(players) == 2 {
			for _, c := range players {
				if c != *winner {
					loser = idPtr(c)
				}
			}
		}
	}
	return winner, loser
}

// chargeTargets lists every customer CompleteFrame might charge.
func chargeTargets(f *Frame, in FrameCompletion) []CustomerID {
	var ids []CustomerID
	for _, p := range f.Participants {
		ids = append(ids, p.CustomerID)
	}
	for _, p := range []*CustomerID{in.WinnerID, in.LoserID, f.WinnerCustomerID, f.LoserCustomerID} {
		if p != nil {
			ids = append(ids, *p)
		}
	}
	for _, d := range in.Custom {
		ids = append(ids, d.CustomerID)
	}
	return ids
}

// =============================================================================
// MANUAL CHARGES
// =============================================================================

// AddManualCharge records a charge that is not tied to a frame (drinks,
// damage, membership fee).
func (e *Engine) AddManualCharge(ctx context.Context, customerID CustomerID, amount Money, description string) (*LedgerCharge, error) {
	if err := requirePositive("charge amount", amount); err != nil {
		return nil, err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "manual charge"
	}

	release, err := e.lock(ctx, customerID)
	if err != nil {
		return nil, err
	}
	defer release()

	charge := LedgerCharge{
		ID:          ChargeID(e.id("chg")),
		CustomerID:  customerID,
		Amount:      amount,
		Description: description,
		CreatedAt:   e.now(),
	}
	err = e.Store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetCustomer(ctx, customerID); err != nil {
			return err
		}
		return s.AppendCharges(ctx, []LedgerCharge{charge})
	})
	if err != nil {
		return nil, err
	}

	e.observer().ChargesCreated("MANUAL", 1)
	return &charge, nil
}
