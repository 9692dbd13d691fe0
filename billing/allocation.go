/*
allocation.go - FIFO payment allocation

PURPOSE:
  Applies an incoming payment to the customer's outstanding charges,
  oldest charge first, and keeps frame PayStatus in step.

ALGORITHM (AllocateFIFO):
  1. Order charges by CreatedAt, then Seq, then ID.
  2. For each charge with remaining = Amount - allocated > 0:
       take = min(remainingPayment, remaining)
       record allocation, remainingPayment -= take
  3. Stop when the payment is used up or charges run out.
  4. Whatever is left is NOT allocated. It retires initial credit, and the
     reconciler infers that from totals (see reconciler.go).

DETERMINISM:
  Same charge history + same payment = same allocations, whatever order
  the store or caller handed the charges in.

ATOMICITY & SERIALIZATION (ApplyPayment):
  customer lock ─▶ WithTx { payment, allocations, frame statuses } ─▶ unlock
  Two payments for one customer never see the same "remaining" amount.

EXAMPLE:
  charges: C1 60.00 (oldest), C2 40.00     payment: 150.00
  allocations: C1 ← 60.00, C2 ← 40.00       leftover 50.00 → initial credit
*/
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// DefaultPaymentMethod is used when a payment arrives without a method tag.
const DefaultPaymentMethod = "cash"

// PaymentResult is what ApplyPayment reports back.
type PaymentResult struct {
	Payment     LedgerPayment
	Allocations []PaymentAllocation

	// AffectedFrameIDs lists every frame one of the allocations touched.
	AffectedFrameIDs []FrameID

	// StatusChanges lists the frames whose PayStatus actually moved.
	StatusChanges []FrameStatusChange

	// Unallocated is the part of the payment no charge needed.
	Unallocated Money
}

// FrameStatusChange records one PayStatus transition.
type FrameStatusChange struct {
	FrameID FrameID
	From    PayStatus
	To      PayStatus
}

// AllocationLine is one planned allocation.
type AllocationLine struct {
	ChargeID ChargeID
	FrameID  *FrameID
	Amount   Money
}

// SortChargesFIFO orders charges oldest first, in place.
func SortChargesFIFO(charges []LedgerCharge) {
	sort.SliceStable(charges, func(i, j int) bool {
		a, b := charges[i], charges[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.ID < b.ID
	})
}

// AllocateFIFO plans how amount is spread over charges. It does not modify
// its inputs. allocated holds what each charge has already received.
func AllocateFIFO(amount Money, charges []LedgerCharge, allocated map[ChargeID]Money) ([]AllocationLine, Money, error) {
	ordered := make([]LedgerCharge, len(charges))
	copy(ordered, charges)
	SortChargesFIFO(ordered)

	remaining := amount
	var lines []AllocationLine
	for _, c := range ordered {
		if !remaining.IsPositive() {
			break
		}
		owed, err := c.Amount.Sub(allocated[c.ID])
		if err != nil {
			return nil, Money{}, err
		}
		if !owed.IsPositive() {
			continue
		}
		take := remaining.Min(owed)
		lines = append(lines, AllocationLine{ChargeID: c.ID, FrameID: c.FrameID, Amount: take})
		if remaining, err = remaining.Sub(take); err != nil {
			return nil, Money{}, err
		}
	}
	return lines, remaining, nil
}

// ApplyPayment records a payment and allocates it FIFO across the
// customer's outstanding charges, all in one transaction.
func (e *Engine) ApplyPayment(ctx context.Context, customerID CustomerID, amount Money, method string) (*PaymentResult, error) {
	if err := requirePositive("payment amount", amount); err != nil {
		return nil, err
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = DefaultPaymentMethod
	}

	release, err := e.lock(ctx, customerID)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *PaymentResult
	err = e.Store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetCustomer(ctx, customerID); err != nil {
			return err
		}

		now := e.now()
		payment := LedgerPayment{
			ID:         PaymentID(e.id("pay")),
			CustomerID: customerID,
			Amount:     amount,
			Method:     method,
			ReceivedAt: now,
		}
		if err := s.AppendPayment(ctx, payment); err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}

		charges, err := s.ChargesByCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		allocs, err := s.AllocationsByCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		already, err := AllocatedByCharge(allocs)
		if err != nil {
			return err
		}

		lines, leftover, err := AllocateFIFO(amount, charges, already)
		if err != nil {
			return err
		}

		rows := make([]PaymentAllocation, 0, len(lines))
		var frames []FrameID
		seen := make(map[FrameID]bool)
		for _, l := range lines {
			rows = append(rows, PaymentAllocation{
				ID:              AllocationID(e.id("alloc")),
				PaymentID:       payment.ID,
				ChargeID:        l.ChargeID,
				AllocatedAmount: l.Amount,
				CreatedAt:       now,
			})
			if l.FrameID != nil && !seen[*l.FrameID] {
				seen[*l.FrameID] = true
				frames = append(frames, *l.FrameID)
			}
		}
		if len(rows) > 0 {
			if err := s.AppendAllocations(ctx, rows); err != nil {
				return fmt.Errorf("failed to record allocations: %w", err)
			}
		}

		changes, err := e.refreshFrameStatuses(ctx, s, frames)
		if err != nil {
			return err
		}

		result = &PaymentResult{
			Payment:          payment,
			Allocations:      rows,
			AffectedFrameIDs: frames,
			StatusChanges:    changes,
			Unallocated:      leftover,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	allocated, err := amount.Sub(result.Unallocated)
	if err != nil {
		return nil, err
	}
	e.observer().PaymentApplied(method, amount, allocated, len(result.Allocations))
	for _, c := range result.StatusChanges {
		e.observer().FrameStatusChanged(c.From, c.To)
	}
	e.log().Info("payment applied",
		slog.String("customer_id", string(customerID)),
		slog.String("payment_id", string(result.Payment.ID)),
		slog.String("amount", amount.String()),
		slog.String("method", method),
		slog.Int("allocations", len(result.Allocations)),
		slog.String("toward_credit", result.Unallocated.String()),
	)
	return result, nil
}

// refreshFrameStatuses recomputes and persists PayStatus for each frame.
func (e *Engine) refreshFrameStatuses(ctx context.Context, s Store, frames []FrameID) ([]FrameStatusChange, error) {
	var changes []FrameStatusChange
	for _, id := range frames {
		frame, err := s.GetFrame(ctx, id)
		if err != nil {
			return nil, err
		}
		charges, err := s.ChargesByFrame(ctx, id)
		if err != nil {
			return nil, err
		}
		ids := make([]ChargeID, len(charges))
		for i, c := range charges {
			ids[i] = c.ID
		}
		allocs, err := s.AllocationsByCharges(ctx, ids)
		if err != nil {
			return nil, err
		}
		allocated, err := AllocatedByCharge(allocs)
		if err != nil {
			return nil, err
		}

		derived := DeriveFrameStatus(charges, allocated)
		next, ok := advanceStatus(frame.PayStatus, derived)
		if !ok {
			e.log().Warn("frame status regression ignored",
				slog.String("frame_id", string(id)),
				slog.String("stored", string(frame.PayStatus)),
				slog.String("derived", string(derived)))
		}
		if next == frame.PayStatus {
			continue
		}
		if err := s.UpdateFramePayStatus(ctx, id, next); err != nil {
			return nil, fmt.Errorf("failed to update frame %s status: %w", id, err)
		}
		changes = append(changes, FrameStatusChange{FrameID: id, From: frame.PayStatus, To: next})
	}
	return changes, nil
}
