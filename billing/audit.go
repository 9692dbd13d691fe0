package billing

import (
	"context"
	"fmt"
	"sort"
)

// Violation is one broken ledger invariant found by the Auditor.
type Violation struct {
	CustomerID CustomerID
	Code       string // over_allocated_charge, over_allocated_payment, foreign_allocation, frame_status_mismatch
	Ref        string
	Message    string
}

// AuditReport summarises one audit pass.
type AuditReport struct {
	Customers  int
	Charges    int
	Payments   int
	Violations []Violation
}

func (r *AuditReport) OK() bool { return len(r.Violations) == 0 }

// Auditor re-checks the ledger invariants that the engine maintains:
// no charge and no payment is allocated beyond its amount, allocations only
// join a customer's own payments and charges, and every billed frame's
// stored PayStatus matches the one derived from its charges. It only reads.
type Auditor struct {
	Store TxStore
}

func (a *Auditor) Audit(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{}
	err := a.Store.WithTx(ctx, func(s Store) error {
		customers, err := s.ListCustomers(ctx)
		if err != nil {
			return err
		}
		frames := make(map[FrameID]bool)
		for _, c := range customers {
			l, err := LoadCustomerLedger(ctx, s, c.ID)
			if err != nil {
				return err
			}
			report.Customers++
			report.Charges += len(l.Charges)
			report.Payments += len(l.Payments)
			vs, err := auditLedger(l)
			if err != nil {
				return err
			}
			report.Violations = append(report.Violations, vs...)
			for _, ch := range l.Charges {
				if ch.FrameID != nil {
					frames[*ch.FrameID] = true
				}
			}
		}

		ids := make([]FrameID, 0, len(frames))
		for id := range frames {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			v, err := auditFrame(ctx, s, id)
			if err != nil {
				return err
			}
			if v != nil {
				report.Violations = append(report.Violations, *v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func auditLedger(l *CustomerLedger) ([]Violation, error) {
	var out []Violation
	charges := make(map[ChargeID]LedgerCharge, len(l.Charges))
	for _, c := range l.Charges {
		charges[c.ID] = c
	}
	payments := make(map[PaymentID]LedgerPayment, len(l.Payments))
	for _, p := range l.Payments {
		payments[p.ID] = p
	}

	perPayment := make(map[PaymentID]Money)
	for _, a := range l.Allocations {
		if _, ok := payments[a.PaymentID]; !ok {
			out = append(out, Violation{
				CustomerID: l.Customer.ID,
				Code:       "foreign_allocation",
				Ref:        string(a.ID),
				Message:    fmt.Sprintf("allocation %s uses payment %s of another customer", a.ID, a.PaymentID),
			})
		}
		sum, err := perPayment[a.PaymentID].Add(a.AllocatedAmount)
		if err != nil {
			return nil, err
		}
		perPayment[a.PaymentID] = sum
	}

	perCharge, err := AllocatedByCharge(l.Allocations)
	if err != nil {
		return nil, err
	}
	for id, got := range perCharge {
		c, ok := charges[id]
		if !ok {
			continue
		}
		if got.GreaterThan(c.Amount) {
			out = append(out, Violation{
				CustomerID: l.Customer.ID,
				Code:       "over_allocated_charge",
				Ref:        string(id),
				Message:    fmt.Sprintf("charge %s allocated %s of %s", id, got, c.Amount),
			})
		}
	}
	for id, got := range perPayment {
		p, ok := payments[id]
		if !ok {
			continue
		}
		if got.GreaterThan(p.Amount) {
			out = append(out, Violation{
				CustomerID: l.Customer.ID,
				Code:       "over_allocated_payment",
				Ref:        string(id),
				Message:    fmt.Sprintf("payment %s allocated %s of %s", id, got, p.Amount),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out, nil
}

func auditFrame(ctx context.Context, s Store, id FrameID) (*Violation, error) {
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
	if derived == frame.PayStatus {
		return nil, nil
	}
	return &Violation{
		Code:    "frame_status_mismatch",
		Ref:     string(id),
		Message: fmt.Sprintf("frame %s stored %s, ledger says %s", id, frame.PayStatus, derived),
	}, nil
}
