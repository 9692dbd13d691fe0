/*
reconciler.go - Customer balance from the full ledger

FORMULA:
  totalPayments      = Σ payments
  allocatedToCharges = Σ allocations against the customer's charges
  paidTowardCredit   = max(0, totalPayments - allocatedToCharges)
  remainingCredit    = max(0, InitialCredit - paidTowardCredit)
  unpaidCharges      = Σ over charges of max(0, amount - Σ its allocations)
  balance            = remainingCredit + unpaidCharges

Payments are allocated to dated charges first (allocation.go); only what
no charge needed goes toward initial credit. The formula mirrors that.

There is no cached running balance. Every call replays the ledger, so the
balance can never drift from the charge/payment/allocation history.

EXAMPLE:
  InitialCredit 100.00, charges 60.00 + 40.00, one payment of 150.00
  allocated 100.00, toward credit 50.00, remaining credit 50.00
  unpaid charges 0.00 → balance 50.00
*/
package billing

import (
	"context"
	"fmt"
)

// Balance is the reconciled position of one customer. Positive means the
// customer owes money.
type Balance struct {
	CustomerID CustomerID

	InitialCredit      Money
	TotalPayments      Money
	AllocatedToCharges Money
	PaidTowardCredit   Money
	RemainingCredit    Money
	TotalCharges       Money
	UnpaidCharges      Money

	Balance Money
}

// Reconcile computes the balance of a loaded ledger. Pure function.
func Reconcile(l *CustomerLedger) (Balance, error) {
	totalPayments := Zero
	for _, p := range l.Payments {
		var err error
		if totalPayments, err = totalPayments.Add(p.Amount); err != nil {
			return Balance{}, err
		}
	}

	allocated, err := AllocatedByCharge(l.Allocations)
	if err != nil {
		return Balance{}, err
	}
	allocatedTotal := Zero
	for _, a := range l.Allocations {
		if allocatedTotal, err = allocatedTotal.Add(a.AllocatedAmount); err != nil {
			return Balance{}, err
		}
	}

	totalCharges, unpaid := Zero, Zero
	for _, c := range l.Charges {
		if totalCharges, err = totalCharges.Add(c.Amount); err != nil {
			return Balance{}, err
		}
		owed, err := c.Amount.Sub(allocated[c.ID])
		if err != nil {
			return Balance{}, err
		}
		if unpaid, err = unpaid.Add(owed.ClampZero()); err != nil {
			return Balance{}, err
		}
	}

	towardCredit, err := totalPayments.Sub(allocatedTotal)
	if err != nil {
		return Balance{}, err
	}
	towardCredit = towardCredit.ClampZero()

	remainingCredit, err := l.Customer.InitialCredit.Sub(towardCredit)
	if err != nil {
		return Balance{}, err
	}
	remainingCredit = remainingCredit.ClampZero()

	balance, err := remainingCredit.Add(unpaid)
	if err != nil {
		return Balance{}, err
	}

	return Balance{
		CustomerID:         l.Customer.ID,
		InitialCredit:      l.Customer.InitialCredit,
		TotalPayments:      totalPayments,
		AllocatedToCharges: allocatedTotal,
		PaidTowardCredit:   towardCredit,
		RemainingCredit:    remainingCredit,
		TotalCharges:       totalCharges,
		UnpaidCharges:      unpaid,
		Balance:            balance,
	}, nil
}

// GetBalance returns the customer's current balance, recomputed from the
// ledger. Reads run in one transaction so the customer's rows are seen as
// a consistent snapshot.
func (e *Engine) GetBalance(ctx context.Context, customerID CustomerID) (Balance, error) {
	var out Balance
	err := e.Store.WithTx(ctx, func(s Store) error {
		l, err := LoadCustomerLedger(ctx, s, customerID)
		if err != nil {
			return err
		}
		out, err = Reconcile(l)
		return err
	})
	if err != nil {
		return Balance{}, fmt.Errorf("failed to reconcile balance: %w", err)
	}
	return out, nil
}

// =============================================================================
// STATEMENT - What the customer screen shows
// =============================================================================

// ChargeLine is one charge with its pay view.
type ChargeLine struct {
	Charge      LedgerCharge
	Allocated   Money
	Outstanding Money
	Status      PayStatus
}

// Statement is the balance plus the itemised ledger.
type Statement struct {
	Balance  Balance
	Charges  []ChargeLine
	Payments []LedgerPayment
}

// Statement returns the customer's balance with every charge (oldest
// first) and payment.
func (e *Engine) Statement(ctx context.Context, customerID CustomerID) (*Statement, error) {
	var out *Statement
	err := e.Store.WithTx(ctx, func(s Store) error {
		l, err := LoadCustomerLedger(ctx, s, customerID)
		if err != nil {
			return err
		}
		bal, err := Reconcile(l)
		if err != nil {
			return err
		}
		allocated, err := AllocatedByCharge(l.Allocations)
		if err != nil {
			return err
		}

		charges := append([]LedgerCharge(nil), l.Charges...)
		SortChargesFIFO(charges)
		lines := make([]ChargeLine, 0, len(charges))
		for _, c := range charges {
			owed, err := c.Amount.Sub(allocated[c.ID])
			if err != nil {
				return err
			}
			lines = append(lines, ChargeLine{
				Charge:      c,
				Allocated:   allocated[c.ID],
				Outstanding: owed.ClampZero(),
				Status:      ChargeStatus(c.Amount, allocated[c.ID]),
			})
		}
		out = &Statement{Balance: bal, Charges: lines, Payments: l.Payments}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
