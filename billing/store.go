/*
store.go - Persistence interface for the billing ledger

APPEND-ONLY CONTRACT:
  Charges, payments and allocations only have Append methods. There is no
  Update or Delete for ledger rows. The only mutable state is on frames:
  the billing fields are written once (SaveFrameBilling) and PayStatus is
  moved by the allocation engine (UpdateFramePayStatus).

ORDERING:
  ChargesByCustomer returns oldest-created first, ties broken by insertion
  order (Seq). The FIFO allocation contract depends on it, although the
  engine re-sorts defensively before allocating.

ATOMICITY:
  TxStore.WithTx runs fn in one transaction. Any error rolls back every
  write made through the Store handed to fn.

NOT FOUND:
  Getters return *CustomerNotFoundError / *FrameNotFoundError rather than
  nil, nil.

IMPLEMENTATIONS:
  - billing/store/memory.go: in-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite
*/
package billing

import "context"

// Store handles persistence of customers, frames and ledger rows.
type Store interface {
	CreateCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id CustomerID) (*Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)

	CreateFrame(ctx context.Context, f Frame) error
	GetFrame(ctx context.Context, id FrameID) (*Frame, error)
	ListFramesBySession(ctx context.Context, id SessionID) ([]Frame, error)

	// SaveFrameBilling writes the billing fields, outcome, EndedAt and the
	// initial PayStatus of a completed frame.
	SaveFrameBilling(ctx context.Context, f Frame) error
	UpdateFramePayStatus(ctx context.Context, id FrameID, status PayStatus) error

	// AppendCharges persists charges in slice order; the store assigns Seq.
	AppendCharges(ctx context.Context, charges []LedgerCharge) error
	AppendPayment(ctx context.Context, p LedgerPayment) error
	AppendAllocations(ctx context.Context, allocs []PaymentAllocation) error

	ChargesByCustomer(ctx context.Context, id CustomerID) ([]LedgerCharge, error)
	ChargesByFrame(ctx context.Context, id FrameID) ([]LedgerCharge, error)
	PaymentsByCustomer(ctx context.Context, id CustomerID) ([]LedgerPayment, error)

	// AllocationsByCustomer returns every allocation against the customer's charges.
	AllocationsByCustomer(ctx context.Context, id CustomerID) ([]PaymentAllocation, error)
	AllocationsByCharges(ctx context.Context, ids []ChargeID) ([]PaymentAllocation, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// CustomerLedger is the full ledger history of one customer.
type CustomerLedger struct {
	Customer    Customer
	Charges     []LedgerCharge
	Payments    []LedgerPayment
	Allocations []PaymentAllocation
}

// LoadCustomerLedger reads everything the reconciler needs for a customer.
func LoadCustomerLedger(ctx context.Context, s Store, id CustomerID) (*CustomerLedger, error) {
	c, err := s.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	charges, err := s.ChargesByCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := s.PaymentsByCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	allocs, err := s.AllocationsByCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CustomerLedger{
		Customer:    *c,
		Charges:     charges,
		Payments:    payments,
		Allocations: allocs,
	}, nil
}
