/*
engine.go - Billing engine wiring

The Engine owns the write paths that must be atomic and serialized per
customer (ApplyPayment, CompleteFrame, AddManualCharge) and the read paths
that derive state from the ledger (GetBalance, Statement).

Pure building blocks live in their own files and are usable without an
Engine: ComputeTotal (calculator.go), Distribute (distributor.go),
AllocateFIFO (allocation.go), Reconcile (reconciler.go).

USAGE:
  engine := billing.NewEngine(store)
  engine.Logger = slog.Default()
  engine.Observer = metrics.NewObserver()

  res, err := engine.ApplyPayment(ctx, "cust-1", billing.MustMoney("150.00"), "cash")
*/
package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultLockTimeout bounds how long a write waits for a customer's ledger.
const DefaultLockTimeout = 5 * time.Second

// Observer receives engine events. metrics.Observer implements it with
// Prometheus; NopObserver discards everything.
type Observer interface {
	PaymentApplied(method string, amount, allocated Money, allocations int)
	ChargesCreated(mode PayerMode, charges int)
	FrameBilled(mode PayerMode, clamped bool)
	FrameStatusChanged(from, to PayStatus)
	LockWaited(wait time.Duration, err error)
}

type NopObserver struct{}

func (NopObserver) PaymentApplied(string, Money, Money, int) {}
func (NopObserver) ChargesCreated(PayerMode, int)            {}
func (NopObserver) FrameBilled(PayerMode, bool)              {}
func (NopObserver) FrameStatusChanged(PayStatus, PayStatus)  {}
func (NopObserver) LockWaited(time.Duration, error)          {}

type Engine struct {
	Store    TxStore
	Locks    *CustomerLocks
	Logger   *slog.Logger
	Observer Observer

	// Clock and NewID are replaceable for deterministic tests.
	Clock func() time.Time
	NewID func() string
}

func NewEngine(store TxStore) *Engine {
	return &Engine{
		Store:    store,
		Locks:    NewCustomerLocks(DefaultLockTimeout),
		Logger:   slog.Default(),
		Observer: NopObserver{},
		Clock:    func() time.Time { return time.Now().UTC() },
		NewID:    uuid.NewString,
	}
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return time.Now().UTC()
	}
	return e.Clock().UTC()
}

func (e *Engine) id(prefix string) string {
	if e.NewID == nil {
		return prefix + "-" + uuid.NewString()
	}
	return prefix + "-" + e.NewID()
}

func (e *Engine) log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Engine) observer() Observer {
	if e.Observer == nil {
		return NopObserver{}
	}
	return e.Observer
}

// lock takes the ledger locks of the given customers.
func (e *Engine) lock(ctx context.Context, ids ...CustomerID) (func(), error) {
	if e.Locks == nil {
		e.Locks = NewCustomerLocks(DefaultLockTimeout)
	}
	start := time.Now()
	release, err := e.Locks.Acquire(ctx, ids...)
	e.observer().LockWaited(time.Since(start), err)
	if err != nil {
		e.log().Warn("customer ledger lock not acquired",
			slog.Any("customers", ids),
			slog.Duration("waited", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, err
	}
	return release, nil
}

// requirePositive validates an amount that must be strictly positive.
func requirePositive(field string, m Money) error {
	if err := m.check(field); err != nil {
		return err
	}
	if !m.IsPositive() {
		return &InvalidAmountError{Field: field, Value: m.String(), Reason: "must be greater than zero"}
	}
	return nil
}

// requireNonNegative validates an amount that may be zero.
func requireNonNegative(field string, m Money) error {
	if err := m.check(field); err != nil {
		return err
	}
	if m.IsNegative() {
		return &InvalidAmountError{Field: field, Value: m.String(), Reason: "must not be negative"}
	}
	return nil
}
