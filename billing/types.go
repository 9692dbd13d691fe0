/*
Package billing provides the billing and ledger engine for a pay-per-use
table venue.

PURPOSE:
  Tables host timed sessions made of frames (rounds). Each completed frame
  is priced, the price is turned into one or more charges against the
  players according to a payer mode, and customers settle charges over time
  with payments that are allocated to specific charges.

KEY CONCEPTS IN THIS FILE (types.go):
  - OvertimeMode, PayerMode, PayStatus: policy enumerations
  - Customer: account holder with an immutable InitialCredit (prior debt)
  - Frame / FrameParticipant: the billable unit and its players
  - LedgerCharge / LedgerPayment / PaymentAllocation: the ledger rows

LEDGER RULES:
  1. Charges, payments and allocations are append-only. Never edited.
  2. A charge's paid amount is the sum of its allocations, nothing else.
  3. Frame PayStatus is derived from its charges (see status.go).
  4. Balances are recomputed from the full ledger on every call.

SEE ALSO:
  - calculator.go: frame total
  - distributor.go: payer mode policies
  - allocation.go: FIFO payment allocation
  - reconciler.go: customer balance
*/
package billing

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type FrameID string
type SessionID string
type ChargeID string
type PaymentID string
type AllocationID string

// =============================================================================
// POLICY ENUMERATIONS
// =============================================================================

// OvertimeMode says how overtime is priced by the rate card.
type OvertimeMode string

const (
	OvertimeNone      OvertimeMode = "none"
	OvertimePerMinute OvertimeMode = "per_minute" // rate × minutes past the included time
	OvertimeLumpSum   OvertimeMode = "lump_sum"   // flat amount once overtime starts
)

func (m OvertimeMode) Valid() bool {
	switch m {
	case OvertimeNone, OvertimePerMinute, OvertimeLumpSum:
		return true
	}
	return false
}

// PayerMode decides who a frame's total is charged to.
type PayerMode string

const (
	PayerLoser  PayerMode = "LOSER"
	PayerWinner PayerMode = "WINNER"
	PayerSplit  PayerMode = "SPLIT"
	PayerEach   PayerMode = "EACH"
	PayerCustom PayerMode = "CUSTOM"
)

func (m PayerMode) Valid() bool {
	switch m {
	case PayerLoser, PayerWinner, PayerSplit, PayerEach, PayerCustom:
		return true
	}
	return false
}

// PayStatus is the payment view of a charge or a frame.
type PayStatus string

const (
	StatusUnpaid  PayStatus = "UNPAID"
	StatusPartial PayStatus = "PARTIAL"
	StatusPaid    PayStatus = "PAID"
)

// rank orders statuses for the monotonicity guard.
func (s PayStatus) rank() int {
	switch s {
	case StatusPartial:
		return 1
	case StatusPaid:
		return 2
	default:
		return 0
	}
}

// =============================================================================
// ENTITIES
// =============================================================================

// Customer is an account holder. InitialCredit is the debt carried in at
// account creation and never changes afterwards.
type Customer struct {
	ID            CustomerID
	Name          string
	Contact       string
	InitialCredit Money
	CreatedAt     time.Time
}

// FrameParticipant is a customer's membership in a frame.
type FrameParticipant struct {
	CustomerID CustomerID
	Team       string // optional
	IsWinner   bool
}

// Frame is one round of play. Billing fields are set once when the frame
// ends; afterwards only PayStatus moves.
type Frame struct {
	ID        FrameID
	SessionID SessionID
	TableName string

	BaseRate        Money
	OvertimeMinutes int
	OvertimeAmount  Money
	LumpSumFine     Money
	Discount        Money
	TotalAmount     Money

	PayerMode PayerMode
	PayStatus PayStatus

	WinnerCustomerID *CustomerID
	LoserCustomerID  *CustomerID
	Participants     []FrameParticipant

	StartedAt time.Time
	EndedAt   *time.Time
}

// Billed reports whether the frame has been completed and charged.
func (f *Frame) Billed() bool { return f.EndedAt != nil }

// LedgerCharge is an amount owed by one customer. FrameID is nil for manual
// charges.
type LedgerCharge struct {
	ID          ChargeID
	CustomerID  CustomerID
	FrameID     *FrameID
	Amount      Money
	Description string
	CreatedAt   time.Time

	// Seq is the store's insertion order; it breaks CreatedAt ties.
	Seq int64
}

// LedgerPayment is an amount received from a customer.
type LedgerPayment struct {
	ID         PaymentID
	CustomerID CustomerID
	Amount     Money
	Method     string
	ReceivedAt time.Time
}

// PaymentAllocation links one payment to one charge.
type PaymentAllocation struct {
	ID              AllocationID
	PaymentID       PaymentID
	ChargeID        ChargeID
	AllocatedAmount Money
	CreatedAt       time.Time
}

// ChargeDraft is a charge the distributor wants persisted.
type ChargeDraft struct {
	CustomerID  CustomerID
	FrameID     *FrameID
	Amount      Money
	Description string
}

func idPtr[T ~string](v T) *T { return &v }
