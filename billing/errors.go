/*
errors.go - Centralized error types for the billing engine

ERROR KINDS (use with errors.Is):
  ErrValidation   bad input (non-positive amount, bad mode). No writes happen.
  ErrPolicy       payer mode cannot be applied (missing loser, no players).
  ErrNotFound     unknown customer / frame / rate card.
  ErrConcurrency  the customer's ledger lock was not acquired in time. Retry.
  ErrArithmetic   overflow or loss of precision. Never truncated.

Structured errors carry context and unwrap to BOTH their kind and their
specific sentinel, so callers can match at either level:

  if errors.Is(err, billing.ErrPolicy) { ... }
  if errors.Is(err, billing.ErrMissingLoser) { ... }

  var nf *billing.CustomerNotFoundError
  if errors.As(err, &nf) { ... nf.CustomerID ... }
*/
package billing

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	ErrValidation  = errors.New("validation error")
	ErrPolicy      = errors.New("payer policy error")
	ErrNotFound    = errors.New("not found")
	ErrConcurrency = errors.New("concurrency error")
	ErrArithmetic  = errors.New("arithmetic error")
)

var (
	// ErrInvalidAmount is returned for amounts that are zero, negative, or unparseable
	// where a positive amount is required.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPayerMode is returned for an unknown payer mode string.
	ErrInvalidPayerMode = errors.New("invalid payer mode")

	ErrMissingLoser       = errors.New("loser required for LOSER payer mode")
	ErrMissingWinner      = errors.New("winner required for WINNER payer mode")
	ErrEmptyParticipants  = errors.New("frame has no participants")
	ErrCustomSumMismatch  = errors.New("custom charges do not sum to frame total")
	ErrCustomDraftsNeeded = errors.New("CUSTOM payer mode requires caller-supplied charges")

	ErrCustomerNotFound = errors.New("customer not found")
	ErrFrameNotFound    = errors.New("frame not found")
	ErrRateCardNotFound = errors.New("rate card not found")

	// ErrFrameAlreadyBilled guards against distributing a frame twice.
	ErrFrameAlreadyBilled = errors.New("frame already billed")

	// ErrDuplicateCustomer is returned when creating a customer whose ID exists.
	ErrDuplicateCustomer = errors.New("customer already exists")

	ErrLockTimeout = errors.New("customer ledger lock timeout")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidAmountError reports a rejected input amount.
type InvalidAmountError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidAmountError) Unwrap() []error { return []error{ErrValidation, ErrInvalidAmount} }

// MissingPayerError is returned when LOSER or WINNER mode has no target.
type MissingPayerError struct {
	FrameID FrameID
	Mode    PayerMode
}

func (e *MissingPayerError) Error() string {
	return fmt.Sprintf("frame %s: %s payer mode has no %s", e.FrameID, e.Mode, e.role())
}

func (e *MissingPayerError) role() string {
	if e.Mode == PayerWinner {
		return "winner"
	}
	return "loser"
}

func (e *MissingPayerError) Unwrap() []error {
	if e.Mode == PayerWinner {
		return []error{ErrPolicy, ErrMissingWinner}
	}
	return []error{ErrPolicy, ErrMissingLoser}
}

// EmptyParticipantsError is returned for SPLIT/EACH on a frame with no players.
type EmptyParticipantsError struct {
	FrameID FrameID
	Mode    PayerMode
}

func (e *EmptyParticipantsError) Error() string {
	return fmt.Sprintf("frame %s: %s payer mode needs at least one participant", e.FrameID, e.Mode)
}

func (e *EmptyParticipantsError) Unwrap() []error { return []error{ErrPolicy, ErrEmptyParticipants} }

// CustomSumError is returned when caller-built CUSTOM charges don't add up.
type CustomSumError struct {
	FrameID  FrameID
	Expected Money
	Got      Money
}

func (e *CustomSumError) Error() string {
	return fmt.Sprintf("frame %s: custom charges sum to %s, frame total is %s", e.FrameID, e.Got, e.Expected)
}

func (e *CustomSumError) Unwrap() []error { return []error{ErrValidation, ErrCustomSumMismatch} }

// CustomerNotFoundError is returned for an unknown customer ID.
type CustomerNotFoundError struct {
	CustomerID CustomerID
}

func (e *CustomerNotFoundError) Error() string {
	return fmt.Sprintf("customer %s not found", e.CustomerID)
}

func (e *CustomerNotFoundError) Unwrap() []error { return []error{ErrNotFound, ErrCustomerNotFound} }

// FrameNotFoundError is returned for an unknown frame ID.
type FrameNotFoundError struct {
	FrameID FrameID
}

func (e *FrameNotFoundError) Error() string {
	return fmt.Sprintf("frame %s not found", e.FrameID)
}

func (e *FrameNotFoundError) Unwrap() []error { return []error{ErrNotFound, ErrFrameNotFound} }

// AlreadyBilledError is returned when a completed frame is completed again.
type AlreadyBilledError struct {
	FrameID FrameID
	EndedAt time.Time
}

func (e *AlreadyBilledError) Error() string {
	return fmt.Sprintf("frame %s already billed at %s", e.FrameID, e.EndedAt.Format(time.RFC3339))
}

func (e *AlreadyBilledError) Unwrap() []error { return []error{ErrValidation, ErrFrameAlreadyBilled} }

// LockTimeoutError is returned when a customer's ledger stays locked by
// another operation for longer than the configured timeout.
type LockTimeoutError struct {
	CustomerID CustomerID
	Waited     time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("ledger for customer %s still locked after %s", e.CustomerID, e.Waited)
}

func (e *LockTimeoutError) Unwrap() []error { return []error{ErrConcurrency, ErrLockTimeout} }

// ArithmeticError reports overflow or precision loss.
type ArithmeticError struct {
	Op     string
	Value  string
	Reason string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("arithmetic error in %s (%s): %s", e.Op, e.Value, e.Reason)
}

func (e *ArithmeticError) Unwrap() error { return ErrArithmetic }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrency)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrPolicy)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
