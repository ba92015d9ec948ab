/*
errors.go - Centralized error types for the job-work ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Lookup errors - Missing vouchers, events, payments
  2. Validation errors - Structurally invalid input, quantity violations
  3. Store errors - Concurrency conflicts, allocation failures

WHAT IS NOT AN ERROR:
  Missing optional data (no sender on a receive, no job work on a forward,
  legacy payments without a forward event id) never produces an error. The
  ledger returns a best-effort result and labels the gap instead.

USAGE:
  if errors.Is(err, generic.ErrQuantityExceedsAvailable) {
      var qe *generic.InsufficientQuantityError
      errors.As(err, &qe)
  }

SEE ALSO:
  - voucher/ledger.go: Pure derivations, never fail on optional data
  - jobwork/service.go: Wraps these errors with voucher context
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a voucher or payment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEventNotFound is returned when an event id is not part of the voucher.
	ErrEventNotFound = errors.New("event not found")

	// ErrInvalidEvent is returned for structurally invalid events
	// (negative quantities, details that do not match the event type).
	ErrInvalidEvent = errors.New("invalid event")

	// ErrUnknownEventType is returned when decoding an unrecognised event_type.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrInvalidVoucher is returned for structurally invalid vouchers.
	ErrInvalidVoucher = errors.New("invalid voucher")

	// ErrInvalidPayment is returned for structurally invalid payments.
	ErrInvalidPayment = errors.New("invalid payment")

	// ErrQuantityExceedsAvailable is returned when an event would move more
	// pieces than the sender holds.
	ErrQuantityExceedsAvailable = errors.New("quantity exceeds available")

	// ErrVoucherCompleted is returned when appending to a closed voucher.
	ErrVoucherCompleted = errors.New("voucher already completed")

	// ErrNotForwarded is returned when completing a voucher with no forward event.
	ErrNotForwarded = errors.New("voucher has no forwarded work")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateVoucherNumber is returned when a voucher number is already taken.
	ErrDuplicateVoucherNumber = errors.New("duplicate voucher number")

	// ErrAllocationFailed is returned when the counter backend cannot issue a number.
	ErrAllocationFailed = errors.New("voucher number allocation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientQuantityError reports a receive or forward that exceeds what the
// sender holds at that point in the voucher's history.
type InsufficientQuantityError struct {
	VoucherID VoucherID
	SenderID  UserID
	Available int
	Requested int
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity on voucher %s for %s: available %d, requested %d",
		e.VoucherID, e.SenderID, e.Available, e.Requested)
}

func (e *InsufficientQuantityError) Unwrap() error {
	return ErrQuantityExceedsAvailable
}

// ValidationErrorDetail names the offending field of a rejected input.
type ValidationErrorDetail struct {
	Field   string
	Message string
	Cause   error // sentinel this detail belongs to, e.g. ErrInvalidEvent
}

func (e *ValidationErrorDetail) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationErrorDetail) Unwrap() error {
	return e.Cause
}

// InvalidEvent builds a ValidationErrorDetail wrapping ErrInvalidEvent.
func InvalidEvent(field, format string, args ...any) error {
	return &ValidationErrorDetail{Field: field, Message: fmt.Sprintf(format, args...), Cause: ErrInvalidEvent}
}

// InvalidVoucher builds a ValidationErrorDetail wrapping ErrInvalidVoucher.
func InvalidVoucher(field, format string, args ...any) error {
	return &ValidationErrorDetail{Field: field, Message: fmt.Sprintf(format, args...), Cause: ErrInvalidVoucher}
}

// InvalidPayment builds a ValidationErrorDetail wrapping ErrInvalidPayment.
func InvalidPayment(field, format string, args ...any) error {
	return &ValidationErrorDetail{Field: field, Message: fmt.Sprintf(format, args...), Cause: ErrInvalidPayment}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrUnknownEventType) ||
		errors.Is(err, ErrInvalidVoucher) ||
		errors.Is(err, ErrInvalidPayment) ||
		errors.Is(err, ErrVoucherCompleted) ||
		errors.Is(err, ErrNotForwarded)
}

// IsQuantityViolation returns true for business-rule quantity failures.
func IsQuantityViolation(err error) bool {
	return errors.Is(err, ErrQuantityExceedsAvailable)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrEventNotFound)
}
