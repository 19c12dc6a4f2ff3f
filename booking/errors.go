/*
errors.go - Centralized error types for the booking core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Sibling packages (recurrence, fees) wrap these errors with their own
  context where needed.

ERROR CATEGORIES:
  1. Business-rule failures - SlotConflict, PreemptionDenied. Returned as
     typed results to the caller; recoverable or escalatable, never bugs.
  2. Faults - InvalidTransition and storage failures. Logged and escalated.
  3. Backpressure - LockTimeout. Retryable; a long queue for a hot vehicle
     is surfaced, never silently absorbed.

USAGE:
  if errors.Is(err, booking.ErrSlotConflict) {
      // offer the caller another window
  }
  var denied *booking.PreemptionDeniedError
  if errors.As(err, &denied) {
      // surface for human escalation, denied.Blocker holds the winner
  }

SEE ALSO:
  - lifecycle.go:  Produces InvalidTransition and SlotConflict
  - preemption.go: Produces PreemptionDenied
  - locks.go:      Produces LockTimeout
*/
package booking

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSlotConflict is returned when a non-emergency admission collides
	// with an existing slot-holding booking. Recoverable: pick another window.
	ErrSlotConflict = errors.New("slot conflict")

	// ErrPreemptionDenied is returned when an emergency request collides with
	// an equal-or-higher-priority holder. Not auto-resolved; surfaced for
	// human escalation.
	ErrPreemptionDenied = errors.New("preemption denied")

	// ErrInvalidTransition is returned when a lifecycle transition is
	// requested from a state that does not permit it. Programming/race error.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrLockTimeout is returned when the per-vehicle critical section could
	// not be acquired within the bounded wait. Retryable backpressure.
	ErrLockTimeout = errors.New("vehicle lock timeout")

	// ErrInvalidWindow is returned when StartAt is not strictly before EndAt.
	ErrInvalidWindow = errors.New("invalid window: start must be before end")

	// ErrBookingNotFound is returned when a referenced booking doesn't exist.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrDuplicateIdempotencyKey is returned by stores when a booking with
	// the same idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SlotConflictError reports the slot-holders a candidate window collides with.
type SlotConflictError struct {
	VehicleID VehicleID
	Window    Window
	Conflicts []BookingID
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("slot conflict: vehicle %s window %s collides with %d booking(s)",
		e.VehicleID, e.Window, len(e.Conflicts))
}

func (e *SlotConflictError) Unwrap() error { return ErrSlotConflict }

// PreemptionDeniedError reports the holder an emergency request failed to outrank.
type PreemptionDeniedError struct {
	VehicleID      VehicleID
	Blocker        BookingID
	EmergencyScore decimal.Decimal
	BlockerScore   decimal.Decimal
}

func (e *PreemptionDeniedError) Error() string {
	return fmt.Sprintf("preemption denied: booking %s holds equal-or-higher priority (%s vs %s)",
		e.Blocker, e.BlockerScore, e.EmergencyScore)
}

func (e *PreemptionDeniedError) Unwrap() error { return ErrPreemptionDenied }

// InvalidTransitionError reports a disallowed state machine transition.
type InvalidTransitionError struct {
	BookingID BookingID
	From      Status
	To        Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for booking %s: %s -> %s", e.BookingID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsClientError returns true if the error is due to the caller's request
// rather than a fault in the engine.
func IsClientError(err error) bool {
	return errors.Is(err, ErrSlotConflict) ||
		errors.Is(err, ErrPreemptionDenied) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookingNotFound)
}
