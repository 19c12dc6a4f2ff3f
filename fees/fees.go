/*
Package fees computes and manages late-return penalties.

PURPOSE:
  After a booking completes its usage phase, the calculator compares the
  actual return timestamp to the scheduled end of the window:

    LateMinutes       = max(0, actualReturn - EndAt, in whole minutes)
    ChargeableMinutes = max(0, LateMinutes - GracePeriodMinutes)

  A fee record is created only when lateness exceeds the grace period; an
  on-time or in-grace return leaves no record. The grace period and rate
  method are snapshotted onto the record so later policy changes never
  retroactively alter historical fees.

RATE METHODS:
  The fee formula is a policy parameter, not hard-coded here. RateMethod
  implementations (flat per minute, tiered bands) are identified by tag,
  and the tag is recorded alongside the amount for auditability.

FEE LIFECYCLE:
  pending -> {charged, waived, disputed}
  charged -> disputed
  disputed -> {charged, waived}     (dispute resolution)
  Records are immutable once charged, except for the status field.

SEE ALSO:
  - rates.go:   RateMethod implementations
  - service.go: Store-backed orchestration of the fee lifecycle
*/
package fees

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fleetpool/booking-engine/booking"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrFeeNotFound is returned when a referenced fee doesn't exist.
	ErrFeeNotFound = errors.New("late-return fee not found")

	// ErrInvalidFeeTransition is returned for a disallowed status change.
	ErrInvalidFeeTransition = errors.New("invalid fee status transition")
)

// =============================================================================
// FEE STATUS
// =============================================================================

type FeeStatus string

const (
	FeePending  FeeStatus = "pending"
	FeeCharged  FeeStatus = "charged"
	FeeWaived   FeeStatus = "waived"
	FeeDisputed FeeStatus = "disputed"
)

var feeTransitions = map[FeeStatus][]FeeStatus{
	FeePending:  {FeeCharged, FeeWaived, FeeDisputed},
	FeeCharged:  {FeeDisputed},
	FeeDisputed: {FeeCharged, FeeWaived},
	FeeWaived:   {},
}

func canTransition(from, to FeeStatus) bool {
	for _, s := range feeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// =============================================================================
// LATE RETURN FEE
// =============================================================================

type FeeID string

func NewFeeID() FeeID { return FeeID(uuid.NewString()) }

// LateReturnFee captures the lateness penalty for one booking's return.
//
// Invariants: ChargeableMinutes >= 0; Amount >= 0; status transitions are
// one-directional except dispute resolution.
type LateReturnFee struct {
	ID        FeeID
	BookingID booking.BookingID
	CheckInID string
	UserID    booking.UserID

	LateMinutes       int64
	GraceMinutes      int64 // policy snapshot at calculation time
	ChargeableMinutes int64
	Amount            decimal.Decimal
	Method            string // rate method tag, recorded for audit

	Status       FeeStatus
	StatusReason string
	ResolvedBy   *booking.UserID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Policy is the active fee policy: grace period and rate method.
type Policy struct {
	GraceMinutes int64
	Method       RateMethod
}

// PolicyStore supplies the currently configured policy. The policy is
// snapshotted onto each fee at calculation time.
type PolicyStore interface {
	Current() Policy
}

// StaticPolicy is a fixed PolicyStore for configuration-by-flags setups.
type StaticPolicy Policy

func (p StaticPolicy) Current() Policy { return Policy(p) }

// Calculator derives fee records from completed bookings.
type Calculator struct {
	Policies PolicyStore

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func NewCalculator(policies PolicyStore) *Calculator {
	return &Calculator{Policies: policies}
}

func (c *Calculator) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// Assess compares the actual return against the booking's scheduled end.
// Returns nil when the return is on time or within the grace period; sub-
// minute lateness is not counted.
func (c *Calculator) Assess(b *booking.Booking, checkInID string, actualReturn time.Time) *LateReturnFee {
	lateMinutes := int64(actualReturn.Sub(b.Window.EndAt) / time.Minute)
	if lateMinutes <= 0 {
		return nil
	}

	policy := c.Policies.Current()
	chargeable := lateMinutes - policy.GraceMinutes
	if chargeable <= 0 {
		return nil
	}

	now := c.now()
	return &LateReturnFee{
		ID:                NewFeeID(),
		BookingID:         b.ID,
		CheckInID:         checkInID,
		UserID:            b.RequesterID,
		LateMinutes:       lateMinutes,
		GraceMinutes:      policy.GraceMinutes,
		ChargeableMinutes: chargeable,
		Amount:            policy.Method.Amount(chargeable),
		Method:            policy.Method.Tag(),
		Status:            FeePending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// Transition moves a fee to the target status, enforcing the lifecycle.
func (f *LateReturnFee) Transition(to FeeStatus, actor booking.UserID, reason string, at time.Time) error {
	if !canTransition(f.Status, to) {
		return fmt.Errorf("%w: %s -> %s for fee %s", ErrInvalidFeeTransition, f.Status, to, f.ID)
	}
	f.Status = to
	f.StatusReason = reason
	if actor != "" {
		a := actor
		f.ResolvedBy = &a
	}
	f.UpdatedAt = at
	return nil
}
