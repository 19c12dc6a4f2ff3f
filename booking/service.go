/*
service.go - Booking admission and lifecycle orchestration

PURPOSE:
  The entry point for every operation on a booking. Owns the per-vehicle
  critical sections: every read-then-write of the interval index for a
  vehicle happens under that vehicle's lock, so two concurrent admissions
  for overlapping windows on the same vehicle can never both succeed.
  Operations on different vehicles proceed fully in parallel.

ADMISSION FLOW:
  RequestBooking -> score -> lock vehicle -> detect conflicts
    no conflicts:        PendingApproval (+ auto-confirm policy)
    conflicts, normal:   SlotConflict returned to the caller
    conflicts, emergency: preemption resolver cascade (see preemption.go)

IDEMPOTENCY:
  Requests carrying an IdempotencyKey (recurring occurrences) return the
  existing booking on re-submission instead of double-creating.

SEE ALSO:
  - lifecycle.go:  Transition gating
  - preemption.go: Emergency cascade
  - locks.go:      Bounded-wait vehicle locks
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// DefaultLockWait bounds how long an operation queues on a hot vehicle
	// before surfacing ErrLockTimeout.
	DefaultLockWait = 3 * time.Second
)

type Config struct {
	// LockWait is the bounded wait for the per-vehicle critical section.
	// Zero means DefaultLockWait.
	LockWait time.Duration

	// DisableAutoConfirm keeps conflict-free non-emergency requests in
	// PendingApproval until an explicit admin approval.
	DisableAutoConfirm bool

	// LookAhead bounds the preemption reschedule search. Zero means
	// DefaultLookAhead (14 days).
	LookAhead time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store    Store
	fairness FairnessProvider

	index     *IntervalIndex
	detector  *ConflictDetector
	lifecycle *Lifecycle
	resolver  *Resolver
	locks     *vehicleLocks

	lockWait    time.Duration
	autoConfirm bool
	now         func() time.Time
}

// NewService builds a service and rebuilds the interval index from every
// slot-holding booking in the store.
func NewService(ctx context.Context, store Store, fairness FairnessProvider, cfg Config) (*Service, error) {
	index := NewIntervalIndex()
	lifecycle := NewLifecycle(index)

	s := &Service{
		store:       store,
		fairness:    fairness,
		index:       index,
		detector:    lifecycle.Detector,
		lifecycle:   lifecycle,
		locks:       newVehicleLocks(),
		lockWait:    cfg.LockWait,
		autoConfirm: !cfg.DisableAutoConfirm,
		now:         cfg.Clock,
	}
	if s.lockWait <= 0 {
		s.lockWait = DefaultLockWait
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.resolver = NewResolver(lifecycle, store, s.rescore)
	if cfg.LookAhead > 0 {
		s.resolver.LookAhead = cfg.LookAhead
	}

	holding, err := store.ListHolding(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild interval index: %w", err)
	}
	for _, b := range holding {
		index.Insert(b.VehicleID, IndexEntry{BookingID: b.ID, Window: b.Window, Score: b.PriorityScore})
	}
	return s, nil
}

// =============================================================================
// ADMISSION
// =============================================================================

// BookingRequest carries everything needed to admit a new booking.
type BookingRequest struct {
	VehicleID       VehicleID
	GroupID         GroupID
	RequesterID     UserID
	Role            Role
	Start           time.Time
	End             time.Time
	IsEmergency     bool
	EmergencyReason string
	Notes           string

	// IdempotencyKey, when set, makes re-submission return the existing
	// booking (natural-key idempotency for recurring occurrences).
	IdempotencyKey string
}

// Admission is the result of RequestBooking. Preemption is non-nil only
// when an emergency request displaced existing holders; its audit records
// are already persisted.
type Admission struct {
	Booking    *Booking
	Preemption *Resolution
}

// RequestBooking admits a reservation request. Returns SlotConflictError
// for colliding non-emergency requests and PreemptionDeniedError for an
// emergency blocked by an equal-or-higher-priority holder.
func (s *Service) RequestBooking(ctx context.Context, req BookingRequest) (*Admission, error) {
	w := Window{StartAt: req.Start, EndAt: req.End}
	if !w.Valid() {
		return nil, ErrInvalidWindow
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.store.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
			return &Admission{Booking: existing}, nil
		}
	}

	now := s.now()
	score, err := s.scoreRequest(ctx, req, now)
	if err != nil {
		return nil, err
	}

	b := &Booking{
		ID:              NewBookingID(),
		VehicleID:       req.VehicleID,
		GroupID:         req.GroupID,
		RequesterID:     req.RequesterID,
		RequesterRole:   req.Role,
		Window:          w,
		Status:          StatusRequested,
		PriorityScore:   score,
		IsEmergency:     req.IsEmergency,
		EmergencyReason: req.EmergencyReason,
		Notes:           req.Notes,
		IdempotencyKey:  req.IdempotencyKey,
		SubmittedAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.locks.Acquire(ctx, b.VehicleID, s.lockWait); err != nil {
		return nil, err
	}
	defer s.locks.Release(b.VehicleID)

	conflicts := s.detector.FindConflicts(b.VehicleID, b.Window, b.ID)

	if len(conflicts) > 0 && !b.IsEmergency {
		return nil, &SlotConflictError{VehicleID: b.VehicleID, Window: b.Window, Conflicts: conflictIDs(conflicts)}
	}

	if len(conflicts) > 0 {
		res, err := s.resolver.Resolve(ctx, b, now)
		if err != nil {
			return nil, err
		}
		return &Admission{Booking: b, Preemption: res}, nil
	}

	// Conflict-free intake: the request reserves the slot immediately.
	if err := s.lifecycle.Transition(b, StatusPendingApproval, now); err != nil {
		return nil, err
	}
	if b.IsEmergency || s.autoConfirm {
		if err := s.confirm(b, "", now); err != nil {
			return nil, err
		}
	}
	if err := s.store.Put(ctx, b); err != nil {
		s.index.Remove(b.VehicleID, b.ID)
		return nil, err
	}
	return &Admission{Booking: b}, nil
}

func (s *Service) scoreRequest(ctx context.Context, req BookingRequest, now time.Time) (decimal.Decimal, error) {
	ownership, usage, err := s.fairness.Shares(ctx, req.GroupID, req.RequesterID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fairness lookup: %w", err)
	}
	return Score(ScoreInput{
		FairnessDeficit: Deficit(ownership, usage),
		LeadTimeHours:   leadHours(req.Start, now),
		IsEmergency:     req.IsEmergency,
		Role:            req.Role,
	}), nil
}

// rescore re-derives a stored booking's score from current fairness data.
// Lead time stays anchored to the original submission so re-derivation is
// stable for the same booking.
func (s *Service) rescore(ctx context.Context, b *Booking) (decimal.Decimal, error) {
	ownership, usage, err := s.fairness.Shares(ctx, b.GroupID, b.RequesterID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fairness lookup: %w", err)
	}
	return Score(ScoreInput{
		FairnessDeficit: Deficit(ownership, usage),
		LeadTimeHours:   leadHours(b.Window.StartAt, b.SubmittedAt),
		IsEmergency:     b.IsEmergency,
		Role:            b.RequesterRole,
	}), nil
}

// leadHours converts the lead duration to decimal hours via whole minutes,
// keeping the scoring input integral and deterministic.
func leadHours(start, asOf time.Time) decimal.Decimal {
	minutes := int64(start.Sub(asOf) / time.Minute)
	return decimal.NewFromInt(minutes).Div(decimal.NewFromInt(60))
}

// =============================================================================
// LIFECYCLE OPERATIONS
// =============================================================================

// ApproveBooking confirms a pending booking after explicit admin approval.
func (s *Service) ApproveBooking(ctx context.Context, id BookingID, approverID UserID) (*Booking, error) {
	return s.withBooking(ctx, id, func(b *Booking, now time.Time) error {
		if b.Status != StatusPendingApproval {
			return &InvalidTransitionError{BookingID: b.ID, From: b.Status, To: StatusConfirmed}
		}
		return s.confirm(b, approverID, now)
	})
}

func (s *Service) confirm(b *Booking, approverID UserID, now time.Time) error {
	if err := s.lifecycle.Transition(b, StatusConfirmed, now); err != nil {
		return err
	}
	if approverID != "" {
		b.ApprovedBy = &approverID
	}
	at := now
	b.ApprovedAt = &at
	return nil
}

// RejectBooking denies a pending booking, releasing the slot.
func (s *Service) RejectBooking(ctx context.Context, id BookingID, approverID UserID, reason string) (*Booking, error) {
	return s.withBooking(ctx, id, func(b *Booking, now time.Time) error {
		if b.Status != StatusPendingApproval {
			return &InvalidTransitionError{BookingID: b.ID, From: b.Status, To: StatusRejected}
		}
		if err := s.lifecycle.Transition(b, StatusRejected, now); err != nil {
			return err
		}
		b.StatusReason = reason
		return nil
	})
}

// CancelBooking cancels a booking on behalf of the requester or an admin,
// releasing the slot and recording the reason.
func (s *Service) CancelBooking(ctx context.Context, id BookingID, actorID UserID, reason string) (*Booking, error) {
	return s.withBooking(ctx, id, func(b *Booking, now time.Time) error {
		if b.Status == StatusCancelled {
			// Repeated cancellation is a no-op, not an error.
			return nil
		}
		if err := s.lifecycle.Transition(b, StatusCancelled, now); err != nil {
			return err
		}
		b.StatusReason = reason
		return nil
	})
}

// CheckOut records the vehicle handover, moving the booking to CheckedOut.
func (s *Service) CheckOut(ctx context.Context, id BookingID, at time.Time, odometer int64) (*Booking, error) {
	return s.withBooking(ctx, id, func(b *Booking, now time.Time) error {
		if err := s.lifecycle.Transition(b, StatusCheckedOut, now); err != nil {
			return err
		}
		departed := at
		b.CheckOutAt = &departed
		b.CheckOutOdometer = &odometer
		return nil
	})
}

// RecordReturn records the matching return event, completing the booking.
// Re-delivery of the same check-in event is a no-op returning the
// completed booking. Fee assessment happens at the caller's boundary from
// the returned booking's scheduled end and actual return.
func (s *Service) RecordReturn(ctx context.Context, id BookingID, checkInID string, actualReturn time.Time, odometer int64) (*Booking, error) {
	return s.withBooking(ctx, id, func(b *Booking, now time.Time) error {
		if b.Status == StatusCompleted && b.CheckInID == checkInID {
			return nil
		}
		if err := s.lifecycle.Transition(b, StatusCompleted, now); err != nil {
			return err
		}
		ret := actualReturn
		b.ActualReturnAt = &ret
		b.ReturnOdometer = &odometer
		b.CheckInID = checkInID
		return nil
	})
}

// ExpireOverdue sweeps slot-holding bookings whose windows ended without a
// checkout and expires them, keeping the audit trail honest. Returns the
// expired booking IDs.
func (s *Service) ExpireOverdue(ctx context.Context) ([]BookingID, error) {
	now := s.now()
	holding, err := s.store.ListHolding(ctx)
	if err != nil {
		return nil, err
	}

	var expired []BookingID
	for _, stale := range holding {
		if stale.Status == StatusCheckedOut || stale.Window.EndAt.After(now) {
			continue
		}
		b, err := s.withBooking(ctx, stale.ID, func(b *Booking, now time.Time) error {
			if b.Status != StatusPendingApproval && b.Status != StatusConfirmed {
				return nil // raced with another transition
			}
			if b.Window.EndAt.After(now) {
				return nil
			}
			return s.lifecycle.Transition(b, StatusExpired, now)
		})
		if err != nil {
			return expired, err
		}
		if b.Status == StatusExpired {
			expired = append(expired, b.ID)
		}
	}
	return expired, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns a booking by ID.
func (s *Service) Get(ctx context.Context, id BookingID) (*Booking, error) {
	return s.store.Get(ctx, id)
}

// Conflicts reports the slot-holders overlapping a candidate window,
// for availability display.
func (s *Service) Conflicts(vehicleID VehicleID, start, end time.Time) []IndexEntry {
	return s.detector.FindConflicts(vehicleID, Window{StartAt: start, EndAt: end}, "")
}

// ListByVehicle returns all bookings for a vehicle, any status.
func (s *Service) ListByVehicle(ctx context.Context, vehicleID VehicleID) ([]*Booking, error) {
	return s.store.ListByVehicle(ctx, vehicleID)
}

// Audits returns the preemption audit records referencing a booking.
func (s *Service) Audits(ctx context.Context, id BookingID) ([]AuditRecord, error) {
	return s.store.ListAudits(ctx, id)
}

// =============================================================================
// INTERNAL
// =============================================================================

// withBooking loads a booking, runs fn under its vehicle's critical
// section, and persists the result.
func (s *Service) withBooking(ctx context.Context, id BookingID, fn func(b *Booking, now time.Time) error) (*Booking, error) {
	// Peek outside the lock to learn the vehicle, then re-load inside it.
	peek, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.locks.Acquire(ctx, peek.VehicleID, s.lockWait); err != nil {
		return nil, err
	}
	defer s.locks.Release(peek.VehicleID)

	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(b, s.now()); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}
