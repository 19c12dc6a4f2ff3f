/*
Package booking contains the scheduling and conflict-resolution core of the
shared-vehicle reservation engine.

PURPOSE:
  This package decides whether a requested reservation can be granted,
  resolves collisions between competing reservations (including emergency
  overrides), and keeps the per-vehicle occupancy index consistent under
  concurrent requests.

KEY CONCEPTS IN THIS FILE (types.go):
  - Booking: A reservation of one vehicle for one half-open time window
  - Window:  A half-open [StartAt, EndAt) interval with overlap semantics
  - Status:  The booking lifecycle state (see lifecycle.go for transitions)
  - Slot-holding: Statuses that occupy the interval index and block
    conflicting reservations (PendingApproval, Confirmed, CheckedOut)

DESIGN PRINCIPLES:
  1. Precision: PriorityScore uses decimal.Decimal so identical inputs
     always produce bit-identical scores (preemption re-derives scores)
  2. Type Safety: Strong typing for IDs prevents mixing vehicle/group/user IDs
  3. Auditability: Bookings are never physically deleted; terminal states
     (Cancelled, Rejected, Completed, Expired) are kept for audit

SEE ALSO:
  - lifecycle.go: State machine and transition gating
  - interval.go:  Per-vehicle occupancy index
  - priority.go:  Priority scoring and the strict total order
*/
package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookingID string
type VehicleID string
type GroupID string
type UserID string

// NewBookingID returns a fresh unique booking identifier.
func NewBookingID() BookingID {
	return BookingID(uuid.NewString())
}

// Role of the requester within the ownership group.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// =============================================================================
// WINDOW - Half-open [StartAt, EndAt) time interval
// =============================================================================

// Window is a half-open interval: StartAt is included, EndAt is not.
// Two windows [a,b) and [c,d) overlap iff a < d and c < b.
type Window struct {
	StartAt time.Time
	EndAt   time.Time
}

func NewWindow(start, end time.Time) Window {
	return Window{StartAt: start, EndAt: end}
}

// Valid reports whether the window is well-formed (StartAt strictly before EndAt).
func (w Window) Valid() bool {
	return w.StartAt.Before(w.EndAt)
}

// Overlaps reports whether two half-open intervals intersect.
func (w Window) Overlaps(other Window) bool {
	return w.StartAt.Before(other.EndAt) && other.StartAt.Before(w.EndAt)
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.StartAt) && t.Before(w.EndAt)
}

func (w Window) Duration() time.Duration {
	return w.EndAt.Sub(w.StartAt)
}

func (w Window) String() string {
	return "[" + w.StartAt.Format(time.RFC3339) + ", " + w.EndAt.Format(time.RFC3339) + ")"
}

// =============================================================================
// STATUS - Booking lifecycle states
// =============================================================================

type Status string

const (
	StatusRequested       Status = "requested"
	StatusPendingApproval Status = "pending_approval"
	StatusConfirmed       Status = "confirmed"
	StatusCheckedOut      Status = "checked_out"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
	StatusExpired         Status = "expired"
)

// HoldsSlot reports whether a booking in this status occupies the interval
// index. A pending request still reserves the slot against lower-priority
// requests to avoid double-booking during approval windows.
func (s Status) HoldsSlot() bool {
	switch s {
	case StatusPendingApproval, StatusConfirmed, StatusCheckedOut:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// =============================================================================
// BOOKING - One reservation of one vehicle
// =============================================================================

// Booking is a reservation of one vehicle for one half-open time window by
// one requester, belonging to one ownership group.
//
// Core safety invariant: a booking in a slot-holding status never overlaps,
// for the same VehicleID, with another slot-holding booking.
type Booking struct {
	ID          BookingID
	VehicleID   VehicleID
	GroupID     GroupID
	RequesterID UserID
	Window      Window
	Status      Status

	// Computed at admission, re-derived during preemption.
	PriorityScore decimal.Decimal

	IsEmergency     bool
	EmergencyReason string
	RequesterRole   Role
	Notes           string

	// IdempotencyKey is set for bookings that have a natural key, e.g.
	// occurrences generated from a recurring rule. Re-submitting the same
	// key returns the existing booking instead of creating a duplicate.
	IdempotencyKey string

	// Tie-break input for the total order (earlier submission wins).
	SubmittedAt time.Time

	// Approval tracking
	ApprovedBy *UserID
	ApprovedAt *time.Time

	// Cancellation / rejection reason
	StatusReason string

	// Handover tracking (from the check-in/check-out event source)
	CheckOutAt       *time.Time
	CheckOutOdometer *int64
	ActualReturnAt   *time.Time
	ReturnOdometer   *int64
	CheckInID        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep-enough copy so stores can hand out bookings without
// aliasing caller mutations.
func (b *Booking) Clone() *Booking {
	c := *b
	if b.ApprovedBy != nil {
		v := *b.ApprovedBy
		c.ApprovedBy = &v
	}
	if b.ApprovedAt != nil {
		v := *b.ApprovedAt
		c.ApprovedAt = &v
	}
	if b.CheckOutAt != nil {
		v := *b.CheckOutAt
		c.CheckOutAt = &v
	}
	if b.CheckOutOdometer != nil {
		v := *b.CheckOutOdometer
		c.CheckOutOdometer = &v
	}
	if b.ActualReturnAt != nil {
		v := *b.ActualReturnAt
		c.ActualReturnAt = &v
	}
	if b.ReturnOdometer != nil {
		v := *b.ReturnOdometer
		c.ReturnOdometer = &v
	}
	return &c
}
