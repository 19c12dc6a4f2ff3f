/*
store.go - Persistence interface for bookings and preemption audits

PURPOSE:
  Defines the interface between the scheduling core and the database.
  Different implementations can use SQLite or in-memory storage; the
  interval index is a projection rebuilt from ListHolding at startup.

RETENTION CONTRACT:
  Bookings are retained indefinitely for audit once terminal. There is no
  Delete; cancellation and expiry are status changes, never row removal.

IDEMPOTENCY:
  Bookings created from a natural key (e.g. a recurring-rule occurrence)
  carry an IdempotencyKey. GetByIdempotencyKey lets admission return the
  existing booking instead of double-creating.

IMPLEMENTATIONS:
  - booking/store/memory.go: In-memory for testing/dev
  - store/sqlite/sqlite.go:  Production SQLite
*/
package booking

import "context"

// Store handles persistence of bookings and audit records.
type Store interface {
	// Put inserts or updates a booking.
	Put(ctx context.Context, b *Booking) error

	// Get returns a booking by ID, or ErrBookingNotFound.
	Get(ctx context.Context, id BookingID) (*Booking, error)

	// GetByIdempotencyKey returns the booking created under the given
	// natural key, or ErrBookingNotFound.
	GetByIdempotencyKey(ctx context.Context, key string) (*Booking, error)

	// ListByVehicle returns all bookings for a vehicle, any status.
	ListByVehicle(ctx context.Context, vehicleID VehicleID) ([]*Booking, error)

	// ListHolding returns all bookings currently in a slot-holding status,
	// across vehicles. Used to rebuild the interval index.
	ListHolding(ctx context.Context) ([]*Booking, error)

	// AppendAudit records one preemption/admission audit record.
	AppendAudit(ctx context.Context, rec AuditRecord) error

	// ListAudits returns audit records that reference the booking, either
	// as subject or as the admitted emergency.
	ListAudits(ctx context.Context, id BookingID) ([]AuditRecord, error)
}
