// Package store provides booking.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/fleetpool/booking-engine/booking"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	bookings map[booking.BookingID]*booking.Booking
	byKey    map[string]booking.BookingID
	audits   []booking.AuditRecord
}

func NewMemory() *Memory {
	return &Memory{
		bookings: make(map[booking.BookingID]*booking.Booking),
		byKey:    make(map[string]booking.BookingID),
	}
}

func (m *Memory) Put(_ context.Context, b *booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bookings[b.ID] = b.Clone()
	if b.IdempotencyKey != "" {
		m.byKey[b.IdempotencyKey] = b.ID
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id booking.BookingID) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookings[id]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (m *Memory) GetByIdempotencyKey(_ context.Context, key string) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[key]
	if !ok {
		return nil, booking.ErrBookingNotFound
	}
	return m.bookings[id].Clone(), nil
}

func (m *Memory) ListByVehicle(_ context.Context, vehicleID booking.VehicleID) ([]*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*booking.Booking
	for _, b := range m.bookings {
		if b.VehicleID == vehicleID {
			result = append(result, b.Clone())
		}
	}
	return result, nil
}

func (m *Memory) ListHolding(_ context.Context) ([]*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*booking.Booking
	for _, b := range m.bookings {
		if b.Status.HoldsSlot() {
			result = append(result, b.Clone())
		}
	}
	return result, nil
}

func (m *Memory) AppendAudit(_ context.Context, rec booking.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, rec)
	return nil
}

func (m *Memory) ListAudits(_ context.Context, id booking.BookingID) ([]booking.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []booking.AuditRecord
	for _, rec := range m.audits {
		if rec.BookingID == id || rec.EmergencyID == id {
			result = append(result, rec)
			continue
		}
		for _, affected := range rec.Affected {
			if affected == id {
				result = append(result, rec)
				break
			}
		}
	}
	return result, nil
}
