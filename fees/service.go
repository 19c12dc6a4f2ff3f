package fees

import (
	"context"
	"sync"
	"time"

	"github.com/fleetpool/booking-engine/booking"
)

// =============================================================================
// STORE
// =============================================================================

// FeeStore handles persistence of late-return fees.
type FeeStore interface {
	// PutFee inserts or updates a fee record.
	PutFee(ctx context.Context, f *LateReturnFee) error

	// GetFee returns a fee by ID, or ErrFeeNotFound.
	GetFee(ctx context.Context, id FeeID) (*LateReturnFee, error)

	// GetFeeByCheckIn returns the fee created for a check-in event, or
	// ErrFeeNotFound. The natural key behind assessment idempotency.
	GetFeeByCheckIn(ctx context.Context, checkInID string) (*LateReturnFee, error)

	// ListFeesByBooking returns the fees recorded for a booking.
	ListFeesByBooking(ctx context.Context, id booking.BookingID) ([]*LateReturnFee, error)
}

// =============================================================================
// SERVICE - Store-backed fee lifecycle
// =============================================================================

type Service struct {
	Store FeeStore
	Calc  *Calculator
}

func NewService(store FeeStore, calc *Calculator) *Service {
	return &Service{Store: store, Calc: calc}
}

// AssessAndRecord evaluates a completed booking's return and persists the
// resulting fee, if any. Re-delivery of the same check-in event returns
// the existing record instead of double-creating.
func (s *Service) AssessAndRecord(ctx context.Context, b *booking.Booking, checkInID string, actualReturn time.Time) (*LateReturnFee, error) {
	if existing, err := s.Store.GetFeeByCheckIn(ctx, checkInID); err == nil {
		return existing, nil
	}

	fee := s.Calc.Assess(b, checkInID, actualReturn)
	if fee == nil {
		return nil, nil
	}
	if err := s.Store.PutFee(ctx, fee); err != nil {
		return nil, err
	}
	return fee, nil
}

// Waive forgives a fee with a reason. Allowed from pending or disputed.
func (s *Service) Waive(ctx context.Context, id FeeID, actor booking.UserID, reason string) (*LateReturnFee, error) {
	return s.transition(ctx, id, FeeWaived, actor, reason)
}

// Charge hands the fee off to billing. Allowed from pending or disputed.
func (s *Service) Charge(ctx context.Context, id FeeID, actor booking.UserID) (*LateReturnFee, error) {
	return s.transition(ctx, id, FeeCharged, actor, "")
}

// Dispute marks a pending or charged fee as contested; it must resolve
// back to charged or waived.
func (s *Service) Dispute(ctx context.Context, id FeeID, actor booking.UserID, reason string) (*LateReturnFee, error) {
	return s.transition(ctx, id, FeeDisputed, actor, reason)
}

// Get returns a fee by ID.
func (s *Service) Get(ctx context.Context, id FeeID) (*LateReturnFee, error) {
	return s.Store.GetFee(ctx, id)
}

func (s *Service) transition(ctx context.Context, id FeeID, to FeeStatus, actor booking.UserID, reason string) (*LateReturnFee, error) {
	fee, err := s.Store.GetFee(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fee.Transition(to, actor, reason, s.Calc.now()); err != nil {
		return nil, err
	}
	if err := s.Store.PutFee(ctx, fee); err != nil {
		return nil, err
	}
	return fee, nil
}

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type MemoryFees struct {
	mu        sync.RWMutex
	fees      map[FeeID]*LateReturnFee
	byCheckIn map[string]FeeID
}

func NewMemoryFees() *MemoryFees {
	return &MemoryFees{
		fees:      make(map[FeeID]*LateReturnFee),
		byCheckIn: make(map[string]FeeID),
	}
}

func (m *MemoryFees) PutFee(_ context.Context, f *LateReturnFee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees[f.ID] = cloneFee(f)
	if f.CheckInID != "" {
		m.byCheckIn[f.CheckInID] = f.ID
	}
	return nil
}

func (m *MemoryFees) GetFee(_ context.Context, id FeeID) (*LateReturnFee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fees[id]
	if !ok {
		return nil, ErrFeeNotFound
	}
	return cloneFee(f), nil
}

func (m *MemoryFees) GetFeeByCheckIn(_ context.Context, checkInID string) (*LateReturnFee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCheckIn[checkInID]
	if !ok {
		return nil, ErrFeeNotFound
	}
	return cloneFee(m.fees[id]), nil
}

func (m *MemoryFees) ListFeesByBooking(_ context.Context, id booking.BookingID) ([]*LateReturnFee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*LateReturnFee
	for _, f := range m.fees {
		if f.BookingID == id {
			result = append(result, cloneFee(f))
		}
	}
	return result, nil
}

func cloneFee(f *LateReturnFee) *LateReturnFee {
	c := *f
	if f.ResolvedBy != nil {
		v := *f.ResolvedBy
		c.ResolvedBy = &v
	}
	return &c
}
