package booking_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fleetpool/booking-engine/booking"
	"github.com/fleetpool/booking-engine/booking/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testClock is a settable clock for deterministic service tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock { return &testClock{now: now} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func newTestService(t *testing.T, cfg booking.Config) (*booking.Service, *store.Memory, *booking.StaticFairness, *testClock) {
	t.Helper()

	clock := newTestClock(baseDay.Add(9 * time.Hour)) // 09:00 on the test day
	if cfg.Clock == nil {
		cfg.Clock = clock.Now
	}

	mem := store.NewMemory()
	fairness := booking.NewStaticFairness()
	svc, err := booking.NewService(context.Background(), mem, fairness, cfg)
	require.NoError(t, err)
	return svc, mem, fairness, clock
}

func request(vehicle string, startHour, endHour int) booking.BookingRequest {
	w := win(startHour, endHour)
	return booking.BookingRequest{
		VehicleID:   booking.VehicleID(vehicle),
		GroupID:     "grp-1",
		RequesterID: "user-1",
		Role:        booking.RoleMember,
		Start:       w.StartAt,
		End:         w.EndAt,
	}
}

// =============================================================================
// ADMISSION TESTS
// =============================================================================

func TestRequestBooking_ConflictFreeAutoConfirms(t *testing.T) {
	svc, _, _, _ := newTestService(t, booking.Config{})

	adm, err := svc.RequestBooking(context.Background(), request("veh-1", 10, 12))
	require.NoError(t, err)
	require.Nil(t, adm.Preemption)

	assert.Equal(t, booking.StatusConfirmed, adm.Booking.Status)
	assert.Equal(t, win(10, 12), adm.Booking.Window)
	assert.Len(t, svc.Conflicts("veh-1", win(10, 12).StartAt, win(10, 12).EndAt), 1)
}

func TestRequestBooking_ManualApprovalFlow(t *testing.T) {
	svc, _, _, _ := newTestService(t, booking.Config{DisableAutoConfirm: true})

	adm, err := svc.RequestBooking(context.Background(), request("veh-1", 10, 12))
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPendingApproval, adm.Booking.Status)

	// A pending booking already holds the slot
	_, err = svc.RequestBooking(context.Background(), request("veh-1", 11, 13))
	assert.ErrorIs(t, err, booking.ErrSlotConflict)

	approved, err := svc.ApproveBooking(context.Background(), adm.Booking.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, booking.UserID("admin-1"), *approved.ApprovedBy)
}

func TestRequestBooking_InvalidWindow(t *testing.T) {
	svc, _, _, _ := newTestService(t, booking.Config{})

	req := request("veh-1", 12, 10)
	_, err := svc.RequestBooking(context.Background(), req)
	assert.ErrorIs(t, err, booking.ErrInvalidWindow)
}

func TestRequestBooking_ScenarioA_OverlapReturnsSlotConflict(t *testing.T) {
	// GIVEN: Vehicle X has a confirmed booking [10:00, 12:00)
	svc, _, _, _ := newTestService(t, booking.Config{})
	first, err := svc.RequestBooking(context.Background(), request("veh-x", 10, 12))
	require.NoError(t, err)
	require.Equal(t, booking.StatusConfirmed, first.Booking.Status)

	// WHEN: A non-emergency request arrives for [11:00, 13:00)
	_, err = svc.RequestBooking(context.Background(), request("veh-x", 11, 13))

	// THEN: SlotConflict naming the holder; the holder is untouched
	var conflict *booking.SlotConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []booking.BookingID{first.Booking.ID}, conflict.Conflicts)

	held, err := svc.Get(context.Background(), first.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, held.Status)
	assert.Equal(t, win(10, 12), held.Window)
}

func TestRequestBooking_BackToBackWindowsAdmitted(t *testing.T) {
	svc, _, _, _ := newTestService(t, booking.Config{})

	_, err := svc.RequestBooking(context.Background(), request("veh-1", 10, 12))
	require.NoError(t, err)
	_, err = svc.RequestBooking(context.Background(), request("veh-1", 12, 14))
	require.NoError(t, err, "shared endpoint is not an overlap")
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestRequestBooking_IdempotencyKeyShortCircuits(t *testing.T) {
	svc, _, _, _ := newTestService(t, booking.Config{})

	req := request("veh-1", 10, 12)
	req.IdempotencyKey = "rule-1:2024-03-01"

	first, err := svc.RequestBooking(context.Background(), req)
	require.NoError(t, err)

	// Re-delivery returns the same booking, no duplicate slot
	second, err := svc.RequestBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Booking.ID, second.Booking.ID)
	assert.Len(t, svc.Conflicts("veh-1", win(10, 12).StartAt, win(10, 12).EndAt), 1)
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestRequestBooking_ConcurrentSameWindow_ExactlyOneWins(t *testing.T) {
	// GIVEN: 16 concurrent requests for the same vehicle and window
	svc, _, _, _ := newTestService(t, booking.Config{})

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestBooking(context.Background(), request("veh-1", 10, 12))
		}(i)
	}
	wg.Wait()

	// THEN: Exactly one admission; every loser saw SlotConflict
	won := 0
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, booking.ErrSlotConflict)
		}
	}
	assert.Equal(t, 1, won)
	assert.Len(t, svc.Conflicts("veh-1", win(10, 12).StartAt, win(10, 12).EndAt), 1)
}

func TestRequestBooking_ConcurrentDisjointWindows_AllAdmitted(t *testing.T) {
	svc, _, _, _ := newTestService(t, booking.Config{})

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestBooking(context.Background(), request("veh-1", 2*i, 2*i+2))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "window %d", i)
	}
}

// =============================================================================
// LIFECYCLE OPERATION TESTS
// =============================================================================

func TestRejectBooking_ReleasesSlot(t *testing.T) {
	svc, _, _, _ := newTestService(t, booking.Config{DisableAutoConfirm: true})
	adm, err := svc.RequestBooking(context.Background(), request("veh-1", 10, 12))
	require.NoError(t, err)

	rejected, err := svc.RejectBooking(context.Background(), adm.Booking.ID, "admin-1", "maintenance day")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusRejected, rejected.Status)
	assert.Equal(t, "maintenance day", rejected.StatusReason)

	// The slot is free again
	_, err = svc.RequestBooking(context.Background(), request("veh-1", 10, 12))
	assert.NoError(t, err)
}

func TestCancelBooking_IsIdempotent(t *testing.T) {
	svc, _, _, _ := newTestService(t, booking.Config{})
	adm, err := svc.RequestBooking(context.Background(), request("veh-1", 10, 12))
	require.NoError(t, err)

	first, err := svc.CancelBooking(context.Background(), adm.Booking.ID, "user-1", "plans changed")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, first.Status)

	// Repeat cancellation is a no-op, not an error
	second, err := svc.CancelBooking(context.Background(), adm.Booking.ID, "user-1", "again")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, second.Status)
	assert.Equal(t, "plans changed", second.StatusReason, "no-op must not overwrite the original reason")
}

func TestCheckOutAndReturn_FullTrip(t *testing.T) {
	svc, _, _, clock := newTestService(t, booking.Config{})
	adm, err := svc.RequestBooking(context.Background(), request("veh-1", 10, 12))
	require.NoError(t, err)

	clock.Set(baseDay.Add(10 * time.Hour))
	out, err := svc.CheckOut(context.Background(), adm.Booking.ID, clock.Now(), 42100)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCheckedOut, out.Status)
	require.NotNil(t, out.CheckOutOdometer)
	assert.Equal(t, int64(42100), *out.CheckOutOdometer)

	returnAt := baseDay.Add(11*time.Hour + 45*time.Minute)
	clock.Set(returnAt)
	done, err := svc.RecordReturn(context.Background(), adm.Booking.ID, "evt-1", returnAt, 42180)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCompleted, done.Status)
	require.NotNil(t, done.ActualReturnAt)
	assert.True(t, done.ActualReturnAt.Equal(returnAt))

	// The completed booking no longer holds the slot
	assert.Empty(t, svc.Conflicts("veh-1", win(10, 12).StartAt, win(10, 12).EndAt))
}

func TestRecordReturn_SameCheckInEventIsNoOp(t *testing.T) {
	svc, _, _, clock := newTestService(t, booking.Config{})
	adm, err := svc.RequestBooking(context.Background(), request("veh-1", 10, 12))
	require.NoError(t, err)

	clock.Set(baseDay.Add(10 * time.Hour))
	_, err = svc.CheckOut(context.Background(), adm.Booking.ID, clock.Now(), 100)
	require.NoError(t, err)

	returnAt := baseDay.Add(12 * time.Hour)
	_, err = svc.RecordReturn(context.Background(), adm.Booking.ID, "evt-1", returnAt, 150)
	require.NoError(t, err)

	// Re-delivery of the same event succeeds and changes nothing
	again, err := svc.RecordReturn(context.Background(), adm.Booking.ID, "evt-1", returnAt.Add(time.Hour), 999)
	require.NoError(t, err)
	require.NotNil(t, again.ReturnOdometer)
	assert.Equal(t, int64(150), *again.ReturnOdometer)

	// A different event against a completed booking is a fault
	_, err = svc.RecordReturn(context.Background(), adm.Booking.ID, "evt-2", returnAt, 160)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

// =============================================================================
// EXPIRY SWEEP TESTS
// =============================================================================

func TestExpireOverdue_SweepsEndedUncollectedBookings(t *testing.T) {
	svc, _, _, clock := newTestService(t, booking.Config{})

	stale, err := svc.RequestBooking(context.Background(), request("veh-1", 10, 12))
	require.NoError(t, err)
	collected, err := svc.RequestBooking(context.Background(), request("veh-1", 12, 14))
	require.NoError(t, err)
	future, err := svc.RequestBooking(context.Background(), request("veh-1", 20, 22))
	require.NoError(t, err)

	clock.Set(baseDay.Add(12*time.Hour + 30*time.Minute))
	_, err = svc.CheckOut(context.Background(), collected.Booking.ID, clock.Now(), 100)
	require.NoError(t, err)

	clock.Set(baseDay.Add(15 * time.Hour))
	expired, err := svc.ExpireOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []booking.BookingID{stale.Booking.ID}, expired)

	// Checked-out and future bookings are untouched
	b, err := svc.Get(context.Background(), collected.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCheckedOut, b.Status)
	b, err = svc.Get(context.Background(), future.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, b.Status)
}

// =============================================================================
// SCORING INTEGRATION TESTS
// =============================================================================

func TestRequestBooking_FairnessDeficitRaisesScore(t *testing.T) {
	svc, _, fairness, _ := newTestService(t, booking.Config{})
	fairness.Set("under-user", decimal.RequireFromString("0.5"), decimal.RequireFromString("0.1"))
	fairness.Set("over-user", decimal.RequireFromString("0.5"), decimal.RequireFromString("0.9"))

	under := request("veh-1", 10, 12)
	under.RequesterID = "under-user"
	over := request("veh-2", 10, 12)
	over.RequesterID = "over-user"

	a, err := svc.RequestBooking(context.Background(), under)
	require.NoError(t, err)
	b, err := svc.RequestBooking(context.Background(), over)
	require.NoError(t, err)

	assert.True(t, a.Booking.PriorityScore.GreaterThan(b.Booking.PriorityScore))
}

// =============================================================================
// INDEX REBUILD TESTS
// =============================================================================

func TestNewService_RebuildsIndexFromStore(t *testing.T) {
	svc, mem, fairness, clock := newTestService(t, booking.Config{})
	adm, err := svc.RequestBooking(context.Background(), request("veh-1", 10, 12))
	require.NoError(t, err)

	// A fresh service over the same store sees the occupied slot
	restarted, err := booking.NewService(context.Background(), mem, fairness, booking.Config{Clock: clock.Now})
	require.NoError(t, err)

	_, err = restarted.RequestBooking(context.Background(), request("veh-1", 11, 13))
	var conflict *booking.SlotConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []booking.BookingID{adm.Booking.ID}, conflict.Conflicts)
}

// =============================================================================
// PROPERTY: slot-holders never overlap
// =============================================================================

func TestRequestBooking_NeverDoubleBooks(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clock := newTestClock(baseDay.Add(9 * time.Hour))
		svc, err := booking.NewService(context.Background(), store.NewMemory(),
			booking.NewStaticFairness(), booking.Config{Clock: clock.Now})
		if err != nil {
			t.Fatalf("failed to build service: %v", err)
		}

		n := rapid.IntRange(1, 25).Draw(t, "requests")
		for i := 0; i < n; i++ {
			startHour := rapid.IntRange(0, 40).Draw(t, fmt.Sprintf("start-%d", i))
			length := rapid.IntRange(1, 6).Draw(t, fmt.Sprintf("len-%d", i))
			req := request("veh-1", startHour, startHour+length)
			req.RequesterID = booking.UserID(fmt.Sprintf("user-%d", i%5))

			if _, err := svc.RequestBooking(context.Background(), req); err != nil &&
				!errors.Is(err, booking.ErrSlotConflict) {
				t.Fatalf("unexpected admission error: %v", err)
			}
		}

		all, err := svc.ListByVehicle(context.Background(), "veh-1")
		if err != nil {
			t.Fatalf("failed to list bookings: %v", err)
		}
		var holders []*booking.Booking
		for _, b := range all {
			switch b.Status {
			case booking.StatusPendingApproval, booking.StatusConfirmed, booking.StatusCheckedOut:
				holders = append(holders, b)
			}
		}
		for i := 0; i < len(holders); i++ {
			for j := i + 1; j < len(holders); j++ {
				if holders[i].Window.Overlaps(holders[j].Window) {
					t.Fatalf("double-booked: %s %s overlaps %s %s",
						holders[i].ID, holders[i].Window, holders[j].ID, holders[j].Window)
				}
			}
		}
	})
}
