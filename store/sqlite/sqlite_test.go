package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpool/booking-engine/booking"
	"github.com/fleetpool/booking-engine/fees"
	"github.com/fleetpool/booking-engine/recurrence"
	"github.com/fleetpool/booking-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	ctx     = context.Background()
	baseDay = time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleBooking(id booking.BookingID) *booking.Booking {
	return &booking.Booking{
		ID:            id,
		VehicleID:     "veh-1",
		GroupID:       "grp-1",
		RequesterID:   "user-1",
		RequesterRole: booking.RoleMember,
		Window: booking.Window{
			StartAt: baseDay.Add(10 * time.Hour),
			EndAt:   baseDay.Add(12 * time.Hour),
		},
		Status:        booking.StatusConfirmed,
		PriorityScore: decimal.RequireFromString("75.5"),
		SubmittedAt:   baseDay.Add(9 * time.Hour),
		CreatedAt:     baseDay.Add(9 * time.Hour),
		UpdatedAt:     baseDay.Add(9 * time.Hour),
	}
}

// =============================================================================
// BOOKING ROUND-TRIP TESTS
// =============================================================================

func TestBookingRoundTrip(t *testing.T) {
	s := newStore(t)

	original := sampleBooking("b-1")
	original.IsEmergency = true
	original.EmergencyReason = "medical transport"
	original.Notes = "airport run"
	approver := booking.UserID("admin-1")
	approvedAt := baseDay.Add(9*time.Hour + 30*time.Minute)
	original.ApprovedBy = &approver
	original.ApprovedAt = &approvedAt
	odo := int64(42100)
	checkOut := baseDay.Add(10 * time.Hour)
	original.CheckOutAt = &checkOut
	original.CheckOutOdometer = &odo
	require.NoError(t, s.Put(ctx, original))

	got, err := s.Get(ctx, "b-1")
	require.NoError(t, err)

	assert.Equal(t, original.ID, got.ID)
	assert.Equal(t, original.VehicleID, got.VehicleID)
	assert.Equal(t, booking.RoleMember, got.RequesterRole)
	assert.True(t, got.Window.StartAt.Equal(original.Window.StartAt))
	assert.True(t, got.Window.EndAt.Equal(original.Window.EndAt))
	assert.Equal(t, booking.StatusConfirmed, got.Status)
	assert.True(t, got.PriorityScore.Equal(original.PriorityScore))
	assert.True(t, got.IsEmergency)
	assert.Equal(t, "medical transport", got.EmergencyReason)
	require.NotNil(t, got.ApprovedBy)
	assert.Equal(t, approver, *got.ApprovedBy)
	require.NotNil(t, got.ApprovedAt)
	assert.True(t, got.ApprovedAt.Equal(approvedAt))
	require.NotNil(t, got.CheckOutOdometer)
	assert.Equal(t, odo, *got.CheckOutOdometer)
	assert.Nil(t, got.ActualReturnAt)
}

func TestBookingPut_UpdatesExistingRow(t *testing.T) {
	s := newStore(t)

	b := sampleBooking("b-1")
	require.NoError(t, s.Put(ctx, b))

	b.Status = booking.StatusCancelled
	b.StatusReason = "plans changed"
	b.UpdatedAt = baseDay.Add(11 * time.Hour)
	require.NoError(t, s.Put(ctx, b))

	got, err := s.Get(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, got.Status)
	assert.Equal(t, "plans changed", got.StatusReason)

	list, err := s.ListByVehicle(ctx, "veh-1")
	require.NoError(t, err)
	assert.Len(t, list, 1, "upsert must not duplicate the row")
}

func TestBookingGet_UnknownIDIsNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.Get(ctx, "ghost")
	assert.ErrorIs(t, err, booking.ErrBookingNotFound)
}

func TestBookingIdempotencyKey_LookupAndUniqueness(t *testing.T) {
	s := newStore(t)

	b := sampleBooking("b-1")
	b.IdempotencyKey = "rule-1:2024-03-01"
	require.NoError(t, s.Put(ctx, b))

	got, err := s.GetByIdempotencyKey(ctx, "rule-1:2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, booking.BookingID("b-1"), got.ID)

	// A different booking under the same key violates the unique index
	dup := sampleBooking("b-2")
	dup.IdempotencyKey = "rule-1:2024-03-01"
	assert.ErrorIs(t, s.Put(ctx, dup), booking.ErrDuplicateIdempotencyKey)

	// Empty keys are exempt from uniqueness
	require.NoError(t, s.Put(ctx, sampleBooking("b-3")))
	require.NoError(t, s.Put(ctx, sampleBooking("b-4")))
}

func TestListHolding_FiltersSlotHolders(t *testing.T) {
	s := newStore(t)

	statuses := map[booking.BookingID]booking.Status{
		"b-1": booking.StatusPendingApproval,
		"b-2": booking.StatusConfirmed,
		"b-3": booking.StatusCheckedOut,
		"b-4": booking.StatusCompleted,
		"b-5": booking.StatusCancelled,
		"b-6": booking.StatusRejected,
	}
	for id, status := range statuses {
		b := sampleBooking(id)
		b.Status = status
		require.NoError(t, s.Put(ctx, b))
	}

	holding, err := s.ListHolding(ctx)
	require.NoError(t, err)

	var ids []booking.BookingID
	for _, b := range holding {
		ids = append(ids, b.ID)
	}
	assert.ElementsMatch(t, []booking.BookingID{"b-1", "b-2", "b-3"}, ids)
}

func TestListByVehicle_OrderedByStart(t *testing.T) {
	s := newStore(t)

	late := sampleBooking("b-late")
	late.Window = booking.Window{StartAt: baseDay.Add(14 * time.Hour), EndAt: baseDay.Add(16 * time.Hour)}
	early := sampleBooking("b-early")
	other := sampleBooking("b-other")
	other.VehicleID = "veh-2"
	require.NoError(t, s.Put(ctx, late))
	require.NoError(t, s.Put(ctx, early))
	require.NoError(t, s.Put(ctx, other))

	list, err := s.ListByVehicle(ctx, "veh-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, booking.BookingID("b-early"), list[0].ID)
	assert.Equal(t, booking.BookingID("b-late"), list[1].ID)
}

// =============================================================================
// AUDIT TRAIL TESTS
// =============================================================================

func TestAuditTrail_AppendAndLookupByEveryReference(t *testing.T) {
	s := newStore(t)

	displaced := booking.AuditRecord{
		ID:          "aud-1",
		At:          baseDay.Add(11 * time.Hour),
		Outcome:     booking.OutcomeRescheduled,
		EmergencyID: "b-em",
		BookingID:   "b-1",
		Detail:      "moved to 13:00",
	}
	summary := booking.AuditRecord{
		ID:          "aud-2",
		At:          baseDay.Add(11*time.Hour + time.Second),
		Outcome:     booking.OutcomeEmergencyAdmitted,
		EmergencyID: "b-em",
		BookingID:   "b-em",
		Affected:    []booking.BookingID{"b-1", "b-2"},
	}
	require.NoError(t, s.AppendAudit(ctx, displaced))
	require.NoError(t, s.AppendAudit(ctx, summary))

	// The displaced booking finds its record plus the summary naming it
	forDisplaced, err := s.ListAudits(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, forDisplaced, 2)
	assert.Equal(t, "aud-1", forDisplaced[0].ID)
	assert.Equal(t, "moved to 13:00", forDisplaced[0].Detail)
	assert.Equal(t, []booking.BookingID{"b-1", "b-2"}, forDisplaced[1].Affected)

	// b-2 appears only in the summary's affected list
	forOther, err := s.ListAudits(ctx, "b-2")
	require.NoError(t, err)
	require.Len(t, forOther, 1)
	assert.Equal(t, "aud-2", forOther[0].ID)

	// The emergency sees the whole episode
	forEmergency, err := s.ListAudits(ctx, "b-em")
	require.NoError(t, err)
	assert.Len(t, forEmergency, 2)

	// Unrelated bookings see nothing; "b-" must not substring-match
	none, err := s.ListAudits(ctx, "b-")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// RULE STORE TESTS
// =============================================================================

func sampleRule(id recurrence.RuleID) *recurrence.Rule {
	return &recurrence.Rule{
		ID:          id,
		VehicleID:   "veh-1",
		GroupID:     "grp-1",
		RequesterID: "user-1",
		Role:        booking.RoleMember,
		Pattern:     recurrence.Weekly,
		Interval:    1,
		DaysOfWeek:  recurrence.MaskOf(time.Monday, time.Wednesday),
		StartTime:   recurrence.TimeOfDay{Hour: 8},
		EndTime:     recurrence.TimeOfDay{Hour: 10, Minute: 30},
		TimeZone:    "America/New_York",
		StartDate:   baseDay,
		Status:      recurrence.RuleActive,
		Generated:   map[string]booking.BookingID{},
		CreatedAt:   baseDay,
		UpdatedAt:   baseDay,
	}
}

func TestRuleRoundTrip(t *testing.T) {
	s := newStore(t)

	original := sampleRule("rule-1")
	end := baseDay.AddDate(0, 3, 0)
	original.EndDate = &end
	original.Generated["2024-03-04"] = "b-1"
	original.Generated["2024-03-06"] = "b-2"
	original.LastMaterializedUntil = baseDay.AddDate(0, 0, 6)
	require.NoError(t, s.PutRule(ctx, original))

	got, err := s.GetRule(ctx, "rule-1")
	require.NoError(t, err)

	assert.Equal(t, recurrence.Weekly, got.Pattern)
	assert.True(t, got.DaysOfWeek.Has(time.Monday))
	assert.True(t, got.DaysOfWeek.Has(time.Wednesday))
	assert.False(t, got.DaysOfWeek.Has(time.Friday))
	assert.Equal(t, recurrence.TimeOfDay{Hour: 8}, got.StartTime)
	assert.Equal(t, recurrence.TimeOfDay{Hour: 10, Minute: 30}, got.EndTime)
	assert.Equal(t, "America/New_York", got.TimeZone)
	assert.True(t, got.StartDate.Equal(baseDay))
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.Equal(end))
	assert.True(t, got.LastMaterializedUntil.Equal(baseDay.AddDate(0, 0, 6)))
	assert.Equal(t, booking.BookingID("b-1"), got.Generated["2024-03-04"])
	assert.Len(t, got.Generated, 2)
}

func TestRulePut_GeneratedMapAccumulates(t *testing.T) {
	s := newStore(t)

	r := sampleRule("rule-1")
	r.Generated["2024-03-04"] = "b-1"
	require.NoError(t, s.PutRule(ctx, r))

	// A later save carries the map forward plus a new occurrence
	r.Generated["2024-03-06"] = "b-2"
	r.Status = recurrence.RulePaused
	require.NoError(t, s.PutRule(ctx, r))

	got, err := s.GetRule(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, recurrence.RulePaused, got.Status)
	assert.Len(t, got.Generated, 2)
}

func TestListActiveRules_ExcludesInactive(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.PutRule(ctx, sampleRule("rule-active")))
	paused := sampleRule("rule-paused")
	paused.Status = recurrence.RulePaused
	require.NoError(t, s.PutRule(ctx, paused))
	cancelled := sampleRule("rule-cancelled")
	cancelled.Status = recurrence.RuleCancelled
	require.NoError(t, s.PutRule(ctx, cancelled))

	active, err := s.ListActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, recurrence.RuleID("rule-active"), active[0].ID)

	_, err = s.GetRule(ctx, "ghost")
	assert.ErrorIs(t, err, recurrence.ErrRuleNotFound)
}

// =============================================================================
// FEE STORE TESTS
// =============================================================================

func TestFeeRoundTripAndStatusUpdate(t *testing.T) {
	s := newStore(t)

	fee := &fees.LateReturnFee{
		ID:                "fee-1",
		BookingID:         "b-1",
		CheckInID:         "evt-1",
		UserID:            "user-1",
		LateMinutes:       20,
		GraceMinutes:      15,
		ChargeableMinutes: 5,
		Amount:            decimal.RequireFromString("2.5"),
		Method:            "flat_per_minute",
		Status:            fees.FeePending,
		CreatedAt:         baseDay,
		UpdatedAt:         baseDay,
	}
	require.NoError(t, s.PutFee(ctx, fee))

	got, err := s.GetFee(ctx, "fee-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.ChargeableMinutes)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, fees.FeePending, got.Status)
	assert.Nil(t, got.ResolvedBy)

	byEvent, err := s.GetFeeByCheckIn(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, fees.FeeID("fee-1"), byEvent.ID)

	// Status transition persists through the upsert path
	admin := booking.UserID("admin-1")
	fee.Status = fees.FeeWaived
	fee.StatusReason = "goodwill"
	fee.ResolvedBy = &admin
	fee.UpdatedAt = baseDay.Add(time.Hour)
	require.NoError(t, s.PutFee(ctx, fee))

	got, err = s.GetFee(ctx, "fee-1")
	require.NoError(t, err)
	assert.Equal(t, fees.FeeWaived, got.Status)
	assert.Equal(t, "goodwill", got.StatusReason)
	require.NotNil(t, got.ResolvedBy)
	assert.Equal(t, admin, *got.ResolvedBy)

	list, err := s.ListFeesByBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetFee(ctx, "ghost")
	assert.ErrorIs(t, err, fees.ErrFeeNotFound)
}
