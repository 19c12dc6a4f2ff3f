package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpool/booking-engine/booking"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func emergencyRequest(vehicle string, startHour, endHour int) booking.BookingRequest {
	req := request(vehicle, startHour, endHour)
	req.RequesterID = "medic-1"
	req.IsEmergency = true
	req.EmergencyReason = "medical transport"
	return req
}

// =============================================================================
// SCENARIO B - Emergency preemption with automatic reschedule
// =============================================================================

func TestPreemption_DisplacedHolderRescheduledToNextFreeWindow(t *testing.T) {
	// GIVEN: A confirmed booking [10:00, 12:00) on vehicle X
	svc, _, _, _ := newTestService(t, booking.Config{})
	holder, err := svc.RequestBooking(context.Background(), request("veh-x", 10, 12))
	require.NoError(t, err)

	// WHEN: An emergency arrives for [11:00, 13:00)
	adm, err := svc.RequestBooking(context.Background(), emergencyRequest("veh-x", 11, 13))
	require.NoError(t, err)
	require.NotNil(t, adm.Preemption)

	// THEN: The emergency is confirmed for its exact window
	assert.Equal(t, booking.StatusConfirmed, adm.Booking.Status)
	assert.Equal(t, win(11, 13), adm.Booking.Window)

	// AND: The holder was rescheduled to the next genuinely free window.
	// [12:00, 14:00) still overlaps the emergency, so the search lands on
	// [13:00, 15:00).
	require.Len(t, adm.Preemption.Displaced, 1)
	displaced := adm.Preemption.Displaced[0]
	assert.Equal(t, holder.Booking.ID, displaced.Booking.ID)
	assert.Equal(t, booking.OutcomeRescheduled, displaced.Outcome)
	require.NotNil(t, displaced.NewWindow)
	assert.Equal(t, win(13, 15), *displaced.NewWindow)

	moved, err := svc.Get(context.Background(), holder.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, moved.Status)
	assert.Equal(t, win(13, 15), moved.Window)

	// AND: The two holders never overlap
	assert.Empty(t, svc.Conflicts("veh-x", win(15, 24).StartAt, win(15, 24).EndAt))
}

func TestPreemption_RescheduleSkipsOccupiedWindows(t *testing.T) {
	// GIVEN: Holders at [10:00, 12:00) and [13:00, 15:00)
	svc, _, _, _ := newTestService(t, booking.Config{})
	first, err := svc.RequestBooking(context.Background(), request("veh-x", 10, 12))
	require.NoError(t, err)
	_, err = svc.RequestBooking(context.Background(), request("veh-x", 13, 15))
	require.NoError(t, err)

	// WHEN: An emergency takes [11:00, 13:00), displacing only the first
	adm, err := svc.RequestBooking(context.Background(), emergencyRequest("veh-x", 11, 13))
	require.NoError(t, err)

	// THEN: The displaced holder lands after BOTH blockers, at [15:00, 17:00)
	require.Len(t, adm.Preemption.Displaced, 1)
	displaced := adm.Preemption.Displaced[0]
	assert.Equal(t, first.Booking.ID, displaced.Booking.ID)
	assert.Equal(t, booking.OutcomeRescheduled, displaced.Outcome)
	require.NotNil(t, displaced.NewWindow)
	assert.Equal(t, win(15, 17), *displaced.NewWindow)
}

// =============================================================================
// AUTO-CANCELLATION - No free window within the look-ahead
// =============================================================================

func TestPreemption_AutoCancelsWhenNoWindowFits(t *testing.T) {
	// GIVEN: A tight look-ahead that can't fit the displaced booking again
	svc, _, _, _ := newTestService(t, booking.Config{LookAhead: 2 * time.Hour})
	holder, err := svc.RequestBooking(context.Background(), request("veh-x", 10, 12))
	require.NoError(t, err)

	adm, err := svc.RequestBooking(context.Background(), emergencyRequest("veh-x", 11, 13))
	require.NoError(t, err)

	require.Len(t, adm.Preemption.Displaced, 1)
	assert.Equal(t, booking.OutcomeAutoCancelled, adm.Preemption.Displaced[0].Outcome)

	cancelled, err := svc.Get(context.Background(), holder.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)
	assert.Contains(t, cancelled.StatusReason, "no free window")
}

// =============================================================================
// PREEMPTION DENIED - Equal-or-higher-priority holder
// =============================================================================

func TestPreemption_DeniedByHigherPriorityEmergency(t *testing.T) {
	// GIVEN: A confirmed emergency holder whose requester carries a large
	// fairness deficit
	svc, _, fairness, _ := newTestService(t, booking.Config{})
	fairness.Set("chief-1", decimal.NewFromInt(1), decimal.Zero)

	holderReq := emergencyRequest("veh-x", 10, 12)
	holderReq.RequesterID = "chief-1"
	holder, err := svc.RequestBooking(context.Background(), holderReq)
	require.NoError(t, err)

	// WHEN: A plain emergency tries to take an overlapping window
	_, err = svc.RequestBooking(context.Background(), emergencyRequest("veh-x", 11, 13))

	// THEN: PreemptionDenied names the blocker; the holder is untouched
	var denied *booking.PreemptionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, holder.Booking.ID, denied.Blocker)
	assert.True(t, denied.BlockerScore.GreaterThanOrEqual(denied.EmergencyScore))

	kept, err := svc.Get(context.Background(), holder.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusConfirmed, kept.Status)
	assert.Equal(t, win(10, 12), kept.Window)

	// AND: A pending-resolution audit record was written
	audits, err := svc.Audits(context.Background(), holder.Booking.ID)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, booking.OutcomePendingResolution, audits[0].Outcome)
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

func TestPreemption_AuditTrailOnePerDisplacedPlusSummary(t *testing.T) {
	// GIVEN: Two holders both colliding with the emergency window
	svc, _, _, _ := newTestService(t, booking.Config{})
	a, err := svc.RequestBooking(context.Background(), request("veh-x", 10, 12))
	require.NoError(t, err)
	b, err := svc.RequestBooking(context.Background(), request("veh-x", 12, 14))
	require.NoError(t, err)

	adm, err := svc.RequestBooking(context.Background(), emergencyRequest("veh-x", 11, 13))
	require.NoError(t, err)
	require.Len(t, adm.Preemption.Displaced, 2)

	// THEN: Exactly one record per displaced booking plus one summary
	require.Len(t, adm.Preemption.Audits, 3)

	summary := adm.Preemption.Audits[2]
	assert.Equal(t, booking.OutcomeEmergencyAdmitted, summary.Outcome)
	assert.Equal(t, adm.Booking.ID, summary.EmergencyID)
	assert.ElementsMatch(t, []booking.BookingID{a.Booking.ID, b.Booking.ID}, summary.Affected)

	// Each displaced booking can find its own record plus the summary
	forA, err := svc.Audits(context.Background(), a.Booking.ID)
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	forB, err := svc.Audits(context.Background(), b.Booking.ID)
	require.NoError(t, err)
	assert.Len(t, forB, 2)

	// The emergency sees the whole episode
	forEmergency, err := svc.Audits(context.Background(), adm.Booking.ID)
	require.NoError(t, err)
	assert.Len(t, forEmergency, 3)
}

func TestPreemption_NoConflictMeansNoEpisode(t *testing.T) {
	svc, _, _, _ := newTestService(t, booking.Config{})

	adm, err := svc.RequestBooking(context.Background(), emergencyRequest("veh-x", 11, 13))
	require.NoError(t, err)

	// A conflict-free emergency is a plain confirmed admission
	assert.Nil(t, adm.Preemption)
	assert.Equal(t, booking.StatusConfirmed, adm.Booking.Status)

	audits, err := svc.Audits(context.Background(), adm.Booking.ID)
	require.NoError(t, err)
	assert.Empty(t, audits)
}
