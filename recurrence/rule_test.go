package recurrence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpool/booking-engine/booking"
	"github.com/fleetpool/booking-engine/recurrence"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validRule() *recurrence.Rule {
	return &recurrence.Rule{
		VehicleID:   "veh-1",
		GroupID:     "grp-1",
		RequesterID: "user-1",
		Pattern:     recurrence.Weekly,
		Interval:    1,
		DaysOfWeek:  recurrence.MaskOf(time.Monday, time.Wednesday),
		StartTime:   recurrence.TimeOfDay{Hour: 8},
		EndTime:     recurrence.TimeOfDay{Hour: 10},
		StartDate:   date(2024, time.January, 1),
	}
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestRuleValidate_AcceptsWellFormedRule(t *testing.T) {
	assert.NoError(t, validRule().Validate())
}

func TestRuleValidate_CollectsAllFindings(t *testing.T) {
	// GIVEN: A rule broken in several ways at once
	r := validRule()
	r.VehicleID = ""
	r.Interval = 0
	r.DaysOfWeek = 0
	r.EndTime = recurrence.TimeOfDay{Hour: 7} // before start

	err := r.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, recurrence.ErrRuleValidation)

	// THEN: Every finding is reported, not just the first
	var verr *recurrence.RuleValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Fields), 4)
}

func TestRuleValidate_WeeklyRequiresMask(t *testing.T) {
	r := validRule()
	r.DaysOfWeek = 0
	assert.ErrorIs(t, r.Validate(), recurrence.ErrRuleValidation)

	// Daily rules don't need one
	r.Pattern = recurrence.Daily
	assert.NoError(t, r.Validate())
}

func TestRuleValidate_EndDateBeforeStartDate(t *testing.T) {
	r := validRule()
	end := date(2023, time.December, 31)
	r.EndDate = &end
	assert.ErrorIs(t, r.Validate(), recurrence.ErrRuleValidation)
}

func TestRuleValidate_UnknownTimeZone(t *testing.T) {
	r := validRule()
	r.TimeZone = "Mars/Olympus_Mons"
	assert.ErrorIs(t, r.Validate(), recurrence.ErrRuleValidation)
}

func TestRuleValidate_ZeroLengthWindow(t *testing.T) {
	r := validRule()
	r.EndTime = r.StartTime
	assert.ErrorIs(t, r.Validate(), recurrence.ErrRuleValidation)
}

// =============================================================================
// WEEKDAY MASK TESTS
// =============================================================================

func TestWeekdayMask(t *testing.T) {
	m := recurrence.MaskOf(time.Monday, time.Friday)
	assert.True(t, m.Has(time.Monday))
	assert.True(t, m.Has(time.Friday))
	assert.False(t, m.Has(time.Sunday))
	assert.False(t, m.Has(time.Saturday))
}

// =============================================================================
// WINDOW PROJECTION TESTS
// =============================================================================

func TestWindowOn_AnchorsTimeOfDayOnDate(t *testing.T) {
	r := validRule()
	w := r.WindowOn(date(2024, time.January, 3))

	assert.Equal(t, time.Date(2024, time.January, 3, 8, 0, 0, 0, time.UTC), w.StartAt)
	assert.Equal(t, time.Date(2024, time.January, 3, 10, 0, 0, 0, time.UTC), w.EndAt)
}

func TestWindowOn_RespectsTimeZone(t *testing.T) {
	r := validRule()
	r.TimeZone = "America/New_York"
	require.NoError(t, r.Validate())

	w := r.WindowOn(date(2024, time.January, 3))
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.True(t, w.StartAt.Equal(time.Date(2024, time.January, 3, 8, 0, 0, 0, loc)))
}

func TestOccurrenceKey_StableNaturalKey(t *testing.T) {
	r := validRule()
	r.ID = "rule-1"
	assert.Equal(t, "rule-1:2024-01-03", r.OccurrenceKey(date(2024, time.January, 3)))
}

// =============================================================================
// OCCURRENCE ENUMERATION TESTS
// =============================================================================

func occurrenceDates(r *recurrence.Rule, after, until time.Time) []string {
	var out []string
	for _, d := range recurrence.Occurrences(r, after, until) {
		out = append(out, d.Format("2006-01-02"))
	}
	return out
}

func TestOccurrences_Daily(t *testing.T) {
	r := validRule()
	r.Pattern = recurrence.Daily
	r.DaysOfWeek = 0

	got := occurrenceDates(r, time.Time{}, date(2024, time.January, 4))
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04"}, got)
}

func TestOccurrences_DailyWithInterval(t *testing.T) {
	r := validRule()
	r.Pattern = recurrence.Daily
	r.Interval = 3

	got := occurrenceDates(r, time.Time{}, date(2024, time.January, 10))
	assert.Equal(t, []string{"2024-01-01", "2024-01-04", "2024-01-07", "2024-01-10"}, got)
}

func TestOccurrences_WeeklyMonWed(t *testing.T) {
	// The Scenario from §8: weekly Mon/Wed from Monday 2024-01-01
	r := validRule()

	got := occurrenceDates(r, time.Time{}, date(2024, time.January, 15))
	assert.Equal(t, []string{"2024-01-01", "2024-01-03", "2024-01-08", "2024-01-10", "2024-01-15"}, got)
}

func TestOccurrences_BiweeklySkipsAlternateWeeks(t *testing.T) {
	r := validRule()
	r.Interval = 2

	got := occurrenceDates(r, time.Time{}, date(2024, time.January, 17))
	assert.Equal(t, []string{"2024-01-01", "2024-01-03", "2024-01-15", "2024-01-17"}, got)
}

func TestOccurrences_WeeklyMidweekStartSkipsEarlierDays(t *testing.T) {
	// Start on a Tuesday: the Monday of the start week is before StartDate
	// and must not be emitted.
	r := validRule()
	r.StartDate = date(2024, time.January, 2)

	got := occurrenceDates(r, time.Time{}, date(2024, time.January, 8))
	assert.Equal(t, []string{"2024-01-03", "2024-01-08"}, got)
}

func TestOccurrences_AfterWatermarkIsExclusive(t *testing.T) {
	r := validRule()

	got := occurrenceDates(r, date(2024, time.January, 3), date(2024, time.January, 15))
	assert.Equal(t, []string{"2024-01-08", "2024-01-10", "2024-01-15"}, got)
}

func TestOccurrences_MonthlyClampsDayOfMonth(t *testing.T) {
	// Jan 31 + 1 month lands on the last day of February, never March 2
	r := validRule()
	r.Pattern = recurrence.Monthly
	r.DaysOfWeek = 0
	r.StartDate = date(2024, time.January, 31)

	got := occurrenceDates(r, time.Time{}, date(2024, time.April, 30))
	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"}, got)
}

func TestOccurrences_MonthlyWithInterval(t *testing.T) {
	r := validRule()
	r.Pattern = recurrence.Monthly
	r.StartDate = date(2024, time.January, 15)
	r.Interval = 2

	got := occurrenceDates(r, time.Time{}, date(2024, time.June, 30))
	assert.Equal(t, []string{"2024-01-15", "2024-03-15", "2024-05-15"}, got)
}

// =============================================================================
// MEMORY STORE TESTS
// =============================================================================

func TestMemoryRules_CloneOnReadAndWrite(t *testing.T) {
	mem := recurrence.NewMemoryRules()
	r := validRule()
	r.ID = "rule-1"
	r.Status = recurrence.RuleActive
	r.Generated = map[string]booking.BookingID{"2024-01-01": "b-1"}

	require.NoError(t, mem.PutRule(ctxBg, r))

	// Mutating the caller's copy must not leak into the store
	r.Generated["2024-01-03"] = "b-2"

	stored, err := mem.GetRule(ctxBg, "rule-1")
	require.NoError(t, err)
	assert.Len(t, stored.Generated, 1)

	_, err = mem.GetRule(ctxBg, "ghost")
	assert.ErrorIs(t, err, recurrence.ErrRuleNotFound)
}
