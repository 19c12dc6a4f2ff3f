/*
Package recurrence expands recurring-reservation rules into concrete
bookings on a rolling horizon.

PURPOSE:
  A RecurringBookingRule is a template: pattern (daily/weekly/monthly),
  interval, optional day-of-week mask, time-of-day window, and a date
  range. The materializer (materializer.go) walks the rule's occurrences
  and feeds each one through the same admission path as a manually
  submitted request.

OWNERSHIP:
  The rule owns its watermark and the record of generated occurrences.
  Generated bookings are independent entities once created: cancelling a
  rule stops future generation, it never retroactively cancels past
  occurrences.

KEY CONCEPTS IN THIS FILE (rule.go):
  - Rule:       The template, validated at creation (validator/v10)
  - Pattern:    Daily | Weekly | Monthly
  - WeekdayMask: Bitmask over time.Weekday, Weekly only
  - TimeOfDay:  Wall-clock start/end combined with occurrence dates

SEE ALSO:
  - materializer.go: Occurrence enumeration and idempotent generation
*/
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fleetpool/booking-engine/booking"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRuleValidation is returned for a malformed rule; rejected at
	// creation, never partially stored.
	ErrRuleValidation = errors.New("rule validation failed")

	// ErrRuleNotFound is returned when a referenced rule doesn't exist.
	ErrRuleNotFound = errors.New("recurring rule not found")

	// ErrRuleNotActive is returned when materializing a paused, cancelled,
	// or completed rule.
	ErrRuleNotActive = errors.New("recurring rule is not active")

	// ErrMaterializationInProgress is returned when a second materialization
	// pass for the same rule overlaps a running one.
	ErrMaterializationInProgress = errors.New("materialization already in progress for rule")
)

// RuleValidationError carries the per-field findings.
type RuleValidationError struct {
	Fields []string
}

func (e *RuleValidationError) Error() string {
	return fmt.Sprintf("rule validation failed: %v", e.Fields)
}

func (e *RuleValidationError) Unwrap() error { return ErrRuleValidation }

// =============================================================================
// PATTERN & WEEKDAY MASK
// =============================================================================

type Pattern string

const (
	Daily   Pattern = "daily"
	Weekly  Pattern = "weekly"
	Monthly Pattern = "monthly"
)

// WeekdayMask is a bitmask over time.Weekday (bit 0 = Sunday ... bit 6 = Saturday).
type WeekdayMask uint8

func MaskOf(days ...time.Weekday) WeekdayMask {
	var m WeekdayMask
	for _, d := range days {
		m |= 1 << uint(d)
	}
	return m
}

func (m WeekdayMask) Has(d time.Weekday) bool {
	return m&(1<<uint(d)) != 0
}

// TimeOfDay is a wall-clock time combined with occurrence dates to produce
// absolute booking windows.
type TimeOfDay struct {
	Hour   int `validate:"min=0,max=23"`
	Minute int `validate:"min=0,max=59"`
}

// At anchors the time-of-day on a date in the given location.
func (t TimeOfDay) At(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, loc)
}

// Minutes returns the time-of-day as minutes since midnight, for ordering.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// =============================================================================
// RULE STATUS
// =============================================================================

type RuleStatus string

const (
	RuleActive    RuleStatus = "active"
	RulePaused    RuleStatus = "paused"
	RuleCancelled RuleStatus = "cancelled"
	RuleCompleted RuleStatus = "completed"
)

// =============================================================================
// RULE
// =============================================================================

type RuleID string

func NewRuleID() RuleID { return RuleID(uuid.NewString()) }

// Rule is a recurring-reservation template.
//
// Invariants: Interval >= 1; Weekly rules have a non-zero weekday mask;
// EndDate, when set, is not before StartDate; EndTime is after StartTime.
type Rule struct {
	ID          RuleID
	VehicleID   booking.VehicleID `validate:"required"`
	GroupID     booking.GroupID   `validate:"required"`
	RequesterID booking.UserID    `validate:"required"`
	Role        booking.Role

	Pattern    Pattern `validate:"required,oneof=daily weekly monthly"`
	Interval   int     `validate:"min=1"`
	DaysOfWeek WeekdayMask

	StartTime TimeOfDay
	EndTime   TimeOfDay
	TimeZone  string

	// StartDate anchors enumeration; EndDate (optional) stops it.
	// Both are dates; time-of-day components are ignored.
	StartDate time.Time `validate:"required"`
	EndDate   *time.Time

	Status RuleStatus

	// LastMaterializedUntil is the watermark: the last date through which
	// occurrences have been fully processed (generated or deliberately
	// skipped). Zero until the first run.
	LastMaterializedUntil time.Time

	// Generated maps occurrence date (2006-01-02) to the created booking.
	// The natural key behind materialization idempotency.
	Generated map[string]booking.BookingID

	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location resolves the rule's time zone, defaulting to UTC.
func (r *Rule) Location() *time.Location {
	if r.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WindowOn returns the absolute booking window for an occurrence date.
func (r *Rule) WindowOn(date time.Time) booking.Window {
	loc := r.Location()
	return booking.Window{
		StartAt: r.StartTime.At(date, loc),
		EndAt:   r.EndTime.At(date, loc),
	}
}

// OccurrenceKey is the natural key for one occurrence of this rule.
func (r *Rule) OccurrenceKey(date time.Time) string {
	return string(r.ID) + ":" + date.Format("2006-01-02")
}

// =============================================================================
// VALIDATION
// =============================================================================

var validate = validator.New()

// Validate checks the rule against its invariants. A failed rule is
// rejected whole; nothing is stored.
func (r *Rule) Validate() error {
	var fields []string

	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s: failed %q", fe.Field(), fe.Tag()))
			}
		} else {
			fields = append(fields, err.Error())
		}
	}

	if r.Pattern == Weekly && r.DaysOfWeek == 0 {
		fields = append(fields, "DaysOfWeek: weekly rule requires a non-empty weekday mask")
	}
	if r.EndTime.Minutes() <= r.StartTime.Minutes() {
		fields = append(fields, "EndTime: must be after StartTime")
	}
	if r.EndDate != nil && dateOnly(*r.EndDate).Before(dateOnly(r.StartDate)) {
		fields = append(fields, "EndDate: must not be before StartDate")
	}
	if r.TimeZone != "" {
		if _, err := time.LoadLocation(r.TimeZone); err != nil {
			fields = append(fields, "TimeZone: unknown location "+r.TimeZone)
		}
	}

	if len(fields) > 0 {
		return &RuleValidationError{Fields: fields}
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
