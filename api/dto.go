/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Booking:
    BookingDTO, CreateBookingRequest, AdmissionDTO, CheckOutRequest,
    ReturnRequest, ReturnResponse, ActionRequest

  Preemption:
    PreemptionDTO, DisplacedDTO, AuditDTO

  Recurrence:
    RuleDTO, CreateRuleRequest, MaterializeResultDTO

  Fees:
    FeeDTO, FeeActionRequest

TIME FORMATS:
  Timestamps are RFC 3339. Rule dates are "2006-01-02" and times of day
  are "15:04", interpreted in the rule's time zone.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/fleetpool/booking-engine/booking"
	"github.com/fleetpool/booking-engine/fees"
	"github.com/fleetpool/booking-engine/recurrence"
)

// =============================================================================
// BOOKING TYPES
// =============================================================================

// BookingDTO represents a booking in API responses.
type BookingDTO struct {
	ID              string  `json:"id"`
	VehicleID       string  `json:"vehicle_id"`
	GroupID         string  `json:"group_id"`
	RequesterID     string  `json:"requester_id"`
	Role            string  `json:"role"`
	StartAt         string  `json:"start_at"`
	EndAt           string  `json:"end_at"`
	Status          string  `json:"status"`
	PriorityScore   string  `json:"priority_score"`
	IsEmergency     bool    `json:"is_emergency"`
	EmergencyReason string  `json:"emergency_reason,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	SubmittedAt     string  `json:"submitted_at"`
	ApprovedBy      *string `json:"approved_by,omitempty"`
	ApprovedAt      *string `json:"approved_at,omitempty"`
	StatusReason    string  `json:"status_reason,omitempty"`
	CheckOutAt      *string `json:"check_out_at,omitempty"`
	ActualReturnAt  *string `json:"actual_return_at,omitempty"`
	CreatedAt       string  `json:"created_at,omitempty"`
}

// CreateBookingRequest is the request to submit a booking.
type CreateBookingRequest struct {
	VehicleID       string `json:"vehicle_id"`
	GroupID         string `json:"group_id"`
	RequesterID     string `json:"requester_id"`
	Role            string `json:"role,omitempty"`
	StartAt         string `json:"start_at"`
	EndAt           string `json:"end_at"`
	IsEmergency     bool   `json:"is_emergency,omitempty"`
	EmergencyReason string `json:"emergency_reason,omitempty"`
	Notes           string `json:"notes,omitempty"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

// AdmissionDTO wraps the admitted booking plus, for emergencies, the
// preemption episode it triggered.
type AdmissionDTO struct {
	Booking    BookingDTO     `json:"booking"`
	Preemption *PreemptionDTO `json:"preemption,omitempty"`
}

// ActionRequest carries the actor and optional reason for approve /
// reject / cancel style endpoints.
type ActionRequest struct {
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

// CheckOutRequest records a vehicle handover.
type CheckOutRequest struct {
	At       string `json:"at"`
	Odometer int64  `json:"odometer"`
}

// ReturnRequest records a vehicle return (check-in event).
type ReturnRequest struct {
	CheckInID      string `json:"check_in_id"`
	ActualReturnAt string `json:"actual_return_at"`
	Odometer       int64  `json:"odometer"`
}

// ReturnResponse is the completed booking plus the late fee, when the
// return exceeded the grace period.
type ReturnResponse struct {
	Booking BookingDTO `json:"booking"`
	Fee     *FeeDTO    `json:"fee,omitempty"`
}

// ConflictDTO describes one colliding booking in a 409 response.
type ConflictDTO struct {
	BookingID string `json:"booking_id"`
	StartAt   string `json:"start_at"`
	EndAt     string `json:"end_at"`
	Score     string `json:"priority_score"`
}

// =============================================================================
// PREEMPTION TYPES
// =============================================================================

// DisplacedDTO is the fate of one booking displaced by an emergency.
type DisplacedDTO struct {
	BookingID  string  `json:"booking_id"`
	Outcome    string  `json:"outcome"`
	NewStartAt *string `json:"new_start_at,omitempty"`
	NewEndAt   *string `json:"new_end_at,omitempty"`
}

// PreemptionDTO is the full outcome of one preemption episode.
type PreemptionDTO struct {
	EmergencyID string         `json:"emergency_id"`
	Displaced   []DisplacedDTO `json:"displaced"`
	Audits      []AuditDTO     `json:"audits"`
}

// AuditDTO is one preemption audit record.
type AuditDTO struct {
	ID          string   `json:"id"`
	At          string   `json:"at"`
	Outcome     string   `json:"outcome"`
	EmergencyID string   `json:"emergency_id"`
	BookingID   string   `json:"booking_id"`
	Detail      string   `json:"detail,omitempty"`
	Affected    []string `json:"affected,omitempty"`
}

// =============================================================================
// RECURRENCE TYPES
// =============================================================================

// RuleDTO represents a recurring rule in API responses.
type RuleDTO struct {
	ID                  string   `json:"id"`
	VehicleID           string   `json:"vehicle_id"`
	GroupID             string   `json:"group_id"`
	RequesterID         string   `json:"requester_id"`
	Role                string   `json:"role"`
	Pattern             string   `json:"pattern"`
	Interval            int      `json:"interval"`
	DaysOfWeek          []string `json:"days_of_week,omitempty"`
	StartTime           string   `json:"start_time"`
	EndTime             string   `json:"end_time"`
	TimeZone            string   `json:"time_zone,omitempty"`
	StartDate           string   `json:"start_date"`
	EndDate             *string  `json:"end_date,omitempty"`
	Status              string   `json:"status"`
	MaterializedThrough *string  `json:"materialized_through,omitempty"`
	GeneratedCount      int      `json:"generated_count"`
	Notes               string   `json:"notes,omitempty"`
}

// CreateRuleRequest is the request to create a recurring rule.
type CreateRuleRequest struct {
	VehicleID   string   `json:"vehicle_id"`
	GroupID     string   `json:"group_id"`
	RequesterID string   `json:"requester_id"`
	Role        string   `json:"role,omitempty"`
	Pattern     string   `json:"pattern"`
	Interval    int      `json:"interval"`
	DaysOfWeek  []string `json:"days_of_week,omitempty"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	TimeZone    string   `json:"time_zone,omitempty"`
	StartDate   string   `json:"start_date"`
	EndDate     *string  `json:"end_date,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// MaterializeRequest optionally overrides the rolling horizon.
type MaterializeRequest struct {
	Horizon string `json:"horizon,omitempty"`
}

// MaterializeResultDTO is the outcome of one materialization run.
type MaterializeResultDTO struct {
	Generated []BookingDTO `json:"generated"`
	Skipped   []string     `json:"skipped"`
}

// =============================================================================
// FEE TYPES
// =============================================================================

// FeeDTO represents a late-return fee in API responses.
type FeeDTO struct {
	ID                string  `json:"id"`
	BookingID         string  `json:"booking_id"`
	UserID            string  `json:"user_id"`
	LateMinutes       int64   `json:"late_minutes"`
	GraceMinutes      int64   `json:"grace_minutes"`
	ChargeableMinutes int64   `json:"chargeable_minutes"`
	Amount            string  `json:"amount"`
	Method            string  `json:"method"`
	Status            string  `json:"status"`
	StatusReason      string  `json:"status_reason,omitempty"`
	ResolvedBy        *string `json:"resolved_by,omitempty"`
	CreatedAt         string  `json:"created_at,omitempty"`
}

// =============================================================================
// ERROR RESPONSE
// =============================================================================

// ErrorResponse is the JSON error envelope. Conflicts carries the IDs of
// the colliding bookings on slot-conflict rejections.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Details   string   `json:"details,omitempty"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toBookingDTO(b *booking.Booking) BookingDTO {
	dto := BookingDTO{
		ID:              string(b.ID),
		VehicleID:       string(b.VehicleID),
		GroupID:         string(b.GroupID),
		RequesterID:     string(b.RequesterID),
		Role:            string(b.RequesterRole),
		StartAt:         b.Window.StartAt.Format(time.RFC3339),
		EndAt:           b.Window.EndAt.Format(time.RFC3339),
		Status:          string(b.Status),
		PriorityScore:   b.PriorityScore.String(),
		IsEmergency:     b.IsEmergency,
		EmergencyReason: b.EmergencyReason,
		Notes:           b.Notes,
		SubmittedAt:     b.SubmittedAt.Format(time.RFC3339),
		StatusReason:    b.StatusReason,
		CreatedAt:       b.CreatedAt.Format(time.RFC3339),
	}
	if b.ApprovedBy != nil {
		s := string(*b.ApprovedBy)
		dto.ApprovedBy = &s
	}
	dto.ApprovedAt = timePtrString(b.ApprovedAt)
	dto.CheckOutAt = timePtrString(b.CheckOutAt)
	dto.ActualReturnAt = timePtrString(b.ActualReturnAt)
	return dto
}

func toPreemptionDTO(res *booking.Resolution) *PreemptionDTO {
	if res == nil {
		return nil
	}
	dto := &PreemptionDTO{
		EmergencyID: string(res.Emergency.ID),
		Displaced:   make([]DisplacedDTO, len(res.Displaced)),
		Audits:      make([]AuditDTO, len(res.Audits)),
	}
	for i, d := range res.Displaced {
		dd := DisplacedDTO{
			BookingID: string(d.Booking.ID),
			Outcome:   string(d.Outcome),
		}
		if d.NewWindow != nil {
			start := d.NewWindow.StartAt.Format(time.RFC3339)
			end := d.NewWindow.EndAt.Format(time.RFC3339)
			dd.NewStartAt = &start
			dd.NewEndAt = &end
		}
		dto.Displaced[i] = dd
	}
	for i, a := range res.Audits {
		dto.Audits[i] = toAuditDTO(a)
	}
	return dto
}

func toAuditDTO(a booking.AuditRecord) AuditDTO {
	dto := AuditDTO{
		ID:          a.ID,
		At:          a.At.Format(time.RFC3339),
		Outcome:     string(a.Outcome),
		EmergencyID: string(a.EmergencyID),
		BookingID:   string(a.BookingID),
		Detail:      a.Detail,
	}
	for _, id := range a.Affected {
		dto.Affected = append(dto.Affected, string(id))
	}
	return dto
}

func toRuleDTO(r *recurrence.Rule) RuleDTO {
	dto := RuleDTO{
		ID:             string(r.ID),
		VehicleID:      string(r.VehicleID),
		GroupID:        string(r.GroupID),
		RequesterID:    string(r.RequesterID),
		Role:           string(r.Role),
		Pattern:        string(r.Pattern),
		Interval:       r.Interval,
		DaysOfWeek:     weekdayNames(r.DaysOfWeek),
		StartTime:      r.StartTime.String(),
		EndTime:        r.EndTime.String(),
		TimeZone:       r.TimeZone,
		StartDate:      r.StartDate.Format("2006-01-02"),
		Status:         string(r.Status),
		GeneratedCount: len(r.Generated),
		Notes:          r.Notes,
	}
	if r.EndDate != nil {
		s := r.EndDate.Format("2006-01-02")
		dto.EndDate = &s
	}
	if !r.LastMaterializedUntil.IsZero() {
		s := r.LastMaterializedUntil.Format("2006-01-02")
		dto.MaterializedThrough = &s
	}
	return dto
}

func toFeeDTO(f *fees.LateReturnFee) FeeDTO {
	dto := FeeDTO{
		ID:                string(f.ID),
		BookingID:         string(f.BookingID),
		UserID:            string(f.UserID),
		LateMinutes:       f.LateMinutes,
		GraceMinutes:      f.GraceMinutes,
		ChargeableMinutes: f.ChargeableMinutes,
		Amount:            f.Amount.String(),
		Method:            f.Method,
		Status:            string(f.Status),
		StatusReason:      f.StatusReason,
		CreatedAt:         f.CreatedAt.Format(time.RFC3339),
	}
	if f.ResolvedBy != nil {
		s := string(*f.ResolvedBy)
		dto.ResolvedBy = &s
	}
	return dto
}

func timePtrString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekdays(names []string) (recurrence.WeekdayMask, error) {
	var days []time.Weekday
	for _, n := range names {
		d, ok := weekdayByName[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", n)
		}
		days = append(days, d)
	}
	return recurrence.MaskOf(days...), nil
}

func weekdayNames(mask recurrence.WeekdayMask) []string {
	var names []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if mask.Has(d) {
			names = append(names, strings.ToLower(d.String()))
		}
	}
	return names
}

func parseTimeOfDay(s string) (recurrence.TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return recurrence.TimeOfDay{}, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}
	return recurrence.TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}
