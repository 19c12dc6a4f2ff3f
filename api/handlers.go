/*
handlers.go - HTTP API handlers for the booking engine

PURPOSE:
  Exposes the booking engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Bookings:
    POST   /api/bookings                  Submit a booking request
    GET    /api/bookings/{id}             Get booking details
    POST   /api/bookings/{id}/approve     Approve a pending booking
    POST   /api/bookings/{id}/reject      Reject a pending booking
    POST   /api/bookings/{id}/cancel      Cancel a booking
    POST   /api/bookings/{id}/checkout    Record vehicle handover
    POST   /api/bookings/{id}/return      Record vehicle return (+ fee)
    GET    /api/bookings/{id}/audits      Preemption audit trail
    GET    /api/bookings/{id}/fees        Fees recorded for the booking

  Vehicles:
    GET    /api/vehicles/{id}/bookings    Bookings for a vehicle
    GET    /api/vehicles/{id}/conflicts   Slot-holders overlapping a window

  Rules:
    POST   /api/rules                     Create a recurring rule
    GET    /api/rules/{id}                Get rule details
    POST   /api/rules/{id}/pause          Pause materialization
    POST   /api/rules/{id}/resume         Resume a paused rule
    POST   /api/rules/{id}/cancel         Cancel the rule
    POST   /api/rules/{id}/materialize    Expand occurrences now

  Fees:
    GET    /api/fees/{id}                 Get fee details
    POST   /api/fees/{id}/charge          Hand the fee to billing
    POST   /api/fees/{id}/waive           Forgive the fee
    POST   /api/fees/{id}/dispute         Contest the fee

  Admin:
    POST   /api/admin/expire              Expire overdue approvals
    POST   /api/admin/materialize         Run all active rules

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, invalid transitions
  - 404: Booking / rule / fee not found
  - 409: Slot conflict, preemption denied, materialization in progress
  - 503: Per-vehicle lock wait exceeded (retryable)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. The actor_id fields in
  request bodies are trusted as-is.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetpool/booking-engine/booking"
	"github.com/fleetpool/booking-engine/fees"
	"github.com/fleetpool/booking-engine/recurrence"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Bookings *booking.Service
	Rules    *recurrence.Materializer
	Fees     *fees.Service
}

// NewHandler creates a new handler.
func NewHandler(bookings *booking.Service, rules *recurrence.Materializer, feeSvc *fees.Service) *Handler {
	return &Handler{Bookings: bookings, Rules: rules, Fees: feeSvc}
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking submits a booking request.
// POST /api/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_at", err)
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_at", err)
		return
	}

	role := booking.RoleMember
	if req.Role != "" {
		role = booking.Role(req.Role)
	}

	adm, err := h.Bookings.RequestBooking(r.Context(), booking.BookingRequest{
		VehicleID:       booking.VehicleID(req.VehicleID),
		GroupID:         booking.GroupID(req.GroupID),
		RequesterID:     booking.UserID(req.RequesterID),
		Role:            role,
		Start:           start,
		End:             end,
		IsEmergency:     req.IsEmergency,
		EmergencyReason: req.EmergencyReason,
		Notes:           req.Notes,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		writeDomainError(w, "Failed to admit booking", err)
		return
	}

	writeJSON(w, http.StatusCreated, AdmissionDTO{
		Booking:    toBookingDTO(adm.Booking),
		Preemption: toPreemptionDTO(adm.Preemption),
	})
}

// GetBooking returns one booking.
// GET /api/bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))
	b, err := h.Bookings.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// ApproveBooking confirms a pending booking.
// POST /api/bookings/{id}/approve
func (h *Handler) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Bookings.ApproveBooking(r.Context(), id, booking.UserID(req.ActorID))
	if err != nil {
		writeDomainError(w, "Failed to approve booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// RejectBooking rejects a pending booking.
// POST /api/bookings/{id}/reject
func (h *Handler) RejectBooking(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Bookings.RejectBooking(r.Context(), id, booking.UserID(req.ActorID), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reject booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// CancelBooking cancels a booking. Repeat cancellation is a no-op.
// POST /api/bookings/{id}/cancel
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	b, err := h.Bookings.CancelBooking(r.Context(), id, booking.UserID(req.ActorID), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to cancel booking", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// CheckOutBooking records a vehicle handover.
// POST /api/bookings/{id}/checkout
func (h *Handler) CheckOutBooking(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))
	var req CheckOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	at, err := time.Parse(time.RFC3339, req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}

	b, err := h.Bookings.CheckOut(r.Context(), id, at, req.Odometer)
	if err != nil {
		writeDomainError(w, "Failed to check out", err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// ReturnBooking records a vehicle return and assesses a late fee.
// POST /api/bookings/{id}/return
func (h *Handler) ReturnBooking(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))
	var req ReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CheckInID == "" {
		writeError(w, http.StatusBadRequest, "check_in_id is required", nil)
		return
	}

	actualReturn, err := time.Parse(time.RFC3339, req.ActualReturnAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid actual_return_at", err)
		return
	}

	b, err := h.Bookings.RecordReturn(r.Context(), id, req.CheckInID, actualReturn, req.Odometer)
	if err != nil {
		writeDomainError(w, "Failed to record return", err)
		return
	}

	fee, err := h.Fees.AssessAndRecord(r.Context(), b, req.CheckInID, actualReturn)
	if err != nil {
		writeDomainError(w, "Failed to assess late fee", err)
		return
	}

	resp := ReturnResponse{Booking: toBookingDTO(b)}
	if fee != nil {
		f := toFeeDTO(fee)
		resp.Fee = &f
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBookingAudits returns the preemption audit trail touching a booking.
// GET /api/bookings/{id}/audits
func (h *Handler) GetBookingAudits(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))
	audits, err := h.Bookings.Audits(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list audits", err)
		return
	}

	dtos := make([]AuditDTO, len(audits))
	for i, a := range audits {
		dtos[i] = toAuditDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBookingFees returns the fees recorded for a booking.
// GET /api/bookings/{id}/fees
func (h *Handler) GetBookingFees(w http.ResponseWriter, r *http.Request) {
	id := booking.BookingID(chi.URLParam(r, "id"))
	list, err := h.Fees.Store.ListFeesByBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list fees", err)
		return
	}

	dtos := make([]FeeDTO, len(list))
	for i, f := range list {
		dtos[i] = toFeeDTO(f)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// VEHICLE HANDLERS
// =============================================================================

// ListVehicleBookings returns all bookings for a vehicle.
// GET /api/vehicles/{id}/bookings
func (h *Handler) ListVehicleBookings(w http.ResponseWriter, r *http.Request) {
	vehicleID := booking.VehicleID(chi.URLParam(r, "id"))
	list, err := h.Bookings.ListByVehicle(r.Context(), vehicleID)
	if err != nil {
		writeDomainError(w, "Failed to list bookings", err)
		return
	}

	dtos := make([]BookingDTO, len(list))
	for i, b := range list {
		dtos[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListVehicleConflicts returns the slot-holders overlapping a window.
// GET /api/vehicles/{id}/conflicts?start=...&end=...
func (h *Handler) ListVehicleConflicts(w http.ResponseWriter, r *http.Request) {
	vehicleID := booking.VehicleID(chi.URLParam(r, "id"))

	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start", err)
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end", err)
		return
	}

	entries := h.Bookings.Conflicts(vehicleID, start, end)
	dtos := make([]ConflictDTO, len(entries))
	for i, e := range entries {
		dtos[i] = ConflictDTO{
			BookingID: string(e.BookingID),
			StartAt:   e.Window.StartAt.Format(time.RFC3339),
			EndAt:     e.Window.EndAt.Format(time.RFC3339),
			Score:     e.Score.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// CreateRule creates a recurring rule.
// POST /api/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	rule, err := h.parseRule(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
		return
	}

	created, err := h.Rules.CreateRule(r.Context(), rule)
	if err != nil {
		writeDomainError(w, "Failed to create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleDTO(created))
}

func (h *Handler) parseRule(req CreateRuleRequest) (*recurrence.Rule, error) {
	startTime, err := parseTimeOfDay(req.StartTime)
	if err != nil {
		return nil, err
	}
	endTime, err := parseTimeOfDay(req.EndTime)
	if err != nil {
		return nil, err
	}
	startDate, err := parseDate(req.StartDate)
	if err != nil {
		return nil, err
	}
	mask, err := parseWeekdays(req.DaysOfWeek)
	if err != nil {
		return nil, err
	}

	role := booking.RoleMember
	if req.Role != "" {
		role = booking.Role(req.Role)
	}
	interval := req.Interval
	if interval == 0 {
		interval = 1
	}

	rule := &recurrence.Rule{
		VehicleID:   booking.VehicleID(req.VehicleID),
		GroupID:     booking.GroupID(req.GroupID),
		RequesterID: booking.UserID(req.RequesterID),
		Role:        role,
		Pattern:     recurrence.Pattern(req.Pattern),
		Interval:    interval,
		DaysOfWeek:  mask,
		StartTime:   startTime,
		EndTime:     endTime,
		TimeZone:    req.TimeZone,
		StartDate:   startDate,
		Notes:       req.Notes,
	}
	if req.EndDate != nil {
		d, err := parseDate(*req.EndDate)
		if err != nil {
			return nil, err
		}
		rule.EndDate = &d
	}
	return rule, nil
}

// GetRule returns one rule.
// GET /api/rules/{id}
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := recurrence.RuleID(chi.URLParam(r, "id"))
	rule, err := h.Rules.GetRule(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(rule))
}

// PauseRule pauses a rule.
// POST /api/rules/{id}/pause
func (h *Handler) PauseRule(w http.ResponseWriter, r *http.Request) {
	h.ruleStatus(w, r, h.Rules.PauseRule)
}

// ResumeRule resumes a paused rule.
// POST /api/rules/{id}/resume
func (h *Handler) ResumeRule(w http.ResponseWriter, r *http.Request) {
	h.ruleStatus(w, r, h.Rules.ResumeRule)
}

// CancelRule terminally cancels a rule.
// POST /api/rules/{id}/cancel
func (h *Handler) CancelRule(w http.ResponseWriter, r *http.Request) {
	h.ruleStatus(w, r, h.Rules.CancelRule)
}

func (h *Handler) ruleStatus(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id recurrence.RuleID) (*recurrence.Rule, error)) {
	id := recurrence.RuleID(chi.URLParam(r, "id"))
	rule, err := fn(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to update rule", err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleDTO(rule))
}

// MaterializeRule expands a rule's occurrences up to the horizon.
// POST /api/rules/{id}/materialize
func (h *Handler) MaterializeRule(w http.ResponseWriter, r *http.Request) {
	id := recurrence.RuleID(chi.URLParam(r, "id"))

	var req MaterializeRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req) // empty body means default horizon
	}

	horizon := time.Now().AddDate(0, 0, h.Rules.HorizonDays)
	if req.Horizon != "" {
		d, err := parseDate(req.Horizon)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid horizon", err)
			return
		}
		horizon = d
	}

	res, err := h.Rules.Materialize(r.Context(), id, horizon)
	if err != nil {
		writeDomainError(w, "Failed to materialize rule", err)
		return
	}
	writeJSON(w, http.StatusOK, toMaterializeResultDTO(res))
}

func toMaterializeResultDTO(res *recurrence.Result) MaterializeResultDTO {
	dto := MaterializeResultDTO{
		Generated: make([]BookingDTO, len(res.Generated)),
		Skipped:   make([]string, len(res.Skipped)),
	}
	for i, b := range res.Generated {
		dto.Generated[i] = toBookingDTO(b)
	}
	for i, d := range res.Skipped {
		dto.Skipped[i] = d.Format("2006-01-02")
	}
	return dto
}

// =============================================================================
// FEE HANDLERS
// =============================================================================

// GetFee returns one fee.
// GET /api/fees/{id}
func (h *Handler) GetFee(w http.ResponseWriter, r *http.Request) {
	id := fees.FeeID(chi.URLParam(r, "id"))
	f, err := h.Fees.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get fee", err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeDTO(f))
}

// ChargeFee hands the fee off to billing.
// POST /api/fees/{id}/charge
func (h *Handler) ChargeFee(w http.ResponseWriter, r *http.Request) {
	id := fees.FeeID(chi.URLParam(r, "id"))
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	f, err := h.Fees.Charge(r.Context(), id, booking.UserID(req.ActorID))
	if err != nil {
		writeDomainError(w, "Failed to charge fee", err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeDTO(f))
}

// WaiveFee forgives the fee.
// POST /api/fees/{id}/waive
func (h *Handler) WaiveFee(w http.ResponseWriter, r *http.Request) {
	id := fees.FeeID(chi.URLParam(r, "id"))
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	f, err := h.Fees.Waive(r.Context(), id, booking.UserID(req.ActorID), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to waive fee", err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeDTO(f))
}

// DisputeFee contests the fee.
// POST /api/fees/{id}/dispute
func (h *Handler) DisputeFee(w http.ResponseWriter, r *http.Request) {
	id := fees.FeeID(chi.URLParam(r, "id"))
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	f, err := h.Fees.Dispute(r.Context(), id, booking.UserID(req.ActorID), req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to dispute fee", err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeDTO(f))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ExpireOverdue sweeps past-start unapproved bookings to Expired.
// POST /api/admin/expire
func (h *Handler) ExpireOverdue(w http.ResponseWriter, r *http.Request) {
	expired, err := h.Bookings.ExpireOverdue(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to expire bookings", err)
		return
	}

	ids := make([]string, len(expired))
	for i, id := range expired {
		ids[i] = string(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"expired": ids})
}

// MaterializeAll runs every active rule to the rolling horizon.
// POST /api/admin/materialize
func (h *Handler) MaterializeAll(w http.ResponseWriter, r *http.Request) {
	results, failures := h.Rules.MaterializeDue(r.Context())

	resp := map[string]any{}
	ok := make(map[string]MaterializeResultDTO, len(results))
	for id, res := range results {
		ok[string(id)] = toMaterializeResultDTO(res)
	}
	resp["results"] = ok
	if len(failures) > 0 {
		errs := make(map[string]string, len(failures))
		for id, err := range failures {
			errs[string(id)] = err.Error()
		}
		resp["failures"] = errs
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeDomainError maps domain errors onto HTTP statuses. Slot conflicts
// carry the colliding bookings so clients can offer alternatives.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	var conflictErr *booking.SlotConflictError
	if errors.As(err, &conflictErr) {
		resp := ErrorResponse{Error: message, Details: err.Error()}
		for _, id := range conflictErr.Conflicts {
			resp.Conflicts = append(resp.Conflicts, string(id))
		}
		writeJSON(w, http.StatusConflict, resp)
		return
	}

	switch {
	case booking.IsNotFound(err),
		errors.Is(err, recurrence.ErrRuleNotFound),
		errors.Is(err, fees.ErrFeeNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, booking.ErrPreemptionDenied),
		errors.Is(err, recurrence.ErrMaterializationInProgress),
		errors.Is(err, recurrence.ErrRuleNotActive):
		writeError(w, http.StatusConflict, message, err)
	case booking.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, message, err)
	case booking.IsClientError(err),
		errors.Is(err, recurrence.ErrRuleValidation),
		errors.Is(err, fees.ErrInvalidFeeTransition):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
