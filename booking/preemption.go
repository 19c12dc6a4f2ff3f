/*
preemption.go - Emergency preemption resolver

PURPOSE:
  When a request flagged emergency collides with slot-holding bookings,
  decide the fate of each colliding booking and admit the emergency.

ALGORITHM:
  1. The emergency's score (with the emergency bonus) is compared against
     each colliding holder using the strict total order. Holders' scores
     are re-derived at resolution time, never read stale.
  2. If ANY holder is not strictly outranked, the whole admission fails
     with PreemptionDenied before anything is mutated. An emergency cannot
     bump an equal-or-higher-priority emergency.
  3. Each outranked holder gets an automatic reschedule attempt: the next
     same-duration free window on the same vehicle within the look-ahead.
     Found -> Rescheduled. Not found -> Cancelled (AutoCancelled outcome).
  4. The emergency is admitted straight to Confirmed; the emergency flag is
     itself the approval.
  5. One audit record per resolved booking plus one summary record for the
     admission. Displaced members must be informed of the outcome, so the
     audit trail is a first-class output, not a side log.

TERMINATION:
  The reschedule search only ever advances the candidate start to the end
  of an occupied window, so it takes at most one step per index entry plus
  one for the emergency window itself.

CONCURRENCY:
  Resolve runs entirely inside the caller's per-vehicle critical section,
  so no third request can observe a half-resolved state.

SEE ALSO:
  - priority.go:  Score and the total order
  - lifecycle.go: Reschedule and Cancel transitions used here
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultLookAhead bounds the reschedule search for displaced bookings.
const DefaultLookAhead = 14 * 24 * time.Hour

// =============================================================================
// OUTCOMES & AUDIT RECORDS
// =============================================================================

type Outcome string

const (
	OutcomeRescheduled       Outcome = "rescheduled"
	OutcomeAutoCancelled     Outcome = "auto_cancelled"
	OutcomePendingResolution Outcome = "pending_resolution"
	OutcomeEmergencyAdmitted Outcome = "emergency_admitted"
)

// AuditRecord is one entry of the preemption audit trail. Exactly one
// record is produced per resolved booking per preemption episode, plus one
// summary record for the emergency admission itself.
type AuditRecord struct {
	ID          string
	At          time.Time
	Outcome     Outcome
	EmergencyID BookingID
	BookingID   BookingID
	Detail      string
	Affected    []BookingID
}

func newAuditRecord(at time.Time, outcome Outcome, emergencyID, subject BookingID, detail string) AuditRecord {
	return AuditRecord{
		ID:          uuid.NewString(),
		At:          at,
		Outcome:     outcome,
		EmergencyID: emergencyID,
		BookingID:   subject,
		Detail:      detail,
	}
}

// Displaced describes the fate of one colliding booking.
type Displaced struct {
	Booking   *Booking
	Outcome   Outcome
	NewWindow *Window
}

// Resolution is the full outcome of one preemption episode.
type Resolution struct {
	Emergency *Booking
	Displaced []Displaced
	Audits    []AuditRecord
}

// =============================================================================
// RESOLVER
// =============================================================================

// Rescore re-derives a holder's priority score at resolution time. The
// service wires this to the fairness provider so comparisons never trust
// stale stored values.
type Rescore func(ctx context.Context, b *Booking) (decimal.Decimal, error)

type Resolver struct {
	Lifecycle *Lifecycle
	Store     Store
	Rescore   Rescore
	LookAhead time.Duration
}

func NewResolver(lc *Lifecycle, store Store, rescore Rescore) *Resolver {
	return &Resolver{Lifecycle: lc, Store: store, Rescore: rescore, LookAhead: DefaultLookAhead}
}

// Resolve admits the emergency booking, displacing every outranked
// colliding holder. The emergency must not yet hold a slot (Requested).
// Mutations begin only after every holder is known to be outranked.
func (r *Resolver) Resolve(ctx context.Context, emergency *Booking, now time.Time) (*Resolution, error) {
	detector := r.Lifecycle.Detector
	conflicts := detector.FindConflicts(emergency.VehicleID, emergency.Window, emergency.ID)

	// Pass 1: load and rescore every holder; deny before mutating anything.
	holders := make([]*Booking, 0, len(conflicts))
	for _, c := range conflicts {
		holder, err := r.Store.Get(ctx, c.BookingID)
		if err != nil {
			return nil, fmt.Errorf("load colliding booking %s: %w", c.BookingID, err)
		}
		score, err := r.Rescore(ctx, holder)
		if err != nil {
			return nil, fmt.Errorf("rescore booking %s: %w", holder.ID, err)
		}
		holder.PriorityScore = score

		if !Outranks(emergency, holder) {
			rec := newAuditRecord(now, OutcomePendingResolution, emergency.ID, holder.ID,
				"emergency does not outrank holder; manual resolution required")
			if auditErr := r.Store.AppendAudit(ctx, rec); auditErr != nil {
				return nil, auditErr
			}
			return nil, &PreemptionDeniedError{
				VehicleID:      emergency.VehicleID,
				Blocker:        holder.ID,
				EmergencyScore: emergency.PriorityScore,
				BlockerScore:   holder.PriorityScore,
			}
		}
		holders = append(holders, holder)
	}

	// Pass 2: displace each holder, earliest start first (index order).
	res := &Resolution{Emergency: emergency}
	for _, holder := range holders {
		d, err := r.displace(ctx, holder, emergency, now)
		if err != nil {
			return nil, err
		}
		res.Displaced = append(res.Displaced, d)
	}

	// Admit the emergency: the flag is itself the approval, so it goes
	// straight through PendingApproval to Confirmed.
	if err := r.Lifecycle.Transition(emergency, StatusPendingApproval, now); err != nil {
		return nil, err
	}
	if err := r.Lifecycle.Transition(emergency, StatusConfirmed, now); err != nil {
		return nil, err
	}
	if err := r.Store.Put(ctx, emergency); err != nil {
		return nil, err
	}

	// Audit trail: one record per displaced booking, one summary.
	for _, d := range res.Displaced {
		detail := "cancelled: no free window within look-ahead"
		if d.Outcome == OutcomeRescheduled {
			detail = "rescheduled to " + d.NewWindow.String()
		}
		res.Audits = append(res.Audits, newAuditRecord(now, d.Outcome, emergency.ID, d.Booking.ID, detail))
	}
	summary := newAuditRecord(now, OutcomeEmergencyAdmitted, emergency.ID, emergency.ID,
		fmt.Sprintf("emergency admitted for %s, %d booking(s) displaced", emergency.Window, len(res.Displaced)))
	for _, d := range res.Displaced {
		summary.Affected = append(summary.Affected, d.Booking.ID)
	}
	res.Audits = append(res.Audits, summary)

	for _, rec := range res.Audits {
		if err := r.Store.AppendAudit(ctx, rec); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// displace reschedules one outranked holder, cancelling when no window fits.
func (r *Resolver) displace(ctx context.Context, holder, emergency *Booking, now time.Time) (Displaced, error) {
	lookAhead := r.LookAhead
	if lookAhead <= 0 {
		lookAhead = DefaultLookAhead
	}
	horizon := now.Add(lookAhead)

	if w, ok := r.findFreeWindow(holder, emergency, now, horizon); ok {
		if err := r.Lifecycle.Reschedule(holder, w, now); err != nil {
			return Displaced{}, err
		}
		holder.StatusReason = "displaced by emergency booking " + string(emergency.ID)
		if err := r.Store.Put(ctx, holder); err != nil {
			return Displaced{}, err
		}
		return Displaced{Booking: holder, Outcome: OutcomeRescheduled, NewWindow: &w}, nil
	}

	holder.StatusReason = "auto-cancelled: displaced by emergency booking " + string(emergency.ID) +
		", no free window within look-ahead"
	if err := r.Lifecycle.Transition(holder, StatusCancelled, now); err != nil {
		return Displaced{}, err
	}
	if err := r.Store.Put(ctx, holder); err != nil {
		return Displaced{}, err
	}
	return Displaced{Booking: holder, Outcome: OutcomeAutoCancelled}, nil
}

// findFreeWindow searches for the next same-duration window on the
// holder's vehicle that conflicts with neither the index (holder excluded)
// nor the incoming emergency window. The candidate start only ever jumps
// to the end of a blocking window, bounding the walk.
func (r *Resolver) findFreeWindow(holder, emergency *Booking, now, horizon time.Time) (Window, bool) {
	duration := holder.Window.Duration()
	candidate := holder.Window.StartAt
	if candidate.Before(now) {
		candidate = now
	}

	maxSteps := r.Lifecycle.Index.Len(holder.VehicleID) + 2
	for step := 0; step < maxSteps; step++ {
		if candidate.Add(duration).After(horizon) {
			return Window{}, false
		}
		w := Window{StartAt: candidate, EndAt: candidate.Add(duration)}

		next, blocked := r.nextBlocker(holder, emergency, w)
		if !blocked {
			return w, true
		}
		candidate = next
	}
	return Window{}, false
}

// nextBlocker returns the latest end among windows blocking w.
func (r *Resolver) nextBlocker(holder, emergency *Booking, w Window) (time.Time, bool) {
	var until time.Time
	blocked := false

	for _, e := range r.Lifecycle.Detector.FindConflicts(holder.VehicleID, w, holder.ID) {
		blocked = true
		if e.Window.EndAt.After(until) {
			until = e.Window.EndAt
		}
	}
	if emergency.Window.Overlaps(w) {
		blocked = true
		if emergency.Window.EndAt.After(until) {
			until = emergency.Window.EndAt
		}
	}
	return until, blocked
}
