/*
materializer.go - Idempotent expansion of rules into bookings

PURPOSE:
  Walks a rule's occurrences between its watermark (exclusive) and a
  rolling horizon, admitting each occurrence through the same path as a
  manually submitted non-emergency request.

IDEMPOTENCY:
  Materialization is safely re-runnable. Each occurrence is keyed by its
  date; an occurrence already generated is never duplicated, and the
  admission itself carries the occurrence key so even a crash between
  booking creation and rule persistence cannot double-create. The
  watermark only advances past dates that were fully processed (generated
  or deliberately skipped on conflict), so a crash mid-run resumes from
  the last committed watermark.

PARTIAL FAILURE:
  A single occurrence's conflict never aborts the batch: the date is
  recorded as skipped and the run continues. The caller receives both the
  generated list and the skipped-date list, so no information is lost.

CONCURRENCY:
  Runs for different rules proceed in parallel. Two overlapping passes for
  the SAME rule are rejected with ErrMaterializationInProgress; each
  occurrence's admission takes the normal per-vehicle critical section, so
  recurring and ad-hoc bookings are conflict-safe against each other.
*/
package recurrence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleetpool/booking-engine/booking"
)

// DefaultHorizonDays is the rolling materialization horizon.
const DefaultHorizonDays = 60

// =============================================================================
// STORE
// =============================================================================

// RuleStore handles persistence of recurring rules.
type RuleStore interface {
	// PutRule inserts or updates a rule.
	PutRule(ctx context.Context, r *Rule) error

	// GetRule returns a rule by ID, or ErrRuleNotFound.
	GetRule(ctx context.Context, id RuleID) (*Rule, error)

	// ListActiveRules returns every rule in Active status.
	ListActiveRules(ctx context.Context) ([]*Rule, error)
}

// Admitter is the slice of the booking service the materializer needs.
type Admitter interface {
	RequestBooking(ctx context.Context, req booking.BookingRequest) (*booking.Admission, error)
}

// =============================================================================
// MATERIALIZER
// =============================================================================

type Materializer struct {
	Rules    RuleStore
	Bookings Admitter

	// HorizonDays is the default rolling horizon for MaterializeDue.
	HorizonDays int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time

	mu      sync.Mutex
	running map[RuleID]bool
}

func NewMaterializer(rules RuleStore, bookings Admitter) *Materializer {
	return &Materializer{
		Rules:       rules,
		Bookings:    bookings,
		HorizonDays: DefaultHorizonDays,
		running:     make(map[RuleID]bool),
	}
}

func (m *Materializer) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

// Result is the outcome of one materialization run.
type Result struct {
	Generated []*booking.Booking
	Skipped   []time.Time
}

// =============================================================================
// RULE MANAGEMENT
// =============================================================================

// CreateRule validates and stores a new rule. A malformed rule is rejected
// whole, never partially stored.
func (m *Materializer) CreateRule(ctx context.Context, r *Rule) (*Rule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	now := m.now()
	if r.ID == "" {
		r.ID = NewRuleID()
	}
	if r.Status == "" {
		r.Status = RuleActive
	}
	if r.Generated == nil {
		r.Generated = make(map[string]booking.BookingID)
	}
	r.StartDate = dateOnly(r.StartDate)
	if r.EndDate != nil {
		d := dateOnly(*r.EndDate)
		r.EndDate = &d
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	if err := m.Rules.PutRule(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// PauseRule stops future materialization without affecting already
// generated bookings.
func (m *Materializer) PauseRule(ctx context.Context, id RuleID) (*Rule, error) {
	return m.setStatus(ctx, id, RulePaused, func(s RuleStatus) bool { return s == RuleActive })
}

// ResumeRule reactivates a paused rule.
func (m *Materializer) ResumeRule(ctx context.Context, id RuleID) (*Rule, error) {
	return m.setStatus(ctx, id, RuleActive, func(s RuleStatus) bool { return s == RulePaused })
}

// CancelRule is pause plus terminal: the rule never materializes again.
// Past occurrences are untouched.
func (m *Materializer) CancelRule(ctx context.Context, id RuleID) (*Rule, error) {
	return m.setStatus(ctx, id, RuleCancelled, func(s RuleStatus) bool {
		return s == RuleActive || s == RulePaused
	})
}

func (m *Materializer) setStatus(ctx context.Context, id RuleID, to RuleStatus, allowed func(RuleStatus) bool) (*Rule, error) {
	r, err := m.Rules.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowed(r.Status) {
		return nil, fmt.Errorf("%w: cannot move %s rule to %s", ErrRuleNotActive, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = m.now()
	if err := m.Rules.PutRule(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// GetRule returns a rule by ID.
func (m *Materializer) GetRule(ctx context.Context, id RuleID) (*Rule, error) {
	return m.Rules.GetRule(ctx, id)
}

// =============================================================================
// MATERIALIZATION
// =============================================================================

// Materialize expands the rule's occurrences up to horizon (inclusive,
// date precision) and advances the watermark. Safe to re-run: the second
// identical run produces an empty delta.
func (m *Materializer) Materialize(ctx context.Context, id RuleID, horizon time.Time) (*Result, error) {
	if !m.begin(id) {
		return nil, fmt.Errorf("%w: %s", ErrMaterializationInProgress, id)
	}
	defer m.end(id)

	rule, err := m.Rules.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.Status != RuleActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrRuleNotActive, id, rule.Status)
	}

	until := dateOnly(horizon)
	reachedEnd := false
	if rule.EndDate != nil && rule.EndDate.Before(until) {
		until = *rule.EndDate
		reachedEnd = true
	}

	after := rule.LastMaterializedUntil
	result := &Result{}

	for _, date := range Occurrences(rule, after, until) {
		key := date.Format("2006-01-02")
		if _, done := rule.Generated[key]; done {
			rule.LastMaterializedUntil = date
			continue
		}

		w := rule.WindowOn(date)
		adm, err := m.Bookings.RequestBooking(ctx, booking.BookingRequest{
			VehicleID:      rule.VehicleID,
			GroupID:        rule.GroupID,
			RequesterID:    rule.RequesterID,
			Role:           rule.Role,
			Start:          w.StartAt,
			End:            w.EndAt,
			Notes:          rule.Notes,
			IdempotencyKey: rule.OccurrenceKey(date),
		})
		switch {
		case errors.Is(err, booking.ErrSlotConflict):
			// A gap, not a failure of the whole run.
			result.Skipped = append(result.Skipped, date)
		case err != nil:
			// Commit the progress made so a retry resumes here.
			rule.UpdatedAt = m.now()
			if putErr := m.Rules.PutRule(ctx, rule); putErr != nil {
				return result, putErr
			}
			return result, err
		default:
			rule.Generated[key] = adm.Booking.ID
			result.Generated = append(result.Generated, adm.Booking)
		}
		rule.LastMaterializedUntil = date
	}

	// The whole span through the horizon is now processed.
	if until.After(rule.LastMaterializedUntil) {
		rule.LastMaterializedUntil = until
	}
	if reachedEnd {
		rule.Status = RuleCompleted
	}
	rule.UpdatedAt = m.now()
	if err := m.Rules.PutRule(ctx, rule); err != nil {
		return result, err
	}
	return result, nil
}

// MaterializeDue runs every active rule to the default rolling horizon.
// Used by the background scheduler; per-rule failures are collected, not
// fatal to the batch.
func (m *Materializer) MaterializeDue(ctx context.Context) (map[RuleID]*Result, map[RuleID]error) {
	horizon := m.now().AddDate(0, 0, m.HorizonDays)

	active, err := m.Rules.ListActiveRules(ctx)
	if err != nil {
		return nil, map[RuleID]error{"": err}
	}

	results := make(map[RuleID]*Result)
	failures := make(map[RuleID]error)
	for _, rule := range active {
		res, err := m.Materialize(ctx, rule.ID, horizon)
		if err != nil {
			failures[rule.ID] = err
			continue
		}
		results[rule.ID] = res
	}
	return results, failures
}

func (m *Materializer) begin(id RuleID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[id] {
		return false
	}
	m.running[id] = true
	return true
}

func (m *Materializer) end(id RuleID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, id)
}

// =============================================================================
// OCCURRENCE ENUMERATION
// =============================================================================

// Occurrences lists the rule's occurrence dates in (after, until], date
// precision, in ascending order. A zero `after` means "from the rule's
// start date".
func Occurrences(r *Rule, after, until time.Time) []time.Time {
	start := dateOnly(r.StartDate)
	until = dateOnly(until)
	if !after.IsZero() {
		after = dateOnly(after)
	}

	include := func(d time.Time) bool {
		return d.After(after) && !d.After(until) && !d.Before(start)
	}

	var dates []time.Time
	switch r.Pattern {
	case Daily:
		for d := start; !d.After(until); d = d.AddDate(0, 0, r.Interval) {
			if include(d) {
				dates = append(dates, d)
			}
		}

	case Weekly:
		// Weeks are counted from the Monday of the rule's start week;
		// every Interval-th week contributes the masked weekdays.
		anchor := startOfWeek(start)
		for week := anchor; !week.After(until); week = week.AddDate(0, 0, 7*r.Interval) {
			for i := 0; i < 7; i++ {
				d := week.AddDate(0, 0, i)
				if r.DaysOfWeek.Has(d.Weekday()) && include(d) {
					dates = append(dates, d)
				}
			}
		}

	case Monthly:
		// Same day-of-month as the start date, clamped to the last valid
		// day when the month is shorter.
		for k := 0; ; k += r.Interval {
			d := addMonthsClamped(start, k)
			if d.After(until) {
				break
			}
			if include(d) {
				dates = append(dates, d)
			}
		}
	}
	return dates
}

// startOfWeek returns the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday=0 ... Sunday=6
	return t.AddDate(0, 0, -offset)
}

// addMonthsClamped adds months keeping the day-of-month, clamped to the
// target month's length (Jan 31 + 1 month = Feb 28/29, never Mar 2).
func addMonthsClamped(t time.Time, months int) time.Time {
	y, mo, day := t.Date()
	total := int(mo) - 1 + months
	ny := y + total/12
	nm := time.Month(total%12 + 1)
	if last := daysInMonth(ny, nm); day > last {
		day = last
	}
	return time.Date(ny, nm, day, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
