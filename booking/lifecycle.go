/*
lifecycle.go - Booking state machine

PURPOSE:
  Governs a single booking's transitions and keeps the interval index in
  step with every status change.

STATE MACHINE:
  requested -> {pending_approval, confirmed} -> checked_out -> completed
  cancelled, rejected, expired are reachable from any non-terminal state
  (rejected only from pending_approval; expired only from the two
  slot-holding pre-checkout states).

GATING INVARIANT:
  Every transition INTO a slot-holding status re-runs conflict detection.
  If a conflicting slot-holder of equal-or-higher priority exists, the
  transition fails with SlotConflict instead of silently overwriting the
  index. Callers that need to force the issue go through the preemption
  resolver, which clears outranked holders first.

SEE ALSO:
  - preemption.go: The only path that displaces existing holders
  - service.go:    Persists the booking after each transition
*/
package booking

import "time"

// transitions lists, per state, the states reachable from it.
var transitions = map[Status][]Status{
	StatusRequested: {
		StatusPendingApproval, StatusConfirmed, StatusCancelled, StatusRejected, StatusExpired,
	},
	StatusPendingApproval: {
		StatusConfirmed, StatusCancelled, StatusRejected, StatusExpired,
	},
	StatusConfirmed: {
		StatusCheckedOut, StatusCancelled, StatusExpired,
	},
	StatusCheckedOut: {
		StatusCompleted, StatusCancelled,
	},
	// Terminal states have no outgoing edges.
	StatusCompleted: {},
	StatusCancelled: {},
	StatusRejected:  {},
	StatusExpired:   {},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Lifecycle applies state transitions, enforcing the conflict gate and
// maintaining the interval index. It does not persist; the caller commits
// the booking in the same critical section.
type Lifecycle struct {
	Index    *IntervalIndex
	Detector *ConflictDetector
}

func NewLifecycle(index *IntervalIndex) *Lifecycle {
	return &Lifecycle{Index: index, Detector: NewConflictDetector(index)}
}

// Transition moves b to the target status, updating the index. When moving
// into a slot-holding status, conflicts against equal-or-higher-priority
// holders fail with SlotConflictError.
func (l *Lifecycle) Transition(b *Booking, to Status, at time.Time) error {
	from := b.Status
	if !CanTransition(from, to) {
		return &InvalidTransitionError{BookingID: b.ID, From: from, To: to}
	}

	if to.HoldsSlot() {
		conflicts := l.Detector.FindConflicts(b.VehicleID, b.Window, b.ID)
		for _, c := range conflicts {
			holder := &Booking{ID: c.BookingID, PriorityScore: c.Score}
			if !Outranks(b, holder) {
				return &SlotConflictError{
					VehicleID: b.VehicleID,
					Window:    b.Window,
					Conflicts: conflictIDs(conflicts),
				}
			}
		}
	}

	held := from.HoldsSlot()
	holds := to.HoldsSlot()
	switch {
	case !held && holds:
		l.Index.Insert(b.VehicleID, IndexEntry{BookingID: b.ID, Window: b.Window, Score: b.PriorityScore})
	case held && !holds:
		l.Index.Remove(b.VehicleID, b.ID)
	}

	b.Status = to
	b.UpdatedAt = at
	return nil
}

// Reschedule moves a slot-holding booking to a new window, re-running the
// conflict gate against the new interval.
func (l *Lifecycle) Reschedule(b *Booking, w Window, at time.Time) error {
	if !b.Status.HoldsSlot() {
		return &InvalidTransitionError{BookingID: b.ID, From: b.Status, To: b.Status}
	}
	if !w.Valid() {
		return ErrInvalidWindow
	}
	if conflicts := l.Detector.FindConflicts(b.VehicleID, w, b.ID); len(conflicts) > 0 {
		return &SlotConflictError{VehicleID: b.VehicleID, Window: w, Conflicts: conflictIDs(conflicts)}
	}

	b.Window = w
	b.UpdatedAt = at
	l.Index.Replace(b.VehicleID, IndexEntry{BookingID: b.ID, Window: w, Score: b.PriorityScore})
	return nil
}

func conflictIDs(entries []IndexEntry) []BookingID {
	ids := make([]BookingID, len(entries))
	for i, e := range entries {
		ids[i] = e.BookingID
	}
	return ids
}
