/*
priority.go - Priority scoring and the strict total order

PURPOSE:
  Produces a deterministic, comparable priority score for a booking request,
  used both for admission ordering and for preemption decisions.

SCORING FACTORS:
  1. Fairness deficit: ownership share minus recent usage share within the
     group. An underutilizing member scores higher.
  2. Lead time: requests made far in advance score higher; very-short-notice
     requests are penalized unless flagged emergency.
  3. Emergency: a large fixed bonus that dominates every other factor, so an
     emergency always outranks any non-emergency holder.
  4. Role: group admins receive a small tie-break bonus.

DETERMINISM:
  All arithmetic is decimal.Decimal. Given identical inputs the score is
  bit-for-bit identical across calls and process restarts, because the
  preemption resolver re-derives scores at resolution time rather than
  trusting stale stored values.

TOTAL ORDER:
  Equal scores fall back to earlier submission time, then to lower
  BookingID. The order is strict and total so preemption outcomes are
  never nondeterministic.

SEE ALSO:
  - fairness.go:   The provider feeding the fairness deficit
  - preemption.go: Consumer of the total order
*/
package booking

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// SCORING WEIGHTS
// =============================================================================

var (
	// emergencyBonus dominates the sum of every other factor's extreme value.
	emergencyBonus = decimal.NewFromInt(1000)

	// fairnessWeight scales the ownership-vs-usage deficit (a share fraction,
	// typically in [-1, 1]) into score units.
	fairnessWeight = decimal.NewFromInt(50)

	// leadTimeWeight scales the capped lead-time fraction.
	leadTimeWeight = decimal.NewFromInt(20)

	// leadTimeCapHours caps the lead-time credit at one week out.
	leadTimeCapHours = decimal.NewFromInt(168)

	// shortNoticeHours marks the short-notice boundary; non-emergency
	// requests inside it take a flat penalty.
	shortNoticeHours   = decimal.NewFromInt(2)
	shortNoticePenalty = decimal.NewFromInt(5)

	// adminBonus is a small tie-break for group admin requests.
	adminBonus = decimal.RequireFromString("0.5")
)

// ScoreInput is the full input tuple for the pure scoring function.
type ScoreInput struct {
	// FairnessDeficit = ownership share - recent usage share, in [-1, 1].
	FairnessDeficit decimal.Decimal

	// LeadTimeHours is how far in advance the request was made. Negative
	// values (requests for a window already started) are treated as zero.
	LeadTimeHours decimal.Decimal

	IsEmergency bool
	Role        Role
}

// Score computes the priority score for a request. Pure and side-effect
// free; higher means higher priority.
func Score(in ScoreInput) decimal.Decimal {
	score := in.FairnessDeficit.Mul(fairnessWeight)

	lead := in.LeadTimeHours
	if lead.IsNegative() {
		lead = decimal.Zero
	}
	if lead.GreaterThan(leadTimeCapHours) {
		lead = leadTimeCapHours
	}
	score = score.Add(lead.Div(leadTimeCapHours).Mul(leadTimeWeight))

	if in.IsEmergency {
		score = score.Add(emergencyBonus)
	} else if in.LeadTimeHours.LessThan(shortNoticeHours) {
		score = score.Sub(shortNoticePenalty)
	}

	if in.Role == RoleAdmin {
		score = score.Add(adminBonus)
	}

	return score
}

// =============================================================================
// TOTAL ORDER
// =============================================================================

// Compare implements the strict total order over bookings:
// higher score wins; ties fall to earlier SubmittedAt; remaining ties fall
// to lower BookingID (arbitrary but total). Returns >0 if a outranks b,
// <0 if b outranks a, 0 only when a and b are the same booking.
func Compare(a, b *Booking) int {
	if c := a.PriorityScore.Cmp(b.PriorityScore); c != 0 {
		return c
	}
	if a.SubmittedAt.Before(b.SubmittedAt) {
		return 1
	}
	if b.SubmittedAt.Before(a.SubmittedAt) {
		return -1
	}
	if a.ID < b.ID {
		return 1
	}
	if b.ID < a.ID {
		return -1
	}
	return 0
}

// Outranks reports whether a strictly outranks b in the total order.
func Outranks(a, b *Booking) bool {
	return Compare(a, b) > 0
}
