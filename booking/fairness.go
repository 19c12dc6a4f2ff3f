package booking

import (
	"context"

	"github.com/shopspring/decimal"
)

// FairnessProvider is the membership/fairness collaborator boundary.
// It reports a requester's ownership share and recent usage share within a
// group; the difference feeds the priority scorer as the fairness deficit.
type FairnessProvider interface {
	Shares(ctx context.Context, groupID GroupID, userID UserID) (ownership, usage decimal.Decimal, err error)
}

// StaticFairness is a map-backed FairnessProvider for tests and development.
type StaticFairness struct {
	Ownership map[UserID]decimal.Decimal
	Usage     map[UserID]decimal.Decimal
}

func NewStaticFairness() *StaticFairness {
	return &StaticFairness{
		Ownership: make(map[UserID]decimal.Decimal),
		Usage:     make(map[UserID]decimal.Decimal),
	}
}

// Set records a member's shares.
func (s *StaticFairness) Set(userID UserID, ownership, usage decimal.Decimal) {
	s.Ownership[userID] = ownership
	s.Usage[userID] = usage
}

// Shares returns the member's shares; unknown members default to zero deficit.
func (s *StaticFairness) Shares(_ context.Context, _ GroupID, userID UserID) (decimal.Decimal, decimal.Decimal, error) {
	return s.Ownership[userID], s.Usage[userID], nil
}

// Deficit is the scoring input derived from the two shares.
func Deficit(ownership, usage decimal.Decimal) decimal.Decimal {
	return ownership.Sub(usage)
}
