package recurrence

import (
	"context"
	"sync"

	"github.com/fleetpool/booking-engine/booking"
)

// MemoryRules is an in-memory RuleStore for testing/dev.
type MemoryRules struct {
	mu    sync.RWMutex
	rules map[RuleID]*Rule
}

func NewMemoryRules() *MemoryRules {
	return &MemoryRules{rules: make(map[RuleID]*Rule)}
}

func (m *MemoryRules) PutRule(_ context.Context, r *Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = cloneRule(r)
	return nil
}

func (m *MemoryRules) GetRule(_ context.Context, id RuleID) (*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return cloneRule(r), nil
}

func (m *MemoryRules) ListActiveRules(_ context.Context) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Rule
	for _, r := range m.rules {
		if r.Status == RuleActive {
			result = append(result, cloneRule(r))
		}
	}
	return result, nil
}

func cloneRule(r *Rule) *Rule {
	c := *r
	if r.EndDate != nil {
		d := *r.EndDate
		c.EndDate = &d
	}
	c.Generated = make(map[string]booking.BookingID, len(r.Generated))
	for k, v := range r.Generated {
		c.Generated[k] = v
	}
	return &c
}
