/*
factory.go - JSON to Go fee-policy conversion

PURPOSE:
  Converts JSON policy definitions into a Policy with a concrete
  RateMethod. This enables fee configuration without code changes - fleet
  operators can define the grace period and rate structure in JSON, and
  the factory creates the proper Go structs.

JSON SCHEMA:
  {
    "grace_minutes": 15,
    "method": "flat_per_minute",
    "rate_per_minute": "0.50"
  }

  or, for escalating lateness:

  {
    "grace_minutes": 15,
    "method": "tiered",
    "bands": [
      {"up_to_minutes": 30, "rate_per_minute": "0.50"},
      {"up_to_minutes": 60, "rate_per_minute": "1.00"},
      {"up_to_minutes": 0,  "rate_per_minute": "2.00"}
    ]
  }

  A band with up_to_minutes = 0 is unbounded and must come last.

SEE ALSO:
  - rates.go: RateMethod implementations
  - cmd/server/main.go: Loads the policy file at startup
*/
package fees

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a late-fee policy.
type PolicyJSON struct {
	GraceMinutes  int64      `json:"grace_minutes"`
	Method        string     `json:"method"` // flat_per_minute, tiered
	RatePerMinute string     `json:"rate_per_minute,omitempty"`
	Bands         []BandJSON `json:"bands,omitempty"`
}

// BandJSON is one tier of an escalating rate structure.
type BandJSON struct {
	UpToMinutes   int64  `json:"up_to_minutes"`
	RatePerMinute string `json:"rate_per_minute"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParsePolicy parses a JSON document into a Policy.
func ParsePolicy(data []byte) (Policy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return Policy{}, fmt.Errorf("failed to parse fee policy JSON: %w", err)
	}
	return FromJSON(pj)
}

// FromJSON converts PolicyJSON to a Policy with a concrete RateMethod.
func FromJSON(pj PolicyJSON) (Policy, error) {
	if pj.GraceMinutes < 0 {
		return Policy{}, fmt.Errorf("grace_minutes must not be negative")
	}

	method, err := parseRateMethod(pj)
	if err != nil {
		return Policy{}, err
	}

	return Policy{GraceMinutes: pj.GraceMinutes, Method: method}, nil
}

func parseRateMethod(pj PolicyJSON) (RateMethod, error) {
	switch pj.Method {
	case "", "flat_per_minute":
		if pj.RatePerMinute == "" {
			return nil, fmt.Errorf("flat_per_minute policy requires rate_per_minute")
		}
		rate, err := decimal.NewFromString(pj.RatePerMinute)
		if err != nil {
			return nil, fmt.Errorf("invalid rate_per_minute %q: %w", pj.RatePerMinute, err)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("rate_per_minute must not be negative")
		}
		return FlatPerMinute{Rate: rate}, nil

	case "tiered":
		return parseBands(pj.Bands)

	default:
		return nil, fmt.Errorf("unknown rate method: %s", pj.Method)
	}
}

func parseBands(bands []BandJSON) (RateMethod, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("tiered policy requires at least one band")
	}

	t := TieredBands{Bands: make([]Band, len(bands))}
	var prev int64
	for i, bj := range bands {
		rate, err := decimal.NewFromString(bj.RatePerMinute)
		if err != nil {
			return nil, fmt.Errorf("invalid band rate %q: %w", bj.RatePerMinute, err)
		}
		if rate.IsNegative() {
			return nil, fmt.Errorf("band rate must not be negative")
		}

		unbounded := bj.UpToMinutes == 0
		if unbounded && i != len(bands)-1 {
			return nil, fmt.Errorf("unbounded band (up_to_minutes = 0) must be last")
		}
		if !unbounded && bj.UpToMinutes <= prev {
			return nil, fmt.Errorf("bands must be ordered by up_to_minutes ascending")
		}
		prev = bj.UpToMinutes

		t.Bands[i] = Band{UpToMinutes: bj.UpToMinutes, RatePerMinute: rate}
	}
	return t, nil
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// ToJSON converts a Policy back to its JSON representation, for admin
// display of the active policy.
func ToJSON(p Policy) PolicyJSON {
	pj := PolicyJSON{GraceMinutes: p.GraceMinutes}

	switch m := p.Method.(type) {
	case FlatPerMinute:
		pj.Method = m.Tag()
		pj.RatePerMinute = m.Rate.String()
	case TieredBands:
		pj.Method = m.Tag()
		for _, b := range m.Bands {
			pj.Bands = append(pj.Bands, BandJSON{
				UpToMinutes:   b.UpToMinutes,
				RatePerMinute: b.RatePerMinute.String(),
			})
		}
	}
	return pj
}
