package fees

import "github.com/shopspring/decimal"

// RateMethod turns chargeable minutes into a fee amount. Implementations
// are identified by a stable tag recorded on each fee record.
type RateMethod interface {
	Tag() string
	Amount(chargeableMinutes int64) decimal.Decimal
}

// =============================================================================
// FLAT PER MINUTE
// =============================================================================

// FlatPerMinute charges a fixed rate for every chargeable minute.
type FlatPerMinute struct {
	Rate decimal.Decimal
}

func (f FlatPerMinute) Tag() string { return "flat_per_minute" }

func (f FlatPerMinute) Amount(chargeableMinutes int64) decimal.Decimal {
	if chargeableMinutes <= 0 {
		return decimal.Zero
	}
	return f.Rate.Mul(decimal.NewFromInt(chargeableMinutes))
}

// =============================================================================
// TIERED BANDS
// =============================================================================

// Band is one tier: minutes up to (and including) UpToMinutes are charged
// at RatePerMinute. The final band may have UpToMinutes = 0 for "unbounded".
type Band struct {
	UpToMinutes   int64
	RatePerMinute decimal.Decimal
}

// TieredBands charges increasing rates as lateness grows. Bands must be
// ordered by UpToMinutes ascending, unbounded band last.
type TieredBands struct {
	Bands []Band
}

func (t TieredBands) Tag() string { return "tiered" }

func (t TieredBands) Amount(chargeableMinutes int64) decimal.Decimal {
	if chargeableMinutes <= 0 {
		return decimal.Zero
	}

	total := decimal.Zero
	var covered int64
	for _, band := range t.Bands {
		if covered >= chargeableMinutes {
			break
		}
		upper := band.UpToMinutes
		if upper == 0 || upper > chargeableMinutes {
			upper = chargeableMinutes
		}
		span := upper - covered
		if span <= 0 {
			continue
		}
		total = total.Add(band.RatePerMinute.Mul(decimal.NewFromInt(span)))
		covered = upper
	}
	return total
}
