// Package tax computes per-line tax breakdowns for the three supported
// pricing modes: tax included in the price, tax calculated on top, and
// exempt.
package tax

import (
	"fmt"

	"vendia/backend/internal/domain"
)

// Epsilon is the tolerance used for monetary comparisons throughout the
// engine. Two amounts closer than this are the same amount.
const Epsilon = 1e-6

// Breakdown is the result of taxing one cart line.
type Breakdown struct {
	Base  float64
	Tax   float64
	Total float64
}

// Compute returns the base/tax/total split for a line of qty units at
// unitPrice. For included pricing the line total is price*qty and the base
// is backed out of it; for calculated pricing tax is added on top; exempt
// lines carry zero tax regardless of rate.
func Compute(unitPrice, qty, rate float64, taxType domain.TaxType) (Breakdown, error) {
	if unitPrice < 0 {
		return Breakdown{}, fmt.Errorf("unit price must not be negative, got %v", unitPrice)
	}
	if qty < 0 {
		return Breakdown{}, fmt.Errorf("quantity must not be negative, got %v", qty)
	}
	if rate < 0 {
		return Breakdown{}, fmt.Errorf("tax rate must not be negative, got %v", rate)
	}

	gross := unitPrice * qty
	switch taxType {
	case domain.TaxIncluded:
		base := gross / (1 + rate/100)
		return Breakdown{Base: base, Tax: gross - base, Total: gross}, nil
	case domain.TaxCalculated:
		t := gross * rate / 100
		return Breakdown{Base: gross, Tax: t, Total: gross + t}, nil
	case domain.TaxExempt:
		return Breakdown{Base: gross, Tax: 0, Total: gross}, nil
	default:
		return Breakdown{}, fmt.Errorf("unknown tax type %q", taxType)
	}
}

// Equal reports whether two amounts are within Epsilon of each other.
func Equal(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < Epsilon
}
