package tax

import (
	"math"
	"testing"

	"vendia/backend/internal/domain"
)

func TestComputeIncludedBacksOutBase(t *testing.T) {
	b, err := Compute(100, 2, 18, domain.TaxIncluded)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if !Equal(b.Total, 200) {
		t.Fatalf("expected total 200, got %v", b.Total)
	}
	if math.Abs(b.Base-169.491525) > 1e-4 {
		t.Fatalf("expected base ~169.49, got %v", b.Base)
	}
	if math.Abs(b.Tax-30.508474) > 1e-4 {
		t.Fatalf("expected tax ~30.51, got %v", b.Tax)
	}
	if !Equal(b.Base+b.Tax, b.Total) {
		t.Fatalf("base+tax should equal total, got %v + %v != %v", b.Base, b.Tax, b.Total)
	}
}

func TestComputeCalculatedAddsOnTop(t *testing.T) {
	b, err := Compute(50, 3, 10, domain.TaxCalculated)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if !Equal(b.Base, 150) {
		t.Fatalf("expected base 150, got %v", b.Base)
	}
	if !Equal(b.Tax, 15) {
		t.Fatalf("expected tax 15, got %v", b.Tax)
	}
	if !Equal(b.Total, 165) {
		t.Fatalf("expected total 165, got %v", b.Total)
	}
}

func TestComputeExemptIgnoresRate(t *testing.T) {
	b, err := Compute(80, 1, 21, domain.TaxExempt)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if b.Tax != 0 {
		t.Fatalf("expected zero tax, got %v", b.Tax)
	}
	if !Equal(b.Total, 80) {
		t.Fatalf("expected total 80, got %v", b.Total)
	}
}

func TestComputeZeroRateIncludedIsIdentity(t *testing.T) {
	b, err := Compute(42.5, 2, 0, domain.TaxIncluded)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if !Equal(b.Base, 85) || b.Tax != 0 || !Equal(b.Total, 85) {
		t.Fatalf("expected 85/0/85, got %+v", b)
	}
}

func TestComputeRejectsNegativeInputs(t *testing.T) {
	if _, err := Compute(-1, 1, 10, domain.TaxIncluded); err == nil {
		t.Fatalf("expected negative price to be rejected")
	}
	if _, err := Compute(1, -1, 10, domain.TaxIncluded); err == nil {
		t.Fatalf("expected negative quantity to be rejected")
	}
	if _, err := Compute(1, 1, -10, domain.TaxIncluded); err == nil {
		t.Fatalf("expected negative rate to be rejected")
	}
}

func TestComputeRejectsUnknownTaxType(t *testing.T) {
	if _, err := Compute(10, 1, 10, domain.TaxType("flat")); err == nil {
		t.Fatalf("expected unknown tax type to be rejected")
	}
}

func TestComputeRoundTripsWithinTolerance(t *testing.T) {
	prices := []float64{0.01, 1, 9.99, 100, 169.49, 12345.67}
	rates := []float64{0, 5, 10, 11, 18, 21}
	qtys := []float64{1, 2, 0.5, 3.25}

	for _, p := range prices {
		for _, r := range rates {
			for _, q := range qtys {
				inc, err := Compute(p, q, r, domain.TaxIncluded)
				if err != nil {
					t.Fatalf("included compute failed: %v", err)
				}
				back := inc.Base * (1 + r/100)
				if math.Abs(back-inc.Total) > Epsilon {
					t.Fatalf("included round trip off for p=%v r=%v q=%v: %v vs %v", p, r, q, back, inc.Total)
				}

				calc, err := Compute(p, q, r, domain.TaxCalculated)
				if err != nil {
					t.Fatalf("calculated compute failed: %v", err)
				}
				if math.Abs(calc.Base+calc.Tax-calc.Total) > Epsilon {
					t.Fatalf("calculated parts off for p=%v r=%v q=%v: %+v", p, r, q, calc)
				}
			}
		}
	}
}
