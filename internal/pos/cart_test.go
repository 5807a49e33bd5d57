package pos

import (
	"errors"
	"math"
	"testing"

	"vendia/backend/internal/domain"
	"vendia/backend/internal/store"
)

func retailLine(productID string, price, qty float64) domain.CartLine {
	return domain.CartLine{
		ProductID: productID,
		Name:      productID,
		Price:     price,
		Quantity:  qty,
		TaxRate:   18,
		TaxType:   domain.TaxIncluded,
		PriceMode: domain.PriceModeRetail,
	}
}

func TestCartMergesSameProductSameMode(t *testing.T) {
	cart := NewCart()
	if _, err := cart.AddLine(retailLine("prod-1", 100, 1)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if _, err := cart.AddLine(retailLine("prod-1", 100, 2)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	lines := cart.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected one merged line, got %d", len(lines))
	}
	if lines[0].Quantity != 3 {
		t.Fatalf("expected merged quantity 3, got %v", lines[0].Quantity)
	}
}

func TestCartKeepsDistinctPriceModesApart(t *testing.T) {
	cart := NewCart()
	if _, err := cart.AddLine(retailLine("prod-1", 100, 1)); err != nil {
		t.Fatalf("add retail line failed: %v", err)
	}
	wholesale := retailLine("prod-1", 80, 1)
	wholesale.PriceMode = domain.PriceModeWholesale
	if _, err := cart.AddLine(wholesale); err != nil {
		t.Fatalf("add wholesale line failed: %v", err)
	}
	if got := len(cart.Lines()); got != 2 {
		t.Fatalf("expected two lines, got %d", got)
	}
}

func TestCartUpdateQuantityZeroRemoves(t *testing.T) {
	cart := NewCart()
	line, err := cart.AddLine(retailLine("prod-1", 100, 2))
	if err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	if err := cart.UpdateQuantity(line.LineID, 0); err != nil {
		t.Fatalf("update quantity failed: %v", err)
	}
	if !cart.Empty() {
		t.Fatalf("expected empty cart after removing last line")
	}
}

func TestCartUpdateUnknownLine(t *testing.T) {
	cart := NewCart()
	err := cart.UpdateQuantity("line-missing", 2)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCartRejectsInvalidLines(t *testing.T) {
	cart := NewCart()
	bad := retailLine("prod-1", 100, 0)
	if _, err := cart.AddLine(bad); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}
	bad = retailLine("prod-1", -5, 1)
	if _, err := cart.AddLine(bad); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for negative price, got %v", err)
	}
}

func TestCartTotalsIncludedTax(t *testing.T) {
	cart := NewCart()
	if _, err := cart.AddLine(retailLine("prod-1", 100, 2)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	subtotal, taxAmount, total := cart.Totals()
	if math.Abs(total-200) > 1e-6 {
		t.Fatalf("expected total 200, got %v", total)
	}
	if math.Abs(subtotal-169.491525) > 1e-4 {
		t.Fatalf("expected subtotal ~169.49, got %v", subtotal)
	}
	if math.Abs(taxAmount-30.508474) > 1e-4 {
		t.Fatalf("expected tax ~30.51, got %v", taxAmount)
	}
}

func TestCartRestoreRoundTrip(t *testing.T) {
	cart := NewCart()
	if _, err := cart.AddLine(retailLine("prod-1", 100, 2)); err != nil {
		t.Fatalf("add line failed: %v", err)
	}
	cart.SetCustomer("cust-1")
	snap := cart.Lines()
	customer := cart.CustomerID()

	cart.Clear()
	if !cart.Empty() || cart.CustomerID() != "" {
		t.Fatalf("expected cleared cart")
	}

	cart.Restore(snap, customer)
	if len(cart.Lines()) != 1 || cart.CustomerID() != "cust-1" {
		t.Fatalf("expected restored cart, got %d lines customer %q", len(cart.Lines()), cart.CustomerID())
	}
}
