package pos

import (
	"errors"
	"math"
	"testing"

	"vendia/backend/internal/domain"
	"vendia/backend/internal/store"
)

func TestAllocatorCashOverpayYieldsChange(t *testing.T) {
	alloc, err := NewAllocator(200)
	if err != nil {
		t.Fatalf("new allocator failed: %v", err)
	}
	if err := alloc.AddTender(domain.Tender{Type: domain.TenderCash, Amount: 250}); err != nil {
		t.Fatalf("add cash tender failed: %v", err)
	}
	if !alloc.Settled() {
		t.Fatalf("expected settled allocator")
	}
	if math.Abs(alloc.Change()-50) > 1e-6 {
		t.Fatalf("expected change 50, got %v", alloc.Change())
	}
	if alloc.Remaining() != 0 {
		t.Fatalf("expected remaining 0, got %v", alloc.Remaining())
	}
}

func TestAllocatorRejectsNonCashOverpay(t *testing.T) {
	alloc, _ := NewAllocator(100)
	err := alloc.AddTender(domain.Tender{Type: domain.TenderCard, Amount: 120})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(alloc.Tenders()) != 0 {
		t.Fatalf("rejected tender must not be recorded")
	}
}

func TestAllocatorSplitTender(t *testing.T) {
	alloc, _ := NewAllocator(200)
	if err := alloc.AddTender(domain.Tender{Type: domain.TenderCard, Amount: 120}); err != nil {
		t.Fatalf("add card tender failed: %v", err)
	}
	if math.Abs(alloc.Remaining()-80) > 1e-6 {
		t.Fatalf("expected remaining 80, got %v", alloc.Remaining())
	}
	if err := alloc.AddTender(domain.Tender{Type: domain.TenderCash, Amount: 100}); err != nil {
		t.Fatalf("add cash tender failed: %v", err)
	}
	if math.Abs(alloc.Change()-20) > 1e-6 {
		t.Fatalf("expected change 20, got %v", alloc.Change())
	}
	if got := len(alloc.Tenders()); got != 2 {
		t.Fatalf("expected two tenders, got %d", got)
	}
}

func TestAllocatorRejectsBadTenders(t *testing.T) {
	alloc, _ := NewAllocator(100)
	if err := alloc.AddTender(domain.Tender{Type: "coupon", Amount: 10}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected unknown type rejection, got %v", err)
	}
	if err := alloc.AddTender(domain.Tender{Type: domain.TenderCash, Amount: 0}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected zero amount rejection, got %v", err)
	}
	if _, err := NewAllocator(-1); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected negative due rejection, got %v", err)
	}
}

func TestAllocatorExactNonCashSettles(t *testing.T) {
	alloc, _ := NewAllocator(169.49)
	if err := alloc.AddTender(domain.Tender{Type: domain.TenderTransfer, Amount: 169.49}); err != nil {
		t.Fatalf("add transfer tender failed: %v", err)
	}
	if !alloc.Settled() {
		t.Fatalf("expected settled allocator")
	}
	if alloc.Change() != 0 {
		t.Fatalf("expected no change for exact non-cash, got %v", alloc.Change())
	}
}
