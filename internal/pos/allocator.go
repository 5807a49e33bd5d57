package pos

import (
	"fmt"

	"vendia/backend/internal/domain"
	"vendia/backend/internal/store"
	"vendia/backend/internal/tax"
)

// Allocator tracks the tenders accepted against one checkout. Only cash may
// exceed the remaining due; the overage becomes change. The allocator never
// touches ledgers: consuming credit notes and reserving customer credit
// happen inside the atomic finalize, so discarding an allocator mid-payment
// leaves nothing to undo.
type Allocator struct {
	due     float64
	tenders []domain.Tender
}

func NewAllocator(due float64) (*Allocator, error) {
	if due < 0 {
		return nil, fmt.Errorf("%w: amount due must not be negative", store.ErrValidation)
	}
	return &Allocator{due: due}, nil
}

// AddTender validates and records a tender. Callers cap credit-note amounts
// and gate customer credit before calling; the allocator enforces the
// arithmetic invariants.
func (a *Allocator) AddTender(t domain.Tender) error {
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown tender type %q", store.ErrValidation, t.Type)
	}
	if t.Amount <= 0 {
		return fmt.Errorf("%w: tender amount must be positive", store.ErrValidation)
	}
	if t.Type != domain.TenderCash && t.Amount > a.Remaining()+tax.Epsilon {
		return fmt.Errorf("%w: %s tender %.2f exceeds remaining due %.2f", store.ErrValidation, t.Type, t.Amount, a.Remaining())
	}
	a.tenders = append(a.tenders, t)
	return nil
}

func (a *Allocator) Due() float64 {
	return a.due
}

func (a *Allocator) Tendered() float64 {
	var sum float64
	for _, t := range a.tenders {
		sum += t.Amount
	}
	return sum
}

// Remaining is the amount still owed, floored at zero.
func (a *Allocator) Remaining() float64 {
	r := a.due - a.Tendered()
	if r < 0 {
		return 0
	}
	return r
}

// Change is the cash overage once the sale is fully tendered.
func (a *Allocator) Change() float64 {
	c := a.Tendered() - a.due
	if c < 0 {
		return 0
	}
	return c
}

// Settled reports whether the tenders cover the amount due.
func (a *Allocator) Settled() bool {
	return a.Remaining() < tax.Epsilon
}

// Tenders returns a copy of the recorded tenders.
func (a *Allocator) Tenders() []domain.Tender {
	out := make([]domain.Tender, len(a.tenders))
	copy(out, a.tenders)
	return out
}

// State renders the allocator for API responses.
func (a *Allocator) State() domain.PaymentState {
	return domain.PaymentState{
		AmountDue: a.due,
		Tendered:  a.Tendered(),
		Remaining: a.Remaining(),
		Change:    a.Change(),
		Tenders:   a.Tenders(),
	}
}
