// Package pos holds the in-memory state of the register between sales: the
// live cart and the payment allocator for the checkout in progress.
package pos

import (
	"fmt"

	"vendia/backend/internal/domain"
	"vendia/backend/internal/store"
	"vendia/backend/internal/tax"
	"vendia/backend/internal/xid"
)

// Cart accumulates lines for the sale being rung up. Lines snapshot the
// product's price at add time; the same product added under a different
// price mode stays a separate line.
type Cart struct {
	lines      []domain.CartLine
	customerID string
}

func NewCart() *Cart {
	return &Cart{}
}

// AddLine merges into an existing line when the product, price mode and
// unit price all match, otherwise appends a new line.
func (c *Cart) AddLine(line domain.CartLine) (*domain.CartLine, error) {
	if line.ProductID == "" {
		return nil, fmt.Errorf("%w: product id is required", store.ErrValidation)
	}
	if line.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	if line.Price < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", store.ErrValidation)
	}
	if !line.TaxType.Valid() {
		return nil, fmt.Errorf("%w: unknown tax type %q", store.ErrValidation, line.TaxType)
	}

	for i := range c.lines {
		existing := &c.lines[i]
		if existing.ProductID == line.ProductID && existing.PriceMode == line.PriceMode && tax.Equal(existing.Price, line.Price) {
			existing.Quantity += line.Quantity
			out := *existing
			return &out, nil
		}
	}

	line.LineID = xid.New("line")
	c.lines = append(c.lines, line)
	out := line
	return &out, nil
}

// UpdateQuantity sets the quantity of a line; zero or negative removes it.
func (c *Cart) UpdateQuantity(lineID string, qty float64) error {
	for i := range c.lines {
		if c.lines[i].LineID != lineID {
			continue
		}
		if qty <= 0 {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return nil
		}
		c.lines[i].Quantity = qty
		return nil
	}
	return fmt.Errorf("%w: cart line %s", store.ErrNotFound, lineID)
}

func (c *Cart) RemoveLine(lineID string) error {
	return c.UpdateQuantity(lineID, 0)
}

// Line returns the line with the given id, or nil.
func (c *Cart) Line(lineID string) *domain.CartLine {
	for i := range c.lines {
		if c.lines[i].LineID == lineID {
			out := c.lines[i]
			return &out
		}
	}
	return nil
}

func (c *Cart) Clear() {
	c.lines = nil
	c.customerID = ""
}

func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

func (c *Cart) SetCustomer(customerID string) {
	c.customerID = customerID
}

func (c *Cart) CustomerID() string {
	return c.customerID
}

// Lines returns a copy of the current lines.
func (c *Cart) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// Restore replaces the cart's contents, used when resuming a held order.
func (c *Cart) Restore(lines []domain.CartLine, customerID string) {
	c.lines = make([]domain.CartLine, len(lines))
	copy(c.lines, lines)
	c.customerID = customerID
}

// Totals recomputes subtotal, tax and total from the current lines.
func (c *Cart) Totals() (subtotal, taxAmount, total float64) {
	for _, line := range c.lines {
		b, err := tax.Compute(line.Price, line.Quantity, line.TaxRate, line.TaxType)
		if err != nil {
			continue
		}
		subtotal += b.Base
		taxAmount += b.Tax
		total += b.Total
	}
	return subtotal, taxAmount, total
}

// View renders the cart for API responses.
func (c *Cart) View() domain.CartView {
	subtotal, taxAmount, total := c.Totals()
	return domain.CartView{
		Lines:      c.Lines(),
		CustomerID: c.customerID,
		Subtotal:   subtotal,
		Tax:        taxAmount,
		Total:      total,
	}
}
