package invoice

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"vendia/backend/internal/domain"
)

func sampleData() domain.InvoiceData {
	date := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	return domain.InvoiceData{
		Type: domain.InvoiceTypeSale,
		Sale: domain.Sale{
			ID:            "sale-1",
			ReceiptNumber: 42,
			Date:          date,
			Items: []domain.CartLine{
				{ProductID: "prod-1", Name: "Espresso Beans 1kg", Price: 100, Quantity: 2},
			},
			Subtotal:    169.49,
			Tax:         30.51,
			Total:       200,
			Payments:    []domain.Tender{{Type: domain.TenderCash, Amount: 250}},
			ChangeGiven: 50,
		},
		GeneratedAt: date,
	}
}

func TestRenderSaleReceipt(t *testing.T) {
	doc := Render(sampleData())
	if doc.SaleID != "sale-1" {
		t.Fatalf("expected sale id on document, got %q", doc.SaleID)
	}
	for _, want := range []string{"* SALES RECEIPT *", "Receipt #: 000042", "Espresso Beans 1kg x2", "Total    : 200.00", "Change   : 50.00"} {
		if !strings.Contains(doc.PreviewText, want) {
			t.Fatalf("preview missing %q:\n%s", want, doc.PreviewText)
		}
	}
}

func TestRenderEscposFraming(t *testing.T) {
	doc := Render(sampleData())
	raw, err := base64.StdEncoding.DecodeString(doc.EscposBase64)
	if err != nil {
		t.Fatalf("escpos payload is not valid base64: %v", err)
	}
	if len(raw) < 6 || raw[0] != 0x1b || raw[1] != 0x40 {
		t.Fatalf("expected printer init prefix, got % x", raw[:2])
	}
	tail := raw[len(raw)-4:]
	if tail[0] != 0x1d || tail[1] != 0x56 {
		t.Fatalf("expected cut command suffix, got % x", tail)
	}
}

func TestRenderReturnSection(t *testing.T) {
	data := sampleData()
	data.Type = domain.InvoiceTypeReturn
	data.Return = &domain.ReturnRecord{
		ID:    "ret-1",
		Total: 200,
		Items: []domain.ReturnedItem{
			{ProductID: "prod-1", Name: "Espresso Beans 1kg", Price: 100, Quantity: 2},
		},
	}
	doc := Render(data)
	for _, want := range []string{"* RETURN RECEIPT *", "RETURNED ITEMS", "Refund   : 200.00"} {
		if !strings.Contains(doc.PreviewText, want) {
			t.Fatalf("preview missing %q:\n%s", want, doc.PreviewText)
		}
	}
}

func TestRenderFractionalQuantity(t *testing.T) {
	data := sampleData()
	data.Sale.Items = []domain.CartLine{
		{ProductID: "prod-tea", Name: "Loose Leaf Tea", Price: 8, Quantity: 1.5},
	}
	doc := Render(data)
	if !strings.Contains(doc.PreviewText, "Loose Leaf Tea x1.500") {
		t.Fatalf("expected fractional quantity rendering:\n%s", doc.PreviewText)
	}
}
