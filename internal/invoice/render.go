// Package invoice renders sale, return and credit-note documents as plain
// preview text and an ESC/POS byte stream. Rendering is pure: it never
// touches stores, printers or timers, so callers decide when and whether a
// document is produced.
package invoice

import (
	"encoding/base64"
	"fmt"
	"strings"

	"vendia/backend/internal/domain"
)

// Render formats the bundle into a printable document. The ESC/POS stream
// starts with printer init and ends with a partial cut, ready for a local
// printer bridge.
func Render(data domain.InvoiceData) domain.InvoiceDocument {
	lines := []string{
		"Vendia POS",
		"========================",
		title(data.Type),
		"Receipt #: " + fmt.Sprintf("%06d", data.Sale.ReceiptNumber),
		"Sale: " + data.Sale.ID,
		"Date: " + data.Sale.Date.Format("2006-01-02 15:04:05"),
	}
	if data.Customer != nil {
		lines = append(lines, "Customer: "+data.Customer.Name)
	}
	lines = append(lines, "------------------------")

	for _, item := range data.Sale.Items {
		lines = append(lines, fmt.Sprintf("%s x%s", item.Name, qty(item.Quantity)))
		lines = append(lines, fmt.Sprintf("  %.2f", item.Price*item.Quantity))
	}
	lines = append(lines,
		"------------------------",
		fmt.Sprintf("Subtotal : %.2f", data.Sale.Subtotal),
		fmt.Sprintf("Tax      : %.2f", data.Sale.Tax),
		fmt.Sprintf("Total    : %.2f", data.Sale.Total),
	)
	for _, payment := range data.Sale.Payments {
		lines = append(lines, fmt.Sprintf("%-9s: %.2f", strings.ToUpper(string(payment.Type)), payment.Amount))
	}
	if data.Sale.ChangeGiven > 0 {
		lines = append(lines, fmt.Sprintf("Change   : %.2f", data.Sale.ChangeGiven))
	}

	if data.Return != nil {
		lines = append(lines, "------------------------", "RETURNED ITEMS")
		for _, item := range data.Return.Items {
			lines = append(lines, fmt.Sprintf("%s x%s  -%.2f", item.Name, qty(item.Quantity), item.Price*item.Quantity))
		}
		lines = append(lines, fmt.Sprintf("Refund   : %.2f", data.Return.Total))
	}

	lines = append(lines,
		"========================",
		"Generated: "+data.GeneratedAt.Format("2006-01-02 15:04:05"),
		"Thank you",
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.InvoiceDocument{
		SaleID:       data.Sale.ID,
		Type:         data.Type,
		PreviewText:  strings.Join(lines, "\n"),
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		FileName:     fmt.Sprintf("invoice-%s-%s.bin", data.Type, data.Sale.ID),
	}
}

func title(invoiceType string) string {
	switch invoiceType {
	case domain.InvoiceTypeReturn:
		return "* RETURN RECEIPT *"
	case domain.InvoiceTypeCreditNote:
		return "* CREDIT NOTE *"
	default:
		return "* SALES RECEIPT *"
	}
}

func qty(q float64) string {
	if q == float64(int64(q)) {
		return fmt.Sprintf("%d", int64(q))
	}
	return fmt.Sprintf("%.3f", q)
}
