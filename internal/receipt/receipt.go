// Package receipt renders a sale as ESC/POS bytes plus a plain-text preview.
package receipt

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/money"
)

const width = 32

var (
	escInit = []byte{0x1b, 0x40}
	escCut  = []byte{0x1d, 0x56, 0x41, 0x10}
)

// Build renders the sale. Repayments recorded after the sale are listed so a
// reprinted receipt shows the current balance.
func Build(shopName string, sale domain.Sale, payments []domain.Payment, loc *time.Location) domain.ReceiptResponse {
	if loc == nil {
		loc = time.UTC
	}
	rule := strings.Repeat("=", width)
	thin := strings.Repeat("-", width)

	lines := []string{
		center(shopName),
		rule,
		"No: " + sale.ID,
		"Date: " + sale.CreatedAt.In(loc).Format("2006-01-02 15:04"),
		"Customer: " + sale.CustomerName,
		thin,
	}
	for _, item := range sale.Items {
		lines = append(lines, item.ProductName)
		lines = append(lines, row("  "+quantityLabel(item), money.Format(item.SubtotalCents)))
	}
	lines = append(lines, thin, row("Subtotal", money.Format(sale.SubtotalCents)))
	switch sale.Adjustment.Type {
	case domain.AdjustmentDiscount:
		lines = append(lines, row("Discount", money.Format(sale.AdjustmentCents)))
	case domain.AdjustmentRoundOff:
		lines = append(lines, row("Round off", money.Format(sale.AdjustmentCents)))
	}
	lines = append(lines, row("TOTAL", money.Format(sale.TotalCents)))

	// CashCents is the amount kept; the customer handed over change on top.
	if tendered := sale.CashCents + sale.ChangeCents; tendered > 0 {
		lines = append(lines, row("Cash", money.Format(tendered)))
	}
	if sale.OnlineCents > 0 {
		lines = append(lines, row("Online", money.Format(sale.OnlineCents)))
	}
	if sale.ChangeCents > 0 {
		lines = append(lines, row("Change", money.Format(sale.ChangeCents)))
	}
	if sale.HutangCents > 0 {
		lines = append(lines, row("Hutang", money.Format(sale.HutangCents)))
	}
	for _, p := range payments {
		lines = append(lines, row("Paid "+p.PaidAt.In(loc).Format("02/01"), money.Format(p.AmountCents)))
	}
	if !money.IsSettled(sale.RemainingCents) {
		lines = append(lines, row("Balance due", money.Format(sale.RemainingCents)))
	}
	lines = append(lines, rule, center(sale.Status.Label()), center("Terima kasih"), "")

	escpos := append([]byte{}, escInit...)
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, escCut...)

	return domain.ReceiptResponse{
		SaleID:       sale.ID,
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		PreviewText:  strings.Join(lines, "\n"),
		FileName:     fmt.Sprintf("receipt-%s.bin", sale.ID),
	}
}

func quantityLabel(item domain.SaleItem) string {
	parts := make([]string, 0, 3)
	if item.BoxQty > 0 {
		parts = append(parts, fmt.Sprintf("%d box", item.BoxQty))
	}
	if item.PackQty > 0 {
		parts = append(parts, fmt.Sprintf("%d pack", item.PackQty))
	}
	if item.LooseQty > 0 {
		parts = append(parts, fmt.Sprintf("%d unit", item.LooseQty))
	}
	return strings.Join(parts, " + ")
}

func row(label, value string) string {
	gap := width - len(label) - len(value)
	if gap < 1 {
		gap = 1
	}
	return label + strings.Repeat(" ", gap) + value
}

func center(text string) string {
	pad := (width - len(text)) / 2
	if pad < 1 {
		return text
	}
	return strings.Repeat(" ", pad) + text
}
