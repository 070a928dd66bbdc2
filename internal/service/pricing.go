package service

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/money"
	"kedaipos/backend/internal/store"
)

// maxLineUnits matches the 32-bit stock columns.
const maxLineUnits = math.MaxInt32

// requiredUnits converts a box/pack/loose line into stock units.
func requiredUnits(product domain.Product, input domain.SaleItemInput) (int, error) {
	if input.BoxQty < 0 || input.PackQty < 0 || input.LooseQty < 0 {
		return 0, store.Invalid("items", fmt.Sprintf("%s quantities must not be negative", product.Name))
	}
	if input.BoxQty > 0 && product.BigBulkQty <= 0 {
		return 0, store.Invalid("items", fmt.Sprintf("%s is not sold by the box", product.Name))
	}
	if input.PackQty > 0 && product.SmallBulkQty <= 0 {
		return 0, store.Invalid("items", fmt.Sprintf("%s is not sold by the pack", product.Name))
	}
	units := input.LooseQty
	for _, part := range [2][2]int{{input.BoxQty, product.BigBulkQty}, {input.PackQty, product.SmallBulkQty}} {
		qty, bulk := part[0], part[1]
		if qty == 0 {
			continue
		}
		if units > maxLineUnits || qty > (maxLineUnits-units)/bulk {
			return 0, store.Invalid("items", fmt.Sprintf("%s quantity is too large", product.Name))
		}
		units += qty * bulk
	}
	if units > maxLineUnits {
		return 0, store.Invalid("items", fmt.Sprintf("%s quantity is too large", product.Name))
	}
	if units <= 0 {
		return 0, store.Invalid("items", fmt.Sprintf("%s needs a quantity", product.Name))
	}
	return units, nil
}

// appliedPrice picks the entered price, then the catalogue bulk price, then
// the unit price times the bulk size.
func appliedPrice(override *int64, bulkPrice int64, unitPrice int64, bulkQty int) (int64, error) {
	if override != nil {
		if *override < 0 || *override > money.MaxCents {
			return 0, store.Invalid("items", fmt.Sprintf("price must be between %s and %s", money.Format(0), money.Format(money.MaxCents)))
		}
		return *override, nil
	}
	if bulkPrice > 0 {
		return bulkPrice, nil
	}
	price, err := money.Mul(bulkQty, unitPrice)
	if err != nil {
		return 0, store.Invalid("items", "bulk price is too large")
	}
	return price, nil
}

func priceLine(product domain.Product, input domain.SaleItemInput) (domain.SaleItem, error) {
	units, err := requiredUnits(product, input)
	if err != nil {
		return domain.SaleItem{}, err
	}
	unitPrice, err := appliedPrice(input.UnitPriceCents, 0, product.UnitPriceCents, 1)
	if err != nil {
		return domain.SaleItem{}, err
	}
	boxPrice, err := appliedPrice(input.BoxPriceCents, product.BoxPriceCents, unitPrice, product.BigBulkQty)
	if err != nil {
		return domain.SaleItem{}, err
	}
	packPrice, err := appliedPrice(input.PackPriceCents, product.PackPriceCents, unitPrice, product.SmallBulkQty)
	if err != nil {
		return domain.SaleItem{}, err
	}

	subtotal, err := lineSubtotal(input, boxPrice, packPrice, unitPrice)
	if err != nil {
		return domain.SaleItem{}, store.Invalid("items", fmt.Sprintf("%s line total exceeds %s", product.Name, money.Format(money.MaxCents)))
	}

	return domain.SaleItem{
		ProductID:      product.ID,
		ProductName:    product.Name,
		BoxQty:         input.BoxQty,
		PackQty:        input.PackQty,
		LooseQty:       input.LooseQty,
		BoxPriceCents:  boxPrice,
		PackPriceCents: packPrice,
		UnitPriceCents: unitPrice,
		RequiredUnits:  units,
		SubtotalCents:  subtotal,
	}, nil
}

func lineSubtotal(input domain.SaleItemInput, boxPrice, packPrice, unitPrice int64) (int64, error) {
	box, errBox := money.Mul(input.BoxQty, boxPrice)
	pack, errPack := money.Mul(input.PackQty, packPrice)
	loose, errLoose := money.Mul(input.LooseQty, unitPrice)
	if err := errors.Join(errBox, errPack, errLoose); err != nil {
		return 0, err
	}
	return money.Add(box, pack, loose)
}

// applyAdjustment returns the signed amount the adjustment adds to subtotal.
func applyAdjustment(subtotal int64, adj domain.Adjustment) (int64, error) {
	if !money.InRange(adj.ValueCents) {
		return 0, store.Invalid("adjustment", fmt.Sprintf("value must be within %s", money.Format(money.MaxCents)))
	}
	switch adj.Type {
	case "", domain.AdjustmentNone:
		if adj.ValueCents != 0 {
			return 0, store.Invalid("adjustment", "value needs an adjustment type")
		}
		return 0, nil
	case domain.AdjustmentDiscount:
		if adj.ValueCents < 0 || adj.ValueCents > subtotal {
			return 0, store.Invalid("adjustment", fmt.Sprintf("discount must be between %s and %s", money.Format(0), money.Format(subtotal)))
		}
		return -adj.ValueCents, nil
	case domain.AdjustmentRoundOff:
		if subtotal+adj.ValueCents < 0 {
			return 0, store.Invalid("adjustment", "round off cannot make the total negative")
		}
		if subtotal+adj.ValueCents > money.MaxCents {
			return 0, store.Invalid("adjustment", fmt.Sprintf("total must not exceed %s", money.Format(money.MaxCents)))
		}
		return adj.ValueCents, nil
	default:
		return 0, store.Invalid("adjustment", fmt.Sprintf("unknown type %q", adj.Type))
	}
}

type settlement struct {
	label  string
	cash   int64
	online int64
	hutang int64
	change int64
}

func (st settlement) paid() int64 {
	return st.cash + st.online
}

// settle splits total into what is kept now and what stays on credit. Cash
// is the amount kept after change.
func settle(total int64, payment domain.SalePaymentInput) (settlement, error) {
	if len(payment.Split) > 0 {
		return settleSplit(total, payment.Split)
	}

	paid := payment.PaidCents
	if paid < 0 || paid > money.MaxCents {
		return settlement{}, store.Invalid("payment", fmt.Sprintf("amount must be between %s and %s", money.Format(0), money.Format(money.MaxCents)))
	}

	switch payment.Method {
	case domain.PaymentCash:
		if paid == 0 {
			paid = total
		}
		if paid < total {
			return settlement{}, store.Invalid("payment", fmt.Sprintf("cash %s is below the total %s; record the rest as hutang", money.Format(paid), money.Format(total)))
		}
		return settlement{label: "cash", cash: total, change: paid - total}, nil
	case domain.PaymentOnline:
		if paid == 0 {
			paid = total
		}
		if paid != total {
			return settlement{}, store.Invalid("payment", fmt.Sprintf("online payment must equal the total %s", money.Format(total)))
		}
		return settlement{label: "online", online: total}, nil
	case domain.PaymentHutang:
		if paid >= total {
			return settlement{}, store.Invalid("payment", "deposit covers the total; record it as cash")
		}
		label := "hutang"
		if paid > 0 {
			label = "cash+hutang"
		}
		return settlement{label: label, cash: paid, hutang: total - paid}, nil
	default:
		return settlement{}, store.Invalid("payment", fmt.Sprintf("unknown method %q", payment.Method))
	}
}

func settleSplit(total int64, split []domain.PaymentSplit) (settlement, error) {
	amounts := map[domain.PaymentMethod]int64{}
	for _, part := range split {
		if !part.Method.Valid() {
			return settlement{}, store.Invalid("payment", fmt.Sprintf("unknown method %q", part.Method))
		}
		if _, seen := amounts[part.Method]; seen {
			return settlement{}, store.Invalid("payment", fmt.Sprintf("method %s listed twice", part.Method))
		}
		if part.AmountCents < 0 || part.AmountCents > money.MaxCents {
			return settlement{}, store.Invalid("payment", fmt.Sprintf("amount must be between %s and %s", money.Format(0), money.Format(money.MaxCents)))
		}
		amounts[part.Method] = part.AmountCents
	}

	cash := amounts[domain.PaymentCash]
	online := amounts[domain.PaymentOnline]
	if online > total {
		return settlement{}, store.Invalid("payment", "online amount exceeds the total")
	}

	var change int64
	if excess := cash + online - total; excess > 0 {
		change = excess
		cash -= excess
	}

	remaining := money.Max(0, total-cash-online)
	hutang, hasHutang := amounts[domain.PaymentHutang]
	switch {
	case hasHutang && remaining == 0:
		return settlement{}, store.Invalid("payment", "nothing is left to put on hutang")
	case hasHutang && hutang != 0 && hutang != remaining:
		return settlement{}, store.Invalid("payment", fmt.Sprintf("hutang must equal the remaining %s", money.Format(remaining)))
	case !hasHutang && remaining > 0:
		return settlement{}, store.Invalid("payment", fmt.Sprintf("%s is unpaid; add a hutang entry", money.Format(remaining)))
	}

	st := settlement{cash: cash, online: online, hutang: remaining, change: change}
	parts := make([]string, 0, 3)
	if st.cash > 0 {
		parts = append(parts, string(domain.PaymentCash))
	}
	if st.online > 0 {
		parts = append(parts, string(domain.PaymentOnline))
	}
	if st.hutang > 0 {
		parts = append(parts, string(domain.PaymentHutang))
	}
	if len(parts) == 0 {
		parts = append(parts, string(domain.PaymentCash))
	}
	st.label = strings.Join(parts, "+")
	return st, nil
}

func isWalkIn(customer string) bool {
	trimmed := strings.TrimSpace(customer)
	return trimmed == "" || strings.EqualFold(trimmed, domain.WalkInCustomer)
}

// sortedProductIDs returns each product once, in lock order.
func sortedProductIDs(items []domain.SaleItemInput) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, strings.TrimSpace(item.ProductID))
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
