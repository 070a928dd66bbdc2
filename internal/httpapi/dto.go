package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/money"
	"kedaipos/backend/internal/store"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Amounts arrive as decimals; tags such as gte=0 compare their float value.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage flattens validator errors into one operator-readable line.
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

// cents converts request amounts and remembers the first one out of range.
type cents struct {
	err error
}

func (c *cents) of(field string, amount decimal.Decimal) int64 {
	v, err := money.FromAmount(amount)
	if err != nil && c.err == nil {
		c.err = store.Invalid(field, fmt.Sprintf("must be within %s", money.Format(money.MaxCents)))
	}
	return v
}

func (c *cents) ptr(field string, amount *decimal.Decimal) *int64 {
	if amount == nil {
		return nil
	}
	v := c.of(field, *amount)
	return &v
}

// Quantities are capped at one million everywhere; stock balances are 32-bit columns.
type saleItemBody struct {
	ProductID string           `json:"product_id" validate:"required,max=64"`
	BoxQty    int              `json:"box_qty" validate:"gte=0,max=1000000"`
	PackQty   int              `json:"pack_qty" validate:"gte=0,max=1000000"`
	LooseQty  int              `json:"loose_qty" validate:"gte=0,max=1000000"`
	BoxPrice  *decimal.Decimal `json:"box_price,omitempty"`
	PackPrice *decimal.Decimal `json:"pack_price,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type paymentSplitBody struct {
	Method string          `json:"method" validate:"required,oneof=cash online hutang"`
	Amount decimal.Decimal `json:"amount" validate:"gte=0"`
}

type createSaleBody struct {
	IdempotencyKey string         `json:"idempotency_key" validate:"max=128"`
	CustomerName   string         `json:"customer_name" validate:"max=120"`
	Items          []saleItemBody `json:"items" validate:"required,min=1,max=200,dive"`
	Adjustment     struct {
		Type  string          `json:"type" validate:"omitempty,oneof=none discount roundoff"`
		Value decimal.Decimal `json:"value"`
	} `json:"adjustment"`
	Payment struct {
		Method string             `json:"method" validate:"omitempty,oneof=cash online hutang"`
		Paid   decimal.Decimal    `json:"paid" validate:"gte=0"`
		Split  []paymentSplitBody `json:"split" validate:"max=3,dive"`
	} `json:"payment"`
}

func (b createSaleBody) toDomain() (domain.CreateSaleRequest, error) {
	var c cents
	items := make([]domain.SaleItemInput, 0, len(b.Items))
	for _, item := range b.Items {
		items = append(items, domain.SaleItemInput{
			ProductID:      item.ProductID,
			BoxQty:         item.BoxQty,
			PackQty:        item.PackQty,
			LooseQty:       item.LooseQty,
			BoxPriceCents:  c.ptr("box_price", item.BoxPrice),
			PackPriceCents: c.ptr("pack_price", item.PackPrice),
			UnitPriceCents: c.ptr("unit_price", item.UnitPrice),
		})
	}
	split := make([]domain.PaymentSplit, 0, len(b.Payment.Split))
	for _, part := range b.Payment.Split {
		split = append(split, domain.PaymentSplit{Method: domain.PaymentMethod(part.Method), AmountCents: c.of("split.amount", part.Amount)})
	}
	req := domain.CreateSaleRequest{
		IdempotencyKey: b.IdempotencyKey,
		CustomerName:   b.CustomerName,
		Items:          items,
		Adjustment: domain.Adjustment{
			Type:       domain.AdjustmentType(b.Adjustment.Type),
			ValueCents: c.of("adjustment.value", b.Adjustment.Value),
		},
		Payment: domain.SalePaymentInput{
			Method:    domain.PaymentMethod(b.Payment.Method),
			PaidCents: c.of("payment.paid", b.Payment.Paid),
			Split:     split,
		},
	}
	return req, c.err
}

type recordPaymentBody struct {
	Amount            decimal.Decimal  `json:"amount" validate:"gt=0"`
	Method            string           `json:"method" validate:"required,oneof=cash online"`
	PaidAt            *time.Time       `json:"paid_at,omitempty"`
	IdempotencyKey    string           `json:"idempotency_key" validate:"max=128"`
	ExpectedRemaining *decimal.Decimal `json:"expected_remaining,omitempty"`
}

func (b recordPaymentBody) toDomain(saleID string) (domain.RecordPaymentRequest, error) {
	var c cents
	req := domain.RecordPaymentRequest{
		SaleID:                 saleID,
		AmountCents:            c.of("amount", b.Amount),
		Method:                 domain.PaymentMethod(b.Method),
		PaidAt:                 b.PaidAt,
		IdempotencyKey:         b.IdempotencyKey,
		ExpectedRemainingCents: c.ptr("expected_remaining", b.ExpectedRemaining),
	}
	return req, c.err
}

type purchaseItemBody struct {
	ProductID  string          `json:"product_id" validate:"required,max=64"`
	OrderedQty int             `json:"ordered_qty" validate:"gt=0,max=1000000"`
	Cost       decimal.Decimal `json:"cost" validate:"gte=0"`
	Discount   decimal.Decimal `json:"discount" validate:"gte=0"`
}

type purchaseBody struct {
	SupplierName    string             `json:"supplier_name" validate:"required,max=120"`
	InvoiceNumber   string             `json:"invoice_number" validate:"max=64"`
	Items           []purchaseItemBody `json:"items" validate:"required,min=1,max=200,dive"`
	OverallDiscount decimal.Decimal    `json:"overall_discount" validate:"gte=0"`
	Transportation  decimal.Decimal    `json:"transportation" validate:"gte=0"`
}

func (b purchaseBody) toDomain() (domain.PurchaseRequest, error) {
	var c cents
	items := make([]domain.PurchaseItemInput, 0, len(b.Items))
	for _, item := range b.Items {
		items = append(items, domain.PurchaseItemInput{
			ProductID:     item.ProductID,
			OrderedQty:    item.OrderedQty,
			CostCents:     c.of("cost", item.Cost),
			DiscountCents: c.of("discount", item.Discount),
		})
	}
	req := domain.PurchaseRequest{
		SupplierName:         b.SupplierName,
		InvoiceNumber:        b.InvoiceNumber,
		Items:                items,
		OverallDiscountCents: c.of("overall_discount", b.OverallDiscount),
		TransportationCents:  c.of("transportation", b.Transportation),
	}
	return req, c.err
}

type purchaseStatusBody struct {
	Status string `json:"status" validate:"required,oneof=ordered in_transit received received_partial cancelled"`
	Items  []struct {
		ProductID   string `json:"product_id" validate:"required"`
		ReceivedQty int    `json:"received_qty" validate:"gte=0,max=1000000"`
	} `json:"items" validate:"dive"`
}

func (b purchaseStatusBody) toDomain() domain.PurchaseStatusRequest {
	items := make([]domain.ReceivedQty, 0, len(b.Items))
	for _, item := range b.Items {
		items = append(items, domain.ReceivedQty{ProductID: item.ProductID, ReceivedQty: item.ReceivedQty})
	}
	return domain.PurchaseStatusRequest{Status: domain.PurchaseStatus(b.Status), Items: items}
}

type returnBody struct {
	SupplierName    string `json:"supplier_name" validate:"required,max=120"`
	ReferenceNumber string `json:"reference_number" validate:"max=64"`
	Items           []struct {
		ProductID string `json:"product_id" validate:"required,max=64"`
		Qty       int    `json:"qty" validate:"gt=0,max=1000000"`
	} `json:"items" validate:"required,min=1,max=200,dive"`
}

func (b returnBody) toDomain() domain.ReturnRequest {
	items := make([]domain.ReturnItem, 0, len(b.Items))
	for _, item := range b.Items {
		items = append(items, domain.ReturnItem{ProductID: item.ProductID, Qty: item.Qty})
	}
	return domain.ReturnRequest{SupplierName: b.SupplierName, ReferenceNumber: b.ReferenceNumber, Items: items}
}

type productBody struct {
	ID           string          `json:"id" validate:"required,max=64"`
	Name         string          `json:"name" validate:"required,max=120"`
	UnitPrice    decimal.Decimal `json:"unit_price" validate:"gte=0"`
	BoxPrice     decimal.Decimal `json:"box_price" validate:"gte=0"`
	PackPrice    decimal.Decimal `json:"pack_price" validate:"gte=0"`
	BigBulkQty   int             `json:"big_bulk_qty" validate:"gte=0,max=1000000"`
	SmallBulkQty int             `json:"small_bulk_qty" validate:"gte=0,max=1000000"`
	ReorderPoint int             `json:"reorder_point" validate:"gte=0,max=1000000"`
	InitialStock int             `json:"initial_stock" validate:"gte=0,max=1000000"`
}

func (b productBody) toDomain() (domain.ProductCreateRequest, error) {
	var c cents
	req := domain.ProductCreateRequest{
		ID:             b.ID,
		Name:           b.Name,
		UnitPriceCents: c.of("unit_price", b.UnitPrice),
		BoxPriceCents:  c.of("box_price", b.BoxPrice),
		PackPriceCents: c.of("pack_price", b.PackPrice),
		BigBulkQty:     b.BigBulkQty,
		SmallBulkQty:   b.SmallBulkQty,
		ReorderPoint:   b.ReorderPoint,
		InitialStock:   b.InitialStock,
	}
	return req, c.err
}

type stockAdjustmentBody struct {
	ProductID  string `json:"product_id" validate:"required,max=64"`
	Reason     string `json:"reason" validate:"required,oneof=transfer shop_use stock_audit"`
	Delta      int    `json:"delta" validate:"min=-1000000,max=1000000"`
	CountedQty *int   `json:"counted_qty,omitempty" validate:"omitempty,gte=0,max=1000000"`
	Note       string `json:"note" validate:"max=240"`
}

func (b stockAdjustmentBody) toDomain() domain.StockAdjustmentRequest {
	return domain.StockAdjustmentRequest{
		ProductID:  b.ProductID,
		Reason:     domain.MovementReason(b.Reason),
		Delta:      b.Delta,
		CountedQty: b.CountedQty,
		Note:       b.Note,
	}
}

type confirmBody struct {
	Password string `json:"password" validate:"required"`
}
