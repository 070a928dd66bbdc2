package domain

import "time"

const WalkInCustomer = "Walk In"

type Product struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	BoxPriceCents  int64     `json:"box_price_cents"`
	PackPriceCents int64     `json:"pack_price_cents"`
	BigBulkQty     int       `json:"big_bulk_qty"`
	SmallBulkQty   int       `json:"small_bulk_qty"`
	StockBalance   int       `json:"stock_balance"`
	ReorderPoint   int       `json:"reorder_point"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	BoxPriceCents  int64  `json:"box_price_cents"`
	PackPriceCents int64  `json:"pack_price_cents"`
	BigBulkQty     int    `json:"big_bulk_qty"`
	SmallBulkQty   int    `json:"small_bulk_qty"`
	ReorderPoint   int    `json:"reorder_point"`
	InitialStock   int    `json:"initial_stock"`
}

type StockMovement struct {
	ID           string         `json:"id"`
	ProductID    string         `json:"product_id"`
	Delta        int            `json:"delta"`
	BalanceAfter int            `json:"balance_after"`
	Reason       MovementReason `json:"reason"`
	RefType      string         `json:"ref_type"`
	RefID        string         `json:"ref_id"`
	Note         string         `json:"note,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CreatedBy    string         `json:"created_by"`
}

type StockAdjustmentRequest struct {
	ProductID  string         `json:"product_id"`
	Reason     MovementReason `json:"reason"`
	Delta      int            `json:"delta"`
	CountedQty *int           `json:"counted_qty,omitempty"`
	Note       string         `json:"note"`
}

type StockAdjustmentResponse struct {
	Movement StockMovement `json:"movement"`
	Product  Product       `json:"product"`
}

type SaleItem struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	BoxQty         int    `json:"box_qty"`
	PackQty        int    `json:"pack_qty"`
	LooseQty       int    `json:"loose_qty"`
	BoxPriceCents  int64  `json:"box_price_cents"`
	PackPriceCents int64  `json:"pack_price_cents"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	RequiredUnits  int    `json:"required_units"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type Adjustment struct {
	Type       AdjustmentType `json:"type"`
	ValueCents int64          `json:"value_cents"`
}

type Sale struct {
	ID              string     `json:"id"`
	IdempotencyKey  string     `json:"idempotency_key"`
	CustomerName    string     `json:"customer_name"`
	Items           []SaleItem `json:"items"`
	SubtotalCents   int64      `json:"subtotal_cents"`
	Adjustment      Adjustment `json:"adjustment"`
	AdjustmentCents int64      `json:"adjustment_cents"`
	TotalCents      int64      `json:"total_cents"`
	PaymentType     string     `json:"payment_type"`
	CashCents       int64      `json:"cash_cents"`
	OnlineCents     int64      `json:"online_cents"`
	HutangCents     int64      `json:"hutang_cents"`
	ChangeCents     int64      `json:"change_cents"`
	PaidCents       int64      `json:"paid_cents"`
	RemainingCents  int64      `json:"remaining_cents"`
	Status          SaleStatus `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	CreatedBy       string     `json:"created_by"`
}

type SaleItemInput struct {
	ProductID string `json:"product_id"`
	BoxQty    int    `json:"box_qty"`
	PackQty   int    `json:"pack_qty"`
	LooseQty  int    `json:"loose_qty"`
	// Entered prices override the catalogue price for this line only.
	BoxPriceCents  *int64 `json:"box_price_cents,omitempty"`
	PackPriceCents *int64 `json:"pack_price_cents,omitempty"`
	UnitPriceCents *int64 `json:"unit_price_cents,omitempty"`
}

type PaymentSplit struct {
	Method      PaymentMethod `json:"method"`
	AmountCents int64         `json:"amount_cents"`
}

type SalePaymentInput struct {
	Method    PaymentMethod  `json:"method"`
	PaidCents int64          `json:"paid_cents"`
	Split     []PaymentSplit `json:"split,omitempty"`
}

type CreateSaleRequest struct {
	IdempotencyKey string           `json:"idempotency_key"`
	CustomerName   string           `json:"customer_name"`
	Items          []SaleItemInput  `json:"items"`
	Adjustment     Adjustment       `json:"adjustment"`
	Payment        SalePaymentInput `json:"payment"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type SaleLookupResponse struct {
	Found bool  `json:"found"`
	Sale  *Sale `json:"sale,omitempty"`
}

type Payment struct {
	ID              string        `json:"id"`
	SaleID          string        `json:"sale_id"`
	CustomerName    string        `json:"customer_name"`
	AmountCents     int64         `json:"amount_cents"`
	Method          PaymentMethod `json:"method"`
	Scope           PaymentScope  `json:"scope"`
	SourcePaymentID string        `json:"source_payment_id,omitempty"`
	IdempotencyKey  string        `json:"idempotency_key"`
	PaidAt          time.Time     `json:"paid_at"`
	CreatedAt       time.Time     `json:"created_at"`
	CreatedBy       string        `json:"created_by"`
}

type RecordPaymentRequest struct {
	SaleID         string        `json:"sale_id"`
	AmountCents    int64         `json:"amount_cents"`
	Method         PaymentMethod `json:"method"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	IdempotencyKey string        `json:"idempotency_key"`
	// ExpectedRemainingCents is the balance the operator saw before submitting.
	ExpectedRemainingCents *int64 `json:"expected_remaining_cents,omitempty"`
}

type PaymentResponse struct {
	Sale      Sale    `json:"sale"`
	Payment   Payment `json:"payment"`
	Duplicate bool    `json:"duplicate"`
}

type CreditAgingBucket struct {
	Label          string `json:"label"`
	RemainingCents int64  `json:"remaining_cents"`
}

type CustomerCredit struct {
	CustomerName   string              `json:"customer_name"`
	Sales          int                 `json:"sales"`
	RemainingCents int64               `json:"remaining_cents"`
	OldestSaleAt   time.Time           `json:"oldest_sale_at"`
	Buckets        []CreditAgingBucket `json:"buckets"`
}

type CreditAgingReport struct {
	AsOf           time.Time        `json:"as_of"`
	RemainingCents int64            `json:"remaining_cents"`
	Customers      []CustomerCredit `json:"customers"`
}

type PurchaseItem struct {
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	OrderedQty    int    `json:"ordered_qty"`
	ReceivedQty   int    `json:"received_qty"`
	StockedQty    int    `json:"stocked_qty"`
	CostCents     int64  `json:"cost_cents"`
	DiscountCents int64  `json:"discount_cents"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

type Purchase struct {
	ID                   string         `json:"id"`
	SupplierName         string         `json:"supplier_name"`
	InvoiceNumber        string         `json:"invoice_number,omitempty"`
	Status               PurchaseStatus `json:"status"`
	Items                []PurchaseItem `json:"items"`
	SubtotalCents        int64          `json:"subtotal_cents"`
	OverallDiscountCents int64          `json:"overall_discount_cents"`
	TransportationCents  int64          `json:"transportation_cents"`
	TotalCents           int64          `json:"total_cents"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	ReceivedAt           *time.Time     `json:"received_at,omitempty"`
	CreatedBy            string         `json:"created_by"`
}

type PurchaseItemInput struct {
	ProductID     string `json:"product_id"`
	OrderedQty    int    `json:"ordered_qty"`
	CostCents     int64  `json:"cost_cents"`
	DiscountCents int64  `json:"discount_cents"`
}

type PurchaseRequest struct {
	SupplierName         string              `json:"supplier_name"`
	InvoiceNumber        string              `json:"invoice_number"`
	Items                []PurchaseItemInput `json:"items"`
	OverallDiscountCents int64               `json:"overall_discount_cents"`
	TransportationCents  int64               `json:"transportation_cents"`
}

type ReceivedQty struct {
	ProductID   string `json:"product_id"`
	ReceivedQty int    `json:"received_qty"`
}

type PurchaseStatusRequest struct {
	Status PurchaseStatus `json:"status"`
	Items  []ReceivedQty  `json:"items,omitempty"`
}

type PurchaseResponse struct {
	Purchase Purchase `json:"purchase"`
}

type PurchaseListResponse struct {
	Purchases []Purchase `json:"purchases"`
}

type ReturnItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Qty         int    `json:"qty"`
}

type Return struct {
	ID              string       `json:"id"`
	SupplierName    string       `json:"supplier_name"`
	ReferenceNumber string       `json:"reference_number,omitempty"`
	Items           []ReturnItem `json:"items"`
	TotalQty        int          `json:"total_qty"`
	CreatedAt       time.Time    `json:"created_at"`
	CreatedBy       string       `json:"created_by"`
}

type ReturnRequest struct {
	SupplierName    string       `json:"supplier_name"`
	ReferenceNumber string       `json:"reference_number"`
	Items           []ReturnItem `json:"items"`
}

type ReturnResponse struct {
	Return Return `json:"return"`
}

type ReceiptResponse struct {
	SaleID       string `json:"sale_id"`
	EscposBase64 string `json:"escpos_base64"`
	PreviewText  string `json:"preview_text"`
	FileName     string `json:"file_name"`
}

type AuditLog struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"`
	Category      string         `json:"category"`
	ActorUsername string         `json:"actor_username"`
	ActorRole     string         `json:"actor_role"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	Message       string         `json:"message"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
