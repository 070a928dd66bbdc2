package domain

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type SaleStatus string

const (
	SaleStatusPaid   SaleStatus = "paid"
	SaleStatusHutang SaleStatus = "hutang"
)

func (s SaleStatus) Label() string {
	switch s {
	case SaleStatusPaid:
		return "Paid"
	case SaleStatusHutang:
		return "Hutang"
	default:
		return string(s)
	}
}

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentOnline PaymentMethod = "online"
	PaymentHutang PaymentMethod = "hutang"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentOnline, PaymentHutang:
		return true
	default:
		return false
	}
}

type PaymentScope string

const (
	PaymentScopeSale   PaymentScope = "sale"
	PaymentScopeGlobal PaymentScope = "global"
)

type AdjustmentType string

const (
	AdjustmentNone     AdjustmentType = "none"
	AdjustmentDiscount AdjustmentType = "discount"
	AdjustmentRoundOff AdjustmentType = "roundoff"
)

type PurchaseStatus string

const (
	PurchaseOrdered         PurchaseStatus = "ordered"
	PurchaseInTransit       PurchaseStatus = "in_transit"
	PurchaseReceived        PurchaseStatus = "received"
	PurchaseReceivedPartial PurchaseStatus = "received_partial"
	PurchaseCancelled       PurchaseStatus = "cancelled"
)

var purchaseTransitions = map[PurchaseStatus][]PurchaseStatus{
	PurchaseOrdered:         {PurchaseInTransit, PurchaseReceived, PurchaseReceivedPartial, PurchaseCancelled},
	PurchaseInTransit:       {PurchaseReceived, PurchaseReceivedPartial, PurchaseCancelled},
	PurchaseReceivedPartial: {PurchaseReceived, PurchaseCancelled},
}

// CanTransition reports whether an operator may move a purchase from s to next.
// Cancelled is reachable from every non-terminal status; a fully received
// purchase is only cancelled while deleting.
func (s PurchaseStatus) CanTransition(next PurchaseStatus) bool {
	for _, allowed := range purchaseTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Stocked reports whether goods for this status have been added to stock.
func (s PurchaseStatus) Stocked() bool {
	return s == PurchaseReceived || s == PurchaseReceivedPartial
}

func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchaseOrdered, PurchaseInTransit, PurchaseReceived, PurchaseReceivedPartial, PurchaseCancelled:
		return true
	default:
		return false
	}
}

func (s PurchaseStatus) Label() string {
	switch s {
	case PurchaseOrdered:
		return "Ordered"
	case PurchaseInTransit:
		return "In Transit"
	case PurchaseReceived:
		return "Received"
	case PurchaseReceivedPartial:
		return "Received (Partial)"
	case PurchaseCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

type MovementReason string

const (
	ReasonSale             MovementReason = "sale"
	ReasonSaleReversal     MovementReason = "sale_reversal"
	ReasonPurchaseReceipt  MovementReason = "purchase_receipt"
	ReasonPurchaseReversal MovementReason = "purchase_reversal"
	ReasonSupplierReturn   MovementReason = "supplier_return"
	ReasonReturnReversal   MovementReason = "return_reversal"
	ReasonTransfer         MovementReason = "transfer"
	ReasonShopUse          MovementReason = "shop_use"
	ReasonStockAudit       MovementReason = "stock_audit"
	ReasonInitialStock     MovementReason = "initial_stock"
)

// Manual reports whether operators may record this reason directly.
func (r MovementReason) Manual() bool {
	switch r {
	case ReasonTransfer, ReasonShopUse, ReasonStockAudit:
		return true
	default:
		return false
	}
}
