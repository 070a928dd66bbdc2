package memory

import (
	"context"
	"maps"
	"time"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/store"
)

// memTx writes into a staged copy owned by the running unit of work.
type memTx struct {
	data *state
}

func (t *memTx) InsertProduct(_ context.Context, product domain.Product) error {
	if product.ID == "" {
		return store.Invalid("product_id", "is required")
	}
	if _, exists := t.data.products[product.ID]; exists {
		return store.Invalid("product_id", "already exists")
	}
	t.data.products[product.ID] = product
	return nil
}

func (t *memTx) GetProductForUpdate(_ context.Context, id string) (*domain.Product, error) {
	product, ok := t.data.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (t *memTx) SetProductStock(_ context.Context, id string, balance int, at time.Time) error {
	product, ok := t.data.products[id]
	if !ok {
		return store.ErrNotFound
	}
	product.StockBalance = balance
	product.UpdatedAt = at
	t.data.products[id] = product
	return nil
}

func (t *memTx) InsertStockMovement(_ context.Context, movement domain.StockMovement) error {
	t.data.movements = append(t.data.movements, movement)
	return nil
}

func (t *memTx) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	return t.data.saleByIdempotency(key)
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := t.data.sales[sale.ID]; exists {
		return store.Invalid("sale_id", "already exists")
	}
	if sale.IdempotencyKey != "" {
		if _, exists := t.data.salesByIdem[sale.IdempotencyKey]; exists {
			return &store.ConflictError{Entity: "sale", ID: sale.IdempotencyKey, Reason: "idempotency key already used"}
		}
		t.data.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	t.data.sales[sale.ID] = *cloneSale(sale)
	return nil
}

func (t *memTx) GetSaleForUpdate(_ context.Context, id string) (*domain.Sale, error) {
	sale, ok := t.data.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (t *memTx) UpdateSaleBalance(_ context.Context, id string, paidCents int64, remainingCents int64, status domain.SaleStatus) error {
	sale, ok := t.data.sales[id]
	if !ok {
		return store.ErrNotFound
	}
	sale.PaidCents = paidCents
	sale.RemainingCents = remainingCents
	sale.Status = status
	t.data.sales[id] = sale
	return nil
}

func (t *memTx) DeleteSale(_ context.Context, id string) error {
	sale, ok := t.data.sales[id]
	if !ok {
		return store.ErrNotFound
	}
	for _, payment := range t.data.salePayments[id] {
		delete(t.data.paymentsByIdem, payment.IdempotencyKey)
	}
	delete(t.data.salePayments, id)
	delete(t.data.salesByIdem, sale.IdempotencyKey)
	delete(t.data.sales, id)
	return nil
}

func (t *memTx) FindPaymentByIdempotency(_ context.Context, key string) (*domain.Payment, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	payment, ok := t.data.paymentsByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &payment, nil
}

func (t *memTx) InsertPayment(_ context.Context, payment domain.Payment) error {
	switch payment.Scope {
	case domain.PaymentScopeSale:
		if _, ok := t.data.sales[payment.SaleID]; !ok {
			return store.ErrNotFound
		}
		if payment.IdempotencyKey != "" {
			if _, exists := t.data.paymentsByIdem[payment.IdempotencyKey]; exists {
				return &store.ConflictError{Entity: "payment", ID: payment.IdempotencyKey, Reason: "idempotency key already used"}
			}
			t.data.paymentsByIdem[payment.IdempotencyKey] = payment
		}
		t.data.salePayments[payment.SaleID] = append(t.data.salePayments[payment.SaleID], payment)
	case domain.PaymentScopeGlobal:
		t.data.payments = append(t.data.payments, payment)
	default:
		return store.Invalid("scope", "must be sale or global")
	}
	return nil
}

func (t *memTx) InsertPurchase(_ context.Context, purchase domain.Purchase) error {
	if _, exists := t.data.purchases[purchase.ID]; exists {
		return store.Invalid("purchase_id", "already exists")
	}
	t.data.purchases[purchase.ID] = *clonePurchase(purchase)
	return nil
}

func (t *memTx) GetPurchaseForUpdate(_ context.Context, id string) (*domain.Purchase, error) {
	purchase, ok := t.data.purchases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePurchase(purchase), nil
}

func (t *memTx) UpdatePurchase(_ context.Context, purchase domain.Purchase) error {
	if _, ok := t.data.purchases[purchase.ID]; !ok {
		return store.ErrNotFound
	}
	t.data.purchases[purchase.ID] = *clonePurchase(purchase)
	return nil
}

func (t *memTx) DeletePurchase(_ context.Context, id string) error {
	if _, ok := t.data.purchases[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.data.purchases, id)
	return nil
}

func (t *memTx) InsertReturn(_ context.Context, ret domain.Return) error {
	if _, exists := t.data.returns[ret.ID]; exists {
		return store.Invalid("return_id", "already exists")
	}
	t.data.returns[ret.ID] = *cloneReturn(ret)
	return nil
}

func (t *memTx) GetReturnForUpdate(_ context.Context, id string) (*domain.Return, error) {
	ret, ok := t.data.returns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneReturn(ret), nil
}

func (t *memTx) DeleteReturn(_ context.Context, id string) error {
	if _, ok := t.data.returns[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.data.returns, id)
	return nil
}

func (t *memTx) InsertAuditLog(_ context.Context, entry domain.AuditLog) error {
	entry.Payload = maps.Clone(entry.Payload)
	t.data.auditLogs = append(t.data.auditLogs, entry)
	return nil
}

func (s state) saleByIdempotency(key string) (*domain.Sale, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	id, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}
