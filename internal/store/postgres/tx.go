package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/money"
	"kedaipos/backend/internal/store"
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertProduct(ctx context.Context, p domain.Product) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO products (
			id, name, unit_price, box_price, pack_price, big_bulk_qty, small_bulk_qty,
			stock_balance, reorder_point, active, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, p.ID, p.Name, money.ToAmount(p.UnitPriceCents), money.ToAmount(p.BoxPriceCents), money.ToAmount(p.PackPriceCents),
		p.BigBulkQty, p.SmallBulkQty, p.StockBalance, p.ReorderPoint, p.Active, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Invalid("product_id", "already exists")
		}
		return err
	}
	return nil
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) SetProductStock(ctx context.Context, id string, balance int, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET stock_balance = $2, updated_at = $3 WHERE id = $1`, id, balance, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertStockMovement(ctx context.Context, m domain.StockMovement) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_movements (id, product_id, delta, balance_after, reason, ref_type, ref_id, note, created_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, m.ID, m.ProductID, m.Delta, m.BalanceAfter, string(m.Reason), m.RefType, m.RefID, m.Note, m.CreatedAt, m.CreatedBy)
	return err
}

func (t *pgTx) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return scanSale(t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE idempotency_key = $1`, key))
}

func (t *pgTx) InsertSale(ctx context.Context, s domain.Sale) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sales (
			id, idempotency_key, customer_name, items, subtotal,
			adjustment_type, adjustment_value, adjustment_amount, total, payment_type,
			cash_amount, online_amount, hutang_amount, change_amount,
			paid_amount, remaining_amount, status, created_at, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, s.ID, nullIfEmpty(s.IdempotencyKey), s.CustomerName, s.Items, money.ToAmount(s.SubtotalCents),
		string(s.Adjustment.Type), money.ToAmount(s.Adjustment.ValueCents), money.ToAmount(s.AdjustmentCents),
		money.ToAmount(s.TotalCents), s.PaymentType,
		money.ToAmount(s.CashCents), money.ToAmount(s.OnlineCents), money.ToAmount(s.HutangCents), money.ToAmount(s.ChangeCents),
		money.ToAmount(s.PaidCents), money.ToAmount(s.RemainingCents), string(s.Status), s.CreatedAt, s.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return &store.ConflictError{Entity: "sale", ID: s.IdempotencyKey, Reason: "idempotency key already used"}
		}
		return err
	}
	return nil
}

func (t *pgTx) GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error) {
	return scanSale(t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateSaleBalance(ctx context.Context, id string, paidCents int64, remainingCents int64, status domain.SaleStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sales SET paid_amount = $2, remaining_amount = $3, status = $4 WHERE id = $1
	`, id, money.ToAmount(paidCents), money.ToAmount(remainingCents), string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteSale(ctx context.Context, id string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE sale_id = $1 AND scope = $2`, id, string(domain.PaymentScopeSale)); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) FindPaymentByIdempotency(ctx context.Context, key string) (*domain.Payment, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key))
}

func (t *pgTx) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (
			id, sale_id, customer_name, amount, method, scope, source_payment_id,
			idempotency_key, paid_at, created_at, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, p.ID, p.SaleID, p.CustomerName, money.ToAmount(p.AmountCents), string(p.Method), string(p.Scope), p.SourcePaymentID,
		nullIfEmpty(p.IdempotencyKey), p.PaidAt, p.CreatedAt, p.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return &store.ConflictError{Entity: "payment", ID: p.IdempotencyKey, Reason: "idempotency key already used"}
		}
		return err
	}
	return nil
}

func (t *pgTx) InsertPurchase(ctx context.Context, p domain.Purchase) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO purchases (
			id, supplier_name, invoice_number, status, items, subtotal, overall_discount,
			transportation, total, created_at, updated_at, received_at, created_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, p.ID, p.SupplierName, p.InvoiceNumber, string(p.Status), p.Items, money.ToAmount(p.SubtotalCents),
		money.ToAmount(p.OverallDiscountCents), money.ToAmount(p.TransportationCents), money.ToAmount(p.TotalCents),
		p.CreatedAt, p.UpdatedAt, p.ReceivedAt, p.CreatedBy)
	return err
}

func (t *pgTx) GetPurchaseForUpdate(ctx context.Context, id string) (*domain.Purchase, error) {
	return scanPurchase(t.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdatePurchase(ctx context.Context, p domain.Purchase) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE purchases SET
			supplier_name = $2, invoice_number = $3, status = $4, items = $5, subtotal = $6,
			overall_discount = $7, transportation = $8, total = $9, updated_at = $10, received_at = $11
		WHERE id = $1
	`, p.ID, p.SupplierName, p.InvoiceNumber, string(p.Status), p.Items, money.ToAmount(p.SubtotalCents),
		money.ToAmount(p.OverallDiscountCents), money.ToAmount(p.TransportationCents), money.ToAmount(p.TotalCents),
		p.UpdatedAt, p.ReceivedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) DeletePurchase(ctx context.Context, id string) error {
	return t.deleteByID(ctx, `DELETE FROM purchases WHERE id = $1`, id)
}

func (t *pgTx) InsertReturn(ctx context.Context, r domain.Return) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO supplier_returns (id, supplier_name, reference_number, items, total_qty, created_at, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, r.ID, r.SupplierName, r.ReferenceNumber, r.Items, r.TotalQty, r.CreatedAt, r.CreatedBy)
	return err
}

func (t *pgTx) GetReturnForUpdate(ctx context.Context, id string) (*domain.Return, error) {
	return scanReturn(t.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM supplier_returns WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) DeleteReturn(ctx context.Context, id string) error {
	return t.deleteByID(ctx, `DELETE FROM supplier_returns WHERE id = $1`, id)
}

func (t *pgTx) InsertAuditLog(ctx context.Context, e domain.AuditLog) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO audit_logs (id, event_type, category, actor_username, actor_role, entity_type, entity_id, message, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, e.ID, e.EventType, e.Category, e.ActorUsername, e.ActorRole, e.EntityType, e.EntityID, e.Message, e.Payload, e.CreatedAt)
	return err
}

func (t *pgTx) deleteByID(ctx context.Context, query string, id string) error {
	tag, err := t.tx.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
