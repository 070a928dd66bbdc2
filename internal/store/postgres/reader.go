package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/money"
	"kedaipos/backend/internal/store"
)

const (
	productColumns = `id, name, unit_price, box_price, pack_price, big_bulk_qty, small_bulk_qty,
		stock_balance, reorder_point, active, created_at, updated_at`
	saleColumns = `id, idempotency_key, customer_name, items, subtotal,
		adjustment_type, adjustment_value, adjustment_amount, total, payment_type,
		cash_amount, online_amount, hutang_amount, change_amount,
		paid_amount, remaining_amount, status, created_at, created_by`
	paymentColumns = `id, sale_id, customer_name, amount, method, scope, source_payment_id,
		idempotency_key, paid_at, created_at, created_by`
	purchaseColumns = `id, supplier_name, invoice_number, status, items, subtotal, overall_discount,
		transportation, total, created_at, updated_at, received_at, created_by`
	returnColumns = `id, supplier_name, reference_number, items, total_qty, created_at, created_by`
	auditColumns  = `id, event_type, category, actor_username, actor_role, entity_type, entity_id, message, payload, created_at`
)

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p               domain.Product
		unit, box, pack decimal.Decimal
	)
	if err := row.Scan(&p.ID, &p.Name, &unit, &box, &pack, &p.BigBulkQty, &p.SmallBulkQty,
		&p.StockBalance, &p.ReorderPoint, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	p.UnitPriceCents = money.ToCents(unit)
	p.BoxPriceCents = money.ToCents(box)
	p.PackPriceCents = money.ToCents(pack)
	return &p, nil
}

func scanSale(row pgx.Row) (*domain.Sale, error) {
	var (
		s                                             domain.Sale
		idem                                          *string
		adjType, status                               string
		subtotal, adjValue, adjAmount, total          decimal.Decimal
		cash, online, hutang, change, paid, remaining decimal.Decimal
	)
	if err := row.Scan(&s.ID, &idem, &s.CustomerName, &s.Items, &subtotal,
		&adjType, &adjValue, &adjAmount, &total, &s.PaymentType,
		&cash, &online, &hutang, &change,
		&paid, &remaining, &status, &s.CreatedAt, &s.CreatedBy); err != nil {
		return nil, notFound(err)
	}
	s.IdempotencyKey = orEmpty(idem)
	s.Adjustment = domain.Adjustment{Type: domain.AdjustmentType(adjType), ValueCents: money.ToCents(adjValue)}
	s.SubtotalCents = money.ToCents(subtotal)
	s.AdjustmentCents = money.ToCents(adjAmount)
	s.TotalCents = money.ToCents(total)
	s.CashCents = money.ToCents(cash)
	s.OnlineCents = money.ToCents(online)
	s.HutangCents = money.ToCents(hutang)
	s.ChangeCents = money.ToCents(change)
	s.PaidCents = money.ToCents(paid)
	s.RemainingCents = money.ToCents(remaining)
	s.Status = domain.SaleStatus(status)
	return &s, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p             domain.Payment
		amount        decimal.Decimal
		method, scope string
		idem          *string
	)
	if err := row.Scan(&p.ID, &p.SaleID, &p.CustomerName, &amount, &method, &scope, &p.SourcePaymentID,
		&idem, &p.PaidAt, &p.CreatedAt, &p.CreatedBy); err != nil {
		return nil, notFound(err)
	}
	p.AmountCents = money.ToCents(amount)
	p.Method = domain.PaymentMethod(method)
	p.Scope = domain.PaymentScope(scope)
	p.IdempotencyKey = orEmpty(idem)
	return &p, nil
}

func scanPurchase(row pgx.Row) (*domain.Purchase, error) {
	var (
		p                                         domain.Purchase
		status                                    string
		subtotal, discount, transportation, total decimal.Decimal
	)
	if err := row.Scan(&p.ID, &p.SupplierName, &p.InvoiceNumber, &status, &p.Items, &subtotal, &discount,
		&transportation, &total, &p.CreatedAt, &p.UpdatedAt, &p.ReceivedAt, &p.CreatedBy); err != nil {
		return nil, notFound(err)
	}
	p.Status = domain.PurchaseStatus(status)
	p.SubtotalCents = money.ToCents(subtotal)
	p.OverallDiscountCents = money.ToCents(discount)
	p.TransportationCents = money.ToCents(transportation)
	p.TotalCents = money.ToCents(total)
	return &p, nil
}

func scanReturn(row pgx.Row) (*domain.Return, error) {
	var r domain.Return
	if err := row.Scan(&r.ID, &r.SupplierName, &r.ReferenceNumber, &r.Items, &r.TotalQty, &r.CreatedAt, &r.CreatedBy); err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func scanAudit(row pgx.Row) (*domain.AuditLog, error) {
	var e domain.AuditLog
	if err := row.Scan(&e.ID, &e.EventType, &e.Category, &e.ActorUsername, &e.ActorRole,
		&e.EntityType, &e.EntityID, &e.Message, &e.Payload, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()
	items := make([]T, 0, 32)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// where accumulates positional predicates for the list queries.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

func (w *where) addRange(column string, from, to time.Time) {
	if !from.IsZero() {
		w.add(column+" >= $%d", from)
	}
	if !to.IsZero() {
		w.add(column+" < $%d", to)
	}
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func (w *where) limit(limit int) string {
	if limit <= 0 {
		return ""
	}
	w.args = append(w.args, limit)
	return fmt.Sprintf(" LIMIT $%d", len(w.args))
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE active = true ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanProduct)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	w := &where{}
	if productID != "" {
		w.add("product_id = $%d", productID)
	}
	query := `SELECT id, product_id, delta, balance_after, reason, ref_type, ref_id, note, created_at, created_by
		FROM stock_movements` + w.sql() + ` ORDER BY created_at DESC, id DESC` + w.limit(limit)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (*domain.StockMovement, error) {
		var (
			m      domain.StockMovement
			reason string
		)
		if err := row.Scan(&m.ID, &m.ProductID, &m.Delta, &m.BalanceAfter, &reason, &m.RefType, &m.RefID, &m.Note, &m.CreatedAt, &m.CreatedBy); err != nil {
			return nil, err
		}
		m.Reason = domain.MovementReason(reason)
		return &m, nil
	})
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return scanSale(s.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return scanSale(s.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE idempotency_key = $1`, key))
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	w := &where{}
	if filter.Status != "" {
		w.add("status = $%d", string(filter.Status))
	}
	if filter.Customer != "" {
		w.add("customer_name = $%d", filter.Customer)
	}
	w.addRange("created_at", filter.From, filter.To)
	query := `SELECT ` + saleColumns + ` FROM sales` + w.sql() + ` ORDER BY created_at DESC` + w.limit(filter.Limit)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSale)
}

func (s *Store) ListSalePayments(ctx context.Context, saleID string) ([]domain.Payment, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE sale_id = $1 AND scope = $2 ORDER BY created_at`, saleID, string(domain.PaymentScopeSale))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPayment)
}

func (s *Store) ListPayments(ctx context.Context, filter store.PaymentFilter) ([]domain.Payment, error) {
	w := &where{}
	w.add("scope = $%d", string(domain.PaymentScopeGlobal))
	if filter.Customer != "" {
		w.add("customer_name = $%d", filter.Customer)
	}
	w.addRange("paid_at", filter.From, filter.To)
	query := `SELECT ` + paymentColumns + ` FROM payments` + w.sql() + ` ORDER BY paid_at DESC, created_at DESC` + w.limit(filter.Limit)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPayment)
}

func (s *Store) GetPurchase(ctx context.Context, id string) (*domain.Purchase, error) {
	return scanPurchase(s.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
}

func (s *Store) ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error) {
	w := &where{}
	if status != "" {
		w.add("status = $%d", string(status))
	}
	query := `SELECT ` + purchaseColumns + ` FROM purchases` + w.sql() + ` ORDER BY created_at DESC` + w.limit(limit)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPurchase)
}

func (s *Store) GetReturn(ctx context.Context, id string) (*domain.Return, error) {
	return scanReturn(s.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM supplier_returns WHERE id = $1`, id))
}

func (s *Store) ListReturns(ctx context.Context, limit int) ([]domain.Return, error) {
	w := &where{}
	query := `SELECT ` + returnColumns + ` FROM supplier_returns ORDER BY created_at DESC` + w.limit(limit)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanReturn)
}

func (s *Store) ListAuditLogs(ctx context.Context, filter store.AuditFilter) ([]domain.AuditLog, error) {
	w := &where{}
	if filter.Category != "" {
		w.add("category = $%d", filter.Category)
	}
	w.addRange("created_at", filter.From, filter.To)
	query := `SELECT ` + auditColumns + ` FROM audit_logs` + w.sql() + ` ORDER BY created_at DESC` + w.limit(filter.Limit)
	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAudit)
}
