package store

import (
	"context"
	"time"

	"kedaipos/backend/internal/domain"
)

// Repository is the authoritative backing store shared by every terminal.
type Repository interface {
	Reader
	UnitOfWork
	UserStore
	Ping(ctx context.Context) error
}

// UnitOfWork runs fn inside one transaction. Every write made through tx is
// committed together when fn returns nil and discarded otherwise.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Reader interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)
	ListSalePayments(ctx context.Context, saleID string) ([]domain.Payment, error)
	ListPayments(ctx context.Context, filter PaymentFilter) ([]domain.Payment, error)
	GetPurchase(ctx context.Context, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) ([]domain.Purchase, error)
	GetReturn(ctx context.Context, id string) (*domain.Return, error)
	ListReturns(ctx context.Context, limit int) ([]domain.Return, error)
	ListAuditLogs(ctx context.Context, filter AuditFilter) ([]domain.AuditLog, error)
}

// Tx exposes the reads and writes allowed inside a unit of work. The
// ForUpdate reads lock the row until the transaction ends.
type Tx interface {
	InsertProduct(ctx context.Context, product domain.Product) error
	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	SetProductStock(ctx context.Context, id string, balance int, at time.Time) error
	InsertStockMovement(ctx context.Context, movement domain.StockMovement) error

	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
	GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSaleBalance(ctx context.Context, id string, paidCents int64, remainingCents int64, status domain.SaleStatus) error
	// DeleteSale removes the sale and its sale-scoped payments.
	DeleteSale(ctx context.Context, id string) error

	FindPaymentByIdempotency(ctx context.Context, key string) (*domain.Payment, error)
	InsertPayment(ctx context.Context, payment domain.Payment) error

	InsertPurchase(ctx context.Context, purchase domain.Purchase) error
	GetPurchaseForUpdate(ctx context.Context, id string) (*domain.Purchase, error)
	UpdatePurchase(ctx context.Context, purchase domain.Purchase) error
	DeletePurchase(ctx context.Context, id string) error

	InsertReturn(ctx context.Context, ret domain.Return) error
	GetReturnForUpdate(ctx context.Context, id string) (*domain.Return, error)
	DeleteReturn(ctx context.Context, id string) error

	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type SaleFilter struct {
	Status   domain.SaleStatus
	Customer string
	From     time.Time
	To       time.Time
	Limit    int
}

// Match applies the filter to a sale; zero fields match everything.
func (f SaleFilter) Match(sale domain.Sale) bool {
	if f.Status != "" && sale.Status != f.Status {
		return false
	}
	if f.Customer != "" && sale.CustomerName != f.Customer {
		return false
	}
	if !f.From.IsZero() && sale.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !sale.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

type PaymentFilter struct {
	Customer string
	From     time.Time
	To       time.Time
	Limit    int
}

func (f PaymentFilter) Match(payment domain.Payment) bool {
	if f.Customer != "" && payment.CustomerName != f.Customer {
		return false
	}
	if !f.From.IsZero() && payment.PaidAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !payment.PaidAt.Before(f.To) {
		return false
	}
	return true
}

type AuditFilter struct {
	Category string
	From     time.Time
	To       time.Time
	Limit    int
}

func (f AuditFilter) Match(entry domain.AuditLog) bool {
	if f.Category != "" && entry.Category != f.Category {
		return false
	}
	if !f.From.IsZero() && entry.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !entry.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
