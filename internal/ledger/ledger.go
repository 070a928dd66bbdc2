// Package ledger owns every change to a product's stock balance. Each applied
// delta is written together with a stock movement row inside the caller's
// unit of work.
package ledger

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/store"
	"kedaipos/backend/internal/xid"
)

// Movement is one requested stock delta. Enforce rejects a result below zero;
// only the sale path sets it, every other flow may drive a balance negative.
type Movement struct {
	ProductID string
	Delta     int
	Reason    domain.MovementReason
	RefType   string
	RefID     string
	Note      string
	Actor     string
	Enforce   bool
}

type Ledger struct {
	now func() time.Time
}

func New(now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{now: now}
}

// Apply locks the product, checks the policy and writes the new balance plus
// its movement record.
func (l *Ledger) Apply(ctx context.Context, tx store.Tx, m Movement) (domain.StockMovement, error) {
	if strings.TrimSpace(m.ProductID) == "" {
		return domain.StockMovement{}, store.Invalid("product_id", "is required")
	}
	if m.Delta == 0 {
		return domain.StockMovement{}, store.Invalid("delta", "must not be zero")
	}
	if m.Delta > math.MaxInt32 || m.Delta < math.MinInt32 {
		return domain.StockMovement{}, store.Invalid("delta", "is out of range")
	}

	product, err := tx.GetProductForUpdate(ctx, m.ProductID)
	if err != nil {
		return domain.StockMovement{}, fmt.Errorf("lock product %s: %w", m.ProductID, err)
	}

	balance := product.StockBalance + m.Delta
	if balance > math.MaxInt32 || balance < math.MinInt32 {
		return domain.StockMovement{}, store.Invalid("delta", fmt.Sprintf("%s balance would leave the stock range", product.Name))
	}
	if m.Enforce && balance < 0 {
		return domain.StockMovement{}, &store.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.StockBalance,
			Required:    -m.Delta,
		}
	}

	now := l.now()
	if err := tx.SetProductStock(ctx, product.ID, balance, now); err != nil {
		return domain.StockMovement{}, err
	}
	movement := domain.StockMovement{
		ID:           xid.New("mov"),
		ProductID:    product.ID,
		Delta:        m.Delta,
		BalanceAfter: balance,
		Reason:       m.Reason,
		RefType:      m.RefType,
		RefID:        m.RefID,
		Note:         m.Note,
		CreatedAt:    now,
		CreatedBy:    m.Actor,
	}
	if err := tx.InsertStockMovement(ctx, movement); err != nil {
		return domain.StockMovement{}, err
	}
	return movement, nil
}

// ApplyAll applies movements in ascending product order so concurrent units
// of work always lock rows in the same sequence.
func (l *Ledger) ApplyAll(ctx context.Context, tx store.Tx, movements []Movement) ([]domain.StockMovement, error) {
	ordered := slices.Clone(movements)
	slices.SortStableFunc(ordered, func(a, b Movement) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})

	applied := make([]domain.StockMovement, 0, len(ordered))
	for _, m := range ordered {
		movement, err := l.Apply(ctx, tx, m)
		if err != nil {
			return nil, err
		}
		applied = append(applied, movement)
	}
	return applied, nil
}

// Check locks the product and reports whether required units are on hand
// without changing the balance.
func (l *Ledger) Check(ctx context.Context, tx store.Tx, productID string, required int) (*domain.Product, error) {
	product, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("lock product %s: %w", productID, err)
	}
	if required > product.StockBalance {
		return product, &store.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.StockBalance,
			Required:    required,
		}
	}
	return product, nil
}
