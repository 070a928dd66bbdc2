package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("KEDAIPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KEDAIPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestSaleRoundTripKeepsCents(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("IT-PRD-%d", stamp)
	saleID := fmt.Sprintf("IT-SALE-%d", stamp)
	idem := fmt.Sprintf("idem-it-%d", stamp)
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM payments WHERE sale_id = $1`, saleID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM stock_movements WHERE product_id = $1`, productID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertProduct(ctx, domain.Product{
			ID: productID, Name: "Kotak IT", UnitPriceCents: 105, BigBulkQty: 10, SmallBulkQty: 5,
			StockBalance: 20, Active: true, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.SetProductStock(ctx, productID, 15, now); err != nil {
			return err
		}
		if err := tx.InsertStockMovement(ctx, domain.StockMovement{
			ID: saleID + "-m", ProductID: productID, Delta: -5, BalanceAfter: 15,
			Reason: domain.ReasonSale, RefType: "sale", RefID: saleID, CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.InsertSale(ctx, domain.Sale{
			ID: saleID, IdempotencyKey: idem, CustomerName: "Ahmad",
			Items:         []domain.SaleItem{{ProductID: productID, ProductName: "Kotak IT", LooseQty: 5, UnitPriceCents: 105, RequiredUnits: 5, SubtotalCents: 525}},
			SubtotalCents: 525, TotalCents: 525, PaymentType: "cash+hutang",
			CashCents: 25, HutangCents: 500, PaidCents: 25, RemainingCents: 500,
			Status: domain.SaleStatusHutang, CreatedAt: now,
		})
	})
	require.NoError(t, err)

	sale, err := s.FindSaleByIdempotency(ctx, idem)
	require.NoError(t, err)
	assert.Equal(t, int64(525), sale.TotalCents)
	assert.Equal(t, int64(500), sale.RemainingCents)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, 5, sale.Items[0].RequiredUnits)

	product, err := s.GetProduct(ctx, productID)
	require.NoError(t, err)
	assert.Equal(t, 15, product.StockBalance)
	assert.Equal(t, int64(105), product.UnitPriceCents)

	err = s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSale(ctx, domain.Sale{ID: saleID + "-dup", IdempotencyKey: idem, CustomerName: "Ahmad", CreatedAt: now})
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestWithinTxRollsBack(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	productID := fmt.Sprintf("IT-RB-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertProduct(ctx, domain.Product{ID: productID, Name: "Rollback", Active: true, CreatedAt: time.Now(), UpdatedAt: time.Now()}); err != nil {
			return err
		}
		return store.Invalid("amount", "forced failure")
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = s.GetProduct(ctx, productID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
