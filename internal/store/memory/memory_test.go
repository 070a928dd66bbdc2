package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/store"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.SetProductStock(ctx, "KEK-8", 1, time.Now()))
		require.NoError(t, tx.InsertAuditLog(ctx, domain.AuditLog{ID: "a1", EventType: "test"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	product, err := repo.GetProduct(ctx, "KEK-8")
	require.NoError(t, err)
	assert.Equal(t, 200, product.StockBalance)

	logs, err := repo.ListAuditLogs(ctx, store.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestWithinTxCommitsAllWrites(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	err := repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetProductStock(ctx, "KEK-8", 190, now); err != nil {
			return err
		}
		return tx.InsertSale(ctx, domain.Sale{ID: "s1", IdempotencyKey: "k1", CustomerName: "Ahmad", CreatedAt: now})
	})
	require.NoError(t, err)

	product, err := repo.GetProduct(ctx, "KEK-8")
	require.NoError(t, err)
	assert.Equal(t, 190, product.StockBalance)

	sale, err := repo.FindSaleByIdempotency(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sale.ID)
}

func TestInjectedFaults(t *testing.T) {
	ctx := context.Background()
	write := func(repo *Store) error {
		return repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.SetProductStock(ctx, "KEK-8", 150, time.Now())
		})
	}

	lost := NewSeeded()
	lost.InjectFault(FaultLoseCommit)
	err := write(lost)
	require.ErrorIs(t, err, store.ErrConnectivity)
	assert.True(t, store.OutcomeUnknown(err))
	product, _ := lost.GetProduct(ctx, "KEK-8")
	assert.Equal(t, 200, product.StockBalance)

	applied := NewSeeded()
	applied.InjectFault(FaultTimeoutAfterCommit)
	err = write(applied)
	assert.True(t, store.OutcomeUnknown(err))
	product, _ = applied.GetProduct(ctx, "KEK-8")
	assert.Equal(t, 150, product.StockBalance)

	// faults are one-shot
	require.NoError(t, write(applied))
}

func TestOfflineFailsBeforeBegin(t *testing.T) {
	repo := NewSeeded()
	repo.SetOffline(true)

	err := repo.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		t.Fatal("unit of work must not run while offline")
		return nil
	})
	require.ErrorIs(t, err, store.ErrConnectivity)
	assert.False(t, store.OutcomeUnknown(err))
	assert.Error(t, repo.Ping(context.Background()))

	repo.SetOffline(false)
	assert.NoError(t, repo.Ping(context.Background()))
}

func TestDeleteSaleKeepsGlobalPayments(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertSale(ctx, domain.Sale{ID: "s1", CustomerName: "Ahmad", CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, domain.Payment{ID: "p1", SaleID: "s1", Scope: domain.PaymentScopeSale, IdempotencyKey: "pk1", AmountCents: 500}); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, domain.Payment{ID: "g1", SaleID: "s1", Scope: domain.PaymentScopeGlobal, AmountCents: 500, PaidAt: now})
	}))

	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DeleteSale(ctx, "s1")
	}))

	_, err := repo.GetSale(ctx, "s1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	salePayments, err := repo.ListSalePayments(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, salePayments)
	global, err := repo.ListPayments(ctx, store.PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, "g1", global[0].ID)
}

func TestDuplicateIdempotencyKeyIsConflict(t *testing.T) {
	repo := New()
	ctx := context.Background()

	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSale(ctx, domain.Sale{ID: "s1", IdempotencyKey: "k1"})
	}))
	err := repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertSale(ctx, domain.Sale{ID: "s2", IdempotencyKey: "k1"})
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestListSalesFiltersAndOrders(t *testing.T) {
	repo := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for i, status := range []domain.SaleStatus{domain.SaleStatusPaid, domain.SaleStatusHutang, domain.SaleStatusHutang} {
			sale := domain.Sale{ID: string(rune('a' + i)), Status: status, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
			if err := tx.InsertSale(ctx, sale); err != nil {
				return err
			}
		}
		return nil
	}))

	sales, err := repo.ListSales(ctx, store.SaleFilter{Status: domain.SaleStatusHutang})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, "c", sales[0].ID)

	sales, err = repo.ListSales(ctx, store.SaleFilter{From: base, To: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, "a", sales[0].ID)
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	repo := NewSeeded()
	ctx := context.Background()

	require.NoError(t, repo.CreateUser(ctx, domain.UserAccount{Username: " Siti ", Password: "hash"}))
	err := repo.CreateUser(ctx, domain.UserAccount{Username: "siti", Password: "hash"})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	assert.Equal(t, []string{"admin", "cashier", "siti"}, names)
}
