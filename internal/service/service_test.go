package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/events"
	"kedaipos/backend/internal/metrics"
	"kedaipos/backend/internal/money"
	"kedaipos/backend/internal/store"
	"kedaipos/backend/internal/store/memory"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fakeReauth struct {
	password string
}

func (f fakeReauth) Reauthenticate(_ context.Context, _ string, password string) error {
	if password != f.password {
		return errors.New("bad password")
	}
	return nil
}

type recordingNotifier struct {
	saleIDs []string
}

func (r *recordingNotifier) SaleCommitted(_ context.Context, saleID string) error {
	r.saleIDs = append(r.saleIDs, saleID)
	return nil
}

type fixture struct {
	svc      *Service
	repo     *memory.Store
	broker   *events.Broker
	receipts *recordingNotifier
	ctx      context.Context
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()
	repo := memory.NewSeeded()
	broker := events.NewBroker()
	t.Cleanup(broker.Close)
	receipts := &recordingNotifier{}

	opts := Options{
		Publisher: broker,
		Receipts:  receipts,
		Reauth:    fakeReauth{password: "admin123"},
		Metrics:   metrics.New(),
		Logger:    zerolog.Nop(),
		Clock:     func() time.Time { return testNow },
	}
	for _, fn := range configure {
		fn(&opts)
	}
	svc := New(repo, opts)
	ctx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
	return &fixture{svc: svc, repo: repo, broker: broker, receipts: receipts, ctx: ctx}
}

// addProduct creates a loose-only product priced per unit.
func (f *fixture) addProduct(t *testing.T, id string, unitPrice int64, stock int) {
	t.Helper()
	_, err := f.svc.CreateProduct(f.ctx, domain.ProductCreateRequest{
		ID:             id,
		Name:           "Produk " + id,
		UnitPriceCents: unitPrice,
		InitialStock:   stock,
	})
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	product, err := f.repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return product.StockBalance
}

func loose(id string, qty int) domain.SaleItemInput {
	return domain.SaleItemInput{ProductID: id, LooseQty: qty}
}

func assertSaleInvariant(t *testing.T, sale domain.Sale) {
	t.Helper()
	assert.Equal(t, sale.SubtotalCents+sale.AdjustmentCents, sale.TotalCents, "total = subtotal + adjustment")
	assert.Equal(t, sale.TotalCents, sale.PaidCents+sale.RemainingCents, "paid + remaining = total")
	if sale.RemainingCents >= 1 {
		assert.Equal(t, domain.SaleStatusHutang, sale.Status)
	} else {
		assert.Equal(t, domain.SaleStatusPaid, sale.Status)
	}
}

func TestAhmadCreditSaleThenRepayment(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "KOTAK-A", 500, 10)

	resp, err := f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		IdempotencyKey: "idem-ahmad",
		CustomerName:   "Ahmad",
		Items:          []domain.SaleItemInput{loose("KOTAK-A", 4), loose("KOTAK-A", 6)},
		Payment: domain.SalePaymentInput{Split: []domain.PaymentSplit{
			{Method: domain.PaymentCash, AmountCents: 3000},
			{Method: domain.PaymentHutang},
		}},
	})
	require.NoError(t, err)
	sale := resp.Sale
	assert.False(t, resp.Duplicate)
	assert.Equal(t, int64(5000), sale.TotalCents)
	assert.Equal(t, int64(3000), sale.PaidCents)
	assert.Equal(t, int64(2000), sale.RemainingCents)
	assert.Equal(t, domain.SaleStatusHutang, sale.Status)
	assert.Equal(t, "cash+hutang", sale.PaymentType)
	assertSaleInvariant(t, sale)
	assert.Equal(t, 0, f.stock(t, "KOTAK-A"))
	assert.Equal(t, []string{sale.ID}, f.receipts.saleIDs)

	expected := int64(2000)
	payResp, err := f.svc.RecordPayment(f.ctx, domain.RecordPaymentRequest{
		SaleID:                 sale.ID,
		AmountCents:            2000,
		Method:                 domain.PaymentCash,
		IdempotencyKey:         "pay-ahmad-1",
		ExpectedRemainingCents: &expected,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPaid, payResp.Sale.Status)
	assert.Equal(t, int64(0), payResp.Sale.RemainingCents)
	assert.Equal(t, int64(5000), payResp.Sale.PaidCents)
	assertSaleInvariant(t, payResp.Sale)

	salePayments, err := f.svc.ListSalePayments(f.ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, salePayments, 1)
	assert.Equal(t, int64(2000), salePayments[0].AmountCents)
	assert.Equal(t, domain.PaymentScopeSale, salePayments[0].Scope)

	global, err := f.svc.ListPayments(f.ctx, store.PaymentFilter{Customer: "Ahmad"})
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, int64(2000), global[0].AmountCents)
	assert.Equal(t, domain.PaymentScopeGlobal, global[0].Scope)
	assert.Equal(t, salePayments[0].ID, global[0].SourcePaymentID)
}

func TestSingleHutangWithDeposit(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "KOTAK-A", 500, 10)

	resp, err := f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		CustomerName: "Ahmad",
		Items:        []domain.SaleItemInput{loose("KOTAK-A", 10)},
		Payment:      domain.SalePaymentInput{Method: domain.PaymentHutang, PaidCents: 3000},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), resp.Sale.CashCents)
	assert.Equal(t, int64(2000), resp.Sale.HutangCents)
	assert.Equal(t, int64(2000), resp.Sale.RemainingCents)
	assert.Equal(t, "cash+hutang", resp.Sale.PaymentType)
	assertSaleInvariant(t, resp.Sale)
}

func TestCreateSaleInsufficientStockWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.addProduct(t, "KOTAK-A", 500, 10)

	_, err := f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		IdempotencyKey: "idem-short",
		CustomerName:   "Ahmad",
		Items:          []domain.SaleItemInput{loose("KOTAK-A", 7), loose("KOTAK-A", 8)},
		Payment:        domain.SalePaymentInput{Method: domain.PaymentCash},
	})
	var stockErr *store.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 10, stockErr.Available)
	assert.Equal(t, 15, stockErr.Required)
	assert.Equal(t, 10, f.stock(t, "KOTAK-A"))

	sales, err := f.svc.ListSales(f.ctx, store.SaleFilter{})
	require.NoError(t, err)
	assert.Empty(t, sales)
	assert.Empty(t, f.receipts.saleIDs)
}

func TestCreateSaleStockConservation(t *testing.T) {
	f := newFixture(t)
	before := f.stock(t, "KEK-8")

	resp, err := f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		Items: []domain.SaleItemInput{
			{ProductID: "KEK-8", BoxQty: 1, PackQty: 2, LooseQty: 3},
		},
		Payment: domain.SalePaymentInput{Method: domain.PaymentCash, PaidCents: 10000},
	})
	require.NoError(t, err)

	item := resp.Sale.Items[0]
	assert.Equal(t, 50+20+3, item.RequiredUnits)
	assert.Equal(t, int64(6500+2*1400+3*150), item.SubtotalCents)
	assert.Equal(t, before-item.RequiredUnits, f.stock(t, "KEK-8"))
	assert.Equal(t, domain.WalkInCustomer, resp.Sale.CustomerName)
	assert.Equal(t, int64(10000-9750), resp.Sale.ChangeCents)
	assert.Equal(t, int64(9750), resp.Sale.CashCents)
	assertSaleInvariant(t, resp.Sale)

	movements, err := f.svc.ListStockMovements(f.ctx, "KEK-8", 10)
	require.NoError(t, err)
	require.NotEmpty(t, movements)
	assert.Equal(t, domain.ReasonSale, movements[0].Reason)
	assert.Equal(t, -73, movements[0].Delta)
	assert.Equal(t, resp.Sale.ID, movements[0].RefID)
}

func TestCreateSaleCentsExactWithOverridesAndRoundOff(t *testing.T) {
	f := newFixture(t)
	override := int64(33)

	resp, err := f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		Items: []domain.SaleItemInput{
			{ProductID: "PP-6X9", LooseQty: 3, UnitPriceCents: &override},
			{ProductID: "STRAW-B", LooseQty: 7},
		},
		Adjustment: domain.Adjustment{Type: domain.AdjustmentRoundOff, ValueCents: 1},
		Payment:    domain.SalePaymentInput{Method: domain.PaymentOnline},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99+14), resp.Sale.SubtotalCents)
	assert.Equal(t, int64(114), resp.Sale.TotalCents)
	assert.Equal(t, int64(114), resp.Sale.OnlineCents)
	assertSaleInvariant(t, resp.Sale)
}

func TestCreateSaleRejectsCreditForWalkIn(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		CustomerName: "walk in",
		Items:        []domain.SaleItemInput{loose("KEK-8", 10)},
		Payment:      domain.SalePaymentInput{Method: domain.PaymentHutang},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	assert.Equal(t, 200, f.stock(t, "KEK-8"))
}

func TestSettleRules(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		payment domain.SalePaymentInput
		want    settlement
		wantErr bool
	}{
		{name: "exact cash", total: 500, payment: domain.SalePaymentInput{Method: domain.PaymentCash}, want: settlement{label: "cash", cash: 500}},
		{name: "cash with change", total: 500, payment: domain.SalePaymentInput{Method: domain.PaymentCash, PaidCents: 2000}, want: settlement{label: "cash", cash: 500, change: 1500}},
		{name: "short cash", total: 500, payment: domain.SalePaymentInput{Method: domain.PaymentCash, PaidCents: 499}, wantErr: true},
		{name: "online above total", total: 500, payment: domain.SalePaymentInput{Method: domain.PaymentOnline, PaidCents: 600}, wantErr: true},
		{name: "full hutang", total: 500, payment: domain.SalePaymentInput{Method: domain.PaymentHutang}, want: settlement{label: "hutang", hutang: 500}},
		{name: "deposit covers total", total: 500, payment: domain.SalePaymentInput{Method: domain.PaymentHutang, PaidCents: 500}, wantErr: true},
		{
			name:  "split cash online with change",
			total: 1000,
			payment: domain.SalePaymentInput{Split: []domain.PaymentSplit{
				{Method: domain.PaymentOnline, AmountCents: 400},
				{Method: domain.PaymentCash, AmountCents: 1000},
			}},
			want: settlement{label: "cash+online", cash: 600, online: 400, change: 400},
		},
		{
			name:  "split leaves balance without hutang",
			total: 1000,
			payment: domain.SalePaymentInput{Split: []domain.PaymentSplit{
				{Method: domain.PaymentCash, AmountCents: 300},
			}},
			wantErr: true,
		},
		{
			name:  "split hutang must match remaining",
			total: 1000,
			payment: domain.SalePaymentInput{Split: []domain.PaymentSplit{
				{Method: domain.PaymentCash, AmountCents: 300},
				{Method: domain.PaymentHutang, AmountCents: 600},
			}},
			wantErr: true,
		},
		{
			name:  "split duplicate method",
			total: 1000,
			payment: domain.SalePaymentInput{Split: []domain.PaymentSplit{
				{Method: domain.PaymentCash, AmountCents: 300},
				{Method: domain.PaymentCash, AmountCents: 700},
			}},
			wantErr: true,
		},
		{
			name:  "split online hutang",
			total: 1000,
			payment: domain.SalePaymentInput{Split: []domain.PaymentSplit{
				{Method: domain.PaymentOnline, AmountCents: 250},
				{Method: domain.PaymentHutang, AmountCents: 750},
			}},
			want: settlement{label: "online+hutang", online: 250, hutang: 750},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := settle(tt.total, tt.payment)
			if tt.wantErr {
				require.ErrorIs(t, err, store.ErrInvalidTransaction)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.total, got.paid()+got.hutang)
		})
	}
}

func TestApplyAdjustment(t *testing.T) {
	adj, err := applyAdjustment(1000, domain.Adjustment{Type: domain.AdjustmentDiscount, ValueCents: 250})
	require.NoError(t, err)
	assert.Equal(t, int64(-250), adj)

	_, err = applyAdjustment(1000, domain.Adjustment{Type: domain.AdjustmentDiscount, ValueCents: 1001})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	adj, err = applyAdjustment(1003, domain.Adjustment{Type: domain.AdjustmentRoundOff, ValueCents: -3})
	require.NoError(t, err)
	assert.Equal(t, int64(-3), adj)

	_, err = applyAdjustment(5, domain.Adjustment{Type: domain.AdjustmentRoundOff, ValueCents: -6})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = applyAdjustment(5, domain.Adjustment{ValueCents: 1})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestCreateSaleReplayAfterUnknownOutcome(t *testing.T) {
	f := newFixture(t)
	req := domain.CreateSaleRequest{
		IdempotencyKey: "idem-flaky",
		Items:          []domain.SaleItemInput{loose("KEK-8", 5)},
		Payment:        domain.SalePaymentInput{Method: domain.PaymentCash},
	}

	f.repo.InjectFault(memory.FaultTimeoutAfterCommit)
	_, err := f.svc.CreateSale(f.ctx, req)
	require.Error(t, err)
	assert.True(t, store.OutcomeUnknown(err))

	lookup, err := f.svc.LookupSaleByIdempotency(f.ctx, "idem-flaky")
	require.NoError(t, err)
	require.True(t, lookup.Found)

	replay, err := f.svc.CreateSale(f.ctx, req)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, lookup.Sale.ID, replay.Sale.ID)
	assert.Equal(t, 195, f.stock(t, "KEK-8"))
}

func TestCreateSaleLostCommitCanBeRetried(t *testing.T) {
	f := newFixture(t)
	req := domain.CreateSaleRequest{
		IdempotencyKey: "idem-lost",
		Items:          []domain.SaleItemInput{loose("KEK-8", 5)},
		Payment:        domain.SalePaymentInput{Method: domain.PaymentCash},
	}

	f.repo.InjectFault(memory.FaultLoseCommit)
	_, err := f.svc.CreateSale(f.ctx, req)
	assert.True(t, store.OutcomeUnknown(err))

	lookup, err := f.svc.LookupSaleByIdempotency(f.ctx, "idem-lost")
	require.NoError(t, err)
	assert.False(t, lookup.Found)

	resp, err := f.svc.CreateSale(f.ctx, req)
	require.NoError(t, err)
	assert.False(t, resp.Duplicate)
	assert.Equal(t, 195, f.stock(t, "KEK-8"))
}

func TestCreateSaleOfflineFailsFast(t *testing.T) {
	f := newFixture(t)
	f.repo.SetOffline(true)

	_, err := f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		Items:   []domain.SaleItemInput{loose("KEK-8", 1)},
		Payment: domain.SalePaymentInput{Method: domain.PaymentCash},
	})
	require.ErrorIs(t, err, store.ErrConnectivity)
	assert.False(t, store.OutcomeUnknown(err))
}

func newCreditSale(t *testing.T, f *fixture, customer string, units int) domain.Sale {
	t.Helper()
	resp, err := f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		CustomerName: customer,
		Items:        []domain.SaleItemInput{loose("KEK-8", units)},
		Payment:      domain.SalePaymentInput{Method: domain.PaymentHutang},
	})
	require.NoError(t, err)
	return resp.Sale
}

func TestRecordPaymentMonotonicAndRejectsOverpayment(t *testing.T) {
	f := newFixture(t)
	sale := newCreditSale(t, f, "Siti", 10)
	require.Equal(t, int64(1500), sale.RemainingCents)

	previous := sale
	for i, amount := range []int64{333, 667, 250} {
		resp, err := f.svc.RecordPayment(f.ctx, domain.RecordPaymentRequest{
			SaleID:      sale.ID,
			AmountCents: amount,
			Method:      domain.PaymentOnline,
		})
		require.NoError(t, err, "payment %d", i)
		assert.Greater(t, resp.Sale.PaidCents, previous.PaidCents)
		assert.Less(t, resp.Sale.RemainingCents, previous.RemainingCents)
		assertSaleInvariant(t, resp.Sale)
		previous = resp.Sale
	}
	assert.Equal(t, int64(250), previous.RemainingCents)

	_, err := f.svc.RecordPayment(f.ctx, domain.RecordPaymentRequest{SaleID: sale.ID, AmountCents: 251, Method: domain.PaymentCash})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = f.svc.RecordPayment(f.ctx, domain.RecordPaymentRequest{SaleID: sale.ID, AmountCents: 0, Method: domain.PaymentCash})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = f.svc.RecordPayment(f.ctx, domain.RecordPaymentRequest{SaleID: sale.ID, AmountCents: 10, Method: domain.PaymentHutang})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	future := testNow.Add(time.Hour)
	_, err = f.svc.RecordPayment(f.ctx, domain.RecordPaymentRequest{SaleID: sale.ID, AmountCents: 10, Method: domain.PaymentCash, PaidAt: &future})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestRecordPaymentStaleBalanceConflicts(t *testing.T) {
	f := newFixture(t)
	sale := newCreditSale(t, f, "Siti", 10)

	stale := int64(1400)
	_, err := f.svc.RecordPayment(f.ctx, domain.RecordPaymentRequest{
		SaleID:                 sale.ID,
		AmountCents:            100,
		Method:                 domain.PaymentCash,
		ExpectedRemainingCents: &stale,
	})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestRecordPaymentReplayAfterTimeout(t *testing.T) {
	f := newFixture(t)
	sale := newCreditSale(t, f, "Siti", 10)
	req := domain.RecordPaymentRequest{SaleID: sale.ID, AmountCents: 500, Method: domain.PaymentCash, IdempotencyKey: "pay-flaky"}

	f.repo.InjectFault(memory.FaultTimeoutAfterCommit)
	_, err := f.svc.RecordPayment(f.ctx, req)
	require.True(t, store.OutcomeUnknown(err))

	replay, err := f.svc.RecordPayment(f.ctx, req)
	require.NoError(t, err)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, int64(1000), replay.Sale.RemainingCents)

	payments, err := f.svc.ListSalePayments(f.ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestDeleteSaleRestoresStockAndKeepsGlobalPayments(t *testing.T) {
	f := newFixture(t)
	sale := newCreditSale(t, f, "Siti", 10)
	_, err := f.svc.RecordPayment(f.ctx, domain.RecordPaymentRequest{SaleID: sale.ID, AmountCents: 500, Method: domain.PaymentCash})
	require.NoError(t, err)
	require.Equal(t, 190, f.stock(t, "KEK-8"))

	err = f.svc.DeleteSale(f.ctx, sale.ID, "wrong")
	require.ErrorIs(t, err, ErrReauthFailed)

	require.NoError(t, f.svc.DeleteSale(f.ctx, sale.ID, "admin123"))
	assert.Equal(t, 200, f.stock(t, "KEK-8"))

	_, err = f.svc.GetSale(f.ctx, sale.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	global, err := f.svc.ListPayments(f.ctx, store.PaymentFilter{})
	require.NoError(t, err)
	assert.Len(t, global, 1)

	logs, err := f.svc.ListAuditLogs(f.ctx, store.AuditFilter{Category: CategorySales})
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "sale_deleted", logs[0].EventType)
}

func TestPartialReceiptThenReceivedAddsRemainder(t *testing.T) {
	f := newFixture(t)
	before := f.stock(t, "PITA-2")

	created, err := f.svc.CreatePurchase(f.ctx, domain.PurchaseRequest{
		SupplierName: "Syarikat Pita",
		Items: []domain.PurchaseItemInput{
			{ProductID: "PITA-2", OrderedQty: 10, CostCents: 333, DiscountCents: 30},
		},
		OverallDiscountCents: 100,
		TransportationCents:  250,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3330-30), created.Purchase.SubtotalCents)
	assert.Equal(t, int64(3300-100+250), created.Purchase.TotalCents)
	assert.Equal(t, domain.PurchaseOrdered, created.Purchase.Status)

	partial, err := f.svc.UpdatePurchaseStatus(f.ctx, created.Purchase.ID, domain.PurchaseStatusRequest{
		Status: domain.PurchaseReceivedPartial,
		Items:  []domain.ReceivedQty{{ProductID: "PITA-2", ReceivedQty: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, before+3, f.stock(t, "PITA-2"))
	assert.Equal(t, 3, partial.Purchase.Items[0].StockedQty)

	_, err = f.svc.UpdatePurchaseStatus(f.ctx, created.Purchase.ID, domain.PurchaseStatusRequest{Status: domain.PurchaseReceivedPartial})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	received, err := f.svc.UpdatePurchaseStatus(f.ctx, created.Purchase.ID, domain.PurchaseStatusRequest{Status: domain.PurchaseReceived})
	require.NoError(t, err)
	assert.Equal(t, before+10, f.stock(t, "PITA-2"))
	assert.Equal(t, 10, received.Purchase.Items[0].ReceivedQty)

	_, err = f.svc.UpdatePurchaseStatus(f.ctx, created.Purchase.ID, domain.PurchaseStatusRequest{Status: domain.PurchaseCancelled})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	assert.Equal(t, before+10, f.stock(t, "PITA-2"))
}

func TestPartialReceiptRejectsOverReceipt(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.CreatePurchase(f.ctx, domain.PurchaseRequest{
		SupplierName: "Syarikat Pita",
		Items:        []domain.PurchaseItemInput{{ProductID: "PITA-2", OrderedQty: 10, CostCents: 100}},
	})
	require.NoError(t, err)

	_, err = f.svc.UpdatePurchaseStatus(f.ctx, created.Purchase.ID, domain.PurchaseStatusRequest{
		Status: domain.PurchaseReceivedPartial,
		Items:  []domain.ReceivedQty{{ProductID: "PITA-2", ReceivedQty: 11}},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	assert.Equal(t, 72, f.stock(t, "PITA-2"))
}

func TestDeleteReceivedPurchaseReversesStock(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.CreatePurchase(f.ctx, domain.PurchaseRequest{
		SupplierName: "Syarikat Kotak",
		Items:        []domain.PurchaseItemInput{{ProductID: "KEK-8", OrderedQty: 50, CostCents: 90}},
	})
	require.NoError(t, err)
	_, err = f.svc.UpdatePurchaseStatus(f.ctx, created.Purchase.ID, domain.PurchaseStatusRequest{
		Status: domain.PurchaseReceivedPartial,
		Items:  []domain.ReceivedQty{{ProductID: "KEK-8", ReceivedQty: 20}},
	})
	require.NoError(t, err)
	require.Equal(t, 220, f.stock(t, "KEK-8"))

	require.NoError(t, f.svc.DeletePurchase(f.ctx, created.Purchase.ID, "admin123"))
	assert.Equal(t, 200, f.stock(t, "KEK-8"))

	_, err = f.svc.GetPurchase(f.ctx, created.Purchase.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	logs, err := f.svc.ListAuditLogs(f.ctx, store.AuditFilter{Category: CategoryPurchasing})
	require.NoError(t, err)
	var eventTypes []string
	for _, entry := range logs {
		eventTypes = append(eventTypes, entry.EventType)
	}
	assert.Contains(t, eventTypes, "purchase_cancelled")
	assert.Contains(t, eventTypes, "purchase_deleted")
}

func TestUpdatePurchaseOnlyBeforeReceipt(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.CreatePurchase(f.ctx, domain.PurchaseRequest{
		SupplierName: "Syarikat Kotak",
		Items:        []domain.PurchaseItemInput{{ProductID: "KEK-8", OrderedQty: 50, CostCents: 90}},
	})
	require.NoError(t, err)

	updated, err := f.svc.UpdatePurchase(f.ctx, created.Purchase.ID, domain.PurchaseRequest{
		SupplierName: "Syarikat Kotak",
		Items:        []domain.PurchaseItemInput{{ProductID: "KEK-8", OrderedQty: 60, CostCents: 90}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5400), updated.Purchase.TotalCents)

	_, err = f.svc.UpdatePurchaseStatus(f.ctx, created.Purchase.ID, domain.PurchaseStatusRequest{Status: domain.PurchaseReceived})
	require.NoError(t, err)
	assert.Equal(t, 260, f.stock(t, "KEK-8"))

	_, err = f.svc.UpdatePurchase(f.ctx, created.Purchase.ID, domain.PurchaseRequest{
		SupplierName: "Syarikat Kotak",
		Items:        []domain.PurchaseItemInput{{ProductID: "KEK-8", OrderedQty: 1, CostCents: 90}},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestReturnDeletionRestoresStock(t *testing.T) {
	f := newFixture(t)
	before := f.stock(t, "CWN-16")

	created, err := f.svc.CreateReturn(f.ctx, domain.ReturnRequest{
		SupplierName: "Kilang Cawan",
		Items:        []domain.ReturnItem{{ProductID: "CWN-16", Qty: 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, before-5, f.stock(t, "CWN-16"))
	assert.Equal(t, 5, created.Return.TotalQty)

	require.NoError(t, f.svc.DeleteReturn(f.ctx, created.Return.ID, "admin123"))
	assert.Equal(t, before, f.stock(t, "CWN-16"))

	returns, err := f.svc.ListReturns(f.ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, returns)
}

func TestReturnMayDriveStockNegative(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateReturn(f.ctx, domain.ReturnRequest{
		SupplierName: "Kilang Pita",
		Items:        []domain.ReturnItem{{ProductID: "PITA-2", Qty: 80}},
	})
	require.NoError(t, err)
	assert.Equal(t, -8, f.stock(t, "PITA-2"))
}

func TestAdjustStockAuditCount(t *testing.T) {
	f := newFixture(t)
	counted := 180

	resp, err := f.svc.AdjustStock(f.ctx, domain.StockAdjustmentRequest{
		ProductID:  "KEK-8",
		Reason:     domain.ReasonStockAudit,
		CountedQty: &counted,
		Note:       "monthly count",
	})
	require.NoError(t, err)
	assert.Equal(t, -20, resp.Movement.Delta)
	assert.Equal(t, 180, resp.Product.StockBalance)

	_, err = f.svc.AdjustStock(f.ctx, domain.StockAdjustmentRequest{ProductID: "KEK-8", Reason: domain.ReasonStockAudit, CountedQty: &counted})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = f.svc.AdjustStock(f.ctx, domain.StockAdjustmentRequest{ProductID: "KEK-8", Reason: domain.ReasonSale, Delta: -1})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)

	cashier := WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})
	_, err = f.svc.AdjustStock(cashier, domain.StockAdjustmentRequest{ProductID: "KEK-8", Reason: domain.ReasonShopUse, Delta: -1})
	require.ErrorIs(t, err, ErrAdminRequired)
}

func TestLowStock(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateReturn(f.ctx, domain.ReturnRequest{
		SupplierName: "Kilang Pita",
		Items:        []domain.ReturnItem{{ProductID: "PITA-2", Qty: 60}},
	})
	require.NoError(t, err)

	low, err := f.svc.LowStock(f.ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "PITA-2", low[0].ID)
}

func TestCreditAgingBuckets(t *testing.T) {
	f := newFixture(t)
	newCreditSale(t, f, "Ahmad", 10)
	newCreditSale(t, f, "Siti", 20)
	newCreditSale(t, f, "Ahmad", 2)

	report, err := f.svc.CreditAging(f.ctx, testNow.AddDate(0, 0, 45))
	require.NoError(t, err)
	assert.Equal(t, int64(1500+3000+300), report.RemainingCents)
	require.Len(t, report.Customers, 2)
	assert.Equal(t, "Siti", report.Customers[0].CustomerName)
	assert.Equal(t, "Ahmad", report.Customers[1].CustomerName)
	assert.Equal(t, 2, report.Customers[1].Sales)
	require.Len(t, report.Customers[1].Buckets, 4)
	assert.Equal(t, "31-60", report.Customers[1].Buckets[1].Label)
	assert.Equal(t, int64(1800), report.Customers[1].Buckets[1].RemainingCents)
	assert.Zero(t, report.Customers[1].Buckets[0].RemainingCents)
}

func TestCommittedSalePublishesChanges(t *testing.T) {
	f := newFixture(t)
	sub := f.broker.Subscribe(events.Filter{Collections: []string{events.CollectionSales}}, 4)
	defer sub.Close()

	resp, err := f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		Items:   []domain.SaleItemInput{loose("KEK-8", 1)},
		Payment: domain.SalePaymentInput{Method: domain.PaymentCash},
	})
	require.NoError(t, err)

	select {
	case got := <-sub.C:
		assert.Equal(t, resp.Sale.ID, got.EntityID)
		assert.Equal(t, events.OpCreated, got.Op)
	case <-time.After(time.Second):
		t.Fatal("expected a sales change")
	}
}

func TestAuditLogsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	cashier := WithActor(context.Background(), domain.Actor{Username: "cashier", Role: domain.RoleCashier})

	_, err := f.svc.ListAuditLogs(cashier, store.AuditFilter{})
	require.ErrorIs(t, err, ErrAdminRequired)
}

func TestExecuteMapsDeadlineToUnknownOutcome(t *testing.T) {
	f := newFixture(t)
	f.svc.timeout = time.Millisecond

	err := f.svc.execute(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, store.ErrConnectivity)
	assert.True(t, store.OutcomeUnknown(err))
}

func TestCreateSaleRejectsQuantitiesThatWouldOverflow(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateProduct(f.ctx, domain.ProductCreateRequest{
		ID:             "BOX-4",
		Name:           "Kotak Empat",
		UnitPriceCents: 1,
		BoxPriceCents:  3,
		BigBulkQty:     4,
		InitialStock:   10,
	})
	require.NoError(t, err)
	before, err := f.svc.ListSales(f.ctx, store.SaleFilter{})
	require.NoError(t, err)

	_, err = f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		Items:   []domain.SaleItemInput{{ProductID: "BOX-4", BoxQty: 1<<62 + 1}},
		Payment: domain.SalePaymentInput{Method: domain.PaymentCash},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	assert.Equal(t, 10, f.stock(t, "BOX-4"))

	huge := money.MaxCents
	_, err = f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		Items:   []domain.SaleItemInput{{ProductID: "KEK-8", LooseQty: 3, UnitPriceCents: &huge}},
		Payment: domain.SalePaymentInput{Method: domain.PaymentCash},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction, "line total beyond the money range")

	_, err = f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		Items:      []domain.SaleItemInput{loose("KEK-8", 1)},
		Adjustment: domain.Adjustment{Type: domain.AdjustmentRoundOff, ValueCents: money.MaxCents},
		Payment:    domain.SalePaymentInput{Method: domain.PaymentCash},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction, "round off beyond the money range")

	_, err = f.svc.CreateSale(f.ctx, domain.CreateSaleRequest{
		Items:   []domain.SaleItemInput{loose("KEK-8", 1)},
		Payment: domain.SalePaymentInput{Method: domain.PaymentCash, PaidCents: 1 << 62},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction, "tender beyond the money range")

	after, err := f.svc.ListSales(f.ctx, store.SaleFilter{})
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.Equal(t, 200, f.stock(t, "KEK-8"))
}

func TestCreatePurchaseRejectsTotalsBeyondMoneyRange(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreatePurchase(f.ctx, domain.PurchaseRequest{
		SupplierName: "Syarikat Pita",
		Items:        []domain.PurchaseItemInput{{ProductID: "PITA-2", OrderedQty: 1000, CostCents: money.MaxCents}},
	})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestRecordPaymentConcurrentRepaymentsNeverLoseUpdates(t *testing.T) {
	f := newFixture(t)
	sale := newCreditSale(t, f, "Siti", 10)
	require.Equal(t, int64(1500), sale.RemainingCents)

	const workers = 8
	const amount = int64(400)
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		accepted   int64
		acceptedN  int
		rejectedN  int
		unexpected []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.RecordPayment(f.ctx, domain.RecordPaymentRequest{SaleID: sale.ID, AmountCents: amount, Method: domain.PaymentCash})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted += amount
				acceptedN++
			case errors.Is(err, store.ErrInvalidTransaction):
				rejectedN++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, unexpected)
	assert.Equal(t, 3, acceptedN)
	assert.Equal(t, workers-3, rejectedN)

	current, err := f.svc.GetSale(f.ctx, sale.ID)
	require.NoError(t, err)
	assertSaleInvariant(t, current)
	assert.Equal(t, accepted, current.TotalCents-current.RemainingCents)
	assert.Equal(t, int64(300), current.RemainingCents)

	scoped, err := f.svc.ListSalePayments(f.ctx, sale.ID)
	require.NoError(t, err)
	global, err := f.svc.ListPayments(f.ctx, store.PaymentFilter{Customer: "Siti"})
	require.NoError(t, err)
	assert.Len(t, scoped, acceptedN)
	assert.Len(t, global, acceptedN)
}

func TestCancelPartialReceiptReversesStockedUnits(t *testing.T) {
	f := newFixture(t)
	before := f.stock(t, "PITA-2")
	created, err := f.svc.CreatePurchase(f.ctx, domain.PurchaseRequest{
		SupplierName: "Syarikat Pita",
		Items:        []domain.PurchaseItemInput{{ProductID: "PITA-2", OrderedQty: 10, CostCents: 100}},
	})
	require.NoError(t, err)

	_, err = f.svc.UpdatePurchaseStatus(f.ctx, created.Purchase.ID, domain.PurchaseStatusRequest{
		Status: domain.PurchaseReceivedPartial,
		Items:  []domain.ReceivedQty{{ProductID: "PITA-2", ReceivedQty: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, before+3, f.stock(t, "PITA-2"))

	resp, err := f.svc.UpdatePurchaseStatus(f.ctx, created.Purchase.ID, domain.PurchaseStatusRequest{Status: domain.PurchaseCancelled})
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseCancelled, resp.Purchase.Status)
	assert.Equal(t, before, f.stock(t, "PITA-2"))

	_, err = f.svc.UpdatePurchaseStatus(f.ctx, created.Purchase.ID, domain.PurchaseStatusRequest{Status: domain.PurchaseReceived})
	require.ErrorIs(t, err, store.ErrInvalidTransaction)
	assert.Equal(t, before, f.stock(t, "PITA-2"))

	require.NoError(t, f.svc.DeletePurchase(f.ctx, created.Purchase.ID, "admin123"))
	assert.Equal(t, before, f.stock(t, "PITA-2"))
}

func TestCreateReturnKeepsEnteredLineOrder(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.CreateReturn(f.ctx, domain.ReturnRequest{
		SupplierName: "Kilang Campur",
		Items: []domain.ReturnItem{
			{ProductID: "PITA-2", Qty: 2},
			{ProductID: "CWN-16", Qty: 5},
			{ProductID: "KEK-8", Qty: 1},
		},
	})
	require.NoError(t, err)

	stored, err := f.svc.GetReturn(f.ctx, created.Return.ID)
	require.NoError(t, err)
	for _, ret := range []domain.Return{created.Return, stored.Return} {
		require.Len(t, ret.Items, 3)
		assert.Equal(t, "PITA-2", ret.Items[0].ProductID)
		assert.Equal(t, "CWN-16", ret.Items[1].ProductID)
		assert.Equal(t, "KEK-8", ret.Items[2].ProductID)
	}
	assert.Equal(t, 8, created.Return.TotalQty)
}

// hookedCreditCache is an in-memory CreditCache whose next Set can run a hook
// before the report is stored.
type hookedCreditCache struct {
	mu      sync.Mutex
	gen     int64
	reports map[string]domain.CreditAgingReport
	sets    int
	onSet   func(ctx context.Context)
}

func (c *hookedCreditCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

func (c *hookedCreditCache) Get(_ context.Context, key string) (*domain.CreditAgingReport, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	report, ok := c.reports[key]
	if !ok {
		return nil, false, nil
	}
	return &report, true, nil
}

func (c *hookedCreditCache) Set(ctx context.Context, key string, value *domain.CreditAgingReport, _ time.Duration) error {
	c.mu.Lock()
	hook := c.onSet
	c.onSet = nil
	c.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reports == nil {
		c.reports = map[string]domain.CreditAgingReport{}
	}
	c.reports[key] = *value
	c.sets++
	return nil
}

func (c *hookedCreditCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	return nil
}

func (c *hookedCreditCache) hookNextSet(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSet = fn
}

func (c *hookedCreditCache) setCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets
}

func TestCreditAgingIgnoresFillThatRacedACommit(t *testing.T) {
	cc := &hookedCreditCache{}
	f := newFixture(t, func(o *Options) { o.CreditCache = cc })
	sale := newCreditSale(t, f, "Ahmad", 10)
	asOf := testNow.AddDate(0, 0, 1)

	// The payment commits after the fill read its sales but before it stores.
	cc.hookNextSet(func(context.Context) {
		_, err := f.svc.RecordPayment(f.ctx, domain.RecordPaymentRequest{SaleID: sale.ID, AmountCents: 500, Method: domain.PaymentCash})
		assert.NoError(t, err)
	})
	first, err := f.svc.CreditAging(f.ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), first.RemainingCents)

	second, err := f.svc.CreditAging(f.ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), second.RemainingCents)
}

func TestCreditAgingFillOutlivesCancelledCaller(t *testing.T) {
	cc := &hookedCreditCache{}
	f := newFixture(t, func(o *Options) { o.CreditCache = cc })
	newCreditSale(t, f, "Ahmad", 10)

	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	fillErr := make(chan error, 1)
	cc.hookNextSet(func(setCtx context.Context) {
		cancel()
		fillErr <- setCtx.Err()
	})
	_, _ = f.svc.CreditAging(ctx, testNow)
	require.NoError(t, <-fillErr)

	report, err := f.svc.CreditAging(f.ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), report.RemainingCents)
	assert.Equal(t, 1, cc.setCount())
}
