package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/events"
	"kedaipos/backend/internal/money"
	"kedaipos/backend/internal/store"
	"kedaipos/backend/internal/xid"
)

// RecordPayment applies a hutang repayment against one sale. The balance
// update, the sale-scoped payment and its global copy commit together.
func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (domain.PaymentResponse, error) {
	req.SaleID = strings.TrimSpace(req.SaleID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	actor := actorOrSystem(ctx)
	now := s.now()

	paidAt := now
	if req.PaidAt != nil && !req.PaidAt.IsZero() {
		paidAt = req.PaidAt.UTC()
	}

	var resp domain.PaymentResponse
	err := s.execute(ctx, "record_payment", func(ctx context.Context) error {
		switch {
		case req.SaleID == "":
			return store.Invalid("sale_id", "is required")
		case req.AmountCents <= 0:
			return store.Invalid("amount", "must be greater than zero")
		case req.Method != domain.PaymentCash && req.Method != domain.PaymentOnline:
			return store.Invalid("method", "must be cash or online")
		case paidAt.After(now):
			return store.Invalid("paid_at", "must not be in the future")
		}

		return s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			resp = domain.PaymentResponse{}
			if req.IdempotencyKey != "" {
				existing, err := tx.FindPaymentByIdempotency(ctx, req.IdempotencyKey)
				if err == nil {
					if existing.SaleID != req.SaleID {
						return store.Invalid("idempotency_key", "already used for another sale")
					}
					sale, err := tx.GetSaleForUpdate(ctx, req.SaleID)
					if err != nil {
						return err
					}
					resp = domain.PaymentResponse{Sale: *sale, Payment: *existing, Duplicate: true}
					return nil
				}
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}

			sale, err := tx.GetSaleForUpdate(ctx, req.SaleID)
			if err != nil {
				return err
			}
			if req.ExpectedRemainingCents != nil && *req.ExpectedRemainingCents != sale.RemainingCents {
				return &store.ConflictError{
					Entity: "sale",
					ID:     sale.ID,
					Reason: fmt.Sprintf("remaining balance changed to %s, refresh and try again", money.Format(sale.RemainingCents)),
				}
			}
			if money.IsSettled(sale.RemainingCents) {
				return store.Invalid("amount", "sale is already paid")
			}
			if req.AmountCents > sale.RemainingCents {
				return store.Invalid("amount", fmt.Sprintf("exceeds the remaining %s", money.Format(sale.RemainingCents)))
			}

			remaining := money.Max(0, sale.RemainingCents-req.AmountCents)
			paid := sale.PaidCents + req.AmountCents
			status := domain.SaleStatusHutang
			if money.IsSettled(remaining) {
				status = domain.SaleStatusPaid
			}
			if err := tx.UpdateSaleBalance(ctx, sale.ID, paid, remaining, status); err != nil {
				return err
			}

			payment := domain.Payment{
				ID:             xid.New("pay"),
				SaleID:         sale.ID,
				CustomerName:   sale.CustomerName,
				AmountCents:    req.AmountCents,
				Method:         req.Method,
				Scope:          domain.PaymentScopeSale,
				IdempotencyKey: req.IdempotencyKey,
				PaidAt:         paidAt,
				CreatedAt:      now,
				CreatedBy:      actor.Username,
			}
			if err := tx.InsertPayment(ctx, payment); err != nil {
				return err
			}
			global := payment
			global.ID = xid.New("gpay")
			global.Scope = domain.PaymentScopeGlobal
			global.SourcePaymentID = payment.ID
			global.IdempotencyKey = ""
			if err := tx.InsertPayment(ctx, global); err != nil {
				return err
			}

			if err := s.logActivity(ctx, tx, actor, activity{
				eventType:  "payment_recorded",
				category:   CategoryCredit,
				entityType: "sale",
				entityID:   sale.ID,
				message:    fmt.Sprintf("%s paid %s by %s, remaining %s", sale.CustomerName, money.Format(req.AmountCents), req.Method, money.Format(remaining)),
				payload: map[string]any{
					"payment_id": payment.ID,
					"customer":   sale.CustomerName,
					"amount":     money.String(req.AmountCents),
					"method":     string(req.Method),
					"remaining":  money.String(remaining),
					"status":     string(status),
				},
			}); err != nil {
				return err
			}

			sale.PaidCents = paid
			sale.RemainingCents = remaining
			sale.Status = status
			resp = domain.PaymentResponse{Sale: *sale, Payment: payment}
			return nil
		})
	})
	if err != nil {
		return domain.PaymentResponse{}, err
	}
	if resp.Duplicate {
		return resp, nil
	}

	s.publish(ctx,
		change(events.CollectionSales, events.OpUpdated, resp.Sale.ID, string(resp.Sale.Status), now),
		change(events.CollectionPayments, events.OpCreated, resp.Payment.ID, string(resp.Sale.Status), now),
	)
	s.invalidateCredit(ctx)
	return resp, nil
}

func (s *Service) ListSalePayments(ctx context.Context, saleID string) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := s.execute(ctx, "list_sale_payments", func(ctx context.Context) error {
		var err error
		payments, err = s.repo.ListSalePayments(ctx, strings.TrimSpace(saleID))
		return err
	})
	return payments, err
}

// ListPayments reads the global payment collection, which outlives deleted
// sales.
func (s *Service) ListPayments(ctx context.Context, filter store.PaymentFilter) ([]domain.Payment, error) {
	filter.Customer = strings.TrimSpace(filter.Customer)
	filter.Limit = limitOrDefault(filter.Limit, 100)

	var payments []domain.Payment
	err := s.execute(ctx, "list_payments", func(ctx context.Context) error {
		var err error
		payments, err = s.repo.ListPayments(ctx, filter)
		return err
	})
	return payments, err
}
