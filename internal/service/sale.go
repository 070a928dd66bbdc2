package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/events"
	"kedaipos/backend/internal/ledger"
	"kedaipos/backend/internal/money"
	"kedaipos/backend/internal/receipt"
	"kedaipos/backend/internal/store"
	"kedaipos/backend/internal/xid"
)

// CreateSale prices the cart, takes the stock and records the sale with its
// settlement in one unit of work. Replaying an idempotency key returns the
// stored sale without writing anything.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.SaleResponse, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" {
		req.CustomerName = domain.WalkInCustomer
	}
	actor := actorOrSystem(ctx)

	var resp domain.SaleResponse
	err := s.execute(ctx, "create_sale", func(ctx context.Context) error {
		if len(req.Items) == 0 {
			return store.Invalid("items", "at least one item is required")
		}
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			resp = domain.SaleResponse{}
			if req.IdempotencyKey != "" {
				existing, err := tx.FindSaleByIdempotency(ctx, req.IdempotencyKey)
				if err == nil {
					resp = domain.SaleResponse{Sale: *existing, Duplicate: true}
					return nil
				}
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}
			}

			sale, err := s.buildSale(ctx, tx, req, actor)
			if err != nil {
				return err
			}
			resp.Sale = sale
			return nil
		})
	})
	if err != nil && errors.Is(err, store.ErrConflict) && req.IdempotencyKey != "" {
		// Another terminal committed the same key first.
		if existing, lookupErr := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); lookupErr == nil {
			return domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
		}
	}
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if resp.Duplicate {
		s.log.Info().Str("sale_id", resp.Sale.ID).Str("idempotency_key", req.IdempotencyKey).Msg("sale replay returned stored sale")
		return resp, nil
	}

	s.afterSaleCommitted(ctx, resp.Sale)
	return resp, nil
}

func (s *Service) buildSale(ctx context.Context, tx store.Tx, req domain.CreateSaleRequest, actor domain.Actor) (domain.Sale, error) {
	ids := sortedProductIDs(req.Items)
	products := make(map[string]*domain.Product, len(ids))
	for _, id := range ids {
		if id == "" {
			return domain.Sale{}, store.Invalid("items", "product is required")
		}
		product, err := tx.GetProductForUpdate(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, store.Invalid("items", fmt.Sprintf("unknown product %s", id))
		}
		if err != nil {
			return domain.Sale{}, err
		}
		if !product.Active {
			return domain.Sale{}, store.Invalid("items", fmt.Sprintf("%s is no longer sold", product.Name))
		}
		products[id] = product
	}

	items := make([]domain.SaleItem, 0, len(req.Items))
	units := make(map[string]int, len(products))
	var subtotal int64
	for _, input := range req.Items {
		product := products[strings.TrimSpace(input.ProductID)]
		item, err := priceLine(*product, input)
		if err != nil {
			return domain.Sale{}, err
		}
		items = append(items, item)
		if units[product.ID] > maxLineUnits-item.RequiredUnits {
			return domain.Sale{}, store.Invalid("items", fmt.Sprintf("%s quantity is too large", product.Name))
		}
		units[product.ID] += item.RequiredUnits
		if subtotal, err = money.Add(subtotal, item.SubtotalCents); err != nil {
			return domain.Sale{}, store.Invalid("items", fmt.Sprintf("sale total exceeds %s", money.Format(money.MaxCents)))
		}
	}

	movements := make([]ledger.Movement, 0, len(ids))
	for _, id := range ids {
		required := units[id]
		if _, err := s.ledger.Check(ctx, tx, id, required); err != nil {
			return domain.Sale{}, err
		}
		movements = append(movements, ledger.Movement{
			ProductID: id,
			Delta:     -required,
			Reason:    domain.ReasonSale,
			RefType:   "sale",
			Actor:     actor.Username,
			Enforce:   true,
		})
	}

	adjustment, err := applyAdjustment(subtotal, req.Adjustment)
	if err != nil {
		return domain.Sale{}, err
	}
	total := subtotal + adjustment
	st, err := settle(total, req.Payment)
	if err != nil {
		return domain.Sale{}, err
	}
	remaining := money.Max(0, total-st.paid())
	if !money.IsSettled(remaining) && isWalkIn(req.CustomerName) {
		return domain.Sale{}, store.Invalid("customer_name", "a hutang sale needs the customer's name")
	}

	status := domain.SaleStatusPaid
	if !money.IsSettled(remaining) {
		status = domain.SaleStatusHutang
	}
	adjType := req.Adjustment.Type
	if adjType == "" {
		adjType = domain.AdjustmentNone
	}

	sale := domain.Sale{
		ID:              xid.New("sale"),
		IdempotencyKey:  req.IdempotencyKey,
		CustomerName:    req.CustomerName,
		Items:           items,
		SubtotalCents:   subtotal,
		Adjustment:      domain.Adjustment{Type: adjType, ValueCents: req.Adjustment.ValueCents},
		AdjustmentCents: adjustment,
		TotalCents:      total,
		PaymentType:     st.label,
		CashCents:       st.cash,
		OnlineCents:     st.online,
		HutangCents:     st.hutang,
		ChangeCents:     st.change,
		PaidCents:       st.paid(),
		RemainingCents:  remaining,
		Status:          status,
		CreatedAt:       s.now(),
		CreatedBy:       actor.Username,
	}

	for i := range movements {
		movements[i].RefID = sale.ID
	}
	if _, err := s.ledger.ApplyAll(ctx, tx, movements); err != nil {
		return domain.Sale{}, err
	}
	if err := tx.InsertSale(ctx, sale); err != nil {
		return domain.Sale{}, err
	}
	if err := s.logActivity(ctx, tx, actor, activity{
		eventType:  "sale_created",
		category:   CategorySales,
		entityType: "sale",
		entityID:   sale.ID,
		message:    fmt.Sprintf("Sale %s to %s, %s", money.Format(total), sale.CustomerName, status.Label()),
		payload: map[string]any{
			"customer":     sale.CustomerName,
			"total":        money.String(total),
			"payment_type": sale.PaymentType,
			"status":       string(status),
			"remaining":    money.String(remaining),
		},
	}); err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (s *Service) afterSaleCommitted(ctx context.Context, sale domain.Sale) {
	changes := []events.Change{change(events.CollectionSales, events.OpCreated, sale.ID, string(sale.Status), sale.CreatedAt)}
	for _, item := range sale.Items {
		changes = append(changes, change(events.CollectionProducts, events.OpUpdated, item.ProductID, "", sale.CreatedAt))
	}
	s.publish(ctx, changes...)

	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.receipts.SaleCommitted(enqueueCtx, sale.ID); err != nil {
		s.log.Warn().Err(err).Str("sale_id", sale.ID).Msg("failed to enqueue sale receipt")
	}
	if sale.Status == domain.SaleStatusHutang {
		s.invalidateCredit(ctx)
	}
}

// DeleteSale reverses a sale after the acting user re-enters their password.
// Stock goes back to the shelf and the sale's own payments are removed; the
// global payment copies stay as the cash record.
func (s *Service) DeleteSale(ctx context.Context, id string, password string) error {
	actor, err := s.confirmPassword(ctx, password)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)

	var deleted domain.Sale
	err = s.execute(ctx, "delete_sale", func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			sale, err := tx.GetSaleForUpdate(ctx, id)
			if err != nil {
				return err
			}

			units := map[string]int{}
			for _, item := range sale.Items {
				units[item.ProductID] += item.RequiredUnits
			}
			movements := make([]ledger.Movement, 0, len(units))
			for productID, qty := range units {
				if qty == 0 {
					continue
				}
				movements = append(movements, ledger.Movement{
					ProductID: productID,
					Delta:     qty,
					Reason:    domain.ReasonSaleReversal,
					RefType:   "sale",
					RefID:     sale.ID,
					Actor:     actor.Username,
				})
			}
			if _, err := s.ledger.ApplyAll(ctx, tx, movements); err != nil {
				return err
			}
			if err := tx.DeleteSale(ctx, sale.ID); err != nil {
				return err
			}
			deleted = *sale
			return s.logActivity(ctx, tx, actor, activity{
				eventType:  "sale_deleted",
				category:   CategorySales,
				entityType: "sale",
				entityID:   sale.ID,
				message:    fmt.Sprintf("Deleted sale %s to %s", money.Format(sale.TotalCents), sale.CustomerName),
				payload: map[string]any{
					"customer":  sale.CustomerName,
					"total":     money.String(sale.TotalCents),
					"paid":      money.String(sale.PaidCents),
					"remaining": money.String(sale.RemainingCents),
				},
			})
		})
	})
	if err != nil {
		return err
	}

	now := s.now()
	changes := []events.Change{change(events.CollectionSales, events.OpDeleted, deleted.ID, string(deleted.Status), now)}
	for _, item := range deleted.Items {
		changes = append(changes, change(events.CollectionProducts, events.OpUpdated, item.ProductID, "", now))
	}
	s.publish(ctx, changes...)
	s.invalidateCredit(ctx)
	return nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	var sale domain.Sale
	err := s.execute(ctx, "get_sale", func(ctx context.Context) error {
		found, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
		if err != nil {
			return err
		}
		sale = *found
		return nil
	})
	return sale, err
}

func (s *Service) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	filter.Customer = strings.TrimSpace(filter.Customer)
	filter.Limit = limitOrDefault(filter.Limit, 100)

	var sales []domain.Sale
	err := s.execute(ctx, "list_sales", func(ctx context.Context) error {
		var err error
		sales, err = s.repo.ListSales(ctx, filter)
		return err
	})
	return sales, err
}

// LookupSaleByIdempotency lets a terminal check whether a sale it could not
// confirm was committed.
func (s *Service) LookupSaleByIdempotency(ctx context.Context, key string) (domain.SaleLookupResponse, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.SaleLookupResponse{}, store.Invalid("idempotency_key", "is required")
	}

	var resp domain.SaleLookupResponse
	err := s.execute(ctx, "lookup_sale", func(ctx context.Context) error {
		sale, err := s.repo.FindSaleByIdempotency(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			resp = domain.SaleLookupResponse{Found: false}
			return nil
		}
		if err != nil {
			return err
		}
		resp = domain.SaleLookupResponse{Found: true, Sale: sale}
		return nil
	})
	return resp, err
}

func (s *Service) SaleReceipt(ctx context.Context, id string) (domain.ReceiptResponse, error) {
	var resp domain.ReceiptResponse
	err := s.execute(ctx, "sale_receipt", func(ctx context.Context) error {
		sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
		if err != nil {
			return err
		}
		payments, err := s.repo.ListSalePayments(ctx, sale.ID)
		if err != nil {
			return err
		}
		resp = receipt.Build(s.shopName, *sale, payments, s.location)
		return nil
	})
	return resp, err
}
