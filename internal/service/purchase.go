package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/events"
	"kedaipos/backend/internal/ledger"
	"kedaipos/backend/internal/money"
	"kedaipos/backend/internal/store"
	"kedaipos/backend/internal/xid"
)

func (s *Service) CreatePurchase(ctx context.Context, req domain.PurchaseRequest) (domain.PurchaseResponse, error) {
	actor := actorOrSystem(ctx)

	var purchase domain.Purchase
	err := s.execute(ctx, "create_purchase", func(ctx context.Context) error {
		built, err := s.buildPurchase(ctx, req)
		if err != nil {
			return err
		}
		now := s.now()
		built.ID = xid.New("po")
		built.Status = domain.PurchaseOrdered
		built.CreatedAt = now
		built.UpdatedAt = now
		built.CreatedBy = actor.Username

		return s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.InsertPurchase(ctx, built); err != nil {
				return err
			}
			purchase = built
			return s.logActivity(ctx, tx, actor, activity{
				eventType:  "purchase_created",
				category:   CategoryPurchasing,
				entityType: "purchase",
				entityID:   built.ID,
				message:    fmt.Sprintf("Ordered %s from %s", money.Format(built.TotalCents), built.SupplierName),
				payload:    purchasePayload(built),
			})
		})
	})
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.publish(ctx, change(events.CollectionPurchases, events.OpCreated, purchase.ID, string(purchase.Status), purchase.CreatedAt))
	return domain.PurchaseResponse{Purchase: purchase}, nil
}

// UpdatePurchase edits an order that has not reached the shelf yet.
func (s *Service) UpdatePurchase(ctx context.Context, id string, req domain.PurchaseRequest) (domain.PurchaseResponse, error) {
	actor := actorOrSystem(ctx)
	id = strings.TrimSpace(id)

	var purchase domain.Purchase
	err := s.execute(ctx, "update_purchase", func(ctx context.Context) error {
		built, err := s.buildPurchase(ctx, req)
		if err != nil {
			return err
		}
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			current, err := tx.GetPurchaseForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if current.Status != domain.PurchaseOrdered && current.Status != domain.PurchaseInTransit {
				return store.Invalid("status", fmt.Sprintf("a %s purchase can no longer be edited", strings.ToLower(current.Status.Label())))
			}

			built.ID = current.ID
			built.Status = current.Status
			built.CreatedAt = current.CreatedAt
			built.CreatedBy = current.CreatedBy
			built.UpdatedAt = s.now()
			if err := tx.UpdatePurchase(ctx, built); err != nil {
				return err
			}
			purchase = built
			return s.logActivity(ctx, tx, actor, activity{
				eventType:  "purchase_updated",
				category:   CategoryPurchasing,
				entityType: "purchase",
				entityID:   built.ID,
				message:    fmt.Sprintf("Updated order from %s, total %s", built.SupplierName, money.Format(built.TotalCents)),
				payload:    purchasePayload(built),
			})
		})
	})
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.publish(ctx, change(events.CollectionPurchases, events.OpUpdated, purchase.ID, string(purchase.Status), purchase.UpdatedAt))
	return domain.PurchaseResponse{Purchase: purchase}, nil
}

// buildPurchase validates the order lines and computes totals. Product names
// are read outside the unit of work; they are display only.
func (s *Service) buildPurchase(ctx context.Context, req domain.PurchaseRequest) (domain.Purchase, error) {
	supplier := strings.TrimSpace(req.SupplierName)
	if supplier == "" {
		return domain.Purchase{}, store.Invalid("supplier_name", "is required")
	}
	if len(req.Items) == 0 {
		return domain.Purchase{}, store.Invalid("items", "at least one item is required")
	}
	if req.OverallDiscountCents < 0 {
		return domain.Purchase{}, store.Invalid("overall_discount", "must not be negative")
	}
	if req.TransportationCents < 0 {
		return domain.Purchase{}, store.Invalid("transportation", "must not be negative")
	}

	seen := make(map[string]bool, len(req.Items))
	items := make([]domain.PurchaseItem, 0, len(req.Items))
	var subtotal int64
	for _, input := range req.Items {
		productID := strings.TrimSpace(input.ProductID)
		if productID == "" {
			return domain.Purchase{}, store.Invalid("items", "product is required")
		}
		if seen[productID] {
			return domain.Purchase{}, store.Invalid("items", fmt.Sprintf("product %s is listed twice", productID))
		}
		seen[productID] = true
		if input.OrderedQty <= 0 {
			return domain.Purchase{}, store.Invalid("items", "ordered quantity must be greater than zero")
		}
		if input.CostCents < 0 {
			return domain.Purchase{}, store.Invalid("items", "cost must not be negative")
		}
		if input.OrderedQty > maxLineUnits {
			return domain.Purchase{}, store.Invalid("items", "ordered quantity is too large")
		}
		gross, err := money.Mul(input.OrderedQty, input.CostCents)
		if err != nil {
			return domain.Purchase{}, store.Invalid("items", fmt.Sprintf("line total exceeds %s", money.Format(money.MaxCents)))
		}
		if input.DiscountCents < 0 || input.DiscountCents > gross {
			return domain.Purchase{}, store.Invalid("items", fmt.Sprintf("discount must be between %s and %s", money.Format(0), money.Format(gross)))
		}

		product, err := s.repo.GetProduct(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Purchase{}, store.Invalid("items", fmt.Sprintf("unknown product %s", productID))
		}
		if err != nil {
			return domain.Purchase{}, err
		}

		line := domain.PurchaseItem{
			ProductID:     product.ID,
			ProductName:   product.Name,
			OrderedQty:    input.OrderedQty,
			CostCents:     input.CostCents,
			DiscountCents: input.DiscountCents,
			SubtotalCents: gross - input.DiscountCents,
		}
		items = append(items, line)
		if subtotal, err = money.Add(subtotal, line.SubtotalCents); err != nil {
			return domain.Purchase{}, store.Invalid("items", fmt.Sprintf("purchase total exceeds %s", money.Format(money.MaxCents)))
		}
	}
	if req.OverallDiscountCents > subtotal {
		return domain.Purchase{}, store.Invalid("overall_discount", fmt.Sprintf("must not exceed %s", money.Format(subtotal)))
	}
	total, err := money.Add(subtotal, -req.OverallDiscountCents, req.TransportationCents)
	if err != nil {
		return domain.Purchase{}, store.Invalid("transportation", fmt.Sprintf("purchase total exceeds %s", money.Format(money.MaxCents)))
	}

	return domain.Purchase{
		SupplierName:         supplier,
		InvoiceNumber:        strings.TrimSpace(req.InvoiceNumber),
		Items:                items,
		SubtotalCents:        subtotal,
		OverallDiscountCents: req.OverallDiscountCents,
		TransportationCents:  req.TransportationCents,
		TotalCents:           total,
	}, nil
}

// UpdatePurchaseStatus moves a purchase through its state machine. Stock
// follows StockedQty, so each unit reaches the shelf exactly once however
// the purchase gets to received.
func (s *Service) UpdatePurchaseStatus(ctx context.Context, id string, req domain.PurchaseStatusRequest) (domain.PurchaseResponse, error) {
	actor := actorOrSystem(ctx)
	id = strings.TrimSpace(id)

	var purchase domain.Purchase
	err := s.execute(ctx, "update_purchase_status", func(ctx context.Context) error {
		if !req.Status.Valid() {
			return store.Invalid("status", fmt.Sprintf("unknown status %q", req.Status))
		}
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			current, err := tx.GetPurchaseForUpdate(ctx, id)
			if err != nil {
				return err
			}
			previous := current.Status
			if previous == req.Status {
				return store.Invalid("status", fmt.Sprintf("purchase is already %s", strings.ToLower(previous.Label())))
			}
			if !previous.CanTransition(req.Status) {
				return store.Invalid("status", fmt.Sprintf("cannot move from %s to %s", previous.Label(), req.Status.Label()))
			}

			now := s.now()
			var movements []ledger.Movement
			switch req.Status {
			case domain.PurchaseReceived:
				movements = receiveAll(current, actor)
				current.ReceivedAt = &now
			case domain.PurchaseReceivedPartial:
				movements, err = receivePartial(current, req.Items, actor)
				current.ReceivedAt = &now
			case domain.PurchaseCancelled:
				movements = unstock(current, actor)
			}
			if err != nil {
				return err
			}
			if _, err := s.ledger.ApplyAll(ctx, tx, movements); err != nil {
				return err
			}

			current.Status = req.Status
			current.UpdatedAt = now
			if err := tx.UpdatePurchase(ctx, *current); err != nil {
				return err
			}
			purchase = *current

			payload := purchasePayload(*current)
			payload["from"] = string(previous)
			payload["to"] = string(req.Status)
			return s.logActivity(ctx, tx, actor, activity{
				eventType:  "purchase_status_changed",
				category:   CategoryPurchasing,
				entityType: "purchase",
				entityID:   current.ID,
				message:    fmt.Sprintf("Purchase from %s moved from %s to %s", current.SupplierName, previous.Label(), req.Status.Label()),
				payload:    payload,
			})
		})
	})
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.publish(ctx, purchaseChanges(purchase, events.OpUpdated, purchase.UpdatedAt)...)
	return domain.PurchaseResponse{Purchase: purchase}, nil
}

func receiveAll(p *domain.Purchase, actor domain.Actor) []ledger.Movement {
	movements := make([]ledger.Movement, 0, len(p.Items))
	for i := range p.Items {
		item := &p.Items[i]
		if delta := item.OrderedQty - item.StockedQty; delta != 0 {
			movements = append(movements, purchaseMovement(p.ID, item.ProductID, delta, domain.ReasonPurchaseReceipt, actor))
		}
		item.ReceivedQty = item.OrderedQty
		item.StockedQty = item.OrderedQty
	}
	return movements
}

func receivePartial(p *domain.Purchase, received []domain.ReceivedQty, actor domain.Actor) ([]ledger.Movement, error) {
	counts := make(map[string]int, len(received))
	for _, r := range received {
		counts[strings.TrimSpace(r.ProductID)] = r.ReceivedQty
	}
	for productID := range counts {
		if !slices.ContainsFunc(p.Items, func(item domain.PurchaseItem) bool { return item.ProductID == productID }) {
			return nil, store.Invalid("items", fmt.Sprintf("product %s is not on this purchase", productID))
		}
	}

	movements := make([]ledger.Movement, 0, len(p.Items))
	var total int
	for i := range p.Items {
		item := &p.Items[i]
		qty, ok := counts[item.ProductID]
		if !ok {
			qty = item.ReceivedQty
		}
		if qty < 0 || qty > item.OrderedQty {
			return nil, store.Invalid("items", fmt.Sprintf("received %s must be between 0 and %d", item.ProductName, item.OrderedQty))
		}
		if qty < item.StockedQty {
			return nil, store.Invalid("items", fmt.Sprintf("%s already has %d received", item.ProductName, item.StockedQty))
		}
		if delta := qty - item.StockedQty; delta != 0 {
			movements = append(movements, purchaseMovement(p.ID, item.ProductID, delta, domain.ReasonPurchaseReceipt, actor))
		}
		item.ReceivedQty = qty
		item.StockedQty = qty
		total += qty
	}
	if total == 0 {
		return nil, store.Invalid("items", "a partial receipt needs at least one received quantity")
	}
	return movements, nil
}

// unstock takes back whatever the purchase already put on the shelf.
func unstock(p *domain.Purchase, actor domain.Actor) []ledger.Movement {
	movements := make([]ledger.Movement, 0, len(p.Items))
	for i := range p.Items {
		item := &p.Items[i]
		if item.StockedQty != 0 {
			movements = append(movements, purchaseMovement(p.ID, item.ProductID, -item.StockedQty, domain.ReasonPurchaseReversal, actor))
		}
		item.StockedQty = 0
	}
	return movements
}

func purchaseMovement(purchaseID, productID string, delta int, reason domain.MovementReason, actor domain.Actor) ledger.Movement {
	return ledger.Movement{
		ProductID: productID,
		Delta:     delta,
		Reason:    reason,
		RefType:   "purchase",
		RefID:     purchaseID,
		Actor:     actor.Username,
	}
}

// DeletePurchase removes a purchase after re-authentication. A purchase that
// already reached the shelf is cancelled first so its stock is reversed.
func (s *Service) DeletePurchase(ctx context.Context, id string, password string) error {
	actor, err := s.confirmPassword(ctx, password)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)

	var deleted domain.Purchase
	err = s.execute(ctx, "delete_purchase", func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			current, err := tx.GetPurchaseForUpdate(ctx, id)
			if err != nil {
				return err
			}

			if current.Status.Stocked() {
				previous := current.Status
				if _, err := s.ledger.ApplyAll(ctx, tx, unstock(current, actor)); err != nil {
					return err
				}
				current.Status = domain.PurchaseCancelled
				current.UpdatedAt = s.now()
				if err := tx.UpdatePurchase(ctx, *current); err != nil {
					return err
				}
				payload := purchasePayload(*current)
				payload["from"] = string(previous)
				if err := s.logActivity(ctx, tx, actor, activity{
					eventType:  "purchase_cancelled",
					category:   CategoryPurchasing,
					entityType: "purchase",
					entityID:   current.ID,
					message:    fmt.Sprintf("Cancelled %s purchase from %s before deleting", strings.ToLower(previous.Label()), current.SupplierName),
					payload:    payload,
				}); err != nil {
					return err
				}
			}

			if err := tx.DeletePurchase(ctx, current.ID); err != nil {
				return err
			}
			deleted = *current
			return s.logActivity(ctx, tx, actor, activity{
				eventType:  "purchase_deleted",
				category:   CategoryPurchasing,
				entityType: "purchase",
				entityID:   current.ID,
				message:    fmt.Sprintf("Deleted purchase from %s", current.SupplierName),
				payload:    purchasePayload(*current),
			})
		})
	})
	if err != nil {
		return err
	}

	s.publish(ctx, purchaseChanges(deleted, events.OpDeleted, s.now())...)
	return nil
}

func (s *Service) GetPurchase(ctx context.Context, id string) (domain.PurchaseResponse, error) {
	var resp domain.PurchaseResponse
	err := s.execute(ctx, "get_purchase", func(ctx context.Context) error {
		purchase, err := s.repo.GetPurchase(ctx, strings.TrimSpace(id))
		if err != nil {
			return err
		}
		resp.Purchase = *purchase
		return nil
	})
	return resp, err
}

func (s *Service) ListPurchases(ctx context.Context, status domain.PurchaseStatus, limit int) (domain.PurchaseListResponse, error) {
	if status != "" && !status.Valid() {
		return domain.PurchaseListResponse{}, store.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}

	resp := domain.PurchaseListResponse{Purchases: []domain.Purchase{}}
	err := s.execute(ctx, "list_purchases", func(ctx context.Context) error {
		purchases, err := s.repo.ListPurchases(ctx, status, limitOrDefault(limit, 100))
		if err != nil {
			return err
		}
		resp.Purchases = purchases
		return nil
	})
	return resp, err
}

func purchasePayload(p domain.Purchase) map[string]any {
	return map[string]any{
		"supplier": p.SupplierName,
		"invoice":  p.InvoiceNumber,
		"status":   string(p.Status),
		"items":    len(p.Items),
		"total":    money.String(p.TotalCents),
	}
}

func purchaseChanges(p domain.Purchase, op string, at time.Time) []events.Change {
	changes := []events.Change{change(events.CollectionPurchases, op, p.ID, string(p.Status), at)}
	for _, item := range p.Items {
		changes = append(changes, change(events.CollectionProducts, events.OpUpdated, item.ProductID, "", at))
	}
	return changes
}
