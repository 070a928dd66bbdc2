package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/events"
	"kedaipos/backend/internal/ledger"
	"kedaipos/backend/internal/store"
	"kedaipos/backend/internal/xid"
)

// CreateReturn sends goods back to a supplier. Stock drops immediately and
// may go negative.
func (s *Service) CreateReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	actor := actorOrSystem(ctx)

	var ret domain.Return
	err := s.execute(ctx, "create_return", func(ctx context.Context) error {
		supplier := strings.TrimSpace(req.SupplierName)
		if supplier == "" {
			return store.Invalid("supplier_name", "is required")
		}
		if len(req.Items) == 0 {
			return store.Invalid("items", "at least one item is required")
		}

		return s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			built := domain.Return{
				ID:              xid.New("ret"),
				SupplierName:    supplier,
				ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
				Items:           make([]domain.ReturnItem, 0, len(req.Items)),
				CreatedAt:       s.now(),
				CreatedBy:       actor.Username,
			}
			seen := make(map[string]bool, len(req.Items))
			ids := make([]string, 0, len(req.Items))
			for _, input := range req.Items {
				productID := strings.TrimSpace(input.ProductID)
				if seen[productID] {
					return store.Invalid("items", fmt.Sprintf("product %s is listed twice", productID))
				}
				seen[productID] = true
				if input.Qty <= 0 {
					return store.Invalid("items", "return quantity must be greater than zero")
				}
				ids = append(ids, productID)
			}

			// Lock rows in product order like every other unit of work.
			slices.Sort(ids)
			products := make(map[string]*domain.Product, len(ids))
			for _, id := range ids {
				product, err := tx.GetProductForUpdate(ctx, id)
				if errors.Is(err, store.ErrNotFound) {
					return store.Invalid("items", fmt.Sprintf("unknown product %s", id))
				}
				if err != nil {
					return err
				}
				products[id] = product
			}

			movements := make([]ledger.Movement, 0, len(req.Items))
			for _, input := range req.Items {
				product := products[strings.TrimSpace(input.ProductID)]
				built.Items = append(built.Items, domain.ReturnItem{ProductID: product.ID, ProductName: product.Name, Qty: input.Qty})
				built.TotalQty += input.Qty
				movements = append(movements, ledger.Movement{
					ProductID: product.ID,
					Delta:     -input.Qty,
					Reason:    domain.ReasonSupplierReturn,
					RefType:   "return",
					RefID:     built.ID,
					Actor:     actor.Username,
				})
			}

			if _, err := s.ledger.ApplyAll(ctx, tx, movements); err != nil {
				return err
			}
			if err := tx.InsertReturn(ctx, built); err != nil {
				return err
			}
			ret = built
			return s.logActivity(ctx, tx, actor, activity{
				eventType:  "return_created",
				category:   CategoryReturns,
				entityType: "return",
				entityID:   built.ID,
				message:    fmt.Sprintf("Returned %d units to %s", built.TotalQty, built.SupplierName),
				payload:    returnPayload(built),
			})
		})
	})
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	s.publish(ctx, returnChanges(ret, events.OpCreated)...)
	return domain.ReturnResponse{Return: ret}, nil
}

// DeleteReturn undoes a supplier return after re-authentication and puts its
// units back on the shelf.
func (s *Service) DeleteReturn(ctx context.Context, id string, password string) error {
	actor, err := s.confirmPassword(ctx, password)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)

	var deleted domain.Return
	err = s.execute(ctx, "delete_return", func(ctx context.Context) error {
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			ret, err := tx.GetReturnForUpdate(ctx, id)
			if err != nil {
				return err
			}
			movements := make([]ledger.Movement, 0, len(ret.Items))
			for _, item := range ret.Items {
				movements = append(movements, ledger.Movement{
					ProductID: item.ProductID,
					Delta:     item.Qty,
					Reason:    domain.ReasonReturnReversal,
					RefType:   "return",
					RefID:     ret.ID,
					Actor:     actor.Username,
				})
			}
			if _, err := s.ledger.ApplyAll(ctx, tx, movements); err != nil {
				return err
			}
			if err := tx.DeleteReturn(ctx, ret.ID); err != nil {
				return err
			}
			deleted = *ret
			return s.logActivity(ctx, tx, actor, activity{
				eventType:  "return_deleted",
				category:   CategoryReturns,
				entityType: "return",
				entityID:   ret.ID,
				message:    fmt.Sprintf("Deleted return of %d units to %s", ret.TotalQty, ret.SupplierName),
				payload:    returnPayload(*ret),
			})
		})
	})
	if err != nil {
		return err
	}

	s.publish(ctx, returnChanges(deleted, events.OpDeleted)...)
	return nil
}

func (s *Service) GetReturn(ctx context.Context, id string) (domain.ReturnResponse, error) {
	var resp domain.ReturnResponse
	err := s.execute(ctx, "get_return", func(ctx context.Context) error {
		ret, err := s.repo.GetReturn(ctx, strings.TrimSpace(id))
		if err != nil {
			return err
		}
		resp.Return = *ret
		return nil
	})
	return resp, err
}

func (s *Service) ListReturns(ctx context.Context, limit int) ([]domain.Return, error) {
	var returns []domain.Return
	err := s.execute(ctx, "list_returns", func(ctx context.Context) error {
		var err error
		returns, err = s.repo.ListReturns(ctx, limitOrDefault(limit, 100))
		return err
	})
	return returns, err
}

func returnPayload(r domain.Return) map[string]any {
	return map[string]any{
		"supplier":  r.SupplierName,
		"reference": r.ReferenceNumber,
		"total_qty": r.TotalQty,
	}
}

func returnChanges(r domain.Return, op string) []events.Change {
	changes := []events.Change{change(events.CollectionReturns, op, r.ID, "", r.CreatedAt)}
	for _, item := range r.Items {
		changes = append(changes, change(events.CollectionProducts, events.OpUpdated, item.ProductID, "", r.CreatedAt))
	}
	return changes
}
