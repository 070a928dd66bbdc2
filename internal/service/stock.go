package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/events"
	"kedaipos/backend/internal/ledger"
	"kedaipos/backend/internal/money"
	"kedaipos/backend/internal/store"
)

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	var product domain.Product
	err = s.execute(ctx, "create_product", func(ctx context.Context) error {
		id := strings.ToUpper(strings.TrimSpace(req.ID))
		name := strings.TrimSpace(req.Name)
		switch {
		case id == "":
			return store.Invalid("id", "is required")
		case name == "":
			return store.Invalid("name", "is required")
		case req.UnitPriceCents < 0 || req.BoxPriceCents < 0 || req.PackPriceCents < 0:
			return store.Invalid("price", "must not be negative")
		case req.UnitPriceCents > money.MaxCents || req.BoxPriceCents > money.MaxCents || req.PackPriceCents > money.MaxCents:
			return store.Invalid("price", fmt.Sprintf("must not exceed %s", money.Format(money.MaxCents)))
		case req.BigBulkQty < 0 || req.SmallBulkQty < 0:
			return store.Invalid("bulk_qty", "must not be negative")
		case req.BigBulkQty > maxLineUnits || req.SmallBulkQty > maxLineUnits:
			return store.Invalid("bulk_qty", "is too large")
		case req.ReorderPoint < 0:
			return store.Invalid("reorder_point", "must not be negative")
		case req.InitialStock < 0:
			return store.Invalid("initial_stock", "must not be negative")
		}

		now := s.now()
		return s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			created := domain.Product{
				ID:             id,
				Name:           name,
				UnitPriceCents: req.UnitPriceCents,
				BoxPriceCents:  req.BoxPriceCents,
				PackPriceCents: req.PackPriceCents,
				BigBulkQty:     req.BigBulkQty,
				SmallBulkQty:   req.SmallBulkQty,
				ReorderPoint:   req.ReorderPoint,
				Active:         true,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.InsertProduct(ctx, created); err != nil {
				return err
			}
			if req.InitialStock > 0 {
				movement, err := s.ledger.Apply(ctx, tx, ledger.Movement{
					ProductID: id,
					Delta:     req.InitialStock,
					Reason:    domain.ReasonInitialStock,
					RefType:   "product",
					RefID:     id,
					Actor:     actor.Username,
				})
				if err != nil {
					return err
				}
				created.StockBalance = movement.BalanceAfter
			}
			product = created
			return s.logActivity(ctx, tx, actor, activity{
				eventType:  "product_created",
				category:   CategoryInventory,
				entityType: "product",
				entityID:   id,
				message:    fmt.Sprintf("Added %s at %s per unit", name, money.Format(req.UnitPriceCents)),
				payload: map[string]any{
					"name":          name,
					"unit_price":    money.String(req.UnitPriceCents),
					"initial_stock": req.InitialStock,
				},
			})
		})
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.publish(ctx, change(events.CollectionProducts, events.OpCreated, product.ID, "", product.CreatedAt))
	return product, nil
}

// AdjustStock records a manual movement. A stock audit sets the counted
// quantity; transfers and shop use apply a signed delta.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustmentRequest) (domain.StockAdjustmentResponse, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.StockAdjustmentResponse{}, err
	}

	var resp domain.StockAdjustmentResponse
	err = s.execute(ctx, "adjust_stock", func(ctx context.Context) error {
		productID := strings.TrimSpace(req.ProductID)
		if productID == "" {
			return store.Invalid("product_id", "is required")
		}
		if !req.Reason.Manual() {
			return store.Invalid("reason", fmt.Sprintf("%q cannot be recorded by hand", req.Reason))
		}
		if req.Reason == domain.ReasonStockAudit && (req.CountedQty == nil || *req.CountedQty < 0) {
			return store.Invalid("counted_qty", "a stock audit needs the counted quantity")
		}

		return s.repo.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			delta := req.Delta
			if req.Reason == domain.ReasonStockAudit {
				product, err := tx.GetProductForUpdate(ctx, productID)
				if err != nil {
					return err
				}
				delta = *req.CountedQty - product.StockBalance
				if delta == 0 {
					return store.Invalid("counted_qty", "matches the current balance, nothing to adjust")
				}
			}

			movement, err := s.ledger.Apply(ctx, tx, ledger.Movement{
				ProductID: productID,
				Delta:     delta,
				Reason:    req.Reason,
				RefType:   "adjustment",
				Note:      strings.TrimSpace(req.Note),
				Actor:     actor.Username,
			})
			if err != nil {
				return err
			}
			product, err := tx.GetProductForUpdate(ctx, productID)
			if err != nil {
				return err
			}
			resp = domain.StockAdjustmentResponse{Movement: movement, Product: *product}

			return s.logActivity(ctx, tx, actor, activity{
				eventType:  "stock_adjusted",
				category:   CategoryInventory,
				entityType: "product",
				entityID:   productID,
				message:    fmt.Sprintf("%s %+d (%s), balance %d", product.Name, delta, req.Reason, movement.BalanceAfter),
				payload: map[string]any{
					"reason":        string(req.Reason),
					"delta":         delta,
					"balance_after": movement.BalanceAfter,
					"note":          movement.Note,
				},
			})
		})
	})
	if err != nil {
		return domain.StockAdjustmentResponse{}, err
	}

	s.publish(ctx, change(events.CollectionProducts, events.OpUpdated, resp.Product.ID, "", resp.Movement.CreatedAt))
	return resp, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var products []domain.Product
	err := s.execute(ctx, "list_products", func(ctx context.Context) error {
		var err error
		products, err = s.repo.ListProducts(ctx)
		return err
	})
	return products, err
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var product domain.Product
	err := s.execute(ctx, "get_product", func(ctx context.Context) error {
		found, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
		if err != nil {
			return err
		}
		product = *found
		return nil
	})
	return product, err
}

func (s *Service) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	productID = strings.TrimSpace(productID)

	var movements []domain.StockMovement
	err := s.execute(ctx, "list_stock_movements", func(ctx context.Context) error {
		if productID != "" {
			if _, err := s.repo.GetProduct(ctx, productID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("product %s: %w", productID, err)
				}
				return err
			}
		}
		var err error
		movements, err = s.repo.ListStockMovements(ctx, productID, limitOrDefault(limit, 200))
		return err
	})
	return movements, err
}

// LowStock lists active products at or below their reorder point.
func (s *Service) LowStock(ctx context.Context) ([]domain.Product, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	low := make([]domain.Product, 0, len(products))
	for _, product := range products {
		if product.StockBalance <= product.ReorderPoint {
			low = append(low, product)
		}
	}
	return low, nil
}
