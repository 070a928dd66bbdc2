package service

import (
	"context"

	"kedaipos/backend/internal/domain"
	"kedaipos/backend/internal/store"
	"kedaipos/backend/internal/xid"
)

const (
	CategorySales      = "sales"
	CategoryCredit     = "credit"
	CategoryPurchasing = "purchasing"
	CategoryReturns    = "returns"
	CategoryInventory  = "inventory"
)

type activity struct {
	eventType  string
	category   string
	entityType string
	entityID   string
	message    string
	payload    map[string]any
}

// logActivity appends an audit entry inside the caller's unit of work, so it
// rolls back with the change it describes.
func (s *Service) logActivity(ctx context.Context, tx store.Tx, actor domain.Actor, a activity) error {
	return tx.InsertAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		EventType:     a.eventType,
		Category:      a.category,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		EntityType:    a.entityType,
		EntityID:      a.entityID,
		Message:       a.message,
		Payload:       a.payload,
		CreatedAt:     s.now(),
	})
}

func (s *Service) ListAuditLogs(ctx context.Context, filter store.AuditFilter) ([]domain.AuditLog, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	filter.Limit = limitOrDefault(filter.Limit, 100)

	var entries []domain.AuditLog
	err := s.execute(ctx, "list_audit_logs", func(ctx context.Context) error {
		var err error
		entries, err = s.repo.ListAuditLogs(ctx, filter)
		return err
	})
	return entries, err
}
