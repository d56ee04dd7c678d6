package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const entityOrder = "order"

// AuditService writes immutable audit trail entries.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write stores a single immutable audit record inside the caller's transaction.
func (s *AuditService) Write(ctx context.Context, qtx *repository.Queries, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, metadata map[string]any) error {
	var actor pgtype.UUID
	if actorID != nil {
		actor = repository.ToPgUUID(*actorID)
	}

	var raw []byte
	if len(metadata) > 0 {
		var err error
		if raw, err = json.Marshal(metadata); err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	if _, err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   repository.ToPgUUID(entityID),
		ActorID:    actor,
		Action:     action,
		PrevState:  strPtr(prevState),
		NextState:  strPtr(nextState),
		Metadata:   raw,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// History returns the audit trail of an order, oldest first.
func (s *AuditService) History(ctx context.Context, orderID uuid.UUID) ([]repository.AuditLogRow, error) {
	return s.store.Queries().ListAuditLog(ctx, entityOrder, repository.ToPgUUID(orderID))
}
