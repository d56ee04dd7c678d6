package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/google/uuid"
)

// advanceOrderState moves an order between non-terminal states under a row lock.
// It returns false when the order already left the states that may reach next.
func advanceOrderState(ctx context.Context, qtx *repository.Queries, audit *AuditService, orderID uuid.UUID, next domain.Status, actorID *uuid.UUID, action string, metadata map[string]any) (bool, error) {
	if next.IsTerminal() {
		return false, fmt.Errorf("terminal status %s must go through settlement", next)
	}
	order, err := qtx.GetOrderByIDForUpdate(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("get current order state: %w", err)
	}
	if order.Status == next {
		return false, nil
	}
	if !domain.CanTransition(order.Status, next) {
		return false, nil
	}

	rows, err := qtx.TransitionOrder(ctx, repository.TransitionOrderParams{
		ID:          orderID,
		Target:      next,
		AllowedFrom: domain.AllowedFrom(next),
	})
	if err != nil {
		return false, fmt.Errorf("update order state: %w", err)
	}
	if err := requireExactlyOne(rows, "update order state"); err != nil {
		return false, err
	}

	if err := audit.Write(ctx, qtx, entityOrder, orderID, actorID, action, order.Status.String(), next.String(), metadata); err != nil {
		return false, err
	}
	return true, nil
}
