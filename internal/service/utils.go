package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/ayo6706/saldo-exchange/internal/notify"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const notifyTimeout = 10 * time.Second

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

// dispatch delivers events after the triggering transaction committed.
// Failures are logged and never returned.
func dispatch(ctx context.Context, n notify.Notifier, events ...notify.Event) {
	if n == nil || len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	for _, ev := range events {
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = time.Now().UTC()
		}
		if err := n.Notify(ctx, ev); err != nil {
			zap.L().Warn("notification failed",
				zap.String("kind", string(ev.Kind)),
				zap.String("audience", string(ev.Audience)),
				zap.String("order_code", ev.OrderCode),
				zap.Error(err))
		}
	}
}

// recipientFor resolves the customer email for an order.
func recipientFor(ctx context.Context, q *repository.Queries, o *models.Order) string {
	if !o.UserID.Valid {
		return o.GuestEmail
	}
	u, err := q.GetUser(ctx, o.UserID.UUID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			zap.L().Warn("load order owner", zap.String("order_code", o.Code), zap.Error(err))
		}
		return o.GuestEmail
	}
	return u.Email
}

func customerEvent(kind notify.Kind, o *models.Order, recipient string) notify.Event {
	ev := notify.Event{
		Kind:      kind,
		Audience:  notify.AudienceCustomer,
		OrderCode: o.Code,
		Recipient: recipient,
		Status:    o.Status,
		AmountIDR: o.AmountIDR,
		Note:      o.PaymentNote,
	}
	if o.UserID.Valid {
		ev.UserID = o.UserID.UUID
	}
	return ev
}

func adminEvent(kind notify.Kind, o *models.Order) notify.Event {
	ev := customerEvent(kind, o, "")
	ev.Audience = notify.AudienceAdmin
	return ev
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
