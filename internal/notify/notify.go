package notify

import (
	"context"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Kind string

const (
	KindOrderCreated  Kind = "order_created"
	KindStatusChanged Kind = "order_status_changed"
	KindProofUploaded Kind = "proof_uploaded"
	KindOrderExpired  Kind = "order_expired"
)

type Audience string

const (
	AudienceCustomer Audience = "customer"
	AudienceAdmin    Audience = "admin"
)

// Attachment points at a stored file; relays read it when delivering.
type Attachment struct {
	Name string
	MIME string
	Path string
}

// Event is a single message about an order. UserID is uuid.Nil for guest orders.
type Event struct {
	Kind       Kind
	Audience   Audience
	OrderCode  string
	UserID     uuid.UUID
	Recipient  string
	Status     domain.Status
	PrevStatus domain.Status
	AmountIDR  decimal.Decimal
	Note       string
	Links      map[string]string
	Attachment *Attachment
	OccurredAt time.Time
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the global logger. Used when no relay is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("kind", string(ev.Kind)),
		zap.String("audience", string(ev.Audience)),
		zap.String("order_code", ev.OrderCode),
		zap.String("status", ev.Status.String()),
	}
	if ev.Recipient != "" {
		fields = append(fields, zap.String("recipient", ev.Recipient))
	}
	if ev.Note != "" {
		fields = append(fields, zap.String("note", ev.Note))
	}
	if len(ev.Links) > 0 {
		fields = append(fields, zap.Any("links", ev.Links))
	}
	zap.L().Info("notification", fields...)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var err error
	for _, n := range m {
		if n == nil {
			continue
		}
		err = multierr.Append(err, n.Notify(ctx, ev))
	}
	return err
}

// Discard drops every event.
type Discard struct{}

func (Discard) Notify(context.Context, Event) error { return nil }
