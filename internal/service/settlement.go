package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/ayo6706/saldo-exchange/internal/notify"
	"github.com/ayo6706/saldo-exchange/internal/observability"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransitionResult reports what ApplyTerminalTransition did.
// Applied is false for duplicate deliveries and outcomes that do not move the order.
type TransitionResult struct {
	OrderID      uuid.UUID       `json:"-"`
	OrderCode    string          `json:"order_code"`
	Applied      bool            `json:"applied"`
	Reason       string          `json:"reason,omitempty"`
	PrevStatus   domain.Status   `json:"prev_status"`
	Status       domain.Status   `json:"status"`
	LedgerKind   string          `json:"ledger_kind,omitempty"`
	LedgerAmount decimal.Decimal `json:"ledger_amount"`
	Note         string          `json:"payment_note,omitempty"`
}

// SettlementService is the single writer of terminal order transitions.
// Webhooks, polling, the expiry sweeper, admin actions and creation compensation all go through it.
type SettlementService struct {
	store    QueryStore
	audit    *AuditService
	policy   domain.SettlementPolicy
	notifier notify.Notifier
	now      func() time.Time
}

func NewSettlementService(store QueryStore, policy domain.SettlementPolicy, notifier notify.Notifier) *SettlementService {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &SettlementService{
		store:    store,
		audit:    NewAuditService(store),
		policy:   policy,
		notifier: notifier,
		now:      time.Now,
	}
}

// ApplyTerminalTransition locks the order, plans the transition and applies status,
// saldo journal, saldo balance and audit row in one transaction. A guarded update
// that matches zero rows turns the call into a no-op.
func (s *SettlementService) ApplyTerminalTransition(ctx context.Context, ref repository.OrderRef, out domain.Outcome, source string, actorID *uuid.UUID) (*TransitionResult, error) {
	res := &TransitionResult{}
	var settled *models.Order

	err := s.store.RunInTx(ctx, func(qtx *repository.Queries) error {
		found, err := qtx.FindOrder(ctx, ref)
		if err != nil {
			return err
		}
		order, err := qtx.GetOrderByIDForUpdate(ctx, found.ID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		res.OrderID = order.ID
		res.OrderCode = order.Code
		res.PrevStatus = order.Status
		res.Status = order.Status

		plan := domain.PlanTransition(order.State(), out, s.now(), s.policy)
		if plan.Noop {
			res.Reason = plan.Reason
			return nil
		}

		params := repository.TransitionOrderParams{
			ID:          order.ID,
			Target:      plan.Target,
			AllowedFrom: domain.AllowedFrom(plan.Target),
			PaymentNote: plan.Note,
		}
		if plan.HasLedgerEffect() {
			params.SettledIDR = decimal.NewNullDecimal(plan.LedgerAmount)
		}
		if plan.ActuallyPaid.IsPositive() {
			params.ActuallyPaid = decimal.NewNullDecimal(plan.ActuallyPaid)
		}
		rows, err := qtx.TransitionOrder(ctx, params)
		if err != nil {
			return fmt.Errorf("transition order: %w", err)
		}
		if rows == 0 {
			res.Reason = "concurrent_update"
			return nil
		}

		if plan.HasLedgerEffect() {
			applied, err := s.applyLedger(ctx, qtx, order, plan)
			if err != nil {
				return err
			}
			if applied {
				res.LedgerKind = plan.LedgerKind
				res.LedgerAmount = plan.LedgerAmount
			}
		}

		meta := map[string]any{
			"source":  source,
			"outcome": out.Kind.String(),
		}
		if out.Reason != "" {
			meta["reason"] = out.Reason
		}
		if res.LedgerKind != "" {
			meta["ledger_kind"] = res.LedgerKind
			meta["ledger_amount"] = res.LedgerAmount.String()
		}
		if plan.Note != "" {
			meta["payment_note"] = plan.Note
		}
		if err := s.audit.Write(ctx, qtx, entityOrder, order.ID, actorID, "order."+source, order.Status.String(), plan.Target.String(), meta); err != nil {
			return err
		}

		res.Applied = true
		res.Status = plan.Target
		res.Note = plan.Note
		settled = order
		return nil
	})
	if err != nil {
		observability.IncrementSettlement(source, "", "error")
		return nil, err
	}

	if !res.Applied {
		observability.IncrementSettlement(source, res.Status.String(), "noop")
		zap.L().Debug("terminal transition skipped",
			zap.String("order_code", res.OrderCode),
			zap.String("source", source),
			zap.String("reason", res.Reason))
		return res, nil
	}

	observability.IncrementSettlement(source, res.Status.String(), "applied")
	if res.LedgerKind != "" {
		observability.IncrementLedgerMutation(res.LedgerKind)
	}
	zap.L().Info("order settled",
		zap.String("order_code", res.OrderCode),
		zap.String("source", source),
		zap.String("from", res.PrevStatus.String()),
		zap.String("to", res.Status.String()),
		zap.String("ledger_kind", res.LedgerKind),
		zap.String("ledger_amount", res.LedgerAmount.String()))

	settled.Status = res.Status
	settled.PaymentNote = res.Note
	kind := notify.KindStatusChanged
	if res.Status == domain.StatusExpired {
		kind = notify.KindOrderExpired
	}
	ev := customerEvent(kind, settled, recipientFor(ctx, s.store.Queries(), settled))
	ev.PrevStatus = res.PrevStatus
	if res.LedgerKind != "" {
		ev.AmountIDR = res.LedgerAmount
	}
	dispatch(ctx, s.notifier, ev)
	return res, nil
}

// applyLedger journals the mutation and moves the balance. The journal's
// UNIQUE(order_id, kind) makes a second credit or refund for one order a no-op.
func (s *SettlementService) applyLedger(ctx context.Context, qtx *repository.Queries, order *models.Order, plan domain.Plan) (bool, error) {
	if !order.UserID.Valid {
		zap.L().Warn("settled order has no owner, saldo untouched",
			zap.String("order_code", order.Code),
			zap.String("ledger_kind", plan.LedgerKind))
		return false, nil
	}
	userID := order.UserID.UUID

	rows, err := qtx.InsertSaldoEntry(ctx, repository.InsertSaldoEntryParams{
		UserID:  userID,
		OrderID: order.ID,
		Kind:    plan.LedgerKind,
		Amount:  plan.LedgerAmount,
	})
	if err != nil {
		return false, fmt.Errorf("journal %s: %w", plan.LedgerKind, err)
	}
	if rows == 0 {
		zap.L().Warn("saldo entry already journaled", zap.String("order_code", order.Code), zap.String("kind", plan.LedgerKind))
		return false, nil
	}

	rows, err = qtx.CreditSaldo(ctx, userID, plan.LedgerAmount)
	if err != nil {
		return false, fmt.Errorf("credit saldo: %w", err)
	}
	if err := requireExactlyOne(rows, "credit saldo"); err != nil {
		return false, err
	}
	return true, nil
}
