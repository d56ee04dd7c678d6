package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/gateway"
	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/ayo6706/saldo-exchange/internal/observability"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	webhookPayment = "payment"
	webhookPayout  = "payout"
)

// WebhookResponse is returned to the gateway after an IPN was processed.
type WebhookResponse struct {
	OrderCode string        `json:"order_code"`
	Status    domain.Status `json:"status"`
	Applied   bool          `json:"applied"`
	Message   string        `json:"message"`
}

// WebhookService handles gateway IPN deliveries.
type WebhookService struct {
	store      QueryStore
	verifier   *gateway.IPNVerifier
	settlement *SettlementService
}

func NewWebhookService(store QueryStore, verifier *gateway.IPNVerifier, settlement *SettlementService) *WebhookService {
	return &WebhookService{
		store:      store,
		verifier:   verifier,
		settlement: settlement,
	}
}

// HandlePaymentIPN processes a deposit status update for a sell order.
func (s *WebhookService) HandlePaymentIPN(ctx context.Context, payload []byte, signature string) (*WebhookResponse, error) {
	if err := s.verifier.Verify(payload, signature); err != nil {
		observability.IncrementWebhook(webhookPayment, "invalid_signature")
		return nil, ErrInvalidSignature
	}
	ipn, err := gateway.ParsePaymentIPN(payload)
	if err != nil {
		observability.IncrementWebhook(webhookPayment, "invalid_payload")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	st := ipn.Status()
	ref := repository.OrderRef{Code: st.OrderCode, GatewayID: st.ID}
	mirror := repository.MirrorGatewayStatusParams{
		PaymentStatus: strPtr(st.Status),
		ActuallyPaid:  st.ActuallyPaid,
	}
	return s.handle(ctx, webhookPayment, ref, mirror, st.Status, st.ActuallyPaid)
}

// HandlePayoutIPN processes a withdrawal status update for a buy order.
func (s *WebhookService) HandlePayoutIPN(ctx context.Context, payload []byte, signature string) (*WebhookResponse, error) {
	if err := s.verifier.Verify(payload, signature); err != nil {
		observability.IncrementWebhook(webhookPayout, "invalid_signature")
		return nil, ErrInvalidSignature
	}
	ipn, err := gateway.ParsePayoutIPN(payload)
	if err != nil {
		observability.IncrementWebhook(webhookPayout, "invalid_payload")
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	st := ipn.Status()
	ref := repository.OrderRef{Code: ipn.OrderCode(), GatewayID: st.ID, BatchID: st.BatchID}
	mirror := repository.MirrorGatewayStatusParams{
		PayoutStatus: strPtr(st.Status),
		PayoutHash:   strPtr(st.Hash),
		GatewayError: strPtr(st.Error),
	}
	return s.handle(ctx, webhookPayout, ref, mirror, st.Status, decimal.NullDecimal{})
}

func (s *WebhookService) handle(ctx context.Context, kind string, ref repository.OrderRef, mirror repository.MirrorGatewayStatusParams, status string, paid decimal.NullDecimal) (*WebhookResponse, error) {
	order, err := s.store.Queries().FindOrder(ctx, ref)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			observability.IncrementWebhook(kind, "not_found")
			zap.L().Warn("ipn for unknown order", zap.String("kind", kind), zap.String("ref", ref.String()))
			return nil, ErrOrderNotFound
		}
		observability.IncrementWebhook(kind, "error")
		return nil, err
	}

	res, err := applyGatewayStatus(ctx, s.store.Queries(), s.settlement, order, mirror, status, paid, domain.SourceWebhook)
	if err != nil {
		observability.IncrementWebhook(kind, "error")
		return nil, err
	}
	if res.Applied {
		observability.IncrementWebhook(kind, "applied")
	} else {
		observability.IncrementWebhook(kind, "mirrored")
	}
	return res, nil
}

// applyGatewayStatus mirrors upstream fields unconditionally, then routes
// terminal statuses through the settlement service. Shared by webhook and poll feeds.
func applyGatewayStatus(ctx context.Context, q *repository.Queries, settlement *SettlementService, order *models.Order, mirror repository.MirrorGatewayStatusParams, status string, paid decimal.NullDecimal, source string) (*WebhookResponse, error) {
	mirror.ID = order.ID
	if _, err := q.MirrorGatewayStatus(ctx, mirror); err != nil {
		return nil, fmt.Errorf("mirror gateway status: %w", err)
	}

	resp := &WebhookResponse{OrderCode: order.Code, Status: order.Status, Message: "status recorded"}
	kind, terminal := gateway.Classify(status)
	if !terminal {
		return resp, nil
	}

	res, err := settlement.ApplyTerminalTransition(ctx, repository.OrderRef{ID: order.ID}, domain.Outcome{
		Kind:         kind,
		ActuallyPaid: paid,
		Reason:       "gateway_" + status,
	}, source, nil)
	if err != nil {
		return nil, err
	}
	resp.Status = res.Status
	resp.Applied = res.Applied
	if res.Applied {
		resp.Message = "order " + res.Status.String()
	} else {
		resp.Message = "no change: " + res.Reason
	}
	return resp, nil
}
