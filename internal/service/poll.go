package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/gateway"
	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PollSummary is the result of one pass over outstanding gateway orders.
type PollSummary struct {
	Checked int `json:"checked"`
	Applied int `json:"applied"`
	Errors  int `json:"errors"`
}

// PollService asks the gateway directly for orders whose IPN may have been lost.
type PollService struct {
	store      QueryStore
	gateway    gateway.Gateway
	settlement *SettlementService
	timeout    time.Duration
}

func NewPollService(store QueryStore, gw gateway.Gateway, settlement *SettlementService, timeout time.Duration) *PollService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PollService{
		store:      store,
		gateway:    gw,
		settlement: settlement,
		timeout:    timeout,
	}
}

// CheckOrder polls the gateway for one order owned by userID.
func (s *PollService) CheckOrder(ctx context.Context, userID uuid.UUID, code string) (*WebhookResponse, error) {
	order, err := s.store.Queries().GetOrderByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if !order.OwnedBy(userID) {
		return nil, ErrForbidden
	}
	return s.check(ctx, order)
}

// CheckOutstanding polls up to limit non-terminal orders that carry a gateway id.
func (s *PollService) CheckOutstanding(ctx context.Context, limit int32) (*PollSummary, error) {
	orders, err := s.store.Queries().ListOutstandingGatewayOrders(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list outstanding orders: %w", err)
	}
	summary := &PollSummary{}
	for i := range orders {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		res, err := s.check(ctx, &orders[i])
		if err != nil {
			summary.Errors++
			zap.L().Warn("poll order failed", zap.String("order_code", orders[i].Code), zap.Error(err))
			continue
		}
		if res.Applied {
			summary.Applied++
		}
	}
	return summary, nil
}

func (s *PollService) check(ctx context.Context, order *models.Order) (*WebhookResponse, error) {
	if order.Status.IsTerminal() {
		return &WebhookResponse{OrderCode: order.Code, Status: order.Status, Message: "order already " + order.Status.String()}, nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		mirror repository.MirrorGatewayStatusParams
		status string
		paid   decimal.NullDecimal
	)
	switch {
	case order.GatewayPayoutID != "":
		st, err := s.gateway.GetPayoutStatus(gctx, order.GatewayPayoutID)
		if err != nil {
			return nil, fmt.Errorf("payout status: %w", err)
		}
		status = st.Status
		mirror.PayoutStatus = strPtr(st.Status)
		mirror.PayoutHash = strPtr(st.Hash)
		mirror.GatewayError = strPtr(st.Error)
	case order.GatewayPaymentID != "":
		st, err := s.gateway.GetPaymentStatus(gctx, order.GatewayPaymentID)
		if err != nil {
			return nil, fmt.Errorf("payment status: %w", err)
		}
		status = st.Status
		paid = st.ActuallyPaid
		mirror.PaymentStatus = strPtr(st.Status)
		mirror.ActuallyPaid = st.ActuallyPaid
	default:
		return &WebhookResponse{OrderCode: order.Code, Status: order.Status, Message: "order has no gateway reference"}, nil
	}

	return applyGatewayStatus(ctx, s.store.Queries(), s.settlement, order, mirror, status, paid, domain.SourcePoll)
}
