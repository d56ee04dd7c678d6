package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"go.uber.org/zap"
)

// SweepSummary reports one expiry pass.
type SweepSummary struct {
	Scanned        int      `json:"scanned"`
	Expired        int      `json:"expired"`
	PartialCredits int      `json:"partial_credits"`
	Skipped        int      `json:"skipped"`
	Errors         int      `json:"errors"`
	Orders         []string `json:"orders,omitempty"`
}

// ExpiryService closes sell orders whose payment or proof window passed.
type ExpiryService struct {
	store      QueryStore
	settlement *SettlementService
	now        func() time.Time
}

func NewExpiryService(store QueryStore, settlement *SettlementService) *ExpiryService {
	return &ExpiryService{
		store:      store,
		settlement: settlement,
		now:        time.Now,
	}
}

// Sweep expires up to limit eligible orders. Buy orders and orders with
// uploaded proof are never selected, and the planner re-checks both under lock.
func (s *ExpiryService) Sweep(ctx context.Context, limit int32) (*SweepSummary, error) {
	rows, err := s.store.Queries().ListExpiredSellOrders(ctx, s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("list expired orders: %w", err)
	}

	summary := &SweepSummary{}
	for _, row := range rows {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Scanned++
		res, err := s.settlement.ApplyTerminalTransition(ctx, repository.OrderRef{ID: row.ID},
			domain.Outcome{Kind: domain.OutcomeExpired, Reason: "window_elapsed"}, domain.SourceSweeper, nil)
		if err != nil {
			summary.Errors++
			zap.L().Warn("expire order failed", zap.String("order_code", row.Code), zap.Error(err))
			continue
		}
		switch {
		case !res.Applied:
			summary.Skipped++
		case res.Status == domain.StatusCompleted:
			summary.PartialCredits++
			summary.Orders = append(summary.Orders, row.Code)
		default:
			summary.Expired++
			summary.Orders = append(summary.Orders, row.Code)
		}
	}

	if summary.Scanned > 0 {
		zap.L().Info("expiry sweep finished",
			zap.Int("scanned", summary.Scanned),
			zap.Int("expired", summary.Expired),
			zap.Int("partial_credits", summary.PartialCredits),
			zap.Int("errors", summary.Errors))
	}
	return summary, nil
}
