package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/saldo-exchange/internal/observability"
	"go.uber.org/zap"
)

const integritySampleLimit = 100

// IntegrityReport lists saldo invariant violations found in one run.
type IntegrityReport struct {
	NegativeBalances   int64    `json:"negative_balances"`
	SellsMissingCredit []string `json:"sells_missing_credit,omitempty"`
	RefundsMissing     []string `json:"refunds_missing,omitempty"`
}

// Clean reports whether no violation was found.
func (r *IntegrityReport) Clean() bool {
	return r.NegativeBalances == 0 && len(r.SellsMissingCredit) == 0 && len(r.RefundsMissing) == 0
}

// IntegrityService verifies saldo journal invariants.
type IntegrityService struct {
	store QueryStore
}

func NewIntegrityService(store QueryStore) *IntegrityService {
	return &IntegrityService{store: store}
}

// Run checks balances are non-negative, every completed sell was credited and
// every failed or cancelled saldo-paid buy was refunded.
func (s *IntegrityService) Run(ctx context.Context) (*IntegrityReport, error) {
	queries := s.store.Queries()
	report := &IntegrityReport{}

	neg, err := queries.CountNegativeSaldo(ctx)
	if err != nil {
		return nil, fmt.Errorf("count negative saldo: %w", err)
	}
	report.NegativeBalances = neg

	if report.SellsMissingCredit, err = queries.ListCompletedSellsMissingCredit(ctx, integritySampleLimit); err != nil {
		return nil, fmt.Errorf("list sells missing credit: %w", err)
	}
	if report.RefundsMissing, err = queries.ListRefundableBuysMissingRefund(ctx, integritySampleLimit); err != nil {
		return nil, fmt.Errorf("list buys missing refund: %w", err)
	}

	if report.Clean() {
		zap.L().Info("saldo journal consistent")
		return report, nil
	}

	observability.AddIntegrityViolations("negative_balance", int(report.NegativeBalances))
	observability.AddIntegrityViolations("sell_missing_credit", len(report.SellsMissingCredit))
	observability.AddIntegrityViolations("buy_missing_refund", len(report.RefundsMissing))
	zap.L().Error("CRITICAL: saldo integrity violation detected",
		zap.Int64("negative_balances", report.NegativeBalances),
		zap.Strings("sells_missing_credit", report.SellsMissingCredit),
		zap.Strings("refunds_missing", report.RefundsMissing))
	return report, nil
}
