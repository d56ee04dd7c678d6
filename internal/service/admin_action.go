package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/admintoken"
	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/ayo6706/saldo-exchange/internal/observability"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Admin action outcomes, passed to the landing page as ?result=.
const (
	ResultCompleted        = "completed"
	ResultRejected         = "rejected"
	ResultAlreadyCompleted = "already_completed"
	ResultAlreadyCancelled = "already_cancelled"
	ResultAlreadyExpired   = "already_expired"
	ResultAlreadyFailed    = "already_failed"
	ResultInvalidToken     = "invalid_token"
	ResultUnauthorized     = "unauthorized"
	ResultNotFound         = "not_found"
	ResultServerError      = "server_error"
)

// TokenLedger marks admin action tokens as used.
type TokenLedger interface {
	// Consume returns false when jti was already used.
	Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, jti string) error
}

const adminTokenKeyPrefix = "admin-action:jti:"

// RedisTokenLedger records used token ids with SETNX.
type RedisTokenLedger struct {
	redis redis.Cmdable
}

func NewRedisTokenLedger(client redis.Cmdable) *RedisTokenLedger {
	return &RedisTokenLedger{redis: client}
}

func (l *RedisTokenLedger) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	return l.redis.SetNX(ctx, adminTokenKeyPrefix+jti, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (l *RedisTokenLedger) Release(ctx context.Context, jti string) error {
	return l.redis.Del(ctx, adminTokenKeyPrefix+jti).Err()
}

// AdminActionService executes the complete/reject links sent to admins.
type AdminActionService struct {
	store      QueryStore
	signer     *admintoken.Signer
	ledger     TokenLedger
	settlement *SettlementService
	tokenTTL   time.Duration
}

func NewAdminActionService(store QueryStore, signer *admintoken.Signer, ledger TokenLedger, settlement *SettlementService, tokenTTL time.Duration) *AdminActionService {
	return &AdminActionService{
		store:      store,
		signer:     signer,
		ledger:     ledger,
		settlement: settlement,
		tokenTTL:   tokenTTL,
	}
}

func alreadyResult(status domain.Status) string {
	switch status {
	case domain.StatusCompleted:
		return ResultAlreadyCompleted
	case domain.StatusCancelled:
		return ResultAlreadyCancelled
	case domain.StatusExpired:
		return ResultAlreadyExpired
	case domain.StatusFailed:
		return ResultAlreadyFailed
	}
	return ""
}

// Execute runs action on the order named by code and returns a result code.
// It never returns an error; failures map to ResultServerError.
func (s *AdminActionService) Execute(ctx context.Context, code, action, token string, adminID uuid.UUID) string {
	result := s.execute(ctx, code, action, token, adminID)
	observability.IncrementAdminAction(action, result)
	zap.L().Info("admin action",
		zap.String("order_code", code),
		zap.String("action", action),
		zap.String("result", result),
		zap.String("admin_id", adminID.String()))
	return result
}

func (s *AdminActionService) execute(ctx context.Context, code, action, token string, adminID uuid.UUID) string {
	claims, err := s.signer.Verify(token, code, action)
	if err != nil {
		return ResultInvalidToken
	}

	first, err := s.ledger.Consume(ctx, claims.JTI(), s.tokenTTL)
	if err != nil {
		zap.L().Error("consume admin token", zap.String("order_code", code), zap.Error(err))
		return ResultServerError
	}

	order, err := s.store.Queries().GetOrderByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ResultNotFound
		}
		zap.L().Error("load order for admin action", zap.String("order_code", code), zap.Error(err))
		s.release(ctx, claims.JTI(), first)
		return ResultServerError
	}

	// A replayed link reports what the order became.
	if !first {
		if r := alreadyResult(order.Status); r != "" {
			return r
		}
		return ResultInvalidToken
	}
	if r := alreadyResult(order.Status); r != "" {
		return r
	}

	res, err := s.apply(ctx, order, action, adminID)
	if err != nil {
		zap.L().Error("admin action failed", zap.String("order_code", code), zap.Error(err))
		s.release(ctx, claims.JTI(), first)
		return ResultServerError
	}

	switch {
	case res.Applied && res.Status == domain.StatusCompleted:
		return ResultCompleted
	case res.Applied && res.Status == domain.StatusCancelled:
		return ResultRejected
	}
	if r := alreadyResult(res.Status); r != "" {
		return r
	}
	// Planner refused without a terminal state, e.g. a proof-less expired window on a buy.
	s.release(ctx, claims.JTI(), first)
	return ResultServerError
}

func (s *AdminActionService) apply(ctx context.Context, order *models.Order, action string, adminID uuid.UUID) (*TransitionResult, error) {
	var out domain.Outcome
	switch action {
	case admintoken.ActionComplete:
		out = domain.Outcome{Kind: domain.OutcomeSucceeded, CheckExpiry: true, Reason: "admin_complete"}
	case admintoken.ActionReject:
		out = domain.Outcome{Kind: domain.OutcomeRejected, Reason: "admin_reject"}
	default:
		return nil, fmt.Errorf("unknown admin action %q", action)
	}
	actor := adminID
	return s.settlement.ApplyTerminalTransition(ctx, repository.OrderRef{ID: order.ID}, out, domain.SourceAdmin, &actor)
}

func (s *AdminActionService) release(ctx context.Context, jti string, consumed bool) {
	if !consumed {
		return
	}
	if err := s.ledger.Release(context.WithoutCancel(ctx), jti); err != nil {
		zap.L().Warn("release admin token", zap.Error(err))
	}
}
