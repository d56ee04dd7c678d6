package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/api/middleware"
	"github.com/ayo6706/saldo-exchange/internal/api/problem"
	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/gateway"
	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/ayo6706/saldo-exchange/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	rateRetryAfter = 30 * time.Second
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string, opts ...problem.Option) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message, opts...)
}

func requestActor(r *http.Request) (uuid.UUID, bool, error) {
	actorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, false, errors.New("missing user in auth context")
	}
	return actorID, middleware.UserRoleFromContext(r.Context()) == domain.RoleAdmin, nil
}

// respondServiceError maps service sentinels to problem responses. Anything
// unrecognised is logged and reported as a 500 under fallback.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, fallback, op string) {
	var opts []problem.Option
	if code := chi.URLParam(r, "code"); code != "" {
		opts = append(opts, problem.WithOrder(code))
	}
	fail := func(status int, slug, msg string) {
		RespondError(w, r, status, slug, msg, opts...)
	}

	switch {
	case errors.Is(err, service.ErrValidation):
		fail(http.StatusBadRequest, "order/invalid-request", err.Error())
	case errors.Is(err, service.ErrBelowMinimum):
		fail(http.StatusUnprocessableEntity, "order/below-minimum", err.Error())
	case errors.Is(err, service.ErrDuplicateOrder):
		fail(http.StatusConflict, "order/duplicate", err.Error())
	case errors.Is(err, service.ErrInsufficientFunds):
		fail(http.StatusUnprocessableEntity, "saldo/insufficient-funds", "saldo is insufficient for this order")
	case errors.Is(err, service.ErrPayoutFailed):
		fail(http.StatusBadGateway, "order/payout-failed", "payout could not be sent, the order was cancelled and saldo has been returned")
	case errors.Is(err, service.ErrOrderNotFound):
		fail(http.StatusNotFound, "order/not-found", "Order not found")
	case errors.Is(err, service.ErrForbidden):
		fail(http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
	case errors.Is(err, service.ErrInvalidSignature):
		fail(http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
	case errors.Is(err, service.ErrProofNotAllowed):
		fail(http.StatusConflict, "proof/not-allowed", err.Error())
	case errors.Is(err, service.ErrUnsupportedFile):
		fail(http.StatusUnsupportedMediaType, "proof/unsupported-type", "proof must be a JPEG, PNG, WebP or PDF file")
	case errors.Is(err, service.ErrFileTooLarge):
		fail(http.StatusRequestEntityTooLarge, "proof/too-large", err.Error())
	case errors.Is(err, models.ErrUserNotFound):
		fail(http.StatusNotFound, "user/not-found", "User not found")
	case errors.Is(err, gateway.ErrNotFound):
		fail(http.StatusBadGateway, "gateway/not-found", "the gateway has no record of this transaction yet")
	case errors.Is(err, gateway.ErrUnsupportedNetwork):
		fail(http.StatusUnprocessableEntity, "order/unsupported-network", err.Error())
	case errors.Is(err, service.ErrRateUnavailable):
		RespondError(w, r, http.StatusServiceUnavailable, "rates/unavailable", "exchange rate is temporarily unavailable",
			append(opts, problem.WithRetryAfter(rateRetryAfter))...)
	default:
		if status, pType, msg, ok := mapDBError(err); ok {
			fail(status, pType, msg)
			return
		}
		zap.L().Error(op+" failed", zap.Error(err), zap.String("trace_id", middleware.TraceIDFromContext(r.Context())))
		fail(http.StatusInternalServerError, fallback, "internal error")
	}
}

func pagination(r *http.Request) (limit, offset int, ok bool) {
	limit, offset = defaultPageSize, 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return 0, 0, false
		}
		limit = min(parsed, maxPageSize)
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return 0, 0, false
		}
		offset = parsed
	}
	return limit, offset, true
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
