package handler

import (
	"net/http"

	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/ayo6706/saldo-exchange/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type BalanceHandler struct {
	orders *service.OrderService
	repo   *repository.Repository
}

func NewBalanceHandler(orders *service.OrderService, repo *repository.Repository) *BalanceHandler {
	return &BalanceHandler{orders: orders, repo: repo}
}

type balanceResponse struct {
	UserID   string          `json:"user_id"`
	Saldo    decimal.Decimal `json:"saldo"`
	Currency string          `json:"currency"`
}

// GetBalance handles GET /v1/me/balance.
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	saldo, err := h.orders.GetSaldo(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err, "saldo/read-failed", "get balance")
		return
	}
	RespondJSON(w, http.StatusOK, balanceResponse{UserID: actorID.String(), Saldo: saldo, Currency: "IDR"})
}

// GetStatement handles GET /v1/me/saldo-entries: the journal of debits,
// credits and refunds behind the balance.
func (h *BalanceHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	limit, offset, ok := pagination(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-pagination", "limit must be positive and offset non-negative")
		return
	}
	entries, err := h.repo.ListSaldoEntries(r.Context(), actorID, limit, offset)
	if err != nil {
		zap.L().Error("get statement failed", zap.Error(err), zap.String("user_id", actorID.String()))
		RespondError(w, r, http.StatusInternalServerError, "saldo/statement-read-failed", "Failed to get statement")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  entries,
		"limit":  limit,
		"offset": offset,
		"count":  len(entries),
	})
}
