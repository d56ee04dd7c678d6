package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/ayo6706/saldo-exchange/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxOrderBody = 16 << 10

// OrderHandler serves the customer order endpoints.
type OrderHandler struct {
	orders *service.OrderService
	poll   *service.PollService
	audit  *service.AuditService
	repo   *repository.Repository
}

func NewOrderHandler(orders *service.OrderService, poll *service.PollService, audit *service.AuditService, repo *repository.Repository) *OrderHandler {
	return &OrderHandler{orders: orders, poll: poll, audit: audit, repo: repo}
}

// CreateOrder handles POST /v1/orders.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req service.CreateOrderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.UserID = actorID

	order, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		respondServiceError(w, r, err, "order/create-failed", "create order")
		return
	}
	RespondJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /v1/orders/{code}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	order, err := h.orders.GetOrder(r.Context(), actorID, chi.URLParam(r, "code"))
	if err != nil {
		respondServiceError(w, r, err, "order/read-failed", "get order")
		return
	}
	RespondJSON(w, http.StatusOK, order)
}

// ListOrders handles GET /v1/orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
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
	orders, err := h.repo.ListUserOrders(r.Context(), actorID, limit, offset)
	if err != nil {
		zap.L().Error("list orders failed", zap.Error(err), zap.String("user_id", actorID.String()))
		RespondError(w, r, http.StatusInternalServerError, "order/list-failed", "Failed to list orders")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items":  orders,
		"limit":  limit,
		"offset": offset,
		"count":  len(orders),
	})
}

// CheckOrder handles POST /v1/orders/{code}/check: the customer asks us to
// re-query the gateway instead of waiting for the IPN.
func (h *OrderHandler) CheckOrder(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	res, err := h.poll.CheckOrder(r.Context(), actorID, chi.URLParam(r, "code"))
	if err != nil {
		respondServiceError(w, r, err, "order/check-failed", "check order")
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// History handles GET /v1/orders/{code}/history.
func (h *OrderHandler) History(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	order, err := h.orders.GetOrder(r.Context(), actorID, chi.URLParam(r, "code"))
	if err != nil {
		respondServiceError(w, r, err, "order/read-failed", "get order")
		return
	}
	rows, err := h.audit.History(r.Context(), order.ID)
	if err != nil {
		zap.L().Error("order history failed", zap.Error(err), zap.String("order_code", order.Code))
		RespondError(w, r, http.StatusInternalServerError, "order/history-failed", "Failed to read order history")
		return
	}
	items := make([]historyEntry, 0, len(rows))
	for _, row := range rows {
		e := historyEntry{ID: row.ID, Action: row.Action, From: row.PrevState, To: row.NextState}
		if len(row.Metadata) > 0 {
			e.Metadata = json.RawMessage(row.Metadata)
		}
		items = append(items, e)
	}
	RespondJSON(w, http.StatusOK, map[string]any{"order_code": order.Code, "items": items})
}

type historyEntry struct {
	ID       int64           `json:"id"`
	Action   string          `json:"action"`
	From     *string         `json:"from,omitempty"`
	To       *string         `json:"to,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}
