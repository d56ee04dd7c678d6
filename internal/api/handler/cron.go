package handler

import (
	"net/http"
	"strconv"

	"github.com/ayo6706/saldo-exchange/internal/service"
	"go.uber.org/zap"
)

// CronHandler exposes the background jobs to an external scheduler.
type CronHandler struct {
	expiry    *service.ExpiryService
	poll      *service.PollService
	batchSize int32
}

func NewCronHandler(expiry *service.ExpiryService, poll *service.PollService, batchSize int32) *CronHandler {
	return &CronHandler{expiry: expiry, poll: poll, batchSize: batchSize}
}

func (h *CronHandler) limit(r *http.Request) (int32, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return h.batchSize, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 1000 {
		return 0, false
	}
	return int32(n), true
}

// ExpireOrders handles POST /v1/cron/expire-orders.
func (h *CronHandler) ExpireOrders(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be between 1 and 1000")
		return
	}
	summary, err := h.expiry.Sweep(r.Context(), limit)
	if err != nil {
		zap.L().Error("cron expiry sweep failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "cron/sweep-failed", "expiry sweep failed")
		return
	}
	RespondJSON(w, http.StatusOK, summary)
}

// CheckPayouts handles POST /v1/cron/check-payouts.
func (h *CronHandler) CheckPayouts(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(r)
	if !ok {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be between 1 and 1000")
		return
	}
	summary, err := h.poll.CheckOutstanding(r.Context(), limit)
	if err != nil {
		zap.L().Error("cron gateway poll failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "cron/poll-failed", "gateway poll failed")
		return
	}
	RespondJSON(w, http.StatusOK, summary)
}
