package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/ayo6706/saldo-exchange/internal/gateway"
	"github.com/ayo6706/saldo-exchange/internal/service"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// WebhookHandler receives gateway IPN callbacks.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler instance.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookSvc: webhookSvc,
	}
}

type ipnFunc func(ctx context.Context, payload []byte, signature string) (*service.WebhookResponse, error)

// HandlePaymentIPN handles POST /v1/webhooks/gateway/payments.
func (h *WebhookHandler) HandlePaymentIPN(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "payment", h.webhookSvc.HandlePaymentIPN)
}

// HandlePayoutIPN handles POST /v1/webhooks/gateway/payouts.
func (h *WebhookHandler) HandlePayoutIPN(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "payout", h.webhookSvc.HandlePayoutIPN)
}

// handle verifies the body exactly as received, so it must not be decoded first.
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, kind string, fn ipnFunc) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		zap.L().Error("read webhook body failed", zap.String("kind", kind), zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	signature := r.Header.Get(gateway.SignatureHeader)
	if signature == "" {
		RespondError(w, r, http.StatusUnauthorized, "webhook/missing-signature", "Missing signature")
		return
	}

	res, err := fn(r.Context(), body, signature)
	if err != nil {
		respondServiceError(w, r, err, "webhook/processing-failed", kind+" webhook")
		return
	}
	RespondJSON(w, http.StatusOK, res)
}
