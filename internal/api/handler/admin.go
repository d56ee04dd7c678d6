package handler

import (
	"net/http"
	"net/url"

	"github.com/ayo6706/saldo-exchange/internal/admintoken"
	"github.com/ayo6706/saldo-exchange/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminHandler serves the one-click links sent to the admin by email.
type AdminHandler struct {
	actions    *service.AdminActionService
	integrity  *service.IntegrityService
	landingURL string
}

func NewAdminHandler(actions *service.AdminActionService, integrity *service.IntegrityService, landingURL string) *AdminHandler {
	return &AdminHandler{actions: actions, integrity: integrity, landingURL: landingURL}
}

// Integrity handles GET /v1/admin/integrity (admin only).
func (h *AdminHandler) Integrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.integrity.Run(r.Context())
	if err != nil {
		zap.L().Error("integrity check failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "admin/integrity-failed", "integrity check failed")
		return
	}
	status := http.StatusOK
	if !report.Clean() {
		status = http.StatusConflict
	}
	RespondJSON(w, status, report)
}

// Complete handles GET /admin/orders/{code}/complete.
func (h *AdminHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, admintoken.ActionComplete)
}

// Reject handles GET /admin/orders/{code}/reject.
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, admintoken.ActionReject)
}

func (h *AdminHandler) run(w http.ResponseWriter, r *http.Request, action string) {
	code := chi.URLParam(r, "code")
	actorID, _, err := requestActor(r)
	if err != nil {
		h.Redirect(w, r, service.ResultUnauthorized)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		h.Redirect(w, r, service.ResultInvalidToken)
		return
	}
	h.Redirect(w, r, h.actions.Execute(r.Context(), code, action, token, actorID))
}

// Redirect sends the browser to the landing page with result and order code.
// It doubles as the failure hook of the admin session middleware.
func (h *AdminHandler) Redirect(w http.ResponseWriter, r *http.Request, result string) {
	target, err := url.Parse(h.landingURL)
	if err != nil || h.landingURL == "" {
		RespondJSON(w, http.StatusOK, map[string]string{"result": result, "order": chi.URLParam(r, "code")})
		return
	}
	q := target.Query()
	q.Set("result", result)
	if code := chi.URLParam(r, "code"); code != "" {
		q.Set("order", code)
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}
