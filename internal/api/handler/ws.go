package handler

import (
	"net/http"

	"github.com/ayo6706/saldo-exchange/internal/websocket"
	gorilla "github.com/gorilla/websocket"
)

// OrderStreamHandler upgrades to a websocket that pushes the caller's order updates.
type OrderStreamHandler struct {
	hub      *websocket.Hub
	upgrader gorilla.Upgrader
}

func NewOrderStreamHandler(hub *websocket.Hub, allowedOrigins []string) *OrderStreamHandler {
	return &OrderStreamHandler{hub: hub, upgrader: websocket.Upgrader(allowedOrigins)}
}

// Stream handles GET /v1/ws/orders.
func (h *OrderStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	websocket.ServeWS(w, r, h.upgrader, h.hub, actorID)
}
