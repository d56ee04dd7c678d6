package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderUpdate is pushed to the owning user's open sockets.
type OrderUpdate struct {
	Type       string    `json:"type"`
	OrderCode  string    `json:"order_code"`
	Status     string    `json:"status"`
	PrevStatus string    `json:"prev_status,omitempty"`
	Note       string    `json:"note,omitempty"`
	At         time.Time `json:"at"`
}

type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]map[*Client]struct{}),
	}
}

func (h *Hub) Register(userID uuid.UUID, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*Client]struct{})
	}
	h.clients[userID][client] = struct{}{}
}

func (h *Hub) Unregister(userID uuid.UUID, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		return
	}
	delete(h.clients[userID], client)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// Connections returns the number of open sockets for userID.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Broadcast queues update on every socket of userID. Slow clients drop messages.
func (h *Hub) Broadcast(userID uuid.UUID, update OrderUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		zap.L().Error("marshal order update", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.send <- payload:
		default:
		}
	}
}

// Notify forwards customer events for registered users.
func (h *Hub) Notify(_ context.Context, ev notify.Event) error {
	if ev.Audience != notify.AudienceCustomer || ev.UserID == uuid.Nil {
		return nil
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	h.Broadcast(ev.UserID, OrderUpdate{
		Type:       string(ev.Kind),
		OrderCode:  ev.OrderCode,
		Status:     ev.Status.String(),
		PrevStatus: ev.PrevStatus.String(),
		Note:       ev.Note,
		At:         at,
	})
	return nil
}
