package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const readyTimeout = time.Second

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks []dependencyCheck
}

type dependencyCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewHealthHandler probes Postgres and, when configured, Redis. Redis backs
// idempotency replay and admin-token consumption, so it gates readiness too.
func NewHealthHandler(db *pgxpool.Pool, rdb redis.Cmdable) *HealthHandler {
	h := &HealthHandler{}
	if db != nil {
		h.checks = append(h.checks, dependencyCheck{name: "database", ping: db.Ping})
	}
	if rdb != nil {
		h.checks = append(h.checks, dependencyCheck{name: "redis", ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return h
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready pings each dependency in turn and fails on the first one down.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.ping(ctx); err != nil {
			RespondError(w, r, http.StatusServiceUnavailable, "health/"+c.name+"-unavailable", c.name+" unavailable")
			return
		}
		checks[c.name] = "ok"
	}
	RespondJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
}
