package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/observability"
	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests no route claimed, so probing random order
// codes cannot grow the path label set.
const unmatchedRoute = "unmatched"

// MetricsMiddleware records request durations per chi route pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		if rw.status == http.StatusSwitchingProtocols {
			// websocket streams live for minutes; their duration is not latency
			return
		}
		observability.ObserveHTTP(r.Method, routePattern(r), rw.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" && pattern != "/*" {
			return pattern
		}
	}
	return unmatchedRoute
}
