package middleware

import (
	"context"
	"net/http"

	"github.com/ayo6706/saldo-exchange/internal/api/problem"
	"github.com/google/uuid"
)

const maxTraceIDLength = 64

// TraceMiddleware propagates the caller's trace id, or mints one, through the
// context and the response headers. Gateway and relay callers often send
// X-Request-ID instead.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := inboundTraceID(r)
		if traceID == "" {
			traceID = uuid.NewString()
			r.Header.Set(problem.TraceHeader, traceID)
		}
		w.Header().Set(problem.TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(contextWithTraceID(r.Context(), traceID)))
	})
}

func inboundTraceID(r *http.Request) string {
	for _, h := range []string{problem.TraceHeader, "X-Request-ID"} {
		if v := r.Header.Get(h); validTraceID(v) {
			return v
		}
	}
	return ""
}

// Printable ASCII without spaces keeps ids safe to echo into logs and headers.
func validTraceID(v string) bool {
	if v == "" || len(v) > maxTraceIDLength {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] <= ' ' || v[i] > '~' {
			return false
		}
	}
	return true
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}
