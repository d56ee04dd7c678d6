package middleware

import (
	"errors"
	"net/http"

	"github.com/ayo6706/saldo-exchange/internal/api/problem"
	"go.uber.org/zap"
)

// RecoverMiddleware turns handler panics into a 500 problem. Aborted handlers
// and hijacked websocket connections are left to net/http.
func RecoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &statusRecorder{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.String("trace_id", TraceIDFromContext(r.Context())),
					zap.Stack("stack"),
				)
				if rw.status != 0 {
					// headers are gone; nothing sensible left to send
					return
				}
				problem.Write(w, r, http.StatusInternalServerError,
					problem.Type("internal-server-error"), "", "unexpected server error")
			}()
			next.ServeHTTP(rw, r)
		})
	}
}
