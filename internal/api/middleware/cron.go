package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/ayo6706/saldo-exchange/internal/api/problem"
)

// CronSecretHeader authenticates the external scheduler.
const CronSecretHeader = "X-Cron-Secret"

// CronSecret rejects requests whose X-Cron-Secret does not match secret.
// An empty secret disables the cron endpoints entirely.
func CronSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				problem.Write(w, r, http.StatusServiceUnavailable, problem.Type("cron/disabled"), http.StatusText(http.StatusServiceUnavailable), "cron endpoints are not configured")
				return
			}
			got := r.Header.Get(CronSecretHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("cron/invalid-secret"), http.StatusText(http.StatusUnauthorized), "invalid cron secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
