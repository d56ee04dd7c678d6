package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/api/problem"
	"github.com/go-chi/httprate"
)

const rateWindow = time.Second

// PublicRateLimiter limits requests per IP for webhooks, cron and admin links.
// A non-positive rps disables the limit.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return passThrough
	}
	return httprate.Limit(rps, rateWindow,
		httprate.WithLimitHandler(limitExceeded(rps, "IP")),
	)
}

// AuthRateLimiter limits authenticated users using their user ID as the key.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return passThrough
	}
	return httprate.Limit(rps, rateWindow,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if userID, ok := UserIDFromContext(r.Context()); ok {
				return "user:" + userID.String(), nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded(rps, "user")),
	)
}

func limitExceeded(rps int, scope string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusTooManyRequests,
			problem.Type("rate-limit-exceeded"), "",
			fmt.Sprintf("Rate limit of %d req/s exceeded for this %s", rps, scope),
			problem.WithRetryAfter(rateWindow),
		)
	}
}

func passThrough(next http.Handler) http.Handler { return next }
