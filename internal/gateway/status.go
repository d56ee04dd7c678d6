package gateway

import (
	"strings"

	"github.com/ayo6706/saldo-exchange/internal/domain"
)

// Classify maps a raw gateway status onto a settlement outcome.
// ok is false for in-progress or unknown statuses, which are only mirrored.
func Classify(status string) (kind domain.OutcomeKind, ok bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "finished", "confirmed":
		return domain.OutcomeSucceeded, true
	case "failed", "rejected", "refunded":
		return domain.OutcomeFailed, true
	case "expired":
		return domain.OutcomeExpired, true
	default:
		return 0, false
	}
}
