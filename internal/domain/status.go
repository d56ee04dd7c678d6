package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPendingProof Status = "pending_proof"
	StatusPending      Status = "pending"
	StatusConfirmed    Status = "confirmed"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
	StatusExpired      Status = "expired"
	StatusFailed       Status = "failed"
)

var orderTransitions = map[Status]map[Status]struct{}{
	StatusPendingProof: {
		StatusPending:   {},
		StatusCompleted: {},
		StatusCancelled: {},
		StatusExpired:   {},
	},
	StatusPending: {
		StatusConfirmed:  {},
		StatusProcessing: {},
		StatusCompleted:  {},
		StatusCancelled:  {},
		StatusExpired:    {},
		StatusFailed:     {},
	},
	StatusConfirmed: {
		StatusProcessing: {},
		StatusCompleted:  {},
		StatusCancelled:  {},
		StatusFailed:     {},
		StatusExpired:    {},
	},
	StatusProcessing: {
		StatusCompleted: {},
		StatusCancelled: {},
		StatusFailed:    {},
		StatusExpired:   {},
	},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusExpired:   {},
	StatusFailed:    {},
}

// ParseStatus normalises s and rejects values outside the closed set.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := orderTransitions[st]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

func (s Status) String() string { return string(s) }

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	next, ok := orderTransitions[s]
	return ok && len(next) == 0
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	next, ok := orderTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// AllowedFrom lists every status that may move to target, sorted for stable SQL.
func AllowedFrom(target Status) []string {
	var out []string
	for from, next := range orderTransitions {
		if _, ok := next[target]; ok {
			out = append(out, string(from))
		}
	}
	sort.Strings(out)
	return out
}
