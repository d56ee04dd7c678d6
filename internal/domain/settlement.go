package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTolerance is the relative paid-vs-expected difference treated as exact.
var DefaultTolerance = decimal.RequireFromString("0.001")

// SettlementPolicy decides how much saldo a settled sell order is worth.
type SettlementPolicy struct {
	Tolerance decimal.Decimal
}

// NewSettlementPolicy falls back to DefaultTolerance for non-positive values.
func NewSettlementPolicy(tolerance decimal.Decimal) SettlementPolicy {
	if !tolerance.IsPositive() {
		tolerance = DefaultTolerance
	}
	return SettlementPolicy{Tolerance: tolerance}
}

// CreditFor returns the IDR credit and payment note for a sell order.
// A missing actual amount credits the expected IDR amount.
func (p SettlementPolicy) CreditFor(expected, actual, rate, expectedIDR decimal.Decimal) (decimal.Decimal, string) {
	if !actual.IsPositive() || !expected.IsPositive() {
		return expectedIDR, NoteExact
	}
	if RelativeDiff(actual, expected).GreaterThan(p.Tolerance) {
		note := NoteUnderpaid
		if actual.GreaterThan(expected) {
			note = NoteOverpaid
		}
		return ToIDR(actual, rate), note
	}
	return expectedIDR, NoteExact
}

// OutcomeKind classifies what happened to an order upstream.
type OutcomeKind int

const (
	OutcomeSucceeded OutcomeKind = iota + 1
	OutcomeFailed
	OutcomeRejected
	OutcomeExpired
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Outcome is the feed-independent input to a terminal transition.
type Outcome struct {
	Kind OutcomeKind
	// ActuallyPaid overrides the stored paid amount when the feed reports one.
	ActuallyPaid decimal.NullDecimal
	// CheckExpiry turns a success into an expiry when the order is already past expires_at.
	CheckExpiry bool
	Reason      string
}

// OrderState is the slice of an order the planner needs.
type OrderState struct {
	Direction     string
	Status        Status
	AmountInput   decimal.Decimal
	AmountIDR     decimal.Decimal
	Rate          decimal.Decimal
	ActuallyPaid  decimal.Decimal
	PaidWithSaldo bool
	HasProof      bool
	ExpiresAt     *time.Time
}

// Plan is the set of effects a terminal transition must apply atomically.
type Plan struct {
	Noop   bool
	Reason string

	Target       Status
	LedgerKind   string
	LedgerAmount decimal.Decimal
	Note         string
	ActuallyPaid decimal.Decimal
}

// HasLedgerEffect reports whether the plan moves saldo.
func (p Plan) HasLedgerEffect() bool {
	return p.LedgerKind != "" && p.LedgerAmount.IsPositive()
}

// PlanTransition maps an order and an outcome to the effects to apply.
func PlanTransition(o OrderState, out Outcome, now time.Time, policy SettlementPolicy) Plan {
	if o.Status.IsTerminal() {
		return Plan{Noop: true, Reason: "already_" + o.Status.String(), Target: o.Status}
	}

	actual := o.ActuallyPaid
	if out.ActuallyPaid.Valid {
		actual = out.ActuallyPaid.Decimal
	}

	kind := out.Kind
	if kind == OutcomeSucceeded && out.CheckExpiry && o.ExpiresAt != nil && now.After(*o.ExpiresAt) {
		kind = OutcomeExpired
	}

	var p Plan
	switch kind {
	case OutcomeSucceeded:
		p.Target = StatusCompleted
		if o.Direction == DirectionSell {
			p.LedgerKind = EntryCredit
			p.LedgerAmount, p.Note = policy.CreditFor(o.AmountInput, actual, o.Rate, o.AmountIDR)
		}
	case OutcomeFailed:
		p.Target = StatusFailed
		if o.Direction == DirectionBuy && o.PaidWithSaldo {
			p.LedgerKind = EntryRefund
			p.LedgerAmount = o.AmountIDR
		}
	case OutcomeRejected:
		p.Target = StatusCancelled
		if o.Direction == DirectionBuy && o.PaidWithSaldo {
			p.LedgerKind = EntryRefund
			p.LedgerAmount = o.AmountIDR
		}
	case OutcomeExpired:
		if o.Direction != DirectionSell {
			return Plan{Noop: true, Reason: "buy_not_expirable", Target: o.Status}
		}
		if o.HasProof {
			return Plan{Noop: true, Reason: "proof_uploaded", Target: o.Status}
		}
		if actual.IsPositive() {
			p.Target = StatusCompleted
			p.LedgerKind = EntryCredit
			p.LedgerAmount = ToIDR(actual, o.Rate)
			p.Note = NotePartialExpired
		} else {
			p.Target = StatusExpired
		}
	default:
		return Plan{Noop: true, Reason: "unknown_outcome", Target: o.Status}
	}

	if !CanTransition(o.Status, p.Target) {
		return Plan{Noop: true, Reason: "transition_not_allowed", Target: o.Status}
	}
	p.ActuallyPaid = actual
	return p
}
