package domain

import (
	"github.com/shopspring/decimal"
)

// IDRScale is the number of decimal places kept for rupiah amounts.
const IDRScale = 2

// CryptoScale bounds the precision of amounts sent to the gateway.
const CryptoScale = 8

// ToIDR converts a foreign amount at rate into rupiah, rounding down to IDRScale.
func ToIDR(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Truncate(IDRScale)
}

// FromIDR converts a rupiah amount back into foreign units at rate.
// A zero rate yields zero instead of panicking.
func FromIDR(idr, rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.Zero
	}
	return idr.DivRound(rate, CryptoScale)
}

// RelativeDiff returns |actual-expected| / expected. Expected must be positive.
func RelativeDiff(actual, expected decimal.Decimal) decimal.Decimal {
	if !expected.IsPositive() {
		return decimal.Zero
	}
	return actual.Sub(expected).Abs().Div(expected)
}
