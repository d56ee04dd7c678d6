package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToIDR_Truncates(t *testing.T) {
	amount := decimal.RequireFromString("0.123456")
	rate := decimal.RequireFromString("16250.55")

	// 2006.2279008 rounds down
	assert.Equal(t, "2006.22", ToIDR(amount, rate).StringFixed(2))
}

func TestFromIDR(t *testing.T) {
	fee := decimal.NewFromInt(16_000)
	rate := decimal.NewFromInt(16_000_000)
	assert.Equal(t, "0.001", FromIDR(fee, rate).String())
}

func TestFromIDR_ZeroRate(t *testing.T) {
	assert.True(t, FromIDR(decimal.NewFromInt(100), decimal.Zero).IsZero())
}

func TestRelativeDiff(t *testing.T) {
	diff := RelativeDiff(decimal.RequireFromString("1.05"), decimal.NewFromInt(1))
	assert.Equal(t, "0.05", diff.String())

	diff = RelativeDiff(decimal.RequireFromString("0.9995"), decimal.NewFromInt(1))
	assert.Equal(t, "0.0005", diff.String())

	assert.True(t, RelativeDiff(decimal.NewFromInt(1), decimal.Zero).IsZero())
}
