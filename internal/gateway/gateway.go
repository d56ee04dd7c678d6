package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingCredentials = errors.New("gateway credentials are not configured")
	ErrUnsupportedNetwork = errors.New("unsupported currency/network pairing")
	ErrNotFound           = errors.New("gateway resource not found")
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// PaymentRequest asks the gateway for a deposit address for a sell order.
type PaymentRequest struct {
	OrderCode   string
	Currency    string
	Amount      decimal.Decimal
	CallbackURL string
	Description string
}

type Payment struct {
	ID         string
	PayAddress string
	PayAmount  decimal.Decimal
	Status     string
	ExpiresAt  *time.Time
}

// PayoutRequest asks the gateway to send crypto for a buy order.
type PayoutRequest struct {
	OrderCode   string
	Address     string
	ExtraID     string
	Currency    string
	Amount      decimal.Decimal
	CallbackURL string
}

type Payout struct {
	ID      string
	BatchID string
	Status  string
}

type PaymentStatus struct {
	ID           string
	OrderCode    string
	Status       string
	ActuallyPaid decimal.NullDecimal
}

type PayoutStatus struct {
	ID      string
	BatchID string
	Status  string
	Hash    string
	Error   string
}

// Gateway is the crypto payment processor the exchange settles through.
type Gateway interface {
	CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentStatus, error)
	GetPayoutStatus(ctx context.Context, payoutID string) (*PayoutStatus, error)
	MinAmount(ctx context.Context, currency string) (decimal.Decimal, error)
}
