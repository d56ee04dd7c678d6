package models

import (
	"time"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID        uuid.UUID       `json:"id"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Role      string          `json:"role"`
	Saldo     decimal.Decimal `json:"saldo"`
	CreatedAt time.Time       `json:"created_at"`
}

// Order is a single buy or sell against the user's saldo.
type Order struct {
	ID         uuid.UUID     `json:"id"`
	Code       string        `json:"order_code"`
	UserID     uuid.NullUUID `json:"user_id"`
	GuestEmail string        `json:"guest_email,omitempty"`
	Channel    string        `json:"channel"`
	Direction  string        `json:"direction"`
	Status     domain.Status `json:"status"`

	CryptoSymbol  string              `json:"crypto_symbol,omitempty"`
	Network       string              `json:"network,omitempty"`
	AmountInput   decimal.Decimal     `json:"amount_input"`
	AmountIDR     decimal.Decimal     `json:"amount_idr"`
	Rate          decimal.Decimal     `json:"rate"`
	NetworkFeeIDR decimal.Decimal     `json:"network_fee_idr"`
	SettledIDR    decimal.NullDecimal `json:"settled_idr"`

	WalletAddress     string `json:"wallet_address,omitempty"`
	WalletTag         string `json:"wallet_tag,omitempty"`
	ExternalEmail     string `json:"external_email,omitempty"`
	BankName          string `json:"bank_name,omitempty"`
	BankAccountNumber string `json:"bank_account_number,omitempty"`
	BankAccountName   string `json:"bank_account_name,omitempty"`

	PaidWithSaldo    bool                `json:"paid_with_saldo"`
	GatewayPaymentID string              `json:"gateway_payment_id,omitempty"`
	GatewayPayoutID  string              `json:"gateway_payout_id,omitempty"`
	GatewayBatchID   string              `json:"gateway_batch_id,omitempty"`
	PayAddress       string              `json:"pay_address,omitempty"`
	PaymentStatus    string              `json:"payment_status,omitempty"`
	PayoutStatus     string              `json:"payout_status,omitempty"`
	PayoutHash       string              `json:"payout_hash,omitempty"`
	GatewayError     string              `json:"gateway_error,omitempty"`
	ActuallyPaid     decimal.NullDecimal `json:"actually_paid"`

	PaymentNote     string     `json:"payment_note,omitempty"`
	ProofPath       string     `json:"-"`
	ProofMIME       string     `json:"proof_mime,omitempty"`
	ProofUploadedAt *time.Time `json:"proof_uploaded_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// OwnedBy reports whether userID owns the order.
func (o *Order) OwnedBy(userID uuid.UUID) bool {
	return o.UserID.Valid && o.UserID.UUID == userID
}

// State projects the order onto the fields the settlement planner reads.
func (o *Order) State() domain.OrderState {
	paid := decimal.Zero
	if o.ActuallyPaid.Valid {
		paid = o.ActuallyPaid.Decimal
	}
	return domain.OrderState{
		Direction:     o.Direction,
		Status:        o.Status,
		AmountInput:   o.AmountInput,
		AmountIDR:     o.AmountIDR,
		Rate:          o.Rate,
		ActuallyPaid:  paid,
		PaidWithSaldo: o.PaidWithSaldo,
		HasProof:      o.ProofUploadedAt != nil,
		ExpiresAt:     o.ExpiresAt,
	}
}

// SaldoEntry is one immutable row of the saldo journal.
type SaldoEntry struct {
	ID        int64           `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	OrderID   uuid.UUID       `json:"order_id"`
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}
