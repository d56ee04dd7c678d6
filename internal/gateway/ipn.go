package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SignatureHeader carries the IPN HMAC.
const SignatureHeader = "x-nowpayments-sig"

var ErrInvalidSignature = errors.New("invalid ipn signature")

// IPNVerifier checks HMAC-SHA512 signatures over the key-sorted JSON body.
type IPNVerifier struct {
	secret []byte
	skip   bool
}

func NewIPNVerifier(secret string, skip bool) *IPNVerifier {
	return &IPNVerifier{secret: []byte(secret), skip: skip}
}

// Verify returns ErrInvalidSignature unless signature matches payload.
func (v *IPNVerifier) Verify(payload []byte, signature string) error {
	if v.skip {
		return nil
	}
	if len(v.secret) == 0 || strings.TrimSpace(signature) == "" {
		return ErrInvalidSignature
	}
	expected, err := Sign(v.secret, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !hmac.Equal([]byte(strings.ToLower(strings.TrimSpace(signature))), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex HMAC for payload after canonicalising it.
func Sign(secret, payload []byte) (string, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	h := hmac.New(sha512.New, secret)
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON re-encodes payload with object keys sorted and numbers preserved.
func canonicalJSON(payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode ipn body: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode ipn body: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// PaymentIPN is the callback body for deposit (sell) payments.
type PaymentIPN struct {
	PaymentID     flexID              `json:"payment_id"`
	PaymentStatus string              `json:"payment_status"`
	PayAddress    string              `json:"pay_address"`
	ActuallyPaid  decimal.NullDecimal `json:"actually_paid"`
	OrderID       string              `json:"order_id"`
	PayCurrency   string              `json:"pay_currency"`
}

// PayoutIPN is the callback body for withdrawals (buy payouts).
type PayoutIPN struct {
	ID                flexID  `json:"id"`
	BatchWithdrawalID flexID  `json:"batch_withdrawal_id"`
	UniqueExternalID  string  `json:"unique_external_id"`
	RawStatus         string  `json:"status"`
	Hash              string  `json:"hash"`
	Error             *string `json:"error"`
}

func ParsePaymentIPN(payload []byte) (*PaymentIPN, error) {
	var p PaymentIPN
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid payment ipn: %w", err)
	}
	if p.PaymentStatus == "" {
		return nil, errors.New("invalid payment ipn: payment_status is required")
	}
	return &p, nil
}

func ParsePayoutIPN(payload []byte) (*PayoutIPN, error) {
	var p PayoutIPN
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid payout ipn: %w", err)
	}
	if p.RawStatus == "" {
		return nil, errors.New("invalid payout ipn: status is required")
	}
	return &p, nil
}

// Status returns the normalised view shared with the poll path.
func (p *PaymentIPN) Status() PaymentStatus {
	return PaymentStatus{ID: string(p.PaymentID), OrderCode: p.OrderID, Status: p.PaymentStatus, ActuallyPaid: p.ActuallyPaid}
}

func (p *PayoutIPN) Status() PayoutStatus {
	st := PayoutStatus{ID: string(p.ID), BatchID: string(p.BatchWithdrawalID), Status: p.RawStatus, Hash: p.Hash}
	if p.Error != nil {
		st.Error = *p.Error
	}
	return st
}

// OrderCode is the reference we attached when requesting the payout.
func (p *PayoutIPN) OrderCode() string {
	return p.UniqueExternalID
}
