package gateway

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignSortsKeys(t *testing.T) {
	a, err := Sign([]byte("secret"), []byte(`{"b": 1, "a": {"y": 2, "x": "<z>"}}`))
	require.NoError(t, err)
	b, err := Sign([]byte("secret"), []byte(`{"a":{"x":"<z>","y":2},"b":1}`))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	h := hmac.New(sha512.New, []byte("secret"))
	h.Write([]byte(`{"a":{"x":"<z>","y":2},"b":1}`))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), a)
}

func TestSignKeepsNumberPrecision(t *testing.T) {
	sig, err := Sign([]byte("s"), []byte(`{"actually_paid":0.100000000000000005}`))
	require.NoError(t, err)

	h := hmac.New(sha512.New, []byte("s"))
	h.Write([]byte(`{"actually_paid":0.100000000000000005}`))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), sig)
}

func TestVerify(t *testing.T) {
	body := []byte(`{"payment_id":1,"payment_status":"finished","order_id":"EX-1"}`)
	sig, err := Sign([]byte("secret"), body)
	require.NoError(t, err)

	v := NewIPNVerifier("secret", false)
	assert.NoError(t, v.Verify(body, sig))
	assert.ErrorIs(t, v.Verify(body, ""), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify(body, "deadbeef"), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify([]byte("not json"), sig), ErrInvalidSignature)

	assert.ErrorIs(t, NewIPNVerifier("", false).Verify(body, sig), ErrInvalidSignature)
	assert.NoError(t, NewIPNVerifier("", true).Verify(body, ""))
}

func TestParseIPN(t *testing.T) {
	p, err := ParsePaymentIPN([]byte(`{"payment_id":123,"payment_status":"finished","actually_paid":"1.05","order_id":"EX-9"}`))
	require.NoError(t, err)
	st := p.Status()
	assert.Equal(t, "123", st.ID)
	assert.Equal(t, "EX-9", st.OrderCode)
	assert.True(t, st.ActuallyPaid.Valid)

	w, err := ParsePayoutIPN([]byte(`{"id":"55","batch_withdrawal_id":"50","status":"FAILED","error":"insufficient balance"}`))
	require.NoError(t, err)
	ws := w.Status()
	assert.Equal(t, "55", ws.ID)
	assert.Equal(t, "50", ws.BatchID)
	assert.Equal(t, "insufficient balance", ws.Error)
	assert.Equal(t, "FAILED", ws.Status)

	_, err = ParsePaymentIPN([]byte(`{"payment_id":1}`))
	assert.Error(t, err)
	_, err = ParsePayoutIPN([]byte(`{"id":"56","batch_withdrawal_id":"50"}`))
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := map[string]struct {
		kind domain.OutcomeKind
		ok   bool
	}{
		"finished":       {domain.OutcomeSucceeded, true},
		"CONFIRMED":      {domain.OutcomeSucceeded, true},
		"failed":         {domain.OutcomeFailed, true},
		"REJECTED":       {domain.OutcomeFailed, true},
		"refunded":       {domain.OutcomeFailed, true},
		"expired":        {domain.OutcomeExpired, true},
		"waiting":        {0, false},
		"partially_paid": {0, false},
		"sending":        {0, false},
		"":               {0, false},
	}
	for status, want := range cases {
		kind, ok := Classify(status)
		assert.Equal(t, want.ok, ok, status)
		assert.Equal(t, want.kind, kind, status)
	}
}
