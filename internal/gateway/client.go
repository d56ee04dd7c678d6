package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client talks to a NOWPayments-compatible REST API.
type Client struct {
	baseURL     string
	apiKey      string
	payoutToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

func NewClient(baseURL, apiKey, payoutToken string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		payoutToken: payoutToken,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// flexID accepts ids encoded either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	*f = flexID(strings.Trim(s, `"`))
	return nil
}

type paymentDTO struct {
	PaymentID     flexID              `json:"payment_id"`
	PaymentStatus string              `json:"payment_status"`
	PayAddress    string              `json:"pay_address"`
	PayAmount     decimal.Decimal     `json:"pay_amount"`
	ActuallyPaid  decimal.NullDecimal `json:"actually_paid"`
	OrderID       string              `json:"order_id"`
	ExpiresAt     *time.Time          `json:"expiration_estimate_date"`
}

type withdrawalDTO struct {
	ID                flexID          `json:"id"`
	BatchWithdrawalID flexID          `json:"batch_withdrawal_id"`
	Address           string          `json:"address"`
	Currency          string          `json:"currency"`
	Amount            decimal.Decimal `json:"amount"`
	Status            string          `json:"status"`
	Hash              string          `json:"hash"`
	Error             *string         `json:"error"`
}

type payoutBatchDTO struct {
	ID          flexID          `json:"id"`
	Withdrawals []withdrawalDTO `json:"withdrawals"`
}

func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	if c.apiKey == "" {
		return nil, ErrMissingCredentials
	}
	body := map[string]any{
		"price_amount":      req.Amount,
		"price_currency":    req.Currency,
		"pay_currency":      req.Currency,
		"order_id":          req.OrderCode,
		"order_description": req.Description,
	}
	if req.CallbackURL != "" {
		body["ipn_callback_url"] = req.CallbackURL
	}

	var out paymentDTO
	if err := c.do(ctx, http.MethodPost, "/v1/payment", body, false, &out); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if out.PaymentID == "" || out.PayAddress == "" {
		return nil, fmt.Errorf("create payment: incomplete response for %s", req.OrderCode)
	}
	return &Payment{
		ID:         string(out.PaymentID),
		PayAddress: out.PayAddress,
		PayAmount:  out.PayAmount,
		Status:     out.PaymentStatus,
		ExpiresAt:  out.ExpiresAt,
	}, nil
}

func (c *Client) CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error) {
	if c.apiKey == "" || c.payoutToken == "" {
		return nil, ErrMissingCredentials
	}
	w := map[string]any{
		"address":            req.Address,
		"currency":           req.Currency,
		"amount":             req.Amount,
		"unique_external_id": req.OrderCode,
	}
	if req.ExtraID != "" {
		w["extra_id"] = req.ExtraID
	}
	if req.CallbackURL != "" {
		w["ipn_callback_url"] = req.CallbackURL
	}
	body := map[string]any{"withdrawals": []any{w}}
	if req.CallbackURL != "" {
		body["ipn_callback_url"] = req.CallbackURL
	}

	var out payoutBatchDTO
	if err := c.do(ctx, http.MethodPost, "/v1/payout", body, true, &out); err != nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}
	if len(out.Withdrawals) == 0 {
		return nil, fmt.Errorf("create payout: no withdrawal in response for %s", req.OrderCode)
	}
	wd := out.Withdrawals[0]
	batchID := string(wd.BatchWithdrawalID)
	if batchID == "" {
		batchID = string(out.ID)
	}
	return &Payout{ID: string(wd.ID), BatchID: batchID, Status: wd.Status}, nil
}

func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentStatus, error) {
	if c.apiKey == "" {
		return nil, ErrMissingCredentials
	}
	var out paymentDTO
	if err := c.do(ctx, http.MethodGet, "/v1/payment/"+url.PathEscape(paymentID), nil, false, &out); err != nil {
		return nil, fmt.Errorf("get payment %s: %w", paymentID, err)
	}
	return &PaymentStatus{
		ID:           string(out.PaymentID),
		OrderCode:    out.OrderID,
		Status:       out.PaymentStatus,
		ActuallyPaid: out.ActuallyPaid,
	}, nil
}

func (c *Client) GetPayoutStatus(ctx context.Context, payoutID string) (*PayoutStatus, error) {
	if c.apiKey == "" || c.payoutToken == "" {
		return nil, ErrMissingCredentials
	}
	var out payoutBatchDTO
	if err := c.do(ctx, http.MethodGet, "/v1/payout/"+url.PathEscape(payoutID), nil, true, &out); err != nil {
		return nil, fmt.Errorf("get payout %s: %w", payoutID, err)
	}
	for _, wd := range out.Withdrawals {
		if string(wd.ID) == payoutID || len(out.Withdrawals) == 1 {
			st := &PayoutStatus{
				ID:      string(wd.ID),
				BatchID: string(wd.BatchWithdrawalID),
				Status:  wd.Status,
				Hash:    wd.Hash,
			}
			if wd.Error != nil {
				st.Error = *wd.Error
			}
			return st, nil
		}
	}
	return nil, fmt.Errorf("get payout %s: %w", payoutID, ErrNotFound)
}

func (c *Client) MinAmount(ctx context.Context, currency string) (decimal.Decimal, error) {
	if c.apiKey == "" {
		return decimal.Zero, ErrMissingCredentials
	}
	q := url.Values{}
	q.Set("currency_from", currency)
	q.Set("currency_to", currency)
	var out struct {
		MinAmount decimal.Decimal `json:"min_amount"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/min-amount?"+q.Encode(), nil, false, &out); err != nil {
		return decimal.Zero, fmt.Errorf("min amount %s: %w", currency, err)
	}
	return out.MinAmount, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, payout bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if payout {
		req.Header.Set("Authorization", "Bearer "+c.payoutToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	zap.L().Debug("gateway call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var env struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &env) == nil && env.Message != "" {
			apiErr.Code = env.Code
			apiErr.Message = env.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is worth another attempt by a poller.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrMissingCredentials) && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUnsupportedNetwork)
}
