package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MockGateway simulates the processor for local runs.
// Payments finish with the requested amount and payouts finish on the first status read.
type MockGateway struct {
	// FailureRate is the probability a payout request fails (0.0 to 1.0).
	FailureRate float64
	// Delay is the simulated network latency per call.
	Delay time.Duration
	// Min is returned from MinAmount for every currency.
	Min decimal.Decimal

	mu       sync.Mutex
	payments map[string]PaymentStatus
	payouts  map[string]PayoutStatus
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		FailureRate: 0,
		Delay:       200 * time.Millisecond,
		Min:         decimal.Zero,
		payments:    make(map[string]PaymentStatus),
		payouts:     make(map[string]PayoutStatus),
	}
}

func (g *MockGateway) wait(ctx context.Context) error {
	if g.Delay <= 0 {
		return nil
	}
	jitter := time.Duration(rand.Int63n(int64(g.Delay)/2 + 1))
	select {
	case <-time.After(g.Delay + jitter):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway call canceled: %w", ctx.Err())
	}
}

func mockRef(prefix string) string {
	// Format: PREFIX-YYYYMMDD-HHMMSS-XXXXX
	return fmt.Sprintf("%s-%s-%05d", prefix, time.Now().Format("20060102-150405"), rand.Intn(100000))
}

func (g *MockGateway) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	id := mockRef("PAY")
	g.mu.Lock()
	g.payments[id] = PaymentStatus{
		ID:           id,
		OrderCode:    req.OrderCode,
		Status:       "finished",
		ActuallyPaid: decimal.NewNullDecimal(req.Amount),
	}
	g.mu.Unlock()
	return &Payment{
		ID:         id,
		PayAddress: "mock-" + req.Currency + "-" + id,
		PayAmount:  req.Amount,
		Status:     "waiting",
	}, nil
}

func (g *MockGateway) CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	if req.Address == "" {
		return nil, &APIError{StatusCode: 400, Message: "address is required"}
	}
	if rand.Float64() < g.FailureRate {
		return nil, fmt.Errorf("gateway temporarily unavailable")
	}
	id := mockRef("WD")
	batch := mockRef("BATCH")
	g.mu.Lock()
	g.payouts[id] = PayoutStatus{ID: id, BatchID: batch, Status: "finished", Hash: "0xmock" + id}
	g.mu.Unlock()
	return &Payout{ID: id, BatchID: batch, Status: "creating"}, nil
}

func (g *MockGateway) GetPaymentStatus(ctx context.Context, paymentID string) (*PaymentStatus, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.payments[paymentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (g *MockGateway) GetPayoutStatus(ctx context.Context, payoutID string) (*PayoutStatus, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.payouts[payoutID]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (g *MockGateway) MinAmount(ctx context.Context, currency string) (decimal.Decimal, error) {
	return g.Min, nil
}
