package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/admintoken"
	"github.com/ayo6706/saldo-exchange/internal/db"
	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/gateway"
	"github.com/ayo6706/saldo-exchange/internal/models"
	"github.com/ayo6706/saldo-exchange/internal/notify"
	"github.com/ayo6706/saldo-exchange/internal/proofstore"
	"github.com/ayo6706/saldo-exchange/internal/rates"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const testAdminSecret = "admin-action-secret-for-tests-0123456789"

func init() {
	_ = godotenv.Load("../../.env")
}

// setupTestDB connects to Postgres, applies migrations and empties every table.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, os.Getenv("DATABASE_URL"), 8)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.Migrate(ctx, pool)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "TRUNCATE TABLE audit_log, saldo_entries, orders, users, idempotency_keys CASCADE")
	require.NoError(t, err)
	return pool
}

func seedUser(t *testing.T, store *repository.Store, saldo int64) *models.User {
	t.Helper()
	id := uuid.New()
	u, err := store.Queries().CreateUser(context.Background(), repository.CreateUserParams{
		ID:    id,
		Email: "user_" + id.String()[:8] + "@example.com",
		Name:  "Test User",
		Role:  domain.RoleUser,
		Saldo: decimal.NewFromInt(saldo),
	})
	require.NoError(t, err)
	return u
}

func saldoOf(t *testing.T, store *repository.Store, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	saldo, err := store.Queries().GetSaldo(context.Background(), userID)
	require.NoError(t, err)
	return saldo
}

func reload(t *testing.T, store *repository.Store, id uuid.UUID) *models.Order {
	t.Helper()
	o, err := store.Queries().GetOrderByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// insertOrder writes an order row directly, bypassing creation rules.
func insertOrder(t *testing.T, store *repository.Store, o models.Order) *models.Order {
	t.Helper()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Code == "" {
		o.Code = "EX-TEST-" + o.ID.String()[:8]
	}
	if o.Rate.IsZero() {
		o.Rate = decimal.NewFromInt(16_000_000)
	}
	created, err := store.Queries().InsertOrder(context.Background(), &o)
	require.NoError(t, err)
	return created
}

func sellCryptoOrder(userID uuid.UUID, status domain.Status, amount string, expiresAt *time.Time) models.Order {
	amt := dec(amount)
	rate := decimal.NewFromInt(16_000_000)
	return models.Order{
		UserID:           uuid.NullUUID{UUID: userID, Valid: true},
		Channel:          domain.ChannelCrypto,
		Direction:        domain.DirectionSell,
		Status:           status,
		CryptoSymbol:     "btc",
		Network:          "btc",
		AmountInput:      amt,
		AmountIDR:        domain.ToIDR(amt, rate),
		Rate:             rate,
		GatewayPaymentID: "pay-" + uuid.NewString()[:8],
		ExpiresAt:        expiresAt,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

// stubGateway records calls and answers from configurable fields.
type stubGateway struct {
	mu             sync.Mutex
	payoutErr      error
	paymentErr     error
	min            decimal.Decimal
	paymentStatus  map[string]gateway.PaymentStatus
	payoutStatus   map[string]gateway.PayoutStatus
	payoutRequests []gateway.PayoutRequest
	paymentCalls   int
	paymentCodes   []string
}

// flakyStore fails the transactions whose 1-based call numbers are listed.
type flakyStore struct {
	QueryStore
	mu    sync.Mutex
	calls int
	fail  map[int]bool
}

func (f *flakyStore) RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.fail[n] {
		return errors.New("connection reset by peer")
	}
	return f.QueryStore.RunInTx(ctx, fn)
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		paymentStatus: map[string]gateway.PaymentStatus{},
		payoutStatus:  map[string]gateway.PayoutStatus{},
	}
}

func (g *stubGateway) CreatePayment(_ context.Context, req gateway.PaymentRequest) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paymentCalls++
	g.paymentCodes = append(g.paymentCodes, req.OrderCode)
	if g.paymentErr != nil {
		return nil, g.paymentErr
	}
	id := fmt.Sprintf("pay-%d", g.paymentCalls)
	return &gateway.Payment{ID: id, PayAddress: "bc1q-" + id, PayAmount: req.Amount, Status: "waiting"}, nil
}

func (g *stubGateway) CreatePayout(_ context.Context, req gateway.PayoutRequest) (*gateway.Payout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payoutRequests = append(g.payoutRequests, req)
	if g.payoutErr != nil {
		return nil, g.payoutErr
	}
	n := len(g.payoutRequests)
	return &gateway.Payout{ID: fmt.Sprintf("wd-%d", n), BatchID: fmt.Sprintf("batch-%d", n), Status: "creating"}, nil
}

func (g *stubGateway) GetPaymentStatus(_ context.Context, id string) (*gateway.PaymentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.paymentStatus[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &st, nil
}

func (g *stubGateway) GetPayoutStatus(_ context.Context, id string) (*gateway.PayoutStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.payoutStatus[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return &st, nil
}

func (g *stubGateway) MinAmount(context.Context, string) (decimal.Decimal, error) {
	return g.min, nil
}

// recordingNotifier keeps every event it receives.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) byKind(kind notify.Kind, audience notify.Audience) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, ev := range n.events {
		if ev.Kind == kind && ev.Audience == audience {
			out = append(out, ev)
		}
	}
	return out
}

// memTokenLedger is an in-process TokenLedger.
type memTokenLedger struct {
	mu      sync.Mutex
	used    map[string]bool
	failErr error
}

func newMemTokenLedger() *memTokenLedger { return &memTokenLedger{used: map[string]bool{}} }

func (l *memTokenLedger) Consume(_ context.Context, jti string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return false, l.failErr
	}
	if l.used[jti] {
		return false, nil
	}
	l.used[jti] = true
	return true, nil
}

func (l *memTokenLedger) Release(_ context.Context, jti string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.used, jti)
	return nil
}

var errGatewayDown = errors.New("gateway unavailable")

// testEnv wires every service against one database.
type testEnv struct {
	pool       *pgxpool.Pool
	store      *repository.Store
	gw         *stubGateway
	notifier   *recordingNotifier
	signer     *admintoken.Signer
	ledger     *memTokenLedger
	settlement *SettlementService
	orders     *OrderService
	webhooks   *WebhookService
	poll       *PollService
	proofs     *ProofService
	expiry     *ExpiryService
	admin      *AdminActionService
	integrity  *IntegrityService
	ipnSecret  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pool := setupTestDB(t)
	store := repository.NewStore(pool)
	gw := newStubGateway()
	notifier := &recordingNotifier{}
	signer := admintoken.NewSigner(testAdminSecret, time.Hour, "https://exchange.test")
	ledger := newMemTokenLedger()
	files, err := proofstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	oracle := rates.NewStaticOracle(map[string]decimal.Decimal{
		"btc":    decimal.NewFromInt(16_000_000),
		"usdt":   decimal.NewFromInt(16_000),
		"paypal": decimal.NewFromInt(15_500),
		"skrill": decimal.NewFromInt(15_000),
	})

	settlement := NewSettlementService(store, domain.NewSettlementPolicy(domain.DefaultTolerance), notifier)
	env := &testEnv{
		pool:       pool,
		store:      store,
		gw:         gw,
		notifier:   notifier,
		signer:     signer,
		ledger:     ledger,
		settlement: settlement,
		ipnSecret:  "ipn-secret",
	}
	env.orders = NewOrderService(store, gw, oracle, settlement, notifier, signer, OrderSettings{
		MinOrderIDR:     decimal.NewFromInt(50_000),
		NetworkFeesIDR:  map[string]decimal.Decimal{"trc20": decimal.NewFromInt(16_000)},
		DuplicateWindow: 2 * time.Minute,
		PaymentWindow:   time.Hour,
		ProofWindow:     3 * time.Hour,
		GatewayTimeout:  time.Second,
	})
	env.webhooks = NewWebhookService(store, gateway.NewIPNVerifier(env.ipnSecret, false), settlement)
	env.poll = NewPollService(store, gw, settlement, time.Second)
	env.proofs = NewProofService(store, files, notifier, signer, 1024)
	env.expiry = NewExpiryService(store, settlement)
	env.admin = NewAdminActionService(store, signer, ledger, settlement, time.Hour)
	env.integrity = NewIntegrityService(store)
	return env
}

func (e *testEnv) sign(t *testing.T, body []byte) string {
	t.Helper()
	sig, err := gateway.Sign([]byte(e.ipnSecret), body)
	require.NoError(t, err)
	return sig
}

func (e *testEnv) entries(t *testing.T, orderID uuid.UUID) []models.SaldoEntry {
	t.Helper()
	out, err := e.store.Queries().ListSaldoEntriesByOrder(context.Background(), orderID)
	require.NoError(t, err)
	return out
}

// markProofUploaded sets proof columns directly, as an upload would.
func (e *testEnv) markProofUploaded(t *testing.T, orderID uuid.UUID) {
	t.Helper()
	_, err := e.pool.Exec(context.Background(),
		"UPDATE orders SET proof_path = 'proof.png', proof_mime = 'image/png', proof_uploaded_at = NOW() WHERE id = $1", orderID)
	require.NoError(t, err)
}

func (e *testEnv) setExpiresAt(t *testing.T, orderID uuid.UUID, at time.Time) {
	t.Helper()
	_, err := e.pool.Exec(context.Background(), "UPDATE orders SET expires_at = $2 WHERE id = $1", orderID, at)
	require.NoError(t, err)
}
