package service

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/notify"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cryptoBuy(userID uuid.UUID, amount string) CreateOrderRequest {
	return CreateOrderRequest{
		UserID:        userID,
		Channel:       domain.ChannelCrypto,
		Direction:     domain.DirectionBuy,
		Amount:        dec(amount),
		CryptoSymbol:  "USDT",
		Network:       "ERC20",
		WalletAddress: "0x52908400098527886E0F7030069857D2E4169EE7",
	}
}

func (e *testEnv) countOrders(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, e.pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM orders").Scan(&n))
	return n
}

func TestNewOrderCode(t *testing.T) {
	day := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	code := NewOrderCode(day)
	assert.Regexp(t, regexp.MustCompile(`^EX-20260309-[A-Z2-7]{12}$`), code)

	seen := make(map[string]struct{}, 5000)
	for i := 0; i < 5000; i++ {
		c := NewOrderCode(day)
		_, dup := seen[c]
		require.False(t, dup, "duplicate code %s", c)
		seen[c] = struct{}{}
	}
}

// scriptedCodes hands out codes in order and repeats the last one.
func scriptedCodes(codes ...string) func(time.Time) string {
	return func(time.Time) string {
		c := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return c
	}
}

func TestCreateOrder_RetriesOnOrderCodeCollision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 0)
	const taken, fresh = "EX-20260101-TAKENTAKEN22", "EX-20260101-FRESHFRESH22"
	env.orders.newCode = scriptedCodes(taken, taken, fresh)

	manualSell := func(amount string) CreateOrderRequest {
		return CreateOrderRequest{
			UserID: user.ID, Channel: domain.ChannelSkrill, Direction: domain.DirectionSell, Amount: dec(amount),
			BankName: "BCA", BankAccountNumber: "1234567890", BankAccountName: "Test User",
		}
	}

	first, err := env.orders.CreateOrder(ctx, manualSell("20"))
	require.NoError(t, err)
	assert.Equal(t, taken, first.Code)

	second, err := env.orders.CreateOrder(ctx, manualSell("25"))
	require.NoError(t, err)
	assert.Equal(t, fresh, second.Code)
	assert.Equal(t, 2, env.countOrders(t))
}

func TestCreateOrder_SellCryptoIntentUsesUnusedCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 0)
	const taken, fresh = "EX-20260101-TAKENTAKEN33", "EX-20260101-FRESHFRESH33"
	env.orders.newCode = scriptedCodes(taken, taken, fresh)

	_, err := env.orders.CreateOrder(ctx, CreateOrderRequest{
		UserID: user.ID, Channel: domain.ChannelSkrill, Direction: domain.DirectionSell, Amount: dec("20"),
		BankName: "BCA", BankAccountNumber: "1234567890", BankAccountName: "Test User",
	})
	require.NoError(t, err)

	order, err := env.orders.CreateOrder(ctx, CreateOrderRequest{
		UserID: user.ID, Channel: domain.ChannelCrypto, Direction: domain.DirectionSell, Amount: dec("0.01"),
		CryptoSymbol: "btc", Network: "btc",
	})
	require.NoError(t, err)
	assert.Equal(t, fresh, order.Code)
	assert.Equal(t, []string{fresh}, env.gw.paymentCodes)
}

func TestCreateOrder_PayoutFailureRefundsSaldo(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 150_000)
	env.gw.payoutErr = errGatewayDown

	_, err := env.orders.CreateOrder(ctx, cryptoBuy(user.ID, "6.25"))
	require.ErrorIs(t, err, ErrPayoutFailed)

	assert.True(t, saldoOf(t, env.store, user.ID).Equal(dec("150000")))
	require.Equal(t, 1, env.countOrders(t))

	var id uuid.UUID
	require.NoError(t, env.pool.QueryRow(ctx, "SELECT id FROM orders").Scan(&id))
	order := reload(t, env.store, id)
	assert.Equal(t, domain.StatusCancelled, order.Status)
	assert.Contains(t, order.GatewayError, "gateway unavailable")

	kinds := map[string]decimal.Decimal{}
	for _, e := range env.entries(t, id) {
		kinds[e.Kind] = e.Amount
	}
	require.Len(t, kinds, 2)
	assert.True(t, kinds[domain.EntryDebit].Equal(dec("100000")))
	assert.True(t, kinds[domain.EntryRefund].Equal(dec("100000")))

	report, err := env.integrity.Run(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestCreateOrder_PayoutLinkageRetried(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 150_000)
	// call 1 is the creation tx; the first two linkage attempts fail
	env.orders.store = &flakyStore{QueryStore: env.store, fail: map[int]bool{2: true, 3: true}}
	env.orders.linkRetryDelay = 0

	order, err := env.orders.CreateOrder(ctx, cryptoBuy(user.ID, "6.25"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, order.Status)

	stored := reload(t, env.store, order.ID)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
	assert.Equal(t, "wd-1", stored.GatewayPayoutID)
	assert.Equal(t, "batch-1", stored.GatewayBatchID)
}

func TestCreateOrder_UnlinkedPayoutSettlesByCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 150_000)
	env.orders.store = &flakyStore{QueryStore: env.store, fail: map[int]bool{2: true, 3: true, 4: true}}
	env.orders.linkRetryDelay = 0

	order, err := env.orders.CreateOrder(ctx, cryptoBuy(user.ID, "6.25"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, order.Status)
	assert.Empty(t, reload(t, env.store, order.ID).GatewayPayoutID)

	body := []byte(fmt.Sprintf(`{"id":"wd-1","batch_withdrawal_id":"batch-1","unique_external_id":%q,"status":"FINISHED"}`, order.Code))
	res, err := env.webhooks.HandlePayoutIPN(ctx, body, env.sign(t, body))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.True(t, saldoOf(t, env.store, user.ID).Equal(dec("50000")))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	cases := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "timeout", n: 10, want: "timeout"},
		{name: "ascii", in: "gateway down", n: 7, want: "gateway"},
		{name: "mid_rune", in: "saldo 💸 gagal", n: 8, want: "saldo "},
		{name: "rune_edge", in: "é€", n: 5, want: "é€"},
		{name: "invalid_bytes", in: "bad\xffbyte", n: 50, want: "bad\uFFFDbyte"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncate(tc.in, tc.n)
			assert.Equal(t, tc.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), max(tc.n, len(tc.want)))
		})
	}
}

func TestCreateOrder_PayoutSuccessMovesToProcessing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 150_000)

	req := cryptoBuy(user.ID, "6.25")
	req.Network = "trc20"
	order, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusProcessing, order.Status)
	assert.True(t, order.PaidWithSaldo)
	assert.True(t, order.NetworkFeeIDR.Equal(dec("16000")))
	assert.True(t, order.AmountIDR.Equal(dec("116000")))
	assert.True(t, saldoOf(t, env.store, user.ID).Equal(dec("34000")))

	stored := reload(t, env.store, order.ID)
	assert.Equal(t, domain.StatusProcessing, stored.Status)
	assert.Equal(t, "wd-1", stored.GatewayPayoutID)
	assert.Equal(t, "batch-1", stored.GatewayBatchID)

	require.Len(t, env.gw.payoutRequests, 1)
	sent := env.gw.payoutRequests[0]
	assert.Equal(t, "usdttrc20", sent.Currency)
	assert.Equal(t, order.Code, sent.OrderCode)
	// Payout carries the network fee buffer at the frozen rate.
	assert.True(t, sent.Amount.Equal(dec("7.25")), "got %s", sent.Amount)

	history, err := NewAuditService(env.store).History(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCreateOrder_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.store, 10_000)

	_, err := env.orders.CreateOrder(context.Background(), cryptoBuy(user.ID, "6.25"))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	assert.Equal(t, 0, env.countOrders(t))
	assert.True(t, saldoOf(t, env.store, user.ID).Equal(dec("10000")))
	assert.Empty(t, env.gw.payoutRequests)
}

func TestCreateOrder_DuplicateWithinWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 0)
	req := CreateOrderRequest{UserID: user.ID, Channel: domain.ChannelPayPal, Direction: domain.DirectionSell, Amount: dec("10")}

	_, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
	_, err = env.orders.CreateOrder(ctx, req)
	require.ErrorIs(t, err, ErrDuplicateOrder)
	assert.Equal(t, 1, env.countOrders(t))

	req.Amount = dec("11")
	_, err = env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
}

func TestCreateOrder_BelowMinimum(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.store, 0)

	_, err := env.orders.CreateOrder(context.Background(), CreateOrderRequest{
		UserID: user.ID, Channel: domain.ChannelPayPal, Direction: domain.DirectionSell, Amount: dec("1"),
	})
	require.ErrorIs(t, err, ErrBelowMinimum)

	env.gw.min = dec("0.5")
	_, err = env.orders.CreateOrder(context.Background(), CreateOrderRequest{
		UserID: user.ID, Channel: domain.ChannelCrypto, Direction: domain.DirectionSell, Amount: dec("0.1"),
		CryptoSymbol: "btc", Network: "btc",
	})
	require.ErrorIs(t, err, ErrBelowMinimum)
	assert.Equal(t, 0, env.gw.paymentCalls)
}

func TestCreateOrder_Validation(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.store, 1_000_000)

	cases := map[string]CreateOrderRequest{
		"crypto buy without wallet": {UserID: user.ID, Channel: domain.ChannelCrypto, Direction: domain.DirectionBuy, Amount: dec("10"), CryptoSymbol: "usdt", Network: "erc20"},
		"manual buy without email":  {UserID: user.ID, Channel: domain.ChannelSkrill, Direction: domain.DirectionBuy, Amount: dec("10")},
		"unknown channel":           {UserID: user.ID, Channel: "wire", Direction: domain.DirectionSell, Amount: dec("10")},
		"zero amount":               {UserID: user.ID, Channel: domain.ChannelPayPal, Direction: domain.DirectionSell, Amount: decimal.Zero},
		"unsupported network":       {UserID: user.ID, Channel: domain.ChannelCrypto, Direction: domain.DirectionSell, Amount: dec("10"), CryptoSymbol: "usdt", Network: "tron"},
		"untraded symbol":           {UserID: user.ID, Channel: domain.ChannelCrypto, Direction: domain.DirectionSell, Amount: dec("10"), CryptoSymbol: "doge", Network: "doge"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.orders.CreateOrder(context.Background(), req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Equal(t, 0, env.countOrders(t))
}

func TestCreateOrder_SellCryptoOpensPaymentIntent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 0)

	order, err := env.orders.CreateOrder(ctx, CreateOrderRequest{
		UserID: user.ID, Channel: domain.ChannelCrypto, Direction: domain.DirectionSell, Amount: dec("0.01"),
		CryptoSymbol: "btc", Network: "btc",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, order.Status)
	assert.False(t, order.PaidWithSaldo)
	assert.Equal(t, "pay-1", order.GatewayPaymentID)
	assert.Equal(t, "bc1q-pay-1", order.PayAddress)
	assert.True(t, order.AmountIDR.Equal(dec("160000")))
	require.NotNil(t, order.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *order.ExpiresAt, time.Minute)

	assert.True(t, saldoOf(t, env.store, user.ID).IsZero())
	assert.Empty(t, env.entries(t, order.ID))

	created := env.notifier.byKind(notify.KindOrderCreated, notify.AudienceCustomer)
	require.Len(t, created, 1)
	assert.Equal(t, user.Email, created[0].Recipient)
	assert.Len(t, env.notifier.byKind(notify.KindOrderCreated, notify.AudienceAdmin), 1)
}

func TestCreateOrder_ManualSellAwaitsProof(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.store, 0)

	order, err := env.orders.CreateOrder(context.Background(), CreateOrderRequest{
		UserID: user.ID, Channel: "Skrill", Direction: "SELL", Amount: dec("20"),
		BankName: "BCA", BankAccountNumber: "1234567890", BankAccountName: "Test User",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPendingProof, order.Status)
	assert.Equal(t, domain.ChannelSkrill, order.Channel)
	assert.True(t, order.AmountIDR.Equal(dec("300000")))
	require.NotNil(t, order.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(3*time.Hour), *order.ExpiresAt, time.Minute)
	assert.Zero(t, env.gw.paymentCalls)
}

func TestCreateOrder_ManualBuyGivesAdminLinks(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.store, 500_000)

	order, err := env.orders.CreateOrder(context.Background(), CreateOrderRequest{
		UserID: user.ID, Channel: domain.ChannelPayPal, Direction: domain.DirectionBuy, Amount: dec("10"),
		ExternalEmail: "Buyer@Example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusConfirmed, order.Status)
	assert.Equal(t, "buyer@example.com", order.ExternalEmail)
	assert.True(t, saldoOf(t, env.store, user.ID).Equal(dec("345000")))

	admin := env.notifier.byKind(notify.KindOrderCreated, notify.AudienceAdmin)
	require.Len(t, admin, 1)
	assert.Contains(t, admin[0].Links, "complete")
	assert.Contains(t, admin[0].Links, "reject")
}

func TestGetOrder_Ownership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := seedUser(t, env.store, 0)
	other := seedUser(t, env.store, 0)
	order := insertOrder(t, env.store, sellCryptoOrder(owner.ID, domain.StatusPending, "0.01", nil))

	got, err := env.orders.GetOrder(ctx, owner.ID, order.Code)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = env.orders.GetOrder(ctx, other.ID, order.Code)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.orders.GetOrder(ctx, owner.ID, "EX-NOPE")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
