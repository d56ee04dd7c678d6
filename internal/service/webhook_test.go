package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentIPN(paymentID, orderCode, status, paid string) []byte {
	return []byte(fmt.Sprintf(`{"payment_id":%q,"payment_status":%q,"pay_address":"bc1q-test","actually_paid":%s,"order_id":%q,"pay_currency":"btc"}`,
		paymentID, status, paid, orderCode))
}

func TestHandlePaymentIPN_RejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.store, 0)
	order := insertOrder(t, env.store, sellCryptoOrder(user.ID, domain.StatusPending, "1", nil))

	body := paymentIPN(order.GatewayPaymentID, order.Code, "finished", "1")
	_, err := env.webhooks.HandlePaymentIPN(context.Background(), body, "deadbeef")
	require.ErrorIs(t, err, ErrInvalidSignature)

	assert.Equal(t, domain.StatusPending, reload(t, env.store, order.ID).Status)
	assert.True(t, saldoOf(t, env.store, user.ID).IsZero())
}

func TestHandlePaymentIPN_DuplicateDeliveryCreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 0)
	order := insertOrder(t, env.store, sellCryptoOrder(user.ID, domain.StatusPending, "1", nil))

	body := paymentIPN(order.GatewayPaymentID, order.Code, "finished", "1.05")
	sig := env.sign(t, body)

	first, err := env.webhooks.HandlePaymentIPN(ctx, body, sig)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, domain.StatusCompleted, first.Status)

	second, err := env.webhooks.HandlePaymentIPN(ctx, body, sig)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, domain.StatusCompleted, second.Status)

	assert.True(t, saldoOf(t, env.store, user.ID).Equal(dec("16800000")))
	assert.Len(t, env.entries(t, order.ID), 1)
}

func TestHandlePaymentIPN_FallsBackToGatewayID(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.store, 0)
	order := insertOrder(t, env.store, sellCryptoOrder(user.ID, domain.StatusPending, "1", nil))

	body := paymentIPN(order.GatewayPaymentID, "unrelated-reference", "finished", "1")
	res, err := env.webhooks.HandlePaymentIPN(context.Background(), body, env.sign(t, body))
	require.NoError(t, err)
	assert.Equal(t, order.Code, res.OrderCode)
	assert.True(t, res.Applied)
}

func TestHandlePaymentIPN_InProgressOnlyMirrors(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.store, 0)
	order := insertOrder(t, env.store, sellCryptoOrder(user.ID, domain.StatusPending, "1", nil))

	body := paymentIPN(order.GatewayPaymentID, order.Code, "confirming", "0.4")
	res, err := env.webhooks.HandlePaymentIPN(context.Background(), body, env.sign(t, body))
	require.NoError(t, err)
	assert.False(t, res.Applied)

	stored := reload(t, env.store, order.ID)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, "confirming", stored.PaymentStatus)
	require.True(t, stored.ActuallyPaid.Valid)
	assert.True(t, stored.ActuallyPaid.Decimal.Equal(dec("0.4")))
	assert.Empty(t, env.entries(t, order.ID))
}

func TestHandlePaymentIPN_UnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	body := paymentIPN("missing-payment", "EX-MISSING", "finished", "1")
	_, err := env.webhooks.HandlePaymentIPN(context.Background(), body, env.sign(t, body))
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestHandlePayoutIPN_FailedPayoutRefunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 150_000)

	order, err := env.orders.CreateOrder(ctx, cryptoBuy(user.ID, "6.25"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, order.Status)
	assert.True(t, saldoOf(t, env.store, user.ID).Equal(dec("50000")))

	// Lookup by batch id only.
	body := []byte(`{"id":"","batch_withdrawal_id":"batch-1","status":"FAILED","hash":"","error":"insufficient hot wallet"}`)
	res, err := env.webhooks.HandlePayoutIPN(ctx, body, env.sign(t, body))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.StatusFailed, res.Status)

	stored := reload(t, env.store, order.ID)
	assert.Equal(t, "FAILED", stored.PayoutStatus)
	assert.Equal(t, "insufficient hot wallet", stored.GatewayError)
	assert.True(t, saldoOf(t, env.store, user.ID).Equal(dec("150000")))
}

func TestHandlePayoutIPN_FinishedCompletesWithoutCredit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 150_000)

	order, err := env.orders.CreateOrder(ctx, cryptoBuy(user.ID, "6.25"))
	require.NoError(t, err)

	body := []byte(fmt.Sprintf(`{"id":"wd-1","batch_withdrawal_id":"batch-1","unique_external_id":%q,"status":"FINISHED","hash":"0xabc"}`, order.Code))
	res, err := env.webhooks.HandlePayoutIPN(ctx, body, env.sign(t, body))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)

	stored := reload(t, env.store, order.ID)
	assert.Equal(t, "0xabc", stored.PayoutHash)
	assert.True(t, saldoOf(t, env.store, user.ID).Equal(dec("50000")))
	assert.Len(t, env.entries(t, order.ID), 1)
}

func TestCheckOrder_PollsGateway(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 0)
	other := seedUser(t, env.store, 0)
	order := insertOrder(t, env.store, sellCryptoOrder(user.ID, domain.StatusPending, "1", nil))

	_, err := env.poll.CheckOrder(ctx, other.ID, order.Code)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = env.poll.CheckOrder(ctx, user.ID, order.Code)
	require.ErrorIs(t, err, gateway.ErrNotFound)

	env.gw.paymentStatus[order.GatewayPaymentID] = gateway.PaymentStatus{ID: order.GatewayPaymentID, Status: "finished"}
	res, err := env.poll.CheckOrder(ctx, user.ID, order.Code)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, saldoOf(t, env.store, user.ID).Equal(dec("16000000")))

	again, err := env.poll.CheckOrder(ctx, user.ID, order.Code)
	require.NoError(t, err)
	assert.False(t, again.Applied)
}

func TestCheckOutstanding_SettlesLostCallbacks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 0)
	paid := insertOrder(t, env.store, sellCryptoOrder(user.ID, domain.StatusPending, "1", nil))
	waiting := insertOrder(t, env.store, sellCryptoOrder(user.ID, domain.StatusPending, "2", nil))
	missing := insertOrder(t, env.store, sellCryptoOrder(user.ID, domain.StatusPending, "3", nil))

	env.gw.paymentStatus[paid.GatewayPaymentID] = gateway.PaymentStatus{Status: "finished"}
	env.gw.paymentStatus[waiting.GatewayPaymentID] = gateway.PaymentStatus{Status: "waiting"}

	summary, err := env.poll.CheckOutstanding(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Checked)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 1, summary.Errors)

	assert.Equal(t, domain.StatusCompleted, reload(t, env.store, paid.ID).Status)
	assert.Equal(t, domain.StatusPending, reload(t, env.store, waiting.ID).Status)
	assert.Equal(t, domain.StatusPending, reload(t, env.store, missing.ID).Status)
}
