package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/domain"
	"github.com/ayo6706/saldo-exchange/internal/notify"
	"github.com/ayo6706/saldo-exchange/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_ExpiresUnpaidSellOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 0)
	past := timePtr(time.Now().Add(-time.Minute))

	unpaid := insertOrder(t, env.store, sellCryptoOrder(user.ID, domain.StatusPending, "1", past))
	fresh := insertOrder(t, env.store, sellCryptoOrder(user.ID, domain.StatusPending, "2", timePtr(time.Now().Add(time.Hour))))

	summary, err := env.expiry.Sweep(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, []string{unpaid.Code}, summary.Orders)

	assert.Equal(t, domain.StatusExpired, reload(t, env.store, unpaid.ID).Status)
	assert.Equal(t, domain.StatusPending, reload(t, env.store, fresh.ID).Status)
	assert.Empty(t, env.entries(t, unpaid.ID))
	assert.Len(t, env.notifier.byKind(notify.KindOrderExpired, notify.AudienceCustomer), 1)

	again, err := env.expiry.Sweep(ctx, 50)
	require.NoError(t, err)
	assert.Zero(t, again.Scanned)
}

func TestSweep_PartialPaymentCompletes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 0)
	order := insertOrder(t, env.store, sellCryptoOrder(user.ID, domain.StatusPending, "1", timePtr(time.Now().Add(-time.Minute))))

	_, err := env.store.Queries().MirrorGatewayStatus(ctx, repository.MirrorGatewayStatusParams{
		ID:            order.ID,
		PaymentStatus: strPtr("partially_paid"),
		ActuallyPaid:  decimal.NewNullDecimal(dec("0.4")),
	})
	require.NoError(t, err)

	summary, err := env.expiry.Sweep(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PartialCredits)
	assert.Zero(t, summary.Expired)

	settled := reload(t, env.store, order.ID)
	assert.Equal(t, domain.StatusCompleted, settled.Status)
	assert.Equal(t, domain.NotePartialExpired, settled.PaymentNote)
	assert.True(t, saldoOf(t, env.store, user.ID).Equal(dec("6400000")))
}

func TestSweep_SkipsBuyAndProofBearingOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := seedUser(t, env.store, 0)
	past := timePtr(time.Now().Add(-time.Minute))

	buy := sellCryptoOrder(user.ID, domain.StatusConfirmed, "1", past)
	buy.Direction = domain.DirectionBuy
	buy.PaidWithSaldo = true
	buyOrder := insertOrder(t, env.store, buy)

	manual := sellCryptoOrder(user.ID, domain.StatusPendingProof, "10", past)
	manual.Channel = domain.ChannelPayPal
	manual.CryptoSymbol, manual.Network, manual.GatewayPaymentID = "", "", ""
	manualOrder := insertOrder(t, env.store, manual)
	env.markProofUploaded(t, manualOrder.ID)

	summary, err := env.expiry.Sweep(ctx, 50)
	require.NoError(t, err)
	assert.Zero(t, summary.Scanned)

	assert.Equal(t, domain.StatusConfirmed, reload(t, env.store, buyOrder.ID).Status)
	assert.Equal(t, domain.StatusPendingProof, reload(t, env.store, manualOrder.ID).Status)

	// Even when targeted directly, the planner refuses both.
	for _, id := range []uuid.UUID{buyOrder.ID, manualOrder.ID} {
		res, err := env.settlement.ApplyTerminalTransition(ctx, repository.OrderRef{ID: id}, domain.Outcome{Kind: domain.OutcomeExpired}, domain.SourceSweeper, nil)
		require.NoError(t, err)
		assert.False(t, res.Applied)
	}
}

func TestSweep_ExpiresManualOrderWithoutProof(t *testing.T) {
	env := newTestEnv(t)
	user := seedUser(t, env.store, 0)

	order, err := env.orders.CreateOrder(context.Background(), CreateOrderRequest{
		UserID: user.ID, Channel: domain.ChannelSkrill, Direction: domain.DirectionSell, Amount: dec("20"),
	})
	require.NoError(t, err)
	env.setExpiresAt(t, order.ID, time.Now().Add(-time.Second))

	summary, err := env.expiry.Sweep(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Expired)
	assert.Equal(t, domain.StatusExpired, reload(t, env.store, order.ID).Status)
}
