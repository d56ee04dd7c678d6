package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/saldo-exchange/internal/db"
	"github.com/ayo6706/saldo-exchange/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, os.Getenv("DATABASE_URL"), 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = db.Migrate(ctx, pool)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, "TRUNCATE TABLE idempotency_keys")
	require.NoError(t, err)
	return pool
}

func TestScopedKey(t *testing.T) {
	assert.Equal(t, "abc", ScopedKey("", "abc"))
	assert.Equal(t, "user-1:abc", ScopedKey("user-1", "abc"))
}

func TestStore_ReserveFinalizeReplay(t *testing.T) {
	store := NewStore(nil, setupPool(t), time.Hour)
	ctx := context.Background()
	key := ScopedKey(uuid.NewString(), "order-1")

	_, err := store.Lookup(ctx, key, "h1")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := store.Reserve(ctx, key, "h1", "POST", "/v1/orders")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Reserve(ctx, key, "h1", "POST", "/v1/orders")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Lookup(ctx, key, "h1")
	require.ErrorIs(t, err, ErrInProgress)

	_, err = store.Finalize(ctx, key, "h1", 201, []byte(`{"order_code":"EX-1"}`), "application/json")
	require.NoError(t, err)

	rec, err := store.WaitForCompletion(ctx, key, "h1")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)
	assert.JSONEq(t, `{"order_code":"EX-1"}`, string(rec.Body))
	assert.Equal(t, "postgres", rec.ServedBy)

	_, err = store.Lookup(ctx, key, "other-body")
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestStore_ReleaseAllowsRetry(t *testing.T) {
	store := NewStore(nil, setupPool(t), time.Hour)
	ctx := context.Background()
	key := ScopedKey(uuid.NewString(), "order-2")

	ok, err := store.Reserve(ctx, key, "h1", "POST", "/v1/orders")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Release(ctx, key))

	ok, err = store.Reserve(ctx, key, "h2", "POST", "/v1/orders")
	require.NoError(t, err)
	assert.True(t, ok)
}
