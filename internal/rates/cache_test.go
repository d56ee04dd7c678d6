package rates

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheServesFreshValue(t *testing.T) {
	var calls atomic.Int32
	c := NewCache[int]("test", time.Minute, func(ctx context.Context, key string) (int, error) {
		calls.Add(1)
		return 42, nil
	})

	for i := 0; i < 3; i++ {
		v, err := c.Get(context.Background(), "k")
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheSingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := NewCache[int]("test", time.Minute, func(ctx context.Context, key string) (int, error) {
		calls.Add(1)
		<-release
		return 7, nil
	})

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "k")
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestCacheStaleOnError(t *testing.T) {
	now := time.Now()
	fail := false
	c := NewCache[int]("test", time.Minute, func(ctx context.Context, key string) (int, error) {
		if fail {
			return 0, errors.New("upstream down")
		}
		return 1, nil
	})
	c.now = func() time.Time { return now }

	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	fail = true
	now = now.Add(2 * time.Minute)
	v, err = c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = c.Get(context.Background(), "other")
	assert.EqualError(t, err, "upstream down")
}

func TestCacheRefreshesAfterTTL(t *testing.T) {
	now := time.Now()
	n := 0
	c := NewCache[int]("test", time.Minute, func(ctx context.Context, key string) (int, error) {
		n++
		return n, nil
	})
	c.now = func() time.Time { return now }

	v, _ := c.Get(context.Background(), "k")
	assert.Equal(t, 1, v)
	now = now.Add(61 * time.Second)
	v, _ = c.Get(context.Background(), "k")
	assert.Equal(t, 2, v)

	c.Invalidate("k")
	v, _ = c.Get(context.Background(), "k")
	assert.Equal(t, 3, v)
}

func TestStaticOracle(t *testing.T) {
	o := NewStaticOracle(map[string]decimal.Decimal{"USDT": decimal.NewFromInt(16250)})
	r, err := o.Rate(context.Background(), "usdt")
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.NewFromInt(16250)))

	_, err = o.Rate(context.Background(), "btc")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestHTTPOracleThroughCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/usdt" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"rate": "16250.50"}`))
	}))
	defer srv.Close()

	o := NewCachedOracle(NewHTTPOracle(srv.URL, time.Second), time.Minute)
	r, err := o.Rate(context.Background(), "USDT")
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("16250.5")))
	_, err = o.Rate(context.Background(), "usdt")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	_, err = o.Rate(context.Background(), "doge")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}
