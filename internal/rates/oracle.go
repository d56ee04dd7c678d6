package rates

import (
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
)

var ErrUnknownSymbol = errors.New("no rate for symbol")

// Oracle quotes the IDR value of one unit of a crypto symbol or e-wallet channel.
type Oracle interface {
	Rate(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// StaticOracle serves fixed rates, used in mock mode and as a fallback source.
type StaticOracle struct {
	rates map[string]decimal.Decimal
}

func NewStaticOracle(rates map[string]decimal.Decimal) *StaticOracle {
	normalised := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		normalised[strings.ToLower(k)] = v
	}
	return &StaticOracle{rates: normalised}
}

func (o *StaticOracle) Rate(_ context.Context, symbol string) (decimal.Decimal, error) {
	r, ok := o.rates[strings.ToLower(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return r, nil
}

// HTTPOracle reads rates from GET {base}/{symbol} returning {"rate": <idr>}.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
}

func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{Timeout: timeout}}
}

func (o *HTTPOracle) Rate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/"+url.PathEscape(strings.ToLower(symbol)), nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch rate %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("fetch rate %s: status %d: %s", symbol, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate %s: %w", symbol, err)
	}
	if !out.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rate source returned non-positive rate for %s", symbol)
	}
	return out.Rate, nil
}

// CachedOracle fronts another Oracle with a Cache.
type CachedOracle struct {
	cache *Cache[decimal.Decimal]
}

func NewCachedOracle(src Oracle, ttl time.Duration) *CachedOracle {
	return &CachedOracle{cache: NewCache[decimal.Decimal]("rates", ttl, func(ctx context.Context, key string) (decimal.Decimal, error) {
		return src.Rate(ctx, key)
	})}
}

func (o *CachedOracle) Rate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return o.cache.Get(ctx, strings.ToLower(symbol))
}
