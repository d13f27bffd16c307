// Package provider implements the HTTP fetcher: connection-pooled,
// rate-limited, retrying, cached, validated calls to the market-data
// REST provider.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jpillora/backoff"

	"optionflow-scanner/internal/config"
	"optionflow-scanner/internal/errs"
	"optionflow-scanner/internal/ratelimit"
	"optionflow-scanner/internal/ring"
)

const (
	priceCacheTTL        = 30 * time.Second
	snapshotCacheTTL     = 30 * time.Second
	dailyAggCacheTTL     = 15 * time.Minute
	intradayAggCacheTTL  = 60 * time.Second
	connectTimeout       = 5 * time.Second
	totalRequestDeadline = 30 * time.Second
	maxIdleConns         = 100
	maxConnsPerHost      = 30
)

// httpDoer is the seam S5's fake HTTP client patches in tests.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher is shared process-wide across all scanner workers: one
// HTTP pool, one rate limiter, one circuit breaker, one TTL cache.
type Fetcher struct {
	client  httpDoer
	baseURL string
	apiKey  string

	limiter *ratelimit.Limiter
	cache   *ttlCache
	skip    *skipList

	retryAttempts int
	retryDelay    time.Duration

	skipRecords *ring.Buffer[ring.SkipRecord]
}

// New builds a Fetcher from configuration. The HTTP transport is
// explicitly bounded: 100 idle connections total, 30 per host, 5s
// connect timeout, 30s total deadline.
func New(cfg config.ProviderConfig, redisCfg config.RedisConfig) *Fetcher {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxConnsPerHost:     maxConnsPerHost,
		MaxIdleConnsPerHost: maxConnsPerHost,
		DialContext:         dialer.DialContext,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   totalRequestDeadline,
	}

	rc := newRedisCache(redisCfg.Host, redisCfg.Port, redisCfg.Password)

	return &Fetcher{
		client:        client,
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		limiter:       ratelimit.New(cfg.RateLimitPerSecond, cfg.CircuitFailureN, time.Duration(cfg.CircuitWindowSecs)*time.Second, time.Duration(cfg.CircuitCooldownSec)*time.Second),
		cache:         newTTLCache(rc),
		skip:          newSkipList(),
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    time.Duration(cfg.RetryDelaySecs) * time.Second,
		skipRecords:   ring.New[ring.SkipRecord](200),
	}
}

// Close releases the Fetcher's pooled resources (supervisor shutdown).
func (f *Fetcher) Close() error {
	if c, ok := f.client.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return f.cache.redis.close()
}

// SkipRecords returns the last (up to 200) contract/symbol-level skip
// diagnostics for observability.
func (f *Fetcher) SkipRecords() []ring.SkipRecord {
	return f.skipRecords.Snapshot()
}

func (f *Fetcher) recordSkip(symbol, reason string) {
	f.skipRecords.Push(ring.SkipRecord{At: time.Now().Format(time.RFC3339), Symbol: symbol, Reason: reason})
}

// GetStockPrice returns the current price via the fallback chain
// day.c -> day.vw -> lastTrade.price -> lastQuote.midpoint/bid/ask ->
// prevDay.c/vw.
func (f *Fetcher) GetStockPrice(ctx context.Context, symbol string) (float64, error) {
	if f.skip.contains(symbol) {
		return 0, errs.NewNotFound(symbol)
	}

	cacheKey := "price:" + symbol
	var cached float64
	if f.cache.get(ctx, cacheKey, &cached) {
		return cached, nil
	}

	path := fmt.Sprintf("/v2/snapshot/locale/us/markets/stocks/tickers/%s", symbol)
	body, err := f.doGet(ctx, symbol, path, nil)
	if err != nil {
		return 0, err
	}

	var snap stockSnapshotResponse
	if err := json.Unmarshal(body, &snap); err != nil {
		return 0, errs.NewDataValidation("stock_snapshot", "malformed payload: "+err.Error())
	}

	price, err := snap.resolvePrice()
	if err != nil {
		return 0, err
	}

	f.cache.set(ctx, cacheKey, price, priceCacheTTL)
	return price, nil
}

// GetAggregates fetches OHLCV bars. multiplier/timespan follow the
// caller's exact request (minute buckets for all three STRAT
// timeframes).
func (f *Fetcher) GetAggregates(ctx context.Context, symbol string, multiplier int, timespan string, from, to time.Time) ([]Bar, error) {
	if f.skip.contains(symbol) {
		return nil, errs.NewNotFound(symbol)
	}

	cacheKey := fmt.Sprintf("agg:%s:%d:%s:%s:%s", symbol, multiplier, timespan, from.Format(time.RFC3339), to.Format(time.RFC3339))
	var cached []Bar
	if f.cache.get(ctx, cacheKey, &cached) {
		return cached, nil
	}

	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/%d/%s/%s/%s", symbol, multiplier, timespan, from.Format("2006-01-02"), to.Format("2006-01-02"))
	query := url.Values{"adjusted": {"true"}, "sort": {"asc"}, "limit": {"5000"}}
	body, err := f.doGet(ctx, symbol, path, query)
	if err != nil {
		return nil, err
	}

	var agg aggregatesResponse
	if err := json.Unmarshal(body, &agg); err != nil {
		return nil, errs.NewDataValidation("aggregates", "malformed payload: "+err.Error())
	}

	bars := make([]Bar, 0, len(agg.Results))
	for _, r := range agg.Results {
		b := Bar{
			StartUTC: time.UnixMilli(r.T).UTC(),
			Open:     r.O,
			High:     r.H,
			Low:      r.L,
			Close:    r.C,
			Volume:   r.V,
			VWAP:     r.VW,
		}
		b.EndUTC = b.StartUTC.Add(time.Duration(multiplier) * unitDuration(timespan))
		if !b.Valid() || hasNonFinite(b.Open, b.High, b.Low, b.Close, b.Volume) {
			f.recordSkip(symbol, "invalid bar rejected: OHLCV invariant or non-finite value")
			continue
		}
		bars = append(bars, b)
	}

	ttl := intradayAggCacheTTL
	if timespan == "day" {
		ttl = dailyAggCacheTTL
	}
	f.cache.set(ctx, cacheKey, bars, ttl)
	return bars, nil
}

// GetOptionChainSnapshot fetches every contract for underlying,
// optionally filtered by kind ("" means both).
func (f *Fetcher) GetOptionChainSnapshot(ctx context.Context, underlying string, kind string) ([]ContractSnapshot, error) {
	if f.skip.contains(underlying) {
		return nil, errs.NewNotFound(underlying)
	}

	cacheKey := "chain:" + underlying + ":" + kind
	var cached []ContractSnapshot
	if f.cache.get(ctx, cacheKey, &cached) {
		return cached, nil
	}

	path := fmt.Sprintf("/v3/snapshot/options/%s", underlying)
	query := url.Values{}
	if kind != "" {
		query.Set("contract_type", kind)
	}
	body, err := f.doGet(ctx, underlying, path, query)
	if err != nil {
		return nil, err
	}

	var chain optionChainResponse
	if err := json.Unmarshal(body, &chain); err != nil {
		return nil, errs.NewDataValidation("option_chain", "malformed payload: "+err.Error())
	}

	out := make([]ContractSnapshot, 0, len(chain.Results))
	for _, r := range chain.Results {
		cs, ok := r.toSnapshot(underlying)
		if !ok {
			f.recordSkip(underlying, "contract rejected: missing/invalid required fields")
			continue
		}
		out = append(out, cs)
	}

	f.cache.set(ctx, cacheKey, out, snapshotCacheTTL)
	return out, nil
}

// GetStockTrades is used only by the optional block-trade scanner.
func (f *Fetcher) GetStockTrades(ctx context.Context, symbol string, since time.Time) ([]Trade, error) {
	if f.skip.contains(symbol) {
		return nil, errs.NewNotFound(symbol)
	}

	path := fmt.Sprintf("/v3/trades/%s", symbol)
	query := url.Values{"timestamp.gte": {strconv.FormatInt(since.UnixNano(), 10)}, "limit": {"5000"}}
	body, err := f.doGet(ctx, symbol, path, query)
	if err != nil {
		return nil, err
	}

	var resp tradesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.NewDataValidation("trades", "malformed payload: "+err.Error())
	}

	out := make([]Trade, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Price <= 0 || math.IsNaN(r.Price) || math.IsInf(r.Price, 0) {
			continue
		}
		out = append(out, Trade{Symbol: symbol, Price: r.Price, Size: r.Size, Timestamp: time.UnixMilli(r.ParticipantTimestamp / 1_000_000).UTC()})
	}
	return out, nil
}

// doGet issues an authenticated, rate-limited, retried GET and
// returns the raw body. A 404 marks the symbol sticky. 429/5xx retry
// with backoff; 429 honors Retry-After when present and does not
// count against the circuit breaker.
func (f *Fetcher) doGet(ctx context.Context, symbol, path string, query url.Values) ([]byte, error) {
	b := &backoff.Backoff{Min: f.retryDelay, Max: 30 * time.Second, Factor: 2, Jitter: true}

	reqURL := f.baseURL + path
	if query == nil {
		query = url.Values{}
	}
	query.Set("apiKey", f.apiKey)

	var lastErr error
	for attempt := 0; attempt <= f.retryAttempts; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL+"?"+query.Encode(), nil)
		if err != nil {
			return nil, errs.NewFatalConfig("request", err.Error())
		}

		resp, err := f.client.Do(req)
		if err != nil {
			f.limiter.RecordFailure()
			lastErr = errs.NewTransient(path, err)
			time.Sleep(b.Duration())
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			f.skip.add(symbol)
			f.recordSkip(symbol, "404 sticky")
			return nil, errs.NewNotFound(symbol)

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := resp.Header.Get("Retry-After")
			lastErr = errs.NewRateLimited(path, retryAfter)
			time.Sleep(retryAfterDuration(retryAfter, b.Duration()))
			continue

		case resp.StatusCode >= 500:
			f.limiter.RecordFailure()
			lastErr = errs.NewTransient(path, fmt.Errorf("status %d", resp.StatusCode))
			time.Sleep(b.Duration())
			continue

		case resp.StatusCode >= 400:
			f.limiter.RecordFailure()
			return nil, errs.NewDataValidation(path, fmt.Sprintf("status %d", resp.StatusCode))

		default:
			if readErr != nil {
				f.limiter.RecordFailure()
				lastErr = errs.NewTransient(path, readErr)
				time.Sleep(b.Duration())
				continue
			}
			f.limiter.RecordSuccess()
			return body, nil
		}
	}
	return nil, lastErr
}

func retryAfterDuration(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func hasNonFinite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func unitDuration(timespan string) time.Duration {
	switch timespan {
	case "minute":
		return time.Minute
	case "hour":
		return time.Hour
	case "day":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
