// Package pricefeed looks up USD prices for the staking tokens. Prices are
// display-only; a failed lookup never blocks anything else.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/whalestrategy/whalestake/internal/logging"
	"github.com/whalestrategy/whalestake/internal/metrics"
	"github.com/whalestrategy/whalestake/pkg/types"
)

// ErrPriceUnavailable is returned when no requested price could be produced.
var ErrPriceUnavailable = errors.New("price unavailable")

// Source provides USD prices.
type Source interface {
	Prices(ctx context.Context, syms []types.TokenSymbol) (map[types.TokenSymbol]decimal.Decimal, error)
}

// CoinGecko asset IDs; BTC and ETH price the wrapped tokens.
var coinIDs = map[types.TokenSymbol]string{
	types.TokenUSDT: "tether",
	types.TokenBTC:  "bitcoin",
	types.TokenETH:  "ethereum",
}

// Config configures a Feed
type Config struct {
	BaseURL           string
	TTL               time.Duration
	RequestsPerMinute int
	Timeout           time.Duration
}

type cached struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Feed is a rate-limited, caching CoinGecko client.
type Feed struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	metrics *metrics.Collector
	now     func() time.Time

	mu    sync.Mutex
	cache map[types.TokenSymbol]cached
}

// Option configures a Feed
type Option func(*Feed)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(f *Feed) { f.client = c }
}

// WithMetrics records fetch results
func WithMetrics(m *metrics.Collector) Option {
	return func(f *Feed) { f.metrics = m }
}

// New creates a Feed
func New(cfg Config, opts ...Option) *Feed {
	if cfg.RequestsPerMinute < 1 {
		cfg.RequestsPerMinute = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	f := &Feed{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		now:     time.Now,
		cache:   make(map[types.TokenSymbol]cached),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Prices returns USD prices for syms. Fresh cache entries are served
// directly. When the rate limit is exhausted or the request fails, stale
// entries are returned instead. ErrPriceUnavailable is returned only when
// nothing at all could be produced.
func (f *Feed) Prices(ctx context.Context, syms []types.TokenSymbol) (map[types.TokenSymbol]decimal.Decimal, error) {
	out := make(map[types.TokenSymbol]decimal.Decimal, len(syms))
	var missing []types.TokenSymbol

	f.mu.Lock()
	now := f.now()
	for _, s := range syms {
		if c, ok := f.cache[s]; ok && now.Sub(c.fetchedAt) < f.cfg.TTL {
			out[s] = c.price
		} else if _, known := coinIDs[s]; known {
			missing = append(missing, s)
		}
	}
	f.mu.Unlock()

	if len(missing) == 0 {
		return finish(out)
	}

	var fetchErr error
	if !f.limiter.Allow() {
		fetchErr = errors.New("rate limited")
	} else {
		fresh, err := f.fetch(ctx, missing)
		f.metrics.RecordPriceFetch(err == nil)
		fetchErr = err

		f.mu.Lock()
		for s, p := range fresh {
			f.cache[s] = cached{price: p, fetchedAt: f.now()}
			out[s] = p
		}
		f.mu.Unlock()
	}

	if fetchErr != nil {
		logging.Debug("price fetch failed, serving stale prices", logging.Err(fetchErr))
		f.mu.Lock()
		for _, s := range missing {
			if _, ok := out[s]; ok {
				continue
			}
			if c, ok := f.cache[s]; ok {
				out[s] = c.price
			}
		}
		f.mu.Unlock()
	}
	return finish(out)
}

func finish(out map[types.TokenSymbol]decimal.Decimal) (map[types.TokenSymbol]decimal.Decimal, error) {
	if len(out) == 0 {
		return nil, ErrPriceUnavailable
	}
	return out, nil
}

// fetch issues one /simple/price request for syms
func (f *Feed) fetch(ctx context.Context, syms []types.TokenSymbol) (map[types.TokenSymbol]decimal.Decimal, error) {
	ids := make([]string, 0, len(syms))
	for _, s := range syms {
		ids = append(ids, coinIDs[s])
	}
	sort.Strings(ids)

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	endpoint := strings.TrimRight(f.cfg.BaseURL, "/") + "/simple/price?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrPriceUnavailable, resp.StatusCode)
	}

	var body map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrPriceUnavailable, err)
	}

	out := make(map[types.TokenSymbol]decimal.Decimal, len(syms))
	for _, s := range syms {
		raw, ok := body[coinIDs[s]]["usd"]
		if !ok {
			continue
		}
		p, err := decimal.NewFromString(raw.String())
		if err != nil {
			continue
		}
		out[s] = p
	}
	return out, nil
}
