// Package market fetches the price snapshot used by the daily summary.
//
// Fetch never fails on provider trouble: HTTP errors, decode errors and an
// open breaker all produce synthesized data with Fallback set.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"castbot/internal/observability"
	logx "castbot/pkg/logx"
)

const (
	DefaultURL     = "https://api.coingecko.com/api/v3/simple/price"
	DefaultCoin    = "bitcoin"
	DefaultTimeout = 8 * time.Second
)

// Data is one market snapshot.
type Data struct {
	Coin      string    `json:"coin"`
	Price     float64   `json:"price"`
	Change24h string    `json:"change_24h"`
	MarketCap float64   `json:"market_cap"`
	Fallback  bool      `json:"fallback"`
	FetchedAt time.Time `json:"fetched_at"`
}

type Config struct {
	URL     string
	Coin    string
	Timeout time.Duration
}

type Fetcher struct {
	cfg     Config
	hc      *http.Client
	cb      *gobreaker.CircuitBreaker
	log     logx.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewFetcher(cfg Config, log logx.Logger, m *observability.Metrics) *Fetcher {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if strings.TrimSpace(cfg.Coin) == "" {
		cfg.Coin = DefaultCoin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "market"))
	f := &Fetcher{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.Timeout},
		log:     log,
		metrics: m,
		now:     time.Now,
	}
	f.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "market",
		MaxRequests: 1,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 3 },
		// A caller giving up says nothing about the provider's health.
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, context.Canceled) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("market breaker state changed", logx.String("from", from.String()), logx.String("to", to.String()))
		},
	})
	return f
}

// Fetch returns live data, or fallback data when the provider is unavailable.
// The only error it returns is ctx's.
func (f *Fetcher) Fetch(ctx context.Context) (Data, error) {
	if err := ctx.Err(); err != nil {
		return Data{}, err
	}
	res, err := f.cb.Execute(func() (interface{}, error) { return f.fetch(ctx) })
	if err == nil {
		f.metrics.ObserveMarketFetch("ok")
		return res.(Data), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Data{}, ctxErr
	}
	reason := "error"
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		reason = "breaker_open"
	}
	f.metrics.ObserveMarketFetch("fallback")
	f.log.Warn("market data unavailable, using fallback", logx.String("reason", reason), logx.Err(err))
	return Fallback(f.cfg.Coin, f.now()), nil
}

type priceEntry struct {
	USD          float64 `json:"usd"`
	USDMarketCap float64 `json:"usd_market_cap"`
	USD24hChange float64 `json:"usd_24h_change"`
}

func (f *Fetcher) fetch(ctx context.Context) (Data, error) {
	u, err := url.Parse(f.cfg.URL)
	if err != nil {
		return Data{}, fmt.Errorf("market: bad url: %w", err)
	}
	q := u.Query()
	q.Set("ids", f.cfg.Coin)
	q.Set("vs_currencies", "usd")
	q.Set("include_market_cap", "true")
	q.Set("include_24hr_change", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Data{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.hc.Do(req)
	if err != nil {
		return Data{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Data{}, fmt.Errorf("market: unexpected status %d", resp.StatusCode)
	}

	var body map[string]priceEntry
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Data{}, fmt.Errorf("market: decode: %w", err)
	}
	e, ok := body[f.cfg.Coin]
	if !ok || e.USD <= 0 {
		return Data{}, fmt.Errorf("market: no price for %q", f.cfg.Coin)
	}
	return Data{
		Coin:      f.cfg.Coin,
		Price:     e.USD,
		Change24h: FormatChange(e.USD24hChange),
		MarketCap: e.USDMarketCap,
		FetchedAt: f.now(),
	}, nil
}

// Fallback synthesizes a plausible snapshot so the daily cadence survives an outage.
func Fallback(coin string, at time.Time) Data {
	price := 60000 + rand.Float64()*10000
	return Data{
		Coin:      coin,
		Price:     price,
		Change24h: FormatChange(rand.Float64()*10 - 5),
		MarketCap: price * 19_700_000,
		Fallback:  true,
		FetchedAt: at,
	}
}

// FormatChange renders a percentage change with an explicit sign, e.g. "+2.35%".
func FormatChange(pct float64) string {
	return fmt.Sprintf("%+.2f%%", pct)
}
