package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	logx "castbot/pkg/logx"
)

func TestFetchLive(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ids") != "bitcoin" {
			t.Errorf("ids = %q", r.URL.Query().Get("ids"))
		}
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":65000.5,"usd_market_cap":1280000000000,"usd_24h_change":2.345}}`))
	}))
	defer srv.Close()

	f := NewFetcher(Config{URL: srv.URL}, logx.Nop(), nil)
	d, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if d.Fallback || d.Price != 65000.5 || d.MarketCap != 1280000000000 {
		t.Fatalf("data = %+v", d)
	}
	if d.Change24h != "+2.35%" {
		t.Fatalf("change = %q", d.Change24h)
	}
}

func TestFetchFallsBackOnError(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFetcher(Config{URL: srv.URL}, logx.Nop(), nil)
	for i := 0; i < 5; i++ {
		d, err := f.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch #%d: %v", i, err)
		}
		if !d.Fallback || d.Price <= 0 || d.Change24h == "" || d.MarketCap <= 0 {
			t.Fatalf("fallback data = %+v", d)
		}
	}
	// breaker opens after three consecutive failures
	if got := hits.Load(); got != 3 {
		t.Fatalf("provider hits = %d, want 3", got)
	}
}

func TestFetchMissingCoinFallsBack(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d, err := NewFetcher(Config{URL: srv.URL, Coin: "ethereum"}, logx.Nop(), nil).Fetch(context.Background())
	if err != nil || !d.Fallback || d.Coin != "ethereum" {
		t.Fatalf("d=%+v err=%v", d, err)
	}
}

func TestFetchCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFetcher(Config{URL: "http://127.0.0.1:1"}, logx.Nop(), nil).Fetch(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestCancelledRequestsDoNotTripBreaker(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	arrived := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 4 {
			arrived <- struct{}{}
			<-r.Context().Done()
			return
		}
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":1,"usd_market_cap":2,"usd_24h_change":0}}`))
	}))
	defer srv.Close()

	f := NewFetcher(Config{URL: srv.URL}, logx.Nop(), nil)
	for i := 0; i < 4; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-arrived
			cancel()
		}()
		if _, err := f.Fetch(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("fetch #%d: err = %v, want context.Canceled", i, err)
		}
		cancel()
	}

	d, err := f.Fetch(context.Background())
	if err != nil || d.Fallback {
		t.Fatalf("after cancellations: d=%+v err=%v, want live data", d, err)
	}
}

func TestFormatChange(t *testing.T) {
	t.Parallel()
	for in, want := range map[float64]string{1.5: "+1.50%", -0.333: "-0.33%", 0: "+0.00%"} {
		if got := FormatChange(in); got != want {
			t.Errorf("FormatChange(%v) = %q, want %q", in, got, want)
		}
	}
}
