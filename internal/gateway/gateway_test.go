package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Zerotek-trade/zerotek-app/internal/monitor"
	"github.com/Zerotek-trade/zerotek-app/pkg/db"
	"github.com/Zerotek-trade/zerotek-app/pkg/market/binance"
	"github.com/Zerotek-trade/zerotek-app/pkg/market/coingecko"
)

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	d, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.ApplyMigrations(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db.NewStore(d)
}

func newTestService(t *testing.T, binanceHandler, geckoHandler http.HandlerFunc) (*Service, *db.Store) {
	t.Helper()
	store := newTestStore(t)

	bnSrv := httptest.NewServer(binanceHandler)
	t.Cleanup(bnSrv.Close)
	cgSrv := httptest.NewServer(geckoHandler)
	t.Cleanup(cgSrv.Close)

	svc, err := New(store, binance.NewClient(bnSrv.URL), coingecko.NewClient(cgSrv.URL), "", 1000)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return svc, store
}

func TestGetPricePrimaryTier(t *testing.T) {
	svc, _ := newTestService(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"50000","priceChangePercent":"1.5","quoteVolume":"1"}`))
		},
		func(w http.ResponseWriter, r *http.Request) {
			t.Error("coingecko must not be called when binance succeeds")
		})

	q, err := svc.GetPrice(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if q.Price != 50000 || q.Change24h != 1.5 {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestGetPriceFallsBackToCoinGecko(t *testing.T) {
	svc, _ := newTestService(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"bitcoin":{"usd":49900,"usd_24h_change":-0.5}}`))
		})

	q, err := svc.GetPrice(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if q.Price != 49900 || q.Change24h != -0.5 {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestGetPriceStoredFallback(t *testing.T) {
	svc, store := newTestService(t,
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) })

	err := store.UpsertTokens(context.Background(), []db.Token{{
		ID: "bitcoin", Symbol: "btc", Name: "Bitcoin",
		CurrentPrice: "48000", PriceChange24h: "2", LastUpdated: time.Now(),
	}})
	if err != nil {
		t.Fatalf("seed token: %v", err)
	}

	q, err := svc.GetPrice(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if q.Price != 48000 {
		t.Fatalf("price = %v, want stored 48000", q.Price)
	}
}

func TestGetPriceAllTiersFail(t *testing.T) {
	svc, _ := newTestService(t,
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) })

	if _, err := svc.GetPrice(context.Background(), "unknown-token"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestGetPriceRecordsFeedLatency(t *testing.T) {
	svc, _ := newTestService(t,
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"50000","priceChangePercent":"1.5","quoteVolume":"1"}`))
		},
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) })
	svc.Metrics = monitor.NewSystemMetrics()

	if _, err := svc.GetPrice(context.Background(), "bitcoin"); err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if got := svc.Metrics.FeedLatency.Stats().Count; got != 1 {
		t.Fatalf("feed latency samples = %d, want 1", got)
	}
}

func TestGetCandlesUnknownTimeframe(t *testing.T) {
	var gotInterval string
	svc, _ := newTestService(t,
		func(w http.ResponseWriter, r *http.Request) {
			gotInterval = r.URL.Query().Get("interval")
			w.Write([]byte(`[[1700000000000,"100","110","90","105","12.5",1700003599999,"1300",42,"6","630","0"]]`))
		},
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) })

	bars, err := svc.GetCandles(context.Background(), "bitcoin", "bogus")
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}
	if gotInterval != "1h" {
		t.Fatalf("interval = %q, want 1h fallback", gotInterval)
	}
	if len(bars) != 1 || bars[0].Time != 1700000000 || bars[0].Close != 105 {
		t.Fatalf("unexpected bars: %+v", bars)
	}
}

func TestTopTokensFiltersAndPins(t *testing.T) {
	svc, store := newTestService(t,
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.URL.Path, "/coins/markets") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(`[
				{"id":"bitcoin","symbol":"btc","name":"Bitcoin","image":"","current_price":50000,"price_change_percentage_24h":1,"total_volume":10,"market_cap":100},
				{"id":"tether","symbol":"usdt","name":"Tether","image":"","current_price":1,"price_change_percentage_24h":0,"total_volume":10,"market_cap":90},
				{"id":"solana","symbol":"sol","name":"Solana","image":"","current_price":150,"price_change_percentage_24h":3,"total_volume":5,"market_cap":50}
			]`))
		})

	tokens, err := svc.TopTokens(context.Background())
	if err != nil {
		t.Fatalf("TopTokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("len = %d, want 2 after stablecoin filter", len(tokens))
	}
	for _, tok := range tokens {
		if tok.ID == "tether" {
			t.Fatal("stablecoin not filtered")
		}
		if tok.Symbol == "btc" && !tok.IsPinned {
			t.Fatal("btc should be pinned")
		}
	}

	// Listing also lands in the store for the outage fallback.
	stored, err := store.ListTokens(context.Background())
	if err != nil {
		t.Fatalf("list stored: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored len = %d, want 2", len(stored))
	}
}
