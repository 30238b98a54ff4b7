package binance

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetTicker24h(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %q, want BTCUSDT", got)
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"50000.5","priceChangePercent":"2.5","quoteVolume":"123456.78"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tk, err := c.GetTicker24h("BTCUSDT")
	if err != nil {
		t.Fatalf("GetTicker24h: %v", err)
	}
	if tk.LastPrice != 50000.5 || tk.PriceChangePercent != 2.5 {
		t.Fatalf("unexpected ticker: %+v", tk)
	}
}

func TestGetKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[1700000000000,"100","110","90","105","12.5",1700003599999,"1300",42,"6","630","0"]]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	klines, err := c.GetKlines("BTCUSDT", "1h", 100)
	if err != nil {
		t.Fatalf("GetKlines: %v", err)
	}
	if len(klines) != 1 {
		t.Fatalf("len = %d, want 1", len(klines))
	}
	k := klines[0]
	if k.Open != 100 || k.High != 110 || k.Low != 90 || k.Close != 105 || k.OpenTime != 1700000000000 {
		t.Fatalf("unexpected kline: %+v", k)
	}
}

func TestGetKlinesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL).GetKlines("NOPE", "1h", 10); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}
