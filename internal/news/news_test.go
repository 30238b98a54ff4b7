package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func rssBody(items string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>test</title>` + items + `</channel></rss>`
}

func TestFetchTagsAndSorts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssBody(`
<item><title>Bitcoin Surges To New Record</title><link>https://example.com/a</link><pubDate>Mon, 02 Jan 2023 10:00:00 +0000</pubDate></item>
<item><title>Ethereum hack raises concern</title><link>https://example.com/b</link><pubDate>Mon, 02 Jan 2023 12:00:00 +0000</pubDate></item>`)))
	}))
	defer srv.Close()

	svc := NewService([]Feed{{URL: srv.URL, Source: "testfeed"}})
	resp := svc.Fetch(context.Background())

	if !resp.IsLive {
		t.Fatal("expected live response")
	}
	if len(resp.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(resp.Items))
	}

	// Newest first.
	first := resp.Items[0]
	if first.Title != "ethereum hack raises concern" {
		t.Fatalf("first title = %q", first.Title)
	}
	if first.Sentiment != "negative" {
		t.Fatalf("sentiment = %q, want negative", first.Sentiment)
	}
	if len(first.Currencies) != 1 || first.Currencies[0] != "ETH" {
		t.Fatalf("currencies = %v, want [ETH]", first.Currencies)
	}

	second := resp.Items[1]
	if second.Sentiment != "positive" {
		t.Fatalf("sentiment = %q, want positive", second.Sentiment)
	}
	hasBTC := false
	for _, c := range second.Currencies {
		if c == "BTC" {
			hasBTC = true
		}
	}
	if !hasBTC {
		t.Fatalf("currencies = %v, want BTC tagged", second.Currencies)
	}
	if second.Source != "testfeed" {
		t.Fatalf("source = %q", second.Source)
	}
}

func TestFetchFallbackWhenFeedsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc := NewService([]Feed{{URL: srv.URL, Source: "dead"}})
	resp := svc.Fetch(context.Background())

	if resp.IsLive {
		t.Fatal("expected fallback response")
	}
	if len(resp.Items) == 0 {
		t.Fatal("expected fallback items")
	}
	if resp.Items[0].Title != "bitcoin continues to show strength above key support levels" {
		t.Fatalf("unexpected fallback item: %q", resp.Items[0].Title)
	}
}

func TestFetchUsesCache(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(rssBody(`<item><title>solana rally</title><link>https://example.com</link><pubDate>Mon, 02 Jan 2023 10:00:00 +0000</pubDate></item>`)))
	}))
	defer srv.Close()

	svc := NewService([]Feed{{URL: srv.URL, Source: "cached"}})
	svc.CacheTTL = time.Minute

	svc.Fetch(context.Background())
	svc.Fetch(context.Background())

	if calls != 1 {
		t.Fatalf("feed fetched %d times, want 1", calls)
	}
}

func TestAnalyzeSentiment(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"bitcoin surge and rally continue", "positive"},
		{"exchange hack triggers sell off", "negative"},
		{"weekly market report published", "neutral"},
	}
	for _, tc := range cases {
		if got := analyzeSentiment(tc.title); got != tc.want {
			t.Errorf("analyzeSentiment(%q) = %q, want %q", tc.title, got, tc.want)
		}
	}
}
