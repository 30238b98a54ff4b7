// Package news aggregates crypto headlines from public RSS feeds, tags them
// with the currencies they mention and a rough sentiment, and caches the
// merged result briefly so page loads never fan out to every feed.
package news

import (
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Zerotek-trade/zerotek-app/pkg/cache"
)

// Feed is one RSS source.
type Feed struct {
	URL    string
	Source string
}

// DefaultFeeds are the production sources.
func DefaultFeeds() []Feed {
	return []Feed{
		{URL: "https://www.coindesk.com/arc/outboundfeeds/rss/", Source: "coindesk"},
		{URL: "https://decrypt.co/feed", Source: "decrypt"},
		{URL: "https://cointelegraph.com/rss", Source: "cointelegraph"},
		{URL: "https://bitcoinmagazine.com/feed", Source: "bitcoin magazine"},
		{URL: "https://thedefiant.io/feed", Source: "the defiant"},
	}
}

// Item is one tagged headline.
type Item struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Source      string   `json:"source"`
	PublishedAt string   `json:"publishedAt"`
	Currencies  []string `json:"currencies"`
	Sentiment   string   `json:"sentiment"`
}

// Response is the merged feed result. IsLive is false when every source
// failed and the static fallback items were served instead.
type Response struct {
	Items  []Item `json:"items"`
	IsLive bool   `json:"isLive"`
}

const (
	itemsPerFeed = 10
	maxItems     = 30
	cacheTTL     = 60 * time.Second
	cacheKey     = "crypto"
)

// Service fetches and caches the aggregated feed.
type Service struct {
	feeds  []Feed
	client *http.Client
	cache  *cache.TTLCache[Response]

	// CacheTTL overrides the default item lifetime. Zero disables caching.
	CacheTTL time.Duration
}

// NewService builds a service over the given feeds. Empty feeds selects the
// default production sources.
func NewService(feeds []Feed) *Service {
	if len(feeds) == 0 {
		feeds = DefaultFeeds()
	}
	return &Service{
		feeds:    feeds,
		client:   &http.Client{Timeout: 10 * time.Second},
		cache:    cache.NewTTL[Response](),
		CacheTTL: cacheTTL,
	}
}

type rssResponse struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
}

// Fetch returns the merged, tagged headline list, newest first.
func (s *Service) Fetch(ctx context.Context) Response {
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached
	}

	type feedResult struct {
		source string
		items  []Item
	}
	results := make([]feedResult, len(s.feeds))

	var wg sync.WaitGroup
	for i, feed := range s.feeds {
		wg.Add(1)
		go func(i int, feed Feed) {
			defer wg.Done()
			items, err := s.fetchFeed(ctx, feed)
			if err != nil {
				log.Printf("[news] feed %s failed: %v", feed.Source, err)
				return
			}
			results[i] = feedResult{source: feed.Source, items: items}
		}(i, feed)
	}
	wg.Wait()

	var all []Item
	for _, res := range results {
		all = append(all, res.items...)
	}

	resp := Response{IsLive: len(all) > 0}
	if len(all) > 0 {
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].PublishedAt > all[j].PublishedAt
		})
		if len(all) > maxItems {
			all = all[:maxItems]
		}
		resp.Items = all
	} else {
		resp.Items = fallbackItems()
	}

	if s.CacheTTL > 0 {
		s.cache.Set(cacheKey, resp, s.CacheTTL)
	}
	return resp
}

// fetchFeed downloads and tags one source, keeping at most itemsPerFeed.
func (s *Service) fetchFeed(ctx context.Context, feed Feed) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ZerotekBot/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s: status %d", feed.Source, resp.StatusCode)
	}

	var rss rssResponse
	if err := xml.NewDecoder(resp.Body).Decode(&rss); err != nil {
		return nil, err
	}

	items := rss.Channel.Items
	if len(items) > itemsPerFeed {
		items = items[:itemsPerFeed]
	}

	out := make([]Item, 0, len(items))
	for i, item := range items {
		title := strings.ToLower(strings.TrimSpace(item.Title))
		if title == "" {
			title = "untitled"
		}
		link := item.Link
		if link == "" {
			link = "#"
		}
		out = append(out, Item{
			ID:          fmt.Sprintf("%s-%d-%d", feed.Source, i, time.Now().UnixMilli()),
			Title:       title,
			URL:         link,
			Source:      feed.Source,
			PublishedAt: parsePubDate(item.PubDate),
			Currencies:  extractCurrencies(title),
			Sentiment:   analyzeSentiment(title),
		})
	}
	return out, nil
}

// parsePubDate normalizes RSS timestamps to RFC 3339, falling back to now
// when the feed uses a format we do not recognize.
func parsePubDate(raw string) string {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return time.Now().UTC().Format(time.RFC3339)
}

// cryptoKeywords maps a display symbol to the lowercase title keywords that
// imply it.
var cryptoKeywords = map[string][]string{
	"BTC":  {"bitcoin", "btc", "satoshi"},
	"ETH":  {"ethereum", "eth", "vitalik", "ether"},
	"SOL":  {"solana", "sol"},
	"XRP":  {"ripple", "xrp"},
	"BNB":  {"binance", "bnb"},
	"DOGE": {"dogecoin", "doge"},
	"ADA":  {"cardano", "ada"},
	"DOT":  {"polkadot", "dot"},
	"AVAX": {"avalanche", "avax"},
	"LINK": {"chainlink", "link"},
}

func extractCurrencies(title string) []string {
	currencies := []string{}
	for symbol, keywords := range cryptoKeywords {
		for _, kw := range keywords {
			if strings.Contains(title, kw) {
				currencies = append(currencies, symbol)
				break
			}
		}
	}
	sort.Strings(currencies)
	return currencies
}

var positiveWords = []string{
	"surge", "rally", "gain", "rise", "bull", "soar", "jump", "high", "growth",
	"up", "bullish", "breakout", "pump", "moon", "ath", "record", "milestone",
	"boost", "launch", "adopt", "partnership", "approved", "win",
}

var negativeWords = []string{
	"crash", "drop", "fall", "bear", "plunge", "decline", "down", "low", "loss",
	"sell", "bearish", "dump", "hack", "scam", "fraud", "sec", "lawsuit", "ban",
	"reject", "fail", "concern", "risk", "warning",
}

// analyzeSentiment scores the title by keyword counts.
func analyzeSentiment(title string) string {
	var positive, negative int
	for _, w := range positiveWords {
		if strings.Contains(title, w) {
			positive++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(title, w) {
			negative++
		}
	}
	switch {
	case positive > negative:
		return "positive"
	case negative > positive:
		return "negative"
	default:
		return "neutral"
	}
}

// fallbackItems is the static list served when every feed is unreachable.
func fallbackItems() []Item {
	now := time.Now().UTC()
	ts := func(ago time.Duration) string { return now.Add(-ago).Format(time.RFC3339) }
	return []Item{
		{
			ID:          "1",
			Title:       "bitcoin continues to show strength above key support levels",
			URL:         "https://www.coindesk.com/markets/bitcoin",
			Source:      "coindesk",
			PublishedAt: ts(30 * time.Minute),
			Currencies:  []string{"BTC"},
			Sentiment:   "positive",
		},
		{
			ID:          "2",
			Title:       "ethereum network sees increased activity ahead of upgrade",
			URL:         "https://www.theblock.co/category/ethereum",
			Source:      "the block",
			PublishedAt: ts(60 * time.Minute),
			Currencies:  []string{"ETH"},
			Sentiment:   "neutral",
		},
		{
			ID:          "3",
			Title:       "solana ecosystem expands with new defi protocols",
			URL:         "https://decrypt.co/tag/solana",
			Source:      "decrypt",
			PublishedAt: ts(90 * time.Minute),
			Currencies:  []string{"SOL"},
			Sentiment:   "positive",
		},
		{
			ID:          "4",
			Title:       "major exchange reports record trading volumes",
			URL:         "https://cointelegraph.com/tags/cryptocurrency-exchange",
			Source:      "cointelegraph",
			PublishedAt: ts(120 * time.Minute),
			Currencies:  []string{},
			Sentiment:   "positive",
		},
		{
			ID:          "5",
			Title:       "regulatory discussions continue in key markets",
			URL:         "https://www.coindesk.com/policy",
			Source:      "coindesk",
			PublishedAt: ts(150 * time.Minute),
			Currencies:  []string{},
			Sentiment:   "neutral",
		},
	}
}
