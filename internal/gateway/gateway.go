// Package gateway resolves market data through tiered upstreams: Binance
// first, CoinGecko as fallback, last stored token price as a final resort.
package gateway

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/Zerotek-trade/zerotek-app/internal/monitor"
	"github.com/Zerotek-trade/zerotek-app/pkg/cache"
	"github.com/Zerotek-trade/zerotek-app/pkg/db"
	"github.com/Zerotek-trade/zerotek-app/pkg/market/binance"
	"github.com/Zerotek-trade/zerotek-app/pkg/market/coingecko"
)

// ErrNoPrice means every tier failed to produce a usable quote.
var ErrNoPrice = errors.New("no price available")

// Default cache TTLs per tier.
const (
	defaultTickerTTL    = 5 * time.Second
	defaultBatchTTL     = 10 * time.Second
	defaultCandleTTL    = 30 * time.Second
	defaultTokenListTTL = 60 * time.Second
)

// Quote is a resolved spot price.
type Quote struct {
	Price     float64 `json:"price"`
	Change24h float64 `json:"change24h"`
}

// Candle is one OHLCV bar with a unix-second timestamp.
type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type timeframeConfig struct {
	binanceInterval string
	coingeckoDays   int
	limit           int
}

var timeframes = map[string]timeframeConfig{
	"1m":  {"1m", 1, 500},
	"5m":  {"5m", 1, 300},
	"15m": {"15m", 3, 200},
	"1h":  {"1h", 14, 200},
	"4h":  {"4h", 30, 150},
	"1d":  {"1d", 180, 150},
	"1w":  {"1w", 730, 100},
	"1M":  {"1M", 1095, 60},
}

// Service is the market data gateway.
type Service struct {
	store   *db.Store
	binance *binance.Client
	gecko   *coingecko.Client
	limiter *rate.Limiter

	quotes  *cache.TTLCache[Quote]
	batch   *cache.TTLCache[map[string]Quote]
	candles *cache.TTLCache[[]Candle]
	listing *cache.TTLCache[[]db.Token]

	symbols map[string]string

	// Cache windows, overridable in tests.
	QuoteTTL   time.Duration
	BatchTTL   time.Duration
	CandleTTL  time.Duration
	ListingTTL time.Duration

	// Metrics, when set, records upstream feed latencies.
	Metrics *monitor.SystemMetrics
}

// New builds the gateway. symbolMapPath may be empty to use the built-in
// token-to-symbol mapping; ratePerSec paces outbound upstream calls.
func New(store *db.Store, bn *binance.Client, cg *coingecko.Client, symbolMapPath string, ratePerSec float64) (*Service, error) {
	symbols, err := loadSymbolMap(symbolMapPath)
	if err != nil {
		return nil, err
	}
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &Service{
		store:   store,
		binance: bn,
		gecko:   cg,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)),
		quotes:  cache.NewTTL[Quote](),
		batch:   cache.NewTTL[map[string]Quote](),
		candles: cache.NewTTL[[]Candle](),
		listing: cache.NewTTL[[]db.Token](),
		symbols: symbols,

		QuoteTTL:   defaultTickerTTL,
		BatchTTL:   defaultBatchTTL,
		CandleTTL:  defaultCandleTTL,
		ListingTTL: defaultTokenListTTL,
	}, nil
}

// Sweep drops expired entries from every cache tier.
func (s *Service) Sweep() {
	s.quotes.Sweep()
	s.batch.Sweep()
	s.candles.Sweep()
	s.listing.Sweep()
}

// observeFeed records how long one upstream round trip took.
func (s *Service) observeFeed(start time.Time) {
	if s.Metrics != nil {
		s.Metrics.FeedLatency.RecordDuration(time.Since(start))
	}
}

// BinanceSymbol reports the mapped Binance symbol for a token id.
func (s *Service) BinanceSymbol(tokenID string) (string, bool) {
	sym, ok := s.symbols[tokenID]
	return sym, ok
}

// GetPrice resolves one quote: cache, Binance ticker, CoinGecko simple price,
// last stored token price.
func (s *Service) GetPrice(ctx context.Context, tokenID string) (*Quote, error) {
	if q, ok := s.quotes.Get(tokenID); ok {
		return &q, nil
	}

	if sym, ok := s.symbols[tokenID]; ok {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		start := time.Now()
		tk, err := s.binance.GetTicker24h(sym)
		s.observeFeed(start)
		if err == nil && tk.LastPrice > 0 {
			q := Quote{Price: tk.LastPrice, Change24h: tk.PriceChangePercent}
			s.putQuote(ctx, tokenID, q)
			return &q, nil
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	prices, err := s.gecko.GetSimplePrices([]string{tokenID})
	s.observeFeed(start)
	if err == nil {
		if p, ok := prices[tokenID]; ok && p.USD > 0 {
			q := Quote{Price: p.USD, Change24h: p.USD24hChange}
			s.putQuote(ctx, tokenID, q)
			return &q, nil
		}
	}

	if token, err := s.store.GetToken(ctx, tokenID); err == nil {
		if price := db.Dec(token.CurrentPrice); price > 0 {
			return &Quote{Price: price, Change24h: db.Dec(token.PriceChange24h)}, nil
		}
	}
	return nil, ErrNoPrice
}

func (s *Service) putQuote(ctx context.Context, tokenID string, q Quote) {
	s.quotes.Set(tokenID, q, s.QuoteTTL)
	// Keep the stored row fresh so the final fallback tier has data.
	if err := s.store.UpdateTokenPrice(ctx, tokenID, db.FmtDec(q.Price), db.FmtDec(q.Change24h)); err != nil {
		log.Printf("[gateway] store price update failed for %s: %v", tokenID, err)
	}
}

// GetBatchPrices resolves quotes for many tokens at once. Missing tokens are
// simply absent from the result.
func (s *Service) GetBatchPrices(ctx context.Context, tokenIDs []string) map[string]Quote {
	results := make(map[string]Quote, len(tokenIDs))
	if len(tokenIDs) == 0 {
		return results
	}

	cached, _ := s.batch.Get("live")
	var missing []string
	for _, id := range tokenIDs {
		if q, ok := cached[id]; ok {
			results[id] = q
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return results
	}

	// Binance per symbol for mapped tokens.
	var stillMissing []string
	for _, id := range missing {
		sym, ok := s.symbols[id]
		if !ok {
			stillMissing = append(stillMissing, id)
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return results
		}
		start := time.Now()
		tk, err := s.binance.GetTicker24h(sym)
		s.observeFeed(start)
		if err != nil || tk.LastPrice <= 0 {
			stillMissing = append(stillMissing, id)
			continue
		}
		results[id] = Quote{Price: tk.LastPrice, Change24h: tk.PriceChangePercent}
	}

	// CoinGecko batched for the rest.
	if len(stillMissing) > 0 {
		if err := s.limiter.Wait(ctx); err != nil {
			return results
		}
		start := time.Now()
		prices, err := s.gecko.GetSimplePrices(stillMissing)
		s.observeFeed(start)
		if err != nil {
			log.Printf("[gateway] batch fallback failed: %v", err)
		}
		var unresolved []string
		for _, id := range stillMissing {
			if p, ok := prices[id]; ok && p.USD > 0 {
				results[id] = Quote{Price: p.USD, Change24h: p.USD24hChange}
			} else {
				unresolved = append(unresolved, id)
			}
		}
		// Last tier: stored token prices.
		for _, id := range unresolved {
			if token, err := s.store.GetToken(ctx, id); err == nil {
				if price := db.Dec(token.CurrentPrice); price > 0 {
					results[id] = Quote{Price: price, Change24h: db.Dec(token.PriceChange24h)}
				}
			}
		}
	}

	merged := make(map[string]Quote, len(results))
	for k, v := range cached {
		merged[k] = v
	}
	for k, v := range results {
		merged[k] = v
	}
	s.batch.Set("live", merged, s.BatchTTL)
	return results
}

// GetCandles returns bars for the token at the given timeframe. Unknown
// timeframes fall back to 1h.
func (s *Service) GetCandles(ctx context.Context, tokenID, timeframe string) ([]Candle, error) {
	cfg, ok := timeframes[timeframe]
	if !ok {
		cfg = timeframes["1h"]
		timeframe = "1h"
	}
	key := tokenID + "|" + timeframe
	if bars, ok := s.candles.Get(key); ok {
		return bars, nil
	}

	if sym, ok := s.symbols[tokenID]; ok {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		start := time.Now()
		klines, err := s.binance.GetKlines(sym, cfg.binanceInterval, cfg.limit)
		s.observeFeed(start)
		if err == nil && len(klines) > 0 {
			bars := make([]Candle, 0, len(klines))
			for _, k := range klines {
				bars = append(bars, Candle{
					Time: k.OpenTime / 1000,
					Open: k.Open, High: k.High, Low: k.Low, Close: k.Close,
					Volume: k.Volume,
				})
			}
			s.candles.Set(key, bars, s.CandleTTL)
			return bars, nil
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	ohlc, err := s.gecko.GetOHLC(tokenID, cfg.coingeckoDays)
	s.observeFeed(start)
	if err != nil {
		return nil, err
	}
	bars := make([]Candle, 0, len(ohlc))
	for _, k := range ohlc {
		bars = append(bars, Candle{
			Time: k.Time / 1000,
			Open: k.Open, High: k.High, Low: k.Low, Close: k.Close,
		})
	}
	s.candles.Set(key, bars, s.CandleTTL)
	return bars, nil
}

// TopTokens returns the tradable listing: CoinGecko's top coins by market
// cap minus stablecoins, pinned symbols flagged. The result is upserted into
// the tokens table so prices survive upstream outages.
func (s *Service) TopTokens(ctx context.Context) ([]db.Token, error) {
	if tokens, ok := s.listing.Get("top"); ok {
		return tokens, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	markets, err := s.gecko.GetMarkets(50)
	s.observeFeed(start)
	if err != nil {
		log.Printf("[gateway] token listing fetch failed: %v", err)
		return s.store.ListTokens(ctx)
	}

	now := time.Now().UTC()
	tokens := make([]db.Token, 0, len(markets))
	for _, m := range markets {
		if stablecoinIDs[m.ID] {
			continue
		}
		tokens = append(tokens, db.Token{
			ID:             m.ID,
			Symbol:         m.Symbol,
			Name:           m.Name,
			Image:          m.Image,
			CurrentPrice:   db.FmtDec(m.CurrentPrice),
			PriceChange24h: db.FmtDec(m.PriceChangePercentage24h),
			Volume24h:      db.FmtDec(m.TotalVolume),
			MarketCap:      db.FmtDec(m.MarketCap),
			IsPinned:       pinnedSymbols[m.Symbol],
			LastUpdated:    now,
		})
	}

	if err := s.store.UpsertTokens(ctx, tokens); err != nil {
		log.Printf("[gateway] token upsert failed: %v", err)
	}
	s.listing.Set("top", tokens, s.ListingTTL)
	return tokens, nil
}
