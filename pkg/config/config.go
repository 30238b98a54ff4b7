package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the platform.
type Config struct {
	Port string

	// Database
	DBPath string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Market data feeds
	BinanceBaseURL   string
	CoinGeckoBaseURL string
	SymbolMapPath    string // optional YAML override for token->Binance symbol mapping
	FeedRatePerSec   float64

	// News
	NewsFeeds []string // optional comma-separated RSS feed URLs; empty uses the built-ins

	// Trading
	FeeRate        float64 // fraction of margin charged on open and on close
	FaucetAmount   float64
	FaucetCooldown time.Duration

	// Agent scheduler
	SignalInterval      time.Duration
	ExitCheckInterval   time.Duration
	MinTradeInterval    time.Duration
	FirstTradeGuarantee time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              getEnv("DB_PATH", "./data/zerotek.db"),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		TokenTTL:            getEnvDuration("TOKEN_TTL", 72*time.Hour),
		BinanceBaseURL:      getEnv("BINANCE_BASE_URL", "https://api.binance.com"),
		CoinGeckoBaseURL:    getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com"),
		SymbolMapPath:       getEnv("SYMBOL_MAP_PATH", ""),
		FeedRatePerSec:      getEnvFloat("FEED_RATE_PER_SEC", 10),
		NewsFeeds:           SplitList(os.Getenv("NEWS_FEEDS")),
		FeeRate:             getEnvFloat("FEE_RATE", 0.001),
		FaucetAmount:        getEnvFloat("FAUCET_AMOUNT", 10000),
		FaucetCooldown:      getEnvDuration("FAUCET_COOLDOWN", 24*time.Hour),
		SignalInterval:      getEnvDuration("AGENT_SIGNAL_INTERVAL", 30*time.Second),
		ExitCheckInterval:   getEnvDuration("AGENT_EXIT_INTERVAL", 5*time.Second),
		MinTradeInterval:    getEnvDuration("AGENT_MIN_TRADE_INTERVAL", 2*time.Minute),
		FirstTradeGuarantee: getEnvDuration("AGENT_FIRST_TRADE_GUARANTEE", 4*time.Minute),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SplitList parses a comma-separated env value into trimmed parts.
func SplitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
