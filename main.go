package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zerotek-trade/zerotek-app/internal/agent"
	"github.com/Zerotek-trade/zerotek-app/internal/api"
	"github.com/Zerotek-trade/zerotek-app/internal/engine"
	"github.com/Zerotek-trade/zerotek-app/internal/events"
	"github.com/Zerotek-trade/zerotek-app/internal/gateway"
	"github.com/Zerotek-trade/zerotek-app/internal/monitor"
	"github.com/Zerotek-trade/zerotek-app/internal/news"
	"github.com/Zerotek-trade/zerotek-app/pkg/config"
	"github.com/Zerotek-trade/zerotek-app/pkg/db"
	"github.com/Zerotek-trade/zerotek-app/pkg/market/binance"
	"github.com/Zerotek-trade/zerotek-app/pkg/market/coingecko"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] config load failed: %v", err)
	}
	log.Printf("[main] starting zerotek trading core on port %s", cfg.Port)
	log.Printf("[main] using database at %s", cfg.DBPath)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("[main] db init failed: %v", err)
	}
	defer database.Close()
	if err := database.ApplyMigrations(); err != nil {
		log.Fatalf("[main] db migrations failed: %v", err)
	}
	store := db.NewStore(database)

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()

	gw, err := gateway.New(store,
		binance.NewClient(cfg.BinanceBaseURL),
		coingecko.NewClient(cfg.CoinGeckoBaseURL),
		cfg.SymbolMapPath,
		cfg.FeedRatePerSec,
	)
	if err != nil {
		log.Fatalf("[main] gateway init failed: %v", err)
	}
	gw.Metrics = metrics

	eng := engine.New(store, gw, bus, cfg.FeeRate)

	var feeds []news.Feed
	for _, raw := range cfg.NewsFeeds {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			log.Printf("[main] skipping invalid news feed url %q", raw)
			continue
		}
		feeds = append(feeds, news.Feed{URL: raw, Source: u.Host})
	}
	newsSvc := news.NewService(feeds)

	runner := agent.New(store, gw, eng, bus, agent.Intervals{
		SignalScan:          cfg.SignalInterval,
		ExitCheck:           cfg.ExitCheckInterval,
		MinTradeInterval:    cfg.MinTradeInterval,
		FirstTradeGuarantee: cfg.FirstTradeGuarantee,
	})
	runner.Start()
	defer runner.Stop()

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				gw.Sweep()
			}
		}
	}()

	// Warm the token listing so the first page load has markets.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if _, err := gw.TopTokens(warmCtx); err != nil {
		log.Printf("[main] initial token listing fetch failed: %v", err)
	}
	warmCancel()

	server := api.NewServer(store, gw, eng, runner, newsSvc, bus, metrics, api.Options{
		JWTSecret:      cfg.JWTSecret,
		TokenTTL:       cfg.TokenTTL,
		FaucetAmount:   cfg.FaucetAmount,
		FaucetCooldown: cfg.FaucetCooldown,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] api server error: %v", err)
		}
	}()
	log.Printf("[main] api listening on :%s", cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("[main] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] http shutdown: %v", err)
	}
}
