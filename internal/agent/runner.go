// Package agent runs the per-user automation: a signal scan loop that opens
// positions from momentum strategies and a faster exit loop enforcing
// liquidation, take profit and stop loss.
package agent

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/Zerotek-trade/zerotek-app/internal/engine"
	"github.com/Zerotek-trade/zerotek-app/internal/events"
	"github.com/Zerotek-trade/zerotek-app/internal/gateway"
	"github.com/Zerotek-trade/zerotek-app/pkg/db"
)

// Intervals configures the scheduler cadence.
type Intervals struct {
	SignalScan          time.Duration // how often agents look for entries
	ExitCheck           time.Duration // how often open positions are checked
	MinTradeInterval    time.Duration // cooldown between trades per agent
	FirstTradeGuarantee time.Duration // force a trade when idle this long
}

// DefaultIntervals matches the production cadence.
func DefaultIntervals() Intervals {
	return Intervals{
		SignalScan:          30 * time.Second,
		ExitCheck:           5 * time.Second,
		MinTradeInterval:    2 * time.Minute,
		FirstTradeGuarantee: 4 * time.Minute,
	}
}

// Runner owns the scheduler state: one per process.
type Runner struct {
	store     *db.Store
	gateway   *gateway.Service
	engine    *engine.Engine
	bus       *events.Bus
	intervals Intervals

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    sync.WaitGroup

	// Scheduler-owned state, guarded separately from lifecycle.
	stateMu  sync.Mutex
	history  map[string]*tokenHistory
	attempts map[string]int
}

// New builds a stopped runner.
func New(store *db.Store, gw *gateway.Service, eng *engine.Engine, bus *events.Bus, iv Intervals) *Runner {
	return &Runner{
		store:     store,
		gateway:   gw,
		engine:    eng,
		bus:       bus,
		intervals: iv,
		history:   make(map[string]*tokenHistory),
		attempts:  make(map[string]int),
	}
}

// Start launches the two loops. Calling Start on a running runner is a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	log.Printf("[agent] starting automation runner (%s signal scan, %s exit checks, %s trade cycles)",
		r.intervals.SignalScan, r.intervals.ExitCheck, r.intervals.MinTradeInterval)

	r.done.Add(2)
	go r.loop(ctx, r.intervals.SignalScan, r.scanTick)
	go r.loop(ctx, r.intervals.ExitCheck, r.exitTick)
}

// Stop halts both loops and waits for in-flight work to finish. Idempotent.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	r.done.Wait()
	log.Printf("[agent] stopped automation runner")
}

// loop runs fn immediately and then on every tick until ctx ends.
func (r *Runner) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer r.done.Done()
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// forEachRunningAgent fans one goroutine out per running config. Panics and
// errors in one agent never reach the others or the loop.
func (r *Runner) forEachRunningAgent(ctx context.Context, what string, fn func(context.Context, db.AgentConfig)) {
	configs, err := r.store.ListRunningAgents(ctx)
	if err != nil {
		log.Printf("[agent] %s: list running agents: %v", what, err)
		return
	}
	var wg sync.WaitGroup
	for _, cfg := range configs {
		wg.Add(1)
		go func(cfg db.AgentConfig) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("[agent] %s panic for user %s: %v", what, cfg.UserID, rec)
				}
			}()
			fn(ctx, cfg)
		}(cfg)
	}
	wg.Wait()
}

func (r *Runner) scanTick(ctx context.Context) {
	r.forEachRunningAgent(ctx, "scan", r.processAgent)
}

func (r *Runner) exitTick(ctx context.Context) {
	r.forEachRunningAgent(ctx, "exit check", func(ctx context.Context, cfg db.AgentConfig) {
		r.checkAgentPositions(ctx, cfg.UserID)
	})
}

func (r *Runner) getAttempts(userID string) int {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.attempts[userID]
}

func (r *Runner) setAttempts(userID string, n int) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	r.attempts[userID] = n
}

// processAgent runs one signal-scan cycle for a single user.
func (r *Runner) processAgent(ctx context.Context, cfg db.AgentConfig) {
	userID := cfg.UserID
	now := time.Now()
	attempts := r.getAttempts(userID)

	var sinceLastTrade time.Duration
	neverTraded := cfg.LastRunAt.IsZero()
	if !neverTraded {
		sinceLastTrade = now.Sub(cfg.LastRunAt)
	}

	// Force an entry when the agent has never traded or has been idle past
	// the guarantee window, or after enough failed attempts post-cooldown.
	firstTradeNeeded := neverTraded || sinceLastTrade >= r.intervals.FirstTradeGuarantee
	forceSignal := firstTradeNeeded || (sinceLastTrade >= r.intervals.MinTradeInterval && attempts >= 4)

	if !neverTraded && sinceLastTrade < r.intervals.MinTradeInterval {
		// Within cooldown: log a throttled heartbeat and count the attempt.
		if attempts%2 == 0 {
			r.logEvent(ctx, userID, events.AgentScanning, "", "scanning markets... analyzing signals")
		}
		r.setAttempts(userID, attempts+1)
		return
	}

	balance, err := r.store.GetOrCreateBalance(ctx, userID)
	if err != nil || balance.AmountF() <= 0 {
		return
	}

	openPositions, err := r.store.ListPositions(ctx, userID, db.PositionFilter{
		Status: db.StatusOpen, AgentOnly: true,
	})
	if err != nil {
		log.Printf("[agent] list positions for %s: %v", userID, err)
		return
	}
	maxOpen := cfg.MaxOpenPositions
	if maxOpen <= 0 {
		maxOpen = 3
	}
	if len(openPositions) >= maxOpen {
		_ = r.store.TouchAgentRun(ctx, userID, now)
		r.setAttempts(userID, 0)
		return
	}

	if len(cfg.AllowedTokens) == 0 {
		return
	}

	pair, price := r.pickPair(ctx, cfg.AllowedTokens)
	if pair == "" || price <= 0 {
		log.Printf("[agent] no valid prices available for any allowed pair (user %s)", userID)
		return
	}

	sig := r.generateSignal(&cfg, pair, price, forceSignal)
	if sig == nil {
		r.logEvent(ctx, userID, events.AgentScanning, pair,
			"scanning markets... evaluating "+upperToken(pair)+" entry points")
		r.setAttempts(userID, attempts+1)
		return
	}

	margin := cfg.MaxMarginPerTradeF()
	if margin <= 0 {
		margin = 300
	}
	if margin > balance.AmountF() {
		margin = balance.AmountF() * 0.9
	}
	if margin < 10 {
		return
	}

	leverage := cfg.MaxLeverage
	if leverage <= 0 {
		leverage = 5
	}
	if leverage > 25 {
		leverage = 25
	}

	var takeProfit, stopLoss float64
	if sig.side == db.SideLong {
		takeProfit = price * 1.05
		stopLoss = price * 0.97
	} else {
		takeProfit = price * 0.95
		stopLoss = price * 1.03
	}

	if _, err := r.engine.Open(ctx, engine.OpenRequest{
		UserID:      userID,
		TokenID:     pair,
		Side:        sig.side,
		Margin:      margin,
		Leverage:    leverage,
		TakeProfit:  takeProfit,
		StopLoss:    stopLoss,
		IsAgent:     true,
		NoAggregate: true,
	}); err != nil {
		log.Printf("[agent] open failed for user %s on %s: %v", userID, pair, err)
		return
	}

	_ = r.store.TouchAgentRun(ctx, userID, now)
	r.setAttempts(userID, 0)
	log.Printf("[agent] opened %s position for user %s: %s @ %v", sig.side, userID, pair, price)
}

// pickPair shuffles the allowed tokens and returns the first with a usable
// price: batch quotes first, then the gateway's single-price fallback chain.
func (r *Runner) pickPair(ctx context.Context, allowed []string) (string, float64) {
	shuffled := make([]string, len(allowed))
	copy(shuffled, allowed)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	batch := r.gateway.GetBatchPrices(ctx, shuffled)
	for _, pair := range shuffled {
		if q, ok := batch[pair]; ok && q.Price > 0 {
			return pair, q.Price
		}
	}
	for _, pair := range shuffled {
		if q, err := r.gateway.GetPrice(ctx, pair); err == nil && q.Price > 0 {
			return pair, q.Price
		}
	}
	return "", 0
}

func (r *Runner) logEvent(ctx context.Context, userID, eventType, symbol, message string) {
	ev, err := r.store.AppendAgentEvent(ctx, userID, eventType, symbol, message)
	if err != nil {
		log.Printf("[agent] event append failed: %v", err)
		return
	}
	r.bus.Publish(events.EventAgentLog, ev)
}
