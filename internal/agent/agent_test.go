package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Zerotek-trade/zerotek-app/internal/engine"
	"github.com/Zerotek-trade/zerotek-app/internal/events"
	"github.com/Zerotek-trade/zerotek-app/internal/gateway"
	"github.com/Zerotek-trade/zerotek-app/pkg/db"
	"github.com/Zerotek-trade/zerotek-app/pkg/market/binance"
	"github.com/Zerotek-trade/zerotek-app/pkg/market/coingecko"
)

type testRig struct {
	runner *Runner
	store  *db.Store
	engine *engine.Engine
	userID string

	mu    sync.Mutex
	price float64
}

func (r *testRig) setPrice(p float64) {
	r.mu.Lock()
	r.price = p
	r.mu.Unlock()
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	d, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.ApplyMigrations(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := db.NewStore(d)

	rig := &testRig{store: store, price: 50000}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rig.mu.Lock()
		p := rig.price
		rig.mu.Unlock()
		fmt.Fprintf(w, `{"symbol":"BTCUSDT","lastPrice":"%v","priceChangePercent":"0","quoteVolume":"1"}`, p)
	}))
	t.Cleanup(srv.Close)

	gw, err := gateway.New(store, binance.NewClient(srv.URL), coingecko.NewClient(srv.URL), "", 1000)
	if err != nil {
		t.Fatalf("gateway: %v", err)
	}
	gw.QuoteTTL = 0
	gw.BatchTTL = 0

	bus := events.NewBus()
	rig.engine = engine.New(store, gw, bus, 0.001)
	rig.runner = New(store, gw, rig.engine, bus, DefaultIntervals())

	u, err := store.CreateUser(context.Background(), "agent@example.com", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	rig.userID = u.ID
	if _, err := store.AdjustBalance(context.Background(), u.ID, 10000); err != nil {
		t.Fatalf("fund: %v", err)
	}
	return rig
}

func runningConfig(t *testing.T, rig *testRig, upd db.AgentConfigUpdate) db.AgentConfig {
	t.Helper()
	tokens := []string{"bitcoin"}
	running := db.AgentRunning
	if upd.AllowedTokens == nil {
		upd.AllowedTokens = &tokens
	}
	upd.Status = &running
	cfg, err := rig.store.UpsertAgentConfig(context.Background(), rig.userID, upd)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return *cfg
}

func TestExitReason(t *testing.T) {
	long := &db.Position{
		Side: db.SideLong, EntryPrice: "50000", Quantity: "0.1",
		Margin: "1000", LiquidationPrice: "41000",
		TakeProfit: "52000", StopLoss: "48500",
	}
	short := &db.Position{
		Side: db.SideShort, EntryPrice: "50000", Quantity: "0.1",
		Margin: "1000", LiquidationPrice: "59000",
		TakeProfit: "48000", StopLoss: "51500",
	}
	tests := []struct {
		name  string
		pos   *db.Position
		price float64
		want  string
	}{
		{"long holds", long, 50500, ""},
		{"long tp", long, 52000, events.AgentTpHit},
		{"long sl", long, 48400, events.AgentSlHit},
		{"long liquidation beats sl", long, 41000, events.AgentLiquidated},
		{"short holds", short, 49000, ""},
		{"short tp", short, 47900, events.AgentTpHit},
		{"short sl", short, 51600, events.AgentSlHit},
		{"short liquidation beats sl", short, 59500, events.AgentLiquidated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitReason(tt.pos, tt.price); got != tt.want {
				t.Fatalf("exitReason = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateSignalNeedsHistory(t *testing.T) {
	rig := newTestRig(t)
	cfg := &db.AgentConfig{Strategy: StrategyTrend, UseEmaFilter: true, UseRsiFilter: true}

	// One observation is far below the five-point minimum.
	if sig := rig.runner.generateSignal(cfg, "bitcoin", 50000, false); sig != nil {
		t.Fatalf("expected nil signal with thin history, got %+v", sig)
	}
	// Forced generation always produces a decision.
	sig := rig.runner.generateSignal(cfg, "bitcoin", 50000, true)
	if sig == nil {
		t.Fatal("forced signal must not be nil")
	}
	if sig.side != db.SideLong && sig.side != db.SideShort {
		t.Fatalf("bad side %q", sig.side)
	}
	if sig.confidence <= 0 || sig.confidence > 0.95 {
		t.Fatalf("confidence %v outside (0, 0.95]", sig.confidence)
	}
}

func TestObserveWindowAndStaleness(t *testing.T) {
	rig := newTestRig(t)

	for i := 0; i < 15; i++ {
		rig.runner.observe("bitcoin", 100+float64(i))
	}
	prices := rig.runner.observe("bitcoin", 200)
	if len(prices) != historySize {
		t.Fatalf("window len = %d, want %d", len(prices), historySize)
	}
	if prices[len(prices)-1] != 200 {
		t.Fatalf("last price = %v, want 200", prices[len(prices)-1])
	}

	// A stale window restarts from scratch.
	rig.runner.stateMu.Lock()
	rig.runner.history["bitcoin"].lastUpdate = time.Now().Add(-2 * historyStaleness)
	rig.runner.stateMu.Unlock()
	prices = rig.runner.observe("bitcoin", 300)
	if len(prices) != 1 || prices[0] != 300 {
		t.Fatalf("expected restarted window, got %v", prices)
	}
}

func TestProcessAgentOpensFirstTrade(t *testing.T) {
	rig := newTestRig(t)
	cfg := runningConfig(t, rig, db.AgentConfigUpdate{})
	ctx := context.Background()

	// Never traded: the first-trade guarantee forces an entry immediately.
	rig.runner.processAgent(ctx, cfg)

	positions, err := rig.store.ListPositions(ctx, rig.userID, db.PositionFilter{Status: db.StatusOpen, AgentOnly: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 agent position, got %d", len(positions))
	}
	pos := positions[0]
	if !pos.IsAgentTrade {
		t.Fatal("position not flagged as agent trade")
	}
	// Default sizing: 300 margin at min(5, 25) leverage, TP/SL attached.
	if pos.Margin != "300" || pos.Leverage != 5 {
		t.Fatalf("sizing margin=%s leverage=%d, want 300 / 5", pos.Margin, pos.Leverage)
	}
	if pos.TakeProfit == "" || pos.StopLoss == "" {
		t.Fatal("TP/SL must be attached to agent entries")
	}

	// lastRunAt recorded so the cooldown engages.
	got, err := rig.store.GetAgentConfig(ctx, rig.userID)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if got.LastRunAt.IsZero() {
		t.Fatal("lastRunAt not touched after trade")
	}

	// Within cooldown the agent only logs heartbeats.
	rig.runner.processAgent(ctx, *got)
	positions, _ = rig.store.ListPositions(ctx, rig.userID, db.PositionFilter{Status: db.StatusOpen, AgentOnly: true})
	if len(positions) != 1 {
		t.Fatalf("cooldown violated: %d positions", len(positions))
	}
	if rig.runner.getAttempts(rig.userID) != 1 {
		t.Fatalf("attempts = %d, want 1", rig.runner.getAttempts(rig.userID))
	}
}

func TestProcessAgentRespectsMaxOpenPositions(t *testing.T) {
	rig := newTestRig(t)
	one := 1
	cfg := runningConfig(t, rig, db.AgentConfigUpdate{MaxOpenPositions: &one})
	ctx := context.Background()

	rig.runner.processAgent(ctx, cfg)

	// Push past the guarantee window so the cap is the only gate.
	past := time.Now().Add(-10 * time.Minute)
	if err := rig.store.TouchAgentRun(ctx, rig.userID, past); err != nil {
		t.Fatalf("touch: %v", err)
	}
	fresh, _ := rig.store.GetAgentConfig(ctx, rig.userID)
	rig.runner.processAgent(ctx, *fresh)

	positions, _ := rig.store.ListPositions(ctx, rig.userID, db.PositionFilter{Status: db.StatusOpen, AgentOnly: true})
	if len(positions) != 1 {
		t.Fatalf("cap violated: %d positions, want 1", len(positions))
	}
}

func TestCheckAgentPositionsTakeProfit(t *testing.T) {
	rig := newTestRig(t)
	runningConfig(t, rig, db.AgentConfigUpdate{})
	ctx := context.Background()

	if _, err := rig.engine.Open(ctx, engine.OpenRequest{
		UserID: rig.userID, TokenID: "bitcoin", Side: db.SideLong,
		Margin: 1000, Leverage: 5, TakeProfit: 52000, StopLoss: 48500,
		IsAgent: true, NoAggregate: true,
	}); err != nil {
		t.Fatalf("open: %v", err)
	}

	rig.setPrice(52100)
	rig.runner.checkAgentPositions(ctx, rig.userID)

	open, _ := rig.store.ListPositions(ctx, rig.userID, db.PositionFilter{Status: db.StatusOpen})
	if len(open) != 0 {
		t.Fatalf("position not closed on TP: %+v", open)
	}
	evs, err := rig.store.ListAgentEvents(ctx, rig.userID, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	found := false
	for _, ev := range evs {
		if ev.EventType == events.AgentTpHit {
			found = true
		}
	}
	if !found {
		t.Fatalf("no tp_hit event recorded: %+v", evs)
	}
}

func TestCheckAgentPositionsLiquidation(t *testing.T) {
	rig := newTestRig(t)
	runningConfig(t, rig, db.AgentConfigUpdate{})
	ctx := context.Background()

	if _, err := rig.engine.Open(ctx, engine.OpenRequest{
		UserID: rig.userID, TokenID: "bitcoin", Side: db.SideLong,
		Margin: 1000, Leverage: 5, TakeProfit: 52000, StopLoss: 48500,
		IsAgent: true, NoAggregate: true,
	}); err != nil {
		t.Fatalf("open: %v", err)
	}
	balanceAfterOpen := 10000.0 - 1001

	// Below both stop loss and liquidation: liquidation must win and cost
	// the entire margin.
	rig.setPrice(40000)
	rig.runner.checkAgentPositions(ctx, rig.userID)

	closed, _ := rig.store.ListPositions(ctx, rig.userID, db.PositionFilter{Status: db.StatusClosed})
	if len(closed) != 1 {
		t.Fatalf("expected liquidated position, got %+v", closed)
	}
	if got := db.Dec(closed[0].RealizedPnl); got != -1001 {
		t.Fatalf("realized = %v, want -1001 (full margin plus fee)", got)
	}
	b, _ := rig.store.GetOrCreateBalance(ctx, rig.userID)
	if got := b.AmountF(); got != balanceAfterOpen-1 {
		t.Fatalf("balance = %v, want %v (margin gone, close fee debited)", got, balanceAfterOpen-1)
	}
	evs, _ := rig.store.ListAgentEvents(ctx, rig.userID, 10)
	found := false
	for _, ev := range evs {
		if ev.EventType == events.AgentLiquidated {
			found = true
		}
	}
	if !found {
		t.Fatal("no liquidated event recorded")
	}
}

func TestRunnerStartStopIdempotent(t *testing.T) {
	rig := newTestRig(t)
	iv := DefaultIntervals()
	iv.SignalScan = 50 * time.Millisecond
	iv.ExitCheck = 50 * time.Millisecond
	runner := New(rig.store, rig.runner.gateway, rig.engine, rig.runner.bus, iv)

	runner.Start()
	runner.Start() // second call is a no-op
	time.Sleep(20 * time.Millisecond)
	runner.Stop()
	runner.Stop() // second call is a no-op
}
