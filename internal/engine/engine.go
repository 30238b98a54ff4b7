// Package engine owns the simulated position lifecycle: opening with
// aggregation, settlement, margin moves and risk-field updates. Every
// operation resolves a fresh price, writes one ledger transaction and logs
// an activity event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/Zerotek-trade/zerotek-app/internal/events"
	"github.com/Zerotek-trade/zerotek-app/internal/gateway"
	"github.com/Zerotek-trade/zerotek-app/pkg/db"
)

var (
	ErrInvalidSide     = errors.New("side must be long or short")
	ErrInvalidLeverage = errors.New("leverage must be at least 1")
	ErrInvalidMargin   = errors.New("margin must be positive")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrMarginFloor     = errors.New("remaining margin would put the position at risk")
)

// Engine coordinates the gateway, the ledger and the event bus.
type Engine struct {
	store   *db.Store
	gateway *gateway.Service
	bus     *events.Bus
	feeRate float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds the engine. feeRate is the commission fraction of margin charged
// at open and at close.
func New(store *db.Store, gw *gateway.Service, bus *events.Bus, feeRate float64) *Engine {
	return &Engine{
		store:   store,
		gateway: gw,
		bus:     bus,
		feeRate: feeRate,
		locks:   make(map[string]*sync.Mutex),
	}
}

// userLock serializes settlement per user so concurrent closes and opens
// cannot interleave balance math. The ledger CAS is the backstop.
func (e *Engine) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

// OpenRequest describes a position entry.
type OpenRequest struct {
	UserID     string
	TokenID    string
	Side       string
	Margin     float64
	Leverage   int
	TakeProfit float64 // 0 means unset
	StopLoss   float64
	IsAgent    bool
	// NoAggregate always creates a new row even when an open position exists
	// on the same (token, side). The scheduler opens this way.
	NoAggregate bool
}

// Open enters or extends a position. A second entry on the same (token, side)
// merges into the existing row at the volume-weighted entry price.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*db.Position, error) {
	if req.Side != db.SideLong && req.Side != db.SideShort {
		return nil, ErrInvalidSide
	}
	if req.Leverage < 1 {
		return nil, ErrInvalidLeverage
	}
	if req.Margin <= 0 {
		return nil, ErrInvalidMargin
	}

	balance, err := e.store.GetOrCreateBalance(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if req.Margin > balance.AmountF() {
		return nil, db.ErrInsufficientBalance
	}

	quote, err := e.gateway.GetPrice(ctx, req.TokenID)
	if err != nil {
		return nil, err
	}
	price := quote.Price

	lock := e.userLock(req.UserID)
	lock.Lock()
	defer lock.Unlock()

	quantity := Quantity(req.Margin, req.Leverage, price)
	fee := Fee(req.Margin, e.feeRate)
	debit := req.Margin + fee

	trade := &db.Trade{
		UserID:       req.UserID,
		TokenID:      req.TokenID,
		Side:         req.Side,
		Type:         db.TradeOpen,
		Price:        db.FmtDec(price),
		Quantity:     db.FmtDec(quantity),
		Fee:          db.FmtDec(fee),
		IsAgentTrade: req.IsAgent,
	}

	var existing *db.Position
	if !req.NoAggregate {
		existing, err = e.store.OpenOnPair(ctx, req.UserID, req.TokenID, req.Side)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}

	if existing != nil {
		totalQty := existing.QuantityF() + quantity
		totalMargin := existing.MarginF() + req.Margin
		avgEntry := VWAP(existing.EntryPriceF(), existing.QuantityF(), price, quantity)
		effLev := EffectiveLeverage(totalQty, avgEntry, totalMargin)
		liq := LiquidationPrice(avgEntry, effLev, req.Side)

		upd := db.PositionUpdate{}
		entry := db.FmtDec(avgEntry)
		qty := db.FmtDec(totalQty)
		margin := db.FmtDec(totalMargin)
		liqStr := db.FmtDec(liq)
		upd.EntryPrice, upd.Quantity, upd.Margin, upd.LiquidationPrice = &entry, &qty, &margin, &liqStr
		if req.TakeProfit > 0 {
			tp := db.FmtDec(req.TakeProfit)
			upd.TakeProfit = &tp
		}
		if req.StopLoss > 0 {
			sl := db.FmtDec(req.StopLoss)
			upd.StopLoss = &sl
		}

		merged, err := e.store.AggregatePosition(ctx, req.UserID, existing.ID, upd, trade, debit)
		if err != nil {
			return nil, err
		}
		e.logEvent(ctx, req.UserID, events.AgentPositionAdded, req.TokenID,
			fmt.Sprintf("added to %s position on %s - new avg entry: $%.2f", req.Side, strings.ToUpper(req.TokenID), avgEntry))
		e.bus.Publish(events.EventPositionChange, merged)
		return merged, nil
	}

	pos := &db.Position{
		UserID:           req.UserID,
		TokenID:          req.TokenID,
		Side:             req.Side,
		EntryPrice:       db.FmtDec(price),
		Quantity:         db.FmtDec(quantity),
		Leverage:         req.Leverage,
		Margin:           db.FmtDec(req.Margin),
		LiquidationPrice: db.FmtDec(LiquidationPrice(price, float64(req.Leverage), req.Side)),
		IsAgentTrade:     req.IsAgent,
	}
	if req.TakeProfit > 0 {
		pos.TakeProfit = db.FmtDec(req.TakeProfit)
	}
	if req.StopLoss > 0 {
		pos.StopLoss = db.FmtDec(req.StopLoss)
	}

	if err := e.store.OpenPosition(ctx, pos, trade, debit); err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("opened %s %dx position on %s @ $%.2f", req.Side, req.Leverage, strings.ToUpper(req.TokenID), price)
	if req.IsAgent {
		msg = fmt.Sprintf("opened %s %s @ $%.2f | margin: $%.2f | %dx leverage | tp: $%.2f | sl: $%.2f",
			req.Side, strings.ToUpper(req.TokenID), price, req.Margin, req.Leverage, req.TakeProfit, req.StopLoss)
	}
	e.logEvent(ctx, req.UserID, events.AgentPositionOpened, req.TokenID, msg)
	e.bus.Publish(events.EventPositionChange, pos)
	return pos, nil
}

// CloseResult reports one settled position.
type CloseResult struct {
	Position    *db.Position
	RealizedPnl float64
	ClosePrice  float64
}

// Close settles an open position at the current market price. The ledger CAS
// guarantees at-most-once settlement; a raced close returns ErrPositionClosed.
func (e *Engine) Close(ctx context.Context, userID, positionID, eventType string) (*CloseResult, error) {
	pos, err := e.store.GetPosition(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}
	if pos.Status != db.StatusOpen {
		return nil, db.ErrPositionClosed
	}

	quote, err := e.gateway.GetPrice(ctx, pos.TokenID)
	if err != nil {
		return nil, err
	}
	return e.closeAt(ctx, pos, quote.Price, eventType, "")
}

// closeAt settles pos at price. Liquidations replace the directional PnL
// with the full margin loss before the fee.
func (e *Engine) closeAt(ctx context.Context, pos *db.Position, price float64, eventType, messagePrefix string) (*CloseResult, error) {
	lock := e.userLock(pos.UserID)
	lock.Lock()
	defer lock.Unlock()

	pnl := Pnl(pos.Side, pos.EntryPriceF(), price, pos.QuantityF())
	if eventType == events.AgentLiquidated {
		// Full margin loss on liquidation.
		pnl = -pos.MarginF()
	}
	fee := Fee(pos.MarginF(), e.feeRate)
	realized := pnl - fee
	// Negative when the loss exceeds margin; the excess is debited.
	credit := pos.MarginF() + realized

	trade := &db.Trade{
		UserID:       pos.UserID,
		TokenID:      pos.TokenID,
		Side:         pos.Side,
		Type:         db.TradeClose,
		Price:        db.FmtDec(price),
		Quantity:     pos.Quantity,
		Fee:          db.FmtDec(fee),
		RealizedPnl:  db.FmtDec(realized),
		IsAgentTrade: pos.IsAgentTrade,
	}
	if err := e.store.ClosePosition(ctx, pos.UserID, pos.ID, realized, trade, credit); err != nil {
		return nil, err
	}

	upper := strings.ToUpper(pos.TokenID)
	var msg string
	switch eventType {
	case events.AgentTpHit:
		msg = fmt.Sprintf("take profit hit on %s %s - closed with %s", upper, pos.Side, formatPnl(realized))
	case events.AgentSlHit:
		msg = fmt.Sprintf("stop loss hit on %s %s - closed with %s", upper, pos.Side, formatPnl(realized))
	case events.AgentLiquidated:
		msg = fmt.Sprintf("%s %s position liquidated - %s", upper, pos.Side, formatPnl(realized))
	default:
		msg = fmt.Sprintf("%sclosed %s position on %s with %s pnl", messagePrefix, pos.Side, upper, formatPnl(realized))
	}
	e.logEvent(ctx, pos.UserID, eventType, pos.TokenID, msg)

	closed, err := e.store.GetPosition(ctx, pos.UserID, pos.ID)
	if err != nil {
		return nil, err
	}
	e.bus.Publish(events.EventPositionChange, closed)
	return &CloseResult{Position: closed, RealizedPnl: realized, ClosePrice: price}, nil
}

// Liquidate force-closes an agent-monitored position at exactly -margin.
func (e *Engine) Liquidate(ctx context.Context, pos *db.Position, price float64) (*CloseResult, error) {
	return e.closeAt(ctx, pos, price, events.AgentLiquidated, "")
}

// CloseWithEvent settles pos at price tagging the event (tp_hit, sl_hit).
func (e *Engine) CloseWithEvent(ctx context.Context, pos *db.Position, price float64, eventType string) (*CloseResult, error) {
	return e.closeAt(ctx, pos, price, eventType, "")
}

// CloseAll settles every open position, optionally only agent-opened ones.
// Positions that lose the settlement race are skipped silently.
func (e *Engine) CloseAll(ctx context.Context, userID string, agentOnly bool) (int, error) {
	positions, err := e.store.ListPositions(ctx, userID, db.PositionFilter{
		Status:    db.StatusOpen,
		AgentOnly: agentOnly,
	})
	if err != nil {
		return 0, err
	}
	closed := 0
	for i := range positions {
		pos := positions[i]
		quote, err := e.gateway.GetPrice(ctx, pos.TokenID)
		if err != nil {
			log.Printf("[engine] close-all: no price for %s: %v", pos.TokenID, err)
			continue
		}
		prefix := ""
		if agentOnly {
			prefix = "manually "
		}
		if _, err := e.closeAt(ctx, &pos, quote.Price, events.AgentPositionClosed, prefix); err != nil {
			if !errors.Is(err, db.ErrPositionClosed) {
				log.Printf("[engine] close-all: %s: %v", pos.ID, err)
			}
			continue
		}
		closed++
	}
	return closed, nil
}

// AddMargin moves funds from the cash account into an open position and
// recomputes the liquidation price at the lower effective leverage.
func (e *Engine) AddMargin(ctx context.Context, userID, positionID string, amount float64) (*db.Position, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	pos, err := e.store.GetPosition(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}
	if pos.Status != db.StatusOpen {
		return nil, db.ErrPositionClosed
	}
	balance, err := e.store.GetOrCreateBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if amount > balance.AmountF() {
		return nil, db.ErrInsufficientBalance
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	newMargin := pos.MarginF() + amount
	effLev := EffectiveLeverage(pos.QuantityF(), pos.EntryPriceF(), newMargin)
	liq := LiquidationPrice(pos.EntryPriceF(), effLev, pos.Side)

	updated, err := e.store.AdjustPositionMargin(ctx, userID, positionID, newMargin, liq, -amount)
	if err != nil {
		return nil, err
	}
	e.logEvent(ctx, userID, events.AgentMarginAdded, pos.TokenID,
		fmt.Sprintf("added $%.2f margin to %s position on %s", amount, pos.Side, strings.ToUpper(pos.TokenID)))
	e.bus.Publish(events.EventPositionChange, updated)
	return updated, nil
}

// RemoveMargin moves funds back to the cash account. The remainder must keep
// effective leverage at or below 100x.
func (e *Engine) RemoveMargin(ctx context.Context, userID, positionID string, amount float64) (*db.Position, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	pos, err := e.store.GetPosition(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}
	if pos.Status != db.StatusOpen {
		return nil, db.ErrPositionClosed
	}

	minMargin := pos.QuantityF() * pos.EntryPriceF() / 100
	newMargin := pos.MarginF() - amount
	if newMargin < minMargin {
		return nil, ErrMarginFloor
	}

	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	effLev := EffectiveLeverage(pos.QuantityF(), pos.EntryPriceF(), newMargin)
	liq := LiquidationPrice(pos.EntryPriceF(), effLev, pos.Side)

	updated, err := e.store.AdjustPositionMargin(ctx, userID, positionID, newMargin, liq, amount)
	if err != nil {
		return nil, err
	}
	e.logEvent(ctx, userID, events.AgentMarginRemoved, pos.TokenID,
		fmt.Sprintf("removed $%.2f margin from %s position on %s", amount, pos.Side, strings.ToUpper(pos.TokenID)))
	e.bus.Publish(events.EventPositionChange, updated)
	return updated, nil
}

// RiskUpdate carries optional TP/SL/limit-close changes. nil leaves a field,
// a pointer to 0 clears it.
type RiskUpdate struct {
	TakeProfit      *float64
	StopLoss        *float64
	LimitClosePrice *float64
}

// UpdateRisk patches exit metadata on an open position.
func (e *Engine) UpdateRisk(ctx context.Context, userID, positionID string, upd RiskUpdate) (*db.Position, error) {
	conv := func(v *float64) *string {
		if v == nil {
			return nil
		}
		s := ""
		if *v > 0 {
			s = db.FmtDec(*v)
		}
		return &s
	}
	return e.store.UpdatePosition(ctx, userID, positionID, db.PositionUpdate{
		TakeProfit:      conv(upd.TakeProfit),
		StopLoss:        conv(upd.StopLoss),
		LimitClosePrice: conv(upd.LimitClosePrice),
	})
}

// View is a position annotated with live pricing for API responses.
type View struct {
	db.Position
	CurrentPrice  float64 `json:"currentPrice"`
	LivePnl       float64 `json:"livePnl"`
	LivePnlPct    float64 `json:"livePnlPercent"`
	PriceResolved bool    `json:"priceResolved"`
}

// Annotate computes live PnL for a slice of positions with one batch price
// lookup. Positions whose price cannot be resolved keep zero values.
func (e *Engine) Annotate(ctx context.Context, positions []db.Position) []View {
	ids := make([]string, 0, len(positions))
	seen := map[string]bool{}
	for _, p := range positions {
		if p.Status == db.StatusOpen && !seen[p.TokenID] {
			seen[p.TokenID] = true
			ids = append(ids, p.TokenID)
		}
	}
	quotes := e.gateway.GetBatchPrices(ctx, ids)

	views := make([]View, 0, len(positions))
	for _, p := range positions {
		v := View{Position: p}
		if q, ok := quotes[p.TokenID]; ok && p.Status == db.StatusOpen {
			v.CurrentPrice = q.Price
			v.LivePnl = Pnl(p.Side, p.EntryPriceF(), q.Price, p.QuantityF())
			if m := p.MarginF(); m > 0 {
				v.LivePnlPct = v.LivePnl / m * 100
			}
			v.PriceResolved = true
		}
		views = append(views, v)
	}
	return views
}

func (e *Engine) logEvent(ctx context.Context, userID, eventType, symbol, message string) {
	ev, err := e.store.AppendAgentEvent(ctx, userID, eventType, symbol, message)
	if err != nil {
		log.Printf("[engine] event append failed: %v", err)
		return
	}
	e.bus.Publish(events.EventAgentLog, ev)
}

func formatPnl(pnl float64) string {
	if pnl >= 0 {
		return fmt.Sprintf("+$%.2f", pnl)
	}
	return fmt.Sprintf("-$%.2f", math.Abs(pnl))
}
