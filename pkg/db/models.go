package db

import (
	"strconv"
	"time"
)

// Position sides and lifecycle states.
const (
	SideLong  = "long"
	SideShort = "short"

	StatusOpen   = "open"
	StatusClosed = "closed"

	TradeOpen  = "open"
	TradeClose = "close"

	AgentRunning = "running"
	AgentPaused  = "paused"
)

// User is an authenticated account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Token is a tradable market cached from the listing feed.
type Token struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Name           string    `json:"name"`
	Image          string    `json:"image"`
	CurrentPrice   string    `json:"currentPrice"`
	PriceChange24h string    `json:"priceChange24h"`
	Volume24h      string    `json:"volume24h"`
	MarketCap      string    `json:"marketCap"`
	IsPinned       bool      `json:"isPinned"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Balance is the simulated cash account. A zero LastFaucetClaim means the
// faucet has never been claimed.
type Balance struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	Amount          string    `json:"amount"`
	LastFaucetClaim time.Time `json:"lastFaucetClaim"`
}

// Position is a simulated perpetual-futures position.
type Position struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	TokenID          string    `json:"tokenId"`
	Side             string    `json:"side"`
	EntryPrice       string    `json:"entryPrice"`
	Quantity         string    `json:"quantity"`
	Leverage         int       `json:"leverage"`
	Margin           string    `json:"margin"`
	LiquidationPrice string    `json:"liquidationPrice"`
	TakeProfit       string    `json:"takeProfit,omitempty"`
	StopLoss         string    `json:"stopLoss,omitempty"`
	LimitClosePrice  string    `json:"limitClosePrice,omitempty"`
	UnrealizedPnl    string    `json:"unrealizedPnl"`
	RealizedPnl      string    `json:"realizedPnl,omitempty"`
	IsAgentTrade     bool      `json:"isAgentTrade"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	ClosedAt         time.Time `json:"closedAt,omitempty"`
}

// Trade is an append-only fill record.
type Trade struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	PositionID   string    `json:"positionId"`
	TokenID      string    `json:"tokenId"`
	Side         string    `json:"side"`
	Type         string    `json:"type"`
	Price        string    `json:"price"`
	Quantity     string    `json:"quantity"`
	Fee          string    `json:"fee"`
	RealizedPnl  string    `json:"realizedPnl,omitempty"`
	IsAgentTrade bool      `json:"isAgentTrade"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DefaultAllowedTokens seeds a fresh agent config so a newly started agent
// has pairs to scan before the user customizes the list.
var DefaultAllowedTokens = []string{
	"bitcoin", "ethereum", "solana", "the-open-network", "uniswap",
	"mantle", "sui", "pyth-network", "jupiter-exchange-solana",
}

// AgentConfig is the per-user automation rule set.
type AgentConfig struct {
	ID                    string    `json:"id"`
	UserID                string    `json:"userId"`
	AllowedTokens         []string  `json:"allowedTokens"`
	MaxCapital            string    `json:"maxCapital"`
	MaxLeverage           int       `json:"maxLeverage"`
	MaxOpenPositions      int       `json:"maxOpenPositions"`
	TradeFrequencyMinutes int       `json:"tradeFrequencyMinutes"`
	Strategy              string    `json:"strategy"`
	UseEmaFilter          bool      `json:"useEmaFilter"`
	UseRsiFilter          bool      `json:"useRsiFilter"`
	UseVolatilityFilter   bool      `json:"useVolatilityFilter"`
	MaxMarginPerTrade     string    `json:"maxMarginPerTrade"`
	MaxLossPerDay         string    `json:"maxLossPerDay"`
	UseRandomMargin       bool      `json:"useRandomMargin"`
	Status                string    `json:"status"`
	LastRunAt             time.Time `json:"lastRunAt,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// AgentEvent is one append-only log line from the automation scheduler or the
// position engine.
type AgentEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	EventType string    `json:"eventType"`
	Symbol    string    `json:"symbol,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// PnlSnapshot is a daily equity sample used for the drawdown curve.
type PnlSnapshot struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Equity    string    `json:"equity"`
	DailyPnl  string    `json:"dailyPnl"`
	CreatedAt time.Time `json:"createdAt"`
}

// AgentStats aggregates the automation trading record for one user.
type AgentStats struct {
	TotalTrades   int     `json:"totalTrades"`
	WinningTrades int     `json:"winningTrades"`
	TotalProfit   float64 `json:"totalProfit"`
	OpenPositions int     `json:"openPositions"`
}

// Dec parses a stored decimal string. Empty or malformed values read as 0.
func Dec(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// FmtDec formats a value for decimal-string storage using the shortest
// round-trippable representation.
func FmtDec(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Convenience accessors for stored decimal fields.

func (p *Position) EntryPriceF() float64       { return Dec(p.EntryPrice) }
func (p *Position) QuantityF() float64         { return Dec(p.Quantity) }
func (p *Position) MarginF() float64           { return Dec(p.Margin) }
func (p *Position) LiquidationPriceF() float64 { return Dec(p.LiquidationPrice) }
func (p *Position) TakeProfitF() float64       { return Dec(p.TakeProfit) }
func (p *Position) StopLossF() float64         { return Dec(p.StopLoss) }

func (b *Balance) AmountF() float64 { return Dec(b.Amount) }

func (c *AgentConfig) MaxCapitalF() float64        { return Dec(c.MaxCapital) }
func (c *AgentConfig) MaxMarginPerTradeF() float64 { return Dec(c.MaxMarginPerTrade) }
func (c *AgentConfig) MaxLossPerDayF() float64     { return Dec(c.MaxLossPerDay) }
