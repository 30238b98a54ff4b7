package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/Zerotek-trade/zerotek-app/internal/agent"
	"github.com/Zerotek-trade/zerotek-app/internal/engine"
	"github.com/Zerotek-trade/zerotek-app/internal/events"
	"github.com/Zerotek-trade/zerotek-app/internal/gateway"
	"github.com/Zerotek-trade/zerotek-app/internal/indicators"
	"github.com/Zerotek-trade/zerotek-app/internal/monitor"
	"github.com/Zerotek-trade/zerotek-app/pkg/db"

	"github.com/gin-gonic/gin"
)

type openPositionRequest struct {
	TokenID    string  `json:"tokenId" binding:"required,min=1"`
	Side       string  `json:"side" binding:"required,oneof=long short"`
	Leverage   int     `json:"leverage" binding:"required,gt=0"`
	Margin     float64 `json:"margin" binding:"required,gt=0"`
	TakeProfit float64 `json:"takeProfit"`
	StopLoss   float64 `json:"stopLoss"`
}

type marginRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

type updatePositionRequest struct {
	TakeProfit      *float64 `json:"takeProfit"`
	StopLoss        *float64 `json:"stopLoss"`
	LimitClosePrice *float64 `json:"limitClosePrice"`
}

type agentConfigRequest struct {
	AllowedTokens         *[]string `json:"allowedTokens"`
	MaxCapital            *float64  `json:"maxCapital"`
	MaxLeverage           *int      `json:"maxLeverage"`
	MaxOpenPositions      *int      `json:"maxOpenPositions"`
	TradeFrequencyMinutes *int      `json:"tradeFrequencyMinutes"`
	Strategy              *string   `json:"strategy"`
	UseEmaFilter          *bool     `json:"useEmaFilter"`
	UseRsiFilter          *bool     `json:"useRsiFilter"`
	UseVolatilityFilter   *bool     `json:"useVolatilityFilter"`
	MaxMarginPerTrade     *float64  `json:"maxMarginPerTrade"`
	MaxLossPerDay         *float64  `json:"maxLossPerDay"`
	UseRandomMargin       *bool     `json:"useRandomMargin"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondDomainError maps domain sentinels onto the HTTP error taxonomy.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "position not found")
	case errors.Is(err, db.ErrPositionClosed):
		respondError(c, http.StatusConflict, "POSITION_CLOSED", "position already closed")
	case errors.Is(err, db.ErrInsufficientBalance):
		respondError(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "insufficient balance")
	case errors.Is(err, db.ErrFaucetCooldown):
		respondError(c, http.StatusBadRequest, "FAUCET_COOLDOWN", "faucet already claimed in the last 24 hours")
	case errors.Is(err, gateway.ErrNoPrice):
		respondError(c, http.StatusBadGateway, "PRICE_UNAVAILABLE", "could not fetch a price for this token")
	case errors.Is(err, engine.ErrInvalidSide),
		errors.Is(err, engine.ErrInvalidLeverage),
		errors.Is(err, engine.ErrInvalidMargin),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrMarginFloor):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func fmt2(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// ---- market data ----

func (s *Server) getTokens(c *gin.Context) {
	tokens, err := s.Gateway.TopTokens(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusBadGateway, "LISTING_UNAVAILABLE", "failed to load token listing")
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (s *Server) getNews(c *gin.Context) {
	c.JSON(http.StatusOK, s.News.Fetch(c.Request.Context()))
}

// getTradePage bundles everything the trade view needs for one instrument.
func (s *Server) getTradePage(c *gin.Context) {
	ctx := c.Request.Context()
	userID := CurrentUserID(c)
	symbol := c.Param("symbol")
	timeframe := c.DefaultQuery("timeframe", "1h")

	token, err := s.Store.GetToken(ctx, symbol)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		respondDomainError(c, err)
		return
	}

	var currentPrice float64
	change24h := "0"
	if quote, err := s.Gateway.GetPrice(ctx, symbol); err == nil && quote.Price > 0 {
		currentPrice = quote.Price
		change24h = db.FmtDec(quote.Change24h)
		if token != nil {
			token.CurrentPrice = db.FmtDec(currentPrice)
			token.PriceChange24h = change24h
		}
	} else if token != nil {
		currentPrice = db.Dec(token.CurrentPrice)
		change24h = token.PriceChange24h
	}

	if token == nil && currentPrice <= 0 {
		respondError(c, http.StatusNotFound, "TOKEN_NOT_FOUND", "token not found")
		return
	}

	candles, err := s.Gateway.GetCandles(ctx, symbol, timeframe)
	if err != nil {
		candles = nil
	}
	closes := make([]float64, len(candles))
	for i, cd := range candles {
		closes[i] = cd.Close
	}

	open, err := s.Store.ListPositions(ctx, userID, db.PositionFilter{Status: db.StatusOpen})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	var positions []db.Position
	for _, p := range open {
		if p.TokenID != symbol {
			continue
		}
		p.UnrealizedPnl = fmt2(engine.Pnl(p.Side, p.EntryPriceF(), currentPrice, p.QuantityF()))
		positions = append(positions, p)
	}

	balance, err := s.Store.GetOrCreateBalance(ctx, userID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	if token == nil {
		token = &db.Token{
			ID:             symbol,
			Symbol:         symbol,
			Name:           symbol,
			CurrentPrice:   db.FmtDec(currentPrice),
			PriceChange24h: change24h,
			Volume24h:      "0",
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"candles":    candles,
		"indicators": indicators.Calculate(closes),
		"positions":  positions,
		"balance":    balance.AmountF(),
	})
}

// ---- dashboard ----

func (s *Server) getDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	userID := CurrentUserID(c)

	balance, err := s.Store.GetOrCreateBalance(ctx, userID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	open, err := s.Store.ListPositions(ctx, userID, db.PositionFilter{Status: db.StatusOpen})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	views := s.Engine.Annotate(ctx, open)

	var unrealized, agentUnrealized, manualUnrealized float64
	var agentCount, manualCount int
	for _, v := range views {
		unrealized += v.LivePnl
		if v.IsAgentTrade {
			agentUnrealized += v.LivePnl
			agentCount++
		} else {
			manualUnrealized += v.LivePnl
			manualCount++
		}
	}

	trades, err := s.Store.ListTrades(ctx, userID, 0)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	recentTrades := trades
	if len(recentTrades) > 10 {
		recentTrades = recentTrades[:10]
	}

	var realized, todayPnl float64
	var closedCount, winCount int
	todayStart := startOfDay(time.Now())
	for _, t := range trades {
		if t.RealizedPnl == "" {
			continue
		}
		pnl := db.Dec(t.RealizedPnl)
		realized += pnl
		closedCount++
		if pnl > 0 {
			winCount++
		}
		if !t.CreatedAt.Before(todayStart) {
			todayPnl += pnl
		}
	}
	winRate := 0.0
	if closedCount > 0 {
		winRate = float64(winCount) / float64(closedCount)
	}

	equity := balance.AmountF() + unrealized

	// Oldest first.
	snapshots, err := s.Store.ListPnlSnapshots(ctx, userID, 30)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	var maxDrawdown float64
	if len(snapshots) > 0 {
		peak := db.Dec(snapshots[0].Equity)
		for _, snap := range snapshots {
			eq := db.Dec(snap.Equity)
			if eq > peak {
				peak = eq
			}
			if peak > 0 {
				if dd := (peak - eq) / peak; dd > maxDrawdown {
					maxDrawdown = dd
				}
			}
		}
	}

	agentStatus := db.AgentPaused
	if cfg, err := s.Store.GetAgentConfig(ctx, userID); err == nil {
		agentStatus = cfg.Status
	}

	canClaim, cooldownMs := faucetCooldown(balance, s.FaucetCooldown)

	// At most one equity snapshot per calendar day, created lazily here.
	needSnapshot := len(snapshots) == 0 ||
		snapshots[len(snapshots)-1].CreatedAt.Before(todayStart)
	if needSnapshot && equity > 0 {
		snap, err := s.Store.CreatePnlSnapshot(ctx, userID, equity, todayPnl)
		if err != nil {
			log.Printf("[api] snapshot create failed for %s: %v", userID, err)
		} else {
			snapshots = append(snapshots, *snap)
		}
	}

	curve := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		curve = append(curve, gin.H{
			"date":   snap.CreatedAt.Format("2006-01-02"),
			"equity": db.Dec(snap.Equity),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":             balance.AmountF(),
		"equity":              equity,
		"unrealizedPnl":       unrealized,
		"realizedPnl":         realized,
		"todayPnl":            todayPnl,
		"winRate":             winRate,
		"maxDrawdown":         maxDrawdown,
		"openPositions":       len(views),
		"agentPositions":      agentCount,
		"agentUnrealizedPnl":  agentUnrealized,
		"manualPositions":     manualCount,
		"manualUnrealizedPnl": manualUnrealized,
		"agentStatus":         agentStatus,
		"canClaimFaucet":      canClaim,
		"faucetCooldown":      cooldownMs,
		"equityCurve":         curve,
		"recentTrades":        recentTrades,
	})
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// faucetCooldown reports whether the faucet is claimable and, if not, the
// remaining cooldown in milliseconds.
func faucetCooldown(b *db.Balance, cooldown time.Duration) (bool, *int64) {
	if b.LastFaucetClaim.IsZero() {
		return true, nil
	}
	elapsed := time.Since(b.LastFaucetClaim)
	if elapsed >= cooldown {
		return true, nil
	}
	remaining := (cooldown - elapsed).Milliseconds()
	return false, &remaining
}

// ---- faucet ----

func (s *Server) getFaucetStatus(c *gin.Context) {
	balance, err := s.Store.GetOrCreateBalance(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	canClaim, cooldownMs := faucetCooldown(balance, s.FaucetCooldown)
	resp := gin.H{
		"balance":        balance.AmountF(),
		"canClaimFaucet": canClaim,
		"faucetCooldown": cooldownMs,
	}
	if !balance.LastFaucetClaim.IsZero() {
		resp["lastClaimAt"] = balance.LastFaucetClaim
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) claimFaucet(c *gin.Context) {
	ctx := c.Request.Context()
	userID := CurrentUserID(c)

	balance, err := s.Store.ClaimFaucet(ctx, userID, s.FaucetAmount, s.FaucetCooldown)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	s.logAgentEvent(ctx, userID, events.AgentFaucetClaimed, "",
		"claimed 10,000 usdt from faucet")
	s.Bus.Publish(events.EventBalanceChange, balance)

	c.JSON(http.StatusOK, balance)
}

// ---- positions ----

func (s *Server) openPosition(c *gin.Context) {
	var req openPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}

	timer := monitor.NewTimer(s.Metrics.TradeLatency)
	pos, err := s.Engine.Open(c.Request.Context(), engine.OpenRequest{
		UserID:     CurrentUserID(c),
		TokenID:    req.TokenID,
		Side:       req.Side,
		Margin:     req.Margin,
		Leverage:   req.Leverage,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
	})
	timer.Stop()
	if err != nil {
		respondDomainError(c, err)
		return
	}
	s.Metrics.IncrementTrades()

	c.JSON(http.StatusCreated, pos)
}

func (s *Server) getPositions(c *gin.Context) {
	ctx := c.Request.Context()
	status := c.DefaultQuery("status", db.StatusOpen)

	positions, err := s.Store.ListPositions(ctx, CurrentUserID(c), db.PositionFilter{Status: status})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Engine.Annotate(ctx, positions))
}

func (s *Server) updatePosition(c *gin.Context) {
	var req updatePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}

	pos, err := s.Engine.UpdateRisk(c.Request.Context(), CurrentUserID(c), c.Param("id"), engine.RiskUpdate{
		TakeProfit:      req.TakeProfit,
		StopLoss:        req.StopLoss,
		LimitClosePrice: req.LimitClosePrice,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) closePosition(c *gin.Context) {
	timer := monitor.NewTimer(s.Metrics.TradeLatency)
	res, err := s.Engine.Close(c.Request.Context(), CurrentUserID(c), c.Param("id"), events.AgentPositionClosed)
	timer.Stop()
	if err != nil {
		respondDomainError(c, err)
		return
	}
	s.Metrics.IncrementTrades()

	c.JSON(http.StatusOK, gin.H{
		"position":    res.Position,
		"realizedPnl": res.RealizedPnl,
		"closePrice":  res.ClosePrice,
	})
}

func (s *Server) closeAllPositions(c *gin.Context) {
	closed, err := s.Engine.CloseAll(c.Request.Context(), CurrentUserID(c), false)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "closedCount": closed})
}

func (s *Server) addMargin(c *gin.Context) {
	var req marginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	pos, err := s.Engine.AddMargin(c.Request.Context(), CurrentUserID(c), c.Param("id"), req.Amount)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) removeMargin(c *gin.Context) {
	var req marginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	pos, err := s.Engine.RemoveMargin(c.Request.Context(), CurrentUserID(c), c.Param("id"), req.Amount)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

// ---- trades ----

func (s *Server) getTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	trades, err := s.Store.ListTrades(c.Request.Context(), CurrentUserID(c), limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

// ---- agent ----

func (s *Server) getAgentConfig(c *gin.Context) {
	ctx := c.Request.Context()
	userID := CurrentUserID(c)

	cfg, err := s.Store.GetAgentConfig(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		// First touch creates the default config.
		cfg, err = s.Store.UpsertAgentConfig(ctx, userID, db.AgentConfigUpdate{})
	}
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) updateAgentConfig(c *gin.Context) {
	var req agentConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	if req.Strategy != nil && !agent.ValidStrategy(*req.Strategy) {
		respondError(c, http.StatusBadRequest, "INVALID_STRATEGY",
			"strategy must be one of trend, mean_reversion, breakout")
		return
	}
	if req.MaxLeverage != nil && (*req.MaxLeverage < 1 || *req.MaxLeverage > 50) {
		respondError(c, http.StatusBadRequest, "INVALID_LEVERAGE", "maxLeverage must be between 1 and 50")
		return
	}
	if req.MaxOpenPositions != nil && *req.MaxOpenPositions < 1 {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "maxOpenPositions must be at least 1")
		return
	}
	if req.MaxMarginPerTrade != nil && *req.MaxMarginPerTrade <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "maxMarginPerTrade must be positive")
		return
	}
	if req.MaxLossPerDay != nil && *req.MaxLossPerDay <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "maxLossPerDay must be positive")
		return
	}

	dec := func(v *float64) *string {
		if v == nil {
			return nil
		}
		s := db.FmtDec(*v)
		return &s
	}
	cfg, err := s.Store.UpsertAgentConfig(c.Request.Context(), CurrentUserID(c), db.AgentConfigUpdate{
		AllowedTokens:         req.AllowedTokens,
		MaxCapital:            dec(req.MaxCapital),
		MaxLeverage:           req.MaxLeverage,
		MaxOpenPositions:      req.MaxOpenPositions,
		TradeFrequencyMinutes: req.TradeFrequencyMinutes,
		Strategy:              req.Strategy,
		UseEmaFilter:          req.UseEmaFilter,
		UseRsiFilter:          req.UseRsiFilter,
		UseVolatilityFilter:   req.UseVolatilityFilter,
		MaxMarginPerTrade:     dec(req.MaxMarginPerTrade),
		MaxLossPerDay:         dec(req.MaxLossPerDay),
		UseRandomMargin:       req.UseRandomMargin,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) setAgentStatus(c *gin.Context, status, eventType, message string) {
	ctx := c.Request.Context()
	userID := CurrentUserID(c)

	cfg, err := s.Store.UpsertAgentConfig(ctx, userID, db.AgentConfigUpdate{Status: &status})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	s.logAgentEvent(ctx, userID, eventType, "", message)
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) startAgent(c *gin.Context) {
	s.setAgentStatus(c, db.AgentRunning, events.AgentStarted, "automation agent started")
}

func (s *Server) pauseAgent(c *gin.Context) {
	s.setAgentStatus(c, db.AgentPaused, events.AgentPaused, "automation agent paused")
}

func (s *Server) getAgentEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	evs, err := s.Store.ListAgentEvents(c.Request.Context(), CurrentUserID(c), limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, evs)
}

func (s *Server) getAgentPositions(c *gin.Context) {
	ctx := c.Request.Context()
	status := c.DefaultQuery("status", db.StatusOpen)

	positions, err := s.Store.ListPositions(ctx, CurrentUserID(c), db.PositionFilter{
		Status: status, AgentOnly: true,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Engine.Annotate(ctx, positions))
}

func (s *Server) getAgentStats(c *gin.Context) {
	stats, err := s.Store.GetAgentStats(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondDomainError(c, err)
		return
	}

	accuracy := "0.0"
	if stats.TotalTrades > 0 {
		accuracy = strconv.FormatFloat(
			float64(stats.WinningTrades)/float64(stats.TotalTrades)*100, 'f', 1, 64)
	}
	c.JSON(http.StatusOK, gin.H{
		"totalTrades":   stats.TotalTrades,
		"winTrades":     stats.WinningTrades,
		"lossTrades":    stats.TotalTrades - stats.WinningTrades,
		"totalProfit":   fmt2(stats.TotalProfit),
		"accuracy":      accuracy,
		"openPositions": stats.OpenPositions,
	})
}

func (s *Server) closeAgentPositions(c *gin.Context) {
	closed, err := s.Engine.CloseAll(c.Request.Context(), CurrentUserID(c), true)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "closedCount": closed})
}

func (s *Server) logAgentEvent(ctx context.Context, userID, eventType, symbol, message string) {
	ev, err := s.Store.AppendAgentEvent(ctx, userID, eventType, symbol, message)
	if err != nil {
		log.Printf("[api] event append failed: %v", err)
		return
	}
	s.Bus.Publish(events.EventAgentLog, ev)
}
