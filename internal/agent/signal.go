package agent

import (
	"math"
	"math/rand"
	"time"

	"github.com/Zerotek-trade/zerotek-app/pkg/db"
)

// Strategy identifiers the config may select.
const (
	StrategyTrend         = "trend"
	StrategyMeanReversion = "mean_reversion"
	StrategyBreakout      = "breakout"
)

// ValidStrategy reports whether s names an implemented signal generator.
func ValidStrategy(s string) bool {
	switch s {
	case StrategyTrend, StrategyMeanReversion, StrategyBreakout:
		return true
	}
	return false
}

const (
	historySize      = 10
	historyStaleness = 60 * time.Second
	minHistoryPoints = 5
	maxConfidence    = 0.95
)

// signal is one trade decision.
type signal struct {
	side       string
	confidence float64
}

// tokenHistory is the rolling price window the momentum math runs over.
type tokenHistory struct {
	prices     []float64
	lastUpdate time.Time
}

// observe appends price to the token's window, restarting it when the last
// sample is older than the staleness cutoff.
func (r *Runner) observe(tokenID string, price float64) []float64 {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()

	now := time.Now()
	h, ok := r.history[tokenID]
	if !ok || now.Sub(h.lastUpdate) > historyStaleness {
		h = &tokenHistory{prices: []float64{price}, lastUpdate: now}
		r.history[tokenID] = h
		return h.prices
	}
	h.prices = append(h.prices, price)
	if len(h.prices) > historySize {
		h.prices = h.prices[len(h.prices)-historySize:]
	}
	h.lastUpdate = now
	return h.prices
}

// generateSignal runs the configured strategy over the rolling window.
// force relaxes the history and strength gates so a stale agent still trades.
func (r *Runner) generateSignal(cfg *db.AgentConfig, tokenID string, currentPrice float64, force bool) *signal {
	prices := r.observe(tokenID, currentPrice)

	if len(prices) < minHistoryPoints && !force {
		return nil
	}

	var momentum, volatility float64
	trend := 0
	if len(prices) >= 3 {
		avg := mean(prices)
		momentum = (currentPrice - avg) / avg

		var variance float64
		for _, p := range prices {
			variance += (p - avg) * (p - avg)
		}
		variance /= float64(len(prices))
		volatility = math.Sqrt(variance) / avg

		recent := prices[len(prices)-3:]
		if recent[2] > recent[1] && recent[1] > recent[0] {
			trend = 1
		} else if recent[2] < recent[1] && recent[1] < recent[0] {
			trend = -1
		}
	}

	if cfg.UseVolatilityFilter && volatility < 0.001 && !force {
		return nil
	}

	var strength float64
	side := db.SideLong

	switch cfg.Strategy {
	case StrategyMeanReversion:
		// Bet on price returning to the mean.
		if momentum > 0.01 {
			strength = 0.6 + momentum*5
			side = db.SideShort
		} else if momentum < -0.01 {
			strength = 0.6 + math.Abs(momentum)*5
			side = db.SideLong
		}
	case StrategyBreakout:
		// High volatility with a clear direction.
		if volatility > 0.005 {
			if trend == 1 {
				strength = 0.8
				side = db.SideLong
			} else if trend == -1 {
				strength = 0.8
				side = db.SideShort
			}
		}
	default: // trend
		if trend == 1 && momentum > 0 {
			strength = 0.7 + momentum*10
			side = db.SideLong
		} else if trend == -1 && momentum < 0 {
			strength = 0.7 + math.Abs(momentum)*10
			side = db.SideShort
		} else if momentum > 0.002 {
			strength = 0.5 + momentum*5
			side = db.SideLong
		} else if momentum < -0.002 {
			strength = 0.5 + math.Abs(momentum)*5
			side = db.SideShort
		}
	}

	// Filters only reduce confidence, never add it.
	if cfg.UseEmaFilter && len(prices) >= minHistoryPoints {
		avg := mean(prices)
		if (side == db.SideLong && currentPrice < avg) ||
			(side == db.SideShort && currentPrice > avg) {
			strength *= 0.7
		}
	}
	if cfg.UseRsiFilter {
		if momentum > 0.03 && side == db.SideLong {
			strength *= 0.5
		} else if momentum < -0.03 && side == db.SideShort {
			strength *= 0.5
		}
	}

	if force && strength < 0.3 {
		strength = 0.5
		if momentum >= 0 {
			side = db.SideLong
		} else {
			side = db.SideShort
		}
	}

	// Random component for variety.
	strength += rand.Float64()*0.3 + 0.1

	if strength < 0.5 && !force {
		return nil
	}
	return &signal{side: side, confidence: math.Min(strength, maxConfidence)}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
