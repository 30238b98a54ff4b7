package engine

import "github.com/Zerotek-trade/zerotek-app/pkg/db"

// liquidationBuffer keeps a 10% margin cushion: the position liquidates when
// the adverse move consumes 90% of margin.
const liquidationBuffer = 0.9

// Quantity converts margin and leverage into base-asset size at price.
func Quantity(margin float64, leverage int, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return margin * float64(leverage) / price
}

// LiquidationPrice computes the price at which the position is force-closed.
func LiquidationPrice(entry float64, leverage float64, side string) float64 {
	if leverage <= 0 {
		return 0
	}
	move := liquidationBuffer / leverage
	if side == db.SideLong {
		return entry * (1 - move)
	}
	return entry * (1 + move)
}

// Pnl is the directional profit of quantity held from entry to current.
func Pnl(side string, entry, current, quantity float64) float64 {
	if side == db.SideLong {
		return (current - entry) * quantity
	}
	return (entry - current) * quantity
}

// VWAP merges a new fill into an existing position's entry price.
func VWAP(oldEntry, oldQty, fillPrice, fillQty float64) float64 {
	total := oldQty + fillQty
	if total <= 0 {
		return 0
	}
	return (oldEntry*oldQty + fillPrice*fillQty) / total
}

// EffectiveLeverage is notional over margin; it changes when margin is moved
// in or out of an open position.
func EffectiveLeverage(quantity, entry, margin float64) float64 {
	if margin <= 0 {
		return 0
	}
	return quantity * entry / margin
}

// Fee is the flat-rate commission charged on margin at open and at close.
func Fee(margin, rate float64) float64 {
	return margin * rate
}
