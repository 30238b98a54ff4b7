package agent

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/Zerotek-trade/zerotek-app/internal/events"
	"github.com/Zerotek-trade/zerotek-app/pkg/db"
)

// checkAgentPositions enforces exits on every open agent position for one
// user. Priority order is liquidation, then take profit, then stop loss.
func (r *Runner) checkAgentPositions(ctx context.Context, userID string) {
	positions, err := r.store.ListPositions(ctx, userID, db.PositionFilter{
		Status: db.StatusOpen, AgentOnly: true,
	})
	if err != nil {
		log.Printf("[agent] exit check list for %s: %v", userID, err)
		return
	}

	for i := range positions {
		pos := positions[i]
		quote, err := r.gateway.GetPrice(ctx, pos.TokenID)
		if err != nil || quote.Price <= 0 {
			continue
		}
		price := quote.Price

		reason := exitReason(&pos, price)
		if reason == "" {
			continue
		}

		var closeErr error
		if reason == events.AgentLiquidated {
			_, closeErr = r.engine.Liquidate(ctx, &pos, price)
		} else {
			_, closeErr = r.engine.CloseWithEvent(ctx, &pos, price, reason)
		}
		if closeErr != nil {
			// A lost settlement race means another path closed it first.
			if !errors.Is(closeErr, db.ErrPositionClosed) {
				log.Printf("[agent] exit close failed for %s: %v", pos.ID, closeErr)
			}
			continue
		}
		log.Printf("[agent] closed %s position for %s: %s @ %v", pos.Side, pos.TokenID, reason, price)
	}
}

// exitReason returns the triggered exit event type, or "" to hold.
func exitReason(pos *db.Position, price float64) string {
	liq := pos.LiquidationPriceF()
	if pos.Side == db.SideLong && price <= liq {
		return events.AgentLiquidated
	}
	if pos.Side == db.SideShort && price >= liq {
		return events.AgentLiquidated
	}

	if tp := pos.TakeProfitF(); tp > 0 {
		if pos.Side == db.SideLong && price >= tp {
			return events.AgentTpHit
		}
		if pos.Side == db.SideShort && price <= tp {
			return events.AgentTpHit
		}
	}

	if sl := pos.StopLossF(); sl > 0 {
		if pos.Side == db.SideLong && price <= sl {
			return events.AgentSlHit
		}
		if pos.Side == db.SideShort && price >= sl {
			return events.AgentSlHit
		}
	}
	return ""
}

func upperToken(tokenID string) string {
	return strings.ToUpper(tokenID)
}
