package events

// Event enumerates high-level topics inside the platform.
type Event string

const (
	EventPriceTick      Event = "price_tick"
	EventPositionChange Event = "position_change"
	EventAgentLog       Event = "agent_log"
	EventBalanceChange  Event = "balance_change"
)

// Agent event types recorded to the automation log and streamed to clients.
const (
	AgentScanning       = "scanning"
	AgentPositionOpened = "position_opened"
	AgentPositionAdded  = "position_added"
	AgentPositionClosed = "position_closed"
	AgentTpHit          = "tp_hit"
	AgentSlHit          = "sl_hit"
	AgentLiquidated     = "liquidated"
	AgentMarginAdded    = "margin_added"
	AgentMarginRemoved  = "margin_removed"
	AgentFaucetClaimed  = "faucet_claimed"
	AgentStarted        = "agent_started"
	AgentPaused         = "agent_paused"
)
