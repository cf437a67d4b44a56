package contracts

import (
	"time"

	"github.com/asifgondal786/tajir/pkg/percent"
)

// TradeStatus is the lifecycle state of an executed trade.
type TradeStatus string

// Trade statuses. Records are never deleted.
const (
	TradeOpen           TradeStatus = "open"
	TradeEmergencyClose TradeStatus = "emergency_close"
	TradeClosed         TradeStatus = "closed"
)

// TradeExecution records a trade admitted by the engine.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type TradeExecution struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Pair         string      `json:"pair"`
	Action       Action      `json:"action"`
	EntryPrice   float64     `json:"entry_price"`
	StopLoss     float64     `json:"stop_loss"`
	TakeProfit   float64     `json:"take_profit"`
	PositionSize float64     `json:"position_size"`
	Simulated    bool        `json:"is_paper_trade"`
	Status       TradeStatus `json:"status"`
	OpenedAt     time.Time   `json:"opened_at"`

	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
	ExitPrice         float64         `json:"exit_price,omitempty"`
	ProfitLoss        float64         `json:"profit_loss,omitempty"`
	ProfitLossPercent percent.Percent `json:"profit_loss_percent"`
	Reason            string          `json:"reason,omitempty"`
}

// Live reports whether the trade is still exposed to the market.
func (t TradeExecution) Live() bool {
	return t.Status == TradeOpen || t.Status == TradeEmergencyClose
}

// DailyTradingStats is the per-user ledger for one calendar day.
// TotalProfitLoss is in percent-of-notional units.
type DailyTradingStats struct {
	Date                string          `json:"date"`
	TotalTrades         int             `json:"total_trades"`
	WinningTrades       int             `json:"winning_trades"`
	LosingTrades        int             `json:"losing_trades"`
	TotalProfitLoss     percent.Percent `json:"total_profit_loss"`
	MaxDrawdown         percent.Percent `json:"max_drawdown"`
	KillSwitchTriggered bool            `json:"kill_switch_triggered"`

	// Intraday running peak of TotalProfitLoss, used for MaxDrawdown.
	Peak percent.Percent `json:"peak"`
}

// DateKey is the layout of DailyTradingStats.Date.
const DateKey = "2006-01-02"
