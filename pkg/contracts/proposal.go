package contracts

import (
	"strings"

	"github.com/asifgondal786/tajir/pkg/percent"
)

// Action is the trade direction.
type Action string

// Action constants.
const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Valid reports whether a is BUY or SELL.
func (a Action) Valid() bool {
	return a == ActionBuy || a == ActionSell
}

// TradeProposal is a candidate trade produced by a strategy on a user's behalf.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type TradeProposal struct {
	Pair         string  `json:"pair"`
	Action       Action  `json:"action"`
	EntryPrice   float64 `json:"entry_price"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
	PositionSize float64 `json:"position_size"`

	// RiskPercent is the explicit per-trade risk. When nil the stop
	// distance is used.
	RiskPercent *percent.Percent `json:"risk_percent,omitempty"`

	Simulated       bool   `json:"is_paper_trade"`
	BrokerAccountID string `json:"broker_account_id,omitempty"`

	// Server-side protection flags. Nil means "not stated"; only an
	// explicit false is rejected for live trades.
	ServerSideStopLoss   *bool `json:"server_side_stop_loss,omitempty"`
	ServerSideTakeProfit *bool `json:"server_side_take_profit,omitempty"`

	FailSafeConfirmed bool `json:"broker_fail_safe_confirmed,omitempty"`
}

// Normalized returns a copy with pair and action upper-cased and trimmed.
func (p TradeProposal) Normalized() TradeProposal {
	p.Pair = strings.ToUpper(strings.TrimSpace(p.Pair))
	p.Action = Action(strings.ToUpper(strings.TrimSpace(string(p.Action))))
	return p
}

// Volatility is the market intelligence volatility label.
type Volatility string

// Volatility labels.
const (
	VolatilityLow    Volatility = "low"
	VolatilityMedium Volatility = "medium"
	VolatilityHigh   Volatility = "high"
)

// MarketSnapshot is the per-evaluation market risk view. It is not persisted.
type MarketSnapshot struct {
	ConsensusScore float64    `json:"consensus_score"`
	Volatility     Volatility `json:"volatility"`
	CoverageRatio  float64    `json:"coverage_ratio"`
}

// Confidence bands reported by market intelligence.
const (
	ConfidenceHighFloor   = 0.72
	ConfidenceMediumFloor = 0.5
)

// Confidence labels the consensus score as high, medium or low.
func (s MarketSnapshot) Confidence() string {
	switch {
	case s.ConsensusScore >= ConfidenceHighFloor:
		return "high"
	case s.ConsensusScore >= ConfidenceMediumFloor:
		return "medium"
	default:
		return "low"
	}
}

// PaperSummary is the user's paper-trading track record.
type PaperSummary struct {
	Trades         int             `json:"trades"`
	WinRate        percent.Percent `json:"win_rate"`
	MaxDrawdown    percent.Percent `json:"max_drawdown"`
	AccountAgeDays int             `json:"account_age_days"`
}
