package guardrail

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/budget"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/killswitch"
	"github.com/asifgondal786/tajir/pkg/percent"
	"github.com/asifgondal786/tajir/pkg/store"
)

// RiskLevel grades a user's current exposure.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskExtreme  RiskLevel = "extreme"
)

// losingStreak is the number of losing trades in a day past which the
// danger score goes up.
const losingStreak = 3

var (
	halfShare = decimal.RequireFromString("0.5")
	openShare = decimal.RequireFromString("0.7")
)

// RiskAssessment is a point-in-time grade of the user's exposure.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type RiskAssessment struct {
	UserID           string               `json:"user_id"`
	RiskLevel        RiskLevel            `json:"risk_level"`
	DangerScore      int                  `json:"danger_score"`
	Factors          []string             `json:"factors"`
	KillSwitchActive bool                 `json:"kill_switch_active"`
	Limits           contracts.RiskLimits `json:"limits"`
	OpenPositions    int                  `json:"open_positions"`
	DailyProfitLoss  percent.Percent      `json:"daily_profit_loss"`
	TradesToday      int                  `json:"total_trades_today"`
	WinRateToday     percent.Percent      `json:"win_rate"`
	Budget           budget.Assessment    `json:"budget"`
	AssessedAt       time.Time            `json:"assessed_at"`
}

// RiskAssessment grades the user's exposure from today's P&L, open
// positions and losing trades. It changes nothing.
func (e *Engine) RiskAssessment(ctx context.Context, userID string) (RiskAssessment, error) {
	st, now, err := e.view(ctx, userID)
	if err != nil {
		return RiskAssessment{}, err
	}
	return assess(st, now), nil
}

func assess(st *store.UserState, now time.Time) RiskAssessment {
	today := st.Ledger.Today
	if today.Date != budget.DayKey(now) {
		today = contracts.DailyTradingStats{Date: budget.DayKey(now)}
	}
	a := RiskAssessment{
		UserID:           st.UserID,
		KillSwitchActive: st.Autonomy.PausedBy(autonomy.PauseKillSwitch),
		Limits:           st.Limits,
		OpenPositions:    st.OpenPositions(),
		DailyProfitLoss:  today.TotalProfitLoss,
		TradesToday:      today.TotalTrades,
		Budget:           st.Ledger.Check(st.Budget, now),
		AssessedAt:       now,
		Factors:          []string{},
	}
	if today.TotalTrades > 0 {
		a.WinRateToday = percent.Ratio(decimal.NewFromInt(int64(today.WinningTrades)), decimal.NewFromInt(int64(today.TotalTrades)))
	}

	if today.TotalProfitLoss.Loss().GreaterThan(st.Limits.DailyLossLimit.Mul(halfShare)) {
		a.DangerScore += 2
		a.Factors = append(a.Factors, "daily loss past half the limit")
	}
	maxOpen := decimal.NewFromInt(int64(st.Limits.MaxOpenPositions)).Mul(openShare)
	if decimal.NewFromInt(int64(a.OpenPositions)).GreaterThan(maxOpen) {
		a.DangerScore++
		a.Factors = append(a.Factors, "open positions past 70% of the maximum")
	}
	if today.LosingTrades > losingStreak {
		a.DangerScore++
		a.Factors = append(a.Factors, "more than 3 losing trades today")
	}

	switch {
	case a.DangerScore >= 3:
		a.RiskLevel = RiskExtreme
	case a.DangerScore >= 2:
		a.RiskLevel = RiskHigh
	case a.DangerScore >= 1:
		a.RiskLevel = RiskModerate
	default:
		a.RiskLevel = RiskSafe
	}
	return a
}

// Analytics summarizes a user's realized trading over a window of days.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Analytics struct {
	UserID              string                        `json:"user_id"`
	Days                int                           `json:"days"`
	TotalTrades         int                           `json:"total_trades"`
	WinningTrades       int                           `json:"winning_trades"`
	LosingTrades        int                           `json:"losing_trades"`
	WinRate             percent.Percent               `json:"win_rate"`
	TotalProfitLoss     percent.Percent               `json:"total_profit_loss"`
	MaxDrawdown         percent.Percent               `json:"max_drawdown"`
	CurrentDrawdown     percent.Percent               `json:"current_drawdown"`
	KillSwitchDays      int                           `json:"kill_switch_days"`
	EmergencyClosures   int                           `json:"emergency_closures"`
	PaperTrades         int                           `json:"paper_trades"`
	DailyBreakdown      []contracts.DailyTradingStats `json:"daily_breakdown"`
	WeeklyProfitLoss    map[string]percent.Percent    `json:"weekly_profit_loss"`
	GeneratedAt         time.Time                     `json:"generated_at"`
	HistoryLimitApplied bool                          `json:"history_limit_applied"`
}

// TradingAnalytics summarizes the last days of live trading. The window is
// capped at the ledger's retained history.
func (e *Engine) TradingAnalytics(ctx context.Context, userID string, days int) (Analytics, error) {
	if days <= 0 {
		return Analytics{}, ErrInvalidDays
	}
	st, now, err := e.view(ctx, userID)
	if err != nil {
		return Analytics{}, err
	}

	a := Analytics{UserID: st.UserID, Days: days, GeneratedAt: now}
	if days > budget.HistoryDays {
		a.Days = budget.HistoryDays
		a.HistoryLimitApplied = true
	}
	a.DailyBreakdown = st.Ledger.Days(a.Days, now)
	for _, d := range a.DailyBreakdown {
		a.TotalTrades += d.TotalTrades
		a.WinningTrades += d.WinningTrades
		a.LosingTrades += d.LosingTrades
		a.TotalProfitLoss = a.TotalProfitLoss.Add(d.TotalProfitLoss)
		a.MaxDrawdown = percent.Max(a.MaxDrawdown, d.MaxDrawdown)
		if d.KillSwitchTriggered {
			a.KillSwitchDays++
		}
	}
	if decided := a.WinningTrades + a.LosingTrades; decided > 0 {
		a.WinRate = percent.Ratio(decimal.NewFromInt(int64(a.WinningTrades)), decimal.NewFromInt(int64(decided)))
	}
	a.CurrentDrawdown = st.Ledger.Drawdown(now)

	since := now.AddDate(0, 0, -a.Days)
	for _, t := range st.Trades {
		if t.OpenedAt.Before(since) {
			continue
		}
		if t.Simulated {
			a.PaperTrades++
		}
		if t.Status == contracts.TradeEmergencyClose || t.Reason == killswitch.EmergencyReason {
			a.EmergencyClosures++
		}
	}

	a.WeeklyProfitLoss = make(map[string]percent.Percent, len(st.Ledger.Weekly))
	for k, v := range st.Ledger.Weekly {
		a.WeeklyProfitLoss[k] = v
	}
	return a, nil
}
