package contracts

import (
	"errors"
	"fmt"

	"github.com/asifgondal786/tajir/pkg/percent"
)

var (
	// ErrInvalidLimits is returned for RiskLimits with out-of-range values.
	ErrInvalidLimits = errors.New("invalid risk limits")
	// ErrInvalidBudget is returned for a RiskBudget with non-positive limits.
	ErrInvalidBudget = errors.New("invalid risk budget")
	// ErrInvalidPolicy is returned for a ProbationPolicy with negative thresholds.
	ErrInvalidPolicy = errors.New("invalid probation policy")
)

// RiskLimits are the per-user hard trade limits.
type RiskLimits struct {
	MaxTradeSize        float64         `json:"max_trade_size" yaml:"max_trade_size"`
	DailyLossLimit      percent.Percent `json:"daily_loss_limit" yaml:"daily_loss_limit"`
	MaxOpenPositions    int             `json:"max_open_positions" yaml:"max_open_positions"`
	MaxDrawdown         percent.Percent `json:"max_drawdown" yaml:"max_drawdown"`
	MandatoryStopLoss   bool            `json:"mandatory_stop_loss" yaml:"mandatory_stop_loss"`
	MandatoryTakeProfit bool            `json:"mandatory_take_profit" yaml:"mandatory_take_profit"`
	KillSwitchEnabled   bool            `json:"kill_switch_enabled" yaml:"kill_switch_enabled"`
}

// DefaultRiskLimits returns the limits applied to users who never configured any.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxTradeSize:        10000,
		DailyLossLimit:      percent.FromInt(10),
		MaxOpenPositions:    5,
		MaxDrawdown:         percent.FromInt(20),
		MandatoryStopLoss:   true,
		MandatoryTakeProfit: true,
		KillSwitchEnabled:   true,
	}
}

// Validate rejects non-positive sizes and limits.
func (l RiskLimits) Validate() error {
	switch {
	case l.MaxTradeSize <= 0:
		return fmt.Errorf("%w: max_trade_size must be > 0", ErrInvalidLimits)
	case !l.DailyLossLimit.IsPositive():
		return fmt.Errorf("%w: daily_loss_limit must be > 0", ErrInvalidLimits)
	case l.MaxOpenPositions <= 0:
		return fmt.Errorf("%w: max_open_positions must be > 0", ErrInvalidLimits)
	case !l.MaxDrawdown.IsPositive():
		return fmt.Errorf("%w: max_drawdown must be > 0", ErrInvalidLimits)
	}
	return nil
}

// RiskBudget is the per-user percentage risk budget.
type RiskBudget struct {
	MaxRiskPerTrade percent.Percent `json:"max_risk_per_trade" yaml:"max_risk_per_trade"`
	DailyLossLimit  percent.Percent `json:"daily_loss_limit" yaml:"daily_loss_limit"`
	WeeklyLossLimit percent.Percent `json:"weekly_loss_limit" yaml:"weekly_loss_limit"`
	MaxDrawdown     percent.Percent `json:"max_drawdown" yaml:"max_drawdown"`
}

// DefaultRiskBudget returns the default budget.
func DefaultRiskBudget() RiskBudget {
	return RiskBudget{
		MaxRiskPerTrade: percent.FromInt(2),
		DailyLossLimit:  percent.FromInt(3),
		WeeklyLossLimit: percent.FromInt(6),
		MaxDrawdown:     percent.FromInt(10),
	}
}

// Validate requires every limit to be positive.
func (b RiskBudget) Validate() error {
	fields := []struct {
		name string
		v    percent.Percent
	}{
		{"max_risk_per_trade", b.MaxRiskPerTrade},
		{"daily_loss_limit", b.DailyLossLimit},
		{"weekly_loss_limit", b.WeeklyLossLimit},
		{"max_drawdown", b.MaxDrawdown},
	}
	for _, f := range fields {
		if !f.v.IsPositive() {
			return fmt.Errorf("%w: %s must be > 0, got %s", ErrInvalidBudget, f.name, f.v)
		}
	}
	return nil
}

// ProbationPolicy is the bar a paper-trading record must clear before
// the user may trade live autonomously.
type ProbationPolicy struct {
	MinPaperTrades int             `json:"min_paper_trades" yaml:"min_paper_trades"`
	MinWinRate     percent.Percent `json:"min_win_rate" yaml:"min_win_rate"`
	MaxDrawdown    percent.Percent `json:"max_drawdown" yaml:"max_drawdown"`
	MinActiveDays  int             `json:"min_active_days" yaml:"min_active_days"`
}

// DefaultProbationPolicy returns 20 trades, 55% win rate, 12% drawdown, 5 days.
func DefaultProbationPolicy() ProbationPolicy {
	return ProbationPolicy{
		MinPaperTrades: 20,
		MinWinRate:     percent.FromInt(55),
		MaxDrawdown:    percent.FromInt(12),
		MinActiveDays:  5,
	}
}

// Validate rejects negative thresholds and win rates above 100%.
func (p ProbationPolicy) Validate() error {
	switch {
	case p.MinPaperTrades < 0:
		return fmt.Errorf("%w: min_paper_trades is negative", ErrInvalidPolicy)
	case p.MinWinRate.IsNegative():
		return fmt.Errorf("%w: min_win_rate is negative", ErrInvalidPolicy)
	case p.MinWinRate.GreaterThan(percent.FromInt(100)):
		return fmt.Errorf("%w: min_win_rate exceeds 100", ErrInvalidPolicy)
	case p.MaxDrawdown.IsNegative():
		return fmt.Errorf("%w: max_drawdown is negative", ErrInvalidPolicy)
	case p.MinActiveDays < 0:
		return fmt.Errorf("%w: min_active_days is negative", ErrInvalidPolicy)
	}
	return nil
}
