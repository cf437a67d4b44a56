package budget

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/percent"
)

// NearShare is the share of any limit at which a user counts as near it.
var NearShare = decimal.RequireFromString("0.7")

// Metric names a budgeted quantity.
type Metric string

const (
	MetricDailyLoss  Metric = "daily_loss"
	MetricWeeklyLoss Metric = "weekly_loss"
	MetricDrawdown   Metric = "drawdown"
)

func (m Metric) label() string {
	switch m {
	case MetricDailyLoss:
		return "daily loss"
	case MetricWeeklyLoss:
		return "weekly loss"
	case MetricDrawdown:
		return "drawdown"
	default:
		return string(m)
	}
}

// Usage is how much of one limit is consumed.
type Usage struct {
	Metric Metric          `json:"metric"`
	Value  percent.Percent `json:"value"`
	Limit  percent.Percent `json:"limit"`
	Share  decimal.Decimal `json:"share"`
}

// Assessment classifies a ledger against a budget.
type Assessment struct {
	Status autonomy.BudgetStatus `json:"status"`
	Usages []Usage               `json:"usages"`
	Worst  Usage                 `json:"worst"`
	Detail string                `json:"detail"`
}

// Check classifies the ledger. A metric at or over its limit is a breach;
// at or over NearShare of it is near.
func (l *Ledger) Check(b contracts.RiskBudget, now time.Time) Assessment {
	a := Assessment{
		Status: autonomy.BudgetWithin,
		Usages: []Usage{
			{Metric: MetricDailyLoss, Value: l.DailyPnL(now).Loss(), Limit: b.DailyLossLimit},
			{Metric: MetricWeeklyLoss, Value: l.WeeklyPnL(now).Loss(), Limit: b.WeeklyLossLimit},
			{Metric: MetricDrawdown, Value: l.Drawdown(now), Limit: b.MaxDrawdown},
		},
	}
	for i := range a.Usages {
		u := &a.Usages[i]
		u.Share = u.Value.Of(u.Limit)
		if i == 0 || u.Share.GreaterThan(a.Worst.Share) {
			a.Worst = *u
		}
	}

	w := a.Worst
	switch {
	case w.Limit.IsPositive() && w.Value.GreaterOrEqual(w.Limit):
		a.Status = autonomy.BudgetBreached
		a.Detail = fmt.Sprintf("%s %s%% reached limit %s%%", w.Metric.label(), w.Value, w.Limit)
	case w.Share.GreaterThanOrEqual(NearShare):
		a.Status = autonomy.BudgetNear
		a.Detail = fmt.Sprintf("%s %s%% is %s%% of limit %s%%",
			w.Metric.label(), w.Value, w.Share.Mul(decimal.NewFromInt(100)).Round(1), w.Limit)
	default:
		a.Detail = "within budget"
	}
	return a
}

// Effect reports what Apply changed.
type Effect struct {
	Paused  bool
	Cleared bool
	Demoted bool
}

// Apply folds an assessment into the autonomy state.
//
// A breach pauses the user and demotes to assisted. Entering near from
// within takes one soft step down and caps probation promotions while the
// user stays near. Recovery clears budget pauses and the cap. Kill-switch
// pauses are untouched.
func Apply(s *autonomy.State, a Assessment, now time.Time) Effect {
	var e Effect
	prev := s.BudgetStatus

	switch a.Status {
	case autonomy.BudgetBreached:
		already := s.PausedBy(autonomy.PauseBudget)
		if s.SetPause(autonomy.PauseBudget, a.Detail, nil, now) && !already {
			e.Paused = true
		}
		e.Demoted = s.Demote(autonomy.Assisted, "budget breached: "+a.Detail, now)
		setCeiling(s, autonomy.Assisted)

	case autonomy.BudgetNear:
		e.Cleared = s.ClearPause(autonomy.PauseBudget, now)
		if prev == autonomy.BudgetWithin || prev == "" {
			switch s.Level {
			case autonomy.FullAuto:
				e.Demoted = s.Demote(autonomy.GuardedAuto, "budget near limit: "+a.Detail, now)
			case autonomy.GuardedAuto:
				e.Demoted = s.Demote(autonomy.Assisted, "budget near limit: "+a.Detail, now)
			}
		}
		setCeiling(s, s.Level)

	case autonomy.BudgetWithin:
		e.Cleared = s.ClearPause(autonomy.PauseBudget, now)
		s.Ceiling = nil
	}

	s.BudgetStatus = a.Status
	return e
}

func setCeiling(s *autonomy.State, l autonomy.Level) {
	if s.Ceiling != nil && *s.Ceiling <= l {
		return
	}
	s.Ceiling = &l
}
