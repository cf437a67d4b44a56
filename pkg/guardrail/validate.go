package guardrail

import (
	"context"
	"time"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/budget"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/rules"
	"github.com/asifgondal786/tajir/pkg/sanity"
	"github.com/asifgondal786/tajir/pkg/store"
)

const opValidate = "validate"

// ValidateTrade is the last line of defense before a broker: it runs
// whether or not an explain token was used. It checks the kill switch, the
// trade's structure, open positions and daily loss against the user's
// limits, then for live trades the pause, level, probation and per-trade
// risk, and finally the operator rules.
func (e *Engine) ValidateTrade(ctx context.Context, userID string, p contracts.TradeProposal) (Decision, error) {
	ctx, done := e.span(ctx, opValidate, userID)
	p = p.Normalized()

	var d Decision
	_, err := e.update(ctx, userID, func(st *store.UserState, now time.Time) error {
		d = e.validate(st, p, now)
		receipt(st, opValidate, p, &d, now)
		return nil
	})
	if err != nil {
		done(nil, err)
		return Decision{}, err
	}
	done(&d, nil)
	return d, nil
}

func (e *Engine) validate(st *store.UserState, p contracts.TradeProposal, now time.Time) Decision {
	s := &st.Autonomy
	live := !p.Simulated

	s.LiftExpired(now)
	assessment := st.Ledger.Check(st.Budget, now)
	budget.Apply(s, assessment, now)
	dc := &DecisionContext{
		Level:           s.Level,
		Paused:          s.Paused(),
		Pause:           s.Pause,
		Budget:          assessment,
		MaxRiskPerTrade: st.Budget.MaxRiskPerTrade,
	}

	if s.PausedBy(autonomy.PauseKillSwitch) {
		return deny(contracts.ReasonKillSwitch, "kill switch active; all trading disabled", dc)
	}

	sr := sanity.Validate(p, st.Limits, e.cfg.Sanity)
	if !sr.OK {
		return deny(sr.Code, sr.Reason, dc)
	}

	if open := st.OpenPositions(); open >= st.Limits.MaxOpenPositions {
		return denyf(contracts.ReasonOpenPositions, dc,
			"already %d open positions (max %d)", open, st.Limits.MaxOpenPositions)
	}
	if daily := st.Ledger.DailyPnL(now); daily.Loss().GreaterOrEqual(st.Limits.DailyLossLimit) {
		return denyf(contracts.ReasonDailyLossLimit, dc,
			"daily loss limit reached: %s%% (limit -%s%%)", daily, st.Limits.DailyLossLimit)
	}

	risk := sanity.RiskPercent(p)
	dc.RiskPercent = &risk
	if live {
		if s.Pause != nil {
			return deny(pauseCode(s.Pause), "paused by "+s.Pause.Reason(), dc)
		}
		if s.Level == autonomy.Manual {
			return deny(contracts.ReasonManualMode, "autonomy level is manual; live trades need a human", dc)
		}
		if !s.ProbationPassed {
			return deny(contracts.ReasonProbationFailed, "probation has not been passed for live trading", dc)
		}
		if risk.GreaterThan(st.Budget.MaxRiskPerTrade) {
			return denyf(contracts.ReasonRiskPerTrade, dc,
				"risk per trade %s%% exceeds budget maximum %s%%", risk, st.Budget.MaxRiskPerTrade)
		}
	}

	if v := e.rules.Evaluate(e.ruleInput(st, p, now)); v != nil {
		return deny(contracts.ReasonRuleDenied, v.String(), dc)
	}
	return admit("trade validation passed", dc)
}

func (e *Engine) ruleInput(st *store.UserState, p contracts.TradeProposal, now time.Time) rules.Input {
	return rules.Input{
		Pair:          p.Pair,
		Action:        string(p.Action),
		EntryPrice:    p.EntryPrice,
		StopLoss:      p.StopLoss,
		TakeProfit:    p.TakeProfit,
		PositionSize:  p.PositionSize,
		RiskPercent:   sanity.RiskPercent(p).Float64(),
		Simulated:     p.Simulated,
		Level:         st.Autonomy.Level.String(),
		OpenPositions: st.OpenPositions(),
		DailyPnL:      st.Ledger.DailyPnL(now).Float64(),
		WeeklyPnL:     st.Ledger.WeeklyPnL(now).Float64(),
		Now:           now,
	}
}
