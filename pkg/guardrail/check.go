package guardrail

import (
	"context"
	"time"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/budget"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/percent"
	"github.com/asifgondal786/tajir/pkg/probation"
	"github.com/asifgondal786/tajir/pkg/sanity"
	"github.com/asifgondal786/tajir/pkg/store"
)

const opCheck = "check"

// CanExecuteAutonomousTrade decides whether an autonomous strategy may
// place p for the user. summary may be nil when the paper ledger could not
// provide one; live trades are then denied.
//
// The steps run in order and the first denial wins:
//  1. re-derive budget pauses and lift expired anomaly pauses
//  2. deny while paused (a kill switch also blocks paper trades)
//  3. deny live trades at manual
//  4. re-run probation for live trades
//  5. compare the trade's risk with the budget's per-trade maximum
//  6. feed the snapshot to the anomaly monitor
//  7. admit
//
// The evaluation and its effects on the user's state are committed
// together; if anything else changed the state meanwhile, the whole
// evaluation is redone against the latest state.
func (e *Engine) CanExecuteAutonomousTrade(ctx context.Context, userID string, p contracts.TradeProposal, summary *contracts.PaperSummary, snap contracts.MarketSnapshot) (Decision, error) {
	ctx, done := e.span(ctx, opCheck, userID)
	p = p.Normalized()

	var d Decision
	_, err := e.update(ctx, userID, func(st *store.UserState, now time.Time) error {
		var err error
		d, err = e.evaluate(st, p, summary, snap, now)
		if err != nil {
			return err
		}
		receipt(st, opCheck, p, &d, now)
		return nil
	})
	if err != nil {
		done(nil, err)
		return Decision{}, err
	}
	done(&d, nil)
	return d, nil
}

func (e *Engine) evaluate(st *store.UserState, p contracts.TradeProposal, summary *contracts.PaperSummary, snap contracts.MarketSnapshot, now time.Time) (Decision, error) {
	s := &st.Autonomy
	live := !p.Simulated

	// 1. Budget re-derivation
	s.LiftExpired(now)
	assessment := st.Ledger.Check(st.Budget, now)
	budget.Apply(s, assessment, now)

	dc := &DecisionContext{
		Level:           s.Level,
		Budget:          assessment,
		MaxRiskPerTrade: st.Budget.MaxRiskPerTrade,
	}
	refresh := func() {
		dc.Level = s.Level
		dc.Paused = s.Paused()
		dc.Pause = s.Pause
	}
	refresh()

	// 2. Pause
	if s.Pause != nil && (live || s.Pause.Kind == autonomy.PauseKillSwitch) {
		return deny(pauseCode(s.Pause), "paused by "+s.Pause.Reason(), dc), nil
	}

	// 3. Manual mode
	if live && s.Level == autonomy.Manual {
		return deny(contracts.ReasonManualMode, "autonomy level is manual; live autonomous trades are disabled", dc), nil
	}

	// 4. Probation
	if live {
		if summary == nil {
			s.ProbationPassed = false
			return deny(contracts.ReasonProbationUnavailable, "paper trading summary unavailable; probation cannot be evaluated", dc), nil
		}
		res, err := probation.Evaluate(st.Probation, *summary)
		if err != nil {
			return Decision{}, err
		}
		probation.Apply(s, res, now)
		dc.Probation = &res
		refresh()
		if !res.Passed {
			return deny(contracts.ReasonProbationFailed, res.Reason(), dc), nil
		}
	}

	// 5. Risk per trade
	risk, code := riskOf(p)
	switch code {
	case contracts.ReasonStopLossRequired:
		return deny(code, "risk per trade cannot be derived without an entry price and stop loss", dc), nil
	case contracts.ReasonInvalidRisk:
		return denyf(code, dc, "explicit risk percent must be > 0, got %s", risk), nil
	}
	dc.RiskPercent = &risk
	if risk.GreaterThan(st.Budget.MaxRiskPerTrade) {
		return denyf(contracts.ReasonRiskPerTrade, dc,
			"risk per trade %s%% exceeds budget maximum %s%%", risk, st.Budget.MaxRiskPerTrade), nil
	}

	// 6. Anomaly and drift
	ar := e.cfg.Monitor.Observe(s, snap, now)
	dc.Anomaly = &ar
	refresh()
	if ar.Triggered() {
		return deny(ar.Code, ar.Reason, dc), nil
	}

	// 7. Admit
	return admit("autonomous trade admitted at "+s.Level.String(), dc), nil
}

// riskOf returns the trade's risk percent. The code is empty when the risk is
// usable, STOP_LOSS_REQUIRED when it cannot be derived and
// INVALID_RISK_PERCENT when an explicit risk is not positive.
func riskOf(p contracts.TradeProposal) (percent.Percent, contracts.ReasonCode) {
	if p.RiskPercent != nil {
		if !p.RiskPercent.IsPositive() {
			return *p.RiskPercent, contracts.ReasonInvalidRisk
		}
		return *p.RiskPercent, ""
	}
	if p.EntryPrice <= 0 || p.StopLoss <= 0 {
		return percent.Zero, contracts.ReasonStopLossRequired
	}
	return sanity.RiskPercent(p), ""
}
