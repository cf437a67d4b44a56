// Package probation decides whether a paper-trading record earns live autonomy.
package probation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/percent"
)

// Check names one probation criterion.
type Check string

const (
	CheckTrades   Check = "trades"
	CheckWinRate  Check = "win_rate"
	CheckDrawdown Check = "drawdown"
	CheckAge      Check = "account_age"
)

// Failure is a failed check with its explanation.
type Failure struct {
	Check  Check  `json:"check"`
	Detail string `json:"detail"`
}

// Result is the outcome of Evaluate.
type Result struct {
	Passed     bool                   `json:"passed"`
	WideMargin bool                   `json:"wide_margin"`
	Failed     []Failure              `json:"failed,omitempty"`
	Summary    contracts.PaperSummary `json:"summary"`
}

// Reason joins the failed checks for denial messages.
func (r Result) Reason() string {
	if r.Passed {
		return "probation passed"
	}
	msg := "probation failed:"
	for i, f := range r.Failed {
		if i > 0 {
			msg += ";"
		}
		msg += " " + f.Detail
	}
	return msg
}

// Margins that count as clearing the bar by a wide margin.
var (
	wideTradeFactor    = 2
	wideWinRatePoints  = percent.FromInt(10)
	wideDrawdownFactor = decimal.RequireFromString("0.7")
)

// Evaluate runs the four checks. All must pass. An invalid policy is a
// configuration bug and returns contracts.ErrInvalidPolicy.
func Evaluate(policy contracts.ProbationPolicy, s contracts.PaperSummary) (Result, error) {
	if err := policy.Validate(); err != nil {
		return Result{}, err
	}
	r := Result{Summary: s}

	if s.Trades < policy.MinPaperTrades {
		r.Failed = append(r.Failed, Failure{CheckTrades,
			fmt.Sprintf("%d paper trades, need %d", s.Trades, policy.MinPaperTrades)})
	}
	if s.WinRate.LessThan(policy.MinWinRate) {
		r.Failed = append(r.Failed, Failure{CheckWinRate,
			fmt.Sprintf("win rate %s%% below %s%%", s.WinRate, policy.MinWinRate)})
	}
	if s.MaxDrawdown.GreaterThan(policy.MaxDrawdown) {
		r.Failed = append(r.Failed, Failure{CheckDrawdown,
			fmt.Sprintf("max drawdown %s%% above %s%%", s.MaxDrawdown, policy.MaxDrawdown)})
	}
	if s.AccountAgeDays < policy.MinActiveDays {
		r.Failed = append(r.Failed, Failure{CheckAge,
			fmt.Sprintf("account active %d days, need %d", s.AccountAgeDays, policy.MinActiveDays)})
	}

	r.Passed = len(r.Failed) == 0
	r.WideMargin = r.Passed &&
		s.Trades >= wideTradeFactor*policy.MinPaperTrades &&
		s.WinRate.GreaterOrEqual(policy.MinWinRate.Add(wideWinRatePoints)) &&
		s.MaxDrawdown.LessOrEqual(policy.MaxDrawdown.Mul(wideDrawdownFactor))
	return r, nil
}

// Apply folds a result into the autonomy state and reports whether the
// level changed. Promotion goes one step per evaluation, so full_auto is
// only reachable from guarded_auto. A failure leaves the level alone unless
// an administrative raise is still waiting for confirmation, which then
// falls back to assisted.
func Apply(st *autonomy.State, r Result, now time.Time) bool {
	before := st.Level
	st.ProbationPassed = r.Passed

	if !r.Passed {
		if st.OverridePending {
			st.OverridePending = false
			st.Demote(autonomy.Assisted, "override not confirmed: "+r.Reason(), now)
		}
		return st.Level != before
	}

	st.OverridePending = false
	switch st.Level {
	case autonomy.Manual, autonomy.Assisted:
		st.Promote(autonomy.GuardedAuto, "probation passed", now)
	case autonomy.GuardedAuto:
		if r.WideMargin {
			st.Promote(autonomy.FullAuto, "probation passed by a wide margin", now)
		}
	}
	return st.Level != before
}
