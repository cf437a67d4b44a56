// Package sanity rejects structurally unsound trade proposals.
//
// Validate is pure: it reads only the proposal, the user's RiskLimits and the
// deployment options. Rules run in a fixed order and the first failure wins.
package sanity

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/percent"
)

var pairPattern = regexp.MustCompile(`^[A-Z]{3}/[A-Z]{3}$`)

// Stop distance and reward/risk bounds.
var (
	MinStopDistance = percent.MustParse("0.2")
	MaxStopDistance = percent.MustParse("5.0")
	MinRewardRisk   = decimal.RequireFromString("1.2")
)

var hundred = decimal.NewFromInt(100)

// Options are deployment-wide switches.
type Options struct {
	// RequireBrokerFailSafe makes live trades carry FailSafeConfirmed.
	RequireBrokerFailSafe bool
}

// Result is the outcome of Validate. Distances are filled in as far as the
// rules got before failing.
type Result struct {
	OK             bool                 `json:"ok"`
	Code           contracts.ReasonCode `json:"code"`
	Reason         string               `json:"reason"`
	StopDistance   percent.Percent      `json:"stop_distance"`
	TargetDistance percent.Percent      `json:"target_distance"`
	RewardRisk     decimal.Decimal      `json:"reward_risk"`
}

func fail(r Result, code contracts.ReasonCode, format string, args ...any) Result {
	r.OK = false
	r.Code = code
	r.Reason = fmt.Sprintf(format, args...)
	return r
}

// Validate runs every structural rule against p.
func Validate(p contracts.TradeProposal, limits contracts.RiskLimits, opts Options) Result {
	p = p.Normalized()
	var r Result

	if !p.Action.Valid() {
		return fail(r, contracts.ReasonInvalidAction, "action must be BUY or SELL, got %q", p.Action)
	}
	if !pairPattern.MatchString(p.Pair) {
		return fail(r, contracts.ReasonInvalidPair, "pair must look like XXX/YYY, got %q", p.Pair)
	}

	if limits.MandatoryStopLoss && p.StopLoss == 0 {
		return fail(r, contracts.ReasonStopLossRequired, "stop-loss is mandatory")
	}
	if limits.MandatoryTakeProfit && p.TakeProfit == 0 {
		return fail(r, contracts.ReasonTakeProfitRequired, "take-profit is mandatory")
	}

	if p.PositionSize <= 0 {
		return fail(r, contracts.ReasonNonPositiveSize, "position size must be > 0")
	}
	if p.EntryPrice <= 0 || p.StopLoss <= 0 || p.TakeProfit <= 0 {
		return fail(r, contracts.ReasonNonPositivePrice, "entry, stop-loss and take-profit must all be > 0")
	}
	if limits.MaxTradeSize > 0 && p.PositionSize > limits.MaxTradeSize {
		return fail(r, contracts.ReasonSizeOverLimit, "position size %g exceeds limit %g", p.PositionSize, limits.MaxTradeSize)
	}
	if p.RiskPercent != nil && !p.RiskPercent.IsPositive() {
		return fail(r, contracts.ReasonInvalidRisk, "explicit risk percent must be > 0, got %s", *p.RiskPercent)
	}

	entry := decimal.NewFromFloat(p.EntryPrice)
	stop := decimal.NewFromFloat(p.StopLoss)
	target := decimal.NewFromFloat(p.TakeProfit)

	switch p.Action {
	case contracts.ActionBuy:
		if !(stop.LessThan(entry) && entry.LessThan(target)) {
			return fail(r, contracts.ReasonInvertedLevels, "BUY requires stop-loss < entry < take-profit")
		}
	case contracts.ActionSell:
		if !(target.LessThan(entry) && entry.LessThan(stop)) {
			return fail(r, contracts.ReasonInvertedLevels, "SELL requires take-profit < entry < stop-loss")
		}
	}

	stopDist := entry.Sub(stop).Abs()
	targetDist := target.Sub(entry).Abs()
	r.StopDistance = percent.Ratio(stopDist, entry)
	r.TargetDistance = percent.Ratio(targetDist, entry)

	// Bounds compare exact prices; the rounded fields are for display only.
	scaled := stopDist.Mul(hundred)
	if scaled.LessThan(entry.Mul(MinStopDistance.Decimal())) {
		return fail(r, contracts.ReasonStopTooClose, "stop distance %s%% is below %s%%", r.StopDistance, MinStopDistance)
	}
	if scaled.GreaterThan(entry.Mul(MaxStopDistance.Decimal())) {
		return fail(r, contracts.ReasonStopTooWide, "stop distance %s%% is above %s%%", r.StopDistance, MaxStopDistance)
	}

	r.RewardRisk = targetDist.DivRound(stopDist, 4)
	if targetDist.LessThan(stopDist.Mul(MinRewardRisk)) {
		return fail(r, contracts.ReasonRewardRiskTooLow, "reward/risk %s is below %s", targetDist.Div(stopDist).Truncate(6), MinRewardRisk)
	}

	if !p.Simulated {
		if p.BrokerAccountID == "" {
			return fail(r, contracts.ReasonBrokerAccountRequired, "live trades need a broker account id")
		}
		if p.ServerSideStopLoss != nil && !*p.ServerSideStopLoss {
			return fail(r, contracts.ReasonServerProtectionDisabled, "server-side stop-loss protection is disabled")
		}
		if p.ServerSideTakeProfit != nil && !*p.ServerSideTakeProfit {
			return fail(r, contracts.ReasonServerProtectionDisabled, "server-side take-profit protection is disabled")
		}
		if opts.RequireBrokerFailSafe && !p.FailSafeConfirmed {
			return fail(r, contracts.ReasonFailSafeUnconfirmed, "broker fail-safe confirmation is required for live trades")
		}
	}

	r.OK = true
	r.Code = contracts.ReasonAdmitted
	r.Reason = "sane"
	return r
}

// RiskPercent returns the explicit per-trade risk or, when absent, the stop
// distance. Prices must already be positive.
func RiskPercent(p contracts.TradeProposal) percent.Percent {
	if p.RiskPercent != nil {
		return *p.RiskPercent
	}
	entry := decimal.NewFromFloat(p.EntryPrice)
	stop := decimal.NewFromFloat(p.StopLoss)
	return percent.Ratio(entry.Sub(stop).Abs(), entry)
}
