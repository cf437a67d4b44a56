package guardrail

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/budget"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/percent"
	"github.com/asifgondal786/tajir/pkg/store"
)

func TestEvaluateProbationPromotesManualOneStep(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DefaultLevel = autonomy.Manual })
	ctx := context.Background()

	strong := contracts.PaperSummary{Trades: 60, WinRate: percent.FromInt(70), MaxDrawdown: percent.FromInt(5), AccountAgeDays: 30}

	res, err := h.engine.EvaluateProbation(ctx, "u1", strong)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.True(t, res.WideMargin)
	assert.Equal(t, autonomy.GuardedAuto, h.state(t, "u1").Autonomy.Level)

	_, err = h.engine.EvaluateProbation(ctx, "u1", strong)
	require.NoError(t, err)
	assert.Equal(t, autonomy.FullAuto, h.state(t, "u1").Autonomy.Level)

	snap, err := h.engine.GetGuardrails(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, snap.Transitions, 2)
	assert.Equal(t, autonomy.Manual, snap.Transitions[0].From)
	assert.Equal(t, autonomy.GuardedAuto, snap.Transitions[0].To)
}

func TestConfigureGuardrails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bad := contracts.DefaultRiskBudget()
	bad.WeeklyLossLimit = percent.FromInt(-1)
	_, err := h.engine.ConfigureGuardrails(ctx, "u1", GuardrailConfig{Budget: &bad})
	assert.ErrorIs(t, err, contracts.ErrInvalidBudget)

	badPolicy := contracts.DefaultProbationPolicy()
	badPolicy.MinWinRate = percent.FromInt(101)
	_, err = h.engine.ConfigureGuardrails(ctx, "u1", GuardrailConfig{Probation: &badPolicy})
	assert.ErrorIs(t, err, contracts.ErrInvalidPolicy)

	policy := contracts.DefaultProbationPolicy()
	policy.MinPaperTrades = 50
	tight := contracts.DefaultRiskBudget()
	tight.MaxRiskPerTrade = percent.MustParse("0.3")
	snap, err := h.engine.ConfigureGuardrails(ctx, "u1", GuardrailConfig{Probation: &policy, Budget: &tight})
	require.NoError(t, err)
	assert.Equal(t, 50, snap.Probation.MinPaperTrades)
	assert.Equal(t, "0.3", snap.Budget.MaxRiskPerTrade.String())
	assert.Equal(t, autonomy.Assisted, snap.Level)

	d, err := h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), &contracts.PaperSummary{
		Trades: 60, WinRate: percent.FromInt(60), MaxDrawdown: percent.FromInt(8), AccountAgeDays: 10,
	}, calm())
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonRiskPerTrade, d.Code)
}

func TestOverrideMustBeConfirmedByProbation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	full := autonomy.FullAuto
	snap, err := h.engine.ConfigureGuardrails(ctx, "u1", GuardrailConfig{Level: &full})
	require.NoError(t, err)
	assert.Equal(t, autonomy.FullAuto, snap.Level)
	assert.True(t, snap.OverridePending)

	weak := &contracts.PaperSummary{Trades: 3, WinRate: percent.FromInt(40), MaxDrawdown: percent.FromInt(30), AccountAgeDays: 1}
	d, err := h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), weak, calm())
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonProbationFailed, d.Code)

	st := h.state(t, "u1")
	assert.Equal(t, autonomy.Assisted, st.Autonomy.Level)
	assert.False(t, st.Autonomy.OverridePending)
}

func TestConfigureRiskLimits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.ConfigureRiskLimits(ctx, "u1", contracts.RiskLimits{})
	assert.ErrorIs(t, err, contracts.ErrInvalidLimits)

	limits := contracts.DefaultRiskLimits()
	limits.MaxTradeSize = 500
	snap, err := h.engine.ConfigureRiskLimits(ctx, "u1", limits)
	require.NoError(t, err)
	assert.Equal(t, 500.0, snap.Limits.MaxTradeSize)

	d, err := h.engine.ValidateTrade(ctx, "u1", paperBuy())
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonSizeOverLimit, d.Code)
}

func TestGetGuardrailsDoesNotPersistNewUsers(t *testing.T) {
	h := newHarness(t)
	snap, err := h.engine.GetGuardrails(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, autonomy.Assisted, snap.Level)
	assert.Equal(t, contracts.DefaultRiskLimits(), snap.Limits)
	assert.Equal(t, int64(0), snap.Version)

	st, err := h.repo.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestDenialsNewestFirst(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DefaultLevel = autonomy.Manual })
	ctx := context.Background()

	_, err := h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), nil, calm())
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	bad := paperBuy()
	bad.Pair = "EURUSD"
	d, err := h.engine.ValidateTrade(ctx, "u1", bad)
	require.NoError(t, err)
	require.Equal(t, contracts.ReasonInvalidPair, d.Code)

	got, err := h.engine.Denials(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, d.ReceiptID, got[0].ReceiptID)
	assert.Equal(t, contracts.ReasonInvalidPair, got[0].Code)
	assert.Equal(t, contracts.CategoryStructural, got[0].Category)
	assert.Equal(t, "validate", got[0].Operation)
	assert.Equal(t, contracts.ReasonManualMode, got[1].Code)
	for _, r := range got {
		assert.True(t, strings.HasPrefix(r.ContentHash, "sha256:"))
		assert.Len(t, r.ContentHash, len("sha256:")+64)
	}

	got, err = h.engine.Denials(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRiskAssessment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.engine.RiskAssessment(ctx, "calm")
	require.NoError(t, err)
	assert.Equal(t, RiskSafe, a.RiskLevel)
	assert.Zero(t, a.DangerScore)

	h.seed(t, "u1", func(st *store.UserState) {
		for i := 0; i < 4; i++ {
			st.Ledger.RecordOpen(h.clock.Now())
			st.Ledger.RecordClose(percent.MustParse("-1.5"), h.clock.Now())
		}
	})
	a, err = h.engine.RiskAssessment(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, a.DangerScore)
	assert.Equal(t, RiskExtreme, a.RiskLevel)
	assert.Equal(t, "-6", a.DailyProfitLoss.String())
	assert.Equal(t, 4, a.TradesToday)
	assert.True(t, a.WinRateToday.IsZero())
	assert.Len(t, a.Factors, 2)

	h.seed(t, "busy", func(st *store.UserState) {
		for i := 0; i < 4; i++ {
			st.Trades = append(st.Trades, contracts.TradeExecution{ID: string(rune('a' + i)), Status: contracts.TradeOpen})
		}
	})
	a, err = h.engine.RiskAssessment(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, RiskModerate, a.RiskLevel)
}

func TestTradingAnalytics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.TradingAnalytics(ctx, "u1", 0)
	assert.ErrorIs(t, err, ErrInvalidDays)

	day1 := h.clock.Now()
	day2 := day1.Add(24 * time.Hour)
	h.seed(t, "u1", func(st *store.UserState) {
		st.Ledger.RecordOpen(day1)
		st.Ledger.RecordClose(percent.FromInt(2), day1)
		st.Ledger.MarkKillSwitch(day1)
		st.Ledger.RecordOpen(day2)
		st.Ledger.RecordClose(percent.FromInt(-1), day2)
		st.Trades = []contracts.TradeExecution{
			{ID: "p", Simulated: true, Status: contracts.TradeClosed, OpenedAt: day1},
			{ID: "k", Status: contracts.TradeClosed, Reason: "kill switch", OpenedAt: day1},
		}
	})
	h.clock.Advance(24 * time.Hour)

	a, err := h.engine.TradingAnalytics(ctx, "u1", 90)
	require.NoError(t, err)
	assert.Equal(t, budget.HistoryDays, a.Days)
	assert.True(t, a.HistoryLimitApplied)
	assert.Equal(t, 2, a.TotalTrades)
	assert.Equal(t, 1, a.WinningTrades)
	assert.Equal(t, 1, a.LosingTrades)
	assert.Equal(t, "50", a.WinRate.String())
	assert.Equal(t, "1", a.TotalProfitLoss.String())
	assert.Equal(t, "1", a.CurrentDrawdown.String())
	assert.Equal(t, 1, a.KillSwitchDays)
	assert.Equal(t, 1, a.EmergencyClosures)
	assert.Equal(t, 1, a.PaperTrades)
	require.Len(t, a.DailyBreakdown, 2)

	a, err = h.engine.TradingAnalytics(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, a.DailyBreakdown, 1)
	assert.Equal(t, "-1", a.TotalProfitLoss.String())
}
