package probation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/percent"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func summary(trades int, win, dd float64, days int) contracts.PaperSummary {
	return contracts.PaperSummary{
		Trades:         trades,
		WinRate:        percent.New(win),
		MaxDrawdown:    percent.New(dd),
		AccountAgeDays: days,
	}
}

func TestPassPromotesAssistedToGuarded(t *testing.T) {
	r, err := Evaluate(contracts.DefaultProbationPolicy(), summary(25, 60, 8, 10))
	require.NoError(t, err)
	assert.True(t, r.Passed)
	assert.False(t, r.WideMargin)

	s := autonomy.New(autonomy.Assisted, now)
	assert.True(t, Apply(&s, r, now))
	assert.Equal(t, autonomy.GuardedAuto, s.Level)
	assert.True(t, s.ProbationPassed)
}

func TestFailureListsEveryFailedCheck(t *testing.T) {
	r, err := Evaluate(contracts.DefaultProbationPolicy(), summary(10, 50, 15, 2))
	require.NoError(t, err)
	assert.False(t, r.Passed)

	var checks []Check
	for _, f := range r.Failed {
		checks = append(checks, f.Check)
	}
	assert.Equal(t, []Check{CheckTrades, CheckWinRate, CheckDrawdown, CheckAge}, checks)
	assert.Contains(t, r.Reason(), "10 paper trades, need 20")

	s := autonomy.New(autonomy.GuardedAuto, now)
	assert.False(t, Apply(&s, r, now))
	assert.Equal(t, autonomy.GuardedAuto, s.Level)
	assert.False(t, s.ProbationPassed)
}

func TestThresholdsAreInclusive(t *testing.T) {
	r, err := Evaluate(contracts.DefaultProbationPolicy(), summary(20, 55, 12, 5))
	require.NoError(t, err)
	assert.True(t, r.Passed)
}

func TestWideMarginStepsToFullAutoFromGuardedOnly(t *testing.T) {
	r, err := Evaluate(contracts.DefaultProbationPolicy(), summary(40, 65, 8.4, 30))
	require.NoError(t, err)
	require.True(t, r.WideMargin)

	s := autonomy.New(autonomy.Manual, now)
	Apply(&s, r, now)
	assert.Equal(t, autonomy.GuardedAuto, s.Level, "no path jumps straight to full_auto")

	Apply(&s, r, now)
	assert.Equal(t, autonomy.FullAuto, s.Level)
}

func TestNarrowMarginStaysGuarded(t *testing.T) {
	r, err := Evaluate(contracts.DefaultProbationPolicy(), summary(40, 64.9, 8, 30))
	require.NoError(t, err)
	assert.True(t, r.Passed)
	assert.False(t, r.WideMargin)
}

func TestInvalidPolicyIsAnError(t *testing.T) {
	p := contracts.DefaultProbationPolicy()
	p.MinPaperTrades = -1
	_, err := Evaluate(p, summary(25, 60, 8, 10))
	assert.ErrorIs(t, err, contracts.ErrInvalidPolicy)
}

func TestUnconfirmedOverrideFallsBack(t *testing.T) {
	s := autonomy.New(autonomy.Assisted, now)
	s.Override(autonomy.FullAuto, now)

	r, err := Evaluate(contracts.DefaultProbationPolicy(), summary(3, 40, 20, 1))
	require.NoError(t, err)
	assert.True(t, Apply(&s, r, now))
	assert.Equal(t, autonomy.Assisted, s.Level)
	assert.False(t, s.OverridePending)
}

func TestConfirmedOverrideKeepsLevel(t *testing.T) {
	s := autonomy.New(autonomy.Assisted, now)
	s.Override(autonomy.FullAuto, now)

	r, err := Evaluate(contracts.DefaultProbationPolicy(), summary(25, 60, 8, 10))
	require.NoError(t, err)
	Apply(&s, r, now)
	assert.Equal(t, autonomy.FullAuto, s.Level)
	assert.False(t, s.OverridePending)
}

func TestPromotionRespectsBudgetCeiling(t *testing.T) {
	s := autonomy.New(autonomy.Assisted, now)
	ceiling := autonomy.Assisted
	s.Ceiling = &ceiling

	r, err := Evaluate(contracts.DefaultProbationPolicy(), summary(25, 60, 8, 10))
	require.NoError(t, err)
	assert.False(t, Apply(&s, r, now))
	assert.Equal(t, autonomy.Assisted, s.Level)
}
