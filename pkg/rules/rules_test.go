package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func input() Input {
	return Input{
		Pair:          "EUR/USD",
		Action:        "BUY",
		EntryPrice:    1.1,
		StopLoss:      1.095,
		TakeProfit:    1.112,
		PositionSize:  1000,
		RiskPercent:   0.45,
		Level:         "guarded_auto",
		OpenPositions: 2,
		DailyPnL:      -0.5,
		Now:           time.Date(2026, 3, 7, 14, 0, 0, 0, time.UTC), // Saturday
	}
}

func TestRulesAdmitAndDeny(t *testing.T) {
	e, err := NewEvaluator([]Rule{
		{Name: "no-lira", Expr: `trade.pair != "USD/TRY"`},
		{Name: "size-cap", Expr: `trade.position_size <= 5000.0`, Message: "position too large for autonomy"},
		{Name: "few-open", Expr: `user.open_positions < 3`},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, e.Len())

	assert.Nil(t, e.Evaluate(input()))

	in := input()
	in.PositionSize = 6000
	v := e.Evaluate(in)
	require.NotNil(t, v)
	assert.Equal(t, "size-cap", v.Rule)
	assert.Contains(t, v.String(), "position too large")

	in = input()
	in.OpenPositions = 3
	v = e.Evaluate(in)
	require.NotNil(t, v)
	assert.Equal(t, "few-open", v.Rule)
}

func TestClockVariables(t *testing.T) {
	e, err := NewEvaluator([]Rule{
		{Name: "no-weekend-live", Expr: `trade.simulated || (clock.weekday != 0 && clock.weekday != 6)`},
	})
	require.NoError(t, err)

	v := e.Evaluate(input())
	require.NotNil(t, v)
	assert.Equal(t, "no-weekend-live", v.Rule)

	in := input()
	in.Simulated = true
	assert.Nil(t, e.Evaluate(in))
}

func TestEvaluationErrorsDeny(t *testing.T) {
	e, err := NewEvaluator([]Rule{{Name: "bad-key", Expr: `trade.missing_field > 1.0`}})
	require.NoError(t, err)
	v := e.Evaluate(input())
	require.NotNil(t, v)
	assert.Error(t, v.Err)
	assert.Contains(t, v.String(), "could not be evaluated")
}

func TestCompileErrors(t *testing.T) {
	_, err := NewEvaluator([]Rule{{Name: "syntax", Expr: `trade.pair ==`}})
	assert.Error(t, err)

	_, err = NewEvaluator([]Rule{{Name: "not-bool", Expr: `clock.hour_utc + 1`}})
	assert.Error(t, err)

	_, err = NewEvaluator([]Rule{{Name: "a", Expr: "true"}, {Name: "a", Expr: "true"}})
	assert.Error(t, err)
}

func TestNilEvaluatorAdmits(t *testing.T) {
	var e *Evaluator
	assert.Nil(t, e.Evaluate(input()))
	assert.Zero(t, e.Len())
}
