// Package rules evaluates operator-defined CEL admission rules.
//
// Each rule is a boolean CEL expression that must hold for a trade to be
// admitted. Rules see three variables:
//
//	trade: pair, action, entry_price, stop_loss, take_profit,
//	       position_size, risk_percent, simulated
//	user: level, open_positions, daily_pnl, weekly_pnl
//	clock: hour_utc, weekday (0 = Sunday)
//
// Evaluation is fail-closed: a rule that errors denies the trade.
package rules

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Rule is one admission rule as written in the policy file.
type Rule struct {
	Name    string `json:"name" yaml:"name"`
	Expr    string `json:"expr" yaml:"expr"`
	Message string `json:"message,omitempty" yaml:"message"`
}

// Input is the data a rule is evaluated against.
type Input struct {
	Pair          string
	Action        string
	EntryPrice    float64
	StopLoss      float64
	TakeProfit    float64
	PositionSize  float64
	RiskPercent   float64
	Simulated     bool
	Level         string
	OpenPositions int
	DailyPnL      float64
	WeeklyPnL     float64
	Now           time.Time
}

func (in Input) activation() map[string]any {
	now := in.Now.UTC()
	return map[string]any{
		"trade": map[string]any{
			"pair":          in.Pair,
			"action":        in.Action,
			"entry_price":   in.EntryPrice,
			"stop_loss":     in.StopLoss,
			"take_profit":   in.TakeProfit,
			"position_size": in.PositionSize,
			"risk_percent":  in.RiskPercent,
			"simulated":     in.Simulated,
		},
		"user": map[string]any{
			"level":          in.Level,
			"open_positions": int64(in.OpenPositions),
			"daily_pnl":      in.DailyPnL,
			"weekly_pnl":     in.WeeklyPnL,
		},
		"clock": map[string]any{
			"hour_utc": int64(now.Hour()),
			"weekday":  int64(now.Weekday()),
		},
	}
}

// Violation names the rule that denied a trade.
type Violation struct {
	Rule    string
	Message string
	Err     error
}

func (v Violation) String() string {
	if v.Err != nil {
		return fmt.Sprintf("rule %q could not be evaluated: %v", v.Rule, v.Err)
	}
	if v.Message != "" {
		return fmt.Sprintf("rule %q: %s", v.Rule, v.Message)
	}
	return fmt.Sprintf("rule %q denied the trade", v.Rule)
}

type compiled struct {
	rule Rule
	prg  cel.Program
}

// Evaluator holds compiled rules. It is safe for concurrent use.
type Evaluator struct {
	rules []compiled
}

// NewEvaluator compiles and type-checks every rule up front.
func NewEvaluator(rules []Rule) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("trade", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("clock", cel.MapType(cel.StringType, cel.IntType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Evaluator{}
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule-%d", i+1)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true

		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", r.Name, issues.Err())
		}
		if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
			return nil, fmt.Errorf("rule %q must evaluate to bool, got %s", r.Name, out)
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("program rule %q: %w", r.Name, err)
		}
		e.rules = append(e.rules, compiled{rule: r, prg: prg})
	}
	return e, nil
}

// Len returns the number of rules.
func (e *Evaluator) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

// Evaluate returns the first violated rule, or nil if every rule holds.
func (e *Evaluator) Evaluate(in Input) *Violation {
	if e == nil {
		return nil
	}
	act := in.activation()
	for _, c := range e.rules {
		out, _, err := c.prg.Eval(act)
		if err != nil {
			return &Violation{Rule: c.rule.Name, Err: fmt.Errorf("eval: %w", err)}
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return &Violation{Rule: c.rule.Name, Err: fmt.Errorf("result not bool")}
		}
		if !ok {
			return &Violation{Rule: c.rule.Name, Message: c.rule.Message}
		}
	}
	return nil
}
