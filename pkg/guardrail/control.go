package guardrail

import (
	"context"
	"fmt"
	"time"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/budget"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/killswitch"
	"github.com/asifgondal786/tajir/pkg/probation"
	"github.com/asifgondal786/tajir/pkg/store"
)

// ActivateKillSwitch halts all trading for the user. It has no
// preconditions; only a storage failure can make it fail.
func (e *Engine) ActivateKillSwitch(ctx context.Context, userID string) (killswitch.Result, error) {
	var res killswitch.Result
	_, err := e.update(ctx, userID, func(st *store.UserState, now time.Time) error {
		res = killswitch.Activate(&st.Autonomy, st.Trades, &st.Ledger, now)
		return nil
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "kill switch activation failed", "user_id", userID, "error", err)
		return killswitch.Result{}, err
	}
	e.metrics.RecordKillSwitch(ctx)
	e.logger.WarnContext(ctx, "kill switch activated",
		"user_id", userID, "level", res.Level, "trades_marked", len(res.TradesMarked))
	return res, nil
}

// Reactivate lifts a kill switch. It returns killswitch.ErrNotActive when
// none is engaged.
func (e *Engine) Reactivate(ctx context.Context, userID string) (Snapshot, error) {
	st, err := e.update(ctx, userID, func(st *store.UserState, now time.Time) error {
		return killswitch.Reactivate(&st.Autonomy, now)
	})
	if err != nil {
		return Snapshot{}, err
	}
	e.logger.InfoContext(ctx, "kill switch reactivated", "user_id", userID)
	return snapshotOf(st, e.clock()), nil
}

// EvaluateProbation runs probation against summary outside a trade check.
// It is how a manual user earns autonomy.
func (e *Engine) EvaluateProbation(ctx context.Context, userID string, summary contracts.PaperSummary) (probation.Result, error) {
	var res probation.Result
	_, err := e.update(ctx, userID, func(st *store.UserState, now time.Time) error {
		var err error
		res, err = probation.Evaluate(st.Probation, summary)
		if err != nil {
			return err
		}
		probation.Apply(&st.Autonomy, res, now)
		return nil
	})
	if err != nil {
		return probation.Result{}, err
	}
	return res, nil
}

// GuardrailConfig is a partial update of a user's guardrails. Nil fields
// are left unchanged.
type GuardrailConfig struct {
	Probation *contracts.ProbationPolicy `json:"probation,omitempty" yaml:"probation"`
	Budget    *contracts.RiskBudget      `json:"risk_budget,omitempty" yaml:"risk_budget"`
	// Level is an administrative override. Raising the level this way must
	// be confirmed by the next probation evaluation.
	Level *autonomy.Level `json:"level,omitempty" yaml:"level"`
}

// Validate checks every field that is set.
func (c GuardrailConfig) Validate() error {
	if c.Probation != nil {
		if err := c.Probation.Validate(); err != nil {
			return err
		}
	}
	if c.Budget != nil {
		if err := c.Budget.Validate(); err != nil {
			return err
		}
	}
	if c.Level != nil && (*c.Level < autonomy.Manual || *c.Level > autonomy.FullAuto) {
		return fmt.Errorf("guardrail: invalid level %d", *c.Level)
	}
	return nil
}

// ConfigureGuardrails applies cfg to the user. A new budget is applied to
// the current ledger straight away.
func (e *Engine) ConfigureGuardrails(ctx context.Context, userID string, cfg GuardrailConfig) (Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return Snapshot{}, err
	}
	st, err := e.update(ctx, userID, func(st *store.UserState, now time.Time) error {
		if cfg.Probation != nil {
			st.Probation = *cfg.Probation
		}
		if cfg.Level != nil {
			st.Autonomy.Override(*cfg.Level, now)
		}
		if cfg.Budget != nil {
			st.Budget = *cfg.Budget
			budget.Apply(&st.Autonomy, st.Ledger.Check(st.Budget, now), now)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	e.logger.InfoContext(ctx, "guardrails configured",
		"user_id", userID,
		"probation", cfg.Probation != nil, "budget", cfg.Budget != nil, "level", cfg.Level != nil)
	return snapshotOf(st, e.clock()), nil
}

// ConfigureRiskLimits replaces the user's hard trade limits.
func (e *Engine) ConfigureRiskLimits(ctx context.Context, userID string, limits contracts.RiskLimits) (Snapshot, error) {
	if err := limits.Validate(); err != nil {
		return Snapshot{}, err
	}
	st, err := e.update(ctx, userID, func(st *store.UserState, _ time.Time) error {
		st.Limits = limits
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(st, e.clock()), nil
}

// Snapshot is the read-only view of a user's guardrails.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Snapshot struct {
	UserID          string                    `json:"user_id"`
	Version         int64                     `json:"version"`
	Level           autonomy.Level            `json:"level"`
	ProbationPassed bool                      `json:"probation_passed"`
	OverridePending bool                      `json:"override_pending"`
	Paused          bool                      `json:"paused"`
	Pause           *autonomy.Pause           `json:"pause,omitempty"`
	Ceiling         *autonomy.Level           `json:"ceiling,omitempty"`
	KillSwitch      bool                      `json:"kill_switch_active"`
	Limits          contracts.RiskLimits      `json:"limits"`
	Budget          contracts.RiskBudget      `json:"risk_budget"`
	Probation       contracts.ProbationPolicy `json:"probation"`
	BudgetStatus    budget.Assessment         `json:"budget_status"`
	OpenPositions   int                       `json:"open_positions"`
	ConsensusWindow []float64                 `json:"consensus_window"`
	Transitions     []autonomy.Transition     `json:"transitions"`
}

func snapshotOf(st *store.UserState, now time.Time) Snapshot {
	s := st.Autonomy
	return Snapshot{
		UserID:          st.UserID,
		Version:         st.Version,
		Level:           s.Level,
		ProbationPassed: s.ProbationPassed,
		OverridePending: s.OverridePending,
		Paused:          s.Paused(),
		Pause:           s.Pause,
		Ceiling:         s.Ceiling,
		KillSwitch:      s.PausedBy(autonomy.PauseKillSwitch),
		Limits:          st.Limits,
		Budget:          st.Budget,
		Probation:       st.Probation,
		BudgetStatus:    st.Ledger.Check(st.Budget, now),
		OpenPositions:   st.OpenPositions(),
		ConsensusWindow: append([]float64{}, s.Window...),
		Transitions:     append([]autonomy.Transition{}, s.Transitions...),
	}
}

// GetGuardrails returns the user's current guardrails without changing
// anything. Unknown users get the defaults.
func (e *Engine) GetGuardrails(ctx context.Context, userID string) (Snapshot, error) {
	st, now, err := e.view(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(st, now), nil
}

// Denials returns the user's most recent denial receipts, newest first.
// limit <= 0 returns all that are kept.
func (e *Engine) Denials(ctx context.Context, userID string, limit int) ([]contracts.DenialReceipt, error) {
	st, _, err := e.view(ctx, userID)
	if err != nil {
		return nil, err
	}
	n := len(st.Denials)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]contracts.DenialReceipt, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, st.Denials[i])
	}
	return out, nil
}
