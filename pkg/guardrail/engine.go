// Package guardrail decides whether a trade proposed on a user's behalf may
// reach a broker.
//
// The Engine orchestrates the sanity validator, risk budget, probation,
// anomaly monitor, explain tokens and kill switch over a per-user state
// aggregate. Every operation for a user runs under that user's lock and
// writes back with compare-and-swap, so a concurrent kill switch is always
// seen before a trade is admitted. Policy denials are Decision values, not
// errors.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/asifgondal786/tajir/pkg/anomaly"
	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/budget"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/explain"
	"github.com/asifgondal786/tajir/pkg/observability"
	"github.com/asifgondal786/tajir/pkg/rules"
	"github.com/asifgondal786/tajir/pkg/sanity"
	"github.com/asifgondal786/tajir/pkg/store"
)

var (
	// ErrUserRequired is returned for an empty user id.
	ErrUserRequired = errors.New("guardrail: user id required")
	// ErrTradeNotFound is returned by CloseTrade for an unknown trade id.
	ErrTradeNotFound = errors.New("guardrail: trade not found")
	// ErrTradeClosed is returned by CloseTrade for a trade already closed.
	ErrTradeClosed = errors.New("guardrail: trade already closed")
	// ErrInvalidExitPrice is returned by CloseTrade for a non-positive exit.
	ErrInvalidExitPrice = errors.New("guardrail: exit price must be > 0")
	// ErrInvalidDays is returned by TradingAnalytics for a non-positive window.
	ErrInvalidDays = errors.New("guardrail: days must be > 0")
)

// Config holds the engine-wide defaults applied to users seen for the
// first time, plus deployment switches.
type Config struct {
	DefaultLevel autonomy.Level
	Limits       contracts.RiskLimits
	Budget       contracts.RiskBudget
	Probation    contracts.ProbationPolicy
	Monitor      anomaly.Monitor
	Sanity       sanity.Options
	// MaxRetries bounds compare-and-swap retries after a version conflict.
	MaxRetries int
}

// DefaultConfig returns assisted new users, the default limits, budget,
// probation policy and monitor thresholds.
func DefaultConfig() Config {
	return Config{
		DefaultLevel: autonomy.Assisted,
		Limits:       contracts.DefaultRiskLimits(),
		Budget:       contracts.DefaultRiskBudget(),
		Probation:    contracts.DefaultProbationPolicy(),
		Monitor:      anomaly.Default(),
		MaxRetries:   5,
	}
}

// Validate checks every default.
func (c Config) Validate() error {
	if err := c.Limits.Validate(); err != nil {
		return err
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	if err := c.Probation.Validate(); err != nil {
		return err
	}
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	if c.DefaultLevel < autonomy.Manual || c.DefaultLevel > autonomy.FullAuto {
		return fmt.Errorf("guardrail: invalid default level %d", c.DefaultLevel)
	}
	return nil
}

// Engine is the guardrail orchestrator.
type Engine struct {
	cfg     Config
	repo    store.Repository
	locks   *store.KeyedMutex
	tokens  *explain.Manager
	rules   *rules.Evaluator
	metrics *observability.Metrics
	tracer  trace.Tracer
	clock   func() time.Time
	logger  *slog.Logger
}

// NewEngine creates an engine over repo. tokens may be nil, in which case
// explain tokens are never required.
func NewEngine(repo store.Repository, tokens *explain.Manager, cfg Config) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("guardrail: repository required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Engine{
		cfg:    cfg,
		repo:   repo,
		locks:  store.NewKeyedMutex(),
		tokens: tokens,
		tracer: otel.Tracer("github.com/asifgondal786/tajir/guardrail"),
		clock:  time.Now,
		logger: slog.Default().With("component", "guardrail"),
	}, nil
}

// WithClock overrides clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// SetRules installs operator admission rules evaluated by ValidateTrade.
func (e *Engine) SetRules(r *rules.Evaluator) { e.rules = r }

// SetMetrics installs the metrics recorder.
func (e *Engine) SetMetrics(m *observability.Metrics) { e.metrics = m }

// SetTracer installs the tracer used for per-decision spans.
func (e *Engine) SetTracer(t trace.Tracer) { e.tracer = t }

// SetLogger replaces the engine logger.
func (e *Engine) SetLogger(l *slog.Logger) { e.logger = l.With("component", "guardrail") }

func (e *Engine) fresh(userID string, now time.Time) *store.UserState {
	return &store.UserState{
		UserID:    userID,
		Limits:    e.cfg.Limits,
		Budget:    e.cfg.Budget,
		Probation: e.cfg.Probation,
		Autonomy:  autonomy.New(e.cfg.DefaultLevel, now),
		Ledger:    budget.NewLedger(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// load returns the stored state or the defaults for a new user.
func (e *Engine) load(ctx context.Context, userID string, now time.Time) (*store.UserState, error) {
	st, err := e.repo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", userID, err)
	}
	if st == nil {
		return e.fresh(userID, now), nil
	}
	return st, nil
}

// view loads a user's state without writing anything back.
func (e *Engine) view(ctx context.Context, userID string) (*store.UserState, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, time.Time{}, ErrUserRequired
	}
	now := e.clock()
	st, err := e.load(ctx, userID, now)
	return st, now, err
}

// update runs fn on the user's current state under the user's lock and
// writes the result back with compare-and-swap, retrying fn on a version
// conflict. fn must derive everything from the state it is given.
func (e *Engine) update(ctx context.Context, userID string, fn func(st *store.UserState, now time.Time) error) (*store.UserState, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserRequired
	}
	unlock := e.locks.Lock(userID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := e.clock()
		st, err := e.load(ctx, userID, now)
		if err != nil {
			return nil, err
		}
		before := st.Autonomy
		expected := st.Version

		if err := fn(st, now); err != nil {
			return nil, err
		}
		st.UpdatedAt = now

		err = e.repo.CompareAndSwap(ctx, st, expected)
		if err == nil {
			e.observeTransition(ctx, userID, before, st.Autonomy)
			return st, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("save state for %s: %w", userID, err)
		}
		if attempt >= e.cfg.MaxRetries {
			return nil, fmt.Errorf("save state for %s after %d attempts: %w", userID, attempt, err)
		}
		e.logger.DebugContext(ctx, "state changed underneath, re-evaluating", "user_id", userID, "attempt", attempt)
	}
}

// observeTransition logs and counts level changes and newly entered pauses.
func (e *Engine) observeTransition(ctx context.Context, userID string, before, after autonomy.State) {
	if before.Level != after.Level {
		e.metrics.RecordTransition(ctx, before.Level.String(), after.Level.String(), after.Level > before.Level)
		e.logger.InfoContext(ctx, "autonomy level changed",
			"user_id", userID, "from", before.Level, "to", after.Level)
	}
	if after.Pause == nil {
		if before.Pause != nil {
			e.logger.InfoContext(ctx, "autonomy pause cleared", "user_id", userID, "kind", before.Pause.Kind)
		}
		return
	}
	if before.Pause != nil && before.Pause.Kind == after.Pause.Kind {
		return
	}
	e.metrics.RecordPause(ctx, string(after.Pause.Kind))
	e.logger.WarnContext(ctx, "autonomy paused",
		"user_id", userID, "kind", after.Pause.Kind, "detail", after.Pause.Detail)
}

// span starts a span for op and returns a finisher that records the
// decision outcome and duration.
func (e *Engine) span(ctx context.Context, op, userID string) (context.Context, func(*Decision, error)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "guardrail."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("tajir.user_id", userID)),
	)
	return ctx, func(d *Decision, err error) {
		e.metrics.RecordDuration(ctx, op, time.Since(start))
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.metrics.RecordDecision(ctx, op, string(contracts.ReasonInternal), false)
		case d != nil:
			span.SetAttributes(
				attribute.Bool("tajir.allowed", d.Allowed),
				attribute.String("tajir.code", string(d.Code)),
			)
			e.metrics.RecordDecision(ctx, op, string(d.Code), d.Allowed)
			if !d.Allowed {
				e.logger.InfoContext(ctx, "trade denied",
					"operation", op, "user_id", userID, "code", d.Code, "reason", d.Reason)
			}
		}
		span.End()
	}
}
