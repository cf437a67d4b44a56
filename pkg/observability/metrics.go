package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records guardrail outcomes. A nil *Metrics records nothing.
type Metrics struct {
	decisions    metric.Int64Counter
	pauses       metric.Int64Counter
	killSwitches metric.Int64Counter
	tokens       metric.Int64Counter
	transitions  metric.Int64Counter
	duration     metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.decisions, err = meter.Int64Counter("tajir.guardrail.decisions",
		metric.WithDescription("Guardrail decisions by operation and reason code"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return nil, err
	}
	if m.pauses, err = meter.Int64Counter("tajir.autonomy.pauses",
		metric.WithDescription("Autonomy pauses entered, by kind"),
		metric.WithUnit("{pause}"),
	); err != nil {
		return nil, err
	}
	if m.killSwitches, err = meter.Int64Counter("tajir.killswitch.activations",
		metric.WithDescription("Kill switch activations"),
		metric.WithUnit("{activation}"),
	); err != nil {
		return nil, err
	}
	if m.tokens, err = meter.Int64Counter("tajir.explain.tokens",
		metric.WithDescription("Explain token issues and consumes, by outcome"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("tajir.autonomy.transitions",
		metric.WithDescription("Autonomy level changes, by direction"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("tajir.guardrail.duration",
		metric.WithDescription("Guardrail evaluation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordDecision counts one decision.
func (m *Metrics) RecordDecision(ctx context.Context, op, code string, allowed bool) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("code", code),
		attribute.Bool("allowed", allowed),
	))
}

// RecordPause counts a pause of the given kind.
func (m *Metrics) RecordPause(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.pauses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordKillSwitch counts a kill switch activation.
func (m *Metrics) RecordKillSwitch(ctx context.Context) {
	if m == nil {
		return
	}
	m.killSwitches.Add(ctx, 1)
}

// RecordToken counts a token event; action is "issue" or "consume".
func (m *Metrics) RecordToken(ctx context.Context, action, outcome string) {
	if m == nil {
		return
	}
	m.tokens.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// RecordTransition counts a level change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string, up bool) {
	if m == nil {
		return
	}
	dir := "down"
	if up {
		dir = "up"
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
		attribute.String("direction", dir),
	))
}

// RecordDuration records how long op took.
func (m *Metrics) RecordDuration(ctx context.Context, op string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("operation", op)))
}
