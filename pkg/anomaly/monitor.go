// Package anomaly watches market-intelligence snapshots for thin-coverage
// volatility and consensus drift, and pauses autonomy when either appears.
package anomaly

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/contracts"
)

// Kind is what the monitor found.
type Kind string

const (
	KindNone    Kind = "none"
	KindAnomaly Kind = "anomaly"
	KindDrift   Kind = "drift"
	KindInvalid Kind = "invalid_snapshot"
)

// Monitor holds the detection thresholds. The zero value is not usable;
// start from Default.
type Monitor struct {
	WindowSize           int           `yaml:"window_size"`
	MinDriftObservations int           `yaml:"min_drift_observations"`
	DriftRange           float64       `yaml:"drift_range"`
	CoverageFloor        float64       `yaml:"coverage_floor"`
	PauseFor             time.Duration `yaml:"pause_for"`
}

// Default returns window 8, drift after 4 observations spanning 0.28,
// coverage floor 0.45 and a two hour pause.
func Default() Monitor {
	return Monitor{
		WindowSize:           8,
		MinDriftObservations: 4,
		DriftRange:           0.28,
		CoverageFloor:        0.45,
		PauseFor:             2 * time.Hour,
	}
}

// Validate rejects thresholds that would disable or invert detection.
func (m Monitor) Validate() error {
	switch {
	case m.WindowSize <= 0:
		return fmt.Errorf("anomaly: window_size must be > 0")
	case m.MinDriftObservations < 2 || m.MinDriftObservations > m.WindowSize:
		return fmt.Errorf("anomaly: min_drift_observations must be in [2, window_size]")
	case m.DriftRange <= 0 || m.DriftRange > 1:
		return fmt.Errorf("anomaly: drift_range must be in (0, 1]")
	case m.CoverageFloor < 0 || m.CoverageFloor > 1:
		return fmt.Errorf("anomaly: coverage_floor must be in [0, 1]")
	case m.PauseFor <= 0:
		return fmt.Errorf("anomaly: pause_for must be > 0")
	}
	return nil
}

// Result is the outcome of Observe.
type Result struct {
	Kind         Kind                 `json:"kind"`
	Code         contracts.ReasonCode `json:"code,omitempty"`
	Reason       string               `json:"reason"`
	Range        float64              `json:"range"`
	Observations int                  `json:"observations"`
	Confidence   string               `json:"confidence"`
	PauseUntil   *time.Time           `json:"pause_until,omitempty"`
}

// Triggered reports whether the snapshot must block the trade.
func (r Result) Triggered() bool { return r.Kind != KindNone }

func validSnapshot(s contracts.MarketSnapshot) error {
	switch {
	case s.ConsensusScore < 0 || s.ConsensusScore > 1:
		return fmt.Errorf("consensus score %g outside [0, 1]", s.ConsensusScore)
	case s.CoverageRatio < 0 || s.CoverageRatio > 1:
		return fmt.Errorf("coverage ratio %g outside [0, 1]", s.CoverageRatio)
	}
	switch s.Volatility {
	case contracts.VolatilityLow, contracts.VolatilityMedium, contracts.VolatilityHigh:
		return nil
	}
	return fmt.Errorf("unknown volatility %q", s.Volatility)
}

// Observe appends the snapshot's consensus to the user's window and checks
// for anomaly, then drift. On either it pauses the user until now+PauseFor
// and demotes full_auto to guarded_auto. An invalid snapshot is reported
// without touching the state.
func (m Monitor) Observe(st *autonomy.State, snap contracts.MarketSnapshot, now time.Time) Result {
	if err := validSnapshot(snap); err != nil {
		return Result{Kind: KindInvalid, Code: contracts.ReasonInvalidSnapshot, Reason: "invalid market snapshot: " + err.Error()}
	}

	st.Window = append(st.Window, snap.ConsensusScore)
	if n := len(st.Window); n > m.WindowSize {
		st.Window = append([]float64(nil), st.Window[n-m.WindowSize:]...)
	}

	r := Result{
		Kind:         KindNone,
		Observations: len(st.Window),
		Range:        spread(st.Window),
		Confidence:   snap.Confidence(),
	}

	switch {
	case snap.Volatility == contracts.VolatilityHigh && snap.CoverageRatio < m.CoverageFloor:
		r.Kind = KindAnomaly
		r.Code = contracts.ReasonAnomaly
		r.Reason = fmt.Sprintf("high volatility with source coverage %.2f below %.2f", snap.CoverageRatio, m.CoverageFloor)
	case r.Observations >= m.MinDriftObservations && atLeast(r.Range, m.DriftRange):
		r.Kind = KindDrift
		r.Code = contracts.ReasonDrift
		r.Reason = fmt.Sprintf("consensus drifted by %.2f over %d observations", r.Range, r.Observations)
	default:
		r.Reason = "market conditions nominal"
		return r
	}

	until := now.Add(m.PauseFor)
	r.PauseUntil = &until
	st.SetPause(autonomy.PauseAnomaly, r.Reason, &until, now)
	st.Demote(autonomy.GuardedAuto, string(r.Kind)+": "+r.Reason, now)
	return r
}

// spread returns max-min of the window, computed in decimal so that a
// range of exactly the threshold compares as equal.
func spread(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	lo, hi := window[0], window[0]
	for _, v := range window[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	f, _ := decimal.NewFromFloat(hi).Sub(decimal.NewFromFloat(lo)).Float64()
	return f
}

func atLeast(v, threshold float64) bool {
	return decimal.NewFromFloat(v).GreaterThanOrEqual(decimal.NewFromFloat(threshold))
}
