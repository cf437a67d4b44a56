package autonomy

import "time"

// PauseKind tags why a user is paused. Each kind has its own clearing rule.
type PauseKind string

const (
	// PauseBudget clears when the offending budget metric recovers.
	PauseBudget PauseKind = "budget"
	// PauseAnomaly clears once Pause.Until has passed.
	PauseAnomaly PauseKind = "anomaly"
	// PauseKillSwitch only clears through an explicit reactivation.
	PauseKillSwitch PauseKind = "kill_switch"
)

// rank orders pause kinds by strength; a weaker pause never replaces a stronger one.
func (k PauseKind) rank() int {
	switch k {
	case PauseAnomaly:
		return 1
	case PauseBudget:
		return 2
	case PauseKillSwitch:
		return 3
	default:
		return 0
	}
}

// Pause is the active pause, if any.
type Pause struct {
	Kind   PauseKind  `json:"kind"`
	Detail string     `json:"detail"`
	Since  time.Time  `json:"since"`
	Until  *time.Time `json:"until,omitempty"`
}

// Reason renders the pause for denials.
func (p Pause) Reason() string {
	return string(p.Kind) + ": " + p.Detail
}

// BudgetStatus is the last budget classification seen for the user.
type BudgetStatus string

// Budget statuses.
const (
	BudgetWithin   BudgetStatus = "within"
	BudgetNear     BudgetStatus = "near"
	BudgetBreached BudgetStatus = "breached"
)

// MaxTransitions bounds the transition history kept per user.
const MaxTransitions = 20

// Transition records one level change.
type Transition struct {
	From  Level     `json:"from"`
	To    Level     `json:"to"`
	Cause string    `json:"cause"`
	At    time.Time `json:"at"`
}

// State is the autonomy state of a single user.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type State struct {
	Level           Level     `json:"level"`
	ProbationPassed bool      `json:"probation_passed"`
	Pause           *Pause    `json:"pause,omitempty"`
	Window          []float64 `json:"consensus_window,omitempty"`

	BudgetStatus BudgetStatus `json:"budget_status"`
	// Ceiling caps probation promotions while the budget is near its limit.
	Ceiling *Level `json:"ceiling,omitempty"`
	// OverridePending is set by an upward administrative override until
	// the next probation evaluation confirms it.
	OverridePending bool `json:"override_pending"`

	Transitions []Transition `json:"transitions,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// New returns the state of a user seen for the first time.
func New(level Level, now time.Time) State {
	return State{Level: level, BudgetStatus: BudgetWithin, UpdatedAt: now}
}

// Paused reports whether any pause is active.
func (s *State) Paused() bool { return s.Pause != nil }

// PausedBy reports whether the active pause has the given kind.
func (s *State) PausedBy(kind PauseKind) bool {
	return s.Pause != nil && s.Pause.Kind == kind
}

// CanExecuteLive reports whether a live trade could be admitted at all.
func (s *State) CanExecuteLive() (bool, string) {
	if s.Pause != nil {
		return false, "paused by " + s.Pause.Reason()
	}
	if s.Level == Manual {
		return false, "autonomy level is manual"
	}
	return true, ""
}

func (s *State) setLevel(to Level, cause string, now time.Time) {
	if to == s.Level {
		return
	}
	s.Transitions = append(s.Transitions, Transition{From: s.Level, To: to, Cause: cause, At: now})
	if n := len(s.Transitions); n > MaxTransitions {
		s.Transitions = s.Transitions[n-MaxTransitions:]
	}
	s.Level = to
	s.UpdatedAt = now
}

// Promote raises the level to at most `to`, capped by Ceiling. It never lowers
// the level and reports whether anything changed.
func (s *State) Promote(to Level, cause string, now time.Time) bool {
	if s.Ceiling != nil {
		to = minLevel(to, *s.Ceiling)
	}
	if to <= s.Level {
		return false
	}
	s.setLevel(to, cause, now)
	return true
}

// Demote lowers the level to `to`. It never raises the level.
func (s *State) Demote(to Level, cause string, now time.Time) bool {
	if to >= s.Level {
		return false
	}
	s.setLevel(to, cause, now)
	return true
}

// Override sets the level administratively. Raising the level this way
// requires the next probation evaluation to confirm it.
func (s *State) Override(to Level, now time.Time) {
	if to > s.Level {
		s.OverridePending = true
		s.ProbationPassed = false
	}
	s.setLevel(to, "administrative override", now)
}

// SetPause installs a pause unless a stronger one is already active.
// A pause of equal strength refreshes detail and expiry.
func (s *State) SetPause(kind PauseKind, detail string, until *time.Time, now time.Time) bool {
	if s.Pause != nil && s.Pause.Kind.rank() > kind.rank() {
		return false
	}
	since := now
	if s.Pause != nil && s.Pause.Kind == kind {
		since = s.Pause.Since
	}
	s.Pause = &Pause{Kind: kind, Detail: detail, Since: since, Until: until}
	s.UpdatedAt = now
	return true
}

// ClearPause removes the active pause if it has the given kind.
func (s *State) ClearPause(kind PauseKind, now time.Time) bool {
	if !s.PausedBy(kind) {
		return false
	}
	s.Pause = nil
	s.UpdatedAt = now
	return true
}

// LiftExpired clears a pause whose time-based expiry has passed.
// Only anomaly pauses expire.
func (s *State) LiftExpired(now time.Time) bool {
	if s.Pause == nil {
		return false
	}
	switch s.Pause.Kind {
	case PauseAnomaly:
		if s.Pause.Until != nil && !now.Before(*s.Pause.Until) {
			return s.ClearPause(PauseAnomaly, now)
		}
		return false
	case PauseBudget, PauseKillSwitch:
		return false
	default:
		return false
	}
}
