// Package autonomy holds the per-user autonomy level and pause state.
//
// Levels are ordered manual < assisted < guarded_auto < full_auto. Pausing is
// orthogonal to the level: a paused user keeps their level but no live trade
// is admitted until the pause clears.
package autonomy

import (
	"fmt"
	"strings"
)

// Level is how much the automation may do without the user.
type Level int

const (
	// Manual: the user places every trade; nothing live is automated.
	Manual Level = iota
	// Assisted: execution permitted, every trade re-checked against all gates.
	Assisted
	// GuardedAuto: autonomous execution inside the configured limits.
	GuardedAuto
	// FullAuto: autonomous execution earned by a strong paper record.
	FullAuto
)

// String implements fmt.Stringer for Level.
func (l Level) String() string {
	switch l {
	case Manual:
		return "manual"
	case Assisted:
		return "assisted"
	case GuardedAuto:
		return "guarded_auto"
	case FullAuto:
		return "full_auto"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

// ParseLevel parses the String form of a level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual":
		return Manual, nil
	case "assisted":
		return Assisted, nil
	case "guarded_auto":
		return GuardedAuto, nil
	case "full_auto":
		return FullAuto, nil
	}
	return Manual, fmt.Errorf("unknown autonomy level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if l < Manual || l > FullAuto {
		return nil, fmt.Errorf("invalid autonomy level %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	v, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// minLevel returns the lower of two levels.
func minLevel(a, b Level) Level {
	if a < b {
		return a
	}
	return b
}
