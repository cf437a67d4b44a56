// Package killswitch halts a user's autonomous trading immediately.
package killswitch

import (
	"errors"
	"time"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/budget"
	"github.com/asifgondal786/tajir/pkg/contracts"
)

// ErrNotActive is returned by Reactivate when no kill switch is engaged.
var ErrNotActive = errors.New("kill switch is not active")

const (
	// Reason is the fixed pause detail written by Activate.
	Reason = "activated by user"
	// EmergencyReason is written on every trade Activate marks.
	EmergencyReason = "kill switch"
)

// Result summarizes an activation.
type Result struct {
	ActivatedAt  time.Time      `json:"activated_at"`
	Level        autonomy.Level `json:"level"`
	TradesMarked []string       `json:"trades_marked"`
}

// Activate pauses the user, caps the level at assisted, marks every open
// trade for emergency closure and flags today's stats. It cannot fail.
func Activate(st *autonomy.State, trades []contracts.TradeExecution, ledger *budget.Ledger, now time.Time) Result {
	st.SetPause(autonomy.PauseKillSwitch, Reason, nil, now)
	st.Demote(autonomy.Assisted, "kill switch", now)

	res := Result{ActivatedAt: now, Level: st.Level, TradesMarked: []string{}}
	for i := range trades {
		if trades[i].Status != contracts.TradeOpen {
			continue
		}
		trades[i].Status = contracts.TradeEmergencyClose
		trades[i].Reason = EmergencyReason
		res.TradesMarked = append(res.TradesMarked, trades[i].ID)
	}
	ledger.MarkKillSwitch(now)
	return res
}

// Reactivate lifts a kill-switch pause. The level stays where Activate left it.
func Reactivate(st *autonomy.State, now time.Time) error {
	if !st.ClearPause(autonomy.PauseKillSwitch, now) {
		return ErrNotActive
	}
	return nil
}
