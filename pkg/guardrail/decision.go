package guardrail

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/asifgondal786/tajir/pkg/anomaly"
	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/budget"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/percent"
	"github.com/asifgondal786/tajir/pkg/probation"
	"github.com/asifgondal786/tajir/pkg/store"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool                 `json:"allowed"`
	Code    contracts.ReasonCode `json:"code"`
	Reason  string               `json:"reason"`
	// ReceiptID identifies the denial receipt. Empty when admitted.
	ReceiptID string           `json:"receipt_id,omitempty"`
	Context   *DecisionContext `json:"context,omitempty"`
}

// Category classifies the decision's reason code.
func (d Decision) Category() contracts.Category { return d.Code.Category() }

// DecisionContext carries what an explanation UI needs to justify a
// decision. Fields after the failing step are left empty.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type DecisionContext struct {
	Level           autonomy.Level    `json:"level"`
	Paused          bool              `json:"paused"`
	Pause           *autonomy.Pause   `json:"pause,omitempty"`
	Budget          budget.Assessment `json:"budget"`
	Probation       *probation.Result `json:"probation,omitempty"`
	RiskPercent     *percent.Percent  `json:"risk_percent,omitempty"`
	MaxRiskPerTrade percent.Percent   `json:"max_risk_per_trade"`
	Anomaly         *anomaly.Result   `json:"anomaly,omitempty"`
}

func admit(reason string, dc *DecisionContext) Decision {
	return Decision{Allowed: true, Code: contracts.ReasonAdmitted, Reason: reason, Context: dc}
}

func deny(code contracts.ReasonCode, reason string, dc *DecisionContext) Decision {
	return Decision{Code: code, Reason: reason, Context: dc}
}

func denyf(code contracts.ReasonCode, dc *DecisionContext, format string, args ...any) Decision {
	return deny(code, fmt.Sprintf(format, args...), dc)
}

// pauseCode maps the active pause to its reason code.
func pauseCode(p *autonomy.Pause) contracts.ReasonCode {
	switch p.Kind {
	case autonomy.PauseKillSwitch:
		return contracts.ReasonKillSwitch
	case autonomy.PauseBudget:
		return contracts.ReasonBudgetBreached
	case autonomy.PauseAnomaly:
		return contracts.ReasonPaused
	default:
		return contracts.ReasonPaused
	}
}

// receipt records a denial on the user's state and stamps its id on d.
func receipt(st *store.UserState, op string, p contracts.TradeProposal, d *Decision, now time.Time) {
	if d.Allowed {
		return
	}
	r := contracts.DenialReceipt{
		ReceiptID: uuid.NewString(),
		DeniedAt:  now,
		UserID:    st.UserID,
		Operation: op,
		Code:      d.Code,
		Category:  d.Code.Category(),
		Reason:    d.Reason,
		Pair:      p.Pair,
		Action:    p.Action,
		Simulated: p.Simulated,
	}
	hashInput := fmt.Sprintf("%s:%s:%s:%s:%s:%s:%s", r.ReceiptID, r.UserID, op, r.Code, r.Reason, r.Pair, r.Action)
	h := sha256.Sum256([]byte(hashInput))
	r.ContentHash = "sha256:" + hex.EncodeToString(h[:])

	st.RecordDenial(r)
	d.ReceiptID = r.ReceiptID
}
