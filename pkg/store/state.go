// Package store persists the per-user guardrail state.
//
// All of a user's governance data lives in one UserState aggregate that is
// read, mutated and written back with compare-and-swap on its version.
// Callers serialize work per user with a KeyedMutex; the version check
// catches writers in other processes.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/budget"
	"github.com/asifgondal786/tajir/pkg/contracts"
)

// ErrVersionConflict is returned by CompareAndSwap when the stored version
// is not the expected one.
var ErrVersionConflict = errors.New("user state version conflict")

// MaxDenials bounds the denial receipts kept per user.
const MaxDenials = 50

// UserState is everything the engine knows about one user.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type UserState struct {
	UserID  string `json:"user_id"`
	Version int64  `json:"version"`

	Limits    contracts.RiskLimits      `json:"limits"`
	Budget    contracts.RiskBudget      `json:"budget"`
	Probation contracts.ProbationPolicy `json:"probation"`

	Autonomy autonomy.State             `json:"autonomy"`
	Ledger   budget.Ledger              `json:"ledger"`
	Trades   []contracts.TradeExecution `json:"trades"`
	Denials  []contracts.DenialReceipt  `json:"denials,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (u *UserState) Clone() (*UserState, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("clone user state: %w", err)
	}
	var out UserState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone user state: %w", err)
	}
	return &out, nil
}

// OpenPositions counts trades still exposed to the market.
func (u *UserState) OpenPositions() int {
	n := 0
	for _, t := range u.Trades {
		if t.Live() {
			n++
		}
	}
	return n
}

// Trade returns the trade with the given id.
func (u *UserState) Trade(id string) (*contracts.TradeExecution, bool) {
	for i := range u.Trades {
		if u.Trades[i].ID == id {
			return &u.Trades[i], true
		}
	}
	return nil, false
}

// RecordDenial appends a receipt, dropping the oldest beyond MaxDenials.
func (u *UserState) RecordDenial(r contracts.DenialReceipt) {
	u.Denials = append(u.Denials, r)
	if n := len(u.Denials); n > MaxDenials {
		u.Denials = append([]contracts.DenialReceipt(nil), u.Denials[n-MaxDenials:]...)
	}
}

// Repository stores UserState aggregates.
type Repository interface {
	// Get returns nil, nil for an unknown user.
	Get(ctx context.Context, userID string) (*UserState, error)
	// Put writes st unconditionally, keeping st.Version.
	Put(ctx context.Context, st *UserState) error
	// CompareAndSwap writes st only if the stored version equals expected
	// (0 meaning "not stored yet") and then sets st.Version to expected+1.
	CompareAndSwap(ctx context.Context, st *UserState, expected int64) error
}

func encode(st *UserState) ([]byte, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode user state %q: %w", st.UserID, err)
	}
	return raw, nil
}

func decode(raw []byte, version int64) (*UserState, error) {
	var st UserState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode user state: %w", err)
	}
	st.Version = version
	return &st, nil
}
