// Package explain implements the explain-before-execute hand-off.
//
// A token is issued only after the guard admitted a live trade. It is bound
// to the user and to a fingerprint of the proposal, expires after a TTL and
// can be consumed exactly once.
package explain

import (
	"context"
	"errors"
	"time"

	"github.com/asifgondal786/tajir/pkg/contracts"
)

// Consume failures, in the order they are checked.
var (
	ErrTokenMissing             = errors.New("explain token missing")
	ErrTokenUnknown             = errors.New("explain token unknown")
	ErrTokenUsed                = errors.New("explain token already used")
	ErrTokenExpired             = errors.New("explain token expired")
	ErrTokenUserMismatch        = errors.New("explain token issued to another user")
	ErrTokenFingerprintMismatch = errors.New("explain token does not match proposal")

	// ErrIssueRateLimited is returned when a user requests tokens too quickly.
	ErrIssueRateLimited = errors.New("explain token issuance rate limited")
)

// ReasonFor maps a Consume error to its reason code. Other errors map to
// ReasonInternal.
func ReasonFor(err error) contracts.ReasonCode {
	switch {
	case errors.Is(err, ErrTokenMissing):
		return contracts.ReasonTokenMissing
	case errors.Is(err, ErrTokenUnknown):
		return contracts.ReasonTokenUnknown
	case errors.Is(err, ErrTokenUsed):
		return contracts.ReasonTokenUsed
	case errors.Is(err, ErrTokenExpired):
		return contracts.ReasonTokenExpired
	case errors.Is(err, ErrTokenUserMismatch):
		return contracts.ReasonTokenUserMismatch
	case errors.Is(err, ErrTokenFingerprintMismatch):
		return contracts.ReasonTokenFingerprintMismatch
	default:
		return contracts.ReasonInternal
	}
}

// Token is the stored record behind an issued token string.
type Token struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Fingerprint string     `json:"fingerprint"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Used        bool       `json:"used"`
	UsedAt      *time.Time `json:"used_at,omitempty"`
}

// Store persists token records indexed by id.
type Store interface {
	Put(ctx context.Context, tok Token) error
	// Get returns nil, nil for an unknown id.
	Get(ctx context.Context, id string) (*Token, error)
	// MarkUsed flips Used from false to true atomically. It returns false
	// if the token is unknown or was already used.
	MarkUsed(ctx context.Context, id string, at time.Time) (bool, error)
	// Prune drops tokens that expired before the cutoff.
	Prune(ctx context.Context, before time.Time) (int, error)
}
