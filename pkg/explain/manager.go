package explain

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/time/rate"

	"github.com/asifgondal786/tajir/pkg/contracts"
)

const issuer = "tajir"

// Config configures a Manager.
type Config struct {
	Enabled bool
	TTL     time.Duration
	// Retention keeps expired tokens around so that late consumers get
	// ErrTokenExpired instead of ErrTokenUnknown.
	Retention time.Duration
	// Secret seeds the signing key. Empty means a random per-process key.
	Secret []byte
	// IssueRate and IssueBurst bound issuance per user. A zero rate disables the limit.
	IssueRate  rate.Limit
	IssueBurst int
}

// DefaultConfig returns tokens enabled, a 300s TTL and 30 issues per minute.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		TTL:        300 * time.Second,
		Retention:  time.Hour,
		IssueRate:  rate.Every(2 * time.Second),
		IssueBurst: 10,
	}
}

// IssueStatus is the outcome of Issue.
type IssueStatus string

const (
	StatusNotRequired       IssueStatus = "not_required"
	StatusRequiredNotIssued IssueStatus = "required_not_issued"
	StatusIssued            IssueStatus = "issued"
)

// Issued is returned by Issue.
type Issued struct {
	Status      IssueStatus   `json:"status"`
	Token       string        `json:"token,omitempty"`
	TokenID     string        `json:"token_id,omitempty"`
	Fingerprint string        `json:"fingerprint,omitempty"`
	ExpiresAt   time.Time     `json:"expires_at,omitempty"`
	TTL         time.Duration `json:"ttl,omitempty"`
}

type tokenClaims struct {
	Fingerprint string `json:"fph"`
	jwt.RegisteredClaims
}

// Manager issues and consumes explain tokens.
type Manager struct {
	store  Store
	cfg    Config
	key    []byte
	clock  func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastPrune time.Time
}

// NewManager derives the signing key and returns a Manager.
func NewManager(store Store, cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("explain: ttl must be > 0, got %s", cfg.TTL)
	}
	key, err := deriveKey(cfg.Secret)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:    store,
		cfg:      cfg,
		key:      key,
		clock:    time.Now,
		logger:   slog.Default().With("component", "explain"),
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// WithClock overrides clock for testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Enabled reports whether tokens are required for live trades.
func (m *Manager) Enabled() bool { return m.cfg.Enabled }

func deriveKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("explain: generate secret: %w", err)
		}
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("tajir explain-token v1")), key); err != nil {
		return nil, fmt.Errorf("explain: derive signing key: %w", err)
	}
	return key, nil
}

func (m *Manager) allow(userID string, now time.Time) bool {
	if m.cfg.IssueRate == 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[userID]
	if !ok {
		l = rate.NewLimiter(m.cfg.IssueRate, m.cfg.IssueBurst)
		m.limiters[userID] = l
	}
	return l.AllowN(now, 1)
}

// Issue returns a token for a live proposal the guard admitted.
func (m *Manager) Issue(ctx context.Context, userID string, p contracts.TradeProposal, guardPassed bool) (Issued, error) {
	if p.Simulated || !m.cfg.Enabled {
		return Issued{Status: StatusNotRequired}, nil
	}
	if !guardPassed {
		return Issued{Status: StatusRequiredNotIssued}, nil
	}

	now := m.clock()
	if !m.allow(userID, now) {
		return Issued{Status: StatusRequiredNotIssued}, ErrIssueRateLimited
	}
	m.maybePrune(ctx, now)

	fp, err := Fingerprint(p)
	if err != nil {
		return Issued{}, err
	}
	tok := Token{
		ID:          uuid.NewString(),
		UserID:      userID,
		Fingerprint: fp,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.cfg.TTL),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Fingerprint: fp,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tok.ID,
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(tok.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(tok.ExpiresAt),
		},
	}).SignedString(m.key)
	if err != nil {
		return Issued{}, fmt.Errorf("sign explain token: %w", err)
	}

	if err := m.store.Put(ctx, tok); err != nil {
		return Issued{}, err
	}
	return Issued{
		Status:      StatusIssued,
		Token:       signed,
		TokenID:     tok.ID,
		Fingerprint: fp,
		ExpiresAt:   tok.ExpiresAt,
		TTL:         m.cfg.TTL,
	}, nil
}

// Consume checks the token against the user and proposal and marks it used.
func (m *Manager) Consume(ctx context.Context, userID string, p contracts.TradeProposal, token string) (*Token, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMissing
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil || claims.ID == "" {
		return nil, fmt.Errorf("%w: unparseable or foreign token", ErrTokenUnknown)
	}

	rec, err := m.store.Get(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("load explain token: %w", err)
	}
	if rec == nil {
		return nil, ErrTokenUnknown
	}
	if rec.Used {
		return nil, ErrTokenUsed
	}
	now := m.clock()
	if !now.Before(rec.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	if rec.UserID != userID {
		m.logger.WarnContext(ctx, "explain token presented by another user",
			"token_id", rec.ID, "owner", rec.UserID, "presenter", userID)
		return nil, ErrTokenUserMismatch
	}
	fp, err := Fingerprint(p)
	if err != nil {
		return nil, err
	}
	if fp != rec.Fingerprint {
		m.logger.WarnContext(ctx, "explain token fingerprint mismatch",
			"token_id", rec.ID, "user_id", userID)
		return nil, ErrTokenFingerprintMismatch
	}

	ok, err := m.store.MarkUsed(ctx, rec.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTokenUsed
	}
	rec.Used = true
	rec.UsedAt = &now
	return rec, nil
}

// Prune drops tokens expired for longer than the retention window.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	return m.store.Prune(ctx, m.clock().Add(-m.cfg.Retention))
}

func (m *Manager) maybePrune(ctx context.Context, now time.Time) {
	m.mu.Lock()
	due := now.Sub(m.lastPrune) >= m.cfg.Retention
	if due {
		m.lastPrune = now
	}
	m.mu.Unlock()
	if !due {
		return
	}
	if n, err := m.store.Prune(ctx, now.Add(-m.cfg.Retention)); err != nil {
		m.logger.WarnContext(ctx, "explain token prune failed", "error", err)
	} else if n > 0 {
		m.logger.DebugContext(ctx, "pruned explain tokens", "count", n)
	}
}
