package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/asifgondal786/tajir/pkg/config"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/explain"
	"github.com/asifgondal786/tajir/pkg/guardrail"
	"github.com/asifgondal786/tajir/pkg/observability"
	"github.com/asifgondal786/tajir/pkg/rules"
	"github.com/asifgondal786/tajir/pkg/sanity"
	"github.com/asifgondal786/tajir/pkg/store"
)

// app is one CLI invocation's engine and the resources behind it.
type app struct {
	engine  *guardrail.Engine
	logger  *slog.Logger
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// openApp builds the engine from the environment and the policy file.
func openApp(ctx context.Context, stderr io.Writer) (*app, error) {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	a := &app{logger: logger}

	policy, err := config.LoadPolicyFile(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	var (
		repo store.Repository
		db   *sql.DB
	)
	switch cfg.Store {
	case config.StoreMemory:
		repo = store.NewMemoryRepository()
	case config.StoreSQLite:
		var r *store.SQLiteRepository
		r, db, err = store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		repo = r
	case config.StorePostgres:
		pg, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		r := store.NewPostgresRepository(pg)
		if err := r.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		repo = r
	default:
		return nil, fmt.Errorf("unknown store %q (want memory, sqlite or postgres)", cfg.Store)
	}

	tokenCfg := explain.DefaultConfig()
	tokenCfg.Enabled = cfg.ExplainTokens
	tokenCfg.TTL = policy.TokenTTL
	tokenCfg.Secret = []byte(cfg.TokenSecret)

	var tokenStore explain.Store
	switch {
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		a.closers = append(a.closers, client.Close)
		tokenStore = explain.NewRedisStore(client, tokenCfg.Retention)
	case db != nil:
		s, err := explain.NewSQLiteStore(db)
		if err != nil {
			a.Close()
			return nil, err
		}
		tokenStore = s
	default:
		tokenStore = explain.NewMemoryStore()
	}
	if cfg.ExplainTokens && cfg.TokenSecret == "" {
		logger.Warn("TAJIR_TOKEN_SECRET is unset; explain tokens only verify within this process")
	}

	tokens, err := explain.NewManager(tokenStore, tokenCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	engine, err := guardrail.NewEngine(repo, tokens, guardrail.Config{
		DefaultLevel: policy.DefaultLevel,
		Limits:       policy.Limits,
		Budget:       policy.Budget,
		Probation:    policy.Probation,
		Monitor:      policy.Monitor,
		Sanity:       sanity.Options{RequireBrokerFailSafe: cfg.RequireBrokerFailSafe},
		MaxRetries:   5,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	engine.SetLogger(logger)
	if len(policy.Rules) > 0 {
		ev, err := rules.NewEvaluator(policy.Rules)
		if err != nil {
			a.Close()
			return nil, err
		}
		engine.SetRules(ev)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = Version
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return provider.Shutdown(sctx)
	})
	metrics, err := observability.NewMetrics(provider.Meter())
	if err != nil {
		a.Close()
		return nil, err
	}
	engine.SetMetrics(metrics)
	engine.SetTracer(provider.Tracer())

	a.engine = engine
	return a, nil
}

// snapshotFile serves a market snapshot read from disk to the Gate.
type snapshotFile struct {
	snap contracts.MarketSnapshot
}

func (s snapshotFile) Snapshot(context.Context, string) (contracts.MarketSnapshot, error) {
	return s.snap, nil
}

// summaryFile serves a paper summary read from disk. A nil summary is
// reported as unavailable.
type summaryFile struct {
	summary *contracts.PaperSummary
}

func (s summaryFile) Summary(context.Context, string) (contracts.PaperSummary, error) {
	if s.summary == nil {
		return contracts.PaperSummary{}, guardrail.ErrSummaryUnavailable
	}
	return *s.summary, nil
}

func readProposal(path string) (contracts.TradeProposal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return contracts.TradeProposal{}, fmt.Errorf("read proposal: %w", err)
	}
	return sanity.DecodeProposal(raw)
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(data))
}
