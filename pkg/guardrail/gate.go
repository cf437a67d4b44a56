package guardrail

import (
	"context"
	"errors"
	"fmt"

	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/explain"
)

// ErrSummaryUnavailable is returned by a PaperLedger that has no summary
// for the user. The Gate turns it into a PROBATION_UNAVAILABLE denial.
var ErrSummaryUnavailable = errors.New("paper trading summary unavailable")

// MarketIntelligence supplies the market risk view for a pair.
type MarketIntelligence interface {
	Snapshot(ctx context.Context, pair string) (contracts.MarketSnapshot, error)
}

// PaperLedger supplies a user's paper-trading record.
type PaperLedger interface {
	Summary(ctx context.Context, userID string) (contracts.PaperSummary, error)
}

// Gate fetches the collaborator inputs a check needs and runs it on the
// engine. It is the only place the guardrail path waits on I/O.
type Gate struct {
	engine *Engine
	market MarketIntelligence
	paper  PaperLedger
}

// NewGate wires an engine to its collaborators.
func NewGate(engine *Engine, market MarketIntelligence, paper PaperLedger) *Gate {
	return &Gate{engine: engine, market: market, paper: paper}
}

// Check fetches the snapshot and, for live trades, the paper summary, then
// asks the engine. A missing summary is a denial, not an error; a failed
// market fetch is an error, since no decision can be made without it.
func (g *Gate) Check(ctx context.Context, userID string, p contracts.TradeProposal) (Decision, error) {
	p = p.Normalized()
	snap, err := g.market.Snapshot(ctx, p.Pair)
	if err != nil {
		return Decision{}, fmt.Errorf("market snapshot for %s: %w", p.Pair, err)
	}

	var summary *contracts.PaperSummary
	if !p.Simulated {
		s, err := g.paper.Summary(ctx, userID)
		switch {
		case errors.Is(err, ErrSummaryUnavailable):
			// left nil; the engine denies with PROBATION_UNAVAILABLE
		case err != nil:
			return Decision{}, fmt.Errorf("paper summary for %s: %w", userID, err)
		default:
			summary = &s
		}
	}
	return g.engine.CanExecuteAutonomousTrade(ctx, userID, p, summary, snap)
}

// Explain checks p and issues the explain token for the outcome, so the
// token can only exist for a trade the guard admitted.
func (g *Gate) Explain(ctx context.Context, userID string, p contracts.TradeProposal) (Decision, explain.Issued, error) {
	d, err := g.Check(ctx, userID, p)
	if err != nil {
		return Decision{}, explain.Issued{}, err
	}
	issued, err := g.engine.IssueExplainToken(ctx, userID, p, d.Allowed)
	if err != nil {
		return d, explain.Issued{}, err
	}
	return d, issued, nil
}
