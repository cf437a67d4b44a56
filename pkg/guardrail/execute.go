package guardrail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/asifgondal786/tajir/pkg/budget"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/explain"
	"github.com/asifgondal786/tajir/pkg/percent"
	"github.com/asifgondal786/tajir/pkg/store"
)

const opExecute = "execute"

// TokensRequired reports whether live trades must present an explain token.
func (e *Engine) TokensRequired() bool {
	return e.tokens != nil && e.tokens.Enabled()
}

// IssueExplainToken issues the token that binds an explanation to p.
// guardPassed is the outcome of the admission check the explanation was
// shown for.
func (e *Engine) IssueExplainToken(ctx context.Context, userID string, p contracts.TradeProposal, guardPassed bool) (explain.Issued, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return explain.Issued{}, ErrUserRequired
	}
	if e.tokens == nil {
		return explain.Issued{Status: explain.StatusNotRequired}, nil
	}
	issued, err := e.tokens.Issue(ctx, userID, p.Normalized(), guardPassed)
	switch {
	case errors.Is(err, explain.ErrIssueRateLimited):
		e.metrics.RecordToken(ctx, "issue", "rate_limited")
	case err != nil:
		e.metrics.RecordToken(ctx, "issue", "error")
	default:
		e.metrics.RecordToken(ctx, "issue", string(issued.Status))
	}
	return issued, err
}

// ExecuteTrade validates p, consumes its explain token when one is
// required, and records the trade as open. A denied trade returns a nil
// execution and the denial.
func (e *Engine) ExecuteTrade(ctx context.Context, userID string, p contracts.TradeProposal, token string) (*contracts.TradeExecution, Decision, error) {
	ctx, done := e.span(ctx, opExecute, userID)
	p = p.Normalized()

	var (
		d        Decision
		trade    *contracts.TradeExecution
		consumed bool
	)
	_, err := e.update(ctx, userID, func(st *store.UserState, now time.Time) error {
		trade = nil
		d = e.validate(st, p, now)
		if !d.Allowed {
			receipt(st, opExecute, p, &d, now)
			return nil
		}

		// The token is burned once even if the state write is retried.
		if !p.Simulated && e.TokensRequired() && !consumed {
			if _, err := e.tokens.Consume(ctx, st.UserID, p, token); err != nil {
				code := explain.ReasonFor(err)
				if code == contracts.ReasonInternal {
					return err
				}
				e.metrics.RecordToken(ctx, "consume", string(code))
				d = deny(code, err.Error()+"; re-run the explain step", d.Context)
				receipt(st, opExecute, p, &d, now)
				return nil
			}
			consumed = true
			e.metrics.RecordToken(ctx, "consume", "ok")
		}

		t := contracts.TradeExecution{
			ID:           uuid.NewString(),
			UserID:       st.UserID,
			Pair:         p.Pair,
			Action:       p.Action,
			EntryPrice:   p.EntryPrice,
			StopLoss:     p.StopLoss,
			TakeProfit:   p.TakeProfit,
			PositionSize: p.PositionSize,
			Simulated:    p.Simulated,
			Status:       contracts.TradeOpen,
			OpenedAt:     now,
		}
		st.Trades = append(st.Trades, t)
		if !p.Simulated {
			st.Ledger.RecordOpen(now)
		}
		trade = &t
		d.Reason = "trade executed"
		return nil
	})
	if err != nil {
		done(nil, err)
		return nil, Decision{}, err
	}
	done(&d, nil)
	return trade, d, nil
}

// CloseResult is returned by CloseTrade.
type CloseResult struct {
	Trade  contracts.TradeExecution `json:"trade"`
	Budget budget.Assessment        `json:"budget"`
}

// CloseTrade closes an open or emergency-marked trade at exitPrice. Live
// results are booked in the ledger and the budget is re-derived at once.
func (e *Engine) CloseTrade(ctx context.Context, userID, tradeID string, exitPrice float64) (CloseResult, error) {
	if exitPrice <= 0 {
		return CloseResult{}, ErrInvalidExitPrice
	}
	var res CloseResult
	_, err := e.update(ctx, userID, func(st *store.UserState, now time.Time) error {
		t, ok := st.Trade(tradeID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrTradeNotFound, tradeID)
		}
		if !t.Live() {
			return fmt.Errorf("%w: %s", ErrTradeClosed, tradeID)
		}

		move := decimal.NewFromFloat(exitPrice).Sub(decimal.NewFromFloat(t.EntryPrice))
		if t.Action == contracts.ActionSell {
			move = move.Neg()
		}
		pnl, _ := move.Mul(decimal.NewFromFloat(t.PositionSize)).Float64()

		closedAt := now
		t.Status = contracts.TradeClosed
		t.ClosedAt = &closedAt
		t.ExitPrice = exitPrice
		t.ProfitLoss = pnl
		t.ProfitLossPercent = percent.Ratio(move, decimal.NewFromFloat(t.EntryPrice))

		if !t.Simulated {
			st.Ledger.RecordClose(t.ProfitLossPercent, now)
		}
		res.Budget = st.Ledger.Check(st.Budget, now)
		budget.Apply(&st.Autonomy, res.Budget, now)
		res.Trade = *t
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	e.logger.InfoContext(ctx, "trade closed",
		"user_id", userID, "trade_id", tradeID,
		"pnl_percent", res.Trade.ProfitLossPercent.String(), "budget", res.Budget.Status)
	return res, nil
}
