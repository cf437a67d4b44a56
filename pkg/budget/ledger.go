// Package budget tracks realized P&L per user and classifies it against the
// user's RiskBudget.
//
// All P&L values are percent-of-notional. Daily stats are superseded, not
// merged, when the calendar day rolls over; superseded days are kept in a
// bounded history for analytics. Drawdown is measured over the same
// retained window, so an old loss stops counting once it ages out.
package budget

import (
	"fmt"
	"time"

	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/percent"
)

const (
	// HistoryDays bounds the superseded daily stats kept per user.
	HistoryDays = 30
	// HistoryWeeks bounds the weekly ledger.
	HistoryWeeks = 8
	// DrawdownDays is the window the drawdown peak is taken over.
	DrawdownDays = HistoryDays
)

// Ledger is the realized P&L record of one user.
type Ledger struct {
	Today   contracts.DailyTradingStats   `json:"today"`
	History []contracts.DailyTradingStats `json:"history,omitempty"`
	Weekly  map[string]percent.Percent    `json:"weekly"`
}

// NewLedger returns an empty ledger opened on now's day.
func NewLedger(now time.Time) Ledger {
	return Ledger{
		Today:  contracts.DailyTradingStats{Date: DayKey(now)},
		Weekly: make(map[string]percent.Percent),
	}
}

// DayKey returns the calendar day of t in UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format(contracts.DateKey)
}

// WeekKey returns the ISO week id of t in UTC, e.g. "2026-W09".
func WeekKey(t time.Time) string {
	y, w := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// roll supersedes Today when now falls on a later day.
func (l *Ledger) roll(now time.Time) {
	day := DayKey(now)
	if l.Today.Date == day {
		return
	}
	if l.Today.Date != "" {
		l.History = append(l.History, l.Today)
		if n := len(l.History); n > HistoryDays {
			l.History = l.History[n-HistoryDays:]
		}
	}
	l.Today = contracts.DailyTradingStats{Date: day}
}

func (l *Ledger) pruneWeeks(now time.Time) {
	if len(l.Weekly) <= HistoryWeeks {
		return
	}
	cutoff := WeekKey(now.AddDate(0, 0, -7*HistoryWeeks))
	for k := range l.Weekly {
		if k <= cutoff {
			delete(l.Weekly, k)
		}
	}
}

// RecordOpen counts a newly opened trade in today's stats.
func (l *Ledger) RecordOpen(now time.Time) {
	l.roll(now)
	l.Today.TotalTrades++
}

// RecordClose books a realized result in percent-of-notional.
func (l *Ledger) RecordClose(pnl percent.Percent, now time.Time) {
	l.roll(now)
	if l.Weekly == nil {
		l.Weekly = make(map[string]percent.Percent)
	}

	switch {
	case pnl.IsPositive():
		l.Today.WinningTrades++
	case pnl.IsNegative():
		l.Today.LosingTrades++
	}

	l.Today.TotalProfitLoss = l.Today.TotalProfitLoss.Add(pnl)
	l.Today.Peak = percent.Max(l.Today.Peak, l.Today.TotalProfitLoss)
	l.Today.MaxDrawdown = percent.Max(l.Today.MaxDrawdown, l.Today.Peak.Sub(l.Today.TotalProfitLoss))

	wk := WeekKey(now)
	l.Weekly[wk] = l.Weekly[wk].Add(pnl)
	l.pruneWeeks(now)
}

// MarkKillSwitch flags today's stats.
func (l *Ledger) MarkKillSwitch(now time.Time) {
	l.roll(now)
	l.Today.KillSwitchTriggered = true
}

// DailyPnL returns today's realized P&L as of now.
func (l *Ledger) DailyPnL(now time.Time) percent.Percent {
	if l.Today.Date != DayKey(now) {
		return percent.Zero
	}
	return l.Today.TotalProfitLoss
}

// WeeklyPnL returns the current ISO week's realized P&L as of now.
func (l *Ledger) WeeklyPnL(now time.Time) percent.Percent {
	return l.Weekly[WeekKey(now)]
}

// Drawdown is the distance of the running P&L below its peak, both taken
// over the last DrawdownDays as of now. The curve starts at zero on the
// window's first day.
func (l *Ledger) Drawdown(now time.Time) percent.Percent {
	var cum, peak percent.Percent
	for _, d := range l.Days(DrawdownDays, now) {
		peak = percent.Max(peak, cum.Add(d.Peak))
		cum = cum.Add(d.TotalProfitLoss)
	}
	return peak.Sub(cum)
}

// Days returns the stats of the last n days, oldest first, including today
// when it falls inside the range.
func (l *Ledger) Days(n int, now time.Time) []contracts.DailyTradingStats {
	if n <= 0 {
		return nil
	}
	cutoff := DayKey(now.AddDate(0, 0, -(n - 1)))
	out := make([]contracts.DailyTradingStats, 0, n)
	for _, d := range l.History {
		if d.Date >= cutoff {
			out = append(out, d)
		}
	}
	if l.Today.Date >= cutoff && l.Today.Date <= DayKey(now) {
		out = append(out, l.Today)
	}
	return out
}
