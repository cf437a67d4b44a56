package guardrail

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asifgondal786/tajir/pkg/autonomy"
	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/explain"
	"github.com/asifgondal786/tajir/pkg/killswitch"
	"github.com/asifgondal786/tajir/pkg/percent"
	"github.com/asifgondal786/tajir/pkg/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine *Engine
	repo   *store.MemoryRepository
	tokens *explain.Manager
	clock  *fakeClock
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	tokens, err := explain.NewManager(explain.NewMemoryStore(), explain.DefaultConfig())
	require.NoError(t, err)
	tokens.WithClock(clock.Now)

	repo := store.NewMemoryRepository()
	engine, err := NewEngine(repo, tokens, cfg)
	require.NoError(t, err)
	engine.WithClock(clock.Now)
	return &harness{engine: engine, repo: repo, tokens: tokens, clock: clock}
}

// seed stores a state for userID built from the engine defaults.
func (h *harness) seed(t *testing.T, userID string, mutate func(st *store.UserState)) {
	t.Helper()
	st := h.engine.fresh(userID, h.clock.Now())
	mutate(st)
	require.NoError(t, h.repo.Put(context.Background(), st))
}

func (h *harness) state(t *testing.T, userID string) *store.UserState {
	t.Helper()
	st, err := h.repo.Get(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

// liveBuy is the worked example: stop 0.45% away, target 1.09% away.
func liveBuy() contracts.TradeProposal {
	return contracts.TradeProposal{
		Pair:            "EUR/USD",
		Action:          contracts.ActionBuy,
		EntryPrice:      1.1000,
		StopLoss:        1.0950,
		TakeProfit:      1.1120,
		PositionSize:    1000,
		BrokerAccountID: "acct-1",
	}
}

func paperBuy() contracts.TradeProposal {
	p := liveBuy()
	p.Simulated = true
	p.BrokerAccountID = ""
	return p
}

// goodRecord clears the default probation policy without a wide margin.
func goodRecord() *contracts.PaperSummary {
	return &contracts.PaperSummary{
		Trades:         25,
		WinRate:        percent.FromInt(60),
		MaxDrawdown:    percent.FromInt(8),
		AccountAgeDays: 10,
	}
}

func calm() contracts.MarketSnapshot {
	return contracts.MarketSnapshot{ConsensusScore: 0.8, Volatility: contracts.VolatilityLow, CoverageRatio: 0.9}
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Budget.DailyLossLimit = percent.Zero
	_, err := NewEngine(store.NewMemoryRepository(), nil, cfg)
	assert.ErrorIs(t, err, contracts.ErrInvalidBudget)

	_, err = NewEngine(nil, nil, DefaultConfig())
	assert.Error(t, err)
}

func TestCanExecute_AdmitsAndPromotesAfterProbation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, err := h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), goodRecord(), calm())
	require.NoError(t, err)
	require.True(t, d.Allowed, d.Reason)
	assert.Equal(t, contracts.ReasonAdmitted, d.Code)
	assert.Equal(t, contracts.CategoryNone, d.Category())
	assert.Empty(t, d.ReceiptID)

	require.NotNil(t, d.Context)
	assert.Equal(t, autonomy.GuardedAuto, d.Context.Level)
	require.NotNil(t, d.Context.Probation)
	assert.True(t, d.Context.Probation.Passed)
	require.NotNil(t, d.Context.RiskPercent)
	assert.Equal(t, "0.454545", d.Context.RiskPercent.String())
	require.NotNil(t, d.Context.Anomaly)
	assert.False(t, d.Context.Anomaly.Triggered())
	assert.Equal(t, autonomy.BudgetWithin, d.Context.Budget.Status)

	st := h.state(t, "u1")
	assert.Equal(t, autonomy.GuardedAuto, st.Autonomy.Level)
	assert.True(t, st.Autonomy.ProbationPassed)
	assert.Equal(t, []float64{0.8}, st.Autonomy.Window)
}

func TestCanExecute_ManualDeniesLiveOnly(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.DefaultLevel = autonomy.Manual })
	ctx := context.Background()

	d, err := h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), goodRecord(), calm())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, contracts.ReasonManualMode, d.Code)
	assert.NotEmpty(t, d.ReceiptID)
	assert.Equal(t, autonomy.Manual, h.state(t, "u1").Autonomy.Level)

	d, err = h.engine.CanExecuteAutonomousTrade(ctx, "u1", paperBuy(), nil, calm())
	require.NoError(t, err)
	assert.True(t, d.Allowed, d.Reason)
	assert.Nil(t, d.Context.Probation)
}

func TestCanExecute_ProbationGates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, err := h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), nil, calm())
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonProbationUnavailable, d.Code)

	weak := &contracts.PaperSummary{Trades: 5, WinRate: percent.FromInt(60), MaxDrawdown: percent.FromInt(3), AccountAgeDays: 10}
	d, err = h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), weak, calm())
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonProbationFailed, d.Code)
	assert.Contains(t, d.Reason, "5 paper trades, need 20")
	assert.Equal(t, contracts.CategoryPolicy, d.Category())
	assert.Equal(t, autonomy.Assisted, h.state(t, "u1").Autonomy.Level)
}

func TestCanExecute_InvalidProbationPolicyIsAnError(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "u1", func(st *store.UserState) { st.Probation.MinPaperTrades = -1 })

	_, err := h.engine.CanExecuteAutonomousTrade(context.Background(), "u1", liveBuy(), goodRecord(), calm())
	assert.ErrorIs(t, err, contracts.ErrInvalidPolicy)
}

func TestCanExecute_RiskPerTrade(t *testing.T) {
	h := newHarness(t)
	p := liveBuy()
	risk := percent.MustParse("2.5")
	p.RiskPercent = &risk

	d, err := h.engine.CanExecuteAutonomousTrade(context.Background(), "u1", p, goodRecord(), calm())
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonRiskPerTrade, d.Code)
	assert.Contains(t, d.Reason, "2.5% exceeds budget maximum 2%")

	p = liveBuy()
	p.StopLoss = 0
	d, err = h.engine.CanExecuteAutonomousTrade(context.Background(), "u1", p, goodRecord(), calm())
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonStopLossRequired, d.Code)
}

func TestCanExecute_NonPositiveExplicitRisk(t *testing.T) {
	h := newHarness(t)
	for _, v := range []string{"-50", "0"} {
		p := liveBuy()
		p.StopLoss = 1.0505
		p.TakeProfit = 1.22
		risk := percent.MustParse(v)
		p.RiskPercent = &risk

		d, err := h.engine.CanExecuteAutonomousTrade(context.Background(), "u1", p, goodRecord(), calm())
		require.NoError(t, err)
		assert.False(t, d.Allowed, v)
		assert.Equal(t, contracts.ReasonInvalidRisk, d.Code, v)
		assert.Equal(t, contracts.CategoryStructural, d.Category())
	}
}

func TestCanExecute_AnomalyPausesUntilExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stormy := contracts.MarketSnapshot{ConsensusScore: 0.8, Volatility: contracts.VolatilityHigh, CoverageRatio: 0.3}

	d, err := h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), goodRecord(), stormy)
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonAnomaly, d.Code)
	require.NotNil(t, d.Context.Anomaly.PauseUntil)

	d, err = h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), goodRecord(), calm())
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonPaused, d.Code)
	assert.Contains(t, d.Reason, "anomaly:")

	h.clock.Advance(2*time.Hour + time.Second)
	d, err = h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), goodRecord(), calm())
	require.NoError(t, err)
	assert.True(t, d.Allowed, d.Reason)
	assert.False(t, h.state(t, "u1").Autonomy.Paused())
}

func TestCanExecute_DriftNeedsMovement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d, err := h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), goodRecord(), calm())
		require.NoError(t, err)
		require.True(t, d.Allowed, "identical snapshots must not drift: %s", d.Reason)
	}

	h2 := newHarness(t)
	var last Decision
	for _, score := range []float64{0.9, 0.85, 0.7, 0.6} {
		snap := calm()
		snap.ConsensusScore = score
		var err error
		last, err = h2.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), goodRecord(), snap)
		require.NoError(t, err)
	}
	assert.Equal(t, contracts.ReasonDrift, last.Code)
	assert.Equal(t, 4, last.Context.Anomaly.Observations)
}

func TestCanExecute_BudgetBreachPausesAndRecovers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "u1", func(st *store.UserState) {
		st.Autonomy.Level = autonomy.FullAuto
		st.Ledger.RecordClose(percent.MustParse("-3.1"), h.clock.Now())
	})

	d, err := h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), goodRecord(), calm())
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonBudgetBreached, d.Code)
	assert.Equal(t, autonomy.BudgetBreached, d.Context.Budget.Status)
	assert.Contains(t, d.Reason, "daily loss 3.1% reached limit 3%")

	st := h.state(t, "u1")
	assert.True(t, st.Autonomy.PausedBy(autonomy.PauseBudget))
	assert.Equal(t, autonomy.Assisted, st.Autonomy.Level)

	// Paper trades are not blocked by a budget pause.
	d, err = h.engine.CanExecuteAutonomousTrade(ctx, "u1", paperBuy(), nil, calm())
	require.NoError(t, err)
	assert.True(t, d.Allowed, d.Reason)

	// Next day the daily loss is gone; weekly and drawdown are within.
	h.clock.Advance(24 * time.Hour)
	d, err = h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), goodRecord(), calm())
	require.NoError(t, err)
	assert.True(t, d.Allowed, d.Reason)
	st = h.state(t, "u1")
	assert.False(t, st.Autonomy.Paused())
	assert.Nil(t, st.Autonomy.Ceiling)
	assert.Equal(t, autonomy.GuardedAuto, st.Autonomy.Level)
}

func TestCanExecute_DrawdownPauseClearsOnceLossAgesOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "u1", func(st *store.UserState) {
		st.Ledger.RecordClose(percent.FromInt(-11), h.clock.Now())
	})

	h.clock.Advance(7 * 24 * time.Hour)
	d, err := h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), goodRecord(), calm())
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonBudgetBreached, d.Code)
	assert.Contains(t, d.Reason, "drawdown 11% reached limit 10%")

	h.clock.Advance(60 * 24 * time.Hour)
	d, err = h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), goodRecord(), calm())
	require.NoError(t, err)
	assert.True(t, d.Allowed, d.Reason)
	assert.Equal(t, autonomy.BudgetWithin, d.Context.Budget.Status)
	assert.False(t, h.state(t, "u1").Autonomy.Paused())
}

func TestKillSwitchBlocksEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "u1", func(st *store.UserState) {
		st.Autonomy.Level = autonomy.FullAuto
		st.Autonomy.ProbationPassed = true
		st.Trades = []contracts.TradeExecution{
			{ID: "t1", UserID: "u1", Status: contracts.TradeOpen},
			{ID: "t2", UserID: "u1", Status: contracts.TradeClosed},
		}
	})

	res, err := h.engine.ActivateKillSwitch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, autonomy.Assisted, res.Level)
	assert.Equal(t, []string{"t1"}, res.TradesMarked)

	st := h.state(t, "u1")
	assert.True(t, st.Autonomy.PausedBy(autonomy.PauseKillSwitch))
	assert.Equal(t, contracts.TradeEmergencyClose, st.Trades[0].Status)
	assert.True(t, st.Ledger.Today.KillSwitchTriggered)

	for _, p := range []contracts.TradeProposal{liveBuy(), paperBuy()} {
		d, err := h.engine.CanExecuteAutonomousTrade(ctx, "u1", p, goodRecord(), calm())
		require.NoError(t, err)
		assert.Equal(t, contracts.ReasonKillSwitch, d.Code)

		d, err = h.engine.ValidateTrade(ctx, "u1", p)
		require.NoError(t, err)
		assert.Equal(t, contracts.ReasonKillSwitch, d.Code)
	}

	// Time does not clear a kill switch.
	h.clock.Advance(72 * time.Hour)
	d, err := h.engine.CanExecuteAutonomousTrade(ctx, "u1", liveBuy(), goodRecord(), calm())
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonKillSwitch, d.Code)

	snap, err := h.engine.Reactivate(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, snap.Paused)
	assert.Equal(t, autonomy.Assisted, snap.Level)

	_, err = h.engine.Reactivate(ctx, "u1")
	assert.ErrorIs(t, err, killswitch.ErrNotActive)
}

// conflictingRepo simulates another process activating the kill switch
// between the engine's read and its write.
type conflictingRepo struct {
	*store.MemoryRepository
	once sync.Once
	now  func() time.Time
}

func (r *conflictingRepo) CompareAndSwap(ctx context.Context, st *store.UserState, expected int64) error {
	r.once.Do(func() {
		other, err := r.MemoryRepository.Get(ctx, st.UserID)
		if err != nil || other == nil {
			return
		}
		killswitch.Activate(&other.Autonomy, other.Trades, &other.Ledger, r.now())
		_ = r.MemoryRepository.CompareAndSwap(ctx, other, other.Version)
	})
	return r.MemoryRepository.CompareAndSwap(ctx, st, expected)
}

func TestConcurrentKillSwitchWinsOverAdmission(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryRepository()
	repo := &conflictingRepo{MemoryRepository: mem, now: clock.Now}

	engine, err := NewEngine(repo, nil, DefaultConfig())
	require.NoError(t, err)
	engine.WithClock(clock.Now)

	seed := engine.fresh("u1", clock.Now())
	seed.Autonomy.Level = autonomy.GuardedAuto
	require.NoError(t, mem.Put(context.Background(), seed))

	d, err := engine.CanExecuteAutonomousTrade(context.Background(), "u1", liveBuy(), goodRecord(), calm())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, contracts.ReasonKillSwitch, d.Code)
}

func TestConcurrentExecutionsAreSerialized(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Limits.MaxOpenPositions = 100 })
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, d, err := h.engine.ExecuteTrade(ctx, "u1", paperBuy(), "")
			assert.NoError(t, err)
			assert.True(t, d.Allowed, d.Reason)
		}()
	}
	wg.Wait()

	st := h.state(t, "u1")
	assert.Len(t, st.Trades, 20)
	assert.Equal(t, int64(20), st.Version)
}

func TestUserIDRequired(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CanExecuteAutonomousTrade(context.Background(), " ", liveBuy(), nil, calm())
	assert.ErrorIs(t, err, ErrUserRequired)
	_, err = h.engine.GetGuardrails(context.Background(), "")
	assert.ErrorIs(t, err, ErrUserRequired)
}
