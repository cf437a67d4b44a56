package sanity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asifgondal786/tajir/pkg/contracts"
	"github.com/asifgondal786/tajir/pkg/percent"
)

func boolPtr(v bool) *bool { return &v }

func liveBuy() contracts.TradeProposal {
	return contracts.TradeProposal{
		Pair:            "EUR/USD",
		Action:          contracts.ActionBuy,
		EntryPrice:      1.1000,
		StopLoss:        1.0950,
		TakeProfit:      1.1120,
		PositionSize:    1000,
		BrokerAccountID: "acc-1",
	}
}

func TestValidBuyPasses(t *testing.T) {
	r := Validate(liveBuy(), contracts.DefaultRiskLimits(), Options{})
	require.True(t, r.OK, r.Reason)
	assert.Equal(t, contracts.ReasonAdmitted, r.Code)
	assert.Equal(t, "0.454545", r.StopDistance.String())
	assert.Equal(t, "2.4", r.RewardRisk.String())
}

func TestValidSellPasses(t *testing.T) {
	p := liveBuy()
	p.Action = contracts.ActionSell
	p.StopLoss = 1.1050
	p.TakeProfit = 1.0880
	r := Validate(p, contracts.DefaultRiskLimits(), Options{})
	assert.True(t, r.OK, r.Reason)
}

func TestRuleFailures(t *testing.T) {
	limits := contracts.DefaultRiskLimits()
	cases := []struct {
		name   string
		mutate func(p *contracts.TradeProposal)
		opts   Options
		code   contracts.ReasonCode
	}{
		{"bad action", func(p *contracts.TradeProposal) { p.Action = "HOLD" }, Options{}, contracts.ReasonInvalidAction},
		{"bad pair", func(p *contracts.TradeProposal) { p.Pair = "EURUSD" }, Options{}, contracts.ReasonInvalidPair},
		{"digits in pair", func(p *contracts.TradeProposal) { p.Pair = "EU1/USD" }, Options{}, contracts.ReasonInvalidPair},
		{"missing stop", func(p *contracts.TradeProposal) { p.StopLoss = 0 }, Options{}, contracts.ReasonStopLossRequired},
		{"missing target", func(p *contracts.TradeProposal) { p.TakeProfit = 0 }, Options{}, contracts.ReasonTakeProfitRequired},
		{"zero size", func(p *contracts.TradeProposal) { p.PositionSize = 0 }, Options{}, contracts.ReasonNonPositiveSize},
		{"negative entry", func(p *contracts.TradeProposal) { p.EntryPrice = -1 }, Options{}, contracts.ReasonNonPositivePrice},
		{"too large", func(p *contracts.TradeProposal) { p.PositionSize = 20000 }, Options{}, contracts.ReasonSizeOverLimit},
		{"inverted buy", func(p *contracts.TradeProposal) { p.StopLoss = 1.1050 }, Options{}, contracts.ReasonInvertedLevels},
		{"stop too close", func(p *contracts.TradeProposal) { p.StopLoss = 1.0999 }, Options{}, contracts.ReasonStopTooClose},
		{"stop too wide", func(p *contracts.TradeProposal) { p.StopLoss = 1.0; p.TakeProfit = 1.5 }, Options{}, contracts.ReasonStopTooWide},
		{"poor reward", func(p *contracts.TradeProposal) { p.TakeProfit = 1.1050 }, Options{}, contracts.ReasonRewardRiskTooLow},
		{"no broker account", func(p *contracts.TradeProposal) { p.BrokerAccountID = "" }, Options{}, contracts.ReasonBrokerAccountRequired},
		{"server stop disabled", func(p *contracts.TradeProposal) { p.ServerSideStopLoss = boolPtr(false) }, Options{}, contracts.ReasonServerProtectionDisabled},
		{"server target disabled", func(p *contracts.TradeProposal) { p.ServerSideTakeProfit = boolPtr(false) }, Options{}, contracts.ReasonServerProtectionDisabled},
		{"fail-safe unconfirmed", func(p *contracts.TradeProposal) {}, Options{RequireBrokerFailSafe: true}, contracts.ReasonFailSafeUnconfirmed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := liveBuy()
			tc.mutate(&p)
			r := Validate(p, limits, tc.opts)
			assert.False(t, r.OK)
			assert.Equal(t, tc.code, r.Code, r.Reason)
			assert.Equal(t, contracts.CategoryStructural, r.Code.Category())
		})
	}
}

func TestSimulatedSkipsBrokerRules(t *testing.T) {
	p := liveBuy()
	p.Simulated = true
	p.BrokerAccountID = ""
	p.ServerSideStopLoss = boolPtr(false)
	r := Validate(p, contracts.DefaultRiskLimits(), Options{RequireBrokerFailSafe: true})
	assert.True(t, r.OK, r.Reason)
}

func TestExplicitTrueProtectionFlagsPass(t *testing.T) {
	p := liveBuy()
	p.ServerSideStopLoss = boolPtr(true)
	p.ServerSideTakeProfit = boolPtr(true)
	p.FailSafeConfirmed = true
	r := Validate(p, contracts.DefaultRiskLimits(), Options{RequireBrokerFailSafe: true})
	assert.True(t, r.OK, r.Reason)
}

func TestLowercaseInputIsNormalized(t *testing.T) {
	p := liveBuy()
	p.Pair = "eur/usd"
	p.Action = "buy"
	assert.True(t, Validate(p, contracts.DefaultRiskLimits(), Options{}).OK)
}

func TestStopDistanceBoundsAreInclusive(t *testing.T) {
	p := liveBuy()
	p.EntryPrice = 100
	p.StopLoss = 99.8
	p.TakeProfit = 101
	r := Validate(p, contracts.DefaultRiskLimits(), Options{})
	assert.True(t, r.OK, r.Reason)

	p.StopLoss = 95
	p.TakeProfit = 106
	r = Validate(p, contracts.DefaultRiskLimits(), Options{})
	assert.True(t, r.OK, r.Reason)
}

func TestBoundsUseExactPrices(t *testing.T) {
	limits := contracts.DefaultRiskLimits()

	// 1.19996 rounds to 1.2 at four places but is still below the floor.
	p := liveBuy()
	p.EntryPrice = 100
	p.StopLoss = 99
	p.TakeProfit = 101.19996
	r := Validate(p, limits, Options{})
	assert.False(t, r.OK)
	assert.Equal(t, contracts.ReasonRewardRiskTooLow, r.Code)

	p.TakeProfit = 101.2
	assert.True(t, Validate(p, limits, Options{}).OK)

	// 0.1999999% rounds to 0.2 at six places but is still too close.
	p.StopLoss = 99.8000001
	p.TakeProfit = 101
	r = Validate(p, limits, Options{})
	assert.False(t, r.OK)
	assert.Equal(t, contracts.ReasonStopTooClose, r.Code)

	// 5.0000001% rounds to 5 but is still too wide.
	p.StopLoss = 94.9999999
	p.TakeProfit = 110
	r = Validate(p, limits, Options{})
	assert.False(t, r.OK)
	assert.Equal(t, contracts.ReasonStopTooWide, r.Code)
}

func TestExplicitRiskMustBePositive(t *testing.T) {
	for _, v := range []string{"-50", "0"} {
		t.Run(v, func(t *testing.T) {
			p := liveBuy()
			p.StopLoss = 1.0505
			p.TakeProfit = 1.22
			risk := percent.MustParse(v)
			p.RiskPercent = &risk
			r := Validate(p, contracts.DefaultRiskLimits(), Options{})
			assert.False(t, r.OK)
			assert.Equal(t, contracts.ReasonInvalidRisk, r.Code)
			assert.Equal(t, contracts.CategoryStructural, r.Code.Category())
		})
	}
}

func TestRiskPercent(t *testing.T) {
	p := liveBuy()
	assert.Equal(t, "0.454545", RiskPercent(p).String())

	explicit := percent.New(1.5)
	p.RiskPercent = &explicit
	assert.Equal(t, "1.5", RiskPercent(p).String())
}

func TestDecodeProposal(t *testing.T) {
	p, err := DecodeProposal([]byte(`{"pair":"GBP/JPY","action":"SELL","entry_price":190.5,
		"stop_loss":191.5,"take_profit":188.5,"position_size":500,"is_paper_trade":true}`))
	require.NoError(t, err)
	assert.Equal(t, "GBP/JPY", p.Pair)
	assert.True(t, p.Simulated)

	_, err = DecodeProposal([]byte(`{"pair":"GBP/JPY","action":"SELL"}`))
	assert.ErrorIs(t, err, ErrMalformedProposal)

	_, err = DecodeProposal([]byte(`{"pair":"GBP/JPY","action":"SELL","entry_price":"high",
		"stop_loss":1,"take_profit":1,"position_size":1}`))
	assert.ErrorIs(t, err, ErrMalformedProposal)

	_, err = DecodeProposal([]byte(`{"pair":"EUR/USD","action":"BUY","entry_price":1.1,
		"stop_loss":1.0505,"take_profit":1.22,"position_size":1000,"risk_percent":-50}`))
	assert.ErrorIs(t, err, ErrMalformedProposal)

	_, err = DecodeProposal([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedProposal)
}
