package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/registry"
)

type fakeExposure struct {
	notional     decimal.Decimal
	openCount    int
	hasPosition  bool
	pendingCount int
}

func (f *fakeExposure) ExistingNotional(fundID, tokenID string) decimal.Decimal { return f.notional }
func (f *fakeExposure) OpenPositionCount(fundID string) int                    { return f.openCount }
func (f *fakeExposure) HasPosition(fundID, tokenID string) bool                { return f.hasPosition }
func (f *fakeExposure) PendingOrderCount(fundID string) int                    { return f.pendingCount }

func mirrorFund() domain.Fund {
	return domain.Fund{
		ID:              "PSI-10",
		Category:        domain.CategoryMirror,
		StartingCapital: decimal.NewFromInt(10000),
		MaxPositionPct:  decimal.NewFromFloat(0.10),
		MinTradeUSD:     decimal.NewFromInt(5),
		SignalDelay:     5 * time.Second,
		Risk: domain.RiskLimits{
			MaxSingleMarketExpUSD: decimal.NewFromInt(1000000),
			MaxOpenPositions:      100,
			MaxConcurrentOrders:   100,
		},
	}
}

// S1 — mirror-by-weight basic.
func TestS1MirrorByWeightBasic(t *testing.T) {
	reg := registry.New()
	now := time.Now()
	reg.Register(mirrorFund(), now)

	engine := New(reg, &fakeExposure{})

	sig := domain.Signal{Trader: &domain.TraderSignal{
		SignalID:      "t1",
		Username:      "alice",
		TokenID:       "tok-yes",
		MarketSlug:    "mkt",
		Type:          domain.SignalBuy,
		Shares:        decimal.NewFromInt(1000),
		Price:         decimal.NewFromFloat(0.50),
		Notional:      decimal.NewFromInt(500),
		TraderWeight:  decimal.NewFromFloat(0.10),
		TraderCapital: decimal.NewFromInt(100000),
	}}

	result := engine.Size(now, "PSI-10", sig)
	require.True(t, result.Accepted())
	require.True(t, result.Sized.Shares.Equal(decimal.NewFromInt(10)), "got %s", result.Sized.Shares)
	require.True(t, result.Sized.ReferencePrice.Equal(decimal.NewFromFloat(0.50)))
	require.Equal(t, domain.SideBuy, result.Sized.Side)
}

// S6 — kill-switch.
func TestS6KillSwitchRejectsAllOrders(t *testing.T) {
	reg := registry.New()
	now := time.Now()
	fund := mirrorFund()
	fund.Risk.KillSwitch = true
	reg.Register(fund, now)

	engine := New(reg, &fakeExposure{})
	sig := domain.Signal{Trader: &domain.TraderSignal{
		SignalID:      "t2",
		TokenID:       "tok-yes",
		Type:          domain.SignalBuy,
		Shares:        decimal.NewFromInt(1000),
		Price:         decimal.NewFromFloat(0.50),
		TraderWeight:  decimal.NewFromFloat(0.10),
		TraderCapital: decimal.NewFromInt(100000),
	}}

	result := engine.Size(now, "PSI-10", sig)
	require.False(t, result.Accepted())
	require.Equal(t, domain.RejectKillSwitch, result.Rejected)
}

func TestBelowMinimumRejected(t *testing.T) {
	reg := registry.New()
	now := time.Now()
	reg.Register(mirrorFund(), now)
	engine := New(reg, &fakeExposure{})

	sig := domain.Signal{Trader: &domain.TraderSignal{
		SignalID:      "t3",
		TokenID:       "tok-yes",
		Type:          domain.SignalBuy,
		Shares:        decimal.NewFromInt(1),
		Price:         decimal.NewFromFloat(0.50),
		TraderWeight:  decimal.NewFromFloat(0.001),
		TraderCapital: decimal.NewFromInt(100000),
	}}

	result := engine.Size(now, "PSI-10", sig)
	require.False(t, result.Accepted())
	require.Equal(t, domain.RejectBelowMin, result.Rejected)
}

func TestMaxOpenPositionsRejectsNewToken(t *testing.T) {
	reg := registry.New()
	now := time.Now()
	fund := mirrorFund()
	fund.Risk.MaxOpenPositions = 1
	reg.Register(fund, now)
	engine := New(reg, &fakeExposure{openCount: 1, hasPosition: false})

	sig := domain.Signal{Trader: &domain.TraderSignal{
		SignalID:      "t4",
		TokenID:       "tok-new",
		Type:          domain.SignalBuy,
		Shares:        decimal.NewFromInt(1000),
		Price:         decimal.NewFromFloat(0.50),
		TraderWeight:  decimal.NewFromFloat(0.10),
		TraderCapital: decimal.NewFromInt(100000),
	}}

	result := engine.Size(now, "PSI-10", sig)
	require.False(t, result.Accepted())
	require.Equal(t, domain.RejectMaxOpen, result.Rejected)
}

func alertFund() domain.Fund {
	return domain.Fund{
		ID:              "ALPHA-INSIDER-1",
		Category:        domain.CategoryActive,
		StartingCapital: decimal.NewFromInt(10000),
		MaxPositionPct:  decimal.NewFromFloat(0.10),
		MinTradeUSD:     decimal.NewFromInt(5),
		BasePositionPct: decimal.NewFromFloat(0.05),
		ConfidenceScale: decimal.NewFromFloat(0.3),
		MinConfidence:   decimal.NewFromFloat(0.3),
		MinStrength:     decimal.NewFromFloat(0.3),
		Risk: domain.RiskLimits{
			MaxSingleMarketExpUSD: decimal.NewFromInt(1000000),
			MaxOpenPositions:      100,
			MaxConcurrentOrders:   100,
		},
	}
}

// An alert-follower signal with a non-zero ReferencePrice must size and
// execute like any other alpha signal — this is the path alert.go's
// toSignal feeds into.
func TestAlphaSignalWithReferencePriceAccepted(t *testing.T) {
	reg := registry.New()
	now := time.Now()
	reg.Register(alertFund(), now)
	engine := New(reg, &fakeExposure{})

	sig := domain.Signal{Alpha: &domain.AlphaSignal{
		SignalID:          "a1",
		Action:            domain.ActionBuy,
		TokenID:           "tok-yes",
		MarketSlug:        "mkt",
		Confidence:        decimal.NewFromFloat(0.8),
		Strength:          decimal.NewFromFloat(0.7),
		SuggestedNotional: decimal.NewFromInt(500),
		ReferencePrice:    decimal.NewFromFloat(0.50),
		DetectedAt:        now,
		ExpiresAt:         now.Add(time.Hour),
	}}

	result := engine.Size(now, "ALPHA-INSIDER-1", sig)
	require.True(t, result.Accepted())
	require.True(t, result.Sized.ReferencePrice.Equal(decimal.NewFromFloat(0.50)))
}

// An alpha signal with a zero ReferencePrice (the bug this guards against)
// can never clear the minimum-notional check.
func TestAlphaSignalWithZeroReferencePriceRejectedBelowMin(t *testing.T) {
	reg := registry.New()
	now := time.Now()
	reg.Register(alertFund(), now)
	engine := New(reg, &fakeExposure{})

	sig := domain.Signal{Alpha: &domain.AlphaSignal{
		SignalID:          "a2",
		Action:            domain.ActionBuy,
		TokenID:           "tok-yes",
		MarketSlug:        "mkt",
		Confidence:        decimal.NewFromFloat(0.8),
		Strength:          decimal.NewFromFloat(0.7),
		SuggestedNotional: decimal.NewFromInt(500),
		DetectedAt:        now,
		ExpiresAt:         now.Add(time.Hour),
	}}

	result := engine.Size(now, "ALPHA-INSIDER-1", sig)
	require.False(t, result.Accepted())
	require.Equal(t, domain.RejectBelowMin, result.Rejected)
}

func TestDailyLossLimitRejectsOnRealizedPnL(t *testing.T) {
	reg := registry.New()
	now := time.Now()
	fund := mirrorFund()
	fund.Risk.MaxDailyLossUSD = decimal.NewFromInt(400)
	reg.Register(fund, now)
	reg.AddRealizedPnL("PSI-10", decimal.NewFromInt(-400))
	engine := New(reg, &fakeExposure{})

	sig := domain.Signal{Trader: &domain.TraderSignal{
		SignalID:      "t5",
		TokenID:       "tok-yes",
		Type:          domain.SignalBuy,
		Shares:        decimal.NewFromInt(1000),
		Price:         decimal.NewFromFloat(0.50),
		TraderWeight:  decimal.NewFromFloat(0.10),
		TraderCapital: decimal.NewFromInt(100000),
	}}

	result := engine.Size(now, "PSI-10", sig)
	require.False(t, result.Accepted())
	require.Equal(t, domain.RejectDailyLimit, result.Rejected)
}

func TestDrawdownRejectsWhenTotalPnLBreachesFraction(t *testing.T) {
	reg := registry.New()
	now := time.Now()
	fund := mirrorFund()
	fund.Risk.MaxDrawdownFraction = decimal.NewFromFloat(0.10)
	reg.Register(fund, now)
	reg.AddRealizedPnL("PSI-10", decimal.NewFromInt(-900))
	reg.SetUnrealizedPnL("PSI-10", decimal.NewFromInt(-200))
	engine := New(reg, &fakeExposure{})

	sig := domain.Signal{Trader: &domain.TraderSignal{
		SignalID:      "t6",
		TokenID:       "tok-yes",
		Type:          domain.SignalBuy,
		Shares:        decimal.NewFromInt(1000),
		Price:         decimal.NewFromFloat(0.50),
		TraderWeight:  decimal.NewFromFloat(0.10),
		TraderCapital: decimal.NewFromInt(100000),
	}}

	result := engine.Size(now, "PSI-10", sig)
	require.False(t, result.Accepted())
	require.Equal(t, domain.RejectDrawdown, result.Rejected)
}

func TestRoundPriceRoundsUpForBuyDownForSell(t *testing.T) {
	p := decimal.NewFromFloat(0.50001)
	require.True(t, RoundPrice(p, domain.SideBuy).Equal(decimal.NewFromFloat(0.5001)))
	require.True(t, RoundPrice(p, domain.SideSell).Equal(decimal.NewFromFloat(0.5)))
}
