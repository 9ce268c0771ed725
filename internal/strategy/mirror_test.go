package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/polyfund/multifund-trader/internal/analytics"
	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/signalqueue"
)

type fakeIndexSource struct {
	constituents []domain.IndexConstituent
}

func (f *fakeIndexSource) Get(ctx context.Context, indexID string) ([]domain.IndexConstituent, error) {
	return f.constituents, nil
}

type fakeMirrorTrades struct {
	rows []analytics.TradeRow
}

func (f *fakeMirrorTrades) TradesForAddresses(ctx context.Context, addrs []string, from, to time.Time) ([]analytics.TradeRow, error) {
	return f.rows, nil
}
func (f *fakeMirrorTrades) TradesForAddressesDesc(ctx context.Context, addrs []string, from, to time.Time) ([]analytics.TradeRow, error) {
	return f.rows, nil
}

// S1 — mirror-by-weight basic, at the strategy layer: one trade from a
// constituent produces exactly one enqueued TraderSignal.
func TestS1MirrorEnqueuesTraderSignal(t *testing.T) {
	t0 := time.Now()
	index := &fakeIndexSource{constituents: []domain.IndexConstituent{
		{Username: "alice", ProxyAddress: "0x123", Weight: decimal.NewFromFloat(0.10), EstCapitalUSD: decimal.NewFromInt(100000)},
	}}
	trades := &fakeMirrorTrades{rows: []analytics.TradeRow{
		{TS: t0, TradeID: "t1", Username: "alice", ProxyAddress: "0x123", MarketSlug: "mkt", TokenID: "tok", Side: "BUY",
			Price: decimal.NewFromFloat(0.50), Size: decimal.NewFromInt(1000), Notional: decimal.NewFromInt(500)},
	}}
	q := signalqueue.New("PSI-10", 5*time.Second)
	fund := domain.Fund{ID: "PSI-10", IndexID: "PSI-10"}
	strat := NewMirror(fund, trades, index, q, t0.Add(-1*time.Second))

	strat.Tick(context.Background(), t0.Add(1*time.Second))

	due := q.DrainDue(t0.Add(10 * time.Second))
	require.Len(t, due, 1)
	ts := due[0].Signal.Trader
	require.NotNil(t, ts)
	require.Equal(t, domain.SignalBuy, ts.Type)
	require.True(t, ts.TraderWeight.Equal(decimal.NewFromFloat(0.10)))
}

// ResetHighwaterMark must rewind lastPoll the same way NewMirror bootstraps
// it, so a trade just behind "now" after a backward clock jump still gets
// picked up on the very next tick instead of falling in a permanent gap.
func TestMirrorResetHighwaterMarkRecoversTradeAfterClockSkew(t *testing.T) {
	t0 := time.Now()
	index := &fakeIndexSource{constituents: []domain.IndexConstituent{
		{Username: "alice", ProxyAddress: "0x123", Weight: decimal.NewFromFloat(0.10), EstCapitalUSD: decimal.NewFromInt(100000)},
	}}
	trades := &fakeMirrorTrades{rows: []analytics.TradeRow{
		{TS: t0.Add(-1 * time.Second), TradeID: "t1", Username: "alice", ProxyAddress: "0x123", MarketSlug: "mkt", TokenID: "tok", Side: "BUY",
			Price: decimal.NewFromFloat(0.50), Size: decimal.NewFromInt(1000), Notional: decimal.NewFromInt(500)},
	}}
	q := signalqueue.New("PSI-10", 5*time.Second)
	fund := domain.Fund{ID: "PSI-10", IndexID: "PSI-10"}
	// lastPoll starts far in the future, as if the clock had run ahead
	// before jumping back to t0.
	strat := NewMirror(fund, trades, index, q, t0.Add(1000*time.Second))

	strat.ResetHighwaterMark(t0)
	strat.Tick(context.Background(), t0)

	due := q.DrainDue(t0.Add(10 * time.Second))
	require.Len(t, due, 1)
}

// Duplicate trade (same or earlier timestamp for an already-seen address)
// must not be enqueued twice.
func TestMirrorSkipsDuplicateTradeTimestamps(t *testing.T) {
	t0 := time.Now()
	index := &fakeIndexSource{constituents: []domain.IndexConstituent{
		{Username: "alice", ProxyAddress: "0x123", Weight: decimal.NewFromFloat(0.10), EstCapitalUSD: decimal.NewFromInt(100000)},
	}}
	row := analytics.TradeRow{TS: t0, TradeID: "t1", Username: "alice", ProxyAddress: "0x123", MarketSlug: "mkt", TokenID: "tok", Side: "BUY",
		Price: decimal.NewFromFloat(0.50), Size: decimal.NewFromInt(1000), Notional: decimal.NewFromInt(500)}
	trades := &fakeMirrorTrades{rows: []analytics.TradeRow{row, row}}
	q := signalqueue.New("PSI-10", 0)
	fund := domain.Fund{ID: "PSI-10", IndexID: "PSI-10"}
	strat := NewMirror(fund, trades, index, q, t0.Add(-1*time.Second))

	strat.Tick(context.Background(), t0.Add(1*time.Second))

	due := q.DrainDue(t0.Add(10 * time.Second))
	require.Len(t, due, 1, "the second identical-timestamp trade must be treated as a duplicate")
}
